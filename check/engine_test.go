package check

import (
	"context"
	"errors"
	"image"
	"testing"

	"github.com/gradienthealth/dicom/dicomtag"
	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/suite"

	"github.com/macadamian/deidaudit"
	"github.com/macadamian/deidaudit/flatten"
	"github.com/macadamian/deidaudit/metrics"
	"github.com/macadamian/deidaudit/remap"
)

type EngineTestSuite struct {
	suite.Suite
	engine *Engine
	logger *logrus.Logger
	hook   *test.Hook
	record *deidaudit.Record
}

func TestEngineTestSuite(t *testing.T) {
	suite.Run(t, new(EngineTestSuite))
}

func element(group, elem uint16, vr string, values ...string) *deidaudit.Element {
	return &deidaudit.Element{Tag: dicomtag.Tag{Group: group, Element: elem}, VR: vr, Values: values}
}

func (s *EngineTestSuite) SetupTest() {
	s.logger, s.hook = test.NewNullLogger()
	s.engine = NewEngine(Env{
		UIDs:       remap.Map{"1.2.3": "9.9.9"},
		PatientIDs: remap.Map{"PAT-1": "ANON-1"},
	}, metrics.New())

	s.record = &deidaudit.Record{
		Identity: deidaudit.Identity{Study: "9.9.9", Series: "9.9.9.1", Instance: "9.9.9.1.1"},
		File:     deidaudit.FileInfo{Name: "a.dcm", Path: "/data/a.dcm"},
		Elements: []*deidaudit.Element{
			element(0x0008, 0x0020, "DA", "20200417"),
			element(0x0008, 0x1030, "LO", "CT CHEST W CONTRAST"),
			element(0x0010, 0x0010, "PN", "ANON^ANON"),
			element(0x0010, 0x0020, "LO", "ANON-1"),
			element(0x0010, 0x1040, "LO"),
			element(0x0020, 0x000d, "UI", "9.9.9"),
			element(0x0020, 0x4000, "LT", "Referred by Dr. Smith"),
			element(0x7fe0, 0x0010, "OW"),
		},
		Digest: "abc123",
	}
}

func (s *EngineTestSuite) subject() Subject {
	return Subject{Record: s.record, Facts: flatten.Flatten(s.record.Elements)}
}

func (s *EngineTestSuite) evaluate(checks ...deidaudit.Check) []deidaudit.Result {
	return s.engine.Evaluate(context.Background(), s.subject(), checks, s.logger)
}

func (s *EngineTestSuite) TestOutcomes() {
	tests := []struct {
		name       string
		check      deidaudit.Check
		wantPassed bool
		wantScore  float64
		wantValue  *string
	}{
		{"tag retained", deidaudit.Check{Action: deidaudit.TagRetained, TagPath: "<(0010,0010)>"}, true, 1, strp("<ANON^ANON>")},
		{"tag retained when empty", deidaudit.Check{Action: deidaudit.TagRetained, TagPath: "<(0010,1040)>"}, true, 1, strp("<>")},
		{"tag not retained", deidaudit.Check{Action: deidaudit.TagRetained, TagPath: "<(0010,0030)>"}, false, 0, nil},
		{"not null", deidaudit.Check{Action: deidaudit.TextNotNull, TagPath: "<(0008,1030)>"}, true, 1, strp("<CT CHEST W CONTRAST>")},
		{"null", deidaudit.Check{Action: deidaudit.TextNotNull, TagPath: "<(0010,1040)>"}, false, 0, strp("<>")},
		{"not null but absent", deidaudit.Check{Action: deidaudit.TextNotNull, TagPath: "<(0010,0030)>"}, false, 0, nil},
		{"text retained", deidaudit.Check{Action: deidaudit.TextRetained, TagPath: "<(0008,1030)>", ActionText: "<chest>"}, true, 1, strp("<CT CHEST W CONTRAST>")},
		{"text retained absent", deidaudit.Check{Action: deidaudit.TextRetained, TagPath: "<(0010,0030)>", ActionText: "<x>"}, false, 0, nil},
		{"text retained empty", deidaudit.Check{Action: deidaudit.TextRetained, TagPath: "<(0010,1040)>", ActionText: "<x>"}, false, 0, strp("<>")},
		{"text removed", deidaudit.Check{Action: deidaudit.TextRemoved, TagPath: "<(0010,0010)>", ActionText: "<DOE^JANE>"}, true, 1, strp("<ANON^ANON>")},
		{"text not removed", deidaudit.Check{Action: deidaudit.TextRemoved, TagPath: "<(0020,4000)>", Value: "<Dr. Smith>"}, false, 0, strp("<Referred by Dr. Smith>")},
		{"text removed absent", deidaudit.Check{Action: deidaudit.TextRemoved, TagPath: "<(0010,0030)>", ActionText: "<x>"}, true, 1, nil},
		{"text removed elided", deidaudit.Check{Action: deidaudit.TextRemoved, TagPath: "<(7fe0,0010)>", ActionText: "<x>"}, true, 1, strp("<REMOVED>")},
		{"date shifted", deidaudit.Check{Action: deidaudit.DateShifted, TagPath: "<(0008,0020)>", Value: "<20190101>"}, true, 1, strp("<20200417>")},
		{"date not shifted", deidaudit.Check{Action: deidaudit.DateShifted, TagPath: "<(0008,0020)>", Value: `<2020\0417>`}, false, 0, strp("<20200417>")},
		{"date shifted absent", deidaudit.Check{Action: deidaudit.DateShifted, TagPath: "<(0008,0021)>", Value: "<20200417>"}, true, 1, nil},
		{"uid changed", deidaudit.Check{Action: deidaudit.UIDChanged, TagPath: "<(0020,000d)>", Value: "<1.2.3>"}, true, 1, strp("<9.9.9>")},
		{"uid not changed", deidaudit.Check{Action: deidaudit.UIDChanged, TagPath: "<(0020,000d)>", Value: "<9.9.9>"}, false, 0, strp("<9.9.9>")},
		{"uid consistent", deidaudit.Check{Action: deidaudit.UIDConsistent, TagPath: "<(0020,000d)>", Value: "<1.2.3>"}, true, 1, strp("<9.9.9>")},
		{"uid inconsistent", deidaudit.Check{Action: deidaudit.UIDConsistent, TagPath: "<(0008,1030)>", Value: "<1.2.3>"}, false, 0, strp("<CT CHEST W CONTRAST>")},
		{"uid not in map", deidaudit.Check{Action: deidaudit.UIDConsistent, TagPath: "<(0020,000d)>", Value: "<4.5.6>"}, false, 0, strp("<9.9.9>")},
		{"uid consistent absent", deidaudit.Check{Action: deidaudit.UIDConsistent, TagPath: "<(0020,000e)>", Value: "<1.2.3>"}, true, 1, nil},
		{"patient id consistent", deidaudit.Check{Action: deidaudit.PatIDConsistent, TagPath: "<(0010,0020)>", Value: "<PAT-1>"}, true, 1, strp("<ANON-1>")},
		{"patient id absent", deidaudit.Check{Action: deidaudit.PatIDConsistent, TagPath: "<(0010,0021)>", Value: "<PAT-1>"}, true, 1, nil},
		{"pixels retained", deidaudit.Check{Action: deidaudit.PixelsRetained, Value: "<ABC123>"}, true, 1, strp("<abc123>")},
		{"pixels changed", deidaudit.Check{Action: deidaudit.PixelsRetained, TagPath: "<(7fe0,0010)>", Value: "<def456>"}, false, 0, strp("<abc123>")},
		{"pixels retained absent", deidaudit.Check{Action: deidaudit.PixelsRetained, TagPath: "<(7fe0,0011)>", Value: "<abc123>"}, false, 0, nil},
		{"pixels hidden absent", deidaudit.Check{Action: deidaudit.PixelsHidden, TagPath: "<(7fe0,0011)>", ActionText: "<DOE>"}, true, 1, nil},
	}

	for _, tt := range tests {
		s.Run(tt.name, func() {
			results := s.evaluate(tt.check)
			s.Require().Len(results, 1)
			r := results[0]
			s.Require().NotNil(r.Passed)
			s.Equal(tt.wantPassed, *r.Passed)
			s.InDelta(tt.wantScore, *r.Score, 1e-9)
			s.Equal(tt.wantValue, r.FileValue)
		})
	}
}

func (s *EngineTestSuite) TestResultCarriesCheckAndRecord() {
	c := deidaudit.Check{
		Index: "4", Scope: deidaudit.ScopeSeries, Action: deidaudit.TextRetained,
		Tag: "<(0008,1030)>", TagPath: "<(0008,1030)>", TagName: "<StudyDescription>",
		ActionText: "<chest>", Value: "<CT CHEST>",
		Category: deidaudit.Category{DICOMIOD: "<3>"},
	}
	results := s.evaluate(c)
	s.Require().Len(results, 1)
	r := results[0]

	s.Equal("4", r.CheckIndex)
	s.Equal(deidaudit.ScopeSeries, r.Scope)
	s.Equal("<CT CHEST>", r.AnswerValue)
	s.Equal("<StudyDescription>", r.TagName)
	s.Equal("<3>", r.DICOMIOD)
	s.Equal(s.record.Identity, r.Identity)
	s.Equal("a.dcm", r.FileName)
	s.Equal("/data/a.dcm", r.FilePath)
}

func (s *EngineTestSuite) TestFailingCheckIsIsolated() {
	results := s.evaluate(
		deidaudit.Check{Index: "0", Action: deidaudit.TagRetained, TagPath: "<(0010,0010)>"},
		deidaudit.Check{Index: "1", Action: "tag_blanked", TagPath: "<(0010,0010)>"},
		deidaudit.Check{Index: "2", Action: deidaudit.DateShifted, TagPath: "<(0008,0020)>", Value: "<>"},
		deidaudit.Check{Index: "3", Action: deidaudit.TextNotNull, TagPath: "<(0010,0010)>"},
	)

	s.Require().Len(results, 2)
	s.Equal("0", results[0].CheckIndex)
	s.Equal("3", results[1].CheckIndex)

	entries := s.hook.AllEntries()
	s.Require().Len(entries, 2)
	s.Equal(logrus.ErrorLevel, entries[0].Level)
	s.Equal("/data/a.dcm", entries[0].Data["file_path"])
	s.Equal("9.9.9.1.1", entries[0].Data["instance"])
	s.Equal("<(0010,0010)>", entries[0].Data["tag"])
	s.Equal(deidaudit.CheckKind("tag_blanked"), entries[0].Data["action"])
	s.Contains(entries[1].Message, "no expected value")
}

func (s *EngineTestSuite) TestPanicIsIsolated() {
	s.record.Pixels = &deidaudit.PixelFrame{Rows: 2, Cols: 2, BitsPerSample: 8, Samples: []int{0, 1, 2, 3}}
	s.engine = NewEngine(Env{OCR: panicky{}}, nil)

	results := s.evaluate(
		deidaudit.Check{Index: "0", Action: deidaudit.PixelsHidden, ActionText: "<DOE>", TopLeft: []int{0, 0}, BottomRight: []int{2, 2}},
		deidaudit.Check{Index: "1", Action: deidaudit.TagRetained, TagPath: "<(0010,0010)>"},
	)

	s.Require().Len(results, 1)
	s.Equal("1", results[0].CheckIndex)
	s.Contains(s.hook.LastEntry().Message, "panicked")
}

func (s *EngineTestSuite) TestPixelsHidden() {
	s.record.Pixels = &deidaudit.PixelFrame{Rows: 4, Cols: 8, BitsPerSample: 12, Samples: make([]int, 32)}
	check := deidaudit.Check{
		Action: deidaudit.PixelsHidden, ActionText: "<DOE JANE>",
		TopLeft: []int{2, 1}, BottomRight: []int{20, 3},
	}

	s.Run("pending without recognizer", func() {
		s.engine = NewEngine(Env{}, nil)
		results := s.evaluate(check)
		s.Require().Len(results, 1)
		s.Nil(results[0].Passed)
		s.Nil(results[0].Score)
		s.Equal(strp("<REMOVED>"), results[0].FileValue)
	})

	s.Run("text still burned in", func() {
		ocr := &fakeRecognizer{text: "DOE JANE 1961"}
		s.engine = NewEngine(Env{OCR: ocr}, nil)
		results := s.evaluate(check)
		s.Require().Len(results, 1)
		s.False(*results[0].Passed)
		s.Equal(0.0, *results[0].Score)
		s.Equal(strp("<DOE JANE 1961>"), results[0].FileValue)
		s.Equal(image.Rect(2, 1, 8, 3), ocr.box)
	})

	s.Run("part of the text hidden", func() {
		s.engine = NewEngine(Env{OCR: &fakeRecognizer{text: "JANE"}}, nil)
		results := s.evaluate(check)
		s.Require().Len(results, 1)
		s.False(*results[0].Passed)
		s.InDelta(0.5, *results[0].Score, 1e-9)
	})

	s.Run("no text left", func() {
		s.engine = NewEngine(Env{OCR: &fakeRecognizer{text: "  "}}, nil)
		results := s.evaluate(check)
		s.Require().Len(results, 1)
		s.True(*results[0].Passed)
		s.Equal(strp("<>"), results[0].FileValue)
	})

	s.Run("recognizer error omits the result", func() {
		s.engine = NewEngine(Env{OCR: &fakeRecognizer{err: errors.New("engine down")}}, nil)
		s.Empty(s.evaluate(check))
	})

	s.Run("region outside the image", func() {
		s.engine = NewEngine(Env{OCR: &fakeRecognizer{}}, nil)
		outside := check
		outside.TopLeft, outside.BottomRight = []int{50, 50}, []int{60, 60}
		s.Empty(s.evaluate(outside))
	})
}

// The same private element, reserved in different slots by two files, is addressed by one path.
func (s *EngineTestSuite) TestPrivateTagAcrossSlots() {
	check := deidaudit.Check{Action: deidaudit.TextRemoved, TagPath: `<(0019,"ACME 1.1",23)>`, ActionText: "<DOE>"}

	first := &deidaudit.Record{Elements: []*deidaudit.Element{
		element(0x0019, 0x0010, "LO", "ACME 1.1"),
		element(0x0019, 0x1023, "LO", "DOE"),
	}}
	second := &deidaudit.Record{Elements: []*deidaudit.Element{
		element(0x0019, 0x0010, "LO", "OTHER"),
		element(0x0019, 0x0011, "LO", "ACME 1.1"),
		element(0x0019, 0x1123, "LO", "DOE"),
	}}

	for _, rec := range []*deidaudit.Record{first, second} {
		results := s.engine.Evaluate(context.Background(),
			Subject{Record: rec, Facts: flatten.Flatten(rec.Elements)}, []deidaudit.Check{check}, s.logger)
		s.Require().Len(results, 1)
		s.False(*results[0].Passed)
		s.Equal(strp("<DOE>"), results[0].FileValue)
	}
}

func TestGrayscale(t *testing.T) {
	img, err := Grayscale(&deidaudit.PixelFrame{Rows: 1, Cols: 3, Samples: []int{100, 600, 1100}})
	assert.NoError(t, err)
	assert.Equal(t, []uint8{0, 127, 255}, img.Pix)

	flat, err := Grayscale(&deidaudit.PixelFrame{Rows: 1, Cols: 2, Samples: []int{7, 7}})
	assert.NoError(t, err)
	assert.Equal(t, []uint8{0, 0}, flat.Pix)

	_, err = Grayscale(&deidaudit.PixelFrame{Rows: 2, Cols: 2, Samples: []int{1}})
	assert.Error(t, err)
}

func TestRegion(t *testing.T) {
	bounds := image.Rect(0, 0, 10, 10)

	box, err := Region([]int{8, 9}, []int{2, 1}, bounds)
	assert.NoError(t, err)
	assert.Equal(t, image.Rect(2, 1, 8, 9), box)

	_, err = Region([]int{1}, []int{2, 2}, bounds)
	assert.Error(t, err)
}

type fakeRecognizer struct {
	text string
	err  error
	box  image.Rectangle
}

func (f *fakeRecognizer) Recognize(_ context.Context, _ *image.Gray, box image.Rectangle) (string, error) {
	f.box = box
	return f.text, f.err
}

type panicky struct{}

func (panicky) Recognize(context.Context, *image.Gray, image.Rectangle) (string, error) {
	panic("boom")
}

func strp(s string) *string {
	return &s
}
