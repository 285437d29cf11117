package results

import (
	"bytes"
	"context"
	"path/filepath"
	"regexp"
	"strings"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"

	"github.com/macadamian/deidaudit"
)

func result(action deidaudit.CheckKind, passed *bool, score *float64, instance string) deidaudit.Result {
	fv := "<ANON>"
	return deidaudit.Result{
		CheckIndex: "3",
		Action:     action,
		Scope:      deidaudit.ScopeInstance,
		Passed:     passed,
		Score:      score,
		FileValue:  &fv,
		TagPath:    "<(0010,0010)>",
		Category:   deidaudit.Category{HIPAAZ: "<HIPAA-A>"},
		Identity:   deidaudit.Identity{Study: "S", Series: "SE", Instance: instance, Patient: "NA"},
		FilePath:   "/in/" + instance + ".dcm",
	}
}

func table() *Table {
	pass, score := deidaudit.Outcome(true, 1)
	fail, zero := deidaudit.Outcome(false, 0)
	missing := result(deidaudit.TagRetained, fail, zero, "I3")
	mv := deidaudit.MissingValue
	missing.FileValue = &mv
	missing.FilePath = ""

	return Aggregate("run-1",
		[]deidaudit.Result{result(deidaudit.TextRemoved, pass, score, "I1")},
		nil,
		[]deidaudit.Result{result(deidaudit.PixelsHidden, nil, nil, "I2"), missing},
	)
}

func TestAggregate(t *testing.T) {
	tbl := table()

	require.Len(t, tbl.Rows, 3)
	for i, r := range tbl.Rows {
		assert.Equal(t, i, r.ID)
		assert.Equal(t, "run-1", r.RunID)
	}
	assert.Equal(t, deidaudit.PixelsHidden, tbl.Rows[1].Action)
	assert.Len(t, tbl.Filter(deidaudit.PixelsHidden), 1)
	assert.Empty(t, Aggregate("run-2").Rows)
}

func TestRecords(t *testing.T) {
	records := Records(table().Rows)

	require.Len(t, records, 4)
	header := records[0]
	assert.Equal(t, "id", header[0])
	assert.Equal(t, "file_path", header[len(header)-1])

	col := func(name string) int {
		for i, h := range header {
			if h == name {
				return i
			}
		}
		t.Fatalf("no column %s", name)
		return -1
	}
	assert.Equal(t, "true", records[1][col("check_passed")])
	assert.Equal(t, "1", records[1][col("check_score")])
	assert.Equal(t, "<text_removed>", records[1][col("action")])
	assert.Equal(t, "", records[2][col("check_passed")])
	assert.Equal(t, "<MISSING>", records[3][col("file_value")])
	assert.Equal(t, "<HIPAA-A>", records[3][col("hipaa_z")])
}

func TestParsePassed(t *testing.T) {
	for in, want := range map[string]bool{"True": true, "1": true, " pass ": true, "FALSE": false, "0": false, "fail": false} {
		got, err := ParsePassed(in)
		require.NoError(t, err, in)
		require.NotNil(t, got, in)
		assert.Equal(t, want, *got, in)
	}

	got, err := ParsePassed("  ")
	assert.NoError(t, err)
	assert.Nil(t, got)

	_, err = ParsePassed("maybe")
	assert.EqualError(t, err, `invalid outcome "maybe"`)
}

func TestParseScore(t *testing.T) {
	got, err := ParseScore("0.25")
	require.NoError(t, err)
	assert.Equal(t, 0.25, *got)

	got, err = ParseScore("")
	assert.NoError(t, err)
	assert.Nil(t, got)

	_, err = ParseScore("1.5")
	assert.Error(t, err)
}

func TestPixelReviewRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WritePixelReview(&buf, table()))

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 2)
	assert.True(t, strings.HasPrefix(lines[0], "id,run_id,check_index,check_passed,check_score"))
	// "NA" is an identifier here, not a missing value
	assert.Contains(t, lines[1], ",NA,")

	// a reviewer marks the result as failed
	reviewed := strings.Replace(buf.String(), "1,run-1,3,,", "1,run-1,3,False,", 1)
	reviews, err := ReadPixelReview(strings.NewReader(reviewed))
	require.NoError(t, err)
	require.Len(t, reviews, 1)
	assert.Equal(t, Review{RunID: "run-1", ID: 1, Passed: boolp(false), Score: floatp(0)}, reviews[0])
}

func TestReadPixelReview(t *testing.T) {
	sheet := "\xef\xbb\xbfrun_id,id,check_passed,check_score,file_path\n" +
		"r,4,pass,,/a\n" +
		"r,5,,,/b\n" +
		"r,6,fail,0.5,/c\n"

	reviews, err := ReadPixelReview(strings.NewReader(sheet))
	require.NoError(t, err)
	assert.Equal(t, []Review{
		{RunID: "r", ID: 4, Passed: boolp(true), Score: floatp(1)},
		{RunID: "r", ID: 6, Passed: boolp(false), Score: floatp(0.5)},
	}, reviews)

	_, err = ReadPixelReview(strings.NewReader("id,check_passed\n1,true\n"))
	assert.EqualError(t, err, "required column 'run_id' not found")

	_, err = ReadPixelReview(strings.NewReader("run_id,id,check_passed,check_score\nr,x,true,\n"))
	assert.Error(t, err)
}

func TestWritePixelReviewEmpty(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WritePixelReview(&buf, Aggregate("run")))
	assert.Zero(t, buf.Len())
}

type StoreTestSuite struct {
	suite.Suite
}

func TestStoreTestSuite(t *testing.T) {
	suite.Run(t, new(StoreTestSuite))
}

func (s *StoreTestSuite) TestCreateTable() {
	db, mock, err := sqlmock.New()
	s.Require().NoError(err)
	defer db.Close()

	mock.ExpectExec(regexp.QuoteMeta("CREATE TABLE IF NOT EXISTS validation_results (id INTEGER NOT NULL, run_id TEXT,")).
		WillReturnResult(sqlmock.NewResult(0, 0))

	s.NoError(NewStore(db).CreateTable(context.Background()))
	s.NoError(mock.ExpectationsWereMet())
}

func (s *StoreTestSuite) TestWriteChunks() {
	db, mock, err := sqlmock.New()
	s.Require().NoError(err)
	defer db.Close()

	var parts []deidaudit.Result
	for i := 0; i < insertChunk+1; i++ {
		parts = append(parts, result(deidaudit.TagRetained, nil, nil, "I"))
	}

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO validation_results").WillReturnResult(sqlmock.NewResult(0, insertChunk))
	mock.ExpectExec("INSERT INTO validation_results").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	s.NoError(NewStore(db).Write(context.Background(), Aggregate("run", parts)))
	s.NoError(mock.ExpectationsWereMet())
}

func (s *StoreTestSuite) TestWriteRollsBack() {
	db, mock, err := sqlmock.New()
	s.Require().NoError(err)
	defer db.Close()

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO validation_results").WillReturnError(assert.AnError)
	mock.ExpectRollback()

	err = NewStore(db).Write(context.Background(), table())
	s.ErrorIs(err, assert.AnError)
	s.NoError(mock.ExpectationsWereMet())
}

func (s *StoreTestSuite) TestImportReviews() {
	db, mock, err := sqlmock.New()
	s.Require().NoError(err)
	defer db.Close()

	update := regexp.QuoteMeta("UPDATE validation_results SET check_passed = ?, check_score = ? WHERE run_id = ? AND id = ?")
	mock.ExpectExec(update).WithArgs(0, 0.5, "r", 6).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(update).WithArgs(1, 1.0, "r", 7).WillReturnResult(sqlmock.NewResult(0, 0))

	n, err := NewStore(db).ImportReviews(context.Background(), []Review{
		{RunID: "r", ID: 6, Passed: boolp(false), Score: floatp(0.5)},
		{RunID: "r", ID: 7, Passed: boolp(true), Score: floatp(1)},
	})

	s.Equal(1, n)
	s.Error(err)
	s.Contains(err.Error(), "result 7 of run r not found")
	s.NoError(mock.ExpectationsWereMet())
}

func (s *StoreTestSuite) TestSQLiteRoundTrip() {
	ctx := context.Background()
	db, err := Open(filepath.Join(s.T().TempDir(), "validation_results.db"))
	s.Require().NoError(err)
	defer db.Close()

	store := NewStore(db)
	s.Require().NoError(store.CreateTable(ctx))
	s.Require().NoError(store.CreateTable(ctx))
	s.Require().NoError(store.Write(ctx, Aggregate("old", []deidaudit.Result{result(deidaudit.TagRetained, nil, nil, "I0")})))
	want := table()
	s.Require().NoError(store.Write(ctx, want))

	got, err := store.Read(ctx, "")
	s.Require().NoError(err)
	s.Equal("run-1", got.RunID)
	s.Equal(want.Rows, got.Rows)

	s.Require().NoError(store.UpdateOutcome(ctx, "run-1", 1, boolp(true), floatp(1)))
	got, err = store.Read(ctx, "run-1")
	s.Require().NoError(err)
	s.True(*got.Rows[1].Passed)
	s.Equal(1.0, *got.Rows[1].Score)

	old, err := store.Read(ctx, "old")
	s.Require().NoError(err)
	s.Len(old.Rows, 1)
	s.Nil(old.Rows[0].Passed)
}

func boolp(b bool) *bool {
	return &b
}

func floatp(f float64) *float64 {
	return &f
}
