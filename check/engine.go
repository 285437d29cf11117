// Package check evaluates answer key checks against flattened records and synthesizes the results
// of records that were never found.
package check

import (
	"context"
	"fmt"
	"image"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/macadamian/deidaudit"
	"github.com/macadamian/deidaudit/flatten"
	"github.com/macadamian/deidaudit/metrics"
	"github.com/macadamian/deidaudit/remap"
)

// Recognizer reads text burned into an image. box is in image coordinates and lies within the
// image bounds. An empty string means no text was found.
type Recognizer interface {
	Recognize(ctx context.Context, img *image.Gray, box image.Rectangle) (string, error)
}

// Env holds the read-only tables shared by every evaluation.
type Env struct {
	UIDs       remap.Map
	PatientIDs remap.Map
	// OCR is optional. Without it pixels_hidden results are left for manual review.
	OCR Recognizer
}

// Subject is the record under evaluation together with its fact base.
type Subject struct {
	Record *deidaudit.Record
	Facts  flatten.Facts
}

// outcome is what a verifier decides for one check. A nil passed is a pending result.
type outcome struct {
	passed    *bool
	score     *float64
	fileValue *string
}

func decided(passed bool, score float64, fileValue *string) outcome {
	p, s := deidaudit.Outcome(passed, score)
	return outcome{passed: p, score: s, fileValue: fileValue}
}

func boolean(passed bool, fileValue *string) outcome {
	return decided(passed, score(passed), fileValue)
}

// A verifier decides a check for a subject in which the check's tag is present.
type verifier func(ctx context.Context, env Env, s Subject, c deidaudit.Check, value string) (outcome, error)

type kind struct {
	// absent is the outcome when the tag is not in the record (or the record is missing).
	absent bool
	// emptyAbsent makes a present but empty value take the absent outcome.
	emptyAbsent bool
	verify      verifier
}

var kinds = map[deidaudit.CheckKind]kind{
	deidaudit.TagRetained:     {absent: false, verify: verifyTagRetained},
	deidaudit.TextNotNull:     {absent: false, emptyAbsent: true, verify: verifyTagRetained},
	deidaudit.TextRetained:    {absent: false, emptyAbsent: true, verify: verifyTextRetained},
	deidaudit.TextRemoved:     {absent: true, emptyAbsent: true, verify: verifyTextRemoved},
	deidaudit.DateShifted:     {absent: true, verify: verifyChanged},
	deidaudit.UIDChanged:      {absent: true, verify: verifyChanged},
	deidaudit.UIDConsistent:   {absent: true, emptyAbsent: true, verify: verifyUIDConsistent},
	deidaudit.PatIDConsistent: {absent: true, emptyAbsent: true, verify: verifyPatIDConsistent},
	deidaudit.PixelsRetained:  {absent: false, verify: verifyPixelsRetained},
	deidaudit.PixelsHidden:    {absent: true, verify: verifyPixelsHidden},
}

// Absent returns the outcome a check of kind k has when its tag, or the whole record, is missing.
func Absent(k deidaudit.CheckKind) (bool, error) {
	kd, ok := kinds[k]
	if !ok {
		return false, errors.Errorf("unknown check action %q", k)
	}
	return kd.absent, nil
}

// Engine evaluates checks. It is safe for concurrent use.
type Engine struct {
	env     Env
	metrics *metrics.Metrics
}

// NewEngine returns an engine over env. m may be nil.
func NewEngine(env Env, m *metrics.Metrics) *Engine {
	return &Engine{env: env, metrics: m}
}

// Evaluate runs every check against the subject. A check that cannot be evaluated is logged and
// left out of the returned results; the other checks are unaffected.
func (e *Engine) Evaluate(ctx context.Context, s Subject, checks []deidaudit.Check, logger logrus.FieldLogger) []deidaudit.Result {
	results := make([]deidaudit.Result, 0, len(checks))
	for _, c := range checks {
		r, err := e.evaluate(ctx, s, c)
		if err != nil {
			e.metrics.IncrementCheckError(string(c.Action))
			logger.WithFields(logrus.Fields{
				"action":    c.Action,
				"file_path": s.Record.File.Path,
				"instance":  s.Record.Instance,
				"tag":       c.TagPath,
			}).Error(err)
			continue
		}
		e.metrics.IncrementResult(string(c.Action), r.Passed)
		results = append(results, r)
	}
	return results
}

func (e *Engine) evaluate(ctx context.Context, s Subject, c deidaudit.Check) (r deidaudit.Result, err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("check %s panicked: %v", c.Index, p)
		}
	}()

	kd, ok := kinds[c.Action]
	if !ok {
		return r, errors.Errorf("unknown check action %q", c.Action)
	}

	var out outcome
	value, present := s.Facts.Lookup(factPath(c))
	switch {
	case !present:
		out = boolean(kd.absent, nil)
	case kd.emptyAbsent && isEmpty(value):
		out = boolean(kd.absent, &value)
	default:
		out, err = kd.verify(ctx, e.env, s, c, value)
		if err != nil {
			return r, err
		}
	}

	r = deidaudit.NewResult(c)
	r.Subject(s.Record)
	r.Passed, r.Score, r.FileValue = out.passed, out.score, out.fileValue
	return r, nil
}

// pixelDataPath is where pixel checks look when the answer key gives no tag path.
var pixelDataPath = "<" + flatten.StandardTagID(0x7fe0, 0x0010) + ">"

func factPath(c deidaudit.Check) string {
	if c.TagPath == "" && (c.Action == deidaudit.PixelsRetained || c.Action == deidaudit.PixelsHidden) {
		return pixelDataPath
	}
	return c.TagPath
}

func isEmpty(value string) bool {
	return value == "" || value == deidaudit.EmptyValue
}
