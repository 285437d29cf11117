package results

import (
	"context"
	"io"
	"strconv"

	"github.com/dimchansky/utfbom"
	"github.com/go-gota/gota/dataframe"
	"github.com/hashicorp/go-multierror"
	"github.com/pkg/errors"

	"github.com/macadamian/deidaudit"
)

// PixelReviewFile is the name of the manual review sheet of pixels_hidden results.
const PixelReviewFile = "pixel_validation.csv"

// Review is a reviewer's verdict on one result.
type Review struct {
	RunID  string
	ID     int
	Passed *bool
	Score  *float64
}

// WritePixelReview writes the pixels_hidden rows of t as a review sheet with every result column.
// Reviewers fill in check_passed and check_score. Nothing is written when t has no such rows.
func WritePixelReview(w io.Writer, t *Table) error {
	rows := t.Filter(deidaudit.PixelsHidden)
	if len(rows) == 0 {
		return nil
	}
	df := dataframe.LoadRecords(Records(rows),
		dataframe.HasHeader(true),
		dataframe.DetectTypes(false),
		dataframe.NaNValues([]string{}))
	if df.Err != nil {
		return df.Err
	}
	return df.WriteCSV(w)
}

// ReadPixelReview reads a review sheet. Rows the reviewer left blank are skipped; a blank score
// follows the verdict.
func ReadPixelReview(r io.Reader) ([]Review, error) {
	df := dataframe.ReadCSV(utfbom.SkipOnly(r),
		dataframe.HasHeader(true),
		dataframe.DetectTypes(false),
		dataframe.NaNValues([]string{}))
	if df.Err != nil {
		return nil, df.Err
	}

	have := map[string]bool{}
	for _, n := range df.Names() {
		have[n] = true
	}
	for _, required := range []string{"run_id", "id", "check_passed", "check_score"} {
		if !have[required] {
			return nil, errors.Errorf("required column '%s' not found", required)
		}
	}

	runIDs := df.Col("run_id").Records()
	ids := df.Col("id").Records()
	passed := df.Col("check_passed").Records()
	scores := df.Col("check_score").Records()

	var reviews []Review
	for i := range ids {
		p, err := ParsePassed(passed[i])
		if err != nil {
			return nil, errors.Wrapf(err, "row %d", i+1)
		}
		if p == nil {
			continue
		}
		id, err := strconv.Atoi(ids[i])
		if err != nil {
			return nil, errors.Wrapf(err, "row %d: invalid id", i+1)
		}
		score, err := ParseScore(scores[i])
		if err != nil {
			return nil, errors.Wrapf(err, "row %d", i+1)
		}
		if score == nil {
			v := 0.0
			if *p {
				v = 1
			}
			score = &v
		}
		reviews = append(reviews, Review{RunID: runIDs[i], ID: id, Passed: p, Score: score})
	}
	return reviews, nil
}

// ImportReviews writes reviewed outcomes back to the store. Every review is attempted; the
// failures are returned together.
func (s *Store) ImportReviews(ctx context.Context, reviews []Review) (int, error) {
	var result *multierror.Error
	imported := 0
	for _, r := range reviews {
		if err := s.UpdateOutcome(ctx, r.RunID, r.ID, r.Passed, r.Score); err != nil {
			result = multierror.Append(result, err)
			continue
		}
		imported++
	}
	return imported, result.ErrorOrNil()
}
