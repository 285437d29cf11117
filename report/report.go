package report

import (
	"os"
	"path/filepath"

	"github.com/go-gota/gota/dataframe"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/macadamian/deidaudit/results"
)

// Columns of the discrepancy reports. Participants do not get the answer key categories or the
// file paths.
var (
	internalColumns = []string{
		"id", "check_passed", "check_score", "tag_ds", "tag_name", "file_value", "answer_value", "action",
		"action_text", "category", "subcategory", "hipaa_z", "hipaa_m", "dicom_p15", "dicom_iod",
		"dicom_safe", "tcia_ptkb", "tcia_p15", "tcia_rev", "prev_cat", "modality", "class", "patient",
		"study", "series", "instance", "file_name", "file_path",
	}
	participantColumns = []string{
		"id", "check_passed", "check_score", "tag_ds", "tag_name", "file_value", "answer_value", "action",
		"action_text", "category", "subcategory", "modality", "class", "patient", "study", "series",
		"instance", "file_name",
	}
)

// lutData is the tag name of lookup table payloads, whose values are not worth printing.
const lutData = "<LUT Data>"

// Discrepancies lists the failed and pending results with their category, as a full internal
// frame and a reduced participant frame. ok is false when there is nothing to list.
func Discrepancies(rows []results.Row) (internal, participant dataframe.DataFrame, ok bool) {
	var failed []results.Row
	for _, r := range rows {
		if r.Passed != nil && *r.Passed {
			continue
		}
		if r.TagName == lutData {
			removed := "<Removed>"
			r.FileValue = &removed
			r.AnswerValue = removed
			r.ActionText = removed
		}
		failed = append(failed, r)
	}
	if len(failed) == 0 {
		return dataframe.DataFrame{}, dataframe.DataFrame{}, false
	}

	records := results.Records(failed)
	records[0] = append(records[0], "category", "subcategory")
	for i, r := range failed {
		cat, sub := Categorize(r.Result)
		records[i+1] = append(records[i+1], cat, sub)
	}

	all := load(records)
	return all.Select(internalColumns), all.Select(participantColumns), true
}

// Options select how a report is computed.
type Options struct {
	// SeriesBased counts each action and tag once per series instead of once per instance.
	SeriesBased bool
}

// Write computes every report of t and writes them as CSV files into dir.
func Write(dir string, t *results.Table, opts Options, logger logrus.FieldLogger) error {
	mode := "instance"
	rows := t.Rows
	if opts.SeriesBased {
		mode = "series"
		rows = DedupSeries(rows)
	}

	frames := map[string]dataframe.DataFrame{
		"action_report_" + mode + ".csv":           ByAction(rows).Frame(),
		"category_report_" + mode + ".csv":         ByCategory(rows).Frame(),
		"category_scoring_report_" + mode + ".csv": ByScoringCategory(rows).WeightedFrame(),
	}
	if overall := Overall(rows); len(overall.Rows) > 0 {
		frames["scoring_report_"+mode+".csv"] = overall.ScoreFrame()
	}
	if internal, participant, ok := Discrepancies(t.Rows); ok {
		frames["discrepancy_report_internal.csv"] = internal
		frames["discrepancy_report_participant.csv"] = participant
	}

	for name, df := range frames {
		if err := writeFrame(filepath.Join(dir, name), df); err != nil {
			return err
		}
		logger.WithField("file", name).Info("Report written")
	}

	logger.WithFields(logrus.Fields{
		"results":        len(rows),
		"weighted_score": percent(WeightedScore(ByScoringCategory(rows))),
	}).Info("Report generation complete")
	return nil
}

func writeFrame(path string, df dataframe.DataFrame) error {
	if df.Err != nil {
		return errors.Wrapf(df.Err, "failed to build %s", filepath.Base(path))
	}
	f, err := os.Create(filepath.Clean(path))
	if err != nil {
		return errors.Wrapf(err, "failed to create %s", path)
	}
	if err := df.WriteCSV(f); err != nil {
		f.Close()
		return errors.Wrapf(err, "failed to write %s", path)
	}
	return f.Close()
}
