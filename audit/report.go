package audit

import (
	"context"
	"os"
	"path/filepath"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/macadamian/deidaudit/conf"
	"github.com/macadamian/deidaudit/report"
	"github.com/macadamian/deidaudit/results"
)

func openStore(c *conf.Config) (*results.Store, func() error, error) {
	path := filepath.Join(c.RunDir(), DatabaseFile)
	if _, err := os.Stat(path); err != nil {
		return nil, nil, errors.Wrapf(err, "no results for run %s", c.RunName)
	}
	db, err := results.Open(path)
	if err != nil {
		return nil, nil, err
	}
	return results.NewStore(db), db.Close, nil
}

// Report writes the reports of the latest run stored in the run directory next to its database.
func Report(ctx context.Context, c *conf.Config, logger logrus.FieldLogger) error {
	store, closeDB, err := openStore(c)
	if err != nil {
		return err
	}
	defer closeDB()

	t, err := store.Read(ctx, "")
	if err != nil {
		return err
	}
	logger.WithFields(logrus.Fields{
		"run_id":  t.RunID,
		"results": len(t.Rows),
	}).Info("Results loaded")

	return report.Write(c.RunDir(), t, report.Options{SeriesBased: c.ReportSeries}, logger)
}

// ImportPixelReview writes the verdicts of a completed pixel review sheet back to the results
// database. An empty path reads the sheet exported with the run.
func ImportPixelReview(ctx context.Context, c *conf.Config, path string, logger logrus.FieldLogger) (int, error) {
	if path == "" {
		path = filepath.Join(c.RunDir(), results.PixelReviewFile)
	}
	f, err := os.Open(filepath.Clean(path))
	if err != nil {
		return 0, errors.Wrapf(err, "failed to open review sheet %s", path)
	}
	defer f.Close()

	reviews, err := results.ReadPixelReview(f)
	if err != nil {
		return 0, errors.Wrapf(err, "failed to read review sheet %s", path)
	}

	store, closeDB, err := openStore(c)
	if err != nil {
		return 0, err
	}
	defer closeDB()

	n, err := store.ImportReviews(ctx, reviews)
	logger.WithFields(logrus.Fields{
		"reviews":  len(reviews),
		"imported": n,
	}).Info("Pixel review imported")
	return n, err
}
