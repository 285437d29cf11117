// Package audit runs a whole validation: it loads the answer key and identifier tables, decodes
// and checks every indexed record, accounts for the records that were never found and persists
// the results of the run.
package audit

import (
	"context"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/hashicorp/go-multierror"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/macadamian/deidaudit"
	"github.com/macadamian/deidaudit/answerkey"
	"github.com/macadamian/deidaudit/batch"
	"github.com/macadamian/deidaudit/check"
	"github.com/macadamian/deidaudit/conf"
	"github.com/macadamian/deidaudit/index"
	"github.com/macadamian/deidaudit/metrics"
	"github.com/macadamian/deidaudit/remap"
	"github.com/macadamian/deidaudit/results"
)

// DatabaseFile holds the validation_results table of a run, inside the run directory.
const DatabaseFile = "validation_results.db"

// Options are the collaborators of a run that do not come from the configuration.
type Options struct {
	// OCR reads burned in text for pixels_hidden checks. Without one those checks are left
	// pending for manual review.
	OCR check.Recognizer
	// Decode defaults to deidaudit.Decode.
	Decode  batch.DecodeFunc
	Metrics *metrics.Metrics
}

// Summary describes a finished run.
type Summary struct {
	RunID    string
	Files    int
	Decoded  int
	Skipped  int
	Missing  int
	Database string
	Table    *results.Table
	// Unidentified counts files of failed batches whose answer key entries could not be told.
	// Missing records are not reported when it is not zero.
	Unidentified int
	// BatchErrors lists the batches that failed as a whole, nil when every batch completed.
	BatchErrors error
}

type inputs struct {
	uids    remap.Map
	patids  remap.Map
	entries []answerkey.Entry
}

// load reads the identifier tables and the answer key concurrently.
func load(ctx context.Context, c *conf.Config, logger logrus.FieldLogger) (*inputs, error) {
	in := &inputs{}
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() (err error) {
		in.uids, err = remap.Load(c.UIDMappingFile)
		return err
	})
	g.Go(func() (err error) {
		in.patids, err = remap.Load(c.PatIDMappingFile)
		return err
	})
	g.Go(func() (err error) {
		in.entries, err = answerkey.Load(gctx, c.AnswerDBFile, logger)
		return err
	})

	if err := g.Wait(); err != nil {
		return nil, err
	}
	logger.WithFields(logrus.Fields{
		"uids":    len(in.uids),
		"patids":  len(in.patids),
		"entries": len(in.entries),
	}).Info("Inputs loaded")
	return in, nil
}

// Run validates every record under the configured input path against the answer key. An error
// is returned when the run could not complete; batches that failed on their own are reported in
// Summary.BatchErrors.
func Run(ctx context.Context, c *conf.Config, opts Options, logger logrus.FieldLogger) (*Summary, error) {
	started := time.Now()

	in, err := load(ctx, c, logger)
	if err != nil {
		return nil, err
	}
	answerkey.Remap(in.entries, in.uids)
	resolver := answerkey.NewResolver(in.entries)

	matcher, err := index.NewMatcher(c.IncludePatterns)
	if err != nil {
		return nil, err
	}
	files, err := index.Walk(c.InputDataPath, matcher)
	if err != nil {
		return nil, err
	}
	logger.WithFields(logrus.Fields{
		"files":    len(files),
		"duration": time.Since(started).String(),
	}).Info("Input indexed")

	runDir := c.RunDir()
	if err := recreate(runDir); err != nil {
		return nil, err
	}

	p := &batch.Processor{
		Resolver: resolver,
		Engine: check.NewEngine(check.Env{
			UIDs:       in.uids,
			PatientIDs: in.patids,
			OCR:        opts.OCR,
		}, opts.Metrics),
		Metrics:         opts.Metrics,
		DigestAlgorithm: c.DigestAlgorithm,
		Decode:          opts.Decode,
	}
	outputs := batch.Run(ctx, p, batch.Split(files, c.BatchSize), c.Workers(), logger)

	summary := &Summary{RunID: uuid.NewString(), Files: len(files)}
	var batchErrs *multierror.Error
	parts := make([][]deidaudit.Result, 0, len(outputs)+1)
	matched := map[int]bool{}
	for _, out := range outputs {
		for _, i := range out.Matched {
			matched[i] = true
		}
		if out.Err == nil {
			summary.Decoded += out.Decoded
			summary.Skipped += out.Skipped
			parts = append(parts, out.Results)
			continue
		}

		batchErrs = multierror.Append(batchErrs, errors.Wrapf(out.Err, "batch %d", out.Batch))
		if ctx.Err() != nil {
			summary.Unidentified += len(out.Pending)
			continue
		}
		ids, unknown := p.Identify(out.Pending, logger.WithField("batch", out.Batch))
		for _, i := range ids {
			matched[i] = true
		}
		summary.Unidentified += unknown
	}
	summary.BatchErrors = batchErrs.ErrorOrNil()
	if summary.BatchErrors != nil {
		// records of a failed batch exist, their entries are left unevaluated rather than missing
		logger.WithError(summary.BatchErrors).Error("Some batches failed, their records have no results")
	}

	if summary.Unidentified > 0 {
		logger.WithField("files", summary.Unidentified).Error("Files of failed batches could not be identified, missing records are not reported")
	} else {
		missing := check.Missing(resolver.Entries(), matched, logger)
		summary.Missing = len(missing)
		parts = append(parts, missing)
	}

	summary.Table = results.Aggregate(summary.RunID, parts...)
	if len(summary.Table.Rows) == 0 {
		logger.Error("Zero results returned. Check that the UID mapping matches the answer key and the input data.")
	}

	summary.Database = filepath.Join(runDir, DatabaseFile)
	if err := persist(ctx, summary.Database, summary.Table); err != nil {
		return nil, err
	}
	if err := writePixelReview(filepath.Join(runDir, results.PixelReviewFile), summary.Table); err != nil {
		return nil, err
	}
	if err := opts.Metrics.WriteFile(c.MetricsFile); err != nil {
		return nil, err
	}

	logger.WithFields(logrus.Fields{
		"run_id":   summary.RunID,
		"files":    summary.Files,
		"decoded":  summary.Decoded,
		"skipped":  summary.Skipped,
		"missing":  summary.Missing,
		"results":  len(summary.Table.Rows),
		"duration": time.Since(started).String(),
	}).Info("Run complete")
	return summary, nil
}

func recreate(dir string) error {
	if err := os.RemoveAll(dir); err != nil {
		return errors.Wrapf(err, "failed to clear output directory %s", dir)
	}
	if err := os.MkdirAll(dir, 0750); err != nil {
		return errors.Wrapf(err, "failed to create output directory %s", dir)
	}
	return nil
}

func persist(ctx context.Context, path string, t *results.Table) error {
	db, err := results.Open(path)
	if err != nil {
		return err
	}
	defer db.Close()

	store := results.NewStore(db)
	if err := store.CreateTable(ctx); err != nil {
		return err
	}
	return store.Write(ctx, t)
}

func writePixelReview(path string, t *results.Table) error {
	if len(t.Filter(deidaudit.PixelsHidden)) == 0 {
		return nil
	}
	f, err := os.Create(filepath.Clean(path))
	if err != nil {
		return errors.Wrapf(err, "failed to create %s", path)
	}
	if err := results.WritePixelReview(f, t); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}
