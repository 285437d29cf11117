package audit

import (
	"context"
	"os"
	"path/filepath"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/macadamian/deidaudit/conf"
	"github.com/macadamian/deidaudit/conformance"
	"github.com/macadamian/deidaudit/index"
)

// ConformanceSummary describes a finished conformance run.
type ConformanceSummary struct {
	Files    int
	Findings []conformance.Finding
	// Failed counts the files the verifier could not be run on.
	Failed int
	// Report is empty when there was nothing to report.
	Report string
}

// Conformance runs the IOD verifier over every record under the configured input path and writes
// its findings to the run directory. runner.Tool defaults to the configured dciodvfy_path.
func Conformance(ctx context.Context, c *conf.Config, runner conformance.Runner, logger logrus.FieldLogger) (*ConformanceSummary, error) {
	started := time.Now()
	if runner.Tool == "" {
		runner.Tool = c.DciodvfyPath
	}

	matcher, err := index.NewMatcher(c.IncludePatterns)
	if err != nil {
		return nil, err
	}
	files, err := index.Walk(c.InputDataPath, matcher)
	if err != nil {
		return nil, err
	}
	logger.WithField("files", len(files)).Info("Input indexed")

	summary := &ConformanceSummary{Files: len(files)}
	summary.Findings, summary.Failed = runner.Run(ctx, files, c.Workers(), logger)

	if len(summary.Findings) > 0 {
		runDir := c.RunDir()
		if err := os.MkdirAll(runDir, 0750); err != nil {
			return nil, errors.Wrapf(err, "failed to create output directory %s", runDir)
		}
		summary.Report = filepath.Join(runDir, conformance.ReportFile)
		if err := writeConformance(summary.Report, summary.Findings); err != nil {
			return nil, err
		}
	}

	logger.WithFields(logrus.Fields{
		"files":    summary.Files,
		"findings": len(summary.Findings),
		"failed":   summary.Failed,
		"duration": time.Since(started).String(),
	}).Info("Conformance check complete")
	return summary, nil
}

func writeConformance(path string, findings []conformance.Finding) error {
	f, err := os.Create(filepath.Clean(path))
	if err != nil {
		return errors.Wrapf(err, "failed to create %s", path)
	}
	if err := conformance.Write(f, findings); err != nil {
		f.Close()
		return errors.Wrapf(err, "failed to write %s", path)
	}
	return f.Close()
}
