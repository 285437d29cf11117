package main

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"github.com/urfave/cli"

	"github.com/macadamian/deidaudit/audit"
	"github.com/macadamian/deidaudit/conf"
	"github.com/macadamian/deidaudit/conformance"
	"github.com/macadamian/deidaudit/log"
	"github.com/macadamian/deidaudit/metrics"
)

// Name and usage shown by the help output.
const Name = "deidaudit"
const Usage = "Validate a de-identified DICOM collection against its answer key"

// partialFailureCode is the exit code of a run that completed while some batches or files failed.
const partialFailureCode = 2

func GetApp() *cli.App {
	return setUpApp()
}

func setUpApp() *cli.App {
	app := cli.NewApp()
	app.Name = Name
	app.Usage = Usage
	var configPath, reviewPath string
	configFlag := cli.StringFlag{
		Name:        "config, c",
		Usage:       "Path of the JSON run configuration",
		Required:    true,
		Destination: &configPath,
	}

	app.Commands = []cli.Command{
		{
			Name:  "validate",
			Usage: "Check every record of the input data against the answer key",
			Flags: []cli.Flag{configFlag},
			Action: func(c *cli.Context) error {
				start := time.Now()
				cfg, logger, closer, err := setup(configPath, "validation", start, (*conf.Config).Validate)
				if err != nil {
					return err
				}
				defer closer.Close()
				logger.Info("Run started")

				summary, err := audit.Run(context.Background(), cfg, audit.Options{Metrics: metrics.New()}, logger)
				if err != nil {
					logger.WithError(err).Error("Run failed")
					return err
				}

				fmt.Fprintf(app.Writer, "run %s: %d files, %d results, database %s\n",
					summary.RunID, summary.Files, len(summary.Table.Rows), summary.Database)
				if summary.BatchErrors != nil {
					return cli.NewExitError(summary.BatchErrors.Error(), partialFailureCode)
				}
				return nil
			},
		},
		{
			Name:  "report",
			Usage: "Write the action, category, scoring and discrepancy reports of the latest run",
			Flags: []cli.Flag{configFlag},
			Action: func(c *cli.Context) error {
				cfg, logger, closer, err := setup(configPath, "reports", time.Now(), (*conf.Config).ValidateReport)
				if err != nil {
					return err
				}
				defer closer.Close()
				if err := audit.Report(context.Background(), cfg, logger); err != nil {
					logger.WithError(err).Error("Report failed")
					return err
				}
				fmt.Fprintf(app.Writer, "reports written to %s\n", cfg.RunDir())
				return nil
			},
		},
		{
			Name:  "import-pixel-review",
			Usage: "Write the verdicts of a reviewed pixel_validation.csv back to the results database",
			Flags: []cli.Flag{
				configFlag,
				cli.StringFlag{
					Name:        "file, f",
					Usage:       "Reviewed sheet, defaults to the pixel_validation.csv of the run",
					Destination: &reviewPath,
				},
			},
			Action: func(c *cli.Context) error {
				cfg, logger, closer, err := setup(configPath, "import", time.Now(), (*conf.Config).ValidateReport)
				if err != nil {
					return err
				}
				defer closer.Close()
				n, err := audit.ImportPixelReview(context.Background(), cfg, reviewPath, logger)
				fmt.Fprintf(app.Writer, "%d reviews imported\n", n)
				return err
			},
		},
		{
			Name:  "conformance",
			Usage: "Run the dciodvfy IOD verifier over the input data and collect its errors and warnings",
			Flags: []cli.Flag{configFlag},
			Action: func(c *cli.Context) error {
				cfg, logger, closer, err := setup(configPath, "dciodvfy", time.Now(), (*conf.Config).ValidateConformance)
				if err != nil {
					return err
				}
				defer closer.Close()
				logger.Info("Conformance run started")

				summary, err := audit.Conformance(context.Background(), cfg, conformance.Runner{}, logger)
				if err != nil {
					logger.WithError(err).Error("Conformance run failed")
					return err
				}

				fmt.Fprintf(app.Writer, "%d files, %d findings\n", summary.Files, len(summary.Findings))
				if summary.Failed > 0 {
					return cli.NewExitError(fmt.Sprintf("the verifier could not be run on %d files", summary.Failed), partialFailureCode)
				}
				return nil
			},
		},
	}
	return app
}

// setup loads and checks the configuration, then opens the run log.
func setup(path, application string, start time.Time, validate func(*conf.Config) error) (*conf.Config, logrus.FieldLogger, io.Closer, error) {
	cfg, err := conf.Load(path)
	if err != nil {
		return nil, nil, nil, err
	}
	if err := validate(cfg); err != nil {
		return nil, nil, nil, errors.Wrap(err, "invalid configuration")
	}
	logger, closer, err := log.New(cfg, application, start)
	if err != nil {
		return nil, nil, nil, err
	}
	return cfg, logger, closer, nil
}
