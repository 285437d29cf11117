package log

import (
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/macadamian/deidaudit/conf"
)

var levels = map[string]logrus.Level{
	"debug":   logrus.DebugLevel,
	"info":    logrus.InfoLevel,
	"warning": logrus.WarnLevel,
	"error":   logrus.ErrorLevel,
	// logrus has no level between error and fatal, fatal entries exit the process
	"critical": logrus.ErrorLevel,
}

// ParseLevel maps a configured log_level onto a logrus level.
func ParseLevel(s string) (logrus.Level, error) {
	level, ok := levels[strings.ToLower(strings.TrimSpace(s))]
	if !ok {
		return logrus.InfoLevel, errors.Errorf("invalid log level %q", s)
	}
	return level, nil
}

// FileName is the log file of an application run started at start.
func FileName(dir, runName, application string, start time.Time) string {
	return filepath.Join(dir, start.Format("20060102150405")+"_"+runName+"_"+application+".log")
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }

// Logger writes to stderr and, when outputFile can be opened, to outputFile as well. The returned
// closer releases outputFile.
func Logger(logger *logrus.Logger, outputFile string, application, runName string) (logrus.FieldLogger, io.Closer) {
	logger.Formatter = &logrus.JSONFormatter{TimestampFormat: time.RFC3339Nano}

	var closer io.Closer = nopCloser{}
	if outputFile != "" {
		if file, err := os.OpenFile(filepath.Clean(outputFile), os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0640); err == nil {
			logger.SetOutput(io.MultiWriter(file, os.Stderr))
			closer = file
		} else {
			logger.Infof("Failed to open output file %s. Will use stderr. %s",
				outputFile, err.Error())
		}
	}

	return logger.WithFields(logrus.Fields{
		"application": application,
		"run":         runName}), closer
}

// New builds the logger of a run from its configuration, creating the log directory if needed.
// The caller closes the log file once the run is over.
func New(c *conf.Config, application string, start time.Time) (logrus.FieldLogger, io.Closer, error) {
	level, err := ParseLevel(c.LogLevel)
	if err != nil {
		return nil, nil, err
	}
	if err := os.MkdirAll(c.LogPath, 0750); err != nil {
		return nil, nil, errors.Wrapf(err, "failed to create log directory %s", c.LogPath)
	}

	logger := logrus.New()
	logger.SetLevel(level)
	l, closer := Logger(logger, FileName(c.LogPath, c.RunName, application, start), application, c.RunName)
	return l, closer, nil
}
