package log

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/macadamian/deidaudit/conf"
)

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in   string
		want logrus.Level
	}{
		{"debug", logrus.DebugLevel},
		{"INFO", logrus.InfoLevel},
		{"warning", logrus.WarnLevel},
		{"error", logrus.ErrorLevel},
		{"critical", logrus.ErrorLevel},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseLevel(tt.in)
			assert.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}

	_, err := ParseLevel("trace")
	assert.EqualError(t, err, `invalid log level "trace"`)
}

func TestFileName(t *testing.T) {
	start := time.Date(2021, 3, 4, 5, 6, 7, 0, time.UTC)
	assert.Equal(t, filepath.Join("logs", "20210304050607_run1_validation.log"), FileName("logs", "run1", "validation", start))
	assert.Equal(t, filepath.Join("logs", "20210304050607_run1_reports.log"), FileName("logs", "run1", "reports", start))
}

func TestNew(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "logs")
	start := time.Now()
	c := &conf.Config{RunName: "run1", LogPath: dir, LogLevel: "warning"}

	logger, closer, err := New(c, "validation", start)
	require.NoError(t, err)

	logger.Info("not written")
	logger.WithField("batch", 3).Warn("written")
	require.NoError(t, closer.Close())

	data, err := os.ReadFile(FileName(dir, "run1", "validation", start))
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	require.Len(t, lines, 1)

	var fields logrus.Fields
	require.NoError(t, json.Unmarshal([]byte(lines[0]), &fields))
	assert.Equal(t, "written", fields["msg"])
	assert.Equal(t, "validation", fields["application"])
	assert.Equal(t, "run1", fields["run"])
	assert.Equal(t, float64(3), fields["batch"])

	_, _, err = New(&conf.Config{LogPath: dir, LogLevel: "loud"}, "validation", start)
	assert.Error(t, err)
}

func TestLoggerWithoutFile(t *testing.T) {
	logger, closer := Logger(logrus.New(), "", "reports", "run1")
	assert.NotNil(t, logger)
	assert.NoError(t, closer.Close())
}
