package conf

import (
	"os"
	"path/filepath"
	"runtime"
	"testing"

	"github.com/hashicorp/go-multierror"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.json")
	require.NoError(t, os.WriteFile(path, []byte(body), 0600))
	return path
}

func TestLoad(t *testing.T) {
	path := writeConfig(t, `{
		"run_name": "run1",
		"input_data_path": "/data/in",
		"output_data_path": "/data/out",
		"answer_db_file": "/data/answers.db",
		"uid_mapping_file": "/data/uids.csv",
		"patid_mapping_file": "/data/patids.csv",
		"multiprocessing": "True",
		"multiprocessing_cpus": "8",
		"log_path": "/data/logs",
		"log_level": "DEBUG",
		"report_series": "False"
	}`)

	c, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "run1", c.RunName)
	assert.Equal(t, "/data/answers.db", c.AnswerDBFile)
	assert.True(t, c.Multiprocessing)
	assert.Equal(t, 8, c.MultiprocessingCPUs)
	assert.False(t, c.ReportSeries)
	assert.Equal(t, "debug", c.LogLevel)
	assert.Equal(t, 100, c.BatchSize)
	assert.Equal(t, []string{"*"}, c.IncludePatterns)
	assert.Equal(t, "sha256", c.DigestAlgorithm)
	assert.Equal(t, "dciodvfy", c.DciodvfyPath)
	assert.Equal(t, filepath.Join("/data/out", "run1"), c.RunDir())
}

func TestLoadEnvOverride(t *testing.T) {
	path := writeConfig(t, `{"run_name": "run1", "log_level": "info"}`)
	t.Setenv("DEIDAUDIT_RUN_NAME", "nightly")
	t.Setenv("DEIDAUDIT_BATCH_SIZE", "25")

	c, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "nightly", c.RunName)
	assert.Equal(t, 25, c.BatchSize)
}

func TestLoadErrors(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.json"))
	assert.Error(t, err)

	_, err = Load(writeConfig(t, `{"run_name": `))
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	dir := t.TempDir()
	file := filepath.Join(dir, "answers.db")
	require.NoError(t, os.WriteFile(file, nil, 0600))

	c := &Config{
		RunName:          "run1",
		InputDataPath:    dir,
		OutputDataPath:   dir,
		AnswerDBFile:     file,
		UIDMappingFile:   file,
		PatIDMappingFile: file,
		BatchSize:        100,
		LogPath:          dir,
		LogLevel:         "info",
		DigestAlgorithm:  "blake2b",
	}
	assert.NoError(t, c.Validate())
	assert.NoError(t, c.ValidateReport())

	c.RunName = " "
	c.InputDataPath = filepath.Join(dir, "nope")
	c.UIDMappingFile = dir
	c.LogLevel = "verbose"
	c.Multiprocessing = true
	c.DigestAlgorithm = "crc32"

	err := c.Validate()
	require.Error(t, err)
	var merr *multierror.Error
	require.ErrorAs(t, err, &merr)
	assert.Len(t, merr.Errors, 6)
	assert.Contains(t, err.Error(), "run_name is blank")
	assert.Contains(t, err.Error(), "does not exist")
	assert.Contains(t, err.Error(), `log_level "verbose" is invalid`)
	assert.Contains(t, err.Error(), "multiprocessing_cpus must be at least 1")

	err = c.ValidateReport()
	require.ErrorAs(t, err, &merr)
	assert.Len(t, merr.Errors, 2)
}

func TestValidateConformance(t *testing.T) {
	dir := t.TempDir()
	c := &Config{
		RunName:        "run1",
		InputDataPath:  dir,
		OutputDataPath: dir,
		LogPath:        dir,
		LogLevel:       "info",
		DciodvfyPath:   "dciodvfy",
	}
	assert.NoError(t, c.ValidateConformance())

	c.InputDataPath = ""
	c.DciodvfyPath = " "
	c.Multiprocessing = true

	err := c.ValidateConformance()
	var merr *multierror.Error
	require.ErrorAs(t, err, &merr)
	assert.Len(t, merr.Errors, 3)
	assert.Contains(t, err.Error(), "input_data_path is blank")
	assert.Contains(t, err.Error(), "dciodvfy_path is blank")
}

func TestWorkers(t *testing.T) {
	c := &Config{MultiprocessingCPUs: 8}
	assert.Equal(t, 1, c.Workers())

	c.Multiprocessing = true
	assert.Equal(t, min(8, runtime.NumCPU()), c.Workers())

	c.MultiprocessingCPUs = 0
	assert.Equal(t, 1, c.Workers())

	c.MultiprocessingCPUs = 500
	assert.LessOrEqual(t, c.Workers(), maxWorkers)
}
