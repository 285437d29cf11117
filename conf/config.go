// Package conf loads the run configuration of an audit.
//
// The configuration is a JSON file. Every key can be overridden from the environment with the
// DEIDAUDIT_ prefix, e.g. DEIDAUDIT_LOG_LEVEL=debug.
package conf

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"sort"
	"strings"

	"github.com/hashicorp/go-multierror"
	"github.com/pkg/errors"
	"github.com/spf13/viper"
)

const envPrefix = "DEIDAUDIT"

// maxWorkers bounds multiprocessing_cpus whatever the machine offers.
const maxWorkers = 60

// LogLevels are the accepted log_level values.
var LogLevels = []string{"debug", "info", "warning", "error", "critical"}

// DigestAlgorithms are the accepted digest_algorithm values.
var DigestAlgorithms = []string{"sha256", "md5", "blake2b"}

// Config is one audit run.
type Config struct {
	RunName          string `mapstructure:"run_name"`
	InputDataPath    string `mapstructure:"input_data_path"`
	OutputDataPath   string `mapstructure:"output_data_path"`
	AnswerDBFile     string `mapstructure:"answer_db_file"`
	UIDMappingFile   string `mapstructure:"uid_mapping_file"`
	PatIDMappingFile string `mapstructure:"patid_mapping_file"`

	Multiprocessing     bool `mapstructure:"multiprocessing"`
	MultiprocessingCPUs int  `mapstructure:"multiprocessing_cpus"`
	BatchSize           int  `mapstructure:"batch_size"`

	LogPath  string `mapstructure:"log_path"`
	LogLevel string `mapstructure:"log_level"`

	ReportSeries    bool     `mapstructure:"report_series"`
	IncludePatterns []string `mapstructure:"include_patterns"`
	DigestAlgorithm string   `mapstructure:"digest_algorithm"`
	MetricsFile     string   `mapstructure:"metrics_file"`

	// DciodvfyPath is the dicom3tools IOD verifier used by conformance runs.
	DciodvfyPath string `mapstructure:"dciodvfy_path"`
}

var defaults = map[string]interface{}{
	"run_name":             "",
	"input_data_path":      "",
	"output_data_path":     "",
	"answer_db_file":       "",
	"uid_mapping_file":     "",
	"patid_mapping_file":   "",
	"multiprocessing":      false,
	"multiprocessing_cpus": 1,
	"batch_size":           100,
	"log_path":             "",
	"log_level":            "info",
	"report_series":        false,
	"include_patterns":     []string{"*"},
	"digest_algorithm":     "sha256",
	"metrics_file":         "",
	"dciodvfy_path":        "dciodvfy",
}

func setup() *viper.Viper {
	v := viper.New()
	v.SetConfigType("json")
	v.SetEnvPrefix(envPrefix)
	v.AutomaticEnv()
	// keys only bind to the environment once viper knows them
	for key, value := range defaults {
		v.SetDefault(key, value)
	}
	return v
}

// Load reads the configuration file at path. String encoded booleans and numbers ("True", "8")
// are accepted.
func Load(path string) (*Config, error) {
	v := setup()
	v.SetConfigFile(filepath.Clean(path))
	if err := v.ReadInConfig(); err != nil {
		return nil, errors.Wrapf(err, "failed to read config %s", path)
	}

	var c Config
	if err := v.Unmarshal(&c); err != nil {
		return nil, errors.Wrapf(err, "failed to decode config %s", path)
	}
	c.LogLevel = strings.ToLower(strings.TrimSpace(c.LogLevel))
	c.DigestAlgorithm = strings.ToLower(strings.TrimSpace(c.DigestAlgorithm))
	return &c, nil
}

// Validate reports every problem of a configuration for a validation run at once.
func (c *Config) Validate() error {
	var result *multierror.Error
	add := func(format string, args ...interface{}) {
		result = multierror.Append(result, fmt.Errorf(format, args...))
	}

	result = multierror.Append(result, c.validateCommon())

	if blank(c.InputDataPath) {
		add("input_data_path is blank")
	} else if !isDir(c.InputDataPath) {
		add("input_data_path %s does not exist", c.InputDataPath)
	}
	for key, path := range map[string]string{
		"answer_db_file":     c.AnswerDBFile,
		"uid_mapping_file":   c.UIDMappingFile,
		"patid_mapping_file": c.PatIDMappingFile,
	} {
		if blank(path) {
			add("%s is blank", key)
		} else if !isFile(path) {
			add("%s %s does not exist", key, path)
		}
	}
	if c.Multiprocessing && c.MultiprocessingCPUs < 1 {
		add("multiprocessing_cpus must be at least 1")
	}
	if c.BatchSize < 1 {
		add("batch_size must be at least 1")
	}
	if !contains(DigestAlgorithms, c.DigestAlgorithm) {
		add("digest_algorithm %q is invalid, valid values: %s", c.DigestAlgorithm, strings.Join(DigestAlgorithms, ", "))
	}

	return sorted(result)
}

// ValidateConformance reports the problems of a configuration for a conformance run.
func (c *Config) ValidateConformance() error {
	result := multierror.Append(nil, c.validateCommon())
	if blank(c.InputDataPath) {
		result = multierror.Append(result, fmt.Errorf("input_data_path is blank"))
	} else if !isDir(c.InputDataPath) {
		result = multierror.Append(result, fmt.Errorf("input_data_path %s does not exist", c.InputDataPath))
	}
	if blank(c.DciodvfyPath) {
		result = multierror.Append(result, fmt.Errorf("dciodvfy_path is blank"))
	}
	if c.Multiprocessing && c.MultiprocessingCPUs < 1 {
		result = multierror.Append(result, fmt.Errorf("multiprocessing_cpus must be at least 1"))
	}
	return sorted(result)
}

// ValidateReport reports the problems of a configuration used to build reports of a past run.
func (c *Config) ValidateReport() error {
	return sorted(multierror.Append(nil, c.validateCommon()))
}

func (c *Config) validateCommon() error {
	var result *multierror.Error
	for key, value := range map[string]string{
		"run_name":         c.RunName,
		"output_data_path": c.OutputDataPath,
		"log_path":         c.LogPath,
	} {
		if blank(value) {
			result = multierror.Append(result, fmt.Errorf("%s is blank", key))
		}
	}
	if !contains(LogLevels, c.LogLevel) {
		result = multierror.Append(result, fmt.Errorf("log_level %q is invalid, valid values: %s",
			c.LogLevel, strings.Join(LogLevels, ", ")))
	}
	return result.ErrorOrNil()
}

// Workers is the number of batches processed at the same time.
func (c *Config) Workers() int {
	if !c.Multiprocessing {
		return 1
	}
	return max(1, min(c.MultiprocessingCPUs, runtime.NumCPU(), maxWorkers))
}

// RunDir is the directory holding every output of the run.
func (c *Config) RunDir() string {
	return filepath.Join(c.OutputDataPath, c.RunName)
}

// sorted orders the collected errors so the report does not depend on map iteration.
func sorted(result *multierror.Error) error {
	if result == nil || len(result.Errors) == 0 {
		return nil
	}
	sort.Slice(result.Errors, func(i, j int) bool {
		return result.Errors[i].Error() < result.Errors[j].Error()
	})
	return result
}

func blank(s string) bool {
	return strings.TrimSpace(s) == ""
}

func isDir(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.IsDir()
}

func isFile(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.Mode().IsRegular()
}

func contains(values []string, v string) bool {
	for _, s := range values {
		if s == v {
			return true
		}
	}
	return false
}
