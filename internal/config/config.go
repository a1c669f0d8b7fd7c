// Package config holds the analysis configuration record and loads it from
// YAML files.
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/google/shlex"
	"gopkg.in/yaml.v3"
)

// DefaultFile is read when present and no explicit file was given.
const DefaultFile = ".testanalyzer.yaml"

const (
	DefaultRunCount          = 3
	DefaultMaxWorkers        = 4
	DefaultInterRunDelay     = 500 * time.Millisecond
	DefaultTimeout           = 10 * time.Minute
	DefaultSlowTestThreshold = time.Second
	DefaultKeepCount         = 5
	DefaultReportDir         = "tests_reports"
	DefaultCommand           = "dart test --reporter json"
	DefaultTestGlob          = "test/**/*_test.dart"
	DefaultMinPassRate       = 100.0
	DefaultToolName          = "testanalyzer"
)

// Config is the configuration of one analysis.
type Config struct {
	RunCount   int  `yaml:"runCount"`
	Parallel   bool `yaml:"parallel"`
	MaxWorkers int  `yaml:"maxWorkers"`
	Verbose    bool `yaml:"verbose"`

	// Command is the runner invocation, split shell-style.
	Command string `yaml:"command"`
	// CommandArgs, when set, is used as is instead of splitting Command.
	CommandArgs []string `yaml:"-"`
	// WorkDir is where the runner is started. Empty means the current directory.
	WorkDir string `yaml:"workDir"`
	// TargetFiles restricts the run to these test files. In parallel mode
	// they are discovered with TestGlob when empty.
	TargetFiles []string `yaml:"targetFiles"`
	TestGlob    string   `yaml:"testGlob"`

	Timeout           time.Duration `yaml:"timeout"`
	InterRunDelay     time.Duration `yaml:"interRunDelay"`
	SlowTestThreshold time.Duration `yaml:"slowTestThreshold"`

	ReportDir   string  `yaml:"reportDir"`
	ModuleName  string  `yaml:"moduleName"`
	ToolName    string  `yaml:"toolName"`
	KeepCount   int     `yaml:"keepCount"`
	MinPassRate float64 `yaml:"minPassRate"`

	MetricsFile string `yaml:"metricsFile"`
}

// Default returns a configuration with every default applied.
func Default() *Config {
	return &Config{
		RunCount:          DefaultRunCount,
		MaxWorkers:        DefaultMaxWorkers,
		Command:           DefaultCommand,
		TestGlob:          DefaultTestGlob,
		Timeout:           DefaultTimeout,
		InterRunDelay:     DefaultInterRunDelay,
		SlowTestThreshold: DefaultSlowTestThreshold,
		ReportDir:         DefaultReportDir,
		ToolName:          DefaultToolName,
		KeepCount:         DefaultKeepCount,
		MinPassRate:       DefaultMinPassRate,
	}
}

// Load reads path over the defaults. When path is empty, DefaultFile is used
// if it exists.
func Load(path string) (*Config, error) {
	cfg := Default()

	explicit := path != ""
	if !explicit {
		path = DefaultFile
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if !explicit && os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
	}
	return cfg, nil
}

// Argv returns CommandArgs, or Command split into program and arguments.
func (c *Config) Argv() ([]string, error) {
	if len(c.CommandArgs) > 0 {
		return c.CommandArgs, nil
	}
	argv, err := shlex.Split(c.Command)
	if err != nil {
		return nil, &ValidationError{Field: "command", Message: fmt.Sprintf("cannot split %q: %v", c.Command, err)}
	}
	if len(argv) == 0 {
		return nil, &ValidationError{Field: "command", Message: "must not be empty"}
	}
	return argv, nil
}

// Validate checks the configuration for values no analysis can run with.
func (c *Config) Validate() error {
	if c.RunCount < 1 {
		return &ValidationError{Field: "runCount", Message: fmt.Sprintf("must be at least 1, got %d", c.RunCount)}
	}
	if c.Parallel && c.MaxWorkers < 1 {
		return &ValidationError{Field: "maxWorkers", Message: fmt.Sprintf("must be at least 1 in parallel mode, got %d", c.MaxWorkers)}
	}
	if c.KeepCount < 0 {
		return &ValidationError{Field: "keepCount", Message: fmt.Sprintf("must not be negative, got %d", c.KeepCount)}
	}
	if c.Timeout < 0 || c.InterRunDelay < 0 {
		return &ValidationError{Field: "timeout", Message: "durations must not be negative"}
	}
	if c.MinPassRate < 0 || c.MinPassRate > 100 {
		return &ValidationError{Field: "minPassRate", Message: fmt.Sprintf("must be within 0..100, got %v", c.MinPassRate)}
	}
	if c.ReportDir == "" {
		return &ValidationError{Field: "reportDir", Message: "must not be empty"}
	}
	if _, err := c.Argv(); err != nil {
		return err
	}
	return nil
}

// ValidationError reports an unusable configuration value.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Message)
}
