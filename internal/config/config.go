package config

import (
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// EnvConfigPath names the environment variable consulted when no config
// path is given on the command line.
const EnvConfigPath = "TQENC_CONFIG"

type Config struct {
	// LogLevel is one of debug, info, warn, error (default info)
	LogLevel string `yaml:"log_level"`

	// MinQI and MaxQI bound the quantizer search (default 0-127)
	MinQI int `yaml:"min_qi"`
	MaxQI int `yaml:"max_qi"`

	// MaxTrials caps codec invocations per frame (default 8)
	MaxTrials int `yaml:"max_trials"`

	// Tolerance is the score margin above target accepted on the first trial.
	// It grows by the same amount with each further trial (default 0.002)
	Tolerance float64 `yaml:"tolerance"`

	// SeedWindow is the half-width of the second-pass search bounds around
	// the first-pass choice (default 8)
	SeedWindow int `yaml:"seed_window"`

	// KeyframeInterval forces an intra frame every N frames. 0 means only the
	// first frame of a session is intra.
	KeyframeInterval int `yaml:"keyframe_interval"`

	// GoldenInterval refreshes the golden reference every N frames
	// (default 16). Key frames always refresh it.
	GoldenInterval int `yaml:"golden_interval"`

	// FailOnUnreachable aborts the session when a frame cannot reach the
	// target. By default the best achieved score is used and encoding continues.
	FailOnUnreachable bool `yaml:"fail_on_unreachable"`

	// HistoryDB is the SQLite file sessions are recorded to. Empty disables history.
	HistoryDB string `yaml:"history_db"`

	// TempDir is where output is staged before it is moved into place.
	// If empty, temp files go in the same directory as the output.
	TempDir string `yaml:"temp_dir"`
}

// DefaultConfig returns a config with sensible defaults
func DefaultConfig() *Config {
	return &Config{
		LogLevel:         DefaultLogLevel,
		MinQI:            MinQI,
		MaxQI:            MaxQI,
		MaxTrials:        8,
		Tolerance:        0.002,
		SeedWindow:       8,
		KeyframeInterval: 0,
		GoldenInterval:   16,
		HistoryDB:        "", // disabled
		TempDir:          "", // same directory as output
	}
}

// Load reads config from a YAML file, applying defaults for missing values
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()
	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			// No config file - use defaults
			return cfg, nil
		}
		return nil, err
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, err
	}

	cfg.Normalize()
	return cfg, nil
}

// Normalize clamps every field into its valid range.
func (c *Config) Normalize() {
	c.LogLevel = ValidateLogLevel(c.LogLevel)
	c.MinQI = ClampQI(c.MinQI)
	c.MaxQI = ClampQI(c.MaxQI)
	if c.MinQI > c.MaxQI {
		c.MinQI, c.MaxQI = c.MaxQI, c.MinQI
	}
	if c.MaxTrials == 0 {
		c.MaxTrials = 8
	}
	c.MaxTrials = ClampTrials(c.MaxTrials)
	if c.Tolerance <= 0 || c.Tolerance > MaxTolerance {
		c.Tolerance = 0.002
	}
	if c.SeedWindow < 0 {
		c.SeedWindow = 0
	}
	if c.KeyframeInterval < 0 {
		c.KeyframeInterval = 0
	}
	if c.GoldenInterval < 0 {
		c.GoldenInterval = 0
	}
}

// Save writes the config to a YAML file
func (c *Config) Save(path string) error {
	// Ensure directory exists
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return err
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return err
	}

	return os.WriteFile(path, data, 0644)
}

// ResolvePath returns flagPath if set, otherwise the TQENC_CONFIG
// environment variable. Empty means run on defaults.
func ResolvePath(flagPath string) string {
	if flagPath != "" {
		return flagPath
	}
	return os.Getenv(EnvConfigPath)
}

// GetTempDir returns the directory for temp files
// If TempDir is set, returns that; otherwise returns the directory of the output file
func (c *Config) GetTempDir(outputPath string) string {
	if c.TempDir != "" {
		return c.TempDir
	}
	return filepath.Dir(outputPath)
}
