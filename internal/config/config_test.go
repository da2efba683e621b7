package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if *cfg != *DefaultConfig() {
		t.Errorf("Load() = %+v, want defaults", cfg)
	}

	cfg, err = Load("")
	if err != nil || *cfg != *DefaultConfig() {
		t.Errorf("Load(\"\") = %+v, %v", cfg, err)
	}
}

func TestLoadAppliesFileValues(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tqenc.yaml")
	data := `
log_level: debug
min_qi: 10
max_qi: 90
max_trials: 12
seed_window: 4
keyframe_interval: 60
fail_on_unreachable: true
history_db: /var/lib/tqenc/history.db
`
	if err := os.WriteFile(path, []byte(data), 0644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.LogLevel != "debug" || cfg.MinQI != 10 || cfg.MaxQI != 90 || cfg.MaxTrials != 12 {
		t.Errorf("unexpected config: %+v", cfg)
	}
	if cfg.SeedWindow != 4 || cfg.KeyframeInterval != 60 || !cfg.FailOnUnreachable {
		t.Errorf("unexpected config: %+v", cfg)
	}
	// Unset fields keep their defaults
	if cfg.GoldenInterval != 16 || cfg.Tolerance != 0.002 {
		t.Errorf("defaults lost: %+v", cfg)
	}
}

func TestLoadInvalidYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.yaml")
	if err := os.WriteFile(path, []byte("min_qi: [oops"), 0644); err != nil {
		t.Fatal(err)
	}
	if _, err := Load(path); err == nil {
		t.Error("expected error for malformed yaml")
	}
}

func TestNormalize(t *testing.T) {
	cfg := &Config{
		LogLevel:         "verbose",
		MinQI:            200,
		MaxQI:            -3,
		MaxTrials:        1000,
		Tolerance:        -1,
		SeedWindow:       -2,
		KeyframeInterval: -1,
		GoldenInterval:   -1,
	}
	cfg.Normalize()

	if cfg.LogLevel != DefaultLogLevel {
		t.Errorf("LogLevel = %q, want %q", cfg.LogLevel, DefaultLogLevel)
	}
	if cfg.MinQI != MinQI || cfg.MaxQI != MaxQI {
		t.Errorf("qi range = %d-%d, want %d-%d", cfg.MinQI, cfg.MaxQI, MinQI, MaxQI)
	}
	if cfg.MaxTrials != MaxTrials {
		t.Errorf("MaxTrials = %d, want %d", cfg.MaxTrials, MaxTrials)
	}
	if cfg.Tolerance != 0.002 {
		t.Errorf("Tolerance = %v, want 0.002", cfg.Tolerance)
	}
	if cfg.SeedWindow != 0 || cfg.KeyframeInterval != 0 || cfg.GoldenInterval != 0 {
		t.Errorf("negative intervals not clamped: %+v", cfg)
	}
}

func TestSaveRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "tqenc.yaml")
	cfg := DefaultConfig()
	cfg.MaxQI = 100
	cfg.TempDir = "/scratch"

	if err := cfg.Save(path); err != nil {
		t.Fatalf("Save() error = %v", err)
	}
	got, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if *got != *cfg {
		t.Errorf("Load(Save(cfg)) = %+v, want %+v", got, cfg)
	}
}

func TestResolvePath(t *testing.T) {
	t.Setenv(EnvConfigPath, "/etc/tqenc.yaml")
	if got := ResolvePath("local.yaml"); got != "local.yaml" {
		t.Errorf("ResolvePath(flag) = %q", got)
	}
	if got := ResolvePath(""); got != "/etc/tqenc.yaml" {
		t.Errorf("ResolvePath(env) = %q", got)
	}
}

func TestGetTempDir(t *testing.T) {
	cfg := DefaultConfig()
	if got := cfg.GetTempDir("/out/clip.ivf"); got != "/out" {
		t.Errorf("GetTempDir() = %q, want /out", got)
	}
	cfg.TempDir = "/scratch"
	if got := cfg.GetTempDir("/out/clip.ivf"); got != "/scratch" {
		t.Errorf("GetTempDir() = %q, want /scratch", got)
	}
}

func TestClampQI(t *testing.T) {
	tests := []struct{ in, want int }{
		{-5, MinQI}, {0, 0}, {64, 64}, {127, 127}, {300, MaxQI},
	}
	for _, tt := range tests {
		if got := ClampQI(tt.in); got != tt.want {
			t.Errorf("ClampQI(%d) = %d, want %d", tt.in, got, tt.want)
		}
	}
}

func TestValidateLogLevel(t *testing.T) {
	for _, lvl := range ValidLogLevels {
		if got := ValidateLogLevel(lvl); got != lvl {
			t.Errorf("ValidateLogLevel(%q) = %q", lvl, got)
		}
	}
	if got := ValidateLogLevel("trace"); got != DefaultLogLevel {
		t.Errorf("ValidateLogLevel(trace) = %q, want %q", got, DefaultLogLevel)
	}
}
