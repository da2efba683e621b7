package main

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/gwlsn/tqenc/internal/config"
	"github.com/gwlsn/tqenc/internal/mocks"
)

func writeY4M(t *testing.T, dir string, n int) string {
	t.Helper()
	var buf bytes.Buffer
	buf.WriteString("YUV4MPEG2 W32 H24 F30:1 C420\n")
	for _, f := range mocks.Frames(32, 24, n) {
		buf.WriteString("FRAME\n")
		buf.Write(f.Y)
		buf.Write(f.U)
		buf.Write(f.V)
	}
	path := filepath.Join(dir, "clip.y4m")
	if err := os.WriteFile(path, buf.Bytes(), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestRunExitStatus(t *testing.T) {
	dir := t.TempDir()
	t.Setenv(config.EnvConfigPath, "")
	in := writeY4M(t, dir, 2)
	out := filepath.Join(dir, "out.ivf")

	tests := []struct {
		name string
		args []string
		want int
	}{
		{"no input", []string{"tqenc"}, 2},
		{"two inputs", []string{"tqenc", "-i", "y4m", in, in}, 2},
		{"unknown format", []string{"tqenc", "-i", "avi", in}, 2},
		{"unknown flag", []string{"tqenc", "--bogus", in}, 2},
		{"ssim out of range", []string{"tqenc", "-i", "y4m", "-s", "1.5", "-o", out, in}, 2},
		{"forced qi out of range", []string{"tqenc", "-i", "y4m", "--y-ac-qi", "500", "-o", out, in}, 2},
		{"first pass only without state", []string{"tqenc", "-i", "y4m", "--two-pass", "--first-pass-only", "-o", out, in}, 2},
		{"ivf from stdin", []string{"tqenc", "-o", out, "-"}, 1},
		{"missing input", []string{"tqenc", "-i", "y4m", "-o", out, filepath.Join(dir, "nope.y4m")}, 1},
		{"encodes", []string{"tqenc", "-i", "y4m", "-o", out, in}, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var stderr bytes.Buffer
			if got := run(tt.args, &stderr); got != tt.want {
				t.Errorf("run(%q) = %d, want %d\nstderr:\n%s", tt.args, got, tt.want, stderr.String())
			}
			if tt.want == 2 && !strings.Contains(stderr.String(), "tqenc [options] <input>") {
				t.Errorf("usage text missing from stderr:\n%s", stderr.String())
			}
		})
	}
}

func TestRunEncodesWithStateAndHistory(t *testing.T) {
	dir := t.TempDir()
	t.Setenv(config.EnvConfigPath, "")
	in := writeY4M(t, dir, 3)
	out := filepath.Join(dir, "out.mp4")
	state := filepath.Join(dir, "state.ckpt")
	history := filepath.Join(dir, "history.db")

	var stderr bytes.Buffer
	args := []string{"tqenc", "-i", "y4m", "-s", "0.98", "--two-pass", "-O", state, "--history", history, "-o", out, in}
	if got := run(args, &stderr); got != 0 {
		t.Fatalf("run() = %d\nstderr:\n%s", got, stderr.String())
	}

	for _, want := range []string{"Frame #0: ssim=", "Frame #2: ssim="} {
		if !strings.Contains(stderr.String(), want) {
			t.Errorf("stderr missing %q:\n%s", want, stderr.String())
		}
	}
	for _, p := range []string{out, state, history} {
		if _, err := os.Stat(p); err != nil {
			t.Errorf("%s: %v", p, err)
		}
	}
}

func TestRunConfigFile(t *testing.T) {
	dir := t.TempDir()
	in := writeY4M(t, dir, 1)
	out := filepath.Join(dir, "out.ivf")

	cfgPath := filepath.Join(dir, "tqenc.yaml")
	if err := os.WriteFile(cfgPath, []byte("log_level: debug\nmax_trials: 2\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	t.Setenv(config.EnvConfigPath, cfgPath)

	var stderr bytes.Buffer
	if got := run([]string{"tqenc", "-i", "y4m", "-o", out, in}, &stderr); got != 0 {
		t.Fatalf("run() = %d\nstderr:\n%s", got, stderr.String())
	}
	if !strings.Contains(stderr.String(), "level=DEBUG") {
		t.Errorf("debug logging from config not enabled:\n%s", stderr.String())
	}
	if strings.Contains(stderr.String(), "trials=3") {
		t.Errorf("max_trials from config not applied:\n%s", stderr.String())
	}

	if err := os.WriteFile(cfgPath, []byte("max_trials: [\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	stderr.Reset()
	if got := run([]string{"tqenc", "-i", "y4m", "-o", out, in}, &stderr); got != 1 {
		t.Errorf("run() with broken config = %d, want 1", got)
	}
}

func TestEncoderOptionsFromConfig(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.MinQI, cfg.MaxQI = 10, 90
	cfg.FailOnUnreachable = true
	cfg.GoldenInterval = 4

	o := encoderOptions(cfg)
	if o.Range.Min != 10 || o.Range.Max != 90 {
		t.Errorf("Range = %+v", o.Range)
	}
	if !o.FailOnUnreachable || o.GoldenInterval != 4 || o.MaxTrials != cfg.MaxTrials {
		t.Errorf("options = %+v", o)
	}
}
