// Command tqenc encodes raw or coded frames, choosing each frame's quantizer
// so the decoded result meets a target SSIM.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/urfave/cli/v2"

	tqenc "github.com/gwlsn/tqenc"
	"github.com/gwlsn/tqenc/internal/codec"
	"github.com/gwlsn/tqenc/internal/config"
	"github.com/gwlsn/tqenc/internal/encoder"
	"github.com/gwlsn/tqenc/internal/logger"
	"github.com/gwlsn/tqenc/internal/ratecontrol"
	"github.com/gwlsn/tqenc/internal/session"
	"github.com/gwlsn/tqenc/internal/source"
	"github.com/gwlsn/tqenc/internal/store"
)

var errUsage = errors.New("usage error")

func main() {
	os.Exit(run(os.Args, os.Stderr))
}

// run executes the CLI and returns the process exit status.
func run(args []string, stderr io.Writer) int {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	err := newApp(stderr).RunContext(ctx, args)
	switch {
	case err == nil:
		return 0
	case errors.Is(err, errUsage):
		fmt.Fprintf(stderr, "tqenc: %v\n", err)
		return 2
	default:
		fmt.Fprintf(stderr, "tqenc: %v\n", err)
		return 1
	}
}

func newApp(stderr io.Writer) *cli.App {
	return &cli.App{
		Name:            "tqenc",
		Usage:           "encode frames to a target SSIM",
		UsageText:       "tqenc [options] <input>",
		Version:         tqenc.Version,
		Writer:          stderr,
		ErrWriter:       stderr,
		HideHelpCommand: true,
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "output", Aliases: []string{"o"}, Value: "output.ivf", Usage: "output file (.ivf or .mp4)"},
			&cli.Float64Flag{Name: "ssim", Aliases: []string{"s"}, Value: 0.99, Usage: "target SSIM for every frame"},
			&cli.StringFlag{Name: "input-format", Aliases: []string{"i"}, Value: "ivf", Usage: "input format: ivf, y4m or mp4"},
			&cli.StringFlag{Name: "output-state", Aliases: []string{"O"}, Usage: "write the final encoder state to `FILE`"},
			&cli.StringFlag{Name: "input-state", Aliases: []string{"I"}, Usage: "resume from the encoder state in `FILE`"},
			&cli.BoolFlag{Name: "two-pass", Usage: "analyse the input before encoding it"},
			&cli.IntFlag{Name: "y-ac-qi", Usage: "code every frame at this quantization index, skipping the search"},
			&cli.BoolFlag{Name: "first-pass-only", Usage: "stop after the first pass and save its statistics with --output-state"},
			&cli.StringFlag{Name: "config", Aliases: []string{"c"}, Usage: "YAML config `FILE` (default: $" + config.EnvConfigPath + ")"},
			&cli.StringFlag{Name: "history", Usage: "record sessions in the SQLite database at `FILE`"},
			&cli.StringFlag{Name: "log-level", Usage: "debug, info, warn or error"},
		},
		Action: encodeAction,
		OnUsageError: func(c *cli.Context, err error, _ bool) error {
			_ = cli.ShowAppHelp(c)
			return fmt.Errorf("%w: %v", errUsage, err)
		},
		ExitErrHandler: func(*cli.Context, error) {},
	}
}

func usageError(c *cli.Context, format string, args ...any) error {
	_ = cli.ShowAppHelp(c)
	return fmt.Errorf("%w: %s", errUsage, fmt.Sprintf(format, args...))
}

func encodeAction(c *cli.Context) error {
	if c.NArg() != 1 {
		return usageError(c, "expected one input, got %d", c.NArg())
	}
	format, err := source.ParseFormat(c.String("input-format"))
	if err != nil {
		return usageError(c, "%v", err)
	}

	cfgPath := config.ResolvePath(c.String("config"))
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return fmt.Errorf("config %s: %w", cfgPath, err)
	}
	level := cfg.LogLevel
	if c.IsSet("log-level") {
		if !config.IsValidLogLevel(c.String("log-level")) {
			return usageError(c, "invalid log level %q", c.String("log-level"))
		}
		level = c.String("log-level")
	}
	logger.InitWithWriter(c.App.ErrWriter, level)

	var mode encoder.Mode = encoder.Targeted{Score: c.Float64("ssim")}
	if c.IsSet("y-ac-qi") {
		qi := c.Int("y-ac-qi")
		if !codec.ValidQI(qi) {
			return usageError(c, "--y-ac-qi %d outside [%d, %d]", qi, codec.MinQI, codec.MaxQI)
		}
		mode = encoder.Forced{QI: qi}
	} else if s := c.Float64("ssim"); !(s > 0 && s <= 1) {
		return usageError(c, "--ssim %v outside (0, 1]", s)
	}

	output := c.String("output")
	opts := session.Options{
		InputPath:     c.Args().First(),
		OutputPath:    output,
		Mode:          mode,
		TwoPass:       c.Bool("two-pass"),
		FirstPassOnly: c.Bool("first-pass-only"),
		InputState:    c.String("input-state"),
		OutputState:   c.String("output-state"),
		TempDir:       cfg.GetTempDir(output),
		Encoder:       encoderOptions(cfg),
		Progress:      c.App.ErrWriter,
	}

	historyPath := cfg.HistoryDB
	if c.IsSet("history") {
		historyPath = c.String("history")
	}
	if historyPath != "" {
		st, err := store.NewSQLiteStore(historyPath)
		if err != nil {
			logger.Warn("Session history disabled", "path", historyPath, "error", err)
		} else {
			defer st.Close()
			opts.History = st
		}
	}

	logger.Debug("tqenc starting", "version", tqenc.Version, "config", cfgPath, "format", format)

	_, err = session.RunFile(c.Context, format, opts)
	if errors.Is(err, session.ErrInvalidOptions) {
		return usageError(c, "%v", err)
	}
	return err
}

func encoderOptions(cfg *config.Config) encoder.Options {
	o := encoder.DefaultOptions()
	o.Range = ratecontrol.Range{Min: cfg.MinQI, Max: cfg.MaxQI}
	o.MaxTrials = cfg.MaxTrials
	o.Tolerance = cfg.Tolerance
	o.SeedWindow = cfg.SeedWindow
	o.KeyframeInterval = cfg.KeyframeInterval
	o.GoldenInterval = cfg.GoldenInterval
	o.FailOnUnreachable = cfg.FailOnUnreachable
	return o
}
