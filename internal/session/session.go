// Package session drives one invocation of the encoder: it loads or creates
// the encoder state, runs one or two traversals of the frame source, writes
// the output container and persists the state.
package session

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/gwlsn/tqenc/internal/checkpoint"
	"github.com/gwlsn/tqenc/internal/codec"
	"github.com/gwlsn/tqenc/internal/container"
	"github.com/gwlsn/tqenc/internal/encoder"
	"github.com/gwlsn/tqenc/internal/logger"
	"github.com/gwlsn/tqenc/internal/quality"
	"github.com/gwlsn/tqenc/internal/source"
	"github.com/gwlsn/tqenc/internal/store"
	"github.com/gwlsn/tqenc/internal/twopass"
)

// ErrInvalidOptions is returned when the options cannot describe a session.
var ErrInvalidOptions = errors.New("invalid session options")

// History pass numbers.
const (
	passSingle = 0
	passFirst  = 1
	passSecond = 2
)

// Options describes one session.
type Options struct {
	InputPath  string
	OutputPath string
	Mode       encoder.Mode

	TwoPass       bool
	FirstPassOnly bool // stop after the first pass and save its statistics

	InputState  string // checkpoint to resume from
	OutputState string // checkpoint to write when the session ends

	TempDir string
	Encoder encoder.Options

	// Optional overrides. Nil selects the built-in codec and SSIM.
	Codec     encoder.FrameCodec
	Evaluator quality.Evaluator

	History  store.Store // nil disables history
	Progress io.Writer   // nil disables progress lines
}

func (o *Options) validate() error {
	if o.Mode == nil {
		return fmt.Errorf("%w: no rate-control mode", ErrInvalidOptions)
	}
	if o.OutputPath == "" {
		return fmt.Errorf("%w: no output path", ErrInvalidOptions)
	}
	if o.FirstPassOnly {
		if !o.TwoPass {
			return fmt.Errorf("%w: first-pass-only requires two-pass", ErrInvalidOptions)
		}
		if o.OutputState == "" {
			return fmt.Errorf("%w: first-pass-only requires an output state", ErrInvalidOptions)
		}
	}
	return nil
}

// Result summarizes a finished session.
type Result struct {
	SessionID       string
	Frames          int // frames written to the output
	FirstPassFrames int
	Summary         twopass.Summary
	State           *encoder.State
	OutputPath      string // empty when no output was written
	Duration        time.Duration
}

// RunFile opens the input named by opts.InputPath and runs the session.
func RunFile(ctx context.Context, format source.Format, opts Options) (*Result, error) {
	if err := opts.validate(); err != nil {
		return nil, err
	}
	src, err := source.Open(format, opts.InputPath)
	if err != nil {
		return nil, err
	}
	defer src.Close()
	return Run(ctx, src, opts)
}

// Run encodes every frame src yields. The output file only appears once the
// final traversal succeeds.
func Run(ctx context.Context, src source.Source, opts Options) (*Result, error) {
	if err := opts.validate(); err != nil {
		return nil, err
	}
	started := time.Now()

	state, err := loadState(src, &opts)
	if err != nil {
		return nil, err
	}

	c := opts.Codec
	if c == nil {
		c = codec.New()
	}
	eval := opts.Evaluator
	if eval == nil {
		eval = quality.NewSSIM()
	}

	r := &runner{
		src:    src,
		opts:   &opts,
		state:  state,
		enc:    encoder.New(state, c, eval, opts.Encoder),
		report: NewReporter(opts.Progress),
		hist:   startRecorder(opts.History, &opts),
	}

	logger.Info("Starting session",
		"input", opts.InputPath,
		"output", opts.OutputPath,
		"width", state.Width,
		"height", state.Height,
		"two_pass", opts.TwoPass,
		"resume_at", state.FrameCount)

	res, err := r.run(ctx)
	if err != nil {
		r.hist.finish(0, err)
		return nil, err
	}
	res.SessionID = r.hist.sessionID()
	res.State = state
	res.Duration = time.Since(started)
	r.hist.finish(res.Frames, nil)
	return res, nil
}

func loadState(src source.Source, opts *Options) (*encoder.State, error) {
	if opts.InputState == "" {
		return encoder.NewState(opts.OutputPath, src.Width(), src.Height(), opts.TwoPass), nil
	}
	state, err := checkpoint.Read(opts.InputState, opts.OutputPath, opts.TwoPass)
	if err != nil {
		return nil, err
	}
	if state.Width != src.Width() || state.Height != src.Height() {
		return nil, fmt.Errorf("%w: input is %dx%d, checkpoint is %dx%d",
			encoder.ErrInvalidInput, src.Width(), src.Height(), state.Width, state.Height)
	}
	logger.Info("Resuming from checkpoint", "path", opts.InputState, "frames", state.FrameCount)
	return state, nil
}

type runner struct {
	src    source.Source
	opts   *Options
	state  *encoder.State
	enc    *encoder.Encoder
	plan   *twopass.Plan
	report *Reporter
	hist   *recorder
}

func (r *runner) run(ctx context.Context) (*Result, error) {
	res := &Result{}

	if r.opts.TwoPass {
		havePlan := r.state.HasPlanFor(r.state.FrameCount)
		if havePlan {
			logger.Info("Using first-pass statistics from checkpoint", "frames", len(r.state.Stats))
		} else {
			if _, ok := r.src.(source.Rewinder); !ok {
				return nil, fmt.Errorf("%w: two-pass encoding needs a rewindable input", source.ErrUnsupportedFormat)
			}
			n, err := r.firstPass(ctx)
			if err != nil {
				return nil, err
			}
			res.FirstPassFrames = n
		}
		if r.opts.FirstPassOnly {
			if err := checkpoint.Write(r.opts.OutputState, r.state); err != nil {
				return nil, err
			}
			return res, nil
		}
		if !havePlan {
			if err := r.src.(source.Rewinder).Rewind(); err != nil {
				return nil, fmt.Errorf("failed to rewind input: %w", err)
			}
		}
		plan, err := twopass.NewPlan(r.state.Stats)
		if err != nil {
			return nil, err
		}
		if err := r.checkFrameCount(plan); err != nil {
			return nil, err
		}
		r.plan = plan
		r.enc.UsePlan(plan)
	}

	params := container.Params{Width: r.state.Width, Height: r.state.Height}
	if fr, ok := r.src.(source.FrameRater); ok {
		params.RateNum, params.RateDen = fr.FrameRate()
	}
	out, err := container.Create(r.opts.OutputPath, r.opts.TempDir, params)
	if err != nil {
		return nil, err
	}

	pass := passSingle
	if r.opts.TwoPass {
		pass = passSecond
	}
	var stats []twopass.FrameStats
	err = r.traverse(ctx, out, func(n int, fr *encoder.FrameResult) {
		r.report.Frame(n, fr)
		r.hist.frame(pass, fr)
		stats = append(stats, twopass.FrameStats{
			Index:     fr.Index,
			QI:        fr.QI,
			Score:     fr.Score,
			Trials:    fr.Trials,
			Converged: fr.Converged,
			Bytes:     len(fr.Payload),
		})
	})
	if err == nil && r.plan != nil {
		err = r.plan.CheckComplete(r.state.FrameCount)
	}
	if err != nil {
		if aerr := out.Abort(); aerr != nil {
			logger.Warn("Failed to remove partial output", "path", out.TempPath(), "error", aerr)
		}
		return nil, err
	}
	if err := out.Commit(); err != nil {
		return nil, err
	}

	res.Frames = len(stats)
	res.Summary = twopass.Summarize(stats)
	res.OutputPath = out.Path()
	r.report.Summary(res.Summary, out.Path())
	logger.Info("Encode complete",
		"output", out.Path(),
		"frames", res.Summary.Frames,
		"size", humanize.Bytes(uint64(res.Summary.Bytes)),
		"mean_ssim", fmt.Sprintf("%.5f", res.Summary.MeanScore),
		"unconverged", res.Summary.Unconverged)

	if r.opts.OutputState != "" {
		if err := checkpoint.Write(r.opts.OutputState, r.state); err != nil {
			return nil, err
		}
	}
	return res, nil
}

// checkFrameCount rejects an input whose declared frame count disagrees with
// the first-pass statistics before any output is created.
func (r *runner) checkFrameCount(plan *twopass.Plan) error {
	fc, ok := r.src.(source.FrameCounter)
	if !ok {
		return nil
	}
	n := fc.FrameCount()
	if n <= 0 {
		return nil
	}
	if got := r.state.FrameCount + uint64(n); got != plan.End() {
		return fmt.Errorf("%w: input declares %d frames from %d, first pass covers up to %d",
			twopass.ErrContentMismatch, n, r.state.FrameCount, plan.End())
	}
	return nil
}

// firstPass traverses the source without producing output, then restores the
// state it started from with the collected statistics attached.
func (r *runner) firstPass(ctx context.Context) (int, error) {
	snapshot := r.state.Clone()
	collector := twopass.NewCollector()
	r.enc.Collect(collector)
	defer r.enc.Collect(nil)

	sink := &container.Discard{}
	var records []store.FrameRecord
	err := r.traverse(ctx, sink, func(n int, fr *encoder.FrameResult) {
		logger.Debug("First pass frame", "frame", fr.Index, "qi", fr.QI, "score", fr.Score, "trials", fr.Trials)
		records = append(records, frameRecord(passFirst, fr))
	})
	if err != nil {
		return 0, err
	}
	r.hist.frames(records)

	*r.state = *snapshot
	r.state.Stats = collector.Stats()

	s := twopass.Summarize(r.state.Stats)
	logger.Info("First pass complete",
		"frames", s.Frames,
		"mean_qi", fmt.Sprintf("%.1f", s.MeanQI),
		"trials", s.Trials,
		"estimated_size", humanize.Bytes(uint64(sink.Bytes)))
	return collector.Len(), nil
}

// traverse encodes frames until the source is exhausted. Frames are numbered
// for onFrame from zero within this traversal.
func (r *runner) traverse(ctx context.Context, w container.Writer, onFrame func(n int, fr *encoder.FrameResult)) error {
	for n := 0; ; n++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		frame, err := r.src.Next()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("failed to read frame %d: %w", r.state.FrameCount, err)
		}
		if r.plan != nil && !r.plan.Has(r.state.FrameCount) {
			return fmt.Errorf("%w: input has more frames than the first pass (%d)",
				twopass.ErrContentMismatch, r.plan.End())
		}
		fr, err := r.enc.Encode(ctx, frame, r.opts.Mode)
		if err != nil {
			return err
		}
		if err := w.WriteFrame(fr.Payload, fr.Key); err != nil {
			return fmt.Errorf("failed to write frame %d: %w", fr.Index, err)
		}
		onFrame(n, fr)
	}
}
