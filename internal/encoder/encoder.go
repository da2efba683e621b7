// Package encoder runs the per-frame rate-control loop against an explicit
// encoder state.
package encoder

import (
	"context"
	"fmt"

	"github.com/gwlsn/tqenc/internal/codec"
	"github.com/gwlsn/tqenc/internal/logger"
	"github.com/gwlsn/tqenc/internal/quality"
	"github.com/gwlsn/tqenc/internal/ratecontrol"
	"github.com/gwlsn/tqenc/internal/raster"
	"github.com/gwlsn/tqenc/internal/twopass"
)

// FrameCodec codes one frame without side effects.
type FrameCodec interface {
	Encode(in *codec.Input) (*codec.Output, error)
}

// Mode selects how a frame's quantizer is chosen: Forced or Targeted.
type Mode interface {
	mode()
}

// Forced codes the frame at a fixed quantizer. No search runs.
type Forced struct {
	QI int
}

// Targeted searches for the coarsest quantizer whose score meets Score.
type Targeted struct {
	Score float64
}

func (Forced) mode()   {}
func (Targeted) mode() {}

// Options tunes the rate-control loop.
type Options struct {
	Range             ratecontrol.Range
	MaxTrials         int
	Tolerance         float64
	SeedWindow        int
	KeyframeInterval  int  // 0: only the first frame is a key frame
	GoldenInterval    int  // 0: golden refreshes on key frames only
	FailOnUnreachable bool // abort instead of accepting the best effort
}

// DefaultOptions returns the options used when no configuration is given.
func DefaultOptions() Options {
	return Options{
		Range:            ratecontrol.Range{Min: codec.MinQI, Max: codec.MaxQI},
		MaxTrials:        ratecontrol.DefaultMaxTrials,
		Tolerance:        ratecontrol.DefaultTolerance,
		SeedWindow:       8,
		KeyframeInterval: 0,
		GoldenInterval:   16,
	}
}

// FrameResult reports what was committed for one frame.
type FrameResult struct {
	Index      uint64
	QI         int
	Score      float64
	Trials     int
	Converged  bool
	Searched   bool // false for Forced frames
	Seeded     bool // search started from first-pass statistics
	Key        bool
	Complexity float64
	Payload    []byte
}

// Encoder owns a State and advances it one frame per Encode call.
type Encoder struct {
	state     *State
	codec     FrameCodec
	eval      quality.Evaluator
	opts      Options
	collector *twopass.Collector
	plan      *twopass.Plan
}

// New creates an encoder that mutates state as frames are committed.
func New(state *State, c FrameCodec, eval quality.Evaluator, opts Options) *Encoder {
	if opts.MaxTrials <= 0 {
		opts.MaxTrials = ratecontrol.DefaultMaxTrials
	}
	if opts.Tolerance <= 0 {
		opts.Tolerance = ratecontrol.DefaultTolerance
	}
	return &Encoder{state: state, codec: c, eval: eval, opts: opts}
}

// State returns the live state.
func (e *Encoder) State() *State {
	return e.state
}

// Collect records a FrameStats entry into c for every committed frame.
// Pass nil to stop collecting.
func (e *Encoder) Collect(c *twopass.Collector) {
	e.collector = c
}

// UsePlan seeds targeted searches from first-pass statistics.
// Pass nil to search unseeded.
func (e *Encoder) UsePlan(p *twopass.Plan) {
	e.plan = p
}

type trial struct {
	out   *codec.Output
	score float64
}

// Encode codes src as the next frame of the session and commits the result.
// Nothing is committed when an error is returned.
func (e *Encoder) Encode(ctx context.Context, src *raster.Raster, mode Mode) (*FrameResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s := e.state
	if !src.Valid() {
		return nil, fmt.Errorf("%w: malformed raster", ErrInvalidInput)
	}
	if !src.SameSize(s.Width, s.Height) {
		return nil, dimensionError(src.Width, src.Height, s.Width, s.Height)
	}

	index := s.FrameCount
	key := s.Last == nil ||
		(e.opts.KeyframeInterval > 0 && index%uint64(e.opts.KeyframeInterval) == 0)
	refreshGolden := e.opts.GoldenInterval > 0 && index%uint64(e.opts.GoldenInterval) == 0

	trials := make(map[int]*trial)
	run := func(qi int) (*trial, error) {
		if t, ok := trials[qi]; ok {
			return t, nil
		}
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		out, err := e.codec.Encode(&codec.Input{
			Source:        src,
			QI:            qi,
			Key:           key,
			RefreshGolden: refreshGolden,
			Refs:          s.refs(),
			Tables:        s.Tables,
		})
		if err != nil {
			return nil, fmt.Errorf("frame %d qi %d: %w", index, qi, err)
		}
		score, err := e.eval.Score(ctx, src, out.Recon)
		if err != nil {
			return nil, fmt.Errorf("frame %d qi %d: score: %w", index, qi, err)
		}
		t := &trial{out: out, score: score}
		trials[qi] = t
		return t, nil
	}

	res := &FrameResult{Index: index}
	var chosen *trial

	switch m := mode.(type) {
	case Forced:
		if !codec.ValidQI(m.QI) {
			return nil, fmt.Errorf("%w: forced qi %d outside [%d, %d]", ErrInvalidInput, m.QI, codec.MinQI, codec.MaxQI)
		}
		t, err := run(m.QI)
		if err != nil {
			return nil, err
		}
		chosen = t
		res.QI = m.QI
		res.Trials = 1
		res.Converged = true

	case Targeted:
		if !(m.Score > 0 && m.Score <= 1) {
			return nil, fmt.Errorf("%w: target score %v outside (0, 1]", ErrInvalidInput, m.Score)
		}
		params := ratecontrol.Params{
			Range:     e.opts.Range,
			Target:    m.Score,
			Tolerance: e.opts.Tolerance,
			MaxTrials: e.opts.MaxTrials,
		}
		if e.plan != nil {
			fs, err := e.plan.Seed(index)
			if err != nil {
				return nil, err
			}
			params.Seed = &ratecontrol.Seed{QI: fs.QI, Score: fs.Score, Window: e.opts.SeedWindow}
			res.Seeded = true
		}

		sr, err := ratecontrol.Search(params, func(qi int) (float64, error) {
			t, err := run(qi)
			if err != nil {
				return 0, err
			}
			return t.score, nil
		})
		if err != nil {
			return nil, err
		}
		if !sr.Converged {
			if e.opts.FailOnUnreachable {
				return nil, unreachableError(index, sr.Score, m.Score)
			}
			logger.Warn("Target score not reached, using best effort",
				"frame", index,
				"qi", sr.QI,
				"score", fmt.Sprintf("%.5f", sr.Score),
				"target", fmt.Sprintf("%.5f", m.Score))
		}
		chosen = trials[sr.QI]
		res.QI = sr.QI
		res.Trials = sr.Trials
		res.Converged = sr.Converged
		res.Searched = true

	default:
		return nil, fmt.Errorf("%w: unknown mode %T", ErrInvalidInput, mode)
	}

	res.Score = chosen.score
	res.Key = chosen.out.Key
	res.Payload = chosen.out.Payload
	res.Complexity = twopass.Complexity(src, s.Last)

	if e.collector != nil {
		if err := e.collector.Add(twopass.FrameStats{
			Index:      index,
			QI:         res.QI,
			Score:      res.Score,
			Trials:     res.Trials,
			Converged:  res.Converged,
			Complexity: res.Complexity,
			Bytes:      len(res.Payload),
		}); err != nil {
			return nil, err
		}
	}

	e.commit(chosen.out)
	return res, nil
}

func (e *Encoder) commit(out *codec.Output) {
	s := e.state
	s.Last = out.Recon
	if out.RefreshGolden {
		s.Golden = out.Recon
	}
	s.Tables = out.Tables
	s.FrameCount++
}
