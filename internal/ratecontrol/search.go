// Package ratecontrol searches the quantizer range for the most compressed
// setting that still meets a target similarity score.
package ratecontrol

import (
	"errors"
	"fmt"
	"log/slog"
	"math"

	"github.com/gwlsn/tqenc/internal/logger"
)

const (
	// DefaultMaxTrials caps codec invocations per frame. Scores are noisy near
	// the boundary and each trial is a full frame encode.
	DefaultMaxTrials = 8

	// DefaultTolerance is the score margin above target accepted on the first
	// trial. It widens by the same amount on every further trial.
	DefaultTolerance = 0.002
)

// ErrInvalidRange is returned when the search bounds are empty.
var ErrInvalidRange = errors.New("invalid quantizer range")

// Range defines the search bounds for the quantization index.
type Range struct {
	Min int // Finest quantizer (best quality)
	Max int // Coarsest quantizer (most compression)
}

// Seed narrows the search around a previously chosen index.
type Seed struct {
	QI     int     // Index chosen for the same frame on an earlier pass
	Score  float64 // Score achieved at QI on that pass
	Window int     // Half-width of the initial bounds around QI
}

// Params configures one search.
type Params struct {
	Range     Range
	Target    float64
	Tolerance float64
	MaxTrials int
	Seed      *Seed
}

// Attempt is one trial: a quantizer index and the score it produced.
type Attempt struct {
	QI    int
	Score float64
}

// Result holds the outcome of a search.
type Result struct {
	QI        int       // Chosen index
	Score     float64   // Score achieved at QI
	Trials    int       // Number of indices tested
	Converged bool      // True if Score meets the target
	Attempts  []Attempt // Every trial in the order it ran
}

// ScoreFunc encodes at qi and returns the resulting similarity score.
// Calls are made in a deterministic order and never repeat an index.
type ScoreFunc func(qi int) (float64, error)

// Search finds the highest qi whose score meets p.Target via interpolated
// binary search: start at the seed or the midpoint, keep every attempt, and
// interpolate between the tightest passing and failing neighbours.
//
// When no tested index meets the target within p.MaxTrials, the attempt with
// the highest score is returned with Converged set to false.
func Search(p Params, score ScoreFunc) (*Result, error) {
	hardMin, hardMax := p.Range.Min, p.Range.Max
	if hardMin > hardMax {
		return nil, fmt.Errorf("%w: min %d > max %d", ErrInvalidRange, hardMin, hardMax)
	}
	maxTrials := p.MaxTrials
	if maxTrials < 1 {
		maxTrials = DefaultMaxTrials
	}
	tol := p.Tolerance
	if tol <= 0 {
		tol = DefaultTolerance
	}

	minQ, maxQ := hardMin, hardMax
	qi := (minQ + maxQ) / 2
	if p.Seed != nil {
		qi = clampInt(p.Seed.QI, hardMin, hardMax)
		if p.Seed.Window > 0 {
			minQ = max(hardMin, qi-p.Seed.Window)
			maxQ = min(hardMax, qi+p.Seed.Window)
		}
	}

	attempts := make([]Attempt, 0, maxTrials)
	target := p.Target

	for run := 1; run <= maxTrials; run++ {
		s, err := score(qi)
		if err != nil {
			return nil, err
		}
		attempts = append(attempts, Attempt{QI: qi, Score: s})

		if logger.Enabled(slog.LevelDebug) {
			logger.Debug("Rate control trial",
				"run", run,
				"qi", qi,
				"score", fmt.Sprintf("%.5f", s),
				"target", fmt.Sprintf("%.5f", target))
		}

		// An earlier pass already settled this frame: reproducing its score
		// exactly means the state and content are unchanged.
		if run == 1 && p.Seed != nil && s == p.Seed.Score && qi == p.Seed.QI {
			return finish(qi, s, attempts, target), nil
		}

		if s >= target {
			// Within tolerance of target: good enough
			if s < target+tol*float64(run) {
				return finish(qi, s, attempts, target), nil
			}

			// Failing attempt with the smallest qi above this one
			upper := findUpperFailing(attempts, qi, target)

			if upper != nil && upper.QI == qi+1 {
				// Adjacent - can't compress further
				return finish(qi, s, attempts, target), nil
			}

			if upper == nil && qi >= maxQ && maxQ < hardMax {
				// Passing at the top of the seed window; open it up
				maxQ = hardMax
			}

			switch {
			case upper != nil:
				qi = lerpQI(target, upper.QI, upper.Score, qi, s)
			case run == 1 && qi+1 < maxQ:
				// First iteration, no upper bound yet: 40/60 cut toward compression
				qi = int(math.Round(float64(qi)*0.4 + float64(maxQ)*0.6))
			case qi >= maxQ:
				// Already at the coarsest index we may use and it passes
				return finish(qi, s, attempts, target), nil
			default:
				qi = maxQ
			}
		} else {
			if qi <= minQ {
				if minQ > hardMin {
					// The seed window was too narrow; open it up
					minQ = hardMin
				} else {
					// Even the finest index fails
					break
				}
			}

			// Passing attempt with the largest qi below this one
			lower := findLowerPassing(attempts, qi, target)

			if lower != nil && lower.QI+1 == qi {
				// Adjacent - lower bound is the best we can do
				return finish(lower.QI, lower.Score, attempts, target), nil
			}

			switch {
			case lower != nil:
				qi = lerpQI(target, qi, s, lower.QI, lower.Score)
			case run == 1 && qi > minQ+1:
				// First iteration, no lower bound yet: 40/60 cut toward quality
				qi = int(math.Round(float64(qi)*0.4 + float64(minQ)*0.6))
			default:
				qi = minQ
			}
		}

		qi = clampInt(qi, minQ, maxQ)

		// Skip if we've already tested this index
		if hasAttempt(attempts, qi) {
			break
		}
	}

	if best := findBestPassing(attempts, target); best != nil {
		return finish(best.QI, best.Score, attempts, target), nil
	}
	best := findHighestScore(attempts)
	return finish(best.QI, best.Score, attempts, target), nil
}

func finish(qi int, score float64, attempts []Attempt, target float64) *Result {
	return &Result{
		QI:        qi,
		Score:     score,
		Trials:    len(attempts),
		Converged: score >= target,
		Attempts:  attempts,
	}
}

// findUpperFailing finds the failing attempt with the smallest qi greater than qi
func findUpperFailing(attempts []Attempt, qi int, target float64) *Attempt {
	var best *Attempt
	for i := range attempts {
		a := &attempts[i]
		if a.QI > qi && a.Score < target && (best == nil || a.QI < best.QI) {
			best = a
		}
	}
	return best
}

// findLowerPassing finds the passing attempt with the largest qi less than qi
func findLowerPassing(attempts []Attempt, qi int, target float64) *Attempt {
	var best *Attempt
	for i := range attempts {
		a := &attempts[i]
		if a.QI < qi && a.Score >= target && (best == nil || a.QI > best.QI) {
			best = a
		}
	}
	return best
}

// hasAttempt checks if an index has already been tested
func hasAttempt(attempts []Attempt, qi int) bool {
	for _, a := range attempts {
		if a.QI == qi {
			return true
		}
	}
	return false
}

// findBestPassing finds the attempt with the highest qi (most compression) that meets target
func findBestPassing(attempts []Attempt, target float64) *Attempt {
	var best *Attempt
	for i := range attempts {
		a := &attempts[i]
		if a.Score >= target && (best == nil || a.QI > best.QI) {
			best = a
		}
	}
	return best
}

// findHighestScore returns the attempt with the highest score, preferring the
// lower index on ties. attempts must be non-empty.
func findHighestScore(attempts []Attempt) *Attempt {
	best := &attempts[0]
	for i := 1; i < len(attempts); i++ {
		a := &attempts[i]
		if a.Score > best.Score || (a.Score == best.Score && a.QI < best.QI) {
			best = a
		}
	}
	return best
}

// lerpQI interpolates to find the index that should produce the target score.
// worseQI has score < target, betterQI has score >= target.
// Returns an index clamped to strictly between the two inputs.
func lerpQI(target float64, worseQI int, worseScore float64, betterQI int, betterScore float64) int {
	scoreDiff := betterScore - worseScore
	if scoreDiff <= 0 {
		return (worseQI + betterQI) / 2
	}

	// Linear interpolation: where does target fall proportionally?
	factor := (target - worseScore) / scoreDiff
	qiDiff := worseQI - betterQI
	lerp := float64(worseQI) - float64(qiDiff)*factor

	// Clamp to strictly between bounds to guarantee progress
	result := int(math.Round(lerp))
	if result <= betterQI {
		result = betterQI + 1
	}
	if result >= worseQI {
		result = worseQI - 1
	}
	return result
}

func clampInt(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
