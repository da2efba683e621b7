// Package twopass collects per-frame statistics on a first traversal and
// turns them into search seeds for the second.
package twopass

import (
	"errors"
	"fmt"
	"math"

	"github.com/gwlsn/tqenc/internal/raster"
)

// ErrContentMismatch is returned when the second traversal does not line up
// with the statistics recorded on the first.
var ErrContentMismatch = errors.New("content mismatch between passes")

// FrameStats is the first-pass record for one frame.
type FrameStats struct {
	Index      uint64  // Absolute frame index within the session
	QI         int     // Quantization index chosen
	Score      float64 // Similarity achieved at QI
	Trials     int     // Codec invocations spent on the frame
	Converged  bool    // Score met the target
	Complexity float64 // Mean absolute luma deviation from the prediction reference
	Bytes      int     // Compressed payload size
}

// Collector accumulates statistics in frame order.
type Collector struct {
	stats []FrameStats
}

// NewCollector creates an empty collector.
func NewCollector() *Collector {
	return &Collector{}
}

// Add appends a record. Records must arrive with consecutive indices.
func (c *Collector) Add(s FrameStats) error {
	if n := len(c.stats); n > 0 {
		if want := c.stats[n-1].Index + 1; s.Index != want {
			return fmt.Errorf("frame stats out of order: got index %d, want %d", s.Index, want)
		}
	}
	c.stats = append(c.stats, s)
	return nil
}

// Len returns the number of records collected.
func (c *Collector) Len() int {
	return len(c.stats)
}

// Stats returns a copy of the collected records.
func (c *Collector) Stats() []FrameStats {
	out := make([]FrameStats, len(c.stats))
	copy(out, c.stats)
	return out
}

// Plan answers seed lookups during the second traversal.
type Plan struct {
	stats []FrameStats
}

// NewPlan validates that stats are contiguous and builds a plan over them.
func NewPlan(stats []FrameStats) (*Plan, error) {
	for i := 1; i < len(stats); i++ {
		if stats[i].Index != stats[i-1].Index+1 {
			return nil, fmt.Errorf("frame stats not contiguous at position %d (index %d after %d)",
				i, stats[i].Index, stats[i-1].Index)
		}
	}
	return &Plan{stats: stats}, nil
}

// Len returns the number of frames the plan covers.
func (p *Plan) Len() int {
	return len(p.stats)
}

// Has reports whether the plan holds a record for index.
func (p *Plan) Has(index uint64) bool {
	if len(p.stats) == 0 {
		return false
	}
	first := p.stats[0].Index
	return index >= first && index-first < uint64(len(p.stats))
}

// Seed returns the first-pass record for index.
func (p *Plan) Seed(index uint64) (FrameStats, error) {
	if !p.Has(index) {
		return FrameStats{}, fmt.Errorf("%w: no first-pass record for frame %d (have %d frames)",
			ErrContentMismatch, index, len(p.stats))
	}
	return p.stats[index-p.stats[0].Index], nil
}

// End returns the index one past the last record.
func (p *Plan) End() uint64 {
	if len(p.stats) == 0 {
		return 0
	}
	return p.stats[len(p.stats)-1].Index + 1
}

// CheckComplete verifies that a traversal ending at next consumed every record.
func (p *Plan) CheckComplete(next uint64) error {
	if len(p.stats) == 0 {
		return nil
	}
	if next != p.End() {
		return fmt.Errorf("%w: second pass ended at frame %d, first pass ended at %d",
			ErrContentMismatch, next, p.End())
	}
	return nil
}

// Complexity measures how hard src is to predict: the mean absolute luma
// difference from ref, or from the plane mean when there is no reference.
func Complexity(src, ref *raster.Raster) float64 {
	if src == nil || len(src.Y) == 0 {
		return 0
	}
	if ref == nil || !ref.SameSize(src.Width, src.Height) {
		var sum int
		for _, v := range src.Y {
			sum += int(v)
		}
		mean := float64(sum) / float64(len(src.Y))
		var dev float64
		for _, v := range src.Y {
			dev += math.Abs(float64(v) - mean)
		}
		return dev / float64(len(src.Y))
	}
	var sad int
	for i, v := range src.Y {
		d := int(v) - int(ref.Y[i])
		if d < 0 {
			d = -d
		}
		sad += d
	}
	return float64(sad) / float64(len(src.Y))
}

// Summary aggregates a set of records.
type Summary struct {
	Frames      int
	Bytes       int64
	Trials      int
	MeanQI      float64
	MeanScore   float64
	Unconverged int
}

// Summarize aggregates stats.
func Summarize(stats []FrameStats) Summary {
	s := Summary{Frames: len(stats)}
	if len(stats) == 0 {
		return s
	}
	var qi, score float64
	for _, fs := range stats {
		s.Bytes += int64(fs.Bytes)
		s.Trials += fs.Trials
		qi += float64(fs.QI)
		score += fs.Score
		if !fs.Converged {
			s.Unconverged++
		}
	}
	s.MeanQI = qi / float64(len(stats))
	s.MeanScore = score / float64(len(stats))
	return s
}
