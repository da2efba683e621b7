package encoder

import (
	"github.com/gwlsn/tqenc/internal/codec"
	"github.com/gwlsn/tqenc/internal/raster"
	"github.com/gwlsn/tqenc/internal/twopass"
)

// State is everything that determines how the next frame is coded.
//
// Destination and TwoPass are session parameters supplied at construction;
// they are not checkpointed and Equal ignores them. Every other field is
// part of the checkpoint.
type State struct {
	Destination string
	TwoPass     bool

	Width      int
	Height     int
	FrameCount uint64

	// Reconstructed reference frames. Nil until the first frame is committed.
	Last   *raster.Raster
	Golden *raster.Raster

	Tables codec.Tables

	// First-pass statistics, present between the passes and during pass two.
	Stats []twopass.FrameStats
}

// NewState returns a fresh state for a session of the given frame size.
func NewState(destination string, width, height int, twoPass bool) *State {
	return &State{
		Destination: destination,
		TwoPass:     twoPass,
		Width:       width,
		Height:      height,
		Tables:      codec.NewTables(),
	}
}

// Clone returns a deep copy.
func (s *State) Clone() *State {
	c := *s
	c.Last = s.Last.Clone()
	c.Golden = s.Golden.Clone()
	if s.Stats != nil {
		c.Stats = make([]twopass.FrameStats, len(s.Stats))
		copy(c.Stats, s.Stats)
	}
	return &c
}

// Equal reports whether two states would code the same future frames
// identically.
func (s *State) Equal(o *State) bool {
	if s == nil || o == nil {
		return s == nil && o == nil
	}
	if s.Width != o.Width || s.Height != o.Height || s.FrameCount != o.FrameCount {
		return false
	}
	if !s.Last.Equal(o.Last) || !s.Golden.Equal(o.Golden) {
		return false
	}
	if s.Tables != o.Tables {
		return false
	}
	if len(s.Stats) != len(o.Stats) {
		return false
	}
	for i := range s.Stats {
		if s.Stats[i] != o.Stats[i] {
			return false
		}
	}
	return true
}

// HasPlanFor reports whether the state holds first-pass statistics covering
// the next frame, which means pass one already ran.
func (s *State) HasPlanFor(index uint64) bool {
	if len(s.Stats) == 0 {
		return false
	}
	first := s.Stats[0].Index
	return index >= first && index-first < uint64(len(s.Stats))
}

func (s *State) refs() codec.References {
	return codec.References{Last: s.Last, Golden: s.Golden}
}
