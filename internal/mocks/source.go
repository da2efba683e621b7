package mocks

import (
	"io"

	"github.com/gwlsn/tqenc/internal/raster"
)

// Source is a rewindable in-memory frame source.
type Source struct {
	W, H   int
	Frames []*raster.Raster

	// OnRewind, if set, runs after each rewind and may replace Frames to
	// simulate content that changes between traversals.
	OnRewind func(s *Source)

	pos int

	// Recorded calls for verification
	NextCalls   int
	RewindCalls int
	Closed      bool
}

// NewSource returns a source over frames of size w x h.
func NewSource(w, h int, frames []*raster.Raster) *Source {
	return &Source{W: w, H: h, Frames: frames}
}

func (s *Source) Width() int  { return s.W }
func (s *Source) Height() int { return s.H }

func (s *Source) Next() (*raster.Raster, error) {
	s.NextCalls++
	if s.pos >= len(s.Frames) {
		return nil, io.EOF
	}
	f := s.Frames[s.pos]
	s.pos++
	return f, nil
}

func (s *Source) Rewind() error {
	s.RewindCalls++
	s.pos = 0
	if s.OnRewind != nil {
		s.OnRewind(s)
	}
	return nil
}

func (s *Source) Close() error {
	s.Closed = true
	return nil
}

// StreamSource is a forward-only source, like a live stdin pipe.
type StreamSource struct {
	W, H   int
	Frames []*raster.Raster
	pos    int
}

func (s *StreamSource) Width() int  { return s.W }
func (s *StreamSource) Height() int { return s.H }

func (s *StreamSource) Next() (*raster.Raster, error) {
	if s.pos >= len(s.Frames) {
		return nil, io.EOF
	}
	f := s.Frames[s.pos]
	s.pos++
	return f, nil
}

func (s *StreamSource) Close() error { return nil }
