// Package raster holds the decoded 8-bit 4:2:0 planar frame shared by sources,
// the codec and the quality evaluator.
package raster

import (
	"bytes"
	"fmt"
)

// Raster is one decoded frame. Planes are never modified after construction;
// producers build a fresh Raster per frame and consumers treat it as read-only.
type Raster struct {
	Width  int
	Height int
	Y      []byte
	U      []byte
	V      []byte
}

// ChromaSize returns the dimensions of the U and V planes for a luma size.
func ChromaSize(width, height int) (int, int) {
	return (width + 1) / 2, (height + 1) / 2
}

// FrameSize returns the number of bytes in one 4:2:0 frame.
func FrameSize(width, height int) int {
	cw, ch := ChromaSize(width, height)
	return width*height + 2*cw*ch
}

// New allocates a zeroed raster; callers fill the planes.
func New(width, height int) *Raster {
	cw, ch := ChromaSize(width, height)
	return &Raster{
		Width:  width,
		Height: height,
		Y:      make([]byte, width*height),
		U:      make([]byte, cw*ch),
		V:      make([]byte, cw*ch),
	}
}

// FromPlanes builds a raster from a packed Y, U, V buffer as found in raw
// 4:2:0 streams. The buffer is copied.
func FromPlanes(width, height int, data []byte) (*Raster, error) {
	if width <= 0 || height <= 0 {
		return nil, fmt.Errorf("invalid raster size %dx%d", width, height)
	}
	if len(data) != FrameSize(width, height) {
		return nil, fmt.Errorf("raster buffer is %d bytes, want %d for %dx%d",
			len(data), FrameSize(width, height), width, height)
	}
	r := New(width, height)
	n := copy(r.Y, data)
	n += copy(r.U, data[n:])
	copy(r.V, data[n:])
	return r, nil
}

// ChromaWidth returns the width of the U and V planes.
func (r *Raster) ChromaWidth() int {
	w, _ := ChromaSize(r.Width, r.Height)
	return w
}

// ChromaHeight returns the height of the U and V planes.
func (r *Raster) ChromaHeight() int {
	_, h := ChromaSize(r.Width, r.Height)
	return h
}

// Plane returns plane i (0=Y, 1=U, 2=V) with its stride and height.
func (r *Raster) Plane(i int) (pix []byte, width, height int) {
	switch i {
	case 0:
		return r.Y, r.Width, r.Height
	case 1:
		return r.U, r.ChromaWidth(), r.ChromaHeight()
	default:
		return r.V, r.ChromaWidth(), r.ChromaHeight()
	}
}

// Valid reports whether plane lengths agree with the declared dimensions.
func (r *Raster) Valid() bool {
	if r == nil || r.Width <= 0 || r.Height <= 0 {
		return false
	}
	cw, ch := ChromaSize(r.Width, r.Height)
	return len(r.Y) == r.Width*r.Height && len(r.U) == cw*ch && len(r.V) == cw*ch
}

// SameSize reports whether r has the given luma dimensions.
func (r *Raster) SameSize(width, height int) bool {
	return r != nil && r.Width == width && r.Height == height
}

// Clone returns a deep copy.
func (r *Raster) Clone() *Raster {
	if r == nil {
		return nil
	}
	return &Raster{
		Width:  r.Width,
		Height: r.Height,
		Y:      bytes.Clone(r.Y),
		U:      bytes.Clone(r.U),
		V:      bytes.Clone(r.V),
	}
}

// Equal reports pixel-exact equality. Two nil rasters are equal.
func (r *Raster) Equal(o *Raster) bool {
	if r == nil || o == nil {
		return r == nil && o == nil
	}
	return r.Width == o.Width && r.Height == o.Height &&
		bytes.Equal(r.Y, o.Y) && bytes.Equal(r.U, o.U) && bytes.Equal(r.V, o.V)
}

// Bytes returns the packed Y, U, V planes.
func (r *Raster) Bytes() []byte {
	out := make([]byte, 0, len(r.Y)+len(r.U)+len(r.V))
	out = append(out, r.Y...)
	out = append(out, r.U...)
	return append(out, r.V...)
}
