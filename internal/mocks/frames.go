// Package mocks provides deterministic frames and hand-written test doubles.
package mocks

import "github.com/gwlsn/tqenc/internal/raster"

// Frame returns synthetic frame i of a w x h clip: a drifting gradient with a
// checkerboard texture, so fidelity varies with the quantizer.
func Frame(w, h, i int) *raster.Raster {
	r := raster.New(w, h)
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			check := ((x/4 + y/4 + i) % 2) * 48
			r.Y[y*w+x] = byte((x*3 + y*2 + i*5 + check) & 0xff)
		}
	}
	cw, ch := r.ChromaWidth(), r.ChromaHeight()
	for y := 0; y < ch; y++ {
		for x := 0; x < cw; x++ {
			r.U[y*cw+x] = byte((x*4 + i*3 + 64) & 0xff)
			r.V[y*cw+x] = byte((y*4 + x + 128) & 0xff)
		}
	}
	return r
}

// Frames returns frames 0..n-1 of the synthetic clip.
func Frames(w, h, n int) []*raster.Raster {
	out := make([]*raster.Raster, n)
	for i := range out {
		out[i] = Frame(w, h, i)
	}
	return out
}

// Flat returns a uniform frame with luma v and neutral chroma.
func Flat(w, h int, v byte) *raster.Raster {
	r := raster.New(w, h)
	for i := range r.Y {
		r.Y[i] = v
	}
	for i := range r.U {
		r.U[i] = 128
		r.V[i] = 128
	}
	return r
}
