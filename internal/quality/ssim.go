// Package quality scores a reconstruction against its source.
package quality

import (
	"context"
	"fmt"

	"golang.org/x/sync/errgroup"

	"github.com/gwlsn/tqenc/internal/raster"
)

const (
	window = 8
	stride = 4

	c1 = (0.01 * 255) * (0.01 * 255)
	c2 = (0.03 * 255) * (0.03 * 255)
)

// planeWeights combine per-plane SSIM into one score: luma dominates.
var planeWeights = [3]float64{0.8, 0.1, 0.1}

// Evaluator computes a similarity score in [0,1]; 1 means identical.
type Evaluator interface {
	Score(ctx context.Context, reference, distorted *raster.Raster) (float64, error)
}

// SSIM is the default evaluator.
type SSIM struct{}

// NewSSIM returns an SSIM evaluator.
func NewSSIM() *SSIM {
	return &SSIM{}
}

// Score calculates the weighted SSIM between reference and distorted.
// Planes are scored concurrently and combined in a fixed order, so the
// result is deterministic.
func (s *SSIM) Score(ctx context.Context, reference, distorted *raster.Raster) (float64, error) {
	if !reference.Valid() || !distorted.Valid() {
		return 0, fmt.Errorf("ssim: invalid raster")
	}
	if !distorted.SameSize(reference.Width, reference.Height) {
		return 0, fmt.Errorf("ssim: size mismatch: %dx%d vs %dx%d",
			reference.Width, reference.Height, distorted.Width, distorted.Height)
	}

	var scores [3]float64
	g, _ := errgroup.WithContext(ctx)
	for p := 0; p < 3; p++ {
		g.Go(func() error {
			refPix, w, h := reference.Plane(p)
			disPix, _, _ := distorted.Plane(p)
			scores[p] = PlaneSSIM(refPix, disPix, w, h)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return 0, err
	}
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	var total float64
	for p, sc := range scores {
		total += planeWeights[p] * sc
	}
	return clamp01(total), nil
}

// PlaneSSIM returns the mean SSIM of one plane over 8x8 windows placed every
// 4 pixels, plus a final row and column of windows flush with the far edges.
// Planes smaller than a window are scored as a single window; an empty plane
// scores 1.
func PlaneSSIM(a, b []byte, w, h int) float64 {
	if w <= 0 || h <= 0 {
		return 1
	}
	ww, wh := min(window, w), min(window, h)
	xs, ys := windowStarts(w, ww), windowStarts(h, wh)

	var sum float64
	for _, y := range ys {
		for _, x := range xs {
			sum += windowSSIM(a, b, w, x, y, ww, wh)
		}
	}
	return sum / float64(len(xs)*len(ys))
}

// windowStarts lists window offsets along a dimension of size n. The last
// window always ends at n.
func windowStarts(n, size int) []int {
	var starts []int
	for p := 0; p+size <= n; p += stride {
		starts = append(starts, p)
	}
	if last := n - size; starts[len(starts)-1] != last {
		starts = append(starts, last)
	}
	return starts
}

func windowSSIM(a, b []byte, w, x0, y0, ww, wh int) float64 {
	var sa, sb, saa, sbb, sab float64
	for y := y0; y < y0+wh; y++ {
		row := y * w
		for x := x0; x < x0+ww; x++ {
			va := float64(a[row+x])
			vb := float64(b[row+x])
			sa += va
			sb += vb
			saa += va * va
			sbb += vb * vb
			sab += va * vb
		}
	}
	n := float64(ww * wh)
	ma, mb := sa/n, sb/n
	va := saa/n - ma*ma
	vb := sbb/n - mb*mb
	cov := sab/n - ma*mb

	return ((2*ma*mb + c1) * (2*cov + c2)) / ((ma*ma + mb*mb + c1) * (va + vb + c2))
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
