package codec

import "sort"

// Alphabet is the number of distinct quantized residual symbols. Residuals lie
// in [-255, 255] and are zig-zag mapped onto [0, 510].
const Alphabet = 511

// Planes is the number of colour planes coded per frame.
const Planes = 3

// Tables is the running symbol model carried from frame to frame. Counts are
// decayed by half and topped up with the committed frame's histogram, so the
// model tracks recent content. Tables is a comparable value type.
type Tables struct {
	Counts [Planes][Alphabet]uint32
}

// Histogram accumulates symbol occurrences for one frame.
type Histogram [Planes][Alphabet]uint32

// NewTables returns the model used before the first frame.
func NewTables() Tables {
	return Tables{}
}

// Next returns the model after committing a frame with histogram h.
func (t Tables) Next(h *Histogram) Tables {
	var out Tables
	for p := 0; p < Planes; p++ {
		for s := 0; s < Alphabet; s++ {
			out.Counts[p][s] = t.Counts[p][s]/2 + h[p][s]
		}
	}
	return out
}

// rankOrder returns, for plane p, symbols ordered by descending count with
// ties broken by ascending symbol, plus the inverse mapping.
func (t *Tables) rankOrder(p int) (order [Alphabet]uint16, rankOf [Alphabet]uint16) {
	for i := range order {
		order[i] = uint16(i)
	}
	counts := &t.Counts[p]
	sort.SliceStable(order[:], func(i, j int) bool {
		ci, cj := counts[order[i]], counts[order[j]]
		if ci != cj {
			return ci > cj
		}
		return order[i] < order[j]
	})
	for r, s := range order {
		rankOf[s] = uint16(r)
	}
	return order, rankOf
}

func zigzag(q int) int {
	if q >= 0 {
		return 2 * q
	}
	return -2*q - 1
}

func unzigzag(s int) int {
	if s&1 == 0 {
		return s / 2
	}
	return -(s + 1) / 2
}
