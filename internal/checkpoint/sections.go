package checkpoint

import (
	"encoding/binary"
	"fmt"
	"math"

	"github.com/gwlsn/tqenc/internal/codec"
	"github.com/gwlsn/tqenc/internal/encoder"
	"github.com/gwlsn/tqenc/internal/raster"
	"github.com/gwlsn/tqenc/internal/twopass"
)

// statRecordSize is the encoded size of one twopass.FrameStats.
const statRecordSize = 8 + 4 + 8 + 4 + 1 + 8 + 4

func appendSection(dst []byte, tag string, payload []byte) []byte {
	dst = append(dst, tag...)
	dst = binary.LittleEndian.AppendUint32(dst, uint32(len(payload)))
	return append(dst, payload...)
}

func nextSection(b []byte) (tag string, payload, rest []byte, err error) {
	if len(b) < 8 {
		return "", nil, nil, corrupt("truncated section header")
	}
	tag = string(b[:4])
	n := binary.LittleEndian.Uint32(b[4:8])
	b = b[8:]
	if uint64(len(b)) < uint64(n) {
		return "", nil, nil, corrupt("section %q truncated: %d of %d bytes", tag, len(b), n)
	}
	return tag, b[:n], b[n:], nil
}

func encodeDims(s *encoder.State) []byte {
	b := binary.LittleEndian.AppendUint32(nil, uint32(s.Width))
	return binary.LittleEndian.AppendUint32(b, uint32(s.Height))
}

func decodeDims(p []byte, s *encoder.State) error {
	if len(p) != 8 {
		return corrupt("DIMS is %d bytes", len(p))
	}
	w := binary.LittleEndian.Uint32(p)
	h := binary.LittleEndian.Uint32(p[4:])
	if w == 0 || h == 0 || w > math.MaxInt32 || h > math.MaxInt32 {
		return fmt.Errorf("%w: invalid frame size %dx%d", ErrDimensionMismatch, w, h)
	}
	s.Width, s.Height = int(w), int(h)
	return nil
}

func encodeRefs(s *encoder.State) []byte {
	var b []byte
	for _, r := range []*raster.Raster{s.Last, s.Golden} {
		if r == nil {
			b = append(b, 0)
			continue
		}
		b = append(b, 1)
		b = binary.LittleEndian.AppendUint32(b, uint32(r.Width))
		b = binary.LittleEndian.AppendUint32(b, uint32(r.Height))
		b = append(b, r.Bytes()...)
	}
	return b
}

func decodeRefs(p []byte, s *encoder.State) error {
	var refs [2]*raster.Raster
	for i := range refs {
		if len(p) < 1 {
			return corrupt("REFS truncated")
		}
		present := p[0]
		p = p[1:]
		switch present {
		case 0:
			continue
		case 1:
		default:
			return corrupt("REFS presence flag %d", present)
		}
		if len(p) < 8 {
			return corrupt("REFS truncated")
		}
		w := int(binary.LittleEndian.Uint32(p))
		h := int(binary.LittleEndian.Uint32(p[4:]))
		p = p[8:]
		if w != s.Width || h != s.Height {
			return fmt.Errorf("%w: reference %d is %dx%d, state is %dx%d",
				ErrDimensionMismatch, i, w, h, s.Width, s.Height)
		}
		size := raster.FrameSize(w, h)
		if len(p) < size {
			return fmt.Errorf("%w: reference %d has %d bytes, %dx%d needs %d",
				ErrDimensionMismatch, i, len(p), w, h, size)
		}
		r, err := raster.FromPlanes(w, h, p[:size])
		if err != nil {
			return fmt.Errorf("%w: %v", ErrDimensionMismatch, err)
		}
		refs[i] = r
		p = p[size:]
	}
	if len(p) != 0 {
		return fmt.Errorf("%w: %d unexpected bytes after references", ErrDimensionMismatch, len(p))
	}
	s.Last, s.Golden = refs[0], refs[1]
	return nil
}

func encodeTables(t *codec.Tables) []byte {
	b := make([]byte, 0, codec.Planes*codec.Alphabet*4)
	for p := range t.Counts {
		for _, c := range t.Counts[p] {
			b = binary.LittleEndian.AppendUint32(b, c)
		}
	}
	return b
}

func decodeTables(p []byte, t *codec.Tables) error {
	if len(p) != codec.Planes*codec.Alphabet*4 {
		return corrupt("TABL is %d bytes", len(p))
	}
	for pl := range t.Counts {
		for i := range t.Counts[pl] {
			t.Counts[pl][i] = binary.LittleEndian.Uint32(p)
			p = p[4:]
		}
	}
	return nil
}

func encodeStats(stats []twopass.FrameStats) []byte {
	b := make([]byte, 0, 4+len(stats)*statRecordSize)
	b = binary.LittleEndian.AppendUint32(b, uint32(len(stats)))
	for _, fs := range stats {
		b = binary.LittleEndian.AppendUint64(b, fs.Index)
		b = binary.LittleEndian.AppendUint32(b, uint32(int32(fs.QI)))
		b = binary.LittleEndian.AppendUint64(b, math.Float64bits(fs.Score))
		b = binary.LittleEndian.AppendUint32(b, uint32(fs.Trials))
		if fs.Converged {
			b = append(b, 1)
		} else {
			b = append(b, 0)
		}
		b = binary.LittleEndian.AppendUint64(b, math.Float64bits(fs.Complexity))
		b = binary.LittleEndian.AppendUint32(b, uint32(fs.Bytes))
	}
	return b
}

func decodeStats(p []byte) ([]twopass.FrameStats, error) {
	if len(p) < 4 {
		return nil, corrupt("STAT truncated")
	}
	n := binary.LittleEndian.Uint32(p)
	p = p[4:]
	if uint64(len(p)) != uint64(n)*statRecordSize {
		return nil, corrupt("STAT holds %d bytes for %d records", len(p), n)
	}
	if n == 0 {
		return nil, nil
	}
	stats := make([]twopass.FrameStats, n)
	for i := range stats {
		if p[24] > 1 {
			return nil, corrupt("STAT record %d has converged flag %d", i, p[24])
		}
		stats[i] = twopass.FrameStats{
			Index:      binary.LittleEndian.Uint64(p),
			QI:         int(int32(binary.LittleEndian.Uint32(p[8:]))),
			Score:      math.Float64frombits(binary.LittleEndian.Uint64(p[12:])),
			Trials:     int(binary.LittleEndian.Uint32(p[20:])),
			Converged:  p[24] == 1,
			Complexity: math.Float64frombits(binary.LittleEndian.Uint64(p[25:])),
			Bytes:      int(binary.LittleEndian.Uint32(p[33:])),
		}
		if i > 0 && stats[i].Index != stats[i-1].Index+1 {
			return nil, corrupt("STAT record %d is frame %d, want %d", i, stats[i].Index, stats[i-1].Index+1)
		}
		p = p[statRecordSize:]
	}
	return stats, nil
}
