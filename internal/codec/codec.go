// Package codec is the single-frame codec driven by the rate-control loop.
//
// Encode is a pure function of its input: it never touches the caller's
// references or tables, so any number of trial encodes can run against the
// same encoder state and only the chosen one is committed.
package codec

import (
	"errors"
	"fmt"

	"github.com/gwlsn/tqenc/internal/raster"
)

// Quantization index bounds. Lower qi means a finer step and higher fidelity.
const (
	MinQI = 0
	MaxQI = 127
)

const (
	payloadMagic = 'T'
	headerSize   = 3

	flagKey           = 1 << 0
	flagGoldenRef     = 1 << 1
	flagRefreshGolden = 1 << 2

	escapeRank = 255
)

// ErrBadPayload is returned when a payload cannot be decoded.
var ErrBadPayload = errors.New("malformed frame payload")

// Step returns the quantizer step for qi. It is non-decreasing in qi and
// qi 0 is lossless.
func Step(qi int) int {
	return 1 + qi/8 + qi*qi/128
}

// ValidQI reports whether qi is inside the legal range.
func ValidQI(qi int) bool {
	return qi >= MinQI && qi <= MaxQI
}

// References are the reconstructed frames available for prediction.
type References struct {
	Last   *raster.Raster
	Golden *raster.Raster
}

// Input describes one encode trial.
type Input struct {
	Source        *raster.Raster
	QI            int
	Key           bool // intra-only frame
	RefreshGolden bool // committed reconstruction replaces the golden reference
	Refs          References
	Tables        Tables
}

// Output is the result of one encode trial. Nothing here aliases the input.
type Output struct {
	Recon         *raster.Raster
	Payload       []byte
	Tables        Tables
	Key           bool
	UseGolden     bool
	RefreshGolden bool
}

// Codec is the reference frame coder.
type Codec struct{}

// New returns the reference codec.
func New() *Codec {
	return &Codec{}
}

// Encode codes in.Source at in.QI against the given references and tables.
func (c *Codec) Encode(in *Input) (*Output, error) {
	src := in.Source
	if !src.Valid() {
		return nil, fmt.Errorf("encode: invalid source raster")
	}
	if !ValidQI(in.QI) {
		return nil, fmt.Errorf("encode: qi %d outside [%d, %d]", in.QI, MinQI, MaxQI)
	}

	key := in.Key || in.Refs.Last == nil
	var ref *raster.Raster
	useGolden := false
	if !key {
		ref = in.Refs.Last
		if g := in.Refs.Golden; g != nil && g.SameSize(src.Width, src.Height) &&
			lumaSAD(src, g) < lumaSAD(src, ref) {
			ref = g
			useGolden = true
		}
		if !ref.SameSize(src.Width, src.Height) {
			return nil, fmt.Errorf("encode: reference is %dx%d, source is %dx%d",
				ref.Width, ref.Height, src.Width, src.Height)
		}
	}

	step := Step(in.QI)
	recon := raster.New(src.Width, src.Height)
	symbols := make([]byte, 0, len(src.Y)+len(src.U)+len(src.V))
	var hist Histogram

	for p := 0; p < Planes; p++ {
		srcPix, w, h := src.Plane(p)
		dstPix, _, _ := recon.Plane(p)
		var refPix []byte
		if ref != nil {
			refPix, _, _ = ref.Plane(p)
		}
		_, rankOf := in.Tables.rankOrder(p)

		for y := 0; y < h; y++ {
			for x := 0; x < w; x++ {
				i := y*w + x
				pred := predict(dstPix, refPix, w, x, y)
				q := quantize(int(srcPix[i])-pred, step)
				dstPix[i] = clamp(pred + q*step)

				s := zigzag(q)
				hist[p][s]++
				r := rankOf[s]
				if r < escapeRank {
					symbols = append(symbols, byte(r))
				} else {
					symbols = append(symbols, escapeRank, byte(r-escapeRank))
				}
			}
		}
	}

	body, err := compress(symbols)
	if err != nil {
		return nil, fmt.Errorf("encode: %w", err)
	}

	refresh := in.RefreshGolden || key
	var flags byte
	if key {
		flags |= flagKey
	}
	if useGolden {
		flags |= flagGoldenRef
	}
	if refresh {
		flags |= flagRefreshGolden
	}
	payload := make([]byte, 0, headerSize+len(body))
	payload = append(payload, payloadMagic, flags, byte(in.QI))
	payload = append(payload, body...)

	return &Output{
		Recon:         recon,
		Payload:       payload,
		Tables:        in.Tables.Next(&hist),
		Key:           key,
		UseGolden:     useGolden,
		RefreshGolden: refresh,
	}, nil
}

// predict returns the prediction for pixel (x, y). Intra prediction uses the
// already reconstructed neighbours in dst; inter prediction uses ref.
func predict(dst, ref []byte, w, x, y int) int {
	if ref != nil {
		return int(ref[y*w+x])
	}
	switch {
	case x > 0 && y > 0:
		return (int(dst[y*w+x-1]) + int(dst[(y-1)*w+x]) + 1) / 2
	case x > 0:
		return int(dst[y*w+x-1])
	case y > 0:
		return int(dst[(y-1)*w+x])
	default:
		return 128
	}
}

func quantize(r, step int) int {
	if r >= 0 {
		return (r + step/2) / step
	}
	return -((-r + step/2) / step)
}

func clamp(v int) byte {
	if v < 0 {
		return 0
	}
	if v > 255 {
		return 255
	}
	return byte(v)
}

func lumaSAD(a, b *raster.Raster) uint64 {
	var sum uint64
	for i := range a.Y {
		d := int(a.Y[i]) - int(b.Y[i])
		if d < 0 {
			d = -d
		}
		sum += uint64(d)
	}
	return sum
}
