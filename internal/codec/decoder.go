package codec

import (
	"fmt"

	"github.com/gwlsn/tqenc/internal/raster"
)

// Decoder reconstructs frames from payloads produced by Codec.Encode. It
// tracks references and tables exactly as the encoder commits them.
type Decoder struct {
	width  int
	height int
	refs   References
	tables Tables
}

// NewDecoder returns a decoder for frames of the given size.
func NewDecoder(width, height int) *Decoder {
	return &Decoder{width: width, height: height, tables: NewTables()}
}

// Decode reconstructs the next frame.
func (d *Decoder) Decode(payload []byte) (*raster.Raster, error) {
	if len(payload) < headerSize || payload[0] != payloadMagic {
		return nil, ErrBadPayload
	}
	flags, qi := payload[1], int(payload[2])
	if !ValidQI(qi) {
		return nil, fmt.Errorf("%w: qi %d", ErrBadPayload, qi)
	}
	key := flags&flagKey != 0

	var ref *raster.Raster
	if !key {
		ref = d.refs.Last
		if flags&flagGoldenRef != 0 {
			ref = d.refs.Golden
		}
		if ref == nil {
			return nil, fmt.Errorf("%w: inter frame without reference", ErrBadPayload)
		}
	}

	symbols, err := decompress(payload[headerSize:])
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBadPayload, err)
	}

	step := Step(qi)
	recon := raster.New(d.width, d.height)
	var hist Histogram
	pos := 0

	for p := 0; p < Planes; p++ {
		dstPix, w, h := recon.Plane(p)
		var refPix []byte
		if ref != nil {
			refPix, _, _ = ref.Plane(p)
		}
		order, _ := d.tables.rankOrder(p)

		for y := 0; y < h; y++ {
			for x := 0; x < w; x++ {
				if pos >= len(symbols) {
					return nil, fmt.Errorf("%w: symbol stream truncated", ErrBadPayload)
				}
				r := int(symbols[pos])
				pos++
				if r == escapeRank {
					if pos >= len(symbols) {
						return nil, fmt.Errorf("%w: symbol stream truncated", ErrBadPayload)
					}
					r += int(symbols[pos])
					pos++
				}
				if r >= Alphabet {
					return nil, fmt.Errorf("%w: rank %d out of range", ErrBadPayload, r)
				}
				s := int(order[r])
				hist[p][s]++
				pred := predict(dstPix, refPix, w, x, y)
				dstPix[y*w+x] = clamp(pred + unzigzag(s)*step)
			}
		}
	}
	if pos != len(symbols) {
		return nil, fmt.Errorf("%w: %d trailing symbols", ErrBadPayload, len(symbols)-pos)
	}

	d.refs.Last = recon
	if flags&flagRefreshGolden != 0 {
		d.refs.Golden = recon
	}
	d.tables = d.tables.Next(&hist)
	return recon, nil
}
