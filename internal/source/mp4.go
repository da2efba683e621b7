package source

import (
	"fmt"
	"io"

	"github.com/Eyevinn/mp4ff/mp4"

	"github.com/gwlsn/tqenc/internal/codec"
	"github.com/gwlsn/tqenc/internal/raster"
)

// MP4 reads the tqe0 track of a fragmented MP4 file.
type MP4 struct {
	width   int
	height  int
	rateNum int
	rateDen int
	samples [][]byte
	pos     int
	dec     *codec.Decoder
}

// NewMP4 parses rs and indexes every sample of its first video track.
func NewMP4(rs io.ReadSeeker) (*MP4, error) {
	f, err := mp4.DecodeFile(rs)
	if err != nil {
		return nil, fmt.Errorf("%w: decode mp4: %v", ErrUnsupportedFormat, err)
	}
	if !f.IsFragmented() || f.Init == nil || f.Init.Moov == nil {
		return nil, fmt.Errorf("%w: mp4 input must be fragmented", ErrUnsupportedFormat)
	}

	var trak *mp4.TrakBox
	for _, t := range f.Init.Moov.Traks {
		if t.Mdia != nil && t.Mdia.Hdlr != nil && t.Mdia.Hdlr.HandlerType == "vide" {
			trak = t
			break
		}
	}
	if trak == nil {
		return nil, fmt.Errorf("%w: no video track", ErrUnsupportedFormat)
	}
	stsd := trak.Mdia.Minf.Stbl.Stsd
	if len(stsd.Children) == 0 || stsd.Children[0].Type() != "tqe0" {
		return nil, fmt.Errorf("%w: video track is not tqe0", ErrUnsupportedFormat)
	}
	trackID := trak.Tkhd.TrackID

	var trex *mp4.TrexBox
	if f.Init.Moov.Mvex != nil {
		for _, t := range f.Init.Moov.Mvex.Trexs {
			if t.TrackID == trackID {
				trex = t
				break
			}
		}
	}

	m := &MP4{
		width:   int(trak.Tkhd.Width >> 16),
		height:  int(trak.Tkhd.Height >> 16),
		rateNum: int(trak.Mdia.Mdhd.Timescale),
	}
	if m.width == 0 || m.height == 0 {
		return nil, fmt.Errorf("%w: mp4 frame size %dx%d", ErrUnsupportedFormat, m.width, m.height)
	}

	for _, seg := range f.Segments {
		for _, frag := range seg.Fragments {
			if frag.Moof == nil {
				continue
			}
			for _, traf := range frag.Moof.Trafs {
				if traf.Tfhd.TrackID != trackID {
					continue
				}
				samples, err := frag.GetFullSamples(trex)
				if err != nil {
					return nil, fmt.Errorf("mp4 samples: %w", err)
				}
				for _, s := range samples {
					if m.rateDen == 0 {
						m.rateDen = int(s.Dur)
					}
					m.samples = append(m.samples, s.Data)
				}
			}
		}
	}

	m.dec = codec.NewDecoder(m.width, m.height)
	return m, nil
}

func (m *MP4) Width() int  { return m.width }
func (m *MP4) Height() int { return m.height }

// FrameRate derives the rate from the timescale and first sample duration.
func (m *MP4) FrameRate() (int, int) {
	if m.rateDen == 0 {
		return 0, 0
	}
	return m.rateNum, m.rateDen
}

// Next decodes the next sample.
func (m *MP4) Next() (*raster.Raster, error) {
	if m.pos >= len(m.samples) {
		return nil, io.EOF
	}
	payload := m.samples[m.pos]
	m.pos++
	return m.dec.Decode(payload)
}

// Rewind restarts at the first sample with fresh decoder state.
func (m *MP4) Rewind() error {
	m.pos = 0
	m.dec = codec.NewDecoder(m.width, m.height)
	return nil
}

// Close is a no-op; samples are read into memory by NewMP4.
func (m *MP4) Close() error { return nil }
