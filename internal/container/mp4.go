package container

import (
	"fmt"
	"io"
	"math"

	"github.com/Eyevinn/mp4ff/mp4"
)

const mp4SampleEntry = "tqe0"

// MP4 collects frames into a single fragment and writes ftyp, moov and
// moof+mdat on Close.
type MP4 struct {
	w      io.Writer
	dur    uint32
	frag   *mp4.Fragment
	init   *mp4.InitSegment
	frames int
}

// NewMP4 prepares a single-track fragmented MP4.
func NewMP4(w io.Writer, p Params) (*MP4, error) {
	if p.Width <= 0 || p.Height <= 0 || p.Width > math.MaxUint16 || p.Height > math.MaxUint16 {
		return nil, fmt.Errorf("mp4: frame size %dx%d out of range", p.Width, p.Height)
	}
	num, den := p.rate()
	dur := uint32(den)

	init := mp4.CreateEmptyInit()
	init.AddEmptyTrack(uint32(num), "video", "und")
	trak := init.Moov.Trak
	entry := mp4.CreateVisualSampleEntryBox(mp4SampleEntry, uint16(p.Width), uint16(p.Height), nil)
	trak.Mdia.Minf.Stbl.Stsd.AddChild(entry)
	trak.Tkhd.Width = mp4.Fixed32(p.Width << 16)
	trak.Tkhd.Height = mp4.Fixed32(p.Height << 16)

	frag, err := mp4.CreateFragment(1, trak.Tkhd.TrackID)
	if err != nil {
		return nil, fmt.Errorf("mp4: create fragment: %w", err)
	}

	return &MP4{w: w, dur: dur, frag: frag, init: init}, nil
}

// WriteFrame adds one sample. Key frames are flagged as sync samples.
func (m *MP4) WriteFrame(payload []byte, key bool) error {
	flags := mp4.NonSyncSampleFlags
	if key {
		flags = mp4.SyncSampleFlags
	}
	data := make([]byte, len(payload))
	copy(data, payload)
	m.frag.AddFullSample(mp4.FullSample{
		Sample: mp4.Sample{
			Flags: flags,
			Size:  uint32(len(data)),
			Dur:   m.dur,
		},
		DecodeTime: uint64(m.frames) * uint64(m.dur),
		Data:       data,
	})
	m.frames++
	return nil
}

// Close encodes the file.
func (m *MP4) Close() error {
	ftyp := mp4.NewFtyp("isom", 0x200, []string{"isom", "iso6", "mp41"})
	if err := ftyp.Encode(m.w); err != nil {
		return fmt.Errorf("mp4: encode ftyp: %w", err)
	}
	if err := m.init.Moov.Encode(m.w); err != nil {
		return fmt.Errorf("mp4: encode moov: %w", err)
	}
	if m.frames == 0 {
		return nil
	}
	if err := m.frag.Encode(m.w); err != nil {
		return fmt.Errorf("mp4: encode fragment: %w", err)
	}
	return nil
}
