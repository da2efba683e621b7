package source

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	"github.com/gwlsn/tqenc/internal/codec"
	"github.com/gwlsn/tqenc/internal/raster"
)

const (
	ivfSignature  = "DKIF"
	ivfHeaderSize = 32
	ivfFrameHdr   = 12

	// FourCC identifies payloads produced by the in-repo codec.
	FourCC = "TQE0"
)

// IVF reads an IVF file of TQE0 payloads and decodes each frame.
type IVF struct {
	r          io.ReadSeeker
	closer     io.Closer
	headerLen  int64
	width      int
	height     int
	rateNum    int
	rateDen    int
	frameCount uint32
	dec        *codec.Decoder
}

// NewIVF parses the IVF header from r.
func NewIVF(r io.ReadSeeker) (*IVF, error) {
	var hdr [ivfHeaderSize]byte
	if _, err := io.ReadFull(r, hdr[:]); err != nil {
		return nil, fmt.Errorf("%w: ivf header: %v", ErrUnsupportedFormat, err)
	}
	if string(hdr[0:4]) != ivfSignature {
		return nil, fmt.Errorf("%w: not an ivf file", ErrUnsupportedFormat)
	}
	if fourcc := string(hdr[8:12]); fourcc != FourCC {
		return nil, fmt.Errorf("%w: ivf fourcc %q", ErrUnsupportedFormat, fourcc)
	}
	headerLen := int64(binary.LittleEndian.Uint16(hdr[6:8]))
	if headerLen < ivfHeaderSize {
		return nil, fmt.Errorf("%w: ivf header length %d", ErrUnsupportedFormat, headerLen)
	}

	v := &IVF{
		r:          r,
		headerLen:  headerLen,
		width:      int(binary.LittleEndian.Uint16(hdr[12:14])),
		height:     int(binary.LittleEndian.Uint16(hdr[14:16])),
		rateNum:    int(binary.LittleEndian.Uint32(hdr[16:20])),
		rateDen:    int(binary.LittleEndian.Uint32(hdr[20:24])),
		frameCount: binary.LittleEndian.Uint32(hdr[24:28]),
	}
	if v.width == 0 || v.height == 0 {
		return nil, fmt.Errorf("%w: ivf frame size %dx%d", ErrUnsupportedFormat, v.width, v.height)
	}
	if err := v.Rewind(); err != nil {
		return nil, err
	}
	return v, nil
}

func (v *IVF) Width() int  { return v.width }
func (v *IVF) Height() int { return v.height }

// FrameRate returns the rate stored in the header.
func (v *IVF) FrameRate() (int, int) { return v.rateNum, v.rateDen }

// FrameCount returns the frame count stored in the header, 0 if the writer
// could not patch it.
func (v *IVF) FrameCount() int { return int(v.frameCount) }

// Next decodes the next frame.
func (v *IVF) Next() (*raster.Raster, error) {
	var fh [ivfFrameHdr]byte
	if _, err := io.ReadFull(v.r, fh[:]); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, io.EOF
		}
		return nil, fmt.Errorf("ivf frame header: %w", err)
	}
	size := binary.LittleEndian.Uint32(fh[0:4])
	if limit := maxPayload(v.width, v.height); int64(size) > limit {
		return nil, fmt.Errorf("%w: ivf frame of %d bytes exceeds %d", codec.ErrBadPayload, size, limit)
	}
	payload := make([]byte, size)
	if _, err := io.ReadFull(v.r, payload); err != nil {
		return nil, fmt.Errorf("ivf frame of %d bytes: %w", size, err)
	}
	return v.dec.Decode(payload)
}

// maxPayload bounds a coded frame: a payload never needs more than twice the
// raw frame plus room for headers.
func maxPayload(w, h int) int64 {
	return 2*int64(raster.FrameSize(w, h)) + 1<<16
}

// Rewind restarts at the first frame with fresh decoder state.
func (v *IVF) Rewind() error {
	if _, err := v.r.Seek(v.headerLen, io.SeekStart); err != nil {
		return fmt.Errorf("ivf rewind: %w", err)
	}
	v.dec = codec.NewDecoder(v.width, v.height)
	return nil
}

func (v *IVF) Close() error {
	if v.closer != nil {
		return v.closer.Close()
	}
	return nil
}
