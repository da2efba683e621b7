package container

import (
	"encoding/binary"
	"fmt"
	"io"
	"math"
)

const (
	ivfHeaderSize = 32
	ivfCountAt    = 24

	// FourCC tags payloads of the in-repo codec.
	FourCC = "TQE0"
)

// IVF writes the 32-byte DKIF header followed by size-prefixed frames.
// When the destination is seekable the frame count is patched on Close.
type IVF struct {
	w      io.Writer
	frames uint32
	bytes  int64
}

// NewIVF writes the file header to w.
func NewIVF(w io.Writer, p Params) (*IVF, error) {
	if p.Width <= 0 || p.Height <= 0 || p.Width > math.MaxUint16 || p.Height > math.MaxUint16 {
		return nil, fmt.Errorf("ivf: frame size %dx%d out of range", p.Width, p.Height)
	}
	num, den := p.rate()

	hdr := make([]byte, ivfHeaderSize)
	copy(hdr[0:4], "DKIF")
	binary.LittleEndian.PutUint16(hdr[4:6], 0)
	binary.LittleEndian.PutUint16(hdr[6:8], ivfHeaderSize)
	copy(hdr[8:12], FourCC)
	binary.LittleEndian.PutUint16(hdr[12:14], uint16(p.Width))
	binary.LittleEndian.PutUint16(hdr[14:16], uint16(p.Height))
	binary.LittleEndian.PutUint32(hdr[16:20], uint32(num))
	binary.LittleEndian.PutUint32(hdr[20:24], uint32(den))
	if _, err := w.Write(hdr); err != nil {
		return nil, fmt.Errorf("ivf: write header: %w", err)
	}
	return &IVF{w: w, bytes: ivfHeaderSize}, nil
}

// WriteFrame appends one frame. The timestamp is the frame number.
func (v *IVF) WriteFrame(payload []byte, key bool) error {
	var fh [12]byte
	binary.LittleEndian.PutUint32(fh[0:4], uint32(len(payload)))
	binary.LittleEndian.PutUint64(fh[4:12], uint64(v.frames))
	if _, err := v.w.Write(fh[:]); err != nil {
		return fmt.Errorf("ivf: write frame header: %w", err)
	}
	if _, err := v.w.Write(payload); err != nil {
		return fmt.Errorf("ivf: write frame: %w", err)
	}
	v.frames++
	v.bytes += int64(len(fh) + len(payload))
	return nil
}

// Close patches the frame count if the destination can seek.
func (v *IVF) Close() error {
	ws, ok := v.w.(io.WriteSeeker)
	if !ok {
		return nil
	}
	if _, err := ws.Seek(ivfCountAt, io.SeekStart); err != nil {
		return fmt.Errorf("ivf: seek: %w", err)
	}
	var n [4]byte
	binary.LittleEndian.PutUint32(n[:], v.frames)
	if _, err := ws.Write(n[:]); err != nil {
		return fmt.Errorf("ivf: patch frame count: %w", err)
	}
	if _, err := ws.Seek(v.bytes, io.SeekStart); err != nil {
		return fmt.Errorf("ivf: seek: %w", err)
	}
	return nil
}
