// Package container writes coded frames to IVF or MP4 files.
package container

import (
	"fmt"
	"io"
	"path/filepath"
	"strings"
)

// Writer accepts coded frames in decode order.
type Writer interface {
	WriteFrame(payload []byte, key bool) error
	Close() error
}

// Format names an output container.
type Format string

// Supported output formats.
const (
	FormatIVF Format = "ivf"
	FormatMP4 Format = "mp4"
)

// FormatForPath picks the container from the file extension. Anything other
// than .mp4 is written as IVF.
func FormatForPath(path string) Format {
	if strings.EqualFold(filepath.Ext(path), ".mp4") {
		return FormatMP4
	}
	return FormatIVF
}

// Params describe the stream being written.
type Params struct {
	Width   int
	Height  int
	RateNum int // frames per RateDen seconds; 0 means 30/1
	RateDen int
}

func (p Params) rate() (num, den int) {
	if p.RateNum <= 0 || p.RateDen <= 0 {
		return 30, 1
	}
	return p.RateNum, p.RateDen
}

// NewWriter returns a writer for format on w.
func NewWriter(format Format, w io.Writer, p Params) (Writer, error) {
	switch format {
	case FormatIVF:
		return NewIVF(w, p)
	case FormatMP4:
		return NewMP4(w, p)
	default:
		return nil, fmt.Errorf("unknown output format %q", format)
	}
}

// Discard counts frames and bytes without storing them.
type Discard struct {
	Frames int
	Bytes  int64
}

func (d *Discard) WriteFrame(payload []byte, key bool) error {
	d.Frames++
	d.Bytes += int64(len(payload))
	return nil
}

func (d *Discard) Close() error { return nil }
