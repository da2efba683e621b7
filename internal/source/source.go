// Package source reads raster frames from IVF and Y4M inputs.
package source

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/gwlsn/tqenc/internal/raster"
)

// ErrUnsupportedFormat is returned for inputs this package cannot read.
var ErrUnsupportedFormat = errors.New("unsupported format")

// Stdin is the path that selects standard input.
const Stdin = "-"

// Source yields frames in order. Next returns (nil, io.EOF) after the last
// frame. Every frame has the dimensions reported by Width and Height.
type Source interface {
	Width() int
	Height() int
	Next() (*raster.Raster, error)
	Close() error
}

// Rewinder is implemented by sources that can restart from the first frame.
type Rewinder interface {
	Rewind() error
}

// FrameCounter is implemented by sources whose header declares how many
// frames follow. FrameCount returns 0 when the count is unknown.
type FrameCounter interface {
	FrameCount() int
}

// FrameRater is implemented by sources that know their frame rate.
type FrameRater interface {
	FrameRate() (num, den int)
}

// Format names an input container.
type Format string

// Supported input formats.
const (
	FormatIVF Format = "ivf"
	FormatY4M Format = "y4m"
	FormatMP4 Format = "mp4"
)

// ParseFormat validates a format name.
func ParseFormat(s string) (Format, error) {
	switch f := Format(strings.ToLower(s)); f {
	case FormatIVF, FormatY4M, FormatMP4:
		return f, nil
	default:
		return "", fmt.Errorf("%w: input format %q", ErrUnsupportedFormat, s)
	}
}

// Open opens path as format. Only Y4M may be read from Stdin.
func Open(format Format, path string) (Source, error) {
	switch format {
	case FormatIVF:
		if path == Stdin {
			return nil, fmt.Errorf("%w: ivf input cannot be read from stdin", ErrUnsupportedFormat)
		}
		f, err := os.Open(path)
		if err != nil {
			return nil, err
		}
		r, err := NewIVF(f)
		if err != nil {
			f.Close()
			return nil, fmt.Errorf("%s: %w", path, err)
		}
		r.closer = f
		return r, nil

	case FormatY4M:
		if path == Stdin {
			return NewY4M(os.Stdin)
		}
		f, err := os.Open(path)
		if err != nil {
			return nil, err
		}
		r, err := NewRewindableY4M(f)
		if err != nil {
			f.Close()
			return nil, fmt.Errorf("%s: %w", path, err)
		}
		r.closer = f
		return r, nil

	case FormatMP4:
		if path == Stdin {
			return nil, fmt.Errorf("%w: mp4 input cannot be read from stdin", ErrUnsupportedFormat)
		}
		f, err := os.Open(path)
		if err != nil {
			return nil, err
		}
		defer f.Close()
		return NewMP4(f)

	default:
		return nil, fmt.Errorf("%w: input format %q", ErrUnsupportedFormat, format)
	}
}

// parseFrameRate parses "num:den" (Y4M) or "num/den" into a rational.
// Returns 0/0 when the rate is missing or malformed.
func parseFrameRate(s string) (num, den int) {
	if s == "" || s == "0:0" || s == "0/0" {
		return 0, 0
	}
	parts := strings.FieldsFunc(s, func(r rune) bool { return r == ':' || r == '/' })
	if len(parts) != 2 {
		n, err := strconv.Atoi(s)
		if err != nil || n <= 0 {
			return 0, 0
		}
		return n, 1
	}
	num, err1 := strconv.Atoi(parts[0])
	den, err2 := strconv.Atoi(parts[1])
	if err1 != nil || err2 != nil || num <= 0 || den <= 0 {
		return 0, 0
	}
	return num, den
}
