package source

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/gwlsn/tqenc/internal/raster"
)

const (
	y4mSignature = "YUV4MPEG2"
	y4mFrameTag  = "FRAME"
	maxLineLen   = 1024
)

// Y4M reads a YUV4MPEG2 stream of 8-bit 4:2:0 frames. It cannot rewind;
// use RewindableY4M for seekable inputs.
type Y4M struct {
	br       *bufio.Reader
	width    int
	height   int
	rateNum  int
	rateDen  int
	frameBuf []byte
}

// NewY4M parses the stream header from r.
func NewY4M(r io.Reader) (*Y4M, error) {
	y := &Y4M{}
	if err := y.reset(r); err != nil {
		return nil, err
	}
	return y, nil
}

func (y *Y4M) reset(r io.Reader) error {
	y.br = bufio.NewReaderSize(r, 64*1024)
	line, err := readLine(y.br)
	if err != nil {
		return fmt.Errorf("%w: y4m header: %v", ErrUnsupportedFormat, err)
	}
	return y.parseHeader(line)
}

func (y *Y4M) parseHeader(line string) error {
	fields := strings.Fields(line)
	if len(fields) == 0 || fields[0] != y4mSignature {
		return fmt.Errorf("%w: not a y4m stream", ErrUnsupportedFormat)
	}
	y.width, y.height = 0, 0
	for _, f := range fields[1:] {
		if len(f) < 2 {
			continue
		}
		val := f[1:]
		switch f[0] {
		case 'W':
			y.width, _ = strconv.Atoi(val)
		case 'H':
			y.height, _ = strconv.Atoi(val)
		case 'F':
			y.rateNum, y.rateDen = parseFrameRate(val)
		case 'C':
			if !strings.HasPrefix(val, "420") || strings.Contains(val, "p1") {
				return fmt.Errorf("%w: y4m colorspace %q (want 8-bit 4:2:0)", ErrUnsupportedFormat, val)
			}
		}
		// I (interlace), A (aspect) and X (extensions) are ignored.
	}
	if y.width <= 0 || y.height <= 0 {
		return fmt.Errorf("%w: y4m frame size %dx%d", ErrUnsupportedFormat, y.width, y.height)
	}
	y.frameBuf = make([]byte, raster.FrameSize(y.width, y.height))
	return nil
}

func (y *Y4M) Width() int  { return y.width }
func (y *Y4M) Height() int { return y.height }

// FrameRate returns the F tag, or 0/0 if absent.
func (y *Y4M) FrameRate() (int, int) { return y.rateNum, y.rateDen }

// Next reads the next frame.
func (y *Y4M) Next() (*raster.Raster, error) {
	line, err := readLine(y.br)
	if err != nil {
		if errors.Is(err, io.EOF) {
			return nil, io.EOF
		}
		return nil, fmt.Errorf("y4m frame header: %w", err)
	}
	if !strings.HasPrefix(line, y4mFrameTag) {
		return nil, fmt.Errorf("y4m: expected FRAME, got %q", truncate(line, 16))
	}
	if _, err := io.ReadFull(y.br, y.frameBuf); err != nil {
		return nil, fmt.Errorf("y4m frame data: %w", err)
	}
	return raster.FromPlanes(y.width, y.height, y.frameBuf)
}

func (y *Y4M) Close() error { return nil }

// RewindableY4M is a Y4M reader over a seekable input.
type RewindableY4M struct {
	*Y4M
	rs     io.ReadSeeker
	closer io.Closer
}

// NewRewindableY4M parses the header from rs.
func NewRewindableY4M(rs io.ReadSeeker) (*RewindableY4M, error) {
	y, err := NewY4M(rs)
	if err != nil {
		return nil, err
	}
	return &RewindableY4M{Y4M: y, rs: rs}, nil
}

// Rewind restarts at the first frame.
func (r *RewindableY4M) Rewind() error {
	if _, err := r.rs.Seek(0, io.SeekStart); err != nil {
		return fmt.Errorf("y4m rewind: %w", err)
	}
	return r.Y4M.reset(r.rs)
}

func (r *RewindableY4M) Close() error {
	if r.closer != nil {
		return r.closer.Close()
	}
	return nil
}

// readLine reads up to the next '\n'. An empty read at end of input is io.EOF.
func readLine(br *bufio.Reader) (string, error) {
	var sb strings.Builder
	for {
		b, err := br.ReadByte()
		if err != nil {
			if errors.Is(err, io.EOF) && sb.Len() > 0 {
				return "", io.ErrUnexpectedEOF
			}
			return "", err
		}
		if b == '\n' {
			return sb.String(), nil
		}
		if sb.Len() >= maxLineLen {
			return "", fmt.Errorf("line longer than %d bytes", maxLineLen)
		}
		sb.WriteByte(b)
	}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
