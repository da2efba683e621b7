package container

import (
	"bytes"
	"encoding/binary"
	"os"
	"path/filepath"
	"testing"

	"github.com/Eyevinn/mp4ff/mp4"
)

func TestBuildTempPath(t *testing.T) {
	tests := []struct {
		output   string
		tempDir  string
		expected string
	}{
		{"/media/clip.ivf", "/tmp", "/tmp/clip.tqenc.tmp.ivf"},
		{"/media/out/clip.mp4", "", "/media/out/clip.tqenc.tmp.mp4"},
		{"/data/noext", "/data", "/data/noext.tqenc.tmp.ivf"},
	}

	for _, tt := range tests {
		result := BuildTempPath(tt.output, tt.tempDir)
		if result != tt.expected {
			t.Errorf("BuildTempPath(%s, %s) = %s, expected %s", tt.output, tt.tempDir, result, tt.expected)
		}
	}
}

func TestFormatForPath(t *testing.T) {
	tests := map[string]Format{
		"out.ivf":  FormatIVF,
		"out.mp4":  FormatMP4,
		"OUT.MP4":  FormatMP4,
		"out.webm": FormatIVF,
		"out":      FormatIVF,
	}
	for path, want := range tests {
		if got := FormatForPath(path); got != want {
			t.Errorf("FormatForPath(%q) = %q, want %q", path, got, want)
		}
	}
}

// seekBuffer is an in-memory io.WriteSeeker.
type seekBuffer struct {
	buf []byte
	pos int
}

func (s *seekBuffer) Write(p []byte) (int, error) {
	if need := s.pos + len(p); need > len(s.buf) {
		s.buf = append(s.buf, make([]byte, need-len(s.buf))...)
	}
	copy(s.buf[s.pos:], p)
	s.pos += len(p)
	return len(p), nil
}

func (s *seekBuffer) Seek(offset int64, whence int) (int64, error) {
	s.pos = int(offset)
	return offset, nil
}

func TestIVFWriter(t *testing.T) {
	sb := &seekBuffer{}
	w, err := NewIVF(sb, Params{Width: 64, Height: 48, RateNum: 25, RateDen: 1})
	if err != nil {
		t.Fatalf("NewIVF() error = %v", err)
	}
	frames := [][]byte{[]byte("first"), []byte("second frame")}
	for _, f := range frames {
		if err := w.WriteFrame(f, true); err != nil {
			t.Fatal(err)
		}
	}
	if err := w.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}

	b := sb.buf
	if string(b[0:4]) != "DKIF" || string(b[8:12]) != FourCC {
		t.Fatalf("bad header: %q", b[:12])
	}
	if got := binary.LittleEndian.Uint16(b[12:14]); got != 64 {
		t.Errorf("width = %d, want 64", got)
	}
	if got := binary.LittleEndian.Uint32(b[16:20]); got != 25 {
		t.Errorf("rate = %d, want 25", got)
	}
	if got := binary.LittleEndian.Uint32(b[24:28]); got != 2 {
		t.Errorf("frame count = %d, want 2", got)
	}

	off := ivfHeaderSize
	for i, f := range frames {
		size := int(binary.LittleEndian.Uint32(b[off:]))
		pts := binary.LittleEndian.Uint64(b[off+4:])
		if size != len(f) || pts != uint64(i) {
			t.Errorf("frame %d header: size=%d pts=%d", i, size, pts)
		}
		if got := b[off+12 : off+12+size]; !bytes.Equal(got, f) {
			t.Errorf("frame %d payload = %q, want %q", i, got, f)
		}
		off += 12 + size
	}
	if off != len(b) {
		t.Errorf("file is %d bytes, frames end at %d", len(b), off)
	}
}

func TestIVFWriterNonSeekable(t *testing.T) {
	var buf bytes.Buffer
	w, err := NewIVF(&buf, Params{Width: 8, Height: 8})
	if err != nil {
		t.Fatal(err)
	}
	if err := w.WriteFrame([]byte{1, 2, 3}, true); err != nil {
		t.Fatal(err)
	}
	if err := w.Close(); err != nil {
		t.Fatal(err)
	}
	if got := binary.LittleEndian.Uint32(buf.Bytes()[16:20]); got != 30 {
		t.Errorf("default rate = %d, want 30", got)
	}
	if buf.Len() != ivfHeaderSize+12+3 {
		t.Errorf("len = %d", buf.Len())
	}
}

func TestIVFWriterRejectsBadSize(t *testing.T) {
	if _, err := NewIVF(&bytes.Buffer{}, Params{Width: 0, Height: 8}); err == nil {
		t.Error("expected error for zero width")
	}
	if _, err := NewIVF(&bytes.Buffer{}, Params{Width: 70000, Height: 8}); err == nil {
		t.Error("expected error for width beyond 16 bits")
	}
}

func TestMP4Writer(t *testing.T) {
	var buf bytes.Buffer
	w, err := NewMP4(&buf, Params{Width: 32, Height: 16, RateNum: 30000, RateDen: 1001})
	if err != nil {
		t.Fatalf("NewMP4() error = %v", err)
	}
	payloads := [][]byte{[]byte("key"), []byte("inter-1"), []byte("inter-2")}
	for i, p := range payloads {
		if err := w.WriteFrame(p, i == 0); err != nil {
			t.Fatal(err)
		}
	}
	if err := w.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}

	f, err := mp4.DecodeFile(bytes.NewReader(buf.Bytes()))
	if err != nil {
		t.Fatalf("DecodeFile() error = %v", err)
	}
	if !f.IsFragmented() {
		t.Fatal("expected fragmented mp4")
	}
	trak := f.Init.Moov.Trak
	if got := trak.Mdia.Mdhd.Timescale; got != 30000 {
		t.Errorf("timescale = %d, want 30000", got)
	}
	var trex *mp4.TrexBox
	if f.Init.Moov.Mvex != nil && len(f.Init.Moov.Mvex.Trexs) > 0 {
		trex = f.Init.Moov.Mvex.Trexs[0]
	}

	var got [][]byte
	for _, seg := range f.Segments {
		for _, frag := range seg.Fragments {
			samples, err := frag.GetFullSamples(trex)
			if err != nil {
				t.Fatal(err)
			}
			for _, s := range samples {
				got = append(got, s.Data)
				if s.Dur != 1001 {
					t.Errorf("sample duration = %d, want 1001", s.Dur)
				}
			}
		}
	}
	if len(got) != len(payloads) {
		t.Fatalf("got %d samples, want %d", len(got), len(payloads))
	}
	for i := range payloads {
		if !bytes.Equal(got[i], payloads[i]) {
			t.Errorf("sample %d = %q, want %q", i, got[i], payloads[i])
		}
	}
}

func TestDiscard(t *testing.T) {
	d := &Discard{}
	_ = d.WriteFrame(make([]byte, 10), true)
	_ = d.WriteFrame(make([]byte, 5), false)
	if d.Frames != 2 || d.Bytes != 15 {
		t.Errorf("Discard = %+v", d)
	}
}

func TestOutputCommit(t *testing.T) {
	dir := t.TempDir()
	final := filepath.Join(dir, "out.ivf")

	o, err := Create(final, "", Params{Width: 16, Height: 16})
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	if _, err := os.Stat(final); !os.IsNotExist(err) {
		t.Error("final path exists before commit")
	}
	if err := o.WriteFrame([]byte("x"), true); err != nil {
		t.Fatal(err)
	}
	if err := o.Commit(); err != nil {
		t.Fatalf("Commit() error = %v", err)
	}

	if _, err := os.Stat(final); err != nil {
		t.Errorf("final output missing: %v", err)
	}
	if _, err := os.Stat(o.TempPath()); !os.IsNotExist(err) {
		t.Error("temp file left behind")
	}
	if err := o.Abort(); err != nil {
		t.Errorf("Abort() after Commit error = %v", err)
	}
	if _, err := os.Stat(final); err != nil {
		t.Error("Abort after Commit removed the output")
	}
}

func TestOutputAbort(t *testing.T) {
	dir := t.TempDir()
	tempDir := t.TempDir()
	final := filepath.Join(dir, "out.mp4")

	o, err := Create(final, tempDir, Params{Width: 16, Height: 16})
	if err != nil {
		t.Fatal(err)
	}
	if filepath.Dir(o.TempPath()) != tempDir {
		t.Errorf("temp path %s not in %s", o.TempPath(), tempDir)
	}
	if err := o.Abort(); err != nil {
		t.Fatalf("Abort() error = %v", err)
	}

	for _, p := range []string{final, o.TempPath()} {
		if _, err := os.Stat(p); !os.IsNotExist(err) {
			t.Errorf("%s exists after abort", p)
		}
	}
}
