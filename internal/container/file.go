package container

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

// BuildTempPath returns the path a file is written to before it is
// committed: <name>.tqenc.tmp.<ext> in tempDir, or next to outputPath when
// tempDir is empty.
func BuildTempPath(outputPath, tempDir string) string {
	base := filepath.Base(outputPath)
	ext := filepath.Ext(base)
	name := strings.TrimSuffix(base, ext)
	outExt := strings.TrimPrefix(ext, ".")
	if outExt == "" {
		outExt = string(FormatForPath(outputPath))
	}
	if tempDir == "" {
		tempDir = filepath.Dir(outputPath)
	}
	return filepath.Join(tempDir, fmt.Sprintf("%s.tqenc.tmp.%s", name, outExt))
}

// Output is a Writer on a temp file that only appears at its final path
// after Commit.
type Output struct {
	Writer
	path   string
	temp   string
	f      *os.File
	closed bool
}

// Create opens a temp file for outputPath and wraps it in the writer for the
// path's format.
func Create(outputPath, tempDir string, p Params) (*Output, error) {
	temp := BuildTempPath(outputPath, tempDir)
	f, err := os.Create(temp)
	if err != nil {
		return nil, fmt.Errorf("failed to create output: %w", err)
	}
	w, err := NewWriter(FormatForPath(outputPath), f, p)
	if err != nil {
		f.Close()
		os.Remove(temp)
		return nil, err
	}
	return &Output{Writer: w, path: outputPath, temp: temp, f: f}, nil
}

// Path returns the final output path.
func (o *Output) Path() string { return o.path }

// TempPath returns the path being written.
func (o *Output) TempPath() string { return o.temp }

// Commit finalizes the container and moves it to the final path.
func (o *Output) Commit() error {
	if o.closed {
		return errors.New("output already closed")
	}
	o.closed = true
	if err := o.Writer.Close(); err != nil {
		o.f.Close()
		os.Remove(o.temp)
		return err
	}
	if err := o.f.Sync(); err != nil {
		o.f.Close()
		os.Remove(o.temp)
		return fmt.Errorf("failed to sync output: %w", err)
	}
	if err := o.f.Close(); err != nil {
		os.Remove(o.temp)
		return fmt.Errorf("failed to close output: %w", err)
	}
	return moveFile(o.temp, o.path)
}

// Abort discards the temp file. It is safe to call after Commit.
func (o *Output) Abort() error {
	if o.closed {
		return nil
	}
	o.closed = true
	o.f.Close()
	if err := os.Remove(o.temp); err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	return nil
}

// moveFile renames src to dst, falling back to copy-then-delete when they are
// on different filesystems.
func moveFile(src, dst string) error {
	if err := os.Rename(src, dst); err == nil {
		return nil
	}
	if err := copyFile(src, dst); err != nil {
		os.Remove(src)
		return fmt.Errorf("failed to move output into place: %w", err)
	}
	return os.Remove(src)
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		os.Remove(dst)
		return err
	}
	if err := out.Sync(); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}
