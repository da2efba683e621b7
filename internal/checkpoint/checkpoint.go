// Package checkpoint serializes encoder state so a session can resume
// exactly where it stopped.
//
// File layout (little endian):
//
//	magic   "TQCK"
//	version uint16
//	crc     uint32  CRC-32 (IEEE) of body
//	length  uint32  len(body)
//	body    zstd-compressed sections
//
// Each section is a 4-byte tag, a uint32 length and the payload. Sections
// appear in a fixed order: DIMS, FCNT, REFS, TABL, STAT, END!.
package checkpoint

import (
	"encoding/binary"
	"errors"
	"fmt"
	"hash/crc32"
	"os"
	"path/filepath"

	"github.com/gwlsn/tqenc/internal/codec"
	"github.com/gwlsn/tqenc/internal/encoder"
	"github.com/gwlsn/tqenc/internal/logger"
)

// Version is the current layout version.
const Version = 1

const (
	magic      = "TQCK"
	headerSize = 4 + 2 + 4 + 4
)

// Sentinel errors for checkpoint decoding.
var (
	ErrCorruptCheckpoint = errors.New("corrupt checkpoint")
	ErrDimensionMismatch = errors.New("checkpoint dimension mismatch")
)

var sectionOrder = [...]string{"DIMS", "FCNT", "REFS", "TABL", "STAT", "END!"}

func corrupt(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrCorruptCheckpoint, fmt.Sprintf(format, args...))
}

// Marshal encodes the checkpointed fields of s.
func Marshal(s *encoder.State) ([]byte, error) {
	if s == nil {
		return nil, errors.New("checkpoint: nil state")
	}
	var body []byte
	body = appendSection(body, "DIMS", encodeDims(s))
	body = appendSection(body, "FCNT", binary.LittleEndian.AppendUint64(nil, s.FrameCount))
	body = appendSection(body, "REFS", encodeRefs(s))
	body = appendSection(body, "TABL", encodeTables(&s.Tables))
	body = appendSection(body, "STAT", encodeStats(s.Stats))
	body = appendSection(body, "END!", nil)

	packed, err := codec.Compress(body)
	if err != nil {
		return nil, fmt.Errorf("checkpoint: compress: %w", err)
	}

	out := make([]byte, 0, headerSize+len(packed))
	out = append(out, magic...)
	out = binary.LittleEndian.AppendUint16(out, Version)
	out = binary.LittleEndian.AppendUint32(out, crc32.ChecksumIEEE(packed))
	out = binary.LittleEndian.AppendUint32(out, uint32(len(packed)))
	return append(out, packed...), nil
}

// Unmarshal decodes data into a state for the given session parameters.
func Unmarshal(data []byte, destination string, twoPass bool) (*encoder.State, error) {
	if len(data) < headerSize {
		return nil, corrupt("file is %d bytes, header needs %d", len(data), headerSize)
	}
	if string(data[:4]) != magic {
		return nil, corrupt("bad magic %q", data[:4])
	}
	if v := binary.LittleEndian.Uint16(data[4:]); v != Version {
		return nil, corrupt("unsupported version %d", v)
	}
	sum := binary.LittleEndian.Uint32(data[6:])
	n := binary.LittleEndian.Uint32(data[10:])
	packed := data[headerSize:]
	if uint64(len(packed)) != uint64(n) {
		return nil, corrupt("body is %d bytes, header says %d", len(packed), n)
	}
	if crc32.ChecksumIEEE(packed) != sum {
		return nil, corrupt("checksum mismatch")
	}
	body, err := codec.Decompress(packed)
	if err != nil {
		return nil, corrupt("decompress: %v", err)
	}

	s := &encoder.State{Destination: destination, TwoPass: twoPass}
	for _, want := range sectionOrder {
		tag, payload, rest, err := nextSection(body)
		if err != nil {
			return nil, err
		}
		if tag != want {
			return nil, corrupt("section %q where %q expected", tag, want)
		}
		body = rest

		switch tag {
		case "DIMS":
			err = decodeDims(payload, s)
		case "FCNT":
			if len(payload) != 8 {
				return nil, corrupt("FCNT is %d bytes", len(payload))
			}
			s.FrameCount = binary.LittleEndian.Uint64(payload)
		case "REFS":
			err = decodeRefs(payload, s)
		case "TABL":
			err = decodeTables(payload, &s.Tables)
		case "STAT":
			s.Stats, err = decodeStats(payload)
		case "END!":
			if len(payload) != 0 {
				return nil, corrupt("END! section has payload")
			}
		}
		if err != nil {
			return nil, err
		}
	}
	if len(body) != 0 {
		return nil, corrupt("%d trailing bytes after END!", len(body))
	}
	return s, nil
}

// Write stores s at path. The file is replaced atomically: readers see
// either the previous checkpoint or the new one, never a partial write.
func Write(path string, s *encoder.State) error {
	data, err := Marshal(s)
	if err != nil {
		return err
	}

	dir := filepath.Dir(path)
	f, err := os.CreateTemp(dir, filepath.Base(path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("checkpoint: create temp: %w", err)
	}
	tmp := f.Name()
	cleanup := func() {
		f.Close()
		os.Remove(tmp)
	}

	if _, err := f.Write(data); err != nil {
		cleanup()
		return fmt.Errorf("checkpoint: write: %w", err)
	}
	if err := f.Sync(); err != nil {
		cleanup()
		return fmt.Errorf("checkpoint: sync: %w", err)
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("checkpoint: close: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("checkpoint: rename: %w", err)
	}

	logger.Debug("Checkpoint written", "path", path, "frames", s.FrameCount, "bytes", len(data))
	return nil
}

// Read loads the checkpoint at path.
func Read(path, destination string, twoPass bool) (*encoder.State, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("checkpoint: %w", err)
	}
	s, err := Unmarshal(data, destination, twoPass)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return s, nil
}
