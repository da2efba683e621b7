package codec

import (
	"sync"

	"github.com/klauspost/compress/zstd"
)

// The encoder and decoder are shared: EncodeAll and DecodeAll are safe for
// concurrent use and building them is comparatively expensive.
var (
	zstdOnce sync.Once
	zstdEnc  *zstd.Encoder
	zstdDec  *zstd.Decoder
	zstdErr  error
)

func initZstd() {
	zstdOnce.Do(func() {
		zstdEnc, zstdErr = zstd.NewWriter(nil,
			zstd.WithEncoderLevel(zstd.SpeedBetterCompression),
			zstd.WithEncoderConcurrency(1))
		if zstdErr != nil {
			return
		}
		zstdDec, zstdErr = zstd.NewReader(nil, zstd.WithDecoderConcurrency(1))
	})
}

// Compress zstd-compresses data. Output is deterministic for a given input.
func Compress(data []byte) ([]byte, error) {
	return compress(data)
}

// Decompress reverses Compress.
func Decompress(data []byte) ([]byte, error) {
	return decompress(data)
}

func compress(data []byte) ([]byte, error) {
	initZstd()
	if zstdErr != nil {
		return nil, zstdErr
	}
	return zstdEnc.EncodeAll(data, nil), nil
}

func decompress(data []byte) ([]byte, error) {
	initZstd()
	if zstdErr != nil {
		return nil, zstdErr
	}
	return zstdDec.DecodeAll(data, nil)
}
