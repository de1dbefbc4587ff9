// Package codec decompresses payloads for compressed-read commands.
package codec

import (
	"errors"
	"fmt"
	"sync"

	"github.com/klauspost/compress/zstd"
)

// ErrSizeMismatch is returned when decompressed output does not exactly fill
// the destination buffer.
var ErrSizeMismatch = errors.New("codec: decompressed size mismatch")

// Codec decompresses a complete compressed block.
type Codec interface {
	Name() string
	// Decompress decodes src into dst and returns the number of bytes produced.
	Decompress(dst, src []byte) (int, error)
}

// Zstd decodes zstd frames. The decoder runs single-threaded since it is only
// used from the scheduler goroutine.
type Zstd struct {
	decoder *zstd.Decoder

	encOnce sync.Once
	encoder *zstd.Encoder
	encErr  error
}

// NewZstd creates a zstd codec.
func NewZstd() (*Zstd, error) {
	decoder, err := zstd.NewReader(nil, zstd.WithDecoderConcurrency(1))
	if err != nil {
		return nil, fmt.Errorf("zstd decoder: %w", err)
	}
	return &Zstd{decoder: decoder}, nil
}

func (*Zstd) Name() string { return "zstd" }

// Decompress decodes src into dst. The output must fit dst exactly.
func (z *Zstd) Decompress(dst, src []byte) (int, error) {
	out, err := z.decoder.DecodeAll(src, dst[:0])
	if err != nil {
		return 0, fmt.Errorf("zstd decode: %w", err)
	}
	if len(out) != len(dst) {
		return len(out), fmt.Errorf("%w: got %d bytes, want %d", ErrSizeMismatch, len(out), len(dst))
	}
	if len(out) > 0 && &out[0] != &dst[0] {
		copy(dst, out)
	}
	return len(out), nil
}

// Compress encodes src as a single zstd frame using level 1 (SpeedFastest)
// with single-threaded encoding. Used to produce archives for compressed reads.
func (z *Zstd) Compress(src []byte) ([]byte, error) {
	z.encOnce.Do(func() {
		z.encoder, z.encErr = zstd.NewWriter(nil,
			zstd.WithEncoderLevel(zstd.SpeedFastest),
			zstd.WithEncoderConcurrency(1),
		)
	})
	if z.encErr != nil {
		return nil, fmt.Errorf("zstd encoder: %w", z.encErr)
	}
	return z.encoder.EncodeAll(src, nil), nil
}

// Close releases the decoder and encoder.
func (z *Zstd) Close() {
	z.decoder.Close()
	if z.encoder != nil {
		z.encoder.Close()
	}
}
