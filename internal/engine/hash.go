package engine

import (
	"context"
	"encoding/hex"
	"fmt"
	"io/fs"

	"github.com/zeebo/blake3"

	"github.com/bamsammich/streamio/internal/request"
	"github.com/bamsammich/streamio/internal/streamer"
)

// HashConfig controls how a file is streamed into the hasher.
type HashConfig struct {
	ChunkSize uint64
	// Window is the number of chunk reads kept in flight.
	Window   int
	Priority request.Priority
}

func DefaultHashConfig() HashConfig {
	return HashConfig{ChunkSize: 1 << 20, Window: 4, Priority: request.PriorityMedium}
}

// HashFile streams path through the pipeline and returns the hex-encoded
// BLAKE3 digest along with the number of bytes hashed.
func HashFile(ctx context.Context, s *streamer.Streamer, path string, cfg HashConfig) (string, uint64, error) {
	def := DefaultHashConfig()
	if cfg.ChunkSize == 0 {
		cfg.ChunkSize = def.ChunkSize
	}
	if cfg.Window <= 0 {
		cfg.Window = def.Window
	}

	info, err := Stat(ctx, s, path)
	if err != nil {
		return "", 0, err
	}
	if !info.Exists {
		return "", 0, fmt.Errorf("hash %s: %w", path, fs.ErrNotExist)
	}

	h := blake3.New()
	var (
		window []*inflight
		next   uint64
	)
	for next < info.Size || len(window) > 0 {
		for len(window) < cfg.Window && next < info.Size {
			size := min(cfg.ChunkSize, info.Size-next)
			buf := make([]byte, size)
			p := submit(s, s.Read(path, buf, next, streamer.NoDeadline, cfg.Priority))
			p.offset, p.buf = next, buf
			window = append(window, p)
			next += size
		}

		// Chunks are hashed in file order, so only the oldest read is awaited.
		p := window[0]
		window = window[1:]
		status, err := p.wait(ctx, s)
		p.h.Release()
		if err == nil {
			err = statusErr(status)
		}
		if err != nil {
			abandon(s, window)
			return "", 0, fmt.Errorf("hash %s at %d: %w", path, p.offset, err)
		}
		h.Write(p.buf) //nolint:errcheck // hash.Hash never fails
	}
	return hex.EncodeToString(h.Sum(nil)), info.Size, nil
}
