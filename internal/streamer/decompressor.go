package streamer

import (
	"log/slog"
	"time"

	"github.com/bamsammich/streamio/internal/codec"
	"github.com/bamsammich/streamio/internal/request"
	"github.com/bamsammich/streamio/internal/stats"
)

// DecompressorConfig controls the decompression stage.
type DecompressorConfig struct {
	// MaxInFlight is the number of compressed reads outstanding at once.
	MaxInFlight int
}

func DefaultDecompressorConfig() DecompressorConfig {
	return DecompressorConfig{MaxInFlight: 4}
}

// Decompressor serves CompressedRead requests: it reads the compressed bytes
// into scratch memory through the stages below, then decodes them into the
// caller's output.
type Decompressor struct {
	Link
	cfg   DecompressorConfig
	codec codec.Codec

	inFlight int
	waiting  []*request.Request

	decoded       int64
	bytesIn       int64
	bytesOut      int64
	failures      int64
	canceled      int64
	decodeSeconds *stats.Average
}

func NewDecompressor(cfg DecompressorConfig, c codec.Codec) *Decompressor {
	if cfg.MaxInFlight <= 0 {
		cfg.MaxInFlight = DefaultDecompressorConfig().MaxInFlight
	}
	return &Decompressor{
		Link:          newLink("Decompressor"),
		cfg:           cfg,
		codec:         c,
		decodeSeconds: stats.NewAverage(64),
	}
}

func (d *Decompressor) QueueRequest(r *request.Request) {
	switch cmd := r.Command().(type) {
	case *request.CompressedRead:
		if d.inFlight >= d.cfg.MaxInFlight {
			d.waiting = append(d.waiting, r)
			return
		}
		d.start(r, cmd)
	case *request.Cancel:
		d.cancelWaiting(cmd.Target)
		d.ForwardOrFail(r)
	default:
		d.ForwardOrFail(r)
	}
}

func (d *Decompressor) start(r *request.Request, cmd *request.CompressedRead) {
	d.inFlight++
	compressed := make([]byte, cmd.CompressedSize)

	// The store keeps r open until the compressed bytes are in and decoded.
	store := d.ctx.GetNewInternalRequest()
	store.CreatePathStore(r, cmd.Path)
	store.SetCompletionCallback(func(s *request.Request) {
		d.inFlight--
		if s.Status() == request.Completed {
			d.decode(s, cmd, compressed)
		}
		d.startWaiting()
	})

	read := d.ctx.GetNewInternalRequest()
	read.CreateRead(store, compressed, cmd.Path, cmd.Offset, cmd.CompressedSize, cmd.Deadline, cmd.Priority)
	d.ForwardOrFail(read)
}

func (d *Decompressor) decode(s *request.Request, cmd *request.CompressedRead, compressed []byte) {
	start := time.Now()
	n, err := d.codec.Decompress(cmd.Output, compressed)
	if err != nil {
		slog.Warn("decompression failed", "path", cmd.Path, "codec", d.codec.Name(), "error", err)
		d.failures++
		s.SetStatus(request.Failed)
		return
	}
	d.decodeSeconds.Push(time.Since(start).Seconds())
	d.decoded++
	d.bytesIn += int64(len(compressed))
	d.bytesOut += int64(n)
}

func (d *Decompressor) startWaiting() {
	for len(d.waiting) > 0 && d.inFlight < d.cfg.MaxInFlight {
		r := d.waiting[0]
		d.waiting[0] = nil
		d.waiting = d.waiting[1:]
		d.start(r, r.Command().(*request.CompressedRead))
	}
}

func (d *Decompressor) cancelWaiting(target *request.Request) {
	kept := d.waiting[:0]
	for _, r := range d.waiting {
		if r.WorksOn(target) {
			r.SetStatus(request.Canceled)
			d.ctx.MarkRequestAsCompleted(r)
			d.canceled++
			continue
		}
		kept = append(kept, r)
	}
	clear(d.waiting[len(kept):])
	d.waiting = kept
}

func (d *Decompressor) UpdateStatus(status *Status) {
	status.IsIdle = status.IsIdle && d.inFlight == 0 && len(d.waiting) == 0
	d.Link.UpdateStatus(status)
}

func (d *Decompressor) UpdateCompletionEstimates(now time.Time, internalPending, pending []*request.Request) {
	internalPending = append(internalPending, d.waiting...)
	d.Link.UpdateCompletionEstimates(now, internalPending, pending)
}

func (d *Decompressor) CollectStatistics(out []stats.Stat) []stats.Stat {
	ratio := 0.0
	if d.bytesOut > 0 {
		ratio = float64(d.bytesIn) / float64(d.bytesOut)
	}
	out = append(out,
		stats.Count(d.stat("Decoded"), d.decoded),
		stats.Count(d.stat("Failures"), d.failures),
		stats.Count(d.stat("Canceled"), d.canceled),
		stats.Bytes(d.stat("BytesIn"), d.bytesIn),
		stats.Bytes(d.stat("BytesOut"), d.bytesOut),
		stats.Percentage(d.stat("CompressionRatio"), ratio),
		stats.Seconds(d.stat("AvgDecodeTime"), time.Duration(d.decodeSeconds.Value()*float64(time.Second))),
	)
	return d.Link.CollectStatistics(out)
}
