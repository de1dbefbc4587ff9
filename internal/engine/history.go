package engine

import (
	"context"
	"log/slog"
	"time"

	"github.com/bamsammich/streamio/internal/stats"
)

// Snapshotter publishes a statistics snapshot.
type Snapshotter interface {
	Statistics() []stats.Stat
}

// RecordHistory appends a snapshot of src to h every interval until ctx
// ends, then records a final snapshot. Failed writes are logged and skipped.
func RecordHistory(ctx context.Context, src Snapshotter, h *stats.History, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	record := func(at time.Time) {
		if err := h.Record(at, src.Statistics()); err != nil {
			slog.Warn("record statistics", "path", h.Path(), "error", err)
		}
	}
	for {
		select {
		case <-ctx.Done():
			record(time.Now())
			return
		case now := <-ticker.C:
			record(now)
		}
	}
}
