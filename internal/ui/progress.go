package ui

import (
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/bamsammich/streamio/internal/stats"
)

// Source hands out statistics snapshots.
type Source interface {
	Statistics() []stats.Stat
}

// Progress prints one line per interval describing how fast the pipeline is
// delivering bytes. On a terminal the line is rewritten in place.
type Progress struct {
	w        io.Writer
	src      Source
	interval time.Duration
	rewrite  bool
	width    int

	rates     []float64
	lastBytes float64
	lastAt    time.Time
}

const sparkWidth = 16

func NewProgress(w io.Writer, src Source, interval time.Duration) *Progress {
	if interval <= 0 {
		interval = time.Second
	}
	p := &Progress{w: w, src: src, interval: interval}
	if isTerminal(w) {
		p.rewrite = true
		p.width = termWidth(w)
	}
	return p
}

// Run prints until ctx is done.
func (p *Progress) Run(ctx context.Context) {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()
	p.sample(time.Now(), p.src.Statistics())
	printed := false
	for {
		select {
		case <-ctx.Done():
			if p.rewrite && printed {
				fmt.Fprintln(p.w)
			}
			return
		case now := <-ticker.C:
			p.print(p.sample(now, p.src.Statistics()))
			printed = true
		}
	}
}

func (p *Progress) print(line string) {
	if !p.rewrite {
		fmt.Fprintln(p.w, line)
		return
	}
	if p.width > 1 {
		if runes := []rune(line); len(runes) >= p.width {
			line = string(runes[:p.width-1])
		}
	}
	fmt.Fprint(p.w, "\r\x1b[K"+line)
}

// sample folds a snapshot into the rate history and renders a line.
func (p *Progress) sample(now time.Time, snapshot []stats.Stat) string {
	bytesRead := value(snapshot, "Streamer.BytesRead")
	if !p.lastAt.IsZero() {
		if dt := now.Sub(p.lastAt).Seconds(); dt > 0 {
			p.rates = append(p.rates, max(bytesRead-p.lastBytes, 0)/dt)
			if len(p.rates) > sparkWidth {
				p.rates = p.rates[1:]
			}
		}
	}
	p.lastBytes, p.lastAt = bytesRead, now

	var rate float64
	if n := len(p.rates); n > 0 {
		rate = p.rates[n-1]
	}
	var b strings.Builder
	fmt.Fprintf(&b, "progress: %s %s  %s read  %s done",
		FormatRate(rate), Sparkline(p.rates, sparkWidth),
		stats.FormatBytes(int64(bytesRead)),
		FormatCount(int64(value(snapshot, "Streamer.RequestsCompleted"))))
	if failed := value(snapshot, "Streamer.RequestsFailed"); failed > 0 {
		fmt.Fprintf(&b, "  %s failed", FormatCount(int64(failed)))
	}
	if hit, ok := stats.Find(snapshot, "DedicatedCache.HitRate"); ok {
		fmt.Fprintf(&b, "  cache %.1f%%", hit.Value*100)
	}
	return b.String()
}

func value(snapshot []stats.Stat, name string) float64 {
	s, _ := stats.Find(snapshot, name)
	return s.Value
}
