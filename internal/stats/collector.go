package stats

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"
)

const ringSize = 60

// Collector tracks facade-level request counters using lock-free atomics.
// Producers bump the queued counter; the scheduler goroutine the rest.
type Collector struct {
	requestsQueued    atomic.Int64
	requestsCompleted atomic.Int64
	requestsFailed    atomic.Int64
	requestsCanceled  atomic.Int64
	bytesRead         atomic.Int64
	startTime         time.Time

	// Ring buffer, written only by Tick.
	mu         sync.Mutex
	throughput [ringSize]int64 // bytes delta per tick
	completed  [ringSize]int64 // requests delta per tick
	ringIdx    int
	ringCount  int // samples written, capped at ringSize
	lastBytes  int64
	lastDone   int64
}

// NewCollector creates a Collector with startTime set to now.
func NewCollector() *Collector {
	return &Collector{startTime: time.Now()}
}

// Snapshot is a point-in-time read of all counters.
type Snapshot struct {
	RequestsQueued    int64
	RequestsCompleted int64
	RequestsFailed    int64
	RequestsCanceled  int64
	BytesRead         int64
	Elapsed           time.Duration
}

func (c *Collector) AddRequestsQueued(n int64)    { c.requestsQueued.Add(n) }
func (c *Collector) AddRequestsCompleted(n int64) { c.requestsCompleted.Add(n) }
func (c *Collector) AddRequestsFailed(n int64)    { c.requestsFailed.Add(n) }
func (c *Collector) AddRequestsCanceled(n int64)  { c.requestsCanceled.Add(n) }
func (c *Collector) AddBytesRead(n int64)         { c.bytesRead.Add(n) }

// Snapshot returns a consistent point-in-time read of all counters.
func (c *Collector) Snapshot() Snapshot {
	return Snapshot{
		RequestsQueued:    c.requestsQueued.Load(),
		RequestsCompleted: c.requestsCompleted.Load(),
		RequestsFailed:    c.requestsFailed.Load(),
		RequestsCanceled:  c.requestsCanceled.Load(),
		BytesRead:         c.bytesRead.Load(),
		Elapsed:           c.Elapsed(),
	}
}

// Stats renders the snapshot as named statistics.
func (s Snapshot) Stats(prefix string) []Stat {
	return []Stat{
		Count(prefix+".RequestsQueued", s.RequestsQueued),
		Count(prefix+".RequestsCompleted", s.RequestsCompleted),
		Count(prefix+".RequestsFailed", s.RequestsFailed),
		Count(prefix+".RequestsCanceled", s.RequestsCanceled),
		Bytes(prefix+".BytesRead", s.BytesRead),
	}
}

// Tick snapshots byte/request deltas into the ring buffer. Called once per
// statistics interval by the scheduler.
func (c *Collector) Tick() {
	currentBytes := c.bytesRead.Load()
	currentDone := c.requestsCompleted.Load()

	c.mu.Lock()
	defer c.mu.Unlock()

	c.throughput[c.ringIdx] = currentBytes - c.lastBytes
	c.completed[c.ringIdx] = currentDone - c.lastDone
	c.lastBytes = currentBytes
	c.lastDone = currentDone

	c.ringIdx = (c.ringIdx + 1) % ringSize
	if c.ringCount < ringSize {
		c.ringCount++
	}
}

// RollingThroughput returns average bytes per tick over the last n ticks.
func (c *Collector) RollingThroughput(n int) float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.rollingAvg(c.throughput[:], n)
}

// RollingCompletions returns average completed requests per tick over the
// last n ticks.
func (c *Collector) RollingCompletions(n int) float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.rollingAvg(c.completed[:], n)
}

func (c *Collector) rollingAvg(buf []int64, n int) float64 {
	count := min(n, c.ringCount)
	if count == 0 {
		return 0
	}
	var sum int64
	for i := range count {
		idx := (c.ringIdx - 1 - i + ringSize) % ringSize
		sum += buf[idx]
	}
	return float64(sum) / float64(count)
}

// Elapsed returns time since collector creation.
func (c *Collector) Elapsed() time.Duration {
	return time.Since(c.startTime)
}

func (s Snapshot) String() string {
	return fmt.Sprintf(
		"queued=%d completed=%d failed=%d canceled=%d bytes=%d",
		s.RequestsQueued, s.RequestsCompleted, s.RequestsFailed,
		s.RequestsCanceled, s.BytesRead,
	)
}

// FormatBytes returns a human-readable byte count.
func FormatBytes(b int64) string {
	const unit = 1024
	if b < unit {
		return fmt.Sprintf("%d B", b)
	}
	div, exp := int64(unit), 0
	for n := b / unit; n >= unit; n /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %ciB", float64(b)/float64(div), "KMGTPE"[exp])
}
