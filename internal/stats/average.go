package stats

// Average is a moving average over the last N samples. It is not safe for
// concurrent use; stages only touch it from the scheduler goroutine.
type Average struct {
	samples []float64
	idx     int
	count   int
	sum     float64
}

// NewAverage creates a moving average over window samples.
func NewAverage(window int) *Average {
	return &Average{samples: make([]float64, max(window, 1))}
}

// Push adds a sample, evicting the oldest once the window is full.
func (a *Average) Push(v float64) {
	if a.count == len(a.samples) {
		a.sum -= a.samples[a.idx]
	} else {
		a.count++
	}
	a.samples[a.idx] = v
	a.sum += v
	a.idx = (a.idx + 1) % len(a.samples)
}

// Value returns the current average, or 0 without samples.
func (a *Average) Value() float64 {
	if a.count == 0 {
		return 0
	}
	return a.sum / float64(a.count)
}

// Total returns the sum of the samples in the window.
func (a *Average) Total() float64 { return a.sum }

// Count returns the number of samples in the window.
func (a *Average) Count() int { return a.count }

// HitRate tracks hits against total lookups.
type HitRate struct {
	hits   int64
	misses int64
}

func (h *HitRate) Hit()  { h.hits++ }
func (h *HitRate) Miss() { h.misses++ }

// Record counts a hit when hit is true and a miss otherwise.
func (h *HitRate) Record(hit bool) {
	if hit {
		h.hits++
	} else {
		h.misses++
	}
}

func (h *HitRate) Hits() int64   { return h.hits }
func (h *HitRate) Misses() int64 { return h.misses }

// Ratio returns hits/(hits+misses), or 0 without lookups.
func (h *HitRate) Ratio() float64 {
	total := h.hits + h.misses
	if total == 0 {
		return 0
	}
	return float64(h.hits) / float64(total)
}
