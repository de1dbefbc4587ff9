package fileio

import (
	"context"

	"golang.org/x/time/rate"
)

// maxBurst lets a typical drive read through without stalling on small reads.
const maxBurst = 1 << 20

// Throttle caps the aggregate rate at which bytes are delivered by every file
// opened from one file system.
type Throttle struct {
	limiter *rate.Limiter
}

// NewThrottle allows bytesPerSec with a burst of at most one second's worth.
func NewThrottle(bytesPerSec int64) *Throttle {
	burst := int(min(bytesPerSec, maxBurst))
	return &Throttle{limiter: rate.NewLimiter(rate.Limit(bytesPerSec), burst)}
}

func (t *Throttle) Burst() int { return t.limiter.Burst() }

// Take blocks until n bytes may be delivered. Requests larger than the burst
// are paid for in burst-sized installments.
func (t *Throttle) Take(ctx context.Context, n int) error {
	for n > 0 {
		step := min(n, t.limiter.Burst())
		if err := t.limiter.WaitN(ctx, step); err != nil {
			return err
		}
		n -= step
	}
	return nil
}
