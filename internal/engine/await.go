// Package engine runs whole-file workloads on a running Streamer: reading,
// hashing, existence checks and throughput benchmarks. Every function
// expects the Streamer's scheduler to be started.
package engine

import (
	"context"
	"errors"
	"time"

	"github.com/bamsammich/streamio/internal/request"
	"github.com/bamsammich/streamio/internal/streamer"
)

var (
	ErrFailed   = errors.New("request failed")
	ErrCanceled = errors.New("request canceled")
)

// inflight is a queued request and the signal for its completion.
type inflight struct {
	h        streamer.Handle
	done     chan struct{}
	started  time.Time
	finished time.Time
	offset   uint64
	buf      []byte
}

// submit registers a completion signal on h and queues it.
func submit(s *streamer.Streamer, h streamer.Handle) *inflight {
	p := &inflight{h: h, done: make(chan struct{}), started: time.Now()}
	s.SetRequestCompleteCallback(h, func(streamer.Handle) {
		p.finished = time.Now()
		close(p.done)
	})
	s.QueueRequest(h)
	return p
}

// wait blocks until p is finalized. If ctx ends first, or has already ended,
// the request is canceled and wait still blocks until the cancel lands so the
// caller's buffer is no longer written to.
func (p *inflight) wait(ctx context.Context, s *streamer.Streamer) (request.Status, error) {
	if ctx.Err() == nil {
		select {
		case <-p.done:
			return s.GetRequestStatus(p.h), nil
		case <-ctx.Done():
		}
	}
	cancel := s.Cancel(p.h)
	s.QueueRequest(cancel)
	<-p.done
	cancel.Release()
	return s.GetRequestStatus(p.h), ctx.Err()
}

func (p *inflight) latency() time.Duration { return p.finished.Sub(p.started) }

// abandon cancels every request in ps and waits for all of them.
func abandon(s *streamer.Streamer, ps []*inflight) {
	var cancels []streamer.Handle
	for _, p := range ps {
		cancels = append(cancels, s.Cancel(p.h))
	}
	if len(cancels) > 0 {
		s.QueueRequestBatch(cancels)
	}
	for i, p := range ps {
		<-p.done
		p.h.Release()
		cancels[i].Release()
	}
}

// Await queues h and blocks until it is finalized or ctx ends.
func Await(ctx context.Context, s *streamer.Streamer, h streamer.Handle) (request.Status, error) {
	return submit(s, h).wait(ctx, s)
}

// statusErr maps a terminal status to ErrFailed or ErrCanceled.
func statusErr(status request.Status) error {
	switch status {
	case request.Completed:
		return nil
	case request.Canceled:
		return ErrCanceled
	default:
		return ErrFailed
	}
}
