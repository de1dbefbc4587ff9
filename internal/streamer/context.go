package streamer

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/bamsammich/streamio/internal/request"
)

// requestBatchSize is how many requests a pool allocates when its free list
// runs dry.
const requestBatchSize = 64

// Context is the shared state every stage reports to: request pools, the
// prepared queue, the completed queue and the scheduler's wake gate.
//
// Only the external pool and the completed queue may be touched from producer
// goroutines; everything else belongs to the scheduler goroutine.
type Context struct {
	internalFree []*request.Request

	externalMu   sync.Mutex
	externalFree []*request.Request

	prepared      []*request.Request
	nextPendingID uint64

	completedMu sync.Mutex
	completed   []*request.Request
	draining    []*request.Request

	wake chan struct{}
}

// NewContext creates an empty context.
func NewContext() *Context {
	return &Context{wake: make(chan struct{}, 1)}
}

// GetNewInternalRequest returns a clean request owned by the scheduler. It is
// recycled automatically once finalized.
func (c *Context) GetNewInternalRequest() *request.Request {
	if len(c.internalFree) == 0 {
		for range requestBatchSize {
			c.internalFree = append(c.internalFree, request.New(request.Internal, nil))
		}
	}
	last := len(c.internalFree) - 1
	r := c.internalFree[last]
	c.internalFree[last] = nil
	c.internalFree = c.internalFree[:last]
	return r
}

// GetNewExternalRequest returns a clean request holding one reference for
// the caller. Safe for concurrent use.
func (c *Context) GetNewExternalRequest() *request.Request {
	c.externalMu.Lock()
	if len(c.externalFree) == 0 {
		for range requestBatchSize {
			c.externalFree = append(c.externalFree, request.New(request.External, c))
		}
	}
	last := len(c.externalFree) - 1
	r := c.externalFree[last]
	c.externalFree[last] = nil
	c.externalFree = c.externalFree[:last]
	c.externalMu.Unlock()

	r.AddRef()
	return r
}

// RecycleExternal returns an external request to its pool once its last
// reference is released. Unclaimed allocator memory is handed back first.
func (c *Context) RecycleExternal(r *request.Request) {
	if read, ok := r.Command().(*request.ReadRequest); ok {
		if read.Allocated && !read.Claimed && read.Allocator != nil {
			read.Allocator.Release(read.Output)
		}
	}
	r.Reset()

	c.externalMu.Lock()
	c.externalFree = append(c.externalFree, r)
	c.externalMu.Unlock()
}

func (c *Context) recycleInternal(r *request.Request) {
	r.Reset()
	c.internalFree = append(c.internalFree, r)
}

// PushPreparedRequest appends a request that finished preparation. Prepared
// requests are handed to the stack in pending-id order.
func (c *Context) PushPreparedRequest(r *request.Request) {
	c.nextPendingID++
	r.SetPendingID(c.nextPendingID)
	r.SetStatus(request.Queued)
	c.prepared = append(c.prepared, r)
}

// PopPreparedRequest removes and returns the oldest prepared request, or nil.
func (c *Context) PopPreparedRequest() *request.Request {
	if len(c.prepared) == 0 {
		return nil
	}
	r := c.prepared[0]
	c.prepared[0] = nil
	c.prepared = c.prepared[1:]
	return r
}

// TakePreparedControlRequests removes the prepared Cancel and Reschedule
// requests and returns them in order. They hold no stage slot.
func (c *Context) TakePreparedControlRequests() []*request.Request {
	var control []*request.Request
	kept := c.prepared[:0]
	for _, r := range c.prepared {
		switch r.Command().(type) {
		case *request.Cancel, *request.Reschedule:
			control = append(control, r)
		default:
			kept = append(kept, r)
		}
	}
	clear(c.prepared[len(kept):])
	c.prepared = kept
	return control
}

// PreparedRequests returns the prepared queue in order. The slice must not be
// modified.
func (c *Context) PreparedRequests() []*request.Request {
	return c.prepared
}

func (c *Context) NumPreparedRequests() int { return len(c.prepared) }

// CancelPreparedRequests cancels and completes every prepared request working
// on target. It returns the number canceled.
func (c *Context) CancelPreparedRequests(target *request.Request) int {
	kept := c.prepared[:0]
	canceled := 0
	for _, r := range c.prepared {
		if r.WorksOn(target) {
			r.SetStatus(request.Canceled)
			c.MarkRequestAsCompleted(r)
			canceled++
			continue
		}
		kept = append(kept, r)
	}
	clear(c.prepared[len(kept):])
	c.prepared = kept
	return canceled
}

// ReschedulePreparedRequests updates deadline and priority of prepared reads
// working on target. Queue order is left untouched.
func (c *Context) ReschedulePreparedRequests(target *request.Request, deadline time.Time, priority request.Priority) {
	for _, r := range c.prepared {
		if !r.WorksOn(target) {
			continue
		}
		switch cmd := r.Command().(type) {
		case *request.Read:
			cmd.Deadline, cmd.Priority = deadline, priority
		case *request.CompressedRead:
			cmd.Deadline, cmd.Priority = deadline, priority
		}
	}
}

// MarkRequestAsCompleted queues r for finalization. A request without a
// terminal status is marked Completed. Safe for concurrent use.
func (c *Context) MarkRequestAsCompleted(r *request.Request) {
	if deps := r.Dependencies(); deps != 0 {
		panic(fmt.Sprintf("streamer: %s marked completed with %d outstanding dependencies", r.Kind(), deps))
	}
	r.SetStatus(request.Completed)

	c.completedMu.Lock()
	c.completed = append(c.completed, r)
	c.completedMu.Unlock()

	c.WakeUp()
}

// FinalizeCompletedRequests runs completion callbacks, releases parents and
// recycles internal requests. Callbacks may complete more requests, so the
// queue is drained until it stays empty. Returns whether anything was done.
func (c *Context) FinalizeCompletedRequests() bool {
	processed := false
	for {
		c.completedMu.Lock()
		batch := c.completed
		c.completed = c.draining[:0]
		c.completedMu.Unlock()

		if len(batch) == 0 {
			c.draining = batch
			return processed
		}
		processed = true

		for i, r := range batch {
			c.finalize(r)
			batch[i] = nil
		}
		c.draining = batch
	}
}

func (c *Context) finalize(r *request.Request) {
	if fn := r.TakeCompletionCallback(); fn != nil {
		fn(r)
	}

	if parent := r.DetachParent(); parent != nil {
		// Only failures travel up early; a parent with children still in
		// flight must not look completed.
		if st := r.Status(); st == request.Failed || st == request.Canceled {
			parent.SetStatus(st)
		}
		if parent.ReleaseDependency() == 0 {
			c.MarkRequestAsCompleted(parent)
		}
	}

	if r.Usage() != request.Internal {
		return
	}
	var linked *request.Request
	if link, ok := r.Command().(*request.ExternalLink); ok {
		linked = link.Target
	}
	c.recycleInternal(r)
	if linked != nil {
		linked.Release()
	}
}

// NumCompletedRequests returns the number of requests awaiting finalization.
func (c *Context) NumCompletedRequests() int {
	c.completedMu.Lock()
	defer c.completedMu.Unlock()
	return len(c.completed)
}

// WakeUp releases a suspended scheduler. Safe for concurrent use.
func (c *Context) WakeUp() {
	select {
	case c.wake <- struct{}{}:
	default:
	}
}

// Suspend blocks until WakeUp is called, the timeout elapses (if positive) or
// ctx is done.
func (c *Context) Suspend(ctx context.Context, timeout time.Duration) {
	if timeout <= 0 {
		select {
		case <-c.wake:
		case <-ctx.Done():
		}
		return
	}
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case <-c.wake:
	case <-timer.C:
	case <-ctx.Done():
	}
}
