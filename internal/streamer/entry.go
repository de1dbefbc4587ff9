package streamer

import (
	"log/slog"
	"math"
	"time"

	"github.com/bamsammich/streamio/internal/request"
	"github.com/bamsammich/streamio/internal/stats"
)

// Status is filled in top-down by UpdateStatus. Each stage lowers
// NumAvailableSlots to what it can still accept and clears IsIdle if it has
// work in flight.
type Status struct {
	NumAvailableSlots int
	IsIdle            bool
}

// NewStatus returns the neutral status a stack walk starts from.
func NewStatus() Status {
	return Status{NumAvailableSlots: math.MaxInt, IsIdle: true}
}

// Entry is one stage of the stack. All methods run on the scheduler
// goroutine.
type Entry interface {
	Name() string
	Next() Entry
	SetNext(next Entry)
	SetContext(ctx *Context)

	// PrepareRequest translates a request from the caller's form into the
	// form used inside the stack, ending with Context.PushPreparedRequest.
	PrepareRequest(r *request.Request)
	// QueueRequest takes ownership of r. The stage handles it, forwards it
	// or completes it.
	QueueRequest(r *request.Request)
	// ExecuteRequests performs at most one unit of deferred work per stage
	// and reports whether anything was done.
	ExecuteRequests() bool
	UpdateStatus(status *Status)
	// UpdateCompletionEstimates appends requests held by this stage to
	// internalPending and forwards. The bottom stage assigns estimates.
	UpdateCompletionEstimates(now time.Time, internalPending, pending []*request.Request)
	CollectStatistics(out []stats.Stat) []stats.Stat
}

// Chain links entries top to bottom and returns the top of the stack.
func Chain(entries ...Entry) Entry {
	if len(entries) == 0 {
		return nil
	}
	for i := 0; i < len(entries)-1; i++ {
		entries[i].SetNext(entries[i+1])
	}
	return entries[0]
}

// Link is embedded by every stage. Its methods forward to the next stage, or
// apply the unhandled policy at the bottom of the stack.
type Link struct {
	name string
	next Entry
	ctx  *Context
}

func newLink(name string) Link { return Link{name: name} }

func (l *Link) Name() string       { return l.name }
func (l *Link) Next() Entry        { return l.next }
func (l *Link) SetNext(next Entry) { l.next = next }
func (l *Link) Context() *Context  { return l.ctx }

func (l *Link) stat(name string) string {
	return l.name + "." + name
}

func (l *Link) SetContext(ctx *Context) {
	l.ctx = ctx
	if l.next != nil {
		l.next.SetContext(ctx)
	}
}

func (l *Link) PrepareRequest(r *request.Request) {
	if l.next != nil {
		l.next.PrepareRequest(r)
		return
	}
	l.ctx.PushPreparedRequest(r)
}

func (l *Link) QueueRequest(r *request.Request) {
	l.ForwardOrFail(r)
}

// ForwardOrFail hands r to the next stage. At the bottom of the stack the
// request is completed, or failed if its command must not go unhandled.
func (l *Link) ForwardOrFail(r *request.Request) {
	if l.next != nil {
		l.next.QueueRequest(r)
		return
	}
	if r.FailsWhenUnhandled() {
		slog.Debug("unhandled request failed", "stage", l.name, "kind", r.Kind())
		r.SetStatus(request.Failed)
	} else {
		r.SetStatus(request.Completed)
	}
	l.ctx.MarkRequestAsCompleted(r)
}

func (l *Link) ExecuteRequests() bool {
	if l.next != nil {
		return l.next.ExecuteRequests()
	}
	return false
}

func (l *Link) UpdateStatus(status *Status) {
	if l.next != nil {
		l.next.UpdateStatus(status)
	}
}

func (l *Link) UpdateCompletionEstimates(now time.Time, internalPending, pending []*request.Request) {
	if l.next != nil {
		l.next.UpdateCompletionEstimates(now, internalPending, pending)
	}
}

func (l *Link) CollectStatistics(out []stats.Stat) []stats.Stat {
	if l.next != nil {
		return l.next.CollectStatistics(out)
	}
	return out
}

// closeStack closes every entry that holds resources.
func closeStack(top Entry) error {
	var first error
	for e := top; e != nil; e = e.Next() {
		if c, ok := e.(interface{ Close() error }); ok {
			if err := c.Close(); err != nil && first == nil {
				first = err
			}
		}
	}
	return first
}
