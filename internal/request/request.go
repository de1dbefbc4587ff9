package request

import (
	"fmt"
	"math"
	"sync/atomic"
	"time"
)

// MaxDependencies is the hard cap on outstanding children per request.
const MaxDependencies = math.MaxUint16

// Usage records which pool a request came from.
type Usage uint8

const (
	Internal Usage = iota
	External
)

// Recycler takes back external requests whose reference count dropped to zero.
type Recycler interface {
	RecycleExternal(r *Request)
}

// Request is the unit of work flowing through the stack. Requests are pooled;
// every recycle bumps the generation so stale parent links and handles are
// detected instead of silently aliasing a reused request.
//
// Apart from status, estimate and reference count, fields are owned by the
// scheduler goroutine once the request has been queued.
type Request struct {
	command    Command
	parent     *Request
	parentGen  uint32
	onComplete func(*Request)

	status     atomic.Int32
	estimate   atomic.Int64
	generation atomic.Uint32
	refs       atomic.Int32

	pendingID    uint64
	dependencies uint16
	usage        Usage
	recycler     Recycler
}

// New returns a fresh request for the given pool. Pools call this when their
// free list is empty.
func New(usage Usage, recycler Recycler) *Request {
	return &Request{usage: usage, recycler: recycler}
}

// Reset clears the request for reuse and advances its generation.
func (r *Request) Reset() {
	r.command = nil
	r.parent = nil
	r.parentGen = 0
	r.onComplete = nil
	r.status.Store(int32(Pending))
	r.estimate.Store(0)
	r.refs.Store(0)
	r.pendingID = 0
	r.dependencies = 0
	r.generation.Add(1)
}

func (r *Request) Usage() Usage       { return r.usage }
func (r *Request) Generation() uint32 { return r.generation.Load() }
func (r *Request) Command() Command   { return r.command }

// Kind returns the kind of the assigned command, or KindNone.
func (r *Request) Kind() Kind {
	if r.command == nil {
		return KindNone
	}
	return r.command.Kind()
}

func (r *Request) assign(parent *Request, c Command) {
	if r.command != nil {
		panic(fmt.Sprintf("request: command %s already assigned, cannot assign %s", r.command.Kind(), c.Kind()))
	}
	r.command = c
	if parent != nil {
		r.SetParent(parent)
	}
}

// SetParent links r under parent and increments the parent's dependency count.
func (r *Request) SetParent(parent *Request) {
	if r.parent != nil {
		panic("request: parent already set")
	}
	if parent.dependencies == MaxDependencies {
		panic("request: dependency limit reached")
	}
	parent.dependencies++
	r.parent = parent
	r.parentGen = parent.Generation()
}

// Parent returns the request r reports to, or nil. It panics if the parent
// was recycled while r still referenced it.
func (r *Request) Parent() *Request {
	if r.parent == nil {
		return nil
	}
	if r.parent.Generation() != r.parentGen {
		panic("request: parent was recycled while still referenced")
	}
	return r.parent
}

// DetachParent clears the parent link and returns the former parent.
func (r *Request) DetachParent() *Request {
	p := r.Parent()
	r.parent = nil
	r.parentGen = 0
	return p
}

// Dependencies returns the number of children that have not yet finalized.
func (r *Request) Dependencies() uint16 { return r.dependencies }

// ReleaseDependency decrements the dependency count after a child finalized
// and returns the remaining count.
func (r *Request) ReleaseDependency() uint16 {
	if r.dependencies == 0 {
		panic("request: dependency count underflow")
	}
	r.dependencies--
	return r.dependencies
}

// Status returns the current status. Safe to call from any goroutine.
func (r *Request) Status() Status { return Status(r.status.Load()) }

// SetStatus moves the request to s unless that would weaken a terminal state.
func (r *Request) SetStatus(s Status) {
	for {
		cur := r.status.Load()
		if !s.overrides(Status(cur)) {
			return
		}
		if r.status.CompareAndSwap(cur, int32(s)) {
			return
		}
	}
}

// EstimatedCompletion returns the projected completion time, or the zero
// time if no estimate has been made.
func (r *Request) EstimatedCompletion() time.Time {
	ns := r.estimate.Load()
	if ns == 0 {
		return time.Time{}
	}
	return time.Unix(0, ns)
}

// SetEstimatedCompletion records t on r and every ancestor.
func (r *Request) SetEstimatedCompletion(t time.Time) {
	ns := t.UnixNano()
	for cur := r; cur != nil; cur = cur.parent {
		cur.estimate.Store(ns)
	}
}

// SetCompletionCallback registers fn to run once r is finalized.
func (r *Request) SetCompletionCallback(fn func(*Request)) {
	r.onComplete = fn
}

// TakeCompletionCallback returns the callback and clears it so it can only
// run once.
func (r *Request) TakeCompletionCallback() func(*Request) {
	fn := r.onComplete
	r.onComplete = nil
	return fn
}

func (r *Request) PendingID() uint64       { return r.pendingID }
func (r *Request) SetPendingID(id uint64) { r.pendingID = id }

// WorksOn reports whether r or one of its ancestors is an ExternalLink to
// target.
func (r *Request) WorksOn(target *Request) bool {
	for cur := r; cur != nil; cur = cur.parent {
		if link, ok := cur.command.(*ExternalLink); ok && link.Target == target {
			return true
		}
	}
	return false
}

// FailsWhenUnhandled reports the unhandled policy of the assigned command.
func (r *Request) FailsWhenUnhandled() bool {
	if r.command == nil {
		return true
	}
	return r.command.FailsWhenUnhandled()
}

// AddRef increments the reference count of an external request.
func (r *Request) AddRef() {
	r.refs.Add(1)
}

// Release drops one reference and hands the request back to its pool when
// none remain.
func (r *Request) Release() {
	n := r.refs.Add(-1)
	switch {
	case n < 0:
		panic("request: released more often than referenced")
	case n == 0 && r.recycler != nil:
		r.recycler.RecycleExternal(r)
	}
}

// RefCount returns the current reference count.
func (r *Request) RefCount() int32 { return r.refs.Load() }

func (r *Request) String() string {
	return fmt.Sprintf("%s(%s, deps=%d)", r.Kind(), r.Status(), r.dependencies)
}
