package streamer

import (
	"github.com/bamsammich/streamio/internal/request"
)

// Handle refers to an external request. It holds one reference; call Release
// once the result is no longer needed. A released handle must not be used
// again.
type Handle struct {
	req *request.Request
	gen uint32
}

func newHandle(r *request.Request) Handle {
	return Handle{req: r, gen: r.Generation()}
}

// IsValid reports whether the handle still refers to the request it was
// created for.
func (h Handle) IsValid() bool {
	return h.req != nil && h.req.Generation() == h.gen
}

// Retain adds a reference and returns a handle sharing it.
func (h Handle) Retain() Handle {
	h.request().AddRef()
	return h
}

// Release drops the handle's reference.
func (h Handle) Release() {
	h.request().Release()
}

func (h Handle) request() *request.Request {
	if !h.IsValid() {
		panic("streamer: use of released or invalid handle")
	}
	return h.req
}
