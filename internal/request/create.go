package request

import "time"

// Each Create method assigns r's command exactly once; a second assignment
// panics. A non-nil parent gains r as a dependency.

func (r *Request) CreateExternalLink(target *Request) {
	r.assign(nil, &ExternalLink{Target: target})
}

func (r *Request) CreatePathStore(parent *Request, path Path) {
	r.assign(parent, &PathStore{Path: path})
}

func (r *Request) CreateReadRequest(
	path Path,
	output []byte,
	allocator Allocator,
	offset, size uint64,
	deadline time.Time,
	priority Priority,
) {
	r.assign(nil, &ReadRequest{
		Path:      path,
		Output:    output,
		Allocator: allocator,
		Offset:    offset,
		Size:      size,
		Deadline:  deadline,
		Priority:  priority,
	})
}

func (r *Request) CreateRead(
	parent *Request,
	output []byte,
	path Path,
	offset, size uint64,
	deadline time.Time,
	priority Priority,
) {
	r.assign(parent, &Read{
		Path:     path,
		Output:   output,
		Offset:   offset,
		Size:     size,
		Deadline: deadline,
		Priority: priority,
	})
}

func (r *Request) CreateCompressedRead(
	parent *Request,
	path Path,
	offset, compressedSize uint64,
	output []byte,
	deadline time.Time,
	priority Priority,
) {
	r.assign(parent, &CompressedRead{
		Path:           path,
		Offset:         offset,
		CompressedSize: compressedSize,
		Output:         output,
		Deadline:       deadline,
		Priority:       priority,
	})
}

func (r *Request) CreateWait(parent *Request) {
	r.assign(parent, &Wait{})
}

func (r *Request) CreateFileExists(parent *Request, path Path) {
	r.assign(parent, &FileExists{Path: path})
}

func (r *Request) CreateFileMetaData(parent *Request, path Path) {
	r.assign(parent, &FileMetaData{Path: path})
}

func (r *Request) CreateCancel(target *Request) {
	r.assign(nil, &Cancel{Target: target})
}

func (r *Request) CreateReschedule(target *Request, deadline time.Time, priority Priority) {
	r.assign(nil, &Reschedule{Target: target, Deadline: deadline, Priority: priority})
}

func (r *Request) CreateFlush(path Path) {
	r.assign(nil, &Flush{Path: path})
}

func (r *Request) CreateFlushAll() {
	r.assign(nil, &FlushAll{})
}

func (r *Request) CreateDedicatedCacheCreation(path Path, rng FileRange) {
	r.assign(nil, &CreateDedicatedCache{Path: path, Range: rng})
}

func (r *Request) CreateDedicatedCacheDestruction(path Path, rng FileRange) {
	r.assign(nil, &DestroyDedicatedCache{Path: path, Range: rng})
}

func (r *Request) CreateReport(t ReportType) {
	r.assign(nil, &Report{Type: t})
}

func (r *Request) CreateCustom(parent *Request, payload any, failIfLost bool) {
	r.assign(parent, &Custom{Payload: payload, FailIfLost: failIfLost})
}
