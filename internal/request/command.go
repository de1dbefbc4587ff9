package request

import "time"

// Kind identifies a command variant.
type Kind int

const (
	KindNone Kind = iota
	KindExternalLink
	KindPathStore
	KindReadRequest
	KindRead
	KindCompressedRead
	KindWait
	KindFileExists
	KindFileMetaData
	KindCancel
	KindReschedule
	KindFlush
	KindFlushAll
	KindCreateDedicatedCache
	KindDestroyDedicatedCache
	KindReport
	KindCustom
)

var kindNames = [...]string{
	KindNone:                  "None",
	KindExternalLink:          "ExternalLink",
	KindPathStore:             "PathStore",
	KindReadRequest:           "ReadRequest",
	KindRead:                  "Read",
	KindCompressedRead:        "CompressedRead",
	KindWait:                  "Wait",
	KindFileExists:            "FileExists",
	KindFileMetaData:          "FileMetaData",
	KindCancel:                "Cancel",
	KindReschedule:            "Reschedule",
	KindFlush:                 "Flush",
	KindFlushAll:              "FlushAll",
	KindCreateDedicatedCache:  "CreateDedicatedCache",
	KindDestroyDedicatedCache: "DestroyDedicatedCache",
	KindReport:                "Report",
	KindCustom:                "Custom",
}

func (k Kind) String() string {
	if k >= 0 && int(k) < len(kindNames) {
		return kindNames[k]
	}
	return "Unknown"
}

// Command is the closed set of work a request can carry. Stages dispatch on
// the concrete type with a type switch.
type Command interface {
	Kind() Kind
	// FailsWhenUnhandled reports whether a request reaching the end of the
	// stack unhandled must be failed. Commands returning false complete
	// instead, leaving any result fields at their "not found" zero value.
	FailsWhenUnhandled() bool
	isCommand()
}

// ExternalLink ties an internal request to an external one, keeping it alive
// until the link completes. Cancel and Reschedule match on it.
type ExternalLink struct {
	Target *Request
}

// PathStore pins a path for the lifetime of its children.
type PathStore struct {
	Path Path
}

// ReadRequest is an untranslated read as submitted by a caller. Either Output
// or Allocator is set.
type ReadRequest struct {
	Path      Path
	Output    []byte
	Allocator Allocator
	Offset    uint64
	Size      uint64
	Deadline  time.Time
	Priority  Priority

	// Set once the read has been translated and memory obtained.
	Allocated bool
	// Claimed transfers ownership of allocated memory to the caller.
	Claimed bool
}

// Read is a translated read against a concrete file. Output holds at least
// Size bytes.
type Read struct {
	Path     Path
	Output   []byte
	Offset   uint64
	Size     uint64
	Deadline time.Time
	Priority Priority
}

// CompressedRead reads CompressedSize bytes at Offset and decompresses them
// into Output, which must be exactly the uncompressed size.
type CompressedRead struct {
	Path           Path
	Offset         uint64
	CompressedSize uint64
	Output         []byte
	Deadline       time.Time
	Priority       Priority
}

// Wait does no work of its own. It completes once its children have, or when
// a stage marks it complete to release a held parent.
type Wait struct{}

// FileExists checks for a file. Found stays false when nothing answers.
type FileExists struct {
	Path  Path
	Found bool
}

// FileMetaData retrieves file metadata. Found stays false when nothing answers.
type FileMetaData struct {
	Path  Path
	Size  uint64
	Found bool
}

// Cancel cancels every request still queued that works on Target.
type Cancel struct {
	Target *Request
}

// Reschedule updates the deadline and priority of requests working on Target.
type Reschedule struct {
	Target   *Request
	Deadline time.Time
	Priority Priority
}

// Flush drops cached data for one file.
type Flush struct {
	Path Path
}

// FlushAll drops all cached data.
type FlushAll struct{}

// CreateDedicatedCache registers (or references) a cache bound to Path/Range.
type CreateDedicatedCache struct {
	Path  Path
	Range FileRange
}

// DestroyDedicatedCache drops one reference to the cache bound to Path/Range.
type DestroyDedicatedCache struct {
	Path  Path
	Range FileRange
}

// ReportType selects what a Report request collects.
type ReportType int

const (
	ReportFileLocks ReportType = iota
	ReportCaches
	ReportSplitter
)

func (t ReportType) String() string {
	switch t {
	case ReportFileLocks:
		return "file_locks"
	case ReportCaches:
		return "caches"
	case ReportSplitter:
		return "splitter"
	default:
		return "unknown"
	}
}

// Report collects a human-readable description from every stage.
type Report struct {
	Type  ReportType
	Lines []string
}

// Custom carries an application-defined payload for custom stages.
type Custom struct {
	Payload    any
	FailIfLost bool
}

func (*ExternalLink) Kind() Kind          { return KindExternalLink }
func (*PathStore) Kind() Kind             { return KindPathStore }
func (*ReadRequest) Kind() Kind           { return KindReadRequest }
func (*Read) Kind() Kind                  { return KindRead }
func (*CompressedRead) Kind() Kind        { return KindCompressedRead }
func (*Wait) Kind() Kind                  { return KindWait }
func (*FileExists) Kind() Kind            { return KindFileExists }
func (*FileMetaData) Kind() Kind          { return KindFileMetaData }
func (*Cancel) Kind() Kind                { return KindCancel }
func (*Reschedule) Kind() Kind            { return KindReschedule }
func (*Flush) Kind() Kind                 { return KindFlush }
func (*FlushAll) Kind() Kind              { return KindFlushAll }
func (*CreateDedicatedCache) Kind() Kind  { return KindCreateDedicatedCache }
func (*DestroyDedicatedCache) Kind() Kind { return KindDestroyDedicatedCache }
func (*Report) Kind() Kind                { return KindReport }
func (*Custom) Kind() Kind                { return KindCustom }

// Mutating commands fail when no stage handles them; broadcast and advisory
// ones complete.
func (*ExternalLink) FailsWhenUnhandled() bool          { return true }
func (*PathStore) FailsWhenUnhandled() bool             { return true }
func (*ReadRequest) FailsWhenUnhandled() bool           { return true }
func (*Read) FailsWhenUnhandled() bool                  { return true }
func (*CompressedRead) FailsWhenUnhandled() bool        { return true }
func (*Wait) FailsWhenUnhandled() bool                  { return false }
func (*FileExists) FailsWhenUnhandled() bool            { return false }
func (*FileMetaData) FailsWhenUnhandled() bool          { return false }
func (*Cancel) FailsWhenUnhandled() bool                { return false }
func (*Reschedule) FailsWhenUnhandled() bool            { return false }
func (*Flush) FailsWhenUnhandled() bool                 { return false }
func (*FlushAll) FailsWhenUnhandled() bool              { return false }
func (*CreateDedicatedCache) FailsWhenUnhandled() bool  { return true }
func (*DestroyDedicatedCache) FailsWhenUnhandled() bool { return true }
func (*Report) FailsWhenUnhandled() bool                { return false }
func (c *Custom) FailsWhenUnhandled() bool              { return c.FailIfLost }

func (*ExternalLink) isCommand()          {}
func (*PathStore) isCommand()             {}
func (*ReadRequest) isCommand()           {}
func (*Read) isCommand()                  {}
func (*CompressedRead) isCommand()        {}
func (*Wait) isCommand()                  {}
func (*FileExists) isCommand()            {}
func (*FileMetaData) isCommand()          {}
func (*Cancel) isCommand()                {}
func (*Reschedule) isCommand()            {}
func (*Flush) isCommand()                 {}
func (*FlushAll) isCommand()              {}
func (*CreateDedicatedCache) isCommand()  {}
func (*DestroyDedicatedCache) isCommand() {}
func (*Report) isCommand()                {}
func (*Custom) isCommand()                {}
