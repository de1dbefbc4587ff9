package request

// Status is the lifecycle state of a request.
type Status int32

const (
	Pending Status = iota
	Queued
	Processing
	Completed
	Canceled
	Failed
)

var statusNames = [...]string{
	Pending:    "Pending",
	Queued:     "Queued",
	Processing: "Processing",
	Completed:  "Completed",
	Canceled:   "Canceled",
	Failed:     "Failed",
}

func (s Status) String() string {
	if s >= 0 && int(s) < len(statusNames) {
		return statusNames[s]
	}
	return "Unknown"
}

// IsTerminal reports whether s is one of Completed, Canceled or Failed.
func (s Status) IsTerminal() bool {
	return s >= Completed
}

// overrides reports whether moving from cur to next is allowed. Non-terminal
// states never replace a terminal one, and among terminal states the worst
// wins: Failed > Canceled > Completed.
func (next Status) overrides(cur Status) bool {
	if !next.IsTerminal() {
		return !cur.IsTerminal()
	}
	return next >= cur
}

// Priority orders requests for an external scheduler. Stages in this module
// never reorder on priority; it is carried for estimates and reporting.
type Priority uint8

const (
	PriorityLowest  Priority = 0
	PriorityLow     Priority = 64
	PriorityMedium  Priority = 128
	PriorityHigh    Priority = 192
	PriorityHighest Priority = 255
)
