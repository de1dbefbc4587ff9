package streamer

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/bamsammich/streamio/internal/request"
	"github.com/bamsammich/streamio/internal/stats"
)

// ReadSplitterConfig controls how reads are cut into pieces.
type ReadSplitterConfig struct {
	// MaxReadSize is the largest read passed downstream.
	MaxReadSize uint64
	// MemoryAlignment is the output alignment the stages below need. 1 means
	// any address is fine.
	MemoryAlignment uint64
	// SizeAlignment is the offset granularity used when AdjustOffset is set.
	// MaxReadSize must then be a multiple of it.
	SizeAlignment uint64
	// AdjustOffset also requires offsets to be aligned. Unaligned offsets are
	// read from the preceding boundary into scratch memory.
	AdjustOffset bool
	// BufferSize is the scratch memory for unaligned reads. It is divided into
	// MaxReadSize slots; zero disables staging.
	BufferSize uint64
	// SplitAlignedRequests splits aligned reads larger than MaxReadSize. When
	// false they are forwarded whole.
	SplitAlignedRequests bool
	// DependencyLimit caps the children issued under one request at a time.
	// Zero means request.MaxDependencies; otherwise it must be at least 2.
	DependencyLimit int
}

// DefaultReadSplitterConfig returns a splitter cutting reads into 64 KiB
// pieces with a 1 MiB scratch buffer.
func DefaultReadSplitterConfig() ReadSplitterConfig {
	return ReadSplitterConfig{
		MaxReadSize:          64 * 1024,
		MemoryAlignment:      1,
		SizeAlignment:        1,
		BufferSize:           1024 * 1024,
		SplitAlignedRequests: true,
	}
}

// pendingRead is a read staged through scratch memory that could not get
// enough slots. The barrier keeps the read open until every piece has been
// issued.
type pendingRead struct {
	req          *request.Request
	cmd          *request.Read
	offset       uint64
	remaining    uint64
	outputOffset uint64
	barrier      *request.Request
}

// ReadSplitter cuts large reads into MaxReadSize pieces and stages reads the
// stages below cannot take directly through a shared scratch buffer.
type ReadSplitter struct {
	Link
	cfg ReadSplitterConfig

	buffer    []byte
	freeSlots []int
	numSlots  int
	inUse     int
	peakInUse int

	pending []*pendingRead

	forwarded     int64
	splits        int64
	buffered      int64
	piecesIssued  int64
	canceled      int64
	deferredReads int64
}

// NewReadSplitter creates a splitter. The scratch buffer is allocated on
// first use.
func NewReadSplitter(cfg ReadSplitterConfig) *ReadSplitter {
	if cfg.MaxReadSize == 0 {
		panic("streamer: ReadSplitter needs a MaxReadSize")
	}
	if cfg.MemoryAlignment == 0 {
		cfg.MemoryAlignment = 1
	}
	if cfg.SizeAlignment == 0 {
		cfg.SizeAlignment = 1
	}
	if !request.IsPowerOfTwo(cfg.MemoryAlignment) || !request.IsPowerOfTwo(cfg.SizeAlignment) {
		panic("streamer: ReadSplitter alignments must be powers of two")
	}
	if cfg.AdjustOffset && cfg.MaxReadSize%cfg.SizeAlignment != 0 {
		panic("streamer: ReadSplitter MaxReadSize must be a multiple of SizeAlignment")
	}
	if cfg.DependencyLimit == 1 {
		panic("streamer: ReadSplitter DependencyLimit must be at least 2")
	}
	if cfg.DependencyLimit <= 0 || cfg.DependencyLimit > request.MaxDependencies {
		cfg.DependencyLimit = request.MaxDependencies
	}

	s := &ReadSplitter{Link: newLink("ReadSplitter"), cfg: cfg}
	// A deferred read's barrier takes one of its dependencies.
	s.numSlots = min(int(cfg.BufferSize/cfg.MaxReadSize), cfg.DependencyLimit-1)
	return s
}

func (s *ReadSplitter) QueueRequest(r *request.Request) {
	switch cmd := r.Command().(type) {
	case *request.Read:
		s.queueRead(r, cmd)
	case *request.Cancel:
		s.cancelPending(cmd.Target)
		s.ForwardOrFail(r)
	case *request.Reschedule:
		for _, p := range s.pending {
			if p.req.WorksOn(cmd.Target) {
				p.cmd.Deadline, p.cmd.Priority = cmd.Deadline, cmd.Priority
			}
		}
		s.ForwardOrFail(r)
	case *request.Report:
		if cmd.Type == request.ReportSplitter {
			cmd.Lines = s.report(cmd.Lines)
		}
		s.ForwardOrFail(r)
	default:
		s.ForwardOrFail(r)
	}
}

func (s *ReadSplitter) queueRead(r *request.Request, cmd *request.Read) {
	if cmd.Size == 0 {
		s.forwarded++
		s.ForwardOrFail(r)
		return
	}

	if s.isAligned(cmd) || s.numSlots == 0 {
		if cmd.Size <= s.cfg.MaxReadSize || (!s.cfg.SplitAlignedRequests && s.isAligned(cmd)) {
			s.forwarded++
			s.ForwardOrFail(r)
			return
		}
		s.splits++
		s.issueDirect(&pendingRead{req: r, cmd: cmd, offset: cmd.Offset, remaining: cmd.Size}, false)
		return
	}

	s.buffered++
	if s.buffer == nil {
		s.buffer = request.AlignedBuffer(uint64(s.numSlots)*s.cfg.MaxReadSize, s.cfg.MemoryAlignment)
		s.freeSlots = make([]int, 0, s.numSlots)
		for i := s.numSlots - 1; i >= 0; i-- {
			s.freeSlots = append(s.freeSlots, i)
		}
	}

	p := &pendingRead{req: r, cmd: cmd, offset: cmd.Offset, remaining: cmd.Size}
	// Earlier reads keep their place in line.
	if len(s.pending) > 0 || !s.issueBuffered(p) {
		s.deferRead(p)
	}
}

func (s *ReadSplitter) isAligned(cmd *request.Read) bool {
	if !request.IsAligned(cmd.Output, s.cfg.MemoryAlignment) {
		return false
	}
	return !s.cfg.AdjustOffset || cmd.Offset%s.cfg.SizeAlignment == 0
}

// issueDirect forwards pieces that read straight into the caller's output.
// When the remaining pieces exceed the dependency limit they are issued in
// batches, each held by a barrier whose completion issues the next batch.
// The finishing barrier still counts against p.req while its callback runs,
// so a continued batch always hangs under a fresh barrier.
func (s *ReadSplitter) issueDirect(p *pendingRead, continued bool) {
	parent := p.req
	var barrier *request.Request
	if continued || p.remaining > uint64(s.cfg.DependencyLimit)*s.cfg.MaxReadSize {
		barrier = s.ctx.GetNewInternalRequest()
		barrier.CreateWait(p.req)
		parent = barrier
	}

	for issued := 0; p.remaining > 0 && issued < s.cfg.DependencyLimit; issued++ {
		size := min(p.remaining, s.cfg.MaxReadSize)
		out := p.cmd.Output[p.outputOffset : p.outputOffset+size]

		child := s.ctx.GetNewInternalRequest()
		child.CreateRead(parent, out, p.cmd.Path, p.offset, size, p.cmd.Deadline, p.cmd.Priority)
		p.offset += size
		p.outputOffset += size
		p.remaining -= size
		s.piecesIssued++
		s.ForwardOrFail(child)
	}

	if barrier != nil {
		barrier.SetCompletionCallback(func(b *request.Request) {
			if b.Status() == request.Completed && p.remaining > 0 {
				s.issueDirect(p, true)
			}
		})
	}
}

// issueBuffered issues pieces of p through scratch slots until p is fully
// issued or the slots run out. It reports whether p was fully issued.
func (s *ReadSplitter) issueBuffered(p *pendingRead) bool {
	for p.remaining > 0 {
		if len(s.freeSlots) == 0 {
			return false
		}
		slot := s.freeSlots[len(s.freeSlots)-1]
		s.freeSlots = s.freeSlots[:len(s.freeSlots)-1]
		s.inUse++
		s.peakInUse = max(s.peakInUse, s.inUse)

		readOffset := p.offset
		var bufferOffset uint64
		if s.cfg.AdjustOffset {
			readOffset = request.AlignDown(p.offset, s.cfg.SizeAlignment)
			bufferOffset = p.offset - readOffset
		}
		// The read size is left unaligned so the last piece never reaches
		// past the end of the file.
		readSize := min(s.cfg.MaxReadSize, bufferOffset+p.remaining)
		copySize := readSize - bufferOffset

		base := uint64(slot) * s.cfg.MaxReadSize
		scratch := s.buffer[base : base+readSize]
		out := p.cmd.Output[p.outputOffset : p.outputOffset+copySize]

		child := s.ctx.GetNewInternalRequest()
		child.CreateRead(p.req, scratch, p.cmd.Path, readOffset, readSize, p.cmd.Deadline, p.cmd.Priority)
		child.SetCompletionCallback(func(c *request.Request) {
			if c.Status() == request.Completed {
				copy(out, s.buffer[base+bufferOffset:base+bufferOffset+copySize])
			}
			s.releaseSlot(slot)
		})

		p.offset += copySize
		p.outputOffset += copySize
		p.remaining -= copySize
		s.piecesIssued++
		s.ForwardOrFail(child)
	}
	return true
}

func (s *ReadSplitter) deferRead(p *pendingRead) {
	p.barrier = s.ctx.GetNewInternalRequest()
	p.barrier.CreateWait(p.req)
	s.pending = append(s.pending, p)
	s.deferredReads++
}

func (s *ReadSplitter) releaseSlot(slot int) {
	s.freeSlots = append(s.freeSlots, slot)
	s.inUse--
	s.servicePending()
}

// servicePending issues deferred reads in arrival order for as long as slots
// are free.
func (s *ReadSplitter) servicePending() {
	for len(s.pending) > 0 {
		p := s.pending[0]
		if !s.issueBuffered(p) {
			return
		}
		s.pending[0] = nil
		s.pending = s.pending[1:]
		s.ctx.MarkRequestAsCompleted(p.barrier)
	}
}

func (s *ReadSplitter) cancelPending(target *request.Request) {
	kept := s.pending[:0]
	for _, p := range s.pending {
		if p.req.WorksOn(target) {
			slog.Debug("canceled deferred read", "path", p.cmd.Path, "remaining", p.remaining)
			p.req.SetStatus(request.Canceled)
			s.ctx.MarkRequestAsCompleted(p.barrier)
			s.canceled++
			continue
		}
		kept = append(kept, p)
	}
	clear(s.pending[len(kept):])
	s.pending = kept
}

func (s *ReadSplitter) report(lines []string) []string {
	lines = append(lines, fmt.Sprintf("%s: %d/%d slots in use (peak %d), %d deferred reads",
		s.name, s.inUse, s.numSlots, s.peakInUse, len(s.pending)))
	for _, p := range s.pending {
		lines = append(lines, fmt.Sprintf("  %s offset %d, %d bytes left", p.cmd.Path, p.offset, p.remaining))
	}
	return lines
}

// PeakSlotsInUse returns the most scratch slots ever held at once.
func (s *ReadSplitter) PeakSlotsInUse() int { return s.peakInUse }

func (s *ReadSplitter) UpdateStatus(status *Status) {
	if s.numSlots > 0 {
		free := max(len(s.freeSlots)-len(s.pending), 0)
		if s.buffer == nil {
			free = s.numSlots
		}
		status.NumAvailableSlots = min(status.NumAvailableSlots, free)
	}
	status.IsIdle = status.IsIdle && len(s.pending) == 0 && s.inUse == 0
	s.Link.UpdateStatus(status)
}

func (s *ReadSplitter) UpdateCompletionEstimates(now time.Time, internalPending, pending []*request.Request) {
	for _, p := range s.pending {
		internalPending = append(internalPending, p.req)
	}
	s.Link.UpdateCompletionEstimates(now, internalPending, pending)
}

func (s *ReadSplitter) CollectStatistics(out []stats.Stat) []stats.Stat {
	out = append(out,
		stats.Count(s.stat("Forwarded"), s.forwarded),
		stats.Count(s.stat("Splits"), s.splits),
		stats.Count(s.stat("BufferedReads"), s.buffered),
		stats.Count(s.stat("DeferredReads"), s.deferredReads),
		stats.Count(s.stat("PiecesIssued"), s.piecesIssued),
		stats.Count(s.stat("Canceled"), s.canceled),
		stats.Count(s.stat("SlotsInUse"), int64(s.inUse)),
		stats.Count(s.stat("PeakSlotsInUse"), int64(s.peakInUse)),
	)
	return s.Link.CollectStatistics(out)
}
