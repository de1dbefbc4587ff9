// Package streamer schedules file reads through a stack of stages. Callers
// create requests on a Streamer, queue them, and poll or wait for completion;
// a single scheduler goroutine moves the requests through the stack.
package streamer

import (
	"context"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/bamsammich/streamio/internal/request"
	"github.com/bamsammich/streamio/internal/stats"
)

// NoDeadline requests the read without a deadline.
const NoDeadline time.Duration = 0

// Config controls the scheduler.
type Config struct {
	// StatsInterval is how often the statistics snapshot is refreshed while
	// the scheduler is busy. It is always refreshed on going idle.
	StatsInterval time.Duration
	// IdleTimeout bounds how long an idle scheduler sleeps between steps.
	// Zero sleeps until woken.
	IdleTimeout time.Duration
}

func DefaultConfig() Config {
	return Config{StatsInterval: time.Second, IdleTimeout: 250 * time.Millisecond}
}

// Streamer is the entry point for callers. Creation, queueing and result
// methods are safe for concurrent use; Step and RunUntilIdle must not run
// while the loop started by Start is active.
type Streamer struct {
	id        uuid.UUID
	cfg       Config
	ctx       *Context
	stack     Entry
	collector *stats.Collector

	queueMu sync.Mutex
	queue   []*request.Request

	statsMu   sync.Mutex
	snapshot  []stats.Stat
	lastStats time.Time
	dirty     bool

	runMu  sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

// New creates a streamer driving stack. The scheduler does not run until
// Start is called or the caller steps it.
func New(cfg Config, stack Entry) *Streamer {
	if stack == nil {
		panic("streamer: empty stack")
	}
	s := &Streamer{
		id:        uuid.New(),
		cfg:       cfg,
		ctx:       NewContext(),
		stack:     stack,
		collector: stats.NewCollector(),
	}
	stack.SetContext(s.ctx)
	return s
}

// ID identifies this streamer in logs and recorded statistics.
func (s *Streamer) ID() string { return s.id.String() }

// Start runs the scheduler on its own goroutine until ctx is done or Close
// is called.
func (s *Streamer) Start(ctx context.Context) {
	s.runMu.Lock()
	defer s.runMu.Unlock()
	if s.done != nil {
		return
	}
	ctx, s.cancel = context.WithCancel(ctx)
	s.done = make(chan struct{})
	go s.run(ctx, s.done)
}

func (s *Streamer) run(ctx context.Context, done chan struct{}) {
	defer close(done)
	slog.Debug("streamer started", "id", s.id)
	for ctx.Err() == nil {
		if !s.Step() {
			s.ctx.Suspend(ctx, s.cfg.IdleTimeout)
		}
	}
	slog.Debug("streamer stopped", "id", s.id)
}

// Close stops the scheduler and releases resources held by the stages.
// Requests still in flight are abandoned.
func (s *Streamer) Close() error {
	s.runMu.Lock()
	if s.done != nil {
		s.cancel()
		<-s.done
		s.done = nil
	}
	s.runMu.Unlock()
	return closeStack(s.stack)
}

// Step runs one scheduler iteration and reports whether any work was done.
func (s *Streamer) Step() bool {
	worked := s.pickUpRequests()
	worked = s.queuePrepared() || worked
	worked = s.stack.ExecuteRequests() || worked
	worked = s.ctx.FinalizeCompletedRequests() || worked

	now := time.Now()
	if worked {
		s.stack.UpdateCompletionEstimates(now, nil, s.ctx.PreparedRequests())
	}
	s.updateStatistics(now, worked)
	return worked
}

// RunUntilIdle steps the scheduler until a step does no work.
func (s *Streamer) RunUntilIdle() {
	for s.Step() {
	}
}

// IsIdle reports whether no request is queued, prepared or in flight. Only
// meaningful from the scheduler goroutine or while it is stopped.
func (s *Streamer) IsIdle() bool {
	s.queueMu.Lock()
	queued := len(s.queue)
	s.queueMu.Unlock()

	status := NewStatus()
	s.stack.UpdateStatus(&status)
	return status.IsIdle && queued == 0 &&
		s.ctx.NumPreparedRequests() == 0 && s.ctx.NumCompletedRequests() == 0
}

// pickUpRequests links newly queued external requests into the scheduler
// and prepares them.
func (s *Streamer) pickUpRequests() bool {
	s.queueMu.Lock()
	batch := s.queue
	s.queue = nil
	s.queueMu.Unlock()

	for _, r := range batch {
		link := s.ctx.GetNewInternalRequest()
		link.CreateExternalLink(r)
		r.SetParent(link)

		switch cmd := r.Command().(type) {
		case *request.Cancel:
			if n := s.ctx.CancelPreparedRequests(cmd.Target); n > 0 {
				slog.Debug("canceled prepared requests", "count", n)
			}
		case *request.Reschedule:
			s.ctx.ReschedulePreparedRequests(cmd.Target, cmd.Deadline, cmd.Priority)
		}
		s.stack.PrepareRequest(r)
	}
	return len(batch) > 0
}

// queuePrepared hands prepared requests to the stack while it reports free
// slots. Cancel and Reschedule go first and are never held back.
func (s *Streamer) queuePrepared() bool {
	if s.ctx.NumPreparedRequests() == 0 {
		return false
	}
	queued := false
	for _, r := range s.ctx.TakePreparedControlRequests() {
		r.SetStatus(request.Processing)
		s.stack.QueueRequest(r)
		queued = true
	}

	status := NewStatus()
	s.stack.UpdateStatus(&status)
	for ; status.NumAvailableSlots > 0; status.NumAvailableSlots-- {
		r := s.ctx.PopPreparedRequest()
		if r == nil {
			break
		}
		r.SetStatus(request.Processing)
		s.stack.QueueRequest(r)
		queued = true
	}
	return queued
}

func (s *Streamer) updateStatistics(now time.Time, worked bool) {
	s.dirty = s.dirty || worked
	due := s.cfg.StatsInterval <= 0 || now.Sub(s.lastStats) >= s.cfg.StatsInterval
	if !s.dirty || (worked && !due) {
		return
	}

	s.collector.Tick()
	snap := s.collector.Snapshot().Stats("Streamer")
	snap = append(snap,
		stats.Rate("Streamer.Throughput", s.collector.RollingThroughput(10)),
		stats.Count("Streamer.PreparedRequests", int64(s.ctx.NumPreparedRequests())),
	)
	snap = s.stack.CollectStatistics(snap)

	s.statsMu.Lock()
	s.snapshot = snap
	s.lastStats = now
	s.statsMu.Unlock()
	s.dirty = false
}

// Statistics returns a copy of the latest statistics snapshot.
func (s *Streamer) Statistics() []stats.Stat {
	s.statsMu.Lock()
	defer s.statsMu.Unlock()
	return slices.Clone(s.snapshot)
}

func deadlineAt(d time.Duration) time.Time {
	if d <= 0 {
		return time.Time{}
	}
	return time.Now().Add(d)
}

func (s *Streamer) newRequest(create func(r *request.Request)) Handle {
	r := s.ctx.GetNewExternalRequest()
	create(r)
	return newHandle(r)
}

// Read creates a read of len(output) bytes at offset into output.
func (s *Streamer) Read(path string, output []byte, offset uint64, deadline time.Duration, priority request.Priority) Handle {
	return s.newRequest(func(r *request.Request) {
		r.CreateReadRequest(request.NewPath(path), output, nil, offset, uint64(len(output)), deadlineAt(deadline), priority)
	})
}

// ReadWithAllocator creates a read whose output memory is obtained from
// alloc when the read is prepared. Unclaimed memory is handed back when the
// handle is released.
func (s *Streamer) ReadWithAllocator(path string, alloc request.Allocator, offset, size uint64, deadline time.Duration, priority request.Priority) Handle {
	return s.newRequest(func(r *request.Request) {
		r.CreateReadRequest(request.NewPath(path), nil, alloc, offset, size, deadlineAt(deadline), priority)
	})
}

// ReadCompressed creates a read of compressedSize bytes at offset that are
// decompressed into output. len(output) must be the uncompressed size.
func (s *Streamer) ReadCompressed(path string, output []byte, offset, compressedSize uint64, deadline time.Duration, priority request.Priority) Handle {
	return s.newRequest(func(r *request.Request) {
		r.CreateCompressedRead(nil, request.NewPath(path), offset, compressedSize, output, deadlineAt(deadline), priority)
	})
}

// Cancel creates a request canceling everything still queued for target.
// Parts of target already being read finish normally.
func (s *Streamer) Cancel(target Handle) Handle {
	t := target.request()
	return s.newRequest(func(r *request.Request) { r.CreateCancel(t) })
}

// RescheduleRequest creates a request updating target's deadline and
// priority.
func (s *Streamer) RescheduleRequest(target Handle, deadline time.Duration, priority request.Priority) Handle {
	t := target.request()
	return s.newRequest(func(r *request.Request) { r.CreateReschedule(t, deadlineAt(deadline), priority) })
}

func (s *Streamer) CreateDedicatedCache(path string) Handle {
	return s.CreateDedicatedCacheRange(path, request.EntireFile())
}

func (s *Streamer) CreateDedicatedCacheRange(path string, rng request.FileRange) Handle {
	return s.newRequest(func(r *request.Request) { r.CreateDedicatedCacheCreation(request.NewPath(path), rng) })
}

func (s *Streamer) DestroyDedicatedCache(path string) Handle {
	return s.DestroyDedicatedCacheRange(path, request.EntireFile())
}

func (s *Streamer) DestroyDedicatedCacheRange(path string, rng request.FileRange) Handle {
	return s.newRequest(func(r *request.Request) { r.CreateDedicatedCacheDestruction(request.NewPath(path), rng) })
}

// FlushCache drops cached data and open handles for path.
func (s *Streamer) FlushCache(path string) Handle {
	return s.newRequest(func(r *request.Request) { r.CreateFlush(request.NewPath(path)) })
}

// FlushCaches drops all cached data and open handles.
func (s *Streamer) FlushCaches() Handle {
	return s.newRequest(func(r *request.Request) { r.CreateFlushAll() })
}

func (s *Streamer) CheckFileExists(path string) Handle {
	return s.newRequest(func(r *request.Request) { r.CreateFileExists(nil, request.NewPath(path)) })
}

func (s *Streamer) GetFileMetaData(path string) Handle {
	return s.newRequest(func(r *request.Request) { r.CreateFileMetaData(nil, request.NewPath(path)) })
}

func (s *Streamer) Report(t request.ReportType) Handle {
	return s.newRequest(func(r *request.Request) { r.CreateReport(t) })
}

// Custom creates a request carrying payload for application stages. With
// failIfLost it fails if no stage handles it.
func (s *Streamer) Custom(payload any, failIfLost bool) Handle {
	return s.newRequest(func(r *request.Request) { r.CreateCustom(nil, payload, failIfLost) })
}

// SetRequestCompleteCallback registers fn to run on the scheduler goroutine
// once the request is finalized. It must be called before QueueRequest.
func (s *Streamer) SetRequestCompleteCallback(h Handle, fn func(Handle)) {
	r := h.request()
	if r.Status() != request.Pending {
		panic("streamer: completion callback set after queueing")
	}
	gen := h.gen
	r.SetCompletionCallback(func(done *request.Request) {
		fn(Handle{req: done, gen: gen})
	})
}

// QueueRequest hands the request to the scheduler.
func (s *Streamer) QueueRequest(h Handle) {
	r := s.prepareForQueue(h)
	s.queueMu.Lock()
	s.queue = append(s.queue, r)
	s.queueMu.Unlock()
	s.ctx.WakeUp()
}

// QueueRequestBatch hands several requests to the scheduler at once,
// preserving their order.
func (s *Streamer) QueueRequestBatch(hs []Handle) {
	batch := make([]*request.Request, 0, len(hs))
	for _, h := range hs {
		batch = append(batch, s.prepareForQueue(h))
	}
	s.queueMu.Lock()
	s.queue = append(s.queue, batch...)
	s.queueMu.Unlock()
	s.ctx.WakeUp()
}

// prepareForQueue takes the scheduler's reference on r and wraps its
// completion callback with accounting.
func (s *Streamer) prepareForQueue(h Handle) *request.Request {
	r := h.request()
	if r.Status() != request.Pending {
		panic("streamer: request queued twice")
	}
	r.AddRef()
	r.SetStatus(request.Queued)

	// Cancel and Reschedule match their target by identity, so the target
	// must not be recycled while they are in flight.
	var target *request.Request
	switch cmd := r.Command().(type) {
	case *request.Cancel:
		target = cmd.Target
	case *request.Reschedule:
		target = cmd.Target
	}
	if target != nil {
		target.AddRef()
	}

	user := r.TakeCompletionCallback()
	r.SetCompletionCallback(func(done *request.Request) {
		s.recordCompletion(done)
		if user != nil {
			user(done)
		}
		if target != nil {
			target.Release()
		}
	})
	s.collector.AddRequestsQueued(1)
	return r
}

func (s *Streamer) recordCompletion(r *request.Request) {
	switch r.Status() {
	case request.Completed:
		s.collector.AddRequestsCompleted(1)
		switch cmd := r.Command().(type) {
		case *request.ReadRequest:
			s.collector.AddBytesRead(int64(cmd.Size))
		case *request.CompressedRead:
			s.collector.AddBytesRead(int64(len(cmd.Output)))
		}
	case request.Canceled:
		s.collector.AddRequestsCanceled(1)
	case request.Failed:
		s.collector.AddRequestsFailed(1)
	}
}

func (s *Streamer) GetRequestStatus(h Handle) request.Status {
	return h.request().Status()
}

func (s *Streamer) HasRequestCompleted(h Handle) bool {
	return h.request().Status().IsTerminal()
}

// GetEstimatedRequestCompletionTime returns when the request is expected to
// finish, or the zero time if no estimate has been made yet.
func (s *Streamer) GetEstimatedRequestCompletionTime(h Handle) time.Time {
	return h.request().EstimatedCompletion()
}

// GetReadRequestResult returns the data of a completed read. With claim the
// caller takes ownership of allocator memory, which is then not handed back
// on release. Claiming before the read completed panics.
func (s *Streamer) GetReadRequestResult(h Handle, claim bool) ([]byte, bool) {
	r := h.request()
	cmd, ok := r.Command().(*request.ReadRequest)
	if !ok {
		panic("streamer: " + r.Kind().String() + " is not a read")
	}
	status := r.Status()
	if !status.IsTerminal() {
		if claim {
			panic("streamer: claiming memory of a read that has not completed")
		}
		return nil, false
	}
	if status != request.Completed {
		return nil, false
	}
	if claim && cmd.Allocated {
		cmd.Claimed = true
	}
	return cmd.Output[:cmd.Size], true
}

// GetCompressedReadResult returns the decompressed output of a completed
// compressed read.
func (s *Streamer) GetCompressedReadResult(h Handle) ([]byte, bool) {
	r := h.request()
	cmd, ok := r.Command().(*request.CompressedRead)
	if !ok {
		panic("streamer: " + r.Kind().String() + " is not a compressed read")
	}
	if r.Status() != request.Completed {
		return nil, false
	}
	return cmd.Output, true
}

// GetFileExistsResult reports whether the file was found. ok is false until
// the request completed.
func (s *Streamer) GetFileExistsResult(h Handle) (found, ok bool) {
	r := h.request()
	cmd, isExists := r.Command().(*request.FileExists)
	if !isExists {
		panic("streamer: " + r.Kind().String() + " is not a file exists check")
	}
	if r.Status() != request.Completed {
		return false, false
	}
	return cmd.Found, true
}

// GetFileMetaDataResult returns the file size. found is false if no stage
// could answer.
func (s *Streamer) GetFileMetaDataResult(h Handle) (size uint64, found, ok bool) {
	r := h.request()
	cmd, isMeta := r.Command().(*request.FileMetaData)
	if !isMeta {
		panic("streamer: " + r.Kind().String() + " is not a metadata request")
	}
	if r.Status() != request.Completed {
		return 0, false, false
	}
	return cmd.Size, cmd.Found, true
}

// GetReportResult returns the lines collected by a completed report.
func (s *Streamer) GetReportResult(h Handle) ([]string, bool) {
	r := h.request()
	cmd, ok := r.Command().(*request.Report)
	if !ok {
		panic("streamer: " + r.Kind().String() + " is not a report")
	}
	if r.Status() != request.Completed {
		return nil, false
	}
	return slices.Clone(cmd.Lines), true
}
