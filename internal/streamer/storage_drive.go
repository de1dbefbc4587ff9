package streamer

import (
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/bamsammich/streamio/internal/fileio"
	"github.com/bamsammich/streamio/internal/request"
	"github.com/bamsammich/streamio/internal/stats"
)

// StorageDriveConfig controls the bottom stage of the stack.
type StorageDriveConfig struct {
	// MaxFileHandles is the number of files kept open at once.
	MaxFileHandles int
	// MaxRequests is the pending queue depth reported as available slots.
	// It is a soft cap: requests beyond it are still accepted.
	MaxRequests int
	// MemoryAlignment is the alignment of buffers obtained from a read's
	// allocator.
	MemoryAlignment uint64
	// SeekCost is added to an estimate whenever a read does not continue
	// where the previous one stopped.
	SeekCost time.Duration
	// OpenCost is the assumed cost of opening a file until one has been
	// measured.
	OpenCost time.Duration
	// Throughput is the assumed read speed in bytes per second until reads
	// have been measured.
	Throughput float64
	// StatsWindow is the number of samples in each moving average.
	StatsWindow int
}

// DefaultStorageDriveConfig returns settings suited to a local SSD.
func DefaultStorageDriveConfig() StorageDriveConfig {
	return StorageDriveConfig{
		MaxFileHandles:  32,
		MaxRequests:     64,
		MemoryAlignment: 4096,
		SeekCost:        100 * time.Microsecond,
		OpenCost:        500 * time.Microsecond,
		Throughput:      500 * 1024 * 1024,
		StatsWindow:     64,
	}
}

// StorageDrive reads from the file system. It is always the last stage: it
// has no next and executes one pending request per ExecuteRequests call.
type StorageDrive struct {
	Link
	cfg StorageDriveConfig
	fs  fileio.FileSystem

	pending []*request.Request

	// Open handles, as parallel slices indexed by slot. lastUsed holds a
	// logical timestamp; the smallest value is evicted first.
	paths    []request.Path
	files    []fileio.File
	lastUsed []uint64
	tick     uint64

	// Where the previous read stopped. Reads continuing from here skip the
	// seek.
	activeFile   int
	activeOffset uint64

	readSizes   *stats.Average
	readTimes   *stats.Average
	openTimes   *stats.Average
	handleCache stats.HitRate

	reads        int64
	bytesRead    int64
	readFailures int64
	seeks        int64
	canceled     int64
	evictions    int64
}

// NewStorageDrive creates a drive reading through fs.
func NewStorageDrive(cfg StorageDriveConfig, fs fileio.FileSystem) *StorageDrive {
	def := DefaultStorageDriveConfig()
	if cfg.MaxFileHandles <= 0 {
		cfg.MaxFileHandles = def.MaxFileHandles
	}
	if cfg.MaxRequests <= 0 {
		cfg.MaxRequests = def.MaxRequests
	}
	if cfg.MemoryAlignment == 0 {
		cfg.MemoryAlignment = def.MemoryAlignment
	}
	if cfg.Throughput <= 0 {
		cfg.Throughput = def.Throughput
	}
	if cfg.StatsWindow <= 0 {
		cfg.StatsWindow = def.StatsWindow
	}
	return &StorageDrive{
		Link:       newLink("StorageDrive"),
		cfg:        cfg,
		fs:         fs,
		activeFile: -1,
		readSizes:  stats.NewAverage(cfg.StatsWindow),
		readTimes:  stats.NewAverage(cfg.StatsWindow),
		openTimes:  stats.NewAverage(cfg.StatsWindow),
	}
}

// SetNext panics: nothing can sit below the drive.
func (d *StorageDrive) SetNext(Entry) {
	panic("streamer: StorageDrive must be the last stage")
}

// PrepareRequest translates caller reads into internal reads against the
// requested file, obtaining memory from the allocator when needed.
func (d *StorageDrive) PrepareRequest(r *request.Request) {
	cmd, ok := r.Command().(*request.ReadRequest)
	if !ok {
		d.ctx.PushPreparedRequest(r)
		return
	}

	if cmd.Output == nil && cmd.Allocator != nil {
		cmd.Output = cmd.Allocator.Allocate(cmd.Size, d.cfg.MemoryAlignment)
		cmd.Allocated = true
	}

	read := d.ctx.GetNewInternalRequest()
	read.CreateRead(r, cmd.Output, cmd.Path, cmd.Offset, cmd.Size, cmd.Deadline, cmd.Priority)
	d.ctx.PushPreparedRequest(read)
}

func (d *StorageDrive) QueueRequest(r *request.Request) {
	switch cmd := r.Command().(type) {
	case *request.Read, *request.FileExists, *request.FileMetaData:
		d.pending = append(d.pending, r)
	case *request.Cancel:
		d.cancelPending(cmd.Target)
		d.ForwardOrFail(r)
	case *request.Reschedule:
		d.reschedulePending(cmd)
		d.ForwardOrFail(r)
	case *request.Flush:
		d.flushFile(cmd.Path)
		d.ForwardOrFail(r)
	case *request.FlushAll:
		d.flushAll()
		d.ForwardOrFail(r)
	case *request.Report:
		if cmd.Type == request.ReportFileLocks {
			cmd.Lines = d.report(cmd.Lines)
		}
		for _, line := range cmd.Lines {
			slog.Info("report", "type", cmd.Type, "line", line)
		}
		d.ForwardOrFail(r)
	default:
		d.ForwardOrFail(r)
	}
}

func (d *StorageDrive) ExecuteRequests() bool {
	if len(d.pending) == 0 {
		return false
	}
	r := d.pending[0]
	d.pending[0] = nil
	d.pending = d.pending[1:]

	switch cmd := r.Command().(type) {
	case *request.Read:
		d.readFile(r, cmd)
	case *request.FileExists:
		d.fileExists(cmd)
	case *request.FileMetaData:
		d.fileMetaData(cmd)
	}
	d.ctx.MarkRequestAsCompleted(r)
	return true
}

func (d *StorageDrive) readFile(r *request.Request, cmd *request.Read) {
	if uint64(len(cmd.Output)) < cmd.Size {
		slog.Warn("read output too small", "path", cmd.Path, "size", cmd.Size, "output", len(cmd.Output))
		d.failRead(r)
		return
	}

	start := time.Now()
	slot, err := d.openFile(cmd.Path)
	if err != nil {
		slog.Warn("open failed", "path", cmd.Path, "error", err)
		d.failRead(r)
		return
	}
	file := d.files[slot]

	if d.activeFile != slot || d.activeOffset != cmd.Offset {
		if _, err := file.Seek(int64(cmd.Offset), io.SeekStart); err != nil {
			slog.Warn("seek failed", "path", cmd.Path, "offset", cmd.Offset, "error", err)
			d.activeFile = -1
			d.failRead(r)
			return
		}
		d.seeks++
	}

	n, err := io.ReadFull(file, cmd.Output[:cmd.Size])
	d.activeFile = slot
	d.activeOffset = cmd.Offset + uint64(n)
	if err != nil {
		slog.Debug("short read", "path", cmd.Path, "offset", cmd.Offset,
			"size", cmd.Size, "read", n, "error", err)
		d.failRead(r)
		return
	}

	elapsed := time.Since(start)
	d.reads++
	d.bytesRead += int64(n)
	d.readSizes.Push(float64(n))
	d.readTimes.Push(elapsed.Seconds())
	r.SetStatus(request.Completed)
}

func (d *StorageDrive) failRead(r *request.Request) {
	d.readFailures++
	r.SetStatus(request.Failed)
}

func (d *StorageDrive) fileExists(cmd *request.FileExists) {
	if d.findFile(cmd.Path) >= 0 {
		cmd.Found = true
		return
	}
	cmd.Found = d.fs.Exists(cmd.Path.String())
}

func (d *StorageDrive) fileMetaData(cmd *request.FileMetaData) {
	var (
		size uint64
		err  error
	)
	if slot := d.findFile(cmd.Path); slot >= 0 {
		size, err = d.files[slot].Size()
	} else {
		size, err = d.fs.Size(cmd.Path.String())
	}
	if err != nil {
		slog.Debug("metadata unavailable", "path", cmd.Path, "error", err)
		return
	}
	cmd.Size, cmd.Found = size, true
}

func (d *StorageDrive) findFile(path request.Path) int {
	for i, p := range d.paths {
		if p.Equal(path) {
			return i
		}
	}
	return -1
}

// openFile returns the slot holding an open handle for path, opening it and
// evicting the least recently used handle if needed.
func (d *StorageDrive) openFile(path request.Path) (int, error) {
	d.tick++
	if slot := d.findFile(path); slot >= 0 {
		d.handleCache.Hit()
		d.lastUsed[slot] = d.tick
		return slot, nil
	}
	d.handleCache.Miss()

	start := time.Now()
	file, err := d.fs.Open(path.String())
	if err != nil {
		return -1, err
	}

	slot := len(d.files)
	if slot < d.cfg.MaxFileHandles {
		d.paths = append(d.paths, path)
		d.files = append(d.files, file)
		d.lastUsed = append(d.lastUsed, d.tick)
	} else {
		slot = d.oldestFile()
		d.closeSlot(slot)
		d.evictions++
		d.paths[slot] = path
		d.files[slot] = file
		d.lastUsed[slot] = d.tick
	}
	d.openTimes.Push(time.Since(start).Seconds())
	return slot, nil
}

func (d *StorageDrive) oldestFile() int {
	oldest := 0
	for i, t := range d.lastUsed {
		if t < d.lastUsed[oldest] {
			oldest = i
		}
	}
	return oldest
}

func (d *StorageDrive) closeSlot(slot int) {
	if err := d.files[slot].Close(); err != nil {
		slog.Debug("close failed", "path", d.paths[slot], "error", err)
	}
	if d.activeFile == slot {
		d.activeFile = -1
	}
}

func (d *StorageDrive) removeSlot(slot int) {
	d.closeSlot(slot)
	last := len(d.files) - 1
	if d.activeFile == last {
		d.activeFile = slot
	}
	d.paths[slot], d.files[slot], d.lastUsed[slot] = d.paths[last], d.files[last], d.lastUsed[last]
	d.paths, d.files, d.lastUsed = d.paths[:last], d.files[:last], d.lastUsed[:last]
}

func (d *StorageDrive) flushFile(path request.Path) {
	if slot := d.findFile(path); slot >= 0 {
		d.removeSlot(slot)
	}
}

func (d *StorageDrive) flushAll() {
	for len(d.files) > 0 {
		d.removeSlot(len(d.files) - 1)
	}
}

// Close releases every open handle.
func (d *StorageDrive) Close() error {
	d.flushAll()
	return nil
}

func (d *StorageDrive) cancelPending(target *request.Request) {
	kept := d.pending[:0]
	for _, r := range d.pending {
		if r.WorksOn(target) {
			r.SetStatus(request.Canceled)
			d.ctx.MarkRequestAsCompleted(r)
			d.canceled++
			continue
		}
		kept = append(kept, r)
	}
	clear(d.pending[len(kept):])
	d.pending = kept
}

func (d *StorageDrive) reschedulePending(cmd *request.Reschedule) {
	for _, r := range d.pending {
		if read, ok := r.Command().(*request.Read); ok && r.WorksOn(cmd.Target) {
			read.Deadline, read.Priority = cmd.Deadline, cmd.Priority
		}
	}
}

func (d *StorageDrive) report(lines []string) []string {
	lines = append(lines, fmt.Sprintf("%s: %d/%d file handles open", d.name, len(d.files), d.cfg.MaxFileHandles))
	for i, p := range d.paths {
		lines = append(lines, fmt.Sprintf("  %s (last used %d)", p, d.lastUsed[i]))
	}
	return lines
}

func (d *StorageDrive) UpdateStatus(status *Status) {
	status.NumAvailableSlots = min(status.NumAvailableSlots, max(d.cfg.MaxRequests-len(d.pending), 0))
	status.IsIdle = status.IsIdle && len(d.pending) == 0
}

// estimateCursor tracks where a simulated drive would be after each read.
type estimateCursor struct {
	at     time.Time
	path   request.Path
	offset uint64
	valid  bool
}

// UpdateCompletionEstimates walks the drive's own queue, then the requests
// held by upper stages, then the prepared queue, and assigns each the time
// the drive would finish it when working through them in that order.
func (d *StorageDrive) UpdateCompletionEstimates(now time.Time, internalPending, pending []*request.Request) {
	cur := estimateCursor{at: now}
	if d.activeFile >= 0 {
		cur.path, cur.offset, cur.valid = d.paths[d.activeFile], d.activeOffset, true
	}
	for _, queued := range [][]*request.Request{d.pending, internalPending, pending} {
		for _, r := range queued {
			d.estimate(r, &cur)
			r.SetEstimatedCompletion(cur.at)
		}
	}
}

func (d *StorageDrive) estimate(r *request.Request, cur *estimateCursor) {
	var (
		path         request.Path
		offset, size uint64
	)
	switch cmd := r.Command().(type) {
	case *request.Read:
		path, offset, size = cmd.Path, cmd.Offset, cmd.Size
	case *request.CompressedRead:
		path, offset, size = cmd.Path, cmd.Offset, cmd.CompressedSize
	default:
		return
	}

	if d.findFile(path) < 0 {
		cur.at = cur.at.Add(d.openCost())
	}
	if !cur.valid || !cur.path.Equal(path) || cur.offset != offset {
		cur.at = cur.at.Add(d.cfg.SeekCost)
	}
	cur.at = cur.at.Add(d.readCost(size))
	cur.path, cur.offset, cur.valid = path, offset+size, true
}

func (d *StorageDrive) openCost() time.Duration {
	if d.openTimes.Count() == 0 {
		return d.cfg.OpenCost
	}
	return time.Duration(d.openTimes.Value() * float64(time.Second))
}

func (d *StorageDrive) readCost(size uint64) time.Duration {
	return time.Duration(float64(size) / d.throughput() * float64(time.Second))
}

// throughput is bytes per second over the sampled window.
func (d *StorageDrive) throughput() float64 {
	if d.readTimes.Total() <= 0 || d.readSizes.Total() <= 0 {
		return d.cfg.Throughput
	}
	return d.readSizes.Total() / d.readTimes.Total()
}

func (d *StorageDrive) CollectStatistics(out []stats.Stat) []stats.Stat {
	return append(out,
		stats.Count(d.stat("Reads"), d.reads),
		stats.Bytes(d.stat("BytesRead"), d.bytesRead),
		stats.Count(d.stat("ReadFailures"), d.readFailures),
		stats.Count(d.stat("Seeks"), d.seeks),
		stats.Count(d.stat("Canceled"), d.canceled),
		stats.Count(d.stat("PendingRequests"), int64(len(d.pending))),
		stats.Count(d.stat("OpenFiles"), int64(len(d.files))),
		stats.Count(d.stat("Evictions"), d.evictions),
		stats.Bytes(d.stat("AvgReadSize"), int64(d.readSizes.Value())),
		stats.Rate(d.stat("ReadSpeed"), d.throughput()),
		stats.Seconds(d.stat("AvgOpenTime"), d.openCost()),
		stats.Percentage(d.stat("FileHandleHitRate"), d.handleCache.Ratio()),
	)
}
