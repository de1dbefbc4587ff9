package streamer

import (
	"fmt"
	"log/slog"
	"slices"

	"github.com/bamsammich/streamio/internal/request"
	"github.com/bamsammich/streamio/internal/stats"
)

// DedicatedCacheConfig controls the caches created on request.
type DedicatedCacheConfig struct {
	Block BlockCacheConfig
}

func DefaultDedicatedCacheConfig() DedicatedCacheConfig {
	return DedicatedCacheConfig{Block: DefaultBlockCacheConfig()}
}

// DedicatedCache routes reads of registered files through a BlockCache bound
// to that file (and optionally a byte range). Caches are reference counted by
// create and destroy requests.
type DedicatedCache struct {
	Link
	cfg DedicatedCacheConfig

	// Registered caches, as parallel slices.
	paths  []request.Path
	ranges []request.FileRange
	caches []*BlockCache
	refs   []int

	hits    stats.HitRate
	created int64
}

func NewDedicatedCache(cfg DedicatedCacheConfig) *DedicatedCache {
	def := DefaultBlockCacheConfig()
	if cfg.Block.BlockSize == 0 {
		cfg.Block.BlockSize = def.BlockSize
	}
	if cfg.Block.NumBlocks <= 0 {
		cfg.Block.NumBlocks = def.NumBlocks
	}
	return &DedicatedCache{Link: newLink("DedicatedCache"), cfg: cfg}
}

func (dc *DedicatedCache) SetNext(next Entry) {
	dc.next = next
	for _, c := range dc.caches {
		c.SetNext(next)
	}
}

func (dc *DedicatedCache) SetContext(ctx *Context) {
	dc.Link.SetContext(ctx)
	for _, c := range dc.caches {
		c.ctx = ctx
	}
}

func (dc *DedicatedCache) QueueRequest(r *request.Request) {
	switch cmd := r.Command().(type) {
	case *request.Read:
		if i := dc.route(cmd); i >= 0 {
			dc.hits.Hit()
			dc.caches[i].QueueRequest(r)
			return
		}
		dc.hits.Miss()
		dc.ForwardOrFail(r)
	case *request.CreateDedicatedCache:
		dc.create(r, cmd)
	case *request.DestroyDedicatedCache:
		dc.destroy(r, cmd)
	case *request.Flush:
		for i, p := range dc.paths {
			if p.Equal(cmd.Path) {
				dc.caches[i].Flush()
			}
		}
		dc.ForwardOrFail(r)
	case *request.FlushAll:
		for _, c := range dc.caches {
			c.Flush()
		}
		dc.ForwardOrFail(r)
	case *request.Report:
		if cmd.Type == request.ReportCaches {
			cmd.Lines = dc.report(cmd.Lines)
		}
		dc.ForwardOrFail(r)
	default:
		dc.ForwardOrFail(r)
	}
}

// route returns the cache serving cmd, or -1.
func (dc *DedicatedCache) route(cmd *request.Read) int {
	for i, p := range dc.paths {
		if p.Equal(cmd.Path) && dc.ranges[i].Contains(cmd.Offset) {
			return i
		}
	}
	return -1
}

func (dc *DedicatedCache) find(path request.Path, rng request.FileRange) int {
	for i, p := range dc.paths {
		if p.Equal(path) && dc.ranges[i] == rng {
			return i
		}
	}
	return -1
}

func (dc *DedicatedCache) create(r *request.Request, cmd *request.CreateDedicatedCache) {
	if i := dc.find(cmd.Path, cmd.Range); i >= 0 {
		dc.refs[i]++
		dc.ctx.MarkRequestAsCompleted(r)
		return
	}

	cache := newBlockCache(dc.cfg.Block, cmd.Path, cmd.Range)
	cache.SetNext(dc.next)
	cache.ctx = dc.ctx

	dc.paths = append(dc.paths, cmd.Path)
	dc.ranges = append(dc.ranges, cmd.Range)
	dc.caches = append(dc.caches, cache)
	dc.refs = append(dc.refs, 1)
	dc.created++
	slog.Debug("dedicated cache created", "path", cmd.Path, "range", cmd.Range)

	if dc.next == nil {
		dc.ctx.MarkRequestAsCompleted(r)
		return
	}
	// The cache only serves reads once it knows where the file ends. The
	// create request completes when the size is known.
	meta := dc.ctx.GetNewInternalRequest()
	meta.CreateFileMetaData(r, cmd.Path)
	meta.SetCompletionCallback(func(m *request.Request) {
		if md, ok := m.Command().(*request.FileMetaData); ok && md.Found {
			cache.setFileSize(md.Size)
		}
	})
	dc.next.QueueRequest(meta)
}

func (dc *DedicatedCache) destroy(r *request.Request, cmd *request.DestroyDedicatedCache) {
	i := dc.find(cmd.Path, cmd.Range)
	if i < 0 {
		slog.Debug("destroy of unknown dedicated cache", "path", cmd.Path, "range", cmd.Range)
		r.SetStatus(request.Failed)
		dc.ctx.MarkRequestAsCompleted(r)
		return
	}

	dc.refs[i]--
	if dc.refs[i] == 0 {
		dc.paths = slices.Delete(dc.paths, i, i+1)
		dc.ranges = slices.Delete(dc.ranges, i, i+1)
		dc.caches = slices.Delete(dc.caches, i, i+1)
		dc.refs = slices.Delete(dc.refs, i, i+1)
		slog.Debug("dedicated cache destroyed", "path", cmd.Path, "range", cmd.Range)
	}
	dc.ctx.MarkRequestAsCompleted(r)
}

// NumCaches returns the number of registered caches.
func (dc *DedicatedCache) NumCaches() int { return len(dc.caches) }

func (dc *DedicatedCache) report(lines []string) []string {
	lines = append(lines, fmt.Sprintf("%s: %d caches, hit rate %.1f%%", dc.name, len(dc.caches), dc.hits.Ratio()*100))
	for i, c := range dc.caches {
		lines = append(lines, fmt.Sprintf("  %s (refs %d)", c.describe(), dc.refs[i]))
	}
	return lines
}

// UpdateStatus only folds in whether the caches are idle. Their block reads
// already count against the slots of the stages below.
func (dc *DedicatedCache) UpdateStatus(status *Status) {
	for _, c := range dc.caches {
		status.IsIdle = status.IsIdle && c.idle()
	}
	dc.Link.UpdateStatus(status)
}

func (dc *DedicatedCache) CollectStatistics(out []stats.Stat) []stats.Stat {
	out = append(out,
		stats.Percentage(dc.stat("HitRate"), dc.hits.Ratio()),
		stats.Count(dc.stat("Caches"), int64(len(dc.caches))),
		stats.Count(dc.stat("Created"), dc.created),
	)
	for i, c := range dc.caches {
		out = c.collect(fmt.Sprintf("%s.%d", dc.stat("Cache"), i), out)
	}
	return dc.Link.CollectStatistics(out)
}
