package streamer

import (
	"fmt"

	"github.com/bamsammich/streamio/internal/request"
	"github.com/bamsammich/streamio/internal/stats"
)

// BlockCacheConfig sizes a block cache.
type BlockCacheConfig struct {
	BlockSize uint64
	NumBlocks int
}

func DefaultBlockCacheConfig() BlockCacheConfig {
	return BlockCacheConfig{BlockSize: 64 * 1024, NumBlocks: 16}
}

type blockState uint8

const (
	blockEmpty blockState = iota
	blockLoading
	blockReady
)

type cacheBlock struct {
	data     []byte
	index    uint64
	size     uint64
	lastUsed uint64
	state    blockState
	// Pinned blocks are waiting to be copied out and cannot be evicted.
	pins int
}

// BlockCache keeps whole blocks of one file in memory. Blocks are aligned to
// the file, not to the cached range. Reads it cannot serve safely are passed
// on uncached.
type BlockCache struct {
	Link
	cfg  BlockCacheConfig
	path request.Path
	rng  request.FileRange

	fileSize  uint64
	sizeKnown bool

	blocks []cacheBlock
	lookup map[uint64]int
	tick   uint64

	loading   int
	hits      stats.HitRate
	uncached  int64
	evictions int64
}

func newBlockCache(cfg BlockCacheConfig, path request.Path, rng request.FileRange) *BlockCache {
	c := &BlockCache{
		Link:   newLink("BlockCache"),
		cfg:    cfg,
		path:   path,
		rng:    rng,
		blocks: make([]cacheBlock, cfg.NumBlocks),
		lookup: make(map[uint64]int, cfg.NumBlocks),
	}
	return c
}

func (c *BlockCache) setFileSize(size uint64) {
	c.fileSize, c.sizeKnown = size, true
}

func (c *BlockCache) QueueRequest(r *request.Request) {
	cmd, ok := r.Command().(*request.Read)
	if !ok {
		c.ForwardOrFail(r)
		return
	}
	c.readFile(r, cmd)
}

func (c *BlockCache) readFile(r *request.Request, cmd *request.Read) {
	end := cmd.Offset + cmd.Size
	if !c.sizeKnown || cmd.Size == 0 || end > c.fileSize || !c.rng.ContainsRange(cmd.Offset, cmd.Size) {
		c.passThrough(r)
		return
	}

	first, last := cmd.Offset/c.cfg.BlockSize, (end-1)/c.cfg.BlockSize
	var missing []uint64
	for b := first; b <= last; b++ {
		slot, ok := c.lookup[b]
		if !ok {
			missing = append(missing, b)
			continue
		}
		if c.blocks[slot].state == blockLoading {
			c.passThrough(r)
			return
		}
	}

	if len(missing) == 0 {
		c.hits.Hit()
		c.copyOut(cmd, first, last)
		c.ctx.MarkRequestAsCompleted(r)
		return
	}
	c.hits.Miss()

	slots := c.claimSlots(len(missing), first, last)
	if slots == nil {
		c.passThrough(r)
		return
	}

	wait := c.ctx.GetNewInternalRequest()
	wait.CreateWait(r)
	for b := first; b <= last; b++ {
		if slot, ok := c.lookup[b]; ok {
			c.blocks[slot].pins++
		}
	}
	for i, b := range missing {
		c.loadBlock(wait, slots[i], b, cmd)
	}

	wait.SetCompletionCallback(func(w *request.Request) {
		if w.Status() == request.Completed {
			c.copyOut(cmd, first, last)
		}
		for b := first; b <= last; b++ {
			if slot, ok := c.lookup[b]; ok {
				c.blocks[slot].pins--
			}
		}
	})
}

func (c *BlockCache) passThrough(r *request.Request) {
	c.uncached++
	c.ForwardOrFail(r)
}

// claimSlots finds n slots that are neither loading, pinned nor holding a
// block in [first, last], preferring empty slots and then the least recently
// used. It returns nil when not enough slots are available.
func (c *BlockCache) claimSlots(n int, first, last uint64) []int {
	candidates := make([]int, 0, len(c.blocks))
	for i := range c.blocks {
		blk := &c.blocks[i]
		if blk.state == blockLoading || blk.pins > 0 {
			continue
		}
		if blk.state == blockReady && blk.index >= first && blk.index <= last {
			continue
		}
		candidates = append(candidates, i)
	}
	if len(candidates) < n {
		return nil
	}

	slots := make([]int, 0, n)
	for range n {
		best := -1
		for j, i := range candidates {
			if i < 0 {
				continue
			}
			if best < 0 || c.older(i, candidates[best]) {
				best = j
			}
		}
		slots = append(slots, candidates[best])
		candidates[best] = -1
	}
	return slots
}

func (c *BlockCache) older(a, b int) bool {
	ba, bb := &c.blocks[a], &c.blocks[b]
	if ba.state == blockEmpty || bb.state == blockEmpty {
		return ba.state == blockEmpty && bb.state != blockEmpty
	}
	return ba.lastUsed < bb.lastUsed
}

func (c *BlockCache) loadBlock(wait *request.Request, slot int, index uint64, cmd *request.Read) {
	blk := &c.blocks[slot]
	if blk.state == blockReady {
		delete(c.lookup, blk.index)
		c.evictions++
	}
	if blk.data == nil {
		blk.data = make([]byte, c.cfg.BlockSize)
	}

	offset := index * c.cfg.BlockSize
	blk.index = index
	blk.size = min(c.cfg.BlockSize, c.fileSize-offset)
	blk.state = blockLoading
	blk.pins = 1
	c.lookup[index] = slot
	c.loading++

	child := c.ctx.GetNewInternalRequest()
	child.CreateRead(wait, blk.data[:blk.size], c.path, offset, blk.size, cmd.Deadline, cmd.Priority)
	child.SetCompletionCallback(func(r *request.Request) {
		c.loading--
		blk := &c.blocks[slot]
		if r.Status() == request.Completed {
			blk.state = blockReady
			return
		}
		blk.state = blockEmpty
		blk.pins = 0
		delete(c.lookup, index)
	})
	c.ForwardOrFail(child)
}

func (c *BlockCache) copyOut(cmd *request.Read, first, last uint64) {
	end := cmd.Offset + cmd.Size
	c.tick++
	for b := first; b <= last; b++ {
		blk := &c.blocks[c.lookup[b]]
		blk.lastUsed = c.tick

		blockStart := b * c.cfg.BlockSize
		from := max(cmd.Offset, blockStart)
		to := min(end, blockStart+blk.size)
		copy(cmd.Output[from-cmd.Offset:to-cmd.Offset], blk.data[from-blockStart:to-blockStart])
	}
}

// Flush drops every block not currently loading or waiting to be copied out.
func (c *BlockCache) Flush() {
	for i := range c.blocks {
		blk := &c.blocks[i]
		if blk.state != blockReady || blk.pins > 0 {
			continue
		}
		delete(c.lookup, blk.index)
		blk.state = blockEmpty
	}
}

func (c *BlockCache) idle() bool { return c.loading == 0 }

func (c *BlockCache) readyBlocks() int {
	n := 0
	for i := range c.blocks {
		if c.blocks[i].state == blockReady {
			n++
		}
	}
	return n
}

func (c *BlockCache) describe() string {
	return fmt.Sprintf("%s %s: %d/%d blocks of %s, hit rate %.1f%%",
		c.path, c.rng, c.readyBlocks(), len(c.blocks),
		stats.FormatBytes(int64(c.cfg.BlockSize)), c.hits.Ratio()*100)
}

func (c *BlockCache) collect(prefix string, out []stats.Stat) []stats.Stat {
	return append(out,
		stats.Percentage(prefix+".HitRate", c.hits.Ratio()),
		stats.Count(prefix+".Uncached", c.uncached),
		stats.Count(prefix+".Evictions", c.evictions),
		stats.Count(prefix+".ReadyBlocks", int64(c.readyBlocks())),
	)
}
