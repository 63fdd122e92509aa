package compute

import (
	"context"
	"fmt"

	"github.com/xrfmap/server/internal/logctx"
	"github.com/xrfmap/server/internal/mapdata"
)

// BlockKernel transforms one block of a map. Kernels run concurrently on
// pool workers and must not share mutable state.
type BlockKernel func(*mapdata.Block) (*mapdata.Block, error)

// Submit schedules kernel over every block of m and returns the
// computation handle. Blocks are read and processed on pool workers; the
// results keep row-major block order regardless of completion order.
//
// A nil pool gets a machine-sized pool created here and shut down once
// the computation finishes; a caller-supplied pool is never shut down.
// The first read or kernel error cancels the run: remaining blocks are
// skipped but still counted as done, so progress observers terminate.
func Submit(ctx context.Context, m *mapdata.Map, kernel BlockKernel, pool *Pool) *Computation {
	runCtx, cancel := context.WithCancel(ctx)

	var owned *Pool
	if pool == nil {
		pool = NewPool(0)
		owned = pool
	}

	total := m.NumBlocks()
	c := newComputation(runCtx, cancel, total)
	c.ownedPool = owned

	logger := logctx.FromContext(ctx)
	logger.Info().
		Int("blocks", total).
		Int("workers", pool.Workers()).
		Msg("submitting blockwise computation")

	go func() {
		for i := 0; i < total; i++ {
			i := i
			pool.Run(func() { c.runBlock(m, kernel, i) })
		}
	}()

	// Release an owned pool even when the caller abandons the handle.
	go func() {
		<-c.finished
		c.releasePool()
	}()

	return c
}

func (c *Computation) runBlock(m *mapdata.Map, kernel BlockKernel, i int) {
	defer c.taskDone()
	if c.ctx.Err() != nil {
		return
	}
	blk, err := m.ReadBlock(i)
	if err != nil {
		c.fail(err)
		return
	}
	out, err := kernel(blk)
	if err != nil {
		c.fail(fmt.Errorf("block %d %s: %w", i, blk.Bounds, err))
		return
	}
	c.blocks[i] = out
}
