package compute

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/xrfmap/server/internal/mapdata"
)

// Computation tracks an in-flight blockwise run: the completed sub-task
// count against the total, per-block results, and the first error. It is
// created by Submit, observed by MonitorProgress, and retired through
// Result or Wait.
type Computation struct {
	total  int
	done   atomic.Int64
	blocks []*mapdata.Block

	ctx    context.Context
	cancel context.CancelFunc

	advance  chan struct{} // signalled whenever the completed count moves
	finished chan struct{} // closed once every sub-task is accounted for

	mu  sync.Mutex
	err error

	ownedPool *Pool
	poolOnce  sync.Once
}

func newComputation(ctx context.Context, cancel context.CancelFunc, total int) *Computation {
	c := &Computation{
		total:    total,
		blocks:   make([]*mapdata.Block, total),
		ctx:      ctx,
		cancel:   cancel,
		advance:  make(chan struct{}, 1),
		finished: make(chan struct{}),
	}
	if total == 0 {
		close(c.finished)
	}
	return c
}

// Counts returns the completed and total sub-task counts.
func (c *Computation) Counts() (done, total int) {
	return int(c.done.Load()), c.total
}

// Err returns the first recorded sub-task error, if any.
func (c *Computation) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.err
}

// Wait blocks until every sub-task is accounted for or ctx is done. On
// completion it releases a pool the computation owns and returns the
// first sub-task error. A ctx cancellation also cancels the remaining
// sub-tasks before returning.
func (c *Computation) Wait(ctx context.Context) error {
	select {
	case <-c.finished:
		c.releasePool()
		return c.Err()
	case <-ctx.Done():
		c.cancel()
		return ctx.Err()
	}
}

// Result waits like Wait and returns the per-block outputs in row-major
// block order.
func (c *Computation) Result(ctx context.Context) ([]*mapdata.Block, error) {
	if err := c.Wait(ctx); err != nil {
		return nil, err
	}
	return c.blocks, nil
}

// fail records the first error and cancels the remaining sub-tasks.
func (c *Computation) fail(err error) {
	c.mu.Lock()
	if c.err == nil {
		c.err = err
	}
	c.mu.Unlock()
	c.cancel()
}

// taskDone accounts for one finished or skipped sub-task.
func (c *Computation) taskDone() {
	n := c.done.Add(1)
	select {
	case c.advance <- struct{}{}:
	default:
	}
	if int(n) == c.total {
		close(c.finished)
	}
}

func (c *Computation) releasePool() {
	c.poolOnce.Do(func() {
		if c.ownedPool != nil {
			c.ownedPool.Close()
		}
	})
}
