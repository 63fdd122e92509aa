// Package compute runs blockwise computations over chunked maps on a
// worker pool and exposes their progress to pluggable sinks.
package compute

import (
	"runtime"
	"sync"
)

// Pool is a fixed-size worker pool. Workers pull submitted tasks off a
// shared queue until the pool is closed.
type Pool struct {
	tasks     chan func()
	wg        sync.WaitGroup
	workers   int
	closeOnce sync.Once
}

// NewPool starts a pool with the given number of workers; values below 1
// fall back to runtime.NumCPU().
func NewPool(workers int) *Pool {
	if workers < 1 {
		workers = runtime.NumCPU()
	}
	p := &Pool{
		tasks:   make(chan func(), workers*2),
		workers: workers,
	}
	for i := 0; i < workers; i++ {
		p.wg.Add(1)
		go func() {
			defer p.wg.Done()
			for task := range p.tasks {
				task()
			}
		}()
	}
	return p
}

// Workers returns the pool size.
func (p *Pool) Workers() int {
	return p.workers
}

// Run enqueues a task, blocking while the queue is full. It must not be
// called after Close.
func (p *Pool) Run(task func()) {
	p.tasks <- task
}

// Close stops accepting tasks and waits for queued ones to finish. Safe
// to call more than once.
func (p *Pool) Close() {
	p.closeOnce.Do(func() {
		close(p.tasks)
		p.wg.Wait()
	})
}
