// Package workpool provides the bounded worker pool shared by fingerprint
// aggregation and shard building.
package workpool

import (
	"context"
	"fmt"

	"golang.org/x/sync/semaphore"
)

// Pool limits how many tasks run at once across all callers.
// Callers queue for a free slot instead of spawning unbounded work.
type Pool struct {
	size int64
	sem  *semaphore.Weighted
}

// New creates a pool with size slots. Sizes below one are raised to one.
func New(size int) *Pool {
	if size < 1 {
		size = 1
	}
	return &Pool{
		size: int64(size),
		sem:  semaphore.NewWeighted(int64(size)),
	}
}

// Size returns the number of slots.
func (p *Pool) Size() int {
	return int(p.size)
}

// Go waits for a free slot and runs fn in a new goroutine.
// It returns an error without running fn if ctx ends while waiting.
func (p *Pool) Go(ctx context.Context, fn func()) error {
	if err := p.sem.Acquire(ctx, 1); err != nil {
		return fmt.Errorf("waiting for worker: %w", err)
	}
	go func() {
		defer p.sem.Release(1)
		fn()
	}()
	return nil
}

// Do waits for a free slot and runs fn on the calling goroutine.
func (p *Pool) Do(ctx context.Context, fn func() error) error {
	if err := p.sem.Acquire(ctx, 1); err != nil {
		return fmt.Errorf("waiting for worker: %w", err)
	}
	defer p.sem.Release(1)
	return fn()
}
