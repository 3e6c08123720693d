package agent

import (
	"context"

	"golang.org/x/sync/semaphore"
)

// Pool bounds how many blocking-style agents run concurrently. Slots are
// acquired before the agent starts and released when it returns; there
// is no forced termination.
type Pool struct {
	sem *semaphore.Weighted
}

// NewPool creates a pool with the given number of slots.
func NewPool(size int) *Pool {
	if size <= 0 {
		size = 1
	}
	return &Pool{sem: semaphore.NewWeighted(int64(size))}
}

// Acquire blocks until a slot is free or ctx is cancelled. The returned
// release function must be called when the agent finishes.
func (p *Pool) Acquire(ctx context.Context) (func(), error) {
	if err := p.sem.Acquire(ctx, 1); err != nil {
		return nil, err
	}
	return func() { p.sem.Release(1) }, nil
}
