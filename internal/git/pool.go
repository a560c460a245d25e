// Package git runs the git CLI: a bounded pool, a command runner that keeps
// writes alive across operator interrupts, and push failure classification.
package git

import (
	"context"

	"golang.org/x/sync/semaphore"
)

// Pool limits concurrent git CLI operations using a weighted semaphore.
type Pool struct {
	sem   *semaphore.Weighted
	limit int
}

// NewPool creates a Pool that allows at most limit concurrent git operations.
func NewPool(limit int) *Pool {
	if limit < 1 {
		limit = 1
	}
	return &Pool{sem: semaphore.NewWeighted(int64(limit)), limit: limit}
}

// Limit returns the configured concurrency.
func (p *Pool) Limit() int {
	if p == nil {
		return 0
	}
	return p.limit
}

// Run acquires a slot, runs fn, and releases the slot.
// Waiting for a slot is abandoned when ctx is cancelled; once fn starts it
// runs to completion. A nil pool runs fn directly.
func (p *Pool) Run(ctx context.Context, fn func() error) error {
	_, err := withSlot(ctx, p, func() (struct{}, error) {
		return struct{}{}, fn()
	})
	return err
}

func withSlot[T any](ctx context.Context, p *Pool, fn func() (T, error)) (T, error) {
	if p == nil || p.sem == nil {
		return fn()
	}
	if err := p.sem.Acquire(ctx, 1); err != nil {
		var zero T
		return zero, err
	}
	defer p.sem.Release(1)
	return fn()
}
