package fetcher

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"golang.org/x/sync/errgroup"
)

// Gate errors.
var (
	ErrInvalidCapacity = errors.New("fetcher: capacity must be positive")
	ErrAlreadyInFlight = errors.New("fetcher: item already in flight")
)

// Gate admits at most capacity concurrent transfers. In-flight transfers are
// registered by item ID until they finish.
type Gate struct {
	capacity int

	mu       sync.Mutex
	cond     *sync.Cond
	inflight map[string]struct{}
	peak     int

	group errgroup.Group
}

// NewGate creates a gate with the given capacity.
func NewGate(capacity int) (*Gate, error) {
	if capacity < 1 {
		return nil, fmt.Errorf("%w: %d", ErrInvalidCapacity, capacity)
	}
	g := &Gate{
		capacity: capacity,
		inflight: make(map[string]struct{}, capacity),
	}
	g.cond = sync.NewCond(&g.mu)
	return g, nil
}

// Acquire blocks until a slot is free, then registers id as in flight.
// It returns the context error if ctx is done before a slot frees up.
func (g *Gate) Acquire(ctx context.Context, id string) error {
	stop := context.AfterFunc(ctx, func() {
		g.mu.Lock()
		g.cond.Broadcast()
		g.mu.Unlock()
	})
	defer stop()

	g.mu.Lock()
	defer g.mu.Unlock()

	if _, ok := g.inflight[id]; ok {
		return fmt.Errorf("%w: %s", ErrAlreadyInFlight, id)
	}
	for len(g.inflight) >= g.capacity {
		if err := ctx.Err(); err != nil {
			return err
		}
		g.cond.Wait()
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	g.inflight[id] = struct{}{}
	if n := len(g.inflight); n > g.peak {
		g.peak = n
	}
	return nil
}

// Release deregisters id and wakes waiting admissions.
func (g *Gate) Release(id string) {
	g.mu.Lock()
	delete(g.inflight, id)
	g.cond.Broadcast()
	g.mu.Unlock()
}

// Go acquires a slot for id and runs fn in its own goroutine, releasing the
// slot when fn returns.
func (g *Gate) Go(ctx context.Context, id string, fn func()) error {
	if err := g.Acquire(ctx, id); err != nil {
		return err
	}
	g.group.Go(func() error {
		defer g.Release(id)
		fn()
		return nil
	})
	return nil
}

// Wait blocks until every transfer started with Go has finished.
func (g *Gate) Wait() {
	g.group.Wait()
}

// Capacity returns the configured limit.
func (g *Gate) Capacity() int {
	return g.capacity
}

// InFlight returns the number of registered transfers.
func (g *Gate) InFlight() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.inflight)
}

// Peak returns the highest in-flight count observed.
func (g *Gate) Peak() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.peak
}
