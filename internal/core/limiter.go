package core

// limiter.go implements the two concurrency rules of execution:
//
//   - A global cap on simultaneous imports, semaphore style, so a burst of
//     tenants cannot exhaust the database. Requests wait up to maxWait for
//     a slot before failing with ErrImportBusy.
//   - Per-organization serialization: two batches for the same organization
//     never run at once. Later requests queue on the organization's lock.
//
// WaitForDrain supports graceful shutdown by blocking until running
// imports finish.

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

// DefaultMaxConcurrentImports is the default global execution cap.
const DefaultMaxConcurrentImports = 4

// DefaultMaxWaitTime is how long Acquire waits for a slot before rejecting.
const DefaultMaxWaitTime = 30 * time.Second

// ImportLimiter caps simultaneous batch executions.
type ImportLimiter struct {
	semaphore chan struct{}
	maxWait   time.Duration

	mu     sync.RWMutex
	active int
}

// NewImportLimiter creates a limiter allowing at most maxConcurrent
// simultaneous executions. Zero or negative arguments take the defaults.
func NewImportLimiter(maxConcurrent int, maxWait time.Duration) *ImportLimiter {
	if maxConcurrent <= 0 {
		maxConcurrent = DefaultMaxConcurrentImports
	}
	if maxWait <= 0 {
		maxWait = DefaultMaxWaitTime
	}
	return &ImportLimiter{
		semaphore: make(chan struct{}, maxConcurrent),
		maxWait:   maxWait,
	}
}

// Acquire claims an execution slot, waiting up to maxWait. The caller must
// Release exactly once per successful Acquire.
func (l *ImportLimiter) Acquire(ctx context.Context) error {
	waitCtx, cancel := context.WithTimeout(ctx, l.maxWait)
	defer cancel()

	select {
	case l.semaphore <- struct{}{}:
		l.mu.Lock()
		l.active++
		l.mu.Unlock()
		return nil
	case <-waitCtx.Done():
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return ErrImportBusy
	case <-ctx.Done():
		return ctx.Err()
	}
}

// TryAcquire claims a slot without waiting.
func (l *ImportLimiter) TryAcquire() bool {
	select {
	case l.semaphore <- struct{}{}:
		l.mu.Lock()
		l.active++
		l.mu.Unlock()
		return true
	default:
		return false
	}
}

// Release returns a slot claimed by Acquire or TryAcquire.
func (l *ImportLimiter) Release() {
	l.mu.Lock()
	l.active--
	l.mu.Unlock()
	<-l.semaphore
}

// ActiveCount returns how many executions hold a slot right now.
func (l *ImportLimiter) ActiveCount() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.active
}

// MaxConcurrent returns the configured cap.
func (l *ImportLimiter) MaxConcurrent() int {
	return cap(l.semaphore)
}

// WaitForDrain blocks until no execution holds a slot or the context ends.
func (l *ImportLimiter) WaitForDrain(ctx context.Context) error {
	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if l.ActiveCount() == 0 {
				return nil
			}
		}
	}
}

// LimiterStatus is a snapshot of the limiter for monitoring.
type LimiterStatus struct {
	Active        int `json:"active"`
	Available     int `json:"available"`
	MaxConcurrent int `json:"maxConcurrent"`
}

// Status reports the limiter's current state.
func (l *ImportLimiter) Status() LimiterStatus {
	l.mu.RLock()
	active := l.active
	l.mu.RUnlock()

	return LimiterStatus{
		Active:        active,
		Available:     cap(l.semaphore) - len(l.semaphore),
		MaxConcurrent: cap(l.semaphore),
	}
}

// orgLocks serializes executions per organization. Each organization gets a
// one-slot channel; later executions queue until the holder releases.
type orgLocks struct {
	mu    sync.Mutex
	locks map[uuid.UUID]chan struct{}
}

func newOrgLocks() *orgLocks {
	return &orgLocks{locks: make(map[uuid.UUID]chan struct{})}
}

// Acquire takes the organization's lock, waiting if another execution for
// the same organization holds it. The returned release function must be
// called exactly once.
func (o *orgLocks) Acquire(ctx context.Context, org uuid.UUID) (func(), error) {
	o.mu.Lock()
	ch, ok := o.locks[org]
	if !ok {
		ch = make(chan struct{}, 1)
		o.locks[org] = ch
	}
	o.mu.Unlock()

	select {
	case ch <- struct{}{}:
		return func() { <-ch }, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}
