package ratelimit

import (
	"context"
	"errors"
	"sync"
	"time"
)

// Common errors.
var (
	ErrClosed          = errors.New("limiter closed")
	ErrResourceUnknown = errors.New("unknown resource")
)

// Limiter paces access to named resources.
type Limiter interface {
	// Acquire blocks until a token is available for the resource.
	Acquire(ctx context.Context, resource string) error

	// TryAcquire takes a token without blocking.
	TryAcquire(resource string) bool

	// SetCapacity allows capacity requests per window. A non-positive
	// capacity or window removes the resource.
	SetCapacity(resource string, capacity int, window time.Duration)

	// Reduce shrinks capacity by a quarter after a backend pushes back.
	Reduce(resource string, reason string)

	// GetCapacity returns the current state, or nil for unknown resources.
	GetCapacity(resource string) *Capacity

	Close() error
}

// Capacity describes the rate limit state of a resource.
type Capacity struct {
	Resource  string
	Available int
	Total     int
	Window    time.Duration
	Reduced   int    // number of Reduce calls seen
	Reason    string // reason given on the last Reduce
}

// bucket implements a token bucket rate limiter.
type bucket struct {
	capacity   int
	available  int
	window     time.Duration
	lastRefill time.Time
	reduced    int
	reason     string
}

// refill adds tokens based on elapsed time since last refill.
// lastRefill only advances when whole tokens are added so partial
// progress toward the next token is kept.
func (b *bucket) refill(now time.Time) {
	elapsed := now.Sub(b.lastRefill)
	if elapsed <= 0 {
		return
	}
	tokens := int(float64(b.capacity) * float64(elapsed) / float64(b.window))
	if tokens <= 0 {
		return
	}
	b.available += tokens
	if b.available > b.capacity {
		b.available = b.capacity
	}
	b.lastRefill = now
}

// nextToken returns how long until one more token is available.
func (b *bucket) nextToken(now time.Time) time.Duration {
	per := b.window / time.Duration(b.capacity)
	wait := per - now.Sub(b.lastRefill)
	if wait < time.Millisecond {
		wait = time.Millisecond
	}
	return wait
}

// MemoryLimiter provides in-process rate limiting using token buckets.
// It is safe for concurrent use.
type MemoryLimiter struct {
	mu      sync.Mutex
	buckets map[string]*bucket
	closed  bool
	done    chan struct{}
	nowFunc func() time.Time // for testing
}

// NewMemoryLimiter creates a new in-memory rate limiter.
func NewMemoryLimiter() *MemoryLimiter {
	return &MemoryLimiter{
		buckets: make(map[string]*bucket),
		done:    make(chan struct{}),
		nowFunc: time.Now,
	}
}

// SetCapacity configures the rate limit for a resource.
func (m *MemoryLimiter) SetCapacity(resource string, capacity int, window time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return
	}
	if capacity <= 0 || window <= 0 {
		delete(m.buckets, resource)
		return
	}

	if b, ok := m.buckets[resource]; ok {
		b.capacity = capacity
		b.window = window
		if b.available > capacity {
			b.available = capacity
		}
		return
	}
	m.buckets[resource] = &bucket{
		capacity:   capacity,
		available:  capacity, // start full
		window:     window,
		lastRefill: m.nowFunc(),
	}
}

// GetCapacity returns the current capacity info for a resource.
func (m *MemoryLimiter) GetCapacity(resource string) *Capacity {
	m.mu.Lock()
	defer m.mu.Unlock()

	b, ok := m.buckets[resource]
	if !ok {
		return nil
	}
	b.refill(m.nowFunc())
	return &Capacity{
		Resource:  resource,
		Available: b.available,
		Total:     b.capacity,
		Window:    b.window,
		Reduced:   b.reduced,
		Reason:    b.reason,
	}
}

// Acquire blocks until a token is available for the resource.
func (m *MemoryLimiter) Acquire(ctx context.Context, resource string) error {
	for {
		wait, err := m.take(resource)
		if err != nil || wait == 0 {
			return err
		}

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-m.done:
			timer.Stop()
			return ErrClosed
		case <-timer.C:
		}
	}
}

// take consumes a token if one is available, otherwise reports how long
// to wait before trying again.
func (m *MemoryLimiter) take(resource string) (time.Duration, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return 0, ErrClosed
	}
	b, ok := m.buckets[resource]
	if !ok {
		return 0, ErrResourceUnknown
	}

	now := m.nowFunc()
	b.refill(now)
	if b.available > 0 {
		b.available--
		return 0, nil
	}
	return b.nextToken(now), nil
}

// TryAcquire attempts to acquire a token without blocking.
func (m *MemoryLimiter) TryAcquire(resource string) bool {
	wait, err := m.take(resource)
	return err == nil && wait == 0
}

// Reduce cuts the resource's capacity by 25%, keeping at least one token.
func (m *MemoryLimiter) Reduce(resource string, reason string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	b, ok := m.buckets[resource]
	if !ok {
		return
	}

	newCapacity := int(float64(b.capacity) * 0.75)
	if newCapacity < 1 {
		newCapacity = 1
	}
	b.capacity = newCapacity
	if b.available > newCapacity {
		b.available = newCapacity
	}
	b.reduced++
	b.reason = reason
}

// Close shuts down the limiter and wakes blocked callers.
func (m *MemoryLimiter) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return ErrClosed
	}
	m.closed = true
	close(m.done)
	return nil
}

var _ Limiter = (*MemoryLimiter)(nil)
