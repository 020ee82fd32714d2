package report

import (
	"context"
	"sort"
	"sync"
	"sync/atomic"
	"time"
)

// Memory keeps reports in process. It backs the "none" sink and tests.
type Memory struct {
	mu     sync.RWMutex
	its    []Iteration
	closed atomic.Bool
}

// NewMemory creates an empty in-memory sink.
func NewMemory() *Memory {
	return &Memory{}
}

// Record implements Sink.
func (m *Memory) Record(_ context.Context, it Iteration) error {
	if m.closed.Load() {
		return ErrClosed
	}
	if err := it.Validate(); err != nil {
		return err
	}
	if it.RecordedAt.IsZero() {
		it.RecordedAt = time.Now()
	}
	m.mu.Lock()
	m.its = append(m.its, it)
	m.mu.Unlock()
	return nil
}

// List implements Sink.
func (m *Memory) List(_ context.Context, f Filter) ([]Iteration, error) {
	if m.closed.Load() {
		return nil, ErrClosed
	}
	m.mu.RLock()
	var out []Iteration
	for _, it := range m.its {
		if f.Matches(it) {
			out = append(out, it)
		}
	}
	m.mu.RUnlock()
	sortIterations(out)
	return limit(out, f.Limit), nil
}

// Close implements Sink.
func (m *Memory) Close() error {
	m.closed.Store(true)
	return nil
}

func sortIterations(its []Iteration) {
	sort.SliceStable(its, func(i, j int) bool {
		if its[i].QuestionNo != its[j].QuestionNo {
			return its[i].QuestionNo < its[j].QuestionNo
		}
		return its[i].Iteration < its[j].Iteration
	})
}
