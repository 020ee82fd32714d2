// Package shutdown closes a depsrag process in order: the active session
// first, then the report sinks it writes to, then the trace exporter that
// observed both.
//
// Components register a close function with a phase. Lower phases close
// first; closers sharing a phase close concurrently. Shutdown runs once,
// either when called directly or when SIGINT or SIGTERM arrives.
package shutdown

import (
	"context"
	"os"
	"os/signal"
	"sort"
	"sync"
	"syscall"
	"time"

	"github.com/Mohannadcse/DepsRAG/errors"
	"github.com/Mohannadcse/DepsRAG/logging"
)

// Phases used by the CLI.
const (
	PhaseSession   = 10
	PhaseSinks     = 20
	PhaseTelemetry = 30
)

// DefaultTimeout bounds a signal-triggered shutdown.
const DefaultTimeout = 10 * time.Second

// Common errors.
var (
	ErrTimeout       = errors.New(errors.ErrCodeTimeout, "shutdown timeout exceeded")
	ErrCloserFailed  = errors.New(errors.ErrCodeInternal, "one or more closers failed")
	ErrAlreadyClosed = errors.New(errors.ErrCodeInternal, "shutdown already initiated")
)

// CloseFunc releases one component.
type CloseFunc func(ctx context.Context) error

// Result is the outcome of one closer.
type Result struct {
	Name     string
	Phase    int
	Duration time.Duration
	Err      error
}

type registration struct {
	name  string
	phase int
	fn    CloseFunc
}

// Coordinator runs registered closers once, phase by phase.
type Coordinator struct {
	timeout time.Duration
	log     *logging.Logger

	mu      sync.Mutex
	closers []registration
	once    sync.Once
	done    chan struct{}
	err     error
	results []Result

	signals chan os.Signal
}

// New creates a coordinator. A zero timeout uses DefaultTimeout; a nil
// logger discards output.
func New(timeout time.Duration, log *logging.Logger) *Coordinator {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	if log == nil {
		log = logging.Nop()
	}
	return &Coordinator{
		timeout: timeout,
		log:     log.WithComponent("shutdown"),
		done:    make(chan struct{}),
		signals: make(chan os.Signal, 1),
	}
}

// Register adds a closer in phase.
func (c *Coordinator) Register(name string, phase int, fn CloseFunc) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closers = append(c.closers, registration{name: name, phase: phase, fn: fn})
}

// Shutdown runs every closer. Later calls wait for the first to finish and
// return ErrAlreadyClosed.
func (c *Coordinator) Shutdown(ctx context.Context) error {
	first := false
	c.once.Do(func() {
		first = true
		c.err = c.run(ctx)
		close(c.done)
	})
	if !first {
		<-c.done
		return ErrAlreadyClosed
	}
	return c.err
}

// HandleSignals shuts down on SIGINT or SIGTERM and then calls cancel so
// in-flight work stops. It returns a function that stops listening.
func (c *Coordinator) HandleSignals(cancel context.CancelFunc) func() {
	signal.Notify(c.signals, syscall.SIGINT, syscall.SIGTERM)
	stop := make(chan struct{})
	go func() {
		select {
		case sig := <-c.signals:
			c.log.Info("signal received", map[string]interface{}{"signal": sig.String()})
			if cancel != nil {
				cancel()
			}
			ctx, done := context.WithTimeout(context.Background(), c.timeout)
			defer done()
			c.Shutdown(ctx)
		case <-stop:
		}
	}()
	return func() {
		signal.Stop(c.signals)
		close(stop)
	}
}

// Done is closed once Shutdown has finished.
func (c *Coordinator) Done() <-chan struct{} { return c.done }

// Results returns the per-closer outcomes, in phase order, once Done is
// closed.
func (c *Coordinator) Results() []Result {
	select {
	case <-c.done:
		return c.results
	default:
		return nil
	}
}

func (c *Coordinator) run(ctx context.Context) error {
	c.mu.Lock()
	regs := make([]registration, len(c.closers))
	copy(regs, c.closers)
	c.mu.Unlock()

	sort.SliceStable(regs, func(i, j int) bool { return regs[i].phase < regs[j].phase })

	var failed bool
	for _, group := range byPhase(regs) {
		if ctx.Err() != nil {
			c.log.Warn("shutdown timed out", map[string]interface{}{"phase": group[0].phase})
			return ErrTimeout
		}
		for _, r := range c.closePhase(ctx, group) {
			c.results = append(c.results, r)
			fields := map[string]interface{}{
				"closer":      r.Name,
				"phase":       r.Phase,
				"duration_ms": r.Duration.Milliseconds(),
			}
			if r.Err != nil {
				failed = true
				fields["error"] = r.Err.Error()
				c.log.Error("closer failed", fields)
				continue
			}
			c.log.Debug("closed", fields)
		}
	}
	if failed {
		return ErrCloserFailed
	}
	return nil
}

func (c *Coordinator) closePhase(ctx context.Context, group []registration) []Result {
	results := make([]Result, len(group))
	var wg sync.WaitGroup
	for i, r := range group {
		wg.Add(1)
		go func(i int, r registration) {
			defer wg.Done()
			start := time.Now()
			err := r.fn(ctx)
			results[i] = Result{Name: r.name, Phase: r.phase, Duration: time.Since(start), Err: err}
		}(i, r)
	}
	wg.Wait()
	return results
}

// byPhase splits phase-sorted registrations into groups.
func byPhase(regs []registration) [][]registration {
	var groups [][]registration
	for i, r := range regs {
		if i == 0 || r.phase != regs[i-1].phase {
			groups = append(groups, nil)
		}
		groups[len(groups)-1] = append(groups[len(groups)-1], r)
	}
	return groups
}
