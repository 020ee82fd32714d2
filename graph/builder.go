package graph

import (
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/Mohannadcse/DepsRAG/ecosystem"
	"github.com/Mohannadcse/DepsRAG/errors"
	"github.com/Mohannadcse/DepsRAG/logging"
)

// Construction statuses.
const (
	StatusCreated = "created"
	StatusExists  = "exists"
	StatusFailed  = "failed"
)

// DefaultFetchWorkers bounds concurrent deps.dev fetches in phase 2.
const DefaultFetchWorkers = 8

// ConstructResult is the outcome of building a package's graph. Failures
// are reported here rather than as errors.
type ConstructResult struct {
	Success bool
	Status  string
	Answer  string
	Nodes   int
	Edges   int
	Error   string
}

// Fetcher returns the resolved dependency graph of a package version.
type Fetcher interface {
	Dependencies(ctx context.Context, system, name, version string) (*Resolved, error)
}

// Builder constructs dependency graphs in a Store.
type Builder struct {
	store   Store
	fetcher Fetcher
	workers int
	log     *logging.Logger
}

// BuilderOption configures a Builder.
type BuilderOption func(*Builder)

// WithWorkers bounds concurrent phase-2 fetches.
func WithWorkers(n int) BuilderOption {
	return func(b *Builder) {
		if n > 0 {
			b.workers = n
		}
	}
}

// WithLogger sets the builder's logger.
func WithLogger(l *logging.Logger) BuilderOption {
	return func(b *Builder) { b.log = l }
}

// NewBuilder creates a builder writing to store with packages from fetcher.
func NewBuilder(store Store, fetcher Fetcher, opts ...BuilderOption) *Builder {
	b := &Builder{
		store:   store,
		fetcher: fetcher,
		workers: DefaultFetchWorkers,
		log:     logging.Nop(),
	}
	for _, opt := range opts {
		opt(b)
	}
	b.log = b.log.WithComponent("graph")
	return b
}

// Store returns the store the builder writes to.
func (b *Builder) Store() Store { return b.store }

// Construct builds the dependency graph of name@version. A package that
// is already in the graph is reported as existing and nothing is written.
//
// Phase 1 merges the package's own resolved graph. Phase 2 expands every
// package not yet imported by one level, fetching concurrently and
// merging one result at a time.
func (b *Builder) Construct(ctx context.Context, name, version, pkgType string) ConstructResult {
	start := time.Now()
	pkg := name + "@" + version
	res := b.construct(ctx, name, version, pkgType)
	b.log.GraphConstruct(pkg, res.Status, res.Nodes, res.Edges, time.Since(start))
	return res
}

func (b *Builder) construct(ctx context.Context, name, version, pkgType string) ConstructResult {
	eco, err := ecosystem.Lookup(pkgType)
	if err != nil {
		return failure(name, err)
	}

	exists, err := b.store.Exists(ctx, name, version)
	if err != nil {
		return failure(name, err)
	}
	if exists {
		nodes, edges, _ := b.store.Counts(ctx)
		return ConstructResult{
			Success: true,
			Status:  StatusExists,
			Answer:  "Database Exists",
			Nodes:   nodes,
			Edges:   edges,
		}
	}

	// Phase 1: the package itself.
	root, err := b.fetcher.Dependencies(ctx, eco.System, name, version)
	if err != nil {
		return failure(name, err)
	}
	if len(root.Nodes) == 0 {
		return failure(name, errors.New(errors.ErrCodePackageMissing, "no packages resolved for "+name))
	}
	if err := b.store.Merge(ctx, eco.Label, root); err != nil {
		return failure(name, err)
	}
	if err := b.store.MarkImported(ctx, eco.Label, root.Nodes[0]); err != nil {
		return failure(name, err)
	}

	// Phase 2: one level of expansion for everything not yet imported.
	if err := b.expand(ctx, eco); err != nil {
		return failure(name, err)
	}

	nodes, edges, err := b.store.Counts(ctx)
	if err != nil {
		return failure(name, err)
	}
	return ConstructResult{
		Success: true,
		Status:  StatusCreated,
		Answer:  "Database is created!",
		Nodes:   nodes,
		Edges:   edges,
	}
}

func (b *Builder) expand(ctx context.Context, eco ecosystem.Ecosystem) error {
	pending, err := b.store.Unimported(ctx, eco.Label)
	if err != nil {
		return err
	}
	if len(pending) == 0 {
		return nil
	}
	if err := b.store.MarkImported(ctx, eco.Label, pending...); err != nil {
		return err
	}

	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(b.workers)
	for _, key := range pending {
		key := key
		g.Go(func() error {
			resolved, err := b.fetcher.Dependencies(gctx, eco.System, key.Name, key.Version)
			if err != nil {
				// A transitive package deps.dev cannot resolve stays a leaf.
				if errors.Is(err, errors.ErrCodePackageMissing) {
					b.log.Warn("skipping unresolvable dependency", map[string]interface{}{
						"package": key.String(),
						"error":   err.Error(),
					})
					return nil
				}
				return err
			}
			mu.Lock()
			defer mu.Unlock()
			return b.store.Merge(gctx, eco.Label, resolved)
		})
	}
	return g.Wait()
}

func failure(name string, err error) ConstructResult {
	answer := "Database is not created! " + err.Error()
	if errors.Is(err, errors.ErrCodePackageMissing) {
		answer = fmt.Sprintf("Database is not created! Seems the package %s is not found", name)
	}
	return ConstructResult{
		Status: StatusFailed,
		Answer: answer,
		Error:  err.Error(),
	}
}
