// Package bootstrap gates the service on a single schema + seed pass.
package bootstrap

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"pantry-api/internal/schema"
	"pantry-api/internal/seed"
	"pantry-api/internal/store"
)

type step struct {
	name string
	fn   func(ctx context.Context) error
}

// Initializer runs schema convergence and then seed application exactly once
// per process. Every caller of Wait observes the same outcome; a failed run is
// not retried until the process restarts.
type Initializer struct {
	steps []step

	once sync.Once
	done chan struct{}
	err  error

	mu         sync.RWMutex
	schemaRep  *schema.Report
	seedResult *seed.Result
	finishedAt time.Time
}

// New creates an initializer over an opened gateway.
func New(gw *store.Gateway, reg *schema.Registry, catalog seed.Catalog) *Initializer {
	i := &Initializer{done: make(chan struct{})}
	i.steps = []step{
		{name: "schema", fn: func(ctx context.Context) error {
			rep, err := schema.EnsureSchema(ctx, gw, reg)
			if err != nil {
				return err
			}
			i.mu.Lock()
			i.schemaRep = rep
			i.mu.Unlock()
			return nil
		}},
		{name: "seed", fn: func(ctx context.Context) error {
			res, err := seed.Apply(ctx, gw, reg, catalog)
			if err != nil {
				return err
			}
			i.mu.Lock()
			i.seedResult = res
			i.mu.Unlock()
			return nil
		}},
	}
	return i
}

// Start launches initialization in the background if it has not begun.
func (i *Initializer) Start() {
	i.once.Do(func() {
		go i.run()
	})
}

func (i *Initializer) run() {
	defer close(i.done)
	start := time.Now()

	// Callers may give up waiting; the shared run is not tied to any of them.
	ctx := context.Background()
	for _, s := range i.steps {
		if err := s.fn(ctx); err != nil {
			i.err = fmt.Errorf("failed to initialize store (%s): %w", s.name, err)
			log.Printf("[Bootstrap] %v", i.err)
			return
		}
	}

	i.mu.Lock()
	i.finishedAt = time.Now()
	i.mu.Unlock()
	log.Printf("[Bootstrap] Store ready in %v", time.Since(start).Round(time.Millisecond))
}

// Wait starts initialization if needed and blocks until it completes or ctx
// is done. Concurrent callers share one run and receive the same error.
func (i *Initializer) Wait(ctx context.Context) error {
	i.Start()
	select {
	case <-i.done:
		return i.err
	case <-ctx.Done():
		return store.E(store.KindStoreUnavailable, "bootstrap.Wait", ctx.Err())
	}
}

// Ready reports whether initialization finished successfully.
func (i *Initializer) Ready() bool {
	select {
	case <-i.done:
		return i.err == nil
	default:
		return false
	}
}

// Err returns the initialization error, or nil while running or after success.
func (i *Initializer) Err() error {
	select {
	case <-i.done:
		return i.err
	default:
		return nil
	}
}

// Status summarises the initializer for the readiness endpoint.
func (i *Initializer) Status() map[string]interface{} {
	status := map[string]interface{}{"ready": i.Ready()}
	if err := i.Err(); err != nil {
		status["error"] = err.Error()
	}

	i.mu.RLock()
	defer i.mu.RUnlock()
	if i.schemaRep != nil {
		status["schema"] = map[string]interface{}{
			"created":         i.schemaRep.Created,
			"indexes_created": i.schemaRep.IndexesCreated,
			"rebuilt":         i.schemaRep.Rebuilt,
			"recorded":        i.schemaRep.Recorded,
		}
	}
	if i.seedResult != nil {
		status["seeds"] = map[string]interface{}{
			"applied": i.seedResult.Applied,
			"skipped": i.seedResult.Skipped,
		}
	}
	if !i.finishedAt.IsZero() {
		status["ready_at"] = i.finishedAt
	}
	return status
}
