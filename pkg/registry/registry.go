// Package registry is the process-wide directory of live tests. It mints
// test ids, spawns one execution engine per started test, mirrors engine
// snapshots into its record table and serves the REST surface the outer
// gateway calls.
package registry

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/matthew-bram/enterprise-confluent-test-probe-sub001/pkg/engine"
)

// EngineFactory builds one engine for a started test. The notify callback
// must be wired as the engine's snapshot publisher.
type EngineFactory func(testID uuid.UUID, bucket, testType string, notify func(engine.Snapshot)) (*engine.Engine, error)

type record struct {
	testID   uuid.UUID
	testType string
	bucket   string
	started  bool
	snap     engine.Snapshot
	eng      *engine.Engine
}

// Registry guards the record table with a single lock; per-test work is
// sharded onto the owning engine, the registry itself never performs I/O
// for a test.
type Registry struct {
	mu      sync.RWMutex
	records map[uuid.UUID]*record
	factory EngineFactory
	log     zerolog.Logger
}

func New(factory EngineFactory, logger zerolog.Logger) *Registry {
	return &Registry{
		records: map[uuid.UUID]*record{},
		factory: factory,
		log:     logger.With().Str("component", "registry").Logger(),
	}
}

// Initialize mints a fresh test id with an Uninitialized record.
func (r *Registry) Initialize() uuid.UUID {
	id := uuid.New()
	r.mu.Lock()
	r.records[id] = &record{
		testID: id,
		snap:   engine.Snapshot{TestID: id, State: engine.StateUninitialized},
	}
	r.mu.Unlock()
	r.log.Info().Str("test", id.String()).Msg("test initialized")
	return id
}

// Start spawns the engine for a known, not-yet-started test and forwards
// Initialize and StartTest to it. It returns before execution finishes.
func (r *Registry) Start(testID uuid.UUID, bucket, testType string) error {
	r.mu.Lock()
	rec, ok := r.records[testID]
	if !ok {
		r.mu.Unlock()
		return fmt.Errorf("unknown test %s", testID)
	}
	if rec.started {
		r.mu.Unlock()
		return fmt.Errorf("test %s already started", testID)
	}
	if rec.snap.State.Terminal() {
		r.mu.Unlock()
		return fmt.Errorf("test %s already terminal", testID)
	}
	rec.started = true
	rec.bucket = bucket
	rec.testType = testType
	r.mu.Unlock()

	eng, err := r.factory(testID, bucket, testType, func(snap engine.Snapshot) { r.onSnapshot(snap) })
	if err != nil {
		r.mu.Lock()
		rec.started = false
		r.mu.Unlock()
		return fmt.Errorf("spawn engine: %w", err)
	}

	r.mu.Lock()
	rec.eng = eng
	r.mu.Unlock()

	eng.Start()
	eng.Initialize()
	eng.StartTest()
	r.log.Info().Str("test", testID.String()).Str("bucket", bucket).Msg("test started")
	return nil
}

func (r *Registry) onSnapshot(snap engine.Snapshot) {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, ok := r.records[snap.TestID]
	if !ok {
		return
	}
	rec.snap = snap
	if snap.State == engine.StateDeleted {
		delete(r.records, snap.TestID)
	}
}

// Snapshot returns the engine's last reported state for a test.
func (r *Registry) Snapshot(testID uuid.UUID) (engine.Snapshot, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	rec, ok := r.records[testID]
	if !ok {
		return engine.Snapshot{}, fmt.Errorf("unknown test %s", testID)
	}
	return rec.snap, nil
}

// Delete forwards cancellation to the engine. The record disappears once
// the engine reports Deleted; a never-started record is removed directly.
func (r *Registry) Delete(testID uuid.UUID) error {
	r.mu.Lock()
	rec, ok := r.records[testID]
	if !ok {
		r.mu.Unlock()
		return fmt.Errorf("unknown test %s", testID)
	}
	if rec.eng == nil {
		delete(r.records, testID)
		r.mu.Unlock()
		return nil
	}
	eng := rec.eng
	r.mu.Unlock()

	eng.Delete()
	return nil
}

// ListActive returns every non-terminal test id.
func (r *Registry) ListActive() []uuid.UUID {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var ids []uuid.UUID
	for id, rec := range r.records {
		if !rec.snap.State.Terminal() {
			ids = append(ids, id)
		}
	}
	return ids
}

// Shutdown cancels every live engine and waits for clean termination up to
// the context deadline.
func (r *Registry) Shutdown(ctx context.Context) {
	r.mu.RLock()
	var engines []*engine.Engine
	for _, rec := range r.records {
		if rec.eng != nil {
			engines = append(engines, rec.eng)
		}
	}
	r.mu.RUnlock()

	for _, eng := range engines {
		eng.Delete()
	}
	for _, eng := range engines {
		select {
		case <-eng.Done():
		case <-ctx.Done():
			r.log.Warn().Msg("shutdown deadline reached with engines still live")
			return
		}
	}
}
