package ferry

import (
	"context"
	"fmt"
	"sync"

	"github.com/zoobzio/capitan"
	"github.com/zoobzio/clockz"
)

// Initialization step names, as reported in InitFailedError and signals.
const (
	StepRestoreContext = "restore-context"
	StepRestoreConfig  = "restore-config"
)

// Initialized is one configuration node derived from operational state.
type Initialized struct {
	ID   Identifier
	Data DataObject
}

// Initializer derives configuration nodes from one operational instance
// read at id.
type Initializer func(ctx context.Context, id Identifier, operational DataObject, rc *ReadContext) ([]Initialized, error)

// ContextRestorer loads persisted mapping data before anything else runs.
type ContextRestorer interface {
	RestoreContext(ctx context.Context, mc MappingContext) error
}

// ConfigRestorer loads a persisted configuration snapshot.
type ConfigRestorer interface {
	RestoreConfig(ctx context.Context) ([]Entry, error)
}

type registeredInitializer struct {
	typ Identifier
	fn  Initializer
}

// InitializerRegistry reconciles configuration from discovered operational
// state at startup.
type InitializerRegistry struct {
	readers      *ReaderRegistry
	committer    *Committer
	initializers []registeredInitializer
	contexts     ContextRestorer
	configs      ConfigRestorer
	cfg          InitConfig
	clock        clockz.Clock

	mu   sync.Mutex
	done bool
}

// NewInitializerRegistry creates a registry that reads through readers and
// writes derived configuration through committer.
func NewInitializerRegistry(readers *ReaderRegistry, committer *Committer) *InitializerRegistry {
	return &InitializerRegistry{
		readers:   readers,
		committer: committer,
		clock:     clockz.RealClock,
	}
}

// Register adds an initializer for every operational instance of typ.
// Initializers run in registration order.
func (r *InitializerRegistry) Register(typ Identifier, fn Initializer) *InitializerRegistry {
	r.initializers = append(r.initializers, registeredInitializer{typ: typ.Unkeyed(), fn: fn})
	return r
}

// ContextRestorer sets the source of persisted mapping data.
func (r *InitializerRegistry) ContextRestorer(cr ContextRestorer) *InitializerRegistry {
	r.contexts = cr
	return r
}

// ConfigRestorer sets the source of the persisted configuration snapshot.
func (r *InitializerRegistry) ConfigRestorer(cr ConfigRestorer) *InitializerRegistry {
	r.configs = cr
	return r
}

// Configure applies an InitConfig.
func (r *InitializerRegistry) Configure(cfg InitConfig) *InitializerRegistry {
	r.cfg = cfg
	return r
}

// Clock sets a custom clock for durations.
func (r *InitializerRegistry) Clock(clock clockz.Clock) *InitializerRegistry {
	r.clock = clock
	return r
}

// Initialize runs reconciliation once: restore mappings, derive
// configuration from every registered initializer, then lay the persisted
// configuration on top.
//
// A failing step is reported through InitStepFailed and the remaining
// steps still run. The returned snapshot is the configuration committed so
// far; the error, if any, is an *InitFailedError listing the failed steps.
func (r *InitializerRegistry) Initialize(ctx context.Context) (*MemorySnapshot, error) {
	r.mu.Lock()
	if r.done {
		r.mu.Unlock()
		return nil, ErrAlreadyInitialized
	}
	r.done = true
	r.mu.Unlock()

	start := r.clock.Now()
	capitan.Emit(ctx, InitStarted,
		KeyCount.Field(len(r.initializers)),
	)

	failures := &InitFailedError{}
	fail := func(step string, err error) {
		capitan.Emit(ctx, InitStepFailed,
			KeyStep.Field(step),
			KeyError.Field(err.Error()),
		)
		failures.add(step, err)
	}

	if r.contexts != nil && !r.cfg.SkipContextRestore {
		if err := r.contexts.RestoreContext(ctx, r.committer.MappingContext()); err != nil {
			fail(StepRestoreContext, err)
		}
	}

	state := NewMemorySnapshot(nil)
	for _, ri := range r.initializers {
		next, err := r.derive(ctx, state, ri)
		if err != nil {
			fail(ri.typ.String(), err)
			continue
		}
		state = next
	}

	if r.configs != nil && !r.cfg.SkipConfigRestore {
		next, err := r.restoreConfig(ctx, state)
		if err != nil {
			fail(StepRestoreConfig, err)
		} else {
			state = next
		}
	}

	capitan.Emit(ctx, InitCompleted,
		KeyCount.Field(state.Len()),
		KeyDuration.Field(r.clock.Since(start)),
	)
	if len(failures.Steps) > 0 {
		return state, failures
	}
	return state, nil
}

// derive reads every operational instance of one type, converts them and
// commits the result as one batch on top of state.
func (r *InitializerRegistry) derive(ctx context.Context, state *MemorySnapshot, ri registeredInitializer) (*MemorySnapshot, error) {
	var derived []Entry
	err := WithReadContext(r.committer.MappingContext(), func(rc *ReadContext) error {
		entries, err := r.readers.ReadAllOf(ctx, ri.typ, rc)
		if err != nil {
			return err
		}
		for _, e := range entries {
			out, err := ri.fn(ctx, e.ID, e.Data, rc)
			if err != nil {
				return fmt.Errorf("initialize %s: %w", e.ID, err)
			}
			for _, d := range out {
				derived = append(derived, Entry{ID: d.ID, Data: d.Data})
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return r.committer.Apply(ctx, state, Overlay(state, NewMemorySnapshot(derived)))
}

func (r *InitializerRegistry) restoreConfig(ctx context.Context, state *MemorySnapshot) (*MemorySnapshot, error) {
	entries, err := r.configs.RestoreConfig(ctx)
	if err != nil {
		return nil, err
	}
	return r.committer.Apply(ctx, state, Overlay(state, NewMemorySnapshot(entries)))
}
