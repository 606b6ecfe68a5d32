package ferry

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/zoobzio/capitan"
	"github.com/zoobzio/clockz"
)

// DefaultDebounce is the default debounce duration for change processing.
const DefaultDebounce = 100 * time.Millisecond

// Feed watches a source of serialized Documents and commits every change
// to the tree through a Committer. Each document is the whole desired
// tree; the Feed diffs it against the last committed one.
//
// A rejected or reverted document leaves the previous one applied and the
// Feed degraded. A failed revert leaves the Feed inconsistent until a later
// document commits.
type Feed struct {
	watcher        Watcher
	committer      *Committer
	binder         Binder
	debounce       time.Duration
	startupTimeout time.Duration
	syncMode       bool
	clock          clockz.Clock
	codec          Codec
	metrics        MetricsProvider
	onStop         func(State)

	state     atomic.Int32
	current   atomic.Pointer[MemorySnapshot]
	applied   atomic.Bool
	lastError atomic.Pointer[error]
	failures  *failureLog

	mu      sync.Mutex
	started bool

	// For sync mode: channel to receive changes
	changes <-chan []byte
}

// NewFeed creates a Feed that decodes documents from watcher, binds their
// nodes with binder and commits the differences through committer.
//
// Instance configuration uses chainable methods before calling Start().
func NewFeed(watcher Watcher, binder Binder, committer *Committer) *Feed {
	f := &Feed{
		watcher:   watcher,
		committer: committer,
		binder:    binder,
		debounce:  DefaultDebounce,
		clock:     clockz.RealClock,
		codec:     JSONCodec{},
	}
	f.state.Store(int32(StateLoading))
	f.current.Store(NewMemorySnapshot(nil))
	return f
}

// -----------------------------------------------------------------------------
// Chainable Instance Configuration
// -----------------------------------------------------------------------------

// Debounce sets the debounce duration for change processing.
// Documents arriving within this duration are coalesced; only the last one
// is committed. Default: 100ms. Must be called before Start().
func (f *Feed) Debounce(d time.Duration) *Feed {
	f.debounce = d
	return f
}

// SyncMode enables synchronous processing for testing.
// In sync mode, documents are processed only through Process(), without
// debouncing or goroutines. Must be called before Start().
func (f *Feed) SyncMode() *Feed {
	f.syncMode = true
	return f
}

// Clock sets a custom clock for time operations.
// Must be called before Start().
func (f *Feed) Clock(clock clockz.Clock) *Feed {
	f.clock = clock
	return f
}

// Codec sets the codec for decoding documents.
// Default: JSONCodec. Must be called before Start().
func (f *Feed) Codec(codec Codec) *Feed {
	f.codec = codec
	return f
}

// StartupTimeout sets the maximum duration to wait for the first document.
// Default: no timeout. Must be called before Start().
func (f *Feed) StartupTimeout(d time.Duration) *Feed {
	f.startupTimeout = d
	return f
}

// Metrics sets a metrics provider for feed events.
// Must be called before Start().
func (f *Feed) Metrics(provider MetricsProvider) *Feed {
	f.metrics = provider
	return f
}

// OnStop sets a callback invoked with the final state when the Feed stops
// watching. Must be called before Start().
func (f *Feed) OnStop(fn func(State)) *Feed {
	f.onStop = fn
	return f
}

// ErrorHistorySize sets the number of recent failures to retain.
// Use 0 (default) to only retain the most recent error via LastError().
// Must be called before Start().
func (f *Feed) ErrorHistorySize(n int) *Feed {
	f.failures = newFailureLog(n)
	return f
}

// Baseline sets the tree the first document is diffed against, typically
// the result of InitializerRegistry.Initialize. Must be called before Start().
func (f *Feed) Baseline(s *MemorySnapshot) *Feed {
	if s != nil {
		f.current.Store(s)
	}
	return f
}

// Configure applies a FeedConfig. Must be called before Start().
func (f *Feed) Configure(cfg FeedConfig) *Feed {
	f.debounce = cfg.Debounce.Std()
	f.startupTimeout = cfg.StartupTimeout.Std()
	f.codec = cfg.Codec()
	f.failures = newFailureLog(cfg.ErrorHistorySize)
	return f
}

// State returns the current state of the Feed.
func (f *Feed) State() State {
	return State(f.state.Load())
}

// Current returns the last committed tree and true, or the baseline and
// false if no document has been committed yet.
func (f *Feed) Current() (*MemorySnapshot, bool) {
	return f.current.Load(), f.applied.Load()
}

// LastError returns the last error encountered, or nil if no error occurred.
func (f *Feed) LastError() error {
	ptr := f.lastError.Load()
	if ptr == nil {
		return nil
	}
	return *ptr
}

// ErrorHistory returns the failures since the last successful commit,
// oldest first. Returns nil if error history is not enabled.
func (f *Feed) ErrorHistory() []Failure {
	return f.failures.list()
}

// Start begins watching. It blocks until the first document is processed
// (success or failure), then continues watching asynchronously.
//
// If the first document fails, Start returns the error but keeps watching
// for valid documents. In sync mode, Start only processes the first
// document; use Process() for the rest.
//
// Start can only be called once.
func (f *Feed) Start(ctx context.Context) error {
	f.mu.Lock()
	if f.started {
		f.mu.Unlock()
		return ErrAlreadyStarted
	}
	f.started = true
	f.mu.Unlock()

	capitan.Emit(ctx, FeedStarted,
		KeyDebounce.Field(f.debounce),
		KeyWatcherType.Field(fmt.Sprintf("%T", f.watcher)),
	)

	changes, err := f.watcher.Watch(ctx)
	if err != nil {
		return fmt.Errorf("failed to start watcher: %w", err)
	}

	startupCtx := ctx
	if f.startupTimeout > 0 {
		var cancel context.CancelFunc
		startupCtx, cancel = f.clock.WithTimeout(ctx, f.startupTimeout)
		defer cancel()
	}

	var initialErr error
	select {
	case <-startupCtx.Done():
		if f.startupTimeout > 0 && errors.Is(startupCtx.Err(), context.DeadlineExceeded) {
			return fmt.Errorf("startup timeout: watcher did not emit a document within %v", f.startupTimeout)
		}
		return startupCtx.Err()
	case raw, ok := <-changes:
		if !ok {
			return errors.New("watcher closed before emitting a document")
		}
		f.received(ctx)
		initialErr = f.process(ctx, raw)
	}

	if f.syncMode {
		f.changes = changes
		return initialErr
	}

	go f.watch(ctx, changes)

	return initialErr
}

// Process reads and processes the next document from the watcher.
// This is only available in sync mode and is used for deterministic testing.
// Returns false if no document is available or the channel is closed.
func (f *Feed) Process(ctx context.Context) bool {
	if !f.syncMode {
		return false
	}

	select {
	case raw, ok := <-f.changes:
		if !ok {
			return false
		}
		f.received(ctx)
		_ = f.process(ctx, raw) //nolint:errcheck // Errors stored via setError
		return true
	default:
		return false
	}
}

func (f *Feed) received(ctx context.Context) {
	capitan.Emit(ctx, FeedChangeReceived)
	if f.metrics != nil {
		f.metrics.OnChangeReceived()
	}
}

// process decodes, binds and commits a single document.
func (f *Feed) process(ctx context.Context, raw []byte) error {
	start := f.clock.Now()
	oldState := f.State()

	var doc Document
	if err := f.codec.Unmarshal(raw, &doc); err != nil {
		return f.reject(ctx, oldState, "decode", start, fmt.Errorf("decode failed: %w", err))
	}
	if err := doc.Validate(); err != nil {
		return f.reject(ctx, oldState, "validate", start, fmt.Errorf("validation failed: %w", err))
	}
	next, err := doc.Snapshot(f.binder)
	if err != nil {
		return f.reject(ctx, oldState, "decode", start, fmt.Errorf("bind failed: %w", err))
	}
	if err := RestoreMappings(ctx, f.committer.MappingContext(), doc.Mappings); err != nil {
		return f.reject(ctx, oldState, "process", start, fmt.Errorf("mapping restore failed: %w", err))
	}

	prev := f.current.Load()
	if err := f.committer.Commit(ctx, Diff(prev, next), prev, next); err != nil {
		// commit stage metrics are reported by the Committer
		err = fmt.Errorf("commit failed: %w", err)
		var rf *RevertFailedError
		var ve *ValidationError
		switch {
		case errors.As(err, &rf):
			f.setError("revert", err)
			f.transitionState(ctx, oldState, StateInconsistent)
			capitan.Emit(ctx, FeedApplyFailed, KeyError.Field(err.Error()))
		case errors.As(err, &ve):
			f.setError("validate", err)
			f.transitionState(ctx, oldState, f.failureState(oldState))
			capitan.Emit(ctx, FeedValidationFailed, KeyError.Field(err.Error()))
		default:
			f.setError("process", err)
			f.transitionState(ctx, oldState, f.failureState(oldState))
			capitan.Emit(ctx, FeedApplyFailed, KeyError.Field(err.Error()))
		}
		return err
	}

	f.current.Store(next)
	f.applied.Store(true)
	f.lastError.Store(nil)
	f.failures.reset()
	f.transitionState(ctx, oldState, StateHealthy)
	capitan.Emit(ctx, FeedApplySucceeded,
		KeyCount.Field(next.Len()),
		KeyDuration.Field(f.clock.Since(start)),
	)
	return nil
}

// reject records a document that never reached the backend.
func (f *Feed) reject(ctx context.Context, oldState State, stage string, start time.Time, err error) error {
	f.setError(stage, err)
	f.transitionState(ctx, oldState, f.failureState(oldState))
	switch stage {
	case "decode":
		capitan.Emit(ctx, FeedDecodeFailed, KeyError.Field(err.Error()))
	case "validate":
		capitan.Emit(ctx, FeedValidationFailed, KeyError.Field(err.Error()))
	default:
		capitan.Emit(ctx, FeedApplyFailed, KeyError.Field(err.Error()))
	}
	if f.metrics != nil {
		f.metrics.OnCommitFailure(stage, f.clock.Since(start))
	}
	return err
}

// failureState returns the state after a failure that left the backend
// untouched.
func (f *Feed) failureState(oldState State) State {
	switch {
	case oldState == StateInconsistent:
		return StateInconsistent
	case !f.applied.Load():
		return StateEmpty
	default:
		return StateDegraded
	}
}

// transitionState updates the state and emits a state change event if changed.
func (f *Feed) transitionState(ctx context.Context, oldState, newState State) {
	if oldState == newState {
		return
	}
	f.state.Store(int32(newState))
	capitan.Emit(ctx, FeedStateChanged,
		KeyOldState.Field(oldState.String()),
		KeyNewState.Field(newState.String()),
	)
	if f.metrics != nil {
		f.metrics.OnStateChange(oldState, newState)
	}
}

// setError stores an error atomically and records it with its stage.
func (f *Feed) setError(stage string, err error) {
	e := err
	f.lastError.Store(&e)
	f.failures.record(Failure{Stage: stage, At: f.clock.Now(), Err: err})
}

// watch processes documents from the watcher channel with debouncing.
func (f *Feed) watch(ctx context.Context, changes <-chan []byte) {
	defer func() {
		finalState := f.State()
		capitan.Emit(ctx, FeedStopped,
			KeyState.Field(finalState.String()),
		)
		if f.onStop != nil {
			f.onStop(finalState)
		}
	}()

	var (
		timer      clockz.Timer
		pending    []byte
		hasPending bool
	)

	for {
		var timerC <-chan time.Time
		if timer != nil {
			timerC = timer.C()
		}

		select {
		case <-ctx.Done():
			if timer != nil {
				timer.Stop()
			}
			return

		case raw, ok := <-changes:
			if !ok {
				if hasPending {
					_ = f.process(ctx, pending) //nolint:errcheck // Errors stored via setError
				}
				return
			}

			f.received(ctx)
			pending = raw
			hasPending = true

			if timer == nil {
				timer = f.clock.NewTimer(f.debounce)
			} else {
				if !timer.Stop() {
					select {
					case <-timer.C():
					default:
					}
				}
				timer.Reset(f.debounce)
			}

		case <-timerC:
			if hasPending {
				_ = f.process(ctx, pending) //nolint:errcheck // Errors stored via setError
				hasPending = false
			}
		}
	}
}
