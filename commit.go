package ferry

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/zoobzio/capitan"
	"github.com/zoobzio/clockz"
)

// Committer runs one logical write transaction against a WriterRegistry:
// validate, process, and on a bulk failure revert what was applied.
//
// A Committer is safe for concurrent use as long as its callers do not
// commit overlapping modifications at the same time.
type Committer struct {
	writers *WriterRegistry
	mapping MappingContext
	clock   clockz.Clock
	metrics MetricsProvider
}

// NewCommitter creates a Committer. A nil mapping context gets a fresh
// in-memory one shared by every operation of this Committer.
func NewCommitter(writers *WriterRegistry, mapping MappingContext) *Committer {
	if mapping == nil {
		mapping = NewMemoryMappingContext()
	}
	return &Committer{
		writers: writers,
		mapping: mapping,
		clock:   clockz.RealClock,
	}
}

// Clock sets a custom clock for durations.
func (c *Committer) Clock(clock clockz.Clock) *Committer {
	c.clock = clock
	return c
}

// Metrics sets a metrics provider.
func (c *Committer) Metrics(provider MetricsProvider) *Committer {
	c.metrics = provider
	return c
}

// MappingContext returns the mapping context handed to every operation.
func (c *Committer) MappingContext() MappingContext {
	return c.mapping
}

// Writers returns the registry the Committer writes through.
func (c *Committer) Writers() *WriterRegistry {
	return c.writers
}

// Commit applies updates, which must describe the change from before to
// after. It returns nil when every modification was applied.
//
// When processing stops part way, the applied prefix is reverted using a
// fresh context with the snapshots swapped. The result is then a
// *RevertSuccessError, when the backend is back at before, or a
// *RevertFailedError naming what is still applied. Both wrap the original
// *BulkUpdateError.
func (c *Committer) Commit(ctx context.Context, updates *Updates, before, after Snapshot) error {
	if updates == nil || updates.IsEmpty() {
		return nil
	}
	op := uuid.NewString()
	start := c.clock.Now()
	capitan.Emit(ctx, CommitStarted,
		KeyOperation.Field(op),
		KeyCount.Field(updates.Len()),
	)

	stage := "validate"
	err := WithWriteContext(before, after, c.mapping, func(wc *WriteContext) error {
		if err := c.writers.ValidateModifications(ctx, updates, wc); err != nil {
			return err
		}
		stage = "process"
		return c.writers.ProcessModifications(ctx, updates, wc)
	})
	if err == nil {
		capitan.Emit(ctx, CommitSucceeded,
			KeyOperation.Field(op),
			KeyCount.Field(updates.Len()),
			KeyDuration.Field(c.clock.Since(start)),
		)
		if c.metrics != nil {
			c.metrics.OnCommitSuccess(updates.Len(), c.clock.Since(start))
		}
		return nil
	}

	c.fail(ctx, op, stage, start, err)
	var bulk *BulkUpdateError
	if !errors.As(err, &bulk) {
		return err
	}
	return c.revert(ctx, op, start, bulk, before, after)
}

// Apply commits the change from current to the state produced by applying
// updates, and returns that state on success. On failure current is
// returned unchanged alongside the error.
func (c *Committer) Apply(ctx context.Context, current *MemorySnapshot, updates *Updates) (*MemorySnapshot, error) {
	if current == nil {
		current = NewMemorySnapshot(nil)
	}
	next := current.Apply(updates)
	if err := c.Commit(ctx, updates, current, next); err != nil {
		return current, err
	}
	return next, nil
}

func (c *Committer) revert(ctx context.Context, op string, start time.Time, bulk *BulkUpdateError, before, after Snapshot) error {
	var result error
	_ = WithWriteContext(after, before, c.mapping, func(wc *WriteContext) error { //nolint:errcheck // outcome captured in result
		result = bulk.Revert(ctx, wc)
		return nil
	})

	var rs *RevertSuccessError
	if errors.As(result, &rs) {
		capitan.Emit(ctx, CommitReverted,
			KeyOperation.Field(op),
			KeyProcessed.Field(len(bulk.Processed)),
			KeyDuration.Field(c.clock.Since(start)),
		)
		if c.metrics != nil {
			c.metrics.OnRevert(0)
		}
		return rs
	}

	c.fail(ctx, op, "revert", start, result)
	if c.metrics != nil {
		var rf *RevertFailedError
		unreverted := len(bulk.Processed)
		if errors.As(result, &rf) {
			unreverted = len(rf.Unreverted)
		}
		c.metrics.OnRevert(unreverted)
	}
	return result
}

func (c *Committer) fail(ctx context.Context, op, stage string, start time.Time, err error) {
	capitan.Emit(ctx, CommitFailed,
		KeyOperation.Field(op),
		KeyStep.Field(stage),
		KeyError.Field(err.Error()),
		KeyDuration.Field(c.clock.Since(start)),
	)
	if c.metrics != nil {
		c.metrics.OnCommitFailure(stage, c.clock.Since(start))
	}
}
