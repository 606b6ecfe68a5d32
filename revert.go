package ferry

import (
	"context"
	"errors"
	"fmt"

	"github.com/zoobzio/capitan"
)

// Reverter undoes the applied part of a failed bulk update.
type Reverter struct {
	registry  *WriterRegistry
	processed []Update
}

// Processed returns the modifications the reverter will undo, in the order
// they were originally applied.
func (r *Reverter) Processed() []Update {
	return append([]Update(nil), r.processed...)
}

// Revert replays the processed modifications in reverse order, each
// inverted, through the owning writers.
//
// wc must be a fresh WriteContext; the failed operation's context holds
// stale snapshots. Revert returns nil when everything was undone, or a
// *RevertFailedError naming the modifications that remain applied.
func (r *Reverter) Revert(ctx context.Context, wc *WriteContext) error {
	for i := len(r.processed) - 1; i >= 0; i-- {
		u := r.processed[i].Reverse()
		e, ok := r.registry.lookup(u.ID)
		var err error
		if !ok {
			err = fmt.Errorf("%w: %s", ErrMissingWriter, u.ID.Unkeyed())
		} else {
			err = e.apply(ctx, u, wc)
		}
		if err != nil {
			unreverted := append([]Update(nil), r.processed[:i+1]...)
			capitan.Emit(ctx, RevertFailed,
				KeyIdentifier.Field(u.ID.String()),
				KeyUnreverted.Field(len(unreverted)),
				KeyError.Field(err.Error()),
			)
			return &RevertFailedError{Unreverted: unreverted, Err: err}
		}
	}
	capitan.Emit(ctx, RevertSucceeded,
		KeyProcessed.Field(len(r.processed)),
	)
	return nil
}

// Revert undoes the applied part of the batch through its Reverter. wc must
// be a fresh WriteContext with the snapshots swapped. The result is never
// nil: a *RevertSuccessError when everything was undone, otherwise a
// *RevertFailedError. Both wrap e.
func (e *BulkUpdateError) Revert(ctx context.Context, wc *WriteContext) error {
	err := e.Reverter.Revert(ctx, wc)
	if err == nil {
		return &RevertSuccessError{Cause: e}
	}
	var rf *RevertFailedError
	if !errors.As(err, &rf) {
		rf = &RevertFailedError{Unreverted: e.Processed, Err: err}
	}
	rf.Cause = e
	return rf
}
