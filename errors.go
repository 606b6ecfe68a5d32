package ferry

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrNilUpdate is returned when an update has neither before nor after data.
	ErrNilUpdate = errors.New("ferry: update has neither before nor after data")
	// ErrMissingWriter is returned when a batch touches a type no writer owns.
	ErrMissingWriter = errors.New("ferry: no writer registered")
	// ErrMissingReader is returned when a read targets a type no reader owns.
	ErrMissingReader = errors.New("ferry: no reader registered")
	// ErrMissingParent is returned when a reader is registered beneath a type
	// that has no reader of its own.
	ErrMissingParent = errors.New("ferry: parent reader not registered")
	// ErrRegistryFrozen is returned when a builder is used after Build.
	ErrRegistryFrozen = errors.New("ferry: registry already built")
	// ErrDuplicateWriter is returned when two writers claim the same type.
	ErrDuplicateWriter = errors.New("ferry: duplicate writer registration")
	// ErrDuplicateReader is returned when two readers claim the same type.
	ErrDuplicateReader = errors.New("ferry: duplicate reader registration")
	// ErrOrderingCycle is returned when ordering constraints cannot be satisfied.
	ErrOrderingCycle = errors.New("ferry: writer ordering constraints form a cycle")
	// ErrUnknownType is returned when an ordering constraint names an
	// unregistered type.
	ErrUnknownType = errors.New("ferry: ordering constraint references unknown type")
	// ErrContextClosed is returned when a closed context is used.
	ErrContextClosed = errors.New("ferry: context closed")
	// ErrWildcardRead is returned when Read targets a wildcarded list identifier.
	ErrWildcardRead = errors.New("ferry: cannot read wildcarded identifier")
	// ErrTypeMismatch is returned when a customizer receives data of an
	// unexpected Go type.
	ErrTypeMismatch = errors.New("ferry: data type mismatch")
	// ErrNoSubtreeSupport is returned when a writer registered as a subtree
	// root cannot receive descendant modifications.
	ErrNoSubtreeSupport = errors.New("ferry: writer does not support subtrees")
	// ErrMissingSubtreeRoot is returned when a descendant of a subtree writer
	// changes but its root instance exists in neither snapshot.
	ErrMissingSubtreeRoot = errors.New("ferry: subtree root absent")
	// ErrAlreadyInitialized is returned when Initialize runs a second time.
	ErrAlreadyInitialized = errors.New("ferry: already initialized")
	// ErrAlreadyStarted is returned when a Feed is started twice.
	ErrAlreadyStarted = errors.New("ferry: feed already started")
)

// Op identifies where a write failed.
type Op int

const (
	// OpCreate marks a failed create.
	OpCreate Op = iota
	// OpUpdate marks a failed direct update.
	OpUpdate
	// OpDelete marks a failed delete.
	OpDelete
)

// String returns the string representation of the op.
func (o Op) String() string {
	switch o {
	case OpCreate:
		return "create"
	case OpUpdate:
		return "update"
	case OpDelete:
		return "delete"
	default:
		return "unknown"
	}
}

func opOf(k Kind) Op {
	switch k {
	case KindCreate:
		return OpCreate
	case KindDelete:
		return OpDelete
	default:
		return OpUpdate
	}
}

// ValidationError rejects a modification before any backend call.
type ValidationError struct {
	ID     Identifier
	Before DataObject
	After  DataObject
	Err    error
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation failed for %s: %v", e.ID, e.Err)
}

func (e *ValidationError) Unwrap() error { return e.Err }

// WriteFailedError reports a failed modification of one node.
type WriteFailedError struct {
	Op     Op
	ID     Identifier
	Before DataObject
	After  DataObject
	Err    error
}

func (e *WriteFailedError) Error() string {
	return fmt.Sprintf("%s failed for %s: %v", e.Op, e.ID, e.Err)
}

func (e *WriteFailedError) Unwrap() error { return e.Err }

// NewWriteFailedError tags err with the operation derived from u.
func NewWriteFailedError(u Update, err error) *WriteFailedError {
	return &WriteFailedError{
		Op:     opOf(u.Kind()),
		ID:     u.ID,
		Before: u.Before,
		After:  u.After,
		Err:    err,
	}
}

// BulkUpdateError reports a batch that stopped at its first failure.
// Processed lists the modifications applied before the failure, in
// execution order. Unattempted lists the ones never dispatched.
//
// Reverter.Revert returns nil once everything is undone even though the
// operation itself failed. Use Revert to get the outcome as a
// *RevertSuccessError or *RevertFailedError instead.
type BulkUpdateError struct {
	Failed      Update
	Processed   []Update
	Unattempted []Update
	Reverter    *Reverter
	Err         error
}

func (e *BulkUpdateError) Error() string {
	return fmt.Sprintf("bulk update failed at %s after %d processed, %d unattempted: %v",
		e.Failed, len(e.Processed), len(e.Unattempted), e.Err)
}

func (e *BulkUpdateError) Unwrap() error { return e.Err }

// RevertFailedError names the modifications that could not be undone.
// The backend is left in a mixed state.
type RevertFailedError struct {
	Unreverted []Update
	Cause      error
	Err        error
}

func (e *RevertFailedError) Error() string {
	ids := make([]string, len(e.Unreverted))
	for i, u := range e.Unreverted {
		ids[i] = u.ID.String()
	}
	return fmt.Sprintf("revert failed, unreverted [%s]: %v", strings.Join(ids, ", "), e.Err)
}

func (e *RevertFailedError) Unwrap() []error {
	if e.Cause == nil {
		return []error{e.Err}
	}
	return []error{e.Err, e.Cause}
}

// RevertSuccessError reports a failed operation whose applied part was
// fully reverted. The backend is back in its pre-operation state.
type RevertSuccessError struct {
	Cause error
}

func (e *RevertSuccessError) Error() string {
	return fmt.Sprintf("operation reverted: %v", e.Cause)
}

func (e *RevertSuccessError) Unwrap() error { return e.Cause }

// ReadFailedError aborts a read.
type ReadFailedError struct {
	ID  Identifier
	Err error
}

func (e *ReadFailedError) Error() string {
	return fmt.Sprintf("read failed for %s: %v", e.ID, e.Err)
}

func (e *ReadFailedError) Unwrap() error { return e.Err }

// InitFailedError collects the reconciliation steps that failed.
type InitFailedError struct {
	Steps []string
	Errs  []error
}

func (e *InitFailedError) Error() string {
	parts := make([]string, len(e.Steps))
	for i, s := range e.Steps {
		parts[i] = fmt.Sprintf("%s: %v", s, e.Errs[i])
	}
	return "initialization failed: " + strings.Join(parts, "; ")
}

func (e *InitFailedError) Unwrap() []error { return e.Errs }

func (e *InitFailedError) add(step string, err error) {
	e.Steps = append(e.Steps, step)
	e.Errs = append(e.Errs, err)
}
