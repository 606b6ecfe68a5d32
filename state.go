package ferry

// State represents the current state of a Feed.
type State int32

const (
	// StateLoading indicates the Feed is initializing and has not yet
	// committed any document.
	StateLoading State = iota

	// StateHealthy indicates the last document was committed.
	StateHealthy

	// StateDegraded indicates the last document was rejected or its commit
	// was reverted. The previous document remains applied.
	StateDegraded

	// StateEmpty indicates the initial document was never committed. The
	// Feed keeps watching for a valid one.
	StateEmpty

	// StateInconsistent indicates a revert failed and the backend holds part
	// of a rejected document. Only a later successful commit leaves it.
	StateInconsistent
)

// String returns the string representation of the state.
func (s State) String() string {
	switch s {
	case StateLoading:
		return "loading"
	case StateHealthy:
		return "healthy"
	case StateDegraded:
		return "degraded"
	case StateEmpty:
		return "empty"
	case StateInconsistent:
		return "inconsistent"
	default:
		return "unknown"
	}
}
