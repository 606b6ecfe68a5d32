package ferry

import "github.com/zoobzio/capitan"

// Field keys for ferry events.
var (
	// KeyIdentifier is the node identifier an event refers to.
	KeyIdentifier = capitan.NewStringKey("identifier")

	// KeyKind is the kind of a modification: create, update or delete.
	KeyKind = capitan.NewStringKey("kind")

	// KeyOperation is the id of a commit operation.
	KeyOperation = capitan.NewStringKey("operation")

	// KeyExecutor is the name of a dump executor.
	KeyExecutor = capitan.NewStringKey("executor")

	// KeyStep is the name of an initialization step.
	KeyStep = capitan.NewStringKey("step")

	// KeyCount is the number of items an event covers.
	KeyCount = capitan.NewIntKey("count")

	// KeyProcessed is the number of modifications already applied.
	KeyProcessed = capitan.NewIntKey("processed")

	// KeyUnattempted is the number of modifications never attempted.
	KeyUnattempted = capitan.NewIntKey("unattempted")

	// KeyUnreverted is the number of modifications a revert left applied.
	KeyUnreverted = capitan.NewIntKey("unreverted")

	// KeyDuration is how long an operation took.
	KeyDuration = capitan.NewDurationKey("duration")

	// KeyError is the error message when an operation fails.
	KeyError = capitan.NewStringKey("error")
)

// Field keys for Feed events.
var (
	// KeyState is the current state of the Feed.
	KeyState = capitan.NewStringKey("state")

	// KeyOldState is the previous state before a transition.
	KeyOldState = capitan.NewStringKey("old_state")

	// KeyNewState is the new state after a transition.
	KeyNewState = capitan.NewStringKey("new_state")

	// KeyDebounce is the configured debounce duration.
	KeyDebounce = capitan.NewDurationKey("debounce")

	// KeyWatcherType is the type name of the watcher implementation.
	KeyWatcherType = capitan.NewStringKey("watcher_type")
)
