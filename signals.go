package ferry

import "github.com/zoobzio/capitan"

// Commit signals.
var (
	// CommitStarted is emitted when a Committer begins an operation.
	CommitStarted = capitan.NewSignal(
		"ferry.commit.started",
		"Commit operation started",
	)

	// CommitSucceeded is emitted when every modification of an operation was applied.
	CommitSucceeded = capitan.NewSignal(
		"ferry.commit.succeeded",
		"Commit operation applied",
	)

	// CommitFailed is emitted when an operation failed validation or processing.
	CommitFailed = capitan.NewSignal(
		"ferry.commit.failed",
		"Commit operation failed",
	)

	// CommitReverted is emitted when a failed operation was fully undone.
	CommitReverted = capitan.NewSignal(
		"ferry.commit.reverted",
		"Commit operation reverted",
	)
)

// Write signals.
var (
	// BulkUpdateFailed is emitted when a writer fails part way through a bulk update.
	BulkUpdateFailed = capitan.NewSignal(
		"ferry.write.bulk.failed",
		"Bulk update stopped at a failed modification",
	)

	// RevertSucceeded is emitted when every processed modification was undone.
	RevertSucceeded = capitan.NewSignal(
		"ferry.write.revert.succeeded",
		"Revert completed",
	)

	// RevertFailed is emitted when a revert left modifications applied.
	RevertFailed = capitan.NewSignal(
		"ferry.write.revert.failed",
		"Revert failed",
	)
)

// Read signals.
var (
	// ReadCompleted is emitted after a full tree read.
	ReadCompleted = capitan.NewSignal(
		"ferry.read.completed",
		"Full read completed",
	)

	// ReadFailed is emitted when a full tree read aborts.
	ReadFailed = capitan.NewSignal(
		"ferry.read.failed",
		"Full read failed",
	)

	// DumpExecuted is emitted on every dump cache miss.
	DumpExecuted = capitan.NewSignal(
		"ferry.read.dump.executed",
		"Dump executor invoked",
	)
)

// Initialization signals.
var (
	// InitStarted is emitted when an InitializerRegistry begins.
	InitStarted = capitan.NewSignal(
		"ferry.init.started",
		"Initialization started",
	)

	// InitStepFailed is emitted for each failed initialization step.
	InitStepFailed = capitan.NewSignal(
		"ferry.init.step.failed",
		"Initialization step failed",
	)

	// InitCompleted is emitted when initialization finished, with or without failures.
	InitCompleted = capitan.NewSignal(
		"ferry.init.completed",
		"Initialization completed",
	)
)

// Feed lifecycle signals.
var (
	// FeedStarted is emitted when a Feed begins watching.
	FeedStarted = capitan.NewSignal(
		"ferry.feed.started",
		"Feed watching started",
	)

	// FeedStopped is emitted when a Feed stops watching.
	FeedStopped = capitan.NewSignal(
		"ferry.feed.stopped",
		"Feed watching stopped",
	)

	// FeedStateChanged is emitted when a Feed transitions between states.
	FeedStateChanged = capitan.NewSignal(
		"ferry.feed.state.changed",
		"Feed state transition",
	)
)

// Feed change processing signals.
var (
	// FeedChangeReceived is emitted when raw data is received from the watcher.
	FeedChangeReceived = capitan.NewSignal(
		"ferry.feed.change.received",
		"Raw change received from watcher",
	)

	// FeedDecodeFailed is emitted when a document cannot be decoded or bound.
	FeedDecodeFailed = capitan.NewSignal(
		"ferry.feed.decode.failed",
		"Document decoding failed",
	)

	// FeedValidationFailed is emitted when a document or its modifications are rejected.
	FeedValidationFailed = capitan.NewSignal(
		"ferry.feed.validation.failed",
		"Validation failed",
	)

	// FeedApplyFailed is emitted when a commit of the document failed.
	FeedApplyFailed = capitan.NewSignal(
		"ferry.feed.apply.failed",
		"Document commit failed",
	)

	// FeedApplySucceeded is emitted when a document was committed.
	FeedApplySucceeded = capitan.NewSignal(
		"ferry.feed.apply.succeeded",
		"Document committed",
	)
)
