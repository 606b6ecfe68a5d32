package ferry

import "time"

// MetricsProvider allows integration with metrics systems like Prometheus, StatsD, etc.
// Implement this interface to receive callbacks on commit and feed events.
type MetricsProvider interface {
	// OnStateChange is called when a Feed transitions between states.
	OnStateChange(from, to State)

	// OnCommitSuccess is called when a commit applied every modification.
	// Count is the number of modifications in the batch.
	OnCommitSuccess(count int, duration time.Duration)

	// OnCommitFailure is called when a commit failed.
	// Stage indicates where the failure occurred: "decode", "validate", "process" or "revert".
	OnCommitFailure(stage string, duration time.Duration)

	// OnRevert is called after a revert attempt. Unreverted is zero on success.
	OnRevert(unreverted int)

	// OnChangeReceived is called when raw data is received from a watcher.
	OnChangeReceived()
}

// NoOpMetricsProvider is a no-op implementation of MetricsProvider.
// Use this as an embedded type to implement only the methods you need.
type NoOpMetricsProvider struct{}

func (NoOpMetricsProvider) OnStateChange(_, _ State)                  {}
func (NoOpMetricsProvider) OnCommitSuccess(_ int, _ time.Duration)    {}
func (NoOpMetricsProvider) OnCommitFailure(_ string, _ time.Duration) {}
func (NoOpMetricsProvider) OnRevert(_ int)                            {}
func (NoOpMetricsProvider) OnChangeReceived()                         {}
