package ferry

import (
	"context"

	"github.com/cespare/xxhash"
)

// Watcher observes a source for changes and emits raw bytes on a channel.
// Implementations must emit the current value immediately upon Watch() being
// called so the first emission carries the whole document.
type Watcher interface {
	// Watch begins observing the source and returns a channel that emits
	// raw bytes when changes occur. The channel is closed when the context
	// is canceled or an unrecoverable error occurs.
	Watch(ctx context.Context) (<-chan []byte, error)
}

// WatcherFunc adapts a function to Watcher.
type WatcherFunc func(ctx context.Context) (<-chan []byte, error)

// Watch calls f.
func (f WatcherFunc) Watch(ctx context.Context) (<-chan []byte, error) {
	return f(ctx)
}

// StaticWatcher emits one fixed payload and closes.
type StaticWatcher struct {
	data []byte
}

// NewStaticWatcher creates a watcher over a fixed payload.
func NewStaticWatcher(data []byte) *StaticWatcher {
	return &StaticWatcher{data: data}
}

// Watch emits the payload once.
func (w *StaticWatcher) Watch(ctx context.Context) (<-chan []byte, error) {
	out := make(chan []byte, 1)
	select {
	case <-ctx.Done():
	default:
		out <- w.data
	}
	close(out)
	return out, nil
}

// changeFilter drops payloads identical to the previous one.
type changeFilter struct {
	seen bool
	last uint64
}

// changed reports whether data differs from the last payload passed in.
func (f *changeFilter) changed(data []byte) bool {
	sum := xxhash.Sum64(data)
	if f.seen && sum == f.last {
		return false
	}
	f.seen = true
	f.last = sum
	return true
}
