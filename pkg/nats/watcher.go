// Package nats stores ferry mapping data in a NATS JetStream key-value
// bucket and watches a bucket key for configuration documents.
package nats

import (
	"context"
	"fmt"

	"github.com/nats-io/nats.go/jetstream"
	"github.com/zoobzio/ferry"
)

// Watcher watches a JetStream KV key holding a configuration document.
type Watcher struct {
	kv  jetstream.KeyValue
	key string
}

// NewWatcher creates a Watcher for key.
func NewWatcher(kv jetstream.KeyValue, key string) *Watcher {
	return &Watcher{kv: kv, key: key}
}

// Watch emits the current document, if the key exists, and then every
// value put to the key. Deletes and purges are not emitted.
func (w *Watcher) Watch(ctx context.Context) (<-chan []byte, error) {
	watcher, err := w.kv.Watch(ctx, w.key)
	if err != nil {
		return nil, fmt.Errorf("failed to watch key: %w", err)
	}

	out := make(chan []byte)

	go func() {
		defer close(out)
		defer watcher.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case entry, ok := <-watcher.Updates():
				if !ok {
					return
				}
				// nil marks the end of the initial values.
				if entry == nil {
					continue
				}
				if op := entry.Operation(); op == jetstream.KeyValueDelete || op == jetstream.KeyValuePurge {
					continue
				}
				select {
				case out <- entry.Value():
				case <-ctx.Done():
					return
				}
			}
		}
	}()

	return out, nil
}

var _ ferry.Watcher = (*Watcher)(nil)
