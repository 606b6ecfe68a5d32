// Package consul stores ferry mapping data in Consul KV and watches a
// Consul key for configuration documents using blocking queries.
package consul

import (
	"context"
	"fmt"
	"time"

	"github.com/hashicorp/consul/api"
	"github.com/zoobzio/ferry"
)

// Watcher watches a Consul KV key holding a configuration document.
type Watcher struct {
	client *api.Client
	key    string
	wait   time.Duration
}

// WatcherOption configures a Watcher.
type WatcherOption func(*Watcher)

// WithWaitTime bounds each blocking query. Zero uses the agent default.
func WithWaitTime(d time.Duration) WatcherOption {
	return func(w *Watcher) {
		w.wait = d
	}
}

// NewWatcher creates a Watcher for key.
func NewWatcher(client *api.Client, key string, opts ...WatcherOption) *Watcher {
	w := &Watcher{client: client, key: key}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Watch emits the current document, if the key exists, and then the value
// after every index change that leaves the key present.
func (w *Watcher) Watch(ctx context.Context) (<-chan []byte, error) {
	kv := w.client.KV()

	pair, meta, err := kv.Get(w.key, (&api.QueryOptions{}).WithContext(ctx))
	if err != nil {
		return nil, fmt.Errorf("failed to get initial value: %w", err)
	}

	out := make(chan []byte)

	go func() {
		defer close(out)

		lastIndex := meta.LastIndex
		if pair != nil {
			select {
			case out <- pair.Value:
			case <-ctx.Done():
				return
			}
		}

		for ctx.Err() == nil {
			opts := (&api.QueryOptions{WaitIndex: lastIndex, WaitTime: w.wait}).WithContext(ctx)
			pair, meta, err := kv.Get(w.key, opts)
			if err != nil {
				continue
			}
			if meta.LastIndex <= lastIndex {
				continue
			}
			lastIndex = meta.LastIndex
			if pair == nil {
				continue
			}
			select {
			case out <- pair.Value:
			case <-ctx.Done():
				return
			}
		}
	}()

	return out, nil
}

var _ ferry.Watcher = (*Watcher)(nil)
