// Package etcd stores ferry mapping data in etcd and watches an etcd key
// for configuration documents.
package etcd

import (
	"context"
	"fmt"

	"github.com/zoobzio/ferry"
	clientv3 "go.etcd.io/etcd/client/v3"
)

// Watcher watches an etcd key holding a configuration document.
type Watcher struct {
	client *clientv3.Client
	key    string
}

// NewWatcher creates a Watcher for key.
func NewWatcher(client *clientv3.Client, key string) *Watcher {
	return &Watcher{client: client, key: key}
}

// Watch emits the current document, if the key exists, and then every
// value put to the key. Deletes are not emitted.
func (w *Watcher) Watch(ctx context.Context) (<-chan []byte, error) {
	resp, err := w.client.Get(ctx, w.key)
	if err != nil {
		return nil, fmt.Errorf("failed to get initial value: %w", err)
	}

	out := make(chan []byte)

	go func() {
		defer close(out)

		if len(resp.Kvs) > 0 {
			select {
			case out <- resp.Kvs[0].Value:
			case <-ctx.Done():
				return
			}
		}

		events := w.client.Watch(ctx, w.key, clientv3.WithRev(resp.Header.Revision+1))
		for {
			select {
			case <-ctx.Done():
				return
			case wr, ok := <-events:
				if !ok {
					return
				}
				if wr.Err() != nil {
					continue
				}
				for _, ev := range wr.Events {
					if ev.Type != clientv3.EventTypePut {
						continue
					}
					select {
					case out <- ev.Kv.Value:
					case <-ctx.Done():
						return
					}
				}
			}
		}
	}()

	return out, nil
}

var _ ferry.Watcher = (*Watcher)(nil)
