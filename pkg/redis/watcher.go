// Package redis stores ferry mapping data in Redis and watches Redis keys
// for configuration documents.
package redis

import (
	"context"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"
	"github.com/zoobzio/ferry"
)

// Watcher watches a Redis key holding a configuration document using
// keyspace notifications. Redis must have them enabled:
//
//	CONFIG SET notify-keyspace-events KEA
type Watcher struct {
	client redis.UniversalClient
	key    string
	db     int
}

// WatcherOption configures a Watcher.
type WatcherOption func(*Watcher)

// WithDatabase sets the database number used in the keyspace channel.
// Defaults to 0.
func WithDatabase(db int) WatcherOption {
	return func(w *Watcher) {
		w.db = db
	}
}

// NewWatcher creates a Watcher for key.
func NewWatcher(client redis.UniversalClient, key string, opts ...WatcherOption) *Watcher {
	w := &Watcher{
		client: client,
		key:    key,
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Watch emits the current document, if the key exists, and then every
// value written to the key.
func (w *Watcher) Watch(ctx context.Context) (<-chan []byte, error) {
	channel := fmt.Sprintf("__keyspace@%d__:%s", w.db, w.key)
	pubsub := w.client.Subscribe(ctx, channel)

	if _, err := pubsub.Receive(ctx); err != nil {
		pubsub.Close()
		return nil, fmt.Errorf("failed to subscribe to keyspace notifications: %w", err)
	}

	out := make(chan []byte)

	go func() {
		defer close(out)
		defer pubsub.Close()

		val, err := w.client.Get(ctx, w.key).Bytes()
		switch {
		case errors.Is(err, redis.Nil):
		case err != nil:
			return
		default:
			select {
			case out <- val:
			case <-ctx.Done():
				return
			}
		}

		ch := pubsub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}
				switch msg.Payload {
				case "set", "setex", "psetex", "setnx", "setrange", "append":
				default:
					continue
				}
				val, err := w.client.Get(ctx, w.key).Bytes()
				if err != nil {
					continue
				}
				select {
				case out <- val:
				case <-ctx.Done():
					return
				}
			}
		}
	}()

	return out, nil
}

var _ ferry.Watcher = (*Watcher)(nil)
