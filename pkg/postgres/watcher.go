// Package postgres stores ferry mapping data in PostgreSQL and watches a
// table row for configuration documents using LISTEN/NOTIFY.
package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/zoobzio/ferry"
)

// Watcher watches one row of a document table. A trigger must notify the
// channel with the row key on every insert or update:
//
//	CREATE OR REPLACE FUNCTION notify_document_change() RETURNS trigger AS $$
//	BEGIN
//	    PERFORM pg_notify('ferry_documents', NEW.key);
//	    RETURN NEW;
//	END;
//	$$ LANGUAGE plpgsql;
//
//	CREATE TRIGGER document_change_trigger
//	    AFTER INSERT OR UPDATE ON ferry_documents
//	    FOR EACH ROW EXECUTE FUNCTION notify_document_change();
type Watcher struct {
	pool    *pgxpool.Pool
	channel string
	key     string
	table   string
}

// WatcherOption configures a Watcher.
type WatcherOption func(*Watcher)

// WithTable sets the document table. Defaults to "ferry_documents".
func WithTable(table string) WatcherOption {
	return func(w *Watcher) {
		w.table = table
	}
}

// NewWatcher creates a Watcher for the row key, woken by notifications on
// channel.
func NewWatcher(pool *pgxpool.Pool, channel, key string, opts ...WatcherOption) *Watcher {
	w := &Watcher{
		pool:    pool,
		channel: channel,
		key:     key,
		table:   "ferry_documents",
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Watch emits the current document, if the row exists, and then the row
// value after every notification for the key.
func (w *Watcher) Watch(ctx context.Context) (<-chan []byte, error) {
	conn, err := w.pool.Acquire(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to acquire connection: %w", err)
	}

	if _, err := conn.Exec(ctx, "LISTEN "+pgx.Identifier{w.channel}.Sanitize()); err != nil {
		conn.Release()
		return nil, fmt.Errorf("failed to listen on channel %s: %w", w.channel, err)
	}

	out := make(chan []byte)

	go func() {
		defer close(out)
		defer conn.Release()

		if value, err := w.fetch(ctx); err == nil && value != nil {
			select {
			case out <- value:
			case <-ctx.Done():
				return
			}
		}

		for {
			n, err := conn.Conn().WaitForNotification(ctx)
			if err != nil {
				if ctx.Err() != nil {
					return
				}
				continue
			}
			if n.Payload != w.key {
				continue
			}
			value, err := w.fetch(ctx)
			if err != nil || value == nil {
				continue
			}
			select {
			case out <- value:
			case <-ctx.Done():
				return
			}
		}
	}()

	return out, nil
}

func (w *Watcher) fetch(ctx context.Context) ([]byte, error) {
	var value []byte
	query := fmt.Sprintf("SELECT value FROM %s WHERE key = $1", pgx.Identifier{w.table}.Sanitize())
	err := w.pool.QueryRow(ctx, query, w.key).Scan(&value)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	return value, err
}

var _ ferry.Watcher = (*Watcher)(nil)
