// Package pebble stores ferry mapping data in an embedded Pebble database,
// for agents that must keep their bookkeeping on local disk.
package pebble

import (
	"context"
	"errors"
	"fmt"

	"github.com/cockroachdb/pebble"
	"github.com/zoobzio/ferry"
)

// MappingContext persists ferry mappings as Pebble keys beneath a prefix.
// Writes are synced unless NoSync is set.
type MappingContext struct {
	db     *pebble.DB
	prefix []byte
	opts   *pebble.WriteOptions
}

// Option configures a MappingContext.
type Option func(*MappingContext)

// NoSync skips the fsync on every write.
func NoSync() Option {
	return func(m *MappingContext) {
		m.opts = pebble.NoSync
	}
}

// NewMappingContext creates a MappingContext over db under prefix.
func NewMappingContext(db *pebble.DB, prefix string, opts ...Option) *MappingContext {
	m := &MappingContext{
		db:     db,
		prefix: []byte(prefix),
		opts:   pebble.Sync,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Open opens, or creates, a database at dir and returns a MappingContext
// over it together with the database so the caller can close it.
func Open(dir, prefix string, opts ...Option) (*MappingContext, *pebble.DB, error) {
	db, err := pebble.Open(dir, &pebble.Options{})
	if err != nil {
		return nil, nil, fmt.Errorf("open mapping store: %w", err)
	}
	return NewMappingContext(db, prefix, opts...), db, nil
}

func (m *MappingContext) key(id ferry.Identifier) []byte {
	k := make([]byte, 0, len(m.prefix)+len(id.String()))
	k = append(k, m.prefix...)
	return append(k, id.String()...)
}

// Read returns the value stored for id.
func (m *MappingContext) Read(_ context.Context, id ferry.Identifier) (string, bool, error) {
	value, closer, err := m.db.Get(m.key(id))
	if errors.Is(err, pebble.ErrNotFound) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("read mapping %s: %w", id, err)
	}
	defer closer.Close()
	return string(value), true, nil
}

// Put stores value for id.
func (m *MappingContext) Put(_ context.Context, id ferry.Identifier, value string) error {
	if err := m.db.Set(m.key(id), []byte(value), m.opts); err != nil {
		return fmt.Errorf("put mapping %s: %w", id, err)
	}
	return nil
}

// Delete removes the value stored for id.
func (m *MappingContext) Delete(_ context.Context, id ferry.Identifier) error {
	if err := m.db.Delete(m.key(id), m.opts); err != nil {
		return fmt.Errorf("delete mapping %s: %w", id, err)
	}
	return nil
}

// Entries returns every mapping under the prefix in key order.
func (m *MappingContext) Entries(_ context.Context) ([]ferry.MappingEntry, error) {
	iter, err := m.db.NewIter(&pebble.IterOptions{
		LowerBound: m.prefix,
		UpperBound: upperBound(m.prefix),
	})
	if err != nil {
		return nil, fmt.Errorf("list mappings: %w", err)
	}
	defer iter.Close()

	var entries []ferry.MappingEntry
	for iter.First(); iter.Valid(); iter.Next() {
		id, err := ferry.ParseIdentifier(string(iter.Key()[len(m.prefix):]))
		if err != nil {
			continue
		}
		entries = append(entries, ferry.MappingEntry{ID: id, Value: string(iter.Value())})
	}
	return entries, iter.Error()
}

// Export copies every mapping into to in one atomic batch.
func (m *MappingContext) Export(ctx context.Context, to *MappingContext) error {
	entries, err := m.Entries(ctx)
	if err != nil {
		return err
	}
	b := to.db.NewBatch()
	defer b.Close()
	for _, e := range entries {
		if err := b.Set(to.key(e.ID), []byte(e.Value), nil); err != nil {
			return fmt.Errorf("export mapping %s: %w", e.ID, err)
		}
	}
	return b.Commit(to.opts)
}

// RestoreContext implements ferry.ContextRestorer.
func (m *MappingContext) RestoreContext(ctx context.Context, mc ferry.MappingContext) error {
	entries, err := m.Entries(ctx)
	if err != nil {
		return err
	}
	return ferry.RestoreMappings(ctx, mc, entries)
}

// upperBound returns the smallest key greater than every key with prefix,
// or nil when no such key exists.
func upperBound(prefix []byte) []byte {
	end := append([]byte(nil), prefix...)
	for i := len(end) - 1; i >= 0; i-- {
		end[i]++
		if end[i] != 0 {
			return end[:i+1]
		}
	}
	return nil
}

var (
	_ ferry.MappingContext  = (*MappingContext)(nil)
	_ ferry.ContextRestorer = (*MappingContext)(nil)
)
