package ferry

import (
	"context"

	"github.com/puzpuzpuz/xsync/v3"
)

// MappingContext persists translation bookkeeping, such as name to index
// mappings, across operations and restarts. Unlike ModificationCache it is
// not scoped to one context.
type MappingContext interface {
	Read(ctx context.Context, id Identifier) (string, bool, error)
	Put(ctx context.Context, id Identifier, value string) error
	Delete(ctx context.Context, id Identifier) error
}

// MappingEntry is one persisted mapping.
type MappingEntry struct {
	ID    Identifier `json:"id" yaml:"id" toml:"id"`
	Value string     `json:"value" yaml:"value" toml:"value"`
}

// MemoryMappingContext is an in-process MappingContext safe for concurrent use.
type MemoryMappingContext struct {
	m *xsync.MapOf[Identifier, string]
}

// NewMemoryMappingContext returns an empty in-memory mapping context.
func NewMemoryMappingContext() *MemoryMappingContext {
	return &MemoryMappingContext{m: xsync.NewMapOf[Identifier, string]()}
}

// Read returns the value stored under id.
func (c *MemoryMappingContext) Read(_ context.Context, id Identifier) (string, bool, error) {
	v, ok := c.m.Load(id)
	return v, ok, nil
}

// Put stores value under id.
func (c *MemoryMappingContext) Put(_ context.Context, id Identifier, value string) error {
	c.m.Store(id, value)
	return nil
}

// Delete removes id.
func (c *MemoryMappingContext) Delete(_ context.Context, id Identifier) error {
	c.m.Delete(id)
	return nil
}

// Len returns the number of stored mappings.
func (c *MemoryMappingContext) Len() int {
	return c.m.Size()
}

// Entries returns every stored mapping. Order is unspecified.
func (c *MemoryMappingContext) Entries() []MappingEntry {
	entries := make([]MappingEntry, 0, c.m.Size())
	c.m.Range(func(id Identifier, v string) bool {
		entries = append(entries, MappingEntry{ID: id, Value: v})
		return true
	})
	return entries
}

// RestoreMappings writes entries into mc, stopping at the first failure.
func RestoreMappings(ctx context.Context, mc MappingContext, entries []MappingEntry) error {
	for _, e := range entries {
		if err := mc.Put(ctx, e.ID, e.Value); err != nil {
			return err
		}
	}
	return nil
}
