package ferry

import "context"

// ModificationCache is a scratch map shared by every customizer taking part
// in one logical operation. It is cleared when the owning context closes.
// It is not safe for concurrent use.
type ModificationCache struct {
	m map[string]any
}

// NewModificationCache returns an empty cache.
func NewModificationCache() *ModificationCache {
	return &ModificationCache{m: make(map[string]any)}
}

// Get returns the value stored under key.
func (c *ModificationCache) Get(key string) (any, bool) {
	v, ok := c.m[key]
	return v, ok
}

// Put stores v under key and returns the previous value, if any.
func (c *ModificationCache) Put(key string, v any) any {
	prev := c.m[key]
	c.m[key] = v
	return prev
}

// Contains reports whether key is present.
func (c *ModificationCache) Contains(key string) bool {
	_, ok := c.m[key]
	return ok
}

// Len returns the number of entries.
func (c *ModificationCache) Len() int {
	return len(c.m)
}

// Clear removes all entries.
func (c *ModificationCache) Clear() {
	clear(c.m)
}

// WriteContext is the view a writer gets of one bulk update: the tree
// before and after the change, a shared cache and the mapping context.
// It is used by exactly one operation and closed when that operation ends.
type WriteContext struct {
	before  Snapshot
	after   Snapshot
	cache   *ModificationCache
	mapping MappingContext
	closed  bool
}

// NewWriteContext creates a context over two fixed snapshots.
// A nil mapping context gets a fresh in-memory one.
func NewWriteContext(before, after Snapshot, mapping MappingContext) *WriteContext {
	if before == nil {
		before = EmptySnapshot
	}
	if after == nil {
		after = EmptySnapshot
	}
	if mapping == nil {
		mapping = NewMemoryMappingContext()
	}
	return &WriteContext{
		before:  before,
		after:   after,
		cache:   NewModificationCache(),
		mapping: mapping,
	}
}

// ReadBefore reads id from the pre-change snapshot.
func (w *WriteContext) ReadBefore(ctx context.Context, id Identifier) (DataObject, bool, error) {
	if w.closed {
		return nil, false, ErrContextClosed
	}
	return w.before.Read(ctx, id)
}

// ReadAfter reads id from the post-change snapshot.
func (w *WriteContext) ReadAfter(ctx context.Context, id Identifier) (DataObject, bool, error) {
	if w.closed {
		return nil, false, ErrContextClosed
	}
	return w.after.Read(ctx, id)
}

// Cache returns the operation-scoped cache.
func (w *WriteContext) Cache() *ModificationCache {
	return w.cache
}

// MappingContext returns the persistent mapping store.
func (w *WriteContext) MappingContext() MappingContext {
	return w.mapping
}

// Close clears the cache. It is safe to call more than once.
func (w *WriteContext) Close() {
	w.closed = true
	w.cache.Clear()
}

// ReadContext is the view a reader gets of one read operation.
type ReadContext struct {
	cache   *ModificationCache
	mapping MappingContext
	closed  bool
}

// NewReadContext creates a read context. A nil mapping context gets a
// fresh in-memory one.
func NewReadContext(mapping MappingContext) *ReadContext {
	if mapping == nil {
		mapping = NewMemoryMappingContext()
	}
	return &ReadContext{
		cache:   NewModificationCache(),
		mapping: mapping,
	}
}

// Cache returns the operation-scoped cache.
func (r *ReadContext) Cache() *ModificationCache {
	return r.cache
}

// MappingContext returns the persistent mapping store.
func (r *ReadContext) MappingContext() MappingContext {
	return r.mapping
}

// Closed reports whether Close has been called.
func (r *ReadContext) Closed() bool {
	return r.closed
}

// Close clears the cache. It is safe to call more than once.
func (r *ReadContext) Close() {
	r.closed = true
	r.cache.Clear()
}

// WithWriteContext runs fn with a fresh WriteContext and closes it on every
// exit path, including panics.
func WithWriteContext(before, after Snapshot, mapping MappingContext, fn func(*WriteContext) error) error {
	wc := NewWriteContext(before, after, mapping)
	defer wc.Close()
	return fn(wc)
}

// WithReadContext runs fn with a fresh ReadContext and closes it on every
// exit path, including panics.
func WithReadContext(mapping MappingContext, fn func(*ReadContext) error) error {
	rc := NewReadContext(mapping)
	defer rc.Close()
	return fn(rc)
}
