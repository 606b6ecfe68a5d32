package ferry

import (
	"context"
	"fmt"
	"strings"

	"github.com/zoobzio/capitan"
)

// DumpExecutor performs one expensive bulk read of the backend. It reports
// false when the backend returned nothing. Params are compared with ==, so
// requests with equal params share a dump.
type DumpExecutor[D any, P comparable] interface {
	ExecuteDump(ctx context.Context, id Identifier, params P) (D, bool, error)
}

// DumpExecutorFunc adapts a function to DumpExecutor.
type DumpExecutorFunc[D any, P comparable] func(ctx context.Context, id Identifier, params P) (D, bool, error)

// ExecuteDump calls f.
func (f DumpExecutorFunc[D, P]) ExecuteDump(ctx context.Context, id Identifier, params P) (D, bool, error) {
	return f(ctx, id, params)
}

// CacheKeyFactory derives the cache slot of a dump request. Requests in
// one slot are further told apart by their params.
type CacheKeyFactory interface {
	CacheKey(executor string, id Identifier) string
}

// ScopedKeyFactory drops every list key and truncates the identifier at
// its scope type, so sibling list entries share one dump. A zero scope
// uses the whole identifier.
type ScopedKeyFactory struct {
	Scope Identifier
}

// CacheKey implements CacheKeyFactory.
func (f ScopedKeyFactory) CacheKey(executor string, id Identifier) string {
	return buildCacheKey(executor, generalize(id, f.Scope), "")
}

// TypeAwareKeyFactory behaves like ScopedKeyFactory but folds in the key of
// one ancestor type, for dumps scoped per parent instance.
type TypeAwareKeyFactory struct {
	Scope Identifier
	Keyed Identifier
}

// CacheKey implements CacheKeyFactory.
func (f TypeAwareKeyFactory) CacheKey(executor string, id Identifier) string {
	key, _ := id.FirstKeyOf(f.Keyed)
	return buildCacheKey(executor, generalize(id, f.Scope), key)
}

func generalize(id Identifier, scope Identifier) Identifier {
	unkeyed := id.Unkeyed()
	if scope.IsRoot() {
		return unkeyed
	}
	if truncated, ok := unkeyed.FirstIdentifierOf(scope); ok {
		return truncated
	}
	return unkeyed
}

func buildCacheKey(executor string, scope Identifier, parentKey string) string {
	var b strings.Builder
	b.WriteString(executor)
	b.WriteByte('|')
	b.WriteString(scope.String())
	if parentKey != "" {
		b.WriteByte('|')
		b.WriteString(escapeKey(parentKey))
	}
	return b.String()
}

// DumpOption configures a DumpCacheManager.
type DumpOption[D any, P comparable] func(*DumpCacheManager[D, P])

// WithPostProcessor transforms a dump before it is cached.
func WithPostProcessor[D any, P comparable](fn func(D) D) DumpOption[D, P] {
	return func(m *DumpCacheManager[D, P]) {
		m.postProcess = fn
	}
}

// WithKeyFactory replaces the default ScopedKeyFactory.
func WithKeyFactory[D any, P comparable](f CacheKeyFactory) DumpOption[D, P] {
	return func(m *DumpCacheManager[D, P]) {
		m.keys = f
	}
}

// DumpCacheManager caches one backend dump per derived key in an
// operation's ModificationCache, so readers of sibling nodes share a
// single backend call.
type DumpCacheManager[D any, P comparable] struct {
	name        string
	executor    DumpExecutor[D, P]
	postProcess func(D) D
	keys        CacheKeyFactory
}

// cachedDump records absence as well as values.
type cachedDump[D any] struct {
	value   D
	present bool
}

// dumpSlot holds the dumps of one cache key, per params value.
type dumpSlot[D any, P comparable] map[P]cachedDump[D]

// NewDumpCacheManager creates a manager. name identifies the executor in
// cache keys and must be unique among managers sharing a cache.
func NewDumpCacheManager[D any, P comparable](name string, executor DumpExecutor[D, P], opts ...DumpOption[D, P]) *DumpCacheManager[D, P] {
	m := &DumpCacheManager[D, P]{
		name:     name,
		executor: executor,
		keys:     ScopedKeyFactory{},
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// GetDump returns the cached dump for id and params, invoking the executor
// only on a miss.
func (m *DumpCacheManager[D, P]) GetDump(ctx context.Context, id Identifier, cache *ModificationCache, params P) (D, bool, error) {
	key := m.keys.CacheKey(m.name, id)
	slot, _ := cache.Get(key)
	dumps, ok := slot.(dumpSlot[D, P])
	if !ok {
		dumps = make(dumpSlot[D, P])
		cache.Put(key, dumps)
	}
	if c, ok := dumps[params]; ok {
		return c.value, c.present, nil
	}

	capitan.Emit(ctx, DumpExecuted,
		KeyExecutor.Field(m.name),
		KeyIdentifier.Field(id.String()),
	)
	value, present, err := m.executor.ExecuteDump(ctx, id, params)
	if err != nil {
		var zero D
		return zero, false, &ReadFailedError{ID: id, Err: fmt.Errorf("dump %s: %w", m.name, err)}
	}
	if present && m.postProcess != nil {
		value = m.postProcess(value)
	}
	dumps[params] = cachedDump[D]{value: value, present: present}
	return value, present, nil
}
