package redis

import (
	"context"
	"errors"
	"fmt"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/redis/go-redis/v9"
	"github.com/zoobzio/ferry"
)

// DefaultCacheSize is the number of mappings kept in the local read cache.
const DefaultCacheSize = 1024

// MappingContext persists ferry mappings in a single Redis hash, one field
// per identifier. Reads are served from a local LRU cache that is kept in
// step with this instance's writes.
//
// The cache assumes a single writer per hash. Use WithCacheSize(0) when
// several processes write the same hash.
type MappingContext struct {
	client redis.UniversalClient
	hash   string
	size   int
	cache  *lru.Cache[ferry.Identifier, string]
}

// MappingOption configures a MappingContext.
type MappingOption func(*MappingContext)

// WithCacheSize bounds the local read cache. Zero disables it.
func WithCacheSize(size int) MappingOption {
	return func(m *MappingContext) {
		m.size = size
	}
}

// NewMappingContext creates a MappingContext stored in hash.
func NewMappingContext(client redis.UniversalClient, hash string, opts ...MappingOption) (*MappingContext, error) {
	m := &MappingContext{
		client: client,
		hash:   hash,
		size:   DefaultCacheSize,
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.size > 0 {
		cache, err := lru.New[ferry.Identifier, string](m.size)
		if err != nil {
			return nil, fmt.Errorf("create mapping cache: %w", err)
		}
		m.cache = cache
	}
	return m, nil
}

// Read returns the value stored for id.
func (m *MappingContext) Read(ctx context.Context, id ferry.Identifier) (string, bool, error) {
	if m.cache != nil {
		if v, ok := m.cache.Get(id); ok {
			return v, true, nil
		}
	}
	v, err := m.client.HGet(ctx, m.hash, id.String()).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("read mapping %s: %w", id, err)
	}
	if m.cache != nil {
		m.cache.Add(id, v)
	}
	return v, true, nil
}

// Put stores value for id.
func (m *MappingContext) Put(ctx context.Context, id ferry.Identifier, value string) error {
	if err := m.client.HSet(ctx, m.hash, id.String(), value).Err(); err != nil {
		return fmt.Errorf("put mapping %s: %w", id, err)
	}
	if m.cache != nil {
		m.cache.Add(id, value)
	}
	return nil
}

// Delete removes the value stored for id.
func (m *MappingContext) Delete(ctx context.Context, id ferry.Identifier) error {
	if m.cache != nil {
		m.cache.Remove(id)
	}
	if err := m.client.HDel(ctx, m.hash, id.String()).Err(); err != nil {
		return fmt.Errorf("delete mapping %s: %w", id, err)
	}
	return nil
}

// Entries returns every stored mapping. Fields that are not valid
// identifiers are skipped.
func (m *MappingContext) Entries(ctx context.Context) ([]ferry.MappingEntry, error) {
	all, err := m.client.HGetAll(ctx, m.hash).Result()
	if err != nil {
		return nil, fmt.Errorf("list mappings: %w", err)
	}
	entries := make([]ferry.MappingEntry, 0, len(all))
	for field, value := range all {
		id, err := ferry.ParseIdentifier(field)
		if err != nil {
			continue
		}
		entries = append(entries, ferry.MappingEntry{ID: id, Value: value})
	}
	return entries, nil
}

// Purge drops the local read cache.
func (m *MappingContext) Purge() {
	if m.cache != nil {
		m.cache.Purge()
	}
}

var _ ferry.MappingContext = (*MappingContext)(nil)
