package consul

import (
	"context"
	"encoding/base64"
	"fmt"
	"strings"

	"github.com/hashicorp/consul/api"
	"github.com/zoobzio/ferry"
)

// MappingContext persists ferry mappings in Consul KV beneath a prefix.
// Identifiers are stored base64url encoded so escaped keys survive the
// HTTP path.
type MappingContext struct {
	kv     *api.KV
	prefix string
}

// NewMappingContext creates a MappingContext under prefix, e.g.
// "ferry/mappings".
func NewMappingContext(client *api.Client, prefix string) *MappingContext {
	return &MappingContext{kv: client.KV(), prefix: strings.Trim(prefix, "/")}
}

func (m *MappingContext) key(id ferry.Identifier) string {
	return m.prefix + "/" + base64.RawURLEncoding.EncodeToString([]byte(id.String()))
}

// Read returns the value stored for id.
func (m *MappingContext) Read(ctx context.Context, id ferry.Identifier) (string, bool, error) {
	pair, _, err := m.kv.Get(m.key(id), (&api.QueryOptions{}).WithContext(ctx))
	if err != nil {
		return "", false, fmt.Errorf("read mapping %s: %w", id, err)
	}
	if pair == nil {
		return "", false, nil
	}
	return string(pair.Value), true, nil
}

// Put stores value for id.
func (m *MappingContext) Put(ctx context.Context, id ferry.Identifier, value string) error {
	pair := &api.KVPair{Key: m.key(id), Value: []byte(value)}
	if _, err := m.kv.Put(pair, (&api.WriteOptions{}).WithContext(ctx)); err != nil {
		return fmt.Errorf("put mapping %s: %w", id, err)
	}
	return nil
}

// Delete removes the value stored for id.
func (m *MappingContext) Delete(ctx context.Context, id ferry.Identifier) error {
	if _, err := m.kv.Delete(m.key(id), (&api.WriteOptions{}).WithContext(ctx)); err != nil {
		return fmt.Errorf("delete mapping %s: %w", id, err)
	}
	return nil
}

// Entries returns every mapping stored under the prefix.
func (m *MappingContext) Entries(ctx context.Context) ([]ferry.MappingEntry, error) {
	pairs, _, err := m.kv.List(m.prefix+"/", (&api.QueryOptions{}).WithContext(ctx))
	if err != nil {
		return nil, fmt.Errorf("list mappings: %w", err)
	}
	entries := make([]ferry.MappingEntry, 0, len(pairs))
	for _, p := range pairs {
		raw, err := base64.RawURLEncoding.DecodeString(strings.TrimPrefix(p.Key, m.prefix+"/"))
		if err != nil {
			continue
		}
		id, err := ferry.ParseIdentifier(string(raw))
		if err != nil {
			continue
		}
		entries = append(entries, ferry.MappingEntry{ID: id, Value: string(p.Value)})
	}
	return entries, nil
}

// RestoreContext implements ferry.ContextRestorer.
func (m *MappingContext) RestoreContext(ctx context.Context, mc ferry.MappingContext) error {
	entries, err := m.Entries(ctx)
	if err != nil {
		return err
	}
	return ferry.RestoreMappings(ctx, mc, entries)
}

var (
	_ ferry.MappingContext  = (*MappingContext)(nil)
	_ ferry.ContextRestorer = (*MappingContext)(nil)
)
