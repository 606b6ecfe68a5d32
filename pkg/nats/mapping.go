package nats

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"

	"github.com/nats-io/nats.go/jetstream"
	"github.com/zoobzio/ferry"
)

// MappingContext persists ferry mappings in a JetStream KV bucket. KV keys
// only allow a restricted alphabet, so identifiers are stored base64url
// encoded beneath a dotted prefix.
type MappingContext struct {
	kv     jetstream.KeyValue
	prefix string
}

// NewMappingContext creates a MappingContext under prefix, e.g.
// "mappings". An empty prefix uses the whole bucket.
func NewMappingContext(kv jetstream.KeyValue, prefix string) *MappingContext {
	return &MappingContext{kv: kv, prefix: strings.TrimSuffix(prefix, ".")}
}

func (m *MappingContext) key(id ferry.Identifier) string {
	enc := base64.RawURLEncoding.EncodeToString([]byte(id.String()))
	if m.prefix == "" {
		return enc
	}
	return m.prefix + "." + enc
}

func (m *MappingContext) decode(key string) (ferry.Identifier, error) {
	if m.prefix != "" {
		key = strings.TrimPrefix(key, m.prefix+".")
	}
	raw, err := base64.RawURLEncoding.DecodeString(key)
	if err != nil {
		return ferry.Identifier{}, err
	}
	return ferry.ParseIdentifier(string(raw))
}

// Read returns the value stored for id.
func (m *MappingContext) Read(ctx context.Context, id ferry.Identifier) (string, bool, error) {
	entry, err := m.kv.Get(ctx, m.key(id))
	if errors.Is(err, jetstream.ErrKeyNotFound) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("read mapping %s: %w", id, err)
	}
	return string(entry.Value()), true, nil
}

// Put stores value for id.
func (m *MappingContext) Put(ctx context.Context, id ferry.Identifier, value string) error {
	if _, err := m.kv.PutString(ctx, m.key(id), value); err != nil {
		return fmt.Errorf("put mapping %s: %w", id, err)
	}
	return nil
}

// Delete removes the value stored for id.
func (m *MappingContext) Delete(ctx context.Context, id ferry.Identifier) error {
	if err := m.kv.Delete(ctx, m.key(id)); err != nil && !errors.Is(err, jetstream.ErrKeyNotFound) {
		return fmt.Errorf("delete mapping %s: %w", id, err)
	}
	return nil
}

// Entries returns every mapping stored under the prefix.
func (m *MappingContext) Entries(ctx context.Context) ([]ferry.MappingEntry, error) {
	lister, err := m.kv.ListKeys(ctx)
	if errors.Is(err, jetstream.ErrNoKeysFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("list mappings: %w", err)
	}
	defer lister.Stop()

	var entries []ferry.MappingEntry
	for key := range lister.Keys() {
		if m.prefix != "" && !strings.HasPrefix(key, m.prefix+".") {
			continue
		}
		id, err := m.decode(key)
		if err != nil {
			continue
		}
		v, ok, err := m.Read(ctx, id)
		if err != nil {
			return nil, err
		}
		if ok {
			entries = append(entries, ferry.MappingEntry{ID: id, Value: v})
		}
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
