package etcd

import (
	"context"
	"fmt"
	"strings"

	"github.com/zoobzio/ferry"
	clientv3 "go.etcd.io/etcd/client/v3"
)

// MappingContext persists ferry mappings under a key prefix, one etcd key
// per identifier.
type MappingContext struct {
	client *clientv3.Client
	prefix string
}

// NewMappingContext creates a MappingContext under prefix. A trailing
// slash is trimmed.
func NewMappingContext(client *clientv3.Client, prefix string) *MappingContext {
	return &MappingContext{client: client, prefix: strings.TrimSuffix(prefix, "/")}
}

func (m *MappingContext) key(id ferry.Identifier) string {
	return m.prefix + id.String()
}

// Read returns the value stored for id.
func (m *MappingContext) Read(ctx context.Context, id ferry.Identifier) (string, bool, error) {
	resp, err := m.client.Get(ctx, m.key(id))
	if err != nil {
		return "", false, fmt.Errorf("read mapping %s: %w", id, err)
	}
	if len(resp.Kvs) == 0 {
		return "", false, nil
	}
	return string(resp.Kvs[0].Value), true, nil
}

// Put stores value for id.
func (m *MappingContext) Put(ctx context.Context, id ferry.Identifier, value string) error {
	if _, err := m.client.Put(ctx, m.key(id), value); err != nil {
		return fmt.Errorf("put mapping %s: %w", id, err)
	}
	return nil
}

// Delete removes the value stored for id.
func (m *MappingContext) Delete(ctx context.Context, id ferry.Identifier) error {
	if _, err := m.client.Delete(ctx, m.key(id)); err != nil {
		return fmt.Errorf("delete mapping %s: %w", id, err)
	}
	return nil
}

// Entries returns every mapping stored under the prefix in key order.
func (m *MappingContext) Entries(ctx context.Context) ([]ferry.MappingEntry, error) {
	resp, err := m.client.Get(ctx, m.prefix+"/", clientv3.WithPrefix(), clientv3.WithSort(clientv3.SortByKey, clientv3.SortAscend))
	if err != nil {
		return nil, fmt.Errorf("list mappings: %w", err)
	}
	entries := make([]ferry.MappingEntry, 0, len(resp.Kvs))
	for _, kv := range resp.Kvs {
		id, err := ferry.ParseIdentifier(strings.TrimPrefix(string(kv.Key), m.prefix))
		if err != nil {
			continue
		}
		entries = append(entries, ferry.MappingEntry{ID: id, Value: string(kv.Value)})
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
