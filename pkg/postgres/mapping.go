package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/zoobzio/ferry"
)

// MappingContext persists ferry mappings in a two-column table keyed by
// the identifier text.
type MappingContext struct {
	pool  *pgxpool.Pool
	table string
}

// NewMappingContext creates a MappingContext over table. Call EnsureSchema
// once before use if the table may not exist.
func NewMappingContext(pool *pgxpool.Pool, table string) *MappingContext {
	return &MappingContext{pool: pool, table: pgx.Identifier{table}.Sanitize()}
}

// EnsureSchema creates the mapping table if it does not exist.
func (m *MappingContext) EnsureSchema(ctx context.Context) error {
	_, err := m.pool.Exec(ctx, fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
		id    TEXT PRIMARY KEY,
		value TEXT NOT NULL
	)`, m.table))
	if err != nil {
		return fmt.Errorf("create mapping table: %w", err)
	}
	return nil
}

// Read returns the value stored for id.
func (m *MappingContext) Read(ctx context.Context, id ferry.Identifier) (string, bool, error) {
	var value string
	err := m.pool.QueryRow(ctx, fmt.Sprintf("SELECT value FROM %s WHERE id = $1", m.table), id.String()).Scan(&value)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("read mapping %s: %w", id, err)
	}
	return value, true, nil
}

// Put stores value for id.
func (m *MappingContext) Put(ctx context.Context, id ferry.Identifier, value string) error {
	_, err := m.pool.Exec(ctx, fmt.Sprintf(
		"INSERT INTO %s (id, value) VALUES ($1, $2) ON CONFLICT (id) DO UPDATE SET value = EXCLUDED.value",
		m.table), id.String(), value)
	if err != nil {
		return fmt.Errorf("put mapping %s: %w", id, err)
	}
	return nil
}

// Delete removes the value stored for id.
func (m *MappingContext) Delete(ctx context.Context, id ferry.Identifier) error {
	if _, err := m.pool.Exec(ctx, fmt.Sprintf("DELETE FROM %s WHERE id = $1", m.table), id.String()); err != nil {
		return fmt.Errorf("delete mapping %s: %w", id, err)
	}
	return nil
}

// Entries returns every stored mapping ordered by identifier.
func (m *MappingContext) Entries(ctx context.Context) ([]ferry.MappingEntry, error) {
	rows, err := m.pool.Query(ctx, fmt.Sprintf("SELECT id, value FROM %s ORDER BY id", m.table))
	if err != nil {
		return nil, fmt.Errorf("list mappings: %w", err)
	}
	defer rows.Close()

	var entries []ferry.MappingEntry
	for rows.Next() {
		var raw, value string
		if err := rows.Scan(&raw, &value); err != nil {
			return nil, fmt.Errorf("list mappings: %w", err)
		}
		id, err := ferry.ParseIdentifier(raw)
		if err != nil {
			continue
		}
		entries = append(entries, ferry.MappingEntry{ID: id, Value: value})
	}
	return entries, rows.Err()
}

// RestoreContext implements ferry.ContextRestorer by copying every stored
// mapping into mc.
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
