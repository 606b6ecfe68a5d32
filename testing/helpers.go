// Package testing provides test utilities and helpers for ferry writers,
// readers and feeds.
package testing

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/zoobzio/ferry"
)

// WaitFor polls a condition until it returns true or timeout is reached.
// Returns true if the condition was met, false if timeout occurred.
func WaitFor(t *testing.T, timeout time.Duration, condition func() bool) bool {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if condition() {
			return true
		}
		time.Sleep(10 * time.Millisecond)
	}
	return false
}

// WaitForState waits until the feed reaches the expected state or timeout occurs.
func WaitForState(t *testing.T, f *ferry.Feed, expected ferry.State, timeout time.Duration) bool {
	t.Helper()
	return WaitFor(t, timeout, func() bool {
		return f.State() == expected
	})
}

// RequireState fails the test immediately if the feed is not in the expected state.
func RequireState(t *testing.T, f *ferry.Feed, expected ferry.State) {
	t.Helper()
	if got := f.State(); got != expected {
		t.Fatalf("expected state %s, got %s (last error: %v)", expected, got, f.LastError())
	}
}

// RequireNode fails the test if the feed's committed tree lacks id or its
// value fails check.
func RequireNode(t *testing.T, f *ferry.Feed, id ferry.Identifier, check func(ferry.DataObject) bool) {
	t.Helper()
	current, ok := f.Current()
	if !ok {
		t.Fatal("expected a committed tree, got none")
	}
	v, ok, err := current.Read(context.Background(), id)
	if err != nil || !ok {
		t.Fatalf("expected node %s to be present (err: %v)", id, err)
	}
	if !check(v) {
		t.Fatalf("node check failed for %s: %+v", id, v)
	}
}

// Call is one backend invocation recorded by a Backend.
type Call struct {
	Op ferry.Op
	ID ferry.Identifier
}

func (c Call) String() string {
	return c.Op.String() + " " + c.ID.String()
}

// Backend is an in-memory device that records every write. It implements
// ferry.WriterCustomizer and ferry.UpdateCustomizer for D.
type Backend[D any] struct {
	mu    sync.Mutex
	nodes map[ferry.Identifier]D
	calls []Call
	fail  map[Call]error
}

// NewBackend returns an empty backend.
func NewBackend[D any]() *Backend[D] {
	return &Backend[D]{
		nodes: make(map[ferry.Identifier]D),
		fail:  make(map[Call]error),
	}
}

// FailOn makes the given operation on id return err.
func (b *Backend[D]) FailOn(op ferry.Op, id ferry.Identifier, err error) *Backend[D] {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.fail[Call{Op: op, ID: id}] = err
	return b
}

// Reset clears failures and recorded calls but keeps stored nodes.
func (b *Backend[D]) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.calls = nil
	clear(b.fail)
}

// Calls returns the recorded calls in order.
func (b *Backend[D]) Calls() []Call {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]Call(nil), b.calls...)
}

// CallStrings renders the recorded calls as "<op> <id>".
func (b *Backend[D]) CallStrings() []string {
	calls := b.Calls()
	out := make([]string, len(calls))
	for i, c := range calls {
		out[i] = c.String()
	}
	return out
}

// Get returns the stored value of id.
func (b *Backend[D]) Get(id ferry.Identifier) (D, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	v, ok := b.nodes[id]
	return v, ok
}

// Len returns the number of stored nodes.
func (b *Backend[D]) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.nodes)
}

func (b *Backend[D]) record(op ferry.Op, id ferry.Identifier) error {
	c := Call{Op: op, ID: id}
	b.calls = append(b.calls, c)
	return b.fail[c]
}

// WriteCurrentAttributes stores data under id.
func (b *Backend[D]) WriteCurrentAttributes(_ context.Context, id ferry.Identifier, data D, _ *ferry.WriteContext) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if err := b.record(ferry.OpCreate, id); err != nil {
		return err
	}
	b.nodes[id] = data
	return nil
}

// UpdateCurrentAttributes replaces the value under id.
func (b *Backend[D]) UpdateCurrentAttributes(_ context.Context, id ferry.Identifier, _, after D, _ *ferry.WriteContext) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if err := b.record(ferry.OpUpdate, id); err != nil {
		return err
	}
	b.nodes[id] = after
	return nil
}

// DeleteCurrentAttributes removes id.
func (b *Backend[D]) DeleteCurrentAttributes(_ context.Context, id ferry.Identifier, _ D, _ *ferry.WriteContext) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if err := b.record(ferry.OpDelete, id); err != nil {
		return err
	}
	delete(b.nodes, id)
	return nil
}

// CountingDump wraps a dump executor and counts backend calls.
type CountingDump[D any, P comparable] struct {
	mu    sync.Mutex
	count int
	next  ferry.DumpExecutor[D, P]
}

// NewCountingDump wraps next.
func NewCountingDump[D any, P comparable](next ferry.DumpExecutor[D, P]) *CountingDump[D, P] {
	return &CountingDump[D, P]{next: next}
}

// ExecuteDump implements ferry.DumpExecutor.
func (c *CountingDump[D, P]) ExecuteDump(ctx context.Context, id ferry.Identifier, params P) (D, bool, error) {
	c.mu.Lock()
	c.count++
	c.mu.Unlock()
	return c.next.ExecuteDump(ctx, id, params)
}

// Count returns the number of executions.
func (c *CountingDump[D, P]) Count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.count
}

// Node builds a document node.
func Node(id ferry.Identifier, data map[string]any) ferry.DocumentNode {
	return ferry.DocumentNode{Path: id.String(), Data: data}
}

// JSONDocument renders nodes as a JSON document.
func JSONDocument(t *testing.T, nodes ...ferry.DocumentNode) []byte {
	t.Helper()
	if nodes == nil {
		nodes = []ferry.DocumentNode{}
	}
	raw, err := json.Marshal(ferry.Document{Nodes: nodes})
	if err != nil {
		t.Fatalf("marshal document: %v", err)
	}
	return raw
}

// NewTestFeed creates a sync-mode feed over writers for testing.
// Returns the feed and a channel for sending documents.
func NewTestFeed(t *testing.T, writers *ferry.WriterRegistry, binder ferry.Binder) (*ferry.Feed, chan<- []byte) {
	t.Helper()
	ch := make(chan []byte, 10)
	f := ferry.NewFeed(
		ferry.NewSyncChannelWatcher(ch),
		binder,
		ferry.NewCommitter(writers, nil),
	).SyncMode()
	return f, ch
}

// MustBuild builds a writer registry or fails the test.
func MustBuild(t *testing.T, b *ferry.WriterRegistryBuilder) *ferry.WriterRegistry {
	t.Helper()
	r, err := b.Build()
	if err != nil {
		t.Fatalf("build writer registry: %v", err)
	}
	return r
}

// RequireCalls fails the test unless the backend saw exactly want.
func RequireCalls[D any](t *testing.T, b *Backend[D], want ...string) {
	t.Helper()
	got := b.CallStrings()
	if fmt.Sprint(got) != fmt.Sprint(want) {
		t.Fatalf("expected calls %v, got %v", want, got)
	}
}
