package ferry

import (
	"context"
	"errors"
	"testing"

	"github.com/zoobzio/clockz"
)

func newABCCommitter(t *testing.T, log *callLog, fail map[string]error) *Committer {
	t.Helper()
	r := mustRegistry(NewWriterRegistryBuilder().
		Add(newStringWriter(Root("a"), log, fail)).
		Add(newStringWriter(Root("b"), log, fail)).
		Add(newStringWriter(Root("c"), log, fail)))
	return NewCommitter(r, nil).Clock(clockz.NewFakeClock())
}

func TestCommitter_Success(t *testing.T) {
	ctx := context.Background()
	log := &callLog{}
	metrics := &countingMetrics{}
	c := newABCCommitter(t, log, nil).Metrics(metrics)

	before := NewMemorySnapshot(nil)
	after := before.With(Entry{ID: Root("a"), Data: "1"})
	if err := c.Commit(ctx, Diff(before, after), before, after); err != nil {
		t.Fatalf("commit: %v", err)
	}
	if want := []string{"create /a"}; !equalStrings(log.all(), want) {
		t.Errorf("expected %v, got %v", want, log.all())
	}
	if metrics.successes != 1 {
		t.Errorf("expected 1 success recorded, got %d", metrics.successes)
	}
}

func TestCommitter_EmptyIsNoop(t *testing.T) {
	log := &callLog{}
	c := newABCCommitter(t, log, nil)
	if err := c.Commit(context.Background(), NewUpdates(), nil, nil); err != nil {
		t.Errorf("expected nil, got %v", err)
	}
	if err := c.Commit(context.Background(), nil, nil, nil); err != nil {
		t.Errorf("expected nil for nil batch, got %v", err)
	}
}

func TestCommitter_RevertsOnFailure(t *testing.T) {
	ctx := context.Background()
	log := &callLog{}
	metrics := &countingMetrics{}
	c := newABCCommitter(t, log, map[string]error{"update /b": errBackend}).Metrics(metrics)

	before := NewMemorySnapshot([]Entry{
		{ID: Root("b"), Data: "b0"},
		{ID: Root("c"), Data: "c0"},
	})
	updates := NewUpdates(
		mustUpdate(Root("a"), nil, "a1"),
		mustUpdate(Root("b"), "b0", "b1"),
		mustUpdate(Root("c"), "c0", nil),
	)
	err := c.Commit(ctx, updates, before, before.Apply(updates))

	var rs *RevertSuccessError
	if !errors.As(err, &rs) {
		t.Fatalf("expected RevertSuccessError, got %v", err)
	}
	var bulk *BulkUpdateError
	if !errors.As(err, &bulk) {
		t.Fatal("expected BulkUpdateError in chain")
	}
	if len(bulk.Processed) != 1 || len(bulk.Unattempted) != 1 {
		t.Errorf("unexpected bulk error %v", bulk)
	}
	if !errors.Is(err, errBackend) {
		t.Error("expected backend cause in chain")
	}
	if want := []string{"create /a", "update /b", "delete /a"}; !equalStrings(log.all(), want) {
		t.Errorf("expected %v, got %v", want, log.all())
	}
	if metrics.failures["process"] != 1 {
		t.Errorf("expected process failure recorded, got %v", metrics.failures)
	}
	if len(metrics.reverts) != 1 || metrics.reverts[0] != 0 {
		t.Errorf("expected clean revert recorded, got %v", metrics.reverts)
	}
}

// snapshotCustomizer records what the before and after snapshots hold
// while a delete runs.
type snapshotCustomizer struct {
	*stringCustomizer
	seenBefore []DataObject
	seenAfter  []DataObject
}

func (c *snapshotCustomizer) DeleteCurrentAttributes(ctx context.Context, id Identifier, before string, wc *WriteContext) error {
	b, _, _ := wc.ReadBefore(ctx, id)
	a, _, _ := wc.ReadAfter(ctx, id)
	c.seenBefore = append(c.seenBefore, b)
	c.seenAfter = append(c.seenAfter, a)
	return c.stringCustomizer.DeleteCurrentAttributes(ctx, id, before, wc)
}

func TestCommitter_RevertSwapsSnapshots(t *testing.T) {
	ctx := context.Background()
	log := &callLog{}
	sc := &snapshotCustomizer{stringCustomizer: &stringCustomizer{log: log}}
	r := mustRegistry(NewWriterRegistryBuilder().
		Add(NewWriter[string](Root("a"), sc)).
		Add(newStringWriter(Root("b"), log, map[string]error{"create /b": errBackend})))
	c := NewCommitter(r, nil)

	before := NewMemorySnapshot(nil)
	after := before.With(Entry{ID: Root("a"), Data: "a1"}, Entry{ID: Root("b"), Data: "b1"})
	err := c.Commit(ctx, Diff(before, after), before, after)

	var rs *RevertSuccessError
	if !errors.As(err, &rs) {
		t.Fatalf("expected RevertSuccessError, got %v", err)
	}
	if len(sc.seenBefore) != 1 {
		t.Fatalf("expected one revert delete, got %d", len(sc.seenBefore))
	}
	if sc.seenBefore[0] != "a1" || sc.seenAfter[0] != nil {
		t.Errorf("expected revert to see swapped snapshots, got before=%v after=%v", sc.seenBefore[0], sc.seenAfter[0])
	}
}

func TestCommitter_RevertFailure(t *testing.T) {
	ctx := context.Background()
	log := &callLog{}
	metrics := &countingMetrics{}
	c := newABCCommitter(t, log, map[string]error{
		"create /c": errBackend,
		"delete /a": errBackend,
	}).Metrics(metrics)

	updates := NewUpdates(
		mustUpdate(Root("a"), nil, "1"),
		mustUpdate(Root("b"), nil, "1"),
		mustUpdate(Root("c"), nil, "1"),
	)
	_, err := c.Apply(ctx, nil, updates)

	var rf *RevertFailedError
	if !errors.As(err, &rf) {
		t.Fatalf("expected RevertFailedError, got %v", err)
	}
	if len(rf.Unreverted) != 1 || rf.Unreverted[0].ID != Root("a") {
		t.Errorf("unexpected unreverted %v", rf.Unreverted)
	}
	var bulk *BulkUpdateError
	if !errors.As(rf.Cause, &bulk) {
		t.Errorf("expected bulk error as cause, got %v", rf.Cause)
	}
	if metrics.failures["revert"] != 1 {
		t.Errorf("expected revert failure recorded, got %v", metrics.failures)
	}
	if len(metrics.reverts) != 1 || metrics.reverts[0] != 1 {
		t.Errorf("expected one unreverted recorded, got %v", metrics.reverts)
	}
}

func TestCommitter_ValidationStopsBeforeWrites(t *testing.T) {
	ctx := context.Background()
	log := &callLog{}
	metrics := &countingMetrics{}
	r := mustRegistry(NewWriterRegistryBuilder().
		Add(NewWriter[string](Root("a"), &stringCustomizer{log: log}, WithWriteValidator[string](mtuValidator{}))))
	c := NewCommitter(r, nil).Metrics(metrics)

	_, err := c.Apply(ctx, nil, NewUpdates(mustUpdate(Root("a"), nil, "")))
	var ve *ValidationError
	if !errors.As(err, &ve) {
		t.Fatalf("expected ValidationError, got %v", err)
	}
	if len(log.all()) != 0 {
		t.Errorf("expected no writes, got %v", log.all())
	}
	if metrics.failures["validate"] != 1 {
		t.Errorf("expected validate failure recorded, got %v", metrics.failures)
	}
}

func TestCommitter_ApplyReturnsNextState(t *testing.T) {
	ctx := context.Background()
	c := newABCCommitter(t, &callLog{}, nil)

	current := NewMemorySnapshot([]Entry{{ID: Root("a"), Data: "1"}})
	next, err := c.Apply(ctx, current, NewUpdates(mustUpdate(Root("b"), nil, "2")))
	if err != nil {
		t.Fatalf("apply: %v", err)
	}
	if next.Len() != 2 {
		t.Errorf("expected 2 nodes, got %d", next.Len())
	}

	c = newABCCommitter(t, &callLog{}, map[string]error{"create /c": errBackend})
	same, err := c.Apply(ctx, next, NewUpdates(mustUpdate(Root("c"), nil, "3")))
	if err == nil {
		t.Fatal("expected failure")
	}
	if same != next {
		t.Error("expected current state returned on failure")
	}
}

func TestCommitter_MappingContextShared(t *testing.T) {
	ctx := context.Background()
	mc := NewMemoryMappingContext()
	var seen MappingContext
	w := NewWriter[string](Root("a"), WriterFunc[string]{
		Write: func(ctx context.Context, id Identifier, data string, wc *WriteContext) error {
			seen = wc.MappingContext()
			return wc.MappingContext().Put(ctx, id, data)
		},
		Delete: func(context.Context, Identifier, string, *WriteContext) error { return nil },
	})
	c := NewCommitter(mustRegistry(NewWriterRegistryBuilder().Add(w)), mc)

	if _, err := c.Apply(ctx, nil, NewUpdates(mustUpdate(Root("a"), nil, "x"))); err != nil {
		t.Fatalf("apply: %v", err)
	}
	if seen != MappingContext(mc) || c.MappingContext() != MappingContext(mc) {
		t.Error("expected committer mapping context handed to writers")
	}
	if v, _, _ := mc.Read(ctx, Root("a")); v != "x" {
		t.Errorf("expected mapping persisted, got %q", v)
	}
}

// capturedSubtree keeps the last subtree modification it received.
type capturedSubtree struct {
	stringCustomizer
	id            Identifier
	before, after string
	children      []Update
}

func (c *capturedSubtree) ProcessSubtree(_ context.Context, id Identifier, before, after string, children []Update, _ *WriteContext) error {
	c.id, c.before, c.after = id, before, after
	c.children = append([]Update(nil), children...)
	return nil
}

func TestCommitter_SubtreeChildChangeReachesWriter(t *testing.T) {
	ctx := context.Background()
	capture := &capturedSubtree{stringCustomizer: stringCustomizer{log: &callLog{}}}
	r := mustRegistry(NewWriterRegistryBuilder().
		AddSubtree(NewWriter[string](Root("iface"), capture), MustParseIdentifier("/iface/mtu")))
	c := NewCommitter(r, nil).Clock(clockz.NewFakeClock())

	ifaceID := RootKeyed("iface", "eth0")
	mtuID := ifaceID.ChildKeyed("mtu", "v4")
	prev := NewMemorySnapshot([]Entry{{ID: ifaceID, Data: "eth0"}, {ID: mtuID, Data: "1500"}})
	next := NewMemorySnapshot([]Entry{{ID: ifaceID, Data: "eth0"}, {ID: mtuID, Data: "9000"}})

	if err := c.Commit(ctx, Diff(prev, next), prev, next); err != nil {
		t.Fatalf("commit: %v", err)
	}
	if capture.id != ifaceID || capture.before != "eth0" || capture.after != "eth0" {
		t.Errorf("unexpected root %s %q -> %q", capture.id, capture.before, capture.after)
	}
	if len(capture.children) != 1 {
		t.Fatalf("expected one child modification, got %v", capture.children)
	}
	got := capture.children[0]
	if got.ID != mtuID || got.Before != "1500" || got.After != "9000" {
		t.Errorf("unexpected child %s %v -> %v", got.ID, got.Before, got.After)
	}
}
