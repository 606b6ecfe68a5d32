package ferry

import (
	"context"
	"errors"
	"testing"
)

func TestGenericWriter_Dispatch(t *testing.T) {
	ctx := context.Background()
	log := &callLog{}
	w := newStringWriter(Root("a"), log, nil)
	wc := NewWriteContext(nil, nil, nil)

	_ = w.Process(ctx, RootKeyed("a", "1"), nil, "x", wc)
	_ = w.Process(ctx, RootKeyed("a", "1"), "x", "y", wc)
	_ = w.Process(ctx, RootKeyed("a", "1"), "y", nil, wc)

	want := []string{"create /a[1]", "update /a[1]", "delete /a[1]"}
	if got := log.all(); !equalStrings(got, want) {
		t.Errorf("expected %v, got %v", want, got)
	}
}

func TestGenericWriter_DirectUpdateDetection(t *testing.T) {
	log := &callLog{}
	if !newStringWriter(Root("a"), log, nil).SupportsDirectUpdate() {
		t.Error("expected direct update support")
	}
	if newReplaceWriter(Root("a"), log, nil).SupportsDirectUpdate() {
		t.Error("expected no direct update support")
	}
	w := NewWriter[string](Root("a"), updatingCustomizer{&stringCustomizer{log: log}}, WithoutDirectUpdate[string]())
	if w.SupportsDirectUpdate() {
		t.Error("expected WithoutDirectUpdate to disable direct updates")
	}
}

func TestGenericWriter_UpdateWithoutSupportFails(t *testing.T) {
	w := newReplaceWriter(Root("a"), &callLog{}, nil)
	err := w.Process(context.Background(), Root("a"), "x", "y", NewWriteContext(nil, nil, nil))
	var wf *WriteFailedError
	if !errors.As(err, &wf) || wf.Op != OpUpdate {
		t.Errorf("expected update WriteFailedError, got %v", err)
	}
}

func TestGenericWriter_FailureTaggedWithOp(t *testing.T) {
	log := &callLog{}
	w := newStringWriter(Root("a"), log, map[string]error{"delete /a": errBackend})
	err := w.Process(context.Background(), Root("a"), "x", nil, NewWriteContext(nil, nil, nil))

	var wf *WriteFailedError
	if !errors.As(err, &wf) {
		t.Fatalf("expected WriteFailedError, got %v", err)
	}
	if wf.Op != OpDelete || wf.ID != Root("a") || wf.Before != "x" {
		t.Errorf("unexpected error fields %+v", wf)
	}
	if !errors.Is(err, errBackend) {
		t.Error("expected backend cause to be wrapped")
	}
}

func TestGenericWriter_NilUpdate(t *testing.T) {
	w := newStringWriter(Root("a"), &callLog{}, nil)
	err := w.Process(context.Background(), Root("a"), nil, nil, NewWriteContext(nil, nil, nil))
	if !errors.Is(err, ErrNilUpdate) {
		t.Errorf("expected ErrNilUpdate, got %v", err)
	}
}

func TestGenericWriter_TypeMismatch(t *testing.T) {
	w := newStringWriter(Root("a"), &callLog{}, nil)
	err := w.Process(context.Background(), Root("a"), nil, 42, NewWriteContext(nil, nil, nil))
	if !errors.Is(err, ErrTypeMismatch) {
		t.Errorf("expected ErrTypeMismatch, got %v", err)
	}
}

func TestGenericWriter_CanProcess(t *testing.T) {
	w := newStringWriter(RootKeyed("a", "ignored"), &callLog{}, nil)
	if w.ManagedType() != Root("a") {
		t.Errorf("expected keys stripped, got %s", w.ManagedType())
	}
	if !w.CanProcess(RootKeyed("a", "1")) {
		t.Error("expected keyed instance accepted")
	}
	if w.CanProcess(Root("a").Child("b")) {
		t.Error("expected child type rejected")
	}
}

type mtuValidator struct{}

func (mtuValidator) ValidateWrite(_ context.Context, _ Identifier, data string, _ *WriteContext) error {
	if data == "" {
		return errors.New("empty value")
	}
	return nil
}

func (mtuValidator) ValidateUpdate(_ context.Context, _ Identifier, before, after string, _ *WriteContext) error {
	if before == after {
		return errors.New("no change")
	}
	return nil
}

func (mtuValidator) ValidateDelete(_ context.Context, _ Identifier, before string, _ *WriteContext) error {
	if before == "locked" {
		return errors.New("locked")
	}
	return nil
}

func TestGenericWriter_Validate(t *testing.T) {
	ctx := context.Background()
	log := &callLog{}
	w := NewWriter[string](Root("a"), &stringCustomizer{log: log}, WithWriteValidator[string](mtuValidator{}))
	wc := NewWriteContext(nil, nil, nil)

	if err := w.Validate(ctx, Root("a"), nil, "x", wc); err != nil {
		t.Errorf("expected valid create, got %v", err)
	}
	var ve *ValidationError
	if err := w.Validate(ctx, Root("a"), nil, "", wc); !errors.As(err, &ve) {
		t.Errorf("expected ValidationError for create, got %v", err)
	}
	if err := w.Validate(ctx, Root("a"), "x", "x", wc); !errors.As(err, &ve) {
		t.Errorf("expected ValidationError for update, got %v", err)
	}
	if err := w.Validate(ctx, Root("a"), "locked", nil, wc); !errors.As(err, &ve) {
		t.Errorf("expected ValidationError for delete, got %v", err)
	}
	if len(log.all()) != 0 {
		t.Error("expected validation to have no side effects")
	}
}

func TestGenericWriter_ValidateWithoutValidator(t *testing.T) {
	w := newStringWriter(Root("a"), &callLog{}, nil)
	if err := w.Validate(context.Background(), Root("a"), nil, 42, nil); err != nil {
		t.Errorf("expected no validation without a validator, got %v", err)
	}
}

func TestWriterFunc(t *testing.T) {
	var wrote, deleted string
	w := NewWriter[string](Root("a"), WriterFunc[string]{
		Write: func(_ context.Context, _ Identifier, data string, _ *WriteContext) error {
			wrote = data
			return nil
		},
		Delete: func(_ context.Context, _ Identifier, before string, _ *WriteContext) error {
			deleted = before
			return nil
		},
	})
	ctx := context.Background()
	_ = w.Process(ctx, Root("a"), nil, "new", nil)
	_ = w.Process(ctx, Root("a"), "old", nil, nil)
	if wrote != "new" || deleted != "old" {
		t.Errorf("unexpected calls %q %q", wrote, deleted)
	}
}

func TestSubtreeWriter_RequiresSubtreeCustomizer(t *testing.T) {
	_, err := NewSubtreeWriter(newStringWriter(Root("a"), &callLog{}, nil), Root("a").Child("b"))
	if !errors.Is(err, ErrNoSubtreeSupport) {
		t.Fatalf("expected ErrNoSubtreeSupport, got %v", err)
	}
	if newStringWriter(Root("a"), &callLog{}, nil).SupportsSubtree() {
		t.Error("expected plain writer without subtree support")
	}
	if !newSubtreeWriter(Root("a"), &callLog{}, nil).SupportsSubtree() {
		t.Error("expected subtree support")
	}
}

func TestGenericWriter_ProcessSubtreePassesChildren(t *testing.T) {
	ctx := context.Background()
	log := &callLog{}
	w := newSubtreeWriter(RootKeyed("a", "1"), log, map[string]error{"create /a[2]": errBackend})

	root := Update{
		ID:     RootKeyed("a", "1"),
		Before: "a",
		After:  "a",
		Children: []Update{
			mustUpdate(MustParseIdentifier("/a[1]/b[x]"), "mtu=1500", "mtu=9000"),
			mustUpdate(MustParseIdentifier("/a[1]/b[y]"), "old", nil),
		},
	}
	if err := w.ProcessSubtree(ctx, root, nil); err != nil {
		t.Fatalf("process subtree: %v", err)
	}
	want := []string{"update /a[1]", "update /a[1]/b[x]", "delete /a[1]/b[y]"}
	if !equalStrings(log.all(), want) {
		t.Errorf("expected %v, got %v", want, log.all())
	}

	err := w.ProcessSubtree(ctx, Update{ID: RootKeyed("a", "2"), After: "a"}, nil)
	var wf *WriteFailedError
	if !errors.As(err, &wf) || wf.Op != OpCreate {
		t.Errorf("expected create WriteFailedError, got %v", err)
	}
	if err := w.ProcessSubtree(ctx, Update{ID: RootKeyed("a", "3"), After: 7}, nil); !errors.Is(err, ErrTypeMismatch) {
		t.Errorf("expected ErrTypeMismatch, got %v", err)
	}
}

func TestSubtreeWriter_ChildrenMustBeBeneathRoot(t *testing.T) {
	w := newSubtreeWriter(Root("a"), &callLog{}, nil)
	if _, err := NewSubtreeWriter(w, Root("b")); err == nil {
		t.Error("expected error for unrelated child")
	}
	if _, err := NewSubtreeWriter(w, Root("a")); err == nil {
		t.Error("expected error for root as child")
	}
	s, err := NewSubtreeWriter(w, Root("a").Child("b"), Root("a").Child("b"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if types := s.HandledTypes(); len(types) != 2 || types[0] != Root("a") {
		t.Errorf("unexpected handled types %v", types)
	}
	if !s.CanProcess(MustParseIdentifier("/a/b[1]")) {
		t.Error("expected child handled")
	}
}

func TestWildcardWriter_CanProcess(t *testing.T) {
	w := NewWildcardWriter(newStringWriter(Root("a"), &callLog{}, nil), MustParseIdentifier("/x/y"))
	if !w.CanProcess(MustParseIdentifier("/x[1]/y[2]")) {
		t.Error("expected pattern match")
	}
	if w.CanProcess(MustParseIdentifier("/x/z")) {
		t.Error("expected non matching id rejected")
	}
}
