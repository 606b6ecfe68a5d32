package ferry

import (
	"context"
	"fmt"
)

// Writer translates modifications of one node type into backend calls.
//
// Writers are registered once into a WriterRegistryBuilder and invoked for
// every batch touching their type.
type Writer interface {
	// ManagedType is the unkeyed identifier of the owned node type.
	ManagedType() Identifier

	// CanProcess reports whether the writer owns id.
	CanProcess(id Identifier) bool

	// SupportsDirectUpdate reports whether an update with both sides set
	// can be applied in place. When false the registry issues a delete of
	// the old value followed by a create of the new one.
	SupportsDirectUpdate() bool

	// Validate checks a modification without side effects.
	Validate(ctx context.Context, id Identifier, before, after DataObject, wc *WriteContext) error

	// Process applies a create, update or delete.
	Process(ctx context.Context, id Identifier, before, after DataObject, wc *WriteContext) error
}

// WriterCustomizer holds the backend logic for one node type.
type WriterCustomizer[D any] interface {
	WriteCurrentAttributes(ctx context.Context, id Identifier, data D, wc *WriteContext) error
	DeleteCurrentAttributes(ctx context.Context, id Identifier, before D, wc *WriteContext) error
}

// UpdateCustomizer is implemented by customizers that can update a node in
// place. Its presence is checked once, when the writer is constructed.
type UpdateCustomizer[D any] interface {
	UpdateCurrentAttributes(ctx context.Context, id Identifier, before, after D, wc *WriteContext) error
}

// SubtreeCustomizer is implemented by customizers of subtree root types.
// It receives the root's before and after values together with the
// modifications of handled descendants beneath id. When only descendants
// changed, before and after hold the same root value.
type SubtreeCustomizer[D any] interface {
	ProcessSubtree(ctx context.Context, id Identifier, before, after D, children []Update, wc *WriteContext) error
}

// WriteValidator rejects modifications before they reach the backend.
type WriteValidator[D any] interface {
	ValidateWrite(ctx context.Context, id Identifier, data D, wc *WriteContext) error
	ValidateUpdate(ctx context.Context, id Identifier, before, after D, wc *WriteContext) error
	ValidateDelete(ctx context.Context, id Identifier, before D, wc *WriteContext) error
}

// WriterOption configures a GenericWriter.
type WriterOption[D any] func(*GenericWriter[D])

// WithWriteValidator attaches a validator.
func WithWriteValidator[D any](v WriteValidator[D]) WriterOption[D] {
	return func(w *GenericWriter[D]) {
		w.validator = v
	}
}

// WithoutDirectUpdate forces delete-then-create even when the customizer
// implements UpdateCustomizer.
func WithoutDirectUpdate[D any]() WriterOption[D] {
	return func(w *GenericWriter[D]) {
		w.updater = nil
	}
}

// GenericWriter adapts a typed WriterCustomizer to Writer.
type GenericWriter[D any] struct {
	typ        Identifier
	customizer WriterCustomizer[D]
	updater    UpdateCustomizer[D]
	subtree    SubtreeCustomizer[D]
	validator  WriteValidator[D]
}

// NewWriter creates a writer owning typ. Keys in typ are ignored.
func NewWriter[D any](typ Identifier, customizer WriterCustomizer[D], opts ...WriterOption[D]) *GenericWriter[D] {
	w := &GenericWriter[D]{
		typ:        typ.Unkeyed(),
		customizer: customizer,
	}
	if u, ok := customizer.(UpdateCustomizer[D]); ok {
		w.updater = u
	}
	if st, ok := customizer.(SubtreeCustomizer[D]); ok {
		w.subtree = st
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// ManagedType returns the owned type.
func (w *GenericWriter[D]) ManagedType() Identifier {
	return w.typ
}

// CanProcess matches ids of exactly the owned type.
func (w *GenericWriter[D]) CanProcess(id Identifier) bool {
	return id.Unkeyed() == w.typ
}

// SupportsDirectUpdate reports whether an UpdateCustomizer is present.
func (w *GenericWriter[D]) SupportsDirectUpdate() bool {
	return w.updater != nil
}

// Validate dispatches to the attached WriteValidator, if any.
func (w *GenericWriter[D]) Validate(ctx context.Context, id Identifier, before, after DataObject, wc *WriteContext) error {
	if w.validator == nil {
		return nil
	}
	b, a, err := castPair[D](before, after)
	if err != nil {
		return &ValidationError{ID: id, Before: before, After: after, Err: err}
	}
	switch {
	case before == nil:
		err = w.validator.ValidateWrite(ctx, id, a, wc)
	case after == nil:
		err = w.validator.ValidateDelete(ctx, id, b, wc)
	default:
		err = w.validator.ValidateUpdate(ctx, id, b, a, wc)
	}
	if err != nil {
		return &ValidationError{ID: id, Before: before, After: after, Err: err}
	}
	return nil
}

// Process dispatches to the customizer by modification kind. Errors are
// wrapped in a WriteFailedError tagged with the operation.
func (w *GenericWriter[D]) Process(ctx context.Context, id Identifier, before, after DataObject, wc *WriteContext) error {
	u := Update{ID: id, Before: before, After: after}
	if before == nil && after == nil {
		return NewWriteFailedError(u, ErrNilUpdate)
	}
	b, a, err := castPair[D](before, after)
	if err != nil {
		return NewWriteFailedError(u, err)
	}
	switch u.Kind() {
	case KindCreate:
		err = w.customizer.WriteCurrentAttributes(ctx, id, a, wc)
	case KindDelete:
		err = w.customizer.DeleteCurrentAttributes(ctx, id, b, wc)
	default:
		if w.updater == nil {
			err = fmt.Errorf("%s does not support direct update", w.typ)
			break
		}
		err = w.updater.UpdateCurrentAttributes(ctx, id, b, a, wc)
	}
	if err != nil {
		return NewWriteFailedError(u, err)
	}
	return nil
}

// SupportsSubtree reports whether a SubtreeCustomizer is present.
func (w *GenericWriter[D]) SupportsSubtree() bool {
	return w.subtree != nil
}

// ProcessSubtree hands a root modification and its folded descendants to
// the SubtreeCustomizer.
func (w *GenericWriter[D]) ProcessSubtree(ctx context.Context, root Update, wc *WriteContext) error {
	if w.subtree == nil {
		return NewWriteFailedError(root, fmt.Errorf("%w: %s", ErrNoSubtreeSupport, w.typ))
	}
	b, a, err := castPair[D](root.Before, root.After)
	if err != nil {
		return NewWriteFailedError(root, err)
	}
	if err := w.subtree.ProcessSubtree(ctx, root.ID, b, a, root.Children, wc); err != nil {
		return NewWriteFailedError(root, err)
	}
	return nil
}

func castPair[D any](before, after DataObject) (D, D, error) {
	var b, a D
	var ok bool
	if before != nil {
		if b, ok = before.(D); !ok {
			return b, a, fmt.Errorf("%w: before is %T", ErrTypeMismatch, before)
		}
	}
	if after != nil {
		if a, ok = after.(D); !ok {
			return b, a, fmt.Errorf("%w: after is %T", ErrTypeMismatch, after)
		}
	}
	return b, a, nil
}

// WriterFunc adapts plain functions to WriterCustomizer.
type WriterFunc[D any] struct {
	Write  func(ctx context.Context, id Identifier, data D, wc *WriteContext) error
	Delete func(ctx context.Context, id Identifier, before D, wc *WriteContext) error
}

// WriteCurrentAttributes calls Write.
func (f WriterFunc[D]) WriteCurrentAttributes(ctx context.Context, id Identifier, data D, wc *WriteContext) error {
	return f.Write(ctx, id, data, wc)
}

// DeleteCurrentAttributes calls Delete.
func (f WriterFunc[D]) DeleteCurrentAttributes(ctx context.Context, id Identifier, before D, wc *WriteContext) error {
	return f.Delete(ctx, id, before, wc)
}

// SubtreeProcessor is implemented by writers able to apply a subtree root
// instance together with the modifications of its descendants.
type SubtreeProcessor interface {
	SupportsSubtree() bool
	ProcessSubtree(ctx context.Context, root Update, wc *WriteContext) error
}

// SubtreeWriter owns a root type and a set of child types as one unit.
// The registry folds modifications of any handled child into a single
// modification of the enclosing root instance whose Children carry the
// child modifications, so the backend sees the subtree atomically.
type SubtreeWriter struct {
	Writer
	processor SubtreeProcessor
	handled   map[Identifier]struct{}
	order     []Identifier
}

// NewSubtreeWriter wraps w so it also owns the given child types, which
// must lie beneath w's managed type. w must implement SubtreeProcessor;
// a GenericWriter does when its customizer is a SubtreeCustomizer.
func NewSubtreeWriter(w Writer, children ...Identifier) (*SubtreeWriter, error) {
	root := w.ManagedType()
	p, ok := w.(SubtreeProcessor)
	if !ok || !p.SupportsSubtree() {
		return nil, fmt.Errorf("%w: %s", ErrNoSubtreeSupport, root)
	}
	s := &SubtreeWriter{
		Writer:    w,
		processor: p,
		handled:   map[Identifier]struct{}{root: {}},
		order:     []Identifier{root},
	}
	for _, c := range children {
		c = c.Unkeyed()
		if c == root || !root.Contains(c) {
			return nil, fmt.Errorf("ferry: %s is not beneath subtree root %s", c, root)
		}
		if _, ok := s.handled[c]; ok {
			continue
		}
		s.handled[c] = struct{}{}
		s.order = append(s.order, c)
	}
	return s, nil
}

// HandledTypes returns the root type followed by the child types.
func (s *SubtreeWriter) HandledTypes() []Identifier {
	return append([]Identifier(nil), s.order...)
}

// CanProcess matches the root and every handled child type.
func (s *SubtreeWriter) CanProcess(id Identifier) bool {
	_, ok := s.handled[id.Unkeyed()]
	return ok || s.Writer.CanProcess(id)
}

// SupportsSubtree always reports true.
func (s *SubtreeWriter) SupportsSubtree() bool {
	return true
}

// ProcessSubtree applies root and root.Children in one call.
func (s *SubtreeWriter) ProcessSubtree(ctx context.Context, root Update, wc *WriteContext) error {
	return s.processor.ProcessSubtree(ctx, root, wc)
}

// WildcardWriter claims every identifier matching a wildcarded pattern.
type WildcardWriter struct {
	Writer
	pattern Identifier
}

// NewWildcardWriter wraps w so it owns every identifier matching pattern.
func NewWildcardWriter(w Writer, pattern Identifier) *WildcardWriter {
	return &WildcardWriter{Writer: w, pattern: pattern}
}

// CanProcess matches ids against the pattern.
func (w *WildcardWriter) CanProcess(id Identifier) bool {
	return id.Matches(w.pattern) || w.Writer.CanProcess(id)
}
