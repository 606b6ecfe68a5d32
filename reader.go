package ferry

import (
	"context"
	"fmt"
	"reflect"
)

// Reader reads one node type into a builder that its parent can absorb.
//
// The registry drives readers top-down: a node's own attributes are read
// first, then every child reader merges its values into the same builder,
// then the builder is finalized.
type Reader interface {
	// ManagedType is the unkeyed identifier of the owned node type.
	ManagedType() Identifier

	// NewBuilder returns an empty accumulator for id.
	NewBuilder(id Identifier) any

	// ReadCurrentAttributes fills builder from the backend.
	ReadCurrentAttributes(ctx context.Context, id Identifier, builder any, rc *ReadContext) error

	// Build finalizes builder into a node value.
	Build(builder any) DataObject

	// IsPresent decides whether a built value is kept.
	IsPresent(id Identifier, built DataObject, rc *ReadContext) bool

	// Merge attaches read values into the parent's builder. List readers
	// receive every instance in one call.
	Merge(parentBuilder any, values ...DataObject) error
}

// ListReader reads a keyed list.
type ListReader interface {
	Reader

	// AllIDs returns the keyed identifiers of every instance beneath the
	// parent of id, whose last step is unkeyed.
	AllIDs(ctx context.Context, id Identifier, rc *ReadContext) ([]Identifier, error)
}

// AttributeReader is the part of a reader customizer shared by single nodes
// and lists.
type AttributeReader[D any, B any] interface {
	Builder(id Identifier) B
	ReadCurrentAttributes(ctx context.Context, id Identifier, b B, rc *ReadContext) error
	Build(b B) D
}

// ReaderCustomizer holds the backend logic for one single-instance node type.
type ReaderCustomizer[D any, B any] interface {
	AttributeReader[D, B]
}

// ListReaderCustomizer holds the backend logic for a keyed list type.
type ListReaderCustomizer[D any, B any] interface {
	AttributeReader[D, B]
	AllIDs(ctx context.Context, id Identifier, rc *ReadContext) ([]Identifier, error)
}

// Merger is implemented by customizers of non-root single nodes.
type Merger[D any] interface {
	Merge(parentBuilder any, value D) error
}

// ListMerger is implemented by customizers of non-root lists.
type ListMerger[D any] interface {
	MergeList(parentBuilder any, values []D) error
}

// PresenceCheck overrides the default presence rule.
type PresenceCheck[D any] interface {
	IsPresent(id Identifier, built D, rc *ReadContext) bool
}

// GenericReader adapts a typed customizer to Reader.
type GenericReader[D any, B any] struct {
	typ        Identifier
	attrs      AttributeReader[D, B]
	merger     Merger[D]
	listMerger ListMerger[D]
	presence   PresenceCheck[D]
}

// NewReader creates a reader for a single-instance node type.
func NewReader[D any, B any](typ Identifier, customizer ReaderCustomizer[D, B]) *GenericReader[D, B] {
	return newGenericReader[D, B](typ, customizer)
}

func newGenericReader[D any, B any](typ Identifier, attrs AttributeReader[D, B]) *GenericReader[D, B] {
	r := &GenericReader[D, B]{typ: typ.Unkeyed(), attrs: attrs}
	if m, ok := attrs.(Merger[D]); ok {
		r.merger = m
	}
	if m, ok := attrs.(ListMerger[D]); ok {
		r.listMerger = m
	}
	if p, ok := attrs.(PresenceCheck[D]); ok {
		r.presence = p
	}
	return r
}

// ManagedType returns the owned type.
func (r *GenericReader[D, B]) ManagedType() Identifier {
	return r.typ
}

// NewBuilder returns the customizer's empty builder.
func (r *GenericReader[D, B]) NewBuilder(id Identifier) any {
	return r.attrs.Builder(id)
}

// ReadCurrentAttributes delegates to the customizer.
func (r *GenericReader[D, B]) ReadCurrentAttributes(ctx context.Context, id Identifier, builder any, rc *ReadContext) error {
	b, ok := builder.(B)
	if !ok {
		return fmt.Errorf("%w: builder for %s is %T", ErrTypeMismatch, r.typ, builder)
	}
	return r.attrs.ReadCurrentAttributes(ctx, id, b, rc)
}

// Build delegates to the customizer.
func (r *GenericReader[D, B]) Build(builder any) DataObject {
	b, ok := builder.(B)
	if !ok {
		return nil
	}
	return r.attrs.Build(b)
}

// IsPresent uses the customizer's PresenceCheck, or keeps any value that
// differs from what an empty builder produces.
func (r *GenericReader[D, B]) IsPresent(id Identifier, built DataObject, rc *ReadContext) bool {
	d, ok := built.(D)
	if !ok {
		return false
	}
	if r.presence != nil {
		return r.presence.IsPresent(id, d, rc)
	}
	empty := r.attrs.Build(r.attrs.Builder(id))
	return !reflect.DeepEqual(d, empty)
}

// Merge hands values to the customizer's Merger or ListMerger.
func (r *GenericReader[D, B]) Merge(parentBuilder any, values ...DataObject) error {
	typed := make([]D, 0, len(values))
	for _, v := range values {
		d, ok := v.(D)
		if !ok {
			return fmt.Errorf("%w: %s value is %T", ErrTypeMismatch, r.typ, v)
		}
		typed = append(typed, d)
	}
	switch {
	case r.listMerger != nil:
		return r.listMerger.MergeList(parentBuilder, typed)
	case r.merger != nil:
		for _, d := range typed {
			if err := r.merger.Merge(parentBuilder, d); err != nil {
				return err
			}
		}
		return nil
	default:
		return fmt.Errorf("ferry: reader for %s cannot merge into a parent", r.typ)
	}
}

// GenericListReader adapts a typed list customizer to ListReader.
type GenericListReader[D any, B any] struct {
	*GenericReader[D, B]
	ids ListReaderCustomizer[D, B]
}

// NewListReader creates a reader for a keyed list type.
func NewListReader[D any, B any](typ Identifier, customizer ListReaderCustomizer[D, B]) *GenericListReader[D, B] {
	return &GenericListReader[D, B]{
		GenericReader: newGenericReader[D, B](typ, customizer),
		ids:           customizer,
	}
}

// AllIDs delegates to the customizer.
func (r *GenericListReader[D, B]) AllIDs(ctx context.Context, id Identifier, rc *ReadContext) ([]Identifier, error) {
	return r.ids.AllIDs(ctx, id, rc)
}

// ExtractFunc resolves a child node from the value of its subtree root.
type ExtractFunc func(root DataObject, id Identifier) (DataObject, bool)

// SubtreeReader reads a root type together with declared child types in
// one backend pass. Reads of a child are served by reading the root and
// extracting the child.
type SubtreeReader struct {
	Reader
	extract ExtractFunc
	handled map[Identifier]struct{}
	order   []Identifier
}

// NewSubtreeReader wraps r so it also owns the given child types.
func NewSubtreeReader(r Reader, extract ExtractFunc, children ...Identifier) (*SubtreeReader, error) {
	root := r.ManagedType()
	s := &SubtreeReader{
		Reader:  r,
		extract: extract,
		handled: make(map[Identifier]struct{}),
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

// HandledChildren returns the declared child types.
func (s *SubtreeReader) HandledChildren() []Identifier {
	return append([]Identifier(nil), s.order...)
}

// Extract resolves id from the root value.
func (s *SubtreeReader) Extract(root DataObject, id Identifier) (DataObject, bool) {
	if s.extract == nil {
		return nil, false
	}
	return s.extract(root, id)
}

// asList unwraps subtree readers to find list behavior.
func asList(r Reader) (ListReader, bool) {
	if s, ok := r.(*SubtreeReader); ok {
		r = s.Reader
	}
	lr, ok := r.(ListReader)
	return lr, ok
}
