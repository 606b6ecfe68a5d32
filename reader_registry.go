package ferry

import (
	"context"
	"errors"
	"fmt"

	"github.com/zoobzio/capitan"
)

// readerNode is one composite reader: a reader plus its child nodes in
// registration order.
type readerNode struct {
	reader   Reader
	list     ListReader
	subtree  *SubtreeReader
	typ      Identifier
	children []*readerNode
}

// ReaderRegistryBuilder collects readers and freezes them into an immutable
// ReaderRegistry. Registration errors are deferred and reported by Build.
type ReaderRegistryBuilder struct {
	nodes  []*readerNode
	byType map[Identifier]*readerNode
	errs   []error
	built  bool
}

// NewReaderRegistryBuilder returns an empty builder.
func NewReaderRegistryBuilder() *ReaderRegistryBuilder {
	return &ReaderRegistryBuilder{byType: make(map[Identifier]*readerNode)}
}

// Add registers a reader. A *SubtreeReader also claims its child types.
func (b *ReaderRegistryBuilder) Add(r Reader) *ReaderRegistryBuilder {
	if b.built {
		b.errs = append(b.errs, ErrRegistryFrozen)
		return b
	}
	typ := r.ManagedType().Unkeyed()
	if err := typ.Validate(); err != nil {
		b.errs = append(b.errs, err)
		return b
	}
	if s, ok := r.(*SubtreeReader); ok {
		for _, c := range s.HandledChildren() {
			if err := c.Validate(); err != nil {
				b.errs = append(b.errs, err)
				return b
			}
		}
	}
	if _, dup := b.byType[typ]; dup {
		b.errs = append(b.errs, fmt.Errorf("%w: %s", ErrDuplicateReader, typ))
		return b
	}
	n := &readerNode{reader: r, typ: typ}
	n.list, _ = asList(r)
	if s, ok := r.(*SubtreeReader); ok {
		n.subtree = s
	}
	b.byType[typ] = n
	b.nodes = append(b.nodes, n)
	return b
}

// AddSubtree registers r as owner of its type and the given child types.
func (b *ReaderRegistryBuilder) AddSubtree(r Reader, extract ExtractFunc, children ...Identifier) *ReaderRegistryBuilder {
	s, err := NewSubtreeReader(r, extract, children...)
	if err != nil {
		b.errs = append(b.errs, err)
		return b
	}
	return b.Add(s)
}

// Build links every reader beneath its parent and freezes the builder.
func (b *ReaderRegistryBuilder) Build() (*ReaderRegistry, error) {
	if b.built {
		return nil, ErrRegistryFrozen
	}
	b.built = true
	if len(b.errs) > 0 {
		return nil, errors.Join(b.errs...)
	}

	r := &ReaderRegistry{
		byType:  make(map[Identifier]*readerNode, len(b.nodes)),
		handled: make(map[Identifier]*readerNode),
	}
	for _, n := range b.nodes {
		r.byType[n.typ] = n
		if n.subtree != nil {
			for _, c := range n.subtree.HandledChildren() {
				r.handled[c] = n
			}
		}
	}
	for _, n := range b.nodes {
		if owner := r.subtreeOwner(n.typ); owner != nil {
			return nil, fmt.Errorf("%w: %s is already read by subtree %s", ErrDuplicateReader, n.typ, owner.typ)
		}
		parent := n.typ.Parent()
		if parent.IsRoot() {
			r.roots = append(r.roots, n)
			continue
		}
		p, ok := b.byType[parent]
		if !ok {
			return nil, fmt.Errorf("%w: %s needs %s", ErrMissingParent, n.typ, parent)
		}
		p.children = append(p.children, n)
	}
	return r, nil
}

// ReaderRegistry assembles tree reads from registered readers. It is
// immutable and safe for concurrent use; each read must use its own
// ReadContext.
type ReaderRegistry struct {
	roots   []*readerNode
	byType  map[Identifier]*readerNode
	handled map[Identifier]*readerNode
}

// subtreeOwner returns the subtree reader that declared typ, or one of its
// ancestors, as a handled child.
func (r *ReaderRegistry) subtreeOwner(typ Identifier) *readerNode {
	for t := typ; !t.IsRoot(); t = t.Parent() {
		if n, ok := r.handled[t]; ok {
			return n
		}
	}
	return nil
}

// RootTypes returns the root reader types in registration order.
func (r *ReaderRegistry) RootTypes() []Identifier {
	types := make([]Identifier, len(r.roots))
	for i, n := range r.roots {
		types[i] = n.typ
	}
	return types
}

// ReadAll reads every root reader, in registration order, with all of its
// descendants. Any failure aborts the whole read.
func (r *ReaderRegistry) ReadAll(ctx context.Context, rc *ReadContext) (*ReadResult, error) {
	result := newReadResult()
	for _, n := range r.roots {
		entries, err := n.readInstances(ctx, Root(n.typ.Last().Type), rc)
		if err != nil {
			capitan.Emit(ctx, ReadFailed,
				KeyIdentifier.Field(n.typ.String()),
				KeyError.Field(err.Error()),
			)
			return nil, err
		}
		result.add(n.typ, entries)
	}
	capitan.Emit(ctx, ReadCompleted,
		KeyCount.Field(result.Len()),
	)
	return result, nil
}

// Read reads the subtree at id. It reports false when the node is absent.
func (r *ReaderRegistry) Read(ctx context.Context, id Identifier, rc *ReadContext) (DataObject, bool, error) {
	typ := id.Unkeyed()
	if n, ok := r.byType[typ]; ok {
		if n.list != nil && !id.Last().Keyed() {
			return nil, false, &ReadFailedError{ID: id, Err: ErrWildcardRead}
		}
		return n.readOne(ctx, id, rc)
	}
	if n, ok := r.handled[typ]; ok {
		rootID, ok := id.FirstIdentifierOf(n.typ)
		if !ok {
			return nil, false, &ReadFailedError{ID: id, Err: ErrMissingReader}
		}
		root, ok, err := n.readOne(ctx, rootID, rc)
		if err != nil || !ok {
			return nil, false, err
		}
		v, ok := n.subtree.Extract(root, id)
		return v, ok, nil
	}
	return nil, false, &ReadFailedError{ID: id, Err: ErrMissingReader}
}

// ReadAllOf reads every instance of typ anywhere in the tree, expanding each
// list along the path.
func (r *ReaderRegistry) ReadAllOf(ctx context.Context, typ Identifier, rc *ReadContext) ([]Entry, error) {
	typ = typ.Unkeyed()
	target, ok := r.byType[typ]
	if !ok {
		return nil, &ReadFailedError{ID: typ, Err: ErrMissingReader}
	}
	steps := typ.Steps()
	parents := []Identifier{{}}
	prefix := Identifier{}
	for _, s := range steps[:len(steps)-1] {
		prefix = prefix.Child(s.Type)
		n, ok := r.byType[prefix]
		if !ok {
			return nil, &ReadFailedError{ID: prefix, Err: ErrMissingReader}
		}
		var next []Identifier
		for _, p := range parents {
			child := p.Child(s.Type)
			if n.list == nil {
				next = append(next, child)
				continue
			}
			ids, err := n.list.AllIDs(ctx, child, rc)
			if err != nil {
				return nil, &ReadFailedError{ID: child, Err: err}
			}
			next = append(next, ids...)
		}
		parents = next
	}

	var entries []Entry
	last := steps[len(steps)-1].Type
	for _, p := range parents {
		found, err := target.readInstances(ctx, p.Child(last), rc)
		if err != nil {
			return nil, err
		}
		entries = append(entries, found...)
	}
	return entries, nil
}

// readInstances reads every instance addressed by id: all list entries when
// the node is a list, otherwise the single node.
func (n *readerNode) readInstances(ctx context.Context, id Identifier, rc *ReadContext) ([]Entry, error) {
	ids := []Identifier{id}
	if n.list != nil {
		var err error
		ids, err = n.list.AllIDs(ctx, id, rc)
		if err != nil {
			return nil, &ReadFailedError{ID: id, Err: err}
		}
	}
	entries := make([]Entry, 0, len(ids))
	for _, instance := range ids {
		v, ok, err := n.readOne(ctx, instance, rc)
		if err != nil {
			return nil, err
		}
		if ok {
			entries = append(entries, Entry{ID: instance, Data: v})
		}
	}
	return entries, nil
}

// readOne reads one instance: own attributes, then each child merged into
// the same builder in registration order.
func (n *readerNode) readOne(ctx context.Context, id Identifier, rc *ReadContext) (DataObject, bool, error) {
	b := n.reader.NewBuilder(id)
	if err := n.reader.ReadCurrentAttributes(ctx, id, b, rc); err != nil {
		return nil, false, asReadFailed(id, err)
	}
	for _, c := range n.children {
		entries, err := c.readInstances(ctx, id.Child(c.typ.Last().Type), rc)
		if err != nil {
			return nil, false, err
		}
		if len(entries) == 0 {
			continue
		}
		values := make([]DataObject, len(entries))
		for i, e := range entries {
			values[i] = e.Data
		}
		if err := c.reader.Merge(b, values...); err != nil {
			return nil, false, asReadFailed(id, err)
		}
	}
	built := n.reader.Build(b)
	if !n.reader.IsPresent(id, built, rc) {
		return nil, false, nil
	}
	return built, true, nil
}

func asReadFailed(id Identifier, err error) error {
	var rf *ReadFailedError
	if errors.As(err, &rf) {
		return err
	}
	return &ReadFailedError{ID: id, Err: err}
}

// ReadResult is an ordered multimap of read values keyed by root type.
type ReadResult struct {
	keys   []Identifier
	values map[Identifier][]Entry
}

func newReadResult() *ReadResult {
	return &ReadResult{values: make(map[Identifier][]Entry)}
}

func (r *ReadResult) add(typ Identifier, entries []Entry) {
	if _, ok := r.values[typ]; !ok {
		r.keys = append(r.keys, typ)
	}
	r.values[typ] = append(r.values[typ], entries...)
}

// Keys returns the root types in read order.
func (r *ReadResult) Keys() []Identifier {
	return append([]Identifier(nil), r.keys...)
}

// Get returns the values read for a root type.
func (r *ReadResult) Get(typ Identifier) []Entry {
	return append([]Entry(nil), r.values[typ.Unkeyed()]...)
}

// Len returns the total number of values.
func (r *ReadResult) Len() int {
	n := 0
	for _, v := range r.values {
		n += len(v)
	}
	return n
}

// Entries returns every value in read order.
func (r *ReadResult) Entries() []Entry {
	var all []Entry
	for _, k := range r.keys {
		all = append(all, r.values[k]...)
	}
	return all
}

// Snapshot converts the result into a MemorySnapshot of root values.
func (r *ReadResult) Snapshot() *MemorySnapshot {
	return NewMemorySnapshot(r.Entries())
}
