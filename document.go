package ferry

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
)

// Document is the serialized form of a configuration tree as delivered by
// a Watcher: a flat list of nodes plus optional mapping bookkeeping.
type Document struct {
	Nodes    []DocumentNode `json:"nodes" yaml:"nodes" toml:"nodes" validate:"dive"`
	Mappings []MappingEntry `json:"mappings,omitempty" yaml:"mappings,omitempty" toml:"mappings,omitempty" validate:"dive"`
}

// DocumentNode is one node of a Document. Path is the text form of the
// node's identifier.
type DocumentNode struct {
	Path string         `json:"path" yaml:"path" toml:"path" validate:"required,startswith=/"`
	Data map[string]any `json:"data" yaml:"data" toml:"data" validate:"required"`
}

// Binder turns the raw fields of a document node into a typed node value.
type Binder interface {
	Bind(id Identifier, fields map[string]any) (DataObject, error)
}

// BinderFunc adapts a function to Binder.
type BinderFunc func(id Identifier, fields map[string]any) (DataObject, error)

// Bind calls f.
func (f BinderFunc) Bind(id Identifier, fields map[string]any) (DataObject, error) {
	return f(id, fields)
}

// TypeBinder dispatches binding by the unkeyed type of the node.
type TypeBinder struct {
	handlers map[Identifier]BinderFunc
}

// NewTypeBinder returns an empty TypeBinder.
func NewTypeBinder() *TypeBinder {
	return &TypeBinder{handlers: make(map[Identifier]BinderFunc)}
}

// Handle registers fn for every node of typ.
func (b *TypeBinder) Handle(typ Identifier, fn BinderFunc) *TypeBinder {
	b.handlers[typ.Unkeyed()] = fn
	return b
}

// Bind implements Binder.
func (b *TypeBinder) Bind(id Identifier, fields map[string]any) (DataObject, error) {
	fn, ok := b.handlers[id.Unkeyed()]
	if !ok {
		return nil, fmt.Errorf("%w: no binding for %s", ErrUnknownType, id.Unkeyed())
	}
	return fn(id, fields)
}

// BindJSON returns a BinderFunc that decodes fields into a D through its
// JSON tags.
func BindJSON[D any]() BinderFunc {
	return func(_ Identifier, fields map[string]any) (DataObject, error) {
		raw, err := json.Marshal(fields)
		if err != nil {
			return nil, err
		}
		var d D
		if err := json.Unmarshal(raw, &d); err != nil {
			return nil, err
		}
		return d, nil
	}
}

// Validate checks the struct tags of the document.
func (d *Document) Validate() error {
	if err := validate.Struct(d); err != nil {
		return fmt.Errorf("invalid document: %w", err)
	}
	return nil
}

// Snapshot parses and binds every node. Duplicate paths are rejected.
func (d *Document) Snapshot(binder Binder) (*MemorySnapshot, error) {
	entries := make([]Entry, 0, len(d.Nodes))
	seen := make(map[Identifier]struct{}, len(d.Nodes))
	var errs []error
	for _, n := range d.Nodes {
		id, err := ParseIdentifier(n.Path)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if _, dup := seen[id]; dup {
			errs = append(errs, fmt.Errorf("duplicate node %s", id))
			continue
		}
		seen[id] = struct{}{}
		v, err := binder.Bind(id, n.Data)
		if err != nil {
			errs = append(errs, fmt.Errorf("bind %s: %w", id, err))
			continue
		}
		entries = append(entries, Entry{ID: id, Data: v})
	}
	if len(errs) > 0 {
		return nil, errors.Join(errs...)
	}
	return NewMemorySnapshot(entries), nil
}

// DecodeDocument unmarshals and validates a document.
func DecodeDocument(raw []byte, codec Codec) (*Document, error) {
	var doc Document
	if err := codec.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("decode document: %w", err)
	}
	if err := doc.Validate(); err != nil {
		return nil, err
	}
	return &doc, nil
}

// DocumentRestorer serves persisted mappings and configuration from the
// first document a Watcher emits. It implements ContextRestorer and
// ConfigRestorer; both read the same document.
type DocumentRestorer struct {
	watcher Watcher
	codec   Codec
	binder  Binder

	once sync.Once
	doc  *Document
	err  error
}

// NewDocumentRestorer creates a restorer. A nil codec means JSON.
func NewDocumentRestorer(watcher Watcher, codec Codec, binder Binder) *DocumentRestorer {
	if codec == nil {
		codec = JSONCodec{}
	}
	return &DocumentRestorer{watcher: watcher, codec: codec, binder: binder}
}

func (r *DocumentRestorer) load(ctx context.Context) (*Document, error) {
	r.once.Do(func() {
		watchCtx, cancel := context.WithCancel(ctx)
		defer cancel()
		ch, err := r.watcher.Watch(watchCtx)
		if err != nil {
			r.err = fmt.Errorf("watch document: %w", err)
			return
		}
		select {
		case raw, ok := <-ch:
			if !ok {
				r.err = errors.New("watcher closed before emitting a document")
				return
			}
			r.doc, r.err = DecodeDocument(raw, r.codec)
		case <-ctx.Done():
			r.err = ctx.Err()
		}
	})
	return r.doc, r.err
}

// RestoreContext writes the document's mapping entries into mc.
func (r *DocumentRestorer) RestoreContext(ctx context.Context, mc MappingContext) error {
	doc, err := r.load(ctx)
	if err != nil {
		return err
	}
	return RestoreMappings(ctx, mc, doc.Mappings)
}

// RestoreConfig binds the document's nodes.
func (r *DocumentRestorer) RestoreConfig(ctx context.Context) ([]Entry, error) {
	doc, err := r.load(ctx)
	if err != nil {
		return nil, err
	}
	snap, err := doc.Snapshot(r.binder)
	if err != nil {
		return nil, err
	}
	return snap.Entries(), nil
}

var (
	_ ContextRestorer = (*DocumentRestorer)(nil)
	_ ConfigRestorer  = (*DocumentRestorer)(nil)
)
