package ferry

import (
	"context"
	"fmt"
	"strconv"
)

// NamingContext maps configuration names to backend indexes in both
// directions, persisted through a MappingContext.
type NamingContext struct {
	name   string
	prefix Identifier
}

// NewNamingContext creates a naming context. Distinct names keep separate
// mappings in the same MappingContext.
func NewNamingContext(name string) *NamingContext {
	return &NamingContext{
		name:   name,
		prefix: RootKeyed("naming-context", name),
	}
}

// Name returns the context name.
func (n *NamingContext) Name() string {
	return n.name
}

func (n *NamingContext) byName(name string) Identifier {
	return n.prefix.ChildKeyed("name", name)
}

func (n *NamingContext) byIndex(index int) Identifier {
	return n.prefix.ChildKeyed("index", strconv.Itoa(index))
}

// Add maps name to index, replacing any previous mapping of either side.
func (n *NamingContext) Add(ctx context.Context, mc MappingContext, index int, name string) error {
	if prev, ok, err := n.IndexOf(ctx, mc, name); err != nil {
		return err
	} else if ok && prev != index {
		if err := mc.Delete(ctx, n.byIndex(prev)); err != nil {
			return err
		}
	}
	if prev, ok, err := n.NameOf(ctx, mc, index); err != nil {
		return err
	} else if ok && prev != name {
		if err := mc.Delete(ctx, n.byName(prev)); err != nil {
			return err
		}
	}
	if err := mc.Put(ctx, n.byName(name), strconv.Itoa(index)); err != nil {
		return err
	}
	return mc.Put(ctx, n.byIndex(index), name)
}

// IndexOf returns the index mapped to name.
func (n *NamingContext) IndexOf(ctx context.Context, mc MappingContext, name string) (int, bool, error) {
	v, ok, err := mc.Read(ctx, n.byName(name))
	if err != nil || !ok {
		return 0, false, err
	}
	index, err := strconv.Atoi(v)
	if err != nil {
		return 0, false, fmt.Errorf("naming context %s: corrupt index %q for %s: %w", n.name, v, name, err)
	}
	return index, true, nil
}

// NameOf returns the name mapped to index.
func (n *NamingContext) NameOf(ctx context.Context, mc MappingContext, index int) (string, bool, error) {
	return mc.Read(ctx, n.byIndex(index))
}

// Contains reports whether name is mapped.
func (n *NamingContext) Contains(ctx context.Context, mc MappingContext, name string) (bool, error) {
	_, ok, err := n.IndexOf(ctx, mc, name)
	return ok, err
}

// Remove deletes the mapping for name.
func (n *NamingContext) Remove(ctx context.Context, mc MappingContext, name string) error {
	index, ok, err := n.IndexOf(ctx, mc, name)
	if err != nil || !ok {
		return err
	}
	if err := mc.Delete(ctx, n.byName(name)); err != nil {
		return err
	}
	return mc.Delete(ctx, n.byIndex(index))
}
