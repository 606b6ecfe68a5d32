package ferry

import "fmt"

// DataObject is a typed node value produced by the schema binding layer.
// A nil DataObject means the node does not exist.
type DataObject = any

// Kind classifies a single node modification.
type Kind int

const (
	// KindCreate is a modification with no previous value.
	KindCreate Kind = iota
	// KindUpdate replaces an existing value.
	KindUpdate
	// KindDelete removes an existing value.
	KindDelete
)

// String returns the string representation of the kind.
func (k Kind) String() string {
	switch k {
	case KindCreate:
		return "create"
	case KindUpdate:
		return "update"
	case KindDelete:
		return "delete"
	default:
		return "unknown"
	}
}

// Update is the before and after value of one node.
//
// Two updates are Equal when they address the same identifier, regardless
// of their data, so a batch can be treated as a set of touched nodes.
//
// Children is only set on updates routed to a subtree writer: it holds the
// modifications of handled descendants beneath ID, in batch order.
type Update struct {
	ID       Identifier
	Before   DataObject
	After    DataObject
	Children []Update
}

// NewUpdate builds an Update. At least one of before and after must be set.
func NewUpdate(id Identifier, before, after DataObject) (Update, error) {
	if before == nil && after == nil {
		return Update{}, fmt.Errorf("%w: %s", ErrNilUpdate, id)
	}
	return Update{ID: id, Before: before, After: after}, nil
}

// NewDelete builds the delete refinement of an Update.
func NewDelete(id Identifier, before DataObject) (Update, error) {
	return NewUpdate(id, before, nil)
}

// Kind derives the modification kind from which side is set.
func (u Update) Kind() Kind {
	switch {
	case u.Before == nil:
		return KindCreate
	case u.After == nil:
		return KindDelete
	default:
		return KindUpdate
	}
}

// IsDelete reports whether the update removes the node.
func (u Update) IsDelete() bool {
	return u.Kind() == KindDelete
}

// Reverse swaps before and after, producing the inverse modification.
// Children are inverted too and listed in reverse order.
func (u Update) Reverse() Update {
	r := Update{ID: u.ID, Before: u.After, After: u.Before}
	if len(u.Children) > 0 {
		r.Children = make([]Update, len(u.Children))
		for i, c := range u.Children {
			r.Children[len(u.Children)-1-i] = c.Reverse()
		}
	}
	return r
}

// Equal compares identifiers only.
func (u Update) Equal(other Update) bool {
	return u.ID == other.ID
}

// String renders the update for diagnostics.
func (u Update) String() string {
	return u.Kind().String() + " " + u.ID.String()
}

// typeBucket keeps updates of one unkeyed type in insertion order.
type typeBucket struct {
	typ   Identifier
	items []Update
}

// orderedMultimap groups updates by unkeyed type, preserving the order in
// which types were first seen.
type orderedMultimap struct {
	index   map[Identifier]int
	buckets []typeBucket
}

func (m *orderedMultimap) put(u Update) {
	typ := u.ID.Unkeyed()
	if m.index == nil {
		m.index = make(map[Identifier]int)
	}
	i, ok := m.index[typ]
	if !ok {
		i = len(m.buckets)
		m.index[typ] = i
		m.buckets = append(m.buckets, typeBucket{typ: typ})
	}
	m.buckets[i].items = append(m.buckets[i].items, u)
}

func (m *orderedMultimap) get(typ Identifier) []Update {
	i, ok := m.index[typ.Unkeyed()]
	if !ok {
		return nil
	}
	return append([]Update(nil), m.buckets[i].items...)
}

func (m *orderedMultimap) keys() []Identifier {
	keys := make([]Identifier, len(m.buckets))
	for i, b := range m.buckets {
		keys[i] = b.typ
	}
	return keys
}

func (m *orderedMultimap) size() int {
	n := 0
	for _, b := range m.buckets {
		n += len(b.items)
	}
	return n
}

// Updates is one batch of modifications grouped by unkeyed node type:
// creates and updates in one multimap, deletes in another.
type Updates struct {
	updates orderedMultimap
	deletes orderedMultimap
}

// NewUpdates builds a batch from the given modifications.
func NewUpdates(items ...Update) *Updates {
	u := &Updates{}
	for _, item := range items {
		u.Add(item)
	}
	return u
}

// Add routes an update to the deletes or updates multimap by kind.
func (u *Updates) Add(item Update) *Updates {
	if item.IsDelete() {
		u.deletes.put(item)
	} else {
		u.updates.put(item)
	}
	return u
}

// IsEmpty reports whether the batch carries no modifications.
func (u *Updates) IsEmpty() bool {
	return u.Len() == 0
}

// Len returns the total number of modifications.
func (u *Updates) Len() int {
	return u.updates.size() + u.deletes.size()
}

// UpdateTypes returns the types with creates or updates, in first-seen order.
func (u *Updates) UpdateTypes() []Identifier {
	return u.updates.keys()
}

// DeleteTypes returns the types with deletes, in first-seen order.
func (u *Updates) DeleteTypes() []Identifier {
	return u.deletes.keys()
}

// UpdatesOf returns the creates and updates of one type.
func (u *Updates) UpdatesOf(typ Identifier) []Update {
	return u.updates.get(typ)
}

// DeletesOf returns the deletes of one type.
func (u *Updates) DeletesOf(typ Identifier) []Update {
	return u.deletes.get(typ)
}

// TypeIntersection returns the union of all touched types: update types
// first, then delete types not already listed.
func (u *Updates) TypeIntersection() []Identifier {
	seen := make(map[Identifier]struct{})
	var types []Identifier
	for _, keys := range [][]Identifier{u.updates.keys(), u.deletes.keys()} {
		for _, k := range keys {
			if _, ok := seen[k]; ok {
				continue
			}
			seen[k] = struct{}{}
			types = append(types, k)
		}
	}
	return types
}

// ContainsOnlySingleType reports whether exactly one node type is touched.
func (u *Updates) ContainsOnlySingleType() bool {
	return len(u.TypeIntersection()) == 1
}

// All returns deletes followed by updates, each in insertion order.
func (u *Updates) All() []Update {
	all := make([]Update, 0, u.Len())
	for _, b := range u.deletes.buckets {
		all = append(all, b.items...)
	}
	for _, b := range u.updates.buckets {
		all = append(all, b.items...)
	}
	return all
}
