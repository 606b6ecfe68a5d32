package ferry

import "context"

// Snapshot is a fixed, read-only view of the configuration tree.
type Snapshot interface {
	Read(ctx context.Context, id Identifier) (DataObject, bool, error)
}

// EmptySnapshot holds no nodes.
var EmptySnapshot Snapshot = NewMemorySnapshot(nil)

// MemorySnapshot is an immutable map-backed Snapshot. Iteration order of
// Entries follows insertion order.
type MemorySnapshot struct {
	index   map[Identifier]int
	entries []Entry
}

// Entry is one node of a snapshot.
type Entry struct {
	ID   Identifier
	Data DataObject
}

// NewMemorySnapshot builds a snapshot from entries. Later entries for the
// same identifier replace earlier ones in place.
func NewMemorySnapshot(entries []Entry) *MemorySnapshot {
	s := &MemorySnapshot{index: make(map[Identifier]int, len(entries))}
	for _, e := range entries {
		if i, ok := s.index[e.ID]; ok {
			s.entries[i] = e
			continue
		}
		s.index[e.ID] = len(s.entries)
		s.entries = append(s.entries, e)
	}
	return s
}

// Read returns the node at id.
func (s *MemorySnapshot) Read(_ context.Context, id Identifier) (DataObject, bool, error) {
	i, ok := s.index[id]
	if !ok {
		return nil, false, nil
	}
	return s.entries[i].Data, true, nil
}

// Entries returns a copy of the snapshot contents in insertion order.
func (s *MemorySnapshot) Entries() []Entry {
	return append([]Entry(nil), s.entries...)
}

// Len returns the number of nodes.
func (s *MemorySnapshot) Len() int {
	return len(s.entries)
}

// With returns a new snapshot with entries applied on top of s.
func (s *MemorySnapshot) With(entries ...Entry) *MemorySnapshot {
	return NewMemorySnapshot(append(s.Entries(), entries...))
}

// Apply returns a new snapshot with the batch applied: deletes remove
// nodes, creates and updates set them.
func (s *MemorySnapshot) Apply(updates *Updates) *MemorySnapshot {
	removed := make(map[Identifier]struct{})
	var set []Entry
	for _, u := range updates.All() {
		if u.IsDelete() {
			removed[u.ID] = struct{}{}
			continue
		}
		delete(removed, u.ID)
		set = append(set, Entry{ID: u.ID, Data: u.After})
	}
	kept := make([]Entry, 0, len(s.entries)+len(set))
	for _, e := range s.entries {
		if _, ok := removed[e.ID]; ok {
			continue
		}
		kept = append(kept, e)
	}
	return NewMemorySnapshot(append(kept, set...))
}
