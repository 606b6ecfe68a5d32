package ferry

import "reflect"

// Diff returns the modifications turning before into after: deletes for
// nodes only in before, in before's order, then creates and updates in
// after's order. Nodes whose values are deeply equal are skipped.
func Diff(before, after *MemorySnapshot) *Updates {
	if before == nil {
		before = NewMemorySnapshot(nil)
	}
	if after == nil {
		after = NewMemorySnapshot(nil)
	}
	updates := NewUpdates()
	for _, e := range before.entries {
		if _, ok := after.index[e.ID]; !ok {
			updates.Add(Update{ID: e.ID, Before: e.Data})
		}
	}
	addChanges(updates, before, after)
	return updates
}

// Overlay returns the creates and updates needed to lay overlay on top of
// base. Nodes absent from overlay are left alone.
func Overlay(base, overlay *MemorySnapshot) *Updates {
	if base == nil {
		base = NewMemorySnapshot(nil)
	}
	updates := NewUpdates()
	if overlay != nil {
		addChanges(updates, base, overlay)
	}
	return updates
}

func addChanges(updates *Updates, before, after *MemorySnapshot) {
	for _, e := range after.entries {
		if e.Data == nil {
			continue
		}
		i, ok := before.index[e.ID]
		if !ok {
			updates.Add(Update{ID: e.ID, After: e.Data})
			continue
		}
		prev := before.entries[i].Data
		if reflect.DeepEqual(prev, e.Data) {
			continue
		}
		updates.Add(Update{ID: e.ID, Before: prev, After: e.Data})
	}
}
