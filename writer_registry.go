package ferry

import (
	"context"
	"errors"
	"fmt"

	"github.com/zoobzio/capitan"
)

type writerEntry struct {
	writer  Writer
	root    Identifier
	handled []Identifier
	subtree bool
	index   int
	pos     int
}

// constraint requires first to be applied before then.
type constraint struct {
	first Identifier
	then  Identifier
}

// WriterRegistryBuilder collects writers and ordering constraints and
// freezes them into an immutable WriterRegistry.
//
// Registration errors are deferred and reported by Build.
type WriterRegistryBuilder struct {
	entries     []*writerEntry
	byType      map[Identifier]*writerEntry
	constraints []constraint
	errs        []error
	built       bool
}

// NewWriterRegistryBuilder returns an empty builder.
func NewWriterRegistryBuilder() *WriterRegistryBuilder {
	return &WriterRegistryBuilder{byType: make(map[Identifier]*writerEntry)}
}

// Add registers a writer. A *SubtreeWriter registers all of its handled types.
func (b *WriterRegistryBuilder) Add(w Writer) *WriterRegistryBuilder {
	b.register(w)
	return b
}

// AddSubtree registers w as owner of its type and the given child types.
func (b *WriterRegistryBuilder) AddSubtree(w Writer, children ...Identifier) *WriterRegistryBuilder {
	s, err := NewSubtreeWriter(w, children...)
	if err != nil {
		b.errs = append(b.errs, err)
		return b
	}
	b.register(s)
	return b
}

// AddBefore registers w and requires it to be applied before each of the
// related types. Deletes run in the opposite order.
func (b *WriterRegistryBuilder) AddBefore(w Writer, related ...Identifier) *WriterRegistryBuilder {
	if !b.register(w) {
		return b
	}
	for _, r := range related {
		b.constraints = append(b.constraints, constraint{first: w.ManagedType(), then: r.Unkeyed()})
	}
	return b
}

// AddAfter registers w and requires it to be applied after each of the
// related types. Deletes run in the opposite order.
func (b *WriterRegistryBuilder) AddAfter(w Writer, related ...Identifier) *WriterRegistryBuilder {
	if !b.register(w) {
		return b
	}
	for _, r := range related {
		b.constraints = append(b.constraints, constraint{first: r.Unkeyed(), then: w.ManagedType()})
	}
	return b
}

func (b *WriterRegistryBuilder) register(w Writer) bool {
	if b.built {
		b.errs = append(b.errs, ErrRegistryFrozen)
		return false
	}
	e := &writerEntry{
		writer:  w,
		root:    w.ManagedType().Unkeyed(),
		index:   len(b.entries),
		handled: []Identifier{w.ManagedType().Unkeyed()},
	}
	if s, ok := w.(*SubtreeWriter); ok {
		e.subtree = true
		e.handled = s.HandledTypes()
	}
	for _, t := range e.handled {
		if err := t.Validate(); err != nil {
			b.errs = append(b.errs, err)
			return false
		}
	}
	for _, t := range e.handled {
		if _, dup := b.byType[t]; dup {
			b.errs = append(b.errs, fmt.Errorf("%w: %s", ErrDuplicateWriter, t))
			return false
		}
	}
	for _, t := range e.handled {
		b.byType[t] = e
	}
	b.entries = append(b.entries, e)
	return true
}

// Build freezes the builder. The builder cannot be used afterwards.
func (b *WriterRegistryBuilder) Build() (*WriterRegistry, error) {
	if b.built {
		return nil, ErrRegistryFrozen
	}
	b.built = true
	if len(b.errs) > 0 {
		return nil, errors.Join(b.errs...)
	}

	n := len(b.entries)
	edges := make([][]bool, n)
	for i := range edges {
		edges[i] = make([]bool, n)
	}
	for _, c := range b.constraints {
		first, ok := b.byType[c.first]
		if !ok {
			return nil, fmt.Errorf("%w: %s", ErrUnknownType, c.first)
		}
		then, ok := b.byType[c.then]
		if !ok {
			return nil, fmt.Errorf("%w: %s", ErrUnknownType, c.then)
		}
		if first != then {
			edges[first.index][then.index] = true
		}
	}
	// containers precede their descendants
	for _, a := range b.entries {
		for _, d := range b.entries {
			if a != d && a.root != d.root && a.root.Contains(d.root) {
				edges[a.index][d.index] = true
			}
		}
	}

	order, err := topologicalOrder(edges)
	if err != nil {
		return nil, err
	}

	r := &WriterRegistry{
		order:  make([]*writerEntry, n),
		byType: make(map[Identifier]*writerEntry, len(b.byType)),
		reach:  transitiveClosure(edges),
	}
	for pos, idx := range order {
		e := b.entries[idx]
		e.pos = pos
		r.order[pos] = e
	}
	for t, e := range b.byType {
		r.byType[t] = e
	}
	return r, nil
}

// transitiveClosure reports, for every pair of registration indexes,
// whether the first must be applied before the second.
func transitiveClosure(edges [][]bool) [][]bool {
	n := len(edges)
	reach := make([][]bool, n)
	for i := range edges {
		reach[i] = append([]bool(nil), edges[i]...)
	}
	for k := 0; k < n; k++ {
		for i := 0; i < n; i++ {
			if !reach[i][k] {
				continue
			}
			for j := 0; j < n; j++ {
				if reach[k][j] {
					reach[i][j] = true
				}
			}
		}
	}
	return reach
}

// topologicalOrder runs Kahn's algorithm, always picking the ready vertex
// with the lowest registration index.
func topologicalOrder(edges [][]bool) ([]int, error) {
	n := len(edges)
	indegree := make([]int, n)
	for i := range edges {
		for j, ok := range edges[i] {
			if ok {
				indegree[j]++
			}
		}
	}
	done := make([]bool, n)
	order := make([]int, 0, n)
	for len(order) < n {
		next := -1
		for i := 0; i < n; i++ {
			if !done[i] && indegree[i] == 0 {
				next = i
				break
			}
		}
		if next < 0 {
			return nil, ErrOrderingCycle
		}
		done[next] = true
		order = append(order, next)
		for j, ok := range edges[next] {
			if ok {
				indegree[j]--
			}
		}
	}
	return order, nil
}

// WriterRegistry applies batches of modifications through registered
// writers. It is immutable and safe for concurrent use; each batch must use
// its own WriteContext.
type WriterRegistry struct {
	order  []*writerEntry
	byType map[Identifier]*writerEntry
	reach  [][]bool
}

// precedes reports whether a must be applied before b.
func (r *WriterRegistry) precedes(a, b *writerEntry) bool {
	return r.reach[a.index][b.index]
}

// Writers returns the registered writers in application order.
func (r *WriterRegistry) Writers() []Writer {
	ws := make([]Writer, len(r.order))
	for i, e := range r.order {
		ws[i] = e.writer
	}
	return ws
}

// WriterFor returns the writer owning id.
func (r *WriterRegistry) WriterFor(id Identifier) (Writer, bool) {
	e, ok := r.lookup(id)
	if !ok {
		return nil, false
	}
	return e.writer, true
}

func (r *WriterRegistry) lookup(id Identifier) (*writerEntry, bool) {
	if e, ok := r.byType[id.Unkeyed()]; ok {
		return e, true
	}
	for _, e := range r.order {
		if e.writer.CanProcess(id) {
			return e, true
		}
	}
	return nil, false
}

// step is one planned writer invocation.
type step struct {
	entry  *writerEntry
	update Update
}

// entryBatch accumulates the modifications routed to one writer.
type entryBatch struct {
	deletes []Update
	updates []Update
}

// plan resolves owners, folds subtree children into root modifications and
// orders the batch. When split is set, updates for writers without direct
// update support become a delete plus a create; subtree writers are never
// split.
func (r *WriterRegistry) plan(ctx context.Context, updates *Updates, wc *WriteContext, split bool) ([]step, error) {
	owners := make(map[Identifier]*writerEntry)
	for _, typ := range updates.TypeIntersection() {
		items := append(updates.DeletesOf(typ), updates.UpdatesOf(typ)...)
		e, ok := r.lookup(items[0].ID)
		if !ok {
			return nil, fmt.Errorf("%w: %s", ErrMissingWriter, typ)
		}
		owners[typ] = e
	}

	batches := make(map[*writerEntry]*entryBatch)
	batchOf := func(e *writerEntry) *entryBatch {
		eb, ok := batches[e]
		if !ok {
			eb = &entryBatch{}
			batches[e] = eb
		}
		return eb
	}
	route := func(e *writerEntry, u Update) {
		eb := batchOf(e)
		switch {
		case u.IsDelete():
			eb.deletes = append(eb.deletes, u)
		case split && !e.subtree && u.Kind() == KindUpdate && !e.writer.SupportsDirectUpdate():
			eb.deletes = append(eb.deletes, Update{ID: u.ID, Before: u.Before})
			eb.updates = append(eb.updates, Update{ID: u.ID, After: u.After})
		default:
			eb.updates = append(eb.updates, u)
		}
	}

	all := updates.All()
	// child modifications of subtree writers, grouped by root instance
	children := make(map[Identifier][]Update)
	direct := make(map[Identifier]struct{})
	for _, u := range all {
		e := owners[u.ID.Unkeyed()]
		if !e.subtree {
			continue
		}
		if u.ID.Unkeyed() == e.root {
			direct[u.ID] = struct{}{}
			continue
		}
		if rootID, ok := u.ID.FirstIdentifierOf(e.root); ok {
			children[rootID] = append(children[rootID], u)
		}
	}
	folded := make(map[Identifier]struct{})
	for _, u := range all {
		e := owners[u.ID.Unkeyed()]
		if !e.subtree {
			route(e, u)
			continue
		}
		if u.ID.Unkeyed() == e.root {
			u.Children = children[u.ID]
			route(e, u)
			continue
		}
		rootID, ok := u.ID.FirstIdentifierOf(e.root)
		if !ok {
			route(e, u)
			continue
		}
		if _, ok := direct[rootID]; ok {
			continue
		}
		if _, seen := folded[rootID]; seen {
			continue
		}
		folded[rootID] = struct{}{}
		root, err := foldSubtree(ctx, rootID, wc)
		if err != nil {
			return nil, err
		}
		root.Children = children[rootID]
		route(e, root)
	}

	var steps []step
	if updates.ContainsOnlySingleType() {
		e := owners[updates.TypeIntersection()[0]]
		eb := batchOf(e)
		for _, u := range eb.deletes {
			steps = append(steps, step{entry: e, update: u})
		}
		for _, u := range eb.updates {
			steps = append(steps, step{entry: e, update: u})
		}
		return steps, nil
	}

	var phases []*phase
	for _, e := range r.order {
		eb, ok := batches[e]
		if !ok {
			continue
		}
		if len(eb.deletes) > 0 {
			phases = append(phases, &phase{entry: e, delete: true, items: eb.deletes})
		}
		if len(eb.updates) > 0 {
			phases = append(phases, &phase{entry: e, items: eb.updates})
		}
	}
	for _, p := range r.orderPhases(phases) {
		for _, u := range p.items {
			steps = append(steps, step{entry: p.entry, update: u})
		}
	}
	return steps, nil
}

// phase is the deletes or the creates and updates routed to one writer.
type phase struct {
	entry  *writerEntry
	delete bool
	items  []Update
}

// mustPrecede reports whether phase a has to run before phase b: updates
// follow the writer order, deletes run against it, and a writer's deletes
// come before its own creates and updates.
func (r *WriterRegistry) mustPrecede(a, b *phase) bool {
	switch {
	case a.entry == b.entry:
		return a.delete && !b.delete
	case a.delete && b.delete:
		return r.precedes(b.entry, a.entry)
	case !a.delete && !b.delete:
		return r.precedes(a.entry, b.entry)
	default:
		return false
	}
}

// orderPhases sorts phases topologically, preferring the ready phase whose
// writer comes first in writer order, deletes before updates.
func (r *WriterRegistry) orderPhases(phases []*phase) []*phase {
	n := len(phases)
	edges := make([][]bool, n)
	for i := range phases {
		edges[i] = make([]bool, n)
		for j := range phases {
			if i != j && r.mustPrecede(phases[i], phases[j]) {
				edges[i][j] = true
			}
		}
	}
	// phases are already in (writer position, delete first) order, so the
	// lowest ready index is the preferred one
	order, err := topologicalOrder(edges)
	if err != nil {
		return phases
	}
	sorted := make([]*phase, n)
	for i, idx := range order {
		sorted[i] = phases[idx]
	}
	return sorted
}

// foldSubtree builds the root-level modification covering changed
// children. A root present in neither snapshot cannot carry them.
func foldSubtree(ctx context.Context, rootID Identifier, wc *WriteContext) (Update, error) {
	before, _, err := wc.ReadBefore(ctx, rootID)
	if err != nil {
		return Update{}, &ReadFailedError{ID: rootID, Err: err}
	}
	after, _, err := wc.ReadAfter(ctx, rootID)
	if err != nil {
		return Update{}, &ReadFailedError{ID: rootID, Err: err}
	}
	if before == nil && after == nil {
		return Update{}, &ReadFailedError{ID: rootID, Err: ErrMissingSubtreeRoot}
	}
	return Update{ID: rootID, Before: before, After: after}, nil
}

// apply dispatches one step. Subtree writers receive every modification
// through ProcessSubtree, with folded children attached.
func (e *writerEntry) apply(ctx context.Context, u Update, wc *WriteContext) error {
	if e.subtree {
		if p, ok := e.writer.(SubtreeProcessor); ok {
			return p.ProcessSubtree(ctx, u, wc)
		}
	}
	return e.writer.Process(ctx, u.ID, u.Before, u.After, wc)
}

// ValidateModifications runs every owning writer's Validate. It has no side
// effects and reports all failures joined.
func (r *WriterRegistry) ValidateModifications(ctx context.Context, updates *Updates, wc *WriteContext) error {
	if updates.IsEmpty() {
		return nil
	}
	steps, err := r.plan(ctx, updates, wc, false)
	if err != nil {
		return err
	}
	var errs []error
	for _, s := range steps {
		u := s.update
		if err := s.entry.writer.Validate(ctx, u.ID, u.Before, u.After, wc); err != nil {
			var ve *ValidationError
			if !errors.As(err, &ve) {
				err = &ValidationError{ID: u.ID, Before: u.Before, After: u.After, Err: err}
			}
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// ProcessModifications applies a batch in the registry's order.
//
// Every touched type must have an owning writer; otherwise ErrMissingWriter
// is returned before any writer runs. Processing stops at the first failure
// and returns a *BulkUpdateError whose Reverter can undo the applied part.
func (r *WriterRegistry) ProcessModifications(ctx context.Context, updates *Updates, wc *WriteContext) error {
	if updates.IsEmpty() {
		return nil
	}
	steps, err := r.plan(ctx, updates, wc, true)
	if err != nil {
		return err
	}

	processed := make([]Update, 0, len(steps))
	for i, s := range steps {
		u := s.update
		if err := s.entry.apply(ctx, u, wc); err != nil {
			var wf *WriteFailedError
			if !errors.As(err, &wf) {
				err = NewWriteFailedError(u, err)
			}
			unattempted := make([]Update, 0, len(steps)-i-1)
			for _, rest := range steps[i+1:] {
				unattempted = append(unattempted, rest.update)
			}
			capitan.Emit(ctx, BulkUpdateFailed,
				KeyIdentifier.Field(u.ID.String()),
				KeyKind.Field(u.Kind().String()),
				KeyProcessed.Field(len(processed)),
				KeyUnattempted.Field(len(unattempted)),
				KeyError.Field(err.Error()),
			)
			return &BulkUpdateError{
				Failed:      u,
				Processed:   processed,
				Unattempted: unattempted,
				Reverter:    &Reverter{registry: r, processed: append([]Update(nil), processed...)},
				Err:         err,
			}
		}
		processed = append(processed, u)
	}
	return nil
}
