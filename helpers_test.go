package ferry

import (
	"context"
	"errors"
	"fmt"
	"sync"
)

var errBackend = errors.New("backend rejected")

// callLog records backend calls in order as "<op> <id>".
type callLog struct {
	mu    sync.Mutex
	calls []string
}

func (l *callLog) record(op string, id Identifier) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.calls = append(l.calls, op+" "+id.String())
}

func (l *callLog) all() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]string(nil), l.calls...)
}

// stringCustomizer writes string node values and fails on chosen calls.
type stringCustomizer struct {
	log  *callLog
	fail map[string]error
}

func (c *stringCustomizer) do(op string, id Identifier) error {
	c.log.record(op, id)
	if err, ok := c.fail[op+" "+id.String()]; ok {
		return err
	}
	return nil
}

func (c *stringCustomizer) WriteCurrentAttributes(_ context.Context, id Identifier, _ string, _ *WriteContext) error {
	return c.do("create", id)
}

func (c *stringCustomizer) DeleteCurrentAttributes(_ context.Context, id Identifier, _ string, _ *WriteContext) error {
	return c.do("delete", id)
}

// updatingCustomizer also updates in place.
type updatingCustomizer struct {
	*stringCustomizer
}

func (c updatingCustomizer) UpdateCurrentAttributes(_ context.Context, id Identifier, _, _ string, _ *WriteContext) error {
	return c.do("update", id)
}

// subtreeCustomizer records a root modification followed by each folded
// child modification.
type subtreeCustomizer struct {
	*stringCustomizer
}

func (c subtreeCustomizer) ProcessSubtree(_ context.Context, id Identifier, before, after string, children []Update, _ *WriteContext) error {
	kind := KindUpdate
	switch {
	case before == "":
		kind = KindCreate
	case after == "":
		kind = KindDelete
	}
	if err := c.do(kind.String(), id); err != nil {
		return err
	}
	for _, ch := range children {
		c.log.record(ch.Kind().String(), ch.ID)
	}
	return nil
}

func newSubtreeWriter(typ Identifier, log *callLog, fail map[string]error) *GenericWriter[string] {
	return NewWriter[string](typ, subtreeCustomizer{&stringCustomizer{log: log, fail: fail}})
}

func newStringWriter(typ Identifier, log *callLog, fail map[string]error) *GenericWriter[string] {
	return NewWriter[string](typ, updatingCustomizer{&stringCustomizer{log: log, fail: fail}})
}

func newReplaceWriter(typ Identifier, log *callLog, fail map[string]error) *GenericWriter[string] {
	return NewWriter[string](typ, &stringCustomizer{log: log, fail: fail})
}

func mustUpdate(id Identifier, before, after DataObject) Update {
	u, err := NewUpdate(id, before, after)
	if err != nil {
		panic(err)
	}
	return u
}

func mustRegistry(b *WriterRegistryBuilder) *WriterRegistry {
	r, err := b.Build()
	if err != nil {
		panic(fmt.Sprintf("build registry: %v", err))
	}
	return r
}

func equalStrings(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
