package ferry

import (
	"fmt"
	"sync"
	"time"
)

// Failure is one document a Feed could not commit.
type Failure struct {
	Stage string // decode, validate, process or revert
	At    time.Time
	Err   error
}

func (f Failure) Error() string {
	return fmt.Sprintf("%s: %v", f.Stage, f.Err)
}

func (f Failure) Unwrap() error { return f.Err }

// failureLog keeps the most recent failures of a Feed, oldest first. A nil
// log records nothing.
type failureLog struct {
	mu      sync.Mutex
	limit   int
	entries []Failure
}

func newFailureLog(limit int) *failureLog {
	if limit <= 0 {
		return nil
	}
	return &failureLog{limit: limit, entries: make([]Failure, 0, limit)}
}

// record appends f, dropping the oldest entry once the limit is reached.
func (l *failureLog) record(f Failure) {
	if l == nil {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if len(l.entries) == l.limit {
		copy(l.entries, l.entries[1:])
		l.entries = l.entries[:l.limit-1]
	}
	l.entries = append(l.entries, f)
}

// reset forgets every failure, as after a successful commit.
func (l *failureLog) reset() {
	if l == nil {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	clear(l.entries)
	l.entries = l.entries[:0]
}

func (l *failureLog) list() []Failure {
	if l == nil {
		return nil
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if len(l.entries) == 0 {
		return nil
	}
	return append([]Failure(nil), l.entries...)
}
