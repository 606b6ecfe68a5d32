package ferry

import (
	"errors"
	"fmt"
	"strings"
)

// ErrInvalidIdentifier is returned when an identifier string cannot be parsed.
var ErrInvalidIdentifier = errors.New("ferry: invalid identifier")

// Step is a single element of an Identifier path.
//
// A step with an empty Key is either a container or, for list types,
// a wildcard matching every instance of that type.
type Step struct {
	Type string
	Key  string
}

// Keyed reports whether the step addresses a single list entry.
func (s Step) Keyed() bool {
	return s.Key != ""
}

// String renders the step in identifier text form. Separators inside the
// type or key are escaped.
func (s Step) String() string {
	if s.Key == "" {
		return escapeKey(s.Type)
	}
	return escapeKey(s.Type) + "[" + escapeKey(s.Key) + "]"
}

// Identifier addresses a node, or a wildcarded set of nodes, in the
// configuration tree. Identifiers are immutable values and comparable with ==.
//
// The zero Identifier is the tree root. Builders never fail; an identifier
// built with an empty type name is reported by Validate, and registries
// reject it.
type Identifier struct {
	path string
}

// Root returns a single-step identifier for a top-level node type.
func Root(typ string) Identifier {
	return Identifier{}.Child(typ)
}

// RootKeyed returns a single-step identifier for a keyed top-level list entry.
func RootKeyed(typ, key string) Identifier {
	return Identifier{}.ChildKeyed(typ, key)
}

// NewIdentifier builds an identifier from steps.
func NewIdentifier(steps ...Step) Identifier {
	var b strings.Builder
	for _, s := range steps {
		b.WriteByte('/')
		b.WriteString(s.String())
	}
	return Identifier{path: b.String()}
}

// ParseIdentifier parses the text form produced by Identifier.String.
func ParseIdentifier(s string) (Identifier, error) {
	if s == "" || s == "/" {
		return Identifier{}, nil
	}
	if s[0] != '/' {
		return Identifier{}, fmt.Errorf("%w: %q must start with '/'", ErrInvalidIdentifier, s)
	}
	steps, err := splitSteps(s, true)
	if err != nil {
		return Identifier{}, fmt.Errorf("%w: %q: %v", ErrInvalidIdentifier, s, err)
	}
	return NewIdentifier(steps...), nil
}

// MustParseIdentifier is like ParseIdentifier but panics on error.
func MustParseIdentifier(s string) Identifier {
	id, err := ParseIdentifier(s)
	if err != nil {
		panic(err)
	}
	return id
}

// Child appends an unkeyed step.
func (id Identifier) Child(typ string) Identifier {
	return Identifier{path: id.path + "/" + escapeKey(typ)}
}

// ChildKeyed appends a keyed list step.
func (id Identifier) ChildKeyed(typ, key string) Identifier {
	return Identifier{path: id.path + "/" + Step{Type: typ, Key: key}.String()}
}

// IsRoot reports whether id is the empty tree root.
func (id Identifier) IsRoot() bool {
	return id.path == ""
}

// Validate reports an identifier holding an empty type name.
func (id Identifier) Validate() error {
	for _, s := range id.Steps() {
		if s.Type == "" {
			return fmt.Errorf("%w: %q has an empty type", ErrInvalidIdentifier, id.path)
		}
	}
	return nil
}

// Steps returns a copy of the path steps.
func (id Identifier) Steps() []Step {
	if id.path == "" {
		return nil
	}
	// builders escape every step, so only empty types can be malformed and
	// the lenient parse accepts those
	steps, _ := splitSteps(id.path, false)
	return steps
}

// Len returns the number of steps.
func (id Identifier) Len() int {
	return len(id.Steps())
}

// Last returns the final step. The root has an empty last step.
func (id Identifier) Last() Step {
	steps := id.Steps()
	if len(steps) == 0 {
		return Step{}
	}
	return steps[len(steps)-1]
}

// Parent drops the final step.
func (id Identifier) Parent() Identifier {
	steps := id.Steps()
	if len(steps) == 0 {
		return id
	}
	return NewIdentifier(steps[:len(steps)-1]...)
}

// Unkeyed strips all keys. The result identifies the node type.
func (id Identifier) Unkeyed() Identifier {
	if !strings.ContainsRune(id.path, '[') {
		return id
	}
	steps := id.Steps()
	for i := range steps {
		steps[i].Key = ""
	}
	return NewIdentifier(steps...)
}

// IsUnkeyed reports whether no step carries a key.
func (id Identifier) IsUnkeyed() bool {
	return id.Unkeyed() == id
}

// WithLastKey replaces the key of the final step.
func (id Identifier) WithLastKey(key string) Identifier {
	steps := id.Steps()
	if len(steps) == 0 {
		return id
	}
	steps[len(steps)-1].Key = key
	return NewIdentifier(steps...)
}

// Matches reports whether id matches pattern step by step. A pattern step
// without a key matches any key of the same type.
func (id Identifier) Matches(pattern Identifier) bool {
	a, b := id.Steps(), pattern.Steps()
	if len(a) != len(b) {
		return false
	}
	return stepsMatch(a, b)
}

// Contains reports whether other lies at or beneath id, using the same
// wildcard rule as Matches for id's steps.
func (id Identifier) Contains(other Identifier) bool {
	a, b := id.Steps(), other.Steps()
	if len(a) > len(b) {
		return false
	}
	return stepsMatch(b[:len(a)], a)
}

// FirstIdentifierOf truncates id after the first step whose unkeyed prefix
// equals typ. It returns false when id does not pass through typ.
func (id Identifier) FirstIdentifierOf(typ Identifier) (Identifier, bool) {
	steps := id.Steps()
	want := typ.Unkeyed().Steps()
	if len(want) == 0 || len(want) > len(steps) {
		return Identifier{}, false
	}
	for i, s := range want {
		if steps[i].Type != s.Type {
			return Identifier{}, false
		}
	}
	return NewIdentifier(steps[:len(want)]...), true
}

// FirstKeyOf returns the key carried by the step of type typ.
func (id Identifier) FirstKeyOf(typ Identifier) (string, bool) {
	sub, ok := id.FirstIdentifierOf(typ)
	if !ok {
		return "", false
	}
	last := sub.Last()
	return last.Key, last.Keyed()
}

// String renders the identifier as "/type/list[key]/child".
func (id Identifier) String() string {
	if id.path == "" {
		return "/"
	}
	return id.path
}

// MarshalText implements encoding.TextMarshaler.
func (id Identifier) MarshalText() ([]byte, error) {
	return []byte(id.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (id *Identifier) UnmarshalText(text []byte) error {
	parsed, err := ParseIdentifier(string(text))
	if err != nil {
		return err
	}
	*id = parsed
	return nil
}

func stepsMatch(concrete, pattern []Step) bool {
	for i := range pattern {
		if concrete[i].Type != pattern[i].Type {
			return false
		}
		if pattern[i].Keyed() && concrete[i].Key != pattern[i].Key {
			return false
		}
	}
	return true
}

var keyEscaper = strings.NewReplacer(`\`, `\\`, `/`, `\/`, `[`, `\[`, `]`, `\]`)

func escapeKey(key string) string {
	return keyEscaper.Replace(key)
}

// splitSteps parses "/a/b[k]/c" honoring backslash escapes. Empty type
// names are an error only when strict is set.
func splitSteps(path string, strict bool) ([]Step, error) {
	var (
		steps []Step
		cur   Step
		buf   strings.Builder
		inKey bool
	)
	flush := func() error {
		if inKey {
			return errors.New("unterminated key")
		}
		if cur.Type == "" {
			cur.Type = buf.String()
		}
		if cur.Type == "" && strict {
			return errors.New("empty step")
		}
		steps = append(steps, cur)
		cur = Step{}
		buf.Reset()
		return nil
	}

	for i := 1; i < len(path); i++ {
		c := path[i]
		switch {
		case c == '\\':
			if i+1 >= len(path) {
				return nil, errors.New("dangling escape")
			}
			i++
			buf.WriteByte(path[i])
		case inKey && c == ']':
			cur.Key = buf.String()
			if cur.Key == "" {
				return nil, errors.New("empty key")
			}
			buf.Reset()
			inKey = false
			if i+1 < len(path) && path[i+1] != '/' {
				return nil, errors.New("unexpected text after key")
			}
		case inKey:
			buf.WriteByte(c)
		case c == '[':
			cur.Type = buf.String()
			buf.Reset()
			inKey = true
		case c == '/':
			if err := flush(); err != nil {
				return nil, err
			}
		default:
			buf.WriteByte(c)
		}
	}
	if err := flush(); err != nil {
		return nil, err
	}
	return steps, nil
}
