// Package symboltable implements the compiler's two-scope identifier
// table: a persistent class scope and a subroutine scope that is
// cleared at the start of every subroutine.
package symboltable

import (
	"errors"
	"fmt"

	"golang.org/x/exp/slices"
)

// Kind is the storage kind of an identifier.
type Kind int

const (
	NONE Kind = iota
	STATIC
	FIELD
	ARG
	VAR
)

func (k Kind) String() string {
	switch k {
	case STATIC:
		return "static"
	case FIELD:
		return "field"
	case ARG:
		return "argument"
	case VAR:
		return "var"
	default:
		return "none"
	}
}

var classScopeKinds = []Kind{STATIC, FIELD}
var subroutineScopeKinds = []Kind{ARG, VAR}

// ErrRedefined is returned by Define when name already has an entry
// of the same kind in the target scope.
var ErrRedefined = errors.New("redefinition of identifier in same scope")

// ErrUnknownIdentifier is returned by TypeOf when name has no entry
// in any visible scope.
var ErrUnknownIdentifier = errors.New("identifier not defined")

type entry struct {
	kind  Kind
	typ   string
	index int
}

// Table is the two-scope symbol table: a class scope that lives for
// the whole class and a subroutine scope that is wiped at the start
// of every subroutine.
type Table struct {
	class      map[string]entry
	subroutine map[string]entry
	classCount map[Kind]int
	subCount   map[Kind]int
	inSub      bool
}

// New returns an empty table with class scope active.
func New() *Table {
	return &Table{
		class:      make(map[string]entry),
		subroutine: make(map[string]entry),
		classCount: make(map[Kind]int),
		subCount:   make(map[Kind]int),
	}
}

// StartSubroutine clears the subroutine scope and its counters and
// makes it the active scope for lookups. Class scope remains visible
// beneath it.
func (t *Table) StartSubroutine() {
	t.subroutine = make(map[string]entry)
	t.subCount = make(map[Kind]int)
	t.inSub = true
}

// Define inserts (kind, type, nextIndex) into the scope implied by
// kind. It fails only if name already has an entry of the same kind
// in that scope; a different kind silently replaces the old entry
// (e.g. a local var may shadow an argument of the same name), and the
// replaced entry no longer counts toward its kind's VarCount.
func (t *Table) Define(name, typ string, kind Kind) error {
	if slices.Contains(classScopeKinds, kind) {
		if e, ok := t.class[name]; ok {
			if e.kind == kind {
				return fmt.Errorf("%w: %q", ErrRedefined, name)
			}
			t.classCount[e.kind]--
		}
		idx := t.classCount[kind]
		t.class[name] = entry{kind: kind, typ: typ, index: idx}
		t.classCount[kind] = idx + 1
		return nil
	}

	if slices.Contains(subroutineScopeKinds, kind) {
		if e, ok := t.subroutine[name]; ok {
			if e.kind == kind {
				return fmt.Errorf("%w: %q", ErrRedefined, name)
			}
			t.subCount[e.kind]--
		}
		idx := t.subCount[kind]
		t.subroutine[name] = entry{kind: kind, typ: typ, index: idx}
		t.subCount[kind] = idx + 1
		return nil
	}

	return fmt.Errorf("cannot define identifier %q with kind %v", name, kind)
}

// VarCount returns how many identifiers of kind are defined in the
// scope kind belongs to.
func (t *Table) VarCount(kind Kind) int {
	if slices.Contains(classScopeKinds, kind) {
		return t.classCount[kind]
	}
	return t.subCount[kind]
}

func (t *Table) lookup(name string) (entry, bool) {
	if t.inSub {
		if e, ok := t.subroutine[name]; ok {
			return e, true
		}
	}
	if e, ok := t.class[name]; ok {
		return e, true
	}
	return entry{}, false
}

// KindOf returns the defining kind, consulting subroutine scope
// before class scope. Returns NONE if name is not defined anywhere
// visible.
func (t *Table) KindOf(name string) Kind {
	e, ok := t.lookup(name)
	if !ok {
		return NONE
	}
	return e.kind
}

// TypeOf returns the declared type of name. Only safe to call once
// KindOf(name) != NONE; otherwise it fails.
func (t *Table) TypeOf(name string) (string, error) {
	e, ok := t.lookup(name)
	if !ok {
		return "", fmt.Errorf("%w: %q", ErrUnknownIdentifier, name)
	}
	return e.typ, nil
}

// IndexOf returns the running index assigned to name, or -1 if name
// is not defined anywhere visible.
func (t *Table) IndexOf(name string) int {
	e, ok := t.lookup(name)
	if !ok {
		return -1
	}
	return e.index
}
