package engine

import (
	"errors"
	"fmt"
)

// CompileError is the diagnostic returned for every syntactic,
// semantic or lexical violation: "Error on line <N>: <reason>",
// first-error-wins, no recovery.
type CompileError struct {
	Line   int
	Reason string
	cause  error
}

func (e *CompileError) Error() string {
	return fmt.Sprintf("Error on line %d: %s", e.Line, e.Reason)
}

func (e *CompileError) Unwrap() error {
	return e.cause
}

var (
	// ErrClassNameTaken flags the class identifier itself already
	// having an entry in the (fresh) symbol table, as distinct from a
	// member redefinition.
	ErrClassNameTaken = errors.New("class name already used")
	// ErrRedefinition flags a member (class var, parameter or local)
	// whose name is already defined with the same kind in its scope.
	ErrRedefinition = errors.New("redefinition of identifier in same scope")
	// ErrUnknownIdentifier flags use of a variable name with no
	// visible definition.
	ErrUnknownIdentifier = errors.New("use of undefined identifier")
	// ErrTrailingTokens flags tokens found after the closing '}' of
	// the class body.
	ErrTrailingTokens = errors.New("trailing tokens after class end")
	// ErrSubroutineNameTaken flags a subroutine declared with the same
	// name as an already-defined static or field variable.
	ErrSubroutineNameTaken = errors.New("subroutine name already used by a variable")
	// ErrNotASubroutine flags an identifier used as a call target
	// (bare or after '.') that already resolves to a variable.
	ErrNotASubroutine = errors.New("identifier is a variable, not a subroutine")
)
