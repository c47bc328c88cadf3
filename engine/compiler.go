// Package engine implements the recursive-descent CompilationEngine:
// it drives the tokenizer, resolves names through the symbol table
// and emits VM instructions inline, in one top-down pass per class.
package engine

import (
	"fmt"

	"golang.org/x/exp/slices"

	"github.com/jackvm/compiler/logger"
	"github.com/jackvm/compiler/symboltable"
	"github.com/jackvm/compiler/tokenizer"
	"github.com/jackvm/compiler/vm"
)

// Engine compiles a single Jack class into VM instructions.
type Engine struct {
	tk  *tokenizer.Tokenizer
	st  *symboltable.Table
	vmw *vm.Writer

	className      string
	subroutineName string
	subroutineKind tokenizer.Keyword

	ifCounter    int
	whileCounter int
}

// New wires an engine over an already-primed tokenizer and a VM
// writer. The symbol table is created fresh, per class.
func New(tk *tokenizer.Tokenizer, vmw *vm.Writer) *Engine {
	return &Engine{tk: tk, st: symboltable.New(), vmw: vmw}
}

// Compile drives tokenization and code generation for the class read
// by tk, writing VM text through vmw. It advances tk onto the first
// token before parsing. It owns neither tokenizer nor writer.
func Compile(tk *tokenizer.Tokenizer, vmw *vm.Writer) error {
	e := New(tk, vmw)
	if err := e.advance(); err != nil {
		return err
	}
	return e.Class()
}

func (e *Engine) errf(format string, args ...any) error {
	return &CompileError{Line: e.tk.CurrentLine(), Reason: fmt.Sprintf(format, args...)}
}

func (e *Engine) wrap(cause error, format string, args ...any) error {
	return &CompileError{Line: e.tk.CurrentLine(), Reason: fmt.Sprintf(format, args...), cause: cause}
}

func describeCurrent(tk *tokenizer.Tokenizer) string {
	if !tk.HasMoreTokens() && tk.Current().Kind == "" {
		return "end of input"
	}
	return tk.Current().String()
}

var opKeywordConstants = []tokenizer.Keyword{tokenizer.TRUE, tokenizer.FALSE, tokenizer.NULL, tokenizer.THIS}
var typeKeywords = []tokenizer.Keyword{tokenizer.INT, tokenizer.CHAR, tokenizer.BOOLEAN}
var classVarKinds = []tokenizer.Keyword{tokenizer.STATIC, tokenizer.FIELD}
var subroutineKinds = []tokenizer.Keyword{tokenizer.CONSTRUCTOR, tokenizer.FUNCTION, tokenizer.METHOD}
var statementKeywords = []tokenizer.Keyword{tokenizer.LET, tokenizer.IF, tokenizer.WHILE, tokenizer.DO, tokenizer.RETURN}

var opSymbols = map[byte]vm.Op{
	'+': vm.Add,
	'-': vm.Sub,
	'&': vm.And,
	'|': vm.Or,
	'<': vm.Lt,
	'>': vm.Gt,
	'=': vm.Eq,
}

func (e *Engine) isKeyword(kws ...tokenizer.Keyword) bool {
	return e.tk.TokenKind() == tokenizer.KEYWORD && slices.Contains(kws, e.tk.Keyword())
}

func (e *Engine) isSymbol(s byte) bool {
	return e.tk.TokenKind() == tokenizer.SYMBOL && e.tk.Symbol() == s
}

func (e *Engine) advance() error {
	return e.tk.Advance()
}

func (e *Engine) expectKeyword(kws ...tokenizer.Keyword) (tokenizer.Keyword, error) {
	if !e.isKeyword(kws...) {
		return "", e.errf("expected keyword in %v, got %s", kws, describeCurrent(e.tk))
	}
	kw := e.tk.Keyword()
	return kw, e.advance()
}

func (e *Engine) expectSymbol(s byte) error {
	if !e.isSymbol(s) {
		return e.errf("expected symbol %q, got %s", string(s), describeCurrent(e.tk))
	}
	return e.advance()
}

func (e *Engine) expectIdentifier() (string, error) {
	if e.tk.TokenKind() != tokenizer.IDENTIFIER {
		return "", e.errf("expected identifier, got %s", describeCurrent(e.tk))
	}
	name := e.tk.Identifier()
	return name, e.advance()
}

// segmentFor maps an identifier's storage kind to the VM segment it
// is read from or written to.
func segmentFor(kind symboltable.Kind) vm.Segment {
	switch kind {
	case symboltable.STATIC:
		return vm.Static
	case symboltable.FIELD:
		return vm.This
	case symboltable.ARG:
		return vm.Argument
	case symboltable.VAR:
		return vm.Local
	default:
		return ""
	}
}

// Class compiles: 'class' className '{' classVarDec* subroutineDec* '}'
func (e *Engine) Class() error {
	if _, err := e.expectKeyword(tokenizer.CLASS); err != nil {
		return err
	}

	name, err := e.expectIdentifier()
	if err != nil {
		return err
	}
	if e.st.KindOf(name) != symboltable.NONE {
		return e.wrap(ErrClassNameTaken, "class name already used: %q", name)
	}
	e.className = name
	logger.Printf("compiling class %s\n", name)

	if err := e.expectSymbol('{'); err != nil {
		return err
	}

	for e.isKeyword(classVarKinds...) {
		if err := e.ClassVarDec(); err != nil {
			return err
		}
	}

	for e.isKeyword(subroutineKinds...) {
		if err := e.Subroutine(); err != nil {
			return err
		}
	}

	// The closing '}' is the last token of the class, so it is checked
	// without advancing past it.
	if !e.isSymbol('}') {
		return e.errf("expected symbol %q, got %s", "}", describeCurrent(e.tk))
	}

	if e.tk.HasMoreTokens() {
		return e.wrap(ErrTrailingTokens, "trailing tokens after class end")
	}

	return nil
}

// ClassVarDec compiles: ('static'|'field') type varName (',' varName)* ';'
func (e *Engine) ClassVarDec() error {
	kw, err := e.expectKeyword(classVarKinds...)
	if err != nil {
		return err
	}
	kind := symboltable.STATIC
	if kw == tokenizer.FIELD {
		kind = symboltable.FIELD
	}

	typ, err := e.Type()
	if err != nil {
		return err
	}

	if err := e.defineVarList(typ, kind); err != nil {
		return err
	}

	return e.expectSymbol(';')
}

func (e *Engine) defineVarList(typ string, kind symboltable.Kind) error {
	for {
		name, err := e.expectIdentifier()
		if err != nil {
			return err
		}
		if e.st.KindOf(name) == kind {
			return e.wrap(ErrRedefinition, "redefinition of identifier %q in same scope", name)
		}
		if err := e.st.Define(name, typ, kind); err != nil {
			return e.wrap(err, "%s", err)
		}

		if !e.isSymbol(',') {
			break
		}
		if err := e.advance(); err != nil {
			return err
		}
	}
	return nil
}

// Type compiles: 'int'|'char'|'boolean'|className
func (e *Engine) Type() (string, error) {
	if e.isKeyword(typeKeywords...) {
		kw := e.tk.Keyword()
		if err := e.advance(); err != nil {
			return "", err
		}
		return string(kw), nil
	}
	if e.tk.TokenKind() == tokenizer.IDENTIFIER {
		return e.expectIdentifier()
	}
	return "", e.errf("malformed type, got %s", describeCurrent(e.tk))
}

// Subroutine compiles:
//
//	('constructor'|'function'|'method') ('void'|type) subroutineName
//	'(' parameterList ')' subroutineBody
func (e *Engine) Subroutine() error {
	kind, err := e.expectKeyword(subroutineKinds...)
	if err != nil {
		return err
	}
	e.subroutineKind = kind
	e.st.StartSubroutine()
	e.ifCounter, e.whileCounter = 0, 0

	if kind == tokenizer.METHOD {
		if err := e.st.Define("this", e.className, symboltable.ARG); err != nil {
			return e.wrap(err, "%s", err)
		}
	}

	if e.isKeyword(tokenizer.VOID) {
		if err := e.advance(); err != nil {
			return err
		}
	} else {
		if _, err := e.Type(); err != nil {
			return err
		}
	}

	name, err := e.expectIdentifier()
	if err != nil {
		return err
	}
	if e.st.KindOf(name) != symboltable.NONE {
		return e.wrap(ErrSubroutineNameTaken, "subroutine name %q already used by a variable", name)
	}
	e.subroutineName = name

	if err := e.expectSymbol('('); err != nil {
		return err
	}
	if err := e.ParameterList(); err != nil {
		return err
	}
	if err := e.expectSymbol(')'); err != nil {
		return err
	}

	return e.SubroutineBody()
}

// ParameterList compiles: ( type varName (',' type varName)* )?
func (e *Engine) ParameterList() error {
	if e.isSymbol(')') {
		return nil
	}
	for {
		typ, err := e.Type()
		if err != nil {
			return err
		}
		name, err := e.expectIdentifier()
		if err != nil {
			return err
		}
		if e.st.KindOf(name) == symboltable.ARG {
			return e.wrap(ErrRedefinition, "redefinition of identifier %q in same scope", name)
		}
		if err := e.st.Define(name, typ, symboltable.ARG); err != nil {
			return e.wrap(err, "%s", err)
		}

		if !e.isSymbol(',') {
			break
		}
		if err := e.advance(); err != nil {
			return err
		}
	}
	return nil
}

// SubroutineBody compiles: '{' varDec* statement* '}', emitting the
// function declaration and the method/constructor prologue before the
// statements.
func (e *Engine) SubroutineBody() error {
	if err := e.expectSymbol('{'); err != nil {
		return err
	}

	for e.isKeyword(tokenizer.VAR) {
		if err := e.VarDec(); err != nil {
			return err
		}
	}

	nLocals := e.st.VarCount(symboltable.VAR)
	if err := e.vmw.WriteFunction(e.className+"."+e.subroutineName, nLocals); err != nil {
		return err
	}

	switch e.subroutineKind {
	case tokenizer.METHOD:
		if err := e.vmw.WritePush(vm.Argument, 0); err != nil {
			return err
		}
		if err := e.vmw.WritePop(vm.Pointer, 0); err != nil {
			return err
		}
	case tokenizer.CONSTRUCTOR:
		nFields := e.st.VarCount(symboltable.FIELD)
		if err := e.vmw.WritePush(vm.Constant, nFields); err != nil {
			return err
		}
		if err := e.vmw.WriteCall("Memory.alloc", 1); err != nil {
			return err
		}
		if err := e.vmw.WritePop(vm.Pointer, 0); err != nil {
			return err
		}
	}

	if err := e.Statements(); err != nil {
		return err
	}

	return e.expectSymbol('}')
}

// VarDec compiles: 'var' type varName (',' varName)* ';'
func (e *Engine) VarDec() error {
	if _, err := e.expectKeyword(tokenizer.VAR); err != nil {
		return err
	}
	typ, err := e.Type()
	if err != nil {
		return err
	}
	if err := e.defineVarList(typ, symboltable.VAR); err != nil {
		return err
	}
	return e.expectSymbol(';')
}

// Statements compiles: statement*
func (e *Engine) Statements() error {
	for e.isKeyword(statementKeywords...) {
		var err error
		switch e.tk.Keyword() {
		case tokenizer.LET:
			err = e.Let()
		case tokenizer.IF:
			err = e.If()
		case tokenizer.WHILE:
			err = e.While()
		case tokenizer.DO:
			err = e.Do()
		case tokenizer.RETURN:
			err = e.Return()
		}
		if err != nil {
			return err
		}
	}
	return nil
}

// Let compiles: 'let' varName ('[' expression ']')? '=' expression ';'
func (e *Engine) Let() error {
	if _, err := e.expectKeyword(tokenizer.LET); err != nil {
		return err
	}
	name, err := e.expectIdentifier()
	if err != nil {
		return err
	}
	kind := e.st.KindOf(name)
	if kind == symboltable.NONE {
		return e.wrap(ErrUnknownIdentifier, "use of undefined identifier %q", name)
	}
	segment := segmentFor(kind)
	index := e.st.IndexOf(name)

	subscripted := false
	if e.isSymbol('[') {
		subscripted = true
		if err := e.advance(); err != nil {
			return err
		}
		if err := e.Expression(); err != nil {
			return err
		}
		if err := e.expectSymbol(']'); err != nil {
			return err
		}
		if err := e.vmw.WritePush(segment, index); err != nil {
			return err
		}
		if err := e.vmw.WriteArithmetic(vm.Add); err != nil {
			return err
		}
	}

	if err := e.expectSymbol('='); err != nil {
		return err
	}
	if err := e.Expression(); err != nil {
		return err
	}
	if err := e.expectSymbol(';'); err != nil {
		return err
	}

	if subscripted {
		if err := e.vmw.WritePop(vm.Temp, 0); err != nil {
			return err
		}
		if err := e.vmw.WritePop(vm.Pointer, 1); err != nil {
			return err
		}
		if err := e.vmw.WritePush(vm.Temp, 0); err != nil {
			return err
		}
		return e.vmw.WritePop(vm.That, 0)
	}

	return e.vmw.WritePop(segment, index)
}

// If compiles: 'if' '(' expression ')' '{' statements '}'
// ('else' '{' statements '}')?, labeling the branches with a
// per-if-statement counter.
func (e *Engine) If() error {
	if _, err := e.expectKeyword(tokenizer.IF); err != nil {
		return err
	}
	k := e.ifCounter
	e.ifCounter++
	trueLabel := fmt.Sprintf("IF_TRUE%d", k)
	falseLabel := fmt.Sprintf("IF_FALSE%d", k)
	endLabel := fmt.Sprintf("IF_END%d", k)

	if err := e.expectSymbol('('); err != nil {
		return err
	}
	if err := e.Expression(); err != nil {
		return err
	}
	if err := e.expectSymbol(')'); err != nil {
		return err
	}

	if err := e.vmw.WriteIf(trueLabel); err != nil {
		return err
	}
	if err := e.vmw.WriteGoto(falseLabel); err != nil {
		return err
	}
	if err := e.vmw.WriteLabel(trueLabel); err != nil {
		return err
	}

	if err := e.expectSymbol('{'); err != nil {
		return err
	}
	if err := e.Statements(); err != nil {
		return err
	}
	if err := e.expectSymbol('}'); err != nil {
		return err
	}

	if e.isKeyword(tokenizer.ELSE) {
		if err := e.vmw.WriteGoto(endLabel); err != nil {
			return err
		}
		if err := e.vmw.WriteLabel(falseLabel); err != nil {
			return err
		}
		if err := e.advance(); err != nil {
			return err
		}
		if err := e.expectSymbol('{'); err != nil {
			return err
		}
		if err := e.Statements(); err != nil {
			return err
		}
		if err := e.expectSymbol('}'); err != nil {
			return err
		}
		return e.vmw.WriteLabel(endLabel)
	}

	return e.vmw.WriteLabel(falseLabel)
}

// While compiles: 'while' '(' expression ')' '{' statements '}',
// looping back to a re-evaluation label until the condition is false.
func (e *Engine) While() error {
	if _, err := e.expectKeyword(tokenizer.WHILE); err != nil {
		return err
	}
	k := e.whileCounter
	e.whileCounter++
	expLabel := fmt.Sprintf("WHILE_EXP%d", k)
	endLabel := fmt.Sprintf("WHILE_END%d", k)

	if err := e.vmw.WriteLabel(expLabel); err != nil {
		return err
	}

	if err := e.expectSymbol('('); err != nil {
		return err
	}
	if err := e.Expression(); err != nil {
		return err
	}
	if err := e.expectSymbol(')'); err != nil {
		return err
	}

	if err := e.vmw.WriteArithmetic(vm.Not); err != nil {
		return err
	}
	if err := e.vmw.WriteIf(endLabel); err != nil {
		return err
	}

	if err := e.expectSymbol('{'); err != nil {
		return err
	}
	if err := e.Statements(); err != nil {
		return err
	}
	if err := e.expectSymbol('}'); err != nil {
		return err
	}

	if err := e.vmw.WriteGoto(expLabel); err != nil {
		return err
	}
	return e.vmw.WriteLabel(endLabel)
}

// Do compiles: 'do' subroutineCall ';' and discards the return value.
func (e *Engine) Do() error {
	if _, err := e.expectKeyword(tokenizer.DO); err != nil {
		return err
	}
	name, err := e.expectIdentifier()
	if err != nil {
		return err
	}
	if err := e.compileCallTail(name); err != nil {
		return err
	}
	if err := e.expectSymbol(';'); err != nil {
		return err
	}
	return e.vmw.WritePop(vm.Temp, 0)
}

// Return compiles: 'return' expression? ';'
func (e *Engine) Return() error {
	if _, err := e.expectKeyword(tokenizer.RETURN); err != nil {
		return err
	}
	if e.isSymbol(';') {
		if err := e.vmw.WritePush(vm.Constant, 0); err != nil {
			return err
		}
	} else {
		if err := e.Expression(); err != nil {
			return err
		}
	}
	if err := e.expectSymbol(';'); err != nil {
		return err
	}
	return e.vmw.WriteReturn()
}

// ExpressionList compiles: ( expression (',' expression)* )? and
// returns the number of expressions compiled.
func (e *Engine) ExpressionList() (int, error) {
	if e.isSymbol(')') {
		return 0, nil
	}
	n := 0
	for {
		if err := e.Expression(); err != nil {
			return n, err
		}
		n++
		if !e.isSymbol(',') {
			break
		}
		if err := e.advance(); err != nil {
			return n, err
		}
	}
	return n, nil
}

// Expression compiles: term (op term)*, strictly left to right with
// no precedence beyond grammar position.
func (e *Engine) Expression() error {
	if err := e.Term(); err != nil {
		return err
	}
	for e.tk.TokenKind() == tokenizer.SYMBOL {
		s := e.tk.Symbol()
		op, isBinOp := opSymbols[s]
		isMulDiv := s == '*' || s == '/'
		if !isBinOp && !isMulDiv {
			break
		}
		if err := e.advance(); err != nil {
			return err
		}
		if err := e.Term(); err != nil {
			return err
		}
		switch {
		case isMulDiv && s == '*':
			if err := e.vmw.WriteCall("Math.multiply", 2); err != nil {
				return err
			}
		case isMulDiv && s == '/':
			if err := e.vmw.WriteCall("Math.divide", 2); err != nil {
				return err
			}
		default:
			if err := e.vmw.WriteArithmetic(op); err != nil {
				return err
			}
		}
	}
	return nil
}

// Term compiles a single term: an integer, string or keyword
// constant, a parenthesized expression, a unary op applied to a term,
// or an identifier-led form (variable, array access, or call).
func (e *Engine) Term() error {
	switch e.tk.TokenKind() {
	case tokenizer.INT_CONST:
		val := e.tk.IntValue()
		if err := e.advance(); err != nil {
			return err
		}
		return e.vmw.WritePush(vm.Constant, val)

	case tokenizer.STRING_CONST:
		s := e.tk.StringValue()
		if err := e.advance(); err != nil {
			return err
		}
		return e.compileStringConstant(s)

	case tokenizer.KEYWORD:
		return e.compileKeywordConstant()

	case tokenizer.IDENTIFIER:
		name := e.tk.Identifier()
		if err := e.advance(); err != nil {
			return err
		}
		return e.compileIdentifierTerm(name)

	case tokenizer.SYMBOL:
		s := e.tk.Symbol()
		if s == '(' {
			if err := e.advance(); err != nil {
				return err
			}
			if err := e.Expression(); err != nil {
				return err
			}
			return e.expectSymbol(')')
		}
		if s == '-' || s == '~' {
			if err := e.advance(); err != nil {
				return err
			}
			if err := e.Term(); err != nil {
				return err
			}
			if s == '-' {
				return e.vmw.WriteArithmetic(vm.Neg)
			}
			return e.vmw.WriteArithmetic(vm.Not)
		}
	}

	return e.errf("expected term, got %s", describeCurrent(e.tk))
}

func (e *Engine) compileKeywordConstant() error {
	kw := e.tk.Keyword()
	if !slices.Contains(opKeywordConstants, kw) {
		return e.errf("expected term, got keyword %q", kw)
	}
	if err := e.advance(); err != nil {
		return err
	}
	switch kw {
	case tokenizer.TRUE:
		if err := e.vmw.WritePush(vm.Constant, 0); err != nil {
			return err
		}
		return e.vmw.WriteArithmetic(vm.Not)
	case tokenizer.FALSE, tokenizer.NULL:
		return e.vmw.WritePush(vm.Constant, 0)
	case tokenizer.THIS:
		return e.vmw.WritePush(vm.Pointer, 0)
	}
	return nil
}

// compileStringConstant emits the String.new/appendChar sequence: the
// appendChar convention consumes both the string pointer and the
// character and returns the pointer, ready for the next append.
func (e *Engine) compileStringConstant(s string) error {
	if err := e.vmw.WritePush(vm.Constant, len(s)); err != nil {
		return err
	}
	if err := e.vmw.WriteCall("String.new", 1); err != nil {
		return err
	}
	for i := 0; i < len(s); i++ {
		if err := e.vmw.WritePush(vm.Constant, int(s[i])); err != nil {
			return err
		}
		if err := e.vmw.WriteCall("String.appendChar", 2); err != nil {
			return err
		}
	}
	return nil
}

// compileIdentifierTerm handles the four continuations of an
// identifier-led term: array access, foreign/own method or function
// call, or a bare variable reference.
func (e *Engine) compileIdentifierTerm(name string) error {
	if e.isSymbol('[') {
		kind := e.st.KindOf(name)
		if kind == symboltable.NONE {
			return e.wrap(ErrUnknownIdentifier, "use of undefined identifier %q", name)
		}
		segment := segmentFor(kind)
		index := e.st.IndexOf(name)

		if err := e.advance(); err != nil {
			return err
		}
		if err := e.Expression(); err != nil {
			return err
		}
		if err := e.expectSymbol(']'); err != nil {
			return err
		}
		if err := e.vmw.WritePush(segment, index); err != nil {
			return err
		}
		if err := e.vmw.WriteArithmetic(vm.Add); err != nil {
			return err
		}
		if err := e.vmw.WritePop(vm.Pointer, 1); err != nil {
			return err
		}
		return e.vmw.WritePush(vm.That, 0)
	}

	if e.isSymbol('.') || e.isSymbol('(') {
		return e.compileCallTail(name)
	}

	kind := e.st.KindOf(name)
	if kind == symboltable.NONE {
		return e.wrap(ErrUnknownIdentifier, "use of undefined identifier %q", name)
	}
	return e.vmw.WritePush(segmentFor(kind), e.st.IndexOf(name))
}

// compileCallTail compiles the tail of a subroutineCall after its
// leading identifier has already been consumed, dispatching among a
// foreign method call, a function/constructor call on the named class,
// and an own-method call.
func (e *Engine) compileCallTail(name string) error {
	if e.isSymbol('.') {
		if err := e.advance(); err != nil {
			return err
		}
		subName, err := e.expectIdentifier()
		if err != nil {
			return err
		}
		if e.st.KindOf(subName) != symboltable.NONE {
			return e.wrap(ErrNotASubroutine, "call target %q is a variable, not a subroutine", subName)
		}

		kind := e.st.KindOf(name)
		isForeign := kind != symboltable.NONE
		var typ string
		if isForeign {
			// Foreign method call: the receiver must be the first
			// value on the stack, pushed before any argument.
			if err := e.vmw.WritePush(segmentFor(kind), e.st.IndexOf(name)); err != nil {
				return err
			}
			typ, err = e.st.TypeOf(name)
			if err != nil {
				return e.wrap(err, "%s", err)
			}
		}

		if err := e.expectSymbol('('); err != nil {
			return err
		}
		nArgs, err := e.ExpressionList()
		if err != nil {
			return err
		}
		if err := e.expectSymbol(')'); err != nil {
			return err
		}

		if isForeign {
			return e.vmw.WriteCall(typ+"."+subName, nArgs+1)
		}
		// Function or constructor call: name is a class name.
		return e.vmw.WriteCall(name+"."+subName, nArgs)
	}

	// Own method call: pass the current receiver implicitly, pushed
	// before any argument.
	if e.st.KindOf(name) != symboltable.NONE {
		return e.wrap(ErrNotASubroutine, "call target %q is a variable, not a subroutine", name)
	}
	if err := e.vmw.WritePush(vm.Pointer, 0); err != nil {
		return err
	}
	if err := e.expectSymbol('('); err != nil {
		return err
	}
	nArgs, err := e.ExpressionList()
	if err != nil {
		return err
	}
	if err := e.expectSymbol(')'); err != nil {
		return err
	}
	return e.vmw.WriteCall(e.className+"."+name, nArgs+1)
}
