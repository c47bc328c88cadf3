package engine

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jackvm/compiler/tokenizer"
	"github.com/jackvm/compiler/vm"
)

func compileSource(t *testing.T, src string) (string, error) {
	t.Helper()
	tk, err := tokenizer.New(strings.NewReader(src))
	require.NoError(t, err)

	var buf strings.Builder
	vmw := vm.New(&buf)
	err = Compile(tk, vmw)
	return buf.String(), err
}

func TestCompile_EmptyClass(t *testing.T) {
	out, err := compileSource(t, "class A {}")
	require.NoError(t, err)
	assert.Equal(t, "", out)
}

func TestCompile_FunctionReturningConstant(t *testing.T) {
	out, err := compileSource(t, `
		class A {
			function int one() {
				return 1;
			}
		}
	`)
	require.NoError(t, err)
	assert.Equal(t, "function A.one 0\npush constant 1\nreturn\n", out)
}

func TestCompile_StringLiteral(t *testing.T) {
	out, err := compileSource(t, `
		class A {
			function String hi() {
				return "Hi";
			}
		}
	`)
	require.NoError(t, err)
	expected := "function A.hi 0\n" +
		"push constant 2\n" +
		"call String.new 1\n" +
		"push constant 72\n" +
		"call String.appendChar 2\n" +
		"push constant 105\n" +
		"call String.appendChar 2\n" +
		"return\n"
	assert.Equal(t, expected, out)
}

func TestCompile_IfElse(t *testing.T) {
	out, err := compileSource(t, `
		class A {
			function void test(int x) {
				var int y;
				if (x = 0) {
					let y = 1;
				} else {
					let y = 2;
				}
				return;
			}
		}
	`)
	require.NoError(t, err)
	expected := "function A.test 1\n" +
		"push argument 0\n" +
		"push constant 0\n" +
		"eq\n" +
		"if-goto IF_TRUE0\n" +
		"goto IF_FALSE0\n" +
		"label IF_TRUE0\n" +
		"push constant 1\n" +
		"pop local 0\n" +
		"goto IF_END0\n" +
		"label IF_FALSE0\n" +
		"push constant 2\n" +
		"pop local 0\n" +
		"label IF_END0\n" +
		"push constant 0\n" +
		"return\n"
	assert.Equal(t, expected, out)
}

func TestCompile_While(t *testing.T) {
	out, err := compileSource(t, `
		class A {
			function void loop() {
				var int x;
				while (x < 10) {
					let x = x + 1;
				}
				return;
			}
		}
	`)
	require.NoError(t, err)
	expected := "function A.loop 1\n" +
		"label WHILE_EXP0\n" +
		"push local 0\n" +
		"push constant 10\n" +
		"lt\n" +
		"not\n" +
		"if-goto WHILE_END0\n" +
		"push local 0\n" +
		"push constant 1\n" +
		"add\n" +
		"pop local 0\n" +
		"goto WHILE_EXP0\n" +
		"label WHILE_END0\n" +
		"push constant 0\n" +
		"return\n"
	assert.Equal(t, expected, out)
}

func TestCompile_ArrayStore(t *testing.T) {
	out, err := compileSource(t, `
		class A {
			function void store(Array a, int i, int j) {
				let a[i] = a[j] + 1;
				return;
			}
		}
	`)
	require.NoError(t, err)
	expected := "function A.store 0\n" +
		"push argument 1\n" +
		"push argument 0\n" +
		"add\n" +
		"push argument 2\n" +
		"push argument 0\n" +
		"add\n" +
		"pop pointer 1\n" +
		"push that 0\n" +
		"push constant 1\n" +
		"add\n" +
		"pop temp 0\n" +
		"pop pointer 1\n" +
		"push temp 0\n" +
		"pop that 0\n" +
		"push constant 0\n" +
		"return\n"
	assert.Equal(t, expected, out)
}

func TestCompile_MethodPrologue(t *testing.T) {
	out, err := compileSource(t, `
		class A {
			method void bump() {
				return;
			}
		}
	`)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(out, "function A.bump 0\npush argument 0\npop pointer 0\n"))
}

func TestCompile_ConstructorPrologue(t *testing.T) {
	out, err := compileSource(t, `
		class Point {
			field int x, y;
			constructor Point new() {
				return this;
			}
		}
	`)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(out, "function Point.new 0\npush constant 2\ncall Memory.alloc 1\npop pointer 0\n"))
}

func TestCompile_ForeignMethodCall(t *testing.T) {
	out, err := compileSource(t, `
		class Main {
			function void run() {
				var Point p;
				do p.move(1, 2);
				return;
			}
		}
	`)
	require.NoError(t, err)
	expected := "function Main.run 1\n" +
		"push local 0\n" +
		"push constant 1\n" +
		"push constant 2\n" +
		"call Point.move 3\n" +
		"pop temp 0\n" +
		"push constant 0\n" +
		"return\n"
	assert.Equal(t, expected, out)
}

func TestCompile_OwnMethodCall(t *testing.T) {
	out, err := compileSource(t, `
		class Point {
			method void dispose() {
				do reset();
				return;
			}
		}
	`)
	require.NoError(t, err)
	expected := "function Point.dispose 0\n" +
		"push argument 0\n" +
		"pop pointer 0\n" +
		"push pointer 0\n" +
		"call Point.reset 1\n" +
		"pop temp 0\n" +
		"push constant 0\n" +
		"return\n"
	assert.Equal(t, expected, out)
}

func TestCompile_FunctionCall(t *testing.T) {
	out, err := compileSource(t, `
		class Main {
			function void run() {
				do Output.println();
				return;
			}
		}
	`)
	require.NoError(t, err)
	expected := "function Main.run 0\n" +
		"call Output.println 0\n" +
		"pop temp 0\n" +
		"push constant 0\n" +
		"return\n"
	assert.Equal(t, expected, out)
}

func TestCompile_MultiplyAndDivide(t *testing.T) {
	out, err := compileSource(t, `
		class A {
			function int calc() {
				return 6 * 7 / 2;
			}
		}
	`)
	require.NoError(t, err)
	expected := "function A.calc 0\n" +
		"push constant 6\n" +
		"push constant 7\n" +
		"call Math.multiply 2\n" +
		"push constant 2\n" +
		"call Math.divide 2\n" +
		"return\n"
	assert.Equal(t, expected, out)
}

func TestCompile_UnaryOps(t *testing.T) {
	out, err := compileSource(t, `
		class A {
			function int neg() {
				return -1;
			}
		}
	`)
	require.NoError(t, err)
	expected := "function A.neg 0\npush constant 1\nneg\nreturn\n"
	assert.Equal(t, expected, out)
}

func TestCompile_KeywordConstants(t *testing.T) {
	out, err := compileSource(t, `
		class A {
			function boolean truth() {
				return true;
			}
		}
	`)
	require.NoError(t, err)
	expected := "function A.truth 0\npush constant 0\nnot\nreturn\n"
	assert.Equal(t, expected, out)
}

func TestCompile_DifferentKindSameNameSucceeds(t *testing.T) {
	out, err := compileSource(t, `
		class A {
			static int x;
			field int x;
			function void run(int y) {
				var int y;
				let y = 1;
				return;
			}
		}
	`)
	require.NoError(t, err)
	assert.Contains(t, out, "pop local 0\n")
}

func TestCompile_SubroutineNameCollidesWithFieldFails(t *testing.T) {
	_, err := compileSource(t, `
		class A {
			field int foo;
			method void foo() {
				return;
			}
		}
	`)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrSubroutineNameTaken)
}

func TestCompile_CallOnVariableFails(t *testing.T) {
	_, err := compileSource(t, `
		class A {
			function void run() {
				var int x;
				do x();
				return;
			}
		}
	`)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrNotASubroutine)
}

func TestCompile_DottedCallOnVariableSubNameFails(t *testing.T) {
	_, err := compileSource(t, `
		class A {
			function void run() {
				var Point p;
				var int move;
				do p.move();
				return;
			}
		}
	`)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrNotASubroutine)
}

func TestCompile_RedefinitionInSameScopeFails(t *testing.T) {
	_, err := compileSource(t, `
		class A {
			field int x;
			field int x;
		}
	`)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrRedefinition)
}

func TestCompile_UnknownIdentifierFails(t *testing.T) {
	_, err := compileSource(t, `
		class A {
			function void run() {
				let y = 1;
				return;
			}
		}
	`)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrUnknownIdentifier)
}

func TestCompile_TrailingTokensAfterClassEndFails(t *testing.T) {
	_, err := compileSource(t, "class A {} class B {}")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrTrailingTokens)
}

func TestCompile_ScopeEndsAfterSubroutine(t *testing.T) {
	_, err := compileSource(t, `
		class A {
			function void one() {
				var int x;
				let x = 1;
				return;
			}
			function void two() {
				let x = 2;
				return;
			}
		}
	`)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrUnknownIdentifier)
}

func TestCompile_ErrorCarriesLineNumber(t *testing.T) {
	_, err := compileSource(t, "class A {\n  field int x\n}\n")
	require.Error(t, err)
	var ce *CompileError
	require.ErrorAs(t, err, &ce)
	assert.Equal(t, 3, ce.Line)
}
