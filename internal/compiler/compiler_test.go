package compiler

import (
	"fmt"
	"strings"
	"testing"

	"falcon/internal/bytecode"
	falconerr "falcon/internal/errors"
	"falcon/internal/gc"
)

func compileSource(t *testing.T, source string) *bytecode.Function {
	t.Helper()
	function, errs := Compile(source, "test.fn", gc.NewHeap(), false)
	if errs != nil {
		t.Fatalf("unexpected compile errors: %v", errs[0])
	}
	return function
}

func compileErrors(t *testing.T, source string) []*falconerr.FalconError {
	t.Helper()
	function, errs := Compile(source, "test.fn", gc.NewHeap(), false)
	if errs == nil {
		t.Fatalf("expected compile errors, got function %v", function)
	}
	return errs
}

// opcodes decodes a chunk into its instruction stream, skipping operands.
func opcodes(chunk *bytecode.Chunk) []bytecode.OpCode {
	var ops []bytecode.OpCode
	for offset := 0; offset < len(chunk.Code); {
		op := bytecode.OpCode(chunk.Code[offset])
		ops = append(ops, op)
		switch op {
		case bytecode.OpConstant, bytecode.OpDefineGlobal, bytecode.OpGetGlobal,
			bytecode.OpSetGlobal, bytecode.OpGetLocal, bytecode.OpSetLocal,
			bytecode.OpGetUpvalue, bytecode.OpSetUpvalue, bytecode.OpCall,
			bytecode.OpClass, bytecode.OpMethod, bytecode.OpGetProperty,
			bytecode.OpSetProperty, bytecode.OpGetSuper:
			offset += 2
		case bytecode.OpConstant16, bytecode.OpJump, bytecode.OpJumpIfFalse,
			bytecode.OpLoop, bytecode.OpAnd, bytecode.OpOr,
			bytecode.OpList, bytecode.OpMap, bytecode.OpInvoke:
			offset += 3
		case bytecode.OpClosure:
			index := int(chunk.Code[offset+1])
			fn := chunk.Constants[index].Obj.(*bytecode.Function)
			offset += 2 + 2*fn.UpvalueCount
		default:
			offset++
		}
	}
	return ops
}

func hasOpcode(chunk *bytecode.Chunk, op bytecode.OpCode) bool {
	for _, o := range opcodes(chunk) {
		if o == op {
			return true
		}
	}
	return false
}

func TestExpressionBytecode(t *testing.T) {
	function := compileSource(t, "1 + 2 * 3;")
	want := []byte{
		byte(bytecode.OpConstant), 0,
		byte(bytecode.OpConstant), 1,
		byte(bytecode.OpConstant), 2,
		byte(bytecode.OpMul),
		byte(bytecode.OpAdd),
		byte(bytecode.OpPop),
		byte(bytecode.OpNull),
		byte(bytecode.OpReturn),
	}
	got := function.Chunk.Code
	if len(got) != len(want) {
		t.Fatalf("code length %d, expected %d (%v)", len(got), len(want), got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("byte %d: got %d, expected %d", i, got[i], want[i])
		}
	}
}

func TestConstantDeduplication(t *testing.T) {
	function := compileSource(t, `var a = "x"; var b = "x"; var c = 1; var d = 1;`)
	// "a" "b" "c" "d" "x" 1: six constants, duplicates folded.
	if len(function.Chunk.Constants) != 6 {
		t.Errorf("expected 6 constants, got %d", len(function.Chunk.Constants))
	}
}

func TestWideConstantEmission(t *testing.T) {
	var sb strings.Builder
	sb.WriteString("var xs = [")
	for i := 0; i < 300; i++ {
		if i > 0 {
			sb.WriteString(", ")
		}
		fmt.Fprintf(&sb, "%d.5", i)
	}
	sb.WriteString("];")

	function := compileSource(t, sb.String())
	if !hasOpcode(function.Chunk, bytecode.OpConstant16) {
		t.Error("a pool past 256 entries must use CONSTANT_16")
	}
	if !hasOpcode(function.Chunk, bytecode.OpConstant) {
		t.Error("early constants still use the short form")
	}
}

func TestReplExpressionStatement(t *testing.T) {
	function, errs := Compile("1 + 2;", "<repl>", gc.NewHeap(), true)
	if errs != nil {
		t.Fatalf("compile failed: %v", errs[0])
	}
	if !hasOpcode(function.Chunk, bytecode.OpPopExpr) {
		t.Error("REPL expression statements should end in POP_EXPR")
	}

	function = compileSource(t, "1 + 2;")
	if hasOpcode(function.Chunk, bytecode.OpPopExpr) {
		t.Error("script expression statements should not use POP_EXPR")
	}
}

func TestClosureUpvalueTrailer(t *testing.T) {
	function := compileSource(t, `
function outer() {
	var x = 1;
	function inner() { return x; }
	return inner;
}`)
	outer := findFunction(t, function.Chunk, "outer")
	inner := findFunction(t, outer.Chunk, "inner")
	if inner.UpvalueCount != 1 {
		t.Fatalf("inner should capture one upvalue, got %d", inner.UpvalueCount)
	}

	// Locate CLOSURE in outer and decode its (isLocal, index) trailer.
	code := outer.Chunk.Code
	for offset := 0; offset < len(code); {
		op := bytecode.OpCode(code[offset])
		if op == bytecode.OpClosure {
			constIndex := int(code[offset+1])
			if outer.Chunk.Constants[constIndex].Obj.(*bytecode.Function) != inner {
				t.Fatal("CLOSURE does not reference inner")
			}
			if code[offset+2] != 1 {
				t.Error("x is a local of outer; isLocal must be 1")
			}
			if code[offset+3] != 1 {
				t.Errorf("x lives in slot 1, trailer says %d", code[offset+3])
			}
			return
		}
		offset += instructionLength(outer.Chunk, offset)
	}
	t.Fatal("no CLOSURE instruction in outer")
}

func instructionLength(chunk *bytecode.Chunk, offset int) int {
	switch op := bytecode.OpCode(chunk.Code[offset]); op {
	case bytecode.OpConstant, bytecode.OpDefineGlobal, bytecode.OpGetGlobal,
		bytecode.OpSetGlobal, bytecode.OpGetLocal, bytecode.OpSetLocal,
		bytecode.OpGetUpvalue, bytecode.OpSetUpvalue, bytecode.OpCall,
		bytecode.OpClass, bytecode.OpMethod, bytecode.OpGetProperty,
		bytecode.OpSetProperty, bytecode.OpGetSuper:
		return 2
	case bytecode.OpConstant16, bytecode.OpJump, bytecode.OpJumpIfFalse,
		bytecode.OpLoop, bytecode.OpAnd, bytecode.OpOr,
		bytecode.OpList, bytecode.OpMap, bytecode.OpInvoke:
		return 3
	case bytecode.OpClosure:
		fn := chunk.Constants[chunk.Code[offset+1]].Obj.(*bytecode.Function)
		return 2 + 2*fn.UpvalueCount
	}
	return 1
}

func findFunction(t *testing.T, chunk *bytecode.Chunk, name string) *bytecode.Function {
	t.Helper()
	for _, constant := range chunk.Constants {
		if constant.IsObj() {
			if fn, ok := constant.Obj.(*bytecode.Function); ok {
				if fn.Name != nil && fn.Name.Chars == name {
					return fn
				}
			}
		}
	}
	t.Fatalf("function %q not found in constants", name)
	return nil
}

func TestLocalLimit(t *testing.T) {
	declare := func(n int) string {
		var sb strings.Builder
		sb.WriteString("function f() {\n")
		for i := 0; i < n; i++ {
			fmt.Fprintf(&sb, "var l%d = %d;\n", i, i)
		}
		sb.WriteString("}\n")
		return sb.String()
	}

	// Slot 0 is reserved, so 255 user locals fit and 256 do not.
	compileSource(t, declare(255))

	errs := compileErrors(t, declare(256))
	if !strings.Contains(errs[0].Message, "Too many local variables") {
		t.Errorf("unexpected message %q", errs[0].Message)
	}
}

func TestJumpLimit(t *testing.T) {
	var sb strings.Builder
	sb.WriteString("var x = 0;\nif true {\n")
	for i := 0; i < 17000; i++ {
		sb.WriteString("x = 1;\n")
	}
	sb.WriteString("}\n")

	errs := compileErrors(t, sb.String())
	if !strings.Contains(errs[0].Message, "Too much code to jump over.") {
		t.Errorf("unexpected message %q", errs[0].Message)
	}
}

func TestCompileErrorCases(t *testing.T) {
	tests := []struct {
		name    string
		source  string
		message string
	}{
		{"invalid assignment", "1 = 2;", "Invalid assignment target."},
		{"top-level return", "return;", "Cannot return from top-level code."},
		{"this outside class", "this;", "Cannot use 'this' outside of a class."},
		{"super outside class", "super.m();", "Cannot use 'super' outside of a class."},
		{"super without superclass", "class A { m() { return super.m(); } }", "Cannot use 'super' in a class with no superclass."},
		{"inherit from self", "class A extends A {}", "A class cannot inherit from itself."},
		{"next outside loop", "next;", "Cannot use 'next' outside of a loop."},
		{"break outside loop", "break;", "Cannot use 'break' outside of a loop."},
		{"self initializer", "function f() { var a = a; }", "Cannot read a variable in its own initializer."},
		{"duplicate local", "function f() { var a = 1; var a = 2; }", "A variable with this name already exists in this scope."},
		{"return value from init", "class A { init() { return 1; } }", "Cannot return a value from an initializer."},
		{"missing semicolon", "var a = 1", "Expected ';' after variable declaration."},
		{"unterminated string", `var s = "abc`, "Unterminated string."},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			errs := compileErrors(t, tt.source)
			if errs[0].Message != tt.message {
				t.Errorf("message %q, expected %q", errs[0].Message, tt.message)
			}
		})
	}
}

func TestErrorFormat(t *testing.T) {
	errs := compileErrors(t, "var x = ;")
	text := errs[0].Error()
	if !strings.HasPrefix(text, "test.fn:1:") {
		t.Errorf("diagnostic should lead with file:line:col, got %q", text)
	}
	if !strings.Contains(text, "CompilerError:") {
		t.Errorf("missing kind in %q", text)
	}
	if !strings.Contains(text, "var x = ;") {
		t.Errorf("missing source line in %q", text)
	}
	if !strings.Contains(text, "^") {
		t.Errorf("missing caret in %q", text)
	}
}

// Panic mode suppresses the cascade but recovery at statement boundaries
// still surfaces later, distinct errors.
func TestErrorRecovery(t *testing.T) {
	errs := compileErrors(t, "var 1;\nreturn;\n")
	if len(errs) != 2 {
		t.Fatalf("expected 2 errors after synchronization, got %d", len(errs))
	}
}

// Assignment is legal inside ternary branches: the canAssign threshold is
// the ternary precedence, not plain assignment.
func TestAssignmentInTernaryBranch(t *testing.T) {
	compileSource(t, "var x = 0; var y = 0; true ? x = 1 : 0;")
}

func TestParameterLimit(t *testing.T) {
	var sb strings.Builder
	sb.WriteString("function f(")
	for i := 0; i < 256; i++ {
		if i > 0 {
			sb.WriteString(", ")
		}
		fmt.Fprintf(&sb, "p%d", i)
	}
	sb.WriteString(") {}")

	errs := compileErrors(t, sb.String())
	if !strings.Contains(errs[0].Message, "Cannot have more than 255 parameters.") {
		t.Errorf("unexpected message %q", errs[0].Message)
	}
}

func TestSwitchCompiles(t *testing.T) {
	function := compileSource(t, `
var x = 2;
switch {
	when x == 1 -> print(1);
	when x == 2 -> print(2);
	else -> print(0);
}`)
	if !hasOpcode(function.Chunk, bytecode.OpJumpIfFalse) {
		t.Error("switch should compile to a jump chain")
	}
}

func TestCompoundAssignmentDesugars(t *testing.T) {
	function := compileSource(t, "var x = 1; x += 2;")
	ops := opcodes(function.Chunk)
	// load, add, store somewhere in the stream
	var sawGet, sawAdd, sawSet bool
	for _, op := range ops {
		switch op {
		case bytecode.OpGetGlobal:
			sawGet = true
		case bytecode.OpAdd:
			if sawGet {
				sawAdd = true
			}
		case bytecode.OpSetGlobal:
			if sawAdd {
				sawSet = true
			}
		}
	}
	if !sawSet {
		t.Errorf("expected load/op/store sequence, got %v", ops)
	}
}
