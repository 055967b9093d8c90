// Package compiler turns source text into bytecode in a single pass: a
// hand-written Pratt parser that emits as it parses. There is no AST.
package compiler

import (
	"falcon/internal/bytecode"
	falconerr "falcon/internal/errors"
	"falcon/internal/gc"
	"falcon/internal/lexer"
)

const (
	maxLocals   = 256
	maxUpvalues = 256
	maxJump     = 65535
)

type functionKind int

const (
	kindScript functionKind = iota
	kindFunction
	kindMethod
	kindInitializer
)

type local struct {
	name     string
	depth    int // -1 while the initializer is being compiled
	captured bool
}

type compUpvalue struct {
	index   uint8
	isLocal bool
}

// loopContext tracks the innermost loop so next/break know where to jump
// and how many locals to discard on the way out.
type loopContext struct {
	enclosing  *loopContext
	start      int
	scopeDepth int
	breakJumps []int
}

// compiler is the per-function compilation state. Nested function literals
// push a new one; enclosing is only valid while the parent is on the chain.
type compiler struct {
	enclosing  *compiler
	function   *bytecode.Function
	kind       functionKind
	locals     [maxLocals]local
	localCount int
	upvalues   [maxUpvalues]compUpvalue
	scopeDepth int
	loop       *loopContext
}

type classCompiler struct {
	enclosing *classCompiler
	hasSuper  bool
}

type parser struct {
	scanner  *lexer.Scanner
	heap     *gc.Heap
	file     string
	repl     bool
	current  lexer.Token
	previous lexer.Token

	hadError  bool
	panicMode bool
	errors    []*falconerr.FalconError

	compiler      *compiler
	classCompiler *classCompiler
}

// Compile compiles source into a top-level function. On failure it returns
// every diagnostic collected before synchronization gave up.
func Compile(source, file string, heap *gc.Heap, repl bool) (*bytecode.Function, []*falconerr.FalconError) {
	p := &parser{
		scanner: lexer.NewScanner(source),
		heap:    heap,
		file:    file,
		repl:    repl,
	}

	// The collector can fire on any allocation during compilation, so the
	// in-progress function chain has to be reachable as a root.
	heap.AddRoots(p)
	defer heap.RemoveRoots(p)

	p.beginFunction(kindScript)
	p.advance()
	for !p.match(lexer.TokenEOF) {
		p.declaration()
	}
	function := p.endFunction()

	if p.hadError {
		return nil, p.errors
	}
	return function, nil
}

// MarkRoots marks every function on the active compiler chain.
func (p *parser) MarkRoots(h *gc.Heap) {
	for c := p.compiler; c != nil; c = c.enclosing {
		h.MarkObject(c.function)
	}
}

func (p *parser) beginFunction(kind functionKind) {
	c := &compiler{
		enclosing: p.compiler,
		function:  p.heap.NewFunction(),
		kind:      kind,
	}
	p.compiler = c
	if kind != kindScript {
		c.function.Name = p.heap.NewString(p.previous.Lexeme)
	}

	// Slot 0 belongs to the function itself, or to the receiver in methods.
	slot := &c.locals[0]
	c.localCount = 1
	slot.depth = 0
	if kind == kindMethod || kind == kindInitializer {
		slot.name = "this"
	}
}

func (p *parser) endFunction() *bytecode.Function {
	p.emitReturn()
	function := p.compiler.function
	p.compiler = p.compiler.enclosing
	return function
}

// Token handling

func (p *parser) advance() {
	p.previous = p.current
	for {
		p.current = p.scanner.ScanToken()
		if p.current.Type != lexer.TokenError {
			break
		}
		p.errorAtCurrent(p.current.Lexeme)
	}
}

func (p *parser) consume(t lexer.TokenType, message string) {
	if p.current.Type == t {
		p.advance()
		return
	}
	p.errorAtCurrent(message)
}

func (p *parser) check(t lexer.TokenType) bool {
	return p.current.Type == t
}

func (p *parser) match(t lexer.TokenType) bool {
	if !p.check(t) {
		return false
	}
	p.advance()
	return true
}

// Error reporting

func (p *parser) errorAtCurrent(message string) {
	p.errorAt(p.current, message)
}

func (p *parser) error(message string) {
	p.errorAt(p.previous, message)
}

func (p *parser) errorAt(token lexer.Token, message string) {
	if p.panicMode {
		return
	}
	p.panicMode = true
	p.hadError = true
	p.errors = append(p.errors, falconerr.NewCompilerError(
		message, p.file, token.Line, token.Column, p.scanner.LineText(token.Line)))
}

// synchronize skips to a statement boundary after a parse error so one
// mistake does not cascade.
func (p *parser) synchronize() {
	p.panicMode = false
	for p.current.Type != lexer.TokenEOF {
		if p.previous.Type == lexer.TokenSemicolon {
			return
		}
		switch p.current.Type {
		case lexer.TokenClass, lexer.TokenFunction, lexer.TokenVar,
			lexer.TokenFor, lexer.TokenIf, lexer.TokenWhile, lexer.TokenReturn:
			return
		}
		p.advance()
	}
}

// Emitting

func (p *parser) currentChunk() *bytecode.Chunk {
	return p.compiler.function.Chunk
}

func (p *parser) emitByte(b byte) {
	p.currentChunk().Write(b, p.previous.Line)
}

func (p *parser) emitOp(op bytecode.OpCode) {
	p.currentChunk().WriteOp(op, p.previous.Line)
}

func (p *parser) emitOps(op bytecode.OpCode, operand byte) {
	p.emitOp(op)
	p.emitByte(operand)
}

func (p *parser) emitShort(v int) {
	p.emitByte(byte(v >> 8))
	p.emitByte(byte(v))
}

func (p *parser) emitReturn() {
	if p.compiler.kind == kindInitializer {
		p.emitOps(bytecode.OpGetLocal, 0)
	} else {
		p.emitOp(bytecode.OpNull)
	}
	p.emitOp(bytecode.OpReturn)
}

// makeConstant adds to the pool, reusing an existing slot for equal values.
// Interning makes the string comparison identity, so the scan is cheap.
func (p *parser) makeConstant(value bytecode.Value) int {
	chunk := p.currentChunk()
	for i, existing := range chunk.Constants {
		if existing.Type == value.Type && bytecode.ValuesEqual(existing, value) {
			return i
		}
	}
	if len(chunk.Constants) >= bytecode.MaxConstants {
		p.error("Too many constants in one chunk.")
		return 0
	}
	return chunk.AddConstant(value)
}

// makeConstant8 is for opcodes whose constant operand is a single byte
// (globals, properties, methods, closures).
func (p *parser) makeConstant8(value bytecode.Value) byte {
	index := p.makeConstant(value)
	if index > 255 {
		p.error("Too many constants in one chunk.")
		return 0
	}
	return byte(index)
}

// emitConstant picks CONSTANT or CONSTANT_16 based on the pool index. The
// 16-bit form's operand is little-endian.
func (p *parser) emitConstant(value bytecode.Value) {
	index := p.makeConstant(value)
	if index <= 255 {
		p.emitOps(bytecode.OpConstant, byte(index))
		return
	}
	p.emitOp(bytecode.OpConstant16)
	p.emitByte(byte(index))
	p.emitByte(byte(index >> 8))
}

func (p *parser) identifierConstant(name string) byte {
	return p.makeConstant8(bytecode.ObjVal(p.heap.NewString(name)))
}

// Jumps

func (p *parser) emitJump(op bytecode.OpCode) int {
	p.emitOp(op)
	p.emitByte(0xff)
	p.emitByte(0xff)
	return len(p.currentChunk().Code) - 2
}

func (p *parser) patchJump(offset int) {
	chunk := p.currentChunk()
	jump := len(chunk.Code) - offset - 2
	if jump > maxJump {
		p.error("Too much code to jump over.")
	}
	chunk.Code[offset] = byte(jump >> 8)
	chunk.Code[offset+1] = byte(jump)
}

func (p *parser) emitLoop(loopStart int) {
	p.emitOp(bytecode.OpLoop)
	offset := len(p.currentChunk().Code) - loopStart + 2
	if offset > maxJump {
		p.error("Loop body too large.")
	}
	p.emitShort(offset)
}

// Scopes and variables

func (p *parser) beginScope() {
	p.compiler.scopeDepth++
}

func (p *parser) endScope() {
	c := p.compiler
	c.scopeDepth--
	for c.localCount > 0 && c.locals[c.localCount-1].depth > c.scopeDepth {
		if c.locals[c.localCount-1].captured {
			p.emitOp(bytecode.OpCloseUpvalue)
		} else {
			p.emitOp(bytecode.OpPop)
		}
		c.localCount--
	}
}

// discardLocals emits pops for locals above depth without forgetting them;
// next and break leave the scope at runtime but not at compile time.
func (p *parser) discardLocals(depth int) {
	c := p.compiler
	for i := c.localCount - 1; i >= 0 && c.locals[i].depth > depth; i-- {
		if c.locals[i].captured {
			p.emitOp(bytecode.OpCloseUpvalue)
		} else {
			p.emitOp(bytecode.OpPop)
		}
	}
}

func (p *parser) parseVariable(message string) byte {
	p.consume(lexer.TokenIdent, message)
	p.declareVariable()
	if p.compiler.scopeDepth > 0 {
		return 0
	}
	return p.identifierConstant(p.previous.Lexeme)
}

func (p *parser) declareVariable() {
	if p.compiler.scopeDepth == 0 {
		return
	}
	name := p.previous.Lexeme
	c := p.compiler
	for i := c.localCount - 1; i >= 0; i-- {
		l := &c.locals[i]
		if l.depth != -1 && l.depth < c.scopeDepth {
			break
		}
		if l.name == name {
			p.error("A variable with this name already exists in this scope.")
		}
	}
	p.addLocal(name)
}

func (p *parser) addLocal(name string) {
	c := p.compiler
	if c.localCount == maxLocals {
		p.error("Too many local variables in function.")
		return
	}
	c.locals[c.localCount] = local{name: name, depth: -1}
	c.localCount++
}

// addSyntheticLocal claims the current stack top as a named, initialized
// local. The class compiler uses it to bind "super".
func (p *parser) addSyntheticLocal(name string) {
	c := p.compiler
	if c.localCount == maxLocals {
		p.error("Too many local variables in function.")
		return
	}
	c.locals[c.localCount] = local{name: name, depth: c.scopeDepth}
	c.localCount++
}

func (p *parser) markInitialized() {
	c := p.compiler
	if c.scopeDepth == 0 {
		return
	}
	c.locals[c.localCount-1].depth = c.scopeDepth
}

func (p *parser) defineVariable(global byte) {
	if p.compiler.scopeDepth > 0 {
		p.markInitialized()
		return
	}
	p.emitOps(bytecode.OpDefineGlobal, global)
}

func (p *parser) resolveLocal(c *compiler, name string) int {
	for i := c.localCount - 1; i >= 0; i-- {
		if c.locals[i].name == name {
			if c.locals[i].depth == -1 {
				p.error("Cannot read a variable in its own initializer.")
			}
			return i
		}
	}
	return -1
}

func (p *parser) resolveUpvalue(c *compiler, name string) int {
	if c.enclosing == nil {
		return -1
	}
	if slot := p.resolveLocal(c.enclosing, name); slot != -1 {
		c.enclosing.locals[slot].captured = true
		return p.addUpvalue(c, uint8(slot), true)
	}
	if upvalue := p.resolveUpvalue(c.enclosing, name); upvalue != -1 {
		return p.addUpvalue(c, uint8(upvalue), false)
	}
	return -1
}

func (p *parser) addUpvalue(c *compiler, index uint8, isLocal bool) int {
	count := c.function.UpvalueCount
	for i := 0; i < count; i++ {
		if c.upvalues[i].index == index && c.upvalues[i].isLocal == isLocal {
			return i
		}
	}
	if count == maxUpvalues {
		p.error("Too many closure variables in function.")
		return 0
	}
	c.upvalues[count] = compUpvalue{index: index, isLocal: isLocal}
	c.function.UpvalueCount++
	return count
}
