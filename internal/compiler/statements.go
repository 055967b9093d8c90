package compiler

import (
	"falcon/internal/bytecode"
	"falcon/internal/lexer"
)

func (p *parser) declaration() {
	switch {
	case p.match(lexer.TokenClass):
		p.classDeclaration()
	case p.match(lexer.TokenFunction):
		p.funDeclaration()
	case p.match(lexer.TokenVar):
		p.varDeclaration()
	default:
		p.statement()
	}
	if p.panicMode {
		p.synchronize()
	}
}

// varDeclaration handles declarator lists: var a, b = expr, c;
func (p *parser) varDeclaration() {
	for {
		global := p.parseVariable("Expected a variable name.")
		if p.match(lexer.TokenEqual) {
			p.expression()
		} else {
			p.emitOp(bytecode.OpNull)
		}
		p.defineVariable(global)
		if !p.match(lexer.TokenComma) {
			break
		}
	}
	p.consume(lexer.TokenSemicolon, "Expected ';' after variable declaration.")
}

func (p *parser) funDeclaration() {
	global := p.parseVariable("Expected a function name.")
	// A function may refer to itself; it is initialized before its body.
	p.markInitialized()
	p.functionBody(kindFunction)
	p.defineVariable(global)
}

// functionBody compiles parameters and body in a fresh compiler, then emits
// the CLOSURE instruction with one (isLocal, index) pair per upvalue.
func (p *parser) functionBody(kind functionKind) {
	p.beginFunction(kind)
	p.beginScope()

	p.consume(lexer.TokenLParen, "Expected '(' after function name.")
	if !p.check(lexer.TokenRParen) {
		for {
			p.compiler.function.Arity++
			if p.compiler.function.Arity > 255 {
				p.errorAtCurrent("Cannot have more than 255 parameters.")
			}
			param := p.parseVariable("Expected a parameter name.")
			p.defineVariable(param)
			if !p.match(lexer.TokenComma) {
				break
			}
		}
	}
	p.consume(lexer.TokenRParen, "Expected ')' after parameters.")
	p.consume(lexer.TokenLBrace, "Expected '{' before function body.")
	p.block()

	fnCompiler := p.compiler
	function := p.endFunction()

	index := p.makeConstant8(bytecode.ObjVal(function))
	p.emitOps(bytecode.OpClosure, index)
	for i := 0; i < function.UpvalueCount; i++ {
		if fnCompiler.upvalues[i].isLocal {
			p.emitByte(1)
		} else {
			p.emitByte(0)
		}
		p.emitByte(fnCompiler.upvalues[i].index)
	}
}

func (p *parser) classDeclaration() {
	p.consume(lexer.TokenIdent, "Expected a class name.")
	className := p.previous.Lexeme
	nameConstant := p.identifierConstant(className)
	p.declareVariable()

	p.emitOps(bytecode.OpClass, nameConstant)
	p.defineVariable(nameConstant)

	cc := &classCompiler{enclosing: p.classCompiler}
	p.classCompiler = cc

	if p.match(lexer.TokenExtends) {
		p.consume(lexer.TokenIdent, "Expected a superclass name.")
		if p.previous.Lexeme == className {
			p.error("A class cannot inherit from itself.")
		}
		variable(p, false)

		// The superclass value stays on the stack for the whole class body,
		// addressable as the "super" local.
		p.beginScope()
		p.addSyntheticLocal("super")

		p.namedVariable(className, false)
		p.emitOp(bytecode.OpInherit)
		cc.hasSuper = true
	}

	p.namedVariable(className, false)
	p.consume(lexer.TokenLBrace, "Expected '{' before class body.")
	for !p.check(lexer.TokenRBrace) && !p.check(lexer.TokenEOF) {
		p.method()
	}
	p.consume(lexer.TokenRBrace, "Expected '}' after class body.")
	p.emitOp(bytecode.OpPop)

	if cc.hasSuper {
		p.endScope()
	}
	p.classCompiler = cc.enclosing
}

func (p *parser) method() {
	p.consume(lexer.TokenIdent, "Expected a method name.")
	constant := p.identifierConstant(p.previous.Lexeme)
	kind := kindMethod
	if p.previous.Lexeme == "init" {
		kind = kindInitializer
	}
	p.functionBody(kind)
	p.emitOps(bytecode.OpMethod, constant)
}

func (p *parser) statement() {
	switch {
	case p.match(lexer.TokenIf):
		p.ifStatement()
	case p.match(lexer.TokenSwitch):
		p.switchStatement()
	case p.match(lexer.TokenWhile):
		p.whileStatement()
	case p.match(lexer.TokenFor):
		p.forStatement()
	case p.match(lexer.TokenReturn):
		p.returnStatement()
	case p.match(lexer.TokenNext):
		p.nextStatement()
	case p.match(lexer.TokenBreak):
		p.breakStatement()
	case p.match(lexer.TokenLBrace):
		p.beginScope()
		p.block()
		p.endScope()
	default:
		p.expressionStatement()
	}
}

func (p *parser) block() {
	for !p.check(lexer.TokenRBrace) && !p.check(lexer.TokenEOF) {
		p.declaration()
	}
	p.consume(lexer.TokenRBrace, "Expected '}' after block.")
}

func (p *parser) expressionStatement() {
	p.expression()
	p.consume(lexer.TokenSemicolon, "Expected ';' after expression.")
	// In a REPL the value of a top-level expression statement is shown
	// before being discarded.
	if p.repl && p.compiler.kind == kindScript {
		p.emitOp(bytecode.OpPopExpr)
	} else {
		p.emitOp(bytecode.OpPop)
	}
}

func (p *parser) blockStatement() {
	p.consume(lexer.TokenLBrace, "Expected '{' before block.")
	p.beginScope()
	p.block()
	p.endScope()
}

func (p *parser) ifStatement() {
	p.expression()
	thenJump := p.emitJump(bytecode.OpJumpIfFalse)
	p.emitOp(bytecode.OpPop)
	p.blockStatement()

	elseJump := p.emitJump(bytecode.OpJump)
	p.patchJump(thenJump)
	p.emitOp(bytecode.OpPop)

	if p.match(lexer.TokenElse) {
		if p.match(lexer.TokenIf) {
			p.ifStatement()
		} else {
			p.blockStatement()
		}
	}
	p.patchJump(elseJump)
}

// switchStatement compiles the when-chain: the first truthy arm runs, then
// control jumps past the whole statement.
func (p *parser) switchStatement() {
	p.consume(lexer.TokenLBrace, "Expected '{' after 'switch'.")

	var endJumps []int
	for p.match(lexer.TokenWhen) {
		p.expression()
		p.consume(lexer.TokenArrow, "Expected '->' after condition.")
		falseJump := p.emitJump(bytecode.OpJumpIfFalse)
		p.emitOp(bytecode.OpPop)
		p.statement()
		endJumps = append(endJumps, p.emitJump(bytecode.OpJump))
		p.patchJump(falseJump)
		p.emitOp(bytecode.OpPop)
	}
	if p.match(lexer.TokenElse) {
		p.consume(lexer.TokenArrow, "Expected '->' after 'else'.")
		p.statement()
	}
	p.consume(lexer.TokenRBrace, "Expected '}' after switch cases.")

	for _, jump := range endJumps {
		p.patchJump(jump)
	}
}

func (p *parser) whileStatement() {
	loop := &loopContext{
		enclosing:  p.compiler.loop,
		start:      len(p.currentChunk().Code),
		scopeDepth: p.compiler.scopeDepth,
	}
	p.compiler.loop = loop

	p.expression()
	exitJump := p.emitJump(bytecode.OpJumpIfFalse)
	p.emitOp(bytecode.OpPop)
	p.blockStatement()
	p.emitLoop(loop.start)

	p.patchJump(exitJump)
	p.emitOp(bytecode.OpPop)

	for _, jump := range loop.breakJumps {
		p.patchJump(jump)
	}
	p.compiler.loop = loop.enclosing
}

// forStatement: for init, cond, incr { body }. Every clause may be empty.
// The initializer declares a loop-scoped variable, with or without 'var'.
func (p *parser) forStatement() {
	p.beginScope()

	if !p.check(lexer.TokenComma) {
		if p.match(lexer.TokenVar) {
			p.consume(lexer.TokenIdent, "Expected a variable name.")
		} else {
			p.consume(lexer.TokenIdent, "Expected a loop variable.")
		}
		p.declareVariable()
		p.consume(lexer.TokenEqual, "Expected '=' after loop variable.")
		p.expression()
		p.markInitialized()
	}
	p.consume(lexer.TokenComma, "Expected ',' after loop initializer.")

	loop := &loopContext{
		enclosing:  p.compiler.loop,
		start:      len(p.currentChunk().Code),
		scopeDepth: p.compiler.scopeDepth,
	}
	p.compiler.loop = loop

	exitJump := -1
	if !p.check(lexer.TokenComma) {
		p.expression()
		exitJump = p.emitJump(bytecode.OpJumpIfFalse)
		p.emitOp(bytecode.OpPop)
	}
	p.consume(lexer.TokenComma, "Expected ',' after loop condition.")

	if !p.check(lexer.TokenLBrace) {
		// Jump over the increment on the way in; the loop back-edge runs
		// it before re-testing the condition.
		bodyJump := p.emitJump(bytecode.OpJump)
		incrementStart := len(p.currentChunk().Code)
		p.expression()
		p.emitOp(bytecode.OpPop)
		p.emitLoop(loop.start)
		loop.start = incrementStart
		p.patchJump(bodyJump)
	}

	p.blockStatement()
	p.emitLoop(loop.start)

	if exitJump != -1 {
		p.patchJump(exitJump)
		p.emitOp(bytecode.OpPop)
	}
	for _, jump := range loop.breakJumps {
		p.patchJump(jump)
	}
	p.compiler.loop = loop.enclosing

	p.endScope()
}

func (p *parser) nextStatement() {
	loop := p.compiler.loop
	if loop == nil {
		p.error("Cannot use 'next' outside of a loop.")
		p.consume(lexer.TokenSemicolon, "Expected ';' after 'next'.")
		return
	}
	p.consume(lexer.TokenSemicolon, "Expected ';' after 'next'.")
	p.discardLocals(loop.scopeDepth)
	p.emitLoop(loop.start)
}

func (p *parser) breakStatement() {
	loop := p.compiler.loop
	if loop == nil {
		p.error("Cannot use 'break' outside of a loop.")
		p.consume(lexer.TokenSemicolon, "Expected ';' after 'break'.")
		return
	}
	p.consume(lexer.TokenSemicolon, "Expected ';' after 'break'.")
	p.discardLocals(loop.scopeDepth)
	loop.breakJumps = append(loop.breakJumps, p.emitJump(bytecode.OpJump))
}

func (p *parser) returnStatement() {
	if p.compiler.kind == kindScript {
		p.error("Cannot return from top-level code.")
	}
	if p.match(lexer.TokenSemicolon) {
		p.emitReturn()
		return
	}
	if p.compiler.kind == kindInitializer {
		p.error("Cannot return a value from an initializer.")
	}
	p.expression()
	p.consume(lexer.TokenSemicolon, "Expected ';' after return value.")
	p.emitOp(bytecode.OpReturn)
}
