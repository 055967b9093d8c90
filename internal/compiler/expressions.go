package compiler

import (
	"strconv"

	"falcon/internal/bytecode"
	"falcon/internal/lexer"
)

type precedence int

const (
	precNone precedence = iota
	precAssign
	precTernary
	precOr
	precAnd
	precEqual
	precCompare
	precTerm
	precFactor
	precUnary
	precPow
	precPostfix
)

type parseFn func(p *parser, canAssign bool)

type parseRule struct {
	prefix     parseFn
	infix      parseFn
	precedence precedence
}

var rules map[lexer.TokenType]parseRule

// The table is built in init because the rule functions close over it
// through parsePrecedence.
func init() {
	rules = map[lexer.TokenType]parseRule{
		lexer.TokenLParen:      {grouping, call, precPostfix},
		lexer.TokenLBracket:    {listLiteral, subscript, precPostfix},
		lexer.TokenLBrace:      {mapLiteral, nil, precNone},
		lexer.TokenDot:         {nil, dot, precPostfix},
		lexer.TokenMinus:       {unary, binary, precTerm},
		lexer.TokenPlus:        {nil, binary, precTerm},
		lexer.TokenStar:        {nil, binary, precFactor},
		lexer.TokenSlash:       {nil, binary, precFactor},
		lexer.TokenPercent:     {nil, binary, precFactor},
		lexer.TokenCaret:       {nil, power, precPow},
		lexer.TokenNot:         {unary, nil, precNone},
		lexer.TokenNotEqual:    {nil, binary, precEqual},
		lexer.TokenDoubleEqual: {nil, binary, precEqual},
		lexer.TokenGT:          {nil, binary, precCompare},
		lexer.TokenGE:          {nil, binary, precCompare},
		lexer.TokenLT:          {nil, binary, precCompare},
		lexer.TokenLE:          {nil, binary, precCompare},
		lexer.TokenQuestion:    {nil, ternary, precTernary},
		lexer.TokenAnd:         {nil, and, precAnd},
		lexer.TokenOr:          {nil, or, precOr},
		lexer.TokenIdent:       {variable, nil, precNone},
		lexer.TokenString:      {stringLiteral, nil, precNone},
		lexer.TokenNumber:      {number, nil, precNone},
		lexer.TokenTrue:        {literal, nil, precNone},
		lexer.TokenFalse:       {literal, nil, precNone},
		lexer.TokenNull:        {literal, nil, precNone},
		lexer.TokenThis:        {this, nil, precNone},
		lexer.TokenSuper:       {super, nil, precNone},
	}
}

func (p *parser) expression() {
	p.parsePrecedence(precAssign)
}

// parsePrecedence is the Pratt driver. Assignment is only legal when the
// surrounding precedence allows it (at or below the ternary level); prefix
// rules receive that as canAssign and an unconsumed '=' afterwards means
// the target was not assignable.
func (p *parser) parsePrecedence(prec precedence) {
	p.advance()
	rule := rules[p.previous.Type]
	if rule.prefix == nil {
		p.error("Expected an expression.")
		return
	}

	canAssign := prec <= precTernary
	rule.prefix(p, canAssign)

	for prec <= rules[p.current.Type].precedence {
		p.advance()
		rules[p.previous.Type].infix(p, canAssign)
	}

	if canAssign && p.matchAssignmentOperator() {
		p.error("Invalid assignment target.")
	}
}

func (p *parser) matchAssignmentOperator() bool {
	switch p.current.Type {
	case lexer.TokenEqual, lexer.TokenPlusEqual, lexer.TokenMinusEqual,
		lexer.TokenStarEqual, lexer.TokenSlashEqual, lexer.TokenPercentEqual,
		lexer.TokenCaretEqual:
		p.advance()
		return true
	}
	return false
}

// matchCompound consumes a compound assignment operator and returns the
// arithmetic opcode it desugars to.
func (p *parser) matchCompound() (bytecode.OpCode, bool) {
	switch p.current.Type {
	case lexer.TokenPlusEqual:
		p.advance()
		return bytecode.OpAdd, true
	case lexer.TokenMinusEqual:
		p.advance()
		return bytecode.OpSub, true
	case lexer.TokenStarEqual:
		p.advance()
		return bytecode.OpMul, true
	case lexer.TokenSlashEqual:
		p.advance()
		return bytecode.OpDiv, true
	case lexer.TokenPercentEqual:
		p.advance()
		return bytecode.OpMod, true
	case lexer.TokenCaretEqual:
		p.advance()
		return bytecode.OpPow, true
	}
	return 0, false
}

func number(p *parser, _ bool) {
	value, err := strconv.ParseFloat(p.previous.Lexeme, 64)
	if err != nil {
		p.error("Invalid number literal.")
		return
	}
	p.emitConstant(bytecode.NumberVal(value))
}

func stringLiteral(p *parser, _ bool) {
	p.emitConstant(bytecode.ObjVal(p.heap.NewString(p.previous.Lexeme)))
}

func literal(p *parser, _ bool) {
	switch p.previous.Type {
	case lexer.TokenTrue:
		p.emitOp(bytecode.OpTrue)
	case lexer.TokenFalse:
		p.emitOp(bytecode.OpFalse)
	case lexer.TokenNull:
		p.emitOp(bytecode.OpNull)
	}
}

func grouping(p *parser, _ bool) {
	p.expression()
	p.consume(lexer.TokenRParen, "Expected ')' after expression.")
}

func unary(p *parser, _ bool) {
	operator := p.previous.Type
	p.parsePrecedence(precUnary)
	switch operator {
	case lexer.TokenMinus:
		p.emitOp(bytecode.OpNegate)
	case lexer.TokenNot:
		p.emitOp(bytecode.OpNot)
	}
}

func binary(p *parser, _ bool) {
	operator := p.previous.Type
	p.parsePrecedence(rules[operator].precedence + 1)
	switch operator {
	case lexer.TokenPlus:
		p.emitOp(bytecode.OpAdd)
	case lexer.TokenMinus:
		p.emitOp(bytecode.OpSub)
	case lexer.TokenStar:
		p.emitOp(bytecode.OpMul)
	case lexer.TokenSlash:
		p.emitOp(bytecode.OpDiv)
	case lexer.TokenPercent:
		p.emitOp(bytecode.OpMod)
	case lexer.TokenDoubleEqual:
		p.emitOp(bytecode.OpEqual)
	case lexer.TokenNotEqual:
		p.emitOp(bytecode.OpNotEqual)
	case lexer.TokenGT:
		p.emitOp(bytecode.OpGreater)
	case lexer.TokenGE:
		p.emitOp(bytecode.OpGreaterEqual)
	case lexer.TokenLT:
		p.emitOp(bytecode.OpLess)
	case lexer.TokenLE:
		p.emitOp(bytecode.OpLessEqual)
	}
}

// power is right-associative: a ^ b ^ c is a ^ (b ^ c).
func power(p *parser, _ bool) {
	p.parsePrecedence(precPow)
	p.emitOp(bytecode.OpPow)
}

// and emits the short-circuit jump. The operand stays on the stack: the
// opcode peeks, jumps when falsey, and pops only on fall-through.
func and(p *parser, _ bool) {
	jump := p.emitJump(bytecode.OpAnd)
	p.parsePrecedence(precAnd)
	p.patchJump(jump)
}

func or(p *parser, _ bool) {
	jump := p.emitJump(bytecode.OpOr)
	p.parsePrecedence(precOr)
	p.patchJump(jump)
}

func ternary(p *parser, _ bool) {
	elseJump := p.emitJump(bytecode.OpJumpIfFalse)
	p.emitOp(bytecode.OpPop)
	p.parsePrecedence(precTernary)
	endJump := p.emitJump(bytecode.OpJump)
	p.consume(lexer.TokenColon, "Expected ':' after then branch of ternary.")
	p.patchJump(elseJump)
	p.emitOp(bytecode.OpPop)
	p.parsePrecedence(precTernary)
	p.patchJump(endJump)
}

func variable(p *parser, canAssign bool) {
	p.namedVariable(p.previous.Lexeme, canAssign)
}

func (p *parser) namedVariable(name string, canAssign bool) {
	var getOp, setOp bytecode.OpCode
	var arg byte
	if slot := p.resolveLocal(p.compiler, name); slot != -1 {
		getOp, setOp, arg = bytecode.OpGetLocal, bytecode.OpSetLocal, byte(slot)
	} else if upvalue := p.resolveUpvalue(p.compiler, name); upvalue != -1 {
		getOp, setOp, arg = bytecode.OpGetUpvalue, bytecode.OpSetUpvalue, byte(upvalue)
	} else {
		// Unresolved names are late-bound globals.
		getOp, setOp = bytecode.OpGetGlobal, bytecode.OpSetGlobal
		arg = p.identifierConstant(name)
	}

	if canAssign && p.match(lexer.TokenEqual) {
		p.expression()
		p.emitOps(setOp, arg)
		return
	}
	if canAssign {
		if op, ok := p.matchCompound(); ok {
			p.emitOps(getOp, arg)
			p.expression()
			p.emitOp(op)
			p.emitOps(setOp, arg)
			return
		}
	}
	p.emitOps(getOp, arg)
}

// loadNamed compiles a read of name; used for the implicit this/super.
func (p *parser) loadNamed(name string) {
	p.namedVariable(name, false)
}

func call(p *parser, _ bool) {
	argc := p.argumentList()
	p.emitOps(bytecode.OpCall, argc)
}

func (p *parser) argumentList() byte {
	count := 0
	if !p.check(lexer.TokenRParen) {
		for {
			p.expression()
			if count == 255 {
				p.error("Cannot have more than 255 arguments.")
			}
			count++
			if !p.match(lexer.TokenComma) {
				break
			}
		}
	}
	p.consume(lexer.TokenRParen, "Expected ')' after arguments.")
	return byte(count)
}

func dot(p *parser, canAssign bool) {
	p.consume(lexer.TokenIdent, "Expected a property name after '.'.")
	name := p.identifierConstant(p.previous.Lexeme)

	if canAssign && p.match(lexer.TokenEqual) {
		p.expression()
		p.emitOps(bytecode.OpSetProperty, name)
		return
	}
	if canAssign {
		if op, ok := p.matchCompound(); ok {
			p.emitOp(bytecode.OpDup)
			p.emitOps(bytecode.OpGetProperty, name)
			p.expression()
			p.emitOp(op)
			p.emitOps(bytecode.OpSetProperty, name)
			return
		}
	}
	if p.match(lexer.TokenLParen) {
		argc := p.argumentList()
		p.emitOps(bytecode.OpInvoke, name)
		p.emitByte(argc)
		return
	}
	p.emitOps(bytecode.OpGetProperty, name)
}

func subscript(p *parser, canAssign bool) {
	p.expression()
	p.consume(lexer.TokenRBracket, "Expected ']' after subscript.")

	if canAssign && p.match(lexer.TokenEqual) {
		p.expression()
		p.emitOp(bytecode.OpSetIndex)
		return
	}
	if canAssign {
		if op, ok := p.matchCompound(); ok {
			p.emitOp(bytecode.OpDupTwo)
			p.emitOp(bytecode.OpIndex)
			p.expression()
			p.emitOp(op)
			p.emitOp(bytecode.OpSetIndex)
			return
		}
	}
	p.emitOp(bytecode.OpIndex)
}

const maxCollectionElements = 65535

func listLiteral(p *parser, _ bool) {
	count := 0
	if !p.check(lexer.TokenRBracket) {
		for {
			p.expression()
			if count == maxCollectionElements {
				p.error("Too many elements in a list literal.")
			}
			count++
			if !p.match(lexer.TokenComma) {
				break
			}
		}
	}
	p.consume(lexer.TokenRBracket, "Expected ']' after list elements.")
	p.emitOp(bytecode.OpList)
	p.emitShort(count)
}

func mapLiteral(p *parser, _ bool) {
	count := 0
	if !p.check(lexer.TokenRBrace) {
		for {
			p.expression()
			p.consume(lexer.TokenColon, "Expected ':' after map key.")
			p.expression()
			if count == maxCollectionElements {
				p.error("Too many entries in a map literal.")
			}
			count++
			if !p.match(lexer.TokenComma) {
				break
			}
		}
	}
	p.consume(lexer.TokenRBrace, "Expected '}' after map entries.")
	p.emitOp(bytecode.OpMap)
	p.emitShort(count)
}

func this(p *parser, _ bool) {
	if p.classCompiler == nil {
		p.error("Cannot use 'this' outside of a class.")
		return
	}
	variable(p, false)
}

func super(p *parser, _ bool) {
	if p.classCompiler == nil {
		p.error("Cannot use 'super' outside of a class.")
	} else if !p.classCompiler.hasSuper {
		p.error("Cannot use 'super' in a class with no superclass.")
	}
	p.consume(lexer.TokenDot, "Expected '.' after 'super'.")
	p.consume(lexer.TokenIdent, "Expected a superclass method name.")
	name := p.identifierConstant(p.previous.Lexeme)

	p.loadNamed("this")
	p.loadNamed("super")
	p.emitOps(bytecode.OpGetSuper, name)
}
