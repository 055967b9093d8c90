package bytecode

type OpCode byte

const (
	// Constants and literals
	OpConstant OpCode = iota
	OpConstant16
	OpNull
	OpTrue
	OpFalse

	// Stack manipulation
	OpPop
	OpPopExpr
	OpDup
	OpDupTwo

	// Variables
	OpDefineGlobal
	OpGetGlobal
	OpSetGlobal
	OpGetLocal
	OpSetLocal
	OpGetUpvalue
	OpSetUpvalue
	OpCloseUpvalue

	// Arithmetic
	OpAdd
	OpSub
	OpMul
	OpDiv
	OpMod
	OpPow
	OpNegate

	// Comparison and logic
	OpEqual
	OpNotEqual
	OpGreater
	OpGreaterEqual
	OpLess
	OpLessEqual
	OpNot
	OpAnd
	OpOr

	// Control flow
	OpJump
	OpJumpIfFalse
	OpLoop

	// Functions and calls
	OpCall
	OpInvoke
	OpClosure
	OpReturn

	// Classes
	OpClass
	OpInherit
	OpMethod
	OpGetProperty
	OpSetProperty
	OpGetSuper

	// Collections
	OpList
	OpMap
	OpIndex
	OpSetIndex
)

var opNames = [...]string{
	OpConstant:     "CONSTANT",
	OpConstant16:   "CONSTANT_16",
	OpNull:         "NULL",
	OpTrue:         "TRUE",
	OpFalse:        "FALSE",
	OpPop:          "POP",
	OpPopExpr:      "POP_EXPR",
	OpDup:          "DUP",
	OpDupTwo:       "DUP_TWO",
	OpDefineGlobal: "DEFINE_GLOBAL",
	OpGetGlobal:    "GET_GLOBAL",
	OpSetGlobal:    "SET_GLOBAL",
	OpGetLocal:     "GET_LOCAL",
	OpSetLocal:     "SET_LOCAL",
	OpGetUpvalue:   "GET_UPVALUE",
	OpSetUpvalue:   "SET_UPVALUE",
	OpCloseUpvalue: "CLOSE_UPVALUE",
	OpAdd:          "ADD",
	OpSub:          "SUB",
	OpMul:          "MUL",
	OpDiv:          "DIV",
	OpMod:          "MOD",
	OpPow:          "POW",
	OpNegate:       "NEGATE",
	OpEqual:        "EQUAL",
	OpNotEqual:     "NOT_EQUAL",
	OpGreater:      "GREATER",
	OpGreaterEqual: "GREATER_EQUAL",
	OpLess:         "LESS",
	OpLessEqual:    "LESS_EQUAL",
	OpNot:          "NOT",
	OpAnd:          "AND",
	OpOr:           "OR",
	OpJump:         "JUMP",
	OpJumpIfFalse:  "JUMP_IF_FALSE",
	OpLoop:         "LOOP",
	OpCall:         "CALL",
	OpInvoke:       "INVOKE",
	OpClosure:      "CLOSURE",
	OpReturn:       "RETURN",
	OpClass:        "CLASS",
	OpInherit:      "INHERIT",
	OpMethod:       "METHOD",
	OpGetProperty:  "GET_PROPERTY",
	OpSetProperty:  "SET_PROPERTY",
	OpGetSuper:     "GET_SUPER",
	OpList:         "LIST",
	OpMap:          "MAP",
	OpIndex:        "INDEX",
	OpSetIndex:     "SET_INDEX",
}

func (op OpCode) String() string {
	if int(op) < len(opNames) && opNames[op] != "" {
		return opNames[op]
	}
	return "UNKNOWN"
}
