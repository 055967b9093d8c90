package bytecode

import "io"

type ObjType byte

const (
	ObjStringType ObjType = iota
	ObjFunctionType
	ObjUpvalueType
	ObjClosureType
	ObjClassType
	ObjInstanceType
	ObjBoundMethodType
	ObjListType
	ObjMapType
	ObjNativeType
)

// Obj is implemented by every heap-allocated object. The header threads the
// object onto the heap's global object list and carries the GC mark bit.
type Obj interface {
	Type() ObjType
	Header() *ObjHeader
}

type ObjHeader struct {
	Marked bool
	Next   Obj
}

func (h *ObjHeader) Header() *ObjHeader { return h }

// String is an immutable, interned string. Two strings with the same bytes
// are the same object, so equality is pointer identity.
type String struct {
	ObjHeader
	Chars string
	Hash  uint32
}

func (*String) Type() ObjType { return ObjStringType }

// HashString is FNV-1a over the string bytes, computed once at creation.
func HashString(chars string) uint32 {
	hash := uint32(2166136261)
	for i := 0; i < len(chars); i++ {
		hash ^= uint32(chars[i])
		hash *= 16777619
	}
	return hash
}

// Function is a compiled function body. Immutable once compilation of the
// body has finished.
type Function struct {
	ObjHeader
	Arity        int
	UpvalueCount int
	Chunk        *Chunk
	Name         *String // nil for the top-level script
}

func (*Function) Type() ObjType { return ObjFunctionType }

// Upvalue backs a captured variable. While open, Slot indexes the VM stack
// and the VM reads through it; once closed the value lives in Closed.
type Upvalue struct {
	ObjHeader
	Slot     int
	Closed   Value
	IsClosed bool
	Next     *Upvalue // next open upvalue, lower slot
}

func (*Upvalue) Type() ObjType { return ObjUpvalueType }

type Closure struct {
	ObjHeader
	Function *Function
	Upvalues []*Upvalue
}

func (*Closure) Type() ObjType { return ObjClosureType }

type Class struct {
	ObjHeader
	Name    *String
	Methods Table
}

func (*Class) Type() ObjType { return ObjClassType }

type Instance struct {
	ObjHeader
	Class  *Class
	Fields Table
}

func (*Instance) Type() ObjType { return ObjInstanceType }

type BoundMethod struct {
	ObjHeader
	Receiver Value
	Method   *Closure
}

func (*BoundMethod) Type() ObjType { return ObjBoundMethodType }

type List struct {
	ObjHeader
	Elements []Value
}

func (*List) Type() ObjType { return ObjListType }

type Map struct {
	ObjHeader
	Entries Table
}

func (*Map) Type() ObjType { return ObjMapType }

// Runtime is the view of the VM a native function gets. Natives report
// failures through RuntimeError and return the Err sentinel it produces.
type Runtime interface {
	// RuntimeError reports a runtime error and returns the Err sentinel.
	RuntimeError(format string, args ...interface{}) Value
	// TakeString interns a Go string and returns it as a Value.
	TakeString(chars string) Value
	// Output is where print writes.
	Output() io.Writer
	// Input is where input reads.
	Input() io.Reader
}

type NativeFn func(rt Runtime, args []Value) Value

type Native struct {
	ObjHeader
	Name string
	Fn   NativeFn
}

func (*Native) Type() ObjType { return ObjNativeType }
