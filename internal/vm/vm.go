package vm

import (
	"fmt"
	"io"
	"math"
	"os"

	"falcon/internal/bytecode"
	"falcon/internal/compiler"
	"falcon/internal/debug"
	falconerr "falcon/internal/errors"
	"falcon/internal/gc"
)

const (
	// FramesMax bounds call depth; exceeding it is a runtime error.
	FramesMax = 1000
	// StackMax is the value stack size, 256 slots of headroom per frame.
	StackMax = FramesMax * 256
)

type InterpretResult int

const (
	InterpretOK InterpretResult = iota
	InterpretCompileError
	InterpretRuntimeError
)

// CallFrame is one function invocation. Base indexes the value stack at the
// frame's slot 0: the callee, or the receiver inside methods.
type CallFrame struct {
	Closure *bytecode.Closure
	IP      int
	Base    int
}

// VM owns all execution state. Nothing here is shared: every interpreter
// instance gets its own heap, globals and intern table, so two VMs can
// coexist as long as no object crosses between them.
type VM struct {
	frames     [FramesMax]CallFrame
	frameCount int
	stack      []bytecode.Value
	stackTop   int

	openUpvalues *bytecode.Upvalue

	heap       *gc.Heap
	globals    bytecode.Table
	initString *bytecode.String

	fileName string
	IsREPL   bool
	Trace    bool // disassemble each compiled chunk before running it

	stdout io.Writer
	stderr io.Writer
	stdin  io.Reader

	// Set by push on value-stack exhaustion; checked at dispatch.
	overflowed bool
}

func NewVM(heap *gc.Heap) *VM {
	vm := &VM{
		stack:  make([]bytecode.Value, StackMax),
		heap:   heap,
		stdout: os.Stdout,
		stderr: os.Stderr,
		stdin:  os.Stdin,
	}
	heap.AddRoots(vm)
	vm.initString = heap.NewString("init")
	return vm
}

// MarkRoots contributes the VM's roots to a collection: the live stack, the
// frame closures, the open upvalues, the globals and the init string.
func (vm *VM) MarkRoots(h *gc.Heap) {
	for i := 0; i < vm.stackTop; i++ {
		h.MarkValue(vm.stack[i])
	}
	for i := 0; i < vm.frameCount; i++ {
		h.MarkObject(vm.frames[i].Closure)
	}
	for upvalue := vm.openUpvalues; upvalue != nil; upvalue = upvalue.Next {
		h.MarkObject(upvalue)
	}
	h.MarkTable(&vm.globals)
	if vm.initString != nil {
		h.MarkObject(vm.initString)
	}
}

func (vm *VM) Heap() *gc.Heap { return vm.heap }

func (vm *VM) SetOutput(w io.Writer) { vm.stdout = w }

func (vm *VM) SetErrOutput(w io.Writer) { vm.stderr = w }

func (vm *VM) SetInput(r io.Reader) { vm.stdin = r }

// Runtime interface for natives.

func (vm *VM) Output() io.Writer { return vm.stdout }
func (vm *VM) Input() io.Reader  { return vm.stdin }

func (vm *VM) TakeString(chars string) bytecode.Value {
	return bytecode.ObjVal(vm.heap.NewString(chars))
}

// RuntimeError reports a runtime error on behalf of a native and returns
// the Err sentinel the native must pass back.
func (vm *VM) RuntimeError(format string, args ...interface{}) bytecode.Value {
	vm.runtimeError(format, args...)
	return bytecode.ErrVal()
}

// DefineNative installs a native function in the globals table. Both the
// name and the wrapper are pushed while the other is allocated, keeping
// them safe from a collection in between.
func (vm *VM) DefineNative(name string, fn bytecode.NativeFn) {
	nameStr := vm.heap.NewString(name)
	vm.push(bytecode.ObjVal(nameStr))
	native := vm.heap.NewNative(name, fn)
	vm.push(bytecode.ObjVal(native))
	vm.globals.Set(nameStr, bytecode.ObjVal(native))
	vm.pop()
	vm.pop()
}

// Interpret compiles and runs one unit of source.
func (vm *VM) Interpret(source, file string) InterpretResult {
	vm.fileName = file

	function, compileErrors := compiler.Compile(source, file, vm.heap, vm.IsREPL)
	if compileErrors != nil {
		for _, e := range compileErrors {
			fmt.Fprintln(vm.stderr, e.Error())
		}
		return InterpretCompileError
	}

	if vm.Trace {
		debug.DisassembleFunction(vm.stdout, function)
	}

	vm.push(bytecode.ObjVal(function))
	closure := vm.heap.NewClosure(function)
	vm.pop()
	vm.push(bytecode.ObjVal(closure))
	vm.call(closure, 0)

	return vm.run()
}

// Stack primitives

func (vm *VM) push(value bytecode.Value) {
	if vm.stackTop == StackMax {
		vm.overflowed = true
		return
	}
	vm.stack[vm.stackTop] = value
	vm.stackTop++
}

func (vm *VM) pop() bytecode.Value {
	vm.stackTop--
	return vm.stack[vm.stackTop]
}

func (vm *VM) peek(distance int) bytecode.Value {
	return vm.stack[vm.stackTop-1-distance]
}

// Instruction reads

func (vm *VM) readByte(frame *CallFrame) byte {
	b := frame.Closure.Function.Chunk.Code[frame.IP]
	frame.IP++
	return b
}

// readShort reads a big-endian 16-bit operand (jumps, loops, counts).
func (vm *VM) readShort(frame *CallFrame) int {
	hi := vm.readByte(frame)
	lo := vm.readByte(frame)
	return int(hi)<<8 | int(lo)
}

func (vm *VM) readConstant(frame *CallFrame) bytecode.Value {
	return frame.Closure.Function.Chunk.Constants[vm.readByte(frame)]
}

// readConstant16 reads a little-endian 16-bit pool index.
func (vm *VM) readConstant16(frame *CallFrame) bytecode.Value {
	lo := vm.readByte(frame)
	hi := vm.readByte(frame)
	return frame.Closure.Function.Chunk.Constants[int(lo)|int(hi)<<8]
}

func (vm *VM) readString(frame *CallFrame) *bytecode.String {
	s, _ := vm.readConstant(frame).AsString()
	return s
}

// run is the dispatch loop.
func (vm *VM) run() InterpretResult {
	frame := &vm.frames[vm.frameCount-1]

	for {
		if vm.overflowed {
			vm.runtimeError("Stack overflow.")
			return InterpretRuntimeError
		}

		switch op := bytecode.OpCode(vm.readByte(frame)); op {
		case bytecode.OpConstant:
			vm.push(vm.readConstant(frame))

		case bytecode.OpConstant16:
			vm.push(vm.readConstant16(frame))

		case bytecode.OpNull:
			vm.push(bytecode.NullVal())

		case bytecode.OpTrue:
			vm.push(bytecode.BoolVal(true))

		case bytecode.OpFalse:
			vm.push(bytecode.BoolVal(false))

		case bytecode.OpPop:
			vm.pop()

		case bytecode.OpPopExpr:
			value := vm.pop()
			if vm.IsREPL {
				fmt.Fprintln(vm.stdout, bytecode.FormatValue(value))
			}

		case bytecode.OpDup:
			vm.push(vm.peek(0))

		case bytecode.OpDupTwo:
			a, b := vm.peek(1), vm.peek(0)
			vm.push(a)
			vm.push(b)

		case bytecode.OpDefineGlobal:
			name := vm.readString(frame)
			if _, exists := vm.globals.Get(name); exists {
				vm.runtimeError("Variable '%s' is already declared.", name.Chars)
				return InterpretRuntimeError
			}
			vm.globals.Set(name, vm.peek(0))
			vm.pop()

		case bytecode.OpGetGlobal:
			name := vm.readString(frame)
			value, ok := vm.globals.Get(name)
			if !ok {
				vm.runtimeError("Undefined variable '%s'.", name.Chars)
				return InterpretRuntimeError
			}
			vm.push(value)

		case bytecode.OpSetGlobal:
			name := vm.readString(frame)
			if vm.globals.Set(name, vm.peek(0)) {
				vm.globals.Delete(name)
				vm.runtimeError("Undefined variable '%s'.", name.Chars)
				return InterpretRuntimeError
			}

		case bytecode.OpGetLocal:
			slot := vm.readByte(frame)
			vm.push(vm.stack[frame.Base+int(slot)])

		case bytecode.OpSetLocal:
			slot := vm.readByte(frame)
			vm.stack[frame.Base+int(slot)] = vm.peek(0)

		case bytecode.OpGetUpvalue:
			upvalue := frame.Closure.Upvalues[vm.readByte(frame)]
			if upvalue.IsClosed {
				vm.push(upvalue.Closed)
			} else {
				vm.push(vm.stack[upvalue.Slot])
			}

		case bytecode.OpSetUpvalue:
			upvalue := frame.Closure.Upvalues[vm.readByte(frame)]
			if upvalue.IsClosed {
				upvalue.Closed = vm.peek(0)
			} else {
				vm.stack[upvalue.Slot] = vm.peek(0)
			}

		case bytecode.OpCloseUpvalue:
			vm.closeUpvalues(vm.stackTop - 1)
			vm.pop()

		case bytecode.OpAdd:
			a, b := vm.peek(1), vm.peek(0)
			if a.IsNumber() && b.IsNumber() {
				vm.pop()
				vm.pop()
				vm.push(bytecode.NumberVal(a.Num + b.Num))
				break
			}
			as, aok := a.AsString()
			bs, bok := b.AsString()
			if aok && bok {
				// Operands stay on the stack until the result is interned,
				// so a collection during allocation cannot reclaim them.
				result := vm.heap.NewString(as.Chars + bs.Chars)
				vm.pop()
				vm.pop()
				vm.push(bytecode.ObjVal(result))
				break
			}
			vm.runtimeError("Operands must be two numbers or two strings.")
			return InterpretRuntimeError

		case bytecode.OpSub:
			a, b, ok := vm.popNumericOperands()
			if !ok {
				return InterpretRuntimeError
			}
			vm.push(bytecode.NumberVal(a - b))

		case bytecode.OpMul:
			a, b, ok := vm.popNumericOperands()
			if !ok {
				return InterpretRuntimeError
			}
			vm.push(bytecode.NumberVal(a * b))

		case bytecode.OpDiv:
			if vm.peek(0).IsNumber() && vm.peek(0).Num == 0 {
				vm.runtimeError("Cannot perform a division by zero.")
				return InterpretRuntimeError
			}
			a, b, ok := vm.popNumericOperands()
			if !ok {
				return InterpretRuntimeError
			}
			vm.push(bytecode.NumberVal(a / b))

		case bytecode.OpMod:
			if vm.peek(0).IsNumber() && vm.peek(0).Num == 0 {
				vm.runtimeError("Cannot perform a division by zero.")
				return InterpretRuntimeError
			}
			a, b, ok := vm.popNumericOperands()
			if !ok {
				return InterpretRuntimeError
			}
			vm.push(bytecode.NumberVal(math.Mod(a, b)))

		case bytecode.OpPow:
			a, b, ok := vm.popNumericOperands()
			if !ok {
				return InterpretRuntimeError
			}
			vm.push(bytecode.NumberVal(math.Pow(a, b)))

		case bytecode.OpNegate:
			if !vm.peek(0).IsNumber() {
				vm.runtimeError("Operand must be a number.")
				return InterpretRuntimeError
			}
			vm.push(bytecode.NumberVal(-vm.pop().Num))

		case bytecode.OpNot:
			vm.push(bytecode.BoolVal(bytecode.IsFalsey(vm.pop())))

		case bytecode.OpEqual:
			b, a := vm.pop(), vm.pop()
			vm.push(bytecode.BoolVal(bytecode.ValuesEqual(a, b)))

		case bytecode.OpNotEqual:
			b, a := vm.pop(), vm.pop()
			vm.push(bytecode.BoolVal(!bytecode.ValuesEqual(a, b)))

		case bytecode.OpGreater:
			a, b, ok := vm.popNumericOperands()
			if !ok {
				return InterpretRuntimeError
			}
			vm.push(bytecode.BoolVal(a > b))

		case bytecode.OpGreaterEqual:
			a, b, ok := vm.popNumericOperands()
			if !ok {
				return InterpretRuntimeError
			}
			vm.push(bytecode.BoolVal(a >= b))

		case bytecode.OpLess:
			a, b, ok := vm.popNumericOperands()
			if !ok {
				return InterpretRuntimeError
			}
			vm.push(bytecode.BoolVal(a < b))

		case bytecode.OpLessEqual:
			a, b, ok := vm.popNumericOperands()
			if !ok {
				return InterpretRuntimeError
			}
			vm.push(bytecode.BoolVal(a <= b))

		case bytecode.OpAnd:
			// Short-circuit: peek, jump on falsey leaving the value as the
			// result, pop and fall through otherwise.
			offset := vm.readShort(frame)
			if bytecode.IsFalsey(vm.peek(0)) {
				frame.IP += offset
			} else {
				vm.pop()
			}

		case bytecode.OpOr:
			offset := vm.readShort(frame)
			if !bytecode.IsFalsey(vm.peek(0)) {
				frame.IP += offset
			} else {
				vm.pop()
			}

		case bytecode.OpJump:
			frame.IP += vm.readShort(frame)

		case bytecode.OpJumpIfFalse:
			offset := vm.readShort(frame)
			if bytecode.IsFalsey(vm.peek(0)) {
				frame.IP += offset
			}

		case bytecode.OpLoop:
			frame.IP -= vm.readShort(frame)

		case bytecode.OpClosure:
			function, _ := vm.readConstant(frame).Obj.(*bytecode.Function)
			closure := vm.heap.NewClosure(function)
			vm.push(bytecode.ObjVal(closure))
			for i := range closure.Upvalues {
				isLocal := vm.readByte(frame)
				index := vm.readByte(frame)
				if isLocal == 1 {
					closure.Upvalues[i] = vm.captureUpvalue(frame.Base + int(index))
				} else {
					closure.Upvalues[i] = frame.Closure.Upvalues[index]
				}
			}

		case bytecode.OpCall:
			argc := int(vm.readByte(frame))
			if !vm.callValue(vm.peek(argc), argc) {
				return InterpretRuntimeError
			}
			frame = &vm.frames[vm.frameCount-1]

		case bytecode.OpInvoke:
			name := vm.readString(frame)
			argc := int(vm.readByte(frame))
			if !vm.invoke(name, argc) {
				return InterpretRuntimeError
			}
			frame = &vm.frames[vm.frameCount-1]

		case bytecode.OpReturn:
			result := vm.pop()
			vm.closeUpvalues(frame.Base)
			vm.frameCount--
			if vm.frameCount == 0 {
				vm.pop()
				return InterpretOK
			}
			vm.stackTop = frame.Base
			vm.push(result)
			frame = &vm.frames[vm.frameCount-1]

		case bytecode.OpClass:
			name := vm.readString(frame)
			vm.push(bytecode.ObjVal(vm.heap.NewClass(name)))

		case bytecode.OpInherit:
			superclass, ok := vm.peek(1).Obj.(*bytecode.Class)
			if !ok {
				vm.runtimeError("Superclass must be a class.")
				return InterpretRuntimeError
			}
			subclass := vm.peek(0).Obj.(*bytecode.Class)
			// Single inheritance by copying: no parent link survives.
			subclass.Methods.AddAll(&superclass.Methods)
			vm.pop()

		case bytecode.OpMethod:
			name := vm.readString(frame)
			method := vm.peek(0)
			class := vm.peek(1).Obj.(*bytecode.Class)
			class.Methods.Set(name, method)
			vm.pop()

		case bytecode.OpGetProperty:
			name := vm.readString(frame)
			instance, ok := vm.peek(0).Obj.(*bytecode.Instance)
			if !vm.peek(0).IsObj() || !ok {
				vm.runtimeError("Only instances have properties.")
				return InterpretRuntimeError
			}
			if value, found := instance.Fields.Get(name); found {
				vm.pop()
				vm.push(value)
				break
			}
			if !vm.bindMethod(instance.Class, name) {
				return InterpretRuntimeError
			}

		case bytecode.OpSetProperty:
			name := vm.readString(frame)
			instance, ok := vm.peek(1).Obj.(*bytecode.Instance)
			if !vm.peek(1).IsObj() || !ok {
				vm.runtimeError("Only instances have fields.")
				return InterpretRuntimeError
			}
			instance.Fields.Set(name, vm.peek(0))
			value := vm.pop()
			vm.pop()
			vm.push(value)

		case bytecode.OpGetSuper:
			name := vm.readString(frame)
			superclass := vm.pop().Obj.(*bytecode.Class)
			method, found := superclass.Methods.Get(name)
			if !found {
				vm.runtimeError("Undefined superclass method '%s'.", name.Chars)
				return InterpretRuntimeError
			}
			bound := vm.heap.NewBoundMethod(vm.peek(0), method.Obj.(*bytecode.Closure))
			vm.pop()
			vm.push(bytecode.ObjVal(bound))

		case bytecode.OpList:
			count := vm.readShort(frame)
			list := vm.heap.NewList(vm.stack[vm.stackTop-count : vm.stackTop])
			vm.stackTop -= count
			vm.push(bytecode.ObjVal(list))

		case bytecode.OpMap:
			count := vm.readShort(frame)
			m := vm.heap.NewMap()
			base := vm.stackTop - 2*count
			for i := 0; i < count; i++ {
				key, ok := vm.stack[base+2*i].AsString()
				if !ok {
					vm.runtimeError("Map keys must be strings.")
					return InterpretRuntimeError
				}
				m.Entries.Set(key, vm.stack[base+2*i+1])
			}
			vm.stackTop = base
			vm.push(bytecode.ObjVal(m))

		case bytecode.OpIndex:
			index := vm.pop()
			target := vm.pop()
			if list, ok := target.AsList(); ok {
				if !index.IsNumber() {
					vm.runtimeError("List index must be a number.")
					return InterpretRuntimeError
				}
				i := int(index.Num)
				if i < 0 || i >= len(list.Elements) {
					vm.runtimeError("List index out of bounds.")
					return InterpretRuntimeError
				}
				vm.push(list.Elements[i])
				break
			}
			if m, ok := target.AsMap(); ok {
				key, ok := index.AsString()
				if !ok {
					vm.runtimeError("Map keys must be strings.")
					return InterpretRuntimeError
				}
				if value, found := m.Entries.Get(key); found {
					vm.push(value)
				} else {
					vm.push(bytecode.NullVal())
				}
				break
			}
			vm.runtimeError("Only lists and maps can be subscripted.")
			return InterpretRuntimeError

		case bytecode.OpSetIndex:
			value := vm.pop()
			index := vm.pop()
			target := vm.pop()
			if list, ok := target.AsList(); ok {
				if !index.IsNumber() {
					vm.runtimeError("List index must be a number.")
					return InterpretRuntimeError
				}
				i := int(index.Num)
				if i < 0 || i >= len(list.Elements) {
					vm.runtimeError("List index out of bounds.")
					return InterpretRuntimeError
				}
				list.Elements[i] = value
				vm.push(value)
				break
			}
			if m, ok := target.AsMap(); ok {
				key, ok := index.AsString()
				if !ok {
					vm.runtimeError("Map keys must be strings.")
					return InterpretRuntimeError
				}
				m.Entries.Set(key, value)
				vm.push(value)
				break
			}
			vm.runtimeError("Cannot perform a subscript assignment on this type.")
			return InterpretRuntimeError

		default:
			// Unknown opcodes mark an implementation bug, not user error.
			vm.runtimeError("Unknown opcode %d.", op)
			return InterpretRuntimeError
		}
	}
}

func (vm *VM) popNumericOperands() (float64, float64, bool) {
	if !vm.peek(0).IsNumber() || !vm.peek(1).IsNumber() {
		vm.runtimeError("Operands must be numbers.")
		return 0, 0, false
	}
	b := vm.pop().Num
	a := vm.pop().Num
	return a, b, true
}

// callValue dispatches a call on any callee kind.
func (vm *VM) callValue(callee bytecode.Value, argc int) bool {
	if callee.IsObj() {
		switch o := callee.Obj.(type) {
		case *bytecode.Closure:
			return vm.call(o, argc)

		case *bytecode.Native:
			args := vm.stack[vm.stackTop-argc : vm.stackTop]
			result := o.Fn(vm, args)
			if result.IsErr() {
				// The native already reported through RuntimeError.
				return false
			}
			vm.stackTop -= argc + 1
			vm.push(result)
			return true

		case *bytecode.Class:
			instance := vm.heap.NewInstance(o)
			vm.stack[vm.stackTop-argc-1] = bytecode.ObjVal(instance)
			if init, found := o.Methods.Get(vm.initString); found {
				return vm.call(init.Obj.(*bytecode.Closure), argc)
			}
			if argc != 0 {
				vm.runtimeError("Expected 0 arguments but got %d.", argc)
				return false
			}
			return true

		case *bytecode.BoundMethod:
			vm.stack[vm.stackTop-argc-1] = o.Receiver
			return vm.call(o.Method, argc)
		}
	}
	vm.runtimeError("Can only call functions and classes.")
	return false
}

func (vm *VM) call(closure *bytecode.Closure, argc int) bool {
	if argc != closure.Function.Arity {
		vm.runtimeError("Expected %d arguments but got %d.", closure.Function.Arity, argc)
		return false
	}
	if vm.frameCount == FramesMax {
		vm.runtimeError("Stack overflow.")
		return false
	}
	frame := &vm.frames[vm.frameCount]
	vm.frameCount++
	frame.Closure = closure
	frame.IP = 0
	frame.Base = vm.stackTop - argc - 1
	return true
}

// invoke is the fast path for receiver.method(args): no intermediate bound
// method is created. A field with the same name shadows the method and its
// value is called instead.
func (vm *VM) invoke(name *bytecode.String, argc int) bool {
	receiver := vm.peek(argc)
	instance, ok := receiver.Obj.(*bytecode.Instance)
	if !receiver.IsObj() || !ok {
		vm.runtimeError("Only instances have methods.")
		return false
	}
	if field, found := instance.Fields.Get(name); found {
		vm.stack[vm.stackTop-argc-1] = field
		return vm.callValue(field, argc)
	}
	method, found := instance.Class.Methods.Get(name)
	if !found {
		vm.runtimeError("Undefined property '%s'.", name.Chars)
		return false
	}
	return vm.call(method.Obj.(*bytecode.Closure), argc)
}

func (vm *VM) bindMethod(class *bytecode.Class, name *bytecode.String) bool {
	method, found := class.Methods.Get(name)
	if !found {
		vm.runtimeError("Undefined property '%s'.", name.Chars)
		return false
	}
	bound := vm.heap.NewBoundMethod(vm.peek(0), method.Obj.(*bytecode.Closure))
	vm.pop()
	vm.push(bytecode.ObjVal(bound))
	return true
}

// captureUpvalue returns the open upvalue for a stack slot, reusing an
// existing one so every closure over a variable shares a single cell. The
// list is sorted by descending slot, at most one entry per slot.
func (vm *VM) captureUpvalue(slot int) *bytecode.Upvalue {
	var prev *bytecode.Upvalue
	upvalue := vm.openUpvalues
	for upvalue != nil && upvalue.Slot > slot {
		prev = upvalue
		upvalue = upvalue.Next
	}
	if upvalue != nil && upvalue.Slot == slot {
		return upvalue
	}

	created := vm.heap.NewUpvalue(slot)
	created.Next = upvalue
	if prev == nil {
		vm.openUpvalues = created
	} else {
		prev.Next = created
	}
	return created
}

// closeUpvalues promotes every open upvalue at or above the boundary slot
// to the heap before those stack slots die.
func (vm *VM) closeUpvalues(boundary int) {
	for vm.openUpvalues != nil && vm.openUpvalues.Slot >= boundary {
		upvalue := vm.openUpvalues
		upvalue.Closed = vm.stack[upvalue.Slot]
		upvalue.IsClosed = true
		vm.openUpvalues = upvalue.Next
		upvalue.Next = nil
	}
}

// runtimeError reports a runtime error with a stack trace and resets the
// VM, leaving it reusable (the REPL keeps going after one).
func (vm *VM) runtimeError(format string, args ...interface{}) {
	message := fmt.Sprintf(format, args...)

	trace := make([]falconerr.StackFrame, 0, vm.frameCount)
	for i := vm.frameCount - 1; i >= 0; i-- {
		frame := &vm.frames[i]
		function := frame.Closure.Function
		name := ""
		if function.Name != nil {
			name = function.Name.Chars
		}
		line := function.Chunk.Line(frame.IP - 1)
		trace = append(trace, falconerr.StackFrame{Function: name, Line: line})
	}

	err := falconerr.NewRuntimeError(message, vm.fileName).WithStack(trace)
	fmt.Fprintln(vm.stderr, err.Error())

	vm.resetStack()
}

func (vm *VM) resetStack() {
	vm.stackTop = 0
	vm.frameCount = 0
	vm.openUpvalues = nil
	vm.overflowed = false
}
