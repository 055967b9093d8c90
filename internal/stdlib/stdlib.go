// Package stdlib is the native function set. It sits outside the execution
// core and reaches it only through the VM's native registration interface.
package stdlib

import (
	"bufio"
	"fmt"
	"math"
	"os"
	"strconv"
	"strings"
	"time"

	"falcon/internal/bytecode"
	"falcon/internal/vm"
)

var processStart = time.Now()

// Register installs the native function set into a VM's globals.
func Register(machine *vm.VM) {
	stdin := bufio.NewReader(machine.Input())

	machine.DefineNative("clock", clockNative)
	machine.DefineNative("time", timeNative)
	machine.DefineNative("exit", exitNative)
	machine.DefineNative("print", printNative)
	machine.DefineNative("input", inputNative(stdin))
	machine.DefineNative("type", typeNative)
	machine.DefineNative("str", strNative)
	machine.DefineNative("num", numNative)
	machine.DefineNative("abs", mathNative("abs", math.Abs))
	machine.DefineNative("ceil", mathNative("ceil", math.Ceil))
	machine.DefineNative("floor", mathNative("floor", math.Floor))
	machine.DefineNative("sqrt", sqrtNative)
	machine.DefineNative("pow", powNative)
	machine.DefineNative("len", lenNative)
}

func clockNative(rt bytecode.Runtime, args []bytecode.Value) bytecode.Value {
	if len(args) != 0 {
		return rt.RuntimeError("Expected 0 arguments but got %d.", len(args))
	}
	return bytecode.NumberVal(time.Since(processStart).Seconds())
}

func timeNative(rt bytecode.Runtime, args []bytecode.Value) bytecode.Value {
	if len(args) != 0 {
		return rt.RuntimeError("Expected 0 arguments but got %d.", len(args))
	}
	return bytecode.NumberVal(float64(time.Now().Unix()))
}

func exitNative(rt bytecode.Runtime, args []bytecode.Value) bytecode.Value {
	code := 0
	if len(args) > 1 {
		return rt.RuntimeError("Expected 0 or 1 arguments but got %d.", len(args))
	}
	if len(args) == 1 {
		if !args[0].IsNumber() {
			return rt.RuntimeError("Exit code must be a number.")
		}
		code = int(args[0].Num)
	}
	os.Exit(code)
	return bytecode.NullVal()
}

func printNative(rt bytecode.Runtime, args []bytecode.Value) bytecode.Value {
	parts := make([]string, len(args))
	for i, arg := range args {
		parts[i] = bytecode.FormatValue(arg)
	}
	fmt.Fprintln(rt.Output(), strings.Join(parts, " "))
	return bytecode.NullVal()
}

func inputNative(stdin *bufio.Reader) bytecode.NativeFn {
	return func(rt bytecode.Runtime, args []bytecode.Value) bytecode.Value {
		if len(args) > 1 {
			return rt.RuntimeError("Expected 0 or 1 arguments but got %d.", len(args))
		}
		if len(args) == 1 {
			if prompt, ok := args[0].AsString(); ok {
				fmt.Fprint(rt.Output(), prompt.Chars)
			} else {
				return rt.RuntimeError("Prompt must be a string.")
			}
		}
		line, err := stdin.ReadString('\n')
		line = strings.TrimRight(line, "\r\n")
		if err != nil && line == "" {
			return bytecode.NullVal()
		}
		return rt.TakeString(line)
	}
}

func typeNative(rt bytecode.Runtime, args []bytecode.Value) bytecode.Value {
	if len(args) != 1 {
		return rt.RuntimeError("Expected 1 argument but got %d.", len(args))
	}
	return rt.TakeString(typeName(args[0]))
}

func typeName(v bytecode.Value) string {
	switch v.Type {
	case bytecode.ValBool:
		return "bool"
	case bytecode.ValNull:
		return "null"
	case bytecode.ValNum:
		return "number"
	case bytecode.ValObj:
		switch v.Obj.(type) {
		case *bytecode.String:
			return "string"
		case *bytecode.List:
			return "list"
		case *bytecode.Map:
			return "map"
		case *bytecode.Class:
			return "class"
		case *bytecode.Instance:
			return "instance"
		case *bytecode.Closure, *bytecode.Function, *bytecode.BoundMethod:
			return "function"
		case *bytecode.Native:
			return "native"
		}
	}
	return "unknown"
}

func strNative(rt bytecode.Runtime, args []bytecode.Value) bytecode.Value {
	if len(args) != 1 {
		return rt.RuntimeError("Expected 1 argument but got %d.", len(args))
	}
	return rt.TakeString(bytecode.RawString(args[0]))
}

func numNative(rt bytecode.Runtime, args []bytecode.Value) bytecode.Value {
	if len(args) != 1 {
		return rt.RuntimeError("Expected 1 argument but got %d.", len(args))
	}
	if args[0].IsNumber() {
		return args[0]
	}
	s, ok := args[0].AsString()
	if !ok {
		return rt.RuntimeError("Can only convert strings to numbers.")
	}
	n, err := strconv.ParseFloat(strings.TrimSpace(s.Chars), 64)
	if err != nil {
		return rt.RuntimeError("Could not convert '%s' to a number.", s.Chars)
	}
	return bytecode.NumberVal(n)
}

func mathNative(name string, fn func(float64) float64) bytecode.NativeFn {
	return func(rt bytecode.Runtime, args []bytecode.Value) bytecode.Value {
		if len(args) != 1 {
			return rt.RuntimeError("Expected 1 argument but got %d.", len(args))
		}
		if !args[0].IsNumber() {
			return rt.RuntimeError("Argument to '%s' must be a number.", name)
		}
		return bytecode.NumberVal(fn(args[0].Num))
	}
}

func sqrtNative(rt bytecode.Runtime, args []bytecode.Value) bytecode.Value {
	if len(args) != 1 {
		return rt.RuntimeError("Expected 1 argument but got %d.", len(args))
	}
	if !args[0].IsNumber() {
		return rt.RuntimeError("Argument to 'sqrt' must be a number.")
	}
	if args[0].Num < 0 {
		return rt.RuntimeError("Cannot take the square root of a negative number.")
	}
	return bytecode.NumberVal(math.Sqrt(args[0].Num))
}

func powNative(rt bytecode.Runtime, args []bytecode.Value) bytecode.Value {
	if len(args) != 2 {
		return rt.RuntimeError("Expected 2 arguments but got %d.", len(args))
	}
	if !args[0].IsNumber() || !args[1].IsNumber() {
		return rt.RuntimeError("Arguments to 'pow' must be numbers.")
	}
	return bytecode.NumberVal(math.Pow(args[0].Num, args[1].Num))
}

func lenNative(rt bytecode.Runtime, args []bytecode.Value) bytecode.Value {
	if len(args) != 1 {
		return rt.RuntimeError("Expected 1 argument but got %d.", len(args))
	}
	if s, ok := args[0].AsString(); ok {
		return bytecode.NumberVal(float64(len(s.Chars)))
	}
	if l, ok := args[0].AsList(); ok {
		return bytecode.NumberVal(float64(len(l.Elements)))
	}
	if m, ok := args[0].AsMap(); ok {
		return bytecode.NumberVal(float64(m.Entries.Len()))
	}
	return rt.RuntimeError("Argument to 'len' must be a string, list or map.")
}
