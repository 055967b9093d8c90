package bytecode

import "strconv"

type ValueType byte

const (
	ValBool ValueType = iota
	ValNull
	ValNum
	ValObj
	// ValErr is a sentinel returned by native functions after reporting a
	// runtime error. It never appears on the stack or in user data.
	ValErr
)

// Value is the tagged union every stack slot, constant and field holds.
type Value struct {
	Type ValueType
	Bool bool
	Num  float64
	Obj  Obj
}

func BoolVal(b bool) Value { return Value{Type: ValBool, Bool: b} }

func NullVal() Value { return Value{Type: ValNull} }

func NumberVal(n float64) Value { return Value{Type: ValNum, Num: n} }

func ObjVal(o Obj) Value { return Value{Type: ValObj, Obj: o} }

func ErrVal() Value { return Value{Type: ValErr} }

func (v Value) IsBool() bool   { return v.Type == ValBool }
func (v Value) IsNull() bool   { return v.Type == ValNull }
func (v Value) IsNumber() bool { return v.Type == ValNum }
func (v Value) IsObj() bool    { return v.Type == ValObj }
func (v Value) IsErr() bool    { return v.Type == ValErr }

func (v Value) IsString() bool {
	_, ok := v.AsString()
	return ok
}

func (v Value) AsString() (*String, bool) {
	if v.Type != ValObj {
		return nil, false
	}
	s, ok := v.Obj.(*String)
	return s, ok
}

func (v Value) AsList() (*List, bool) {
	if v.Type != ValObj {
		return nil, false
	}
	l, ok := v.Obj.(*List)
	return l, ok
}

func (v Value) AsMap() (*Map, bool) {
	if v.Type != ValObj {
		return nil, false
	}
	m, ok := v.Obj.(*Map)
	return m, ok
}

// IsFalsey reports whether a value is false in a boolean context: null,
// false, zero, the empty string, the empty list and the empty map.
func IsFalsey(v Value) bool {
	switch v.Type {
	case ValNull:
		return true
	case ValBool:
		return !v.Bool
	case ValNum:
		return v.Num == 0
	case ValObj:
		switch o := v.Obj.(type) {
		case *String:
			return len(o.Chars) == 0
		case *List:
			return len(o.Elements) == 0
		case *Map:
			return o.Entries.Len() == 0
		}
	}
	return false
}

// ValuesEqual compares two values. Cross-type comparison is always false.
// Objects compare by identity; interning makes that content comparison for
// strings. The Err sentinel never compares equal to anything, itself
// included, since it must not escape a native call boundary.
func ValuesEqual(a, b Value) bool {
	if a.Type != b.Type {
		return false
	}
	switch a.Type {
	case ValBool:
		return a.Bool == b.Bool
	case ValNull:
		return true
	case ValNum:
		return a.Num == b.Num
	case ValObj:
		return a.Obj == b.Obj
	}
	return false
}

// FormatValue renders a value the way print shows it: strings quoted,
// numbers in their shortest round-trippable form.
func FormatValue(v Value) string {
	switch v.Type {
	case ValBool:
		if v.Bool {
			return "true"
		}
		return "false"
	case ValNull:
		return "null"
	case ValNum:
		return FormatNumber(v.Num)
	case ValObj:
		return formatObject(v.Obj)
	}
	return "err"
}

// RawString is FormatValue except strings render as their bytes, without
// quotes. Used by str().
func RawString(v Value) string {
	if s, ok := v.AsString(); ok {
		return s.Chars
	}
	return FormatValue(v)
}

func FormatNumber(n float64) string {
	return strconv.FormatFloat(n, 'g', -1, 64)
}

func formatObject(o Obj) string {
	switch o := o.(type) {
	case *String:
		return "\"" + o.Chars + "\""
	case *Function:
		if o.Name == nil {
			return "<script>"
		}
		return "<fn " + o.Name.Chars + ">"
	case *Closure:
		return formatObject(o.Function)
	case *Upvalue:
		return "upvalue"
	case *Class:
		return "<class " + o.Name.Chars + ">"
	case *Instance:
		return "<instance of " + o.Class.Name.Chars + ">"
	case *BoundMethod:
		return formatObject(o.Method.Function)
	case *Native:
		return "<native fn " + o.Name + ">"
	case *List:
		if len(o.Elements) == 0 {
			return "[]"
		}
		out := "[ "
		for i, e := range o.Elements {
			if i > 0 {
				out += ", "
			}
			out += FormatValue(e)
		}
		return out + " ]"
	case *Map:
		if o.Entries.Len() == 0 {
			return "{}"
		}
		out := "{ "
		first := true
		o.Entries.Range(func(k *String, v Value) bool {
			if !first {
				out += ", "
			}
			first = false
			out += "\"" + k.Chars + "\": " + FormatValue(v)
			return true
		})
		return out + " }"
	}
	return "obj"
}
