package bytecode

import (
	"strconv"
	"testing"
)

func TestIsFalsey(t *testing.T) {
	empty := testString("")
	full := testString("x")

	tests := []struct {
		name   string
		value  Value
		falsey bool
	}{
		{"null", NullVal(), true},
		{"false", BoolVal(false), true},
		{"true", BoolVal(true), false},
		{"zero", NumberVal(0), true},
		{"nonzero", NumberVal(0.5), false},
		{"empty string", ObjVal(empty), true},
		{"string", ObjVal(full), false},
		{"empty list", ObjVal(&List{}), true},
		{"list", ObjVal(&List{Elements: []Value{NullVal()}}), false},
		{"empty map", ObjVal(&Map{}), true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if IsFalsey(tt.value) != tt.falsey {
				t.Errorf("IsFalsey(%s) = %v", tt.name, !tt.falsey)
			}
		})
	}

	m := &Map{}
	m.Entries.Set(testString("k"), NumberVal(1))
	if IsFalsey(ObjVal(m)) {
		t.Error("non-empty map should be truthy")
	}
}

func TestValuesEqual(t *testing.T) {
	s := testString("s")
	tests := []struct {
		name  string
		a, b  Value
		equal bool
	}{
		{"numbers", NumberVal(2), NumberVal(2), true},
		{"numbers differ", NumberVal(2), NumberVal(3), false},
		{"bools", BoolVal(true), BoolVal(true), true},
		{"nulls", NullVal(), NullVal(), true},
		{"cross type", NumberVal(0), BoolVal(false), false},
		{"cross type null", NullVal(), NumberVal(0), false},
		{"same object", ObjVal(s), ObjVal(s), true},
		{"distinct objects", ObjVal(testString("s")), ObjVal(testString("s")), false},
		{"err never equal", ErrVal(), ErrVal(), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if ValuesEqual(tt.a, tt.b) != tt.equal {
				t.Errorf("ValuesEqual = %v", !tt.equal)
			}
		})
	}
}

func TestFormatValue(t *testing.T) {
	list := &List{Elements: []Value{NumberVal(1), NumberVal(9), NumberVal(3)}}
	tests := []struct {
		name  string
		value Value
		text  string
	}{
		{"integer-valued number", NumberVal(7), "7"},
		{"fractional number", NumberVal(2.5), "2.5"},
		{"negative", NumberVal(-4), "-4"},
		{"true", BoolVal(true), "true"},
		{"null", NullVal(), "null"},
		{"string is quoted", ObjVal(testString("aaa")), `"aaa"`},
		{"list", ObjVal(list), "[ 1, 9, 3 ]"},
		{"empty list", ObjVal(&List{}), "[]"},
		{"empty map", ObjVal(&Map{}), "{}"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := FormatValue(tt.value); got != tt.text {
				t.Errorf("FormatValue = %q, expected %q", got, tt.text)
			}
		})
	}
}

func TestRawString(t *testing.T) {
	if got := RawString(ObjVal(testString("abc"))); got != "abc" {
		t.Errorf("RawString(string) = %q", got)
	}
	if got := RawString(NumberVal(3.25)); got != "3.25" {
		t.Errorf("RawString(number) = %q", got)
	}
}

// Numbers must survive a str/num round trip in their shortest form.
func TestFormatNumberRoundTrip(t *testing.T) {
	for _, n := range []float64{0, 1, -1, 0.1, 1e21, 123456.789, 1.0 / 3.0} {
		text := FormatNumber(n)
		parsed, err := strconv.ParseFloat(text, 64)
		if err != nil {
			t.Fatalf("%q did not parse: %v", text, err)
		}
		if parsed != n {
			t.Errorf("round trip of %v via %q gave %v", n, text, parsed)
		}
	}
}
