package vm

import (
	"testing"
)

// ---------------------------------------------------------------------------
// Arithmetic and comparisons
// ---------------------------------------------------------------------------

func TestApplyBinaryIntArithmetic(t *testing.T) {
	tests := []struct {
		op   string
		l, r int64
		want int64
	}{
		{"+", 2, 3, 5},
		{"-", 10, 4, 6},
		{"*", 6, 7, 42},
		{"%", 7, 3, 1},
		{"**", 2, 10, 1024},
		{"<<", 1, 4, 16},
		{">>", 16, 2, 4},
		{"|", 5, 2, 7},
		{"&", 6, 3, 2},
		{"^", 6, 3, 5},
	}
	for _, tc := range tests {
		res, err := ApplyBinary(tc.op, NewInt(tc.l), NewInt(tc.r))
		if err != nil {
			t.Fatalf("%d %s %d: %v", tc.l, tc.op, tc.r, err)
		}
		if !res.IsInt() || res.I != tc.want {
			t.Errorf("%d %s %d = %v, want %d", tc.l, tc.op, tc.r, res.I, tc.want)
		}
	}
}

func TestApplyBinaryDivisionIsFloat(t *testing.T) {
	res, err := ApplyBinary("/", NewInt(7), NewInt(2))
	if err != nil {
		t.Fatal(err)
	}
	if !res.IsFloat() || res.F != 3.5 {
		t.Errorf("7 / 2 = %v (%s), want 3.5 float", res.F, res.TypeStr())
	}

	res, err = ApplyBinary("/%", NewInt(7), NewInt(2))
	if err != nil {
		t.Fatal(err)
	}
	if !res.IsFloat() || res.F != 3 {
		t.Errorf("7 /%% 2 = %v, want 3", res.F)
	}
}

func TestApplyBinaryDivisionByZero(t *testing.T) {
	for _, op := range []string{"/", "%", "/%"} {
		if _, err := ApplyBinary(op, NewInt(1), NewInt(0)); err == nil {
			t.Errorf("1 %s 0 should fail", op)
		}
	}
}

func TestApplyBinarySpaceship(t *testing.T) {
	tests := []struct {
		l, r *Value
		want int64
	}{
		{NewInt(1), NewInt(2), -1},
		{NewInt(2), NewInt(2), 0},
		{NewFloat(2.5), NewInt(2), 1},
	}
	for _, tc := range tests {
		res, err := ApplyBinary("<=>", tc.l, tc.r)
		if err != nil {
			t.Fatal(err)
		}
		if !res.IsInt() || res.I != tc.want {
			t.Errorf("<=> = %d, want %d", res.I, tc.want)
		}
	}
}

func TestApplyBinaryMixedNumericEquality(t *testing.T) {
	res, err := ApplyBinary("==", NewInt(2), NewFloat(2.0))
	if err != nil {
		t.Fatal(err)
	}
	if !res.B {
		t.Error("2 == 2.0 should be true")
	}
}

func TestApplyBinaryTextual(t *testing.T) {
	res, err := ApplyBinary("+", NewChar('a'), NewString("bc"))
	if err != nil {
		t.Fatal(err)
	}
	if !res.IsString() || res.S != "abc" {
		t.Errorf("'a' + \"bc\" = %q", res.S)
	}
}

func TestApplyBinaryIn(t *testing.T) {
	arr := NewArray([]*Value{NewInt(1), NewInt(2), NewInt(3)}, TypeInt, []int64{3}, "", "")

	res, err := ApplyBinary("in", NewInt(0), arr)
	if err != nil {
		t.Fatal(err)
	}
	if res.B {
		t.Error("0 in {1,2,3} should be false")
	}

	res, err = ApplyBinary("in", NewInt(2), arr)
	if err != nil {
		t.Fatal(err)
	}
	if !res.B {
		t.Error("2 in {1,2,3} should be true")
	}

	res, err = ApplyBinary("in", NewString("el"), NewString("hello"))
	if err != nil {
		t.Fatal(err)
	}
	if !res.B {
		t.Error("\"el\" in \"hello\" should be true")
	}
}

func TestApplyBinaryArrayConcat(t *testing.T) {
	a := NewArray([]*Value{NewInt(1)}, TypeInt, []int64{1}, "", "")
	b := NewArray([]*Value{NewInt(2), NewInt(3)}, TypeInt, []int64{2}, "", "")

	res, err := ApplyBinary("+", a, b)
	if err != nil {
		t.Fatal(err)
	}
	if len(res.Arr) != 3 || res.Dim[0] != 3 {
		t.Errorf("array concat length = %d, dim = %v", len(res.Arr), res.Dim)
	}
}

func TestApplyBinaryInvalidOperands(t *testing.T) {
	if _, err := ApplyBinary("+", NewBool(true), NewInt(1)); err == nil {
		t.Error("bool + int should fail")
	}
	if _, err := ApplyBinary("and", NewInt(1), NewInt(2)); err == nil {
		t.Error("int and int should fail")
	}
}

// ---------------------------------------------------------------------------
// Determinism (constant-folding purity)
// ---------------------------------------------------------------------------

func TestApplyBinaryDeterministic(t *testing.T) {
	ops := []struct {
		op   string
		l, r *Value
	}{
		{"+", NewInt(12), NewInt(30)},
		{"*", NewFloat(1.5), NewFloat(2.5)},
		{"+", NewString("a"), NewString("b")},
		{"<=>", NewInt(4), NewInt(9)},
	}
	for _, tc := range ops {
		first, err := ApplyBinary(tc.op, tc.l.Clone(), tc.r.Clone())
		if err != nil {
			t.Fatal(err)
		}
		second, err := ApplyBinary(tc.op, tc.l.Clone(), tc.r.Clone())
		if err != nil {
			t.Fatal(err)
		}
		if ValueString(first, true) != ValueString(second, true) {
			t.Errorf("%s not deterministic: %s vs %s", tc.op,
				ValueString(first, true), ValueString(second, true))
		}
	}
}

// ---------------------------------------------------------------------------
// Assignment protocol
// ---------------------------------------------------------------------------

func TestAssignThroughVariableRef(t *testing.T) {
	v := NewVariable("x", NewTypeDef(TypeInt))
	v.Set(NewInt(1))

	lval := v.Get(true)
	res, err := ApplyBinary("=", lval, NewInt(9))
	if err != nil {
		t.Fatal(err)
	}
	if v.Value().I != 9 {
		t.Errorf("variable after assign = %d, want 9", v.Value().I)
	}
	if res.I != 9 {
		t.Errorf("assignment result = %d, want 9", res.I)
	}
}

func TestCompoundAssignThroughVariableRef(t *testing.T) {
	v := NewVariable("x", NewTypeDef(TypeInt))
	v.Set(NewInt(10))

	lval := v.Get(true)
	if _, err := ApplyBinary("+=", lval, NewInt(5)); err != nil {
		t.Fatal(err)
	}
	if v.Value().I != 15 {
		t.Errorf("x += 5 = %d, want 15", v.Value().I)
	}
}

func TestAssignThroughArrayElement(t *testing.T) {
	arr := NewArray([]*Value{NewInt(1), NewInt(2)}, TypeInt, []int64{2}, "", "")
	elem, err := arr.Item(0, true)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := ApplyBinary("=", elem, NewInt(7)); err != nil {
		t.Fatal(err)
	}
	if arr.Arr[0].I != 7 {
		t.Errorf("a[0] after assign = %d, want 7", arr.Arr[0].I)
	}
}

func TestAssignCoercesIntToFloat(t *testing.T) {
	v := NewVariable("x", NewTypeDef(TypeFloat))
	v.Set(NewFloat(1))

	lval := v.Get(true)
	if _, err := ApplyBinary("=", lval, NewInt(3)); err != nil {
		t.Fatal(err)
	}
	if !v.Value().IsFloat() || v.Value().F != 3 {
		t.Errorf("float x = 3 should coerce, got %s", v.Value().TypeStr())
	}
}

// ---------------------------------------------------------------------------
// Aliasing
// ---------------------------------------------------------------------------

func TestArrayAssignmentAliases(t *testing.T) {
	a := NewArray([]*Value{NewInt(1), NewInt(2), NewInt(3)}, TypeInt, []int64{3}, "", "")

	bVar := NewVariable("b", NewTypeDef(TypeAny))
	bVar.Set(a.Clone())

	elem, err := bVar.Value().Item(0, true)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := ApplyBinary("=", elem, NewInt(9)); err != nil {
		t.Fatal(err)
	}
	if a.Arr[0].I != 9 {
		t.Errorf("a[0] = %d after b[0] = 9, want 9 (arrays share)", a.Arr[0].I)
	}
}

// ---------------------------------------------------------------------------
// Unary operations
// ---------------------------------------------------------------------------

func TestApplyUnary(t *testing.T) {
	res, err := ApplyUnary("-", NewInt(4))
	if err != nil || res.I != -4 {
		t.Errorf("-4 = %v (%v)", res, err)
	}
	res, err = ApplyUnary("not", NewBool(true))
	if err != nil || res.B {
		t.Errorf("not true = %v (%v)", res, err)
	}
	res, err = ApplyUnary("~", NewInt(0))
	if err != nil || res.I != -1 {
		t.Errorf("~0 = %v (%v)", res, err)
	}

	v := NewInt(5)
	res, err = ApplyUnary("++", v)
	if err != nil || res != v || v.I != 6 {
		t.Errorf("++5 should mutate in place, got %v (%v)", v.I, err)
	}

	if _, err = ApplyUnary("not", NewInt(1)); err == nil {
		t.Error("not int should fail")
	}
}

// ---------------------------------------------------------------------------
// Equality on composites
// ---------------------------------------------------------------------------

func TestEqualsValueComposites(t *testing.T) {
	fields := NewStructValue()
	s1 := NewStruct(fields, "app", "P")
	s2 := NewStruct(fields, "app", "P")
	s3 := NewStruct(NewStructValue(), "app", "P")

	if !EqualsValue(s1, s2) {
		t.Error("structs sharing a handle should be equal")
	}
	if EqualsValue(s1, s3) {
		t.Error("structs with distinct handles should not be equal")
	}

	f1 := NewFunction("app", "f")
	f2 := NewFunction("app", "f")
	if !EqualsValue(f1, f2) {
		t.Error("functions compare by (namespace, name)")
	}
}
