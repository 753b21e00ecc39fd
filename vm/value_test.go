package vm

import (
	"strings"
	"testing"
)

// ---------------------------------------------------------------------------
// Type matching
// ---------------------------------------------------------------------------

func TestMatchTypeDefReflexive(t *testing.T) {
	defs := []TypeDef{
		NewTypeDef(TypeBool),
		NewTypeDef(TypeInt),
		NewTypeDef(TypeFloat),
		NewTypeDef(TypeChar),
		NewTypeDef(TypeString),
		NewTypeDef(TypeFunction),
		NewObjectTypeDef(TypeStruct, "app", "Point"),
		NewObjectTypeDef(TypeClass, "app", "Counter"),
		NewArrayTypeDef(TypeInt, []int64{3}, "", ""),
		NewArrayTypeDef(TypeString, []int64{2, 4}, "", ""),
	}
	for _, td := range defs {
		if !td.MatchTypeDef(td, true) {
			t.Errorf("MatchTypeDef(%s, %s) strict = false, want true", td.TypeStr(), td.TypeStr())
		}
		if !td.IsAnyOrMatchTypeDef(td, true) {
			t.Errorf("IsAnyOrMatchTypeDef(%s) = false, want true", td.TypeStr())
		}
	}
}

func TestMatchTypeDefArraySymmetry(t *testing.T) {
	a := NewArrayTypeDef(TypeInt, []int64{3}, "", "")
	b := NewArrayTypeDef(TypeInt, []int64{3}, "", "")
	if !a.MatchTypeDef(b, true) || !b.MatchTypeDef(a, true) {
		t.Error("concrete same-shape arrays should match symmetrically")
	}
}

func TestMatchTypeDefRelaxed(t *testing.T) {
	tests := []struct {
		l, r    TypeDef
		strict  bool
		relaxed bool
	}{
		{NewTypeDef(TypeInt), NewTypeDef(TypeFloat), false, true},
		{NewTypeDef(TypeFloat), NewTypeDef(TypeInt), false, true},
		{NewTypeDef(TypeString), NewTypeDef(TypeChar), false, true},
		{NewTypeDef(TypeChar), NewTypeDef(TypeString), false, false},
		{NewTypeDef(TypeInt), NewTypeDef(TypeString), false, false},
		{NewTypeDef(TypeBool), NewTypeDef(TypeInt), false, false},
	}
	for _, tc := range tests {
		if got := tc.l.MatchTypeDef(tc.r, true); got != tc.strict {
			t.Errorf("MatchTypeDef(%s, %s) strict = %v, want %v", tc.l.TypeStr(), tc.r.TypeStr(), got, tc.strict)
		}
		if got := tc.l.MatchTypeDef(tc.r, false); got != tc.relaxed {
			t.Errorf("MatchTypeDef(%s, %s) relaxed = %v, want %v", tc.l.TypeStr(), tc.r.TypeStr(), got, tc.relaxed)
		}
	}
}

func TestMatchArrayDimWildcards(t *testing.T) {
	concrete := NewArrayTypeDef(TypeInt, []int64{4}, "", "")
	wildcard := NewArrayTypeDef(TypeInt, []int64{0}, "", "")
	single := NewArrayTypeDef(TypeInt, []int64{1}, "", "")
	twoDim := NewArrayTypeDef(TypeInt, []int64{2, 2}, "", "")

	if !wildcard.MatchArrayDim(concrete) {
		t.Error("dimension 0 should match any size")
	}
	if !single.MatchArrayDim(twoDim) {
		t.Error("single dimension of size <= 1 should match any shape")
	}
	if concrete.MatchArrayDim(NewArrayTypeDef(TypeInt, []int64{5}, "", "")) {
		t.Error("mismatched concrete sizes should not match")
	}
}

func TestAnyMatchesNonArray(t *testing.T) {
	anyDef := NewTypeDef(TypeAny)
	if !anyDef.IsAnyOrMatchTypeDef(NewTypeDef(TypeInt), true) {
		t.Error("any should match int")
	}
	arr := NewArrayTypeDef(TypeInt, []int64{2}, "", "")
	if !arr.IsAnyOrMatchTypeDef(NewTypeDef(TypeAny), true) {
		t.Error("any on the right should match an array")
	}
}

func TestStructMatchByQualifiedName(t *testing.T) {
	a := NewObjectTypeDef(TypeStruct, "app", "Point")
	b := NewObjectTypeDef(TypeStruct, "app", "Point")
	c := NewObjectTypeDef(TypeStruct, "other", "Point")
	if !a.MatchTypeDef(b, true) {
		t.Error("same qualified struct names should match")
	}
	if a.MatchTypeDef(c, true) {
		t.Error("different namespaces should not match")
	}
}

// ---------------------------------------------------------------------------
// Values and variables
// ---------------------------------------------------------------------------

func TestCopyFromSharesHandles(t *testing.T) {
	elems := []*Value{NewInt(1), NewInt(2)}
	arr := NewArray(elems, TypeInt, []int64{2}, "", "")

	cp := arr.Clone()
	cp.Arr[0] = NewInt(9)

	if arr.Arr[0].I != 9 {
		t.Error("array copy should share the element buffer")
	}
}

func TestItemRefRecordsOwner(t *testing.T) {
	arr := NewArray([]*Value{NewInt(5)}, TypeInt, []int64{1}, "", "")
	elem, err := arr.Item(0, true)
	if err != nil {
		t.Fatal(err)
	}
	if elem.ValueRef != arr || elem.AccessIndex != 0 {
		t.Error("Item with ref should record the owning array and index")
	}
	if _, err := arr.Item(3, false); err == nil {
		t.Error("out-of-range access should fail")
	}
}

func TestVariableRef(t *testing.T) {
	v := NewVariable("x", NewTypeDef(TypeInt))
	v.Set(NewInt(3))
	got := v.Get(true)
	if got.Ref != v {
		t.Error("Get with ref should record the owning variable")
	}
}

func TestSetCharAt(t *testing.T) {
	s := NewString("abc")
	if err := s.SetCharAt(1, NewChar('x')); err != nil {
		t.Fatal(err)
	}
	if s.S != "axc" {
		t.Errorf("SetCharAt = %q, want %q", s.S, "axc")
	}
}

// ---------------------------------------------------------------------------
// Rendering
// ---------------------------------------------------------------------------

func TestRenderFloatTrimsZeros(t *testing.T) {
	tests := []struct {
		in   float64
		want string
	}{
		{1.5, "1.5"},
		{2.0, "2.0"},
		{0.25, "0.25"},
		{-3.0, "-3.0"},
	}
	for _, tc := range tests {
		if got := renderFloat(tc.in); got != tc.want {
			t.Errorf("renderFloat(%v) = %q, want %q", tc.in, got, tc.want)
		}
	}
}

func TestValueStringArray(t *testing.T) {
	arr := NewArray([]*Value{NewInt(1), NewInt(2), NewString("a")}, TypeAny, []int64{3}, "", "")
	got := ValueString(arr, true)
	if got != `{1,2,"a"}` {
		t.Errorf("ValueString(array) = %q", got)
	}
}

func TestValueStringStructInsertionOrder(t *testing.T) {
	fields := NewStructValue()
	x := NewVariable("x", NewTypeDef(TypeInt))
	x.Set(NewInt(1))
	y := NewVariable("y", NewTypeDef(TypeInt))
	y.Set(NewInt(2))
	fields.Declare("x", x)
	fields.Declare("y", y)

	s := NewStruct(fields, "app", "P")
	got := ValueString(s, true)
	if got != "app::P{x:1;y:2;}" {
		t.Errorf("ValueString(struct) = %q", got)
	}
}

func TestValueStringCycleCollapses(t *testing.T) {
	arr := NewArray(make([]*Value, 1), TypeAny, []int64{1}, "", "")
	arr.Arr[0] = arr

	got := ValueString(arr, true)
	if !strings.Contains(got, "{...}") {
		t.Errorf("cyclic render should collapse, got %q", got)
	}
}
