package vm

import "testing"

func TestOperandScalars(t *testing.T) {
	if got := IntOperand(-42).Int(); got != -42 {
		t.Errorf("Int() = %d", got)
	}
	if got := SizeOperand(900).Size(); got != 900 {
		t.Errorf("Size() = %d", got)
	}
	if !BoolOperand(true).Bool() || BoolOperand(false).Bool() {
		t.Error("Bool round trip failed")
	}
	if got := FloatOperand(2.75).Float(); got != 2.75 {
		t.Errorf("Float() = %v", got)
	}
	if got := CharOperand('z').Char(); got != 'z' {
		t.Errorf("Char() = %c", got)
	}
	if EmptyOperand.Bool() {
		t.Error("empty operand should decode to false")
	}
}

func TestOperandStringLengthPrefix(t *testing.T) {
	op := StringOperand("hello")
	if op.Str() != "hello" {
		t.Errorf("Str() = %q", op.Str())
	}
	// 8-byte little-endian length prefix precedes the bytes.
	b := op.Bytes()
	if len(b) != 8+5 || b[0] != 5 {
		t.Errorf("wire form = %v", b)
	}
}

func TestOperandVectorNested(t *testing.T) {
	inner := VectorOperand(IntOperand(1), StringOperand("x"))
	outer := VectorOperand(StringOperand("ns"), inner, BoolOperand(true))

	ops := outer.Vector()
	if len(ops) != 3 {
		t.Fatalf("outer len = %d", len(ops))
	}
	if ops[0].Str() != "ns" {
		t.Errorf("ops[0] = %q", ops[0].Str())
	}
	sub := ops[1].Vector()
	if len(sub) != 2 || sub[0].Int() != 1 || sub[1].Str() != "x" {
		t.Errorf("nested vector decoded to %v", sub)
	}
	if !ops[2].Bool() {
		t.Error("ops[2] should be true")
	}
}

func TestInstructionString(t *testing.T) {
	ins := Instruction{Op: OpPushInt, Operand: IntOperand(3)}
	if ins.String() != "PUSH_INT 3" {
		t.Errorf("String() = %q", ins.String())
	}
	if (Instruction{Op: OpHalt}).String() != "HALT" {
		t.Errorf("HALT rendering wrong")
	}
}
