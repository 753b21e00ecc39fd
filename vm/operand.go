package vm

import (
	"encoding/binary"
	"fmt"
	"math"
	"strconv"
)

// ---------------------------------------------------------------------------
// Instruction operands
// ---------------------------------------------------------------------------

// OperandType tags the payload of an instruction operand.
type OperandType uint8

const (
	OperandRaw OperandType = iota
	OperandUint8
	OperandSize
	OperandBool
	OperandInt
	OperandFloat
	OperandChar
	OperandString
	OperandVector
)

// Operand is a typed tagged union stored in its wire form: little-endian
// fixed-width scalars, strings with a 64-bit length prefix, and vectors of
// operands whose entries recursively carry their own type tag and length.
type Operand struct {
	Type OperandType
	data []byte
}

// EmptyOperand is the operand of instructions that take none.
var EmptyOperand = Operand{}

// RawOperand wraps raw bytes.
func RawOperand(b []byte) Operand {
	return Operand{Type: OperandRaw, data: b}
}

// Uint8Operand encodes a single byte.
func Uint8Operand(v uint8) Operand {
	return Operand{Type: OperandUint8, data: []byte{v}}
}

// SizeOperand encodes a program counter or size as 64-bit little-endian.
func SizeOperand(v int) Operand {
	b := make([]byte, 8)
	binary.LittleEndian.PutUint64(b, uint64(v))
	return Operand{Type: OperandSize, data: b}
}

// BoolOperand encodes a flag.
func BoolOperand(v bool) Operand {
	b := []byte{0}
	if v {
		b[0] = 1
	}
	return Operand{Type: OperandBool, data: b}
}

// IntOperand encodes a 64-bit signed integer.
func IntOperand(v int64) Operand {
	b := make([]byte, 8)
	binary.LittleEndian.PutUint64(b, uint64(v))
	return Operand{Type: OperandInt, data: b}
}

// FloatOperand encodes a float.
func FloatOperand(v float64) Operand {
	b := make([]byte, 8)
	binary.LittleEndian.PutUint64(b, math.Float64bits(v))
	return Operand{Type: OperandFloat, data: b}
}

// CharOperand encodes a character.
func CharOperand(v byte) Operand {
	return Operand{Type: OperandChar, data: []byte{v}}
}

// StringOperand encodes a string with its 64-bit length prefix.
func StringOperand(v string) Operand {
	b := make([]byte, 8+len(v))
	binary.LittleEndian.PutUint64(b, uint64(len(v)))
	copy(b[8:], v)
	return Operand{Type: OperandString, data: b}
}

// VectorOperand encodes an ordered list of operands. Each entry is stored as
// a type tag byte, a 64-bit payload length, and the payload.
func VectorOperand(ops ...Operand) Operand {
	size := 8
	for _, op := range ops {
		size += 1 + 8 + len(op.data)
	}
	b := make([]byte, 0, size)

	var count [8]byte
	binary.LittleEndian.PutUint64(count[:], uint64(len(ops)))
	b = append(b, count[:]...)

	for _, op := range ops {
		b = append(b, byte(op.Type))
		var length [8]byte
		binary.LittleEndian.PutUint64(length[:], uint64(len(op.data)))
		b = append(b, length[:]...)
		b = append(b, op.data...)
	}
	return Operand{Type: OperandVector, data: b}
}

// IsEmpty reports whether the operand carries no payload.
func (o Operand) IsEmpty() bool {
	return len(o.data) == 0
}

// Bytes returns the wire form of the operand payload.
func (o Operand) Bytes() []byte {
	return o.data
}

// Raw returns the raw byte payload.
func (o Operand) Raw() []byte {
	return o.data
}

// Uint8 decodes a byte operand; empty operands decode to 0.
func (o Operand) Uint8() uint8 {
	if len(o.data) == 0 {
		return 0
	}
	return o.data[0]
}

// Size decodes a program counter or size; empty operands decode to 0.
func (o Operand) Size() int {
	if len(o.data) < 8 {
		return 0
	}
	return int(binary.LittleEndian.Uint64(o.data))
}

// Bool decodes a flag; empty operands decode to false.
func (o Operand) Bool() bool {
	return len(o.data) > 0 && o.data[0] != 0
}

// Int decodes a 64-bit signed integer.
func (o Operand) Int() int64 {
	if len(o.data) < 8 {
		return 0
	}
	return int64(binary.LittleEndian.Uint64(o.data))
}

// Float decodes a float.
func (o Operand) Float() float64 {
	if len(o.data) < 8 {
		return 0
	}
	return math.Float64frombits(binary.LittleEndian.Uint64(o.data))
}

// Char decodes a character.
func (o Operand) Char() byte {
	if len(o.data) == 0 {
		return 0
	}
	return o.data[0]
}

// Str decodes a length-prefixed string.
func (o Operand) Str() string {
	if len(o.data) < 8 {
		return ""
	}
	n := binary.LittleEndian.Uint64(o.data)
	if 8+n > uint64(len(o.data)) {
		return ""
	}
	return string(o.data[8 : 8+n])
}

// Vector decodes a list of operands.
func (o Operand) Vector() []Operand {
	if len(o.data) < 8 {
		return nil
	}
	count := binary.LittleEndian.Uint64(o.data)
	ops := make([]Operand, 0, count)
	pos := uint64(8)
	for i := uint64(0); i < count; i++ {
		if pos+9 > uint64(len(o.data)) {
			break
		}
		t := OperandType(o.data[pos])
		length := binary.LittleEndian.Uint64(o.data[pos+1:])
		pos += 9
		if pos+length > uint64(len(o.data)) {
			break
		}
		ops = append(ops, Operand{Type: t, data: o.data[pos : pos+length]})
		pos += length
	}
	return ops
}

// String renders the operand for traces and disassembly.
func (o Operand) String() string {
	if o.IsEmpty() {
		return ""
	}
	switch o.Type {
	case OperandRaw:
		return fmt.Sprintf("%x", o.data)
	case OperandUint8:
		return strconv.Itoa(int(o.Uint8()))
	case OperandSize:
		return strconv.Itoa(o.Size())
	case OperandBool:
		if o.Bool() {
			return "true"
		}
		return "false"
	case OperandInt:
		return strconv.FormatInt(o.Int(), 10)
	case OperandFloat:
		return strconv.FormatFloat(o.Float(), 'g', -1, 64)
	case OperandChar:
		return "'" + string(o.Char()) + "'"
	case OperandString:
		return strconv.Quote(o.Str())
	case OperandVector:
		s := "["
		for i, sub := range o.Vector() {
			if i > 0 {
				s += " "
			}
			s += sub.String()
		}
		return s + "]"
	}
	return "?"
}
