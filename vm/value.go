package vm

// ---------------------------------------------------------------------------
// Type tags and type definitions
// ---------------------------------------------------------------------------

// Type identifies the primary tag of a value or declared slot.
type Type uint8

const (
	TypeUndefined Type = iota // compile-time "no value yet" marker
	TypeVoid                  // runtime null
	TypeBool
	TypeInt
	TypeFloat
	TypeChar
	TypeString
	TypeAny
	TypeObject // parse-time superset, resolved to Struct or Class by the analyser
	TypeStruct
	TypeClass
	TypeFunction
)

var typeNames = [...]string{
	TypeUndefined: "undefined",
	TypeVoid:      "void",
	TypeBool:      "bool",
	TypeInt:       "int",
	TypeFloat:     "float",
	TypeChar:      "char",
	TypeString:    "string",
	TypeAny:       "any",
	TypeObject:    "object",
	TypeStruct:    "struct",
	TypeClass:     "class",
	TypeFunction:  "function",
}

// String returns the source-level spelling of the type tag.
func (t Type) String() string {
	if int(t) < len(typeNames) {
		return typeNames[t]
	}
	return "unknown"
}

// TypeDef describes a value or slot: a primary tag, an optional array shape,
// and, for object tags, the qualified (namespace, name) of the type.
//
// A dimension of 0 is a wildcard that matches any concrete size.
type TypeDef struct {
	Type          Type
	Dim           []int64
	TypeNameSpace string
	TypeName      string
}

// NewTypeDef builds a scalar type definition.
func NewTypeDef(t Type) TypeDef {
	return TypeDef{Type: t}
}

// NewObjectTypeDef builds a struct/class/object type definition.
func NewObjectTypeDef(t Type, nameSpace, name string) TypeDef {
	return TypeDef{Type: t, TypeNameSpace: nameSpace, TypeName: name}
}

// NewArrayTypeDef builds an array type definition with the given element tag
// and shape.
func NewArrayTypeDef(t Type, dim []int64, nameSpace, name string) TypeDef {
	return TypeDef{Type: t, Dim: dim, TypeNameSpace: nameSpace, TypeName: name}
}

func (td TypeDef) IsUndefined() bool { return td.Type == TypeUndefined }
func (td TypeDef) IsVoid() bool      { return td.Type == TypeVoid }
func (td TypeDef) IsBool() bool      { return td.Type == TypeBool }
func (td TypeDef) IsInt() bool       { return td.Type == TypeInt }
func (td TypeDef) IsFloat() bool     { return td.Type == TypeFloat }
func (td TypeDef) IsChar() bool      { return td.Type == TypeChar }
func (td TypeDef) IsString() bool    { return td.Type == TypeString }
func (td TypeDef) IsAny() bool       { return td.Type == TypeAny }
func (td TypeDef) IsObject() bool    { return td.Type == TypeObject }
func (td TypeDef) IsStruct() bool    { return td.Type == TypeStruct }
func (td TypeDef) IsClass() bool     { return td.Type == TypeClass }
func (td TypeDef) IsFunction() bool  { return td.Type == TypeFunction }

func (td TypeDef) IsNumeric() bool { return td.Type == TypeInt || td.Type == TypeFloat }
func (td TypeDef) IsTextual() bool { return td.Type == TypeChar || td.Type == TypeString }
func (td TypeDef) IsArray() bool   { return len(td.Dim) > 0 }

// IsIterable reports whether a value of this type can feed a foreach loop.
func (td TypeDef) IsIterable() bool {
	return td.IsArray() || td.IsString() || td.IsStruct()
}

// ElementType returns the array element type (the same tag with no shape).
func (td TypeDef) ElementType() TypeDef {
	return TypeDef{Type: td.Type, TypeNameSpace: td.TypeNameSpace, TypeName: td.TypeName}
}

// QualifiedTypeName renders "ns::Name" for object types.
func QualifiedTypeName(nameSpace, name string) string {
	if nameSpace == "" {
		return name
	}
	return nameSpace + "::" + name
}

// TypeStr renders the full type of a definition, including array shape and
// qualified object names. Used by error messages and the typeof operator.
func (td TypeDef) TypeStr() string {
	var s string
	switch td.Type {
	case TypeStruct, TypeClass, TypeObject:
		s = QualifiedTypeName(td.TypeNameSpace, td.TypeName)
	default:
		s = td.Type.String()
	}
	for range td.Dim {
		s = "[" + s + "]"
	}
	return s
}

// ---------------------------------------------------------------------------
// Type matching
// ---------------------------------------------------------------------------

// MatchArrayDim reports whether two array shapes are compatible. A missing
// shape or a single-dimension shape of size <= 1 matches anything; otherwise
// the shapes must have equal rank and equal non-wildcard sizes.
func (td TypeDef) MatchArrayDim(other TypeDef) bool {
	l, r := td.Dim, other.Dim
	if (len(l) == 1 && l[0] >= 0 && l[0] <= 1) || (len(r) == 1 && r[0] >= 0 && r[0] <= 1) ||
		len(l) == 0 || len(r) == 0 {
		return true
	}
	if len(l) != len(r) {
		return false
	}
	for i := range l {
		if l[i] != 0 && l[i] != r[i] {
			return false
		}
	}
	return true
}

// MatchTypeDef applies the structural matching rules. In strict mode
// primitive tags must be identical; relaxed mode lets Int and Float cross and
// Char and String cross.
func (td TypeDef) MatchTypeDef(other TypeDef, strict bool) bool {
	if td.IsArray() || other.IsArray() {
		if td.IsArray() && other.IsArray() && td.MatchArrayDim(other) {
			return td.ElementType().IsAnyOrMatchTypeDef(other.ElementType(), strict)
		}
		return false
	}
	switch {
	case td.IsBool():
		return other.IsBool()
	case td.IsInt():
		return (strict && other.IsInt()) || (!strict && other.IsNumeric())
	case td.IsFloat():
		return (strict && other.IsFloat()) || (!strict && other.IsNumeric())
	case td.IsChar():
		return other.IsChar()
	case td.IsString():
		return (strict && other.IsString()) || (!strict && other.IsTextual())
	case td.IsStruct():
		return other.IsStruct() && td.TypeName == other.TypeName && td.TypeNameSpace == other.TypeNameSpace
	case td.IsClass():
		return other.IsClass() && td.TypeName == other.TypeName && td.TypeNameSpace == other.TypeNameSpace
	case td.IsFunction():
		return other.IsFunction()
	}
	return false
}

// MatchType reports tag-level compatibility ignoring shape and names.
func (td TypeDef) MatchType(other TypeDef) bool {
	return td.Type == other.Type
}

// IsAnyOrMatchTypeDef is the relation used for assignments and argument
// compatibility: a non-array Any on either side matches every type, arrays
// included; Void matches everything; otherwise MatchTypeDef decides.
func (td TypeDef) IsAnyOrMatchTypeDef(other TypeDef, strict bool) bool {
	if (td.IsAny() && !td.IsArray()) || (other.IsAny() && !other.IsArray()) ||
		td.IsVoid() || other.IsVoid() {
		return true
	}
	return td.MatchTypeDef(other, strict)
}

// ---------------------------------------------------------------------------
// Runtime values
// ---------------------------------------------------------------------------

// FunctionHandle identifies a function value by namespace and name.
type FunctionHandle struct {
	NameSpace string
	Name      string
}

// Value is a runtime value: a type definition plus exactly one live payload.
// Arrays, structs and class instances are shared handles; scalars are copied
// on assignment.
//
// Ref, ValueRef and AccessIndex record the assignment target while the
// compiler's push-variable-reference window is open: Ref points at the owning
// variable for bare stores, ValueRef at the owning array/string value for
// element and character stores.
type Value struct {
	TypeDef

	B   bool
	I   int64
	F   float64
	C   byte
	S   string
	Arr []*Value
	Str *StructValue
	Cls *Scope
	Fun FunctionHandle

	Ref         *Variable
	ValueRef    *Value
	AccessIndex int64

	// Constexpr marks analysis-time values whose payload is known by
	// constant folding. The VM never reads it.
	Constexpr bool

	gcMark bool
}

// NewValue creates an empty value of the given type.
func NewValue(t Type) *Value {
	return &Value{TypeDef: NewTypeDef(t)}
}

// NewTypedValue creates an empty value with the full type definition.
func NewTypedValue(td TypeDef) *Value {
	return &Value{TypeDef: td}
}

func NewBool(b bool) *Value     { return &Value{TypeDef: NewTypeDef(TypeBool), B: b} }
func NewInt(i int64) *Value     { return &Value{TypeDef: NewTypeDef(TypeInt), I: i} }
func NewFloat(f float64) *Value { return &Value{TypeDef: NewTypeDef(TypeFloat), F: f} }
func NewChar(c byte) *Value     { return &Value{TypeDef: NewTypeDef(TypeChar), C: c} }
func NewString(s string) *Value { return &Value{TypeDef: NewTypeDef(TypeString), S: s} }
func NewVoid() *Value           { return NewValue(TypeVoid) }
func NewUndefined() *Value      { return NewValue(TypeUndefined) }

// NewFunction creates a function handle value.
func NewFunction(nameSpace, name string) *Value {
	return &Value{TypeDef: NewTypeDef(TypeFunction), Fun: FunctionHandle{NameSpace: nameSpace, Name: name}}
}

// NewArray creates an array value holding the given elements.
func NewArray(elems []*Value, t Type, dim []int64, nameSpace, name string) *Value {
	return &Value{TypeDef: NewArrayTypeDef(t, dim, nameSpace, name), Arr: elems}
}

// NewStruct creates a struct instance value of the named struct type.
func NewStruct(fields *StructValue, nameSpace, name string) *Value {
	if fields == nil {
		fields = NewStructValue()
	}
	return &Value{TypeDef: NewObjectTypeDef(TypeStruct, nameSpace, name), Str: fields}
}

// NewClassInstance creates a class instance value backed by the given scope.
func NewClassInstance(cls *Scope, nameSpace, name string) *Value {
	return &Value{TypeDef: NewObjectTypeDef(TypeClass, nameSpace, name), Cls: cls}
}

// SetBool replaces the payload in place. The Set* family keeps the value's
// identity so shared handles observe the change.
func (v *Value) SetBool(b bool)     { v.reset(TypeBool); v.B = b }
func (v *Value) SetInt(i int64)     { v.reset(TypeInt); v.I = i }
func (v *Value) SetFloat(f float64) { v.reset(TypeFloat); v.F = f }
func (v *Value) SetChar(c byte)     { v.reset(TypeChar); v.C = c }
func (v *Value) SetString(s string) { v.reset(TypeString); v.S = s }

// SetArray replaces the payload with an array and adjusts the type shape.
func (v *Value) SetArray(elems []*Value, t Type, dim []int64, nameSpace, name string) {
	v.reset(t)
	v.Arr = elems
	v.Dim = dim
	v.TypeNameSpace = nameSpace
	v.TypeName = name
}

func (v *Value) reset(t Type) {
	v.Type = t
	v.Dim = nil
	v.B = false
	v.I = 0
	v.F = 0
	v.C = 0
	v.S = ""
	v.Arr = nil
	v.Str = nil
	v.Cls = nil
	v.Fun = FunctionHandle{}
}

// CopyFrom deep-copies a scalar payload and share-copies array, struct and
// class handles from other.
func (v *Value) CopyFrom(other *Value) {
	v.TypeDef = TypeDef{
		Type:          other.Type,
		Dim:           append([]int64(nil), other.Dim...),
		TypeNameSpace: other.TypeNameSpace,
		TypeName:      other.TypeName,
	}
	v.B = other.B
	v.I = other.I
	v.F = other.F
	v.C = other.C
	v.S = other.S
	v.Arr = other.Arr
	v.Str = other.Str
	v.Cls = other.Cls
	v.Fun = other.Fun
	v.Constexpr = other.Constexpr
}

// Clone allocates a fresh value with the same payload sharing rules as
// CopyFrom.
func (v *Value) Clone() *Value {
	n := &Value{}
	n.CopyFrom(v)
	return n
}

// Item returns the array element at ix. When ref is true the element carries
// a back-pointer to the owning array so a following assignment rewrites it in
// place.
func (v *Value) Item(ix int64, ref bool) (*Value, error) {
	if ix < 0 || ix >= int64(len(v.Arr)) {
		return nil, Errorf("array index %d out of range (len=%d)", ix, len(v.Arr))
	}
	elem := v.Arr[ix]
	if elem != nil && ref {
		elem.ValueRef = v
		elem.AccessIndex = ix
	}
	return elem, nil
}

// SetItem replaces the array element at ix.
func (v *Value) SetItem(ix int64, elem *Value) error {
	if ix < 0 || ix >= int64(len(v.Arr)) {
		return Errorf("array index %d out of range (len=%d)", ix, len(v.Arr))
	}
	v.Arr[ix] = elem
	return nil
}

// CharAt returns the string character at ix as a Char value. When ref is true
// the result carries a back-pointer so assignment rewrites the owning string.
func (v *Value) CharAt(ix int64, ref bool) (*Value, error) {
	if ix < 0 || ix >= int64(len(v.S)) {
		return nil, Errorf("string index %d out of range (len=%d)", ix, len(v.S))
	}
	c := NewChar(v.S[ix])
	if ref {
		c.ValueRef = v
		c.AccessIndex = ix
	}
	return c, nil
}

// SetCharAt rewrites one character of the owning string.
func (v *Value) SetCharAt(ix int64, c *Value) error {
	if ix < 0 || ix >= int64(len(v.S)) {
		return Errorf("string index %d out of range (len=%d)", ix, len(v.S))
	}
	b := []byte(v.S)
	switch {
	case c.IsChar():
		b[ix] = c.C
	case c.IsString() && len(c.S) == 1:
		b[ix] = c.S[0]
	default:
		return Errorf("invalid %s assignment to string character", c.TypeStr())
	}
	v.S = string(b)
	return nil
}

// Field returns the struct field value by name, with the owner back-pointer
// installed through the field's variable when ref is true.
func (v *Value) Field(name string, ref bool) (*Value, error) {
	fv := v.Str.Find(name)
	if fv == nil {
		return nil, Errorf("'%s' is not a member of '%s'", name, QualifiedTypeName(v.TypeNameSpace, v.TypeName))
	}
	return fv.Get(ref), nil
}

// SetStructField replaces a struct field's value.
func (v *Value) SetStructField(name string, val *Value) error {
	fv := v.Str.Find(name)
	if fv == nil {
		return Errorf("'%s' is not a member of '%s'", name, QualifiedTypeName(v.TypeNameSpace, v.TypeName))
	}
	fv.Set(val)
	return nil
}

// References enumerates the value's outbound edges for the collector.
func (v *Value) References() []GCObject {
	var refs []GCObject
	if v.IsArray() {
		for _, e := range v.Arr {
			if e != nil {
				refs = append(refs, e)
			}
		}
		return refs
	}
	if v.Str != nil {
		for _, name := range v.Str.Names() {
			if fv := v.Str.Find(name); fv != nil {
				refs = append(refs, fv)
			}
		}
	}
	if v.Cls != nil {
		for _, name := range v.Cls.VariableNames() {
			if cv := v.Cls.FindDeclaredVariable(name); cv != nil {
				refs = append(refs, cv)
			}
		}
	}
	return refs
}

func (v *Value) marked() bool     { return v.gcMark }
func (v *Value) setMarked(m bool) { v.gcMark = m }

// ---------------------------------------------------------------------------
// Struct instances
// ---------------------------------------------------------------------------

// StructValue is the shared payload of a struct instance: an ordered map from
// field names to variables. Iteration follows insertion order.
type StructValue struct {
	names []string
	vars  map[string]*Variable
}

// NewStructValue creates an empty field set.
func NewStructValue() *StructValue {
	return &StructValue{vars: make(map[string]*Variable)}
}

// Declare adds a field variable. Re-declaring replaces the variable without
// changing its position.
func (s *StructValue) Declare(name string, v *Variable) {
	if _, ok := s.vars[name]; !ok {
		s.names = append(s.names, name)
	}
	s.vars[name] = v
}

// Find returns the field variable or nil.
func (s *StructValue) Find(name string) *Variable {
	return s.vars[name]
}

// Names returns the field names in insertion order.
func (s *StructValue) Names() []string {
	return s.names
}

// Len returns the number of fields.
func (s *StructValue) Len() int {
	return len(s.names)
}

// ---------------------------------------------------------------------------
// Variables
// ---------------------------------------------------------------------------

// Variable boxes a value under a declared type. All scope entries and struct
// fields are variables; assignments rewrite the box, not the binding.
type Variable struct {
	TypeDef
	Identifier string
	IsConst    bool

	value  *Value
	gcMark bool
}

// NewVariable creates a variable with the declared type definition.
func NewVariable(identifier string, td TypeDef) *Variable {
	return &Variable{TypeDef: td, Identifier: identifier}
}

// Get returns the boxed value. When ref is true the value carries a
// back-pointer to this variable for the assignment protocol.
func (v *Variable) Get(ref bool) *Value {
	if v.value != nil && ref {
		v.value.Ref = v
	}
	return v.value
}

// Value returns the boxed value without installing a reference.
func (v *Variable) Value() *Value {
	return v.value
}

// Set replaces the boxed value.
func (v *Variable) Set(val *Value) {
	v.value = val
}

// References enumerates the boxed value for the collector.
func (v *Variable) References() []GCObject {
	if v.value == nil {
		return nil
	}
	return []GCObject{v.value}
}

func (v *Variable) marked() bool     { return v.gcMark }
func (v *Variable) setMarked(m bool) { v.gcMark = m }
