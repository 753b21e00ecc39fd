package vm

import (
	"strconv"
	"strings"
)

// ---------------------------------------------------------------------------
// Deterministic, cycle-safe value rendering
// ---------------------------------------------------------------------------

// ValueString renders a value. With showComplex true, arrays, structs and
// class instances render their contents; a handle reached twice on the same
// rendering path collapses to "{...}".
func ValueString(v *Value, showComplex bool) string {
	return renderValue(v, showComplex, nil)
}

func renderValue(v *Value, showComplex bool, printed []*Value) string {
	if v == nil {
		return "null"
	}

	if v.IsArray() {
		if !showComplex {
			return v.TypeStr()
		}
		for _, p := range printed {
			if sameHandle(p, v) {
				return "{...}"
			}
		}
		return renderArray(v, showComplex, append(printed, v))
	}

	switch v.Type {
	case TypeVoid:
		return "null"
	case TypeBool:
		if v.B {
			return "true"
		}
		return "false"
	case TypeInt:
		return strconv.FormatInt(v.I, 10)
	case TypeFloat:
		return renderFloat(v.F)
	case TypeChar:
		return string(v.C)
	case TypeString:
		return v.S
	case TypeStruct:
		s := QualifiedTypeName(v.TypeNameSpace, v.TypeName)
		if showComplex {
			for _, p := range printed {
				if sameHandle(p, v) {
					return s + "{...}"
				}
			}
			s += renderStruct(v, showComplex, append(printed, v))
		}
		return s
	case TypeClass:
		s := QualifiedTypeName(v.TypeNameSpace, v.TypeName)
		if showComplex {
			for _, p := range printed {
				if sameHandle(p, v) {
					return s + "{...}"
				}
			}
			s += renderClass(v, showComplex, append(printed, v))
		}
		return s
	case TypeFunction:
		if v.Fun.NameSpace == "" {
			return v.Fun.Name + "(...)"
		}
		return v.Fun.NameSpace + "::" + v.Fun.Name + "(...)"
	}
	return "undefined"
}

// renderFloat strips trailing zeros but keeps one digit after the point.
func renderFloat(f float64) string {
	s := strconv.FormatFloat(f, 'f', 6, 64)
	s = strings.TrimRight(s, "0")
	if strings.HasSuffix(s, ".") {
		s += "0"
	}
	return s
}

func renderArray(v *Value, showComplex bool, printed []*Value) string {
	var b strings.Builder
	b.WriteByte('{')
	for i, elem := range v.Arr {
		if i > 0 {
			b.WriteByte(',')
		}
		writeQuoted(&b, elem, showComplex, printed)
	}
	b.WriteByte('}')
	return b.String()
}

func renderStruct(v *Value, showComplex bool, printed []*Value) string {
	var b strings.Builder
	b.WriteByte('{')
	for _, name := range v.Str.Names() {
		fv := v.Str.Find(name)
		b.WriteString(name)
		b.WriteByte(':')
		if fv != nil {
			writeQuoted(&b, fv.Value(), showComplex, printed)
		} else {
			b.WriteString("null")
		}
		b.WriteByte(';')
	}
	b.WriteByte('}')
	return b.String()
}

func renderClass(v *Value, showComplex bool, printed []*Value) string {
	var b strings.Builder
	b.WriteByte('{')
	for _, name := range v.Cls.VariableNames() {
		cv := v.Cls.FindDeclaredVariable(name)
		b.WriteString(name)
		b.WriteByte(':')
		if cv != nil {
			writeQuoted(&b, cv.Value(), showComplex, printed)
		} else {
			b.WriteString("null")
		}
		b.WriteByte(';')
	}
	for _, name := range v.Cls.FunctionNames() {
		for _, fn := range v.Cls.Overloads(name) {
			sig := make([]TypeDef, len(fn.Params))
			for i, p := range fn.Params {
				sig[i] = p.ParamType()
			}
			b.WriteString(BuildSignature(name, sig))
			b.WriteByte(';')
		}
	}
	b.WriteByte('}')
	return b.String()
}

// writeQuoted renders an element with char/string quoting inside composites.
func writeQuoted(b *strings.Builder, v *Value, showComplex bool, printed []*Value) {
	switch {
	case v != nil && v.IsChar():
		b.WriteByte('\'')
		b.WriteString(renderValue(v, showComplex, printed))
		b.WriteByte('\'')
	case v != nil && v.IsString():
		b.WriteByte('"')
		b.WriteString(renderValue(v, showComplex, printed))
		b.WriteByte('"')
	default:
		b.WriteString(renderValue(v, showComplex, printed))
	}
}

// sameHandle reports whether two values share the same composite payload.
func sameHandle(a, b *Value) bool {
	if a == b {
		return true
	}
	if a.IsArray() && b.IsArray() {
		return len(a.Arr) > 0 && len(b.Arr) > 0 && &a.Arr[0] == &b.Arr[0]
	}
	if a.Str != nil && a.Str == b.Str {
		return true
	}
	if a.Cls != nil && a.Cls == b.Cls {
		return true
	}
	return false
}
