package vm

import "fmt"

// ---------------------------------------------------------------------------
// Runtime errors
// ---------------------------------------------------------------------------

// RuntimeError is a catchable runtime fault. Code is 0 for faults raised by
// the machine itself; user throws carry the Exception struct's code.
type RuntimeError struct {
	Code    int64
	Message string
}

// Error implements the error interface.
func (e *RuntimeError) Error() string {
	return e.Message
}

// Errorf builds a RuntimeError with code 0.
func Errorf(format string, args ...any) *RuntimeError {
	return &RuntimeError{Message: fmt.Sprintf(format, args...)}
}

// UserErrorf builds a RuntimeError carrying a user code.
func UserErrorf(code int64, format string, args ...any) *RuntimeError {
	return &RuntimeError{Code: code, Message: fmt.Sprintf(format, args...)}
}

// AsRuntimeError normalizes any error into a RuntimeError.
func AsRuntimeError(err error) *RuntimeError {
	if re, ok := err.(*RuntimeError); ok {
		return re
	}
	return &RuntimeError{Message: err.Error()}
}

// ---------------------------------------------------------------------------
// Shared error builders
// ---------------------------------------------------------------------------

// OperationError reports an invalid binary operation for the operand types.
func OperationError(op string, ltype, rtype TypeDef) *RuntimeError {
	return Errorf("invalid '%s' operation for types '%s' and '%s'", op, ltype.TypeStr(), rtype.TypeStr())
}

// UnaryOperationError reports an invalid unary operation for the operand type.
func UnaryOperationError(op string, t TypeDef) *RuntimeError {
	return Errorf("incompatible unary operator '%s' in front of %s expression", op, t.TypeStr())
}

// DeclarationTypeError reports a declaration initializer type mismatch.
func DeclarationTypeError(identifier string, ltype, rtype TypeDef) *RuntimeError {
	return Errorf("found %s in definition of '%s', expected %s type",
		rtype.TypeStr(), identifier, ltype.TypeStr())
}

// ReturnTypeError reports a return value type mismatch.
func ReturnTypeError(identifier string, ltype, rtype TypeDef) *RuntimeError {
	return Errorf("invalid %s return type for '%s' function with %s return type",
		ltype.TypeStr(), identifier, rtype.TypeStr())
}

// MismatchedTypeError reports two incompatible type definitions.
func MismatchedTypeError(ltype, rtype TypeDef) *RuntimeError {
	return Errorf("mismatched types %s and %s", ltype.TypeStr(), rtype.TypeStr())
}

// StructMemberError reports access to a field that is not a member.
func StructMemberError(nameSpace, name, field string) *RuntimeError {
	return Errorf("'%s' is not a member of '%s'", field, QualifiedTypeName(nameSpace, name))
}

// StructFieldAssignError reports a struct field assignment type mismatch.
func StructFieldAssignError(nameSpace, name, field string, ltype, rtype TypeDef) *RuntimeError {
	return Errorf("invalid type %s trying to assign '%s' member of '%s' struct, expected %s",
		rtype.TypeStr(), field, QualifiedTypeName(nameSpace, name), ltype.TypeStr())
}

// UndeclaredFunctionError reports a call that matches no declared overload.
func UndeclaredFunctionError(identifier string, signature []TypeDef) *RuntimeError {
	return Errorf("function '%s' was never declared", BuildSignature(identifier, signature))
}

// BuildSignature renders "name(type, type)" for error messages.
func BuildSignature(identifier string, signature []TypeDef) string {
	s := identifier + "("
	for i, p := range signature {
		if i > 0 {
			s += ", "
		}
		s += p.TypeStr()
	}
	return s + ")"
}
