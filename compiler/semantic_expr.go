package compiler

import (
	"github.com/chazu/merlin/vm"
)

// ---------------------------------------------------------------------------
// Expression dispatch
// ---------------------------------------------------------------------------

func (a *SemanticAnalyser) visitExpr(expr Expr) error {
	switch e := expr.(type) {
	case *LiteralBool:
		v := vm.NewBool(e.Value)
		v.Constexpr = true
		a.currentExpr = v
	case *LiteralInt:
		v := vm.NewInt(e.Value)
		v.Constexpr = true
		a.currentExpr = v
	case *LiteralFloat:
		v := vm.NewFloat(e.Value)
		v.Constexpr = true
		a.currentExpr = v
	case *LiteralChar:
		v := vm.NewChar(e.Value)
		v.Constexpr = true
		a.currentExpr = v
	case *LiteralString:
		v := vm.NewString(e.Value)
		v.Constexpr = true
		a.currentExpr = v
	case *NullExpr:
		a.currentExpr = vm.NewVoid()
	case *ValueExpr:
		a.currentExpr = e.Value
	case *LambdaExpr:
		return a.visitLambda(e)
	case *ArrayConstructorExpr:
		return a.visitArrayConstructor(e)
	case *StructConstructorExpr:
		return a.visitStructConstructor(e)
	case *IdentifierExpr:
		return a.visitIdentifier(e)
	case *BinaryExpr:
		return a.visitBinary(e)
	case *UnaryExpr:
		return a.visitUnary(e)
	case *TernaryExpr:
		return a.visitTernary(e)
	case *FunctionCallExpr:
		return a.visitFunctionCall(e)
	case *TypeCastExpr:
		return a.visitTypeCast(e)
	case *TypeLiteralExpr:
		v := vm.NewTypedValue(e.TypeDef())
		v.Constexpr = true
		a.currentExpr = v
	case *ThisExpr:
		return a.visitThis(e)
	case *TypeOfExpr:
		return a.visitOperand(e.Expr, e, "typeof", vm.TypeString)
	case *TypeIdExpr:
		return a.visitOperand(e.Expr, e, "typeid", vm.TypeInt)
	case *RefIdExpr:
		return a.visitOperand(e.Expr, e, "refid", vm.TypeInt)
	case *IsStructExpr:
		return a.visitOperand(e.Expr, e, "is_struct", vm.TypeBool)
	case *IsArrayExpr:
		return a.visitOperand(e.Expr, e, "is_array", vm.TypeBool)
	case *IsAnyExpr:
		return a.visitOperand(e.Expr, e, "is_any", vm.TypeBool)
	case *InstructionExpr:
		// synthetic; carries no analysable value
	default:
		return a.fail(expr, "unhandled expression")
	}
	return nil
}

// visitOperand checks a unary type-operator argument and fixes the result
// type.
func (a *SemanticAnalyser) visitOperand(inner Expr, n Node, what string, result vm.Type) error {
	if err := a.visitExpr(inner); err != nil {
		return err
	}
	if a.currentExpr.IsUndefined() {
		return a.fail(n, "%s expression is undefined", what)
	}
	a.currentExpr = vm.NewValue(result)
	return nil
}

// ---------------------------------------------------------------------------
// Composite constructors
// ---------------------------------------------------------------------------

// visitArrayConstructor infers the element type and shape of a nested array
// literal. Mixed element types widen to any; the first nesting level fixes
// the shape.
func (a *SemanticAnalyser) visitArrayConstructor(expr *ArrayConstructorExpr) error {
	if len(a.arrayDim) == 0 {
		if len(expr.Values) == 0 {
			a.arrayType = vm.NewTypeDef(vm.TypeAny)
		} else {
			a.arrayType = vm.NewTypeDef(vm.TypeUndefined)
		}
		a.arrayDimMax = 0
		a.arrayIsMax = false
	}

	a.arrayDimMax++
	if !a.arrayIsMax {
		a.arrayDim = append(a.arrayDim, -1)
	}

	var size int64
	for _, v := range expr.Values {
		if err := a.visitExpr(v); err != nil {
			return err
		}
		if a.currentExpr.IsUndefined() {
			return a.fail(expr, "array value is undefined")
		}

		if a.arrayType.IsUndefined() || a.arrayType.IsArray() {
			a.arrayType = a.currentExpr.TypeDef
		} else if !a.arrayType.MatchType(a.currentExpr.TypeDef) &&
			!a.currentExpr.IsAny() && !a.currentExpr.IsVoid() && !a.currentExpr.IsArray() {
			a.arrayType = vm.NewTypeDef(vm.TypeAny)
		}
		size++
	}

	if ix := a.arrayDimMax - 1; a.arrayDim[ix] == -1 {
		a.arrayDim[ix] = size
	}
	a.arrayIsMax = true

	a.arrayDimMax--
	stay := len(a.arrayDim) - a.arrayDimMax
	dim := make([]int64, 0, stay)
	for i := len(a.arrayDim) - stay; i < len(a.arrayDim); i++ {
		dim = append(dim, a.arrayDim[i])
	}

	elemType := a.arrayType.Type
	if a.arrayType.IsVoid() {
		elemType = vm.TypeAny
	}

	a.currentExpr = vm.NewTypedValue(vm.NewArrayTypeDef(elemType, dim, a.arrayType.TypeNameSpace, a.arrayType.TypeName))

	expr.Type = elemType
	expr.Dim = dim
	expr.TypeName = a.arrayType.TypeName
	expr.TypeNameSpace = a.arrayType.TypeNameSpace

	if a.arrayDimMax == 0 {
		a.arrayDim = nil
	}
	return nil
}

func (a *SemanticAnalyser) visitStructConstructor(expr *StructConstructorExpr) error {
	module := a.currentModule()
	nameSpace := a.normalizeNameSpace(expr.TypeNameSpace)

	scope := a.InnerMostStructScope(module.NameSpace, module.Name, nameSpace, expr.TypeName)
	if scope == nil {
		return a.fail(expr, "struct '%s' was not declared", expr.TypeName)
	}
	expr.TypeNameSpace = scope.NameSpace

	def := scope.FindDeclaredStruct(expr.TypeName)

	for i, field := range expr.Values {
		fieldDef, ok := def.Fields[field.Name]
		if !ok {
			return a.wrap(expr, vm.StructMemberError(nameSpace, expr.TypeName, field.Name))
		}

		if rewritten := a.checkBuildArray(fieldDef.Dim, field.Expr); rewritten != nil {
			expr.Values[i].Expr = rewritten
			field.Expr = rewritten
		}

		if err := a.visitExpr(field.Expr); err != nil {
			return err
		}
		if !fieldDef.IsAnyOrMatchTypeDef(a.currentExpr.TypeDef, false) {
			return a.wrap(expr, vm.MismatchedTypeError(fieldDef.TypeDef, a.currentExpr.TypeDef))
		}
	}

	a.currentExpr = vm.NewTypedValue(vm.NewObjectTypeDef(vm.TypeStruct, expr.TypeNameSpace, expr.TypeName))
	return nil
}

// ---------------------------------------------------------------------------
// Identifiers and member access
// ---------------------------------------------------------------------------

func (a *SemanticAnalyser) visitIdentifier(expr *IdentifierExpr) error {
	module := a.currentModule()
	nameSpace := a.normalizeNameSpace(expr.AccessNameSpace)
	identifierVector := expr.IdentifierVector
	identifier := expr.Identifier()

	var declared *vm.Variable
	var scope *vm.Scope

	if identifier == "self" {
		if len(identifierVector) == 1 {
			return a.fail(expr, "self class reference cannot be handled")
		}
		identifierVector = identifierVector[1:]
		identifier = identifierVector[0].Identifier
		if len(a.classStack) == 0 {
			return a.fail(expr, "self used outside of class")
		}
		scope = a.classStack[len(a.classStack)-1]
		declared = scope.FindDeclaredVariable(identifier)
		if declared == nil {
			return a.fail(expr, "'%s' was not found in '%s' class definition", identifier,
				vm.QualifiedTypeName(scope.NameSpace, scope.Module))
		}
	} else {
		scope = a.InnerMostVariableScope(module.NameSpace, module.Name, nameSpace, identifier)
	}

	if scope == nil {
		if s := a.InnerMostStructScope(module.NameSpace, module.Name, nameSpace, identifier); s != nil {
			a.currentExpr = vm.NewValue(vm.TypeStruct)
			return nil
		}
		if s := a.InnerMostFunctionScope(module.NameSpace, module.Name, nameSpace, identifier, nil, false); s != nil {
			a.currentExpr = vm.NewValue(vm.TypeFunction)
			return nil
		}
		return a.fail(expr, "identifier '%s' was not declared", identifier)
	}

	if declared == nil {
		declared = scope.FindDeclaredVariable(identifier)
	}

	if declared.Value() != nil && declared.Value().IsUndefined() && !a.isAssignment {
		return a.fail(expr, "variable '%s' is undefined", identifier)
	}

	value, err := a.accessValue(declared.Value(), declared, identifierVector, 0)
	if err != nil {
		return a.wrap(expr, err)
	}
	if value.IsUndefined() && !a.isAssignment {
		return a.fail(expr, "variable '%s' is undefined", identifier)
	}

	// A bare variable read carries the variable reference so assignment
	// checking sees the declared type and can update the bound value. Only
	// reads of const variables stay constant expressions.
	if value == declared.Value() {
		out := value.Clone()
		out.Ref = declared
		if !declared.IsConst {
			out.Constexpr = false
		}
		a.currentExpr = out
		return nil
	}

	a.currentExpr = value
	return nil
}

// accessValue resolves a member/index access chain against the static type
// of a value, producing the accessed slot's analysis value.
func (a *SemanticAnalyser) accessValue(value *vm.Value, owner *vm.Variable, identifierVector []Ident, i int) (*vm.Value, error) {
	if value == nil {
		value = vm.NewUndefined()
	}
	module := a.currentModule()
	nameSpace := value.TypeNameSpace
	if nameSpace == "" {
		nameSpace = module.NameSpace
	}
	next := value

	accessVector, err := a.evaluateAccessVector(identifierVector[i].AccessVector)
	if err != nil {
		return nil, err
	}

	if len(accessVector) > 0 {
		switch {
		case len(accessVector) == len(next.Dim):
			next = vm.NewTypedValue(next.ElementType())
		case len(accessVector) < len(next.Dim):
			sub := next.Clone()
			sub.Dim = append([]int64(nil), next.Dim[len(accessVector):]...)
			next = sub
		case len(accessVector)-1 == len(next.Dim) && next.IsString():
			next = vm.NewValue(vm.TypeChar)
		}
	}

	i++
	if i < len(identifierVector) {
		switch {
		case next.IsClass():
			next = vm.NewValue(vm.TypeAny)
			next.Ref = vm.NewVariable(identifierVector[i].Identifier, vm.NewTypeDef(vm.TypeAny))
		case next.TypeName == "":
			next = vm.NewValue(vm.TypeAny)
			next.Ref = vm.NewVariable(identifierVector[i].Identifier, vm.NewTypeDef(vm.TypeAny))
		default:
			scope := a.InnerMostStructScope(module.NameSpace, module.Name, nameSpace, next.TypeName)
			if scope == nil {
				return nil, vm.Errorf("cannot find '%s' struct", vm.QualifiedTypeName(nameSpace, next.TypeName))
			}
			def := scope.FindDeclaredStruct(next.TypeName)

			fieldDef, ok := def.Fields[identifierVector[i].Identifier]
			if !ok {
				return nil, vm.StructMemberError(next.TypeNameSpace, next.TypeName, identifierVector[i].Identifier)
			}
			next = vm.NewTypedValue(fieldDef.TypeDef)
			next.Ref = vm.NewVariable(fieldDef.Identifier, fieldDef.TypeDef)
		}
		return a.accessValue(next, owner, identifierVector, i)
	}

	return next, nil
}

// ---------------------------------------------------------------------------
// Operators
// ---------------------------------------------------------------------------

// visitBinary determines the operation's result type and, when both operands
// are constexpr, folds the payload using the runtime operation code.
// Evaluation failures downgrade to non-constexpr without raising.
func (a *SemanticAnalyser) visitBinary(expr *BinaryExpr) error {
	if vm.IsAssignmentOp(expr.Op) {
		a.isAssignment = true
	}
	if err := a.visitExpr(expr.Left); err != nil {
		a.isAssignment = false
		return err
	}
	if a.currentExpr.IsUndefined() && !a.isAssignment {
		return a.fail(expr, "left expression is undefined")
	}
	a.isAssignment = false

	lexpr := a.currentExpr.Clone()
	lexpr.Ref = a.currentExpr.Ref

	if err := a.visitExpr(expr.Right); err != nil {
		return err
	}
	if a.currentExpr.IsUndefined() {
		return a.fail(expr, "right expression is undefined")
	}
	rexpr := a.currentExpr.Clone()

	result, err := a.typeOfOperation(expr.Op, lexpr, rexpr)
	if err != nil {
		return a.wrap(expr, err)
	}
	result.Constexpr = lexpr.Constexpr && rexpr.Constexpr

	if result.Constexpr {
		folded, err := vm.ApplyBinary(expr.Op, lexpr.Clone(), rexpr.Clone())
		if err != nil {
			result.Constexpr = false
		} else {
			constexpr := result.Constexpr
			result = folded
			result.Constexpr = constexpr
		}
	}

	a.currentExpr = result
	return nil
}

// typeOfOperation decides the result type of a binary operation from the
// operand types, mirroring the runtime rule set at the tag level.
func (a *SemanticAnalyser) typeOfOperation(op string, lval, rval *vm.Value) (*vm.Value, error) {
	// Assignments check against the owning slot's declared type and take it
	// as the result type.
	if vm.IsAssignmentOp(op) {
		ltype := lval.TypeDef
		if lval.Ref != nil {
			ltype = lval.Ref.TypeDef
		}
		if !ltype.IsAnyOrMatchTypeDef(rval.TypeDef, false) {
			return nil, vm.OperationError(op, ltype, rval.TypeDef)
		}

		var out *vm.Value
		if op == "=" {
			out = rval.Clone()
			out.Ref = nil
			if !ltype.IsAny() && !ltype.IsArray() && !rval.IsArray() && !rval.IsVoid() {
				out.Type = ltype.Type
			}
		} else {
			base := lval.Clone()
			base.Ref = nil
			var err error
			out, err = a.typeOfOperation(op[:len(op)-1], base, rval)
			if err != nil {
				return nil, err
			}
		}

		// Track initialization so later reads see the assigned type.
		if lval.Ref != nil {
			lval.Ref.Set(out.Clone())
		}
		return out, nil
	}

	if (lval.IsVoid() || rval.IsVoid()) && vm.IsEqualityOp(op) {
		return vm.NewValue(vm.TypeBool), nil
	}

	if op == "in" {
		if lval.IsAny() && rval.IsAny() {
			return vm.NewValue(vm.TypeBool), nil
		}
		if !rval.IsArray() && !rval.IsString() {
			return nil, vm.Errorf("invalid type '%s', value must be a array or string", rval.TypeStr())
		}
		return vm.NewValue(vm.TypeBool), nil
	}

	if lval.IsAny() || rval.IsAny() {
		return vm.NewValue(vm.TypeAny), nil
	}

	switch {
	case lval.IsArray():
		if rval.IsArray() && vm.IsEqualityOp(op) {
			return vm.NewValue(vm.TypeBool), nil
		}
		if op != "+" || !rval.MatchTypeDef(lval.TypeDef, false) {
			return nil, vm.OperationError(op, lval.TypeDef, rval.TypeDef)
		}
		elem := lval.Type
		if lval.Type != rval.Type {
			elem = vm.TypeAny
		}
		dim := append([]int64(nil), lval.Dim...)
		dim[len(dim)-1] += rval.Dim[len(rval.Dim)-1]
		return vm.NewTypedValue(vm.NewArrayTypeDef(elem, dim, lval.TypeNameSpace, lval.TypeName)), nil

	case lval.IsBool():
		if rval.IsBool() && (op == "and" || op == "or" || vm.IsEqualityOp(op)) {
			return vm.NewValue(vm.TypeBool), nil
		}

	case lval.IsInt():
		if rval.IsNumeric() {
			if op == "<=>" {
				return vm.NewValue(vm.TypeInt), nil
			}
			if vm.IsRelationalOp(op) || vm.IsEqualityOp(op) {
				return vm.NewValue(vm.TypeBool), nil
			}
			if op == "/" || op == "/%" {
				return vm.NewValue(vm.TypeFloat), nil
			}
			if rval.IsFloat() && isArithmeticOp(op) {
				return vm.NewValue(vm.TypeFloat), nil
			}
			if isIntOp(op) {
				return vm.NewValue(vm.TypeInt), nil
			}
		}

	case lval.IsFloat():
		if rval.IsNumeric() {
			if op == "<=>" {
				return vm.NewValue(vm.TypeInt), nil
			}
			if vm.IsRelationalOp(op) || vm.IsEqualityOp(op) {
				return vm.NewValue(vm.TypeBool), nil
			}
			if isArithmeticOp(op) {
				return vm.NewValue(vm.TypeFloat), nil
			}
		}

	case lval.IsChar():
		if rval.IsChar() && vm.IsEqualityOp(op) {
			return vm.NewValue(vm.TypeBool), nil
		}
		if (rval.IsChar() || rval.IsString()) && op == "+" {
			return vm.NewValue(vm.TypeString), nil
		}

	case lval.IsString():
		if rval.IsString() && vm.IsEqualityOp(op) {
			return vm.NewValue(vm.TypeBool), nil
		}
		if (rval.IsString() || rval.IsChar()) && op == "+" {
			return vm.NewValue(vm.TypeString), nil
		}

	case lval.IsStruct(), lval.IsClass(), lval.IsFunction():
		if rval.MatchType(lval.TypeDef) && vm.IsEqualityOp(op) {
			return vm.NewValue(vm.TypeBool), nil
		}
	}

	return nil, vm.OperationError(op, lval.TypeDef, rval.TypeDef)
}

func isArithmeticOp(op string) bool {
	switch op {
	case "+", "-", "*", "/", "%", "/%", "**":
		return true
	}
	return false
}

func isIntOp(op string) bool {
	if isArithmeticOp(op) {
		return true
	}
	switch op {
	case ">>", "<<", "|", "&", "^":
		return true
	}
	return false
}

func (a *SemanticAnalyser) visitUnary(expr *UnaryExpr) error {
	if err := a.visitExpr(expr.Expr); err != nil {
		return err
	}
	if a.currentExpr.IsUndefined() {
		return a.fail(expr, "unary expression is undefined")
	}

	valid := false
	switch a.currentExpr.Type {
	case vm.TypeInt:
		valid = expr.Op == "+" || expr.Op == "-" || expr.Op == "++" || expr.Op == "--" || expr.Op == "~"
	case vm.TypeFloat:
		valid = expr.Op == "+" || expr.Op == "-" || expr.Op == "++" || expr.Op == "--"
	case vm.TypeBool:
		valid = expr.Op == "not"
	case vm.TypeAny:
		valid = true
	}
	if !valid {
		return a.wrap(expr, vm.UnaryOperationError(expr.Op, a.currentExpr.TypeDef))
	}

	if a.currentExpr.Constexpr && expr.Op != "++" && expr.Op != "--" {
		if folded, err := vm.ApplyUnary(expr.Op, a.currentExpr.Clone()); err == nil {
			folded.Constexpr = true
			a.currentExpr = folded
		}
	}
	return nil
}

func (a *SemanticAnalyser) visitTernary(expr *TernaryExpr) error {
	if err := a.visitExpr(expr.Condition); err != nil {
		return err
	}
	if a.currentExpr.IsUndefined() {
		return a.fail(expr, "ternary condition is undefined")
	}

	if err := a.visitExpr(expr.IfTrue); err != nil {
		return err
	}
	if a.currentExpr.IsUndefined() {
		return a.fail(expr, "left ternary expression is undefined")
	}

	if err := a.visitExpr(expr.IfFalse); err != nil {
		return err
	}
	if a.currentExpr.IsUndefined() {
		return a.fail(expr, "right ternary expression is undefined")
	}
	return nil
}

func (a *SemanticAnalyser) visitTypeCast(expr *TypeCastExpr) error {
	if err := a.visitExpr(expr.Expr); err != nil {
		return err
	}
	if a.currentExpr.IsUndefined() {
		return a.fail(expr, "cast expression is undefined")
	}
	if (a.currentExpr.IsArray() || a.currentExpr.IsStruct()) && expr.Target != vm.TypeString {
		return a.fail(expr, "invalid type conversion from %s to %s",
			a.currentExpr.TypeStr(), expr.Target)
	}
	a.currentExpr = vm.NewValue(expr.Target)
	return nil
}

func (a *SemanticAnalyser) visitThis(expr *ThisExpr) error {
	value := vm.NewTypedValue(vm.NewObjectTypeDef(vm.TypeStruct, vm.DefaultNameSpace, vm.StructContext))

	if len(expr.AccessVector) > 0 {
		resolved, err := a.accessValue(value, nil, expr.AccessVector, 0)
		if err != nil {
			return a.wrap(expr, err)
		}
		value = resolved
	}
	a.currentExpr = value
	return nil
}

// ---------------------------------------------------------------------------
// Function calls
// ---------------------------------------------------------------------------

func (a *SemanticAnalyser) visitFunctionCall(expr *FunctionCallExpr) error {
	module := a.currentModule()
	nameSpace := a.normalizeNameSpace(expr.AccessNameSpace)
	returnedExpression := a.currentExpr

	signature := make([]vm.TypeDef, 0, len(expr.Parameters))
	for _, p := range expr.Parameters {
		if err := a.visitExpr(p); err != nil {
			return err
		}
		if a.currentExpr.IsUndefined() {
			return a.fail(expr, "'%s' parameter in position %d is undefined", expr.Identifier(), len(signature))
		}
		signature = append(signature, a.currentExpr.TypeDef)
	}

	// A call on the preceding expression's result.
	if expr.Identifier() == "" {
		if returnedExpression == nil || (!returnedExpression.IsFunction() && !returnedExpression.IsAny()) {
			return a.fail(expr, "%s", vm.BuildSignature("", signature))
		}
		a.currentExpr = vm.NewValue(vm.TypeAny)
		return nil
	}

	// A member call: resolve the path, which must yield a function value.
	if len(expr.IdentifierVector) > 1 {
		idNode := &IdentifierExpr{
			Position:         expr.Position,
			IdentifierVector: expr.IdentifierVector,
			AccessNameSpace:  nameSpace,
		}
		if err := a.visitIdentifier(idNode); err != nil {
			return err
		}
		if !a.currentExpr.IsFunction() && !a.currentExpr.IsAny() {
			return a.fail(expr, "%s", vm.BuildSignature(expr.Identifier(), signature))
		}
		a.currentExpr = vm.NewValue(vm.TypeAny)
		return nil
	}

	identifier := expr.Identifier()

	scope := a.InnerMostFunctionScope(module.NameSpace, module.Name, nameSpace, identifier, signature, true)
	strict := scope != nil
	if scope == nil {
		scope = a.InnerMostFunctionScope(module.NameSpace, module.Name, nameSpace, identifier, signature, false)
	}

	if scope == nil {
		varScope := a.InnerMostVariableScope(module.NameSpace, module.Name, nameSpace, identifier)

		if varScope == nil {
			if classScope := a.InnerMostClassScope(module.NameSpace, module.Name, nameSpace, identifier); classScope != nil {
				a.currentExpr = vm.NewTypedValue(vm.NewObjectTypeDef(vm.TypeClass, classScope.NameSpace, identifier))
				return nil
			}
			return a.fail(expr, "function '%s' was never declared", vm.BuildSignature(identifier, signature))
		}

		variable := varScope.FindDeclaredVariable(identifier)
		if !variable.IsFunction() && !variable.IsAny() {
			return a.wrap(expr, vm.UndeclaredFunctionError(identifier, signature))
		}

		a.currentExpr = vm.NewValue(vm.TypeAny)
		return nil
	}

	fn, err := scope.FindDeclaredFunction(identifier, signature, strict)
	if err != nil {
		return a.wrap(expr, err)
	}

	if fn.Type == vm.TypeVoid {
		a.currentExpr = vm.NewValue(vm.TypeUndefined)
	} else {
		result := vm.NewTypedValue(fn.TypeDef)
		if len(expr.ExpressionIdentifierVector) > 0 {
			resolved, err := a.accessValue(result, nil, expr.ExpressionIdentifierVector, 0)
			if err != nil {
				return a.wrap(expr, err)
			}
			a.currentExpr = resolved
		} else if expr.ExpressionCall != nil {
			a.currentExpr = vm.NewValue(vm.TypeFunction)
		} else {
			a.currentExpr = result
		}
	}

	if expr.ExpressionCall != nil {
		return a.visitFunctionCall(expr.ExpressionCall)
	}
	return nil
}

// ---------------------------------------------------------------------------
// Helpers
// ---------------------------------------------------------------------------

// determineObjectType resolves an Object tag to Struct or Class and fixes the
// declared namespace to the defining scope's.
func (a *SemanticAnalyser) determineObjectType(t *TypeInfo) error {
	if t.Type != vm.TypeObject {
		return nil
	}
	module := a.currentModule()

	if scope := a.InnerMostStructScope(module.NameSpace, module.Name, t.TypeNameSpace, t.TypeName); scope != nil {
		t.Type = vm.TypeStruct
		if t.TypeNameSpace == "" {
			t.TypeNameSpace = scope.NameSpace
		}
		return nil
	}
	if scope := a.InnerMostClassScope(module.NameSpace, module.Name, t.TypeNameSpace, t.TypeName); scope != nil {
		t.Type = vm.TypeClass
		if t.TypeNameSpace == "" {
			t.TypeNameSpace = scope.NameSpace
		}
		return nil
	}
	return vm.Errorf("object '%s' not found", vm.QualifiedTypeName(t.TypeNameSpace, t.TypeName))
}

// evaluateAccessVector resolves index expressions; non-constant indices
// yield -1 (checked at run time only).
func (a *SemanticAnalyser) evaluateAccessVector(exprs []Expr) ([]int64, error) {
	out := make([]int64, 0, len(exprs))
	for _, e := range exprs {
		val := int64(-1)
		if e != nil {
			if err := a.visitExpr(e); err != nil {
				return nil, err
			}
			if a.currentExpr.Constexpr {
				val = vm.HashConstant(a.currentExpr)
			}
			if !a.currentExpr.IsInt() && !a.currentExpr.IsAny() {
				return nil, vm.Errorf("array index access must be an integer expression")
			}
		}
		out = append(out, val)
	}
	return out, nil
}

// evaluateDimensionVector resolves declared dimension expressions to
// constants; a nil expression is the wildcard 0.
func (a *SemanticAnalyser) evaluateDimensionVector(exprs []Expr) ([]int64, error) {
	out := make([]int64, 0, len(exprs))
	for _, e := range exprs {
		val := int64(0)
		if e != nil {
			if err := a.visitExpr(e); err != nil {
				return nil, err
			}
			if a.currentExpr.Constexpr {
				val = vm.HashConstant(a.currentExpr)
			}
			if !a.currentExpr.IsInt() && !a.currentExpr.IsAny() {
				return nil, vm.Errorf("array dimension must be an integer expression")
			}
		}
		out = append(out, val)
	}
	return out, nil
}

// checkBuildArray rewrites an initializer array constructor with zero or one
// value into a fully filled constructor matching a concrete declared shape.
func (a *SemanticAnalyser) checkBuildArray(dim []int64, initExpr Expr) Expr {
	if len(dim) == 0 {
		return nil
	}
	for _, d := range dim {
		if d == 0 {
			return nil
		}
	}

	arr, ok := initExpr.(*ArrayConstructorExpr)
	if !ok {
		return nil
	}
	switch len(arr.Values) {
	case 1:
		return a.buildArrayExpr(dim, arr.Values[0], 0)
	case 0:
		return a.buildArrayExpr(dim, &NullExpr{Position: arr.Position}, 0)
	}
	return nil
}

func (a *SemanticAnalyser) buildArrayExpr(dim []int64, initValue Expr, level int) Expr {
	size := dim[level]
	values := make([]Expr, 0, size)
	for j := int64(0); j < size; j++ {
		if level+1 < len(dim) {
			values = append(values, a.buildArrayExpr(dim, initValue, level+1))
		} else {
			values = append(values, initValue)
		}
	}
	row, col := initValue.Pos()
	return &ArrayConstructorExpr{Position: At(row, col), Values: values}
}

// ---------------------------------------------------------------------------
// Return coverage
// ---------------------------------------------------------------------------

// returns proves by structural induction that a node terminates with a
// return or throw on every path. Switch coverage accounts for fall-through:
// a case without break is covered by a later block's return.
func returns(node Node) bool {
	if node == nil {
		return false
	}
	if isReturnNode(node) {
		return true
	}

	switch n := node.(type) {
	case *BlockStmt:
		blockReturn := false
		subReturn := len(n.Statements) > 0
		for _, stmt := range n.Statements {
			if isReturnNode(stmt) {
				blockReturn = true
				break
			}
			if subReturn {
				if !returns(stmt) {
					subReturn = false
				}
				switch stmt.(type) {
				case *BreakStmt, *ContinueStmt:
					subReturn = false
				}
			}
		}
		return blockReturn || subReturn

	case *IfStmt:
		if !returns(n.IfBlock) {
			return false
		}
		for _, elif := range n.ElseIfs {
			if !returns(elif.Block) {
				return false
			}
		}
		if n.ElseBlock != nil {
			return returns(n.ElseBlock)
		}
		return false

	case *TryCatchStmt:
		return returns(n.TryBlock) && returns(n.CatchBlock)

	case *SwitchStmt:
		return switchReturns(n)

	case *ForStmt:
		return returns(n.Block)
	case *ForEachStmt:
		return returns(n.Block)
	case *WhileStmt:
		return returns(n.Block)
	case *DoWhileStmt:
		return returns(n.Block)
	}

	return false
}

// switchReturns checks every case segment and the default segment: each must
// reach a return before its break, where fall-through lets a later segment's
// return count.
func switchReturns(n *SwitchStmt) bool {
	positions := make([]int, 0, len(n.CaseBlocks))
	for _, cb := range n.CaseBlocks {
		positions = append(positions, cb.Block)
	}
	sortInts(positions)

	for pi := 0; pi < len(positions)+1; pi++ {
		var start, end int
		if pi < len(positions) {
			start = positions[pi]
			if pi < len(positions)-1 {
				end = positions[pi+1]
			} else {
				end = n.DefaultBlock
			}
		} else {
			start = n.DefaultBlock
			end = len(n.Statements)
		}
		if end > len(n.Statements) {
			end = len(n.Statements)
		}

		blockReturn := false
		for i := start; i < end; i++ {
			stmt := n.Statements[i]
			if returns(stmt) {
				blockReturn = true
				break
			}
			if _, isBreak := stmt.(*BreakStmt); isBreak {
				break
			}
		}
		// Fall-through: an uncovered segment that does not break is covered
		// by the segments after it.
		if !blockReturn && !segmentBreaks(n.Statements, start, end) {
			continueCovered := false
			for i := end; i < len(n.Statements); i++ {
				if returns(n.Statements[i]) {
					continueCovered = true
					break
				}
				if _, isBreak := n.Statements[i].(*BreakStmt); isBreak {
					break
				}
			}
			blockReturn = continueCovered
		}
		if !blockReturn {
			return false
		}
	}
	return true
}

func segmentBreaks(stmts []Stmt, start, end int) bool {
	for i := start; i < end && i < len(stmts); i++ {
		if _, ok := stmts[i].(*BreakStmt); ok {
			return true
		}
	}
	return false
}

func sortInts(v []int) {
	for i := 1; i < len(v); i++ {
		for j := i; j > 0 && v[j-1] > v[j]; j-- {
			v[j-1], v[j] = v[j], v[j-1]
		}
	}
}

func isReturnNode(node Node) bool {
	switch node.(type) {
	case *ReturnStmt, *ThrowStmt:
		return true
	}
	return false
}
