package compiler

import (
	"github.com/chazu/merlin/vm"
)

// ---------------------------------------------------------------------------
// Expression lowering
// ---------------------------------------------------------------------------

func (c *Compiler) compileExpr(expr Expr) error {
	c.pushDebug(expr)
	defer c.popDebug()

	switch e := expr.(type) {
	case *LiteralBool:
		c.emit(vm.OpPushBool, vm.BoolOperand(e.Value))
	case *LiteralInt:
		c.emit(vm.OpPushInt, vm.IntOperand(e.Value))
	case *LiteralFloat:
		c.emit(vm.OpPushFloat, vm.FloatOperand(e.Value))
	case *LiteralChar:
		c.emit(vm.OpPushChar, vm.CharOperand(e.Value))
	case *LiteralString:
		c.emit(vm.OpPushString, vm.StringOperand(e.Value))
	case *NullExpr:
		c.emit(vm.OpPushVoid, vm.EmptyOperand)
	case *LambdaExpr:
		return c.compileLambda(e)
	case *ArrayConstructorExpr:
		return c.compileArrayConstructor(e)
	case *StructConstructorExpr:
		return c.compileStructConstructor(e)
	case *IdentifierExpr:
		return c.compileIdentifier(e)
	case *BinaryExpr:
		return c.compileBinary(e)
	case *UnaryExpr:
		if err := c.compileExpr(e.Expr); err != nil {
			return err
		}
		op, ok := opForUnary[e.Op]
		if !ok {
			return vm.Errorf("unknown operation: %s", e.Op)
		}
		c.emit(op, vm.EmptyOperand)
	case *TernaryExpr:
		return c.compileTernary(e)
	case *FunctionCallExpr:
		return c.compileFunctionCall(e)
	case *TypeCastExpr:
		if err := c.compileExpr(e.Expr); err != nil {
			return err
		}
		c.emit(vm.OpTypeParse, vm.Uint8Operand(uint8(e.Target)))
	case *TypeLiteralExpr:
		c.typeDefinitionOps(&e.TypeInfo)
		c.emit(vm.OpPushType, vm.EmptyOperand)
	case *ThisExpr:
		return c.compileThis(e)
	case *TypeOfExpr:
		return c.compileOperand(e.Expr, vm.OpTypeOf)
	case *TypeIdExpr:
		return c.compileOperand(e.Expr, vm.OpTypeID)
	case *RefIdExpr:
		return c.compileOperand(e.Expr, vm.OpRefID)
	case *IsStructExpr:
		return c.compileOperand(e.Expr, vm.OpIsStruct)
	case *IsArrayExpr:
		return c.compileOperand(e.Expr, vm.OpIsArray)
	case *IsAnyExpr:
		return c.compileOperand(e.Expr, vm.OpIsAny)
	case *InstructionExpr:
		c.emit(e.Op, e.Operand)
	case *ValueExpr:
		// analysis-only node; no code
	default:
		return vm.Errorf("cannot compile expression")
	}
	return nil
}

func (c *Compiler) compileOperand(inner Expr, op vm.OpCode) error {
	if err := c.compileExpr(inner); err != nil {
		return err
	}
	c.emit(op, vm.EmptyOperand)
	return nil
}

func (c *Compiler) compileLambda(expr *LambdaExpr) error {
	if err := c.compileFunctionDefinition(expr.Fun); err != nil {
		return err
	}
	c.emit(vm.OpPushFunction, vm.VectorOperand(
		vm.StringOperand(c.currentModule().NameSpace),
		vm.StringOperand(expr.Fun.Identifier),
	))
	return nil
}

func (c *Compiler) compileArrayConstructor(expr *ArrayConstructorExpr) error {
	c.typeDefinitionOps(&expr.TypeInfo)
	c.emit(vm.OpInitArray, vm.SizeOperand(len(expr.Values)))

	for i, v := range expr.Values {
		if err := c.compileExpr(v); err != nil {
			return err
		}
		c.emit(vm.OpSetElement, vm.SizeOperand(i))
	}

	c.emit(vm.OpPushArray, vm.EmptyOperand)
	return nil
}

func (c *Compiler) compileStructConstructor(expr *StructConstructorExpr) error {
	module := c.currentModule()

	c.emit(vm.OpInitStruct, vm.VectorOperand(
		vm.StringOperand(module.NameSpace),
		vm.StringOperand(module.Name),
		vm.StringOperand(expr.TypeNameSpace),
		vm.StringOperand(expr.TypeName),
	))

	for _, field := range expr.Values {
		if err := c.compileExpr(field.Expr); err != nil {
			return err
		}
		c.emitSetField(field.Name)
	}

	c.emit(vm.OpPushStruct, vm.EmptyOperand)
	return nil
}

// ---------------------------------------------------------------------------
// Identifiers and member access
// ---------------------------------------------------------------------------

func (c *Compiler) compileIdentifier(expr *IdentifierExpr) error {
	module := c.currentModule()
	identifierVector := expr.IdentifierVector
	identifier := expr.Identifier()

	// self.id resolves in the class scope; the SelfInvoke marker redirects
	// the following load.
	if identifier == "self" {
		c.emit(vm.OpSelfInvoke, vm.EmptyOperand)
		identifierVector = identifierVector[1:]
		identifier = identifierVector[0].Identifier
	}

	c.emit(vm.OpLoadVar, vm.VectorOperand(
		vm.StringOperand(module.NameSpace),
		vm.StringOperand(module.Name),
		vm.StringOperand(expr.AccessNameSpace),
		vm.StringOperand(identifier),
	))

	if hasSubValue(identifierVector) {
		return c.accessSubValueOps(identifierVector)
	}
	return nil
}

func hasSubValue(identifierVector []Ident) bool {
	return len(identifierVector) > 1 ||
		(len(identifierVector) > 0 && len(identifierVector[0].AccessVector) > 0)
}

// accessSubValueOps walks a member path: LoadSubID for named members,
// LoadSubIx for each index access.
func (c *Compiler) accessSubValueOps(identifierVector []Ident) error {
	if !hasSubValue(identifierVector) {
		return nil
	}
	for i, id := range identifierVector {
		if i > 0 {
			c.emit(vm.OpLoadSubID, vm.StringOperand(id.Identifier))
		}
		for _, access := range id.AccessVector {
			if access != nil {
				if err := c.compileExpr(access); err != nil {
					return err
				}
			} else {
				c.emit(vm.OpPushInt, vm.IntOperand(0))
			}
			c.emit(vm.OpLoadSubIx, vm.EmptyOperand)
		}
	}
	return nil
}

// ---------------------------------------------------------------------------
// Operators
// ---------------------------------------------------------------------------

// compileBinary opens a variable-reference window around the left side of
// assignments so the VM records the store target, and lowers the
// short-circuit operators with duplicate-and-jump.
func (c *Compiler) compileBinary(expr *BinaryExpr) error {
	c.emit(vm.OpPushVarRef, vm.BoolOperand(vm.IsAssignmentOp(expr.Op)))
	if err := c.compileExpr(expr.Left); err != nil {
		return err
	}
	c.emit(vm.OpPopVarRef, vm.EmptyOperand)

	switch expr.Op {
	case "and":
		c.emit(vm.OpDupConstant, vm.EmptyOperand)
		skip := c.emit(vm.OpJumpIfFalse, vm.SizeOperand(0))
		c.emit(vm.OpPopConstant, vm.EmptyOperand)
		if err := c.compileExpr(expr.Right); err != nil {
			return err
		}
		c.replaceOperand(skip, vm.SizeOperand(c.pc()))
	case "or":
		c.emit(vm.OpDupConstant, vm.EmptyOperand)
		skip := c.emit(vm.OpJumpIfTrue, vm.SizeOperand(0))
		c.emit(vm.OpPopConstant, vm.EmptyOperand)
		if err := c.compileExpr(expr.Right); err != nil {
			return err
		}
		c.replaceOperand(skip, vm.SizeOperand(c.pc()))
	default:
		if err := c.compileExpr(expr.Right); err != nil {
			return err
		}
		op, ok := opForBinary[expr.Op]
		if !ok {
			return vm.Errorf("unknown operation: %s", expr.Op)
		}
		c.emit(op, vm.EmptyOperand)
	}
	return nil
}

func (c *Compiler) compileTernary(expr *TernaryExpr) error {
	if err := c.compileExpr(expr.Condition); err != nil {
		return err
	}
	skipFalse := c.emit(vm.OpJumpIfFalse, vm.SizeOperand(0))

	if err := c.compileExpr(expr.IfTrue); err != nil {
		return err
	}
	skipEnd := c.emit(vm.OpJump, vm.SizeOperand(0))

	c.replaceOperand(skipFalse, vm.SizeOperand(c.pc()))
	if err := c.compileExpr(expr.IfFalse); err != nil {
		return err
	}
	c.replaceOperand(skipEnd, vm.SizeOperand(c.pc()))
	return nil
}

// ---------------------------------------------------------------------------
// Calls and this
// ---------------------------------------------------------------------------

func (c *Compiler) compileFunctionCall(expr *FunctionCallExpr) error {
	module := c.currentModule()
	selfCall := len(expr.IdentifierVector) > 1 && expr.IdentifierVector[0].Identifier == "self"

	for _, p := range expr.Parameters {
		if err := c.compileExpr(p); err != nil {
			return err
		}
	}

	identifier := expr.Identifier()

	// A member call loads the callee value first; the Call instruction then
	// receives an empty identifier.
	if len(expr.IdentifierVector) > 1 && !selfCall {
		idNode := &IdentifierExpr{
			Position:         expr.Position,
			IdentifierVector: expr.IdentifierVector,
			AccessNameSpace:  expr.AccessNameSpace,
		}
		if err := c.compileIdentifier(idNode); err != nil {
			return err
		}
		identifier = ""
	}

	if selfCall {
		c.emit(vm.OpSelfInvoke, vm.EmptyOperand)
	}

	c.emit(vm.OpCall, vm.VectorOperand(
		vm.StringOperand(module.NameSpace),
		vm.StringOperand(module.Name),
		vm.StringOperand(expr.AccessNameSpace),
		vm.StringOperand(identifier),
		vm.SizeOperand(len(expr.Parameters)),
	))

	// Member access on the returned value.
	if len(expr.ExpressionIdentifierVector) > 0 && expr.ExpressionIdentifierVector[0].Identifier != "" {
		c.emit(vm.OpLoadVar, vm.VectorOperand(
			vm.StringOperand(module.NameSpace),
			vm.StringOperand(module.Name),
			vm.StringOperand(expr.AccessNameSpace),
			vm.StringOperand(expr.ExpressionIdentifierVector[0].Identifier),
		))
	}
	if len(expr.ExpressionIdentifierVector) > 0 {
		if err := c.accessSubValueOps(expr.ExpressionIdentifierVector); err != nil {
			return err
		}
	}

	// A chained call on the returned value.
	if expr.ExpressionCall != nil {
		return c.compileFunctionCall(expr.ExpressionCall)
	}
	return nil
}

// compileThis lowers `this` to a Context struct literal describing the
// innermost module, function or class.
func (c *Compiler) compileThis(expr *ThisExpr) error {
	module := c.currentModule()
	current := c.thisNames[len(c.thisNames)-1]

	ctor := &StructConstructorExpr{
		Position:      expr.Position,
		TypeNameSpace: vm.DefaultNameSpace,
		TypeName:      vm.StructContext,
		Values: []FieldInit{
			{Name: vm.FieldName, Expr: &LiteralString{Position: expr.Position, Value: current.name}},
			{Name: vm.FieldNameSpace, Expr: &LiteralString{Position: expr.Position, Value: module.NameSpace}},
			{Name: vm.FieldType, Expr: &LiteralString{Position: expr.Position, Value: current.kind}},
		},
	}
	if err := c.compileStructConstructor(ctor); err != nil {
		return err
	}

	if hasSubValue(expr.AccessVector) {
		return c.accessSubValueOps(expr.AccessVector)
	}
	return nil
}
