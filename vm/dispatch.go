package vm

// dispatch decodes and executes the current instruction.
func (m *VM) dispatch() error {
	ins := m.current

	if op, ok := ins.Op.BinaryOperator(); ok {
		return m.binaryOperation(op)
	}
	if op, ok := ins.Op.UnaryOperator(); ok {
		return m.unaryOperation(op)
	}

	switch ins.Op {
	case OpReserved:
		return Errorf("reserved operation")

	// Stack / scope
	case OpPushScope:
		params := ins.Operand.Vector()
		m.pushVMScope(NewScope(params[0].Str(), params[1].Str()))
	case OpPopScope:
		params := ins.Operand.Vector()
		m.popVMScope(params[0].Str(), params[1].Str())
	case OpPushDeep:
		m.pushDeep()
	case OpPopDeep:
		m.popDeep()
	case OpUnwind:
		m.unwind()

	// Namespaces
	case OpBuiltinLib:
		return m.handleBuiltinLib(ins.Operand.Str())
	case OpIncludeNamespace:
		params := ins.Operand.Vector()
		m.IncludeNameSpace(params[0].Str(), params[1].Str())
	case OpExcludeNamespace:
		params := ins.Operand.Vector()
		m.ExcludeNameSpace(params[0].Str(), params[1].Str())

	// Constants
	case OpPopConstant:
		m.popConstant()
	case OpDupConstant:
		top, err := m.top()
		if err != nil {
			return err
		}
		m.pushNewConstant(top.Clone())
	case OpPushUndefined:
		m.pushNewConstant(NewUndefined())
	case OpPushVoid:
		m.pushNewConstant(NewVoid())
	case OpPushType:
		td, err := m.popTypeDef()
		if err != nil {
			return err
		}
		m.pushNewConstant(NewTypedValue(td))
	case OpPushBool:
		m.pushNewConstant(NewBool(ins.Operand.Bool()))
	case OpPushInt:
		m.pushNewConstant(NewInt(ins.Operand.Int()))
	case OpPushFloat:
		m.pushNewConstant(NewFloat(ins.Operand.Float()))
	case OpPushChar:
		m.pushNewConstant(NewChar(ins.Operand.Char()))
	case OpPushString:
		m.pushNewConstant(NewString(ins.Operand.Str()))
	case OpPushFunction:
		params := ins.Operand.Vector()
		m.pushNewConstant(NewFunction(params[0].Str(), params[1].Str()))

	// Arrays
	case OpInitArray:
		return m.handleInitArray(ins.Operand.Size())
	case OpSetElement:
		return m.handleSetElement(int64(ins.Operand.Size()))
	case OpPushArray:
		return m.handlePushArray()
	case OpSetArraySize:
		v, err := m.popValue()
		if err != nil {
			return err
		}
		m.setArrayDim = append(m.setArrayDim, v.I)
	case OpSetCheckBuildArr:
		m.setCheckBuild = true

	// Structs
	case OpInitStruct:
		return m.handleInitStruct(ins.Operand.Vector())
	case OpSetField:
		return m.handleSetField(ins.Operand.Vector())
	case OpPushStruct:
		return m.handlePushStruct()
	case OpPushValueFromStruct:
		top, err := m.top()
		if err != nil {
			return err
		}
		field, err := top.Field(ins.Operand.Str(), false)
		if err != nil {
			return err
		}
		m.pushConstant(field)

	// Struct definitions
	case OpStructStart:
		m.structDefBuild = append(m.structDefBuild, NewStructDef(ins.Operand.Str()))
	case OpStructSetVar:
		return m.handleStructSetVar(ins.Operand.Str())
	case OpStructEnd:
		return m.handleStructEnd(ins.Operand.Str())

	// Class definitions
	case OpClassStart:
		return m.handleClassStart(ins.Operand.Vector())
	case OpClassSetVar:
		return m.handleClassSetVar(ins.Operand.Str())
	case OpClassEnd:
		return m.handleClassEnd(ins.Operand.Vector())
	case OpSelfInvoke:
		m.selfInvoke = true

	// Typing
	case OpPushTypeDef:
		params := ins.Operand.Vector()
		m.pushTypeDef(TypeDef{
			Type:          Type(params[0].Uint8()),
			Dim:           m.setArrayDim,
			TypeNameSpace: params[1].Str(),
			TypeName:      params[2].Str(),
		})

	// Variables
	case OpLoadVar:
		return m.handleLoadVar(ins.Operand.Vector())
	case OpStoreVar:
		return m.handleStoreVar(ins.Operand.Vector())
	case OpLoadSubID:
		return m.handleLoadSubID(ins.Operand.Str())
	case OpLoadSubIx:
		return m.handleLoadSubIx()
	case OpPushVarRef:
		m.useVarRef = append(m.useVarRef, ins.Operand.Bool())
	case OpPopVarRef:
		if len(m.useVarRef) > 0 {
			m.useVarRef = m.useVarRef[:len(m.useVarRef)-1]
		}

	// Functions
	case OpFunStart:
		return m.handleFunStart(ins.Operand.Str())
	case OpSetDefaultValue:
		m.setDefaultValuePC = ins.Operand.Size()
	case OpFunSetParam:
		return m.handleFunSetParam(ins.Operand.Vector())
	case OpFunStartUnpackParam:
		return m.handleFunStartUnpackParam()
	case OpFunSetSubParam:
		return m.handleFunSetSubParam(ins.Operand.Vector())
	case OpFunSetUnpackParam:
		m.handleFunSetUnpackParam()
	case OpFunEnd:
		return m.handleFunEnd(ins.Operand.Vector())
	case OpCall:
		return m.handleCall(ins.Operand.Vector())
	case OpReturn:
		return m.handleReturn()

	// Exceptions
	case OpTry:
		m.tryStack = append(m.tryStack, ins.Operand.Size())
	case OpTryEnd:
		if len(m.tryStack) > 0 {
			m.tryStack = m.tryStack[:len(m.tryStack)-1]
		}
	case OpThrow:
		return m.handleThrow()
	case OpPushErrorDesc:
		if len(m.catchErrStack) == 0 {
			return Errorf("no pending error")
		}
		m.pushNewConstant(NewString(m.catchErrStack[len(m.catchErrStack)-1].message))
	case OpPushErrorCode:
		if len(m.catchErrStack) == 0 {
			return Errorf("no pending error")
		}
		m.pushNewConstant(NewInt(m.catchErrStack[len(m.catchErrStack)-1].code))
	case OpPopError:
		if len(m.catchErrStack) > 0 {
			m.catchErrStack = m.catchErrStack[:len(m.catchErrStack)-1]
		}

	// Iteration
	case OpGetIterator:
		return m.handleGetIterator()
	case OpHasNextElement:
		return m.handleHasNextElement()
	case OpNextElement:
		return m.handleNextElement()

	// Branches
	case OpJump:
		m.nextPC = ins.Operand.Size()
	case OpJumpIfFalse:
		v, err := m.popValue()
		if err != nil {
			return err
		}
		if !v.B {
			m.nextPC = ins.Operand.Size()
		}
	case OpJumpIfTrue:
		v, err := m.popValue()
		if err != nil {
			return err
		}
		if v.B {
			m.nextPC = ins.Operand.Size()
		}

	// Type operators
	case OpIsStruct:
		v, err := m.popValue()
		if err != nil {
			return err
		}
		m.pushNewConstant(NewBool(v.IsStruct()))
	case OpIsArray:
		v, err := m.popValue()
		if err != nil {
			return err
		}
		m.pushNewConstant(NewBool(v.IsArray()))
	case OpIsAny:
		v, err := m.popValue()
		if err != nil {
			return err
		}
		m.pushNewConstant(NewBool(v.Ref != nil && v.Ref.IsAny()))
	case OpRefID:
		v, err := m.popValue()
		if err != nil {
			return err
		}
		m.pushNewConstant(NewInt(refID(v)))
	case OpTypeID:
		v, err := m.popValue()
		if err != nil {
			return err
		}
		m.pushNewConstant(NewInt(HashConstant(NewString(v.TypeStr()))))
	case OpTypeOf:
		v, err := m.popValue()
		if err != nil {
			return err
		}
		m.pushNewConstant(NewString(v.TypeStr()))
	case OpTypeParse:
		return m.handleTypeParse(Type(ins.Operand.Uint8()))

	// Misc
	case OpSkip:
		// no effect
	case OpHalt:
		m.nextPC = len(m.instructions)
	case OpTrap:
		m.returnFromSubRun = true
	case OpError:
		return Errorf("operation error")

	default:
		return Errorf("unknown operation %s", ins.Op)
	}

	return nil
}

// binaryOperation pops two operands, applies the operator, and pushes the
// result. Results aliasing an operand (in-place assignment forms) are pushed
// without re-registering.
func (m *VM) binaryOperation(op string) error {
	rval, err := m.popValue()
	if err != nil {
		return err
	}
	lval, err := m.popValue()
	if err != nil {
		return err
	}

	res, err := ApplyBinary(op, lval, rval)
	if err != nil {
		return err
	}

	if res != lval && res != rval {
		m.pushNewConstant(res)
	} else {
		m.pushConstant(res)
	}
	return nil
}

// unaryOperation pops one operand and pushes the result.
func (m *VM) unaryOperation(op string) error {
	value, err := m.popValue()
	if err != nil {
		return err
	}

	res, err := ApplyUnary(op, value)
	if err != nil {
		return err
	}

	if res != value {
		m.pushNewConstant(res)
	} else {
		m.pushConstant(res)
	}
	return nil
}
