package vm

import (
	"strconv"
	"unsafe"
)

// refID returns the identity of a value for the refid operator.
func refID(v *Value) int64 {
	return int64(uintptr(unsafe.Pointer(v)))
}

// ---------------------------------------------------------------------------
// Namespace handlers
// ---------------------------------------------------------------------------

// handleBuiltinLib lazily registers a core library's natives. Registration is
// idempotent per library.
func (m *VM) handleBuiltinLib(name string) error {
	if m.libsRegistered[name] {
		return nil
	}
	lib, ok := CoreLibs[name]
	if !ok {
		if IsCoreLib(name) {
			// Registration-contract-only library; nothing to install.
			return nil
		}
		return Errorf("lib '%s' not found", name)
	}
	m.libsRegistered[name] = true
	lib.RegisterVM(m)
	return nil
}

// ---------------------------------------------------------------------------
// Array construction
// ---------------------------------------------------------------------------

func (m *VM) handleInitArray(size int) error {
	td, err := m.popTypeDef()
	if err != nil {
		return err
	}
	elems := make([]*Value, size)
	m.valueBuild = append(m.valueBuild, NewArray(elems, td.Type, td.Dim, td.TypeNameSpace, td.TypeName))
	return nil
}

func (m *VM) handleSetElement(ix int64) error {
	value, err := m.popValue()
	if err != nil {
		return err
	}
	if len(m.valueBuild) == 0 {
		return Errorf("no array under construction")
	}
	return m.valueBuild[len(m.valueBuild)-1].SetItem(ix, value)
}

func (m *VM) handlePushArray() error {
	if len(m.valueBuild) == 0 {
		return Errorf("no array under construction")
	}
	arr := m.valueBuild[len(m.valueBuild)-1]
	m.valueBuild = m.valueBuild[:len(m.valueBuild)-1]
	m.pushNewConstant(arr)
	return nil
}

// checkBuildArray materializes a declared shape from an initializer with zero
// or one element: the single element (or null) fills every slot.
func (m *VM) checkBuildArray(newValue *Value, dim []int64) {
	if !newValue.IsArray() || len(dim) == 0 || dim[0] == 0 {
		return
	}
	if len(newValue.Arr) > 1 {
		return
	}

	var init *Value
	if len(newValue.Arr) == 1 {
		init = newValue.Arr[0]
	} else {
		init = m.GC.Allocate(NewVoid())
	}

	m.currentArrayType = TypeDef{}
	arr := m.buildArray(dim, init, len(dim)-1)

	elemType := m.currentArrayType
	t := elemType.Type
	if elemType.IsVoid() || elemType.IsUndefined() {
		t = TypeAny
	}
	newValue.SetArray(arr, t, dim, elemType.TypeNameSpace, elemType.TypeName)
}

// buildArray recursively fills a shape with independent copies of the
// initial value. For outer dimensions each slot holds a nested array value.
func (m *VM) buildArray(dim []int64, init *Value, level int) []*Value {
	size := dim[level]
	arr := make([]*Value, size)

	for j := int64(0); j < size; j++ {
		if level > 0 {
			sub := m.buildArray(dim, init, level-1)
			elem := m.GC.Allocate(NewArray(sub, init.Type, dim[:level], init.TypeNameSpace, init.TypeName))
			arr[j] = elem
		} else {
			elem := m.GC.Allocate(init.Clone())
			arr[j] = elem
			if m.currentArrayType.IsUndefined() {
				m.currentArrayType = elem.TypeDef
			}
		}
	}
	return arr
}

// ---------------------------------------------------------------------------
// Struct construction
// ---------------------------------------------------------------------------

func (m *VM) handleInitStruct(params []Operand) error {
	moduleNameSpace := params[0].Str()
	module := params[1].Str()
	nameSpace := params[2].Str()
	identifier := params[3].Str()

	def, err := m.FindInnerMostStruct(moduleNameSpace, module, nameSpace, identifier)
	if err != nil {
		return err
	}
	scope := m.InnerMostStructScope(moduleNameSpace, module, nameSpace, identifier)

	build := NewStruct(NewStructValue(), scope.NameSpace, identifier)
	for _, fieldName := range def.FieldNames {
		fieldDef := def.Fields[fieldName]
		fv := m.GC.AllocateVariable(NewVariable(fieldName, fieldDef.TypeDef))

		if fieldDef.DefaultPC > 0 {
			if err := m.subRun(fieldDef.DefaultPC); err != nil {
				return err
			}
			dv, err := m.popValue()
			if err != nil {
				return err
			}
			fv.Set(dv)
		} else {
			fv.Set(m.GC.Allocate(NewVoid()))
		}
		build.Str.Declare(fieldName, fv)
	}

	m.valueBuild = append(m.valueBuild, build)
	return nil
}

func (m *VM) handleSetField(params []Operand) error {
	value, err := m.popValue()
	if err != nil {
		return err
	}
	identifier := params[2].Str()

	if len(m.valueBuild) == 0 {
		return Errorf("no struct under construction")
	}
	build := m.valueBuild[len(m.valueBuild)-1]

	field := build.Str.Find(identifier)
	if field == nil {
		return StructMemberError(build.TypeNameSpace, build.TypeName, identifier)
	}

	if !field.IsAnyOrMatchTypeDef(value.TypeDef, false) {
		return StructFieldAssignError(build.TypeNameSpace, build.TypeName, identifier, field.TypeDef, value.TypeDef)
	}

	value = NormalizeType(field.TypeDef, value, true)

	if !field.IsAny() && !value.IsVoid() && !field.IsArray() && !value.IsArray() {
		value.Type = field.Type
		value.TypeName = field.TypeName
		value.TypeNameSpace = field.TypeNameSpace
	}

	field.Set(m.GC.Allocate(value))
	return nil
}

func (m *VM) handlePushStruct() error {
	if len(m.valueBuild) == 0 {
		return Errorf("no struct under construction")
	}
	build := m.valueBuild[len(m.valueBuild)-1]
	m.valueBuild = m.valueBuild[:len(m.valueBuild)-1]
	m.pushNewConstant(build)
	return nil
}

// ---------------------------------------------------------------------------
// Struct definitions
// ---------------------------------------------------------------------------

func (m *VM) handleStructSetVar(identifier string) error {
	td, err := m.popTypeDef()
	if err != nil {
		return err
	}
	if len(m.structDefBuild) == 0 {
		return Errorf("no struct definition under construction")
	}
	m.structDefBuild[len(m.structDefBuild)-1].DeclareField(&VarDef{
		TypeDef:    td,
		Identifier: identifier,
		DefaultPC:  m.setDefaultValuePC,
	})
	m.setDefaultValuePC = 0
	return nil
}

func (m *VM) handleStructEnd(nameSpace string) error {
	if len(m.structDefBuild) == 0 {
		return Errorf("no struct definition under construction")
	}
	def := m.structDefBuild[len(m.structDefBuild)-1]
	m.structDefBuild = m.structDefBuild[:len(m.structDefBuild)-1]

	scope := m.BackScope(nameSpace)
	if scope == nil {
		return Errorf("no scope for namespace '%s'", nameSpace)
	}
	scope.DeclareStruct(def)
	return nil
}

// ---------------------------------------------------------------------------
// Class definitions
// ---------------------------------------------------------------------------

func (m *VM) handleClassStart(params []Operand) error {
	moduleNameSpace := params[0].Str()
	module := params[1].Str()
	identifier := params[2].Str()

	cls := NewClassDef(identifier)
	m.classDefBuild = append(m.classDefBuild, cls)

	// A temporary scope collects the class's method definitions while the
	// nested FunStart/FunEnd run.
	m.PushScope(NewScope(moduleNameSpace, module))
	cls.Functions = m.BackScope(moduleNameSpace)
	return nil
}

func (m *VM) handleClassSetVar(identifier string) error {
	td, err := m.popTypeDef()
	if err != nil {
		return err
	}
	if len(m.classDefBuild) == 0 {
		return Errorf("no class definition under construction")
	}
	m.classDefBuild[len(m.classDefBuild)-1].DeclareVariable(&VarDef{
		TypeDef:    td,
		Identifier: identifier,
		DefaultPC:  m.setDefaultValuePC,
	})
	m.setDefaultValuePC = 0
	return nil
}

func (m *VM) handleClassEnd(params []Operand) error {
	moduleNameSpace := params[0].Str()
	module := params[1].Str()

	if len(m.classDefBuild) == 0 {
		return Errorf("no class definition under construction")
	}
	cls := m.classDefBuild[len(m.classDefBuild)-1]
	m.classDefBuild = m.classDefBuild[:len(m.classDefBuild)-1]

	m.PopScope(moduleNameSpace, module)

	scope := m.BackScope(moduleNameSpace)
	if scope == nil {
		return Errorf("no scope for namespace '%s'", moduleNameSpace)
	}
	scope.DeclareClass(cls)
	return nil
}

// ---------------------------------------------------------------------------
// Variables
// ---------------------------------------------------------------------------

func (m *VM) handleStoreVar(params []Operand) error {
	nameSpace := params[0].Str()
	identifier := params[1].Str()

	newValue, err := m.popValue()
	if err != nil {
		return err
	}
	td, err := m.popTypeDef()
	if err != nil {
		return err
	}

	if m.setCheckBuild {
		m.setCheckBuild = false
		m.checkBuildArray(newValue, td.Dim)
	}

	newVar := NewVariable(identifier, td)
	newValue = NormalizeType(newVar.TypeDef, newValue, true)
	newVar.Set(m.GC.Allocate(newValue))
	m.GC.AllocateVariable(newVar)

	if !newVar.IsAnyOrMatchTypeDef(newValue.TypeDef, false) && !newValue.IsUndefined() {
		return DeclarationTypeError(identifier, newVar.TypeDef, newValue.TypeDef)
	}

	scope := m.BackScope(nameSpace)
	if scope == nil {
		return Errorf("no scope for namespace '%s'", nameSpace)
	}
	scope.DeclareVariable(identifier, newVar)
	return nil
}

func (m *VM) handleLoadVar(params []Operand) error {
	moduleNameSpace := params[0].Str()
	module := params[1].Str()
	nameSpace := params[2].Str()
	identifier := params[3].Str()

	// self.<id> resolves in the class scope only.
	if m.selfInvoke {
		m.selfInvoke = false
		if len(m.classStack) == 0 {
			return Errorf("self used outside of class")
		}
		variable := m.classStack[len(m.classStack)-1].FindDeclaredVariable(identifier)
		if variable == nil {
			return Errorf("'%s' was not found in class definition", identifier)
		}
		m.pushConstant(variable.Get(m.varRefActive()))
		return nil
	}

	if scope := m.InnerMostVariableScope(moduleNameSpace, module, nameSpace, identifier); scope != nil {
		variable := scope.FindDeclaredVariable(identifier)
		m.pushConstant(variable.Get(m.varRefActive()))
		return nil
	}

	// A struct type name used as an expression denotes its type for checks.
	if scope := m.InnerMostStructScope(moduleNameSpace, module, nameSpace, identifier); scope != nil {
		m.pushNewConstant(NewStruct(nil, scope.NameSpace, identifier))
		return nil
	}

	// A bare function name loads a function handle.
	if scope := m.InnerMostFunctionScope(moduleNameSpace, module, nameSpace, identifier, nil, false); scope != nil {
		m.pushNewConstant(NewFunction(scope.NameSpace, identifier))
		return nil
	}

	return Errorf("identifier '%s' was not declared", identifier)
}

func (m *VM) handleLoadSubID(identifier string) error {
	val, err := m.popValue()
	if err != nil {
		return err
	}

	switch val.Type {
	case TypeStruct:
		sub, err := val.Field(identifier, m.varRefActive())
		if err != nil {
			return err
		}
		m.pushConstant(sub)
		return nil

	case TypeClass:
		// A member call arrives as LoadSubID followed by a Call with an empty
		// identifier: route the call through the class scope.
		if m.nextPC < len(m.instructions) && m.instructions[m.nextPC].Op == OpCall {
			callParams := m.instructions[m.nextPC].Operand.Vector()
			if callParams[3].Str() == "" {
				callParams[3] = StringOperand(identifier)
				m.instructions[m.nextPC].Operand = VectorOperand(callParams...)

				m.classStack = append(m.classStack, val.Cls)
				m.pushVMScope(val.Cls)

				// The method body runs as a nested sub-run; its Return hands
				// control back here.
				m.nextCallSubRun = true
				framesBefore := len(m.frames)
				m.fetch()
				if err := m.dispatch(); err != nil {
					return err
				}
				if len(m.frames) > framesBefore {
					if err := m.runLoop(); err != nil {
						return err
					}
				} else {
					m.nextCallSubRun = false
				}

				m.classStack = m.classStack[:len(m.classStack)-1]
				m.popVMScope(val.Cls.NameSpace, val.Cls.Module)
				return nil
			}
		}

		variable := val.Cls.FindDeclaredVariable(identifier)
		if variable == nil {
			return Errorf("'%s' was not found in class definition", identifier)
		}
		m.pushConstant(variable.Get(m.varRefActive()))
		return nil
	}

	return Errorf("invalid %s access, this operation can only be performed on object values", val.TypeStr())
}

func (m *VM) handleLoadSubIx() error {
	ix, err := m.popValue()
	if err != nil {
		return err
	}
	if !ix.IsInt() {
		return Errorf("invalid type %s trying to access array", ix.TypeStr())
	}
	val, err := m.popValue()
	if err != nil {
		return err
	}

	switch {
	case val.IsArray():
		sub, err := val.Item(ix.I, m.varRefActive())
		if err != nil {
			return err
		}
		if sub == nil {
			if err := val.SetItem(ix.I, m.GC.Allocate(NewVoid())); err != nil {
				return err
			}
			sub, _ = val.Item(ix.I, m.varRefActive())
		}
		m.pushConstant(sub)
		return nil
	case val.IsString():
		sub, err := val.CharAt(ix.I, m.varRefActive())
		if err != nil {
			return err
		}
		m.pushNewConstant(sub)
		return nil
	}
	return Errorf("invalid %s index access, this operation can only be performed on array or string values", val.TypeStr())
}

// ---------------------------------------------------------------------------
// Type casts
// ---------------------------------------------------------------------------

func (m *VM) handleTypeParse(target Type) error {
	value, err := m.popValue()
	if err != nil {
		return err
	}

	out := &Value{}

	switch target {
	case TypeBool:
		switch value.Type {
		case TypeBool:
			out.CopyFrom(value)
		case TypeInt:
			out.SetBool(value.I != 0)
		case TypeFloat:
			out.SetBool(value.F != 0)
		case TypeChar:
			out.SetBool(value.C != 0)
		case TypeString:
			out.SetBool(value.S != "")
		default:
			return Errorf("invalid cast from %s to bool", value.TypeStr())
		}

	case TypeInt:
		switch value.Type {
		case TypeBool:
			if value.B {
				out.SetInt(1)
			} else {
				out.SetInt(0)
			}
		case TypeInt:
			out.CopyFrom(value)
		case TypeFloat:
			out.SetInt(int64(value.F))
		case TypeChar:
			out.SetInt(int64(value.C))
		case TypeString:
			i, err := strconv.ParseInt(value.S, 10, 64)
			if err != nil {
				return Errorf("'%s' is not a valid value to parse int", value.S)
			}
			out.SetInt(i)
		default:
			return Errorf("invalid cast from %s to int", value.TypeStr())
		}

	case TypeFloat:
		switch value.Type {
		case TypeBool:
			if value.B {
				out.SetFloat(1)
			} else {
				out.SetFloat(0)
			}
		case TypeInt:
			out.SetFloat(float64(value.I))
		case TypeFloat:
			out.CopyFrom(value)
		case TypeChar:
			out.SetFloat(float64(value.C))
		case TypeString:
			f, err := strconv.ParseFloat(value.S, 64)
			if err != nil {
				return Errorf("'%s' is not a valid value to parse float", value.S)
			}
			out.SetFloat(f)
		default:
			return Errorf("invalid cast from %s to float", value.TypeStr())
		}

	case TypeChar:
		switch value.Type {
		case TypeBool:
			if value.B {
				out.SetChar(1)
			} else {
				out.SetChar(0)
			}
		case TypeInt:
			out.SetChar(byte(value.I))
		case TypeFloat:
			out.SetChar(byte(value.F))
		case TypeChar:
			out.CopyFrom(value)
		case TypeString:
			if len(value.S) != 1 {
				return Errorf("'%s' is not a valid value to parse char", value.S)
			}
			out.SetChar(value.S[0])
		default:
			return Errorf("invalid cast from %s to char", value.TypeStr())
		}

	case TypeString:
		out.SetString(ValueString(value, true))

	default:
		return Errorf("invalid cast target %s", target)
	}

	out.Type = target
	m.pushNewConstant(out)
	return nil
}
