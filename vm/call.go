package vm

import "strings"

// ---------------------------------------------------------------------------
// Function definition building (FunStart .. FunEnd)
// ---------------------------------------------------------------------------

func (m *VM) handleFunStart(identifier string) error {
	td, err := m.popTypeDef()
	if err != nil {
		return err
	}
	m.funcDefBuild = append(m.funcDefBuild, &FunctionDef{TypeDef: td, Identifier: identifier})
	return nil
}

// readParam consumes the pending type definition and default snippet PC.
func (m *VM) readParam(params []Operand) (*VarDef, error) {
	isRest := params[0].Bool()
	identifier := params[1].Str()
	defaultPC := m.setDefaultValuePC
	m.setDefaultValuePC = 0

	td, err := m.popTypeDef()
	if err != nil {
		return nil, err
	}
	return &VarDef{TypeDef: td, Identifier: identifier, IsRest: isRest, DefaultPC: defaultPC}, nil
}

func (m *VM) handleFunSetParam(params []Operand) error {
	v, err := m.readParam(params)
	if err != nil {
		return err
	}
	if len(m.funcDefBuild) == 0 {
		return Errorf("no function definition under construction")
	}
	fn := m.funcDefBuild[len(m.funcDefBuild)-1]
	fn.Params = append(fn.Params, v)
	return nil
}

func (m *VM) handleFunStartUnpackParam() error {
	td, err := m.popTypeDef()
	if err != nil {
		return err
	}
	m.uvarDefBuild = append(m.uvarDefBuild, &UnpackDef{TypeDef: td})
	return nil
}

func (m *VM) handleFunSetSubParam(params []Operand) error {
	v, err := m.readParam(params)
	if err != nil {
		return err
	}
	if len(m.uvarDefBuild) == 0 {
		return Errorf("no unpack parameter under construction")
	}
	u := m.uvarDefBuild[len(m.uvarDefBuild)-1]
	u.Variables = append(u.Variables, v)
	return nil
}

func (m *VM) handleFunSetUnpackParam() {
	if len(m.uvarDefBuild) == 0 || len(m.funcDefBuild) == 0 {
		return
	}
	u := m.uvarDefBuild[len(m.uvarDefBuild)-1]
	m.uvarDefBuild = m.uvarDefBuild[:len(m.uvarDefBuild)-1]
	fn := m.funcDefBuild[len(m.funcDefBuild)-1]
	fn.Params = append(fn.Params, u)
}

// handleFunEnd closes the definition and records the body's entry PC (the
// instruction after the jump that skips the body). A forward declaration
// later completed rebinds the existing overload's pointer in place.
func (m *VM) handleFunEnd(params []Operand) error {
	nameSpace := params[0].Str()
	module := params[1].Str()
	hasBlock := params[2].Bool()

	if len(m.funcDefBuild) == 0 {
		return Errorf("no function definition under construction")
	}
	fn := m.funcDefBuild[len(m.funcDefBuild)-1]
	m.funcDefBuild = m.funcDefBuild[:len(m.funcDefBuild)-1]

	var scope *Scope
	if len(m.classDefBuild) == 0 {
		scope = m.GlobalScope(module)
	} else {
		scope = m.BackScope(nameSpace)
	}
	if scope == nil {
		return Errorf("no scope to declare function '%s'", fn.Identifier)
	}

	signature := make([]TypeDef, len(fn.Params))
	for i, p := range fn.Params {
		signature[i] = p.ParamType()
	}

	if existing, err := scope.FindDeclaredFunction(fn.Identifier, signature, true); err == nil {
		existing.Pointer = m.nextPC + 1
		return nil
	}

	if hasBlock {
		fn.Pointer = m.nextPC + 1
	}
	scope.DeclareFunction(fn.Identifier, fn)
	return nil
}

// ---------------------------------------------------------------------------
// Call protocol
// ---------------------------------------------------------------------------

// handleCall resolves and enters a callee. Resolution order: declared
// overloads (strict, then relaxed), a variable holding a function value, a
// class constructor interpretation, otherwise an undeclared-function fault.
func (m *VM) handleCall(params []Operand) error {
	moduleNameSpace := params[0].Str()
	module := params[1].Str()
	nameSpace := params[2].Str()
	identifier := params[3].Str()
	argc := params[4].Size()

	callPC := m.currentPC
	callIdentifier := identifier
	asIdentifier := ""

	subRun := m.markNextCallSubRun()

	// An empty identifier means the callee value is on the evaluation stack
	// (lambda or call on a returned expression).
	var calleeValue *Value
	if identifier == "" {
		v, err := m.popValue()
		if err != nil {
			return err
		}
		calleeValue = v
	}

	signature := make([]TypeDef, 0, argc)
	args := make([]*Value, 0, argc)
	m.GC.AddRootContainer(&args)
	defer m.GC.RemoveRootContainer(&args)

	for i := 0; i < argc; i++ {
		v, err := m.popValue()
		if err != nil {
			return err
		}
		signature = append([]TypeDef{v.TypeDef}, signature...)
		args = append([]*Value{v}, args...)
	}

	strict := true
	var funcScope *Scope

	if calleeValue != nil {
		if !calleeValue.IsFunction() {
			return UndeclaredFunctionError("lambda", signature)
		}
		nameSpace = calleeValue.Fun.NameSpace
		identifier = calleeValue.Fun.Name

		funcScope, strict = m.findDeclaredFunctionStrict(moduleNameSpace, module, nameSpace, identifier, signature)
		if funcScope == nil {
			return UndeclaredFunctionError(identifier, signature)
		}
	} else {
		funcScope, strict = m.findDeclaredFunctionStrict(moduleNameSpace, module, nameSpace, identifier, signature)

		if funcScope == nil {
			varScope := m.InnerMostVariableScope(moduleNameSpace, module, nameSpace, identifier)

			if varScope == nil {
				if classScope := m.InnerMostClassScope(moduleNameSpace, module, nameSpace, identifier); classScope != nil {
					return m.constructClassInstance(classScope, identifier, signature, args, callPC)
				}
				return UndeclaredFunctionError(identifier, signature)
			}

			variable := varScope.FindDeclaredVariable(identifier)
			value := variable.Value()
			if value == nil || !value.IsFunction() {
				return UndeclaredFunctionError(identifier, signature)
			}

			nameSpace = value.Fun.NameSpace
			identifier = value.Fun.Name
			asIdentifier = identifier

			funcScope, strict = m.findDeclaredFunctionStrict(moduleNameSpace, module, nameSpace, identifier, signature)
			if funcScope == nil {
				return UndeclaredFunctionError(identifier, signature)
			}
		}
	}

	declfun, err := funcScope.FindDeclaredFunction(identifier, signature, strict)
	if err != nil {
		return err
	}

	m.pushVMScope(NewScope(funcScope.NameSpace, funcScope.Module))

	if err := m.declareFunctionBlockParameters(funcScope.NameSpace, declfun.Params, args); err != nil {
		return err
	}

	if strings.HasPrefix(callIdentifier, "lambda@") {
		callIdentifier = "<lambda>"
	}
	if strings.HasPrefix(asIdentifier, "lambda@") {
		asIdentifier = "<lambda>"
	}
	stackIdentifier := callIdentifier
	if asIdentifier != "" {
		stackIdentifier += " as " + asIdentifier
	}
	dbg := m.debug.Get(callPC)
	m.debug.Rewrite(callPC, funcScope.NameSpace, stackIdentifier, dbg.Row, dbg.Col)
	m.callSites = append(m.callSites, callPC)

	if declfun.Pointer > 0 {
		m.frames = append(m.frames, callFrame{
			returnPC:  m.nextPC,
			nameSpace: funcScope.NameSpace,
			module:    funcScope.Module,
			subRun:    subRun,
		})
		m.pushDeep()
		m.nextPC = declfun.Pointer
		return nil
	}

	// Built-ins run synchronously in the freshly pushed scope.
	native, ok := m.Builtins[identifier]
	if !ok || native == nil {
		return UndeclaredFunctionError(identifier, signature)
	}
	if err := native(m); err != nil {
		return err
	}
	m.popVMScope(funcScope.NameSpace, funcScope.Module)
	if len(m.callSites) > 0 {
		m.callSites = m.callSites[:len(m.callSites)-1]
	}
	return nil
}

// findDeclaredFunctionStrict tries strict resolution first and falls back to
// relaxed matching. The returned flag reports which mode succeeded.
func (m *VM) findDeclaredFunctionStrict(moduleNameSpace, module, nameSpace, identifier string, signature []TypeDef) (*Scope, bool) {
	if scope := m.InnerMostFunctionScope(moduleNameSpace, module, nameSpace, identifier, signature, true); scope != nil {
		return scope, true
	}
	return m.InnerMostFunctionScope(moduleNameSpace, module, nameSpace, identifier, signature, false), false
}

// handleReturn pops the returned value, unwinds every deep frame the callee
// opened, pops the callee's block scope, and resumes at the recorded PC with
// the value back on the stack.
func (m *VM) handleReturn() error {
	if len(m.frames) == 0 {
		return Errorf("return outside of a function")
	}
	frame := m.frames[len(m.frames)-1]
	m.nextPC = frame.returnPC

	ret, err := m.popValue()
	if err != nil {
		return err
	}
	m.GC.AddRoot(ret)

	for i := 0; i < frame.deeps; i++ {
		m.popDeep()
	}
	m.frames = m.frames[:len(m.frames)-1]

	m.pushConstant(ret)
	m.GC.RemoveRoot(ret)

	m.popVMScope(frame.nameSpace, frame.module)

	if len(m.callSites) > 0 {
		m.callSites = m.callSites[:len(m.callSites)-1]
	}

	if frame.subRun {
		m.returnFromSubRun = true
	}
	return nil
}

// ---------------------------------------------------------------------------
// Parameter binding
// ---------------------------------------------------------------------------

// declareFunctionBlockParameters binds the call arguments into the callee's
// freshly pushed scope: positionals by order, unpack parameters by field,
// rest collecting the tail, defaults running their compiled snippets.
func (m *VM) declareFunctionBlockParameters(funcNameSpace string, defined []ParamDef, args []*Value) error {
	restName := ""
	var restDef *VarDef
	var rest []*Value
	m.GC.AddRootContainer(&rest)
	defer m.GC.RemoveRootContainer(&rest)

	i := 0
	for ; i < len(args); i++ {
		value := m.GC.Allocate(args[i].Clone())

		if i < len(defined) {
			value = NormalizeType(defined[i].ParamType(), value, true)
			value = m.GC.Allocate(value)
		}

		if i >= len(defined) {
			rest = append(rest, value)
			continue
		}

		switch decl := defined[i].(type) {
		case *VarDef:
			if decl.IsRest {
				restName = decl.Identifier
				restDef = decl
				// A single trailing array argument spreads into the rest
				// parameter.
				if i == len(defined)-1 && i == len(args)-1 && value.IsArray() {
					rest = append(rest, value.Arr...)
				} else {
					rest = append(rest, value)
				}
			} else {
				m.declareFunctionParameter(funcNameSpace, decl.Identifier, decl.TypeDef, value)
			}
		case *UnpackDef:
			if value.Str == nil {
				return Errorf("expected struct value for unpack parameter")
			}
			for _, sub := range decl.Variables {
				fieldVar := value.Str.Find(sub.Identifier)
				if fieldVar == nil {
					return StructMemberError(value.TypeNameSpace, value.TypeName, sub.Identifier)
				}
				subValue := m.GC.Allocate(fieldVar.Value().Clone())
				m.declareFunctionParameter(funcNameSpace, sub.Identifier, sub.TypeDef, subValue)
			}
		}
	}

	// Unsupplied parameters take their compiled default snippets.
	for ; i < len(defined); i++ {
		decl, ok := defined[i].(*VarDef)
		if !ok {
			continue
		}
		if decl.IsRest {
			restName = decl.Identifier
			restDef = decl
			break
		}
		if err := m.subRun(decl.DefaultPC); err != nil {
			return err
		}
		value, err := m.popValue()
		if err != nil {
			return err
		}
		m.declareFunctionParameter(funcNameSpace, decl.Identifier, decl.TypeDef, value)
	}

	if restName != "" {
		arr := m.GC.Allocate(NewArray(rest, TypeAny, []int64{int64(len(rest))}, "", ""))
		v := m.GC.AllocateVariable(NewVariable(restName, restDef.TypeDef))
		v.Set(arr)
		if scope := m.BackScope(funcNameSpace); scope != nil {
			scope.DeclareVariable(restName, v)
		}
	}
	return nil
}

// declareFunctionParameter binds one parameter variable in the call scope.
func (m *VM) declareFunctionParameter(funcNameSpace, identifier string, td TypeDef, value *Value) {
	v := m.GC.AllocateVariable(NewVariable(identifier, td))
	v.Set(value)
	if scope := m.BackScope(funcNameSpace); scope != nil {
		scope.DeclareVariable(identifier, v)
	}
}

// ---------------------------------------------------------------------------
// Class construction
// ---------------------------------------------------------------------------

// constructClassInstance interprets Name(args) as an object literal: a class
// scope is instantiated, field defaults run as sub-runs, and the init
// constructor executes as a nested run before the instance value is pushed.
func (m *VM) constructClassInstance(classScope *Scope, identifier string, signature []TypeDef, args []*Value, callPC int) error {
	def := classScope.FindDeclaredClass(identifier)

	instance := NewClassScope(classScope.NameSpace, identifier)
	objValue := NewClassInstance(instance, classScope.NameSpace, identifier)

	if def.Functions != nil {
		for _, name := range def.Functions.FunctionNames() {
			for _, fn := range def.Functions.Overloads(name) {
				instance.DeclareFunction(name, fn)
			}
		}
	}

	for _, varName := range def.VarNames {
		varDef := def.Variables[varName]
		v := m.GC.AllocateVariable(NewVariable(varName, varDef.TypeDef))

		if varDef.DefaultPC > 0 {
			if err := m.subRun(varDef.DefaultPC); err != nil {
				return err
			}
			dv, err := m.popValue()
			if err != nil {
				return err
			}
			v.Set(dv)
		} else {
			v.Set(m.GC.Allocate(NewUndefined()))
		}

		instance.DeclareVariable(varName, v)
	}

	m.classStack = append(m.classStack, instance)
	m.pushVMScope(instance)

	constructor, err := instance.FindDeclaredFunction("init", signature, true)
	if err != nil {
		constructor, err = instance.FindDeclaredFunction("init", signature, false)
	}

	if err != nil || constructor.Pointer == 0 {
		// No matching constructor: only a bare Name() literal is legal.
		if len(signature) > 0 {
			return UndeclaredFunctionError(identifier+".init", signature)
		}
		m.classStack = m.classStack[:len(m.classStack)-1]
		m.popVMScope(instance.NameSpace, instance.Module)
		m.pushNewConstant(objValue)
		return nil
	}

	m.pushVMScope(NewScope(instance.NameSpace, instance.Module))
	if err := m.declareFunctionBlockParameters(instance.NameSpace, constructor.Params, args); err != nil {
		return err
	}

	dbg := m.debug.Get(callPC)
	m.debug.Rewrite(callPC, instance.NameSpace, identifier, dbg.Row, dbg.Col)
	m.callSites = append(m.callSites, callPC)

	m.frames = append(m.frames, callFrame{
		returnPC:  m.nextPC,
		nameSpace: instance.NameSpace,
		module:    instance.Module,
		subRun:    true,
	})
	m.pushDeep()

	m.nextPC = constructor.Pointer
	if err := m.runLoop(); err != nil {
		return err
	}

	// Discard the constructor's implicit undefined return.
	m.popConstant()
	m.classStack = m.classStack[:len(m.classStack)-1]
	m.popVMScope(instance.NameSpace, instance.Module)

	m.pushNewConstant(objValue)
	return nil
}

// ---------------------------------------------------------------------------
// Throw
// ---------------------------------------------------------------------------

// handleThrow raises a user error from a string or a default::Exception
// struct; both are catchable by an enclosing Try.
func (m *VM) handleThrow() error {
	value, err := m.popValue()
	if err != nil {
		return err
	}

	if value.IsStruct() && value.TypeNameSpace == DefaultNameSpace && value.TypeName == StructException {
		var msg string
		var code int64
		if errVar := value.Str.Find(FieldError); errVar != nil && errVar.Value() != nil {
			msg = errVar.Value().S
		}
		if codeVar := value.Str.Find(FieldCode); codeVar != nil && codeVar.Value() != nil {
			code = codeVar.Value().I
		}
		return UserErrorf(code, "%s", msg)
	}
	if value.IsString() {
		return UserErrorf(0, "%s", value.S)
	}
	return Errorf("expected %s or string in throw", QualifiedTypeName(DefaultNameSpace, StructException))
}
