package compiler

import (
	"fmt"
	"strconv"

	"github.com/chazu/merlin/vm"
)

// ---------------------------------------------------------------------------
// Semantic errors
// ---------------------------------------------------------------------------

// SemanticError is a fatal analysis fault located at a node.
type SemanticError struct {
	Message         string
	Kind            string
	Identifier      string
	ModuleNameSpace string
	ModuleName      string
	Row             int
	Col             int
}

// Error renders "SemanticError: msg\n at <kind|id> (ns::module:row:col)".
func (e *SemanticError) Error() string {
	d := vm.DebugInfo{
		ModuleNameSpace: e.ModuleNameSpace,
		ModuleName:      e.ModuleName,
		ASTKind:         e.Kind,
		Identifier:      e.Identifier,
		Row:             e.Row,
		Col:             e.Col,
	}
	return d.BuildErrorMessage("SemanticError", e.Message)
}

// ---------------------------------------------------------------------------
// SemanticAnalyser
// ---------------------------------------------------------------------------

type forwardDecl struct {
	fn  *vm.FunctionDef
	row int
	col int
}

// SemanticAnalyser walks each module starting from the main one: it resolves
// namespaces and overloads, checks declarations and assignments, proves
// return coverage, folds constants, and normalises implicit coercions. The
// first error of a module terminates analysis.
type SemanticAnalyser struct {
	*vm.ScopeManager

	modules     map[string]*Module
	mainModule  *Module
	moduleStack []*Module

	currentExpr *vm.Value

	classStack      []*vm.Scope
	currentFunction []*vm.FunctionDef
	forwardDecls    []forwardDecl

	moduleLevel   int
	parsedLibs    map[string]bool
	allNameSpaces []string
	builtins      map[string]bool
	lambdaCount   int

	isLoop       bool
	isSwitch     bool
	isAssignment bool

	// array constructor inference state
	arrayType   vm.TypeDef
	arrayDim    []int64
	arrayDimMax int
	arrayIsMax  bool

	args []string
}

// NewSemanticAnalyser prepares analysis of the main module against the full
// module set. The built-in module is registered beneath the main module's
// global namespace.
func NewSemanticAnalyser(mainModule *Module, modules map[string]*Module, args []string) *SemanticAnalyser {
	if modules == nil {
		modules = make(map[string]*Module)
	}
	a := &SemanticAnalyser{
		ScopeManager: vm.NewScopeManager(),
		modules:      modules,
		mainModule:   mainModule,
		moduleStack:  []*Module{mainModule},
		currentExpr:  vm.NewUndefined(),
		parsedLibs:   make(map[string]bool),
		builtins:     make(map[string]bool),
		args:         args,
	}

	a.PushScope(vm.NewScope(vm.DefaultNameSpace, vm.BuiltinModuleName))
	vm.BuiltinModule{}.RegisterAnalyser(a)

	a.setupGlobalNamespace(vm.NewScope(mainModule.NameSpace, mainModule.Name))
	return a
}

// DeclareBuiltin records a name the VM will honour at call time.
func (a *SemanticAnalyser) DeclareBuiltin(name string) {
	a.builtins[name] = true
}

// IsBuiltin reports whether name is a registered built-in.
func (a *SemanticAnalyser) IsBuiltin(name string) bool {
	return a.builtins[name]
}

// Analyse checks the whole program, starting from the main module.
func (a *SemanticAnalyser) Analyse() error {
	return a.visitModule(a.currentModule())
}

func (a *SemanticAnalyser) currentModule() *Module {
	return a.moduleStack[len(a.moduleStack)-1]
}

func (a *SemanticAnalyser) setupGlobalNamespace(scope *vm.Scope) {
	module := a.currentModule()

	a.IncludeNameSpace(module.Name, module.NameSpace)
	a.IncludeNameSpace(module.Name, vm.DefaultNameSpace)

	if module.NameSpace != "" && !contains(a.allNameSpaces, module.NameSpace) {
		a.allNameSpaces = append(a.allNameSpaces, module.NameSpace)
	}

	a.PushScope(scope)
}

// fail wraps a message as a SemanticError at the node.
func (a *SemanticAnalyser) fail(n Node, format string, args ...any) error {
	row, col := 0, 0
	if n != nil {
		row, col = n.Pos()
	}
	module := a.currentModule()
	identifier := ""
	switch node := n.(type) {
	case *FunctionCallExpr:
		identifier = node.Identifier()
	case *FunctionDefinitionStmt:
		identifier = node.Identifier
	}
	return &SemanticError{
		Message:         fmt.Sprintf(format, args...),
		Kind:            nodeKind(n),
		Identifier:      identifier,
		ModuleNameSpace: module.NameSpace,
		ModuleName:      module.Name,
		Row:             row,
		Col:             col,
	}
}

// wrap attaches node position info to an error that is not yet located.
func (a *SemanticAnalyser) wrap(n Node, err error) error {
	if err == nil {
		return nil
	}
	if _, ok := err.(*SemanticError); ok {
		return err
	}
	return a.fail(n, "%s", err.Error())
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

// ---------------------------------------------------------------------------
// Modules and namespaces
// ---------------------------------------------------------------------------

func (a *SemanticAnalyser) visitModule(module *Module) error {
	a.moduleLevel++
	for _, stmt := range module.Statements {
		if err := a.visitStmt(stmt); err != nil {
			a.moduleLevel--
			return a.wrap(stmt, err)
		}
	}
	a.moduleLevel--

	if a.moduleLevel == 0 {
		for _, fd := range a.forwardDecls {
			if fd.fn.Block == nil {
				return &SemanticError{
					Message:         fmt.Sprintf("function '%s' was declared with no block", fd.fn.Identifier),
					Kind:            "<statement>",
					ModuleNameSpace: module.NameSpace,
					ModuleName:      module.Name,
					Row:             fd.row,
					Col:             fd.col,
				}
			}
		}
		a.forwardDecls = nil
	}
	return nil
}

func (a *SemanticAnalyser) visitUsing(stmt *UsingStmt) error {
	libname := joinDots(stmt.Library)

	if lib, ok := vm.CoreLibs[libname]; ok {
		lib.RegisterAnalyser(a)
	}

	module, ok := a.modules[libname]
	if !ok {
		if vm.IsCoreLib(libname) {
			// Registration-contract-only library with no source module.
			return nil
		}
		return a.fail(stmt, "lib '%s' not found", libname)
	}

	current := a.currentModule()
	for _, l := range current.libs {
		if l == module {
			return a.fail(stmt, "lib '%s' already declared in %s", libname, current.Name)
		}
	}
	current.libs = append(current.libs, module)

	if !a.parsedLibs[libname] {
		a.parsedLibs[libname] = true
		a.moduleStack = append(a.moduleStack, module)
		a.setupGlobalNamespace(vm.NewScope(module.NameSpace, module.Name))
		err := a.visitModule(module)
		a.moduleStack = a.moduleStack[:len(a.moduleStack)-1]
		if err != nil {
			return err
		}
	}
	return nil
}

func joinDots(parts []string) string {
	s := ""
	for i, p := range parts {
		if i > 0 {
			s += "."
		}
		s += p
	}
	return s
}

func (a *SemanticAnalyser) validateNamespace(n Node, nameSpace string) error {
	if !contains(a.allNameSpaces, nameSpace) {
		return a.fail(n, "namespace '%s' not found", nameSpace)
	}
	if nameSpace == vm.DefaultNameSpace {
		return a.fail(n, "namespace '%s' is default included", nameSpace)
	}
	return nil
}

func (a *SemanticAnalyser) visitIncludeNamespace(stmt *IncludeNamespaceStmt) error {
	module := a.currentModule().Name
	if err := a.validateNamespace(stmt, stmt.NameSpace); err != nil {
		return err
	}
	if contains(a.IncludedNameSpaces(module), stmt.NameSpace) {
		return a.fail(stmt, "namespace '%s' already included in '%s'", stmt.NameSpace, module)
	}
	a.IncludeNameSpace(module, stmt.NameSpace)
	return nil
}

func (a *SemanticAnalyser) visitExcludeNamespace(stmt *ExcludeNamespaceStmt) error {
	module := a.currentModule().Name
	if err := a.validateNamespace(stmt, stmt.NameSpace); err != nil {
		return err
	}
	a.ExcludeNameSpace(module, stmt.NameSpace)
	return nil
}

// normalizeNameSpace substitutes the module's own namespace for an empty
// access namespace.
func (a *SemanticAnalyser) normalizeNameSpace(nameSpace string) string {
	if nameSpace == "" {
		return a.currentModule().NameSpace
	}
	return nameSpace
}

// ---------------------------------------------------------------------------
// Statement dispatch
// ---------------------------------------------------------------------------

func (a *SemanticAnalyser) visitStmt(stmt Stmt) error {
	switch s := stmt.(type) {
	case *UsingStmt:
		return a.visitUsing(s)
	case *IncludeNamespaceStmt:
		return a.visitIncludeNamespace(s)
	case *ExcludeNamespaceStmt:
		return a.visitExcludeNamespace(s)
	case *DeclarationStmt:
		return a.visitDeclaration(s)
	case *UnpackedDeclarationStmt:
		return a.visitUnpackedDeclaration(s)
	case *ReturnStmt:
		return a.visitReturn(s)
	case *BlockStmt:
		return a.visitBlock(s)
	case *ContinueStmt:
		if !a.isLoop {
			return a.fail(s, "continue must be inside a loop")
		}
		return nil
	case *BreakStmt:
		if !a.isLoop && !a.isSwitch {
			return a.fail(s, "break must be inside a loop or switch")
		}
		return nil
	case *ExitStmt:
		return a.visitExit(s)
	case *EnumStmt:
		return a.visitEnum(s)
	case *SwitchStmt:
		return a.visitSwitch(s)
	case *ElseIfStmt:
		return a.visitElseIf(s)
	case *IfStmt:
		return a.visitIf(s)
	case *TryCatchStmt:
		return a.visitTryCatch(s)
	case *ThrowStmt:
		return a.visitThrow(s)
	case *EllipsisStmt:
		return nil
	case *ForStmt:
		return a.visitFor(s)
	case *ForEachStmt:
		return a.visitForEach(s)
	case *WhileStmt:
		return a.visitWhile(s)
	case *DoWhileStmt:
		return a.visitDoWhile(s)
	case *StructDefinitionStmt:
		return a.visitStructDefinition(s)
	case *FunctionDefinitionStmt:
		return a.visitFunctionDefinition(s)
	case *ClassDefinitionStmt:
		return a.visitClassDefinition(s)
	case *ExprStmt:
		return a.visitExpr(s.Expr)
	}
	return a.fail(stmt, "unhandled statement")
}

// ---------------------------------------------------------------------------
// Declarations
// ---------------------------------------------------------------------------

func (a *SemanticAnalyser) visitDeclaration(stmt *DeclarationStmt) error {
	module := a.currentModule()

	dim, err := a.evaluateDimensionVector(stmt.ExprDim)
	if err != nil {
		return err
	}
	if len(stmt.Dim) == 0 {
		stmt.Dim = dim
	}

	scope := a.BackScope(module.NameSpace)
	if scope.AlreadyDeclaredVariable(stmt.Identifier) {
		return a.fail(stmt, "variable '%s' already declared", stmt.Identifier)
	}
	if stmt.Type == vm.TypeVoid {
		return a.fail(stmt, "variables cannot be declared as void type: '%s'", stmt.Identifier)
	}

	if err := a.determineObjectType(&stmt.TypeInfo); err != nil {
		return a.wrap(stmt, err)
	}

	if stmt.Expr != nil {
		if rewritten := a.checkBuildArray(stmt.Dim, stmt.Expr); rewritten != nil {
			stmt.Expr = rewritten
			stmt.isStaticDim = true
		}
		if err := a.visitExpr(stmt.Expr); err != nil {
			return err
		}
		if a.currentExpr.IsUndefined() {
			return a.fail(stmt, "'%s' declaration expression is undefined", stmt.Identifier)
		}
	} else if len(a.classStack) > 0 {
		// Uninitialized class fields take their declared type; the
		// constructor is responsible for filling them.
		a.currentExpr = vm.NewTypedValue(vm.TypeDef{
			Type:          stmt.Type,
			Dim:           stmt.Dim,
			TypeNameSpace: stmt.TypeNameSpace,
			TypeName:      stmt.TypeName,
		})
	} else {
		a.currentExpr = vm.NewUndefined()
	}

	newValue := a.currentExpr.Clone()

	if stmt.IsConstexpr && !newValue.Constexpr {
		return a.fail(stmt, "initializer of '%s' is not a expression constant", stmt.Identifier)
	}

	if stmt.TypeName == "" {
		stmt.TypeName = newValue.TypeName
	}

	newVar := vm.NewVariable(stmt.Identifier, vm.TypeDef{
		Type:          stmt.Type,
		Dim:           stmt.Dim,
		TypeNameSpace: stmt.TypeNameSpace,
		TypeName:      stmt.TypeName,
	})
	newVar.IsConst = stmt.IsConst || stmt.IsConstexpr
	newVar.Set(newValue)

	if !newVar.IsAnyOrMatchTypeDef(newValue.TypeDef, false) && stmt.Expr != nil && !newValue.IsUndefined() {
		return a.wrap(stmt, vm.DeclarationTypeError(stmt.Identifier, newVar.TypeDef, newValue.TypeDef))
	}

	// Normalise the inferred side to the declared one for the implicit
	// coercions.
	if newVar.IsString() || newVar.IsFloat() || newVar.IsInt() {
		newValue.Type = newVar.Type
	}

	scope.DeclareVariable(stmt.Identifier, newVar)
	return nil
}

func (a *SemanticAnalyser) visitUnpackedDeclaration(stmt *UnpackedDeclarationStmt) error {
	if err := a.determineObjectType(&stmt.TypeInfo); err != nil {
		return a.wrap(stmt, err)
	}

	var source *IdentifierExpr
	if stmt.Expr != nil {
		id, ok := stmt.Expr.(*IdentifierExpr)
		if !ok {
			return a.fail(stmt, "expected variable as value of unpacked declaration, but found value")
		}
		source = id
	}

	if source != nil {
		if err := a.visitExpr(source); err != nil {
			return err
		}
		if !stmt.TypeDef().IsAnyOrMatchTypeDef(a.currentExpr.TypeDef, false) {
			return a.wrap(stmt, vm.MismatchedTypeError(stmt.TypeDef(), a.currentExpr.TypeDef))
		}
	}

	for _, decl := range stmt.Declarations {
		if source != nil {
			ids := append(append([]Ident(nil), source.IdentifierVector...), Id(decl.Identifier))
			decl.Expr = &IdentifierExpr{
				Position:         decl.Position,
				IdentifierVector: ids,
				AccessNameSpace:  source.AccessNameSpace,
			}
		}
		if err := a.visitDeclaration(decl); err != nil {
			return err
		}
	}
	return nil
}

func (a *SemanticAnalyser) visitEnum(stmt *EnumStmt) error {
	module := a.currentModule()
	for i, identifier := range stmt.Identifiers {
		value := vm.NewInt(int64(i))
		value.Constexpr = true
		variable := vm.NewVariable(identifier, vm.NewTypeDef(vm.TypeInt))
		variable.IsConst = true
		variable.Set(value)
		a.BackScope(module.NameSpace).DeclareVariable(identifier, variable)
	}
	return nil
}

// ---------------------------------------------------------------------------
// Functions
// ---------------------------------------------------------------------------

func (a *SemanticAnalyser) visitReturn(stmt *ReturnStmt) error {
	returnExpr := vm.NewValue(vm.TypeUndefined)

	if stmt.Expr != nil {
		if err := a.visitExpr(stmt.Expr); err != nil {
			return err
		}
		returnExpr = a.currentExpr
		if returnExpr.IsUndefined() {
			if len(a.currentFunction) > 0 {
				return a.fail(stmt, "'%s' return expression is undefined", a.currentFunction[len(a.currentFunction)-1].Identifier)
			}
			return a.fail(stmt, "return expression is undefined")
		}
	}

	if len(a.currentFunction) > 0 {
		fn := a.currentFunction[len(a.currentFunction)-1]
		if !fn.IsAnyOrMatchTypeDef(returnExpr.TypeDef, false) {
			return a.wrap(stmt, vm.ReturnTypeError(fn.Identifier, fn.TypeDef, returnExpr.TypeDef))
		}
	}
	return nil
}

// resolveParams converts the declared parameter list, resolving object types
// and dimension expressions. Signature rules: at most one rest parameter,
// which must be last; default-valued parameters form a contiguous suffix.
func (a *SemanticAnalyser) resolveParams(n Node, params []ParamDecl) ([]vm.ParamDef, error) {
	out := make([]vm.ParamDef, 0, len(params))
	seenDefault := false
	for i, p := range params {
		switch decl := p.(type) {
		case *VarDecl:
			if err := a.determineObjectType(&decl.TypeInfo); err != nil {
				return nil, a.wrap(n, err)
			}
			dim, err := a.evaluateDimensionVector(decl.ExprDim)
			if err != nil {
				return nil, err
			}
			if len(decl.Dim) == 0 {
				decl.Dim = dim
			}
			if decl.IsRest && i != len(params)-1 {
				return nil, a.fail(n, "rest parameter '%s' must be the last parameter", decl.Identifier)
			}
			if decl.Default != nil {
				seenDefault = true
			} else if seenDefault && !decl.IsRest {
				return nil, a.fail(n, "parameter '%s' without default value cannot follow defaulted parameters", decl.Identifier)
			}
			out = append(out, &vm.VarDef{
				TypeDef:    decl.TypeDef(),
				Identifier: decl.Identifier,
				IsRest:     decl.IsRest,
				Default:    exprAsAny(decl.Default),
			})
		case *UnpackDecl:
			if err := a.determineObjectType(&decl.TypeInfo); err != nil {
				return nil, a.wrap(n, err)
			}
			u := &vm.UnpackDef{TypeDef: decl.TypeDef()}
			for _, sub := range decl.Variables {
				if err := a.determineObjectType(&sub.TypeInfo); err != nil {
					return nil, a.wrap(n, err)
				}
				u.Variables = append(u.Variables, &vm.VarDef{
					TypeDef:    sub.TypeDef(),
					Identifier: sub.Identifier,
				})
			}
			out = append(out, u)
		}
	}
	return out, nil
}

// exprAsAny erases the expression type without wrapping a typed nil.
func exprAsAny(e Expr) any {
	if e == nil {
		return nil
	}
	return e
}

func paramSignature(params []vm.ParamDef) []vm.TypeDef {
	sig := make([]vm.TypeDef, len(params))
	for i, p := range params {
		sig[i] = p.ParamType()
	}
	return sig
}

func (a *SemanticAnalyser) visitFunctionDefinition(stmt *FunctionDefinitionStmt) error {
	module := a.currentModule()

	if err := a.determineObjectType(&stmt.TypeInfo); err != nil {
		return a.wrap(stmt, err)
	}

	params, err := a.resolveParams(stmt, stmt.Params)
	if err != nil {
		return err
	}
	signature := paramSignature(params)

	var declareScope *vm.Scope
	if len(a.classStack) > 0 {
		declareScope = a.classStack[len(a.classStack)-1]
	} else {
		declareScope = a.GlobalScope(module.Name)
	}

	var declFunction *vm.FunctionDef
	if declareScope.AlreadyDeclaredFunction(stmt.Identifier, signature, true) {
		declFunction, _ = declareScope.FindDeclaredFunction(stmt.Identifier, signature, true)
		if declFunction != nil && declFunction.Block != nil {
			return a.fail(stmt, "function %s already defined", vm.BuildSignature(stmt.Identifier, signature))
		}
	}

	retDim, err := a.evaluateDimensionVector(stmt.ExprDim)
	if err != nil {
		return err
	}
	if len(stmt.Dim) == 0 {
		stmt.Dim = retDim
	}

	if stmt.Block != nil {
		hasReturn := returns(stmt.Block)
		if stmt.Type == vm.TypeVoid && hasReturn {
			stmt.Type = vm.TypeAny
		}

		if stmt.Identifier != "" {
			if declFunction != nil {
				declFunction.Type = stmt.Type
				declFunction.Block = stmt.Block
			} else {
				declFunction = &vm.FunctionDef{
					TypeDef:    stmt.TypeDef(),
					Identifier: stmt.Identifier,
					Params:     params,
					Block:      stmt.Block,
				}
				declareScope.DeclareFunction(stmt.Identifier, declFunction)
			}
			a.currentFunction = append(a.currentFunction, declFunction)
		}

		err := a.visitBlock(stmt.Block)

		if err == nil && stmt.Type != vm.TypeVoid && !hasReturn {
			err = a.fail(stmt, "defined function '%s' is not guaranteed to return a value", stmt.Identifier)
		}

		if stmt.Identifier != "" {
			a.currentFunction = a.currentFunction[:len(a.currentFunction)-1]
		}
		return err
	}

	if stmt.Identifier != "" {
		declFunction = &vm.FunctionDef{
			TypeDef:    stmt.TypeDef(),
			Identifier: stmt.Identifier,
			Params:     params,
		}
		declareScope.DeclareFunction(stmt.Identifier, declFunction)

		if stmt.Identifier != "init" && !a.isCoreLibModule(module) {
			a.forwardDecls = append(a.forwardDecls, forwardDecl{fn: declFunction, row: stmt.Row, col: stmt.Col})
		}
	}
	return nil
}

// isCoreLibModule reports whether module is a standard-library core module,
// whose bodyless declarations are filled by native registration.
func (a *SemanticAnalyser) isCoreLibModule(module *Module) bool {
	return module.NameSpace == vm.StdNameSpace && vm.IsCoreLib(module.Name)
}

func (a *SemanticAnalyser) visitLambda(expr *LambdaExpr) error {
	fun := expr.Fun
	if fun.Identifier == "" {
		a.lambdaCount++
		fun.Identifier = "lambda@" + strconv.Itoa(a.lambdaCount)
	}

	if err := a.visitFunctionDefinition(fun); err != nil {
		return err
	}

	a.currentExpr = vm.NewFunction(a.currentModule().NameSpace, fun.Identifier)
	return nil
}

func (a *SemanticAnalyser) visitBlock(stmt *BlockStmt) error {
	module := a.currentModule()

	a.PushScope(vm.NewScope(module.NameSpace, module.Name))
	defer a.PopScope(module.NameSpace, module.Name)

	scope := a.BackScope(module.NameSpace)

	if len(a.currentFunction) > 0 {
		for _, p := range a.currentFunction[len(a.currentFunction)-1].Params {
			switch decl := p.(type) {
			case *vm.VarDef:
				if err := a.declareFunctionParameter(scope, decl); err != nil {
					return err
				}
			case *vm.UnpackDef:
				for _, sub := range decl.Variables {
					if err := a.declareFunctionParameter(scope, sub); err != nil {
						return err
					}
				}
			}
		}
	}

	for _, s := range stmt.Statements {
		if err := a.visitStmt(s); err != nil {
			return err
		}
	}
	return nil
}

func (a *SemanticAnalyser) declareFunctionParameter(scope *vm.Scope, param *vm.VarDef) error {
	if expr, ok := param.Default.(Expr); ok && expr != nil {
		if err := a.visitExpr(expr); err != nil {
			return err
		}
	}

	value := vm.NewTypedValue(param.TypeDef)
	v := vm.NewVariable(param.Identifier, param.TypeDef)
	v.Set(value)
	scope.DeclareVariable(param.Identifier, v)
	return nil
}

// ---------------------------------------------------------------------------
// Control flow
// ---------------------------------------------------------------------------

func (a *SemanticAnalyser) checkCondition(n Node, what string) error {
	if a.currentExpr.IsUndefined() {
		return a.fail(n, "%s expression is undefined", what)
	}
	if !a.currentExpr.IsBool() && !a.currentExpr.IsAny() {
		return a.fail(n, "conditions must be boolean expression")
	}
	return nil
}

func (a *SemanticAnalyser) visitExit(stmt *ExitStmt) error {
	if err := a.visitExpr(stmt.ExitCode); err != nil {
		return err
	}
	if a.currentExpr.IsUndefined() {
		return a.fail(stmt, "exit expression is undefined")
	}
	if !a.currentExpr.IsInt() {
		return a.fail(stmt, "expected int value")
	}
	return nil
}

func (a *SemanticAnalyser) visitIf(stmt *IfStmt) error {
	if err := a.visitExpr(stmt.Condition); err != nil {
		return err
	}
	if err := a.checkCondition(stmt, "if"); err != nil {
		return err
	}
	if err := a.visitBlock(stmt.IfBlock); err != nil {
		return err
	}
	for _, elif := range stmt.ElseIfs {
		if err := a.visitElseIf(elif); err != nil {
			return err
		}
	}
	if stmt.ElseBlock != nil {
		return a.visitBlock(stmt.ElseBlock)
	}
	return nil
}

func (a *SemanticAnalyser) visitElseIf(stmt *ElseIfStmt) error {
	if err := a.visitExpr(stmt.Condition); err != nil {
		return err
	}
	if err := a.checkCondition(stmt, "else if"); err != nil {
		return err
	}
	return a.visitBlock(stmt.Block)
}

func (a *SemanticAnalyser) visitWhile(stmt *WhileStmt) error {
	a.isLoop = true
	defer func() { a.isLoop = false }()

	if err := a.visitExpr(stmt.Condition); err != nil {
		return err
	}
	if err := a.checkCondition(stmt, "while"); err != nil {
		return err
	}
	return a.visitBlock(stmt.Block)
}

func (a *SemanticAnalyser) visitDoWhile(stmt *DoWhileStmt) error {
	a.isLoop = true
	defer func() { a.isLoop = false }()

	if err := a.visitExpr(stmt.Condition); err != nil {
		return err
	}
	if err := a.checkCondition(stmt, "do-while"); err != nil {
		return err
	}
	return a.visitBlock(stmt.Block)
}

func (a *SemanticAnalyser) visitFor(stmt *ForStmt) error {
	module := a.currentModule()
	a.isLoop = true
	defer func() { a.isLoop = false }()

	a.PushScope(vm.NewScope(module.NameSpace, module.Name))
	defer a.PopScope(module.NameSpace, module.Name)

	if stmt.Init != nil {
		if err := a.visitStmt(stmt.Init); err != nil {
			return err
		}
	}
	if stmt.Cond != nil {
		if err := a.visitExpr(stmt.Cond); err != nil {
			return err
		}
		if err := a.checkCondition(stmt, "for"); err != nil {
			return err
		}
	}
	if stmt.Step != nil {
		if err := a.visitStmt(stmt.Step); err != nil {
			return err
		}
	}
	return a.visitBlock(stmt.Block)
}

func (a *SemanticAnalyser) visitForEach(stmt *ForEachStmt) error {
	module := a.currentModule()
	a.isLoop = true
	defer func() { a.isLoop = false }()

	a.PushScope(vm.NewScope(module.NameSpace, module.Name))
	defer a.PopScope(module.NameSpace, module.Name)

	if err := a.visitExpr(stmt.Collection); err != nil {
		return err
	}
	colValue := a.currentExpr.Clone()

	entryType := vm.NewObjectTypeDef(vm.TypeStruct, vm.DefaultNameSpace, vm.StructEntry)

	switch decl := stmt.ItDecl.(type) {
	case *UnpackedDeclarationStmt:
		if !colValue.IsStruct() && !colValue.IsAny() {
			return a.fail(stmt, "[key, value] can only be used with struct")
		}
		if len(decl.Declarations) != 2 {
			return a.fail(stmt, "invalid number of values")
		}
		decl.Declarations[0].Expr = &LiteralString{Position: stmt.Position}
		anyVal := vm.NewValue(vm.TypeAny)
		decl.Declarations[1].Expr = &ValueExpr{Position: stmt.Position, Value: anyVal}
		err := a.visitUnpackedDeclaration(decl)
		decl.Declarations[0].Expr = nil
		decl.Declarations[1].Expr = nil
		if err != nil {
			return err
		}

	case *DeclarationStmt:
		if !colValue.IsIterable() && !colValue.IsAny() {
			return a.fail(stmt, "expected iterable in foreach")
		}
		value := a.foreachElementValue(colValue, &decl.TypeInfo)
		decl.Expr = &ValueExpr{Position: stmt.Position, Value: value}
		err := a.visitDeclaration(decl)
		decl.Expr = nil
		if err != nil {
			return err
		}

	case *IdentifierExpr:
		if !colValue.IsIterable() && !colValue.IsAny() {
			return a.fail(stmt, "expected iterable in foreach")
		}
		var value *vm.Value
		switch {
		case colValue.IsStruct():
			value = vm.NewTypedValue(entryType)
		case colValue.IsString():
			value = vm.NewValue(vm.TypeChar)
		case colValue.IsAny():
			value = vm.NewValue(vm.TypeAny)
		default:
			value = vm.NewTypedValue(colValue.ElementType())
		}
		assign := &BinaryExpr{
			Position: decl.Position,
			Op:       "=",
			Left:     decl,
			Right:    &ValueExpr{Position: stmt.Position, Value: value},
		}
		if err := a.visitExpr(assign); err != nil {
			return err
		}

	default:
		return a.fail(stmt, "expected declaration or identifier")
	}

	return a.visitBlock(stmt.Block)
}

// foreachElementValue infers the per-iteration element type for a declared
// foreach binding.
func (a *SemanticAnalyser) foreachElementValue(colValue *vm.Value, declared *TypeInfo) *vm.Value {
	switch {
	case colValue.IsStruct():
		return vm.NewTypedValue(vm.NewObjectTypeDef(vm.TypeStruct, vm.DefaultNameSpace, vm.StructEntry))
	case colValue.IsString():
		return vm.NewValue(vm.TypeChar)
	case colValue.IsAny():
		return vm.NewValue(vm.TypeAny)
	case len(colValue.Dim) > 1:
		dim := append([]int64(nil), colValue.Dim[1:]...)
		if declared.Type != vm.TypeAny {
			return vm.NewTypedValue(vm.NewArrayTypeDef(declared.Type, dim, declared.TypeNameSpace, declared.TypeName))
		}
		return vm.NewTypedValue(vm.NewArrayTypeDef(declared.Type, dim, colValue.TypeNameSpace, colValue.TypeName))
	default:
		return vm.NewTypedValue(colValue.ElementType())
	}
}

func (a *SemanticAnalyser) visitSwitch(stmt *SwitchStmt) error {
	module := a.currentModule()

	a.isSwitch = true
	defer func() { a.isSwitch = false }()

	a.PushScope(vm.NewScope(module.NameSpace, module.Name))
	defer a.PopScope(module.NameSpace, module.Name)

	stmt.parsedCases = nil

	if err := a.visitExpr(stmt.Condition); err != nil {
		return err
	}
	if a.currentExpr.IsUndefined() {
		return a.fail(stmt, "switch expression is undefined")
	}
	condType := a.currentExpr.TypeDef

	caseType := vm.NewTypeDef(vm.TypeUndefined)
	seen := make(map[int64]bool)

	for _, cb := range stmt.CaseBlocks {
		if err := a.visitExpr(cb.Value); err != nil {
			return err
		}
		if a.currentExpr.IsUndefined() {
			return a.fail(stmt, "case expression is undefined")
		}
		if !a.currentExpr.Constexpr {
			return a.fail(stmt, "case expression is not an constant")
		}
		if caseType.IsUndefined() {
			if a.currentExpr.IsVoid() || a.currentExpr.IsAny() {
				return a.fail(stmt, "case values cannot be undefined")
			}
			caseType = a.currentExpr.TypeDef
		}
		if !caseType.MatchType(a.currentExpr.TypeDef) {
			return a.wrap(stmt, vm.MismatchedTypeError(caseType, a.currentExpr.TypeDef))
		}

		hash := vm.HashConstant(a.currentExpr)
		if seen[hash] {
			return a.fail(stmt, "duplicated case value: '%d'", hash)
		}
		seen[hash] = true
		stmt.parsedCases = append(stmt.parsedCases, parsedCase{
			hash:  hash,
			value: a.currentExpr.Clone(),
			block: cb.Block,
		})
	}

	if !condType.IsAnyOrMatchTypeDef(caseType, false) {
		return a.wrap(stmt, vm.MismatchedTypeError(condType, caseType))
	}

	for _, s := range stmt.Statements {
		if err := a.visitStmt(s); err != nil {
			return err
		}
	}
	return nil
}

// ---------------------------------------------------------------------------
// Exceptions
// ---------------------------------------------------------------------------

func (a *SemanticAnalyser) visitTryCatch(stmt *TryCatchStmt) error {
	module := a.currentModule()

	if err := a.visitBlock(stmt.TryBlock); err != nil {
		return err
	}

	a.PushScope(vm.NewScope(module.NameSpace, module.Name))
	defer a.PopScope(module.NameSpace, module.Name)

	errorNode := &LiteralString{Position: stmt.Position}
	codeNode := &LiteralInt{Position: stmt.Position}

	switch decl := stmt.Decl.(type) {
	case *UnpackedDeclarationStmt:
		if len(decl.Declarations) != 2 {
			return a.fail(stmt, "invalid number of values")
		}
		decl.Declarations[0].Expr = errorNode
		decl.Declarations[1].Expr = codeNode
		err := a.visitUnpackedDeclaration(decl)
		decl.Declarations[0].Expr = nil
		decl.Declarations[1].Expr = nil
		if err != nil {
			return err
		}
	case *DeclarationStmt:
		decl.Expr = &StructConstructorExpr{
			Position:      stmt.Position,
			TypeNameSpace: vm.DefaultNameSpace,
			TypeName:      vm.StructException,
			Values: []FieldInit{
				{Name: vm.FieldError, Expr: errorNode},
				{Name: vm.FieldCode, Expr: codeNode},
			},
		}
		err := a.visitDeclaration(decl)
		decl.Expr = nil
		if err != nil {
			return err
		}
	case *EllipsisStmt:
		// catch-all without a binding
	default:
		return a.fail(stmt, "expected declaration")
	}

	return a.visitBlock(stmt.CatchBlock)
}

func (a *SemanticAnalyser) visitThrow(stmt *ThrowStmt) error {
	if err := a.visitExpr(stmt.Error); err != nil {
		return err
	}

	isException := a.currentExpr.IsStruct() &&
		a.currentExpr.TypeNameSpace == vm.DefaultNameSpace &&
		a.currentExpr.TypeName == vm.StructException
	if !isException && !a.currentExpr.IsString() {
		return a.fail(stmt, "expected %s or string in throw",
			vm.QualifiedTypeName(vm.DefaultNameSpace, vm.StructException))
	}
	return nil
}

// ---------------------------------------------------------------------------
// Struct and class definitions
// ---------------------------------------------------------------------------

func (a *SemanticAnalyser) visitStructDefinition(stmt *StructDefinitionStmt) error {
	module := a.currentModule()
	scope := a.BackScope(module.NameSpace)

	if scope.AlreadyDeclaredStruct(stmt.Identifier) {
		return a.fail(stmt, "struct '%s' already defined", stmt.Identifier)
	}

	def := vm.NewStructDef(stmt.Identifier)
	for _, field := range stmt.Variables {
		dim, err := a.evaluateDimensionVector(field.ExprDim)
		if err != nil {
			return err
		}
		if len(field.Dim) == 0 {
			field.Dim = dim
		}
		def.DeclareField(&vm.VarDef{
			TypeDef:    field.TypeDef(),
			Identifier: field.Identifier,
			Default:    exprAsAny(field.Default),
		})
	}
	scope.DeclareStruct(def)

	for _, field := range stmt.Variables {
		if err := a.determineObjectType(&field.TypeInfo); err != nil {
			return a.wrap(stmt, err)
		}
	}
	return nil
}

func (a *SemanticAnalyser) visitClassDefinition(stmt *ClassDefinitionStmt) error {
	module := a.currentModule()
	scope := a.BackScope(module.NameSpace)

	if scope.AlreadyDeclaredClass(stmt.Identifier) {
		return a.fail(stmt, "class '%s' already defined", stmt.Identifier)
	}

	def := vm.NewClassDef(stmt.Identifier)
	def.Decls = stmt.Declarations
	def.Funcs = stmt.Functions
	scope.DeclareClass(def)

	// The constructor pass sees the full class surface first, so init bodies
	// may use any field or method.
	for _, ctor := range stmt.Functions {
		if ctor.Identifier != "init" {
			continue
		}
		if returns(ctor.Block) || ctor.Type != vm.TypeVoid {
			return a.fail(stmt, "constructors cannot have return")
		}

		if err := a.withClassScope(module, stmt.Identifier, func() error {
			for _, decl := range stmt.Declarations {
				if err := a.visitDeclaration(decl); err != nil {
					return err
				}
			}
			for _, fn := range stmt.Functions {
				if fn.Identifier != "init" {
					if err := a.visitFunctionDefinition(fn); err != nil {
						return err
					}
				}
			}
			return a.visitFunctionDefinition(ctor)
		}); err != nil {
			return err
		}
	}

	// Full pass: fields and methods; init participates as a forward
	// declaration only.
	return a.withClassScope(module, stmt.Identifier, func() error {
		for _, decl := range stmt.Declarations {
			if err := a.visitDeclaration(decl); err != nil {
				return err
			}
		}
		for _, fn := range stmt.Functions {
			if fn.Identifier == "init" {
				forward := *fn
				forward.Block = nil
				if err := a.visitFunctionDefinition(&forward); err != nil {
					return err
				}
			} else {
				if err := a.visitFunctionDefinition(fn); err != nil {
					return err
				}
			}
		}
		return nil
	})
}

func (a *SemanticAnalyser) withClassScope(module *Module, className string, body func() error) error {
	a.PushScope(vm.NewScope(module.NameSpace, className))
	a.classStack = append(a.classStack, a.BackScope(module.NameSpace))
	err := body()
	a.classStack = a.classStack[:len(a.classStack)-1]
	a.PopScope(module.NameSpace, className)
	return err
}
