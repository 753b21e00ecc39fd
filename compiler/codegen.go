package compiler

import (
	"github.com/chazu/merlin/vm"
)

// ---------------------------------------------------------------------------
// Bytecode generation
// ---------------------------------------------------------------------------

// opForBinary maps operator spellings to opcodes.
var opForBinary = map[string]vm.OpCode{
	"or": vm.OpOr, "and": vm.OpAnd,
	"|": vm.OpBitOr, "^": vm.OpBitXor, "&": vm.OpBitAnd,
	"==": vm.OpEql, "!=": vm.OpDif,
	"<": vm.OpLt, "<=": vm.OpLte, ">": vm.OpGt, ">=": vm.OpGte,
	"<=>": vm.OpSpaceship,
	"<<":  vm.OpLeftShift, ">>": vm.OpRightShift,
	"+": vm.OpAdd, "-": vm.OpSub, "*": vm.OpMul, "/": vm.OpDiv,
	"%": vm.OpRemainder, "/%": vm.OpFloorDiv, "**": vm.OpExp,
	"in": vm.OpIn,
	"=":  vm.OpAssign,
	"+=": vm.OpAddAssign, "-=": vm.OpSubAssign, "*=": vm.OpMulAssign,
	"/=": vm.OpDivAssign, "%=": vm.OpRemainderAssign, "/%=": vm.OpFloorDivAssign,
	"**=": vm.OpExpAssign,
	"|=":  vm.OpBitOrAssign, "^=": vm.OpBitXorAssign, "&=": vm.OpBitAndAssign,
	"<<=": vm.OpLeftShiftAssign, ">>=": vm.OpRightShiftAssign,
}

var opForUnary = map[string]vm.OpCode{
	"-":   vm.OpUnarySub,
	"not": vm.OpNot,
	"~":   vm.OpBitNot,
	"++":  vm.OpInc,
	"--":  vm.OpDec,
}

type thisName struct {
	kind string
	name string
}

// Compiler lowers analysed modules into a flat instruction list with a
// PC-indexed debug table. Forward jumps are emitted with a placeholder
// operand and patched when the target is known; loops keep stacks of
// continue and break sites resolved when the loop closes.
type Compiler struct {
	modules     map[string]*Module
	mainModule  *Module
	moduleStack []*Module

	program []vm.Instruction
	debug   *vm.DebugTable

	debugStack []vm.DebugInfo

	startPointers [][]int
	endPointers   [][]int
	ifEndPointers [][]int

	thisNames  []thisName
	parsedLibs map[string]bool

	singleExpression bool
}

// NewCompiler prepares code generation for the analysed module set.
func NewCompiler(mainModule *Module, modules map[string]*Module) *Compiler {
	if modules == nil {
		modules = make(map[string]*Module)
	}
	c := &Compiler{
		modules:     modules,
		mainModule:  mainModule,
		moduleStack: []*Module{mainModule},
		debug:       vm.NewDebugTable(),
		parsedLibs:  make(map[string]bool),
	}
	c.debug.AddNameSpace(vm.DefaultNameSpace)
	return c
}

// Compile emits the program. A program that is a single expression leaves
// its value as the result; otherwise the implicit exit code 0 is pushed
// before Halt.
func (c *Compiler) Compile() ([]vm.Instruction, *vm.DebugTable, error) {
	if err := c.compileModule(c.currentModule()); err != nil {
		return nil, nil, err
	}

	if !c.singleExpression {
		c.emit(vm.OpPushInt, vm.IntOperand(0))
	}
	c.emit(vm.OpHalt, vm.EmptyOperand)

	return c.program, c.debug, nil
}

func (c *Compiler) currentModule() *Module {
	return c.moduleStack[len(c.moduleStack)-1]
}

// ---------------------------------------------------------------------------
// Emission and patching
// ---------------------------------------------------------------------------

// pc returns the next instruction's address.
func (c *Compiler) pc() int {
	return len(c.program)
}

// emit appends one instruction, records its debug info, and returns its PC.
func (c *Compiler) emit(op vm.OpCode, operand vm.Operand) int {
	c.setDebugInfo()
	pos := len(c.program)
	c.program = append(c.program, vm.Instruction{Op: op, Operand: operand})
	return pos
}

// replaceOperand patches a previously emitted instruction in place.
func (c *Compiler) replaceOperand(pos int, operand vm.Operand) {
	c.program[pos].Operand = operand
}

func (c *Compiler) setDebugInfo() {
	module := c.currentModule()
	if len(c.debugStack) == 0 {
		c.debug.Set(c.pc(), vm.DebugInfo{
			ModuleNameSpace: module.NameSpace,
			ModuleName:      module.Name,
			ASTKind:         "<program>",
		})
		return
	}
	c.debug.Set(c.pc(), c.debugStack[len(c.debugStack)-1])
}

// pushDebug frames emission with a node's source location.
func (c *Compiler) pushDebug(n Node) {
	module := c.currentModule()
	row, col := n.Pos()
	info := vm.DebugInfo{
		ModuleNameSpace: module.NameSpace,
		ModuleName:      module.Name,
		ASTKind:         nodeKind(n),
		Row:             row,
		Col:             col,
	}
	if call, ok := n.(*FunctionCallExpr); ok {
		info.ASTKind = "<statement>"
		info.AccessNameSpace = call.AccessNameSpace
		info.Identifier = call.Identifier()
	}
	c.debugStack = append(c.debugStack, info)
}

func (c *Compiler) popDebug() {
	c.debugStack = c.debugStack[:len(c.debugStack)-1]
}

func (c *Compiler) openStartPointers()  { c.startPointers = append(c.startPointers, nil) }
func (c *Compiler) openEndPointers()    { c.endPointers = append(c.endPointers, nil) }
func (c *Compiler) openIfEndPointers()  { c.ifEndPointers = append(c.ifEndPointers, nil) }

func (c *Compiler) closeStartPointers(target int) {
	for _, p := range c.startPointers[len(c.startPointers)-1] {
		c.replaceOperand(p, vm.SizeOperand(target))
	}
	c.startPointers = c.startPointers[:len(c.startPointers)-1]
}

func (c *Compiler) closeEndPointers() {
	for _, p := range c.endPointers[len(c.endPointers)-1] {
		c.replaceOperand(p, vm.SizeOperand(c.pc()))
	}
	c.endPointers = c.endPointers[:len(c.endPointers)-1]
}

func (c *Compiler) closeIfEndPointers() {
	for _, p := range c.ifEndPointers[len(c.ifEndPointers)-1] {
		c.replaceOperand(p, vm.SizeOperand(c.pc()))
	}
	c.ifEndPointers = c.ifEndPointers[:len(c.ifEndPointers)-1]
}

func (c *Compiler) emitPushScope() {
	module := c.currentModule()
	c.emit(vm.OpPushScope, vm.VectorOperand(
		vm.StringOperand(module.NameSpace),
		vm.StringOperand(module.Name),
	))
}

func (c *Compiler) emitPopScope() {
	module := c.currentModule()
	c.emit(vm.OpPopScope, vm.VectorOperand(
		vm.StringOperand(module.NameSpace),
		vm.StringOperand(module.Name),
	))
}

// ---------------------------------------------------------------------------
// Modules
// ---------------------------------------------------------------------------

func (c *Compiler) compileModule(module *Module) error {
	c.thisNames = append(c.thisNames, thisName{kind: "module", name: module.Name})
	defer func() { c.thisNames = c.thisNames[:len(c.thisNames)-1] }()

	c.debug.AddModule(module.Name)
	c.debug.AddNameSpace(module.NameSpace)

	if len(module.Statements) == 1 {
		if es, ok := module.Statements[0].(*ExprStmt); ok {
			c.singleExpression = true
			c.pushDebug(es)
			err := c.compileExpr(es.Expr)
			c.popDebug()
			return err
		}
	}

	for _, stmt := range module.Statements {
		if err := c.compileStmt(stmt); err != nil {
			return err
		}
	}
	return nil
}

func (c *Compiler) compileUsing(stmt *UsingStmt) error {
	libname := joinDots(stmt.Library)

	module, known := c.modules[libname]

	if vm.IsCoreLib(libname) {
		c.emit(vm.OpBuiltinLib, vm.StringOperand(libname))
		if !known {
			return nil
		}
	} else if !known {
		return vm.Errorf("lib '%s' not found", libname)
	}

	c.debug.AddModule(module.Name)
	c.debug.AddNameSpace(module.NameSpace)

	if c.parsedLibs[libname] {
		return nil
	}
	c.parsedLibs[libname] = true

	c.moduleStack = append(c.moduleStack, module)
	defer func() { c.moduleStack = c.moduleStack[:len(c.moduleStack)-1] }()

	c.emitPushScope()
	c.emitInclude(module.Name, vm.DefaultNameSpace)
	c.emitInclude(module.Name, module.NameSpace)

	return c.compileModule(module)
}

func (c *Compiler) emitInclude(module, nameSpace string) {
	c.emit(vm.OpIncludeNamespace, vm.VectorOperand(
		vm.StringOperand(module),
		vm.StringOperand(nameSpace),
	))
}

// ---------------------------------------------------------------------------
// Statements
// ---------------------------------------------------------------------------

func (c *Compiler) compileStmt(stmt Stmt) error {
	c.pushDebug(stmt)
	defer c.popDebug()

	switch s := stmt.(type) {
	case *UsingStmt:
		return c.compileUsing(s)
	case *IncludeNamespaceStmt:
		c.emitInclude(c.currentModule().Name, s.NameSpace)
	case *ExcludeNamespaceStmt:
		c.emit(vm.OpExcludeNamespace, vm.VectorOperand(
			vm.StringOperand(c.currentModule().Name),
			vm.StringOperand(s.NameSpace),
		))
	case *EnumStmt:
		for i, identifier := range s.Identifiers {
			c.emit(vm.OpPushInt, vm.IntOperand(int64(i)))
			c.typeDefinitionOps(&TypeInfo{Type: vm.TypeInt})
			c.emitStoreVar(identifier)
		}
	case *DeclarationStmt:
		return c.compileDeclaration(s)
	case *UnpackedDeclarationStmt:
		for _, decl := range s.Declarations {
			if err := c.compileDeclaration(decl); err != nil {
				return err
			}
		}
	case *ReturnStmt:
		if s.Expr != nil {
			if err := c.compileExpr(s.Expr); err != nil {
				return err
			}
		} else {
			c.emit(vm.OpPushUndefined, vm.EmptyOperand)
		}
		c.emit(vm.OpReturn, vm.EmptyOperand)
	case *BlockStmt:
		return c.compileBlock(s)
	case *ExitStmt:
		if err := c.compileExpr(s.ExitCode); err != nil {
			return err
		}
		c.emit(vm.OpHalt, vm.EmptyOperand)
	case *ContinueStmt:
		c.emit(vm.OpUnwind, vm.EmptyOperand)
		n := len(c.startPointers) - 1
		c.startPointers[n] = append(c.startPointers[n], c.emit(vm.OpJump, vm.SizeOperand(0)))
	case *BreakStmt:
		c.emit(vm.OpUnwind, vm.EmptyOperand)
		n := len(c.endPointers) - 1
		c.endPointers[n] = append(c.endPointers[n], c.emit(vm.OpJump, vm.SizeOperand(0)))
	case *SwitchStmt:
		return c.compileSwitch(s)
	case *IfStmt:
		return c.compileIf(s)
	case *ElseIfStmt:
		return c.compileElseIf(s)
	case *TryCatchStmt:
		return c.compileTryCatch(s)
	case *ThrowStmt:
		if err := c.compileExpr(s.Error); err != nil {
			return err
		}
		c.emit(vm.OpThrow, vm.EmptyOperand)
	case *EllipsisStmt:
		// no code
	case *ForStmt:
		return c.compileFor(s)
	case *ForEachStmt:
		return c.compileForEach(s)
	case *WhileStmt:
		return c.compileWhile(s)
	case *DoWhileStmt:
		return c.compileDoWhile(s)
	case *StructDefinitionStmt:
		return c.compileStructDefinition(s)
	case *FunctionDefinitionStmt:
		return c.compileFunctionDefinition(s)
	case *ClassDefinitionStmt:
		return c.compileClassDefinition(s)
	case *ExprStmt:
		if err := c.compileExpr(s.Expr); err != nil {
			return err
		}
		c.emit(vm.OpPopConstant, vm.EmptyOperand)
	default:
		return vm.Errorf("cannot compile statement")
	}
	return nil
}

func (c *Compiler) compileBlock(block *BlockStmt) error {
	c.emitPushScope()
	for _, stmt := range block.Statements {
		if err := c.compileStmt(stmt); err != nil {
			return err
		}
	}
	c.emitPopScope()
	return nil
}

func (c *Compiler) compileDeclaration(stmt *DeclarationStmt) error {
	if stmt.Expr != nil {
		if err := c.compileExpr(stmt.Expr); err != nil {
			return err
		}
	} else {
		c.emit(vm.OpPushUndefined, vm.EmptyOperand)
	}

	if !stmt.isStaticDim {
		c.emit(vm.OpSetCheckBuildArr, vm.EmptyOperand)
	}

	c.typeDefinitionOps(&stmt.TypeInfo)
	c.emitStoreVar(stmt.Identifier)
	return nil
}

func (c *Compiler) emitStoreVar(identifier string) {
	c.emit(vm.OpStoreVar, vm.VectorOperand(
		vm.StringOperand(c.currentModule().NameSpace),
		vm.StringOperand(identifier),
	))
}

// typeDefinitionOps pushes the declared type for the next consuming
// instruction, emitting array-shape pushes first.
func (c *Compiler) typeDefinitionOps(t *TypeInfo) {
	if len(t.Dim) > 0 {
		for _, d := range t.Dim {
			c.emit(vm.OpPushInt, vm.IntOperand(d))
			c.emit(vm.OpSetArraySize, vm.EmptyOperand)
		}
	} else if len(t.ExprDim) > 0 {
		for _, e := range t.ExprDim {
			if e != nil {
				if err := c.compileExpr(e); err != nil {
					c.emit(vm.OpError, vm.EmptyOperand)
				}
			} else {
				c.emit(vm.OpPushInt, vm.IntOperand(0))
			}
			c.emit(vm.OpSetArraySize, vm.EmptyOperand)
		}
	}

	c.emit(vm.OpPushTypeDef, vm.VectorOperand(
		vm.Uint8Operand(uint8(t.Type)),
		vm.StringOperand(t.TypeNameSpace),
		vm.StringOperand(t.TypeName),
	))
}

// ---------------------------------------------------------------------------
// Control flow
// ---------------------------------------------------------------------------

func (c *Compiler) compileIf(stmt *IfStmt) error {
	c.openIfEndPointers()

	if err := c.compileExpr(stmt.Condition); err != nil {
		return err
	}
	ip := c.emit(vm.OpJumpIfFalse, vm.SizeOperand(0))

	if err := c.compileBlock(stmt.IfBlock); err != nil {
		return err
	}
	n := len(c.ifEndPointers) - 1
	c.ifEndPointers[n] = append(c.ifEndPointers[n], c.emit(vm.OpJump, vm.SizeOperand(0)))

	c.replaceOperand(ip, vm.SizeOperand(c.pc()))

	for _, elif := range stmt.ElseIfs {
		if err := c.compileElseIf(elif); err != nil {
			return err
		}
	}
	if stmt.ElseBlock != nil {
		if err := c.compileBlock(stmt.ElseBlock); err != nil {
			return err
		}
	}

	c.closeIfEndPointers()
	return nil
}

func (c *Compiler) compileElseIf(stmt *ElseIfStmt) error {
	if err := c.compileExpr(stmt.Condition); err != nil {
		return err
	}
	ip := c.emit(vm.OpJumpIfFalse, vm.SizeOperand(0))

	if err := c.compileBlock(stmt.Block); err != nil {
		return err
	}
	n := len(c.ifEndPointers) - 1
	c.ifEndPointers[n] = append(c.ifEndPointers[n], c.emit(vm.OpJump, vm.SizeOperand(0)))

	c.replaceOperand(ip, vm.SizeOperand(c.pc()))
	return nil
}

// compileSwitch duplicates the condition per case, compares against the
// analysed constant, and jumps into the flat body. Fall-through is implicit:
// case blocks run until a break jumps to the end.
func (c *Compiler) compileSwitch(stmt *SwitchStmt) error {
	c.emitPushScope()
	c.openEndPointers()
	c.emit(vm.OpPushDeep, vm.EmptyOperand)

	if err := c.compileExpr(stmt.Condition); err != nil {
		return err
	}

	jumpSites := make(map[int][]int)
	for _, pc := range stmt.parsedCases {
		c.emit(vm.OpDupConstant, vm.EmptyOperand)
		c.emitConstant(pc.value)
		c.emit(vm.OpEql, vm.EmptyOperand)
		jumpSites[pc.block] = append(jumpSites[pc.block], c.emit(vm.OpJumpIfTrue, vm.SizeOperand(0)))
	}

	if stmt.DefaultBlock < len(stmt.Statements) {
		jumpSites[stmt.DefaultBlock] = append(jumpSites[stmt.DefaultBlock], c.emit(vm.OpJump, vm.SizeOperand(0)))
	}

	n := len(c.endPointers) - 1
	c.endPointers[n] = append(c.endPointers[n], c.emit(vm.OpJump, vm.SizeOperand(0)))

	for i, s := range stmt.Statements {
		for _, site := range jumpSites[i] {
			c.replaceOperand(site, vm.SizeOperand(c.pc()))
		}
		if err := c.compileStmt(s); err != nil {
			return err
		}
	}

	c.closeEndPointers()
	c.emit(vm.OpPopDeep, vm.EmptyOperand)
	c.emitPopScope()
	return nil
}

// emitConstant pushes an analysed constant value.
func (c *Compiler) emitConstant(v *vm.Value) {
	switch v.Type {
	case vm.TypeBool:
		c.emit(vm.OpPushBool, vm.BoolOperand(v.B))
	case vm.TypeInt:
		c.emit(vm.OpPushInt, vm.IntOperand(v.I))
	case vm.TypeFloat:
		c.emit(vm.OpPushFloat, vm.FloatOperand(v.F))
	case vm.TypeChar:
		c.emit(vm.OpPushChar, vm.CharOperand(v.C))
	case vm.TypeString:
		c.emit(vm.OpPushString, vm.StringOperand(v.S))
	default:
		c.emit(vm.OpPushVoid, vm.EmptyOperand)
	}
}

func (c *Compiler) compileFor(stmt *ForStmt) error {
	c.emitPushScope()
	c.openEndPointers()
	c.openStartPointers()
	c.emit(vm.OpPushDeep, vm.EmptyOperand)

	if stmt.Init != nil {
		if err := c.compileStmt(stmt.Init); err != nil {
			return err
		}
	}

	start := c.pc()
	if stmt.Cond != nil {
		if err := c.compileExpr(stmt.Cond); err != nil {
			return err
		}
	} else {
		c.emit(vm.OpPushBool, vm.BoolOperand(true))
	}
	ip := c.emit(vm.OpJumpIfFalse, vm.SizeOperand(0))

	if err := c.compileBlock(stmt.Block); err != nil {
		return err
	}

	continueStart := c.pc()
	if stmt.Step != nil {
		if err := c.compileStmt(stmt.Step); err != nil {
			return err
		}
	}

	c.emit(vm.OpJump, vm.SizeOperand(start))
	c.replaceOperand(ip, vm.SizeOperand(c.pc()))

	c.closeStartPointers(continueStart)
	c.closeEndPointers()

	c.emit(vm.OpPopDeep, vm.EmptyOperand)
	c.emitPopScope()
	return nil
}

func (c *Compiler) compileWhile(stmt *WhileStmt) error {
	c.openEndPointers()
	c.openStartPointers()
	c.emit(vm.OpPushDeep, vm.EmptyOperand)

	start := c.pc()
	if err := c.compileExpr(stmt.Condition); err != nil {
		return err
	}
	ip := c.emit(vm.OpJumpIfFalse, vm.SizeOperand(0))

	if err := c.compileBlock(stmt.Block); err != nil {
		return err
	}

	c.emit(vm.OpJump, vm.SizeOperand(start))
	c.replaceOperand(ip, vm.SizeOperand(c.pc()))

	c.closeEndPointers()
	c.closeStartPointers(start)
	c.emit(vm.OpPopDeep, vm.EmptyOperand)
	return nil
}

func (c *Compiler) compileDoWhile(stmt *DoWhileStmt) error {
	c.openEndPointers()
	c.openStartPointers()
	c.emit(vm.OpPushDeep, vm.EmptyOperand)

	start := c.pc()
	if err := c.compileBlock(stmt.Block); err != nil {
		return err
	}

	continueStart := c.pc()
	if err := c.compileExpr(stmt.Condition); err != nil {
		return err
	}
	c.emit(vm.OpJumpIfTrue, vm.SizeOperand(start))

	c.closeEndPointers()
	c.closeStartPointers(continueStart)
	c.emit(vm.OpPopDeep, vm.EmptyOperand)
	return nil
}

func (c *Compiler) compileForEach(stmt *ForEachStmt) error {
	c.emitPushScope()
	c.openEndPointers()
	c.openStartPointers()
	c.emit(vm.OpPushDeep, vm.EmptyOperand)

	if err := c.compileExpr(stmt.Collection); err != nil {
		return err
	}
	c.emit(vm.OpGetIterator, vm.EmptyOperand)

	start := c.pc()
	c.emit(vm.OpHasNextElement, vm.EmptyOperand)
	ip := c.emit(vm.OpJumpIfFalse, vm.SizeOperand(0))

	switch decl := stmt.ItDecl.(type) {
	case *UnpackedDeclarationStmt:
		c.emit(vm.OpNextElement, vm.EmptyOperand)
		for _, d := range decl.Declarations {
			d.Expr = &InstructionExpr{
				Position: d.Position,
				Op:       vm.OpPushValueFromStruct,
				Operand:  vm.StringOperand(d.Identifier),
			}
			if err := c.compileDeclaration(d); err != nil {
				return err
			}
			d.Expr = nil
		}
		c.emit(vm.OpPopConstant, vm.EmptyOperand)

	case *IdentifierExpr:
		c.emit(vm.OpPushVarRef, vm.BoolOperand(true))
		if err := c.compileIdentifier(decl); err != nil {
			return err
		}
		c.emit(vm.OpPopVarRef, vm.EmptyOperand)
		c.emit(vm.OpNextElement, vm.EmptyOperand)
		c.emit(vm.OpAssign, vm.EmptyOperand)

	case *DeclarationStmt:
		c.emit(vm.OpNextElement, vm.EmptyOperand)
		decl.Expr = &InstructionExpr{Position: decl.Position, Op: vm.OpSkip}
		if err := c.compileDeclaration(decl); err != nil {
			return err
		}
		decl.Expr = nil

	default:
		return vm.Errorf("expected declaration or identifier in foreach")
	}

	if err := c.compileBlock(stmt.Block); err != nil {
		return err
	}

	c.emit(vm.OpJump, vm.SizeOperand(start))
	c.closeStartPointers(start)

	c.replaceOperand(ip, vm.SizeOperand(c.pc()))
	c.closeEndPointers()

	c.emit(vm.OpPopDeep, vm.EmptyOperand)
	c.emitPopScope()
	return nil
}

// ---------------------------------------------------------------------------
// Exceptions
// ---------------------------------------------------------------------------

func (c *Compiler) compileTryCatch(stmt *TryCatchStmt) error {
	module := c.currentModule()

	tryIP := c.emit(vm.OpTry, vm.SizeOperand(0))
	c.emit(vm.OpPushDeep, vm.EmptyOperand)

	if err := c.compileBlock(stmt.TryBlock); err != nil {
		return err
	}

	c.emit(vm.OpTryEnd, vm.EmptyOperand)
	ip := c.emit(vm.OpJump, vm.SizeOperand(0))

	c.replaceOperand(tryIP, vm.SizeOperand(c.pc()))
	c.emit(vm.OpPopDeep, vm.EmptyOperand)

	c.emitPushScope()

	switch decl := stmt.Decl.(type) {
	case *UnpackedDeclarationStmt:
		c.emit(vm.OpPushErrorDesc, vm.EmptyOperand)
		c.typeDefinitionOps(&decl.Declarations[0].TypeInfo)
		c.emitStoreVar(decl.Declarations[0].Identifier)

		c.emit(vm.OpPushErrorCode, vm.EmptyOperand)
		c.typeDefinitionOps(&decl.Declarations[1].TypeInfo)
		c.emitStoreVar(decl.Declarations[1].Identifier)

	case *DeclarationStmt:
		c.emit(vm.OpInitStruct, vm.VectorOperand(
			vm.StringOperand(module.NameSpace),
			vm.StringOperand(module.Name),
			vm.StringOperand(vm.DefaultNameSpace),
			vm.StringOperand(vm.StructException),
		))

		c.emit(vm.OpPushErrorCode, vm.EmptyOperand)
		c.emitSetField(vm.FieldCode)

		c.emit(vm.OpPushErrorDesc, vm.EmptyOperand)
		c.emitSetField(vm.FieldError)

		c.emit(vm.OpPushStruct, vm.EmptyOperand)

		c.typeDefinitionOps(&decl.TypeInfo)
		c.emitStoreVar(decl.Identifier)
	}

	c.emit(vm.OpPopError, vm.EmptyOperand)

	if err := c.compileBlock(stmt.CatchBlock); err != nil {
		return err
	}

	c.emitPopScope()

	endIP := c.emit(vm.OpJump, vm.SizeOperand(0))

	// The no-error path resumes here.
	c.replaceOperand(ip, vm.SizeOperand(c.pc()))
	c.emit(vm.OpPopDeep, vm.EmptyOperand)

	c.replaceOperand(endIP, vm.SizeOperand(c.pc()))
	return nil
}

func (c *Compiler) emitSetField(name string) {
	module := c.currentModule()
	c.emit(vm.OpSetField, vm.VectorOperand(
		vm.StringOperand(module.NameSpace),
		vm.StringOperand(module.Name),
		vm.StringOperand(name),
	))
}

// ---------------------------------------------------------------------------
// Definitions
// ---------------------------------------------------------------------------

func (c *Compiler) compileStructDefinition(stmt *StructDefinitionStmt) error {
	c.emit(vm.OpStructStart, vm.StringOperand(stmt.Identifier))

	for _, field := range stmt.Variables {
		if err := c.declareVariableDefinition(field); err != nil {
			return err
		}
		c.emit(vm.OpStructSetVar, vm.StringOperand(field.Identifier))
	}

	c.emit(vm.OpStructEnd, vm.StringOperand(c.currentModule().NameSpace))
	return nil
}

func (c *Compiler) compileClassDefinition(stmt *ClassDefinitionStmt) error {
	module := c.currentModule()
	c.thisNames = append(c.thisNames, thisName{kind: "class", name: stmt.Identifier})
	defer func() { c.thisNames = c.thisNames[:len(c.thisNames)-1] }()

	c.emit(vm.OpClassStart, vm.VectorOperand(
		vm.StringOperand(module.NameSpace),
		vm.StringOperand(module.Name),
		vm.StringOperand(stmt.Identifier),
	))

	for _, decl := range stmt.Declarations {
		field := &VarDecl{
			Position:   decl.Position,
			TypeInfo:   decl.TypeInfo,
			Identifier: decl.Identifier,
			Default:    decl.Expr,
		}
		if err := c.declareVariableDefinition(field); err != nil {
			return err
		}
		c.emit(vm.OpClassSetVar, vm.StringOperand(decl.Identifier))
	}

	for _, fn := range stmt.Functions {
		if err := c.compileFunctionDefinition(fn); err != nil {
			return err
		}
	}

	c.emit(vm.OpClassEnd, vm.VectorOperand(
		vm.StringOperand(module.NameSpace),
		vm.StringOperand(module.Name),
	))
	return nil
}

func (c *Compiler) compileFunctionDefinition(stmt *FunctionDefinitionStmt) error {
	module := c.currentModule()
	c.thisNames = append(c.thisNames, thisName{kind: "function", name: stmt.Identifier})
	defer func() { c.thisNames = c.thisNames[:len(c.thisNames)-1] }()

	c.typeDefinitionOps(&stmt.TypeInfo)
	c.emit(vm.OpFunStart, vm.StringOperand(stmt.Identifier))

	for _, p := range stmt.Params {
		switch decl := p.(type) {
		case *VarDecl:
			if err := c.declareVariableDefinition(decl); err != nil {
				return err
			}
			c.emit(vm.OpFunSetParam, vm.VectorOperand(
				vm.BoolOperand(decl.IsRest),
				vm.StringOperand(decl.Identifier),
			))
		case *UnpackDecl:
			c.typeDefinitionOps(&decl.TypeInfo)
			c.emit(vm.OpFunStartUnpackParam, vm.EmptyOperand)
			for _, sub := range decl.Variables {
				if err := c.declareVariableDefinition(sub); err != nil {
					return err
				}
				c.emit(vm.OpFunSetSubParam, vm.VectorOperand(
					vm.BoolOperand(sub.IsRest),
					vm.StringOperand(sub.Identifier),
				))
			}
			c.emit(vm.OpFunSetUnpackParam, vm.EmptyOperand)
		}
	}

	c.emit(vm.OpFunEnd, vm.VectorOperand(
		vm.StringOperand(module.NameSpace),
		vm.StringOperand(module.Name),
		vm.BoolOperand(stmt.Block != nil),
	))

	if stmt.Block != nil {
		// Top-level execution skips the body; calls enter at the recorded PC.
		endJump := c.emit(vm.OpJump, vm.SizeOperand(0))

		if err := c.compileBlock(stmt.Block); err != nil {
			return err
		}

		// Paths that fall off the end still return.
		c.emit(vm.OpPushUndefined, vm.EmptyOperand)
		c.emit(vm.OpReturn, vm.EmptyOperand)

		c.replaceOperand(endJump, vm.SizeOperand(c.pc()))
	}
	return nil
}

// declareVariableDefinition compiles a slot's default-value snippet (entered
// by the VM at bind time, terminated by Trap) and pushes its declared type.
func (c *Compiler) declareVariableDefinition(decl *VarDecl) error {
	if decl.Default != nil {
		jump := c.emit(vm.OpJump, vm.SizeOperand(0))
		startDef := c.pc()
		if err := c.compileExpr(decl.Default); err != nil {
			return err
		}
		c.emit(vm.OpTrap, vm.EmptyOperand)
		c.replaceOperand(jump, vm.SizeOperand(c.pc()))
		c.emit(vm.OpSetDefaultValue, vm.SizeOperand(startDef))
	}
	c.typeDefinitionOps(&decl.TypeInfo)
	return nil
}
