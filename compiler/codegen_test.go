package compiler

import (
	"testing"

	"github.com/chazu/merlin/vm"
)

// compile runs the full pipeline and returns the program.
func compile(t *testing.T, module *Module) ([]vm.Instruction, *vm.DebugTable) {
	t.Helper()
	ins, debug, err := Build(module, nil, nil)
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	return ins, debug
}

func countOp(ins []vm.Instruction, op vm.OpCode) int {
	n := 0
	for _, i := range ins {
		if i.Op == op {
			n++
		}
	}
	return n
}

func findOp(ins []vm.Instruction, op vm.OpCode) int {
	for pc, i := range ins {
		if i.Op == op {
			return pc
		}
	}
	return -1
}

func TestCompileProgramTail(t *testing.T) {
	ins, _ := compile(t, mainModule(
		&DeclarationStmt{TypeInfo: intType(), Identifier: "x", Expr: num(1)},
	))
	last := ins[len(ins)-1]
	if last.Op != vm.OpHalt {
		t.Errorf("program must end with HALT, got %s", last.Op)
	}
	if ins[len(ins)-2].Op != vm.OpPushInt || ins[len(ins)-2].Operand.Int() != 0 {
		t.Error("a statement program pushes exit code 0 before HALT")
	}
}

func TestCompileSingleExpressionProgram(t *testing.T) {
	ins, _ := compile(t, mainModule(
		exprStmt(&BinaryExpr{Op: "+", Left: num(2), Right: num(3)}),
	))
	// a single-expression program leaves the value as the result
	if countOp(ins, vm.OpPopConstant) != 0 {
		t.Error("single-expression program should keep its value")
	}
	for _, i := range ins {
		if i.Op == vm.OpPushInt && i.Operand.Int() == 0 {
			t.Error("single-expression program should not push exit code 0")
		}
	}
}

func TestCompileIfJumpPatched(t *testing.T) {
	ins, _ := compile(t, mainModule(
		&IfStmt{
			Condition: boolean(true),
			IfBlock:   block(exprStmt(call("print", num(1)))),
			ElseBlock: block(exprStmt(call("print", num(2)))),
		},
	))

	pc := findOp(ins, vm.OpJumpIfFalse)
	if pc < 0 {
		t.Fatal("if should compile to a conditional jump")
	}
	target := ins[pc].Operand.Size()
	if target <= pc || target > len(ins) {
		t.Errorf("conditional jump target %d not patched forward of %d", target, pc)
	}
	// the if-block's trailing jump skips the else block
	if countOp(ins, vm.OpJump) == 0 {
		t.Error("if with else needs an unconditional jump over the else block")
	}
}

func TestCompileFunctionLowering(t *testing.T) {
	ins, _ := compile(t, mainModule(
		&FunctionDefinitionStmt{
			TypeInfo:   intType(),
			Identifier: "f",
			Params:     []ParamDecl{&VarDecl{TypeInfo: intType(), Identifier: "a"}},
			Block:      block(&ReturnStmt{Expr: ident("a")}),
		},
		exprStmt(call("print", call("f", num(1)))),
	))

	funStart := findOp(ins, vm.OpFunStart)
	funEnd := findOp(ins, vm.OpFunEnd)
	if funStart < 0 || funEnd < funStart {
		t.Fatal("function body must be bracketed by FUN_START .. FUN_END")
	}
	if ins[funEnd+1].Op != vm.OpJump {
		t.Error("top-level execution must jump over the function body")
	}
	target := ins[funEnd+1].Operand.Size()
	if ins[target-2].Op != vm.OpPushUndefined || ins[target-1].Op != vm.OpReturn {
		t.Error("an implicit undefined return must close the body")
	}
}

func TestCompileDefaultValueSnippet(t *testing.T) {
	ins, _ := compile(t, mainModule(
		&FunctionDefinitionStmt{
			TypeInfo:   intType(),
			Identifier: "f",
			Params: []ParamDecl{
				&VarDecl{TypeInfo: intType(), Identifier: "a", Default: num(5)},
			},
			Block: block(&ReturnStmt{Expr: ident("a")}),
		},
	))

	trap := findOp(ins, vm.OpTrap)
	if trap < 0 {
		t.Fatal("default value snippet must end with TRAP")
	}
	setDefault := findOp(ins, vm.OpSetDefaultValue)
	if setDefault < 0 {
		t.Fatal("SET_DEFAULT_VALUE missing")
	}
	snippetPC := ins[setDefault].Operand.Size()
	if snippetPC <= 0 || snippetPC > trap {
		t.Errorf("snippet PC %d should point before the TRAP at %d", snippetPC, trap)
	}
}

func TestCompileLoopMarkers(t *testing.T) {
	ins, _ := compile(t, mainModule(
		&WhileStmt{
			Condition: boolean(false),
			Block:     block(&BreakStmt{}),
		},
	))

	if countOp(ins, vm.OpPushDeep) != 1 || countOp(ins, vm.OpPopDeep) != 1 {
		t.Error("loops must bracket their body with deep markers")
	}
	unwind := findOp(ins, vm.OpUnwind)
	if unwind < 0 || ins[unwind+1].Op != vm.OpJump {
		t.Fatal("break lowers to UNWIND followed by a jump")
	}
	target := ins[unwind+1].Operand.Size()
	popDeep := findOp(ins, vm.OpPopDeep)
	if target != popDeep {
		t.Errorf("break jump target %d, want the loop end at %d", target, popDeep)
	}
}

func TestCompileSwitchLowering(t *testing.T) {
	ins, _ := compile(t, mainModule(
		&SwitchStmt{
			Condition: num(2),
			CaseBlocks: []CaseBlock{
				{Value: num(1), Block: 0},
				{Value: num(2), Block: 1},
			},
			DefaultBlock: 2,
			Statements:   []Stmt{&BreakStmt{}, &BreakStmt{}, exprStmt(call("print", num(0)))},
		},
	))

	if countOp(ins, vm.OpDupConstant) != 2 {
		t.Error("each case compares against a duplicated condition")
	}
	if countOp(ins, vm.OpJumpIfTrue) != 2 {
		t.Error("each case needs a conditional jump")
	}
}

func TestCompileClassLowering(t *testing.T) {
	ins, _ := compile(t, mainModule(
		&ClassDefinitionStmt{
			Identifier:   "C",
			Declarations: []*DeclarationStmt{{TypeInfo: intType(), Identifier: "n"}},
			Functions: []*FunctionDefinitionStmt{{
				TypeInfo:   TypeInfo{Type: vm.TypeVoid},
				Identifier: "init",
				Block:      block(),
			}},
		},
	))

	start := findOp(ins, vm.OpClassStart)
	end := findOp(ins, vm.OpClassEnd)
	setVar := findOp(ins, vm.OpClassSetVar)
	funStart := findOp(ins, vm.OpFunStart)
	if start < 0 || setVar < start || funStart < setVar || end < funStart {
		t.Error("class lowering order must be ClassStart, fields, methods, ClassEnd")
	}
}

func TestCompileTryCatchLowering(t *testing.T) {
	ins, _ := compile(t, mainModule(
		&TryCatchStmt{
			TryBlock:   block(&ThrowStmt{Error: str("x")}),
			Decl:       &EllipsisStmt{},
			CatchBlock: block(),
		},
	))

	try := findOp(ins, vm.OpTry)
	if try < 0 {
		t.Fatal("TRY missing")
	}
	handler := ins[try].Operand.Size()
	if handler <= try || handler >= len(ins) {
		t.Errorf("handler PC %d not patched", handler)
	}
	if countOp(ins, vm.OpTryEnd) != 1 || countOp(ins, vm.OpPopError) != 1 {
		t.Error("try/catch needs TRY_END and POP_ERROR")
	}
}

func TestCompileShortCircuitLowering(t *testing.T) {
	ins, _ := compile(t, mainModule(
		exprStmt(&BinaryExpr{Op: "and", Left: boolean(true), Right: boolean(false)}),
	))
	if countOp(ins, vm.OpAnd) != 0 {
		t.Error("and lowers to jumps, not an AND instruction")
	}
	if countOp(ins, vm.OpDupConstant) != 1 || countOp(ins, vm.OpJumpIfFalse) != 1 {
		t.Error("short-circuit and needs DUP + conditional jump")
	}
}

func TestCompileDebugTable(t *testing.T) {
	ins, debug := compile(t, mainModule(
		&DeclarationStmt{Position: At(2, 5), TypeInfo: intType(), Identifier: "x", Expr: num(1)},
	))

	if debug.Len() != len(ins) {
		t.Errorf("debug table covers %d PCs for %d instructions", debug.Len(), len(ins))
	}
	store := findOp(ins, vm.OpStoreVar)
	info := debug.Get(store)
	if info.ModuleName != "main" || info.ModuleNameSpace != "app" {
		t.Errorf("debug info = %+v", info)
	}
	if info.Row != 2 || info.Col != 5 {
		t.Errorf("debug position = %d:%d, want 2:5", info.Row, info.Col)
	}
}
