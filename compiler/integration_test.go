package compiler

import (
	"bytes"
	"strings"
	"testing"

	"github.com/chazu/merlin/vm"
)

// ---------------------------------------------------------------------------
// Test helpers: AST construction shorthand
// ---------------------------------------------------------------------------

func mainModule(stmts ...Stmt) *Module {
	return &Module{Name: "main", NameSpace: "app", Statements: stmts}
}

func ident(names ...string) *IdentifierExpr {
	ids := make([]Ident, len(names))
	for i, n := range names {
		ids[i] = Id(n)
	}
	return &IdentifierExpr{IdentifierVector: ids}
}

func index(name string, ix Expr) *IdentifierExpr {
	return &IdentifierExpr{IdentifierVector: []Ident{{Identifier: name, AccessVector: []Expr{ix}}}}
}

func call(name string, args ...Expr) *FunctionCallExpr {
	return &FunctionCallExpr{IdentifierVector: []Ident{Id(name)}, Parameters: args}
}

func num(v int64) *LiteralInt      { return &LiteralInt{Value: v} }
func str(v string) *LiteralString  { return &LiteralString{Value: v} }
func boolean(v bool) *LiteralBool  { return &LiteralBool{Value: v} }

func intType() TypeInfo    { return TypeInfo{Type: vm.TypeInt} }
func anyType() TypeInfo    { return TypeInfo{Type: vm.TypeAny} }
func stringType() TypeInfo { return TypeInfo{Type: vm.TypeString} }

func block(stmts ...Stmt) *BlockStmt { return &BlockStmt{Statements: stmts} }

func exprStmt(e Expr) *ExprStmt { return &ExprStmt{Expr: e} }

// buildAndRun compiles and executes a module, returning the exit value and
// captured stdout.
func buildAndRun(t *testing.T, module *Module) (int64, string) {
	t.Helper()
	machine, err := BuildVM(module, nil, nil)
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	var out bytes.Buffer
	machine.Stdout = &out
	result, err := machine.Run()
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	return result, out.String()
}

// ---------------------------------------------------------------------------
// End-to-end scenarios
// ---------------------------------------------------------------------------

// fun add(int a, int b) -> int { return a + b }  print(add(2, 3))
func TestScenarioFunctionCall(t *testing.T) {
	module := mainModule(
		&FunctionDefinitionStmt{
			TypeInfo:   intType(),
			Identifier: "add",
			Params: []ParamDecl{
				&VarDecl{TypeInfo: intType(), Identifier: "a"},
				&VarDecl{TypeInfo: intType(), Identifier: "b"},
			},
			Block: block(
				&ReturnStmt{Expr: &BinaryExpr{Op: "+", Left: ident("a"), Right: ident("b")}},
			),
		},
		exprStmt(call("print", call("add", num(2), num(3)))),
	)

	result, out := buildAndRun(t, module)
	if out != "5" {
		t.Errorf("stdout = %q, want %q", out, "5")
	}
	if result != 0 {
		t.Errorf("exit = %d, want 0", result)
	}
}

// [int] xs = {1,2,3,4}; xs[2] = xs[0] + xs[1]; print(xs[2])
func TestScenarioArrayElementAssign(t *testing.T) {
	module := mainModule(
		&DeclarationStmt{
			TypeInfo:   TypeInfo{Type: vm.TypeInt, ExprDim: []Expr{nil}},
			Identifier: "xs",
			Expr:       &ArrayConstructorExpr{Values: []Expr{num(1), num(2), num(3), num(4)}},
		},
		exprStmt(&BinaryExpr{
			Op:    "=",
			Left:  index("xs", num(2)),
			Right: &BinaryExpr{Op: "+", Left: index("xs", num(0)), Right: index("xs", num(1))},
		}),
		exprStmt(call("print", index("xs", num(2)))),
	)

	_, out := buildAndRun(t, module)
	if out != "3" {
		t.Errorf("stdout = %q, want %q", out, "3")
	}
}

// try { throw Exception{error:"x", code:7} } catch (e) { print(e.code) }
func TestScenarioThrowStructException(t *testing.T) {
	module := mainModule(
		&TryCatchStmt{
			TryBlock: block(&ThrowStmt{Error: &StructConstructorExpr{
				TypeName: vm.StructException,
				Values: []FieldInit{
					{Name: vm.FieldError, Expr: str("x")},
					{Name: vm.FieldCode, Expr: num(7)},
				},
			}}),
			Decl: &DeclarationStmt{
				TypeInfo:   TypeInfo{Type: vm.TypeObject, TypeName: vm.StructException},
				Identifier: "e",
			},
			CatchBlock: block(exprStmt(call("print", ident("e", "code")))),
		},
	)

	_, out := buildAndRun(t, module)
	if out != "7" {
		t.Errorf("stdout = %q, want %q", out, "7")
	}
}

// try { throw "boom" } catch ([msg, code]) { print(msg) print(code) }
func TestScenarioThrowStringException(t *testing.T) {
	module := mainModule(
		&TryCatchStmt{
			TryBlock: block(&ThrowStmt{Error: str("boom")}),
			Decl: &UnpackedDeclarationStmt{
				Declarations: []*DeclarationStmt{
					{TypeInfo: stringType(), Identifier: "msg"},
					{TypeInfo: intType(), Identifier: "code"},
				},
			},
			CatchBlock: block(
				exprStmt(call("print", ident("msg"))),
				exprStmt(call("print", ident("code"))),
			),
		},
	)

	_, out := buildAndRun(t, module)
	if out != "boom0" {
		t.Errorf("stdout = %q, want %q", out, "boom0")
	}
}

// fun f(any...rest) -> int { return len(rest) }  print(f(1, "a", true))
func TestScenarioRestParameters(t *testing.T) {
	module := mainModule(
		&FunctionDefinitionStmt{
			TypeInfo:   intType(),
			Identifier: "f",
			Params: []ParamDecl{
				&VarDecl{TypeInfo: anyType(), Identifier: "rest", IsRest: true},
			},
			Block: block(&ReturnStmt{Expr: call("len", ident("rest"))}),
		},
		exprStmt(call("print", call("f", num(1), str("a"), boolean(true)))),
	)

	_, out := buildAndRun(t, module)
	if out != "3" {
		t.Errorf("stdout = %q, want %q", out, "3")
	}
}

// class C { int n  fun init(int x) { self.n = x }  fun get() -> int { return self.n } }
// C c = C(11)  print(c.get())
func TestScenarioClassConstruction(t *testing.T) {
	module := mainModule(
		&ClassDefinitionStmt{
			Identifier: "C",
			Declarations: []*DeclarationStmt{
				{TypeInfo: intType(), Identifier: "n"},
			},
			Functions: []*FunctionDefinitionStmt{
				{
					TypeInfo:   TypeInfo{Type: vm.TypeVoid},
					Identifier: "init",
					Params:     []ParamDecl{&VarDecl{TypeInfo: intType(), Identifier: "x"}},
					Block: block(exprStmt(&BinaryExpr{
						Op:    "=",
						Left:  ident("self", "n"),
						Right: ident("x"),
					})),
				},
				{
					TypeInfo:   intType(),
					Identifier: "get",
					Block:      block(&ReturnStmt{Expr: ident("self", "n")}),
				},
			},
		},
		&DeclarationStmt{
			TypeInfo:   TypeInfo{Type: vm.TypeObject, TypeName: "C"},
			Identifier: "c",
			Expr:       call("C", num(11)),
		},
		exprStmt(call("print", &FunctionCallExpr{
			IdentifierVector: []Ident{Id("c"), Id("get")},
		})),
	)

	_, out := buildAndRun(t, module)
	if out != "11" {
		t.Errorf("stdout = %q, want %q", out, "11")
	}
}

// struct P { int x; int y }  P p = P{x:1, y:2}
// foreach ([k, v] in p) print(k + "=" + string(v) + ";")
func TestScenarioStructForeach(t *testing.T) {
	module := mainModule(
		&StructDefinitionStmt{
			Identifier: "P",
			Variables: []*VarDecl{
				{TypeInfo: intType(), Identifier: "x"},
				{TypeInfo: intType(), Identifier: "y"},
			},
		},
		&DeclarationStmt{
			TypeInfo:   TypeInfo{Type: vm.TypeObject, TypeName: "P"},
			Identifier: "p",
			Expr: &StructConstructorExpr{
				TypeName: "P",
				Values: []FieldInit{
					{Name: "x", Expr: num(1)},
					{Name: "y", Expr: num(2)},
				},
			},
		},
		&ForEachStmt{
			ItDecl: &UnpackedDeclarationStmt{
				Declarations: []*DeclarationStmt{
					{TypeInfo: stringType(), Identifier: "key"},
					{TypeInfo: anyType(), Identifier: "value"},
				},
			},
			Collection: ident("p"),
			Block: block(exprStmt(call("print", &BinaryExpr{
				Op: "+",
				Left: &BinaryExpr{
					Op:    "+",
					Left:  &BinaryExpr{Op: "+", Left: ident("key"), Right: str("=")},
					Right: &TypeCastExpr{Target: vm.TypeString, Expr: ident("value")},
				},
				Right: str(";"),
			}))),
		},
	)

	_, out := buildAndRun(t, module)
	if out != "x=1;y=2;" {
		t.Errorf("stdout = %q, want %q", out, "x=1;y=2;")
	}
}

// print(0 in {1,2,3})  print(2 in {1,2,3})
func TestScenarioInOperator(t *testing.T) {
	arr := func() Expr {
		return &ArrayConstructorExpr{Values: []Expr{num(1), num(2), num(3)}}
	}
	module := mainModule(
		exprStmt(call("println", &BinaryExpr{Op: "in", Left: num(0), Right: arr()})),
		exprStmt(call("println", &BinaryExpr{Op: "in", Left: num(2), Right: arr()})),
	)

	_, out := buildAndRun(t, module)
	if out != "false\ntrue\n" {
		t.Errorf("stdout = %q, want %q", out, "false\ntrue\n")
	}
}

// ---------------------------------------------------------------------------
// Dispatch, defaults, lambdas
// ---------------------------------------------------------------------------

func TestOverloadDispatchPrefersStrict(t *testing.T) {
	module := mainModule(
		&FunctionDefinitionStmt{
			TypeInfo:   intType(),
			Identifier: "f",
			Params:     []ParamDecl{&VarDecl{TypeInfo: TypeInfo{Type: vm.TypeFloat}, Identifier: "a"}},
			Block:      block(&ReturnStmt{Expr: num(1)}),
		},
		&FunctionDefinitionStmt{
			TypeInfo:   intType(),
			Identifier: "f",
			Params:     []ParamDecl{&VarDecl{TypeInfo: intType(), Identifier: "a"}},
			Block:      block(&ReturnStmt{Expr: num(2)}),
		},
		exprStmt(call("print", call("f", num(5)))),
	)

	_, out := buildAndRun(t, module)
	if out != "2" {
		t.Errorf("strict overload should win, stdout = %q", out)
	}
}

func TestDefaultArgumentSnippet(t *testing.T) {
	module := mainModule(
		&FunctionDefinitionStmt{
			TypeInfo:   intType(),
			Identifier: "g",
			Params: []ParamDecl{
				&VarDecl{TypeInfo: intType(), Identifier: "a"},
				&VarDecl{TypeInfo: intType(), Identifier: "b", Default: &BinaryExpr{Op: "+", Left: num(4), Right: num(6)}},
			},
			Block: block(&ReturnStmt{Expr: &BinaryExpr{Op: "+", Left: ident("a"), Right: ident("b")}}),
		},
		exprStmt(call("print", call("g", num(5)))),
		exprStmt(call("print", call("g", num(5), num(1)))),
	)

	_, out := buildAndRun(t, module)
	if out != "156" {
		t.Errorf("stdout = %q, want %q", out, "156")
	}
}

func TestLambdaThroughVariable(t *testing.T) {
	module := mainModule(
		&DeclarationStmt{
			TypeInfo:   anyType(),
			Identifier: "f",
			Expr: &LambdaExpr{Fun: &FunctionDefinitionStmt{
				TypeInfo:   intType(),
				Identifier: "",
				Params:     []ParamDecl{&VarDecl{TypeInfo: intType(), Identifier: "x"}},
				Block:      block(&ReturnStmt{Expr: &BinaryExpr{Op: "*", Left: ident("x"), Right: num(3)}}),
			}},
		},
		exprStmt(call("print", call("f", num(7)))),
	)

	_, out := buildAndRun(t, module)
	if out != "21" {
		t.Errorf("stdout = %q, want %q", out, "21")
	}
}

// ---------------------------------------------------------------------------
// Control flow
// ---------------------------------------------------------------------------

func TestWhileContinue(t *testing.T) {
	// int s = 0; int i = 0
	// while (i < 10) { i = i + 1; if (i % 2 == 1) { continue }; s = s + i }
	// print(s)  -> 2+4+6+8+10
	module := mainModule(
		&DeclarationStmt{TypeInfo: intType(), Identifier: "s", Expr: num(0)},
		&DeclarationStmt{TypeInfo: intType(), Identifier: "i", Expr: num(0)},
		&WhileStmt{
			Condition: &BinaryExpr{Op: "<", Left: ident("i"), Right: num(10)},
			Block: block(
				exprStmt(&BinaryExpr{Op: "=", Left: ident("i"), Right: &BinaryExpr{Op: "+", Left: ident("i"), Right: num(1)}}),
				&IfStmt{
					Condition: &BinaryExpr{
						Op:   "==",
						Left: &BinaryExpr{Op: "%", Left: ident("i"), Right: num(2)}, Right: num(1),
					},
					IfBlock: block(&ContinueStmt{}),
				},
				exprStmt(&BinaryExpr{Op: "=", Left: ident("s"), Right: &BinaryExpr{Op: "+", Left: ident("s"), Right: ident("i")}}),
			),
		},
		exprStmt(call("print", ident("s"))),
	)

	_, out := buildAndRun(t, module)
	if out != "30" {
		t.Errorf("stdout = %q, want %q", out, "30")
	}
}

func TestSwitchFallThrough(t *testing.T) {
	pick := func(arg int64) *Module {
		return mainModule(
			&FunctionDefinitionStmt{
				TypeInfo:   intType(),
				Identifier: "pick",
				Params:     []ParamDecl{&VarDecl{TypeInfo: intType(), Identifier: "x"}},
				Block: block(&SwitchStmt{
					Condition: ident("x"),
					CaseBlocks: []CaseBlock{
						{Value: num(1), Block: 0},
						{Value: num(2), Block: 0},
					},
					DefaultBlock: 1,
					Statements: []Stmt{
						&ReturnStmt{Expr: num(10)},
						&ReturnStmt{Expr: num(20)},
					},
				}),
			},
			exprStmt(call("print", call("pick", num(arg)))),
		)
	}

	_, out := buildAndRun(t, pick(2))
	if out != "10" {
		t.Errorf("pick(2) printed %q, want %q", out, "10")
	}
	_, out = buildAndRun(t, pick(5))
	if out != "20" {
		t.Errorf("pick(5) printed %q, want %q", out, "20")
	}
}

func TestForEachArrayOrder(t *testing.T) {
	module := mainModule(
		&ForEachStmt{
			ItDecl:     &DeclarationStmt{TypeInfo: intType(), Identifier: "v"},
			Collection: &ArrayConstructorExpr{Values: []Expr{num(3), num(1), num(2)}},
			Block:      block(exprStmt(call("print", ident("v")))),
		},
	)

	_, out := buildAndRun(t, module)
	if out != "312" {
		t.Errorf("stdout = %q, want %q", out, "312")
	}
}

func TestForEachStringOrder(t *testing.T) {
	module := mainModule(
		&ForEachStmt{
			ItDecl:     &DeclarationStmt{TypeInfo: TypeInfo{Type: vm.TypeChar}, Identifier: "c"},
			Collection: str("abc"),
			Block:      block(exprStmt(call("print", ident("c")))),
		},
	)

	_, out := buildAndRun(t, module)
	if out != "abc" {
		t.Errorf("stdout = %q, want %q", out, "abc")
	}
}

func TestExitStatement(t *testing.T) {
	module := mainModule(
		&ExitStmt{ExitCode: num(7)},
		exprStmt(call("print", str("unreachable"))),
	)

	result, out := buildAndRun(t, module)
	if result != 7 {
		t.Errorf("exit = %d, want 7", result)
	}
	if out != "" {
		t.Errorf("stdout = %q, want empty", out)
	}
}

func TestEnumDeclaresConstants(t *testing.T) {
	module := mainModule(
		&EnumStmt{Identifiers: []string{"A", "B", "C"}},
		exprStmt(call("print", ident("C"))),
	)

	_, out := buildAndRun(t, module)
	if out != "2" {
		t.Errorf("stdout = %q, want %q", out, "2")
	}
}

func TestTernaryAndCast(t *testing.T) {
	module := mainModule(
		exprStmt(call("print", &TernaryExpr{
			Condition: &BinaryExpr{Op: ">", Left: &LiteralFloat{Value: 3.5}, Right: num(2)},
			IfTrue:    num(1),
			IfFalse:   num(0),
		})),
		exprStmt(call("print", &TypeCastExpr{Target: vm.TypeInt, Expr: str("41")})),
	)

	_, out := buildAndRun(t, module)
	if out != "141" {
		t.Errorf("stdout = %q, want %q", out, "141")
	}
}

func TestDoWhileRunsBodyFirst(t *testing.T) {
	module := mainModule(
		&DeclarationStmt{TypeInfo: intType(), Identifier: "n", Expr: num(0)},
		&DoWhileStmt{
			Condition: boolean(false),
			Block: block(
				exprStmt(&BinaryExpr{Op: "=", Left: ident("n"), Right: num(9)}),
			),
		},
		exprStmt(call("print", ident("n"))),
	)

	_, out := buildAndRun(t, module)
	if out != "9" {
		t.Errorf("stdout = %q, want %q", out, "9")
	}
}

func TestThisContext(t *testing.T) {
	module := mainModule(
		exprStmt(call("print", &ThisExpr{AccessVector: []Ident{Id(""), Id("name")}})),
	)

	_, out := buildAndRun(t, module)
	if out != "main" {
		t.Errorf("stdout = %q, want %q", out, "main")
	}
}

func TestUnhandledThrowCarriesTrace(t *testing.T) {
	module := mainModule(
		&FunctionDefinitionStmt{
			TypeInfo:   TypeInfo{Type: vm.TypeVoid},
			Identifier: "boom",
			Block:      block(&ThrowStmt{Error: str("kaput")}),
		},
		exprStmt(call("boom")),
	)

	machine, err := BuildVM(module, nil, nil)
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	machine.Stdout = &bytes.Buffer{}
	_, err = machine.Run()
	if err == nil {
		t.Fatal("expected a runtime error")
	}
	msg := err.Error()
	if !strings.Contains(msg, "RuntimeError") || !strings.Contains(msg, "kaput") {
		t.Errorf("error = %q", msg)
	}
	if !strings.Contains(msg, "\n at ") {
		t.Errorf("error should carry a stack trace, got %q", msg)
	}
}

func TestUsingCoreLibrary(t *testing.T) {
	module := mainModule(
		&UsingStmt{Library: []string{"gc"}},
		exprStmt(call("gc_collect")),
		exprStmt(call("print", call("gc_get_max_heap"))),
	)

	machine, err := BuildVM(module, nil, nil)
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	var out bytes.Buffer
	machine.Stdout = &out
	if _, err := machine.Run(); err != nil {
		t.Fatalf("run: %v", err)
	}
	if out.Len() == 0 {
		t.Error("gc_get_max_heap should print the threshold")
	}
}
