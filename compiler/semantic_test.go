package compiler

import (
	"strings"
	"testing"

	"github.com/chazu/merlin/vm"
)

func analyse(module *Module) error {
	return NewSemanticAnalyser(module, nil, nil).Analyse()
}

func wantSemanticError(t *testing.T, module *Module, fragment string) {
	t.Helper()
	err := analyse(module)
	if err == nil {
		t.Fatalf("expected semantic error containing %q", fragment)
	}
	if _, ok := err.(*SemanticError); !ok {
		t.Errorf("error type = %T, want *SemanticError", err)
	}
	if !strings.Contains(err.Error(), fragment) {
		t.Errorf("error = %q, want fragment %q", err.Error(), fragment)
	}
}

// ---------------------------------------------------------------------------
// Declarations
// ---------------------------------------------------------------------------

func TestAnalyseDuplicateVariable(t *testing.T) {
	module := mainModule(
		&DeclarationStmt{TypeInfo: intType(), Identifier: "x", Expr: num(1)},
		&DeclarationStmt{TypeInfo: intType(), Identifier: "x", Expr: num(2)},
	)
	wantSemanticError(t, module, "already declared")
}

func TestAnalyseVoidVariable(t *testing.T) {
	module := mainModule(
		&DeclarationStmt{TypeInfo: TypeInfo{Type: vm.TypeVoid}, Identifier: "x"},
	)
	wantSemanticError(t, module, "void")
}

func TestAnalyseDeclarationTypeMismatch(t *testing.T) {
	module := mainModule(
		&DeclarationStmt{TypeInfo: intType(), Identifier: "x", Expr: str("nope")},
	)
	wantSemanticError(t, module, "expected")
}

func TestAnalyseUndeclaredIdentifier(t *testing.T) {
	module := mainModule(
		exprStmt(call("print", ident("ghost"))),
	)
	wantSemanticError(t, module, "was not declared")
}

func TestAnalyseConstexprViolation(t *testing.T) {
	module := mainModule(
		&DeclarationStmt{TypeInfo: intType(), Identifier: "n", Expr: num(1)},
		&DeclarationStmt{TypeInfo: intType(), Identifier: "c", IsConstexpr: true, Expr: ident("n")},
	)
	wantSemanticError(t, module, "not a expression constant")
}

func TestAnalyseConstexprFolds(t *testing.T) {
	module := mainModule(
		&DeclarationStmt{
			TypeInfo: intType(), Identifier: "c", IsConstexpr: true,
			Expr: &BinaryExpr{Op: "*", Left: num(6), Right: num(7)},
		},
	)
	if err := analyse(module); err != nil {
		t.Fatalf("constant initializer should fold: %v", err)
	}
}

func TestAnalyseFoldingDowngradesOnFailure(t *testing.T) {
	// 1 % 0 cannot fold; the declaration remains valid but is no longer a
	// constant expression.
	module := mainModule(
		&DeclarationStmt{
			TypeInfo: intType(), Identifier: "c", IsConstexpr: true,
			Expr: &BinaryExpr{Op: "%", Left: num(1), Right: num(0)},
		},
	)
	wantSemanticError(t, module, "not a expression constant")
}

// ---------------------------------------------------------------------------
// Functions
// ---------------------------------------------------------------------------

func TestAnalyseReturnCoverage(t *testing.T) {
	covered := mainModule(
		&FunctionDefinitionStmt{
			TypeInfo: intType(), Identifier: "f",
			Params: []ParamDecl{&VarDecl{TypeInfo: TypeInfo{Type: vm.TypeBool}, Identifier: "c"}},
			Block: block(&IfStmt{
				Condition: ident("c"),
				IfBlock:   block(&ReturnStmt{Expr: num(1)}),
				ElseBlock: block(&ReturnStmt{Expr: num(2)}),
			}),
		},
	)
	if err := analyse(covered); err != nil {
		t.Fatalf("fully covered function rejected: %v", err)
	}

	uncovered := mainModule(
		&FunctionDefinitionStmt{
			TypeInfo: intType(), Identifier: "f",
			Params: []ParamDecl{&VarDecl{TypeInfo: TypeInfo{Type: vm.TypeBool}, Identifier: "c"}},
			Block: block(&IfStmt{
				Condition: ident("c"),
				IfBlock:   block(&ReturnStmt{Expr: num(1)}),
			}),
		},
	)
	wantSemanticError(t, uncovered, "not guaranteed to return")
}

func TestAnalyseThrowCoversReturn(t *testing.T) {
	module := mainModule(
		&FunctionDefinitionStmt{
			TypeInfo: intType(), Identifier: "f",
			Params: []ParamDecl{&VarDecl{TypeInfo: TypeInfo{Type: vm.TypeBool}, Identifier: "c"}},
			Block: block(&IfStmt{
				Condition: ident("c"),
				IfBlock:   block(&ReturnStmt{Expr: num(1)}),
				ElseBlock: block(&ThrowStmt{Error: str("no value")}),
			}),
		},
	)
	if err := analyse(module); err != nil {
		t.Fatalf("throw should satisfy return coverage: %v", err)
	}
}

func TestAnalyseSwitchCoverageFallThrough(t *testing.T) {
	// case 1 falls through into case 2's return; the default returns.
	module := mainModule(
		&FunctionDefinitionStmt{
			TypeInfo: intType(), Identifier: "f",
			Params: []ParamDecl{&VarDecl{TypeInfo: intType(), Identifier: "x"}},
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
	)
	if err := analyse(module); err != nil {
		t.Fatalf("switch with covering blocks rejected: %v", err)
	}
}

func TestAnalyseDuplicateDefinition(t *testing.T) {
	fn := func() *FunctionDefinitionStmt {
		return &FunctionDefinitionStmt{
			TypeInfo: intType(), Identifier: "f",
			Params: []ParamDecl{&VarDecl{TypeInfo: intType(), Identifier: "a"}},
			Block:  block(&ReturnStmt{Expr: num(1)}),
		}
	}
	module := mainModule(fn(), fn())
	wantSemanticError(t, module, "already defined")
}

func TestAnalyseForwardDeclarationMustBeCompleted(t *testing.T) {
	module := mainModule(
		&FunctionDefinitionStmt{
			TypeInfo: intType(), Identifier: "f",
			Params: []ParamDecl{&VarDecl{TypeInfo: intType(), Identifier: "a"}},
		},
	)
	wantSemanticError(t, module, "declared with no block")
}

func TestAnalyseForwardDeclarationCompleted(t *testing.T) {
	module := mainModule(
		&FunctionDefinitionStmt{
			TypeInfo: intType(), Identifier: "f",
			Params: []ParamDecl{&VarDecl{TypeInfo: intType(), Identifier: "a"}},
		},
		&FunctionDefinitionStmt{
			TypeInfo: intType(), Identifier: "f",
			Params: []ParamDecl{&VarDecl{TypeInfo: intType(), Identifier: "a"}},
			Block:  block(&ReturnStmt{Expr: ident("a")}),
		},
	)
	if err := analyse(module); err != nil {
		t.Fatalf("completed forward declaration rejected: %v", err)
	}
}

func TestAnalyseRestParameterMustBeLast(t *testing.T) {
	module := mainModule(
		&FunctionDefinitionStmt{
			TypeInfo: intType(), Identifier: "f",
			Params: []ParamDecl{
				&VarDecl{TypeInfo: anyType(), Identifier: "rest", IsRest: true},
				&VarDecl{TypeInfo: intType(), Identifier: "a"},
			},
			Block: block(&ReturnStmt{Expr: num(0)}),
		},
	)
	wantSemanticError(t, module, "must be the last parameter")
}

func TestAnalyseDefaultsMustBeSuffix(t *testing.T) {
	module := mainModule(
		&FunctionDefinitionStmt{
			TypeInfo: intType(), Identifier: "f",
			Params: []ParamDecl{
				&VarDecl{TypeInfo: intType(), Identifier: "a", Default: num(1)},
				&VarDecl{TypeInfo: intType(), Identifier: "b"},
			},
			Block: block(&ReturnStmt{Expr: num(0)}),
		},
	)
	wantSemanticError(t, module, "cannot follow defaulted parameters")
}

func TestAnalyseUnknownCall(t *testing.T) {
	module := mainModule(
		exprStmt(call("nothing", num(1))),
	)
	wantSemanticError(t, module, "never declared")
}

// ---------------------------------------------------------------------------
// Control flow checks
// ---------------------------------------------------------------------------

func TestAnalyseConditionMustBeBool(t *testing.T) {
	module := mainModule(
		&IfStmt{Condition: num(1), IfBlock: block()},
	)
	wantSemanticError(t, module, "boolean")
}

func TestAnalyseBreakOutsideLoop(t *testing.T) {
	wantSemanticError(t, mainModule(&BreakStmt{}), "break")
	wantSemanticError(t, mainModule(&ContinueStmt{}), "continue")
}

func TestAnalyseThrowRequiresStringOrException(t *testing.T) {
	module := mainModule(
		&ThrowStmt{Error: num(3)},
	)
	wantSemanticError(t, module, "in throw")
}

func TestAnalyseSwitchDuplicateCase(t *testing.T) {
	module := mainModule(
		&SwitchStmt{
			Condition: num(1),
			CaseBlocks: []CaseBlock{
				{Value: num(4), Block: 0},
				{Value: num(4), Block: 1},
			},
			DefaultBlock: 2,
			Statements:   []Stmt{&BreakStmt{}, &BreakStmt{}},
		},
	)
	wantSemanticError(t, module, "duplicated case value")
}

func TestAnalyseSwitchCaseMustBeConstant(t *testing.T) {
	module := mainModule(
		&SwitchStmt{
			Condition:    num(1),
			CaseBlocks:   []CaseBlock{{Value: call("lens", str("abc")), Block: 0}},
			DefaultBlock: 1,
			Statements:   []Stmt{&BreakStmt{}},
		},
	)
	wantSemanticError(t, module, "not an constant")
}

func TestAnalyseForeachRequiresIterable(t *testing.T) {
	module := mainModule(
		&ForEachStmt{
			ItDecl:     &DeclarationStmt{TypeInfo: anyType(), Identifier: "v"},
			Collection: num(3),
			Block:      block(),
		},
	)
	wantSemanticError(t, module, "iterable")
}

func TestAnalyseDestructuringRequiresStruct(t *testing.T) {
	module := mainModule(
		&ForEachStmt{
			ItDecl: &UnpackedDeclarationStmt{Declarations: []*DeclarationStmt{
				{TypeInfo: stringType(), Identifier: "key"},
				{TypeInfo: anyType(), Identifier: "value"},
			}},
			Collection: &ArrayConstructorExpr{Values: []Expr{num(1)}},
			Block:      block(),
		},
	)
	wantSemanticError(t, module, "[key, value]")
}

// ---------------------------------------------------------------------------
// Object resolution
// ---------------------------------------------------------------------------

func TestAnalyseObjectResolvesToStruct(t *testing.T) {
	module := mainModule(
		&StructDefinitionStmt{Identifier: "P", Variables: []*VarDecl{
			{TypeInfo: intType(), Identifier: "x"},
		}},
		&DeclarationStmt{
			TypeInfo:   TypeInfo{Type: vm.TypeObject, TypeName: "P"},
			Identifier: "p",
			Expr: &StructConstructorExpr{TypeName: "P", Values: []FieldInit{
				{Name: "x", Expr: num(1)},
			}},
		},
	)
	decl := module.Statements[1].(*DeclarationStmt)
	if err := analyse(module); err != nil {
		t.Fatal(err)
	}
	if decl.Type != vm.TypeStruct {
		t.Errorf("Object tag resolved to %v, want struct", decl.Type)
	}
	if decl.TypeNameSpace != "app" {
		t.Errorf("resolved namespace = %q, want app", decl.TypeNameSpace)
	}
}

func TestAnalyseStructMemberUnknown(t *testing.T) {
	module := mainModule(
		&StructDefinitionStmt{Identifier: "P", Variables: []*VarDecl{
			{TypeInfo: intType(), Identifier: "x"},
		}},
		&DeclarationStmt{
			TypeInfo:   TypeInfo{Type: vm.TypeObject, TypeName: "P"},
			Identifier: "p",
			Expr: &StructConstructorExpr{TypeName: "P", Values: []FieldInit{
				{Name: "nope", Expr: num(1)},
			}},
		},
	)
	wantSemanticError(t, module, "not a member")
}

func TestAnalyseErrorMessageShape(t *testing.T) {
	module := mainModule(
		&DeclarationStmt{Position: At(3, 9), TypeInfo: TypeInfo{Type: vm.TypeVoid}, Identifier: "x"},
	)
	err := analyse(module)
	if err == nil {
		t.Fatal("expected error")
	}
	msg := err.Error()
	if !strings.HasPrefix(msg, "SemanticError: ") {
		t.Errorf("message should start with SemanticError:, got %q", msg)
	}
	if !strings.Contains(msg, "app::main:3:9") {
		t.Errorf("message should locate app::main:3:9, got %q", msg)
	}
}
