package compiler

import (
	"github.com/chazu/merlin/vm"
)

// ---------------------------------------------------------------------------
// Front-end boundary
// ---------------------------------------------------------------------------

// SourceFile is one unit of program text handed to a front end.
type SourceFile struct {
	Name string
	Path string
	Text string
}

// Frontend turns source files into parsed modules. The lexer and parser are
// external collaborators: a front end registers itself at init time and the
// CLI drives it. The first module returned is the main module.
type Frontend interface {
	Parse(sources []SourceFile) (main *Module, modules map[string]*Module, err error)
}

var frontend Frontend

// RegisterFrontend installs the front end used by ParseSources. The latest
// registration wins.
func RegisterFrontend(f Frontend) {
	frontend = f
}

// HasFrontend reports whether a front end has been registered.
func HasFrontend() bool {
	return frontend != nil
}

// ParseSources runs the registered front end.
func ParseSources(sources []SourceFile) (*Module, map[string]*Module, error) {
	if frontend == nil {
		return nil, nil, vm.Errorf("no language front end registered")
	}
	return frontend.Parse(sources)
}

// ---------------------------------------------------------------------------
// Pipeline
// ---------------------------------------------------------------------------

// Build analyses and compiles a parsed program in one step.
func Build(mainModule *Module, modules map[string]*Module, args []string) ([]vm.Instruction, *vm.DebugTable, error) {
	analyser := NewSemanticAnalyser(mainModule, modules, args)
	if err := analyser.Analyse(); err != nil {
		return nil, nil, err
	}
	return NewCompiler(mainModule, modules).Compile()
}

// BuildVM compiles a parsed program and wires a VM ready to run it.
func BuildVM(mainModule *Module, modules map[string]*Module, args []string) (*vm.VM, error) {
	instructions, debug, err := Build(mainModule, modules, args)
	if err != nil {
		return nil, err
	}
	machine := vm.New(vm.NewScope(mainModule.NameSpace, mainModule.Name), debug, instructions)
	machine.Args = args
	return machine, nil
}
