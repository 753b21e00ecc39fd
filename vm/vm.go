package vm

import (
	"bufio"
	"io"
	"os"

	"github.com/tliron/commonlog"
)

var vmLog = commonlog.GetLogger("vm")

// ---------------------------------------------------------------------------
// VM state
// ---------------------------------------------------------------------------

// iteratorFrame tracks progress of a foreach loop over an array, string or
// struct. The value is GC-rooted while the frame is live.
type iteratorFrame struct {
	value *Value
	index int
}

// scopeKey identifies a pushed scope for structured unwinding.
type scopeKey struct {
	nameSpace string
	module    string
}

// callFrame records one pending call: where to resume, which scope to pop,
// how many deep frames the callee opened, and whether returning should end
// the current sub-run.
type callFrame struct {
	returnPC  int
	nameSpace string
	module    string
	deeps     int
	subRun    bool
}

// catchError is a pending (code, message) pair consumed by a catch block.
type catchError struct {
	code    int64
	message string
}

// NativeFunc is a built-in implementation: it reads its arguments from the
// call scope's parameter variables and pushes exactly one return value.
type NativeFunc func(m *VM) error

// VM is the bytecode virtual machine: a single-threaded cooperative stack
// machine over a flat instruction list.
type VM struct {
	*ScopeManager

	GC       *Collector
	Builtins map[string]NativeFunc

	// I/O surface of the built-ins; swappable for tests and embedding.
	Stdout io.Writer
	Stdin  *bufio.Reader
	Args   []string

	instructions []Instruction
	debug        *DebugTable

	previousPC int
	currentPC  int
	nextPC     int
	current    Instruction

	evalStack []*Value

	// Structured unwinding state. Each deep frame records the scopes pushed
	// and the evaluation-stack growth inside it, so one Unwind instruction
	// can restore both.
	scopeUnwind [][]scopeKey
	evalUnwind  []int

	iterators      []iteratorFrame
	classStack     []*Scope
	classDefBuild  []*ClassDef
	structDefBuild []*StructDef
	funcDefBuild   []*FunctionDef
	uvarDefBuild   []*UnpackDef
	valueBuild     []*Value
	frames         []callFrame
	tryStack       []int
	catchErrStack  []catchError
	callSites      []int

	typeDefStack      []TypeDef
	setArrayDim       []int64
	setDefaultValuePC int
	setCheckBuild     bool
	currentArrayType  TypeDef

	selfInvoke bool
	useVarRef  []bool

	returnFromSubRun bool
	nextCallSubRun   bool

	libsRegistered map[string]bool
	profiler       *Profiler
}

// New creates a VM over a compiled program. The global scope is the main
// module's global scope; the built-in module is registered beneath it.
func New(globalScope *Scope, debug *DebugTable, instructions []Instruction) *VM {
	if debug == nil {
		debug = NewDebugTable()
	}
	m := &VM{
		ScopeManager:   NewScopeManager(),
		GC:             NewCollector(),
		Builtins:       make(map[string]NativeFunc),
		Stdout:         os.Stdout,
		Stdin:          bufio.NewReader(os.Stdin),
		instructions:   instructions,
		debug:          debug,
		libsRegistered: make(map[string]bool),
	}

	m.GC.AddRootContainer(&m.evalStack)
	m.GC.AddRootSource(m)

	m.PushScope(NewScope(DefaultNameSpace, BuiltinModuleName))
	BuiltinModule{}.RegisterVM(m)

	m.PushScope(globalScope)
	m.IncludeNameSpace(globalScope.Module, DefaultNameSpace)
	m.IncludeNameSpace(globalScope.Module, globalScope.NameSpace)

	return m
}

// SetProfiler attaches an execution profiler.
func (m *VM) SetProfiler(p *Profiler) {
	m.profiler = p
}

// GCRoots reports the roots only the VM can see: every variable of every
// live scope and the values held by pending iterator frames.
func (m *VM) GCRoots() []GCObject {
	var roots []GCObject
	for _, scope := range m.LiveScopes() {
		for _, name := range scope.VariableNames() {
			if v := scope.FindDeclaredVariable(name); v != nil {
				roots = append(roots, v)
			}
		}
	}
	for _, it := range m.iterators {
		if it.value != nil {
			roots = append(roots, it.value)
		}
	}
	return roots
}

// ---------------------------------------------------------------------------
// Run loop
// ---------------------------------------------------------------------------

// Run executes until Halt or the program counter exhausts the instruction
// list. The result is the integer at the top of the evaluation stack, or -1
// if the stack is empty. Unhandled runtime errors carry a formatted message
// with the call-stack trace.
func (m *VM) Run() (int64, error) {
	vmLog.Debugf("run: %d instructions", len(m.instructions))
	if err := m.runLoop(); err != nil {
		return -1, err
	}

	if len(m.evalStack) == 0 {
		m.pushNewConstant(NewInt(-1))
	}
	m.GC.Collect()

	top := m.evalStack[len(m.evalStack)-1]
	if top.IsInt() {
		return top.I, nil
	}
	return 0, nil
}

// runLoop is the dispatch loop shared by the top-level run and nested
// sub-runs. A sub-run terminates on Trap or on a Return through a call frame
// marked as a sub-run entry.
func (m *VM) runLoop() error {
	for m.fetch() {
		err := m.dispatch()

		if err != nil {
			if len(m.tryStack) > 0 {
				handler := m.tryStack[len(m.tryStack)-1]
				m.tryStack = m.tryStack[:len(m.tryStack)-1]

				re := AsRuntimeError(err)
				m.catchErrStack = append(m.catchErrStack, catchError{code: re.Code, message: re.Message})
				m.nextPC = handler
				continue
			}

			msg := m.debug.Get(m.currentPC).BuildErrorMessage("RuntimeError", err.Error())
			for i := len(m.callSites) - 1; i >= 0; i-- {
				msg += m.debug.Get(m.callSites[i]).BuildErrorTail()
			}
			m.callSites = nil
			return Errorf("%s", msg)
		}

		if m.returnFromSubRun {
			m.returnFromSubRun = false
			return nil
		}
	}
	return nil
}

// subRun executes a compiled snippet starting at pc and resumes the saved
// program counter afterwards. Used for default arguments and field defaults;
// the snippet terminates with Trap.
func (m *VM) subRun(pc int) error {
	saved := m.nextPC
	m.nextPC = pc
	err := m.runLoop()
	m.nextPC = saved
	return err
}

// fetch advances to the next instruction; false ends the run.
func (m *VM) fetch() bool {
	m.previousPC = m.currentPC
	m.currentPC = m.nextPC
	if m.nextPC >= len(m.instructions) {
		return false
	}
	m.current = m.instructions[m.nextPC]
	m.nextPC++
	if m.profiler != nil {
		m.profiler.Hit(m.currentPC, m.current.Op)
	}
	return true
}

// ---------------------------------------------------------------------------
// Evaluation stack
// ---------------------------------------------------------------------------

// pushNewConstant registers a freshly allocated value and pushes it.
func (m *VM) pushNewConstant(v *Value) {
	m.pushConstant(m.GC.Allocate(v))
}

// pushConstant pushes an already tracked value.
func (m *VM) pushConstant(v *Value) {
	m.evalStack = append(m.evalStack, v)
	if n := len(m.evalUnwind); n > 0 {
		m.evalUnwind[n-1]++
	}
}

// popConstant discards the top of the evaluation stack.
func (m *VM) popConstant() {
	if len(m.evalStack) == 0 {
		return
	}
	m.evalStack = m.evalStack[:len(m.evalStack)-1]
	if n := len(m.evalUnwind); n > 0 {
		m.evalUnwind[n-1]--
	}
}

// popValue pops and returns the top of the evaluation stack.
func (m *VM) popValue() (*Value, error) {
	if len(m.evalStack) == 0 {
		return nil, Errorf("evaluation stack underflow")
	}
	v := m.evalStack[len(m.evalStack)-1]
	m.popConstant()
	return v, nil
}

// top returns the top of the evaluation stack without popping.
func (m *VM) top() (*Value, error) {
	if len(m.evalStack) == 0 {
		return nil, Errorf("evaluation stack underflow")
	}
	return m.evalStack[len(m.evalStack)-1], nil
}

// ---------------------------------------------------------------------------
// Scope and deep-frame management
// ---------------------------------------------------------------------------

// pushVMScope pushes a scope and records it in the innermost deep frame.
func (m *VM) pushVMScope(scope *Scope) {
	if n := len(m.scopeUnwind); n > 0 {
		m.scopeUnwind[n-1] = append(m.scopeUnwind[n-1], scopeKey{scope.NameSpace, scope.Module})
	}
	m.PushScope(scope)
}

// popVMScope pops a scope and unrecords it from the innermost deep frame.
func (m *VM) popVMScope(nameSpace, module string) {
	if n := len(m.scopeUnwind); n > 0 && len(m.scopeUnwind[n-1]) > 0 {
		m.scopeUnwind[n-1] = m.scopeUnwind[n-1][:len(m.scopeUnwind[n-1])-1]
	}
	m.PopScope(nameSpace, module)
	m.GC.MaybeCollect()
}

// pushDeep opens a deep frame: loops, try blocks and calls wrap their bodies
// so one Unwind can pop every scope and stack value they accumulated.
func (m *VM) pushDeep() {
	m.scopeUnwind = append(m.scopeUnwind, nil)
	m.evalUnwind = append(m.evalUnwind, 0)
	if n := len(m.frames); n > 0 {
		m.frames[n-1].deeps++
	}
}

// popDeep unwinds and closes the innermost deep frame.
func (m *VM) popDeep() {
	if n := len(m.frames); n > 0 {
		m.frames[n-1].deeps--
	}
	m.unwind()
	if n := len(m.scopeUnwind); n > 0 {
		m.scopeUnwind = m.scopeUnwind[:n-1]
	}
	if n := len(m.evalUnwind); n > 0 {
		m.evalUnwind = m.evalUnwind[:n-1]
	}
}

// unwind pops everything the innermost deep frame accumulated, leaving the
// frame open.
func (m *VM) unwind() {
	m.unwindEvalStack()
	m.unwindScopes()
	m.GC.MaybeCollect()
}

func (m *VM) unwindScopes() {
	if len(m.scopeUnwind) == 0 {
		return
	}
	total := len(m.scopeUnwind[len(m.scopeUnwind)-1])
	for i := 0; i < total; i++ {
		frame := m.scopeUnwind[len(m.scopeUnwind)-1]
		key := frame[len(frame)-1]
		m.popVMScope(key.nameSpace, key.module)
	}
}

func (m *VM) unwindEvalStack() {
	if len(m.evalUnwind) == 0 {
		return
	}
	n := m.evalUnwind[len(m.evalUnwind)-1]
	for i := 0; i < n && len(m.evalStack) > 0; i++ {
		m.evalStack = m.evalStack[:len(m.evalStack)-1]
	}
	m.evalUnwind[len(m.evalUnwind)-1] = 0
}

// ---------------------------------------------------------------------------
// Type-definition plumbing
// ---------------------------------------------------------------------------

// pushTypeDef records a declared type for the next consuming instruction and
// clears the pending array-shape accumulator.
func (m *VM) pushTypeDef(td TypeDef) {
	m.typeDefStack = append(m.typeDefStack, td)
	m.setArrayDim = nil
}

// popTypeDef consumes the most recent declared type.
func (m *VM) popTypeDef() (TypeDef, error) {
	if len(m.typeDefStack) == 0 {
		return TypeDef{}, Errorf("no declared type to consume")
	}
	td := m.typeDefStack[len(m.typeDefStack)-1]
	m.typeDefStack = m.typeDefStack[:len(m.typeDefStack)-1]
	return td, nil
}

// markNextCallSubRun consumes the pending sub-run marker for the next Call.
func (m *VM) markNextCallSubRun() bool {
	v := m.nextCallSubRun
	m.nextCallSubRun = false
	return v
}

// varRefActive reports whether the innermost reference window is open.
func (m *VM) varRefActive() bool {
	if len(m.useVarRef) == 0 {
		return false
	}
	return m.useVarRef[len(m.useVarRef)-1]
}
