package vm

import (
	"fmt"
	"os"
	"os/exec"
	"time"
)

// ---------------------------------------------------------------------------
// Built-in module protocol
// ---------------------------------------------------------------------------

// AnalyserRegistry is the analysis-side registration surface. The semantic
// analyser implements it so built-in modules can predeclare their structs and
// function signatures before any user code is checked.
type AnalyserRegistry interface {
	BackScope(nameSpace string) *Scope
	GlobalScope(module string) *Scope
	DeclareBuiltin(name string)
}

// Module is a built-in library: it registers its names with the analyser and
// its native closures with the VM.
type Module interface {
	RegisterAnalyser(reg AnalyserRegistry)
	RegisterVM(m *VM)
}

// CoreLibs maps core library names to their implementations. Libraries not
// present here (graphics, sound, input, files, http, console) are external
// collaborators: their names resolve, but registration is a no-op.
var CoreLibs = map[string]Module{
	"gc":       ModuleGC{},
	"datetime": ModuleDateTime{},
	"os":       ModuleOS{},
	"sys":      ModuleSys{},
}

// nativeBody marks built-in function definitions as having a body so the
// analyser does not report them as forward declarations without blocks.
var nativeBody any = "native"

func restAnyParam(name string) *VarDef {
	return &VarDef{TypeDef: NewTypeDef(TypeAny), Identifier: name, IsRest: true, Default: nativeBody}
}

func param(name string, td TypeDef) *VarDef {
	return &VarDef{TypeDef: td, Identifier: name}
}

func nativeFunc(identifier string, ret TypeDef, params ...ParamDef) *FunctionDef {
	return &FunctionDef{TypeDef: ret, Identifier: identifier, Params: params, Block: nativeBody}
}

// argValue reads a parameter variable of the current native call scope.
func (m *VM) argValue(name string) *Value {
	scope := m.BackScope(DefaultNameSpace)
	if scope == nil {
		return nil
	}
	v := scope.FindDeclaredVariable(name)
	if v == nil {
		return nil
	}
	return v.Value()
}

// ---------------------------------------------------------------------------
// Core built-in functions
// ---------------------------------------------------------------------------

// BuiltinModule registers the always-available functions (log, print,
// println, read, readch, len, lens, sleep, system) and predeclares the
// Entry, Exception and Context structs in the default namespace.
type BuiltinModule struct{}

func builtinDecls() []*FunctionDef {
	anyArr := NewArrayTypeDef(TypeAny, []int64{0}, "", "")
	return []*FunctionDef{
		nativeFunc("log", NewTypeDef(TypeVoid), restAnyParam("args")),
		nativeFunc("print", NewTypeDef(TypeVoid), restAnyParam("args")),
		nativeFunc("println", NewTypeDef(TypeVoid), restAnyParam("args")),
		nativeFunc("read", NewTypeDef(TypeString), restAnyParam("args")),
		nativeFunc("readch", NewTypeDef(TypeChar)),
		nativeFunc("len", NewTypeDef(TypeInt), param("it", anyArr)),
		nativeFunc("lens", NewTypeDef(TypeInt), param("it", NewTypeDef(TypeString))),
		nativeFunc("sleep", NewTypeDef(TypeVoid), param("ms", NewTypeDef(TypeInt))),
		nativeFunc("system", NewTypeDef(TypeInt), param("cmd", NewTypeDef(TypeString))),
	}
}

// RegisterAnalyser declares the built-in structs and function signatures.
func (BuiltinModule) RegisterAnalyser(reg AnalyserRegistry) {
	back := reg.BackScope(DefaultNameSpace)
	back.DeclareStruct(newEntryStructDef())
	back.DeclareStruct(newExceptionStructDef())
	back.DeclareStruct(newContextStructDef())

	global := reg.GlobalScope(BuiltinModuleName)
	for _, fn := range builtinDecls() {
		global.DeclareFunction(fn.Identifier, fn)
		reg.DeclareBuiltin(fn.Identifier)
	}
}

// RegisterVM declares the same definitions and installs the native closures.
func (BuiltinModule) RegisterVM(m *VM) {
	back := m.BackScope(DefaultNameSpace)
	back.DeclareStruct(newEntryStructDef())
	back.DeclareStruct(newExceptionStructDef())
	back.DeclareStruct(newContextStructDef())

	global := m.GlobalScope(BuiltinModuleName)
	for _, fn := range builtinDecls() {
		global.DeclareFunction(fn.Identifier, fn)
	}

	printArgs := func(m *VM, showComplex bool) {
		if args := m.argValue("args"); args != nil && args.IsArray() {
			for _, arg := range args.Arr {
				fmt.Fprint(m.Stdout, ValueString(arg, showComplex))
			}
		}
	}

	m.Builtins["log"] = func(m *VM) error {
		printArgs(m, true)
		m.pushNewConstant(NewUndefined())
		return nil
	}
	m.Builtins["print"] = func(m *VM) error {
		printArgs(m, false)
		m.pushNewConstant(NewUndefined())
		return nil
	}
	m.Builtins["println"] = func(m *VM) error {
		printArgs(m, false)
		fmt.Fprintln(m.Stdout)
		m.pushNewConstant(NewUndefined())
		return nil
	}
	m.Builtins["read"] = func(m *VM) error {
		printArgs(m, false)
		line, err := m.Stdin.ReadString('\n')
		if err != nil && line == "" {
			m.pushNewConstant(NewString(""))
			return nil
		}
		if n := len(line); n > 0 && line[n-1] == '\n' {
			line = line[:n-1]
		}
		m.pushNewConstant(NewString(line))
		return nil
	}
	m.Builtins["readch"] = func(m *VM) error {
		b, err := m.Stdin.ReadByte()
		if err != nil {
			b = 0
		}
		m.pushNewConstant(NewChar(b))
		return nil
	}
	length := func(m *VM) error {
		it := m.argValue("it")
		if it == nil {
			return Errorf("len: missing argument")
		}
		if it.IsArray() {
			m.pushNewConstant(NewInt(int64(len(it.Arr))))
		} else {
			m.pushNewConstant(NewInt(int64(len(it.S))))
		}
		return nil
	}
	m.Builtins["len"] = length
	m.Builtins["lens"] = length
	m.Builtins["sleep"] = func(m *VM) error {
		if ms := m.argValue("ms"); ms != nil {
			time.Sleep(time.Duration(ms.I) * time.Millisecond)
		}
		m.pushNewConstant(NewUndefined())
		return nil
	}
	m.Builtins["system"] = func(m *VM) error {
		cmd := m.argValue("cmd")
		if cmd == nil {
			return Errorf("system: missing argument")
		}
		c := exec.Command("sh", "-c", cmd.S)
		c.Stdout = m.Stdout
		c.Stderr = os.Stderr
		err := c.Run()
		code := int64(0)
		if err != nil {
			if exit, ok := err.(*exec.ExitError); ok {
				code = int64(exit.ExitCode())
			} else {
				code = -1
			}
		}
		m.pushNewConstant(NewInt(code))
		return nil
	}
}

// ---------------------------------------------------------------------------
// gc core library
// ---------------------------------------------------------------------------

// ModuleGC exposes collector controls to user code.
type ModuleGC struct{}

func gcDecls() []*FunctionDef {
	return []*FunctionDef{
		nativeFunc("gc_is_enabled", NewTypeDef(TypeBool)),
		nativeFunc("gc_enable", NewTypeDef(TypeVoid), param("enable", NewTypeDef(TypeBool))),
		nativeFunc("gc_collect", NewTypeDef(TypeVoid)),
		nativeFunc("gc_maybe_collect", NewTypeDef(TypeVoid)),
		nativeFunc("gc_get_max_heap", NewTypeDef(TypeInt)),
		nativeFunc("gc_set_max_heap", NewTypeDef(TypeVoid), param("max_heap", NewTypeDef(TypeInt))),
	}
}

// RegisterAnalyser declares the gc function signatures.
func (ModuleGC) RegisterAnalyser(reg AnalyserRegistry) {
	global := reg.GlobalScope(BuiltinModuleName)
	for _, fn := range gcDecls() {
		global.DeclareFunction(fn.Identifier, fn)
		reg.DeclareBuiltin(fn.Identifier)
	}
}

// RegisterVM installs the gc natives.
func (ModuleGC) RegisterVM(m *VM) {
	global := m.GlobalScope(BuiltinModuleName)
	for _, fn := range gcDecls() {
		global.DeclareFunction(fn.Identifier, fn)
	}

	m.Builtins["gc_is_enabled"] = func(m *VM) error {
		m.pushNewConstant(NewBool(m.GC.Enabled()))
		return nil
	}
	m.Builtins["gc_enable"] = func(m *VM) error {
		if v := m.argValue("enable"); v != nil {
			m.GC.SetEnabled(v.B)
		}
		m.pushNewConstant(NewUndefined())
		return nil
	}
	m.Builtins["gc_collect"] = func(m *VM) error {
		m.GC.Collect()
		m.pushNewConstant(NewUndefined())
		return nil
	}
	m.Builtins["gc_maybe_collect"] = func(m *VM) error {
		m.GC.MaybeCollect()
		m.pushNewConstant(NewUndefined())
		return nil
	}
	m.Builtins["gc_get_max_heap"] = func(m *VM) error {
		m.pushNewConstant(NewInt(int64(m.GC.Threshold())))
		return nil
	}
	m.Builtins["gc_set_max_heap"] = func(m *VM) error {
		if v := m.argValue("max_heap"); v != nil {
			m.GC.SetThreshold(int(v.I))
		}
		m.pushNewConstant(NewUndefined())
		return nil
	}
}

// ---------------------------------------------------------------------------
// datetime core library
// ---------------------------------------------------------------------------

// ModuleDateTime exposes wall-clock helpers and the DateTime struct.
type ModuleDateTime struct{}

func newDateTimeStructDef() *StructDef {
	def := NewStructDef("DateTime")
	for _, f := range []string{"timestamp", "second", "minute", "hour", "day", "month", "year", "week_day", "year_day"} {
		def.DeclareField(&VarDef{TypeDef: NewTypeDef(TypeInt), Identifier: f})
	}
	return def
}

func dateTimeDecls() []*FunctionDef {
	dt := NewObjectTypeDef(TypeStruct, DefaultNameSpace, "DateTime")
	return []*FunctionDef{
		nativeFunc("create_date_time", dt),
		nativeFunc("create_date_time", dt, param("timestamp", NewTypeDef(TypeInt))),
		nativeFunc("diff_date_time", NewTypeDef(TypeInt), param("left_date_time", dt), param("right_date_time", dt)),
		nativeFunc("ascii_date_time", NewTypeDef(TypeString), param("date_time", dt)),
		nativeFunc("clock", NewTypeDef(TypeInt)),
	}
}

// RegisterAnalyser declares the DateTime struct and function signatures.
func (ModuleDateTime) RegisterAnalyser(reg AnalyserRegistry) {
	reg.BackScope(DefaultNameSpace).DeclareStruct(newDateTimeStructDef())
	global := reg.GlobalScope(BuiltinModuleName)
	for _, fn := range dateTimeDecls() {
		global.DeclareFunction(fn.Identifier, fn)
		reg.DeclareBuiltin(fn.Identifier)
	}
}

// RegisterVM installs the datetime natives.
func (ModuleDateTime) RegisterVM(m *VM) {
	if back := m.BackScope(DefaultNameSpace); back != nil {
		back.DeclareStruct(newDateTimeStructDef())
	} else {
		m.GlobalScope(BuiltinModuleName).DeclareStruct(newDateTimeStructDef())
	}
	global := m.GlobalScope(BuiltinModuleName)
	for _, fn := range dateTimeDecls() {
		global.DeclareFunction(fn.Identifier, fn)
	}

	buildDateTime := func(m *VM, t time.Time) *Value {
		fields := NewStructValue()
		set := func(name string, v int64) {
			fv := m.GC.AllocateVariable(NewVariable(name, NewTypeDef(TypeInt)))
			fv.Set(m.GC.Allocate(NewInt(v)))
			fields.Declare(name, fv)
		}
		set("timestamp", t.Unix())
		set("second", int64(t.Second()))
		set("minute", int64(t.Minute()))
		set("hour", int64(t.Hour()))
		set("day", int64(t.Day()))
		set("month", int64(t.Month()))
		set("year", int64(t.Year()))
		set("week_day", int64(t.Weekday()))
		set("year_day", int64(t.YearDay()))
		return NewStruct(fields, DefaultNameSpace, "DateTime")
	}

	m.Builtins["create_date_time"] = func(m *VM) error {
		t := time.Now()
		if ts := m.argValue("timestamp"); ts != nil {
			t = time.Unix(ts.I, 0)
		}
		m.pushNewConstant(buildDateTime(m, t))
		return nil
	}
	m.Builtins["diff_date_time"] = func(m *VM) error {
		l := m.argValue("left_date_time")
		r := m.argValue("right_date_time")
		if l == nil || r == nil || l.Str == nil || r.Str == nil {
			return Errorf("diff_date_time: expected DateTime values")
		}
		lt := l.Str.Find("timestamp").Value().I
		rt := r.Str.Find("timestamp").Value().I
		m.pushNewConstant(NewInt(lt - rt))
		return nil
	}
	m.Builtins["ascii_date_time"] = func(m *VM) error {
		v := m.argValue("date_time")
		if v == nil || v.Str == nil {
			return Errorf("ascii_date_time: expected DateTime value")
		}
		t := time.Unix(v.Str.Find("timestamp").Value().I, 0)
		m.pushNewConstant(NewString(t.Format(time.ANSIC)))
		return nil
	}
	m.Builtins["clock"] = func(m *VM) error {
		m.pushNewConstant(NewInt(time.Now().UnixMilli()))
		return nil
	}
}

// ---------------------------------------------------------------------------
// os core library
// ---------------------------------------------------------------------------

// ModuleOS exposes the host environment.
type ModuleOS struct{}

func osDecls() []*FunctionDef {
	return []*FunctionDef{
		nativeFunc("os_name", NewTypeDef(TypeString)),
		nativeFunc("os_cwd", NewTypeDef(TypeString)),
		nativeFunc("os_getenv", NewTypeDef(TypeString), param("name", NewTypeDef(TypeString))),
	}
}

// RegisterAnalyser declares the os function signatures.
func (ModuleOS) RegisterAnalyser(reg AnalyserRegistry) {
	global := reg.GlobalScope(BuiltinModuleName)
	for _, fn := range osDecls() {
		global.DeclareFunction(fn.Identifier, fn)
		reg.DeclareBuiltin(fn.Identifier)
	}
}

// RegisterVM installs the os natives.
func (ModuleOS) RegisterVM(m *VM) {
	global := m.GlobalScope(BuiltinModuleName)
	for _, fn := range osDecls() {
		global.DeclareFunction(fn.Identifier, fn)
	}

	m.Builtins["os_name"] = func(m *VM) error {
		m.pushNewConstant(NewString("linux"))
		return nil
	}
	m.Builtins["os_cwd"] = func(m *VM) error {
		wd, _ := os.Getwd()
		m.pushNewConstant(NewString(wd))
		return nil
	}
	m.Builtins["os_getenv"] = func(m *VM) error {
		name := m.argValue("name")
		if name == nil {
			return Errorf("os_getenv: missing argument")
		}
		m.pushNewConstant(NewString(os.Getenv(name.S)))
		return nil
	}
}

// ---------------------------------------------------------------------------
// sys core library
// ---------------------------------------------------------------------------

// ModuleSys exposes the program arguments passed to the VM.
type ModuleSys struct{}

func sysDecls() []*FunctionDef {
	return []*FunctionDef{
		nativeFunc("sys_argv", NewArrayTypeDef(TypeString, []int64{0}, "", "")),
	}
}

// RegisterAnalyser declares the sys function signatures.
func (ModuleSys) RegisterAnalyser(reg AnalyserRegistry) {
	global := reg.GlobalScope(BuiltinModuleName)
	for _, fn := range sysDecls() {
		global.DeclareFunction(fn.Identifier, fn)
		reg.DeclareBuiltin(fn.Identifier)
	}
}

// RegisterVM installs the sys natives.
func (ModuleSys) RegisterVM(m *VM) {
	global := m.GlobalScope(BuiltinModuleName)
	for _, fn := range sysDecls() {
		global.DeclareFunction(fn.Identifier, fn)
	}

	m.Builtins["sys_argv"] = func(m *VM) error {
		elems := make([]*Value, len(m.Args))
		for i, a := range m.Args {
			elems[i] = m.GC.Allocate(NewString(a))
		}
		m.pushNewConstant(NewArray(elems, TypeString, []int64{int64(len(elems))}, "", ""))
		return nil
	}
}
