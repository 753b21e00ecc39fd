package vm

// ---------------------------------------------------------------------------
// Definitions held by scope symbol tables
// ---------------------------------------------------------------------------

// ParamDef is a function parameter: either a plain VarDef or an UnpackDef
// that destructures a struct argument into several variables.
type ParamDef interface {
	ParamType() TypeDef
}

// VarDef declares a single named slot with an optional default. The default
// lives as a front-end expression before compilation (Default) and as a
// compiled snippet entry PC afterwards (DefaultPC).
type VarDef struct {
	TypeDef
	Identifier string
	IsRest     bool
	DefaultPC  int
	Default    any
}

// ParamType returns the declared type of the parameter.
func (v *VarDef) ParamType() TypeDef { return v.TypeDef }

// HasDefault reports whether the parameter can be omitted at a call site.
func (v *VarDef) HasDefault() bool { return v.DefaultPC > 0 || v.Default != nil }

// UnpackDef declares a destructuring parameter: the struct-typed argument is
// unpacked into the listed variables by field name.
type UnpackDef struct {
	TypeDef
	Variables []*VarDef
}

// ParamType returns the declared struct type of the unpack parameter.
func (u *UnpackDef) ParamType() TypeDef { return u.TypeDef }

// FunctionDef is one overload of a function: return type, ordered parameter
// list, and either a front-end body (Block, before compilation) or a bytecode
// entry PC (Pointer, at run time; 0 means no body, i.e. a built-in or a
// forward declaration).
type FunctionDef struct {
	TypeDef
	Identifier string
	Params     []ParamDef
	Pointer    int
	Block      any
}

// StructDef is a named struct type: an ordered field list.
type StructDef struct {
	Identifier string
	FieldNames []string
	Fields     map[string]*VarDef
}

// NewStructDef creates an empty struct definition.
func NewStructDef(identifier string) *StructDef {
	return &StructDef{Identifier: identifier, Fields: make(map[string]*VarDef)}
}

// DeclareField appends a field; re-declaring keeps the original position.
func (s *StructDef) DeclareField(v *VarDef) {
	if _, ok := s.Fields[v.Identifier]; !ok {
		s.FieldNames = append(s.FieldNames, v.Identifier)
	}
	s.Fields[v.Identifier] = v
}

// ClassDef is a named class type: ordered field definitions plus a scope
// holding the method overloads. Decls and Funcs carry the front-end nodes
// between analysis passes.
type ClassDef struct {
	Identifier string
	VarNames   []string
	Variables  map[string]*VarDef
	Functions  *Scope
	Decls      any
	Funcs      any
}

// NewClassDef creates an empty class definition.
func NewClassDef(identifier string) *ClassDef {
	return &ClassDef{Identifier: identifier, Variables: make(map[string]*VarDef)}
}

// DeclareVariable appends a class field definition.
func (c *ClassDef) DeclareVariable(v *VarDef) {
	if _, ok := c.Variables[v.Identifier]; !ok {
		c.VarNames = append(c.VarNames, v.Identifier)
	}
	c.Variables[v.Identifier] = v
}

// ---------------------------------------------------------------------------
// Scope
// ---------------------------------------------------------------------------

// Scope is a single-level symbol table for a (namespace, module) pair. It
// owns four tables: variables, struct definitions, class definitions
// (exact-name, unique) and functions (multi-map, overloads in insertion
// order). Class instances are scopes with IsClass set.
type Scope struct {
	NameSpace string
	Module    string
	IsClass   bool

	variables map[string]*Variable
	varNames  []string
	structs   map[string]*StructDef
	classes   map[string]*ClassDef
	functions map[string][]*FunctionDef
	funcNames []string
}

// NewScope creates an empty scope for the given namespace and module.
func NewScope(nameSpace, module string) *Scope {
	return &Scope{
		NameSpace: nameSpace,
		Module:    module,
		variables: make(map[string]*Variable),
		structs:   make(map[string]*StructDef),
		classes:   make(map[string]*ClassDef),
		functions: make(map[string][]*FunctionDef),
	}
}

// NewClassScope creates the scope backing a class instance.
func NewClassScope(nameSpace, module string) *Scope {
	s := NewScope(nameSpace, module)
	s.IsClass = true
	return s
}

// AlreadyDeclaredVariable reports whether the identifier has a variable here.
func (s *Scope) AlreadyDeclaredVariable(identifier string) bool {
	_, ok := s.variables[identifier]
	return ok
}

// AlreadyDeclaredStruct reports whether the identifier names a struct here.
func (s *Scope) AlreadyDeclaredStruct(identifier string) bool {
	_, ok := s.structs[identifier]
	return ok
}

// AlreadyDeclaredClass reports whether the identifier names a class here.
func (s *Scope) AlreadyDeclaredClass(identifier string) bool {
	_, ok := s.classes[identifier]
	return ok
}

// AlreadyDeclaredFunction reports whether any overload satisfies the
// signature. A nil signature matches any overload of the name.
func (s *Scope) AlreadyDeclaredFunction(identifier string, signature []TypeDef, strict bool) bool {
	_, err := s.FindDeclaredFunction(identifier, signature, strict)
	return err == nil
}

// DeclareVariable binds a variable in this scope.
func (s *Scope) DeclareVariable(identifier string, v *Variable) {
	if _, ok := s.variables[identifier]; !ok {
		s.varNames = append(s.varNames, identifier)
	}
	s.variables[identifier] = v
}

// DeclareStruct binds a struct definition.
func (s *Scope) DeclareStruct(def *StructDef) {
	s.structs[def.Identifier] = def
}

// DeclareClass binds a class definition.
func (s *Scope) DeclareClass(def *ClassDef) {
	s.classes[def.Identifier] = def
}

// DeclareFunction appends an overload; insertion order is the dispatch
// tiebreaker.
func (s *Scope) DeclareFunction(identifier string, def *FunctionDef) {
	if _, ok := s.functions[identifier]; !ok {
		s.funcNames = append(s.funcNames, identifier)
	}
	s.functions[identifier] = append(s.functions[identifier], def)
}

// FindDeclaredVariable returns the variable or nil.
func (s *Scope) FindDeclaredVariable(identifier string) *Variable {
	return s.variables[identifier]
}

// FindDeclaredStruct returns the struct definition or nil.
func (s *Scope) FindDeclaredStruct(identifier string) *StructDef {
	return s.structs[identifier]
}

// FindDeclaredClass returns the class definition or nil.
func (s *Scope) FindDeclaredClass(identifier string) *ClassDef {
	return s.classes[identifier]
}

// VariableNames returns the declared variable names in insertion order.
func (s *Scope) VariableNames() []string {
	return s.varNames
}

// FunctionNames returns the declared function names in insertion order.
func (s *Scope) FunctionNames() []string {
	return s.funcNames
}

// Overloads returns all overloads declared for the identifier.
func (s *Scope) Overloads(identifier string) []*FunctionDef {
	return s.functions[identifier]
}

// TotalDeclaredVariables returns the number of variables bound here.
func (s *Scope) TotalDeclaredVariables() int {
	return len(s.variables)
}

// ---------------------------------------------------------------------------
// Overload resolution
// ---------------------------------------------------------------------------

// FindDeclaredFunction resolves one overload of identifier against the call
// signature. Candidates are tried in insertion order; for each candidate the
// passes are: exact arity, then rest broadcast, then default filling. The
// first satisfying candidate wins.
func (s *Scope) FindDeclaredFunction(identifier string, signature []TypeDef, strict bool) (*FunctionDef, error) {
	overloads := s.functions[identifier]
	if len(overloads) == 0 {
		return nil, Errorf("definition of '%s' function signature not found", identifier)
	}

	for _, fn := range overloads {
		if signature == nil {
			return fn, nil
		}
		if matchExactArity(fn, signature, strict) ||
			matchRest(fn, signature, strict) ||
			matchDefaultFilled(fn, signature, strict) {
			return fn, nil
		}
	}

	return nil, Errorf("no '%s' overload accepts %s", identifier, BuildSignature(identifier, signature))
}

func matchExactArity(fn *FunctionDef, signature []TypeDef, strict bool) bool {
	if len(fn.Params) != len(signature) {
		return false
	}
	for i, p := range fn.Params {
		if !p.ParamType().IsAnyOrMatchTypeDef(signature[i], strict) {
			return false
		}
	}
	return true
}

// matchRest accepts calls longer than the parameter list when the last
// parameter is marked rest; its declared element type is broadcast over the
// tail of the call signature.
func matchRest(fn *FunctionDef, signature []TypeDef, strict bool) bool {
	if len(fn.Params) < 1 || len(fn.Params) >= len(signature) {
		return false
	}
	var ftype TypeDef
	rest := false
	for i := range signature {
		if !rest {
			if i >= len(fn.Params) {
				return false
			}
			ftype = fn.Params[i].ParamType()
			if v, ok := fn.Params[i].(*VarDef); ok && v.IsRest {
				rest = true
				if ftype.IsArray() {
					ftype = ftype.ElementType()
				}
			} else if i == len(fn.Params)-1 {
				return false
			}
		}
		if !ftype.IsAnyOrMatchTypeDef(signature[i], strict) {
			return false
		}
	}
	return rest
}

// matchDefaultFilled accepts calls shorter than the parameter list when every
// unsupplied parameter carries a default value.
func matchDefaultFilled(fn *FunctionDef, signature []TypeDef, strict bool) bool {
	if len(fn.Params) <= len(signature) {
		return false
	}
	for i, p := range fn.Params {
		if i < len(signature) {
			if !p.ParamType().IsAnyOrMatchTypeDef(signature[i], strict) {
				return false
			}
			continue
		}
		v, ok := p.(*VarDef)
		if !ok || !v.HasDefault() {
			return false
		}
	}
	return true
}
