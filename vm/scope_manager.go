package vm

// ---------------------------------------------------------------------------
// ScopeManager: stacked symbol tables per namespace and module
// ---------------------------------------------------------------------------

// ScopeManager maintains three indices over live scopes plus each module's
// ordered list of included namespaces.
//
//   - scopes: namespace -> stack of live scopes, popped with their blocks.
//   - moduleScopes: module -> stack of live scopes; the head of the stack is
//     the module's global scope.
//   - globalModuleScopes: namespace -> each module's global scope, kept for
//     the whole run for cross-module function lookup.
//
// Unqualified resolution searches the current module's stack first, then each
// included namespace in inclusion order. Qualified resolution searches the
// named namespace only.
type ScopeManager struct {
	scopes             map[string][]*Scope
	moduleScopes       map[string][]*Scope
	globalModuleScopes map[string][]*Scope
	includedNameSpaces map[string][]string
}

// NewScopeManager creates an empty scope manager.
func NewScopeManager() *ScopeManager {
	return &ScopeManager{
		scopes:             make(map[string][]*Scope),
		moduleScopes:       make(map[string][]*Scope),
		globalModuleScopes: make(map[string][]*Scope),
		includedNameSpaces: make(map[string][]string),
	}
}

// PushScope makes scope the innermost scope of its namespace and module. The
// first scope pushed for a module becomes its global scope.
func (m *ScopeManager) PushScope(scope *Scope) {
	m.moduleScopes[scope.Module] = append(m.moduleScopes[scope.Module], scope)
	if len(m.moduleScopes[scope.Module]) == 1 {
		m.globalModuleScopes[scope.NameSpace] = append(m.globalModuleScopes[scope.NameSpace], scope)
	}
	m.scopes[scope.NameSpace] = append(m.scopes[scope.NameSpace], scope)
}

// PopScope removes the innermost scope of the namespace and module.
func (m *ScopeManager) PopScope(nameSpace, module string) {
	if st := m.moduleScopes[module]; len(st) > 0 {
		m.moduleScopes[module] = st[:len(st)-1]
	}
	if st := m.scopes[nameSpace]; len(st) > 0 {
		m.scopes[nameSpace] = st[:len(st)-1]
	}
}

// BackScope returns the innermost live scope of the namespace.
func (m *ScopeManager) BackScope(nameSpace string) *Scope {
	st := m.scopes[nameSpace]
	if len(st) == 0 {
		return nil
	}
	return st[len(st)-1]
}

// GlobalScope returns the module's global (first-pushed) scope.
func (m *ScopeManager) GlobalScope(module string) *Scope {
	st := m.moduleScopes[module]
	if len(st) == 0 {
		return nil
	}
	return st[0]
}

// IncludeNameSpace appends a namespace to the module's inclusion list.
func (m *ScopeManager) IncludeNameSpace(module, nameSpace string) {
	m.includedNameSpaces[module] = append(m.includedNameSpaces[module], nameSpace)
}

// ExcludeNameSpace removes the first occurrence of a namespace from the
// module's inclusion list.
func (m *ScopeManager) ExcludeNameSpace(module, nameSpace string) {
	list := m.includedNameSpaces[module]
	for i, ns := range list {
		if ns == nameSpace {
			m.includedNameSpaces[module] = append(list[:i:i], list[i+1:]...)
			return
		}
	}
}

// IncludedNameSpaces returns the module's inclusion list in order.
func (m *ScopeManager) IncludedNameSpaces(module string) []string {
	return m.includedNameSpaces[module]
}

// HasNameSpace reports whether any scope was ever pushed for the namespace.
func (m *ScopeManager) HasNameSpace(nameSpace string) bool {
	_, ok := m.scopes[nameSpace]
	return ok
}

// ---------------------------------------------------------------------------
// Lookup
// ---------------------------------------------------------------------------

type declaredPred func(scope *Scope, identifier string) bool

func (m *ScopeManager) findInNameSpace(nameSpace, identifier string, visited map[string]bool, scopeMap map[string][]*Scope, pred declaredPred) *Scope {
	if visited[nameSpace] {
		return nil
	}
	visited[nameSpace] = true

	st := scopeMap[nameSpace]
	for i := len(st) - 1; i >= 0; i-- {
		if pred(st[i], identifier) {
			return st[i]
		}
	}
	return nil
}

// innerMostScope resolves an identifier: through the access namespace when
// one is given and differs from the module's own, otherwise through the
// current module's stack followed by its included namespaces.
func (m *ScopeManager) innerMostScope(moduleNameSpace, module, accessNameSpace, identifier string, pred declaredPred) *Scope {
	visited := make(map[string]bool)

	if accessNameSpace != "" && accessNameSpace != moduleNameSpace {
		return m.findInNameSpace(accessNameSpace, identifier, visited, m.scopes, pred)
	}

	if scope := m.findInNameSpace(module, identifier, visited, m.moduleScopes, pred); scope != nil {
		return scope
	}
	for _, ns := range m.includedNameSpaces[module] {
		if scope := m.findInNameSpace(ns, identifier, visited, m.scopes, pred); scope != nil {
			return scope
		}
	}
	return nil
}

// InnerMostVariableScope resolves a variable by exact name.
func (m *ScopeManager) InnerMostVariableScope(moduleNameSpace, module, accessNameSpace, identifier string) *Scope {
	return m.innerMostScope(moduleNameSpace, module, accessNameSpace, identifier,
		func(s *Scope, id string) bool { return s.AlreadyDeclaredVariable(id) })
}

// InnerMostStructScope resolves a struct definition by exact name.
func (m *ScopeManager) InnerMostStructScope(moduleNameSpace, module, accessNameSpace, identifier string) *Scope {
	return m.innerMostScope(moduleNameSpace, module, accessNameSpace, identifier,
		func(s *Scope, id string) bool { return s.AlreadyDeclaredStruct(id) })
}

// InnerMostClassScope resolves a class definition by exact name.
func (m *ScopeManager) InnerMostClassScope(moduleNameSpace, module, accessNameSpace, identifier string) *Scope {
	return m.innerMostScope(moduleNameSpace, module, accessNameSpace, identifier,
		func(s *Scope, id string) bool { return s.AlreadyDeclaredClass(id) })
}

// InnerMostFunctionScope resolves a function overload against a call
// signature. Function lookup goes through module global scopes only: the
// current module's global scope first, then each included namespace's module
// globals. A nil signature accepts any overload of the name.
func (m *ScopeManager) InnerMostFunctionScope(moduleNameSpace, module, accessNameSpace, identifier string, signature []TypeDef, strict bool) *Scope {
	visited := make(map[string]bool)
	pred := func(s *Scope, id string) bool { return s.AlreadyDeclaredFunction(id, signature, strict) }

	if accessNameSpace != "" && accessNameSpace != moduleNameSpace {
		return m.findInNameSpace(accessNameSpace, identifier, visited, m.globalModuleScopes, pred)
	}

	if st := m.moduleScopes[module]; len(st) > 0 && pred(st[0], identifier) {
		return st[0]
	}
	for _, ns := range m.includedNameSpaces[module] {
		if scope := m.findInNameSpace(ns, identifier, visited, m.globalModuleScopes, pred); scope != nil {
			return scope
		}
	}
	return nil
}

// FindInnerMostStruct resolves and returns a struct definition.
func (m *ScopeManager) FindInnerMostStruct(moduleNameSpace, module, accessNameSpace, identifier string) (*StructDef, error) {
	scope := m.InnerMostStructScope(moduleNameSpace, module, accessNameSpace, identifier)
	if scope == nil {
		return nil, Errorf("struct '%s' not found", identifier)
	}
	return scope.FindDeclaredStruct(identifier), nil
}

// FindInnerMostVariable resolves and returns a variable.
func (m *ScopeManager) FindInnerMostVariable(moduleNameSpace, module, accessNameSpace, identifier string) (*Variable, error) {
	scope := m.InnerMostVariableScope(moduleNameSpace, module, accessNameSpace, identifier)
	if scope == nil {
		return nil, Errorf("variable '%s' not found", identifier)
	}
	return scope.FindDeclaredVariable(identifier), nil
}

// LiveScopes enumerates every currently live scope across all namespaces.
// Scopes shared between indices are reported once.
func (m *ScopeManager) LiveScopes() []*Scope {
	seen := make(map[*Scope]bool)
	var out []*Scope
	for _, st := range m.scopes {
		for _, s := range st {
			if !seen[s] {
				seen[s] = true
				out = append(out, s)
			}
		}
	}
	return out
}
