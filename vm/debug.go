package vm

import "strconv"

// ---------------------------------------------------------------------------
// Per-PC debug metadata
// ---------------------------------------------------------------------------

// DebugInfo is one resolved debug record: where an instruction came from and
// what identifier it concerns.
type DebugInfo struct {
	ModuleNameSpace string
	ModuleName      string
	ASTKind         string
	AccessNameSpace string
	Identifier      string
	Row             int
	Col             int
}

// BuildErrorMessage renders "Kind: msg\n at ident (ns::module:row:col)".
func (d DebugInfo) BuildErrorMessage(errorType, message string) string {
	return errorType + ": " + message + d.BuildErrorTail()
}

// BuildErrorTail renders one " at ..." stack line for this record.
func (d DebugInfo) BuildErrorTail() string {
	tail := "\n at "
	if d.Identifier == "" {
		tail += d.ASTKind
	} else {
		tail += d.Identifier
	}
	tail += " ("
	if d.ModuleNameSpace != DefaultNameSpace && d.ModuleNameSpace != "" {
		tail += d.ModuleNameSpace + "::"
	}
	tail += d.ModuleName + ":" + strconv.Itoa(d.Row) + ":" + strconv.Itoa(d.Col) + ")"
	return tail
}

// debugEntry is the interned form stored per PC.
type debugEntry struct {
	nameSpaceIx int
	moduleIx    int
	kindIx      int
	accessIx    int
	identifier  string
	row         int
	col         int
}

// DebugTable is the PC-indexed table of debug records. Namespaces, modules
// and AST kinds are interned; indices are assigned on first use.
type DebugTable struct {
	nameSpaces  []string
	modules     []string
	kinds       []string
	nameSpaceIx map[string]int
	moduleIx    map[string]int
	kindIx      map[string]int

	entries map[int]debugEntry
}

// NewDebugTable creates an empty table.
func NewDebugTable() *DebugTable {
	return &DebugTable{
		nameSpaceIx: make(map[string]int),
		moduleIx:    make(map[string]int),
		kindIx:      make(map[string]int),
		entries:     make(map[int]debugEntry),
	}
}

// AddNameSpace interns a namespace and returns its index.
func (t *DebugTable) AddNameSpace(ns string) int {
	if ix, ok := t.nameSpaceIx[ns]; ok {
		return ix
	}
	t.nameSpaces = append(t.nameSpaces, ns)
	t.nameSpaceIx[ns] = len(t.nameSpaces) - 1
	return len(t.nameSpaces) - 1
}

// AddModule interns a module name and returns its index.
func (t *DebugTable) AddModule(module string) int {
	if ix, ok := t.moduleIx[module]; ok {
		return ix
	}
	t.modules = append(t.modules, module)
	t.moduleIx[module] = len(t.modules) - 1
	return len(t.modules) - 1
}

// AddKind interns an AST kind label and returns its index.
func (t *DebugTable) AddKind(kind string) int {
	if ix, ok := t.kindIx[kind]; ok {
		return ix
	}
	t.kinds = append(t.kinds, kind)
	t.kindIx[kind] = len(t.kinds) - 1
	return len(t.kinds) - 1
}

// Set records the debug info for a PC.
func (t *DebugTable) Set(pc int, info DebugInfo) {
	t.entries[pc] = debugEntry{
		nameSpaceIx: t.AddNameSpace(info.ModuleNameSpace),
		moduleIx:    t.AddModule(info.ModuleName),
		kindIx:      t.AddKind(info.ASTKind),
		accessIx:    t.AddNameSpace(info.AccessNameSpace),
		identifier:  info.Identifier,
		row:         info.Row,
		col:         info.Col,
	}
}

// Get resolves the debug info recorded for a PC.
func (t *DebugTable) Get(pc int) DebugInfo {
	e, ok := t.entries[pc]
	if !ok {
		return DebugInfo{}
	}
	return DebugInfo{
		ModuleNameSpace: t.nameSpace(e.nameSpaceIx),
		ModuleName:      t.module(e.moduleIx),
		ASTKind:         t.kind(e.kindIx),
		AccessNameSpace: t.nameSpace(e.accessIx),
		Identifier:      e.identifier,
		Row:             e.row,
		Col:             e.col,
	}
}

// Rewrite replaces the identifier and access namespace of the record at pc,
// keeping its position. The VM uses this to stamp call sites with the
// resolved callee before pushing the call stack entry.
func (t *DebugTable) Rewrite(pc int, accessNameSpace, identifier string, row, col int) {
	e := t.entries[pc]
	e.accessIx = t.AddNameSpace(accessNameSpace)
	e.kindIx = t.AddKind("<call>")
	e.identifier = identifier
	e.row = row
	e.col = col
	t.entries[pc] = e
}

// Len returns the number of PCs with debug records.
func (t *DebugTable) Len() int {
	return len(t.entries)
}

func (t *DebugTable) nameSpace(ix int) string {
	if ix >= 0 && ix < len(t.nameSpaces) {
		return t.nameSpaces[ix]
	}
	return ""
}

func (t *DebugTable) module(ix int) string {
	if ix >= 0 && ix < len(t.modules) {
		return t.modules[ix]
	}
	return ""
}

func (t *DebugTable) kind(ix int) string {
	if ix >= 0 && ix < len(t.kinds) {
		return t.kinds[ix]
	}
	return ""
}
