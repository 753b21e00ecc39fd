package vm

// ---------------------------------------------------------------------------
// Reserved names
// ---------------------------------------------------------------------------

const (
	// DefaultNameSpace is the namespace every module includes implicitly; the
	// built-in structs and functions live here.
	DefaultNameSpace = "default"

	// StdNameSpace is the reserved namespace of the standard library.
	StdNameSpace = "std"

	// BuiltinModuleName is the module that owns the built-in function scope.
	BuiltinModuleName = "builtin"
)

// Built-in struct names, predeclared in the default namespace.
const (
	StructEntry     = "Entry"
	StructException = "Exception"
	StructContext   = "Context"
)

// Field names of the built-in structs.
const (
	FieldKey   = "key"
	FieldValue = "value"

	FieldError = "error"
	FieldCode  = "code"

	FieldName      = "name"
	FieldNameSpace = "ns"
	FieldType      = "type"
)

// CoreLibNames lists the lazily registered core libraries. Only a subset has
// native implementations here; the remaining names exist so front ends can
// resolve `using` directives against the full set.
var CoreLibNames = []string{
	"gc",
	"graphics",
	"files",
	"console",
	"datetime",
	"input",
	"sound",
	"http",
	"sys",
	"os",
}

// IsCoreLib reports whether name is a core library.
func IsCoreLib(name string) bool {
	for _, n := range CoreLibNames {
		if n == name {
			return true
		}
	}
	return false
}

// newEntryStructDef describes the Entry{key, value} iterator struct.
func newEntryStructDef() *StructDef {
	def := NewStructDef(StructEntry)
	def.DeclareField(&VarDef{TypeDef: NewTypeDef(TypeString), Identifier: FieldKey})
	def.DeclareField(&VarDef{TypeDef: NewTypeDef(TypeAny), Identifier: FieldValue})
	return def
}

// newExceptionStructDef describes the Exception{error, code} struct.
func newExceptionStructDef() *StructDef {
	def := NewStructDef(StructException)
	def.DeclareField(&VarDef{TypeDef: NewTypeDef(TypeString), Identifier: FieldError})
	def.DeclareField(&VarDef{TypeDef: NewTypeDef(TypeInt), Identifier: FieldCode})
	return def
}

// newContextStructDef describes the Context{name, ns, type} struct built by
// the `this` expression.
func newContextStructDef() *StructDef {
	def := NewStructDef(StructContext)
	def.DeclareField(&VarDef{TypeDef: NewTypeDef(TypeString), Identifier: FieldName})
	def.DeclareField(&VarDef{TypeDef: NewTypeDef(TypeString), Identifier: FieldNameSpace})
	def.DeclareField(&VarDef{TypeDef: NewTypeDef(TypeString), Identifier: FieldType})
	return def
}
