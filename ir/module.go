// Package ir defines the typed bytecode intermediate representation that
// the patching pipeline consumes: modules, type and member definitions,
// and a structured instruction stream.
//
// Reference identity is always the fully-qualified name. Metadata tokens
// are compile-local and differ between two independent compilations of
// identical source; nothing in the pipeline may compare them.
package ir

import (
	"fmt"
	"strings"
)

// ---------------------------------------------------------------------------
// References
// ---------------------------------------------------------------------------

// TypeRef is an embedded reference to a type.
type TypeRef struct {
	Name  string `cbor:"1,keyasint"`           // fully-qualified type name
	Token uint32 `cbor:"2,keyasint,omitempty"` // compile-local metadata token
}

// MethodRef is an embedded reference to a method.
type MethodRef struct {
	Type  string `cbor:"1,keyasint"` // fully-qualified owner type name
	Name  string `cbor:"2,keyasint"`
	Arity int    `cbor:"3,keyasint"` // parameter count, not counting self
	Token uint32 `cbor:"4,keyasint,omitempty"`
}

// Sig returns the canonical signature string for the referenced method.
func (r MethodRef) Sig() string {
	return fmt.Sprintf("%s.%s/%d", r.Type, r.Name, r.Arity)
}

// FieldRef is an embedded reference to a field.
type FieldRef struct {
	Type  string `cbor:"1,keyasint"` // fully-qualified owner type name
	Name  string `cbor:"2,keyasint"`
	Token uint32 `cbor:"3,keyasint,omitempty"`
}

// Key returns the canonical "Type.Name" key for the referenced field.
func (r FieldRef) Key() string {
	return r.Type + "." + r.Name
}

// Instantiation is a call-site reference to a generic method together
// with its concrete type arguments.
type Instantiation struct {
	Method   MethodRef `cbor:"1,keyasint"`
	TypeArgs []string  `cbor:"2,keyasint"` // fully-qualified argument type names
}

// ---------------------------------------------------------------------------
// Instructions
// ---------------------------------------------------------------------------

// Instr is a single IR instruction. Which operand fields are meaningful
// is determined by Op.Kind(); the rest stay at their zero value.
type Instr struct {
	Op Opcode `cbor:"1,keyasint"`

	Int     int64          `cbor:"2,keyasint,omitempty"`  // OperandInt, OperandLocal
	Float   float64        `cbor:"3,keyasint,omitempty"`  // OperandFloat
	Float32 float32        `cbor:"4,keyasint,omitempty"`  // OperandFloat32
	Str     string         `cbor:"5,keyasint,omitempty"`  // OperandString
	Target  int            `cbor:"6,keyasint,omitempty"`  // OperandBranch (relative offset)
	Type    TypeRef        `cbor:"7,keyasint,omitempty"`  // OperandType
	Field   FieldRef       `cbor:"8,keyasint,omitempty"`  // OperandField
	Method  MethodRef      `cbor:"9,keyasint,omitempty"`  // OperandMethod
	Inst    *Instantiation `cbor:"10,keyasint,omitempty"` // OperandInstantiation
}

// ---------------------------------------------------------------------------
// Members
// ---------------------------------------------------------------------------

// MethodFlags describe attributes of a method definition.
type MethodFlags uint16

const (
	FlagStatic         MethodFlags = 1 << iota // no receiver
	FlagCtor                                   // constructor
	FlagAccessor                               // trivial getter/setter
	FlagNoInline                               // must not be inlined
	FlagSkipVisibility                         // bypass member-visibility checks
	FlagExplicitSelf                           // first parameter is the receiver
)

// Method is a compiled method definition.
type Method struct {
	Type       string      `cbor:"1,keyasint"` // fully-qualified owner type name
	Name       string      `cbor:"2,keyasint"`
	Params     []string    `cbor:"3,keyasint,omitempty"` // parameter type names
	Return     string      `cbor:"4,keyasint,omitempty"` // return type name, "" for void
	TypeParams []string    `cbor:"5,keyasint,omitempty"` // non-empty for generic definitions
	Flags      MethodFlags `cbor:"6,keyasint,omitempty"`
	NumLocals  int         `cbor:"7,keyasint,omitempty"` // locals beyond parameters
	Handlers   int         `cbor:"8,keyasint,omitempty"` // exception handler count
	Code       []Instr     `cbor:"9,keyasint,omitempty"`
	Token      uint32      `cbor:"10,keyasint,omitempty"` // compile-local metadata token
	Source     string      `cbor:"11,keyasint,omitempty"` // source file the method came from
}

// Sig returns the canonical signature string, "Type.Name/arity".
func (m *Method) Sig() string {
	return fmt.Sprintf("%s.%s/%d", m.Type, m.Name, len(m.Params))
}

// Ref returns a reference to this method carrying its own token.
func (m *Method) Ref() MethodRef {
	return MethodRef{Type: m.Type, Name: m.Name, Arity: len(m.Params), Token: m.Token}
}

// IsGeneric reports whether the method is a generic definition.
func (m *Method) IsGeneric() bool {
	return len(m.TypeParams) > 0
}

// IsStatic reports whether the method has no receiver.
func (m *Method) IsStatic() bool {
	return m.Flags&FlagStatic != 0
}

// Arity returns the declared parameter count (not counting self).
func (m *Method) Arity() int {
	return len(m.Params)
}

// String returns "Type.Name/arity" for debugging.
func (m *Method) String() string { return m.Sig() }

// Field is a field definition.
type Field struct {
	Name   string `cbor:"1,keyasint"`
	Type   string `cbor:"2,keyasint"`           // fully-qualified value type name
	Static bool   `cbor:"3,keyasint,omitempty"`
	Init   *Instr `cbor:"4,keyasint,omitempty"` // literal initializer pushed by the ctor, if any
	Token  uint32 `cbor:"5,keyasint,omitempty"`
}

// TypeFlags describe attributes of a type definition.
type TypeFlags uint16

const (
	TypeGenerated    TypeFlags = 1 << iota // compiler-generated (closure, state machine)
	TypeStateMachine                       // suspended-computation state machine
)

// Type is a type definition: fields plus methods.
type Type struct {
	Name    string    `cbor:"1,keyasint"` // fully-qualified
	Flags   TypeFlags `cbor:"2,keyasint,omitempty"`
	Fields  []Field   `cbor:"3,keyasint,omitempty"`
	Methods []*Method `cbor:"4,keyasint,omitempty"`
	Token   uint32    `cbor:"5,keyasint,omitempty"`
	Source  string    `cbor:"6,keyasint,omitempty"` // defining source file
}

// Method returns the method with the given name and arity, or nil.
func (t *Type) Method(name string, arity int) *Method {
	for _, m := range t.Methods {
		if m.Name == name && len(m.Params) == arity {
			return m
		}
	}
	return nil
}

// MethodBySig returns the method with the given canonical signature, or nil.
func (t *Type) MethodBySig(sig string) *Method {
	for _, m := range t.Methods {
		if m.Sig() == sig {
			return m
		}
	}
	return nil
}

// FieldNamed returns the field with the given name, or nil.
func (t *Type) FieldNamed(name string) *Field {
	for i := range t.Fields {
		if t.Fields[i].Name == name {
			return &t.Fields[i]
		}
	}
	return nil
}

// IsGenerated reports whether the type is compiler-generated.
func (t *Type) IsGenerated() bool { return t.Flags&TypeGenerated != 0 }

// IsStateMachine reports whether the type is a suspension state machine.
func (t *Type) IsStateMachine() bool { return t.Flags&TypeStateMachine != 0 }

// StepMethod returns the state machine's step method, or nil. It is the
// single method that carries the lowered body of the driving method.
func (t *Type) StepMethod() *Method {
	return t.Method("step", 0)
}

// ---------------------------------------------------------------------------
// Modules
// ---------------------------------------------------------------------------

// SlotDefault registers a literal default for an added field's
// indirection slot, carried in patch modules.
type SlotDefault struct {
	Type  string `cbor:"1,keyasint"`
	Field string `cbor:"2,keyasint"`
	Value Instr  `cbor:"3,keyasint"` // a push instruction holding the literal
}

// Module is a compilation unit: the root container for types.
type Module struct {
	Name         string        `cbor:"1,keyasint"`
	Types        []*Type       `cbor:"2,keyasint,omitempty"`
	SlotDefaults []SlotDefault `cbor:"3,keyasint,omitempty"` // patch modules only
}

// TypeNamed returns the type with the given fully-qualified name, or nil.
func (m *Module) TypeNamed(name string) *Type {
	for _, t := range m.Types {
		if t.Name == name {
			return t
		}
	}
	return nil
}

// AddType appends a type definition.
func (m *Module) AddType(t *Type) {
	m.Types = append(m.Types, t)
}

// BuiltinNamespace is the namespace of the runtime's own library types.
// Calls into it are never hot-patch targets.
const BuiltinNamespace = "core"

// IsBuiltin reports whether a fully-qualified type name belongs to the
// runtime's builtin library.
func IsBuiltin(typeName string) bool {
	return typeName == BuiltinNamespace || strings.HasPrefix(typeName, BuiltinNamespace+".")
}
