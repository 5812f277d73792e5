package vm

import (
	"sync"
	"sync/atomic"

	"github.com/chazu/ember/ir"
)

// ---------------------------------------------------------------------------
// Object: instance representation
// ---------------------------------------------------------------------------

// Object is a heap instance of a Class. Declared fields live in Slots,
// indexed by the class's field order. Fields added by a patch after the
// class was loaded have no index here; they live in the image's
// SlotTable, keyed by object identity.
type Object struct {
	Class *Class
	Slots []Value
}

// NewObject allocates an instance with all declared fields set to nil.
func NewObject(c *Class) *Object {
	slots := make([]Value, len(c.FieldOrder))
	for i := range slots {
		slots[i] = Nil
	}
	return &Object{Class: c, Slots: slots}
}

// Get returns the value of a declared field by name.
func (o *Object) Get(field string) Value {
	idx, ok := o.Class.FieldIndex[field]
	if !ok {
		return Nil
	}
	return o.Slots[idx]
}

// Set stores into a declared field by name. Unknown fields are ignored;
// added fields must go through the slot table instead.
func (o *Object) Set(field string, v Value) {
	if idx, ok := o.Class.FieldIndex[field]; ok {
		o.Slots[idx] = v
	}
}

// ---------------------------------------------------------------------------
// Class: loaded type
// ---------------------------------------------------------------------------

// Class is a type loaded into the running image. Its field layout is
// frozen at load time: patches cannot grow FieldOrder, which is exactly
// why added fields need the indirection slot table.
type Class struct {
	Name       string // fully-qualified
	Module     string // owning module name
	Def        *ir.Type
	FieldOrder []string
	FieldIndex map[string]int

	mu      sync.RWMutex
	methods map[string]*Method // canonical sig → method
	statics map[string]Value   // declared static fields
}

// NewClass builds a Class from a type definition.
func NewClass(module string, def *ir.Type) *Class {
	c := &Class{
		Name:       def.Name,
		Module:     module,
		Def:        def,
		FieldIndex: make(map[string]int),
		methods:    make(map[string]*Method),
		statics:    make(map[string]Value),
	}
	for _, f := range def.Fields {
		if f.Static {
			if f.Init != nil {
				if v, err := literalValue(*f.Init); err == nil {
					c.statics[f.Name] = v
				}
			}
			continue
		}
		c.FieldIndex[f.Name] = len(c.FieldOrder)
		c.FieldOrder = append(c.FieldOrder, f.Name)
	}
	for _, m := range def.Methods {
		c.methods[m.Sig()] = newMethod(c, m)
	}
	return c
}

// Method returns the method with the given canonical signature, or nil.
func (c *Class) Method(sig string) *Method {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.methods[sig]
}

// MethodNamed returns the method with the given name and arity, or nil.
func (c *Class) MethodNamed(name string, arity int) *Method {
	return c.Method(ir.MethodRef{Type: c.Name, Name: name, Arity: arity}.Sig())
}

// AddMethod installs a method, replacing any previous definition with
// the same signature.
func (c *Class) AddMethod(m *Method) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.methods[m.Def.Sig()] = m
}

// Methods returns a snapshot of all installed methods.
func (c *Class) Methods() []*Method {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]*Method, 0, len(c.methods))
	for _, m := range c.methods {
		out = append(out, m)
	}
	return out
}

// GetStatic returns the value of a declared static field.
func (c *Class) GetStatic(name string) Value {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if v, ok := c.statics[name]; ok {
		return v
	}
	return Nil
}

// SetStatic stores into a declared static field.
func (c *Class) SetStatic(name string, v Value) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.statics[name] = v
}

// ---------------------------------------------------------------------------
// Method: runtime method with a redirectable entry point
// ---------------------------------------------------------------------------

// Method wraps a compiled method definition with the redirect slot that
// method detouring mutates. Callers resolve through Entry at call time,
// so a redirection takes effect for every existing reference to the
// method, including handles captured before the redirect.
type Method struct {
	Class *Class
	Def   *ir.Method

	redirect atomic.Pointer[Method]
}

func newMethod(c *Class, def *ir.Method) *Method {
	return &Method{Class: c, Def: def}
}

// Sig returns the method's canonical signature.
func (m *Method) Sig() string { return m.Def.Sig() }

// Entry resolves the current entry point, following redirections
// transitively to the newest body.
func (m *Method) Entry() *Method {
	cur := m
	for {
		next := cur.redirect.Load()
		if next == nil {
			return cur
		}
		cur = next
	}
}

// Redirected reports whether the method's entry point has been moved.
func (m *Method) Redirected() bool {
	return m.redirect.Load() != nil
}

// String returns "Class.name/arity" for debugging.
func (m *Method) String() string { return m.Def.Sig() }
