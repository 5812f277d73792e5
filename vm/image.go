package vm

import (
	"fmt"
	"sync"

	"github.com/chazu/ember/ir"
)

// ---------------------------------------------------------------------------
// Image: the loaded program
// ---------------------------------------------------------------------------

// Image is the set of modules loaded into the running process: the
// original program modules plus every patch module applied since start.
// Classes keep their identity for the process lifetime; patch modules
// are registered beside them under their own module name.
type Image struct {
	mu      sync.RWMutex
	modules map[string]map[string]*Class // module name → type name → class
	slots   *SlotTable
}

// NewImage creates an empty image.
func NewImage() *Image {
	return &Image{
		modules: make(map[string]map[string]*Class),
		slots:   NewSlotTable(),
	}
}

// Slots returns the image's field-indirection table.
func (img *Image) Slots() *SlotTable { return img.slots }

// LoadModule registers a compiled module's types and methods. Loading a
// module name twice replaces its registry entry wholesale; it never
// mutates classes already handed out.
func (img *Image) LoadModule(mod *ir.Module) {
	img.mu.Lock()
	defer img.mu.Unlock()

	classes := make(map[string]*Class, len(mod.Types))
	for _, t := range mod.Types {
		classes[t.Name] = NewClass(mod.Name, t)
	}
	img.modules[mod.Name] = classes
}

// LoadPatchModule registers a patch module beside the originals and
// installs its slot defaults. The patch's wrapper methods become
// resolvable via ResolveIn but original classes are untouched; applying
// the actual redirections is the hook applier's job.
func (img *Image) LoadPatchModule(mod *ir.Module) error {
	img.LoadModule(mod)

	for _, d := range mod.SlotDefaults {
		lit, err := literalValue(d.Value)
		if err != nil {
			return fmt.Errorf("vm: slot default for %s.%s: %w", d.Type, d.Field, err)
		}
		img.slots.RegisterDefault(d.Type, d.Field, func() Value { return lit })
	}
	return nil
}

// literalValue converts a push instruction into the value it pushes.
func literalValue(in ir.Instr) (Value, error) {
	switch in.Op {
	case ir.OpPushInt:
		return FromInt(in.Int), nil
	case ir.OpPushFloat:
		return FromFloat64(in.Float), nil
	case ir.OpPushFloat32:
		return FromFloat32(in.Float32), nil
	case ir.OpPushString:
		return FromString(in.Str), nil
	case ir.OpPushTrue:
		return True, nil
	case ir.OpPushFalse:
		return False, nil
	case ir.OpPushNil:
		return Nil, nil
	}
	return Nil, fmt.Errorf("not a literal push: %s", in.Op)
}

// Class returns the class with the given fully-qualified name, searching
// every loaded module. Original modules are searched before patches only
// in the sense that type names are unique per module; patch types carry
// distinct names ("Type$patch"), so there is no shadowing.
func (img *Image) Class(name string) *Class {
	img.mu.RLock()
	defer img.mu.RUnlock()
	for _, classes := range img.modules {
		if c, ok := classes[name]; ok {
			return c
		}
	}
	return nil
}

// ClassIn returns the class with the given name from a specific module.
func (img *Image) ClassIn(module, name string) *Class {
	img.mu.RLock()
	defer img.mu.RUnlock()
	if classes, ok := img.modules[module]; ok {
		return classes[name]
	}
	return nil
}

// Resolve returns the method with the given canonical signature,
// searching every loaded module.
func (img *Image) Resolve(sig string) (*Method, bool) {
	img.mu.RLock()
	defer img.mu.RUnlock()
	for _, classes := range img.modules {
		for _, c := range classes {
			if m := c.Method(sig); m != nil {
				return m, true
			}
		}
	}
	return nil, false
}

// ResolveIn returns the method with the given canonical signature from a
// specific module.
func (img *Image) ResolveIn(module, sig string) (*Method, bool) {
	img.mu.RLock()
	classes, ok := img.modules[module]
	img.mu.RUnlock()
	if !ok {
		return nil, false
	}
	for _, c := range classes {
		if m := c.Method(sig); m != nil {
			return m, true
		}
	}
	return nil, false
}

// Modules returns the names of all loaded modules.
func (img *Image) Modules() []string {
	img.mu.RLock()
	defer img.mu.RUnlock()
	names := make([]string, 0, len(img.modules))
	for name := range img.modules {
		names = append(names, name)
	}
	return names
}

// IRModule reconstructs the ir.Module currently registered under the
// given name, or nil. Used to seed the symbol table the synthesizer
// rewrites references against.
func (img *Image) IRModule(name string) *ir.Module {
	img.mu.RLock()
	defer img.mu.RUnlock()
	classes, ok := img.modules[name]
	if !ok {
		return nil
	}
	mod := &ir.Module{Name: name}
	for _, c := range classes {
		mod.AddType(c.Def)
	}
	return mod
}
