package patch

import (
	"testing"

	"github.com/chazu/ember/compiler"
	"github.com/chazu/ember/ir"
	"github.com/chazu/ember/vm"
)

// compileApp compiles one source file into module "app".
func compileApp(t *testing.T, src string) *ir.Module {
	t.Helper()
	mod, diags, err := compiler.CompileModule("app", map[string]string{"app.em": src})
	if err != nil {
		t.Fatalf("compile: %v (diags %v)", err, diags)
	}
	return mod
}

// newInstance allocates an instance and runs its constructor.
func newInstance(t *testing.T, img *vm.Image, class string) vm.Value {
	t.Helper()
	cls := img.Class(class)
	if cls == nil {
		t.Fatalf("class %s not found", class)
	}
	obj := vm.NewObject(cls)
	if ctor := cls.MethodNamed("init", 0); ctor != nil {
		if _, err := vm.NewInterp(img).Invoke(ctor, vm.FromObject(obj), nil); err != nil {
			t.Fatalf("init %s: %v", class, err)
		}
	}
	return vm.FromObject(obj)
}

// invoke runs a previously-obtained method handle.
func invoke(t *testing.T, img *vm.Image, m *vm.Method, recv vm.Value, args ...vm.Value) vm.Value {
	t.Helper()
	ret, err := vm.NewInterp(img).Invoke(m, recv, args)
	if err != nil {
		t.Fatalf("%s: %v", m.Sig(), err)
	}
	return ret
}

// resolve fetches a method handle by signature or fails.
func resolve(t *testing.T, img *vm.Image, sig string) *vm.Method {
	t.Helper()
	m, ok := img.Resolve(sig)
	if !ok {
		t.Fatalf("%s not found", sig)
	}
	return m
}

// runCycle diffs candidate against the snapshot, synthesizes, applies,
// and commits. It fails the test on any member error.
func runCycle(t *testing.T, st *ModuleState, applier *Applier, original, candidate *ir.Module) Diff {
	t.Helper()
	st.Lock()
	defer st.Unlock()
	diff := DiffModules(st.Snapshot(), candidate, nil, st.Graph())
	if diff == nil {
		t.Fatal("expected a non-empty diff")
	}
	pm, errs := Synthesize(original, diff, candidate)
	if len(errs) != 0 {
		t.Fatalf("synthesize: %v", errs)
	}
	if errs := applier.Apply(original.Name, diff, pm, "mem:"+pm.Name); len(errs) != 0 {
		t.Fatalf("apply: %v", errs)
	}
	st.Commit(candidate, diff)
	return diff
}
