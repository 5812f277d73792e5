package patch

import (
	"fmt"
	"testing"

	"github.com/chazu/ember/ir"
	"github.com/chazu/ember/vm"
)

// resolveWrapper fetches a wrapper handle from its carrier module.
func resolveWrapper(t *testing.T, img *vm.Image, ref WrapperRef) *vm.Method {
	t.Helper()
	m, ok := img.ResolveIn(ref.Module, ref.Sig)
	if !ok {
		t.Fatalf("wrapper %s not found in %s", ref.Sig, ref.Module)
	}
	return m
}

func TestApplyModifiedMethod(t *testing.T) {
	v1 := compileApp(t, `class Greeter {
	def answer(): Int { return 1 }
}`)
	img := vm.NewImage()
	img.LoadModule(v1)
	store := NewStore()
	store.Initialize(v1)
	applier := NewApplier(img)

	inst := newInstance(t, img, "app.Greeter")
	h := resolve(t, img, "app.Greeter.answer/0")
	if got := invoke(t, img, h, inst); got.Int() != 1 {
		t.Fatalf("answer() = %d before patch, want 1", got.Int())
	}

	v2 := compileApp(t, `class Greeter {
	def answer(): Int { return 2 }
}`)
	runCycle(t, store.State("app"), applier, v1, v2)

	// The handle obtained before the patch now reaches the new body.
	if got := invoke(t, img, h, inst); got.Int() != 2 {
		t.Errorf("answer() = %d after patch, want 2", got.Int())
	}

	rec := applier.Record("app.Greeter.answer/0")
	if rec == nil || rec.Kind != HookModified {
		t.Fatalf("record = %+v, want a modified hook", rec)
	}
	if rec.Wrapper.Sig != "app.Greeter$patch.answer/1" {
		t.Errorf("wrapper sig = %s", rec.Wrapper.Sig)
	}
}

func TestApplySecondEditReplacesHook(t *testing.T) {
	v1 := compileApp(t, `class Greeter {
	def answer(): Int { return 1 }
}`)
	img := vm.NewImage()
	img.LoadModule(v1)
	store := NewStore()
	store.Initialize(v1)
	applier := NewApplier(img)
	st := store.State("app")

	inst := newInstance(t, img, "app.Greeter")
	h := resolve(t, img, "app.Greeter.answer/0")

	v2 := compileApp(t, `class Greeter {
	def answer(): Int { return 2 }
}`)
	runCycle(t, st, applier, v1, v2)
	first := applier.Record("app.Greeter.answer/0").Wrapper

	v3 := compileApp(t, `class Greeter {
	def answer(): Int { return 3 }
}`)
	runCycle(t, st, applier, v1, v3)

	if got := invoke(t, img, h, inst); got.Int() != 3 {
		t.Errorf("answer() = %d after second edit, want 3", got.Int())
	}
	second := applier.Record("app.Greeter.answer/0").Wrapper
	if first == second {
		t.Error("second edit should install a new wrapper generation")
	}
	if first.Module == second.Module {
		t.Error("wrapper generations must live in distinct module instances")
	}
}

func TestApplyConstructorEdit(t *testing.T) {
	v1 := compileApp(t, `class C {
	var v: Int = 1
	def getV(): Int { return v }
}`)
	img := vm.NewImage()
	img.LoadModule(v1)
	store := NewStore()
	store.Initialize(v1)
	applier := NewApplier(img)

	before := newInstance(t, img, "app.C")
	getV := resolve(t, img, "app.C.getV/0")

	// Changing an existing field's initializer modifies only the
	// synthesized constructor.
	v2 := compileApp(t, `class C {
	var v: Int = 9
	def getV(): Int { return v }
}`)
	runCycle(t, store.State("app"), applier, v1, v2)

	rec := applier.Record("app.C.init/0")
	if rec == nil || rec.Kind != HookModified {
		t.Fatalf("record = %+v, want a modified hook for the ctor", rec)
	}

	// Instances built after the hook run the rewritten constructor;
	// pre-patch instances keep their constructed state.
	after := newInstance(t, img, "app.C")
	if got := invoke(t, img, getV, after); got.Int() != 9 {
		t.Errorf("v on post-patch instance = %d, want 9", got.Int())
	}
	if got := invoke(t, img, getV, before); got.Int() != 1 {
		t.Errorf("v on pre-patch instance = %d, want 1", got.Int())
	}
}

func TestApplyAddedMethod(t *testing.T) {
	v1 := compileApp(t, `class Greeter {
	def answer(): Int { return 1 }
}`)
	img := vm.NewImage()
	img.LoadModule(v1)
	store := NewStore()
	store.Initialize(v1)
	applier := NewApplier(img)

	v2 := compileApp(t, `class Greeter {
	def answer(): Int { return 1 }
	def twice(x: Int): Int { return x * 2 }
}`)
	runCycle(t, store.State("app"), applier, v1, v2)

	rec := applier.Record("app.Greeter.twice/1")
	if rec == nil || rec.Kind != HookAdded {
		t.Fatalf("record = %+v, want an added hook", rec)
	}
	// No entry point exists on the original type; the wrapper is the
	// method, invoked with an explicit instance argument.
	if _, ok := img.Resolve("app.Greeter.twice/1"); ok {
		t.Error("added method must not appear on the original type")
	}
	w := resolveWrapper(t, img, rec.Wrapper)
	inst := newInstance(t, img, "app.Greeter")
	if got := invoke(t, img, w, vm.Nil, inst, vm.FromInt(5)); got.Int() != 10 {
		t.Errorf("twice(5) = %d, want 10", got.Int())
	}
}

func TestAddedFieldRoundTrip(t *testing.T) {
	v1 := compileApp(t, `class C {
	var x: Int = 3
	def getX(): Int { return x }
}`)
	img := vm.NewImage()
	img.LoadModule(v1)
	store := NewStore()
	store.Initialize(v1)
	applier := NewApplier(img)

	// Constructed before the patch: the instance has no storage for the
	// field about to be added.
	inst := newInstance(t, img, "app.C")

	v2 := compileApp(t, `class C {
	var x: Int = 3
	var extra: Int = 5
	def getX(): Int { return x }
	def getExtra(): Int { return extra }
	def setExtra(v: Int) { extra = v }
}`)
	runCycle(t, store.State("app"), applier, v1, v2)

	get := resolveWrapper(t, img, applier.Record("app.C.getExtra/0").Wrapper)
	set := resolveWrapper(t, img, applier.Record("app.C.setExtra/1").Wrapper)

	// First read without a store replays the constructor literal.
	if got := invoke(t, img, get, vm.Nil, inst); got.Int() != 5 {
		t.Errorf("getExtra() = %d on pre-patch instance, want default 5", got.Int())
	}
	invoke(t, img, set, vm.Nil, inst, vm.FromInt(7))
	if got := invoke(t, img, get, vm.Nil, inst); got.Int() != 7 {
		t.Errorf("getExtra() = %d after setExtra(7), want 7", got.Int())
	}

	// Slots are per instance.
	other := newInstance(t, img, "app.C")
	if got := invoke(t, img, get, vm.Nil, other); got.Int() != 5 {
		t.Errorf("getExtra() = %d on a second instance, want 5", got.Int())
	}
	// Pre-existing fields still live in the real layout.
	if got := invoke(t, img, resolve(t, img, "app.C.getX/0"), inst); got.Int() != 3 {
		t.Errorf("getX() = %d, want 3", got.Int())
	}
}

func TestSlotReferenceWriteThrough(t *testing.T) {
	// Address-of on an added field yields a stable reference; a write
	// through it is observable on a subsequent plain slot read.
	extra := ir.FieldRef{Type: "app.C", Name: "extra"}
	viaRef := &ir.Method{
		Type: "app.C", Name: "viaRef", Flags: ir.FlagStatic,
		Params: []string{"app.C", "core.Int"}, Return: "core.Int",
		Code: []ir.Instr{
			{Op: ir.OpLoadLocal, Int: 0},
			{Op: ir.OpSlotAddr, Field: extra},
			{Op: ir.OpLoadLocal, Int: 1},
			{Op: ir.OpRefStore},
			{Op: ir.OpLoadLocal, Int: 0},
			{Op: ir.OpSlotLoad, Field: extra},
			{Op: ir.OpReturn},
		},
	}
	img := vm.NewImage()
	img.LoadModule(&ir.Module{Name: "app", Types: []*ir.Type{{
		Name: "app.C",
		Methods: []*ir.Method{
			{Type: "app.C", Name: "init", Flags: ir.FlagCtor, Code: []ir.Instr{{Op: ir.OpReturnVoid}}},
			viaRef,
		},
	}}})
	inst := newInstance(t, img, "app.C")
	if got := invoke(t, img, resolve(t, img, "app.C.viaRef/2"), vm.Nil, inst, vm.FromInt(7)); got.Int() != 7 {
		t.Errorf("write through slot reference = %d, want 7", got.Int())
	}
}

func TestHookChainThreeEdits(t *testing.T) {
	v1 := compileApp(t, `class K {
	def base(): Int { return 0 }
}`)
	img := vm.NewImage()
	img.LoadModule(v1)
	store := NewStore()
	store.Initialize(v1)
	applier := NewApplier(img)
	st := store.State("app")

	versions := []string{
		`class K {
	def base(): Int { return 0 }
	def v(): Int { return 1 }
}`,
		`class K {
	def base(): Int { return 0 }
	def v(): Int { return 2 }
}`,
		`class K {
	def base(): Int { return 0 }
	def v(): Int { return 3 }
}`,
	}

	var handles []*vm.Method
	for _, src := range versions {
		cand := compileApp(t, src)
		runCycle(t, st, applier, v1, cand)
		rec := applier.Record("app.K.v/0")
		handles = append(handles, resolveWrapper(t, img, rec.Wrapper))
	}

	rec := applier.Record("app.K.v/0")
	if rec.Kind != HookAdded {
		t.Fatalf("record kind = %v; edits to an added method must stay on its chain", rec.Kind)
	}
	if len(rec.History) != 3 || len(rec.HistoryPaths) != 3 {
		t.Fatalf("history = %d entries, paths = %d, want 3/3", len(rec.History), len(rec.HistoryPaths))
	}

	// Every generation's handle, however stale, reaches the latest body.
	inst := newInstance(t, img, "app.K")
	for i, h := range handles {
		if got := invoke(t, img, h, vm.Nil, inst); got.Int() != 3 {
			t.Errorf("generation %d handle = %d, want 3", i+1, got.Int())
		}
	}
}

func TestApplyPerMemberFailure(t *testing.T) {
	v1 := compileApp(t, `class F {
	def f(): Int { return 1 }
}`)
	img := vm.NewImage()
	img.LoadModule(v1)
	store := NewStore()
	store.Initialize(v1)
	applier := NewApplier(img)
	st := store.State("app")

	v2 := compileApp(t, `class F {
	def f(): Int { return 2 }
}`)
	st.Lock()
	diff := DiffModules(st.Snapshot(), v2, nil, st.Graph())
	pm, errs := Synthesize(v1, diff, v2)
	if len(errs) != 0 {
		t.Fatalf("synthesize: %v", errs)
	}
	// A signature with no entry point in the original module cannot be
	// redirected; the rest of the batch must still hook.
	diff["app.F"].ModifiedMethods["app.F.ghost/0"] = diff["app.F"].ModifiedMethods["app.F.f/0"]
	applyErrs := applier.Apply("app", diff, pm, "mem:test")
	st.Commit(v2, diff)
	st.Unlock()

	if len(applyErrs) != 1 || applyErrs[0].Sig != "app.F.ghost/0" {
		t.Fatalf("apply errors = %v, want exactly app.F.ghost/0", applyErrs)
	}
	inst := newInstance(t, img, "app.F")
	if got := invoke(t, img, resolve(t, img, "app.F.f/0"), inst); got.Int() != 2 {
		t.Errorf("f() = %d, want the healthy member hooked to 2", got.Int())
	}
	if applier.Record("app.F.ghost/0") != nil {
		t.Error("failed member must not leave a record")
	}
}

func TestRecordsSnapshotIsDetached(t *testing.T) {
	v1 := compileApp(t, `class F {
	def f(): Int { return 1 }
}`)
	img := vm.NewImage()
	img.LoadModule(v1)
	store := NewStore()
	store.Initialize(v1)
	applier := NewApplier(img)

	v2 := compileApp(t, `class F {
	def f(): Int { return 1 }
	def g(): Int { return 7 }
}`)
	runCycle(t, store.State("app"), applier, v1, v2)

	records := applier.Records()
	if len(records) != 1 || records[0].Sig != "app.F.g/0" {
		t.Fatalf("records = %+v, want one for app.F.g/0", records)
	}
	records[0].History = append(records[0].History, WrapperRef{Module: "junk", Sig: "junk"})
	if got := len(applier.Record("app.F.g/0").History); got != 1 {
		t.Errorf("internal history length = %d after mutating the snapshot, want 1", got)
	}
}

func TestRestoreAfterRestart(t *testing.T) {
	v1 := compileApp(t, `class F {
	def f(): Int { return 1 }
}`)
	img := vm.NewImage()
	img.LoadModule(v1)
	store := NewStore()
	store.Initialize(v1)
	applier := NewApplier(img)
	st := store.State("app")

	// Each cycle persists its patch under a distinct path, as the writer
	// would on disk.
	patches := make(map[string]*ir.Module)
	cycle := func(cand *ir.Module) {
		t.Helper()
		st.Lock()
		defer st.Unlock()
		diff := DiffModules(st.Snapshot(), cand, nil, st.Graph())
		pm, errs := Synthesize(v1, diff, cand)
		if len(errs) != 0 {
			t.Fatalf("synthesize: %v", errs)
		}
		path := fmt.Sprintf("mem:cycle%d", len(patches))
		patches[path] = pm
		if errs := applier.Apply("app", diff, pm, path); len(errs) != 0 {
			t.Fatalf("apply: %v", errs)
		}
		st.Commit(cand, diff)
	}

	cycle(compileApp(t, `class F {
	def f(): Int { return 2 }
	def g(): Int { return 7 }
}`))
	cycle(compileApp(t, `class F {
	def f(): Int { return 3 }
	def g(): Int { return 8 }
}`))
	records := applier.Records()

	// Fresh process: only the original module is loaded.
	img2 := vm.NewImage()
	img2.LoadModule(v1)
	applier2 := NewApplier(img2)
	errs := applier2.Restore(records, func(path string) (*ir.Module, error) {
		pm, ok := patches[path]
		if !ok {
			return nil, fmt.Errorf("no patch at %s", path)
		}
		return pm, nil
	})
	if len(errs) != 0 {
		t.Fatalf("restore: %v", errs)
	}

	inst := newInstance(t, img2, "app.F")
	if got := invoke(t, img2, resolve(t, img2, "app.F.f/0"), inst); got.Int() != 3 {
		t.Errorf("f() = %d after restore, want 3", got.Int())
	}
	grec := applier2.Record("app.F.g/0")
	if grec == nil {
		t.Fatal("added-method record lost across restore")
	}
	if got := invoke(t, img2, resolveWrapper(t, img2, grec.Wrapper), vm.Nil, inst); got.Int() != 8 {
		t.Errorf("g() = %d after restore, want 8", got.Int())
	}
	// The first generation's wrapper was reloaded and re-chained too.
	stale := resolveWrapper(t, img2, grec.History[0])
	if got := invoke(t, img2, stale, vm.Nil, inst); got.Int() != 8 {
		t.Errorf("stale g() handle = %d after restore, want 8", got.Int())
	}
}
