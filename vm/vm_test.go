package vm

import (
	"sync"
	"testing"

	"github.com/chazu/ember/ir"
)

// ---------------------------------------------------------------------------
// Test helpers
// ---------------------------------------------------------------------------

// pointModule builds a module with a Point class: field x initialized to
// 3 by the constructor, and length/0 returning x.
func pointModule(name string) *ir.Module {
	xRef := ir.FieldRef{Type: "app.Point", Name: "x"}

	ctor := ir.NewMethodBuilder("app.Point", "init").
		SetFlags(ir.FlagCtor).
		Op(ir.OpPushSelf).
		PushInt(3).
		StoreField(xRef).
		Op(ir.OpReturnVoid).
		Build()

	length := ir.NewMethodBuilder("app.Point", "length").
		SetReturn("core.Int").
		Op(ir.OpPushSelf).
		LoadField(xRef).
		Op(ir.OpReturn).
		Build()

	return &ir.Module{
		Name: name,
		Types: []*ir.Type{
			{
				Name:    "app.Point",
				Fields:  []ir.Field{{Name: "x", Type: "core.Int"}},
				Methods: []*ir.Method{ctor, length},
			},
		},
	}
}

func loadPoint(t *testing.T) (*Image, *Interp) {
	t.Helper()
	img := NewImage()
	img.LoadModule(pointModule("app"))
	return img, NewInterp(img)
}

// ---------------------------------------------------------------------------
// Value tests
// ---------------------------------------------------------------------------

func TestValueEquality(t *testing.T) {
	tests := []struct {
		a, b Value
		want bool
	}{
		{FromInt(1), FromInt(1), true},
		{FromInt(1), FromInt(2), false},
		{FromInt(1), FromFloat64(1), false}, // kinds differ
		{FromFloat32(1.0), FromFloat32(1.0), true},
		{FromString("a"), FromString("a"), true},
		{Nil, Nil, true},
		{True, False, false},
	}
	for _, tt := range tests {
		if got := tt.a.Equal(tt.b); got != tt.want {
			t.Errorf("%s.Equal(%s) = %v, want %v", tt.a, tt.b, got, tt.want)
		}
	}
}

func TestValueTruthiness(t *testing.T) {
	if Nil.IsTruthy() || False.IsTruthy() {
		t.Error("nil and false must be falsy")
	}
	if !FromInt(0).IsTruthy() {
		t.Error("integer zero is truthy")
	}
}

// ---------------------------------------------------------------------------
// Interpreter tests
// ---------------------------------------------------------------------------

func TestInterpArithmetic(t *testing.T) {
	m := ir.NewMethodBuilder("app.T", "m").
		SetFlags(ir.FlagStatic).
		PushInt(2).
		PushInt(3).
		Op(ir.OpMul).
		PushInt(1).
		Op(ir.OpAdd).
		Op(ir.OpReturn).
		Build()

	img := NewImage()
	img.LoadModule(&ir.Module{Name: "app", Types: []*ir.Type{
		{Name: "app.T", Methods: []*ir.Method{m}},
	}})
	ip := NewInterp(img)

	got, err := ip.Invoke(img.Class("app.T").MethodNamed("m", 0), Nil, nil)
	if err != nil {
		t.Fatalf("Invoke: %v", err)
	}
	if got.Int() != 7 {
		t.Errorf("got %s, want 7", got)
	}
}

func TestInterpBranching(t *testing.T) {
	// return arg0 > 10 ? 1 : 2
	b := ir.NewMethodBuilder("app.T", "m").SetFlags(ir.FlagStatic).SetParams("core.Int")
	els := b.NewLabel()
	b.LoadLocal(0)
	b.PushInt(10)
	b.Op(ir.OpGT)
	b.JumpIfFalse(els)
	b.PushInt(1)
	b.Op(ir.OpReturn)
	b.Bind(els)
	b.PushInt(2)
	b.Op(ir.OpReturn)
	m := b.Build()

	img := NewImage()
	img.LoadModule(&ir.Module{Name: "app", Types: []*ir.Type{
		{Name: "app.T", Methods: []*ir.Method{m}},
	}})
	ip := NewInterp(img)
	meth := img.Class("app.T").MethodNamed("m", 1)

	for _, tt := range []struct {
		arg  int64
		want int64
	}{{20, 1}, {5, 2}} {
		got, err := ip.Invoke(meth, Nil, []Value{FromInt(tt.arg)})
		if err != nil {
			t.Fatalf("Invoke(%d): %v", tt.arg, err)
		}
		if got.Int() != tt.want {
			t.Errorf("m(%d) = %s, want %d", tt.arg, got, tt.want)
		}
	}
}

func TestInterpNewRunsConstructor(t *testing.T) {
	img, ip := loadPoint(t)

	// A driver method that allocates a Point and reads its length.
	driver := ir.NewMethodBuilder("app.Main", "run").
		SetFlags(ir.FlagStatic).
		New(ir.TypeRef{Name: "app.Point"}).
		Call(ir.MethodRef{Type: "app.Point", Name: "length", Arity: 0}).
		Op(ir.OpReturn).
		Build()
	img.LoadModule(&ir.Module{Name: "main", Types: []*ir.Type{
		{Name: "app.Main", Methods: []*ir.Method{driver}},
	}})

	got, err := ip.Invoke(img.Class("app.Main").MethodNamed("run", 0), Nil, nil)
	if err != nil {
		t.Fatalf("Invoke: %v", err)
	}
	if got.Int() != 3 {
		t.Errorf("length of constructed Point = %s, want 3 (ctor initializer)", got)
	}
}

func TestInterpVisibility(t *testing.T) {
	secret := ir.NewMethodBuilder("app.A", "_secret").
		SetReturn("core.Int").
		PushInt(99).
		Op(ir.OpReturn).
		Build()

	caller := ir.NewMethodBuilder("app.B", "steal").
		SetFlags(ir.FlagStatic).
		SetParams("app.A").
		LoadLocal(0).
		Call(ir.MethodRef{Type: "app.A", Name: "_secret", Arity: 0}).
		Op(ir.OpReturn).
		Build()

	trusted := ir.NewMethodBuilder("app.B", "wrap").
		SetFlags(ir.FlagStatic | ir.FlagSkipVisibility).
		SetParams("app.A").
		LoadLocal(0).
		Call(ir.MethodRef{Type: "app.A", Name: "_secret", Arity: 0}).
		Op(ir.OpReturn).
		Build()

	img := NewImage()
	img.LoadModule(&ir.Module{Name: "app", Types: []*ir.Type{
		{Name: "app.A", Methods: []*ir.Method{secret}},
		{Name: "app.B", Methods: []*ir.Method{caller, trusted}},
	}})
	ip := NewInterp(img)
	a := FromObject(NewObject(img.Class("app.A")))

	if _, err := ip.Invoke(img.Class("app.B").MethodNamed("steal", 1), Nil, []Value{a}); err == nil {
		t.Error("cross-type call to private method should fail")
	}
	got, err := ip.Invoke(img.Class("app.B").MethodNamed("wrap", 1), Nil, []Value{a})
	if err != nil {
		t.Fatalf("FlagSkipVisibility call failed: %v", err)
	}
	if got.Int() != 99 {
		t.Errorf("wrap = %s, want 99", got)
	}
}

// ---------------------------------------------------------------------------
// Redirection tests
// ---------------------------------------------------------------------------

func TestRedirectFollowsChain(t *testing.T) {
	img, ip := loadPoint(t)
	orig := img.Class("app.Point").MethodNamed("length", 0)

	// Wrapper v2: static, explicit self, returns 42.
	wrapper := ir.NewMethodBuilder("app.Point$patch", "length").
		SetFlags(ir.FlagStatic | ir.FlagExplicitSelf | ir.FlagNoInline | ir.FlagSkipVisibility).
		SetParams("app.Point").
		PushInt(42).
		Op(ir.OpReturn).
		Build()
	img.LoadModule(&ir.Module{Name: "app.patch", Types: []*ir.Type{
		{Name: "app.Point$patch", Flags: ir.TypeGenerated, Methods: []*ir.Method{wrapper}},
	}})
	wm, ok := img.ResolveIn("app.patch", "app.Point$patch.length/1")
	if !ok {
		t.Fatal("wrapper not resolvable")
	}

	if err := img.Redirect(orig, wm); err != nil {
		t.Fatalf("Redirect: %v", err)
	}

	// A handle obtained before the redirect now reaches the new body.
	pt := FromObject(NewObject(img.Class("app.Point")))
	got, err := ip.Invoke(orig, pt, nil)
	if err != nil {
		t.Fatalf("Invoke after redirect: %v", err)
	}
	if got.Int() != 42 {
		t.Errorf("redirected length = %s, want 42", got)
	}
}

func TestRedirectValidation(t *testing.T) {
	img, _ := loadPoint(t)
	orig := img.Class("app.Point").MethodNamed("length", 0)

	if err := img.Redirect(orig, nil); err == nil {
		t.Error("nil target should be rejected")
	}
	if err := img.Redirect(orig, orig); err == nil {
		t.Error("self redirect should be rejected")
	}

	bad := ir.NewMethodBuilder("app.Point$patch", "length").
		SetFlags(ir.FlagStatic | ir.FlagExplicitSelf).
		SetParams("app.Point", "core.Int"). // one param too many
		Op(ir.OpReturnVoid).
		Build()
	img.LoadModule(&ir.Module{Name: "p2", Types: []*ir.Type{
		{Name: "app.Point$patch", Methods: []*ir.Method{bad}},
	}})
	bm, _ := img.ResolveIn("p2", "app.Point$patch.length/2")
	if err := img.Redirect(orig, bm); err == nil {
		t.Error("arity mismatch should be rejected")
	}
}

func TestRedirectConstructor(t *testing.T) {
	img, ip := loadPoint(t)
	xRef := ir.FieldRef{Type: "app.Point", Name: "x"}
	ctor := img.Class("app.Point").MethodNamed("init", 0)

	// Hooked constructor stores 9 instead of the original 3.
	wrapper := ir.NewMethodBuilder("app.Point$patch", "init").
		SetFlags(ir.FlagStatic | ir.FlagExplicitSelf | ir.FlagNoInline | ir.FlagSkipVisibility).
		SetParams("app.Point").
		LoadLocal(0).
		PushInt(9).
		StoreField(xRef).
		Op(ir.OpReturnVoid).
		Build()
	maker := ir.NewMethodBuilder("app.Maker", "make").
		SetFlags(ir.FlagStatic).
		SetReturn("core.Int").
		New(ir.TypeRef{Name: "app.Point"}).
		LoadField(xRef).
		Op(ir.OpReturn).
		Build()
	img.LoadModule(&ir.Module{Name: "p2", Types: []*ir.Type{
		{Name: "app.Point$patch", Flags: ir.TypeGenerated, Methods: []*ir.Method{wrapper}},
		{Name: "app.Maker", Methods: []*ir.Method{maker}},
	}})
	wm, _ := img.ResolveIn("p2", "app.Point$patch.init/1")

	if err := img.Redirect(ctor, wm); err != nil {
		t.Fatalf("Redirect ctor: %v", err)
	}

	// NEW resolves the ctor through its entry chain, so instances
	// created after the hook carry the new initializer.
	mk := img.Class("app.Maker").MethodNamed("make", 0)
	got, err := ip.Invoke(mk, Nil, nil)
	if err != nil {
		t.Fatalf("make: %v", err)
	}
	if got.Int() != 9 {
		t.Errorf("x after hooked ctor = %s, want 9", got)
	}
}

// ---------------------------------------------------------------------------
// Slot table tests
// ---------------------------------------------------------------------------

func TestSlotDefaultInitializer(t *testing.T) {
	img, _ := loadPoint(t)
	img.Slots().RegisterDefault("app.Point", "y", func() Value { return FromInt(5) })
	obj := NewObject(img.Class("app.Point"))

	slot := img.Slots().Instance(obj, "y")
	if got := slot.Load(); got.Int() != 5 {
		t.Errorf("first read = %s, want constructor literal 5", got)
	}
	slot.Store(FromInt(7))
	if got := slot.Load(); got.Int() != 7 {
		t.Errorf("read after store = %s, want 7", got)
	}
}

func TestSlotStoreBeforeFirstRead(t *testing.T) {
	img, _ := loadPoint(t)
	img.Slots().RegisterDefault("app.Point", "y", func() Value { return FromInt(5) })
	obj := NewObject(img.Class("app.Point"))

	img.Slots().Instance(obj, "y").Store(FromInt(9))
	if got := img.Slots().Instance(obj, "y").Load(); got.Int() != 9 {
		t.Errorf("default must not clobber an explicit store: got %s, want 9", got)
	}
}

func TestSlotAddressWriteThrough(t *testing.T) {
	img, _ := loadPoint(t)
	obj := NewObject(img.Class("app.Point"))

	addr := img.Slots().Instance(obj, "y")
	addr.Store(FromInt(11))
	if got := img.Slots().Instance(obj, "y").Load(); got.Int() != 11 {
		t.Errorf("write through address not visible on plain read: got %s", got)
	}
}

func TestSlotInstanceIndependence(t *testing.T) {
	img, _ := loadPoint(t)
	a := NewObject(img.Class("app.Point"))
	b := NewObject(img.Class("app.Point"))

	img.Slots().Instance(a, "y").Store(FromInt(1))
	img.Slots().Instance(b, "y").Store(FromInt(2))
	if img.Slots().Instance(a, "y").Load().Int() != 1 {
		t.Error("slots must be independent per instance")
	}
}

func TestSlotExactlyOnceCreation(t *testing.T) {
	img, _ := loadPoint(t)
	obj := NewObject(img.Class("app.Point"))

	const n = 32
	slots := make([]*Slot, n)
	var wg sync.WaitGroup
	wg.Add(n)
	for i := 0; i < n; i++ {
		go func(i int) {
			defer wg.Done()
			slots[i] = img.Slots().Instance(obj, "y")
		}(i)
	}
	wg.Wait()

	for i := 1; i < n; i++ {
		if slots[i] != slots[0] {
			t.Fatal("concurrent first access must create exactly one slot")
		}
	}
}

func TestStaticSlotKeyedByNameAlone(t *testing.T) {
	img, _ := loadPoint(t)
	img.Slots().Static("app.Point", "counter").Store(FromInt(3))
	if got := img.Slots().Static("app.Point", "counter").Load(); got.Int() != 3 {
		t.Errorf("static slot = %s, want 3", got)
	}
}
