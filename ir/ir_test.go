package ir

import (
	"strings"
	"testing"
)

// ---------------------------------------------------------------------------
// Builder tests
// ---------------------------------------------------------------------------

func TestBuilderEmitsCode(t *testing.T) {
	m := NewMethodBuilder("app.Point", "length").
		SetReturn("core.Int").
		PushInt(1).
		PushInt(2).
		Op(OpAdd).
		Op(OpReturn).
		Build()

	if m.Sig() != "app.Point.length/0" {
		t.Errorf("Sig() = %q, want %q", m.Sig(), "app.Point.length/0")
	}
	if len(m.Code) != 4 {
		t.Fatalf("len(Code) = %d, want 4", len(m.Code))
	}
	if m.Code[2].Op != OpAdd {
		t.Errorf("Code[2].Op = %v, want ADD", m.Code[2].Op)
	}
}

func TestBuilderBranchPatching(t *testing.T) {
	b := NewMethodBuilder("app.T", "m")
	done := b.NewLabel()
	b.Op(OpPushTrue)
	b.JumpIfFalse(done) // index 1
	b.PushInt(1)
	b.Op(OpPop)
	b.Bind(done)
	b.Op(OpReturnVoid)
	m := b.Build()

	// The branch at index 1 must skip the two instructions that follow it.
	if got := m.Code[1].Target; got != 2 {
		t.Errorf("branch target = %d, want 2", got)
	}
}

func TestBuilderBackwardBranch(t *testing.T) {
	b := NewMethodBuilder("app.T", "loop")
	top := b.NewLabel()
	b.Bind(top)
	b.Op(OpNop)
	b.Jump(top) // index 1, jumps back to index 0
	m := b.Build()

	if got := m.Code[1].Target; got != -2 {
		t.Errorf("backward branch target = %d, want -2", got)
	}
}

func TestBuilderAddLocal(t *testing.T) {
	b := NewMethodBuilder("app.T", "m").SetParams("core.Int", "core.Int")
	if idx := b.AddLocal(); idx != 2 {
		t.Errorf("first AddLocal() = %d, want 2", idx)
	}
	if idx := b.AddLocal(); idx != 3 {
		t.Errorf("second AddLocal() = %d, want 3", idx)
	}
	if m := b.Build(); m.NumLocals != 2 {
		t.Errorf("NumLocals = %d, want 2", m.NumLocals)
	}
}

// ---------------------------------------------------------------------------
// Module lookup tests
// ---------------------------------------------------------------------------

func TestTypeLookups(t *testing.T) {
	typ := &Type{
		Name:   "app.Point",
		Fields: []Field{{Name: "x", Type: "core.Int"}},
		Methods: []*Method{
			{Type: "app.Point", Name: "length", Return: "core.Int"},
			{Type: "app.Point", Name: "scale", Params: []string{"core.Int"}},
		},
	}
	mod := &Module{Name: "app"}
	mod.AddType(typ)

	if mod.TypeNamed("app.Point") != typ {
		t.Error("TypeNamed should find app.Point")
	}
	if mod.TypeNamed("app.Missing") != nil {
		t.Error("TypeNamed should return nil for unknown type")
	}
	if typ.Method("scale", 1) == nil {
		t.Error("Method(scale, 1) should be found")
	}
	if typ.Method("scale", 0) != nil {
		t.Error("Method(scale, 0) should not match arity 1")
	}
	if typ.MethodBySig("app.Point.length/0") == nil {
		t.Error("MethodBySig should find length/0")
	}
	if typ.FieldNamed("x") == nil {
		t.Error("FieldNamed(x) should be found")
	}
}

func TestIsBuiltin(t *testing.T) {
	tests := []struct {
		name string
		want bool
	}{
		{"core.Int", true},
		{"core", true},
		{"core.io.File", true},
		{"app.Point", false},
		{"corelib.X", false},
	}
	for _, tt := range tests {
		if got := IsBuiltin(tt.name); got != tt.want {
			t.Errorf("IsBuiltin(%q) = %v, want %v", tt.name, got, tt.want)
		}
	}
}

// ---------------------------------------------------------------------------
// Wire format tests
// ---------------------------------------------------------------------------

func TestModuleWireRoundTrip(t *testing.T) {
	mod := &Module{
		Name: "app",
		Types: []*Type{
			{
				Name:  "app.Point",
				Token: 7,
				Fields: []Field{
					{Name: "x", Type: "core.Int", Init: &Instr{Op: OpPushInt, Int: 5}},
				},
				Methods: []*Method{
					{
						Type:   "app.Point",
						Name:   "length",
						Return: "core.Int",
						Token:  9,
						Code: []Instr{
							{Op: OpPushInt, Int: 1},
							{Op: OpReturn},
						},
					},
				},
			},
		},
		SlotDefaults: []SlotDefault{
			{Type: "app.Point", Field: "y", Value: Instr{Op: OpPushInt, Int: 5}},
		},
	}

	data, err := MarshalModule(mod)
	if err != nil {
		t.Fatalf("MarshalModule: %v", err)
	}
	got, err := UnmarshalModule(data)
	if err != nil {
		t.Fatalf("UnmarshalModule: %v", err)
	}

	typ := got.TypeNamed("app.Point")
	if typ == nil {
		t.Fatal("round-tripped module lost app.Point")
	}
	if typ.Token != 7 {
		t.Errorf("type token = %d, want 7", typ.Token)
	}
	m := typ.Method("length", 0)
	if m == nil {
		t.Fatal("round-tripped module lost length/0")
	}
	if len(m.Code) != 2 || m.Code[0].Int != 1 {
		t.Errorf("round-tripped body mismatch: %+v", m.Code)
	}
	if len(got.SlotDefaults) != 1 || got.SlotDefaults[0].Field != "y" {
		t.Errorf("round-tripped slot defaults mismatch: %+v", got.SlotDefaults)
	}
}

func TestMarshalIsDeterministic(t *testing.T) {
	mod := &Module{Name: "app", Types: []*Type{{Name: "app.T"}}}
	a, err := MarshalModule(mod)
	if err != nil {
		t.Fatalf("MarshalModule: %v", err)
	}
	b, err := MarshalModule(mod)
	if err != nil {
		t.Fatalf("MarshalModule: %v", err)
	}
	if string(a) != string(b) {
		t.Error("canonical encoding should be byte-stable for identical input")
	}
}

// ---------------------------------------------------------------------------
// Disassembler tests
// ---------------------------------------------------------------------------

func TestDisassemble(t *testing.T) {
	m := NewMethodBuilder("app.Point", "length").
		SetReturn("core.Int").
		PushInt(42).
		Op(OpReturn).
		Build()

	out := Disassemble(m)
	if !strings.Contains(out, "app.Point.length/0") {
		t.Errorf("disassembly missing header: %s", out)
	}
	if !strings.Contains(out, "PUSH_INT") || !strings.Contains(out, "42") {
		t.Errorf("disassembly missing PUSH_INT 42: %s", out)
	}
}
