package patch

import (
	"testing"

	"github.com/chazu/ember/ir"
)

func genericCaller(owner, name, callee string) *ir.Method {
	b := ir.NewMethodBuilder(owner, name)
	b.Op(ir.OpPushSelf)
	b.CallGeneric(ir.Instantiation{
		Method:   ir.MethodRef{Type: callee, Name: "id", Arity: 1},
		TypeArgs: []string{"core.Int"},
	})
	b.Op(ir.OpReturn)
	return b.Build()
}

func TestCallGraphIndexAndQuery(t *testing.T) {
	caller := genericCaller("app.A", "use", "app.B")
	g := NewCallGraph()
	g.Update(caller)

	callers := g.CallersOf("app.B.id/1")
	if len(callers) != 1 {
		t.Fatalf("callers = %d, want 1", len(callers))
	}
	if callers["app.A.use/0"] != caller {
		t.Error("caller body not returned")
	}
	if got := g.CallersOf("app.B.other/1"); got != nil {
		t.Errorf("CallersOf(unknown) = %v, want nil", got)
	}
}

func TestCallGraphStaleEdgeRemoval(t *testing.T) {
	g := NewCallGraph()
	g.Update(genericCaller("app.A", "use", "app.B"))

	// The method stopped calling app.B.id and now calls app.C.id.
	g.Update(genericCaller("app.A", "use", "app.C"))

	if got := g.CallersOf("app.B.id/1"); got != nil {
		t.Errorf("stale edge survived: %v", got)
	}
	if got := g.CallersOf("app.C.id/1"); len(got) != 1 {
		t.Errorf("new edge missing: %v", got)
	}
}

func TestCallGraphFiltersBuiltins(t *testing.T) {
	g := NewCallGraph()
	g.Update(genericCaller("app.A", "use", "core.List"))
	if got := g.CallersOf("core.List.id/1"); got != nil {
		t.Errorf("builtin callee indexed: %v", got)
	}
}

func TestCallGraphIgnoresPlainCalls(t *testing.T) {
	b := ir.NewMethodBuilder("app.A", "plain")
	b.Op(ir.OpPushSelf)
	b.Call(ir.MethodRef{Type: "app.B", Name: "f", Arity: 0})
	b.Op(ir.OpReturn)
	g := NewCallGraph()
	g.Update(b.Build())
	if got := g.CallersOf("app.B.f/0"); got != nil {
		t.Errorf("non-generic call site indexed: %v", got)
	}
}
