package patch

import (
	"testing"
)

func TestStoreInitialize(t *testing.T) {
	v1 := compileApp(t, genericSrc)
	store := NewStore()
	store.Initialize(v1)

	st := store.State("app")
	if st.Snapshot() != v1 {
		t.Error("baseline snapshot not installed")
	}
	if callers := st.Graph().CallersOf("app.Box.id/1"); len(callers) != 1 {
		t.Errorf("baseline graph callers = %d, want 1", len(callers))
	}
	if mods := store.Modules(); len(mods) != 1 || mods[0] != "app" {
		t.Errorf("modules = %v, want [app]", mods)
	}
}

func TestStoreStateOnDemand(t *testing.T) {
	store := NewStore()
	st := store.State("never.loaded")
	if st.Snapshot() != nil {
		t.Error("unseen module should start with a nil snapshot")
	}
	if st != store.State("never.loaded") {
		t.Error("state must be stable across lookups")
	}
}

func TestStoreReinitializeDiscardsState(t *testing.T) {
	v1 := compileApp(t, genericSrc)
	store := NewStore()
	store.Initialize(v1)

	v2 := compileApp(t, `class Box {
	def id[T](v: T): T { return v }
}
class User {
	def use(): Int { return 4 }
}`)
	store.Initialize(v2)
	st := store.State("app")
	if st.Snapshot() != v2 {
		t.Error("re-initialize should replace the snapshot")
	}
	if callers := st.Graph().CallersOf("app.Box.id/1"); len(callers) != 0 {
		t.Errorf("re-initialized graph callers = %d, want 0", len(callers))
	}
}

func TestCommitReplacesSnapshotAndGraph(t *testing.T) {
	v1 := compileApp(t, genericSrc)
	store := NewStore()
	store.Initialize(v1)
	st := store.State("app")

	// use() drops its generic call; the committed graph must lose the
	// stale edge.
	v2 := compileApp(t, `class Box {
	def id[T](v: T): T { return v }
}
class User {
	def use(): Int { return 4 }
}`)
	st.Lock()
	diff := DiffModules(st.Snapshot(), v2, nil, st.Graph())
	if diff["app.User"] == nil || diff["app.User"].ModifiedMethods["app.User.use/0"] == nil {
		t.Fatalf("diff = %v, want use modified", diff)
	}
	st.Commit(v2, diff)
	st.Unlock()

	if st.Snapshot() != v2 {
		t.Error("commit did not replace the snapshot")
	}
	if callers := st.Graph().CallersOf("app.Box.id/1"); len(callers) != 0 {
		t.Errorf("callers after commit = %d, want stale edge removed", len(callers))
	}
}
