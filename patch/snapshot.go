package patch

import (
	"sync"

	"github.com/chazu/ember/ir"
)

// ---------------------------------------------------------------------------
// Snapshot store
// ---------------------------------------------------------------------------

// Store holds, per module, the last successfully diffed compilation and
// its call graph. Snapshots are replaced wholesale after a successful
// cycle and never mutated in place, so a diff always compares two
// independent values.
//
// State is keyed and locked per module: different modules may run
// cycles concurrently, but cycles for one module are serialized by the
// caller holding that module's state for the whole cycle.
type Store struct {
	mu      sync.Mutex
	modules map[string]*ModuleState
}

// ModuleState is the per-module snapshot plus call graph.
type ModuleState struct {
	mu       sync.Mutex
	name     string
	snapshot *ir.Module
	graph    *CallGraph
}

// NewStore creates an empty snapshot store.
func NewStore() *Store {
	return &Store{modules: make(map[string]*ModuleState)}
}

// Initialize establishes the baseline snapshot for a set of modules the
// host process has already loaded. Existing state for a re-initialized
// module is discarded.
func (s *Store) Initialize(mods ...*ir.Module) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, mod := range mods {
		st := &ModuleState{name: mod.Name, snapshot: mod, graph: NewCallGraph()}
		st.graph.Index(mod)
		s.modules[mod.Name] = st
	}
}

// State returns the per-module state, creating empty state on first
// use. Callers lock the state for the duration of a cycle.
func (s *Store) State(module string) *ModuleState {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.modules[module]
	if !ok {
		st = &ModuleState{name: module, graph: NewCallGraph()}
		s.modules[module] = st
	}
	return st
}

// Modules returns the names of all tracked modules.
func (s *Store) Modules() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	names := make([]string, 0, len(s.modules))
	for name := range s.modules {
		names = append(names, name)
	}
	return names
}

// Clear drops all state.
func (s *Store) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.modules = make(map[string]*ModuleState)
}

// Lock takes the module's cycle lock.
func (st *ModuleState) Lock() { st.mu.Lock() }

// Unlock releases the module's cycle lock.
func (st *ModuleState) Unlock() { st.mu.Unlock() }

// Snapshot returns the last committed module, or nil before the first
// commit.
func (st *ModuleState) Snapshot() *ir.Module { return st.snapshot }

// Graph returns the module's call graph index.
func (st *ModuleState) Graph() *CallGraph { return st.graph }

// Commit replaces the snapshot with the candidate after a successful
// cycle and folds the diffed methods into the call graph.
func (st *ModuleState) Commit(candidate *ir.Module, diff Diff) {
	st.snapshot = candidate
	for typeName, md := range diff {
		t := candidate.TypeNamed(typeName)
		if t == nil {
			continue
		}
		var changed []*ir.Method
		for sig := range md.AddedMethods {
			if m := t.MethodBySig(sig); m != nil {
				changed = append(changed, m)
			}
		}
		for sig := range md.ModifiedMethods {
			if m := t.MethodBySig(sig); m != nil {
				changed = append(changed, m)
			}
		}
		st.graph.Update(changed...)
	}
}
