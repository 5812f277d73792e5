// Package patch implements the live-patching pipeline: snapshot
// bookkeeping, structural module diffing, patch module synthesis, and
// hook application against a running image.
//
// The pipeline never compares metadata tokens. All identity is by
// fully-qualified name, because the candidate module and the loaded
// module are independent compilations of overlapping source.
package patch

import (
	"sync"

	"github.com/chazu/ember/ir"
)

// ---------------------------------------------------------------------------
// Call graph index
// ---------------------------------------------------------------------------

// CallGraph is a callee→callers index over generic call sites. Only
// CALL_GENERIC sites are indexed: ordinary virtual and static calls
// keep working once the callee's entry point is redirected, but a
// generic caller embeds an instantiation that must be regenerated when
// the generic definition changes.
type CallGraph struct {
	mu       sync.RWMutex
	callers  map[string]map[string]*ir.Method // callee sig → caller sig → caller body
	outgoing map[string][]string              // caller sig → callee sigs
}

// NewCallGraph creates an empty index.
func NewCallGraph() *CallGraph {
	return &CallGraph{
		callers:  make(map[string]map[string]*ir.Method),
		outgoing: make(map[string][]string),
	}
}

// Index scans every method of a module into the graph.
func (g *CallGraph) Index(mod *ir.Module) {
	g.mu.Lock()
	defer g.mu.Unlock()
	for _, t := range mod.Types {
		for _, m := range t.Methods {
			g.update(m)
		}
	}
}

// Update re-indexes changed methods. Stale outgoing edges are removed
// first: a method may have stopped calling things it used to call.
func (g *CallGraph) Update(methods ...*ir.Method) {
	g.mu.Lock()
	defer g.mu.Unlock()
	for _, m := range methods {
		g.update(m)
	}
}

func (g *CallGraph) update(m *ir.Method) {
	caller := m.Sig()
	for _, callee := range g.outgoing[caller] {
		if edges := g.callers[callee]; edges != nil {
			delete(edges, caller)
			if len(edges) == 0 {
				delete(g.callers, callee)
			}
		}
	}
	g.outgoing[caller] = nil

	for _, in := range m.Code {
		if in.Op != ir.OpCallGeneric || in.Inst == nil {
			continue
		}
		ref := in.Inst.Method
		if ir.IsBuiltin(ref.Type) {
			continue
		}
		callee := ref.Sig()
		edges := g.callers[callee]
		if edges == nil {
			edges = make(map[string]*ir.Method)
			g.callers[callee] = edges
		}
		edges[caller] = m
		g.outgoing[caller] = append(g.outgoing[caller], callee)
	}
}

// CallersOf returns the callers currently indexed for a method
// signature. The returned map is a copy.
func (g *CallGraph) CallersOf(sig string) map[string]*ir.Method {
	g.mu.RLock()
	defer g.mu.RUnlock()
	edges := g.callers[sig]
	if len(edges) == 0 {
		return nil
	}
	out := make(map[string]*ir.Method, len(edges))
	for k, v := range edges {
		out[k] = v
	}
	return out
}

// Clear drops all edges.
func (g *CallGraph) Clear() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.callers = make(map[string]map[string]*ir.Method)
	g.outgoing = make(map[string][]string)
}
