package patch

import (
	"github.com/chazu/ember/ir"
)

// ---------------------------------------------------------------------------
// Member diff
// ---------------------------------------------------------------------------

// MemberDiff is the per-type result of a structural diff. Bodies come
// from the candidate module.
type MemberDiff struct {
	AddedFields     map[string]*ir.Field  // field name → definition
	AddedMethods    map[string]*ir.Method // sig → body
	ModifiedMethods map[string]*ir.Method // sig → body
}

func newMemberDiff() *MemberDiff {
	return &MemberDiff{
		AddedFields:     make(map[string]*ir.Field),
		AddedMethods:    make(map[string]*ir.Method),
		ModifiedMethods: make(map[string]*ir.Method),
	}
}

// Empty reports whether no member changed.
func (d *MemberDiff) Empty() bool {
	return len(d.AddedFields) == 0 && len(d.AddedMethods) == 0 && len(d.ModifiedMethods) == 0
}

// Diff maps fully-qualified type name to its member diff. A nil or
// empty Diff means nothing to patch.
type Diff map[string]*MemberDiff

// typeDiff returns the diff bucket for a type, creating it on demand.
func (d Diff) typeDiff(name string) *MemberDiff {
	md, ok := d[name]
	if !ok {
		md = newMemberDiff()
		d[name] = md
	}
	return md
}

// ---------------------------------------------------------------------------
// Diff engine
// ---------------------------------------------------------------------------

// DiffModules structurally compares a candidate module against the
// previous snapshot, restricted to types declared in changedFiles
// (nil means every type). The graph, when non-nil, drives the cascade:
// callers of a modified generic definition are re-marked modified even
// though their own source did not change.
//
// old may be nil (no snapshot yet): every type counts as new.
func DiffModules(old, candidate *ir.Module, changedFiles []string, graph *CallGraph) Diff {
	changed := make(map[string]bool, len(changedFiles))
	for _, f := range changedFiles {
		changed[f] = true
	}

	diff := make(Diff)
	for _, t := range candidate.Types {
		// Generated types are never diffed directly; their bodies are
		// reached through the methods that reference them.
		if t.IsGenerated() {
			continue
		}
		if len(changed) > 0 && !changed[t.Source] {
			continue
		}
		var oldType *ir.Type
		if old != nil {
			oldType = old.TypeNamed(t.Name)
		}
		md := diffType(oldType, t, old, candidate)
		if !md.Empty() {
			diff[t.Name] = md
		}
	}

	if graph != nil {
		cascade(diff, candidate, graph)
	}

	if len(diff) == 0 {
		return nil
	}
	return diff
}

func diffType(oldType, newType *ir.Type, oldMod, newMod *ir.Module) *MemberDiff {
	md := newMemberDiff()

	if oldType == nil {
		// Brand-new type: everything is added. Constructors and declared
		// accessors need no hooks of their own.
		for _, m := range newType.Methods {
			if m.Flags&(ir.FlagCtor|ir.FlagAccessor) != 0 {
				continue
			}
			md.AddedMethods[m.Sig()] = m
		}
		for i := range newType.Fields {
			f := &newType.Fields[i]
			md.AddedFields[f.Name] = f
		}
		return md
	}

	eq := &bodyComparer{oldMod: oldMod, newMod: newMod, seen: make(map[string]bool)}

	for _, m := range newType.Methods {
		prev := oldType.MethodBySig(m.Sig())
		switch {
		case prev == nil:
			if m.Flags&ir.FlagCtor != 0 {
				continue
			}
			md.AddedMethods[m.Sig()] = m
		case !eq.methodsEqual(prev, m):
			md.ModifiedMethods[m.Sig()] = m
		}
	}
	for i := range newType.Fields {
		f := &newType.Fields[i]
		if oldType.FieldNamed(f.Name) == nil {
			md.AddedFields[f.Name] = f
		}
	}
	// Removed methods and fields are accepted but not retroactively
	// hookable: the last-hooked body stays live until restart.
	return md
}

// cascade re-marks callers of modified generic definitions as modified.
// A caller embeds an instantiation of the old definition that must be
// regenerated, even though the caller's source is untouched. Cascaded
// callers that are themselves generic cascade further, to a fixpoint.
func cascade(diff Diff, candidate *ir.Module, graph *CallGraph) {
	var work []string
	for _, md := range diff {
		for sig, m := range md.ModifiedMethods {
			if m.IsGeneric() {
				work = append(work, sig)
			}
		}
	}
	visited := make(map[string]bool)
	for len(work) > 0 {
		sig := work[0]
		work = work[1:]
		if visited[sig] {
			continue
		}
		visited[sig] = true

		for callerSig, body := range graph.CallersOf(sig) {
			md := diff.typeDiff(body.Type)
			if _, already := md.AddedMethods[callerSig]; already {
				continue
			}
			if _, already := md.ModifiedMethods[callerSig]; already {
				continue
			}
			// Prefer the candidate's body when the caller was itself
			// recompiled; otherwise the latest indexed body stands.
			if t := candidate.TypeNamed(body.Type); t != nil {
				if m := t.MethodBySig(callerSig); m != nil {
					body = m
				}
			}
			md.ModifiedMethods[callerSig] = body
			if body.IsGeneric() {
				work = append(work, callerSig)
			}
		}
	}
	for name, md := range diff {
		if md.Empty() {
			delete(diff, name)
		}
	}
}

// ---------------------------------------------------------------------------
// Structural body equality
// ---------------------------------------------------------------------------

// bodyComparer compares method bodies across the two modules. Numeric
// and string constants compare by exact value (a float literal edit
// within display tolerance is still an edit), references compare by
// fully-qualified name, and branch targets are ignored once the opcode
// matches: targets are relative and always shift after an insertion,
// so only opcode identity is meaningful.
type bodyComparer struct {
	oldMod *ir.Module
	newMod *ir.Module
	seen   map[string]bool // generated type names already being compared
}

func (c *bodyComparer) methodsEqual(a, b *ir.Method) bool {
	if a.NumLocals != b.NumLocals || a.Handlers != b.Handlers {
		return false
	}
	if a.Return != b.Return || len(a.Params) != len(b.Params) {
		return false
	}
	for i := range a.Params {
		if a.Params[i] != b.Params[i] {
			return false
		}
	}
	if len(a.TypeParams) != len(b.TypeParams) || a.Flags != b.Flags {
		return false
	}
	if len(a.Code) != len(b.Code) {
		return false
	}
	for i := range a.Code {
		if !c.instrsEqual(a.Code[i], b.Code[i]) {
			return false
		}
	}
	return true
}

func (c *bodyComparer) instrsEqual(a, b ir.Instr) bool {
	if a.Op != b.Op {
		return false
	}
	switch a.Op.Kind() {
	case ir.OperandNone:
		return true
	case ir.OperandInt, ir.OperandLocal:
		return a.Int == b.Int
	case ir.OperandFloat:
		return a.Float == b.Float
	case ir.OperandFloat32:
		return a.Float32 == b.Float32
	case ir.OperandString:
		return a.Str == b.Str
	case ir.OperandBranch:
		return true
	case ir.OperandType:
		if a.Type.Name != b.Type.Name {
			return false
		}
		return c.generatedEqual(a.Type.Name)
	case ir.OperandField:
		return a.Field.Key() == b.Field.Key()
	case ir.OperandMethod:
		return a.Method.Sig() == b.Method.Sig()
	case ir.OperandInstantiation:
		if a.Inst == nil || b.Inst == nil {
			return a.Inst == b.Inst
		}
		if a.Inst.Method.Sig() != b.Inst.Method.Sig() {
			return false
		}
		if len(a.Inst.TypeArgs) != len(b.Inst.TypeArgs) {
			return false
		}
		for i := range a.Inst.TypeArgs {
			if a.Inst.TypeArgs[i] != b.Inst.TypeArgs[i] {
				return false
			}
		}
		return true
	}
	return true
}

// generatedEqual descends into compiler-generated types referenced by
// name-equal operands. Two independent compilations derive the same
// name for the same closure or state machine, so a body edit inside one
// only surfaces through its members. State machines resolve down to
// their step method; closures compare every member.
func (c *bodyComparer) generatedEqual(name string) bool {
	newT := c.newMod.TypeNamed(name)
	if newT == nil || !newT.IsGenerated() {
		return true
	}
	oldT := c.oldMod.TypeNamed(name)
	if oldT == nil {
		return false
	}
	if c.seen[name] {
		return true
	}
	c.seen[name] = true
	defer delete(c.seen, name)

	if newT.IsStateMachine() {
		oldStep, newStep := oldT.StepMethod(), newT.StepMethod()
		if oldStep == nil || newStep == nil {
			return oldStep == newStep
		}
		return c.methodsEqual(oldStep, newStep)
	}

	if len(oldT.Fields) != len(newT.Fields) || len(oldT.Methods) != len(newT.Methods) {
		return false
	}
	for i := range newT.Fields {
		if oldT.Fields[i].Name != newT.Fields[i].Name || oldT.Fields[i].Type != newT.Fields[i].Type {
			return false
		}
	}
	for _, m := range newT.Methods {
		prev := oldT.MethodBySig(m.Sig())
		if prev == nil || !c.methodsEqual(prev, m) {
			return false
		}
	}
	return true
}
