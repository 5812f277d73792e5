package patch

import (
	"fmt"
	"sort"
	"strings"

	"github.com/chazu/ember/ir"
)

// ---------------------------------------------------------------------------
// Patch synthesis
// ---------------------------------------------------------------------------

// PatchSuffix is appended to the original module name, to wrapper type
// names, and to extracted generated type names. Keeping the derivation
// deterministic makes two syntheses of the same diff behaviorally
// identical; on-disk uniqueness is the writer's concern, not the
// synthesizer's.
const PatchSuffix = "$patch"

// MemberError reports a per-member synthesis or hook failure. Other
// members of the same batch proceed.
type MemberError struct {
	Sig string
	Err error
}

func (e MemberError) Error() string {
	return fmt.Sprintf("%s: %v", e.Sig, e.Err)
}

// WrapperRef names a synthesized wrapper: the patch module that carries
// it plus its signature inside that module.
type WrapperRef struct {
	Module string `cbor:"1,keyasint" json:"module"`
	Sig    string `cbor:"2,keyasint" json:"sig"`
}

// WrapperSigFor derives the wrapper signature for a diffed method.
// Wrappers are static methods on "<OwnerType>$patch" with the same
// name; instance methods gain an explicit self parameter, so their
// wrapper arity is the original arity plus one.
func WrapperSigFor(m *ir.Method) string {
	arity := m.Arity()
	if !m.IsStatic() {
		arity++
	}
	return fmt.Sprintf("%s%s.%s/%d", m.Type, PatchSuffix, m.Name, arity)
}

// Synthesize turns a member diff into a loadable patch module. The
// original module is the one already loaded in the live process; every
// embedded reference in copied code is resolved against it by name so
// the patch shares type identity with the running process instead of
// introducing duplicate types.
//
// Failures are per-member: a method that cannot be synthesized is
// dropped from the patch and reported, and the rest of the diff
// proceeds.
func Synthesize(original *ir.Module, diff Diff, candidate *ir.Module) (*ir.Module, []MemberError) {
	s := &synthesizer{
		original:  original,
		candidate: candidate,
		out:       &ir.Module{Name: original.Name + PatchSuffix},
		wrappers:  make(map[string]ir.MethodRef),
		extracted: make(map[string]string),
	}

	typeNames := make([]string, 0, len(diff))
	for name := range diff {
		typeNames = append(typeNames, name)
	}
	sort.Strings(typeNames)

	// First pass: register every wrapper so that cross-references
	// between patched members resolve during rewriting.
	for _, typeName := range typeNames {
		for _, m := range diffedMethods(diff[typeName]) {
			s.wrappers[m.Sig()] = wrapperRef(m)
		}
	}

	// Second pass: emit wrappers per type, and slot defaults for added
	// fields carrying a constructor-literal initializer.
	for _, typeName := range typeNames {
		md := diff[typeName]
		wt := &ir.Type{Name: typeName + PatchSuffix}
		for _, m := range diffedMethods(md) {
			w, err := s.synthesizeWrapper(m)
			if err != nil {
				s.errs = append(s.errs, MemberError{Sig: m.Sig(), Err: err})
				continue
			}
			wt.Methods = append(wt.Methods, w)
		}
		if len(wt.Methods) > 0 {
			s.out.AddType(wt)
		}

		if original.TypeNamed(typeName) == nil {
			continue
		}
		fieldNames := make([]string, 0, len(md.AddedFields))
		for name := range md.AddedFields {
			fieldNames = append(fieldNames, name)
		}
		sort.Strings(fieldNames)
		for _, name := range fieldNames {
			f := md.AddedFields[name]
			if f.Init != nil {
				s.out.SlotDefaults = append(s.out.SlotDefaults, ir.SlotDefault{
					Type:  typeName,
					Field: name,
					Value: *f.Init,
				})
			}
		}
	}
	return s.out, s.errs
}

// diffedMethods returns the added and modified methods in deterministic
// signature order.
func diffedMethods(md *MemberDiff) []*ir.Method {
	sigs := make([]string, 0, len(md.AddedMethods)+len(md.ModifiedMethods))
	bySig := make(map[string]*ir.Method)
	for sig, m := range md.AddedMethods {
		sigs = append(sigs, sig)
		bySig[sig] = m
	}
	for sig, m := range md.ModifiedMethods {
		sigs = append(sigs, sig)
		bySig[sig] = m
	}
	sort.Strings(sigs)
	out := make([]*ir.Method, len(sigs))
	for i, sig := range sigs {
		out[i] = bySig[sig]
	}
	return out
}

func wrapperRef(m *ir.Method) ir.MethodRef {
	arity := m.Arity()
	if !m.IsStatic() {
		arity++
	}
	return ir.MethodRef{Type: m.Type + PatchSuffix, Name: m.Name, Arity: arity}
}

// ---------------------------------------------------------------------------
// synthesizer
// ---------------------------------------------------------------------------

type synthesizer struct {
	original  *ir.Module
	candidate *ir.Module
	out       *ir.Module

	wrappers  map[string]ir.MethodRef // original sig → wrapper ref
	extracted map[string]string       // candidate type name → extracted name
	errs      []MemberError
}

// synthesizeWrapper builds the static wrapper for one diffed method:
// same name and parameter list, prefixed by an explicit self parameter
// for instance methods, with the candidate body copied and every
// embedded reference rewritten against the original module.
func (s *synthesizer) synthesizeWrapper(m *ir.Method) (*ir.Method, error) {
	w := &ir.Method{
		Type:       m.Type + PatchSuffix,
		Name:       m.Name,
		Return:     m.Return,
		TypeParams: m.TypeParams,
		NumLocals:  m.NumLocals,
		Handlers:   m.Handlers,
		Source:     m.Source,
	}
	w.Flags = ir.FlagStatic | ir.FlagNoInline | ir.FlagSkipVisibility
	selfShift := 0
	if !m.IsStatic() {
		w.Flags |= ir.FlagExplicitSelf
		w.Params = append([]string{m.Type}, m.Params...)
		selfShift = 1
	} else {
		w.Params = append([]string(nil), m.Params...)
	}

	code := make([]ir.Instr, 0, len(m.Code))
	for _, in := range m.Code {
		out, err := s.rewrite(in, selfShift, m.TypeParams)
		if err != nil {
			return nil, err
		}
		code = append(code, out...)
	}
	w.Code = code
	return w, nil
}

// rewrite maps one candidate instruction into the patch module. The
// self shift rewrites receiver access into the explicit first
// parameter and displaces the remaining locals by one.
func (s *synthesizer) rewrite(in ir.Instr, selfShift int, typeParams []string) ([]ir.Instr, error) {
	switch in.Op {
	case ir.OpPushSelf:
		if selfShift > 0 {
			return []ir.Instr{{Op: ir.OpLoadLocal, Int: 0}}, nil
		}
		return []ir.Instr{in}, nil

	case ir.OpLoadLocal, ir.OpStoreLocal:
		in.Int += int64(selfShift)
		return []ir.Instr{in}, nil

	case ir.OpNew:
		name, err := s.resolveType(in.Type.Name, typeParams)
		if err != nil {
			return nil, err
		}
		return []ir.Instr{{Op: ir.OpNew, Type: ir.TypeRef{Name: name}}}, nil

	case ir.OpLoadField, ir.OpStoreField:
		return s.rewriteField(in, typeParams)

	case ir.OpLoadStatic, ir.OpStoreStatic:
		return s.rewriteStaticField(in, typeParams)

	case ir.OpCall, ir.OpCallStatic:
		return s.rewriteCall(in, typeParams)

	case ir.OpCallGeneric:
		return s.rewriteGenericCall(in, typeParams)

	default:
		return []ir.Instr{in}, nil
	}
}

// rewriteField handles instance field access: fields the running
// original type does not carry go through the indirection table,
// everything else is redirected by name. The check is against the
// original, not the current diff, so a later edit touching a field
// added in an earlier cycle still indirects.
func (s *synthesizer) rewriteField(in ir.Instr, typeParams []string) ([]ir.Instr, error) {
	if s.isAddedField(in.Field) {
		op := ir.OpSlotLoad
		if in.Op == ir.OpStoreField {
			op = ir.OpSlotStore
		}
		return []ir.Instr{{Op: op, Field: ir.FieldRef{Type: in.Field.Type, Name: in.Field.Name}}}, nil
	}
	owner, err := s.resolveType(in.Field.Type, typeParams)
	if err != nil {
		return nil, err
	}
	return []ir.Instr{{Op: in.Op, Field: ir.FieldRef{Type: owner, Name: in.Field.Name}}}, nil
}

func (s *synthesizer) rewriteStaticField(in ir.Instr, typeParams []string) ([]ir.Instr, error) {
	if s.isAddedField(in.Field) {
		op := ir.OpSlotLoadStatic
		if in.Op == ir.OpStoreStatic {
			op = ir.OpSlotStoreStatic
		}
		return []ir.Instr{{Op: op, Field: ir.FieldRef{Type: in.Field.Type, Name: in.Field.Name}}}, nil
	}
	owner, err := s.resolveType(in.Field.Type, typeParams)
	if err != nil {
		return nil, err
	}
	return []ir.Instr{{Op: in.Op, Field: ir.FieldRef{Type: owner, Name: in.Field.Name}}}, nil
}

// isAddedField reports whether the reference targets a field the
// original's pre-existing type lacks. Brand-new and generated types
// are extracted with their real layout and never indirected.
func (s *synthesizer) isAddedField(ref ir.FieldRef) bool {
	t := s.original.TypeNamed(ref.Type)
	if t == nil || t.IsGenerated() {
		return false
	}
	return t.FieldNamed(ref.Name) == nil
}

// rewriteCall redirects method references: a call to another patched
// member goes to that member's own wrapper, everything else keeps the
// original module's identity by name.
func (s *synthesizer) rewriteCall(in ir.Instr, typeParams []string) ([]ir.Instr, error) {
	if w, ok := s.wrappers[in.Method.Sig()]; ok {
		// Instance calls become static wrapper calls; the receiver on
		// the stack lines up with the wrapper's explicit self parameter.
		return []ir.Instr{{Op: ir.OpCallStatic, Method: w}}, nil
	}
	owner, err := s.resolveType(in.Method.Type, typeParams)
	if err != nil {
		return nil, err
	}
	ref := ir.MethodRef{Type: owner, Name: in.Method.Name, Arity: in.Method.Arity}
	return []ir.Instr{{Op: in.Op, Method: ref}}, nil
}

// rewriteGenericCall rebuilds a generic instantiation against the
// original definition, or its wrapper when the definition itself was
// patched, redirecting each type argument independently.
func (s *synthesizer) rewriteGenericCall(in ir.Instr, typeParams []string) ([]ir.Instr, error) {
	if in.Inst == nil {
		return nil, fmt.Errorf("patch: generic call without instantiation")
	}
	ref := in.Inst.Method
	if w, ok := s.wrappers[ref.Sig()]; ok {
		ref = w
	} else {
		owner, err := s.resolveType(ref.Type, typeParams)
		if err != nil {
			return nil, err
		}
		ref = ir.MethodRef{Type: owner, Name: ref.Name, Arity: ref.Arity}
	}
	args := make([]string, len(in.Inst.TypeArgs))
	for i, a := range in.Inst.TypeArgs {
		name, err := s.resolveType(a, typeParams)
		if err != nil {
			return nil, err
		}
		args[i] = name
	}
	return []ir.Instr{{Op: ir.OpCallGeneric, Inst: &ir.Instantiation{Method: ref, TypeArgs: args}}}, nil
}

// resolveType maps a candidate type reference to its patch-module
// identity: builtins and the method's own type parameters pass through,
// types present in the original module keep the original identity,
// generated and brand-new types are extracted by need.
func (s *synthesizer) resolveType(name string, typeParams []string) (string, error) {
	if name == "" || ir.IsBuiltin(name) {
		return name, nil
	}
	for _, tp := range typeParams {
		if name == tp {
			return name, nil
		}
	}
	if extractedName, ok := s.extracted[name]; ok {
		return extractedName, nil
	}
	if t := s.original.TypeNamed(name); t != nil && !t.IsGenerated() {
		return name, nil
	}
	if s.candidate != nil {
		if t := s.candidate.TypeNamed(name); t != nil {
			return s.extractType(t, typeParams)
		}
	}
	return "", fmt.Errorf("patch: unresolvable type reference %s", name)
}

// extractType pulls a compiler-generated or brand-new type into the
// patch module, recursively rewriting its members. Extraction is
// memoized by name so repeated references reuse the same copy. The
// extracted copy is renamed with the patch suffix so it never collides
// with the original module's own generated types.
func (s *synthesizer) extractType(t *ir.Type, typeParams []string) (string, error) {
	name := t.Name + PatchSuffix
	// Memoize before recursing so self-references terminate. The new
	// name maps to itself: retargeted bodies re-enter the rewriter.
	s.extracted[t.Name] = name
	s.extracted[name] = name

	copied := &ir.Type{
		Name:   name,
		Flags:  t.Flags,
		Source: t.Source,
	}
	for _, f := range t.Fields {
		fieldType, err := s.resolveType(f.Type, typeParams)
		if err != nil {
			delete(s.extracted, t.Name)
			delete(s.extracted, name)
			return "", err
		}
		nf := ir.Field{Name: f.Name, Type: fieldType, Static: f.Static}
		if f.Init != nil {
			init := *f.Init
			nf.Init = &init
		}
		copied.Fields = append(copied.Fields, nf)
	}
	for _, m := range t.Methods {
		nm := &ir.Method{
			Type:       name,
			Name:       m.Name,
			Return:     m.Return,
			TypeParams: m.TypeParams,
			Flags:      m.Flags | ir.FlagSkipVisibility,
			NumLocals:  m.NumLocals,
			Handlers:   m.Handlers,
			Source:     m.Source,
		}
		params := make([]string, len(m.Params))
		for i, p := range m.Params {
			pt, err := s.resolveType(p, m.TypeParams)
			if err != nil {
				delete(s.extracted, t.Name)
				delete(s.extracted, name)
				return "", err
			}
			params[i] = pt
		}
		nm.Params = params
		code := make([]ir.Instr, 0, len(m.Code))
		for _, in := range m.Code {
			// References to the extracted type itself move with it.
			out, err := s.rewrite(s.retargetOwn(in, t.Name, name), 0, m.TypeParams)
			if err != nil {
				delete(s.extracted, t.Name)
				delete(s.extracted, name)
				return "", err
			}
			code = append(code, out...)
		}
		nm.Code = code
		copied.Methods = append(copied.Methods, nm)
	}
	s.out.AddType(copied)
	return name, nil
}

// retargetOwn renames self-type references inside an extracted type's
// bodies before the general rewrite pass, so they are not re-resolved.
func (s *synthesizer) retargetOwn(in ir.Instr, oldName, newName string) ir.Instr {
	if in.Field.Type == oldName {
		in.Field.Type = newName
	}
	if in.Method.Type == oldName {
		in.Method.Type = newName
	}
	if in.Type.Name == oldName {
		in.Type.Name = newName
	}
	return in
}

// IsPatchModule reports whether a module name denotes a synthesized
// patch.
func IsPatchModule(name string) bool {
	return strings.HasSuffix(name, PatchSuffix)
}
