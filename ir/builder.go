package ir

// ---------------------------------------------------------------------------
// MethodBuilder: helper for constructing method bodies
// ---------------------------------------------------------------------------

// MethodBuilder helps construct Method values instruction by instruction.
// Branch targets are emitted through labels and patched on Build, so
// callers never compute relative offsets by hand.
type MethodBuilder struct {
	method *Method
	code   []Instr

	labels  []int         // label id → instruction index, -1 while unbound
	patches map[int][]int // label id → instruction indexes awaiting the offset
}

// NewMethodBuilder creates a builder for a method on the given type.
func NewMethodBuilder(typeName, name string) *MethodBuilder {
	return &MethodBuilder{
		method: &Method{
			Type: typeName,
			Name: name,
		},
		patches: make(map[int][]int),
	}
}

// SetParams sets the parameter type names.
func (b *MethodBuilder) SetParams(params ...string) *MethodBuilder {
	b.method.Params = params
	return b
}

// SetReturn sets the return type name.
func (b *MethodBuilder) SetReturn(ret string) *MethodBuilder {
	b.method.Return = ret
	return b
}

// SetTypeParams marks the method as a generic definition.
func (b *MethodBuilder) SetTypeParams(tps ...string) *MethodBuilder {
	b.method.TypeParams = tps
	return b
}

// SetFlags sets the method flags.
func (b *MethodBuilder) SetFlags(flags MethodFlags) *MethodBuilder {
	b.method.Flags = flags
	return b
}

// SetToken sets the compile-local metadata token.
func (b *MethodBuilder) SetToken(tok uint32) *MethodBuilder {
	b.method.Token = tok
	return b
}

// SetSource records the source file the method came from.
func (b *MethodBuilder) SetSource(path string) *MethodBuilder {
	b.method.Source = path
	return b
}

// AddLocal reserves a local slot beyond the parameters and returns its index.
func (b *MethodBuilder) AddLocal() int {
	idx := len(b.method.Params) + b.method.NumLocals
	b.method.NumLocals++
	return idx
}

// Emit appends an instruction verbatim.
func (b *MethodBuilder) Emit(in Instr) *MethodBuilder {
	b.code = append(b.code, in)
	return b
}

// Op appends an operand-less instruction.
func (b *MethodBuilder) Op(op Opcode) *MethodBuilder {
	return b.Emit(Instr{Op: op})
}

// PushInt appends PUSH_INT.
func (b *MethodBuilder) PushInt(v int64) *MethodBuilder {
	return b.Emit(Instr{Op: OpPushInt, Int: v})
}

// PushFloat appends PUSH_FLOAT.
func (b *MethodBuilder) PushFloat(v float64) *MethodBuilder {
	return b.Emit(Instr{Op: OpPushFloat, Float: v})
}

// PushFloat32 appends PUSH_FLOAT32.
func (b *MethodBuilder) PushFloat32(v float32) *MethodBuilder {
	return b.Emit(Instr{Op: OpPushFloat32, Float32: v})
}

// PushString appends PUSH_STRING.
func (b *MethodBuilder) PushString(s string) *MethodBuilder {
	return b.Emit(Instr{Op: OpPushString, Str: s})
}

// LoadLocal appends LOAD_LOCAL.
func (b *MethodBuilder) LoadLocal(idx int) *MethodBuilder {
	return b.Emit(Instr{Op: OpLoadLocal, Int: int64(idx)})
}

// StoreLocal appends STORE_LOCAL.
func (b *MethodBuilder) StoreLocal(idx int) *MethodBuilder {
	return b.Emit(Instr{Op: OpStoreLocal, Int: int64(idx)})
}

// LoadField appends LOAD_FIELD.
func (b *MethodBuilder) LoadField(ref FieldRef) *MethodBuilder {
	return b.Emit(Instr{Op: OpLoadField, Field: ref})
}

// StoreField appends STORE_FIELD.
func (b *MethodBuilder) StoreField(ref FieldRef) *MethodBuilder {
	return b.Emit(Instr{Op: OpStoreField, Field: ref})
}

// Call appends CALL.
func (b *MethodBuilder) Call(ref MethodRef) *MethodBuilder {
	return b.Emit(Instr{Op: OpCall, Method: ref})
}

// CallStatic appends CALL_STATIC.
func (b *MethodBuilder) CallStatic(ref MethodRef) *MethodBuilder {
	return b.Emit(Instr{Op: OpCallStatic, Method: ref})
}

// CallGeneric appends CALL_GENERIC.
func (b *MethodBuilder) CallGeneric(inst Instantiation) *MethodBuilder {
	return b.Emit(Instr{Op: OpCallGeneric, Inst: &inst})
}

// New appends NEW.
func (b *MethodBuilder) New(ref TypeRef) *MethodBuilder {
	return b.Emit(Instr{Op: OpNew, Type: ref})
}

// ---------------------------------------------------------------------------
// Labels and branches
// ---------------------------------------------------------------------------

// NewLabel allocates an unbound label.
func (b *MethodBuilder) NewLabel() int {
	b.labels = append(b.labels, -1)
	return len(b.labels) - 1
}

// Bind binds the label to the current instruction position.
func (b *MethodBuilder) Bind(label int) *MethodBuilder {
	b.labels[label] = len(b.code)
	return b
}

// Jump appends JUMP to the given label.
func (b *MethodBuilder) Jump(label int) *MethodBuilder {
	return b.branch(OpJump, label)
}

// JumpIfFalse appends JUMP_IF_FALSE to the given label.
func (b *MethodBuilder) JumpIfFalse(label int) *MethodBuilder {
	return b.branch(OpJumpIfFalse, label)
}

func (b *MethodBuilder) branch(op Opcode, label int) *MethodBuilder {
	idx := len(b.code)
	b.code = append(b.code, Instr{Op: op})
	b.patches[label] = append(b.patches[label], idx)
	return b
}

// Build patches branch targets and returns the finished method.
func (b *MethodBuilder) Build() *Method {
	for label, sites := range b.patches {
		dest := b.labels[label]
		for _, site := range sites {
			// Targets are relative to the instruction after the branch.
			b.code[site].Target = dest - (site + 1)
		}
	}
	b.method.Code = b.code
	return b.method
}
