package vm

import (
	"errors"
	"fmt"
	"strings"

	"github.com/chazu/ember/ir"
)

// ---------------------------------------------------------------------------
// Interp: bytecode interpreter
// ---------------------------------------------------------------------------

// Interp executes method bodies against an Image. Every call resolves
// the callee's entry point through its redirect chain, so hooks applied
// mid-run take effect on the next invocation of the method.
type Interp struct {
	image *Image

	// MaxDepth bounds the call stack.
	MaxDepth int
}

// NewInterp creates an interpreter over the given image.
func NewInterp(img *Image) *Interp {
	return &Interp{image: img, MaxDepth: 512}
}

// Image returns the interpreter's image.
func (ip *Interp) Image() *Image { return ip.image }

// Interpreter errors.
var (
	ErrStackDepth = errors.New("vm: call stack depth exceeded")
	ErrVisibility = errors.New("vm: access to private member denied")
	ErrNoMethod   = errors.New("vm: method not found")
	ErrNoClass    = errors.New("vm: class not found")
)

// Invoke executes the method with the given receiver and arguments.
// The receiver is ignored for static methods. If the method has been
// redirected to a wrapper taking an explicit self parameter, the
// receiver is passed as the wrapper's first argument.
func (ip *Interp) Invoke(m *Method, receiver Value, args []Value) (Value, error) {
	return ip.invoke(m, receiver, args, 0)
}

func (ip *Interp) invoke(m *Method, receiver Value, args []Value, depth int) (Value, error) {
	if depth > ip.MaxDepth {
		return Nil, ErrStackDepth
	}

	entry := m.Entry()
	if entry != m && entry.Def.Flags&ir.FlagExplicitSelf != 0 && m.Def.Flags&ir.FlagStatic == 0 {
		// Instance dispatch replaced by an explicit first argument.
		args = append([]Value{receiver}, args...)
		receiver = Nil
	}

	if got, want := len(args), entry.Def.Arity(); got != want {
		return Nil, fmt.Errorf("vm: %s: got %d args, want %d", entry.Sig(), got, want)
	}

	locals := make([]Value, entry.Def.Arity()+entry.Def.NumLocals)
	copy(locals, args)
	for i := entry.Def.Arity(); i < len(locals); i++ {
		locals[i] = Nil
	}

	return ip.run(entry, receiver, locals, depth)
}

// run executes the body of an already-resolved method.
func (ip *Interp) run(m *Method, self Value, locals []Value, depth int) (Value, error) {
	code := m.Def.Code
	stack := make([]Value, 0, 16)

	push := func(v Value) { stack = append(stack, v) }
	pop := func() Value {
		v := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		return v
	}

	for pc := 0; pc < len(code); pc++ {
		in := code[pc]
		switch in.Op {
		case ir.OpNop:
		case ir.OpPop:
			pop()
		case ir.OpDup:
			push(stack[len(stack)-1])

		case ir.OpPushNil:
			push(Nil)
		case ir.OpPushTrue:
			push(True)
		case ir.OpPushFalse:
			push(False)
		case ir.OpPushSelf:
			push(self)
		case ir.OpPushInt:
			push(FromInt(in.Int))
		case ir.OpPushFloat:
			push(FromFloat64(in.Float))
		case ir.OpPushFloat32:
			push(FromFloat32(in.Float32))
		case ir.OpPushString:
			push(FromString(in.Str))

		case ir.OpLoadLocal:
			push(locals[in.Int])
		case ir.OpStoreLocal:
			locals[in.Int] = pop()

		case ir.OpLoadField:
			if err := ip.checkVisibility(m, in.Field.Type, in.Field.Name); err != nil {
				return Nil, err
			}
			obj := pop().Object()
			if obj == nil {
				return Nil, fmt.Errorf("vm: %s: field load on non-object", m.Sig())
			}
			push(obj.Get(in.Field.Name))
		case ir.OpStoreField:
			if err := ip.checkVisibility(m, in.Field.Type, in.Field.Name); err != nil {
				return Nil, err
			}
			val := pop()
			obj := pop().Object()
			if obj == nil {
				return Nil, fmt.Errorf("vm: %s: field store on non-object", m.Sig())
			}
			obj.Set(in.Field.Name, val)

		case ir.OpLoadStatic:
			cls := ip.image.Class(in.Field.Type)
			if cls == nil {
				return Nil, fmt.Errorf("%w: %s", ErrNoClass, in.Field.Type)
			}
			push(cls.GetStatic(in.Field.Name))
		case ir.OpStoreStatic:
			cls := ip.image.Class(in.Field.Type)
			if cls == nil {
				return Nil, fmt.Errorf("%w: %s", ErrNoClass, in.Field.Type)
			}
			cls.SetStatic(in.Field.Name, pop())

		case ir.OpCall:
			args := popN(&stack, in.Method.Arity)
			recv := pop()
			ret, err := ip.callVirtual(m, in.Method, recv, args, depth)
			if err != nil {
				return Nil, err
			}
			push(ret)
		case ir.OpCallStatic:
			args := popN(&stack, in.Method.Arity)
			ret, err := ip.callStatic(m, in.Method, args, depth)
			if err != nil {
				return Nil, err
			}
			push(ret)
		case ir.OpCallGeneric:
			ref := in.Inst.Method
			args := popN(&stack, ref.Arity)
			// Execution is type-erased: the instantiation dispatches to
			// the generic definition. The type arguments matter to the
			// diff pipeline, not to evaluation.
			target, ok := ip.resolveFrom(m, ref.Sig())
			if !ok {
				return Nil, fmt.Errorf("%w: %s", ErrNoMethod, ref.Sig())
			}
			var recv Value
			if target.Def.Flags&ir.FlagStatic == 0 {
				recv = pop()
			}
			ret, err := ip.invoke(target, recv, args, depth+1)
			if err != nil {
				return Nil, err
			}
			push(ret)

		case ir.OpNew:
			cls := ip.classFrom(m, in.Type.Name)
			if cls == nil {
				return Nil, fmt.Errorf("%w: %s", ErrNoClass, in.Type.Name)
			}
			obj := NewObject(cls)
			if ctor := cls.MethodNamed("init", 0); ctor != nil {
				if _, err := ip.invoke(ctor, FromObject(obj), nil, depth+1); err != nil {
					return Nil, err
				}
			}
			push(FromObject(obj))

		case ir.OpJump:
			pc += in.Target
		case ir.OpJumpIfFalse:
			if !pop().IsTruthy() {
				pc += in.Target
			}

		case ir.OpReturn:
			return pop(), nil
		case ir.OpReturnVoid:
			return Nil, nil
		case ir.OpThrow:
			return Nil, fmt.Errorf("vm: %s: thrown: %s", m.Sig(), pop())

		case ir.OpAdd, ir.OpSub, ir.OpMul, ir.OpDiv, ir.OpLT, ir.OpGT, ir.OpEQ:
			b := pop()
			a := pop()
			ret, err := arith(in.Op, a, b)
			if err != nil {
				return Nil, fmt.Errorf("vm: %s: %w", m.Sig(), err)
			}
			push(ret)

		case ir.OpSlotLoad:
			obj := pop().Object()
			if obj == nil {
				return Nil, fmt.Errorf("vm: %s: slot load on non-object", m.Sig())
			}
			push(ip.image.slots.Instance(obj, in.Field.Name).Load())
		case ir.OpSlotStore:
			val := pop()
			obj := pop().Object()
			if obj == nil {
				return Nil, fmt.Errorf("vm: %s: slot store on non-object", m.Sig())
			}
			ip.image.slots.Instance(obj, in.Field.Name).Store(val)
		case ir.OpSlotAddr:
			obj := pop().Object()
			if obj == nil {
				return Nil, fmt.Errorf("vm: %s: slot addr on non-object", m.Sig())
			}
			push(FromSlot(ip.image.slots.Instance(obj, in.Field.Name)))
		case ir.OpSlotLoadStatic:
			push(ip.image.slots.Static(in.Field.Type, in.Field.Name).Load())
		case ir.OpSlotStoreStatic:
			ip.image.slots.Static(in.Field.Type, in.Field.Name).Store(pop())
		case ir.OpRefLoad:
			ref := pop().SlotRef()
			if ref == nil {
				return Nil, fmt.Errorf("vm: %s: ref load on non-reference", m.Sig())
			}
			push(ref.Load())
		case ir.OpRefStore:
			val := pop()
			ref := pop().SlotRef()
			if ref == nil {
				return Nil, fmt.Errorf("vm: %s: ref store on non-reference", m.Sig())
			}
			ref.Store(val)

		default:
			return Nil, fmt.Errorf("vm: %s: unimplemented opcode %s", m.Sig(), in.Op)
		}
	}
	return Nil, nil
}

// callVirtual dispatches on the receiver's actual class.
func (ip *Interp) callVirtual(caller *Method, ref ir.MethodRef, recv Value, args []Value, depth int) (Value, error) {
	if err := ip.checkVisibility(caller, ref.Type, ref.Name); err != nil {
		return Nil, err
	}
	obj := recv.Object()
	var target *Method
	if obj != nil {
		target = obj.Class.MethodNamed(ref.Name, ref.Arity)
	}
	if target == nil {
		// Fall back to the declared owner (non-object receivers).
		if cls := ip.classFrom(caller, ref.Type); cls != nil {
			target = cls.MethodNamed(ref.Name, ref.Arity)
		}
	}
	if target == nil {
		return Nil, fmt.Errorf("%w: %s", ErrNoMethod, ref.Sig())
	}
	return ip.invoke(target, recv, args, depth+1)
}

// callStatic dispatches by signature across loaded modules.
func (ip *Interp) callStatic(caller *Method, ref ir.MethodRef, args []Value, depth int) (Value, error) {
	if err := ip.checkVisibility(caller, ref.Type, ref.Name); err != nil {
		return Nil, err
	}
	target, ok := ip.resolveFrom(caller, ref.Sig())
	if !ok {
		return Nil, fmt.Errorf("%w: %s", ErrNoMethod, ref.Sig())
	}
	return ip.invoke(target, Nil, args, depth+1)
}

// resolveFrom resolves a signature preferring the caller's own module.
// Loaded patch generations can carry identically-named wrapper types;
// intra-patch references must bind within their own generation.
func (ip *Interp) resolveFrom(caller *Method, sig string) (*Method, bool) {
	if caller != nil {
		if m, ok := ip.image.ResolveIn(caller.Class.Module, sig); ok {
			return m, true
		}
	}
	return ip.image.Resolve(sig)
}

// classFrom resolves a class name preferring the caller's own module.
func (ip *Interp) classFrom(caller *Method, name string) *Class {
	if caller != nil {
		if cls := ip.image.ClassIn(caller.Class.Module, name); cls != nil {
			return cls
		}
	}
	return ip.image.Class(name)
}

// checkVisibility enforces member privacy: names with a leading
// underscore are visible only from their own type. Synthesized wrappers
// carry FlagSkipVisibility because they stand in for methods of the
// original type.
func (ip *Interp) checkVisibility(caller *Method, ownerType, member string) error {
	if !strings.HasPrefix(member, "_") {
		return nil
	}
	if caller.Def.Flags&ir.FlagSkipVisibility != 0 {
		return nil
	}
	if caller.Def.Type == ownerType {
		return nil
	}
	return fmt.Errorf("%w: %s.%s from %s", ErrVisibility, ownerType, member, caller.Sig())
}

func popN(stack *[]Value, n int) []Value {
	s := *stack
	args := make([]Value, n)
	copy(args, s[len(s)-n:])
	*stack = s[:len(s)-n]
	return args
}

// arith evaluates a binary arithmetic or comparison opcode.
func arith(op ir.Opcode, a, b Value) (Value, error) {
	if op == ir.OpEQ {
		return FromBool(a.Equal(b)), nil
	}

	switch {
	case a.Kind() == KindInt && b.Kind() == KindInt:
		x, y := a.Int(), b.Int()
		switch op {
		case ir.OpAdd:
			return FromInt(x + y), nil
		case ir.OpSub:
			return FromInt(x - y), nil
		case ir.OpMul:
			return FromInt(x * y), nil
		case ir.OpDiv:
			if y == 0 {
				return Nil, errors.New("integer division by zero")
			}
			return FromInt(x / y), nil
		case ir.OpLT:
			return FromBool(x < y), nil
		case ir.OpGT:
			return FromBool(x > y), nil
		}
	case isNumeric(a) && isNumeric(b):
		x, y := numeric(a), numeric(b)
		switch op {
		case ir.OpAdd:
			return FromFloat64(x + y), nil
		case ir.OpSub:
			return FromFloat64(x - y), nil
		case ir.OpMul:
			return FromFloat64(x * y), nil
		case ir.OpDiv:
			return FromFloat64(x / y), nil
		case ir.OpLT:
			return FromBool(x < y), nil
		case ir.OpGT:
			return FromBool(x > y), nil
		}
	case a.Kind() == KindString && b.Kind() == KindString && op == ir.OpAdd:
		return FromString(a.Str() + b.Str()), nil
	}
	return Nil, fmt.Errorf("bad operands for %s: %s, %s", op, a, b)
}

func isNumeric(v Value) bool {
	return v.Kind() == KindInt || v.Kind() == KindFloat || v.Kind() == KindFloat32
}

func numeric(v Value) float64 {
	if v.Kind() == KindInt {
		return float64(v.Int())
	}
	return v.Float64()
}
