package ir

import (
	"fmt"
	"strings"
)

// ---------------------------------------------------------------------------
// Disassembler
// ---------------------------------------------------------------------------

// Disassemble returns a human-readable listing of a method body.
func Disassemble(m *Method) string {
	var sb strings.Builder

	sb.WriteString(fmt.Sprintf("; === %s ===\n", m.Sig()))
	if m.IsGeneric() {
		sb.WriteString(fmt.Sprintf("; Type params: %s\n", strings.Join(m.TypeParams, ", ")))
	}
	if m.NumLocals > 0 {
		sb.WriteString(fmt.Sprintf("; Locals: %d slots\n", m.NumLocals))
	}
	if m.Flags != 0 {
		sb.WriteString(fmt.Sprintf("; Flags: %s\n", flagString(m.Flags)))
	}

	for i, in := range m.Code {
		sb.WriteString(fmt.Sprintf("%4d  %-18s", i, in.Op.String()))
		switch in.Op.Kind() {
		case OperandInt, OperandLocal:
			sb.WriteString(fmt.Sprintf(" %d", in.Int))
		case OperandFloat:
			sb.WriteString(fmt.Sprintf(" %g", in.Float))
		case OperandFloat32:
			sb.WriteString(fmt.Sprintf(" %g", in.Float32))
		case OperandString:
			sb.WriteString(fmt.Sprintf(" %q", in.Str))
		case OperandBranch:
			sb.WriteString(fmt.Sprintf(" %+d (-> %d)", in.Target, i+1+in.Target))
		case OperandType:
			sb.WriteString(" " + in.Type.Name)
		case OperandField:
			sb.WriteString(" " + in.Field.Key())
		case OperandMethod:
			sb.WriteString(" " + in.Method.Sig())
		case OperandInstantiation:
			sb.WriteString(fmt.Sprintf(" %s[%s]", in.Inst.Method.Sig(), strings.Join(in.Inst.TypeArgs, ",")))
		}
		sb.WriteString("\n")
	}
	return sb.String()
}

func flagString(f MethodFlags) string {
	var parts []string
	for _, fl := range []struct {
		bit  MethodFlags
		name string
	}{
		{FlagStatic, "STATIC"},
		{FlagCtor, "CTOR"},
		{FlagAccessor, "ACCESSOR"},
		{FlagNoInline, "NO_INLINE"},
		{FlagSkipVisibility, "SKIP_VISIBILITY"},
		{FlagExplicitSelf, "EXPLICIT_SELF"},
	} {
		if f&fl.bit != 0 {
			parts = append(parts, fl.name)
		}
	}
	return strings.Join(parts, "|")
}
