package ir

import "fmt"

// ---------------------------------------------------------------------------
// Opcode definitions
// ---------------------------------------------------------------------------

// Opcode identifies a single IR instruction.
type Opcode byte

// Stack operations
const (
	OpNop Opcode = 0x00 // no operation
	OpPop Opcode = 0x01 // discard top of stack
	OpDup Opcode = 0x02 // duplicate top of stack
)

// Push constants
const (
	OpPushNil     Opcode = 0x10 // push nil
	OpPushTrue    Opcode = 0x11 // push true
	OpPushFalse   Opcode = 0x12 // push false
	OpPushSelf    Opcode = 0x13 // push self (instance methods only)
	OpPushInt     Opcode = 0x14 // push 64-bit signed integer
	OpPushFloat   Opcode = 0x15 // push 64-bit float
	OpPushFloat32 Opcode = 0x16 // push 32-bit float
	OpPushString  Opcode = 0x17 // push string constant
)

// Variable operations
const (
	OpLoadLocal   Opcode = 0x20 // push local/argument (index operand)
	OpStoreLocal  Opcode = 0x21 // pop into local/argument (index operand)
	OpLoadField   Opcode = 0x22 // pop instance, push field value (field ref)
	OpStoreField  Opcode = 0x23 // pop value, pop instance, store field (field ref)
	OpLoadStatic  Opcode = 0x24 // push static field value (field ref)
	OpStoreStatic Opcode = 0x25 // pop into static field (field ref)
)

// Calls and allocation
const (
	OpCall        Opcode = 0x30 // virtual call: pop args, pop receiver (method ref)
	OpCallStatic  Opcode = 0x31 // static call: pop args (method ref)
	OpCallGeneric Opcode = 0x32 // instantiated generic call (instantiation operand)
	OpNew         Opcode = 0x33 // allocate instance, run constructor (type ref)
)

// Control flow
const (
	OpJump        Opcode = 0x40 // unconditional jump (relative target)
	OpJumpIfFalse Opcode = 0x41 // pop, jump if false (relative target)
	OpReturn      Opcode = 0x50 // return top of stack
	OpReturnVoid  Opcode = 0x51 // return with no value
	OpThrow       Opcode = 0x52 // pop, raise as error
)

// Arithmetic and comparison (single-byte, operands on stack)
const (
	OpAdd Opcode = 0x60
	OpSub Opcode = 0x61
	OpMul Opcode = 0x62
	OpDiv Opcode = 0x63
	OpLT  Opcode = 0x64
	OpGT  Opcode = 0x65
	OpEQ  Opcode = 0x66
)

// Field-indirection operations. These are never produced by the front-end
// compiler; the patch synthesizer rewrites added-field access into them.
const (
	OpSlotLoad        Opcode = 0x70 // pop instance, push slot value (field ref)
	OpSlotStore       Opcode = 0x71 // pop value, pop instance, write slot (field ref)
	OpSlotAddr        Opcode = 0x72 // pop instance, push stable slot reference (field ref)
	OpSlotLoadStatic  Opcode = 0x73 // push static slot value (field ref)
	OpSlotStoreStatic Opcode = 0x74 // pop into static slot (field ref)
	OpRefLoad         Opcode = 0x75 // pop slot reference, push its value
	OpRefStore        Opcode = 0x76 // pop value, pop slot reference, write through it
)

// ---------------------------------------------------------------------------
// Operand kinds
// ---------------------------------------------------------------------------

// OperandKind describes what kind of operand an opcode carries.
type OperandKind int

const (
	OperandNone OperandKind = iota
	OperandInt              // inline integer constant
	OperandFloat            // inline 64-bit float constant
	OperandFloat32          // inline 32-bit float constant
	OperandString           // inline string constant
	OperandLocal            // local variable index
	OperandBranch           // relative branch target
	OperandType             // type reference
	OperandField            // field reference
	OperandMethod           // method reference
	OperandInstantiation    // generic method instantiation
)

var operandKinds = map[Opcode]OperandKind{
	OpPushInt:         OperandInt,
	OpPushFloat:       OperandFloat,
	OpPushFloat32:     OperandFloat32,
	OpPushString:      OperandString,
	OpLoadLocal:       OperandLocal,
	OpStoreLocal:      OperandLocal,
	OpLoadField:       OperandField,
	OpStoreField:      OperandField,
	OpLoadStatic:      OperandField,
	OpStoreStatic:     OperandField,
	OpCall:            OperandMethod,
	OpCallStatic:      OperandMethod,
	OpCallGeneric:     OperandInstantiation,
	OpNew:             OperandType,
	OpJump:            OperandBranch,
	OpJumpIfFalse:     OperandBranch,
	OpSlotLoad:        OperandField,
	OpSlotStore:       OperandField,
	OpSlotAddr:        OperandField,
	OpSlotLoadStatic:  OperandField,
	OpSlotStoreStatic: OperandField,
}

// Kind returns the operand kind carried by the opcode.
func (o Opcode) Kind() OperandKind {
	if k, ok := operandKinds[o]; ok {
		return k
	}
	return OperandNone
}

// IsCall reports whether the opcode transfers control to another method.
func (o Opcode) IsCall() bool {
	return o == OpCall || o == OpCallStatic || o == OpCallGeneric
}

var opcodeNames = map[Opcode]string{
	OpNop: "NOP", OpPop: "POP", OpDup: "DUP",
	OpPushNil: "PUSH_NIL", OpPushTrue: "PUSH_TRUE", OpPushFalse: "PUSH_FALSE",
	OpPushSelf: "PUSH_SELF", OpPushInt: "PUSH_INT", OpPushFloat: "PUSH_FLOAT",
	OpPushFloat32: "PUSH_FLOAT32", OpPushString: "PUSH_STRING",
	OpLoadLocal: "LOAD_LOCAL", OpStoreLocal: "STORE_LOCAL",
	OpLoadField: "LOAD_FIELD", OpStoreField: "STORE_FIELD",
	OpLoadStatic: "LOAD_STATIC", OpStoreStatic: "STORE_STATIC",
	OpCall: "CALL", OpCallStatic: "CALL_STATIC", OpCallGeneric: "CALL_GENERIC",
	OpNew: "NEW",
	OpJump: "JUMP", OpJumpIfFalse: "JUMP_IF_FALSE",
	OpReturn: "RETURN", OpReturnVoid: "RETURN_VOID", OpThrow: "THROW",
	OpAdd: "ADD", OpSub: "SUB", OpMul: "MUL", OpDiv: "DIV",
	OpLT: "LT", OpGT: "GT", OpEQ: "EQ",
	OpSlotLoad: "SLOT_LOAD", OpSlotStore: "SLOT_STORE", OpSlotAddr: "SLOT_ADDR",
	OpSlotLoadStatic: "SLOT_LOAD_STATIC", OpSlotStoreStatic: "SLOT_STORE_STATIC",
	OpRefLoad: "REF_LOAD", OpRefStore: "REF_STORE",
}

// String returns the mnemonic for the opcode.
func (o Opcode) String() string {
	if name, ok := opcodeNames[o]; ok {
		return name
	}
	return fmt.Sprintf("UNKNOWN(0x%02X)", byte(o))
}
