package vm

import "fmt"

// Opcode is the VM's closed instruction set (spec.md §4.1). Every opcode has
// a fixed arity and a fixed inline-if-present-else-pop operand-sourcing
// rule; Push is the one opcode whose operand count at runtime varies with
// how many inline operands the assembler supplied (see process.go).
type Opcode uint8

const (
	OpAdd Opcode = iota
	OpSub
	OpMul
	OpDiv

	OpGt
	OpLs
	OpGteq
	OpLseq
	OpEq
	OpNoteq

	OpInt
	OpFloat

	OpDiscard
	OpClone
	OpPush
	OpSwap
	OpOver
	OpDebug
	OpNoop

	OpReg
	OpSetReg

	OpJump
	OpFork
	OpExit
	OpThreadSleep

	OpWriteInt64
	OpWriteInt32
	OpWriteInt16
	OpWriteInt8
	OpReadInt64
	OpReadInt32
	OpReadInt16
	OpReadInt8
	OpWriteFloat64
	OpWriteFloat32
	OpReadFloat64
	OpReadFloat32
	OpMount
	OpUnmount

	OpPrepareInvoke
	OpInvoke
	OpFastInvoke
)

var opcodeNames = map[Opcode]string{
	OpAdd: "add", OpSub: "sub", OpMul: "mul", OpDiv: "div",
	OpGt: "gt", OpLs: "ls", OpGteq: "gteq", OpLseq: "lseq", OpEq: "eq", OpNoteq: "noteq",
	OpInt: "int", OpFloat: "float",
	OpDiscard: "discard", OpClone: "clone", OpPush: "push", OpSwap: "swap", OpOver: "over",
	OpDebug: "debug", OpNoop: "noop",
	OpReg: "reg", OpSetReg: "setreg",
	OpJump: "jump", OpFork: "fork", OpExit: "exit", OpThreadSleep: "threadsleep",
	OpWriteInt64: "writeint64", OpWriteInt32: "writeint32", OpWriteInt16: "writeint16", OpWriteInt8: "writeint8",
	OpReadInt64: "readint64", OpReadInt32: "readint32", OpReadInt16: "readint16", OpReadInt8: "readint8",
	OpWriteFloat64: "writefloat64", OpWriteFloat32: "writefloat32",
	OpReadFloat64: "readfloat64", OpReadFloat32: "readfloat32",
	OpMount: "mount", OpUnmount: "unmount",
	OpPrepareInvoke: "prepareinvoke", OpInvoke: "invoke", OpFastInvoke: "fastinvoke",
}

var nameToOpcode map[string]Opcode

func init() {
	nameToOpcode = make(map[string]Opcode, len(opcodeNames))
	for op, name := range opcodeNames {
		nameToOpcode[name] = op
	}
}

func (o Opcode) String() string {
	if name, ok := opcodeNames[o]; ok {
		return name
	}
	return fmt.Sprintf("opcode(%d)", uint8(o))
}

// OpcodeByName resolves an assembly mnemonic to its Opcode.
func OpcodeByName(name string) (Opcode, bool) {
	op, ok := nameToOpcode[name]
	return op, ok
}

// Arity reports how many operands the opcode declares (0, 1 or 2); Push is
// the exception, arity-2 but the second slot is never popped when absent
// (see process.go's execPush).
func (o Opcode) Arity() int {
	switch o {
	case OpAdd, OpSub, OpMul, OpDiv,
		OpGt, OpLs, OpGteq, OpLseq, OpEq, OpNoteq,
		OpJump, OpSwap, OpOver,
		OpWriteInt64, OpWriteInt32, OpWriteInt16, OpWriteInt8,
		OpWriteFloat64, OpWriteFloat32,
		OpPrepareInvoke, OpFastInvoke, OpPush:
		return 2
	case OpInt, OpFloat, OpReg, OpThreadSleep,
		OpReadInt64, OpReadInt32, OpReadInt16, OpReadInt8,
		OpReadFloat64, OpReadFloat32,
		OpMount, OpFork:
		return 1
	case OpSetReg:
		return 2
	default:
		return 0
	}
}

// Instruction is a triple (Opcode, optional inline operand, optional inline
// operand). A nil operand means "supplied at execution by popping the
// stack" (spec.md §3).
type Instruction struct {
	Opcode Opcode
	Op1    *Value
	Op2    *Value
}

// NewInstruction builds a zero-operand instruction.
func NewInstruction(op Opcode) Instruction { return Instruction{Opcode: op} }

// WithOperands builds an instruction with up to two inline operands; either
// may be nil.
func WithOperands(op Opcode, a, b *Value) Instruction {
	return Instruction{Opcode: op, Op1: a, Op2: b}
}

func (i Instruction) String() string {
	s := i.Opcode.String()
	if i.Op1 != nil {
		s += " " + i.Op1.String()
	} else if i.Op2 != nil {
		s += " _"
	}
	if i.Op2 != nil {
		s += " " + i.Op2.String()
	}
	return s
}

// StaticBlob describes one named blob within a Program's static_data, as an
// (offset, length) pair — the authoritative shape per spec.md §9's Open
// Question (matching the `$`/`@`/`^` operand-prefix semantics of the tagged
// assembly dialect).
type StaticBlob struct {
	Offset int
	Length int
}

// defaultRequiredMemory is a process's minimum private memory size absent
// an explicit Program.RequiredMemory.
const defaultRequiredMemory = 1024

// Program is the VM's immutable program image (spec.md §3).
type Program struct {
	Name             string
	Instructions     []Instruction
	StaticData       []byte
	StaticDataMeta   []StaticBlob
	RequiredMemory   int
}

// NewProgram returns an empty program with the default required-memory size.
func NewProgram(name string) *Program {
	return &Program{Name: name, RequiredMemory: defaultRequiredMemory}
}

// InitialMemorySize is the size a process's private memory buffer must be
// allocated at: max(len(static_data), required_memory).
func (p *Program) InitialMemorySize() int {
	if len(p.StaticData) > p.RequiredMemory {
		return len(p.StaticData)
	}
	return p.RequiredMemory
}
