package vm

import (
	"fmt"
	"io"
	"os"
	"time"

	"github.com/google/uuid"
)

// Process owns a Program, a pc, an evaluation stack, a register file, and
// an invoke-target buffer (spec.md §3). It never holds a reference back to
// the Machine that scheduled it — every outward effect (memory, fork,
// foreign call) goes through the Supervisor handed to Step/RunToCompletion.
type Process struct {
	ID      uuid.UUID
	Program *Program

	pc        int
	stack     Stack
	registers Registers

	invokeTarget []byte

	debugOut io.Writer
}

// NewProcess creates a fresh process at pc 0 with an empty stack and zeroed
// registers.
func NewProcess(program *Program) *Process {
	return &Process{ID: uuid.New(), Program: program, debugOut: os.Stderr}
}

// SetDebugWriter redirects the Debug opcode's output; tests use this to
// capture output instead of polluting stderr.
func (p *Process) SetDebugWriter(w io.Writer) { p.debugOut = w }

// Clone duplicates the process's full state (stack, registers, invoke
// buffer, pc) for Fork (spec.md §3, §8).
func (p *Process) Clone() *Process {
	clone := &Process{
		ID:        uuid.New(),
		Program:   p.Program,
		pc:        p.pc,
		stack:     p.stack,
		registers: p.registers,
		debugOut:  p.debugOut,
	}
	clone.invokeTarget = append([]byte(nil), p.invokeTarget...)
	return clone
}

// Finished reports whether pc has walked past the last instruction, either
// by natural termination or by Exit.
func (p *Process) Finished() bool { return p.pc >= len(p.Program.Instructions) }

// PC exposes the current program counter, mainly for diagnostics/tests.
func (p *Process) PC() int { return p.pc }

// StackValues returns a snapshot of the evaluation stack for tests/tracing.
func (p *Process) StackValues() []Value { return p.stack.Values() }

// Register reads register idx, mainly for diagnostics/tests.
func (p *Process) Register(idx int) (Value, bool) { return p.registers.Get(idx) }

// CurrentInstruction returns the instruction Step would execute next, and
// whether the process has one (used by std_trap_debug's tracing).
func (p *Process) CurrentInstruction() (Instruction, bool) {
	if p.Finished() {
		return Instruction{}, false
	}
	return p.Program.Instructions[p.pc], true
}

// Step executes exactly one instruction and reports whether the process has
// more to run. It is the body both RunToCompletion and the trap-shape
// debug tracer share (spec.md §4.2).
func (p *Process) Step(sup Supervisor) (bool, error) {
	if p.Finished() {
		return false, nil
	}

	idx := p.pc
	instr := p.Program.Instructions[idx]
	p.pc++

	if err := p.execute(instr, idx, sup); err != nil {
		return false, err
	}
	return !p.Finished(), nil
}

// RunToCompletion drives the process until it terminates or hits a fatal
// error — the scheduler's normal path.
func (p *Process) RunToCompletion(sup Supervisor) error {
	for {
		more, err := p.Step(sup)
		if err != nil {
			return err
		}
		if !more {
			return nil
		}
	}
}

func (p *Process) push(v Value, op Opcode, idx int) error {
	if !p.stack.Push(v) {
		return fatalf(ErrStackOverflow, op, idx, "room for one more value")
	}
	return nil
}

// resolveUnary implements the inline-else-pop rule for a 1-arity opcode.
func (p *Process) resolveUnary(instr Instruction, idx int) (Value, error) {
	if instr.Op1 != nil {
		return *instr.Op1, nil
	}
	v, ok := p.stack.Pop()
	if !ok {
		return Value{}, fatalf(ErrStackUnderflow, instr.Opcode, idx, "one operand")
	}
	return v, nil
}

// resolveBinary implements the inline-else-pop rule for a 2-arity opcode,
// evaluated left to right (operand1 resolved before operand2). When both
// operands need popping, operand1 comes from whatever is popped first —
// the current top of stack — and operand2 from what pop2 leaves behind.
func (p *Process) resolveBinary(instr Instruction, idx int) (Value, Value, error) {
	has1 := instr.Op1 != nil
	has2 := instr.Op2 != nil

	switch {
	case has1 && has2:
		return *instr.Op1, *instr.Op2, nil
	case has1 && !has2:
		v, ok := p.stack.Pop()
		if !ok {
			return Value{}, Value{}, fatalf(ErrStackUnderflow, instr.Opcode, idx, "second operand")
		}
		return *instr.Op1, v, nil
	case !has1 && has2:
		v, ok := p.stack.Pop()
		if !ok {
			return Value{}, Value{}, fatalf(ErrStackUnderflow, instr.Opcode, idx, "first operand")
		}
		return v, *instr.Op2, nil
	default:
		a, b, ok := p.stack.Pop2()
		if !ok {
			return Value{}, Value{}, fatalf(ErrStackUnderflow, instr.Opcode, idx, "two operands")
		}
		return a, b, nil
	}
}

func (p *Process) execute(instr Instruction, idx int, sup Supervisor) error {
	switch instr.Opcode {

	case OpAdd, OpSub, OpMul, OpDiv:
		return p.execArith(instr, idx)

	case OpGt, OpLs, OpGteq, OpLseq, OpEq, OpNoteq:
		return p.execCompare(instr, idx)

	case OpInt:
		v, err := p.resolveUnary(instr, idx)
		if err != nil {
			return err
		}
		return p.push(IntValue(v.AsInt()), instr.Opcode, idx)

	case OpFloat:
		v, err := p.resolveUnary(instr, idx)
		if err != nil {
			return err
		}
		return p.push(FloatValue(v.AsFloat()), instr.Opcode, idx)

	case OpDiscard:
		if _, ok := p.stack.Pop(); !ok {
			return fatalf(ErrStackUnderflow, instr.Opcode, idx, "one operand")
		}
		return nil

	case OpClone:
		if v, ok := p.stack.Peek(); ok {
			return p.push(v, instr.Opcode, idx)
		}
		return nil

	case OpPush:
		return p.execPush(instr, idx)

	case OpSwap:
		a, b, err := p.resolveBinary(instr, idx)
		if err != nil {
			return err
		}
		if err := p.push(a, instr.Opcode, idx); err != nil {
			return err
		}
		return p.push(b, instr.Opcode, idx)

	case OpOver:
		a, b, err := p.resolveBinary(instr, idx)
		if err != nil {
			return err
		}
		if err := p.push(b, instr.Opcode, idx); err != nil {
			return err
		}
		if err := p.push(a, instr.Opcode, idx); err != nil {
			return err
		}
		return p.push(b, instr.Opcode, idx)

	case OpDebug:
		fmt.Fprintf(p.debugOut, "%v\n", p.stack.Values())
		return nil

	case OpNoop:
		return nil

	case OpReg:
		v, err := p.resolveUnary(instr, idx)
		if err != nil {
			return err
		}
		reg, ok := p.registers.Get(v.AsIndex())
		if !ok {
			return fatalf(ErrRegisterRange, instr.Opcode, idx, "register index in range")
		}
		return p.push(reg, instr.Opcode, idx)

	case OpSetReg:
		idxVal, val, err := p.resolveBinary(instr, idx)
		if err != nil {
			return err
		}
		if !p.registers.Set(idxVal.AsIndex(), val) {
			return fatalf(ErrRegisterRange, instr.Opcode, idx, "register index in range")
		}
		return nil

	case OpJump:
		target, cond, err := p.resolveBinary(instr, idx)
		if err != nil {
			return err
		}
		if cond.AsInt() != 0 {
			p.pc = target.AsIndex()
		}
		return nil

	case OpFork:
		target, err := p.resolveUnary(instr, idx)
		if err != nil {
			return err
		}
		clone := p.Clone()
		clone.pc = target.AsIndex()
		sup.Fork(clone)
		return nil

	case OpExit:
		p.pc = len(p.Program.Instructions)
		return nil

	case OpThreadSleep:
		ms, err := p.resolveUnary(instr, idx)
		if err != nil {
			return err
		}
		time.Sleep(time.Duration(ms.AsInt()) * time.Millisecond)
		return nil

	case OpWriteInt64, OpWriteInt32, OpWriteInt16, OpWriteInt8:
		return p.execWriteInt(instr, idx, sup)

	case OpReadInt64, OpReadInt32, OpReadInt16, OpReadInt8:
		return p.execReadInt(instr, idx, sup)

	case OpWriteFloat64, OpWriteFloat32:
		return p.execWriteFloat(instr, idx, sup)

	case OpReadFloat64, OpReadFloat32:
		return p.execReadFloat(instr, idx, sup)

	case OpMount:
		v, err := p.resolveUnary(instr, idx)
		if err != nil {
			return err
		}
		unit := v.AsIndex()
		if unit < 0 {
			return fatalf(ErrNoSuchMemoryUnit, instr.Opcode, idx, "unit index >= 0")
		}
		if err := sup.SetMemory(&unit); err != nil {
			return fatalf(ErrNoSuchMemoryUnit, instr.Opcode, idx, "a mounted shared unit")
		}
		return nil

	case OpUnmount:
		return sup.SetMemory(nil)

	case OpPrepareInvoke:
		return p.execPrepareInvoke(instr, idx, sup)

	case OpInvoke:
		return p.execInvoke(instr, idx, sup)

	case OpFastInvoke:
		if err := p.execPrepareInvoke(instr, idx, sup); err != nil {
			return err
		}
		return p.execInvoke(instr, idx, sup)

	default:
		return fatalf(ErrUnknownOpcode, instr.Opcode, idx, "")
	}
}

func (p *Process) execPush(instr Instruction, idx int) error {
	a, err := p.resolveUnary(Instruction{Opcode: instr.Opcode, Op1: instr.Op1}, idx)
	if err != nil {
		return err
	}
	if err := p.push(a, instr.Opcode, idx); err != nil {
		return err
	}
	if instr.Op2 != nil {
		return p.push(*instr.Op2, instr.Opcode, idx)
	}
	return nil
}

func (p *Process) execArith(instr Instruction, idx int) error {
	a, b, err := p.resolveBinary(instr, idx)
	if err != nil {
		return err
	}
	if !sameTag(a, b) {
		return fatalf(ErrOperandTagMismatch, instr.Opcode, idx, "both operands Int or both Float")
	}

	var result Value
	if a.IsInt() {
		x, y := a.Int(), b.Int()
		switch instr.Opcode {
		case OpAdd:
			result = IntValue(x + y)
		case OpSub:
			result = IntValue(x - y)
		case OpMul:
			result = IntValue(x * y)
		case OpDiv:
			if y == 0 {
				return fatalf(ErrDivisionByZero, instr.Opcode, idx, "non-zero divisor")
			}
			result = IntValue(x / y)
		}
	} else {
		x, y := a.Float(), b.Float()
		switch instr.Opcode {
		case OpAdd:
			result = FloatValue(x + y)
		case OpSub:
			result = FloatValue(x - y)
		case OpMul:
			result = FloatValue(x * y)
		case OpDiv:
			result = FloatValue(x / y)
		}
	}
	return p.push(result, instr.Opcode, idx)
}

func (p *Process) execCompare(instr Instruction, idx int) error {
	a, b, err := p.resolveBinary(instr, idx)
	if err != nil {
		return err
	}
	if !sameTag(a, b) {
		return fatalf(ErrOperandTagMismatch, instr.Opcode, idx, "both operands Int or both Float")
	}

	var lt, eq bool
	if a.IsInt() {
		lt, eq = a.Int() < b.Int(), a.Int() == b.Int()
	} else {
		lt, eq = a.Float() < b.Float(), a.Float() == b.Float()
	}
	gt := !lt && !eq

	var result bool
	switch instr.Opcode {
	case OpGt:
		result = gt
	case OpLs:
		result = lt
	case OpGteq:
		result = gt || eq
	case OpLseq:
		result = lt || eq
	case OpEq:
		result = eq
	case OpNoteq:
		result = !eq
	}
	return p.push(boolValue(result), instr.Opcode, idx)
}

func intWidth(op Opcode) int {
	switch op {
	case OpWriteInt8, OpReadInt8:
		return 1
	case OpWriteInt16, OpReadInt16:
		return 2
	case OpWriteInt32, OpReadInt32:
		return 4
	default:
		return 8
	}
}

func floatWidth(op Opcode) int {
	if op == OpWriteFloat32 || op == OpReadFloat32 {
		return 4
	}
	return 8
}

func (p *Process) execWriteInt(instr Instruction, idx int, sup Supervisor) error {
	addr, value, err := p.resolveBinary(instr, idx)
	if err != nil {
		return err
	}
	if !value.IsInt() {
		return fatalf(ErrOperandTagMismatch, instr.Opcode, idx, "value :: Int")
	}
	width := intWidth(instr.Opcode)

	var ok bool
	if merr := sup.MemoryMut(func(m Memory) { ok = memWriteInt(m, addr.AsIndex(), value.Int(), width) }); merr != nil {
		return merr
	}
	if !ok {
		return fatalf(ErrMemoryOutOfRange, instr.Opcode, idx, fmt.Sprintf("%d-byte write in range", width))
	}
	return nil
}

func (p *Process) execReadInt(instr Instruction, idx int, sup Supervisor) error {
	addr, err := p.resolveUnary(instr, idx)
	if err != nil {
		return err
	}
	width := intWidth(instr.Opcode)

	var value int64
	var ok bool
	if merr := sup.Memory(func(m Memory) { value, ok = memReadInt(m, addr.AsIndex(), width) }); merr != nil {
		return merr
	}
	if !ok {
		return fatalf(ErrMemoryOutOfRange, instr.Opcode, idx, fmt.Sprintf("%d-byte read in range", width))
	}
	return p.push(IntValue(value), instr.Opcode, idx)
}

func (p *Process) execWriteFloat(instr Instruction, idx int, sup Supervisor) error {
	addr, value, err := p.resolveBinary(instr, idx)
	if err != nil {
		return err
	}
	if !value.IsFloat() {
		return fatalf(ErrOperandTagMismatch, instr.Opcode, idx, "value :: Float")
	}
	width := floatWidth(instr.Opcode)

	var ok bool
	if merr := sup.MemoryMut(func(m Memory) { ok = memWriteFloat(m, addr.AsIndex(), value.Float(), width) }); merr != nil {
		return merr
	}
	if !ok {
		return fatalf(ErrMemoryOutOfRange, instr.Opcode, idx, fmt.Sprintf("%d-byte write in range", width))
	}
	return nil
}

func (p *Process) execReadFloat(instr Instruction, idx int, sup Supervisor) error {
	addr, err := p.resolveUnary(instr, idx)
	if err != nil {
		return err
	}
	width := floatWidth(instr.Opcode)

	var value float64
	var ok bool
	if merr := sup.Memory(func(m Memory) { value, ok = memReadFloat(m, addr.AsIndex(), width) }); merr != nil {
		return merr
	}
	if !ok {
		return fatalf(ErrMemoryOutOfRange, instr.Opcode, idx, fmt.Sprintf("%d-byte read in range", width))
	}
	return p.push(FloatValue(value), instr.Opcode, idx)
}

func (p *Process) execPrepareInvoke(instr Instruction, idx int, sup Supervisor) error {
	addr, size, err := p.resolveBinary(instr, idx)
	if err != nil {
		return err
	}

	var data []byte
	var ok bool
	if merr := sup.Memory(func(m Memory) { data, ok = m.Read(addr.AsIndex(), size.AsIndex()) }); merr != nil {
		return merr
	}
	if !ok {
		return fatalf(ErrMemoryOutOfRange, instr.Opcode, idx, "size bytes at addr in range")
	}
	p.invokeTarget = append(p.invokeTarget[:0], data...)
	return nil
}

func (p *Process) execInvoke(instr Instruction, idx int, sup Supervisor) error {
	result, err := sup.InvokeFFI(p.invokeTarget, p)
	if err != nil {
		return fatalf(err, instr.Opcode, idx, string(p.invokeTarget))
	}
	if result != nil {
		return p.push(*result, instr.Opcode, idx)
	}
	return nil
}
