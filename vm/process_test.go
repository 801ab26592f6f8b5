package vm

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestSupervisor(requiredMemory int) *processSupervisor {
	return &processSupervisor{
		machine: NewMachine(),
		private: NewByteMemory(requiredMemory, nil),
	}
}

func intVal(i int64) *Value {
	v := IntValue(i)
	return &v
}

func floatVal(f float64) *Value {
	v := FloatValue(f)
	return &v
}

func runProgram(t *testing.T, instrs []Instruction) *Process {
	program := NewProgram("test")
	program.Instructions = instrs
	p := NewProcess(program)
	sup := newTestSupervisor(program.InitialMemorySize())
	require.NoError(t, p.RunToCompletion(sup))
	return p
}

// Scenario: both operands inline — add 2 3 pushes 5 without touching the
// stack for operands.
func TestArithmeticBothOperandsInline(t *testing.T) {
	p := runProgram(t, []Instruction{
		WithOperands(OpAdd, intVal(2), intVal(3)),
	})
	v, ok := p.stack.Peek()
	require.True(t, ok)
	assert.Equal(t, IntValue(5), v)
}

// Scenario: both operands popped from the stack. operand1 resolves from the
// current top (the value pushed last), operand2 from what's left.
func TestArithmeticBothOperandsFromStack(t *testing.T) {
	p := runProgram(t, []Instruction{
		WithOperands(OpPush, intVal(2), nil),
		WithOperands(OpPush, intVal(3), nil),
		NewInstruction(OpSub), // operand1=3 (top), operand2=2 -> 3 - 2 = 1
	})
	v, ok := p.stack.Peek()
	require.True(t, ok)
	assert.Equal(t, IntValue(1), v)
}

// Scenario: mixed inline/stack operand sourcing.
func TestArithmeticMixedOperand(t *testing.T) {
	p := runProgram(t, []Instruction{
		WithOperands(OpPush, intVal(10), nil),
		WithOperands(OpSub, nil, intVal(4)), // pop(10) - 4 = 6
	})
	v, ok := p.stack.Peek()
	require.True(t, ok)
	assert.Equal(t, IntValue(6), v)
}

// Over, with both operands popped, pushes the first-pushed element back to
// the top: push(1); push(2); over leaves the stack [1, 2, 1].
func TestOverRestoresFirstPushedToTop(t *testing.T) {
	p := runProgram(t, []Instruction{
		WithOperands(OpPush, intVal(1), nil),
		WithOperands(OpPush, intVal(2), nil),
		NewInstruction(OpOver),
	})
	assert.Equal(t, []Value{IntValue(1), IntValue(2), IntValue(1)}, p.stack.Values())
}

func TestFloatCoercionIsIdempotentAtRuntime(t *testing.T) {
	p := runProgram(t, []Instruction{
		WithOperands(OpFloat, intVal(7), nil),
		NewInstruction(OpFloat),
	})
	v, ok := p.stack.Peek()
	require.True(t, ok)
	assert.Equal(t, FloatValue(7), v)
}

func TestOperandTagMismatchIsFatal(t *testing.T) {
	program := NewProgram("test")
	program.Instructions = []Instruction{
		WithOperands(OpAdd, intVal(1), floatVal(2)),
	}
	p := NewProcess(program)
	sup := newTestSupervisor(program.InitialMemorySize())
	err := p.RunToCompletion(sup)
	require.Error(t, err)
	var fatal *FatalError
	require.ErrorAs(t, err, &fatal)
	assert.ErrorIs(t, fatal, ErrOperandTagMismatch)
}

func TestDivisionByZeroIsFatal(t *testing.T) {
	program := NewProgram("test")
	program.Instructions = []Instruction{
		WithOperands(OpDiv, intVal(1), intVal(0)),
	}
	p := NewProcess(program)
	sup := newTestSupervisor(program.InitialMemorySize())
	err := p.RunToCompletion(sup)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrDivisionByZero)
}

// Memory round-trip: writing a negative 8-bit value and reading it back
// with ReadInt8 must sign-extend it to the 64-bit Int, not zero-extend.
func TestMemoryWriteReadSignExtension(t *testing.T) {
	p := runProgram(t, []Instruction{
		WithOperands(OpWriteInt8, intVal(0), intVal(-1)),
		WithOperands(OpReadInt8, intVal(0), nil),
	})
	v, ok := p.stack.Peek()
	require.True(t, ok)
	assert.Equal(t, IntValue(-1), v)
}

func TestMemoryOutOfRangeIsFatal(t *testing.T) {
	program := NewProgram("test")
	program.RequiredMemory = 4
	program.Instructions = []Instruction{
		WithOperands(OpReadInt64, intVal(1000), nil),
	}
	p := NewProcess(program)
	sup := newTestSupervisor(program.InitialMemorySize())
	err := p.RunToCompletion(sup)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrMemoryOutOfRange)
}

// Conditional countdown loop: register 14 counts down from 3 to 0, jumping
// back to the top of the loop while non-zero.
func TestConditionalCountdownLoop(t *testing.T) {
	program := NewProgram("test")
	reg := intVal(regPrivateBase)
	one := intVal(1)
	loopStart := intVal(0)

	program.Instructions = []Instruction{
		WithOperands(OpReg, reg, nil),     // 0: push reg[14]
		WithOperands(OpSub, nil, one),     // 1: reg[14]-1
		WithOperands(OpClone, nil, nil),   // 2: dup for both setreg and cond check
		WithOperands(OpSetReg, reg, nil),  // 3: reg[14] = top (pops)
		WithOperands(OpJump, loopStart, nil), // 4: jump to 0 if remaining top != 0
	}

	p := NewProcess(program)
	p.registers.Set(regPrivateBase, IntValue(3))
	sup := newTestSupervisor(program.InitialMemorySize())
	require.NoError(t, p.RunToCompletion(sup))

	final, ok := p.registers.Get(regPrivateBase)
	require.True(t, ok)
	assert.Equal(t, IntValue(0), final)
}

func TestDebugOpcodeWritesStackSnapshot(t *testing.T) {
	program := NewProgram("test")
	program.Instructions = []Instruction{
		WithOperands(OpPush, intVal(1), intVal(2)),
		NewInstruction(OpDebug),
	}
	p := NewProcess(program)
	var buf bytes.Buffer
	p.SetDebugWriter(&buf)
	sup := newTestSupervisor(program.InitialMemorySize())
	require.NoError(t, p.RunToCompletion(sup))
	assert.Contains(t, buf.String(), "1")
	assert.Contains(t, buf.String(), "2")
}

func TestForkClonesStateAndRunsIndependently(t *testing.T) {
	program := NewProgram("test")
	program.Instructions = []Instruction{
		WithOperands(OpPush, intVal(99), nil), // 0
		WithOperands(OpFork, intVal(3), nil),  // 1: fork to instruction 3
		NewInstruction(OpExit),                // 2: parent exits
		WithOperands(OpPush, intVal(1), nil),  // 3: child continues here
	}
	p := NewProcess(program)
	sup := newTestSupervisor(program.InitialMemorySize())
	require.NoError(t, p.RunToCompletion(sup))
	require.NoError(t, sup.machine.Wait())

	v, ok := p.stack.Peek()
	require.True(t, ok)
	assert.Equal(t, IntValue(99), v, "parent keeps its own stack after forking")
}
