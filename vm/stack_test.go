package vm

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestStackPushPopOrder(t *testing.T) {
	var s Stack
	assert.True(t, s.Push(IntValue(1)))
	assert.True(t, s.Push(IntValue(2)))

	v, ok := s.Pop()
	assert.True(t, ok)
	assert.Equal(t, IntValue(2), v)

	v, ok = s.Pop()
	assert.True(t, ok)
	assert.Equal(t, IntValue(1), v)

	_, ok = s.Pop()
	assert.False(t, ok, "pop from empty stack must fail")
}

func TestStackPop2ResolvesTopFirst(t *testing.T) {
	var s Stack
	s.Push(IntValue(10)) // pushed first
	s.Push(IntValue(20)) // pushed second (top)

	a, b, ok := s.Pop2()
	assert.True(t, ok)
	assert.Equal(t, IntValue(20), a, "a (operand1) must be the current top of stack")
	assert.Equal(t, IntValue(10), b, "b (operand2) must be what's left after popping a")
}

func TestStackOverflow(t *testing.T) {
	var s Stack
	for i := 0; i < stackCapacity; i++ {
		assert.True(t, s.Push(IntValue(int64(i))))
	}
	assert.True(t, s.Full())
	assert.False(t, s.Push(IntValue(999)), "push past capacity must fail")
}

func TestStackPeekDoesNotPop(t *testing.T) {
	var s Stack
	s.Push(IntValue(5))
	v, ok := s.Peek()
	assert.True(t, ok)
	assert.Equal(t, IntValue(5), v)
	assert.Equal(t, 1, s.Depth())
}
