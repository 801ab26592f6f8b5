package vm

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestValueTagsAndAccessors(t *testing.T) {
	i := IntValue(42)
	assert.True(t, i.IsInt())
	assert.False(t, i.IsFloat())
	assert.Equal(t, int64(42), i.Int())

	f := FloatValue(3.5)
	assert.True(t, f.IsFloat())
	assert.Equal(t, 3.5, f.Float())
}

func TestValueCoercionIsTruncatingRegardlessOfTag(t *testing.T) {
	assert.Equal(t, int64(3), FloatValue(3.9).AsInt())
	assert.Equal(t, 42.0, IntValue(42).AsFloat())
}

func TestValueCoercionIsIdempotent(t *testing.T) {
	i := IntValue(7)
	assert.Equal(t, i, IntValue(i.AsInt()))

	f := FloatValue(2.25)
	assert.Equal(t, f, FloatValue(f.AsFloat()))
}

func TestBoolValue(t *testing.T) {
	assert.Equal(t, IntValue(1), boolValue(true))
	assert.Equal(t, IntValue(0), boolValue(false))
}
