package asm

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ktstephano/avmir/vm"
)

func TestParseFlatBasicProgram(t *testing.T) {
	source := `
; comment line, ignored
add 2 3
discard _
`
	program, err := ParseFlat("test", source)
	require.NoError(t, err)
	require.Len(t, program.Instructions, 2)
	assert.Equal(t, vm.OpAdd, program.Instructions[0].Opcode)
	assert.Equal(t, vm.OpDiscard, program.Instructions[1].Opcode)
	assert.Nil(t, program.Instructions[1].Op1)
}

func TestParseFlatStaticDataBlob(t *testing.T) {
	source := "#hello\nnoop"
	program, err := ParseFlat("test", source)
	require.NoError(t, err)
	require.Len(t, program.StaticDataMeta, 1)
	assert.Equal(t, vm.StaticBlob{Offset: 0, Length: 5}, program.StaticDataMeta[0])
	assert.Equal(t, []byte("hello"), program.StaticData)
}

func TestParseFlatUnknownOpcodeIsError(t *testing.T) {
	_, err := ParseFlat("test", "bogus 1")
	require.Error(t, err)
	var perr *ParseError
	require.ErrorAs(t, err, &perr)
	assert.Equal(t, 1, perr.Line)
}

func TestParseTaggedResolvesStaticDataReferences(t *testing.T) {
	source := "#hello\nwriteint64 $0 @0\n"
	program, err := ParseTagged("test", source)
	require.NoError(t, err)
	require.Len(t, program.Instructions, 1)

	instr := program.Instructions[0]
	require.NotNil(t, instr.Op1)
	require.NotNil(t, instr.Op2)
	assert.Equal(t, vm.IntValue(0), *instr.Op1)
	assert.Equal(t, vm.IntValue(5), *instr.Op2)
}

func TestParseTaggedEndReference(t *testing.T) {
	source := "#ab\n#cd\nreadint64 ^1"
	program, err := ParseTagged("test", source)
	require.NoError(t, err)
	// blob 1 ("cd") starts at offset 2, length 2, so ^1 == 4
	assert.Equal(t, vm.IntValue(4), *program.Instructions[0].Op1)
}

func TestParseTaggedFallsBackToLiteralOperands(t *testing.T) {
	program, err := ParseTagged("test", "add 2 3")
	require.NoError(t, err)
	assert.Equal(t, vm.IntValue(2), *program.Instructions[0].Op1)
	assert.Equal(t, vm.IntValue(3), *program.Instructions[0].Op2)
}

// A named label binds to the index of the instruction that follows it, and
// can be referenced before its own definition (a forward jump target).
func TestParseTaggedNamedInstructionLabel(t *testing.T) {
	source := `
jump $loop 1
noop
loop:
discard _
`
	program, err := ParseTagged("test", source)
	require.NoError(t, err)
	require.Len(t, program.Instructions, 3)
	// loop: labels the instruction after it — "discard _" at index 2.
	assert.Equal(t, vm.IntValue(2), *program.Instructions[0].Op1)
}

// A named blob tag resolves $/@/^ to its offset/length/end, the same as a
// numeric blob reference.
func TestParseTaggedNamedBlobTag(t *testing.T) {
	source := "greeting #hello\nwriteint64 $greeting @greeting\n"
	program, err := ParseTagged("test", source)
	require.NoError(t, err)
	require.Len(t, program.StaticDataMeta, 1)
	assert.Equal(t, vm.StaticBlob{Offset: 0, Length: 5}, program.StaticDataMeta[0])

	instr := program.Instructions[0]
	assert.Equal(t, vm.IntValue(0), *instr.Op1)
	assert.Equal(t, vm.IntValue(5), *instr.Op2)
}

func TestParseTaggedEndReferenceOnNamedBlob(t *testing.T) {
	source := "a #ab\nb #cd\nreadint64 ^b"
	program, err := ParseTagged("test", source)
	require.NoError(t, err)
	// blob "b" ("cd") starts at offset 2, length 2, so ^b == 4
	assert.Equal(t, vm.IntValue(4), *program.Instructions[0].Op1)
}

// @ and ^ are only meaningful against a blob tag; using them against an
// instruction tag is a parse error.
func TestParseTaggedMemoryLengthOnInstructionTagIsError(t *testing.T) {
	source := `
loop:
noop
push @loop
`
	_, err := ParseTagged("test", source)
	require.Error(t, err)
	var perr *ParseError
	require.ErrorAs(t, err, &perr)
}

func TestParseTaggedUnknownTagIsError(t *testing.T) {
	_, err := ParseTagged("test", "push $nope")
	require.Error(t, err)
	var perr *ParseError
	require.ErrorAs(t, err, &perr)
}

func TestParseTaggedLabelWithoutFollowingInstructionIsError(t *testing.T) {
	_, err := ParseTagged("test", "dangling:\n")
	require.Error(t, err)
}
