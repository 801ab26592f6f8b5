// Package asm implements the two text assembly dialects spec.md §6
// describes: a flat dialect where operands are literal integers/floats, and
// a tagged dialect that additionally resolves $/@/^-prefixed references
// against named and implicit numeric tags. Both are grounded on the
// original runtime's line-oriented parser (one instruction per line, `;`
// comments, `#` static-data lines, `_` for an omitted operand).
package asm

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/ktstephano/avmir/vm"
)

// ParseError reports the 1-indexed source line a parse failure occurred on.
type ParseError struct {
	Line int
	Err  error
}

func (e *ParseError) Error() string { return fmt.Sprintf("line %d: %v", e.Line, e.Err) }
func (e *ParseError) Unwrap() error { return e.Err }

type operandResolver func(item string, prog *vm.Program) (*vm.Value, error)

// ParseFlat parses source in the flat dialect: operands are literal
// integers or floats, `_` sources the operand from the stack instead. The
// flat dialect has no concept of tags: a line shaped like a label or a
// named blob is simply an invalid instruction line.
func ParseFlat(name, source string) (*vm.Program, error) {
	return parse(name, source, resolveFlatOperand, false)
}

// ParseTagged parses source in the tagged dialect (spec.md §6): `tag:` on
// its own line binds tag to the index of the instruction that follows it;
// `tag #blob` binds tag to a static-data blob. Within operands, `$name`
// resolves to an instruction tag's index or a blob tag's offset; `@name`/
// `^name` resolve to a blob tag's length/end and are parse errors against
// an instruction tag. A bare numeric reference (`$0`, `@1`, `^2`, ...)
// addresses a static-data blob by its position among the program's blobs,
// regardless of whether that blob was named — the numeric-indices-as-
// implicit-tags spec.md describes for blobs with no name of their own.
func ParseTagged(name, source string) (*vm.Program, error) {
	tags, err := collectTags(source)
	if err != nil {
		return nil, err
	}
	resolve := func(item string, prog *vm.Program) (*vm.Value, error) {
		return resolveTaggedOperand(item, prog, tags)
	}
	return parse(name, source, resolve, true)
}

func parse(name, source string, resolve operandResolver, tagAware bool) (*vm.Program, error) {
	program := vm.NewProgram(name)

	for i, rawLine := range strings.Split(source, "\n") {
		line := strings.TrimSpace(rawLine)
		lineNum := i + 1

		if line == "" || strings.HasPrefix(line, ";") {
			continue
		}

		if tagAware {
			if _, ok := parseLabel(line); ok {
				continue // consumed by collectTags; binds the next instruction
			}
			if _, content, ok := parseNamedBlob(line); ok {
				appendBlob(program, []byte(content))
				continue
			}
		}

		if strings.HasPrefix(line, "#") {
			appendBlob(program, []byte(line[1:]))
			continue
		}

		instr, err := parseInstruction(line, program, resolve)
		if err != nil {
			return nil, &ParseError{Line: lineNum, Err: err}
		}
		program.Instructions = append(program.Instructions, instr)
	}

	return program, nil
}

func appendBlob(program *vm.Program, blob []byte) {
	offset := len(program.StaticData)
	program.StaticData = append(program.StaticData, blob...)
	program.StaticDataMeta = append(program.StaticDataMeta, vm.StaticBlob{
		Offset: offset,
		Length: len(blob),
	})
}

func parseInstruction(line string, program *vm.Program, resolve operandResolver) (vm.Instruction, error) {
	fields := strings.Fields(line)
	if len(fields) == 0 || len(fields) > 3 {
		return vm.Instruction{}, fmt.Errorf("%w: bad line syntax %q", vm.ErrParseFailure, line)
	}

	op, ok := vm.OpcodeByName(fields[0])
	if !ok {
		return vm.Instruction{}, fmt.Errorf("%w: unknown opcode %q", vm.ErrParseFailure, fields[0])
	}

	switch len(fields) {
	case 1:
		return vm.NewInstruction(op), nil
	case 2:
		a, err := resolve(fields[1], program)
		if err != nil {
			return vm.Instruction{}, err
		}
		return vm.WithOperands(op, a, nil), nil
	default:
		a, err := resolve(fields[1], program)
		if err != nil {
			return vm.Instruction{}, err
		}
		b, err := resolve(fields[2], program)
		if err != nil {
			return vm.Instruction{}, err
		}
		return vm.WithOperands(op, a, b), nil
	}
}

func resolveFlatOperand(item string, _ *vm.Program) (*vm.Value, error) {
	return parseLiteral(item)
}

// tagKind distinguishes what a named tag in the tagged dialect points at.
type tagKind int

const (
	tagInstruction tagKind = iota
	tagBlob
)

// tagEntry is one named binding collected from a tagged-dialect source: an
// instruction index (`tag:`) or a static-data blob's resolved offset/length
// (`tag #blob`).
type tagEntry struct {
	kind   tagKind
	index  int // instruction index, when kind == tagInstruction
	offset int // blob offset, when kind == tagBlob
	length int // blob length, when kind == tagBlob
}

// collectTags makes a first pass over source to build the named-tag table
// operand resolution looks up. A separate pass is what lets a tag be
// referenced before the line that defines it — jump targets routinely name
// a label that appears later in the program.
func collectTags(source string) (map[string]tagEntry, error) {
	tags := make(map[string]tagEntry)
	var pending []string
	instrIndex := 0
	dataLen := 0

	for _, rawLine := range strings.Split(source, "\n") {
		line := strings.TrimSpace(rawLine)
		if line == "" || strings.HasPrefix(line, ";") {
			continue
		}

		if name, ok := parseLabel(line); ok {
			pending = append(pending, name)
			continue
		}

		if name, content, ok := parseNamedBlob(line); ok {
			tags[name] = tagEntry{kind: tagBlob, offset: dataLen, length: len(content)}
			dataLen += len(content)
			continue
		}

		if strings.HasPrefix(line, "#") {
			dataLen += len(line) - 1
			continue
		}

		for _, name := range pending {
			tags[name] = tagEntry{kind: tagInstruction, index: instrIndex}
		}
		pending = pending[:0]
		instrIndex++
	}

	if len(pending) > 0 {
		return nil, fmt.Errorf("%w: label with no following instruction", vm.ErrParseFailure)
	}
	return tags, nil
}

// parseLabel recognizes a `name:` line binding name to the next
// instruction's index.
func parseLabel(line string) (string, bool) {
	if !strings.HasSuffix(line, ":") {
		return "", false
	}
	name := line[:len(line)-1]
	if name == "" || strings.ContainsAny(name, " \t#:") {
		return "", false
	}
	return name, true
}

// parseNamedBlob recognizes a `name #content` line binding name to a
// static-data blob.
func parseNamedBlob(line string) (name, content string, ok bool) {
	if strings.HasPrefix(line, "#") {
		return "", "", false
	}
	sep := strings.IndexByte(line, ' ')
	if sep < 0 || sep+1 >= len(line) || line[sep+1] != '#' {
		return "", "", false
	}
	name = line[:sep]
	if name == "" || strings.ContainsAny(name, "\t#:") {
		return "", "", false
	}
	return name, line[sep+2:], true
}

func resolveTaggedOperand(item string, program *vm.Program, tags map[string]tagEntry) (*vm.Value, error) {
	if len(item) <= 1 || (item[0] != '$' && item[0] != '@' && item[0] != '^') {
		return parseLiteral(item)
	}
	sigil := item[0]
	name := item[1:]

	if idx, err := strconv.Atoi(name); err == nil {
		if idx < 0 || idx >= len(program.StaticDataMeta) {
			return nil, fmt.Errorf("%w: no such static-data blob %d", vm.ErrParseFailure, idx)
		}
		blob := program.StaticDataMeta[idx]
		return blobValue(sigil, blob.Offset, blob.Length), nil
	}

	entry, ok := tags[name]
	if !ok {
		return nil, fmt.Errorf("%w: no such tag %q", vm.ErrParseFailure, name)
	}
	switch entry.kind {
	case tagInstruction:
		if sigil != '$' {
			return nil, fmt.Errorf("%w: %q is an instruction tag, only $ resolves it", vm.ErrParseFailure, item)
		}
		v := vm.IntValue(int64(entry.index))
		return &v, nil
	default:
		return blobValue(sigil, entry.offset, entry.length), nil
	}
}

func blobValue(sigil byte, offset, length int) *vm.Value {
	var v vm.Value
	switch sigil {
	case '$':
		v = vm.IntValue(int64(offset))
	case '@':
		v = vm.IntValue(int64(length))
	default:
		v = vm.IntValue(int64(offset + length))
	}
	return &v
}

func parseLiteral(item string) (*vm.Value, error) {
	if item == "_" {
		return nil, nil
	}
	if i, err := strconv.ParseInt(item, 10, 64); err == nil {
		v := vm.IntValue(i)
		return &v, nil
	}
	if f, err := strconv.ParseFloat(item, 64); err == nil {
		v := vm.FloatValue(f)
		return &v, nil
	}
	return nil, fmt.Errorf("%w: invalid operand %q", vm.ErrParseFailure, item)
}
