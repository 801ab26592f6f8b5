package vm

import (
	"encoding/binary"
	"math"
)

// Memory is any byte-addressable buffer memory opcodes can target: the
// process's private buffer, a shared in-memory unit, or a file-mapped
// region (spec.md §3). Out-of-range access is always fatal — no
// bounds-growth is performed.
type Memory interface {
	// Write copies data into the buffer starting at offset. Returns false if
	// the write would run past the end of the buffer.
	Write(offset int, data []byte) bool
	// Read borrows size bytes starting at offset. Returns (nil, false) if
	// the read would run past the end of the buffer.
	Read(offset, size int) ([]byte, bool)
	// Len reports the buffer's addressable size.
	Len() int
}

// ByteMemory is a heap-backed Memory, the concrete backing for a process's
// private memory and for in-memory (non-file) shared units.
type ByteMemory struct {
	buf []byte
}

// NewByteMemory allocates a zeroed buffer of size, then overlays content at
// offset 0 (content may be shorter than size; it never exceeds it because
// Program.InitialMemorySize already accounts for static_data length).
func NewByteMemory(size int, content []byte) *ByteMemory {
	buf := make([]byte, size)
	copy(buf, content)
	return &ByteMemory{buf: buf}
}

func (m *ByteMemory) Write(offset int, data []byte) bool {
	if offset < 0 || offset+len(data) > len(m.buf) {
		return false
	}
	copy(m.buf[offset:], data)
	return true
}

func (m *ByteMemory) Read(offset, size int) ([]byte, bool) {
	if offset < 0 || size < 0 || offset+size > len(m.buf) {
		return nil, false
	}
	return m.buf[offset : offset+size], true
}

func (m *ByteMemory) Len() int { return len(m.buf) }

// --- little-endian integer/float helpers shared by process.go's memory opcodes ---

func memWriteInt(m Memory, addr int, value int64, width int) bool {
	var buf [8]byte
	switch width {
	case 1:
		buf[0] = byte(value)
	case 2:
		binary.LittleEndian.PutUint16(buf[:2], uint16(value))
	case 4:
		binary.LittleEndian.PutUint32(buf[:4], uint32(value))
	case 8:
		binary.LittleEndian.PutUint64(buf[:8], uint64(value))
	}
	return m.Write(addr, buf[:width])
}

func memReadInt(m Memory, addr int, width int) (int64, bool) {
	data, ok := m.Read(addr, width)
	if !ok {
		return 0, false
	}
	switch width {
	case 1:
		return int64(int8(data[0])), true
	case 2:
		return int64(int16(binary.LittleEndian.Uint16(data))), true
	case 4:
		return int64(int32(binary.LittleEndian.Uint32(data))), true
	case 8:
		return int64(binary.LittleEndian.Uint64(data)), true
	}
	return 0, false
}

func memWriteFloat(m Memory, addr int, value float64, width int) bool {
	var buf [8]byte
	switch width {
	case 4:
		binary.LittleEndian.PutUint32(buf[:4], math.Float32bits(float32(value)))
	case 8:
		binary.LittleEndian.PutUint64(buf[:8], math.Float64bits(value))
	}
	return m.Write(addr, buf[:width])
}

func memReadFloat(m Memory, addr int, width int) (float64, bool) {
	data, ok := m.Read(addr, width)
	if !ok {
		return 0, false
	}
	switch width {
	case 4:
		return float64(math.Float32frombits(binary.LittleEndian.Uint32(data))), true
	case 8:
		return math.Float64frombits(binary.LittleEndian.Uint64(data)), true
	}
	return 0, false
}
