package vm

import (
	"os"

	"github.com/edsrzf/mmap-go"
)

// FileMemory is a Memory backed by a memory-mapped file, the concrete
// backing for the CLI's `SIZE:PATH` memory specification (spec.md §6). It
// mirrors the original Rust implementation's use of `memmap2`.
type FileMemory struct {
	file *os.File
	m    mmap.MMap
}

// OpenFileMemory truncates (or grows) the file at path to size and maps it
// read/write.
func OpenFileMemory(path string, size int64) (*FileMemory, error) {
	file, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0o644)
	if err != nil {
		return nil, err
	}

	info, err := file.Stat()
	if err != nil {
		file.Close()
		return nil, err
	}
	if info.Size() != size {
		if err := file.Truncate(size); err != nil {
			file.Close()
			return nil, err
		}
	}

	m, err := mmap.Map(file, mmap.RDWR, 0)
	if err != nil {
		file.Close()
		return nil, err
	}

	return &FileMemory{file: file, m: m}, nil
}

func (f *FileMemory) Write(offset int, data []byte) bool {
	if offset < 0 || offset+len(data) > len(f.m) {
		return false
	}
	copy(f.m[offset:], data)
	return true
}

func (f *FileMemory) Read(offset, size int) ([]byte, bool) {
	if offset < 0 || size < 0 || offset+size > len(f.m) {
		return nil, false
	}
	return f.m[offset : offset+size], true
}

func (f *FileMemory) Len() int { return len(f.m) }

// Close unmaps and closes the backing file.
func (f *FileMemory) Close() error {
	if err := f.m.Unmap(); err != nil {
		f.file.Close()
		return err
	}
	return f.file.Close()
}
