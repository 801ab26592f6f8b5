package vm

// Supervisor is the core's sole abstraction for outward effects: it is the
// only way a running Process reaches outside itself, for memory switching,
// forking, and foreign calls (spec.md §4.6). Machine's per-process
// processSupervisor is the concrete implementation; Process never holds a
// back-reference to the Machine, only to a
// Supervisor handed in per dispatch step, which breaks the process/machine
// ownership cycle (spec.md §9).
type Supervisor interface {
	// SetMemory switches the active memory: nil reverts to the process's
	// private buffer, non-nil mounts shared unit *unit.
	SetMemory(unit *int) error

	// Memory gives effect scoped, locked read access to the active memory.
	Memory(effect func(Memory)) error

	// MemoryMut gives effect scoped, locked read/write access to the active
	// memory.
	MemoryMut(effect func(Memory)) error

	// Fork launches a new process (typically a clone of the caller's
	// state); no back-reference is returned, forked processes are peers.
	Fork(p *Process)

	// InvokeFFI dispatches the foreign call named by symbol against p's
	// current dispatch-time flags, per spec.md §4.4's three call shapes.
	InvokeFFI(symbol []byte, p *Process) (*Value, error)
}
