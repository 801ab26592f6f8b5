package vm

import (
	"fmt"
	"sync"
)

// ForeignLibrary resolves a foreign symbol to a callable. Every symbol
// resolves to the same ForeignFunc type; which of the three call shapes
// (spec.md §4.4) it is called with is decided at dispatch time by
// InvokeFFI from the caller's share-memory and invoke-trap registers.
type ForeignLibrary interface {
	// Lookup returns the callable bound to symbol and true, or false if this
	// library does not export it. Search order across a Machine's loaded
	// libraries is first-match-wins (spec.md §4.4).
	Lookup(symbol []byte) (ForeignFunc, bool)
	// Name identifies the library for diagnostics.
	Name() string
}

// ForeignFunc is the uniform shape every foreign call is normalized to once
// resolved: it receives a copy of the process's public registers, the
// active memory when the share-memory flag was set, and, for Trap, the
// process and supervisor themselves. The flags themselves are not passed.
type ForeignFunc func(call ForeignCall) (*Value, error)

// ForeignCall carries everything a foreign function might need, gated by
// which of the two dispatch-time flags were set (spec.md §4.4):
//   - Plain shape:  only PublicRegisters is populated.
//   - Memory shape: PublicRegisters and Memory (share_memory flag set).
//   - Trap shape:   PublicRegisters, Process and Supervisor (invoke_trap
//     flag set), plus Memory when share_memory is also set.
type ForeignCall struct {
	PublicRegisters PublicRegisters
	Memory          Memory
	Process         *Process
	Supervisor      Supervisor
}

// sharedUnit is one of a Machine's indexed shared memory units.
type sharedUnit struct {
	mu     sync.RWMutex
	memory Memory
}

// Machine is the concrete Supervisor factory and process scheduler
// (spec.md §4.5). It owns the shared memory units and the ordered list of
// loaded foreign libraries; it maps one goroutine to one process, mirroring
// the original design's one-host-thread-per-process model.
type Machine struct {
	unitsMu sync.RWMutex
	units   []*sharedUnit

	libsMu sync.RWMutex
	libs   []ForeignLibrary

	wg sync.WaitGroup

	errMu sync.Mutex
	errs  []error
}

// NewMachine returns an empty machine: no shared memory units, no loaded
// libraries.
func NewMachine() *Machine {
	return &Machine{}
}

// AddMemoryUnit registers a shared memory unit and returns its index, used
// by Mount instructions.
func (m *Machine) AddMemoryUnit(memory Memory) int {
	m.unitsMu.Lock()
	defer m.unitsMu.Unlock()
	m.units = append(m.units, &sharedUnit{memory: memory})
	return len(m.units) - 1
}

// LoadLibrary appends lib to the end of the search order; earlier libraries
// shadow later ones for a shared symbol name (spec.md §4.4).
func (m *Machine) LoadLibrary(lib ForeignLibrary) {
	m.libsMu.Lock()
	defer m.libsMu.Unlock()
	m.libs = append(m.libs, lib)
}

// Launch starts p running on its own goroutine, bound to a fresh
// processSupervisor seeded with p's private memory. Launch returns
// immediately; call Wait to block until every launched (and forked)
// process has finished.
func (m *Machine) Launch(p *Process) {
	private := NewByteMemory(p.Program.InitialMemorySize(), p.Program.StaticData)
	sup := &processSupervisor{machine: m, private: private}
	m.run(p, sup)
}

func (m *Machine) run(p *Process, sup *processSupervisor) {
	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		if err := p.RunToCompletion(sup); err != nil {
			m.recordError(p, err)
		}
	}()
}

func (m *Machine) recordError(p *Process, err error) {
	m.errMu.Lock()
	defer m.errMu.Unlock()
	m.errs = append(m.errs, fmt.Errorf("process %s: %w", p.ID, err))
}

// Wait blocks until every launched and forked process has terminated, then
// returns the first fatal error encountered (if any), for the CLI's exit
// code.
func (m *Machine) Wait() error {
	m.wg.Wait()
	m.errMu.Lock()
	defer m.errMu.Unlock()
	if len(m.errs) == 0 {
		return nil
	}
	return m.errs[0]
}

// Errors returns every fatal error recorded across all processes, in the
// order they were reported.
func (m *Machine) Errors() []error {
	m.errMu.Lock()
	defer m.errMu.Unlock()
	return append([]error(nil), m.errs...)
}

// processSupervisor is the per-process Supervisor implementation: it holds
// the process's own private memory buffer and, optionally, a mounted
// pointer into the Machine's shared units. It never stores a reference to
// the Process it serves, only what Step hands it per call.
type processSupervisor struct {
	machine *Machine
	private *ByteMemory
	mounted *int
}

func (s *processSupervisor) SetMemory(unit *int) error {
	if unit == nil {
		s.mounted = nil
		return nil
	}
	s.machine.unitsMu.RLock()
	defer s.machine.unitsMu.RUnlock()
	if *unit < 0 || *unit >= len(s.machine.units) {
		return ErrNoSuchMemoryUnit
	}
	u := *unit
	s.mounted = &u
	return nil
}

func (s *processSupervisor) Memory(effect func(Memory)) error {
	if s.mounted == nil {
		effect(s.private)
		return nil
	}
	s.machine.unitsMu.RLock()
	unit := s.machine.units[*s.mounted]
	s.machine.unitsMu.RUnlock()

	unit.mu.RLock()
	defer unit.mu.RUnlock()
	effect(unit.memory)
	return nil
}

func (s *processSupervisor) MemoryMut(effect func(Memory)) error {
	if s.mounted == nil {
		effect(s.private)
		return nil
	}
	s.machine.unitsMu.RLock()
	unit := s.machine.units[*s.mounted]
	s.machine.unitsMu.RUnlock()

	unit.mu.Lock()
	defer unit.mu.Unlock()
	effect(unit.memory)
	return nil
}

func (s *processSupervisor) Fork(p *Process) {
	private := NewByteMemory(p.Program.InitialMemorySize(), p.Program.StaticData)
	child := &processSupervisor{machine: s.machine, private: private}
	if s.mounted != nil {
		unit := *s.mounted
		child.mounted = &unit
	}
	s.machine.run(p, child)
}

func (s *processSupervisor) InvokeFFI(symbol []byte, p *Process) (*Value, error) {
	s.machine.libsMu.RLock()
	libs := append([]ForeignLibrary(nil), s.machine.libs...)
	s.machine.libsMu.RUnlock()

	for _, lib := range libs {
		fn, ok := lib.Lookup(symbol)
		if !ok {
			continue
		}

		call := ForeignCall{PublicRegisters: p.registers.Public()}
		shareMemory := p.registers.Flag(RegShareMemory)
		invokeTrap := p.registers.Flag(RegInvokeTrap)

		if invokeTrap {
			call.Process = p
			call.Supervisor = s
			if shareMemory {
				var mem Memory
				if werr := s.MemoryMut(func(m Memory) { mem = m }); werr != nil {
					return nil, werr
				}
				call.Memory = mem
			}
			result, err := fn(call)
			p.registers.SetPublic(call.PublicRegisters)
			return result, err
		}
		if shareMemory {
			var mem Memory
			if werr := s.MemoryMut(func(m Memory) { mem = m }); werr != nil {
				return nil, werr
			}
			call.Memory = mem
			result, err := fn(call)
			p.registers.SetPublic(call.PublicRegisters)
			return result, err
		}
		result, err := fn(call)
		p.registers.SetPublic(call.PublicRegisters)
		return result, err
	}

	return nil, ErrSymbolNotFound
}
