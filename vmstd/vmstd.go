// Package vmstd provides the VM's built-in foreign functions, the Go
// equivalent of the original runtime's avmir_std library.
package vmstd

import (
	"fmt"
	"io"

	"github.com/fatih/color"

	"github.com/ktstephano/avmir/vm"
)

// Library returns a ForeignLibrary exposing std_hello_world and
// std_sum_registers, both Plain-shape: they use only PublicRegisters and
// ignore any Memory, Process or Supervisor the call shape supplies.
func Library() *vm.StaticLibrary {
	return vm.NewStaticLibrary("std", map[string]vm.ForeignFunc{
		"std_hello_world":    stdHelloWorld,
		"std_sum_registers":  stdSumRegisters,
	})
}

func stdHelloWorld(call vm.ForeignCall) (*vm.Value, error) {
	fmt.Println("Hello World from FFI!")
	return nil, nil
}

func stdSumRegisters(call vm.ForeignCall) (*vm.Value, error) {
	var sum int64
	for _, v := range call.PublicRegisters {
		sum += v.AsInt()
	}
	result := vm.IntValue(sum)
	return &result, nil
}

// TrapLibrary returns a ForeignLibrary exposing std_trap_debug, a
// Trap-shape function that single-steps its caller, printing each
// instruction before it runs. A program invokes it by setting register 11
// (invoke_trap) before PrepareInvoke/Invoke — spec.md §9's example of
// re-entrant dispatch: the foreign function drives the very process that
// called it.
func TrapLibrary(out io.Writer) *vm.StaticLibrary {
	return vm.NewStaticLibrary("std_trap", map[string]vm.ForeignFunc{
		"std_trap_debug": func(call vm.ForeignCall) (*vm.Value, error) {
			return stdTrapDebug(call, out)
		},
	})
}

func stdTrapDebug(call vm.ForeignCall, out io.Writer) (*vm.Value, error) {
	step := color.New(color.FgCyan)
	for {
		instr, ok := call.Process.CurrentInstruction()
		if !ok {
			break
		}
		step.Fprintf(out, "[trap] pc=%d %s\n", call.Process.PC(), instr.String())
		more, err := call.Process.Step(call.Supervisor)
		if err != nil {
			return nil, err
		}
		if !more {
			break
		}
	}
	return nil, nil
}
