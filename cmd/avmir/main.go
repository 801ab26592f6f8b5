// Command avmir launches one or more assembly programs on a shared
// Machine, per spec.md §6's CLI surface.
package main

import (
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/fatih/color"
	"github.com/mattn/go-colorable"
	"github.com/urfave/cli/v2"

	"github.com/ktstephano/avmir/asm"
	"github.com/ktstephano/avmir/vm"
	"github.com/ktstephano/avmir/vmstd"
)

func main() {
	stderr := colorable.NewColorableStderr()
	fatal := color.New(color.FgRed, color.Bold)

	app := &cli.App{
		Name:      "avmir",
		Usage:     "run avmir bytecode programs",
		ArgsUsage: "FILE [FILE...]",
		Flags: []cli.Flag{
			&cli.StringSliceFlag{
				Name:    "memory",
				Aliases: []string{"m"},
				Usage:   "declare a shared memory unit: SIZE or SIZE:PATH (repeatable)",
			},
			&cli.StringSliceFlag{
				Name:    "lib",
				Aliases: []string{"l"},
				Usage:   "load a foreign plugin library from PATH (repeatable)",
			},
		},
		Action: func(c *cli.Context) error {
			return run(c, stderr)
		},
	}

	if err := app.Run(os.Args); err != nil {
		fatal.Fprintf(stderr, "avmir: %v\n", err)
		os.Exit(1)
	}
}

func run(c *cli.Context, stderr io.Writer) error {
	machine := vm.NewMachine()
	machine.LoadLibrary(vmstd.Library())
	machine.LoadLibrary(vmstd.TrapLibrary(stderr))

	for _, spec := range c.StringSlice("memory") {
		unit, err := buildMemoryUnit(spec)
		if err != nil {
			return err
		}
		machine.AddMemoryUnit(unit)
	}

	for _, path := range c.StringSlice("lib") {
		lib, err := vm.OpenPluginLibrary(path)
		if err != nil {
			return err
		}
		machine.LoadLibrary(lib)
	}

	if c.NArg() == 0 {
		return cli.Exit("at least one assembly file is required", 2)
	}

	for _, path := range c.Args().Slice() {
		program, err := loadProgram(path)
		if err != nil {
			return err
		}
		machine.Launch(vm.NewProcess(program))
	}

	if err := machine.Wait(); err != nil {
		warn := color.New(color.FgYellow)
		for _, e := range machine.Errors() {
			warn.Fprintf(stderr, "%v\n", e)
		}
		return cli.Exit("one or more processes terminated fatally", 1)
	}
	return nil
}

// buildMemoryUnit parses a `-m` flag value of the form SIZE or SIZE:PATH
// into a heap-backed or file-mapped shared memory unit (spec.md §6).
func buildMemoryUnit(spec string) (vm.Memory, error) {
	parts := strings.SplitN(spec, ":", 2)
	size, err := strconv.ParseInt(parts[0], 10, 64)
	if err != nil {
		return nil, fmt.Errorf("%w: bad memory size %q", vm.ErrInvalidMemorySpec, parts[0])
	}
	if len(parts) == 1 {
		return vm.NewByteMemory(int(size), nil), nil
	}
	return vm.OpenFileMemory(parts[1], size)
}

func loadProgram(path string) (*vm.Program, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	name := strings.TrimSuffix(path[strings.LastIndexByte(path, '/')+1:], ".asm")
	return asm.ParseTagged(name, string(data))
}
