// cmd/falcon/main.go
package main

import (
	"os"

	"github.com/fatih/color"
	"github.com/mattn/go-isatty"
	cli "gopkg.in/urfave/cli.v1"

	"falcon/internal/gc"
	"falcon/internal/repl"
	"falcon/internal/stdlib"
	"falcon/internal/vm"
)

const version = "1.0.0"

// Exit codes per interpretation outcome.
const (
	exitOK      = 0
	exitUsage   = 1
	exitCompile = 2
	exitRuntime = 3
	exitMemory  = 4
	exitOS      = 5
)

func main() {
	color.NoColor = color.NoColor || !isatty.IsTerminal(os.Stderr.Fd())
	color.Output = color.Error

	app := cli.NewApp()
	app.Name = "falcon"
	app.Usage = "the Falcon interpreter"
	app.Version = version
	app.UsageText = "falcon [flags] [options] [script]"
	app.Flags = []cli.Flag{
		cli.StringFlag{
			Name:  "i",
			Usage: "interpret `CODE` and exit",
		},
		cli.BoolFlag{
			Name:  "debug, d",
			Usage: "disassemble compiled bytecode before running",
		},
	}
	cli.VersionFlag = cli.BoolFlag{
		Name:  "version, v",
		Usage: "print the version",
	}
	app.Action = run

	if err := app.Run(os.Args); err != nil {
		color.Red("%v", err)
		os.Exit(exitUsage)
	}
}

func run(c *cli.Context) error {
	heap := gc.NewHeap()
	heap.OnOutOfMemory = func(bytes int) {
		color.Red("FatalError: out of memory (%d bytes requested).", bytes)
		os.Exit(exitMemory)
	}

	machine := vm.NewVM(heap)
	machine.Trace = c.Bool("debug")
	stdlib.Register(machine)

	if code := c.String("i"); code != "" {
		os.Exit(interpretExitCode(machine.Interpret(code, "<cli>")))
	}

	if c.NArg() > 0 {
		path := c.Args().First()
		source, err := os.ReadFile(path)
		if err != nil {
			color.Red("Could not open file '%s': %v", path, err)
			os.Exit(exitOS)
		}
		os.Exit(interpretExitCode(machine.Interpret(string(source), path)))
	}

	repl.Start(machine, version)
	return nil
}

func interpretExitCode(result vm.InterpretResult) int {
	switch result {
	case vm.InterpretCompileError:
		return exitCompile
	case vm.InterpretRuntimeError:
		return exitRuntime
	}
	return exitOK
}
