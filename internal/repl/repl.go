// internal/repl/repl.go
package repl

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/peterh/liner"

	"falcon/internal/vm"
)

// Start runs the interactive loop on one persistent VM, so globals and
// interned strings survive across lines.
func Start(machine *vm.VM, version string) {
	fmt.Printf("Falcon %s | type 'exit' to quit\n", version)

	machine.IsREPL = true

	line := liner.NewLiner()
	defer line.Close()
	line.SetCtrlCAborts(true)

	historyPath := filepath.Join(os.TempDir(), ".falcon_history")
	if f, err := os.Open(historyPath); err == nil {
		line.ReadHistory(f)
		f.Close()
	}
	defer func() {
		if f, err := os.Create(historyPath); err == nil {
			line.WriteHistory(f)
			f.Close()
		}
	}()

	for {
		input, err := line.Prompt(">>> ")
		if err == liner.ErrPromptAborted {
			continue
		}
		if err == io.EOF {
			fmt.Println()
			return
		}
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error reading line: %v\n", err)
			return
		}
		if input == "exit" {
			return
		}
		if input == "" {
			continue
		}

		line.AppendHistory(input)
		machine.Interpret(input, "<repl>")
	}
}
