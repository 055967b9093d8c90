// Package debug renders compiled chunks as instruction listings.
package debug

import (
	"fmt"
	"io"

	"github.com/olekukonko/tablewriter"

	"falcon/internal/bytecode"
)

// DisassembleFunction lists a function's chunk, then recurses into every
// function found in its constant pool so nested bodies show up too.
func DisassembleFunction(w io.Writer, function *bytecode.Function) {
	name := "<script>"
	if function.Name != nil {
		name = function.Name.Chars
	}
	DisassembleChunk(w, function.Chunk, name)

	for _, constant := range function.Chunk.Constants {
		if constant.IsObj() {
			if nested, ok := constant.Obj.(*bytecode.Function); ok {
				DisassembleFunction(w, nested)
			}
		}
	}
}

// DisassembleChunk writes one table row per instruction.
func DisassembleChunk(w io.Writer, chunk *bytecode.Chunk, name string) {
	fmt.Fprintf(w, "== %s ==\n", name)

	table := tablewriter.NewWriter(w)
	table.SetHeader([]string{"OFFSET", "LINE", "OPCODE", "OPERANDS"})
	table.SetBorder(false)
	table.SetColumnAlignment([]int{
		tablewriter.ALIGN_RIGHT, tablewriter.ALIGN_RIGHT,
		tablewriter.ALIGN_LEFT, tablewriter.ALIGN_LEFT,
	})

	for offset := 0; offset < len(chunk.Code); {
		op := bytecode.OpCode(chunk.Code[offset])
		operands, next := decodeOperands(chunk, op, offset)
		table.Append([]string{
			fmt.Sprintf("%04d", offset),
			fmt.Sprintf("%d", chunk.Line(offset)),
			op.String(),
			operands,
		})
		offset = next
	}
	table.Render()
}

// decodeOperands formats an instruction's operands and returns the offset
// of the next instruction.
func decodeOperands(chunk *bytecode.Chunk, op bytecode.OpCode, offset int) (string, int) {
	switch op {
	case bytecode.OpConstant, bytecode.OpDefineGlobal, bytecode.OpGetGlobal,
		bytecode.OpSetGlobal, bytecode.OpClass, bytecode.OpMethod,
		bytecode.OpGetProperty, bytecode.OpSetProperty, bytecode.OpGetSuper:
		index := int(chunk.Code[offset+1])
		return fmt.Sprintf("%d (%s)", index, constantText(chunk, index)), offset + 2

	case bytecode.OpConstant16:
		index := int(chunk.Code[offset+1]) | int(chunk.Code[offset+2])<<8
		return fmt.Sprintf("%d (%s)", index, constantText(chunk, index)), offset + 3

	case bytecode.OpGetLocal, bytecode.OpSetLocal, bytecode.OpGetUpvalue,
		bytecode.OpSetUpvalue, bytecode.OpCall:
		return fmt.Sprintf("%d", chunk.Code[offset+1]), offset + 2

	case bytecode.OpInvoke:
		index := int(chunk.Code[offset+1])
		argc := chunk.Code[offset+2]
		return fmt.Sprintf("%d (%s) argc=%d", index, constantText(chunk, index), argc), offset + 3

	case bytecode.OpJump, bytecode.OpJumpIfFalse, bytecode.OpAnd, bytecode.OpOr:
		jump := int(chunk.Code[offset+1])<<8 | int(chunk.Code[offset+2])
		return fmt.Sprintf("-> %04d", offset+3+jump), offset + 3

	case bytecode.OpLoop:
		jump := int(chunk.Code[offset+1])<<8 | int(chunk.Code[offset+2])
		return fmt.Sprintf("-> %04d", offset+3-jump), offset + 3

	case bytecode.OpList, bytecode.OpMap:
		count := int(chunk.Code[offset+1])<<8 | int(chunk.Code[offset+2])
		return fmt.Sprintf("count=%d", count), offset + 3

	case bytecode.OpClosure:
		index := int(chunk.Code[offset+1])
		text := fmt.Sprintf("%d (%s)", index, constantText(chunk, index))
		next := offset + 2
		if fn, ok := chunk.Constants[index].Obj.(*bytecode.Function); ok {
			for i := 0; i < fn.UpvalueCount; i++ {
				kind := "upvalue"
				if chunk.Code[next] == 1 {
					kind = "local"
				}
				text += fmt.Sprintf(" [%s %d]", kind, chunk.Code[next+1])
				next += 2
			}
		}
		return text, next
	}
	return "", offset + 1
}

func constantText(chunk *bytecode.Chunk, index int) string {
	if index < 0 || index >= len(chunk.Constants) {
		return "?"
	}
	return bytecode.FormatValue(chunk.Constants[index])
}
