// internal/errors/errors.go
package errors

import (
	"fmt"
	"strings"
)

// ErrorKind classifies a diagnostic per the interpreter's error model.
type ErrorKind string

const (
	CompilerError ErrorKind = "CompilerError"
	RuntimeError  ErrorKind = "RuntimeError"
	FatalError    ErrorKind = "FatalError"
)

// StackFrame is one entry of a runtime stack trace, innermost first.
type StackFrame struct {
	Function string
	Line     int
}

// FalconError is the structured diagnostic record every error path builds.
// Formatting is centralised in Error so scanner, compiler and VM all render
// identically.
type FalconError struct {
	Kind       ErrorKind
	Message    string
	File       string
	Line       int
	Column     int
	SourceLine string
	Stack      []StackFrame
}

const maxTraceFrames = 20

// Error renders the diagnostic.
//
// Compile errors:
//
//	<file>:<line>:<col> => CompilerError: <msg>
//	<source line>
//	      ^
//
// Runtime errors:
//
//	RuntimeError: <msg>
//	Stack trace (last call first):
//	  ...
func (e *FalconError) Error() string {
	var sb strings.Builder

	if e.Kind == CompilerError {
		sb.WriteString(fmt.Sprintf("%s:%d:%d => %s: %s", e.File, e.Line, e.Column, e.Kind, e.Message))
		if e.SourceLine != "" {
			sb.WriteString("\n")
			sb.WriteString(e.SourceLine)
			sb.WriteString("\n")
			if e.Column > 1 {
				sb.WriteString(strings.Repeat(" ", e.Column-1))
			}
			sb.WriteString("^")
		}
		return sb.String()
	}

	sb.WriteString(fmt.Sprintf("%s: %s", e.Kind, e.Message))
	if len(e.Stack) > 0 {
		sb.WriteString("\nStack trace (last call first):")
		frames := e.Stack
		if len(frames) <= maxTraceFrames {
			for _, f := range frames {
				sb.WriteString("\n" + formatFrame(f, e.File))
			}
		} else {
			// Head and tail of deep traces, elided middle.
			for _, f := range frames[:maxTraceFrames/2] {
				sb.WriteString("\n" + formatFrame(f, e.File))
			}
			sb.WriteString(fmt.Sprintf("\n    ... (%d frames omitted)", len(frames)-maxTraceFrames))
			for _, f := range frames[len(frames)-maxTraceFrames/2:] {
				sb.WriteString("\n" + formatFrame(f, e.File))
			}
		}
	}
	return sb.String()
}

func formatFrame(f StackFrame, file string) string {
	where := f.Function
	if where == "" {
		where = "script"
	} else {
		where = where + "()"
	}
	if file != "" {
		return fmt.Sprintf("    [%s:%d] in %s", file, f.Line, where)
	}
	return fmt.Sprintf("    [line %d] in %s", f.Line, where)
}

// NewCompilerError builds a compile diagnostic with source context.
func NewCompilerError(message, file string, line, column int, sourceLine string) *FalconError {
	return &FalconError{
		Kind:       CompilerError,
		Message:    message,
		File:       file,
		Line:       line,
		Column:     column,
		SourceLine: sourceLine,
	}
}

// NewRuntimeError builds a runtime diagnostic; the VM attaches the trace.
func NewRuntimeError(message, file string) *FalconError {
	return &FalconError{
		Kind:    RuntimeError,
		Message: message,
		File:    file,
	}
}

// WithStack attaches a call stack to the error.
func (e *FalconError) WithStack(stack []StackFrame) *FalconError {
	e.Stack = stack
	return e
}
