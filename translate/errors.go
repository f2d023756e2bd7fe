package translate

import (
	"errors"
	"fmt"

	"github.com/chazu/ilgen/cil"
)

// Code classifies a translator-internal failure.
type Code uint8

const (
	CodeUnknownOpcode Code = iota + 1
	CodeNotVerifiable
	CodeStackMismatch
	CodeBodyOverrun
	CodeUnsupported
	CodeBadToken
	CodeBadBody
)

var codeNames = [...]string{
	CodeUnknownOpcode: "unknown opcode",
	CodeNotVerifiable: "not verifiable",
	CodeStackMismatch: "stack mismatch",
	CodeBodyOverrun:   "body overrun",
	CodeUnsupported:   "unsupported",
	CodeBadToken:      "bad token",
	CodeBadBody:       "bad body",
}

func (c Code) String() string {
	if int(c) < len(codeNames) && codeNames[c] != "" {
		return codeNames[c]
	}
	return fmt.Sprintf("code(%d)", uint8(c))
}

// Error is a fatal translation failure. Target-language conditions such as
// a null dereference never produce an Error; they compile to runtime checks.
type Error struct {
	Code   Code
	Method string
	Offset int // bytecode offset, -1 when not tied to an instruction
	Op     cil.Opcode
	Msg    string
	Err    error
}

func (e *Error) Error() string {
	s := "translate: "
	if e.Method != "" {
		s += e.Method + ": "
	}
	switch {
	case e.Offset >= 0 && e.Op != cil.Nop:
		s += fmt.Sprintf("IL_%04x (%s): ", e.Offset, e.Op)
	case e.Offset >= 0:
		s += fmt.Sprintf("IL_%04x: ", e.Offset)
	}
	s += e.Code.String()
	if e.Msg != "" {
		s += ": " + e.Msg
	}
	if e.Err != nil {
		s += ": " + e.Err.Error()
	}
	return s
}

func (e *Error) Unwrap() error {
	return e.Err
}

// CodeOf returns the code of a translation error, or 0 if err is not one.
func CodeOf(err error) Code {
	var te *Error
	if errors.As(err, &te) {
		return te.Code
	}
	return 0
}

func newError(code Code, format string, args ...any) *Error {
	return &Error{Code: code, Offset: -1, Msg: fmt.Sprintf(format, args...)}
}

// fail aborts the current translation. It is recovered in Translate only.
func fail(code Code, format string, args ...any) {
	panic(newError(code, format, args...))
}

// failErr aborts with an underlying cause.
func failErr(code Code, err error, format string, args ...any) {
	e := newError(code, format, args...)
	e.Err = err
	panic(e)
}
