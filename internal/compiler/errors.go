package compiler

import (
	"fmt"

	"cuelang.org/go/cue/errors"
	"cuelang.org/go/cue/token"

	"github.com/roach88/reduce/internal/ir"
)

// CompileError is a located compile failure in a recipe, a parameter file
// or a CUE declaration file. It unwraps to an ir.ConfigurationError so
// callers can match on the taxonomy code.
type CompileError struct {
	Code    ir.ErrorCode
	File    string // recipe name or file path
	Line    int    // 1-based; 0 when unknown
	Field   string // CUE path for declaration errors
	Message string
	Pos     token.Pos
}

func (e *CompileError) Error() string {
	if e.Pos.IsValid() {
		return fmt.Sprintf("%s:%d:%d: %s: %s",
			e.Pos.Filename(), e.Pos.Line(), e.Pos.Column(),
			e.Field, e.Message)
	}
	msg := e.Message
	if e.Field != "" {
		msg = e.Field + ": " + msg
	}
	loc := e.File
	if e.Line > 0 {
		loc = fmt.Sprintf("%s:%d", e.File, e.Line)
	}
	if loc == "" {
		return msg
	}
	return loc + ": " + msg
}

// Unwrap exposes the taxonomy error.
func (e *CompileError) Unwrap() error {
	return &ir.ConfigurationError{Code: e.Code, Message: e.Message}
}

// formatCUEError extracts the first positioned error from a CUE error list.
func formatCUEError(err error) error {
	if err == nil {
		return nil
	}

	errs := errors.Errors(err)
	if len(errs) == 0 {
		return err
	}

	first := errs[0]
	positions := errors.Positions(first)
	if len(positions) > 0 {
		return &CompileError{
			Code:    ir.ErrCodeBadDeclaration,
			Field:   "cue",
			Message: first.Error(),
			Pos:     positions[0],
		}
	}

	return &CompileError{Code: ir.ErrCodeBadDeclaration, Field: "cue", Message: first.Error()}
}
