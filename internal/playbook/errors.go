package playbook

import (
	"errors"
	"fmt"

	cueerrors "cuelang.org/go/cue/errors"
	"cuelang.org/go/cue/token"
)

// CompileError represents a template compilation error with source position.
type CompileError struct {
	Field   string
	Message string
	Pos     token.Pos
}

func (e *CompileError) Error() string {
	if e.Pos.IsValid() {
		return fmt.Sprintf("%s:%d:%d: %s: %s",
			e.Pos.Filename(), e.Pos.Line(), e.Pos.Column(),
			e.Field, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// IsCompileError returns true if the error is a template compile error.
// Uses errors.As to handle wrapped errors.
func IsCompileError(err error) bool {
	var ce *CompileError
	return errors.As(err, &ce)
}

// formatCUEError extracts position info from CUE errors.
func formatCUEError(err error) error {
	if err == nil {
		return nil
	}

	// CUE errors may contain multiple errors
	errs := cueerrors.Errors(err)
	if len(errs) == 0 {
		return err
	}

	// Return first error with position info
	firstErr := errs[0]
	positions := cueerrors.Positions(firstErr)
	if len(positions) > 0 {
		return &CompileError{
			Field:   "cue",
			Message: firstErr.Error(),
			Pos:     positions[0],
		}
	}

	return err
}

// PayloadError reports a step payload that does not satisfy its step's
// declared schema. Payload errors are synchronous validation failures,
// surfaced to the caller and never retried.
type PayloadError struct {
	StepID  string
	Field   string
	Message string
}

func (e *PayloadError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("invalid payload for step %q: field %q: %s", e.StepID, e.Field, e.Message)
	}
	return fmt.Sprintf("invalid payload for step %q: %s", e.StepID, e.Message)
}

// IsPayloadError returns true if the error is a payload validation error.
// Uses errors.As to handle wrapped errors.
func IsPayloadError(err error) bool {
	var pe *PayloadError
	return errors.As(err, &pe)
}
