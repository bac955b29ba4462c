package synth

import (
	"errors"
	"fmt"
)

// UnavailableError reports that a synthesizer could not produce a usable
// response: transport failure, timeout, or unparseable output. Callers treat
// it as retryable.
type UnavailableError struct {
	Provider string
	Cause    error
}

func (e *UnavailableError) Error() string {
	if e.Cause == nil {
		return fmt.Sprintf("synthesizer %s unavailable", e.Provider)
	}
	return fmt.Sprintf("synthesizer %s unavailable: %v", e.Provider, e.Cause)
}

func (e *UnavailableError) Unwrap() error {
	return e.Cause
}

// IsUnavailable reports whether err is a synthesizer availability failure.
func IsUnavailable(err error) bool {
	var ue *UnavailableError
	return errors.As(err, &ue)
}
