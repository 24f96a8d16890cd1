package plan

import (
	"errors"
	"fmt"
)

// Sentinel errors for caller-checkable conditions.
var (
	ErrNotFound   = errors.New("plan: not found")
	ErrValidation = errors.New("plan: invalid input")
	ErrConflict   = errors.New("plan: nothing changed")
	ErrNetwork    = errors.New("plan: request failed")
	ErrCycle      = errors.New("plan: would create a cycle")
	ErrMalformed  = errors.New("plan: malformed child list")
	ErrNoTree     = errors.New("plan: tree not initialized")
)

// ValidationError reports user input rejected before any request is sent.
type ValidationError struct {
	Token  string // offending input token, empty when the input as a whole is bad
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Token == "" {
		return "plan: " + e.Reason
	}
	return fmt.Sprintf("plan: %q %s", e.Token, e.Reason)
}

// Unwrap lets errors.Is(err, ErrValidation) match.
func (e *ValidationError) Unwrap() error {
	return ErrValidation
}

func invalid(token, reason string) error {
	return &ValidationError{Token: token, Reason: reason}
}

// IsInformational reports whether err describes a no-op rather than a failure.
func IsInformational(err error) bool {
	return errors.Is(err, ErrConflict)
}
