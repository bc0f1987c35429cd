package identity

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound     = errors.New("identity: not found")
	ErrConflict     = errors.New("identity: conflict")
	ErrInvalidInput = errors.New("identity: invalid input")

	// ErrOutOfScope hides rows outside the caller's tenant envelope.
	// It unwraps to ErrNotFound so callers get a plain not-found, but
	// the request layer can tell the two apart and log the denial.
	ErrOutOfScope = fmt.Errorf("%w: outside tenant scope", ErrNotFound)
)
