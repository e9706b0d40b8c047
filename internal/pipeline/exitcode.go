package pipeline

import (
	"errors"

	"github.com/jbweber/anvil/internal/loader"
	"github.com/jbweber/anvil/internal/resolver"
	"github.com/jbweber/anvil/internal/schema"
	"github.com/jbweber/anvil/internal/units"
)

// Process exit codes.
const (
	ExitOK        = 0
	ExitFailure   = 1
	ExitNotFound  = 6
	ExitAmbiguous = 7
	ExitInvalid   = 8
)

// ExitCode maps err to a process exit code. err may join the errors of
// several entries; the most specific code found wins, in the order
// invalid, ambiguous, not found, generic failure.
func ExitCode(err error) int {
	if err == nil {
		return ExitOK
	}

	var (
		validationErr *schema.ValidationError
		missingErr    *loader.MissingVariableError
		refErr        *loader.InvalidReferenceError
		unitErr       *units.ParseError
		ambiguousErr  *resolver.AmbiguousReferenceError
		notFoundErr   *resolver.NotFoundError
	)
	switch {
	case errors.As(err, &validationErr), errors.As(err, &missingErr), errors.As(err, &refErr), errors.As(err, &unitErr):
		return ExitInvalid
	case errors.As(err, &ambiguousErr):
		return ExitAmbiguous
	case errors.As(err, &notFoundErr):
		return ExitNotFound
	default:
		return ExitFailure
	}
}
