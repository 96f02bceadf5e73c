package commands

import (
	"errors"
	"fmt"

	"github.com/amoebalabs/docguard/pkg/config"
	"github.com/amoebalabs/docguard/pkg/engine"
)

// Exit codes.
const (
	ExitOK            = 0
	ExitRejected      = 1
	ExitConfiguration = 2
)

// ExitError carries the process exit code for a command outcome. Err is nil
// when the outcome was already reported, such as a failed verdict.
type ExitError struct {
	Code int
	Err  error
}

func (e *ExitError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("exit status %d", e.Code)
	}
	return e.Err.Error()
}

func (e *ExitError) Unwrap() error {
	return e.Err
}

// errRejected reports a failed verdict or a gate rejection.
var errRejected = &ExitError{Code: ExitRejected}

func usageError(err error) error {
	return &ExitError{Code: ExitConfiguration, Err: err}
}

// classify maps a command error to an *ExitError.
func classify(err error) error {
	if err == nil {
		return nil
	}

	var exitErr *ExitError
	if errors.As(err, &exitErr) {
		return err
	}

	var loadErr *config.LoadError
	if engine.IsConfiguration(err) || engine.IsInput(err) || errors.As(err, &loadErr) {
		return &ExitError{Code: ExitConfiguration, Err: err}
	}
	return &ExitError{Code: ExitRejected, Err: err}
}
