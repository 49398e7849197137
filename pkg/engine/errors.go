package engine

import (
	"errors"
	"fmt"

	"github.com/converge-sh/converge/pkg/vars"
)

// ProbeError reports that an idempotency probe could not determine current
// state. The executor treats it conservatively: the action counts as
// unsatisfied and the apply proceeds.
type ProbeError struct {
	ActionID string
	Host     string
	Err      error
}

func (e *ProbeError) Error() string {
	return fmt.Sprintf("probe failed for action %s on host %s: %v", e.ActionID, e.Host, e.Err)
}

func (e *ProbeError) Unwrap() error { return e.Err }

// ApplyError reports a failed apply operation. Recorded per action; the
// play's failure policy decides whether the host's remaining actions run.
type ApplyError struct {
	ActionID string
	Host     string
	Err      error
}

func (e *ApplyError) Error() string {
	return fmt.Sprintf("apply failed for action %s on host %s: %v", e.ActionID, e.Host, e.Err)
}

func (e *ApplyError) Unwrap() error { return e.Err }

// HandlerError reports a failed handler apply. Already-applied actions are
// never rolled back; the engine converges forward.
type HandlerError struct {
	Handler string
	Host    string
	Err     error
}

func (e *HandlerError) Error() string {
	return fmt.Sprintf("handler %s failed on host %s: %v", e.Handler, e.Host, e.Err)
}

func (e *HandlerError) Unwrap() error { return e.Err }

// IsUnresolvedVariable reports whether err stems from variable resolution.
func IsUnresolvedVariable(err error) bool {
	var unresolved *vars.UnresolvedVariableError
	return errors.As(err, &unresolved)
}

// IsApplyFailure reports whether err is an apply failure.
func IsApplyFailure(err error) bool {
	var applyErr *ApplyError
	return errors.As(err, &applyErr)
}
