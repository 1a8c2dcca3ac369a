package domain

import (
	"errors"
	"fmt"
)

var (
	ErrPersonaNotFound = errors.New("persona not found")
	ErrPersonaInactive = errors.New("persona inactive")
)

// ValidationError is returned for malformed input before any side effect.
type ValidationError struct {
	Field  string
	Reason string
}

func (e ValidationError) Error() string {
	if e.Field == "" {
		return "invalid input: " + e.Reason
	}
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

// InvalidTransitionError reports a state change not permitted from the current state.
type InvalidTransitionError struct {
	Entity string
	ID     string
	From   string
	Action string
}

func (e InvalidTransitionError) Error() string {
	return fmt.Sprintf("invalid %s transition: cannot %s %s %s in status %s", e.Entity, e.Action, e.Entity, e.ID, e.From)
}

// PersonaError ties a persona resolution failure to the slug that caused it.
type PersonaError struct {
	Slug string
	Err  error
}

func (e PersonaError) Error() string {
	return fmt.Sprintf("%s: %s", e.Err, e.Slug)
}

func (e PersonaError) Unwrap() error { return e.Err }

// ScheduleError is a ScheduleComputationError: the expression cannot produce a next run.
type ScheduleError struct {
	Expr string
	Err  error
}

func (e ScheduleError) Error() string {
	return fmt.Sprintf("schedule %q: %v", e.Expr, e.Err)
}

func (e ScheduleError) Unwrap() error { return e.Err }

// IsPersonaUnavailable reports whether err is a persona resolution failure.
func IsPersonaUnavailable(err error) bool {
	return errors.Is(err, ErrPersonaNotFound) || errors.Is(err, ErrPersonaInactive)
}
