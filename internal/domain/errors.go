package domain

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound             = errors.New("not found")
	ErrExperimentNotRunning = errors.New("experiment is not running")
	ErrVariantMismatch      = errors.New("variant does not belong to experiment")
	// ErrConcurrentUpdate is returned when a compare-and-set on an experiment
	// lost against another writer.
	ErrConcurrentUpdate = errors.New("experiment was modified concurrently")
	// ErrTransient marks store errors that are safe to retry on read paths.
	// Adapters wrap driver errors with it.
	ErrTransient = errors.New("transient store error")
)

// ValidationError reports a bad experiment or variant configuration.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return "validation failed: " + e.Reason
	}
	return fmt.Sprintf("validation failed on %s: %s", e.Field, e.Reason)
}

// InvalidStateTransitionError reports a lifecycle transition that the state
// machine does not allow from the current status.
type InvalidStateTransitionError struct {
	ExperimentID string
	From         ExperimentStatus
	Transition   Transition
}

func (e *InvalidStateTransitionError) Error() string {
	return fmt.Sprintf("experiment %s: cannot apply %q from status %s", e.ExperimentID, e.Transition, e.From)
}

// ImmutableConfigurationError reports an attempt to change the variant set of
// an experiment that has left DRAFT.
type ImmutableConfigurationError struct {
	ExperimentID string
	Status       ExperimentStatus
	Operation    string
}

func (e *ImmutableConfigurationError) Error() string {
	return fmt.Sprintf("experiment %s is %s: %s not permitted", e.ExperimentID, e.Status, e.Operation)
}

// NoVariantsError is returned by the resolver when there is nothing to pick from.
type NoVariantsError struct {
	ExperimentID string
}

func (e *NoVariantsError) Error() string {
	return fmt.Sprintf("experiment %s has no variants", e.ExperimentID)
}

// IsTransient reports whether err is marked safe to retry.
func IsTransient(err error) bool {
	return errors.Is(err, ErrTransient)
}
