package domain

// Transition names a lifecycle step. Each one is logged as an
// "experiment_<transition>" event.
type Transition string

const (
	TransitionCreate   Transition = "created"
	TransitionActivate Transition = "activated"
	TransitionComplete Transition = "completed"
	TransitionStop     Transition = "stopped"
	TransitionDelete   Transition = "deleted"
)

// statusDeleted is never persisted: a deleted experiment has no row.
const statusDeleted ExperimentStatus = ""

var transitions = map[ExperimentStatus]map[Transition]ExperimentStatus{
	StatusDraft: {
		TransitionActivate: StatusRunning,
		TransitionDelete:   statusDeleted,
	},
	StatusRunning: {
		TransitionComplete: StatusCompleted,
		TransitionStop:     StatusStopped,
	},
}

// NextStatus applies t to current. For TransitionDelete the returned status is
// empty.
func NextStatus(experimentID string, current ExperimentStatus, t Transition) (ExperimentStatus, error) {
	next, ok := transitions[current][t]
	if !ok {
		return "", &InvalidStateTransitionError{ExperimentID: experimentID, From: current, Transition: t}
	}
	return next, nil
}

// EventType returns the event type logged for the transition.
func (t Transition) EventType() EventType {
	return EventType("experiment_" + string(t))
}
