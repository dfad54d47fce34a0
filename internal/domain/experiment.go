package domain

import (
	"fmt"
	"math"
	"sort"
	"strings"
	"time"
)

// AllocationEpsilon is the tolerance applied when checking that variant
// allocations add up to 100.
const AllocationEpsilon = 1e-6

// ExperimentStatus is the lifecycle state of an experiment.
type ExperimentStatus string

const (
	StatusDraft     ExperimentStatus = "DRAFT"
	StatusRunning   ExperimentStatus = "RUNNING"
	StatusCompleted ExperimentStatus = "COMPLETED"
	StatusStopped   ExperimentStatus = "STOPPED"
)

// ParseExperimentStatus accepts any casing of a known status.
func ParseExperimentStatus(s string) (ExperimentStatus, error) {
	switch status := ExperimentStatus(strings.ToUpper(strings.TrimSpace(s))); status {
	case StatusDraft, StatusRunning, StatusCompleted, StatusStopped:
		return status, nil
	default:
		return "", &ValidationError{Field: "status", Reason: fmt.Sprintf("unknown status %q", s)}
	}
}

// Frozen reports whether the variant set can no longer change.
func (s ExperimentStatus) Frozen() bool {
	return s != StatusDraft
}

// Terminal reports whether no further transition is possible.
func (s ExperimentStatus) Terminal() bool {
	return s == StatusCompleted || s == StatusStopped
}

type Experiment struct {
	ID          string
	Name        string
	Description *string
	Status      ExperimentStatus
	Strategy    Strategy
	StopReason  *string
	Version     int64
	CreatedAt   time.Time
	ActivatedAt *time.Time
	CompletedAt *time.Time
	Variants    []*Variant
}

type Variant struct {
	ID                string
	ExperimentID      string
	Name              string
	ModelReference    string
	TrafficAllocation float64
	Position          int
	CreatedAt         time.Time
}

// OrderedVariants returns the variants in the order the resolver walks them:
// ascending position, ties broken by ascending ID.
func (e *Experiment) OrderedVariants() []*Variant {
	out := make([]*Variant, len(e.Variants))
	copy(out, e.Variants)
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Position != out[j].Position {
			return out[i].Position < out[j].Position
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// Variant looks up a variant by ID.
func (e *Experiment) Variant(id string) *Variant {
	for _, v := range e.Variants {
		if v.ID == id {
			return v
		}
	}
	return nil
}

// VariantByName looks up a variant by its name within the experiment.
func (e *Experiment) VariantByName(name string) *Variant {
	for _, v := range e.Variants {
		if v.Name == name {
			return v
		}
	}
	return nil
}

func (e *Experiment) AllocationTotal() float64 {
	var total float64
	for _, v := range e.Variants {
		total += v.TrafficAllocation
	}
	return total
}

// ValidateForActivation checks the guards of the DRAFT -> RUNNING transition.
func (e *Experiment) ValidateForActivation() error {
	if len(e.Variants) == 0 {
		return &ValidationError{Field: "variants", Reason: "experiment has no variants"}
	}
	for _, v := range e.Variants {
		if v.TrafficAllocation <= 0 {
			return &ValidationError{
				Field:  "traffic_allocation",
				Reason: fmt.Sprintf("variant %q has non-positive allocation %g", v.Name, v.TrafficAllocation),
			}
		}
	}
	if total := e.AllocationTotal(); math.Abs(total-100) > AllocationEpsilon {
		return &ValidationError{
			Field:  "traffic_allocation",
			Reason: fmt.Sprintf("allocations sum to %g, want 100", total),
		}
	}
	if !e.Strategy.Valid() {
		return &ValidationError{Field: "strategy", Reason: fmt.Sprintf("unknown strategy %q", e.Strategy)}
	}
	return nil
}

// ValidateAllocation checks a single allocation value is in (0, 100].
func ValidateAllocation(allocation float64) error {
	if math.IsNaN(allocation) || allocation <= 0 || allocation > 100 {
		return &ValidationError{
			Field:  "traffic_allocation",
			Reason: fmt.Sprintf("allocation %g must be in (0, 100]", allocation),
		}
	}
	return nil
}
