package domain

import "time"

// Assignment binds one user to one variant of one experiment. It is created
// once and never mutated.
type Assignment struct {
	ExperimentID string
	UserID       string
	VariantID    string
	Bucket       float64
	AssignedAt   time.Time
}
