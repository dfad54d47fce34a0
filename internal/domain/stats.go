package domain

import "math"

// VariantStats holds the assignment count of a single variant.
type VariantStats struct {
	VariantID         string
	Name              string
	ModelReference    string
	TrafficAllocation float64
	Assignments       int64
}

// ExperimentStats holds per-variant assignment counts for an experiment, in
// resolver order.
type ExperimentStats struct {
	ExperimentID   string
	ExperimentName string
	Status         ExperimentStatus
	Variants       []VariantStats
}

// Total is the number of assigned users.
func (s *ExperimentStats) Total() int64 {
	var total int64
	for _, v := range s.Variants {
		total += v.Assignments
	}
	return total
}

// Share returns the observed share of v in percent. Zero when nobody is
// assigned yet.
func (s *ExperimentStats) Share(v VariantStats) float64 {
	total := s.Total()
	if total == 0 {
		return 0
	}
	return 100 * float64(v.Assignments) / float64(total)
}

// Drift is the observed share minus the configured allocation, in percentage
// points.
func (s *ExperimentStats) Drift(v VariantStats) float64 {
	if s.Total() == 0 {
		return 0
	}
	return s.Share(v) - v.TrafficAllocation
}

// MaxDrift returns the largest absolute drift over all variants.
func (s *ExperimentStats) MaxDrift() float64 {
	var worst float64
	for _, v := range s.Variants {
		worst = math.Max(worst, math.Abs(s.Drift(v)))
	}
	return worst
}
