package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExperiment_ValidateForActivation(t *testing.T) {
	tests := []struct {
		name      string
		allocs    []float64
		wantField string
	}{
		{"exact 100", []float64{50, 50}, ""},
		{"within epsilon", []float64{50, 50.0000001}, ""},
		{"thirds", []float64{33.3333333, 33.3333333, 33.3333334}, ""},
		{"sums to 95", []float64{45, 50}, "traffic_allocation"},
		{"sums over 100", []float64{60, 50}, "traffic_allocation"},
		{"no variants", nil, "variants"},
		{"zero allocation", []float64{0, 100}, "traffic_allocation"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			exp := &Experiment{ID: "E1", Status: StatusDraft, Strategy: StrategyXXH3}
			for i, a := range tt.allocs {
				exp.Variants = append(exp.Variants, &Variant{ID: string(rune('a' + i)), Name: string(rune('A' + i)), TrafficAllocation: a, Position: i})
			}

			err := exp.ValidateForActivation()
			if tt.wantField == "" {
				require.NoError(t, err)
				return
			}
			var verr *ValidationError
			require.ErrorAs(t, err, &verr)
			assert.Equal(t, tt.wantField, verr.Field)
		})
	}
}

func TestExperiment_OrderedVariants(t *testing.T) {
	exp := &Experiment{Variants: []*Variant{
		{ID: "z", Position: 1},
		{ID: "b", Position: 0},
		{ID: "a", Position: 1},
	}}

	ordered := exp.OrderedVariants()

	ids := []string{ordered[0].ID, ordered[1].ID, ordered[2].ID}
	assert.Equal(t, []string{"b", "a", "z"}, ids)
	assert.Equal(t, "z", exp.Variants[0].ID, "original slice must not be reordered")
}

func TestValidateAllocation(t *testing.T) {
	assert.NoError(t, ValidateAllocation(0.001))
	assert.NoError(t, ValidateAllocation(100))
	assert.Error(t, ValidateAllocation(0))
	assert.Error(t, ValidateAllocation(-5))
	assert.Error(t, ValidateAllocation(100.5))
}

func TestNextStatus(t *testing.T) {
	tests := []struct {
		from    ExperimentStatus
		t       Transition
		want    ExperimentStatus
		wantErr bool
	}{
		{StatusDraft, TransitionActivate, StatusRunning, false},
		{StatusDraft, TransitionDelete, "", false},
		{StatusDraft, TransitionComplete, "", true},
		{StatusDraft, TransitionStop, "", true},
		{StatusRunning, TransitionComplete, StatusCompleted, false},
		{StatusRunning, TransitionStop, StatusStopped, false},
		{StatusRunning, TransitionDelete, "", true},
		{StatusRunning, TransitionActivate, "", true},
		{StatusCompleted, TransitionActivate, "", true},
		{StatusCompleted, TransitionStop, "", true},
		{StatusCompleted, TransitionDelete, "", true},
		{StatusStopped, TransitionComplete, "", true},
		{StatusStopped, TransitionActivate, "", true},
	}

	for _, tt := range tests {
		t.Run(string(tt.from)+"/"+string(tt.t), func(t *testing.T) {
			got, err := NextStatus("E1", tt.from, tt.t)
			if tt.wantErr {
				var terr *InvalidStateTransitionError
				require.ErrorAs(t, err, &terr)
				assert.Equal(t, tt.from, terr.From)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestTransition_EventType(t *testing.T) {
	assert.Equal(t, EventType("experiment_activated"), TransitionActivate.EventType())
	assert.True(t, TransitionStop.EventType().Reserved())
	assert.True(t, EventUserAssignment.Reserved())
	assert.False(t, EventOutcome.Reserved())
	assert.False(t, EventRecommendationRequest.Reserved())
}

func TestParseExperimentStatus(t *testing.T) {
	s, err := ParseExperimentStatus("running")
	require.NoError(t, err)
	assert.Equal(t, StatusRunning, s)
	assert.True(t, s.Frozen())
	assert.False(t, s.Terminal())

	_, err = ParseExperimentStatus("paused")
	assert.Error(t, err)
}
