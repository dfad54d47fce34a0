// Package storetest holds the behavioural contract shared by every storage
// adapter. Adapter packages call Run from their own tests.
package storetest

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/emiliopalmerini/abassign/internal/domain"
	"github.com/emiliopalmerini/abassign/internal/ports"
)

// Stores bundles the repositories under test.
type Stores struct {
	Experiments ports.ExperimentRepository
	Assignments ports.AssignmentRepository
	Events      ports.EventRepository
}

// Run executes the contract against stores returned by open. open is called
// once per subtest.
func Run(t *testing.T, open func(t *testing.T) Stores) {
	t.Run("ExperimentRoundTrip", func(t *testing.T) { testExperimentRoundTrip(t, open(t)) })
	t.Run("MissingRowsReturnNil", func(t *testing.T) { testMissingRows(t, open(t)) })
	t.Run("ListFiltersByStatus", func(t *testing.T) { testListFilters(t, open(t)) })
	t.Run("VariantMutationsRequireDraft", func(t *testing.T) { testVariantMutations(t, open(t)) })
	t.Run("TransitionCompareAndSet", func(t *testing.T) { testTransitionCAS(t, open(t)) })
	t.Run("DeleteOnlyDraft", func(t *testing.T) { testDelete(t, open(t)) })
	t.Run("AssignmentInsertedOnce", func(t *testing.T) { testAssignmentInsertOnce(t, open(t)) })
	t.Run("AssignmentCountsAndErasure", func(t *testing.T) { testAssignmentCounts(t, open(t)) })
	t.Run("AssignmentRequiresRunningExperiment", func(t *testing.T) { testAssignmentRequiresRunning(t, open(t)) })
	t.Run("EventsAppendListErase", func(t *testing.T) { testEvents(t, open(t)) })
}

func now() time.Time {
	return time.Now().UTC().Truncate(time.Microsecond)
}

// NewExperiment builds a DRAFT experiment with the given allocations.
func NewExperiment(allocations ...float64) *domain.Experiment {
	id := uuid.NewString()
	e := &domain.Experiment{
		ID:        id,
		Name:      "exp-" + id[:8],
		Status:    domain.StatusDraft,
		Strategy:  domain.DefaultStrategy,
		CreatedAt: now(),
	}
	for i, a := range allocations {
		e.Variants = append(e.Variants, &domain.Variant{
			ID:                uuid.NewString(),
			ExperimentID:      id,
			Name:              fmt.Sprintf("v%d", i),
			ModelReference:    fmt.Sprintf("model-%d", i),
			TrafficAllocation: a,
			Position:          i,
			CreatedAt:         now(),
		})
	}
	return e
}

// StartExperiment stores a single-variant experiment and moves it to RUNNING.
func StartExperiment(t *testing.T, experiments ports.ExperimentRepository) *domain.Experiment {
	t.Helper()
	ctx := context.Background()
	e := NewExperiment(100)
	require.NoError(t, experiments.Create(ctx, e))

	activated := now()
	e.Status = domain.StatusRunning
	e.ActivatedAt = &activated
	ok, err := experiments.Transition(ctx, e, domain.StatusDraft)
	require.NoError(t, err)
	require.True(t, ok)
	return e
}

func testExperimentRoundTrip(t *testing.T, s Stores) {
	ctx := context.Background()
	desc := "ranking test"
	e := NewExperiment(30, 70)
	e.Description = &desc
	require.NoError(t, s.Experiments.Create(ctx, e))

	got, err := s.Experiments.GetByID(ctx, e.ID)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, e.Name, got.Name)
	assert.Equal(t, domain.StatusDraft, got.Status)
	assert.Equal(t, domain.StrategyXXH3, got.Strategy)
	require.NotNil(t, got.Description)
	assert.Equal(t, desc, *got.Description)
	assert.WithinDuration(t, e.CreatedAt, got.CreatedAt, time.Millisecond)
	assert.Nil(t, got.ActivatedAt)

	require.Len(t, got.Variants, 2)
	assert.Equal(t, "v0", got.Variants[0].Name)
	assert.Equal(t, 30.0, got.Variants[0].TrafficAllocation)
	assert.Equal(t, "model-1", got.Variants[1].ModelReference)
	assert.Equal(t, 1, got.Variants[1].Position)

	byName, err := s.Experiments.GetByName(ctx, e.Name)
	require.NoError(t, err)
	require.NotNil(t, byName)
	assert.Equal(t, e.ID, byName.ID)
}

func testMissingRows(t *testing.T, s Stores) {
	ctx := context.Background()

	e, err := s.Experiments.GetByID(ctx, uuid.NewString())
	require.NoError(t, err)
	assert.Nil(t, e)

	e, err = s.Experiments.GetByName(ctx, "no-such-experiment")
	require.NoError(t, err)
	assert.Nil(t, e)

	a, err := s.Assignments.Get(ctx, uuid.NewString(), "nobody")
	require.NoError(t, err)
	assert.Nil(t, a)
}

func testListFilters(t *testing.T, s Stores) {
	ctx := context.Background()
	draft := NewExperiment(100)
	running := NewExperiment(100)
	require.NoError(t, s.Experiments.Create(ctx, draft))
	require.NoError(t, s.Experiments.Create(ctx, running))

	activated := now()
	running.Status = domain.StatusRunning
	running.ActivatedAt = &activated
	ok, err := s.Experiments.Transition(ctx, running, domain.StatusDraft)
	require.NoError(t, err)
	require.True(t, ok)

	status := domain.StatusRunning
	list, err := s.Experiments.List(ctx, &status)
	require.NoError(t, err)
	ids := map[string]bool{}
	for _, e := range list {
		assert.Equal(t, domain.StatusRunning, e.Status)
		ids[e.ID] = true
	}
	assert.True(t, ids[running.ID])
	assert.False(t, ids[draft.ID])

	all, err := s.Experiments.List(ctx, nil)
	require.NoError(t, err)
	ids = map[string]bool{}
	for _, e := range all {
		ids[e.ID] = true
		if e.ID == draft.ID {
			assert.Len(t, e.Variants, 1)
		}
	}
	assert.True(t, ids[running.ID])
	assert.True(t, ids[draft.ID])
}

func testVariantMutations(t *testing.T, s Stores) {
	ctx := context.Background()
	e := NewExperiment()
	require.NoError(t, s.Experiments.Create(ctx, e))

	a := &domain.Variant{ID: uuid.NewString(), ExperimentID: e.ID, Name: "A", ModelReference: "m1", TrafficAllocation: 50, CreatedAt: now()}
	b := &domain.Variant{ID: uuid.NewString(), ExperimentID: e.ID, Name: "B", ModelReference: "m2", TrafficAllocation: 40, CreatedAt: now()}
	for _, v := range []*domain.Variant{a, b} {
		ok, err := s.Experiments.AddVariant(ctx, v)
		require.NoError(t, err)
		require.True(t, ok)
	}
	assert.Equal(t, 0, a.Position)
	assert.Equal(t, 1, b.Position)

	dup := &domain.Variant{ID: uuid.NewString(), ExperimentID: e.ID, Name: "A", ModelReference: "m3", TrafficAllocation: 10, CreatedAt: now()}
	_, err := s.Experiments.AddVariant(ctx, dup)
	var verr *domain.ValidationError
	require.ErrorAs(t, err, &verr)

	b.TrafficAllocation = 50
	ok, err := s.Experiments.UpdateVariant(ctx, b)
	require.NoError(t, err)
	require.True(t, ok)

	got, err := s.Experiments.GetByID(ctx, e.ID)
	require.NoError(t, err)
	require.Len(t, got.Variants, 2)
	assert.Equal(t, 50.0, got.Variants[1].TrafficAllocation)
	assert.Equal(t, e.Version+2+1, got.Version, "each variant change bumps the version")

	ok, err = s.Experiments.DeleteVariant(ctx, e.ID, a.ID)
	require.NoError(t, err)
	require.True(t, ok)

	_, err = s.Experiments.DeleteVariant(ctx, e.ID, a.ID)
	require.ErrorIs(t, err, domain.ErrNotFound)

	got, err = s.Experiments.GetByID(ctx, e.ID)
	require.NoError(t, err)
	got.Status = domain.StatusRunning
	ok, err = s.Experiments.Transition(ctx, got, domain.StatusDraft)
	require.NoError(t, err)
	require.True(t, ok)

	late := &domain.Variant{ID: uuid.NewString(), ExperimentID: e.ID, Name: "C", ModelReference: "m3", TrafficAllocation: 10, CreatedAt: now()}
	ok, err = s.Experiments.AddVariant(ctx, late)
	require.NoError(t, err)
	assert.False(t, ok)

	b.TrafficAllocation = 10
	ok, err = s.Experiments.UpdateVariant(ctx, b)
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = s.Experiments.DeleteVariant(ctx, e.ID, b.ID)
	require.NoError(t, err)
	assert.False(t, ok)

	got, err = s.Experiments.GetByID(ctx, e.ID)
	require.NoError(t, err)
	require.Len(t, got.Variants, 1)
	assert.Equal(t, 50.0, got.Variants[0].TrafficAllocation)
}

func testTransitionCAS(t *testing.T, s Stores) {
	ctx := context.Background()
	e := NewExperiment(100)
	require.NoError(t, s.Experiments.Create(ctx, e))

	stale, err := s.Experiments.GetByID(ctx, e.ID)
	require.NoError(t, err)

	activated := now()
	e.Status = domain.StatusRunning
	e.ActivatedAt = &activated
	ok, err := s.Experiments.Transition(ctx, e, domain.StatusDraft)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, int64(1), e.Version)

	stale.Status = domain.StatusRunning
	ok, err = s.Experiments.Transition(ctx, stale, domain.StatusDraft)
	require.NoError(t, err)
	assert.False(t, ok)

	reason := "guardrail breach"
	completed := now()
	e.Status = domain.StatusStopped
	e.StopReason = &reason
	e.CompletedAt = &completed
	ok, err = s.Experiments.Transition(ctx, e, domain.StatusRunning)
	require.NoError(t, err)
	require.True(t, ok)

	got, err := s.Experiments.GetByID(ctx, e.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusStopped, got.Status)
	assert.Equal(t, int64(2), got.Version)
	require.NotNil(t, got.StopReason)
	assert.Equal(t, reason, *got.StopReason)
	require.NotNil(t, got.ActivatedAt)
	require.NotNil(t, got.CompletedAt)
	assert.WithinDuration(t, completed, *got.CompletedAt, time.Millisecond)
}

func testDelete(t *testing.T, s Stores) {
	ctx := context.Background()
	e := NewExperiment(50, 50)
	require.NoError(t, s.Experiments.Create(ctx, e))

	ok, err := s.Experiments.Delete(ctx, e.ID, e.Version+7)
	require.NoError(t, err)
	assert.False(t, ok, "stale version must not delete")

	ok, err = s.Experiments.Delete(ctx, e.ID, e.Version)
	require.NoError(t, err)
	assert.True(t, ok)

	got, err := s.Experiments.GetByID(ctx, e.ID)
	require.NoError(t, err)
	assert.Nil(t, got)

	running := NewExperiment(100)
	require.NoError(t, s.Experiments.Create(ctx, running))
	running.Status = domain.StatusRunning
	ok, err = s.Experiments.Transition(ctx, running, domain.StatusDraft)
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = s.Experiments.Delete(ctx, running.ID, running.Version)
	require.NoError(t, err)
	assert.False(t, ok)
}

func testAssignmentInsertOnce(t *testing.T, s Stores) {
	ctx := context.Background()
	expID := StartExperiment(t, s.Experiments).ID

	first := &domain.Assignment{ExperimentID: expID, UserID: "u1", VariantID: "A", Bucket: 12.345, AssignedAt: now()}
	ok, err := s.Assignments.Insert(ctx, first)
	require.NoError(t, err)
	require.True(t, ok)

	second := &domain.Assignment{ExperimentID: expID, UserID: "u1", VariantID: "B", Bucket: 99, AssignedAt: now()}
	ok, err = s.Assignments.Insert(ctx, second)
	require.NoError(t, err)
	assert.False(t, ok)

	got, err := s.Assignments.Get(ctx, expID, "u1")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "A", got.VariantID)
	assert.InDelta(t, 12.345, got.Bucket, 1e-9)
	assert.WithinDuration(t, first.AssignedAt, got.AssignedAt, time.Millisecond)
}

func testAssignmentCounts(t *testing.T, s Stores) {
	ctx := context.Background()
	expID := StartExperiment(t, s.Experiments).ID
	otherExp := StartExperiment(t, s.Experiments).ID
	user := "user-" + uuid.NewString()

	for i, variant := range []string{"A", "A", "B"} {
		_, err := s.Assignments.Insert(ctx, &domain.Assignment{ExperimentID: expID, UserID: fmt.Sprintf("u%d", i), VariantID: variant, AssignedAt: now()})
		require.NoError(t, err)
	}
	_, err := s.Assignments.Insert(ctx, &domain.Assignment{ExperimentID: expID, UserID: user, VariantID: "B", AssignedAt: now()})
	require.NoError(t, err)
	_, err = s.Assignments.Insert(ctx, &domain.Assignment{ExperimentID: otherExp, UserID: user, VariantID: "X", AssignedAt: now()})
	require.NoError(t, err)

	counts, err := s.Assignments.CountByVariant(ctx, expID)
	require.NoError(t, err)
	assert.Equal(t, map[string]int64{"A": 2, "B": 2}, counts)

	n, err := s.Assignments.DeleteByUser(ctx, user)
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	got, err := s.Assignments.Get(ctx, otherExp, user)
	require.NoError(t, err)
	assert.Nil(t, got)

	counts, err = s.Assignments.CountByVariant(ctx, expID)
	require.NoError(t, err)
	assert.Equal(t, map[string]int64{"A": 2, "B": 1}, counts)
}

func testAssignmentRequiresRunning(t *testing.T, s Stores) {
	ctx := context.Background()

	draft := NewExperiment(100)
	require.NoError(t, s.Experiments.Create(ctx, draft))
	ok, err := s.Assignments.Insert(ctx, &domain.Assignment{ExperimentID: draft.ID, UserID: "u1", VariantID: "A", AssignedAt: now()})
	require.NoError(t, err)
	assert.False(t, ok, "DRAFT experiments take no assignments")

	ok, err = s.Assignments.Insert(ctx, &domain.Assignment{ExperimentID: uuid.NewString(), UserID: "u1", VariantID: "A", AssignedAt: now()})
	require.NoError(t, err)
	assert.False(t, ok, "unknown experiments take no assignments")

	running := StartExperiment(t, s.Experiments)
	ok, err = s.Assignments.Insert(ctx, &domain.Assignment{ExperimentID: running.ID, UserID: "u1", VariantID: "A", AssignedAt: now()})
	require.NoError(t, err)
	require.True(t, ok)

	completed := now()
	running.Status = domain.StatusCompleted
	running.CompletedAt = &completed
	ok, err = s.Experiments.Transition(ctx, running, domain.StatusRunning)
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = s.Assignments.Insert(ctx, &domain.Assignment{ExperimentID: running.ID, UserID: "u2", VariantID: "A", AssignedAt: now()})
	require.NoError(t, err)
	assert.False(t, ok, "COMPLETED experiments take no new assignments")

	got, err := s.Assignments.Get(ctx, running.ID, "u1")
	require.NoError(t, err)
	assert.NotNil(t, got, "existing assignments survive completion")
	got, err = s.Assignments.Get(ctx, running.ID, "u2")
	require.NoError(t, err)
	assert.Nil(t, got)
}

func testEvents(t *testing.T, s Stores) {
	ctx := context.Background()
	expID := uuid.NewString()
	variant := "A"
	user := "user-" + uuid.NewString()
	other := "user-" + uuid.NewString()
	base := now()

	events := []*domain.Event{
		{ExperimentID: expID, Type: domain.TransitionActivate.EventType(), RecordedAt: base},
		{ExperimentID: expID, VariantID: &variant, UserID: &user, Type: domain.EventUserAssignment, RecordedAt: base.Add(time.Second)},
		{ExperimentID: expID, VariantID: &variant, UserID: &user, Type: domain.EventOutcome, Payload: map[string]any{"clicked": true, "dwell_ms": 1200}, RecordedAt: base.Add(2 * time.Second)},
		{ExperimentID: expID, VariantID: &variant, UserID: &other, Type: domain.EventOutcome, RecordedAt: base.Add(3 * time.Second)},
	}
	for _, e := range events {
		require.NoError(t, s.Events.Append(ctx, e))
		assert.NotEmpty(t, e.ID)
	}

	all, err := s.Events.ListByExperiment(ctx, expID, ports.EventFilter{})
	require.NoError(t, err)
	require.Len(t, all, 4)
	assert.Equal(t, domain.EventType("experiment_activated"), all[0].Type)
	assert.Nil(t, all[0].UserID)
	assert.Nil(t, all[0].VariantID)
	assert.Equal(t, map[string]any{"clicked": true, "dwell_ms": float64(1200)}, all[2].Payload)
	assert.Empty(t, all[3].Payload)

	outcome := domain.EventOutcome
	outcomes, err := s.Events.ListByExperiment(ctx, expID, ports.EventFilter{Type: &outcome, Limit: 1})
	require.NoError(t, err)
	require.Len(t, outcomes, 1)
	assert.Equal(t, user, *outcomes[0].UserID)

	n, err := s.Events.DeleteByUser(ctx, user)
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	remaining, err := s.Events.ListByExperiment(ctx, expID, ports.EventFilter{})
	require.NoError(t, err)
	require.Len(t, remaining, 2)
	for _, e := range remaining {
		if e.UserID != nil {
			assert.Equal(t, other, *e.UserID)
		}
	}
}
