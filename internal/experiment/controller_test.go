package experiment

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/emiliopalmerini/abassign/internal/adapters/turso"
	"github.com/emiliopalmerini/abassign/internal/domain"
	"github.com/emiliopalmerini/abassign/internal/migrate"
	"github.com/emiliopalmerini/abassign/internal/ports"
)

type sink struct {
	mu     sync.Mutex
	events []*domain.Event
}

func (s *sink) Record(_ context.Context, e *domain.Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, e)
}

func (s *sink) types() []domain.EventType {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]domain.EventType, len(s.events))
	for i, e := range s.events {
		out[i] = e.Type
	}
	return out
}

func newController(t *testing.T, opts Options) (*Controller, *sink, ports.ExperimentRepository) {
	t.Helper()
	db, err := turso.NewDB(turso.Options{Driver: turso.DriverSQLite, URL: ":memory:"})
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	require.NoError(t, migrate.RunAll(context.Background(), db.DB))

	repo := turso.NewExperimentRepository(db.DB)
	events := &sink{}
	return NewController(repo, events, opts), events, repo
}

func abInput(name string, a, b float64) CreateInput {
	return CreateInput{
		Name: name,
		Variants: []VariantInput{
			{Name: "A", ModelReference: "ranker-v1", TrafficAllocation: a},
			{Name: "B", ModelReference: "ranker-v2", TrafficAllocation: b},
		},
	}
}

func TestController_CreateAndActivate(t *testing.T) {
	c, events, _ := newController(t, Options{})
	ctx := context.Background()

	exp, err := c.Create(ctx, abInput("timeline-ranking", 50, 50))
	require.NoError(t, err)
	assert.Equal(t, domain.StatusDraft, exp.Status)
	assert.Equal(t, domain.StrategyXXH3, exp.Strategy)
	require.Len(t, exp.Variants, 2)

	running, err := c.Activate(ctx, exp.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusRunning, running.Status)
	require.NotNil(t, running.ActivatedAt)
	assert.Nil(t, running.CompletedAt)

	stored, err := c.Get(ctx, exp.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusRunning, stored.Status)

	assert.Equal(t, []domain.EventType{"experiment_created", "experiment_activated"}, events.types())
}

func TestController_CreateValidation(t *testing.T) {
	c, _, _ := newController(t, Options{})
	ctx := context.Background()

	_, err := c.Create(ctx, abInput("dup", 50, 50))
	require.NoError(t, err)

	tests := []struct {
		name  string
		in    CreateInput
		field string
	}{
		{"duplicate name", abInput("dup", 50, 50), "name"},
		{"empty name", abInput("  ", 50, 50), "name"},
		{"unknown strategy", CreateInput{Name: "s", Strategy: "md5"}, "strategy"},
		{"allocation over 100", abInput("over", 50, 150), "traffic_allocation"},
		{"zero allocation", abInput("zero", 0, 100), "traffic_allocation"},
		{"duplicate variant", CreateInput{Name: "dv", Variants: []VariantInput{
			{Name: "A", ModelReference: "m", TrafficAllocation: 50},
			{Name: "A", ModelReference: "m", TrafficAllocation: 50},
		}}, "name"},
		{"missing model reference", CreateInput{Name: "mr", Variants: []VariantInput{{Name: "A", TrafficAllocation: 100}}}, "model_reference"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := c.Create(ctx, tt.in)
			var verr *domain.ValidationError
			require.ErrorAs(t, err, &verr)
			assert.Equal(t, tt.field, verr.Field)
		})
	}
}

func TestController_ActivationGuards(t *testing.T) {
	c, _, _ := newController(t, Options{})
	ctx := context.Background()

	short, err := c.Create(ctx, abInput("sums-to-95", 45, 50))
	require.NoError(t, err)
	_, err = c.Activate(ctx, short.ID)
	var verr *domain.ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, "traffic_allocation", verr.Field)

	empty, err := c.Create(ctx, CreateInput{Name: "no-variants"})
	require.NoError(t, err)
	_, err = c.Activate(ctx, empty.ID)
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, "variants", verr.Field)

	drift, err := c.Create(ctx, abInput("drift", 50, 50.0000001))
	require.NoError(t, err)
	_, err = c.Activate(ctx, drift.ID)
	require.NoError(t, err)

	stored, err := c.Get(ctx, short.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusDraft, stored.Status, "failed activation leaves the experiment in DRAFT")
}

func TestController_VariantEditsInDraft(t *testing.T) {
	c, _, _ := newController(t, Options{})
	ctx := context.Background()

	exp, err := c.Create(ctx, CreateInput{Name: "edits"})
	require.NoError(t, err)

	a, err := c.AddVariant(ctx, exp.ID, VariantInput{Name: "A", ModelReference: "m1", TrafficAllocation: 30})
	require.NoError(t, err)
	b, err := c.AddVariant(ctx, exp.ID, VariantInput{Name: "B", ModelReference: "m2", TrafficAllocation: 60})
	require.NoError(t, err)
	assert.Equal(t, 0, a.Position)
	assert.Equal(t, 1, b.Position)

	_, err = c.AddVariant(ctx, exp.ID, VariantInput{Name: "A", ModelReference: "m3", TrafficAllocation: 10})
	var verr *domain.ValidationError
	require.ErrorAs(t, err, &verr)

	_, err = c.UpdateAllocation(ctx, exp.ID, b.ID, 70)
	require.NoError(t, err)

	_, err = c.UpdateAllocation(ctx, exp.ID, b.ID, -1)
	require.ErrorAs(t, err, &verr)

	_, err = c.UpdateAllocation(ctx, exp.ID, "missing", 10)
	assert.ErrorIs(t, err, domain.ErrNotFound)

	extra, err := c.AddVariant(ctx, exp.ID, VariantInput{Name: "C", ModelReference: "m3", TrafficAllocation: 5})
	require.NoError(t, err)
	require.NoError(t, c.RemoveVariant(ctx, exp.ID, extra.ID))

	running, err := c.Activate(ctx, exp.ID)
	require.NoError(t, err)
	assert.InDelta(t, 100, running.AllocationTotal(), domain.AllocationEpsilon)
}

func TestController_FrozenConfiguration(t *testing.T) {
	c, _, _ := newController(t, Options{})
	ctx := context.Background()

	exp, err := c.Create(ctx, abInput("frozen", 50, 50))
	require.NoError(t, err)
	_, err = c.Activate(ctx, exp.ID)
	require.NoError(t, err)

	var imm *domain.ImmutableConfigurationError

	_, err = c.AddVariant(ctx, exp.ID, VariantInput{Name: "C", ModelReference: "m", TrafficAllocation: 10})
	require.ErrorAs(t, err, &imm)
	assert.Equal(t, domain.StatusRunning, imm.Status)

	_, err = c.UpdateAllocation(ctx, exp.ID, exp.Variants[0].ID, 60)
	require.ErrorAs(t, err, &imm)

	err = c.RemoveVariant(ctx, exp.ID, exp.Variants[0].ID)
	require.ErrorAs(t, err, &imm)

	stored, err := c.Get(ctx, exp.ID)
	require.NoError(t, err)
	assert.Equal(t, 50.0, stored.Variants[0].TrafficAllocation)
	assert.Len(t, stored.Variants, 2)
}

func TestController_Transitions(t *testing.T) {
	c, events, _ := newController(t, Options{})
	ctx := context.Background()

	exp, err := c.Create(ctx, abInput("lifecycle", 50, 50))
	require.NoError(t, err)

	var terr *domain.InvalidStateTransitionError
	_, err = c.Complete(ctx, exp.ID)
	require.ErrorAs(t, err, &terr)
	assert.Equal(t, domain.StatusDraft, terr.From)

	_, err = c.Activate(ctx, exp.ID)
	require.NoError(t, err)

	err = c.Delete(ctx, exp.ID)
	require.ErrorAs(t, err, &terr)

	stopped, err := c.Stop(ctx, exp.ID, "guardrail breach")
	require.NoError(t, err)
	assert.Equal(t, domain.StatusStopped, stopped.Status)
	require.NotNil(t, stopped.StopReason)
	assert.Equal(t, "guardrail breach", *stopped.StopReason)
	require.NotNil(t, stopped.CompletedAt)

	_, err = c.Activate(ctx, exp.ID)
	require.ErrorAs(t, err, &terr)
	_, err = c.Complete(ctx, exp.ID)
	require.ErrorAs(t, err, &terr)
	assert.Equal(t, domain.StatusStopped, terr.From)

	assert.Equal(t, []domain.EventType{"experiment_created", "experiment_activated", "experiment_stopped"}, events.types())
	last := events.events[2]
	assert.Equal(t, "guardrail breach", last.Payload["reason"])
	assert.Equal(t, "RUNNING", last.Payload["from"])
}

func TestController_CompleteSetsCompletedAt(t *testing.T) {
	c, _, _ := newController(t, Options{})
	ctx := context.Background()

	exp, err := c.Create(ctx, abInput("complete", 50, 50))
	require.NoError(t, err)
	_, err = c.Activate(ctx, exp.ID)
	require.NoError(t, err)

	done, err := c.Complete(ctx, exp.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusCompleted, done.Status)
	require.NotNil(t, done.CompletedAt)
	assert.Nil(t, done.StopReason)
}

func TestController_DeleteDraft(t *testing.T) {
	c, events, _ := newController(t, Options{})
	ctx := context.Background()

	exp, err := c.Create(ctx, abInput("scratch", 50, 50))
	require.NoError(t, err)
	require.NoError(t, c.Delete(ctx, exp.ID))

	_, err = c.Get(ctx, exp.ID)
	assert.ErrorIs(t, err, domain.ErrNotFound)
	assert.Contains(t, events.types(), domain.EventType("experiment_deleted"))

	err = c.Delete(ctx, exp.ID)
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestController_ConcurrentActivationsSerialize(t *testing.T) {
	c, events, _ := newController(t, Options{})
	ctx := context.Background()

	exp, err := c.Create(ctx, abInput("race", 50, 50))
	require.NoError(t, err)

	const operators = 8
	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		successes int
	)
	for range operators {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := c.Activate(ctx, exp.ID)
			mu.Lock()
			defer mu.Unlock()
			if err == nil {
				successes++
				return
			}
			var terr *domain.InvalidStateTransitionError
			assert.ErrorAs(t, err, &terr)
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, successes)
	activations := 0
	for _, et := range events.types() {
		if et == domain.TransitionActivate.EventType() {
			activations++
		}
	}
	assert.Equal(t, 1, activations)
}

func TestController_StaleActivationAfterVariantEdit(t *testing.T) {
	c, _, repo := newController(t, Options{})
	ctx := context.Background()

	exp, err := c.Create(ctx, abInput("stale", 50, 50))
	require.NoError(t, err)

	stale, err := repo.GetByID(ctx, exp.ID)
	require.NoError(t, err)

	_, err = c.UpdateAllocation(ctx, exp.ID, exp.Variants[0].ID, 40)
	require.NoError(t, err)

	// An activation validated against the old variant set must not apply.
	stale.Status = domain.StatusRunning
	ok, err := repo.Transition(ctx, stale, domain.StatusDraft)
	require.NoError(t, err)
	assert.False(t, ok)

	_, err = c.Activate(ctx, exp.ID)
	var verr *domain.ValidationError
	assert.ErrorAs(t, err, &verr)
}

func TestController_LookupCachesFrozenOnly(t *testing.T) {
	c, _, _ := newController(t, Options{CacheSize: 8, CacheTTL: time.Minute})
	ctx := context.Background()

	exp, err := c.Create(ctx, abInput("cached", 50, 50))
	require.NoError(t, err)

	draft, err := c.Lookup(ctx, exp.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusDraft, draft.Status)
	_, cached := c.cache.Get(exp.ID)
	assert.False(t, cached)

	_, err = c.Activate(ctx, exp.ID)
	require.NoError(t, err)
	running, err := c.Lookup(ctx, exp.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusRunning, running.Status)
	_, cached = c.cache.Get(exp.ID)
	assert.True(t, cached)

	_, err = c.Complete(ctx, exp.ID)
	require.NoError(t, err)
	done, err := c.Lookup(ctx, exp.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusCompleted, done.Status, "transitions invalidate the cache")
}

func TestController_LookupByName(t *testing.T) {
	c, _, _ := newController(t, Options{CacheSize: 8, CacheTTL: time.Minute})
	ctx := context.Background()

	exp, err := c.Create(ctx, abInput("by-name", 50, 50))
	require.NoError(t, err)
	_, err = c.Activate(ctx, exp.ID)
	require.NoError(t, err)

	running, err := c.Lookup(ctx, "by-name")
	require.NoError(t, err)
	assert.Equal(t, exp.ID, running.ID)
	assert.Equal(t, domain.StatusRunning, running.Status)

	_, err = c.Stop(ctx, exp.ID, "regression")
	require.NoError(t, err)
	stopped, err := c.Lookup(ctx, "by-name")
	require.NoError(t, err)
	assert.Equal(t, domain.StatusStopped, stopped.Status, "invalidation covers name references")

	_, err = c.Lookup(ctx, "missing")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestController_LookupSharedReadOutlivesCancelledCaller(t *testing.T) {
	exp := &domain.Experiment{ID: "E1", Name: "shared", Status: domain.StatusRunning}
	started := make(chan struct{})
	release := make(chan struct{})
	var readErr error
	repo := &ports.MockExperimentRepository{
		GetByIDFunc: func(ctx context.Context, id string) (*domain.Experiment, error) {
			close(started)
			<-release
			readErr = ctx.Err()
			return exp, nil
		},
	}
	c := NewController(repo, &sink{}, Options{CacheSize: 8, CacheTTL: time.Minute})

	ctx, cancel := context.WithCancel(context.Background())
	errc := make(chan error, 1)
	go func() {
		_, err := c.Lookup(ctx, "E1")
		errc <- err
	}()

	<-started
	cancel()
	assert.ErrorIs(t, <-errc, context.Canceled)
	close(release)

	got, err := c.Lookup(context.Background(), "E1")
	require.NoError(t, err)
	assert.Equal(t, "E1", got.ID)
	assert.NoError(t, readErr, "the shared read must not see the caller's cancellation")
}

func TestController_FindByNameOrID(t *testing.T) {
	c, _, _ := newController(t, Options{})
	ctx := context.Background()

	exp, err := c.Create(ctx, abInput("findme", 50, 50))
	require.NoError(t, err)

	byID, err := c.Find(ctx, exp.ID)
	require.NoError(t, err)
	byName, err := c.Find(ctx, "findme")
	require.NoError(t, err)
	assert.Equal(t, byID.ID, byName.ID)

	_, err = c.Find(ctx, "nope")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestController_ListByStatus(t *testing.T) {
	c, _, _ := newController(t, Options{})
	ctx := context.Background()

	a, err := c.Create(ctx, abInput("one", 50, 50))
	require.NoError(t, err)
	_, err = c.Create(ctx, abInput("two", 50, 50))
	require.NoError(t, err)
	_, err = c.Activate(ctx, a.ID)
	require.NoError(t, err)

	running := domain.StatusRunning
	list, err := c.List(ctx, &running)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, a.ID, list[0].ID)

	all, err := c.List(ctx, nil)
	require.NoError(t, err)
	assert.Len(t, all, 2)
}
