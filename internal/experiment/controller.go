// Package experiment owns the experiment lifecycle: configuration while in
// DRAFT, the state machine, and the lifecycle event trail.
package experiment

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/hashicorp/golang-lru/v2/expirable"
	"golang.org/x/sync/singleflight"

	"github.com/emiliopalmerini/abassign/internal/adapters/logging"
	"github.com/emiliopalmerini/abassign/internal/domain"
	"github.com/emiliopalmerini/abassign/internal/ports"
	"github.com/emiliopalmerini/abassign/internal/retry"
	"github.com/emiliopalmerini/abassign/internal/util"
)

// EventSink receives lifecycle events. Delivery is best-effort.
type EventSink interface {
	Record(ctx context.Context, event *domain.Event)
}

// Options configures a Controller. A zero CacheSize disables the cache of
// frozen experiments.
type Options struct {
	CacheSize int
	CacheTTL  time.Duration
	Retry     retry.Policy
	Logger    ports.Logger
}

// VariantInput describes a variant to add.
type VariantInput struct {
	Name              string
	ModelReference    string
	TrafficAllocation float64
}

// VariantUpdate changes the non-nil fields of a variant.
type VariantUpdate struct {
	Name              *string
	ModelReference    *string
	TrafficAllocation *float64
}

// CreateInput describes a new experiment. Strategy defaults to xxh3.
type CreateInput struct {
	Name        string
	Description *string
	Strategy    string
	Variants    []VariantInput
}

type Controller struct {
	repo   ports.ExperimentRepository
	events EventSink
	logger ports.Logger
	retry  retry.Policy
	now    func() time.Time

	cache *expirable.LRU[string, *domain.Experiment]
	group singleflight.Group
}

func NewController(repo ports.ExperimentRepository, events EventSink, opts Options) *Controller {
	if opts.Logger == nil {
		opts.Logger = logging.NewNop()
	}
	if opts.Retry == (retry.Policy{}) {
		opts.Retry = retry.DefaultPolicy
	}
	if opts.CacheTTL <= 0 {
		opts.CacheTTL = 30 * time.Second
	}

	c := &Controller{
		repo:   repo,
		events: events,
		logger: opts.Logger,
		retry:  opts.Retry,
		now:    func() time.Time { return time.Now().UTC() },
	}
	if opts.CacheSize > 0 {
		c.cache = expirable.NewLRU[string, *domain.Experiment](opts.CacheSize, nil, opts.CacheTTL)
	}
	return c
}

func notFound(id string) error {
	return fmt.Errorf("experiment %s: %w", id, domain.ErrNotFound)
}

// Create stores a new DRAFT experiment.
func (c *Controller) Create(ctx context.Context, in CreateInput) (*domain.Experiment, error) {
	name := strings.TrimSpace(in.Name)
	if name == "" {
		return nil, &domain.ValidationError{Field: "name", Reason: "name is required"}
	}
	strategy, err := domain.ParseStrategy(in.Strategy)
	if err != nil {
		return nil, err
	}

	existing, err := c.GetByName(ctx, name)
	if err != nil && !errors.Is(err, domain.ErrNotFound) {
		return nil, err
	}
	if existing != nil {
		return nil, &domain.ValidationError{Field: "name", Reason: fmt.Sprintf("experiment %q already exists", name)}
	}

	now := c.now()
	exp := &domain.Experiment{
		ID:          uuid.NewString(),
		Name:        name,
		Description: in.Description,
		Status:      domain.StatusDraft,
		Strategy:    strategy,
		CreatedAt:   now,
	}
	for i, vin := range in.Variants {
		if err := validateVariantInput(vin); err != nil {
			return nil, err
		}
		if exp.VariantByName(vin.Name) != nil {
			return nil, duplicateVariant(vin.Name)
		}
		exp.Variants = append(exp.Variants, &domain.Variant{
			ID:                uuid.NewString(),
			ExperimentID:      exp.ID,
			Name:              vin.Name,
			ModelReference:    vin.ModelReference,
			TrafficAllocation: vin.TrafficAllocation,
			Position:          i,
			CreatedAt:         now,
		})
	}

	if err := c.repo.Create(ctx, exp); err != nil {
		return nil, err
	}

	c.logger.Info("experiment created", "experiment_id", exp.ID, "name", exp.Name, "variants", len(exp.Variants))
	c.record(ctx, exp, domain.TransitionCreate, map[string]any{"name": exp.Name, "strategy": string(exp.Strategy)})
	return exp, nil
}

// Get reads an experiment from the store, bypassing the cache.
func (c *Controller) Get(ctx context.Context, id string) (*domain.Experiment, error) {
	exp, err := retry.Get(ctx, c.retry, func() (*domain.Experiment, error) {
		return c.repo.GetByID(ctx, id)
	})
	if err != nil {
		return nil, err
	}
	if exp == nil {
		return nil, notFound(id)
	}
	return exp, nil
}

func (c *Controller) GetByName(ctx context.Context, name string) (*domain.Experiment, error) {
	exp, err := retry.Get(ctx, c.retry, func() (*domain.Experiment, error) {
		return c.repo.GetByName(ctx, name)
	})
	if err != nil {
		return nil, err
	}
	if exp == nil {
		return nil, fmt.Errorf("experiment %q: %w", name, domain.ErrNotFound)
	}
	return exp, nil
}

// Find resolves ref as an ID first, then as a name.
func (c *Controller) Find(ctx context.Context, ref string) (*domain.Experiment, error) {
	exp, err := c.Get(ctx, ref)
	if err == nil || !errors.Is(err, domain.ErrNotFound) {
		return exp, err
	}
	return c.GetByName(ctx, ref)
}

// List returns experiments, optionally filtered by status.
func (c *Controller) List(ctx context.Context, status *domain.ExperimentStatus) ([]*domain.Experiment, error) {
	return retry.Get(ctx, c.retry, func() ([]*domain.Experiment, error) {
		return c.repo.List(ctx, status)
	})
}

// Lookup serves the hot path and accepts an ID or a name, like Find. Frozen
// experiments are cached for the TTL and concurrent misses share one store
// read. The returned value is shared and must not be modified.
func (c *Controller) Lookup(ctx context.Context, ref string) (*domain.Experiment, error) {
	if c.cache != nil {
		if exp, ok := c.cache.Get(ref); ok {
			return exp, nil
		}
	}

	// The read is shared, so one caller giving up must not fail the others.
	detached := context.WithoutCancel(ctx)
	ch := c.group.DoChan(ref, func() (any, error) {
		exp, err := c.Find(detached, ref)
		if err != nil {
			return nil, err
		}
		// A DRAFT experiment can still change or be activated elsewhere.
		if c.cache != nil && exp.Status.Frozen() {
			c.cache.Add(ref, exp)
		}
		return exp, nil
	})

	select {
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(*domain.Experiment), nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Invalidate drops the experiment with the given ID from the cache, under
// whichever reference it was looked up.
func (c *Controller) Invalidate(id string) {
	if c.cache == nil {
		return
	}
	for _, ref := range c.cache.Keys() {
		if exp, ok := c.cache.Peek(ref); ok && exp.ID == id {
			c.cache.Remove(ref)
		}
	}
	c.cache.Remove(id)
}

// AddVariant appends a variant to a DRAFT experiment.
func (c *Controller) AddVariant(ctx context.Context, experimentID string, in VariantInput) (*domain.Variant, error) {
	if err := validateVariantInput(in); err != nil {
		return nil, err
	}
	exp, err := c.Get(ctx, experimentID)
	if err != nil {
		return nil, err
	}
	if exp.Status.Frozen() {
		return nil, immutable(exp, "add variant")
	}
	if exp.VariantByName(in.Name) != nil {
		return nil, duplicateVariant(in.Name)
	}

	v := &domain.Variant{
		ID:                uuid.NewString(),
		ExperimentID:      exp.ID,
		Name:              in.Name,
		ModelReference:    in.ModelReference,
		TrafficAllocation: in.TrafficAllocation,
		CreatedAt:         c.now(),
	}
	ok, err := c.repo.AddVariant(ctx, v)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, c.rejected(ctx, exp.ID, "add variant")
	}

	c.Invalidate(exp.ID)
	c.logger.Info("variant added", "experiment_id", exp.ID, "variant_id", v.ID, "name", v.Name, "allocation", v.TrafficAllocation)
	return v, nil
}

// UpdateVariant changes a variant of a DRAFT experiment.
func (c *Controller) UpdateVariant(ctx context.Context, experimentID, variantID string, upd VariantUpdate) (*domain.Variant, error) {
	exp, err := c.Get(ctx, experimentID)
	if err != nil {
		return nil, err
	}
	if exp.Status.Frozen() {
		return nil, immutable(exp, "update variant")
	}
	current := exp.Variant(variantID)
	if current == nil {
		return nil, fmt.Errorf("variant %s: %w", variantID, domain.ErrNotFound)
	}

	next := *current
	if upd.Name != nil {
		next.Name = *upd.Name
	}
	if upd.ModelReference != nil {
		next.ModelReference = *upd.ModelReference
	}
	if upd.TrafficAllocation != nil {
		next.TrafficAllocation = *upd.TrafficAllocation
	}
	if err := validateVariantInput(VariantInput{Name: next.Name, ModelReference: next.ModelReference, TrafficAllocation: next.TrafficAllocation}); err != nil {
		return nil, err
	}
	if other := exp.VariantByName(next.Name); other != nil && other.ID != next.ID {
		return nil, duplicateVariant(next.Name)
	}

	ok, err := c.repo.UpdateVariant(ctx, &next)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, c.rejected(ctx, exp.ID, "update variant")
	}

	c.Invalidate(exp.ID)
	c.logger.Info("variant updated", "experiment_id", exp.ID, "variant_id", next.ID, "allocation", next.TrafficAllocation)
	return &next, nil
}

// UpdateAllocation changes only the traffic allocation of a variant.
func (c *Controller) UpdateAllocation(ctx context.Context, experimentID, variantID string, allocation float64) (*domain.Variant, error) {
	return c.UpdateVariant(ctx, experimentID, variantID, VariantUpdate{TrafficAllocation: &allocation})
}

// RemoveVariant deletes a variant of a DRAFT experiment.
func (c *Controller) RemoveVariant(ctx context.Context, experimentID, variantID string) error {
	exp, err := c.Get(ctx, experimentID)
	if err != nil {
		return err
	}
	if exp.Status.Frozen() {
		return immutable(exp, "remove variant")
	}
	if exp.Variant(variantID) == nil {
		return fmt.Errorf("variant %s: %w", variantID, domain.ErrNotFound)
	}

	ok, err := c.repo.DeleteVariant(ctx, exp.ID, variantID)
	if err != nil {
		return err
	}
	if !ok {
		return c.rejected(ctx, exp.ID, "remove variant")
	}

	c.Invalidate(exp.ID)
	c.logger.Info("variant removed", "experiment_id", exp.ID, "variant_id", variantID)
	return nil
}

// rejected explains why a conditional variant write did not apply.
func (c *Controller) rejected(ctx context.Context, id, operation string) error {
	exp, err := c.Get(ctx, id)
	if err != nil {
		return err
	}
	if exp.Status.Frozen() {
		return immutable(exp, operation)
	}
	return fmt.Errorf("%s on experiment %s: %w", operation, id, domain.ErrConcurrentUpdate)
}

// Activate moves a valid DRAFT experiment to RUNNING.
func (c *Controller) Activate(ctx context.Context, id string) (*domain.Experiment, error) {
	return c.transition(ctx, id, domain.TransitionActivate, nil)
}

// Complete moves a RUNNING experiment to COMPLETED.
func (c *Controller) Complete(ctx context.Context, id string) (*domain.Experiment, error) {
	return c.transition(ctx, id, domain.TransitionComplete, nil)
}

// Stop moves a RUNNING experiment to STOPPED, recording reason.
func (c *Controller) Stop(ctx context.Context, id, reason string) (*domain.Experiment, error) {
	payload := map[string]any{}
	if reason != "" {
		payload["reason"] = reason
	}
	return c.transition(ctx, id, domain.TransitionStop, payload)
}

// Delete removes a DRAFT experiment and its variants.
func (c *Controller) Delete(ctx context.Context, id string) error {
	_, err := c.transition(ctx, id, domain.TransitionDelete, nil)
	return err
}

func (c *Controller) transition(ctx context.Context, id string, t domain.Transition, payload map[string]any) (*domain.Experiment, error) {
	exp, err := c.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	from := exp.Status
	next, err := domain.NextStatus(exp.ID, from, t)
	if err != nil {
		return nil, err
	}

	now := c.now()
	var ok bool
	switch t {
	case domain.TransitionDelete:
		ok, err = c.repo.Delete(ctx, exp.ID, exp.Version)
	default:
		if t == domain.TransitionActivate {
			if err := exp.ValidateForActivation(); err != nil {
				return nil, err
			}
			exp.ActivatedAt = &now
		}
		if next.Terminal() {
			exp.CompletedAt = &now
		}
		if t == domain.TransitionStop {
			reason, _ := payload["reason"].(string)
			exp.StopReason = util.StringPtr(reason)
		}
		exp.Status = next
		ok, err = c.repo.Transition(ctx, exp, from)
	}
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, c.lostRace(ctx, id, from, t)
	}

	c.Invalidate(exp.ID)
	c.logger.Info("experiment transitioned", "experiment_id", exp.ID, "transition", string(t), "from", string(from), "to", string(next))
	if payload == nil {
		payload = map[string]any{}
	}
	payload["from"] = string(from)
	c.record(ctx, exp, t, payload)
	return exp, nil
}

// lostRace reports why a compare-and-set did not apply: the experiment is
// gone, moved to another status, or only its version changed.
func (c *Controller) lostRace(ctx context.Context, id string, from domain.ExperimentStatus, t domain.Transition) error {
	current, err := c.Get(ctx, id)
	if err != nil {
		return err
	}
	if current.Status != from {
		return &domain.InvalidStateTransitionError{ExperimentID: id, From: current.Status, Transition: t}
	}
	return fmt.Errorf("%s experiment %s: %w", t, id, domain.ErrConcurrentUpdate)
}

func (c *Controller) record(ctx context.Context, exp *domain.Experiment, t domain.Transition, payload map[string]any) {
	if c.events == nil {
		return
	}
	c.events.Record(ctx, &domain.Event{
		ExperimentID: exp.ID,
		Type:         t.EventType(),
		Payload:      payload,
		RecordedAt:   c.now(),
	})
}

func validateVariantInput(in VariantInput) error {
	if strings.TrimSpace(in.Name) == "" {
		return &domain.ValidationError{Field: "name", Reason: "variant name is required"}
	}
	if strings.TrimSpace(in.ModelReference) == "" {
		return &domain.ValidationError{Field: "model_reference", Reason: fmt.Sprintf("variant %q needs a model reference", in.Name)}
	}
	return domain.ValidateAllocation(in.TrafficAllocation)
}

func duplicateVariant(name string) error {
	return &domain.ValidationError{Field: "name", Reason: fmt.Sprintf("variant %q already exists", name)}
}

func immutable(exp *domain.Experiment, operation string) error {
	return &domain.ImmutableConfigurationError{ExperimentID: exp.ID, Status: exp.Status, Operation: operation}
}
