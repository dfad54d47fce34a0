// Package assignment keeps the durable (experiment, user) -> variant mapping.
// A user is resolved once per experiment and the stored answer is reused
// forever after.
package assignment

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/hashicorp/golang-lru/v2/expirable"
	"golang.org/x/sync/singleflight"

	"github.com/emiliopalmerini/abassign/internal/adapters/logging"
	"github.com/emiliopalmerini/abassign/internal/domain"
	"github.com/emiliopalmerini/abassign/internal/ports"
	"github.com/emiliopalmerini/abassign/internal/retry"
)

// Options configures a Store. A zero CacheSize disables the cache. Cached
// assignments live for CacheTTL, which bounds how long an erasure made by
// another instance can go unnoticed by GetOrCreate.
type Options struct {
	CacheSize int
	CacheTTL  time.Duration
	Retry     retry.Policy
	Logger    ports.Logger
}

type cacheKey struct {
	experimentID string
	userID       string
}

func (k cacheKey) String() string {
	return k.experimentID + "\x00" + k.userID
}

type createResult struct {
	assignment *domain.Assignment
	created    bool
	// leader identifies the caller whose function ran, so only that caller
	// reports created when the result is shared.
	leader string
}

// Store wraps an AssignmentRepository with per-key creation, retries on the
// read path and an optional cache in front of GetOrCreate. The repository's
// uniqueness constraint remains the source of truth.
type Store struct {
	repo   ports.AssignmentRepository
	cache  *expirable.LRU[cacheKey, *domain.Assignment]
	group  singleflight.Group
	retry  retry.Policy
	logger ports.Logger
	now    func() time.Time
}

func NewStore(repo ports.AssignmentRepository, opts Options) (*Store, error) {
	if opts.Logger == nil {
		opts.Logger = logging.NewNop()
	}
	if opts.Retry == (retry.Policy{}) {
		opts.Retry = retry.DefaultPolicy
	}
	if opts.CacheSize < 0 {
		return nil, fmt.Errorf("assignment cache size must not be negative, got %d", opts.CacheSize)
	}
	if opts.CacheTTL <= 0 {
		opts.CacheTTL = 10 * time.Second
	}

	s := &Store{
		repo:   repo,
		retry:  opts.Retry,
		logger: opts.Logger,
		now:    func() time.Time { return time.Now().UTC() },
	}
	if opts.CacheSize > 0 {
		s.cache = expirable.NewLRU[cacheKey, *domain.Assignment](opts.CacheSize, nil, opts.CacheTTL)
	}
	return s, nil
}

// Get returns the stored assignment, or nil when the user has none. It always
// reads the repository.
func (s *Store) Get(ctx context.Context, experimentID, userID string) (*domain.Assignment, error) {
	return retry.Get(ctx, s.retry, func() (*domain.Assignment, error) {
		return s.repo.Get(ctx, experimentID, userID)
	})
}

// GetOrCreate returns the user's assignment for exp, resolving and storing a
// new one on first sight. created is true only for the call that wrote the
// row. The repository refuses new rows once exp has left RUNNING, even when
// exp itself is stale; that surfaces as domain.ErrExperimentNotRunning.
func (s *Store) GetOrCreate(ctx context.Context, exp *domain.Experiment, userID string) (*domain.Assignment, bool, error) {
	key := cacheKey{exp.ID, userID}
	if a, ok := s.cached(key); ok {
		return a, false, nil
	}

	existing, err := s.Get(ctx, exp.ID, userID)
	if err != nil {
		return nil, false, err
	}
	if existing != nil {
		s.remember(key, existing)
		return existing, false, nil
	}

	token := uuid.NewString()
	// The shared work runs detached from this caller's cancellation: other
	// callers may be waiting on it, and a committed insert must not be
	// reported as failed.
	detached := context.WithoutCancel(ctx)
	ch := s.group.DoChan(key.String(), func() (any, error) {
		a, created, err := s.create(detached, exp, userID)
		return createResult{assignment: a, created: created, leader: token}, err
	})

	select {
	case res := <-ch:
		if res.Err != nil {
			return nil, false, res.Err
		}
		r := res.Val.(createResult)
		return r.assignment, r.created && r.leader == token, nil
	case <-ctx.Done():
		return nil, false, ctx.Err()
	}
}

func (s *Store) create(ctx context.Context, exp *domain.Experiment, userID string) (*domain.Assignment, bool, error) {
	variant, bucket, err := domain.Resolve(exp, userID)
	if err != nil {
		return nil, false, err
	}

	a := &domain.Assignment{
		ExperimentID: exp.ID,
		UserID:       userID,
		VariantID:    variant.ID,
		Bucket:       bucket,
		AssignedAt:   s.now(),
	}
	inserted, err := s.repo.Insert(ctx, a)
	if err != nil {
		return nil, false, fmt.Errorf("failed to store assignment: %w", err)
	}

	key := cacheKey{exp.ID, userID}
	if inserted {
		s.remember(key, a)
		return a, true, nil
	}

	// Either another writer got there first and its row wins, or the
	// experiment stopped accepting assignments.
	winner, err := retry.Get(ctx, s.retry, func() (*domain.Assignment, error) {
		return s.repo.Get(ctx, exp.ID, userID)
	})
	if err != nil {
		return nil, false, fmt.Errorf("failed to read conflicting assignment: %w", err)
	}
	if winner == nil {
		return nil, false, fmt.Errorf("experiment %s no longer accepts assignments: %w", exp.ID, domain.ErrExperimentNotRunning)
	}
	if winner.VariantID != a.VariantID {
		s.logger.Warn("stored assignment differs from resolver",
			"experiment_id", exp.ID,
			"user_id", userID,
			"stored_variant", winner.VariantID,
			"resolved_variant", a.VariantID,
		)
	}
	s.remember(key, winner)
	return winner, false, nil
}

// EraseForUser deletes every assignment of userID and evicts them from the
// cache.
func (s *Store) EraseForUser(ctx context.Context, userID string) (int64, error) {
	s.forget(userID)
	n, err := s.repo.DeleteByUser(ctx, userID)
	if err != nil {
		return 0, fmt.Errorf("failed to erase assignments: %w", err)
	}
	s.forget(userID)
	return n, nil
}

// CountByVariant reports how many users each variant of an experiment holds.
func (s *Store) CountByVariant(ctx context.Context, experimentID string) (map[string]int64, error) {
	return retry.Get(ctx, s.retry, func() (map[string]int64, error) {
		return s.repo.CountByVariant(ctx, experimentID)
	})
}

func (s *Store) cached(key cacheKey) (*domain.Assignment, bool) {
	if s.cache == nil {
		return nil, false
	}
	return s.cache.Get(key)
}

func (s *Store) remember(key cacheKey, a *domain.Assignment) {
	if s.cache != nil {
		s.cache.Add(key, a)
	}
}

func (s *Store) forget(userID string) {
	if s.cache == nil {
		return
	}
	for _, key := range s.cache.Keys() {
		if key.userID == userID {
			s.cache.Remove(key)
		}
	}
}
