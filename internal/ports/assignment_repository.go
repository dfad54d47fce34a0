package ports

import (
	"context"

	"github.com/emiliopalmerini/abassign/internal/domain"
)

type AssignmentRepository interface {
	Get(ctx context.Context, experimentID, userID string) (*domain.Assignment, error)
	// Insert stores the assignment unless one already exists for the key or
	// the experiment is no longer RUNNING. Both checks happen in the same
	// statement; either way it reports false and writes nothing.
	Insert(ctx context.Context, assignment *domain.Assignment) (bool, error)
	CountByVariant(ctx context.Context, experimentID string) (map[string]int64, error)
	DeleteByUser(ctx context.Context, userID string) (int64, error)
}
