package ports

import (
	"context"

	"github.com/emiliopalmerini/abassign/internal/domain"
)

// ExperimentRepository persists experiments and their variants. Getters return
// (nil, nil) when the row does not exist.
//
// Variant mutations and status changes are conditional: they report false
// instead of writing when the experiment is missing, no longer in DRAFT, or
// (for Transition and Delete) its version moved since it was read.
type ExperimentRepository interface {
	Create(ctx context.Context, experiment *domain.Experiment) error
	GetByID(ctx context.Context, id string) (*domain.Experiment, error)
	GetByName(ctx context.Context, name string) (*domain.Experiment, error)
	List(ctx context.Context, status *domain.ExperimentStatus) ([]*domain.Experiment, error)

	AddVariant(ctx context.Context, variant *domain.Variant) (bool, error)
	UpdateVariant(ctx context.Context, variant *domain.Variant) (bool, error)
	DeleteVariant(ctx context.Context, experimentID, variantID string) (bool, error)

	// Transition writes the lifecycle fields of experiment if the stored row
	// still has status from and the experiment's Version.
	Transition(ctx context.Context, experiment *domain.Experiment, from domain.ExperimentStatus) (bool, error)
	Delete(ctx context.Context, id string, version int64) (bool, error)
}
