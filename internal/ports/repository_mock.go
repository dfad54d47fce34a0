package ports

import (
	"context"

	"github.com/emiliopalmerini/abassign/internal/domain"
)

// MockExperimentRepository is a function-field mock for tests. Unset fields
// behave like an empty store.
type MockExperimentRepository struct {
	CreateFunc        func(ctx context.Context, experiment *domain.Experiment) error
	GetByIDFunc       func(ctx context.Context, id string) (*domain.Experiment, error)
	GetByNameFunc     func(ctx context.Context, name string) (*domain.Experiment, error)
	ListFunc          func(ctx context.Context, status *domain.ExperimentStatus) ([]*domain.Experiment, error)
	AddVariantFunc    func(ctx context.Context, variant *domain.Variant) (bool, error)
	UpdateVariantFunc func(ctx context.Context, variant *domain.Variant) (bool, error)
	DeleteVariantFunc func(ctx context.Context, experimentID, variantID string) (bool, error)
	TransitionFunc    func(ctx context.Context, experiment *domain.Experiment, from domain.ExperimentStatus) (bool, error)
	DeleteFunc        func(ctx context.Context, id string, version int64) (bool, error)
}

func (m *MockExperimentRepository) Create(ctx context.Context, experiment *domain.Experiment) error {
	if m.CreateFunc != nil {
		return m.CreateFunc(ctx, experiment)
	}
	return nil
}

func (m *MockExperimentRepository) GetByID(ctx context.Context, id string) (*domain.Experiment, error) {
	if m.GetByIDFunc != nil {
		return m.GetByIDFunc(ctx, id)
	}
	return nil, nil
}

func (m *MockExperimentRepository) GetByName(ctx context.Context, name string) (*domain.Experiment, error) {
	if m.GetByNameFunc != nil {
		return m.GetByNameFunc(ctx, name)
	}
	return nil, nil
}

func (m *MockExperimentRepository) List(ctx context.Context, status *domain.ExperimentStatus) ([]*domain.Experiment, error) {
	if m.ListFunc != nil {
		return m.ListFunc(ctx, status)
	}
	return nil, nil
}

func (m *MockExperimentRepository) AddVariant(ctx context.Context, variant *domain.Variant) (bool, error) {
	if m.AddVariantFunc != nil {
		return m.AddVariantFunc(ctx, variant)
	}
	return false, nil
}

func (m *MockExperimentRepository) UpdateVariant(ctx context.Context, variant *domain.Variant) (bool, error) {
	if m.UpdateVariantFunc != nil {
		return m.UpdateVariantFunc(ctx, variant)
	}
	return false, nil
}

func (m *MockExperimentRepository) DeleteVariant(ctx context.Context, experimentID, variantID string) (bool, error) {
	if m.DeleteVariantFunc != nil {
		return m.DeleteVariantFunc(ctx, experimentID, variantID)
	}
	return false, nil
}

func (m *MockExperimentRepository) Transition(ctx context.Context, experiment *domain.Experiment, from domain.ExperimentStatus) (bool, error) {
	if m.TransitionFunc != nil {
		return m.TransitionFunc(ctx, experiment, from)
	}
	return false, nil
}

func (m *MockExperimentRepository) Delete(ctx context.Context, id string, version int64) (bool, error) {
	if m.DeleteFunc != nil {
		return m.DeleteFunc(ctx, id, version)
	}
	return false, nil
}

// MockAssignmentRepository is a function-field mock for tests.
type MockAssignmentRepository struct {
	GetFunc            func(ctx context.Context, experimentID, userID string) (*domain.Assignment, error)
	InsertFunc         func(ctx context.Context, assignment *domain.Assignment) (bool, error)
	CountByVariantFunc func(ctx context.Context, experimentID string) (map[string]int64, error)
	DeleteByUserFunc   func(ctx context.Context, userID string) (int64, error)
}

func (m *MockAssignmentRepository) Get(ctx context.Context, experimentID, userID string) (*domain.Assignment, error) {
	if m.GetFunc != nil {
		return m.GetFunc(ctx, experimentID, userID)
	}
	return nil, nil
}

func (m *MockAssignmentRepository) Insert(ctx context.Context, assignment *domain.Assignment) (bool, error) {
	if m.InsertFunc != nil {
		return m.InsertFunc(ctx, assignment)
	}
	return true, nil
}

func (m *MockAssignmentRepository) CountByVariant(ctx context.Context, experimentID string) (map[string]int64, error) {
	if m.CountByVariantFunc != nil {
		return m.CountByVariantFunc(ctx, experimentID)
	}
	return map[string]int64{}, nil
}

func (m *MockAssignmentRepository) DeleteByUser(ctx context.Context, userID string) (int64, error) {
	if m.DeleteByUserFunc != nil {
		return m.DeleteByUserFunc(ctx, userID)
	}
	return 0, nil
}

// MockEventRepository is a function-field mock for tests.
type MockEventRepository struct {
	AppendFunc           func(ctx context.Context, event *domain.Event) error
	ListByExperimentFunc func(ctx context.Context, experimentID string, filter EventFilter) ([]*domain.Event, error)
	DeleteByUserFunc     func(ctx context.Context, userID string) (int64, error)
}

func (m *MockEventRepository) Append(ctx context.Context, event *domain.Event) error {
	if m.AppendFunc != nil {
		return m.AppendFunc(ctx, event)
	}
	return nil
}

func (m *MockEventRepository) ListByExperiment(ctx context.Context, experimentID string, filter EventFilter) ([]*domain.Event, error) {
	if m.ListByExperimentFunc != nil {
		return m.ListByExperimentFunc(ctx, experimentID, filter)
	}
	return nil, nil
}

func (m *MockEventRepository) DeleteByUser(ctx context.Context, userID string) (int64, error) {
	if m.DeleteByUserFunc != nil {
		return m.DeleteByUserFunc(ctx, userID)
	}
	return 0, nil
}
