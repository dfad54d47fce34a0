package postgres

import (
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/emiliopalmerini/abassign/internal/ports"
)

// Repositories groups the PostgreSQL implementations of the storage ports.
type Repositories struct {
	Experiments ports.ExperimentRepository
	Assignments ports.AssignmentRepository
	Events      ports.EventRepository
}

func NewRepositories(pool *pgxpool.Pool) *Repositories {
	return &Repositories{
		Experiments: NewExperimentRepository(pool),
		Assignments: NewAssignmentRepository(pool),
		Events:      NewEventRepository(pool),
	}
}
