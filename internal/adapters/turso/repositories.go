package turso

import (
	"database/sql"

	"github.com/emiliopalmerini/abassign/internal/ports"
)

// Repositories groups the SQLite-family implementations of the storage ports.
type Repositories struct {
	Experiments ports.ExperimentRepository
	Assignments ports.AssignmentRepository
	Events      ports.EventRepository
}

func NewRepositories(db *sql.DB) *Repositories {
	return &Repositories{
		Experiments: NewExperimentRepository(db),
		Assignments: NewAssignmentRepository(db),
		Events:      NewEventRepository(db),
	}
}
