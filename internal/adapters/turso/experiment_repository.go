package turso

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/emiliopalmerini/abassign/internal/domain"
	"github.com/emiliopalmerini/abassign/internal/util"
)

const experimentColumns = `id, name, description, status, strategy, stop_reason, version, created_at, activated_at, completed_at`

const variantColumns = `id, experiment_id, name, model_reference, traffic_allocation, position, created_at`

type ExperimentRepository struct {
	db *sql.DB
}

func NewExperimentRepository(db *sql.DB) *ExperimentRepository {
	return &ExperimentRepository{db: db}
}

func (r *ExperimentRepository) Create(ctx context.Context, experiment *domain.Experiment) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return wrap("begin transaction", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO experiments (`+experimentColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		experiment.ID,
		experiment.Name,
		util.NullStringPtr(experiment.Description),
		string(experiment.Status),
		string(experiment.Strategy),
		util.NullStringPtr(experiment.StopReason),
		experiment.Version,
		util.FormatTime(experiment.CreatedAt),
		util.NullTimePtr(experiment.ActivatedAt),
		util.NullTimePtr(experiment.CompletedAt),
	)
	if err != nil {
		return wrap("create experiment", err)
	}

	for _, v := range experiment.Variants {
		if err := insertVariant(ctx, tx, v); err != nil {
			return err
		}
	}

	if err := tx.Commit(); err != nil {
		return wrap("commit experiment", err)
	}
	return nil
}

func (r *ExperimentRepository) GetByID(ctx context.Context, id string) (*domain.Experiment, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+experimentColumns+` FROM experiments WHERE id = ?`, id)
	return r.getOne(ctx, row, "get experiment")
}

func (r *ExperimentRepository) GetByName(ctx context.Context, name string) (*domain.Experiment, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+experimentColumns+` FROM experiments WHERE name = ?`, name)
	return r.getOne(ctx, row, "get experiment by name")
}

func (r *ExperimentRepository) getOne(ctx context.Context, row *sql.Row, op string) (*domain.Experiment, error) {
	experiment, err := scanExperiment(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, wrap(op, err)
	}

	variants, err := r.listVariants(ctx, experiment.ID)
	if err != nil {
		return nil, err
	}
	experiment.Variants = variants
	return experiment, nil
}

func (r *ExperimentRepository) List(ctx context.Context, status *domain.ExperimentStatus) ([]*domain.Experiment, error) {
	query := `SELECT ` + experimentColumns + ` FROM experiments`
	var args []any
	if status != nil {
		query += ` WHERE status = ?`
		args = append(args, string(*status))
	}
	query += ` ORDER BY created_at DESC, id`

	experiments, err := r.scanExperiments(ctx, query, args...)
	if err != nil {
		return nil, err
	}

	// Rows are drained before loading variants: a single-connection pool
	// cannot serve a second query while the first cursor is open.
	for _, e := range experiments {
		variants, err := r.listVariants(ctx, e.ID)
		if err != nil {
			return nil, err
		}
		e.Variants = variants
	}
	return experiments, nil
}

func (r *ExperimentRepository) scanExperiments(ctx context.Context, query string, args ...any) ([]*domain.Experiment, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, wrap("list experiments", err)
	}
	defer rows.Close()

	var experiments []*domain.Experiment
	for rows.Next() {
		e, err := scanExperiment(rows)
		if err != nil {
			return nil, wrap("scan experiment", err)
		}
		experiments = append(experiments, e)
	}
	if err := rows.Err(); err != nil {
		return nil, wrap("list experiments", err)
	}
	return experiments, nil
}

func (r *ExperimentRepository) listVariants(ctx context.Context, experimentID string) ([]*domain.Variant, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT `+variantColumns+` FROM variants
		WHERE experiment_id = ?
		ORDER BY position, id
	`, experimentID)
	if err != nil {
		return nil, wrap("list variants", err)
	}
	defer rows.Close()

	var variants []*domain.Variant
	for rows.Next() {
		var (
			v         domain.Variant
			createdAt string
		)
		if err := rows.Scan(&v.ID, &v.ExperimentID, &v.Name, &v.ModelReference, &v.TrafficAllocation, &v.Position, &createdAt); err != nil {
			return nil, wrap("scan variant", err)
		}
		if v.CreatedAt, err = util.ParseTime(createdAt); err != nil {
			return nil, fmt.Errorf("failed to parse variant created_at: %w", err)
		}
		variants = append(variants, &v)
	}
	if err := rows.Err(); err != nil {
		return nil, wrap("list variants", err)
	}
	return variants, nil
}

// lockDraft bumps the version of a DRAFT experiment inside tx. It reports
// false when the experiment is missing or frozen. The bump also invalidates
// any in-flight compare-and-set made against the previous variant set.
func lockDraft(ctx context.Context, tx *sql.Tx, experimentID string) (bool, error) {
	res, err := tx.ExecContext(ctx, `
		UPDATE experiments SET version = version + 1
		WHERE id = ? AND status = ?
	`, experimentID, string(domain.StatusDraft))
	if err != nil {
		return false, wrap("lock experiment", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, wrap("lock experiment", err)
	}
	return n == 1, nil
}

func (r *ExperimentRepository) AddVariant(ctx context.Context, variant *domain.Variant) (bool, error) {
	return r.inDraft(ctx, variant.ExperimentID, func(tx *sql.Tx) error {
		var next int
		if err := tx.QueryRowContext(ctx, `
			SELECT COALESCE(MAX(position), -1) + 1 FROM variants WHERE experiment_id = ?
		`, variant.ExperimentID).Scan(&next); err != nil {
			return wrap("compute variant position", err)
		}
		variant.Position = next
		return insertVariant(ctx, tx, variant)
	})
}

func (r *ExperimentRepository) UpdateVariant(ctx context.Context, variant *domain.Variant) (bool, error) {
	return r.inDraft(ctx, variant.ExperimentID, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `
			UPDATE variants SET name = ?, model_reference = ?, traffic_allocation = ?
			WHERE id = ? AND experiment_id = ?
		`, variant.Name, variant.ModelReference, variant.TrafficAllocation, variant.ID, variant.ExperimentID)
		if err != nil {
			return wrap("update variant", err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return domain.ErrNotFound
		}
		return nil
	})
}

func (r *ExperimentRepository) DeleteVariant(ctx context.Context, experimentID, variantID string) (bool, error) {
	return r.inDraft(ctx, experimentID, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `DELETE FROM variants WHERE id = ? AND experiment_id = ?`, variantID, experimentID)
		if err != nil {
			return wrap("delete variant", err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return domain.ErrNotFound
		}
		return nil
	})
}

func (r *ExperimentRepository) inDraft(ctx context.Context, experimentID string, fn func(tx *sql.Tx) error) (bool, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return false, wrap("begin transaction", err)
	}
	defer tx.Rollback()

	ok, err := lockDraft(ctx, tx, experimentID)
	if err != nil || !ok {
		return false, err
	}
	if err := fn(tx); err != nil {
		return false, err
	}
	if err := tx.Commit(); err != nil {
		return false, wrap("commit variant change", err)
	}
	return true, nil
}

func (r *ExperimentRepository) Transition(ctx context.Context, experiment *domain.Experiment, from domain.ExperimentStatus) (bool, error) {
	res, err := r.db.ExecContext(ctx, `
		UPDATE experiments
		SET status = ?, stop_reason = ?, activated_at = ?, completed_at = ?, version = version + 1
		WHERE id = ? AND status = ? AND version = ?
	`,
		string(experiment.Status),
		util.NullStringPtr(experiment.StopReason),
		util.NullTimePtr(experiment.ActivatedAt),
		util.NullTimePtr(experiment.CompletedAt),
		experiment.ID,
		string(from),
		experiment.Version,
	)
	if err != nil {
		return false, wrap("transition experiment", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, wrap("transition experiment", err)
	}
	if n == 0 {
		return false, nil
	}
	experiment.Version++
	return true, nil
}

func (r *ExperimentRepository) Delete(ctx context.Context, id string, version int64) (bool, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return false, wrap("begin transaction", err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, `
		DELETE FROM experiments WHERE id = ? AND status = ? AND version = ?
	`, id, string(domain.StatusDraft), version)
	if err != nil {
		return false, wrap("delete experiment", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return false, nil
	}
	// Remote libsql connections do not enable foreign keys, so the cascade
	// is spelled out.
	if _, err := tx.ExecContext(ctx, `DELETE FROM variants WHERE experiment_id = ?`, id); err != nil {
		return false, wrap("delete variants", err)
	}
	if err := tx.Commit(); err != nil {
		return false, wrap("commit experiment delete", err)
	}
	return true, nil
}

func insertVariant(ctx context.Context, tx *sql.Tx, v *domain.Variant) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO variants (`+variantColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, v.ID, v.ExperimentID, v.Name, v.ModelReference, v.TrafficAllocation, v.Position, util.FormatTime(v.CreatedAt))
	if err != nil {
		if isUniqueViolation(err) {
			return &domain.ValidationError{Field: "name", Reason: fmt.Sprintf("variant %q already exists", v.Name)}
		}
		return wrap("insert variant", err)
	}
	return nil
}

func isUniqueViolation(err error) bool {
	return strings.Contains(err.Error(), "UNIQUE constraint failed")
}

type scanner interface {
	Scan(dest ...any) error
}

func scanExperiment(s scanner) (*domain.Experiment, error) {
	var (
		e                        domain.Experiment
		status, strategy         string
		description, stopReason  sql.NullString
		createdAt                string
		activatedAt, completedAt sql.NullString
	)
	if err := s.Scan(&e.ID, &e.Name, &description, &status, &strategy, &stopReason, &e.Version, &createdAt, &activatedAt, &completedAt); err != nil {
		return nil, err
	}

	e.Status = domain.ExperimentStatus(status)
	e.Strategy = domain.Strategy(strategy)
	e.Description = util.NullStringToPtr(description)
	e.StopReason = util.NullStringToPtr(stopReason)

	var err error
	if e.CreatedAt, err = util.ParseTime(createdAt); err != nil {
		return nil, fmt.Errorf("failed to parse created_at: %w", err)
	}
	if e.ActivatedAt, err = util.NullStringToTimePtr(activatedAt); err != nil {
		return nil, fmt.Errorf("failed to parse activated_at: %w", err)
	}
	if e.CompletedAt, err = util.NullStringToTimePtr(completedAt); err != nil {
		return nil, fmt.Errorf("failed to parse completed_at: %w", err)
	}
	return &e, nil
}
