package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/emiliopalmerini/abassign/internal/domain"
)

const experimentColumns = `id, name, description, status, strategy, stop_reason, version, created_at, activated_at, completed_at`

const variantColumns = `id, experiment_id, name, model_reference, traffic_allocation, position, created_at`

type ExperimentRepository struct {
	pool *pgxpool.Pool
}

func NewExperimentRepository(pool *pgxpool.Pool) *ExperimentRepository {
	return &ExperimentRepository{pool: pool}
}

func (r *ExperimentRepository) Create(ctx context.Context, e *domain.Experiment) error {
	return pgx.BeginFunc(ctx, r.pool, func(tx pgx.Tx) error {
		_, err := tx.Exec(ctx, `
			INSERT INTO experiments (`+experimentColumns+`)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		`, e.ID, e.Name, e.Description, string(e.Status), string(e.Strategy), e.StopReason, e.Version, e.CreatedAt, e.ActivatedAt, e.CompletedAt)
		if err != nil {
			if isUniqueViolation(err) {
				return &domain.ValidationError{Field: "name", Reason: fmt.Sprintf("experiment %q already exists", e.Name)}
			}
			return wrap("create experiment", err)
		}
		for _, v := range e.Variants {
			if err := insertVariant(ctx, tx, v); err != nil {
				return err
			}
		}
		return nil
	})
}

func (r *ExperimentRepository) GetByID(ctx context.Context, id string) (*domain.Experiment, error) {
	return r.getOne(ctx, `SELECT `+experimentColumns+` FROM experiments WHERE id = $1`, id)
}

func (r *ExperimentRepository) GetByName(ctx context.Context, name string) (*domain.Experiment, error) {
	return r.getOne(ctx, `SELECT `+experimentColumns+` FROM experiments WHERE name = $1`, name)
}

func (r *ExperimentRepository) getOne(ctx context.Context, query string, arg string) (*domain.Experiment, error) {
	e, err := scanExperiment(r.pool.QueryRow(ctx, query, arg))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, wrap("get experiment", err)
	}
	if e.Variants, err = r.listVariants(ctx, e.ID); err != nil {
		return nil, err
	}
	return e, nil
}

func (r *ExperimentRepository) List(ctx context.Context, status *domain.ExperimentStatus) ([]*domain.Experiment, error) {
	query := `SELECT ` + experimentColumns + ` FROM experiments`
	var args []any
	if status != nil {
		query += ` WHERE status = $1`
		args = append(args, string(*status))
	}
	query += ` ORDER BY created_at DESC, id`

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, wrap("list experiments", err)
	}
	experiments, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (*domain.Experiment, error) {
		return scanExperiment(row)
	})
	if err != nil {
		return nil, wrap("list experiments", err)
	}

	for _, e := range experiments {
		if e.Variants, err = r.listVariants(ctx, e.ID); err != nil {
			return nil, err
		}
	}
	return experiments, nil
}

func (r *ExperimentRepository) listVariants(ctx context.Context, experimentID string) ([]*domain.Variant, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+variantColumns+` FROM variants
		WHERE experiment_id = $1
		ORDER BY position, id
	`, experimentID)
	if err != nil {
		return nil, wrap("list variants", err)
	}
	variants, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (*domain.Variant, error) {
		var v domain.Variant
		err := row.Scan(&v.ID, &v.ExperimentID, &v.Name, &v.ModelReference, &v.TrafficAllocation, &v.Position, &v.CreatedAt)
		return &v, err
	})
	if err != nil {
		return nil, wrap("list variants", err)
	}
	return variants, nil
}

func (r *ExperimentRepository) AddVariant(ctx context.Context, v *domain.Variant) (bool, error) {
	return r.inDraft(ctx, v.ExperimentID, func(tx pgx.Tx) error {
		if err := tx.QueryRow(ctx, `
			SELECT COALESCE(MAX(position), -1) + 1 FROM variants WHERE experiment_id = $1
		`, v.ExperimentID).Scan(&v.Position); err != nil {
			return wrap("compute variant position", err)
		}
		return insertVariant(ctx, tx, v)
	})
}

func (r *ExperimentRepository) UpdateVariant(ctx context.Context, v *domain.Variant) (bool, error) {
	return r.inDraft(ctx, v.ExperimentID, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx, `
			UPDATE variants SET name = $1, model_reference = $2, traffic_allocation = $3
			WHERE id = $4 AND experiment_id = $5
		`, v.Name, v.ModelReference, v.TrafficAllocation, v.ID, v.ExperimentID)
		if err != nil {
			if isUniqueViolation(err) {
				return &domain.ValidationError{Field: "name", Reason: fmt.Sprintf("variant %q already exists", v.Name)}
			}
			return wrap("update variant", err)
		}
		if tag.RowsAffected() == 0 {
			return domain.ErrNotFound
		}
		return nil
	})
}

func (r *ExperimentRepository) DeleteVariant(ctx context.Context, experimentID, variantID string) (bool, error) {
	return r.inDraft(ctx, experimentID, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx, `DELETE FROM variants WHERE id = $1 AND experiment_id = $2`, variantID, experimentID)
		if err != nil {
			return wrap("delete variant", err)
		}
		if tag.RowsAffected() == 0 {
			return domain.ErrNotFound
		}
		return nil
	})
}

// inDraft runs fn in a transaction after bumping the version of a DRAFT
// experiment. The UPDATE takes a row lock, so concurrent activations wait for
// the variant change and then fail their version check.
func (r *ExperimentRepository) inDraft(ctx context.Context, experimentID string, fn func(tx pgx.Tx) error) (bool, error) {
	var locked bool
	err := pgx.BeginFunc(ctx, r.pool, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx, `
			UPDATE experiments SET version = version + 1
			WHERE id = $1 AND status = $2
		`, experimentID, string(domain.StatusDraft))
		if err != nil {
			return wrap("lock experiment", err)
		}
		if tag.RowsAffected() == 0 {
			return nil
		}
		if err := fn(tx); err != nil {
			return err
		}
		locked = true
		return nil
	})
	if err != nil {
		return false, err
	}
	return locked, nil
}

func (r *ExperimentRepository) Transition(ctx context.Context, e *domain.Experiment, from domain.ExperimentStatus) (bool, error) {
	tag, err := r.pool.Exec(ctx, `
		UPDATE experiments
		SET status = $1, stop_reason = $2, activated_at = $3, completed_at = $4, version = version + 1
		WHERE id = $5 AND status = $6 AND version = $7
	`, string(e.Status), e.StopReason, e.ActivatedAt, e.CompletedAt, e.ID, string(from), e.Version)
	if err != nil {
		return false, wrap("transition experiment", err)
	}
	if tag.RowsAffected() == 0 {
		return false, nil
	}
	e.Version++
	return true, nil
}

func (r *ExperimentRepository) Delete(ctx context.Context, id string, version int64) (bool, error) {
	tag, err := r.pool.Exec(ctx, `
		DELETE FROM experiments WHERE id = $1 AND status = $2 AND version = $3
	`, id, string(domain.StatusDraft), version)
	if err != nil {
		return false, wrap("delete experiment", err)
	}
	return tag.RowsAffected() == 1, nil
}

func insertVariant(ctx context.Context, tx pgx.Tx, v *domain.Variant) error {
	_, err := tx.Exec(ctx, `
		INSERT INTO variants (`+variantColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, v.ID, v.ExperimentID, v.Name, v.ModelReference, v.TrafficAllocation, v.Position, v.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return &domain.ValidationError{Field: "name", Reason: fmt.Sprintf("variant %q already exists", v.Name)}
		}
		return wrap("insert variant", err)
	}
	return nil
}

func scanExperiment(row pgx.Row) (*domain.Experiment, error) {
	var (
		e                domain.Experiment
		status, strategy string
	)
	err := row.Scan(&e.ID, &e.Name, &e.Description, &status, &strategy, &e.StopReason, &e.Version, &e.CreatedAt, &e.ActivatedAt, &e.CompletedAt)
	if err != nil {
		return nil, err
	}
	e.Status = domain.ExperimentStatus(status)
	e.Strategy = domain.Strategy(strategy)
	return &e, nil
}
