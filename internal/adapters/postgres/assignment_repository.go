package postgres

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/emiliopalmerini/abassign/internal/domain"
)

type AssignmentRepository struct {
	pool *pgxpool.Pool
}

func NewAssignmentRepository(pool *pgxpool.Pool) *AssignmentRepository {
	return &AssignmentRepository{pool: pool}
}

func (r *AssignmentRepository) Get(ctx context.Context, experimentID, userID string) (*domain.Assignment, error) {
	var a domain.Assignment
	err := r.pool.QueryRow(ctx, `
		SELECT experiment_id, user_id, variant_id, bucket, assigned_at
		FROM assignments
		WHERE experiment_id = $1 AND user_id = $2
	`, experimentID, userID).Scan(&a.ExperimentID, &a.UserID, &a.VariantID, &a.Bucket, &a.AssignedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, wrap("get assignment", err)
	}
	return &a, nil
}

func (r *AssignmentRepository) Insert(ctx context.Context, a *domain.Assignment) (bool, error) {
	tag, err := r.pool.Exec(ctx, `
		INSERT INTO assignments (experiment_id, user_id, variant_id, bucket, assigned_at)
		SELECT $1::text, $2::text, $3::text, $4::double precision, $5::timestamptz
		WHERE EXISTS (SELECT 1 FROM experiments WHERE id = $1::text AND status = 'RUNNING')
		ON CONFLICT (experiment_id, user_id) DO NOTHING
	`, a.ExperimentID, a.UserID, a.VariantID, a.Bucket, a.AssignedAt)
	if err != nil {
		return false, wrap("insert assignment", err)
	}
	return tag.RowsAffected() == 1, nil
}

func (r *AssignmentRepository) CountByVariant(ctx context.Context, experimentID string) (map[string]int64, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT variant_id, COUNT(*) FROM assignments
		WHERE experiment_id = $1
		GROUP BY variant_id
	`, experimentID)
	if err != nil {
		return nil, wrap("count assignments", err)
	}
	defer rows.Close()

	counts := make(map[string]int64)
	for rows.Next() {
		var (
			variantID string
			n         int64
		)
		if err := rows.Scan(&variantID, &n); err != nil {
			return nil, wrap("scan assignment count", err)
		}
		counts[variantID] = n
	}
	if err := rows.Err(); err != nil {
		return nil, wrap("count assignments", err)
	}
	return counts, nil
}

func (r *AssignmentRepository) DeleteByUser(ctx context.Context, userID string) (int64, error) {
	tag, err := r.pool.Exec(ctx, `DELETE FROM assignments WHERE user_id = $1`, userID)
	if err != nil {
		return 0, wrap("delete assignments", err)
	}
	return tag.RowsAffected(), nil
}
