package turso

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/emiliopalmerini/abassign/internal/domain"
	"github.com/emiliopalmerini/abassign/internal/util"
)

type AssignmentRepository struct {
	db *sql.DB
}

func NewAssignmentRepository(db *sql.DB) *AssignmentRepository {
	return &AssignmentRepository{db: db}
}

func (r *AssignmentRepository) Get(ctx context.Context, experimentID, userID string) (*domain.Assignment, error) {
	var (
		a          domain.Assignment
		assignedAt string
	)
	err := r.db.QueryRowContext(ctx, `
		SELECT experiment_id, user_id, variant_id, bucket, assigned_at
		FROM assignments
		WHERE experiment_id = ? AND user_id = ?
	`, experimentID, userID).Scan(&a.ExperimentID, &a.UserID, &a.VariantID, &a.Bucket, &assignedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, wrap("get assignment", err)
	}
	if a.AssignedAt, err = util.ParseTime(assignedAt); err != nil {
		return nil, fmt.Errorf("failed to parse assigned_at: %w", err)
	}
	return &a, nil
}

func (r *AssignmentRepository) Insert(ctx context.Context, a *domain.Assignment) (bool, error) {
	res, err := r.db.ExecContext(ctx, `
		INSERT INTO assignments (experiment_id, user_id, variant_id, bucket, assigned_at)
		SELECT ?, ?, ?, ?, ?
		WHERE EXISTS (SELECT 1 FROM experiments WHERE id = ? AND status = 'RUNNING')
		ON CONFLICT (experiment_id, user_id) DO NOTHING
	`, a.ExperimentID, a.UserID, a.VariantID, a.Bucket, util.FormatTime(a.AssignedAt), a.ExperimentID)
	if err != nil {
		return false, wrap("insert assignment", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, wrap("insert assignment", err)
	}
	return n == 1, nil
}

func (r *AssignmentRepository) CountByVariant(ctx context.Context, experimentID string) (map[string]int64, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT variant_id, COUNT(*) FROM assignments
		WHERE experiment_id = ?
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
	res, err := r.db.ExecContext(ctx, `DELETE FROM assignments WHERE user_id = ?`, userID)
	if err != nil {
		return 0, wrap("delete assignments", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, wrap("delete assignments", err)
	}
	return n, nil
}
