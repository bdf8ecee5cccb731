package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/draftline-systems/draftline/common/database"
	"github.com/draftline-systems/draftline/internal/models"
)

// PostgresRollbackRepository implements RollbackRepository using PostgreSQL.
// Obtain one from PostgresRepository.RollbackStore; it shares the pool, so
// Close is a no-op here and the proposal repository owns the lifecycle.
type PostgresRollbackRepository struct {
	pool *pgxpool.Pool
}

// Create stores a new rollback point.
func (r *PostgresRollbackRepository) Create(ctx context.Context, rp *models.RollbackPoint) error {
	query := `
		INSERT INTO rollback_points (
			rollback_id, branch, commit_hash, proposal_id,
			can_rollback, rolled_back, created_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`

	wctx, cancel := database.WriteContext(ctx)
	defer cancel()

	_, err := r.pool.Exec(wctx, query,
		rp.RollbackID, rp.Branch, rp.CommitHash, rp.ProposalID,
		rp.CanRollback, rp.RolledBack, rp.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create rollback point: %w", err)
	}
	return nil
}

// Get retrieves a rollback point by ID.
func (r *PostgresRollbackRepository) Get(ctx context.Context, id string) (*models.RollbackPoint, error) {
	query := `
		SELECT rollback_id, branch, commit_hash, proposal_id,
		       can_rollback, rolled_back, created_at, rolled_back_at
		FROM rollback_points
		WHERE rollback_id = $1
	`

	qctx, cancel := database.QueryContext(ctx)
	defer cancel()

	var rp models.RollbackPoint
	err := r.pool.QueryRow(qctx, query, id).Scan(
		&rp.RollbackID, &rp.Branch, &rp.CommitHash, &rp.ProposalID,
		&rp.CanRollback, &rp.RolledBack, &rp.CreatedAt, &rp.RolledBackAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrRollbackNotFound
		}
		return nil, fmt.Errorf("failed to get rollback point: %w", err)
	}
	return &rp, nil
}

// MarkRolledBack consumes the point. The predicate enforces the one-shot
// invariant at the store level, so concurrent rollback attempts cannot both
// succeed.
func (r *PostgresRollbackRepository) MarkRolledBack(ctx context.Context, id string, at time.Time) error {
	query := `
		UPDATE rollback_points
		SET rolled_back = true, rolled_back_at = $2
		WHERE rollback_id = $1 AND rolled_back = false AND can_rollback = true
	`

	wctx, cancel := database.WriteContext(ctx)
	defer cancel()

	tag, err := r.pool.Exec(wctx, query, id, at)
	if err != nil {
		return fmt.Errorf("failed to mark rollback point: %w", err)
	}
	if tag.RowsAffected() == 0 {
		if _, err := r.Get(ctx, id); err != nil {
			return err
		}
		return ErrRollbackConsumed
	}
	return nil
}

// DisableRollback clears can_rollback for every point on the branch.
func (r *PostgresRollbackRepository) DisableRollback(ctx context.Context, branch string) error {
	wctx, cancel := database.WriteContext(ctx)
	defer cancel()

	_, err := r.pool.Exec(wctx,
		`UPDATE rollback_points SET can_rollback = false WHERE branch = $1`, branch)
	if err != nil {
		return fmt.Errorf("failed to disable rollback for branch %s: %w", branch, err)
	}
	return nil
}

// Close is a no-op; the shared pool is owned by PostgresRepository.
func (r *PostgresRollbackRepository) Close() error {
	return nil
}
