package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/draftline-systems/draftline/common/database"
	"github.com/draftline-systems/draftline/internal/models"
)

// PostgresRepository implements ProposalRepository and RollbackRepository
// using PostgreSQL.
type PostgresRepository struct {
	pool *pgxpool.Pool
}

// NewPostgresRepository creates a new PostgreSQL repository.
func NewPostgresRepository(ctx context.Context, connString string) (*PostgresRepository, error) {
	config, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, fmt.Errorf("failed to parse database config: %w", err)
	}

	config.MaxConns = 25
	config.MinConns = 5
	config.MaxConnLifetime = 5 * time.Minute
	config.MaxConnIdleTime = 1 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &PostgresRepository{pool: pool}, nil
}

// Create stores a new proposal.
func (r *PostgresRepository) Create(ctx context.Context, p *models.Proposal) error {
	changes, err := json.Marshal(p.Changes)
	if err != nil {
		return fmt.Errorf("marshal changes: %w", err)
	}

	query := `
		INSERT INTO proposals (
			id, workspace_id, agent_id, owner_user_id, title, description,
			changes, diff, status, created_at, updated_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $10)
		ON CONFLICT (id) DO NOTHING
	`

	wctx, cancel := database.WriteContext(ctx)
	defer cancel()

	tag, err := r.pool.Exec(wctx, query,
		p.ID, p.WorkspaceID, p.AgentID, p.OwnerUserID, p.Title, p.Description,
		changes, p.Diff, p.Status, p.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create proposal: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrProposalExists
	}
	return nil
}

const proposalColumns = `
	id, workspace_id, agent_id, owner_user_id, title, description,
	changes, diff, status, edited_by_user, rejection_reason,
	created_at, updated_at, approved_at, rejected_at
`

// Get retrieves a proposal by ID.
func (r *PostgresRepository) Get(ctx context.Context, id string) (*models.Proposal, error) {
	query := fmt.Sprintf(`SELECT %s FROM proposals WHERE id = $1`, proposalColumns)

	qctx, cancel := database.QueryContext(ctx)
	defer cancel()

	p, err := scanProposal(r.pool.QueryRow(qctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrProposalNotFound
		}
		return nil, fmt.Errorf("failed to get proposal: %w", err)
	}
	return p, nil
}

// List retrieves proposals matching the filter, newest first.
func (r *PostgresRepository) List(ctx context.Context, filter models.ProposalFilter) ([]*models.Proposal, error) {
	whereClause := "WHERE 1=1"
	args := []interface{}{}
	argPos := 1

	if filter.WorkspaceID != "" {
		whereClause += fmt.Sprintf(" AND workspace_id = $%d", argPos)
		args = append(args, filter.WorkspaceID)
		argPos++
	}
	if filter.Status != "" {
		whereClause += fmt.Sprintf(" AND status = $%d", argPos)
		args = append(args, filter.Status)
		argPos++
	}
	if filter.Owner != "" {
		whereClause += fmt.Sprintf(" AND owner_user_id = $%d", argPos)
		args = append(args, filter.Owner)
		argPos++
	}

	limit := filter.Limit
	if limit <= 0 || limit > 500 {
		limit = 100
	}

	query := fmt.Sprintf(
		`SELECT %s FROM proposals %s ORDER BY created_at DESC LIMIT $%d`,
		proposalColumns, whereClause, argPos,
	)
	args = append(args, limit)

	qctx, cancel := database.QueryContext(ctx)
	defer cancel()

	rows, err := r.pool.Query(qctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list proposals: %w", err)
	}
	defer rows.Close()

	proposals := make([]*models.Proposal, 0)
	for rows.Next() {
		p, err := scanProposal(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan proposal: %w", err)
		}
		proposals = append(proposals, p)
	}
	return proposals, rows.Err()
}

// UpdateStatus transitions a pending proposal to a terminal status. The
// status='pending' predicate makes the transition race-safe: of two
// concurrent decisions, exactly one updates a row.
func (r *PostgresRepository) UpdateStatus(ctx context.Context, id string, update StatusUpdate) error {
	var (
		tagErr error
		tag    int64
	)

	wctx, cancel := database.WriteContext(ctx)
	defer cancel()

	switch update.Status {
	case models.StatusApproved:
		var changes []byte
		if update.Changes != nil {
			var err error
			changes, err = json.Marshal(update.Changes)
			if err != nil {
				return fmt.Errorf("marshal changes: %w", err)
			}
		}
		query := `
			UPDATE proposals
			SET status = $2, approved_at = $3, updated_at = now(),
			    changes = COALESCE($4, changes), edited_by_user = $5
			WHERE id = $1 AND status = 'pending'
		`
		t, err := r.pool.Exec(wctx, query, id, update.Status, update.DecidedAt, changes, update.EditedByUser)
		tag, tagErr = t.RowsAffected(), err

	case models.StatusRejected:
		query := `
			UPDATE proposals
			SET status = $2, rejected_at = $3, rejection_reason = $4, updated_at = now()
			WHERE id = $1 AND status = 'pending'
		`
		t, err := r.pool.Exec(wctx, query, id, update.Status, update.DecidedAt, update.RejectionReason)
		tag, tagErr = t.RowsAffected(), err

	default:
		return fmt.Errorf("unsupported status transition to %q", update.Status)
	}

	if tagErr != nil {
		return fmt.Errorf("failed to update proposal status: %w", tagErr)
	}
	if tag == 0 {
		// Distinguish a missing proposal from a lost race.
		if _, err := r.Get(ctx, id); err != nil {
			return err
		}
		return ErrNotPending
	}
	return nil
}

// Delete removes a proposal, permitted only while pending.
func (r *PostgresRepository) Delete(ctx context.Context, id string) error {
	wctx, cancel := database.WriteContext(ctx)
	defer cancel()

	tag, err := r.pool.Exec(wctx,
		`DELETE FROM proposals WHERE id = $1 AND status = 'pending'`, id)
	if err != nil {
		return fmt.Errorf("failed to delete proposal: %w", err)
	}
	if tag.RowsAffected() == 0 {
		if _, err := r.Get(ctx, id); err != nil {
			return err
		}
		return ErrNotPending
	}
	return nil
}

// Stats aggregates proposal counts by status and agent.
func (r *PostgresRepository) Stats(ctx context.Context, workspaceID string) (*models.ProposalStats, error) {
	whereClause := ""
	args := []interface{}{}
	if workspaceID != "" {
		whereClause = "WHERE workspace_id = $1"
		args = append(args, workspaceID)
	}

	query := fmt.Sprintf(
		`SELECT status, agent_id, COUNT(*) FROM proposals %s GROUP BY status, agent_id`,
		whereClause,
	)

	qctx, cancel := database.BulkContext(ctx)
	defer cancel()

	rows, err := r.pool.Query(qctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to aggregate proposal stats: %w", err)
	}
	defer rows.Close()

	stats := &models.ProposalStats{
		ByStatus: make(map[string]int),
		ByAgent:  make(map[string]int),
	}
	for rows.Next() {
		var status, agent string
		var count int
		if err := rows.Scan(&status, &agent, &count); err != nil {
			return nil, fmt.Errorf("failed to scan stats row: %w", err)
		}
		stats.Total += count
		stats.ByStatus[status] += count
		stats.ByAgent[agent] += count
	}
	return stats, rows.Err()
}

// RollbackStore returns a RollbackRepository view sharing this repository's
// connection pool.
func (r *PostgresRepository) RollbackStore() *PostgresRollbackRepository {
	return &PostgresRollbackRepository{pool: r.pool}
}

// Close releases the connection pool.
func (r *PostgresRepository) Close() error {
	r.pool.Close()
	return nil
}

// scanProposal reads one proposal row.
func scanProposal(row pgx.Row) (*models.Proposal, error) {
	var (
		p       models.Proposal
		changes []byte
	)
	err := row.Scan(
		&p.ID, &p.WorkspaceID, &p.AgentID, &p.OwnerUserID, &p.Title, &p.Description,
		&changes, &p.Diff, &p.Status, &p.EditedByUser, &p.RejectionReason,
		&p.CreatedAt, &p.UpdatedAt, &p.ApprovedAt, &p.RejectedAt,
	)
	if err != nil {
		return nil, err
	}
	if len(changes) > 0 {
		if err := json.Unmarshal(changes, &p.Changes); err != nil {
			return nil, fmt.Errorf("unmarshal changes: %w", err)
		}
	}
	return &p, nil
}
