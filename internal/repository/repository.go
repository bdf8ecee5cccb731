// Package repository provides persistence for proposals and rollback points.
// Two implementations exist: PostgreSQL for production and an in-memory store
// for development and tests.
package repository

import (
	"context"
	"errors"
	"time"

	"github.com/draftline-systems/draftline/internal/models"
)

var (
	ErrProposalNotFound = errors.New("proposal not found")
	ErrProposalExists   = errors.New("proposal already exists")
	ErrRollbackNotFound = errors.New("rollback point not found")

	// ErrNotPending is returned by UpdateStatus and Delete when the proposal
	// exists but has already left the pending state. The conditional update
	// is what makes concurrent decisions race-safe: at most one wins.
	ErrNotPending = errors.New("proposal is not pending")

	// ErrRollbackConsumed is returned by MarkRolledBack when the point was
	// already consumed or can no longer be rolled back.
	ErrRollbackConsumed = errors.New("rollback point already consumed or not reversible")
)

// StatusUpdate carries a lifecycle decision into the store. UpdateStatus
// stamps updated_at as a side effect of every call.
type StatusUpdate struct {
	Status models.ProposalStatus

	// DecidedAt becomes approved_at or rejected_at depending on Status.
	DecidedAt time.Time

	// RejectionReason is persisted for rejected proposals.
	RejectionReason string

	// Changes, when non-nil, overrides the proposed change list
	// (approval with user edits).
	Changes []models.ProposedChange

	// EditedByUser marks that Changes overrides the original set.
	EditedByUser bool
}

// ProposalRepository defines proposal persistence.
type ProposalRepository interface {
	// Create stores a new pending proposal. Duplicate IDs are rejected with
	// ErrProposalExists.
	Create(ctx context.Context, p *models.Proposal) error

	// Get returns the proposal or ErrProposalNotFound.
	Get(ctx context.Context, id string) (*models.Proposal, error)

	// List returns proposals matching the filter, sorted by created_at
	// descending.
	List(ctx context.Context, filter models.ProposalFilter) ([]*models.Proposal, error)

	// UpdateStatus transitions a pending proposal to a terminal status.
	// Returns ErrProposalNotFound if absent, ErrNotPending if the proposal
	// exists but is no longer pending.
	UpdateStatus(ctx context.Context, id string, update StatusUpdate) error

	// Delete removes a pending proposal. Returns ErrNotPending for terminal
	// proposals.
	Delete(ctx context.Context, id string) error

	// Stats aggregates counts by status and agent, optionally scoped to a
	// workspace.
	Stats(ctx context.Context, workspaceID string) (*models.ProposalStats, error)

	// Close releases the backing resources.
	Close() error
}

// RollbackRepository defines rollback point persistence.
type RollbackRepository interface {
	// Create stores a new rollback point.
	Create(ctx context.Context, rp *models.RollbackPoint) error

	// Get returns the rollback point or ErrRollbackNotFound.
	Get(ctx context.Context, id string) (*models.RollbackPoint, error)

	// MarkRolledBack consumes the point. The transition is one-shot: a point
	// that is already consumed, or whose can_rollback flag is cleared,
	// yields ErrRollbackConsumed.
	MarkRolledBack(ctx context.Context, id string, at time.Time) error

	// DisableRollback clears can_rollback on every point referencing the
	// branch. Called when an external merge into a protected branch is
	// observed.
	DisableRollback(ctx context.Context, branch string) error

	// Close releases the backing resources.
	Close() error
}
