package repository

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/draftline-systems/draftline/internal/models"
)

// MemoryRepository implements ProposalRepository in memory. It mirrors the
// PostgreSQL semantics, including the race-safe conditional status update,
// and backs development and tests the way the in-memory broker does.
type MemoryRepository struct {
	mu        sync.RWMutex
	proposals map[string]*models.Proposal
}

// NewMemoryRepository creates an empty in-memory proposal store.
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{proposals: make(map[string]*models.Proposal)}
}

// Create stores a new proposal.
func (r *MemoryRepository) Create(_ context.Context, p *models.Proposal) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.proposals[p.ID]; exists {
		return ErrProposalExists
	}
	cp := cloneProposal(p)
	r.proposals[p.ID] = cp
	return nil
}

// Get retrieves a proposal by ID.
func (r *MemoryRepository) Get(_ context.Context, id string) (*models.Proposal, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	p, ok := r.proposals[id]
	if !ok {
		return nil, ErrProposalNotFound
	}
	return cloneProposal(p), nil
}

// List retrieves proposals matching the filter, newest first.
func (r *MemoryRepository) List(_ context.Context, filter models.ProposalFilter) ([]*models.Proposal, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]*models.Proposal, 0)
	for _, p := range r.proposals {
		if filter.WorkspaceID != "" && p.WorkspaceID != filter.WorkspaceID {
			continue
		}
		if filter.Status != "" && p.Status != filter.Status {
			continue
		}
		if filter.Owner != "" && p.OwnerUserID != filter.Owner {
			continue
		}
		out = append(out, cloneProposal(p))
	}

	sort.Slice(out, func(i, j int) bool {
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})

	limit := filter.Limit
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// UpdateStatus transitions a pending proposal to a terminal status.
func (r *MemoryRepository) UpdateStatus(_ context.Context, id string, update StatusUpdate) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	p, ok := r.proposals[id]
	if !ok {
		return ErrProposalNotFound
	}
	if p.Status != models.StatusPending {
		return ErrNotPending
	}

	decidedAt := update.DecidedAt
	switch update.Status {
	case models.StatusApproved:
		p.Status = models.StatusApproved
		p.ApprovedAt = &decidedAt
		if update.Changes != nil {
			p.Changes = append([]models.ProposedChange(nil), update.Changes...)
			p.EditedByUser = update.EditedByUser
		}
	case models.StatusRejected:
		p.Status = models.StatusRejected
		p.RejectedAt = &decidedAt
		p.RejectionReason = update.RejectionReason
	default:
		return fmt.Errorf("unsupported status transition to %q", update.Status)
	}
	p.UpdatedAt = time.Now().UTC()
	return nil
}

// Delete removes a proposal, permitted only while pending.
func (r *MemoryRepository) Delete(_ context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	p, ok := r.proposals[id]
	if !ok {
		return ErrProposalNotFound
	}
	if p.Status != models.StatusPending {
		return ErrNotPending
	}
	delete(r.proposals, id)
	return nil
}

// Stats aggregates proposal counts by status and agent.
func (r *MemoryRepository) Stats(_ context.Context, workspaceID string) (*models.ProposalStats, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	stats := &models.ProposalStats{
		ByStatus: make(map[string]int),
		ByAgent:  make(map[string]int),
	}
	for _, p := range r.proposals {
		if workspaceID != "" && p.WorkspaceID != workspaceID {
			continue
		}
		stats.Total++
		stats.ByStatus[string(p.Status)]++
		stats.ByAgent[p.AgentID]++
	}
	return stats, nil
}

// Close is a no-op for the in-memory store.
func (r *MemoryRepository) Close() error {
	return nil
}

func cloneProposal(p *models.Proposal) *models.Proposal {
	cp := *p
	cp.Changes = append([]models.ProposedChange(nil), p.Changes...)
	if p.ApprovedAt != nil {
		t := *p.ApprovedAt
		cp.ApprovedAt = &t
	}
	if p.RejectedAt != nil {
		t := *p.RejectedAt
		cp.RejectedAt = &t
	}
	return &cp
}

// MemoryRollbackRepository implements RollbackRepository in memory.
type MemoryRollbackRepository struct {
	mu     sync.RWMutex
	points map[string]*models.RollbackPoint
}

// NewMemoryRollbackRepository creates an empty in-memory rollback store.
func NewMemoryRollbackRepository() *MemoryRollbackRepository {
	return &MemoryRollbackRepository{points: make(map[string]*models.RollbackPoint)}
}

// Create stores a new rollback point.
func (r *MemoryRollbackRepository) Create(_ context.Context, rp *models.RollbackPoint) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := *rp
	r.points[rp.RollbackID] = &cp
	return nil
}

// Get retrieves a rollback point by ID.
func (r *MemoryRollbackRepository) Get(_ context.Context, id string) (*models.RollbackPoint, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	rp, ok := r.points[id]
	if !ok {
		return nil, ErrRollbackNotFound
	}
	cp := *rp
	return &cp, nil
}

// MarkRolledBack consumes the point, one-shot.
func (r *MemoryRollbackRepository) MarkRolledBack(_ context.Context, id string, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	rp, ok := r.points[id]
	if !ok {
		return ErrRollbackNotFound
	}
	if rp.RolledBack || !rp.CanRollback {
		return ErrRollbackConsumed
	}
	rp.RolledBack = true
	rp.RolledBackAt = &at
	return nil
}

// DisableRollback clears can_rollback for every point on the branch.
func (r *MemoryRollbackRepository) DisableRollback(_ context.Context, branch string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, rp := range r.points {
		if rp.Branch == branch {
			rp.CanRollback = false
		}
	}
	return nil
}

// Close is a no-op for the in-memory store.
func (r *MemoryRollbackRepository) Close() error {
	return nil
}
