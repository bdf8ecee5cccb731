package gitagent

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"

	"github.com/draftline-systems/draftline/common/logging"
	"github.com/draftline-systems/draftline/common/messaging"
	"github.com/draftline-systems/draftline/internal/metrics"
	"github.com/draftline-systems/draftline/internal/models"
	"github.com/draftline-systems/draftline/internal/repository"
)

// Rollback reverses one applied proposal: it checks out the recorded branch,
// hard-resets it to the recorded pre-application commit, consumes the
// rollback point and publishes git.rollback.v1.
//
// Rollback is strictly one-shot. A consumed or non-reversible point yields
// ErrInvalidState; reverting twice has no well-defined meaning once the
// branch has moved. The whole sequence runs under the engine mutex, so a
// concurrent second call observes the consumed point before touching git.
func (e *Engine) Rollback(ctx context.Context, rollbackID string) (*models.RollbackPoint, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	rp, err := e.rollbacks.Get(ctx, rollbackID)
	if err != nil {
		return nil, err
	}
	if rp.RolledBack {
		return nil, fmt.Errorf("%w: already rolled back", ErrInvalidState)
	}
	if !rp.CanRollback {
		return nil, fmt.Errorf("%w: branch %s was merged", ErrInvalidState, rp.Branch)
	}

	wt, err := e.repo.Worktree()
	if err != nil {
		return nil, fmt.Errorf("failed to get worktree: %w", err)
	}

	branchRef := plumbing.NewBranchReferenceName(rp.Branch)
	if err := wt.Checkout(&git.CheckoutOptions{Branch: branchRef}); err != nil {
		return nil, fmt.Errorf("failed to checkout %s: %w", rp.Branch, err)
	}
	if err := wt.Reset(&git.ResetOptions{
		Mode:   git.HardReset,
		Commit: plumbing.NewHash(rp.CommitHash),
	}); err != nil {
		return nil, fmt.Errorf("failed to reset %s to %s: %w", rp.Branch, rp.CommitHash, err)
	}

	now := time.Now().UTC()
	if err := e.rollbacks.MarkRolledBack(ctx, rollbackID, now); err != nil {
		if errors.Is(err, repository.ErrRollbackConsumed) {
			return nil, ErrInvalidState
		}
		return nil, err
	}
	rp.RolledBack = true
	rp.RolledBackAt = &now

	evt := &models.GitRollbackEvent{
		RollbackID: rp.RollbackID,
		Branch:     rp.Branch,
		CommitHash: rp.CommitHash,
		ProposalID: rp.ProposalID,
	}
	if _, err := e.broker.Publish(ctx, messaging.TopicGit, messaging.EventGitRollback, source, evt, nil); err != nil {
		e.logger.ErrorContext(ctx, "failed to publish rollback event",
			logging.RollbackID(rollbackID), logging.Error(err))
	}

	metrics.RollbacksTotal.Inc()
	e.logger.InfoContext(ctx, "rollback complete",
		logging.RollbackID(rollbackID), logging.Branch(rp.Branch), logging.Commit(rp.CommitHash))
	return rp, nil
}

// ObserveMerge records that a branch was merged into a protected branch,
// disabling rollback for every point that references it. Merges happen
// outside the engine; callers report them through this method.
func (e *Engine) ObserveMerge(ctx context.Context, branch string) error {
	if err := e.rollbacks.DisableRollback(ctx, branch); err != nil {
		return err
	}
	e.logger.InfoContext(ctx, "branch merged, rollback disabled", logging.Branch(branch))
	return nil
}
