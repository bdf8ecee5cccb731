package gitagent

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-git/go-git/v5"
	gitconfig "github.com/go-git/go-git/v5/config"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/object"
	"github.com/google/uuid"

	"github.com/draftline-systems/draftline/common/logging"
	"github.com/draftline-systems/draftline/common/messaging"
	"github.com/draftline-systems/draftline/internal/metrics"
	"github.com/draftline-systems/draftline/internal/models"
)

// handleApproved consumes one proposal.approved.v1 event. Application
// failures are published as git.apply.failed.v1, never returned: the
// approval already succeeded and redelivering the event would not help,
// retry is a supervisor concern.
func (e *Engine) handleApproved(ctx context.Context, env *messaging.Envelope) error {
	seen, err := e.processed.Seen(ctx, env.EventID)
	if err != nil {
		// Without the dedup store we cannot safely process; let the broker
		// redeliver.
		return fmt.Errorf("dedup check failed: %w", err)
	}
	if seen {
		e.logger.InfoContext(ctx, "skipping already-processed event", logging.EventID(env.EventID))
		return nil
	}

	var evt models.ProposalApprovedEvent
	if err := env.DecodeData(&evt); err != nil {
		e.logger.ErrorContext(ctx, "malformed approval event, dropping",
			logging.EventID(env.EventID), logging.Error(err))
		return nil
	}

	if _, err := e.ApplyProposal(ctx, &evt); err != nil {
		if errors.Is(err, ErrDuplicateApplication) {
			e.logger.WarnContext(ctx, "feature branch exists, likely duplicate delivery",
				logging.ProposalID(evt.ProposalID))
		} else {
			e.logger.ErrorContext(ctx, "failed to apply proposal",
				logging.ProposalID(evt.ProposalID), logging.Error(err))
			metrics.AppliesTotal.WithLabelValues("failure").Inc()
			e.publishApplyFailed(ctx, evt.ProposalID, err)
		}
	}

	// The marker goes in only once the outcome is settled. If this write
	// fails the event is redelivered and the retry is absorbed by the
	// branch-exists check in ApplyProposal.
	if _, err := e.processed.MarkProcessed(ctx, env.EventID); err != nil {
		return fmt.Errorf("failed to record processed event: %w", err)
	}
	return nil
}

// ApplyProposal materializes an approved proposal's changes on a fresh
// feature branch, commits them, records a rollback point and publishes
// git.commit.v1. The whole sequence runs under the engine mutex; work
// happens on the disposable feature branch, so a failure leaves the
// integration branch untouched.
func (e *Engine) ApplyProposal(ctx context.Context, evt *models.ProposalApprovedEvent) (*models.RollbackPoint, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	wt, err := e.repo.Worktree()
	if err != nil {
		return nil, fmt.Errorf("failed to get worktree: %w", err)
	}

	base, err := e.checkoutIntegration(wt)
	if err != nil {
		return nil, err
	}

	branch := BranchName(evt.ProposalID)
	branchRef := plumbing.NewBranchReferenceName(branch)
	if _, err := e.repo.Reference(branchRef, true); err == nil {
		return nil, ErrDuplicateApplication
	}

	if err := wt.Checkout(&git.CheckoutOptions{Branch: branchRef, Create: true}); err != nil {
		return nil, fmt.Errorf("failed to create branch %s: %w", branch, err)
	}

	files, err := e.applyChanges(evt.Changes)
	if err != nil {
		e.discardBranch(wt, base, branchRef, branch)
		return nil, err
	}

	if err := wt.AddWithOptions(&git.AddOptions{All: true}); err != nil {
		e.discardBranch(wt, base, branchRef, branch)
		return nil, fmt.Errorf("failed to stage changes: %w", err)
	}

	msg := CommitMessage(evt.ProposalID, evt.Title, evt.Changes)
	commit, err := wt.Commit(msg, &git.CommitOptions{
		Author: &object.Signature{
			Name:  e.cfg.AuthorName,
			Email: e.cfg.AuthorEmail,
			When:  time.Now().UTC(),
		},
	})
	if err != nil {
		e.discardBranch(wt, base, branchRef, branch)
		return nil, fmt.Errorf("failed to commit: %w", err)
	}

	rollbackID, err := uuid.NewV7()
	if err != nil {
		e.discardBranch(wt, base, branchRef, branch)
		return nil, fmt.Errorf("failed to generate rollback ID: %w", err)
	}
	rp := &models.RollbackPoint{
		RollbackID:  rollbackID.String(),
		Branch:      branch,
		CommitHash:  base.String(), // pre-application state
		ProposalID:  evt.ProposalID,
		CanRollback: true,
		CreatedAt:   time.Now().UTC(),
	}
	// Until the rollback point is recorded the commit must stay local and
	// reversible, so the branch is discarded on failure and pushed after.
	if err := e.rollbacks.Create(ctx, rp); err != nil {
		e.discardBranch(wt, base, branchRef, branch)
		return nil, fmt.Errorf("failed to record rollback point: %w", err)
	}

	e.push(ctx, branch)

	e.publishCommit(ctx, &models.GitCommitEvent{
		ProposalID:   evt.ProposalID,
		Branch:       branch,
		CommitHash:   commit.String(),
		FilesChanged: files,
		RollbackID:   rp.RollbackID,
	})

	metrics.AppliesTotal.WithLabelValues("success").Inc()
	e.logger.InfoContext(ctx, "proposal applied",
		logging.ProposalID(evt.ProposalID), logging.Branch(branch), logging.Commit(commit.String()))
	return rp, nil
}

// checkoutIntegration checks out the canonical integration branch, falling
// back to the secondary default branch name. Returns the head commit hash.
func (e *Engine) checkoutIntegration(wt *git.Worktree) (plumbing.Hash, error) {
	for _, name := range []string{e.cfg.IntegrationBranch, e.cfg.FallbackBranch} {
		ref := plumbing.NewBranchReferenceName(name)
		if _, err := e.repo.Reference(ref, true); err != nil {
			continue
		}
		if err := wt.Checkout(&git.CheckoutOptions{Branch: ref}); err != nil {
			return plumbing.ZeroHash, fmt.Errorf("failed to checkout %s: %w", name, err)
		}
		head, err := e.repo.Head()
		if err != nil {
			return plumbing.ZeroHash, fmt.Errorf("failed to resolve head: %w", err)
		}
		return head.Hash(), nil
	}
	return plumbing.ZeroHash, fmt.Errorf("neither %s nor %s exists",
		e.cfg.IntegrationBranch, e.cfg.FallbackBranch)
}

// applyChanges applies each proposed change in list order and returns the
// touched paths. An update against a missing file aborts the whole set.
func (e *Engine) applyChanges(changes []models.ProposedChange) ([]string, error) {
	files := make([]string, 0, len(changes))
	for _, c := range changes {
		target, err := e.safePath(c.FilePath)
		if err != nil {
			return nil, err
		}

		switch c.ChangeType {
		case models.ChangeCreate:
			if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
				return nil, fmt.Errorf("failed to create directories for %s: %w", c.FilePath, err)
			}
			if err := os.WriteFile(target, []byte(c.After), 0o644); err != nil {
				return nil, fmt.Errorf("failed to write %s: %w", c.FilePath, err)
			}

		case models.ChangeUpdate:
			if _, err := os.Stat(target); err != nil {
				return nil, fmt.Errorf("cannot update %s: %w", c.FilePath, err)
			}
			if err := os.WriteFile(target, []byte(c.After), 0o644); err != nil {
				return nil, fmt.Errorf("failed to write %s: %w", c.FilePath, err)
			}

		case models.ChangeDelete:
			// Removing an already-absent file is a no-op, not an error.
			if err := os.Remove(target); err != nil && !os.IsNotExist(err) {
				return nil, fmt.Errorf("failed to delete %s: %w", c.FilePath, err)
			}

		default:
			return nil, fmt.Errorf("unknown change type %q for %s", c.ChangeType, c.FilePath)
		}
		files = append(files, c.FilePath)
	}
	return files, nil
}

// safePath resolves a proposal-relative path inside the working copy and
// rejects traversal outside it.
func (e *Engine) safePath(rel string) (string, error) {
	clean := filepath.Clean(rel)
	if clean == ".." || strings.HasPrefix(clean, ".."+string(filepath.Separator)) || filepath.IsAbs(clean) {
		return "", fmt.Errorf("path %q escapes the repository", rel)
	}
	return filepath.Join(e.cfg.RepoPath, clean), nil
}

// discardBranch abandons a failed application: hard-reset the worktree,
// return to the base commit and drop the feature branch.
func (e *Engine) discardBranch(wt *git.Worktree, base plumbing.Hash, ref plumbing.ReferenceName, branch string) {
	if err := wt.Reset(&git.ResetOptions{Mode: git.HardReset, Commit: base}); err != nil {
		e.logger.Error("failed to reset worktree after apply failure", logging.Error(err))
	}
	intRef := plumbing.NewBranchReferenceName(e.cfg.IntegrationBranch)
	if _, err := e.repo.Reference(intRef, true); err != nil {
		intRef = plumbing.NewBranchReferenceName(e.cfg.FallbackBranch)
	}
	if err := wt.Checkout(&git.CheckoutOptions{Branch: intRef, Force: true}); err != nil {
		e.logger.Error("failed to restore integration branch", logging.Error(err))
		return
	}
	if err := e.repo.Storer.RemoveReference(ref); err != nil {
		e.logger.Error("failed to remove feature branch", logging.Branch(branch), logging.Error(err))
	}
}

// push uploads the feature branch when a remote is configured. Push failures
// are logged, not fatal: the commit and rollback point are local facts and a
// later push can catch up.
func (e *Engine) push(ctx context.Context, branch string) {
	if e.cfg.Remote == "" {
		return
	}
	refSpec := gitconfig.RefSpec(fmt.Sprintf("refs/heads/%s:refs/heads/%s", branch, branch))
	err := e.repo.PushContext(ctx, &git.PushOptions{
		RemoteName: e.cfg.Remote,
		RefSpecs:   []gitconfig.RefSpec{refSpec},
	})
	if err != nil && !errors.Is(err, git.NoErrAlreadyUpToDate) {
		e.logger.WarnContext(ctx, "failed to push branch", logging.Branch(branch), logging.Error(err))
	}
}

func (e *Engine) publishCommit(ctx context.Context, evt *models.GitCommitEvent) {
	if _, err := e.broker.Publish(ctx, messaging.TopicGit, messaging.EventGitCommit, source, evt, nil); err != nil {
		e.logger.ErrorContext(ctx, "failed to publish commit event",
			logging.ProposalID(evt.ProposalID), logging.Error(err))
	}
}

func (e *Engine) publishApplyFailed(ctx context.Context, proposalID string, applyErr error) {
	evt := &models.GitApplyFailedEvent{ProposalID: proposalID, Error: applyErr.Error()}
	if _, err := e.broker.Publish(ctx, messaging.TopicGit, messaging.EventGitApplyFailed, source, evt, nil); err != nil {
		e.logger.ErrorContext(ctx, "failed to publish apply-failed event",
			logging.ProposalID(proposalID), logging.Error(err))
	}
}
