// Package gitagent turns approved proposals into version-control commits on
// isolated branches and reverses them through rollback points. It consumes
// proposal.approved.v1 from the broker and publishes git.commit.v1,
// git.apply.failed.v1 and git.rollback.v1.
package gitagent

import (
	"errors"
	"fmt"
	"sync"

	"github.com/go-git/go-git/v5"

	"github.com/draftline-systems/draftline/common/logging"
	"github.com/draftline-systems/draftline/common/messaging"
	"github.com/draftline-systems/draftline/internal/dedup"
	"github.com/draftline-systems/draftline/internal/repository"
)

var (
	// ErrNotFound is returned when the rollback point does not exist.
	ErrNotFound = repository.ErrRollbackNotFound

	// ErrInvalidState is returned when a rollback point is already consumed
	// or no longer reversible. Rollback is strictly one-shot.
	ErrInvalidState = errors.New("rollback point already consumed or not reversible")

	// ErrDuplicateApplication signals that the proposal's feature branch
	// already exists, which means the approval event was delivered before.
	ErrDuplicateApplication = errors.New("proposal already applied")
)

const source = "git-agent"

// Config holds git agent configuration.
type Config struct {
	// RepoPath is the local working copy the engine owns.
	RepoPath string

	// IntegrationBranch is the canonical branch feature branches fork from.
	IntegrationBranch string

	// FallbackBranch is checked out when IntegrationBranch does not exist.
	FallbackBranch string

	// Remote is the push target. Empty disables pushing.
	Remote string

	// AuthorName and AuthorEmail identify commits made by the engine.
	AuthorName  string
	AuthorEmail string
}

// DefaultConfig returns a Config with sensible defaults (no pushing).
func DefaultConfig(repoPath string) Config {
	return Config{
		RepoPath:          repoPath,
		IntegrationBranch: "main",
		FallbackBranch:    "master",
		AuthorName:        "draftline-agent",
		AuthorEmail:       "agent@draftline.local",
	}
}

// Engine owns one repository clone. Branch checkout is process-wide state,
// so a mutex serializes every checkout-apply-commit and rollback sequence;
// concurrent applications need independent Engine instances with their own
// clones.
type Engine struct {
	cfg  Config
	repo *git.Repository
	mu   sync.Mutex

	rollbacks repository.RollbackRepository
	broker    messaging.Broker
	processed dedup.Store
	logger    *logging.Logger

	sub messaging.Subscription
}

// New opens the repository at cfg.RepoPath and constructs an engine around
// it. All collaborators are injected.
func New(cfg Config, rollbacks repository.RollbackRepository, broker messaging.Broker, processed dedup.Store, logger *logging.Logger) (*Engine, error) {
	if cfg.IntegrationBranch == "" {
		cfg.IntegrationBranch = "main"
	}
	if cfg.FallbackBranch == "" {
		cfg.FallbackBranch = "master"
	}
	if logger == nil {
		logger = logging.Default()
	}

	repo, err := git.PlainOpen(cfg.RepoPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open repository %s: %w", cfg.RepoPath, err)
	}

	return &Engine{
		cfg:       cfg,
		repo:      repo,
		rollbacks: rollbacks,
		broker:    broker,
		processed: processed,
		logger:    logger.With("component", "git-agent"),
	}, nil
}

// Start subscribes the engine to approval events.
func (e *Engine) Start() error {
	sub, err := e.broker.Subscribe(messaging.EventProposalApproved, e.handleApproved)
	if err != nil {
		return fmt.Errorf("failed to subscribe to %s: %w", messaging.EventProposalApproved, err)
	}
	e.sub = sub
	e.logger.Info("git agent started", logging.EventType(messaging.EventProposalApproved))
	return nil
}

// Stop unsubscribes from approval events.
func (e *Engine) Stop() error {
	if e.sub != nil {
		if err := e.sub.Unsubscribe(); err != nil {
			return err
		}
		e.sub = nil
	}
	e.logger.Info("git agent stopped")
	return nil
}

// BranchName returns the deterministic feature branch for a proposal, so
// re-processing the same approval is detectable.
func BranchName(proposalID string) string {
	return "agent/proposal-" + proposalID
}
