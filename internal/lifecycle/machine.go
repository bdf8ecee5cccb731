// Package lifecycle implements the proposal state machine: the single
// authority through which proposal statuses change. Other components read
// proposals freely but never write status themselves.
package lifecycle

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/draftline-systems/draftline/common/audit"
	"github.com/draftline-systems/draftline/common/logging"
	"github.com/draftline-systems/draftline/common/messaging"
	"github.com/draftline-systems/draftline/internal/metrics"
	"github.com/draftline-systems/draftline/internal/models"
	"github.com/draftline-systems/draftline/internal/repository"
)

var (
	// ErrNotFound is returned when the proposal does not exist.
	ErrNotFound = repository.ErrProposalNotFound

	// ErrUnauthorized is returned when the caller is neither the proposal's
	// owner nor acting on a system-owned proposal.
	ErrUnauthorized = errors.New("caller may not decide this proposal")

	// ErrInvalidTransition is returned when the proposal has already been
	// decided. Distinct from ErrUnauthorized so callers can tell "already
	// decided" from "not allowed to decide".
	ErrInvalidTransition = errors.New("proposal is no longer pending")

	// ErrInvalidState is returned for operations that are structurally
	// invalid in the proposal's current state, e.g. an edited change set
	// that fails validation.
	ErrInvalidState = errors.New("invalid proposal state")
)

// Machine enforces legal proposal transitions and publishes lifecycle events.
// All dependencies are injected; construct one at process start and pass it
// to the components that need it.
type Machine struct {
	store  repository.ProposalRepository
	broker messaging.Broker
	signer *audit.EventSigner
	logger *logging.Logger
}

// NewMachine creates a state machine. signer may be nil to disable decision
// signing.
func NewMachine(store repository.ProposalRepository, broker messaging.Broker, signer *audit.EventSigner, logger *logging.Logger) *Machine {
	if logger == nil {
		logger = logging.Default()
	}
	return &Machine{
		store:  store,
		broker: broker,
		signer: signer,
		logger: logger.With("component", "lifecycle"),
	}
}

// Create validates and stores a new pending proposal, then publishes
// proposal.created.v1. An empty owner defaults to the system sentinel.
func (m *Machine) Create(ctx context.Context, p *models.Proposal) error {
	if p.OwnerUserID == "" {
		p.OwnerUserID = models.SystemOwner
	}
	p.Status = models.StatusPending
	now := time.Now().UTC()
	p.CreatedAt = now
	p.UpdatedAt = now

	if err := p.Validate(); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidState, err)
	}

	if err := m.store.Create(ctx, p); err != nil {
		return err
	}

	m.publish(ctx, messaging.TopicProposals, messaging.EventProposalCreated, p.AgentID, models.ProposalCreatedEvent{
		ProposalID:  p.ID,
		WorkspaceID: p.WorkspaceID,
		AgentID:     p.AgentID,
		OwnerUserID: p.OwnerUserID,
		Title:       p.Title,
	})

	m.logger.InfoContext(ctx, "proposal created",
		logging.ProposalID(p.ID), logging.Workspace(p.WorkspaceID), logging.AgentID(p.AgentID))
	return nil
}

// Approve transitions a pending proposal to approved. editedChanges, when
// non-nil, overrides the proposed change list after passing the same
// validation as original changes. The published proposal.approved.v1 event
// carries the final change list so consumers never re-read the store.
func (m *Machine) Approve(ctx context.Context, id, approverID string, editedChanges []models.ProposedChange) (*models.Proposal, error) {
	p, err := m.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	if err := authorize(p, approverID); err != nil {
		return nil, err
	}
	if p.Status.Terminal() {
		return nil, fmt.Errorf("%w: status is %s", ErrInvalidTransition, p.Status)
	}

	if editedChanges != nil {
		if err := models.ValidateChanges(editedChanges); err != nil {
			return nil, fmt.Errorf("%w: edited changes: %v", ErrInvalidState, err)
		}
	}

	decidedAt := time.Now().UTC()
	err = m.store.UpdateStatus(ctx, id, repository.StatusUpdate{
		Status:       models.StatusApproved,
		DecidedAt:    decidedAt,
		Changes:      editedChanges,
		EditedByUser: editedChanges != nil,
	})
	if err != nil {
		// A concurrent decision may have won the race between our read and
		// the conditional update.
		if errors.Is(err, repository.ErrNotPending) {
			return nil, ErrInvalidTransition
		}
		return nil, err
	}

	finalChanges := p.Changes
	if editedChanges != nil {
		finalChanges = editedChanges
		p.EditedByUser = true
	}
	p.Status = models.StatusApproved
	p.ApprovedAt = &decidedAt
	p.Changes = finalChanges

	m.publishSigned(ctx, messaging.TopicProposals, messaging.EventProposalApproved, approverID, id, decidedAt, models.ProposalApprovedEvent{
		ProposalID:   p.ID,
		WorkspaceID:  p.WorkspaceID,
		Title:        p.Title,
		ApprovedBy:   approverID,
		EditedByUser: p.EditedByUser,
		Changes:      finalChanges,
		ApprovedAt:   decidedAt,
	})

	metrics.ProposalDecisions.WithLabelValues("approved").Inc()
	m.logger.InfoContext(ctx, "proposal approved",
		logging.ProposalID(id), "approved_by", approverID, "edited", p.EditedByUser)
	return p, nil
}

// Reject transitions a pending proposal to rejected, recording the reason.
// The published proposal.rejected.v1 event carries the reason so agents can
// learn from the feedback.
func (m *Machine) Reject(ctx context.Context, id, rejectorID, reason string) (*models.Proposal, error) {
	p, err := m.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	if err := authorize(p, rejectorID); err != nil {
		return nil, err
	}
	if p.Status.Terminal() {
		return nil, fmt.Errorf("%w: status is %s", ErrInvalidTransition, p.Status)
	}

	decidedAt := time.Now().UTC()
	err = m.store.UpdateStatus(ctx, id, repository.StatusUpdate{
		Status:          models.StatusRejected,
		DecidedAt:       decidedAt,
		RejectionReason: reason,
	})
	if err != nil {
		if errors.Is(err, repository.ErrNotPending) {
			return nil, ErrInvalidTransition
		}
		return nil, err
	}

	p.Status = models.StatusRejected
	p.RejectedAt = &decidedAt
	p.RejectionReason = reason

	m.publishSigned(ctx, messaging.TopicProposals, messaging.EventProposalRejected, rejectorID, id, decidedAt, models.ProposalRejectedEvent{
		ProposalID:  p.ID,
		WorkspaceID: p.WorkspaceID,
		RejectedBy:  rejectorID,
		Reason:      reason,
		RejectedAt:  decidedAt,
	})

	metrics.ProposalDecisions.WithLabelValues("rejected").Inc()
	m.logger.InfoContext(ctx, "proposal rejected",
		logging.ProposalID(id), "rejected_by", rejectorID)
	return p, nil
}

// Delete removes a pending proposal. Only the owner may delete, and only
// while the proposal is pending.
func (m *Machine) Delete(ctx context.Context, id, requesterID string) error {
	p, err := m.store.Get(ctx, id)
	if err != nil {
		return err
	}
	if p.OwnerUserID != requesterID {
		return fmt.Errorf("%w: only the owner may delete", ErrUnauthorized)
	}
	if p.Status != models.StatusPending {
		return fmt.Errorf("%w: cannot delete a %s proposal", ErrInvalidState, p.Status)
	}

	if err := m.store.Delete(ctx, id); err != nil {
		if errors.Is(err, repository.ErrNotPending) {
			return fmt.Errorf("%w: cannot delete a decided proposal", ErrInvalidState)
		}
		return err
	}

	m.logger.InfoContext(ctx, "proposal deleted", logging.ProposalID(id))
	return nil
}

// authorize checks decision rights: the owner may decide, and anyone may
// decide a system-owned proposal.
func authorize(p *models.Proposal, actorID string) error {
	if p.OwnerUserID == models.SystemOwner || p.OwnerUserID == actorID {
		return nil
	}
	return fmt.Errorf("%w: owner is %s", ErrUnauthorized, p.OwnerUserID)
}

// publish sends an unsigned lifecycle event. Publish failures are logged,
// not surfaced: the persisted status is the source of truth and a supervisor
// re-drives from the store.
func (m *Machine) publish(ctx context.Context, topic, eventType, source string, payload any) {
	if _, err := m.broker.Publish(ctx, topic, eventType, source, payload, nil); err != nil {
		m.logger.ErrorContext(ctx, "failed to publish lifecycle event",
			logging.EventType(eventType), logging.Error(err))
	}
}

// publishSigned attaches an HMAC decision signature as envelope metadata
// when a signer is configured.
func (m *Machine) publishSigned(ctx context.Context, topic, eventType, actor, proposalID string, decidedAt time.Time, payload any) {
	var metadata map[string]string
	if m.signer != nil {
		data, err := json.Marshal(payload)
		if err == nil {
			metadata = map[string]string{
				audit.SignatureMetadataKey: m.signer.Sign(proposalID, decidedAt, actor, data),
			}
		}
	}
	if _, err := m.broker.Publish(ctx, topic, eventType, actor, payload, metadata); err != nil {
		m.logger.ErrorContext(ctx, "failed to publish lifecycle event",
			logging.EventType(eventType), logging.ProposalID(proposalID), logging.Error(err))
	}
}
