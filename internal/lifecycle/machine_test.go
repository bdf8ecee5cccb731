package lifecycle

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/draftline-systems/draftline/common/audit"
	"github.com/draftline-systems/draftline/common/messaging"
	"github.com/draftline-systems/draftline/common/messaging/memory"
	"github.com/draftline-systems/draftline/internal/models"
	"github.com/draftline-systems/draftline/internal/repository"
)

func newTestMachine(t *testing.T, signer *audit.EventSigner) (*Machine, *memory.Broker) {
	t.Helper()
	broker := memory.New(memory.Config{}, nil)
	t.Cleanup(func() { _ = broker.Close() })
	return NewMachine(repository.NewMemoryRepository(), broker, signer, nil), broker
}

func testProposal(owner string) *models.Proposal {
	id, _ := uuid.NewV7()
	return &models.Proposal{
		ID:          id.String(),
		WorkspaceID: "ws-1",
		AgentID:     "agent-docs",
		OwnerUserID: owner,
		Title:       "Update getting started guide",
		Changes: []models.ProposedChange{
			{FilePath: "docs/getting-started.md", ChangeType: models.ChangeUpdate, After: "# Getting Started\n"},
		},
	}
}

func lastEvent(t *testing.T, broker *memory.Broker, eventType string) *messaging.Envelope {
	t.Helper()
	log, err := broker.EventLog(0)
	require.NoError(t, err)
	for i := len(log) - 1; i >= 0; i-- {
		if log[i].EventType == eventType {
			return log[i]
		}
	}
	t.Fatalf("no %s event in log", eventType)
	return nil
}

func TestCreate(t *testing.T) {
	m, broker := newTestMachine(t, nil)
	ctx := context.Background()

	p := testProposal("user-1")
	require.NoError(t, m.Create(ctx, p))
	assert.Equal(t, models.StatusPending, p.Status)
	assert.False(t, p.CreatedAt.IsZero())

	env := lastEvent(t, broker, messaging.EventProposalCreated)
	var ev models.ProposalCreatedEvent
	require.NoError(t, env.DecodeData(&ev))
	assert.Equal(t, p.ID, ev.ProposalID)
	assert.Equal(t, "ws-1", ev.WorkspaceID)
	assert.Equal(t, messaging.TopicProposals, env.Topic)
}

func TestCreateDefaultsOwnerToSystem(t *testing.T) {
	m, _ := newTestMachine(t, nil)

	p := testProposal("")
	require.NoError(t, m.Create(context.Background(), p))
	assert.Equal(t, models.SystemOwner, p.OwnerUserID)
}

func TestCreateInvalid(t *testing.T) {
	m, broker := newTestMachine(t, nil)

	p := testProposal("user-1")
	p.Title = ""
	err := m.Create(context.Background(), p)
	assert.ErrorIs(t, err, ErrInvalidState)

	log, _ := broker.EventLog(0)
	assert.Empty(t, log, "invalid proposals must not produce events")
}

func TestApprove(t *testing.T) {
	m, broker := newTestMachine(t, nil)
	ctx := context.Background()

	p := testProposal("user-1")
	require.NoError(t, m.Create(ctx, p))

	approved, err := m.Approve(ctx, p.ID, "user-1", nil)
	require.NoError(t, err)
	assert.Equal(t, models.StatusApproved, approved.Status)
	require.NotNil(t, approved.ApprovedAt)
	assert.Nil(t, approved.RejectedAt)
	assert.False(t, approved.EditedByUser)

	env := lastEvent(t, broker, messaging.EventProposalApproved)
	var ev models.ProposalApprovedEvent
	require.NoError(t, env.DecodeData(&ev))
	assert.Equal(t, p.ID, ev.ProposalID)
	assert.Equal(t, "user-1", ev.ApprovedBy)
	require.Len(t, ev.Changes, 1)
	assert.Equal(t, "docs/getting-started.md", ev.Changes[0].FilePath)
}

func TestApproveWithEditedChanges(t *testing.T) {
	m, broker := newTestMachine(t, nil)
	ctx := context.Background()

	p := testProposal("user-1")
	require.NoError(t, m.Create(ctx, p))

	edited := []models.ProposedChange{
		{FilePath: "docs/getting-started.md", ChangeType: models.ChangeUpdate, After: "# Quick Start\n"},
		{FilePath: "docs/faq.md", ChangeType: models.ChangeCreate, After: "# FAQ\n"},
	}
	approved, err := m.Approve(ctx, p.ID, "user-1", edited)
	require.NoError(t, err)
	assert.True(t, approved.EditedByUser)
	assert.Len(t, approved.Changes, 2)

	env := lastEvent(t, broker, messaging.EventProposalApproved)
	var ev models.ProposalApprovedEvent
	require.NoError(t, env.DecodeData(&ev))
	assert.True(t, ev.EditedByUser)
	require.Len(t, ev.Changes, 2)
	assert.Equal(t, "docs/faq.md", ev.Changes[1].FilePath)
}

func TestApproveInvalidEditedChanges(t *testing.T) {
	m, _ := newTestMachine(t, nil)
	ctx := context.Background()

	p := testProposal("user-1")
	require.NoError(t, m.Create(ctx, p))

	tests := []struct {
		name   string
		edited []models.ProposedChange
	}{
		{"missing path", []models.ProposedChange{{ChangeType: models.ChangeCreate}}},
		{"unknown type", []models.ProposedChange{{FilePath: "a.md", ChangeType: "rename"}}},
		{"duplicate path", []models.ProposedChange{
			{FilePath: "a.md", ChangeType: models.ChangeCreate},
			{FilePath: "a.md", ChangeType: models.ChangeUpdate},
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := m.Approve(ctx, p.ID, "user-1", tt.edited)
			assert.ErrorIs(t, err, ErrInvalidState)
		})
	}

	// Failed edits must not consume the pending state.
	approved, err := m.Approve(ctx, p.ID, "user-1", nil)
	require.NoError(t, err)
	assert.Equal(t, models.StatusApproved, approved.Status)
}

func TestApproveUnauthorized(t *testing.T) {
	m, _ := newTestMachine(t, nil)
	ctx := context.Background()

	p := testProposal("user-1")
	require.NoError(t, m.Create(ctx, p))

	_, err := m.Approve(ctx, p.ID, "user-2", nil)
	assert.ErrorIs(t, err, ErrUnauthorized)

	_, err = m.Reject(ctx, p.ID, "user-2", "nope")
	assert.ErrorIs(t, err, ErrUnauthorized)
}

func TestSystemOwnedDecidableByAnyone(t *testing.T) {
	m, _ := newTestMachine(t, nil)
	ctx := context.Background()

	p := testProposal("")
	require.NoError(t, m.Create(ctx, p))

	approved, err := m.Approve(ctx, p.ID, "user-9", nil)
	require.NoError(t, err)
	assert.Equal(t, models.StatusApproved, approved.Status)
}

func TestApproveAlreadyDecided(t *testing.T) {
	m, _ := newTestMachine(t, nil)
	ctx := context.Background()

	p := testProposal("user-1")
	require.NoError(t, m.Create(ctx, p))

	_, err := m.Reject(ctx, p.ID, "user-1", "not needed")
	require.NoError(t, err)

	_, err = m.Approve(ctx, p.ID, "user-1", nil)
	assert.ErrorIs(t, err, ErrInvalidTransition)
	_, err = m.Reject(ctx, p.ID, "user-1", "again")
	assert.ErrorIs(t, err, ErrInvalidTransition)
}

func TestApproveNotFound(t *testing.T) {
	m, _ := newTestMachine(t, nil)

	_, err := m.Approve(context.Background(), "no-such-id", "user-1", nil)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestConcurrentDecisionsSingleWinner(t *testing.T) {
	m, broker := newTestMachine(t, nil)
	ctx := context.Background()

	p := testProposal("")
	require.NoError(t, m.Create(ctx, p))

	const racers = 16
	var wg sync.WaitGroup
	errs := make([]error, racers)
	for i := 0; i < racers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			if i%2 == 0 {
				_, errs[i] = m.Approve(ctx, p.ID, fmt.Sprintf("user-%d", i), nil)
			} else {
				_, errs[i] = m.Reject(ctx, p.ID, fmt.Sprintf("user-%d", i), "lost the race")
			}
		}(i)
	}
	wg.Wait()

	wins := 0
	for _, err := range errs {
		if err == nil {
			wins++
		} else {
			assert.ErrorIs(t, err, ErrInvalidTransition)
		}
	}
	assert.Equal(t, 1, wins, "exactly one decision must win")

	// Exactly one decision event alongside the created event.
	log, err := broker.EventLog(0)
	require.NoError(t, err)
	decisions := 0
	for _, env := range log {
		if env.EventType == messaging.EventProposalApproved || env.EventType == messaging.EventProposalRejected {
			decisions++
		}
	}
	assert.Equal(t, 1, decisions)
}

func TestReject(t *testing.T) {
	m, broker := newTestMachine(t, nil)
	ctx := context.Background()

	p := testProposal("user-1")
	require.NoError(t, m.Create(ctx, p))

	rejected, err := m.Reject(ctx, p.ID, "user-1", "touches generated files")
	require.NoError(t, err)
	assert.Equal(t, models.StatusRejected, rejected.Status)
	assert.Equal(t, "touches generated files", rejected.RejectionReason)
	require.NotNil(t, rejected.RejectedAt)
	assert.Nil(t, rejected.ApprovedAt)

	env := lastEvent(t, broker, messaging.EventProposalRejected)
	var ev models.ProposalRejectedEvent
	require.NoError(t, env.DecodeData(&ev))
	assert.Equal(t, "touches generated files", ev.Reason)
	assert.Equal(t, "user-1", ev.RejectedBy)
}

func TestDelete(t *testing.T) {
	m, _ := newTestMachine(t, nil)
	ctx := context.Background()

	t.Run("owner deletes pending", func(t *testing.T) {
		p := testProposal("user-1")
		require.NoError(t, m.Create(ctx, p))
		require.NoError(t, m.Delete(ctx, p.ID, "user-1"))
		_, err := m.Approve(ctx, p.ID, "user-1", nil)
		assert.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("non-owner denied", func(t *testing.T) {
		p := testProposal("user-1")
		require.NoError(t, m.Create(ctx, p))
		err := m.Delete(ctx, p.ID, "user-2")
		assert.ErrorIs(t, err, ErrUnauthorized)
	})

	t.Run("decided proposal not deletable", func(t *testing.T) {
		p := testProposal("user-1")
		require.NoError(t, m.Create(ctx, p))
		_, err := m.Approve(ctx, p.ID, "user-1", nil)
		require.NoError(t, err)
		err = m.Delete(ctx, p.ID, "user-1")
		assert.ErrorIs(t, err, ErrInvalidState)
	})
}

func TestDecisionSignature(t *testing.T) {
	signer := audit.NewEventSigner("test-signing-key")
	m, broker := newTestMachine(t, signer)
	ctx := context.Background()

	p := testProposal("user-1")
	require.NoError(t, m.Create(ctx, p))

	approved, err := m.Approve(ctx, p.ID, "user-1", nil)
	require.NoError(t, err)

	env := lastEvent(t, broker, messaging.EventProposalApproved)
	sig, ok := env.Metadata[audit.SignatureMetadataKey]
	require.True(t, ok, "decision events must carry a signature when a signer is configured")

	payload, err := json.Marshal(models.ProposalApprovedEvent{
		ProposalID:   approved.ID,
		WorkspaceID:  approved.WorkspaceID,
		Title:        approved.Title,
		ApprovedBy:   "user-1",
		EditedByUser: approved.EditedByUser,
		Changes:      approved.Changes,
		ApprovedAt:   *approved.ApprovedAt,
	})
	require.NoError(t, err)
	assert.True(t, signer.Verify(approved.ID, *approved.ApprovedAt, "user-1", payload, sig))

	// Created events are unsigned.
	created := lastEvent(t, broker, messaging.EventProposalCreated)
	assert.NotContains(t, created.Metadata, audit.SignatureMetadataKey)
}

func TestDecisionTimestampsMutuallyExclusive(t *testing.T) {
	m, _ := newTestMachine(t, nil)
	ctx := context.Background()

	a := testProposal("user-1")
	require.NoError(t, m.Create(ctx, a))
	approved, err := m.Approve(ctx, a.ID, "user-1", nil)
	require.NoError(t, err)
	assert.NotNil(t, approved.ApprovedAt)
	assert.Nil(t, approved.RejectedAt)
	assert.WithinDuration(t, time.Now().UTC(), *approved.ApprovedAt, 5*time.Second)

	r := testProposal("user-1")
	require.NoError(t, m.Create(ctx, r))
	rejected, err := m.Reject(ctx, r.ID, "user-1", "no")
	require.NoError(t, err)
	assert.Nil(t, rejected.ApprovedAt)
	assert.NotNil(t, rejected.RejectedAt)
}
