package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validProposal() *Proposal {
	return &Proposal{
		ID:          "p1",
		WorkspaceID: "ws-1",
		AgentID:     "agent-docs",
		OwnerUserID: "user-1",
		Title:       "Add docs",
		Status:      StatusPending,
		Changes: []ProposedChange{
			{FilePath: "docs/a.md", ChangeType: ChangeCreate, After: "a\n"},
		},
	}
}

func TestProposalValidate(t *testing.T) {
	require.NoError(t, validProposal().Validate())

	tests := []struct {
		name   string
		mutate func(*Proposal)
	}{
		{"missing id", func(p *Proposal) { p.ID = "" }},
		{"missing workspace", func(p *Proposal) { p.WorkspaceID = "" }},
		{"missing agent", func(p *Proposal) { p.AgentID = "" }},
		{"missing title", func(p *Proposal) { p.Title = "" }},
		{"change without path", func(p *Proposal) { p.Changes[0].FilePath = "" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := validProposal()
			tt.mutate(p)
			assert.Error(t, p.Validate())
		})
	}
}

func TestValidateChanges(t *testing.T) {
	tests := []struct {
		name    string
		changes []ProposedChange
		wantErr bool
	}{
		{"empty list", nil, false},
		{
			"all change types",
			[]ProposedChange{
				{FilePath: "a.md", ChangeType: ChangeCreate},
				{FilePath: "b.md", ChangeType: ChangeUpdate},
				{FilePath: "c.md", ChangeType: ChangeDelete},
			},
			false,
		},
		{"unknown type", []ProposedChange{{FilePath: "a.md", ChangeType: "rename"}}, true},
		{"missing path", []ProposedChange{{ChangeType: ChangeCreate}}, true},
		{
			"duplicate path",
			[]ProposedChange{
				{FilePath: "a.md", ChangeType: ChangeCreate},
				{FilePath: "a.md", ChangeType: ChangeUpdate},
			},
			true,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateChanges(tt.changes)
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestProposalStatus(t *testing.T) {
	assert.True(t, StatusPending.Valid())
	assert.True(t, StatusApproved.Valid())
	assert.True(t, StatusRejected.Valid())
	assert.False(t, ProposalStatus("open").Valid())

	assert.False(t, StatusPending.Terminal())
	assert.True(t, StatusApproved.Terminal())
	assert.True(t, StatusRejected.Terminal())
}
