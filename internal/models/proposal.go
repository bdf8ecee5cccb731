// Package models defines the core Draftline data types: change proposals,
// their lifecycle states, and rollback points.
package models

import (
	"fmt"
	"time"
)

// ProposalStatus is the lifecycle state of a change proposal.
// pending is the only non-terminal state.
type ProposalStatus string

const (
	StatusPending  ProposalStatus = "pending"
	StatusApproved ProposalStatus = "approved"
	StatusRejected ProposalStatus = "rejected"
)

// Valid reports whether s is a known status value.
func (s ProposalStatus) Valid() bool {
	switch s {
	case StatusPending, StatusApproved, StatusRejected:
		return true
	}
	return false
}

// Terminal reports whether s permits no further transitions.
func (s ProposalStatus) Terminal() bool {
	return s == StatusApproved || s == StatusRejected
}

// ChangeType classifies a single proposed file change.
type ChangeType string

const (
	ChangeCreate ChangeType = "create"
	ChangeUpdate ChangeType = "update"
	ChangeDelete ChangeType = "delete"
)

// SystemOwner is the sentinel owner for agent-originated proposals that need
// no specific human owner; any caller may decide them.
const SystemOwner = "system"

// ProposedChange is one file mutation within a proposal. Changes apply in
// list order.
type ProposedChange struct {
	FilePath   string     `json:"file_path"`
	ChangeType ChangeType `json:"change_type"`

	// Before and After carry full file contents where available.
	Before string `json:"before,omitempty"`
	After  string `json:"after,omitempty"`

	// Diff is optional unified diff text for this file.
	Diff string `json:"diff,omitempty"`
}

// Proposal is a structured, reviewable set of file changes submitted by an
// agent, subject to explicit approval before any repository mutation occurs.
type Proposal struct {
	ID          string `json:"id"`
	WorkspaceID string `json:"workspace_id"`
	AgentID     string `json:"agent_id"`

	// OwnerUserID is the human who may decide this proposal, or SystemOwner.
	OwnerUserID string `json:"owner_user_id"`

	Title       string           `json:"title"`
	Description string           `json:"description,omitempty"`
	Changes     []ProposedChange `json:"changes"`

	// Diff is the aggregate unified diff across all changes.
	Diff string `json:"diff,omitempty"`

	Status ProposalStatus `json:"status"`

	// EditedByUser is true when the approved change set was edited by the
	// approver and overrides the originally proposed changes.
	EditedByUser bool `json:"edited_by_user,omitempty"`

	// RejectionReason is set only on rejected proposals.
	RejectionReason string `json:"rejection_reason,omitempty"`

	CreatedAt  time.Time  `json:"created_at"`
	UpdatedAt  time.Time  `json:"updated_at"`
	ApprovedAt *time.Time `json:"approved_at,omitempty"`
	RejectedAt *time.Time `json:"rejected_at,omitempty"`
}

// Validate checks the fields required to store a proposal.
func (p *Proposal) Validate() error {
	switch {
	case p.ID == "":
		return fmt.Errorf("proposal id is required")
	case p.WorkspaceID == "":
		return fmt.Errorf("workspace_id is required")
	case p.AgentID == "":
		return fmt.Errorf("agent_id is required")
	case p.Title == "":
		return fmt.Errorf("title is required")
	}
	return ValidateChanges(p.Changes)
}

// ValidateChanges checks a change list: every entry needs a file path and a
// known change type, and no path may appear twice. Edited change sets
// accompanying an approval pass through the same checks as original ones.
func ValidateChanges(changes []ProposedChange) error {
	seen := make(map[string]struct{}, len(changes))
	for i, c := range changes {
		if c.FilePath == "" {
			return fmt.Errorf("change %d: file_path is required", i)
		}
		switch c.ChangeType {
		case ChangeCreate, ChangeUpdate, ChangeDelete:
		default:
			return fmt.Errorf("change %d: unknown change_type %q", i, c.ChangeType)
		}
		if _, dup := seen[c.FilePath]; dup {
			return fmt.Errorf("change %d: duplicate file_path %q", i, c.FilePath)
		}
		seen[c.FilePath] = struct{}{}
	}
	return nil
}

// ProposalFilter narrows a proposal listing. Zero values mean "any".
type ProposalFilter struct {
	WorkspaceID string
	Status      ProposalStatus
	Owner       string
	Limit       int
}

// ProposalStats aggregates proposal counts for read-only views.
type ProposalStats struct {
	Total    int            `json:"total"`
	ByStatus map[string]int `json:"by_status"`
	ByAgent  map[string]int `json:"by_agent"`
}
