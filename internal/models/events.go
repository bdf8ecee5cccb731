package models

import "time"

// Event payloads published on the broker. The approved event carries the
// final change list so downstream consumers never re-read the store.

// ProposalCreatedEvent announces a newly stored proposal.
type ProposalCreatedEvent struct {
	ProposalID  string `json:"proposal_id"`
	WorkspaceID string `json:"workspace_id"`
	AgentID     string `json:"agent_id"`
	OwnerUserID string `json:"owner_user_id"`
	Title       string `json:"title"`
}

// ProposalApprovedEvent carries everything the application engine needs.
type ProposalApprovedEvent struct {
	ProposalID   string           `json:"proposal_id"`
	WorkspaceID  string           `json:"workspace_id"`
	Title        string           `json:"title"`
	ApprovedBy   string           `json:"approved_by"`
	EditedByUser bool             `json:"edited_by_user"`
	Changes      []ProposedChange `json:"changes"`
	ApprovedAt   time.Time        `json:"approved_at"`
}

// ProposalRejectedEvent carries the rejection reason so agents can learn
// from the feedback.
type ProposalRejectedEvent struct {
	ProposalID  string    `json:"proposal_id"`
	WorkspaceID string    `json:"workspace_id"`
	RejectedBy  string    `json:"rejected_by"`
	Reason      string    `json:"reason"`
	RejectedAt  time.Time `json:"rejected_at"`
}

// GitCommitEvent announces a successfully applied proposal.
type GitCommitEvent struct {
	ProposalID   string   `json:"proposal_id"`
	Branch       string   `json:"branch"`
	CommitHash   string   `json:"commit_hash"`
	FilesChanged []string `json:"files_changed"`
	RollbackID   string   `json:"rollback_id"`
}

// GitApplyFailedEvent reports an application failure. The proposal's
// approved status stands; retry is a supervisor concern.
type GitApplyFailedEvent struct {
	ProposalID string `json:"proposal_id"`
	Error      string `json:"error"`
}

// GitRollbackEvent announces a consumed rollback point.
type GitRollbackEvent struct {
	RollbackID string `json:"rollback_id"`
	Branch     string `json:"branch"`
	CommitHash string `json:"commit_hash"`
	ProposalID string `json:"proposal_id"`
}
