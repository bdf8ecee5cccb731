package models

import "time"

// RollbackPoint is a persisted record enabling a single reversal of one
// applied proposal's commit. It transitions rolled_back false→true at most
// once; a second rollback attempt is an error, not a no-op.
type RollbackPoint struct {
	RollbackID string `json:"rollback_id"`
	Branch     string `json:"branch"`
	CommitHash string `json:"commit_hash"`
	ProposalID string `json:"proposal_id"`

	// CanRollback turns false once the branch has been merged into a
	// protected branch; merging is observed externally.
	CanRollback bool `json:"can_rollback"`

	// RolledBack is false until the point is consumed.
	RolledBack bool `json:"rolled_back"`

	CreatedAt    time.Time  `json:"created_at"`
	RolledBackAt *time.Time `json:"rolled_back_at,omitempty"`
}
