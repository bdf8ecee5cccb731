package logging

import "log/slog"

// Common field names for consistent logging across components.
const (
	FieldComponent  = "component"
	FieldEventID    = "event_id"
	FieldEventType  = "event_type"
	FieldProposalID = "proposal_id"
	FieldRollbackID = "rollback_id"
	FieldWorkspace  = "workspace_id"
	FieldAgentID    = "agent_id"
	FieldBranch     = "branch"
	FieldCommit     = "commit"
	FieldError      = "error"
	FieldMethod     = "method"
	FieldPath       = "path"
	FieldStatus     = "status"
	FieldDuration   = "duration_ms"
)

// Component returns a slog attribute for the component name.
func Component(name string) slog.Attr {
	return slog.String(FieldComponent, name)
}

// EventID returns a slog attribute for an event ID.
func EventID(id string) slog.Attr {
	return slog.String(FieldEventID, id)
}

// EventType returns a slog attribute for a versioned event type.
func EventType(t string) slog.Attr {
	return slog.String(FieldEventType, t)
}

// ProposalID returns a slog attribute for a proposal ID.
func ProposalID(id string) slog.Attr {
	return slog.String(FieldProposalID, id)
}

// RollbackID returns a slog attribute for a rollback point ID.
func RollbackID(id string) slog.Attr {
	return slog.String(FieldRollbackID, id)
}

// Workspace returns a slog attribute for a workspace ID.
func Workspace(id string) slog.Attr {
	return slog.String(FieldWorkspace, id)
}

// AgentID returns a slog attribute for an agent ID.
func AgentID(id string) slog.Attr {
	return slog.String(FieldAgentID, id)
}

// Branch returns a slog attribute for a git branch name.
func Branch(name string) slog.Attr {
	return slog.String(FieldBranch, name)
}

// Commit returns a slog attribute for a git commit hash.
func Commit(hash string) slog.Attr {
	return slog.String(FieldCommit, hash)
}

// Error returns a slog attribute for an error.
func Error(err error) slog.Attr {
	return slog.String(FieldError, err.Error())
}
