package messaging

// Topic names group related event types into logical channels.
// The durable backend maps each topic to a JetStream stream.
const (
	// TopicProposals carries proposal lifecycle events.
	TopicProposals = "proposals-events"

	// TopicGit carries version-control application and rollback events.
	TopicGit = "git-events"
)

// Event type constants follow the pattern {entity}.{action}.{version}.
// Subscriptions match on the exact string.
const (
	// Proposal lifecycle events - published by the state machine
	EventProposalCreated  = "proposal.created.v1"  // New proposal stored, status=pending
	EventProposalApproved = "proposal.approved.v1" // Carries the final (possibly edited) change list
	EventProposalRejected = "proposal.rejected.v1" // Carries the rejection reason

	// Git events - published by the application engine
	EventGitCommit      = "git.commit.v1"       // Proposal applied and committed
	EventGitApplyFailed = "git.apply.failed.v1" // Application failed; approval stands
	EventGitRollback    = "git.rollback.v1"     // Rollback point consumed
)

// TopicFor returns the topic an event type belongs to, or "" for an
// unrecognized event type.
func TopicFor(eventType string) string {
	switch eventType {
	case EventProposalCreated, EventProposalApproved, EventProposalRejected:
		return TopicProposals
	case EventGitCommit, EventGitApplyFailed, EventGitRollback:
		return TopicGit
	}
	return ""
}
