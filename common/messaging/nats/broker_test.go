package nats

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/draftline-systems/draftline/common/messaging"
)

func TestConsumerNameFor(t *testing.T) {
	name := consumerNameFor("draftline-broker", messaging.EventProposalApproved)
	assert.Equal(t, "draftline-broker-proposal-approved-v1", name)

	// Durable names depend only on the client identity and the event type,
	// never on subscription order, so a restart resumes the same consumer.
	assert.Equal(t, name, consumerNameFor("draftline-broker", messaging.EventProposalApproved))

	assert.NotEqual(t, name, consumerNameFor("draftline-broker", messaging.EventProposalRejected))
	assert.NotEqual(t, name, consumerNameFor("other-service", messaging.EventProposalApproved))
}
