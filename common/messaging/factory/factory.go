// Package factory constructs a messaging.Broker from an explicit BrokerKind.
// Call sites receive the uniform Broker interface and never branch on which
// backend they got.
package factory

import (
	"context"
	"fmt"

	"github.com/draftline-systems/draftline/common/logging"
	"github.com/draftline-systems/draftline/common/messaging"
	"github.com/draftline-systems/draftline/common/messaging/memory"
	natsbroker "github.com/draftline-systems/draftline/common/messaging/nats"
)

// New returns the broker implementation selected by cfg.Kind.
func New(ctx context.Context, cfg messaging.BrokerConfig, obs messaging.Observer, logger *logging.Logger) (messaging.Broker, error) {
	switch cfg.Kind {
	case messaging.BrokerMemory:
		return memory.New(memory.Config{
			LogCapacity:    cfg.LogCapacity,
			HandlerTimeout: cfg.HandlerTimeout,
			Observer:       obs,
		}, logger), nil

	case messaging.BrokerNATS:
		return natsbroker.New(ctx, natsbroker.Config{
			URL:            cfg.URL,
			Name:           cfg.Name,
			MaxReconnects:  cfg.MaxReconnects,
			ReconnectWait:  cfg.ReconnectWait,
			HandlerTimeout: cfg.HandlerTimeout,
			Observer:       obs,
		}, logger)

	default:
		return nil, fmt.Errorf("unknown broker kind %q", cfg.Kind)
	}
}
