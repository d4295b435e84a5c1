// Package channels defines the adapter contract every provider
// integration implements, plus the error type shared by all of them.
package channels

import (
	"context"

	"github.com/crosswire/crosswire/pkg/models"
)

// Adapter is a provider integration seen from the bus. Inbound traffic
// arrives through webhooks or polling outside this interface; the bus
// only needs identity and outbound delivery.
type Adapter interface {
	// ChannelID returns the configured channel instance id.
	ChannelID() string

	// Send delivers an outbound message to the provider.
	Send(ctx context.Context, msg *models.OutboundMessage) error
}

// Runner is implemented by adapters with their own ingestion loop,
// such as the email poller. Webhook-only adapters do not need it.
type Runner interface {
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
}
