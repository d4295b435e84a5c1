// Package middleware implements the ordered processing chain every
// message crosses on the bus: dedupe, rate limit, audit, policy.
package middleware

import (
	"context"

	"github.com/crosswire/crosswire/pkg/models"
)

// Middleware is one stage of the processing chain. Implementations
// mutate the processing context to reject or annotate a message; a
// returned error converts to an error status on the bus. Stages that do
// not care about a direction leave the context untouched.
type Middleware interface {
	Name() string
	ProcessInbound(ctx context.Context, msg *models.InboundMessage, pc *models.ProcessingContext) error
	ProcessOutbound(ctx context.Context, msg *models.OutboundMessage, pc *models.ProcessingContext) error
}
