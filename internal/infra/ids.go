package infra

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// NewSessionID generates a session identifier.
func NewSessionID() string {
	return "sess_" + uuid.NewString()
}

// NewEventID generates an identifier for audit and channel events.
func NewEventID() string {
	return uuid.NewString()
}

// OutboundContextID builds the synthetic processing-context id used for
// outbound messages, which have no provider message id yet.
func OutboundContextID(channelID string) string {
	return fmt.Sprintf("out_%s_%d", channelID, time.Now().UTC().Unix())
}
