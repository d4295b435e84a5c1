package models

// ProcessingStatus drives middleware chain short-circuiting.
type ProcessingStatus string

const (
	// StatusContinue lets the next middleware run.
	StatusContinue ProcessingStatus = "continue"

	// StatusStop ends the chain without treating the message as rejected.
	StatusStop ProcessingStatus = "stop"

	// StatusReject drops the message (duplicate, rate limited, policy).
	StatusReject ProcessingStatus = "reject"

	// StatusError marks a processing failure.
	StatusError ProcessingStatus = "error"
)

// ProcessingMeta holds the named metadata fields middlewares are known to
// produce. Anything else goes into Extra.
type ProcessingMeta struct {
	DedupeReason      string         `json:"dedupe_reason,omitempty"`
	RateLimitCount    int            `json:"rate_limit_count,omitempty"`
	RateLimitMax      int            `json:"rate_limit_max,omitempty"`
	RateLimitWindowMS int64          `json:"rate_limit_window_ms,omitempty"`
	AuditEntryID      int64          `json:"audit_entry_id,omitempty"`
	Command           string         `json:"command,omitempty"`
	SecurityPolicy    string         `json:"security_policy,omitempty"`
	SecurityViolation string         `json:"security_violation,omitempty"`
	Extra             map[string]any `json:"extra,omitempty"`
}

// SetExtra records an overflow metadata value.
func (m *ProcessingMeta) SetExtra(key string, value any) {
	if m.Extra == nil {
		m.Extra = make(map[string]any)
	}
	m.Extra[key] = value
}

// ProcessingContext travels with a message through the middleware chain.
// Middlewares never mutate the message itself; all chain state lives here.
type ProcessingContext struct {
	MessageID string           `json:"message_id"`
	ChannelID string           `json:"channel_id"`
	Status    ProcessingStatus `json:"status"`
	Meta      ProcessingMeta   `json:"meta"`
	Err       error            `json:"-"`
}

// NewProcessingContext builds a context in the continue state.
func NewProcessingContext(messageID, channelID string) *ProcessingContext {
	return &ProcessingContext{
		MessageID: messageID,
		ChannelID: channelID,
		Status:    StatusContinue,
	}
}

// Reject marks the context rejected. The chain stops after the current
// middleware returns.
func (c *ProcessingContext) Reject() {
	c.Status = StatusReject
}

// Fail marks the context errored with the given cause.
func (c *ProcessingContext) Fail(err error) {
	c.Status = StatusError
	c.Err = err
}

// ShouldContinue reports whether the chain may keep running.
func (c *ProcessingContext) ShouldContinue() bool {
	return c.Status == StatusContinue
}
