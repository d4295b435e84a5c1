// Package security enforces per-channel security policy and verifies
// provider webhook signatures. Policy checks run inside the middleware
// chain; signature verification happens at the HTTP boundary before any
// payload is parsed.
package security

import (
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/crosswire/crosswire/pkg/models"
)

// PolicyMode restricts what a channel may ask the backend to do.
type PolicyMode string

const (
	// ModeChatOnly permits conversational traffic only.
	ModeChatOnly PolicyMode = "chat_only"

	// ModeChatExecRestricted additionally permits a whitelisted set of
	// execute-style commands.
	ModeChatExecRestricted PolicyMode = "chat_exec_restricted"
)

// Violation types, enumerated.
const (
	ViolationOperationDenied       = "operation_denied"
	ViolationCommandNotWhitelisted = "command_not_whitelisted"
	ViolationRateLimitExceeded     = "rate_limit_exceeded"
	ViolationInvalidToken          = "invalid_token"
	ViolationRemoteExposure        = "remote_exposure_warning"
)

// violationRingSize bounds the in-memory violation history.
const violationRingSize = 1000

// Policy is the per-channel security policy.
type Policy struct {
	Mode               PolicyMode `json:"mode" yaml:"mode"`
	AllowExecute       bool       `json:"allow_execute" yaml:"allow_execute"`
	AllowedCommands    []string   `json:"allowed_commands" yaml:"allowed_commands"`
	RequireAdminToken  bool       `json:"require_admin_token" yaml:"require_admin_token"`
	AdminTokenHash     string     `json:"admin_token_hash,omitempty" yaml:"admin_token_hash"`
	AllowedOperations  []string   `json:"allowed_operations" yaml:"allowed_operations"`
	RateLimitPerMinute int        `json:"rate_limit_per_minute" yaml:"rate_limit_per_minute"`
	BlockOnViolation   bool       `json:"block_on_violation" yaml:"block_on_violation"`
}

// DefaultPolicy returns the restrictive default applied to channels
// without an explicit policy.
func DefaultPolicy() *Policy {
	return &Policy{
		Mode:               ModeChatOnly,
		AllowExecute:       false,
		AllowedCommands:    []string{"/help", "/session"},
		AllowedOperations:  []string{"chat"},
		RateLimitPerMinute: 20,
		BlockOnViolation:   true,
	}
}

// Normalize enforces the policy invariants: chat_only implies no execute,
// and "chat" is always an allowed operation.
func (p *Policy) Normalize() {
	if p.Mode == "" {
		p.Mode = ModeChatOnly
	}
	if p.Mode == ModeChatOnly {
		p.AllowExecute = false
	}
	for _, op := range p.AllowedOperations {
		if op == "chat" {
			return
		}
	}
	p.AllowedOperations = append(p.AllowedOperations, "chat")
}

// AllowsOperation reports whether the named operation is permitted.
func (p *Policy) AllowsOperation(op string) bool {
	for _, allowed := range p.AllowedOperations {
		if allowed == op {
			return true
		}
	}
	return false
}

// ValidateAdminToken compares a presented token with the stored SHA-256
// hash in constant time.
func (p *Policy) ValidateAdminToken(token string) bool {
	if p.AdminTokenHash == "" {
		return false
	}
	sum := sha256.Sum256([]byte(token))
	presented := hex.EncodeToString(sum[:])
	return subtle.ConstantTimeCompare([]byte(presented), []byte(strings.ToLower(p.AdminTokenHash))) == 1
}

// Violation records a single policy breach.
type Violation struct {
	Type      string    `json:"type"`
	ChannelID string    `json:"channel_id"`
	UserKey   string    `json:"user_key"`
	MessageID string    `json:"message_id"`
	Detail    string    `json:"detail,omitempty"`
	Blocked   bool      `json:"blocked"`
	Timestamp time.Time `json:"timestamp"`
}

// ViolationSink receives violations for external audit.
type ViolationSink interface {
	RecordViolation(v *Violation)
}

// Engine evaluates inbound messages against per-channel policies and
// keeps a bounded ring of recent violations.
type Engine struct {
	mu       sync.RWMutex
	policies map[string]*Policy
	ring     []*Violation
	sink     ViolationSink
}

// NewEngine creates a policy engine. The sink may be nil.
func NewEngine(sink ViolationSink) *Engine {
	return &Engine{
		policies: make(map[string]*Policy),
		sink:     sink,
	}
}

// SetPolicy installs (or replaces) a channel's policy.
func (e *Engine) SetPolicy(channelID string, p *Policy) {
	p.Normalize()
	e.mu.Lock()
	e.policies[channelID] = p
	e.mu.Unlock()
}

// PolicyFor returns the channel's policy, falling back to the default.
func (e *Engine) PolicyFor(channelID string) *Policy {
	e.mu.RLock()
	p, ok := e.policies[channelID]
	e.mu.RUnlock()
	if !ok {
		return DefaultPolicy()
	}
	return p
}

// executeKeywords drive the heuristic scan for execute-style requests.
var executeKeywords = []string{"exec ", "execute ", "run command", "shell ", "subprocess"}

// CheckInbound evaluates a message. It returns the violation found, if
// any, and whether the message must be blocked. Execute-keyword hits are
// never blocking; non-whitelisted commands block when the policy says so.
func (e *Engine) CheckInbound(msg *models.InboundMessage) (*Violation, bool) {
	policy := e.PolicyFor(msg.ChannelID)
	text := strings.TrimSpace(msg.Text)

	if strings.HasPrefix(text, "/") {
		command := text
		if i := strings.IndexAny(text, " \t\n"); i > 0 {
			command = text[:i]
		}
		if !commandWhitelisted(command, policy.AllowedCommands) {
			v := e.record(&Violation{
				Type:      ViolationCommandNotWhitelisted,
				ChannelID: msg.ChannelID,
				UserKey:   msg.UserKey,
				MessageID: msg.MessageID,
				Detail:    fmt.Sprintf("command %s not in allowlist", command),
				Blocked:   policy.BlockOnViolation,
			})
			return v, policy.BlockOnViolation
		}
	}

	if !policy.AllowsOperation("execute") {
		lowered := strings.ToLower(text)
		for _, kw := range executeKeywords {
			if strings.Contains(lowered, kw) {
				v := e.record(&Violation{
					Type:      ViolationOperationDenied,
					ChannelID: msg.ChannelID,
					UserKey:   msg.UserKey,
					MessageID: msg.MessageID,
					Detail:    "execute-style request on a chat-only channel",
					Blocked:   false,
				})
				// Warning only: execute heuristics never reject.
				return v, false
			}
		}
	}

	return nil, false
}

// RecentViolations returns up to limit most recent violations.
func (e *Engine) RecentViolations(limit int) []*Violation {
	e.mu.RLock()
	defer e.mu.RUnlock()

	if limit <= 0 || limit > len(e.ring) {
		limit = len(e.ring)
	}
	out := make([]*Violation, limit)
	copy(out, e.ring[len(e.ring)-limit:])
	return out
}

func (e *Engine) record(v *Violation) *Violation {
	v.Timestamp = time.Now().UTC()

	e.mu.Lock()
	e.ring = append(e.ring, v)
	if len(e.ring) > violationRingSize {
		e.ring = e.ring[len(e.ring)-violationRingSize:]
	}
	sink := e.sink
	e.mu.Unlock()

	if sink != nil {
		sink.RecordViolation(v)
	}
	return v
}

func commandWhitelisted(command string, allowed []string) bool {
	for _, prefix := range allowed {
		if strings.HasPrefix(command, prefix) {
			return true
		}
	}
	return false
}
