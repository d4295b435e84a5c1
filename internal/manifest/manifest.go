// Package manifest loads and validates declarative channel manifests.
// A manifest describes one channel kind: its session scope, capabilities,
// webhook paths, required configuration fields, and security defaults.
package manifest

import (
	"fmt"
	"regexp"
)

// SessionScope decides how inbound messages map to sessions.
type SessionScope string

const (
	// ScopeUser keys sessions by (channel, user).
	ScopeUser SessionScope = "user"

	// ScopeUserConversation keys sessions by (channel, user, conversation).
	ScopeUserConversation SessionScope = "user_conversation"
)

// ConfigField declares one required or optional config entry.
type ConfigField struct {
	Key      string   `json:"key"`
	Label    string   `json:"label,omitempty"`
	Secret   bool     `json:"secret,omitempty"`
	Required bool     `json:"required"`
	Regex    string   `json:"regex,omitempty"`
	Options  []string `json:"options,omitempty"`

	compiled *regexp.Regexp
}

// SecurityDefaults seed the channel's policy when none is configured.
type SecurityDefaults struct {
	Mode               string   `json:"mode"`
	AllowExecute       bool     `json:"allow_execute"`
	AllowedCommands    []string `json:"allowed_commands,omitempty"`
	RateLimitPerMinute int      `json:"rate_limit_per_minute,omitempty"`
	RetentionDays      int      `json:"retention_days,omitempty"`
	RequireSignature   bool     `json:"require_signature"`
}

// ChannelManifest is the declarative description of a channel kind.
type ChannelManifest struct {
	ID               string           `json:"id"`
	DisplayName      string           `json:"display_name"`
	SessionScope     SessionScope     `json:"session_scope"`
	Capabilities     []string         `json:"capabilities,omitempty"`
	WebhookPaths     []string         `json:"webhook_paths,omitempty"`
	ConfigFields     []ConfigField    `json:"required_config_fields"`
	SecurityDefaults SecurityDefaults `json:"security_defaults"`
	SetupSteps       []string         `json:"setup_steps,omitempty"`
}

// Validate checks the manifest itself and compiles the field regexes.
// The compiled pattern is the same surface advertised to UIs.
func (m *ChannelManifest) Validate() error {
	if m.ID == "" {
		return fmt.Errorf("manifest: id is required")
	}
	switch m.SessionScope {
	case ScopeUser, ScopeUserConversation:
	case "":
		m.SessionScope = ScopeUser
	default:
		return fmt.Errorf("manifest %s: unknown session_scope %q", m.ID, m.SessionScope)
	}
	for i := range m.ConfigFields {
		f := &m.ConfigFields[i]
		if f.Key == "" {
			return fmt.Errorf("manifest %s: config field %d has no key", m.ID, i)
		}
		if f.Regex != "" {
			re, err := regexp.Compile(f.Regex)
			if err != nil {
				return fmt.Errorf("manifest %s: field %s regex: %w", m.ID, f.Key, err)
			}
			f.compiled = re
		}
	}
	return nil
}

// ValidateConfig runs a candidate configuration through the declared
// fields in order: required presence, regex match, option membership.
func (m *ChannelManifest) ValidateConfig(cfg map[string]string) error {
	for i := range m.ConfigFields {
		f := &m.ConfigFields[i]
		value, present := cfg[f.Key]

		if f.Required && (!present || value == "") {
			return fmt.Errorf("config field %s is required", f.Key)
		}
		if !present || value == "" {
			continue
		}
		if f.Regex != "" {
			if f.compiled == nil {
				re, err := regexp.Compile(f.Regex)
				if err != nil {
					return fmt.Errorf("config field %s regex: %w", f.Key, err)
				}
				f.compiled = re
			}
			if !f.compiled.MatchString(value) {
				return fmt.Errorf("config field %s does not match %s", f.Key, f.Regex)
			}
		}
		if len(f.Options) > 0 {
			found := false
			for _, opt := range f.Options {
				if value == opt {
					found = true
					break
				}
			}
			if !found {
				return fmt.Errorf("config field %s must be one of %v", f.Key, f.Options)
			}
		}
	}
	return nil
}
