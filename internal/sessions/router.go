package sessions

import (
	"context"
	"fmt"
	"strings"

	"github.com/crosswire/crosswire/internal/manifest"
	"github.com/crosswire/crosswire/pkg/models"
)

// Scope mirrors the manifest session scope at the routing layer.
type Scope string

const (
	ScopeUser             Scope = "user"
	ScopeUserConversation Scope = "user_conversation"
)

// Key identifies the session slot a message routes to. The string form
// is frozen at v1: "{channel_id}:{user_key}" for user scope and
// "{channel_id}:{user_key}:{conversation_key}" for conversation scope.
type Key struct {
	ChannelID       string
	UserKey         string
	ConversationKey string
	Scope           Scope
}

// String renders the frozen v1 lookup key.
func (k Key) String() string {
	if k.Scope == ScopeUserConversation && k.ConversationKey != "" {
		return k.ChannelID + ":" + k.UserKey + ":" + k.ConversationKey
	}
	return k.ChannelID + ":" + k.UserKey
}

// ComputeLookupKey builds the session key for an inbound message under
// the given scope. Conversation scope without a conversation key falls
// back to user scope, so DMs on threaded channels still resolve.
func ComputeLookupKey(msg *models.InboundMessage, scope Scope) Key {
	k := Key{
		ChannelID: msg.ChannelID,
		UserKey:   msg.UserKey,
		Scope:     ScopeUser,
	}
	if scope == ScopeUserConversation && msg.ConversationKey != "" {
		k.ConversationKey = msg.ConversationKey
		k.Scope = ScopeUserConversation
	}
	return k
}

// ParseLookupKey splits a serialized v1 key back into its parts.
// Conversation keys may themselves contain colons, so only the first
// two separators are structural.
func ParseLookupKey(s string) (Key, error) {
	parts := strings.SplitN(s, ":", 3)
	if len(parts) < 2 || parts[0] == "" || parts[1] == "" {
		return Key{}, fmt.Errorf("malformed session key %q", s)
	}
	k := Key{ChannelID: parts[0], UserKey: parts[1], Scope: ScopeUser}
	if len(parts) == 3 && parts[2] != "" {
		k.ConversationKey = parts[2]
		k.Scope = ScopeUserConversation
	}
	return k, nil
}

// titleHintMax caps the auto-generated session title.
const titleHintMax = 50

// TitleHint derives a session title from the first message text.
func TitleHint(text string) string {
	text = strings.TrimSpace(text)
	if text == "" {
		return ""
	}
	runes := []rune(text)
	if len(runes) <= titleHintMax {
		return text
	}
	return string(runes[:titleHintMax-3]) + "..."
}

// Router resolves inbound messages to sessions, creating one lazily
// when the scope key has no active session.
type Router struct {
	store    *Store
	registry *manifest.Registry
}

// NewRouter wires a router over the session store and manifest registry.
func NewRouter(store *Store, registry *manifest.Registry) *Router {
	return &Router{store: store, registry: registry}
}

// KeyFor computes the lookup key for msg using the channel manifest's
// declared scope. Unknown channels default to user scope.
func (r *Router) KeyFor(msg *models.InboundMessage) Key {
	scope := ScopeUser
	if r.registry != nil {
		if m, err := r.registry.Get(msg.ChannelID); err == nil &&
			m.SessionScope == manifest.ScopeUserConversation {
			scope = ScopeUserConversation
		}
	}
	return ComputeLookupKey(msg, scope)
}

// Resolve returns the active session for msg, creating one titled from
// the message text when none exists.
func (r *Router) Resolve(ctx context.Context, msg *models.InboundMessage) (*Session, error) {
	key := r.KeyFor(msg)
	sess, err := r.store.GetActiveSession(ctx, key)
	if err == nil {
		return sess, nil
	}
	if err != ErrNoActiveSession {
		return nil, err
	}
	return r.store.CreateSession(ctx, key, TitleHint(msg.Text))
}
