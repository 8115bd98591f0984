// ABOUTME: Registry maps conversation ids to live Conversation objects
// ABOUTME: Owns creation, lookup, deletion, and identity-preserving re-keying

package conversation

import (
	"errors"
	"log/slog"
	"strings"
	"sync"

	"github.com/google/uuid"

	"github.com/chatrelay/chatrelay/internal/activity"
)

// ErrNotFound is returned when a conversation id does not resolve.
var ErrNotFound = errors.New("conversation not found")

// ErrMissingUser is returned when a conversation is created without a user member.
var ErrMissingUser = errors.New("missing user member")

// Registry holds all active conversations. It is an explicit instance
// constructed once at process start and injected into handlers.
type Registry struct {
	mu            sync.RWMutex
	conversations map[string]*Conversation

	locale string
	logger *slog.Logger
}

// NewRegistry creates a registry. locale is the emulator-wide default applied
// to posted activities that carry none. Pass nil logger for default.
func NewRegistry(locale string, logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		conversations: make(map[string]*Conversation),
		locale:        locale,
		logger:        logger.With("component", "registry"),
	}
}

// NewConversation creates and registers a conversation. When conversationID
// is empty a fresh id of the form `<token>|<mode>` is generated; tagging the
// mode into the id lets downstream code recover the mode from the id alone.
func (r *Registry) NewConversation(endpoint *BotEndpoint, user activity.ChannelAccount, conversationID, mode string) (*Conversation, error) {
	if user.ID == "" && user.Name == "" {
		return nil, ErrMissingUser
	}
	if mode == "" {
		// A supplied id may carry the mode tag from an earlier session.
		mode = ModeFromConversationID(conversationID)
	}
	if conversationID == "" {
		conversationID = strings.ReplaceAll(uuid.New().String(), "-", "") + "|" + mode
	}

	c := newConversation(endpoint, user, conversationID, mode, r.locale, r.logger)

	r.mu.Lock()
	r.conversations[conversationID] = c
	r.mu.Unlock()

	r.logger.Debug("conversation created", "conversation_id", conversationID, "mode", mode)
	return c, nil
}

// ConversationByID returns the conversation or ErrNotFound. It never panics;
// callers must check for absence.
func (r *Registry) ConversationByID(id string) (*Conversation, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.conversations[id]
	if !ok {
		return nil, ErrNotFound
	}
	return c, nil
}

// DeleteConversation removes the entry. Deleting an absent id is a no-op.
func (r *Registry) DeleteConversation(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.conversations[id]; ok {
		delete(r.conversations, id)
		r.logger.Debug("conversation deleted", "conversation_id", id)
	}
}

// Rekey changes a conversation's id (and optionally its user id) in place.
// The old key is removed and the same object is reinserted under the new key,
// so references captured before re-keying stay valid and observe the new
// identity. The watermark resets to 0.
func (r *Registry) Rekey(oldID, newID, userID string) (*Conversation, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	c, ok := r.conversations[oldID]
	if !ok {
		return nil, ErrNotFound
	}

	// Delete before reinsert so the registry never holds two keys to the
	// same object.
	delete(r.conversations, oldID)
	c.rekey(newID, userID)
	r.conversations[newID] = c

	r.logger.Debug("conversation re-keyed", "old_id", oldID, "new_id", newID)
	return c, nil
}

// Count returns the number of active conversations.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.conversations)
}
