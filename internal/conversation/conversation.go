// ABOUTME: Conversation is one active chat session between the local tester and a bot
// ABOUTME: Owns activity history, the monotonic watermark, and membership

package conversation

import (
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/chatrelay/chatrelay/internal/activity"
)

// Emulation modes for a conversation.
const (
	ModeLiveChat   = "livechat"
	ModeDebug      = "debug"
	ModeTranscript = "transcript"
)

// inspectOpenCommand is the command activity that opens the inspector view
// when a debug-mode conversation starts.
const inspectOpenCommand = "/INSPECT open"

// BotEndpoint is the bot's connection info. Conversations borrow a reference
// to it from endpoint configuration; they do not own it.
type BotEndpoint struct {
	ID          string `json:"id,omitempty"`
	BotID       string `json:"botId,omitempty"`
	BotURL      string `json:"botUrl,omitempty"`
	AppID       string `json:"msaAppId,omitempty"`
	AppPassword string `json:"msaPassword,omitempty"`
}

// Conversation represents one active chat session. All mutating operations
// take the conversation lock; handlers must finish registry and conversation
// mutations before doing any network I/O.
type Conversation struct {
	mu sync.Mutex

	conversationID string
	mode           string
	members        []activity.ChannelAccount
	user           activity.ChannelAccount
	botEndpoint    *BotEndpoint
	locale         string

	nextWatermark int
	history       []*activity.Activity

	logger *slog.Logger
}

// newConversation is called by the Registry only.
func newConversation(endpoint *BotEndpoint, user activity.ChannelAccount, conversationID, mode, locale string, logger *slog.Logger) *Conversation {
	if user.Name == "" {
		user.Name = "User"
	}
	user.Role = activity.RoleUser

	botID := "bot"
	if endpoint != nil && endpoint.BotID != "" {
		botID = endpoint.BotID
	}

	c := &Conversation{
		conversationID: conversationID,
		mode:           mode,
		user:           user,
		botEndpoint:    endpoint,
		locale:         locale,
		members: []activity.ChannelAccount{
			{ID: botID, Name: "Bot", Role: activity.RoleBot},
			{ID: user.ID, Name: user.Name, Role: activity.RoleUser},
		},
		logger: logger.With("conversation_id", conversationID),
	}
	return c
}

// ID returns the current conversation id.
func (c *Conversation) ID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conversationID
}

// Mode returns the conversation mode. Generated ids carry the mode as a
// suffix (`<token>|<mode>`) so it can be recovered from the id alone.
func (c *Conversation) Mode() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.mode
}

// User returns the human member record.
func (c *Conversation) User() activity.ChannelAccount {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.user
}

// Members returns a copy of the current member list.
func (c *Conversation) Members() []activity.ChannelAccount {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.membersLocked()
}

func (c *Conversation) membersLocked() []activity.ChannelAccount {
	out := make([]activity.ChannelAccount, len(c.members))
	copy(out, c.members)
	return out
}

// BotEndpoint returns the borrowed endpoint reference. May be nil.
func (c *Conversation) BotEndpoint() *BotEndpoint {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.botEndpoint
}

// NextWatermark returns the sequence number the next posted activity will get.
func (c *Conversation) NextWatermark() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.nextWatermark
}

// PostActivityToUser applies defaulting rules, assigns sequencing, appends the
// activity to history, and returns a receipt with the stored activity id.
func (c *Conversation) PostActivityToUser(a *activity.Activity) activity.ResourceResponse {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.postageLocked(c.user.ID, a)
	return activity.ResourceResponse{ID: a.ID}
}

// Postage assigns sequencing and routing fields and appends to history.
// recipientID is the member the activity is addressed to.
func (c *Conversation) Postage(recipientID string, a *activity.Activity) activity.ResourceResponse {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.postageLocked(recipientID, a)
	return activity.ResourceResponse{ID: a.ID}
}

// postageLocked is the single normalization point for posted activities.
// Defaults apply only when the field is absent; the nested wrapper role is
// forced unconditionally.
func (c *Conversation) postageLocked(recipientID string, a *activity.Activity) {
	if a.ID == "" {
		a.ID = uuid.New().String()
	}
	if a.Timestamp == nil {
		now := time.Now().UTC()
		a.Timestamp = &now
	}
	a.ChannelID = "emulator"
	a.Conversation = &activity.ConversationAccount{ID: c.conversationID}
	if a.From.ID == "" && c.botEndpoint != nil {
		a.From.ID = c.botEndpoint.BotID
	}
	if a.From.Name == "" {
		a.From.Name = "Bot"
	}
	if a.Recipient.ID == "" {
		a.Recipient.ID = recipientID
	}
	if a.Recipient.Role == "" {
		a.Recipient.Role = activity.RoleUser
	}
	if a.Locale == "" {
		a.Locale = c.locale
	}

	switch a.Name {
	case activity.NameReceivedActivity:
		a.ForceNestedRole(activity.RoleUser)
	case activity.NameSentActivity:
		a.ForceNestedRole(activity.RoleBot)
	}

	a.Sequence = c.nextWatermark
	c.nextWatermark++
	c.history = append(c.history, a)

	c.logger.Debug("activity posted",
		"activity_id", a.ID,
		"type", a.Type,
		"sequence", a.Sequence)
}

// ActivitiesSince returns all activities inserted at or after the given
// watermark, in insertion order, along with the watermark a poller should use
// on its next request.
func (c *Conversation) ActivitiesSince(watermark int) ([]*activity.Activity, int) {
	c.mu.Lock()
	defer c.mu.Unlock()

	out := make([]*activity.Activity, 0, len(c.history))
	for _, a := range c.history {
		if a.Sequence >= watermark {
			out = append(out, a)
		}
	}
	return out, c.nextWatermark
}

// SeedActivities posts the conversation's opening activities. Debug mode
// opens the inspector with a single command message; every other mode
// announces membership with a conversationUpdate. Extra activities (e.g. a
// replayed transcript) are posted afterwards in order.
func (c *Conversation) SeedActivities(extra ...*activity.Activity) []*activity.Activity {
	c.mu.Lock()
	opening := c.openingActivityLocked()
	c.postageLocked(c.user.ID, opening)
	posted := []*activity.Activity{opening}
	for _, a := range extra {
		c.postageLocked(c.user.ID, a)
		posted = append(posted, a)
	}
	c.mu.Unlock()
	return posted
}

func (c *Conversation) openingActivityLocked() *activity.Activity {
	if c.mode == ModeDebug {
		return &activity.Activity{
			Type: activity.TypeMessage,
			Text: inspectOpenCommand,
			From: activity.ChannelAccount{ID: c.user.ID, Name: c.user.Name, Role: activity.RoleUser},
		}
	}
	return &activity.Activity{
		Type:           activity.TypeConversationUpdate,
		MembersAdded:   c.membersLocked(),
		MembersRemoved: []activity.ChannelAccount{},
	}
}

// AddMember appends a member and posts the membership change.
func (c *Conversation) AddMember(member activity.ChannelAccount) *activity.Activity {
	c.mu.Lock()
	defer c.mu.Unlock()
	if member.ID == "" {
		member.ID = uuid.New().String()
	}
	if member.Name == "" {
		member.Name = member.ID
	}
	c.members = append(c.members, member)

	update := &activity.Activity{
		Type:           activity.TypeConversationUpdate,
		MembersAdded:   []activity.ChannelAccount{member},
		MembersRemoved: []activity.ChannelAccount{},
	}
	c.postageLocked(c.user.ID, update)
	return update
}

// RemoveMember removes a member by id and posts the membership change.
// Removing an unknown member is a no-op returning nil.
func (c *Conversation) RemoveMember(memberID string) *activity.Activity {
	c.mu.Lock()
	defer c.mu.Unlock()

	idx := -1
	for i, m := range c.members {
		if m.ID == memberID {
			idx = i
			break
		}
	}
	if idx < 0 {
		return nil
	}
	removed := c.members[idx]
	c.members = append(c.members[:idx], c.members[idx+1:]...)

	update := &activity.Activity{
		Type:           activity.TypeConversationUpdate,
		MembersAdded:   []activity.ChannelAccount{},
		MembersRemoved: []activity.ChannelAccount{removed},
	}
	c.postageLocked(c.user.ID, update)
	return update
}

// Normalize makes membership and the user record internally consistent after
// an identity change: the lone user-role member's id must match the user's id.
func (c *Conversation) Normalize() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.normalizeLocked()
}

func (c *Conversation) normalizeLocked() {
	for i := range c.members {
		if c.members[i].Role == activity.RoleUser {
			c.members[i].ID = c.user.ID
			if c.user.Name != "" {
				c.members[i].Name = c.user.Name
			}
		}
	}
}

// rekey updates the conversation's identity in place and resets the
// watermark. The Registry calls this with the map entry already moved so
// in-flight references observe the new id.
func (c *Conversation) rekey(newID, userID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.conversationID = newID
	if userID != "" {
		c.user.ID = userID
	}
	c.normalizeLocked()
	c.nextWatermark = 0
	c.logger = c.logger.With("conversation_id", newID)
}

// ModeFromConversationID recovers the mode tagged into a generated
// conversation id of the form `<token>|<mode>`. Returns livechat when the id
// carries no tag.
func ModeFromConversationID(id string) string {
	if i := strings.LastIndexByte(id, '|'); i >= 0 {
		switch mode := id[i+1:]; mode {
		case ModeLiveChat, ModeDebug, ModeTranscript:
			return mode
		}
	}
	return ModeLiveChat
}
