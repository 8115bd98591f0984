// ABOUTME: Activity protocol types exchanged between the test client and the bot
// ABOUTME: Mirrors the bot-channel activity schema with JSON wire names

package activity

import "time"

// Activity types understood by the relay.
const (
	TypeMessage            = "message"
	TypeConversationUpdate = "conversationUpdate"
	TypeTyping             = "typing"
	TypeEvent              = "event"
	TypeInvoke             = "invoke"
	TypeEndOfConversation  = "endOfConversation"
)

// Member roles.
const (
	RoleUser = "user"
	RoleBot  = "bot"
)

// Diagnostic wrapper activity names. The nested payload's from.role must
// reflect direction unconditionally for these.
const (
	NameReceivedActivity = "ReceivedActivity"
	NameSentActivity     = "SentActivity"
)

// ContentTypeOAuthCard is the attachment content type for OAuth sign-in cards.
const ContentTypeOAuthCard = "application/vnd.microsoft.card.oauth"

// ChannelAccount identifies a conversation participant.
type ChannelAccount struct {
	ID   string `json:"id,omitempty"`
	Name string `json:"name,omitempty"`
	Role string `json:"role,omitempty"`
}

// ConversationAccount identifies the conversation an activity belongs to.
type ConversationAccount struct {
	ID   string `json:"id,omitempty"`
	Name string `json:"name,omitempty"`
}

// CardAction is a clickable action on a card (sign-in button, etc).
type CardAction struct {
	Type  string `json:"type,omitempty"`
	Title string `json:"title,omitempty"`
	Value string `json:"value,omitempty"`
}

// Attachment carries rich content alongside an activity.
type Attachment struct {
	ContentType string         `json:"contentType,omitempty"`
	ContentURL  string         `json:"contentUrl,omitempty"`
	Content     map[string]any `json:"content,omitempty"`
	Name        string         `json:"name,omitempty"`
}

// Activity is a single structured message exchanged between user and bot.
// Sequence is the per-conversation watermark assigned at insertion time.
type Activity struct {
	Type           string               `json:"type,omitempty"`
	ID             string               `json:"id,omitempty"`
	Timestamp      *time.Time           `json:"timestamp,omitempty"`
	LocalTimestamp *time.Time           `json:"localTimestamp,omitempty"`
	ChannelID      string               `json:"channelId,omitempty"`
	From           ChannelAccount       `json:"from,omitempty"`
	Recipient      ChannelAccount       `json:"recipient,omitempty"`
	Conversation   *ConversationAccount `json:"conversation,omitempty"`
	Text           string               `json:"text,omitempty"`
	Locale         string               `json:"locale,omitempty"`
	ReplyToID      string               `json:"replyToId,omitempty"`
	Name           string               `json:"name,omitempty"`
	Value          any                  `json:"value,omitempty"`
	MembersAdded   []ChannelAccount     `json:"membersAdded,omitempty"`
	MembersRemoved []ChannelAccount     `json:"membersRemoved,omitempty"`
	Attachments    []Attachment         `json:"attachments,omitempty"`
	ChannelData    map[string]any       `json:"channelData,omitempty"`
	Sequence       int                  `json:"sequence"`
	ServiceURL     string               `json:"serviceUrl,omitempty"`
}

// ResourceResponse is the lightweight receipt returned after posting an activity.
type ResourceResponse struct {
	ID string `json:"id"`
}

// Envelope is the payload pushed over the per-conversation WebSocket.
type Envelope struct {
	Activities []*Activity `json:"activities"`
}

// ForceNestedRole overwrites the nested payload's from.role for diagnostic
// wrapper activities. The value may arrive decoded as a map (from JSON) or as
// an *Activity built in-process; both shapes are handled.
func (a *Activity) ForceNestedRole(role string) {
	switch v := a.Value.(type) {
	case *Activity:
		v.From.Role = role
	case map[string]any:
		from, ok := v["from"].(map[string]any)
		if !ok {
			from = map[string]any{}
			v["from"] = from
		}
		from["role"] = role
	}
}
