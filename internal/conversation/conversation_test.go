// ABOUTME: Tests for Conversation sequencing, defaulting, and seeding behavior
// ABOUTME: Covers watermark ordering, postage defaults, and the debug/livechat branch

package conversation

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chatrelay/chatrelay/internal/activity"
)

func testRegistry(t *testing.T) *Registry {
	t.Helper()
	return NewRegistry("en-US", nil)
}

func testConversation(t *testing.T, mode string) *Conversation {
	t.Helper()
	r := testRegistry(t)
	c, err := r.NewConversation(
		&BotEndpoint{ID: "endpoint-1", BotID: "bot-1", BotURL: "http://localhost:3978/api/messages"},
		activity.ChannelAccount{ID: "user-1", Name: "User"},
		"",
		mode,
	)
	require.NoError(t, err)
	return c
}

func TestConversation_SequenceNumbersAreStrictlyIncreasing(t *testing.T) {
	c := testConversation(t, ModeLiveChat)

	var posted []*activity.Activity
	for i := range 10 {
		a := &activity.Activity{Type: activity.TypeMessage, Text: fmt.Sprintf("msg %d", i)}
		c.PostActivityToUser(a)
		posted = append(posted, a)
	}

	for i, a := range posted {
		assert.Equal(t, i, a.Sequence, "activity %d has wrong sequence", i)
	}
	assert.Equal(t, 10, c.NextWatermark())
}

func TestConversation_ActivitiesSinceReturnsInsertionOrder(t *testing.T) {
	c := testConversation(t, ModeLiveChat)

	for i := range 5 {
		c.PostActivityToUser(&activity.Activity{Type: activity.TypeMessage, Text: fmt.Sprintf("msg %d", i)})
	}

	acts, next := c.ActivitiesSince(2)
	require.Len(t, acts, 3)
	assert.Equal(t, 5, next)
	for i, a := range acts {
		assert.Equal(t, 2+i, a.Sequence)
		assert.Equal(t, fmt.Sprintf("msg %d", 2+i), a.Text)
	}
}

func TestConversation_PostageDefaults(t *testing.T) {
	c := testConversation(t, ModeLiveChat)

	a := &activity.Activity{Type: activity.TypeMessage, Text: "hello"}
	resp := c.PostActivityToUser(a)

	assert.NotEmpty(t, resp.ID)
	assert.Equal(t, resp.ID, a.ID)
	assert.Equal(t, "Bot", a.From.Name)
	assert.Equal(t, activity.RoleUser, a.Recipient.Role)
	assert.Equal(t, "en-US", a.Locale)
	assert.Equal(t, "user-1", a.Recipient.ID)
	require.NotNil(t, a.Conversation)
	assert.Equal(t, c.ID(), a.Conversation.ID)
	require.NotNil(t, a.Timestamp)
}

func TestConversation_PostageKeepsExplicitFields(t *testing.T) {
	c := testConversation(t, ModeLiveChat)

	a := &activity.Activity{
		Type:      activity.TypeMessage,
		ID:        "explicit-id",
		Text:      "bonjour",
		Locale:    "fr-FR",
		From:      activity.ChannelAccount{ID: "bot-1", Name: "Jarvis"},
		Recipient: activity.ChannelAccount{ID: "user-1", Role: activity.RoleBot},
	}
	c.PostActivityToUser(a)

	assert.Equal(t, "explicit-id", a.ID)
	assert.Equal(t, "Jarvis", a.From.Name)
	assert.Equal(t, "fr-FR", a.Locale)
	assert.Equal(t, activity.RoleBot, a.Recipient.Role)
}

func TestConversation_WrapperActivityRolesAreForced(t *testing.T) {
	c := testConversation(t, ModeDebug)

	received := &activity.Activity{
		Type: activity.TypeEvent,
		Name: activity.NameReceivedActivity,
		Value: map[string]any{
			"from": map[string]any{"id": "someone", "role": "bot"},
		},
	}
	c.PostActivityToUser(received)
	from := received.Value.(map[string]any)["from"].(map[string]any)
	assert.Equal(t, "user", from["role"], "ReceivedActivity nested role must be forced to user")

	sent := &activity.Activity{
		Type:  activity.TypeEvent,
		Name:  activity.NameSentActivity,
		Value: &activity.Activity{From: activity.ChannelAccount{Role: "user"}},
	}
	c.PostActivityToUser(sent)
	assert.Equal(t, "bot", sent.Value.(*activity.Activity).From.Role)
}

func TestConversation_DebugModeSeedsInspectCommand(t *testing.T) {
	c := testConversation(t, ModeDebug)

	seeded := c.SeedActivities()
	require.Len(t, seeded, 1)
	assert.Equal(t, activity.TypeMessage, seeded[0].Type)
	assert.Equal(t, "/INSPECT open", seeded[0].Text)
}

func TestConversation_LiveChatModeSeedsConversationUpdate(t *testing.T) {
	c := testConversation(t, ModeLiveChat)

	seeded := c.SeedActivities()
	require.Len(t, seeded, 1)
	assert.Equal(t, activity.TypeConversationUpdate, seeded[0].Type)
	assert.Equal(t, c.Members(), seeded[0].MembersAdded)
	assert.Empty(t, seeded[0].MembersRemoved)
	assert.NotNil(t, seeded[0].MembersRemoved)
}

func TestConversation_TranscriptSeedReplaysExtraActivities(t *testing.T) {
	c := testConversation(t, ModeTranscript)

	seeded := c.SeedActivities(
		&activity.Activity{Type: activity.TypeMessage, Text: "saved 1"},
		&activity.Activity{Type: activity.TypeMessage, Text: "saved 2"},
	)
	require.Len(t, seeded, 3)
	assert.Equal(t, activity.TypeConversationUpdate, seeded[0].Type)
	assert.Equal(t, "saved 1", seeded[1].Text)
	assert.Equal(t, "saved 2", seeded[2].Text)
	for i, a := range seeded {
		assert.Equal(t, i, a.Sequence)
	}
}

func TestConversation_AddAndRemoveMembersPostUpdates(t *testing.T) {
	c := testConversation(t, ModeLiveChat)

	added := c.AddMember(activity.ChannelAccount{ID: "user-2", Name: "Second"})
	require.NotNil(t, added)
	assert.Equal(t, activity.TypeConversationUpdate, added.Type)
	require.Len(t, added.MembersAdded, 1)
	assert.Equal(t, "user-2", added.MembersAdded[0].ID)
	assert.Len(t, c.Members(), 3)

	removed := c.RemoveMember("user-2")
	require.NotNil(t, removed)
	require.Len(t, removed.MembersRemoved, 1)
	assert.Equal(t, "user-2", removed.MembersRemoved[0].ID)
	assert.Len(t, c.Members(), 2)

	assert.Nil(t, c.RemoveMember("nobody"), "removing an unknown member is a no-op")
}

func TestConversation_NormalizeAlignsUserMember(t *testing.T) {
	c := testConversation(t, ModeLiveChat)

	// Simulate an identity change through re-keying.
	c.rekey(c.ID(), "new-user-id")
	for _, m := range c.Members() {
		if m.Role == activity.RoleUser {
			assert.Equal(t, "new-user-id", m.ID)
		}
	}
	assert.Equal(t, "new-user-id", c.User().ID)
}

func TestModeFromConversationID(t *testing.T) {
	tests := []struct {
		id   string
		want string
	}{
		{"abc123|livechat", ModeLiveChat},
		{"abc123|debug", ModeDebug},
		{"abc123|transcript", ModeTranscript},
		{"no-tag-at-all", ModeLiveChat},
		{"weird|suffix", ModeLiveChat},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, ModeFromConversationID(tt.id), "id %q", tt.id)
	}
}
