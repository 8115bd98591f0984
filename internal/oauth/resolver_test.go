// ABOUTME: Tests for the OAuth link resolver outcomes
// ABOUTME: Covers no-op, resolved rewriting, and the non-fatal fallback path

package oauth

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chatrelay/chatrelay/internal/activity"
	"github.com/chatrelay/chatrelay/internal/auth"
)

func testResolver(t *testing.T) *Resolver {
	t.Helper()
	return NewResolver(auth.NewTokenIssuer([]byte("test-secret")), nil)
}

func oauthCardActivity(connectionName string) *activity.Activity {
	content := map[string]any{}
	if connectionName != "" {
		content["connectionName"] = connectionName
	}
	return &activity.Activity{
		Type: activity.TypeMessage,
		Attachments: []activity.Attachment{{
			ContentType: activity.ContentTypeOAuthCard,
			Content:     content,
		}},
	}
}

func TestResolver_NoAttachmentsIsNoOp(t *testing.T) {
	r := testResolver(t)

	outcome, err := r.Resolve(t.Context(), "conv-1", &activity.Activity{Type: activity.TypeMessage, Text: "hi"})
	require.NoError(t, err)
	assert.Equal(t, OutcomeNone, outcome)
}

func TestResolver_NonOAuthAttachmentsAreIgnored(t *testing.T) {
	r := testResolver(t)

	a := &activity.Activity{
		Type: activity.TypeMessage,
		Attachments: []activity.Attachment{{
			ContentType: "application/vnd.microsoft.card.hero",
			Content:     map[string]any{"title": "hello"},
		}},
	}
	outcome, err := r.Resolve(t.Context(), "conv-1", a)
	require.NoError(t, err)
	assert.Equal(t, OutcomeNone, outcome)
}

func TestResolver_RewritesOAuthCardButtons(t *testing.T) {
	r := testResolver(t)

	a := oauthCardActivity("github-connection")
	outcome, err := r.Resolve(t.Context(), "conv-1", a)
	require.NoError(t, err)
	assert.Equal(t, OutcomeResolved, outcome)

	buttons, ok := a.Attachments[0].Content["buttons"].([]activity.CardAction)
	require.True(t, ok, "buttons should be rewritten")
	require.Len(t, buttons, 1)
	assert.Equal(t, "signin", buttons[0].Type)
	assert.True(t, strings.HasPrefix(buttons[0].Value, "oauthlink://github-connection&conv-1&"),
		"sign-in link %q should carry the connection and conversation", buttons[0].Value)
}

func TestResolver_MissingConnectionNameFallsBack(t *testing.T) {
	r := testResolver(t)

	a := oauthCardActivity("")
	outcome, err := r.Resolve(t.Context(), "conv-1", a)
	require.ErrorIs(t, err, ErrMissingConnectionName)
	assert.Equal(t, OutcomeFallback, outcome)

	// The activity is left equivalently shaped for the emulated token flow.
	_, rewritten := a.Attachments[0].Content["buttons"]
	assert.False(t, rewritten)
}

func TestResolver_EmptyConversationIDFallsBack(t *testing.T) {
	r := testResolver(t)

	outcome, err := r.Resolve(t.Context(), "", oauthCardActivity("conn"))
	require.Error(t, err)
	assert.Equal(t, OutcomeFallback, outcome)
}

func TestOutcome_String(t *testing.T) {
	assert.Equal(t, "none", OutcomeNone.String())
	assert.Equal(t, "resolved", OutcomeResolved.String())
	assert.Equal(t, "fallback", OutcomeFallback.String())
}
