// ABOUTME: Direct-Line style conversation token generation
// ABOUTME: Tokens are conversation-scoped JWTs minted by the local issuer

package gateway

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/google/uuid"

	"github.com/chatrelay/chatrelay/internal/auth"
	"github.com/chatrelay/chatrelay/internal/conversation"
)

// GenerateTokenRequest is the JSON request body for POST /v3/directline/tokens/generate.
type GenerateTokenRequest struct {
	ConversationID string `json:"conversationId,omitempty"`
}

// GenerateTokenResponse is the JSON response carrying the minted token.
type GenerateTokenResponse struct {
	ConversationID string `json:"conversationId"`
	Token          string `json:"token"`
	ExpiresIn      int    `json:"expires_in"`
}

// handleGenerateToken handles POST /v3/directline/tokens/generate.
// When no conversation id is supplied a fresh one is reserved; the
// conversation itself is created later by the create-conversation call.
func (g *Gateway) handleGenerateToken(w http.ResponseWriter, r *http.Request) {
	var req GenerateTokenRequest
	if r.Body != nil {
		// Empty bodies are fine; the request object is optional.
		_ = json.NewDecoder(r.Body).Decode(&req)
	}

	conversationID := req.ConversationID
	if conversationID == "" {
		conversationID = strings.ReplaceAll(uuid.New().String(), "-", "") + "|" + conversation.ModeLiveChat
	}

	token, err := g.issuer.Issue(conversationID, auth.DefaultTokenTTL)
	if err != nil {
		g.logger.Error("issuing token", "error", err)
		g.sendJSONError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	g.sendJSON(w, http.StatusOK, GenerateTokenResponse{
		ConversationID: conversationID,
		Token:          token,
		ExpiresIn:      int(auth.DefaultTokenTTL.Seconds()),
	})
}
