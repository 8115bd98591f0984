// ABOUTME: Emulator maintenance handlers: re-key, membership, typing, transcripts
// ABOUTME: These routes back the restart/save/load flows of the test client

package gateway

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/chatrelay/chatrelay/internal/activity"
	"github.com/chatrelay/chatrelay/internal/conversation"
	"github.com/chatrelay/chatrelay/internal/store"
)

// UpdateConversationRequest is the JSON request body for PUT /emulator/{conversationId}.
type UpdateConversationRequest struct {
	ConversationID string `json:"conversationId"`
	UserID         string `json:"userId,omitempty"`
}

// ConversationSnapshot is the JSON response describing a conversation's state.
type ConversationSnapshot struct {
	BotEndpoint    *conversation.BotEndpoint `json:"botEndpoint,omitempty"`
	ConversationID string                    `json:"conversationId"`
	User           activity.ChannelAccount   `json:"user"`
	Mode           string                    `json:"mode"`
	Members        []activity.ChannelAccount `json:"members"`
	NextWatermark  int                       `json:"nextWatermark"`
}

// TranscriptResponse is the JSON response for transcript retrieval.
type TranscriptResponse struct {
	ConversationID string               `json:"conversationId"`
	Mode           string               `json:"mode"`
	Activities     []*activity.Activity `json:"activities"`
}

func (g *Gateway) snapshot(conv *conversation.Conversation) ConversationSnapshot {
	return ConversationSnapshot{
		BotEndpoint:    conv.BotEndpoint(),
		ConversationID: conv.ID(),
		User:           conv.User(),
		Mode:           conv.Mode(),
		Members:        conv.Members(),
		NextWatermark:  conv.NextWatermark(),
	}
}

// handleUpdateConversation handles PUT /emulator/{conversationId}.
// Re-keys the conversation to a new id (and optionally a new user id) while
// preserving object identity; the watermark resets to 0.
func (g *Gateway) handleUpdateConversation(w http.ResponseWriter, r *http.Request) {
	var req UpdateConversationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		g.sendJSONError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if req.ConversationID == "" {
		g.sendJSONError(w, http.StatusBadRequest, "conversationId is required")
		return
	}

	conv, err := g.registry.Rekey(r.PathValue("conversationId"), req.ConversationID, req.UserID)
	if err != nil {
		g.sendJSONError(w, http.StatusNotFound, "conversation not found")
		return
	}

	g.sendJSON(w, http.StatusOK, g.snapshot(conv))
}

// handleDeleteConversation handles DELETE /emulator/{conversationId}.
// Announces end of conversation to any live viewer, then removes the entry.
func (g *Gateway) handleDeleteConversation(w http.ResponseWriter, r *http.Request) {
	conversationID := r.PathValue("conversationId")
	conv, err := g.registry.ConversationByID(conversationID)
	if err != nil {
		g.sendJSONError(w, http.StatusNotFound, "conversation not found")
		return
	}

	closing := &activity.Activity{Type: activity.TypeEndOfConversation}
	conv.PostActivityToUser(closing)
	_ = g.relay.Send(conversationID, activity.Envelope{Activities: []*activity.Activity{closing}})

	g.registry.DeleteConversation(conversationID)
	g.metrics.ConversationsActive.Dec()

	g.sendJSON(w, http.StatusOK, map[string]string{"conversationId": conversationID})
}

// handleGetUsers handles GET /emulator/{conversationId}/users.
func (g *Gateway) handleGetUsers(w http.ResponseWriter, r *http.Request) {
	conv, err := g.registry.ConversationByID(r.PathValue("conversationId"))
	if err != nil {
		g.sendJSONError(w, http.StatusNotFound, "conversation not found")
		return
	}
	g.sendJSON(w, http.StatusOK, conv.Members())
}

// handleAddUsers handles POST /emulator/{conversationId}/users.
// Each added member is announced with a conversationUpdate pushed to the viewer.
func (g *Gateway) handleAddUsers(w http.ResponseWriter, r *http.Request) {
	conversationID := r.PathValue("conversationId")
	conv, err := g.registry.ConversationByID(conversationID)
	if err != nil {
		g.sendJSONError(w, http.StatusNotFound, "conversation not found")
		return
	}

	var members []activity.ChannelAccount
	if err := json.NewDecoder(r.Body).Decode(&members); err != nil {
		g.sendJSONError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	for _, m := range members {
		update := conv.AddMember(m)
		g.metrics.ActivitiesPosted.Inc()
		_ = g.relay.Send(conversationID, activity.Envelope{Activities: []*activity.Activity{update}})
	}

	g.sendJSON(w, http.StatusOK, conv.Members())
}

// handleRemoveUsers handles DELETE /emulator/{conversationId}/users.
// Removing an unknown member is a no-op.
func (g *Gateway) handleRemoveUsers(w http.ResponseWriter, r *http.Request) {
	conversationID := r.PathValue("conversationId")
	conv, err := g.registry.ConversationByID(conversationID)
	if err != nil {
		g.sendJSONError(w, http.StatusNotFound, "conversation not found")
		return
	}

	var members []activity.ChannelAccount
	if err := json.NewDecoder(r.Body).Decode(&members); err != nil {
		g.sendJSONError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	for _, m := range members {
		update := conv.RemoveMember(m.ID)
		if update == nil {
			continue
		}
		g.metrics.ActivitiesPosted.Inc()
		_ = g.relay.Send(conversationID, activity.Envelope{Activities: []*activity.Activity{update}})
	}

	g.sendJSON(w, http.StatusOK, conv.Members())
}

// handleTyping handles POST /emulator/{conversationId}/typing.
// Posts a typing indicator from the bot.
func (g *Gateway) handleTyping(w http.ResponseWriter, r *http.Request) {
	conversationID := r.PathValue("conversationId")
	conv, err := g.registry.ConversationByID(conversationID)
	if err != nil {
		g.sendJSONError(w, http.StatusNotFound, "conversation not found")
		return
	}

	a := &activity.Activity{Type: activity.TypeTyping}
	res := conv.PostActivityToUser(a)
	g.metrics.ActivitiesPosted.Inc()
	_ = g.relay.Send(conversationID, activity.Envelope{Activities: []*activity.Activity{a}})

	g.sendJSON(w, http.StatusOK, res)
}

// handlePing handles POST /emulator/{conversationId}/ping.
func (g *Gateway) handlePing(w http.ResponseWriter, r *http.Request) {
	if _, err := g.registry.ConversationByID(r.PathValue("conversationId")); err != nil {
		g.sendJSONError(w, http.StatusNotFound, "conversation not found")
		return
	}
	g.sendJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// handleInitialReport handles POST /emulator/{conversationId}/invoke/initialReport.
// Pushes an out-of-band status event carrying the bot endpoint URL.
func (g *Gateway) handleInitialReport(w http.ResponseWriter, r *http.Request) {
	conversationID := r.PathValue("conversationId")
	conv, err := g.registry.ConversationByID(conversationID)
	if err != nil {
		g.sendJSONError(w, http.StatusNotFound, "conversation not found")
		return
	}

	botURL := ""
	if ep := conv.BotEndpoint(); ep != nil {
		botURL = ep.BotURL
	}

	a := &activity.Activity{
		Type:  activity.TypeEvent,
		Name:  "initialReport",
		Value: botURL,
	}
	res := conv.PostActivityToUser(a)
	g.metrics.ActivitiesPosted.Inc()
	_ = g.relay.Send(conversationID, activity.Envelope{Activities: []*activity.Activity{a}})

	g.sendJSON(w, http.StatusOK, res)
}

// handleSaveTranscript handles POST /emulator/{conversationId}/transcript.
// Persists the conversation's full activity history.
func (g *Gateway) handleSaveTranscript(w http.ResponseWriter, r *http.Request) {
	conversationID := r.PathValue("conversationId")
	conv, err := g.registry.ConversationByID(conversationID)
	if err != nil {
		g.sendJSONError(w, http.StatusNotFound, "conversation not found")
		return
	}

	acts, _ := conv.ActivitiesSince(0)
	t := &store.Transcript{
		ConversationID: conv.ID(),
		Mode:           conv.Mode(),
		Activities:     acts,
	}
	if err := g.store.SaveTranscript(r.Context(), t); err != nil {
		g.logger.Error("saving transcript", "conversation_id", conversationID, "error", err)
		g.sendJSONError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	g.sendJSON(w, http.StatusOK, map[string]any{
		"conversationId": conv.ID(),
		"activityCount":  len(acts),
	})
}

// handleGetTranscript handles GET /emulator/{conversationId}/transcript.
func (g *Gateway) handleGetTranscript(w http.ResponseWriter, r *http.Request) {
	conversationID := r.PathValue("conversationId")
	t, err := g.store.GetTranscript(r.Context(), conversationID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			g.sendJSONError(w, http.StatusNotFound, "transcript not found")
			return
		}
		g.logger.Error("loading transcript", "conversation_id", conversationID, "error", err)
		g.sendJSONError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	g.sendJSON(w, http.StatusOK, TranscriptResponse{
		ConversationID: t.ConversationID,
		Mode:           t.Mode,
		Activities:     t.Activities,
	})
}
