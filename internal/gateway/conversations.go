// ABOUTME: HTTP handlers for conversation creation, replies, and activity polling
// ABOUTME: Covers the v3 channel API and the Direct-Line style client API

package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/google/uuid"

	"github.com/chatrelay/chatrelay/internal/activity"
	"github.com/chatrelay/chatrelay/internal/conversation"
	"github.com/chatrelay/chatrelay/internal/oauth"
)

// CreateConversationRequest is the JSON request body for POST /v3/conversations.
type CreateConversationRequest struct {
	Bot            *activity.ChannelAccount  `json:"bot"`
	BotEndpoint    *conversation.BotEndpoint `json:"botEndpoint"`
	Members        []activity.ChannelAccount `json:"members"`
	Mode           string                    `json:"mode,omitempty"`
	ConversationID string                    `json:"conversationId,omitempty"`
	Activity       *activity.Activity        `json:"activity,omitempty"`
}

// CreateConversationResponse is the JSON response for conversation creation.
type CreateConversationResponse struct {
	ConversationID string                    `json:"conversationId"`
	EndpointID     string                    `json:"endpointId,omitempty"`
	Members        []activity.ChannelAccount `json:"members"`
	ActivityID     string                    `json:"activityId,omitempty"`
}

// ActivitySetResponse is the JSON response for activity polling.
type ActivitySetResponse struct {
	Activities []*activity.Activity `json:"activities"`
	Watermark  string               `json:"watermark"`
}

// parseCreateRequest parses and validates a CreateConversationRequest.
// Validation failures are client errors; no conversation is created.
func parseCreateRequest(r io.Reader) (*CreateConversationRequest, error) {
	var req CreateConversationRequest
	if err := json.NewDecoder(r).Decode(&req); err != nil {
		return nil, errors.New("invalid JSON body")
	}

	if req.Bot == nil {
		return nil, errors.New("the request must include a bot object")
	}
	if req.BotEndpoint == nil {
		return nil, errors.New("the request must include a botEndpoint object")
	}

	users := 0
	for _, m := range req.Members {
		if m.Role == activity.RoleUser {
			users++
		}
	}
	if users != 1 {
		return nil, errors.New("the request must specify exactly one member with role \"user\"")
	}
	return &req, nil
}

// userMember returns the request's user-role member with emulator defaults applied.
func (g *Gateway) userMember(req *CreateConversationRequest) activity.ChannelAccount {
	var user activity.ChannelAccount
	for _, m := range req.Members {
		if m.Role == activity.RoleUser {
			user = m
			break
		}
	}
	if user.ID == "" {
		user.ID = g.config.Emulator.UserID
	}
	if user.ID == "" {
		user.ID = uuid.New().String()
	}
	if user.Name == "" {
		user.Name = g.config.Emulator.UserName
	}
	return user
}

// handleCreateConversation handles POST /v3/conversations.
// Supplying a conversationId that already resolves reuses that conversation;
// otherwise a new one is created and its opening activities are seeded.
func (g *Gateway) handleCreateConversation(w http.ResponseWriter, r *http.Request) {
	req, err := parseCreateRequest(r.Body)
	if err != nil {
		g.sendJSONError(w, http.StatusForbidden, err.Error())
		return
	}

	status := http.StatusCreated
	conv, lookupErr := g.lookupExisting(req.ConversationID)
	if lookupErr == nil {
		status = http.StatusOK
	} else {
		conv, err = g.createConversation(r.Context(), req)
		if err != nil {
			g.sendJSONError(w, http.StatusForbidden, err.Error())
			return
		}
	}

	resp := CreateConversationResponse{
		ConversationID: conv.ID(),
		Members:        conv.Members(),
	}
	if ep := conv.BotEndpoint(); ep != nil {
		resp.EndpointID = ep.ID
	}

	if req.Activity != nil {
		resp.ActivityID = g.postSeedActivity(conv, req)
	}

	g.sendJSON(w, status, resp)
}

// lookupExisting resolves a supplied conversation id, or fails when the id is
// empty or unknown.
func (g *Gateway) lookupExisting(conversationID string) (*conversation.Conversation, error) {
	if conversationID == "" {
		return nil, conversation.ErrNotFound
	}
	return g.registry.ConversationByID(conversationID)
}

// createConversation registers a fresh conversation and seeds its opening
// activities. Transcript-mode conversations replay a stored transcript when
// one exists for the supplied id.
func (g *Gateway) createConversation(ctx context.Context, req *CreateConversationRequest) (*conversation.Conversation, error) {
	user := g.userMember(req)
	conv, err := g.registry.NewConversation(req.BotEndpoint, user, req.ConversationID, req.Mode)
	if err != nil {
		return nil, err
	}
	g.metrics.ConversationsActive.Inc()

	var replay []*activity.Activity
	if req.Mode == conversation.ModeTranscript && req.ConversationID != "" {
		if t, err := g.store.GetTranscript(ctx, req.ConversationID); err == nil {
			replay = t.Activities
		}
	}

	seeded := conv.SeedActivities(replay...)
	for range seeded {
		g.metrics.ActivitiesPosted.Inc()
	}
	_ = g.relay.Send(conv.ID(), activity.Envelope{Activities: seeded})
	return conv, nil
}

// postSeedActivity posts the optional activity supplied with the create
// request, addressed from the bot to the user member.
func (g *Gateway) postSeedActivity(conv *conversation.Conversation, req *CreateConversationRequest) string {
	a := req.Activity
	if a.From.ID == "" && req.Bot != nil {
		a.From = *req.Bot
	}
	res := conv.PostActivityToUser(a)
	g.metrics.ActivitiesPosted.Inc()
	_ = g.relay.Send(conv.ID(), activity.Envelope{Activities: []*activity.Activity{a}})
	return res.ID
}

// handleCreateConversationV2 handles POST /v2/conversations, the internal
// variant used by older clients. Same validation, always creates.
func (g *Gateway) handleCreateConversationV2(w http.ResponseWriter, r *http.Request) {
	req, err := parseCreateRequest(r.Body)
	if err != nil {
		g.sendJSONError(w, http.StatusForbidden, err.Error())
		return
	}

	conv, err := g.createConversation(r.Context(), req)
	if err != nil {
		g.sendJSONError(w, http.StatusForbidden, err.Error())
		return
	}

	g.sendJSON(w, http.StatusCreated, CreateConversationResponse{
		ConversationID: conv.ID(),
		Members:        conv.Members(),
	})
}

// handleReplyToActivity handles POST /v3/conversations/{conversationId}/activities/{activityId}.
// The bot replies into a conversation; the activity is normalized, stored, and
// pushed to the live viewer socket.
func (g *Gateway) handleReplyToActivity(w http.ResponseWriter, r *http.Request) {
	conversationID := r.PathValue("conversationId")
	conv, err := g.registry.ConversationByID(conversationID)
	if err != nil {
		g.sendJSONError(w, http.StatusNotFound, "conversation not found")
		return
	}

	var a activity.Activity
	if err := json.NewDecoder(r.Body).Decode(&a); err != nil {
		g.sendJSONError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	a.ReplyToID = r.PathValue("activityId")

	if outcome, err := g.resolver.Resolve(r.Context(), conversationID, &a); outcome == oauth.OutcomeFallback {
		g.logger.Warn("oauth link resolution failed, falling back to emulated OAuth token",
			"conversation_id", conversationID, "error", err)
	}

	res := conv.PostActivityToUser(&a)
	g.metrics.ActivitiesPosted.Inc()
	_ = g.relay.Send(conversationID, activity.Envelope{Activities: []*activity.Activity{&a}})

	g.sendJSON(w, http.StatusOK, res)
}

// handlePostActivity handles POST /v3/directline/conversations/{conversationId}/activities.
// The local tester posts an activity into the conversation.
func (g *Gateway) handlePostActivity(w http.ResponseWriter, r *http.Request) {
	conversationID := r.PathValue("conversationId")
	conv, err := g.registry.ConversationByID(conversationID)
	if err != nil {
		g.sendJSONError(w, http.StatusNotFound, "conversation not found")
		return
	}

	var a activity.Activity
	if err := json.NewDecoder(r.Body).Decode(&a); err != nil {
		g.sendJSONError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if a.From.ID == "" {
		a.From = conv.User()
	}

	recipientID := "bot"
	if ep := conv.BotEndpoint(); ep != nil && ep.BotID != "" {
		recipientID = ep.BotID
	}

	res := conv.Postage(recipientID, &a)
	g.metrics.ActivitiesPosted.Inc()
	_ = g.relay.Send(conversationID, activity.Envelope{Activities: []*activity.Activity{&a}})

	g.sendJSON(w, http.StatusOK, res)
}

// handleGetActivities handles GET /v3/directline/conversations/{conversationId}/activities.
// Returns activities at or after the requested watermark plus the watermark to
// poll with next.
func (g *Gateway) handleGetActivities(w http.ResponseWriter, r *http.Request) {
	conv, err := g.registry.ConversationByID(r.PathValue("conversationId"))
	if err != nil {
		g.sendJSONError(w, http.StatusNotFound, "conversation not found")
		return
	}

	watermark := 0
	if raw := r.URL.Query().Get("watermark"); raw != "" {
		watermark, err = strconv.Atoi(raw)
		if err != nil || watermark < 0 {
			g.sendJSONError(w, http.StatusBadRequest, "watermark must be a non-negative integer")
			return
		}
	}

	acts, next := conv.ActivitiesSince(watermark)
	g.sendJSON(w, http.StatusOK, ActivitySetResponse{
		Activities: acts,
		Watermark:  strconv.Itoa(next),
	})
}
