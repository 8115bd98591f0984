// ABOUTME: Rewrites activities carrying OAuth sign-in cards before relay push
// ABOUTME: Resolution failure is non-fatal and degrades to the emulated token flow

package oauth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/chatrelay/chatrelay/internal/activity"
	"github.com/chatrelay/chatrelay/internal/auth"
)

// Outcome reports what the resolver did to an activity. The distinction
// between resolved and fallback is preserved for logging and testing; the
// caller proceeds either way.
type Outcome int

const (
	// OutcomeNone means the activity carried no OAuth cards.
	OutcomeNone Outcome = iota
	// OutcomeResolved means sign-in links were generated and the cards rewritten.
	OutcomeResolved
	// OutcomeFallback means link generation failed and the activity is left
	// for the emulated OAuth token flow.
	OutcomeFallback
)

// String returns the outcome name for logs.
func (o Outcome) String() string {
	switch o {
	case OutcomeResolved:
		return "resolved"
	case OutcomeFallback:
		return "fallback"
	default:
		return "none"
	}
}

// ErrMissingConnectionName is returned when an OAuth card has no connection name.
var ErrMissingConnectionName = errors.New("oauth card has no connectionName")

// Resolver generates emulated sign-in links for OAuth cards. The links are
// scoped to the conversation and carry a short-lived emulated token, so the
// test client can complete the sign-in flow without a real token service.
type Resolver struct {
	issuer *auth.TokenIssuer
	logger *slog.Logger
}

// NewResolver creates a resolver. Pass nil logger for default.
func NewResolver(issuer *auth.TokenIssuer, logger *slog.Logger) *Resolver {
	if logger == nil {
		logger = slog.Default()
	}
	return &Resolver{
		issuer: issuer,
		logger: logger.With("component", "oauth-resolver"),
	}
}

// Resolve rewrites the activity's OAuth card attachments in place, replacing
// their buttons with generated sign-in links. Returns OutcomeNone when the
// activity carries no OAuth cards. On failure it returns OutcomeFallback and
// the cause; the activity is left equivalently shaped for the emulated token
// flow and the caller must proceed rather than fail the request.
func (r *Resolver) Resolve(ctx context.Context, conversationID string, a *activity.Activity) (Outcome, error) {
	if a == nil || len(a.Attachments) == 0 {
		return OutcomeNone, nil
	}

	cards := make([]*activity.Attachment, 0, 1)
	for i := range a.Attachments {
		if a.Attachments[i].ContentType == activity.ContentTypeOAuthCard {
			cards = append(cards, &a.Attachments[i])
		}
	}
	if len(cards) == 0 {
		return OutcomeNone, nil
	}

	if conversationID == "" {
		return OutcomeFallback, errors.New("cannot generate sign-in link without a conversation id")
	}

	for _, card := range cards {
		if err := ctx.Err(); err != nil {
			return OutcomeFallback, err
		}
		if err := r.rewriteCard(conversationID, card); err != nil {
			return OutcomeFallback, err
		}
	}

	r.logger.Debug("oauth cards resolved",
		"conversation_id", conversationID,
		"cards", len(cards))
	return OutcomeResolved, nil
}

// rewriteCard replaces the card's buttons with a single sign-in action
// pointing at the generated emulated link.
func (r *Resolver) rewriteCard(conversationID string, card *activity.Attachment) error {
	connectionName, _ := card.Content["connectionName"].(string)
	if connectionName == "" {
		return ErrMissingConnectionName
	}

	token, err := r.issuer.Issue(conversationID, auth.DefaultTokenTTL)
	if err != nil {
		return fmt.Errorf("issuing emulated token: %w", err)
	}

	link := fmt.Sprintf("oauthlink://%s&%s&%s", connectionName, conversationID, token)
	if card.Content == nil {
		card.Content = map[string]any{}
	}
	card.Content["buttons"] = []activity.CardAction{{
		Type:  "signin",
		Title: "Sign in",
		Value: link,
	}}
	return nil
}
