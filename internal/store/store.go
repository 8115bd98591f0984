// ABOUTME: Store interface and data types for saved conversation transcripts
// ABOUTME: Transcripts are the only state that survives a process restart

package store

import (
	"context"
	"errors"
	"time"

	"github.com/chatrelay/chatrelay/internal/activity"
)

// ErrNotFound is returned when a requested transcript does not exist.
var ErrNotFound = errors.New("not found")

// Transcript is a saved activity log for one conversation. Live conversation
// state stays in process memory; transcripts exist so a session can be
// replayed later in transcript mode.
type Transcript struct {
	ConversationID string
	Mode           string
	Activities     []*activity.Activity
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// Store defines the interface for transcript persistence.
type Store interface {
	SaveTranscript(ctx context.Context, t *Transcript) error
	GetTranscript(ctx context.Context, conversationID string) (*Transcript, error)
	ListTranscripts(ctx context.Context, limit int) ([]*Transcript, error)
	DeleteTranscript(ctx context.Context, conversationID string) error
	Close() error
}
