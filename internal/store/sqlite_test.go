// ABOUTME: Tests for the SQLite transcript store
// ABOUTME: Covers save/get round trips, upserts, listing, and idempotent deletes

package store

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chatrelay/chatrelay/internal/activity"
)

func testStore(t *testing.T) *SQLiteStore {
	t.Helper()
	s, err := NewSQLiteStore(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func sampleTranscript(conversationID string, n int) *Transcript {
	acts := make([]*activity.Activity, 0, n)
	for i := range n {
		acts = append(acts, &activity.Activity{
			Type:     activity.TypeMessage,
			ID:       conversationID + "-act-" + string(rune('a'+i)),
			Text:     "message",
			Sequence: i,
		})
	}
	return &Transcript{
		ConversationID: conversationID,
		Mode:           "livechat",
		Activities:     acts,
	}
}

func TestSQLiteStore_SaveAndGetTranscript(t *testing.T) {
	s := testStore(t)
	ctx := t.Context()

	require.NoError(t, s.SaveTranscript(ctx, sampleTranscript("conv-1", 3)))

	got, err := s.GetTranscript(ctx, "conv-1")
	require.NoError(t, err)
	assert.Equal(t, "conv-1", got.ConversationID)
	assert.Equal(t, "livechat", got.Mode)
	require.Len(t, got.Activities, 3)
	for i, a := range got.Activities {
		assert.Equal(t, i, a.Sequence)
	}
	assert.False(t, got.CreatedAt.IsZero())
	assert.False(t, got.UpdatedAt.IsZero())
}

func TestSQLiteStore_GetTranscriptNotFound(t *testing.T) {
	s := testStore(t)

	_, err := s.GetTranscript(t.Context(), "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestSQLiteStore_SaveTranscriptUpserts(t *testing.T) {
	s := testStore(t)
	ctx := t.Context()

	require.NoError(t, s.SaveTranscript(ctx, sampleTranscript("conv-1", 2)))
	require.NoError(t, s.SaveTranscript(ctx, sampleTranscript("conv-1", 5)))

	got, err := s.GetTranscript(ctx, "conv-1")
	require.NoError(t, err)
	assert.Len(t, got.Activities, 5)

	all, err := s.ListTranscripts(ctx, 10)
	require.NoError(t, err)
	assert.Len(t, all, 1, "upsert must not create a second row")
}

func TestSQLiteStore_ListTranscripts(t *testing.T) {
	s := testStore(t)
	ctx := t.Context()

	require.NoError(t, s.SaveTranscript(ctx, sampleTranscript("conv-1", 1)))
	require.NoError(t, s.SaveTranscript(ctx, sampleTranscript("conv-2", 1)))
	require.NoError(t, s.SaveTranscript(ctx, sampleTranscript("conv-3", 1)))

	all, err := s.ListTranscripts(ctx, 2)
	require.NoError(t, err)
	assert.Len(t, all, 2)
}

func TestSQLiteStore_DeleteTranscriptIsIdempotent(t *testing.T) {
	s := testStore(t)
	ctx := t.Context()

	require.NoError(t, s.SaveTranscript(ctx, sampleTranscript("conv-1", 1)))
	require.NoError(t, s.DeleteTranscript(ctx, "conv-1"))

	_, err := s.GetTranscript(ctx, "conv-1")
	assert.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, s.DeleteTranscript(ctx, "conv-1"))
}

func TestSQLiteStore_EmptyActivities(t *testing.T) {
	s := testStore(t)
	ctx := t.Context()

	require.NoError(t, s.SaveTranscript(ctx, &Transcript{ConversationID: "conv-empty", Mode: "debug"}))

	got, err := s.GetTranscript(ctx, "conv-empty")
	require.NoError(t, err)
	assert.NotNil(t, got.Activities)
	assert.Empty(t, got.Activities)
}
