package databases

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"modelgate/internal/persistence"
)

func TestMemChatStoreLifecycle(t *testing.T) {
	store := NewMemoryChatStore()
	ctx := context.Background()

	sess, err := store.AppendHistory(ctx, "session-1", "user", "Hello")
	require.NoError(t, err)
	require.Equal(t, "session-1", sess.ID)
	require.True(t, sess.IsActive)
	require.Len(t, sess.History, 1)

	sess, err = store.AppendHistory(ctx, "session-1", "assistant", "Hi there")
	require.NoError(t, err)
	require.Len(t, sess.History, 2)
	require.Equal(t, "user", sess.History[0].Role)
	require.Equal(t, "assistant", sess.History[1].Role)

	require.NoError(t, store.UpdateSummary(ctx, "session-1", "Greeting", "a short greeting", true))

	updated, err := store.GetSession(ctx, "session-1")
	require.NoError(t, err)
	require.Equal(t, "a short greeting", updated.Summary)
	require.True(t, updated.IsSummarized)
	require.False(t, updated.IsActive)
	require.Equal(t, "Greeting", updated.Title)

	transcript, err := store.FetchFullTranscript(ctx, "session-1")
	require.NoError(t, err)
	require.Contains(t, transcript, "USER: Hello")
	require.Contains(t, transcript, "ASSISTANT: Hi there")

	existed, err := store.DeleteSession(ctx, "session-1")
	require.NoError(t, err)
	require.True(t, existed)

	_, err = store.GetSession(ctx, "session-1")
	require.True(t, errors.Is(err, persistence.ErrNotFound))
}

func TestMemChatStoreListActiveOlderThan(t *testing.T) {
	store := NewMemoryChatStore()
	ctx := context.Background()

	_, err := store.AppendHistory(ctx, "stale", "user", "hi")
	require.NoError(t, err)
	_, err = store.AppendHistory(ctx, "fresh", "user", "hi")
	require.NoError(t, err)

	cutoff := time.Now().UTC().Add(time.Hour)
	sessions, err := store.ListActiveSessionsOlderThan(ctx, cutoff)
	require.NoError(t, err)
	require.Len(t, sessions, 2)

	require.NoError(t, store.UpdateSummary(ctx, "stale", "", "done", true))
	sessions, err = store.ListActiveSessionsOlderThan(ctx, cutoff)
	require.NoError(t, err)
	require.Len(t, sessions, 1)
	require.Equal(t, "fresh", sessions[0].ID)
}
