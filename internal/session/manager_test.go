package session

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"modelgate/internal/inference"
	"modelgate/internal/llm"
	"modelgate/internal/memory"
	"modelgate/internal/persistence/databases"
	"modelgate/internal/queue"
	"modelgate/internal/rag/embedder"
)

// scriptedProvider replies with a fixed string regardless of input, letting
// tests drive the background summarization pipeline end to end.
type scriptedProvider struct{ reply string }

func (p *scriptedProvider) ChatStream(ctx context.Context, req llm.Request, h llm.StreamHandler) error {
	h.OnDelta(p.reply)
	h.OnUsage(llm.Usage{})
	return nil
}

func startTestWorker(t *testing.T, q *queue.Queue, reply string) {
	t.Helper()
	registry := inference.NewRegistry(&scriptedProvider{reply: reply})
	worker := inference.NewWorker(q, registry, nil, noopLogSink{})
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go func() { _ = worker.Run(ctx) }()
}

type noopLogSink struct{}

func (noopLogSink) Write(ctx context.Context, l inference.Log) error { return nil }
func (noopLogSink) Close() error                                     { return nil }

func TestEnsureSessionRejectsNonUUID(t *testing.T) {
	store := databases.NewMemoryChatStore()
	m := NewManager(store, nil, nil, 9, 0, 0)
	_, err := m.EnsureSession(context.Background(), "not-a-uuid")
	assert.Error(t, err)
}

func TestEnsureSessionIsIdempotent(t *testing.T) {
	store := databases.NewMemoryChatStore()
	m := NewManager(store, nil, nil, 9, 0, 0)
	id := uuid.NewString()

	first, err := m.EnsureSession(context.Background(), id)
	require.NoError(t, err)
	second, err := m.EnsureSession(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, first.ID, second.ID)
}

func TestSweepSummarizesStaleSessionWithJSONReply(t *testing.T) {
	ctx := context.Background()
	store := databases.NewMemoryChatStore()
	mem := memory.NewStore(databases.NewMemoryVector(), embedder.NewDeterministic(16, true, 0))
	q := queue.New(10, 5, false, 0)
	startTestWorker(t, q, `{"title":"Trip planning","summary":"Discussed a trip to Japan."}`)

	m := NewManager(store, mem, q, 9, 0, 0)
	id := uuid.NewString()
	_, err := m.EnsureSession(ctx, id)
	require.NoError(t, err)
	_, err = m.AppendMessage(ctx, id, "user", "Help me plan a trip to Japan.")
	require.NoError(t, err)

	sess, err := store.GetSession(ctx, id)
	require.NoError(t, err)
	sess.LastActiveAt = time.Now().Add(-time.Hour)
	require.NoError(t, m.summarize(ctx, sess))

	updated, err := store.GetSession(ctx, id)
	require.NoError(t, err)
	assert.True(t, updated.IsSummarized)
	assert.False(t, updated.IsActive)
	assert.Equal(t, "Trip planning", updated.Title)
	assert.Contains(t, updated.Summary, "Japan")

	recs, err := mem.RecallWithMetadata(ctx, "Japan trip", 3, nil, "chat_summary")
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, id, recs[0].ID)
}

func TestSweepSummarizeEmptyHistoryMarksEmptyConversation(t *testing.T) {
	ctx := context.Background()
	store := databases.NewMemoryChatStore()
	m := NewManager(store, nil, nil, 9, 0, 0)
	id := uuid.NewString()
	_, err := m.EnsureSession(ctx, id)
	require.NoError(t, err)

	sess, err := store.GetSession(ctx, id)
	require.NoError(t, err)
	require.NoError(t, m.summarize(ctx, sess))

	updated, err := store.GetSession(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, "Empty Conversation", updated.Title)
	assert.False(t, updated.IsActive)
	assert.True(t, updated.IsSummarized)
}

func TestSummarizeIsIdempotentWhenAlreadySummarized(t *testing.T) {
	ctx := context.Background()
	store := databases.NewMemoryChatStore()
	m := NewManager(store, nil, nil, 9, 0, 0)
	id := uuid.NewString()
	_, err := m.EnsureSession(ctx, id)
	require.NoError(t, err)
	require.NoError(t, store.UpdateSummary(ctx, id, "Already done", "summary text", true))

	sess, err := store.GetSession(ctx, id)
	require.NoError(t, err)
	require.NoError(t, m.summarize(ctx, sess))

	updated, err := store.GetSession(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, "Already done", updated.Title) // unchanged: summarize was a no-op
}

func TestParseSummaryFallsBackToHeuristicOnInvalidJSON(t *testing.T) {
	title, summary, err := parseSummary("Weekend hiking plans\nDiscussed trails and gear for Saturday.")
	require.NoError(t, err)
	assert.Equal(t, "Weekend hiking plans", title)
	assert.Contains(t, summary, "Saturday")
}

func TestParseSummaryParsesWellFormedJSON(t *testing.T) {
	title, summary, err := parseSummary(`some preamble {"title":"T","summary":"S"} trailing noise`)
	require.NoError(t, err)
	assert.Equal(t, "T", title)
	assert.Equal(t, "S", summary)
}
