// Package session owns session lifecycle above the raw persistence
// contract: ensuring sessions exist, appending turns, and the background
// sweep-and-summarize task that idles out stale sessions into memory
// archives.
package session

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"modelgate/internal/inference"
	"modelgate/internal/memory"
	"modelgate/internal/observability"
	"modelgate/internal/persistence"
	"modelgate/internal/queue"
)

const summaryJSONSystemPrompt = `Summarize the following conversation transcript. Respond with ONLY a JSON object of the form {"title": "...", "summary": "..."} using nothing but the transcript provided. Do not invent details.`

// Manager wraps the chat store with the session-level operations the
// orchestrator and the background sweeper both need.
type Manager struct {
	store persistence.ChatStore
	mem   *memory.Store
	q     *queue.Queue

	backgroundPriority int
	sweepInterval      time.Duration
	idleTimeout        time.Duration
}

// NewManager wires the session store, memory archive, and inference queue
// (used to submit summarization jobs at background priority) together.
func NewManager(store persistence.ChatStore, mem *memory.Store, q *queue.Queue, backgroundPriority int, sweepIntervalSeconds, idleSeconds int) *Manager {
	if sweepIntervalSeconds <= 0 {
		sweepIntervalSeconds = 1800
	}
	if idleSeconds <= 0 {
		idleSeconds = 600
	}
	return &Manager{
		store:              store,
		mem:                mem,
		q:                  q,
		backgroundPriority: backgroundPriority,
		sweepInterval:      time.Duration(sweepIntervalSeconds) * time.Second,
		idleTimeout:        time.Duration(idleSeconds) * time.Second,
	}
}

// EnsureSession validates the id as a UUID and creates the session if it
// doesn't already exist.
func (m *Manager) EnsureSession(ctx context.Context, idStr string) (persistence.Session, error) {
	if _, err := uuid.Parse(idStr); err != nil {
		return persistence.Session{}, fmt.Errorf("invalid session id %q: %w", idStr, err)
	}
	return m.store.CreateSession(ctx, idStr, "")
}

// AppendMessage records one turn.
func (m *Manager) AppendMessage(ctx context.Context, id, role, content string) (persistence.Session, error) {
	return m.store.AppendHistory(ctx, id, role, content)
}

// SummarizeNow runs the summarization algorithm for sess immediately,
// outside the sweep ticker. Used by session_end, which schedules this in its
// own goroutine so the connection is never blocked on it.
func (m *Manager) SummarizeNow(ctx context.Context, sess persistence.Session) error {
	return m.summarize(ctx, sess)
}

// FetchTranscript renders a session's history for EXPAND enrichment.
func (m *Manager) FetchTranscript(ctx context.Context, id string) (string, error) {
	return m.store.FetchFullTranscript(ctx, id)
}

// RunSweeper runs the sweep-and-summarize loop until ctx is cancelled.
func (m *Manager) RunSweeper(ctx context.Context) {
	ticker := time.NewTicker(m.sweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.sweepOnce(ctx)
		}
	}
}

func (m *Manager) sweepOnce(ctx context.Context) {
	log := observability.LoggerWithTrace(ctx)
	cutoff := time.Now().Add(-m.idleTimeout)
	stale, err := m.store.ListActiveSessionsOlderThan(ctx, cutoff)
	if err != nil {
		log.Warn().Err(err).Msg("session_sweep_list_failed")
		return
	}
	for _, sess := range stale {
		if err := m.summarize(ctx, sess); err != nil {
			log.Warn().Err(err).Str("session_id", sess.ID).Msg("session_summarize_failed")
		}
	}
}

// summarize implements the idempotent idle-session summarization algorithm.
func (m *Manager) summarize(ctx context.Context, sess persistence.Session) error {
	if sess.IsSummarized {
		return nil
	}

	if len(sess.History) == 0 {
		return m.store.UpdateSummary(ctx, sess.ID, "Empty Conversation", "", true)
	}

	transcript, err := m.store.FetchFullTranscript(ctx, sess.ID)
	if err != nil {
		return fmt.Errorf("fetch transcript: %w", err)
	}

	title, summary, err := m.generateSummary(ctx, transcript)
	if err != nil {
		return fmt.Errorf("generate summary: %w", err)
	}

	if err := m.store.UpdateSummary(ctx, sess.ID, title, summary, true); err != nil {
		return fmt.Errorf("persist summary: %w", err)
	}

	if m.mem != nil {
		if _, err := m.mem.Memorize(ctx, summary, "chat_summary", map[string]string{"title": title}, sess.ID); err != nil {
			return fmt.Errorf("archive summary: %w", err)
		}
	}
	return nil
}

// generateSummary submits the transcript through the real queue+worker
// pipeline at background priority and parses the resulting JSON, falling
// back to a line-heuristic on parse failure.
func (m *Manager) generateSummary(ctx context.Context, transcript string) (title, summary string, err error) {
	sink := inference.NewSink(256)
	defer sink.Close()

	req := inference.Request{
		RequestID:    "summary-" + uuid.NewString(),
		Prompt:       transcript,
		SystemPrompt: summaryJSONSystemPrompt,
		MaxTokens:    1024,
	}
	job := &inference.Job{Request: req, Sink: sink}

	priority := m.backgroundPriority
	if err := m.q.Enqueue(req.RequestID, job, &priority); err != nil {
		return "", "", fmt.Errorf("enqueue summary job: %w", err)
	}

	text := ""
	for ev := range sink.Events() {
		switch ev.Kind {
		case inference.ChunkToken:
			text = inference.Accumulate(text, ev.Text)
		case inference.ChunkError:
			return "", "", fmt.Errorf("summary generation failed: %s", ev.Text)
		case inference.ChunkEndOfStream:
			return parseSummary(text)
		}
	}
	return parseSummary(text)
}

// parseSummary extracts {"title":...,"summary":...} by locating the first
// '{' and last '}' in the model's response. On parse failure it falls back
// to: first non-empty line -> title (<=80 chars), remainder joined ->
// summary (<=2000 chars).
func parseSummary(text string) (title, summary string, err error) {
	start := strings.Index(text, "{")
	end := strings.LastIndex(text, "}")
	if start >= 0 && end > start {
		var parsed struct {
			Title   string `json:"title"`
			Summary string `json:"summary"`
		}
		if jsonErr := json.Unmarshal([]byte(text[start:end+1]), &parsed); jsonErr == nil {
			return parsed.Title, parsed.Summary, nil
		}
	}

	lines := strings.Split(strings.TrimSpace(text), "\n")
	for i, line := range lines {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		title = truncate(line, 80)
		summary = truncate(strings.TrimSpace(strings.Join(lines[i+1:], "\n")), 2000)
		return title, summary, nil
	}
	return "", "", nil
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max]
}
