package persistence

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when a session lookup misses.
var ErrNotFound = errors.New("persistence: session not found")

// HistoryEntry is a single turn in a session's conversation history.
type HistoryEntry struct {
	Role      string    `json:"role"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
}

// Session is the durable record of a single conversation.
//
// Invariants: LastActiveAt >= CreatedAt; IsSummarized implies Summary has
// been written (it is empty for a session summarized with no history);
// IsActive only transitions true->false via the idle sweep, or is
// reset to true by a new turn (which leaves IsSummarized untouched until the
// next summarization pass).
type Session struct {
	ID           string         `json:"id"`
	Title        string         `json:"title"`
	CreatedAt    time.Time      `json:"created_at"`
	LastActiveAt time.Time      `json:"last_active_at"`
	UpdatedAt    time.Time      `json:"updated_at"`
	IsActive     bool           `json:"is_active"`
	IsSummarized bool           `json:"is_summarized"`
	Summary      string         `json:"summary,omitempty"`
	History      []HistoryEntry `json:"history"`
}

// ChatStore persists sessions and their history. Implementations must be
// safe for concurrent use.
type ChatStore interface {
	Init(ctx context.Context) error

	// CreateSession is idempotent on id: it returns the existing session if
	// one exists, or creates an empty one (with the given title, or "New
	// Chat" when title is empty) otherwise.
	CreateSession(ctx context.Context, id, title string) (Session, error)

	// AppendHistory creates the session if it doesn't exist, appends an
	// entry, and updates last_active_at/updated_at, setting is_active=true.
	AppendHistory(ctx context.Context, id, role, content string) (Session, error)

	GetSession(ctx context.Context, id string) (Session, error)

	// UpdateSummary sets is_summarized=true, always overwrites summary (an
	// empty summary is stored as empty), and updates title only when it is
	// non-empty. When markInactive is true, is_active is also cleared.
	UpdateSummary(ctx context.Context, id, title, summary string, markInactive bool) error

	// ListActiveSessionsOlderThan returns sessions with is_active=true and
	// last_active_at before cutoff.
	ListActiveSessionsOlderThan(ctx context.Context, cutoff time.Time) ([]Session, error)

	// ListAllSessions returns every session regardless of active/summarized
	// state, for admin listing and summary enumeration.
	ListAllSessions(ctx context.Context) ([]Session, error)

	// DeleteSession removes a session entirely, reporting whether a row
	// existed.
	DeleteSession(ctx context.Context, id string) (bool, error)

	// FetchFullTranscript renders the session's history as a "ROLE: content"
	// transcript, one line per turn, for EXPAND enrichment.
	FetchFullTranscript(ctx context.Context, id string) (string, error)
}
