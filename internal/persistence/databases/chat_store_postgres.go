package databases

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"modelgate/internal/observability"
	"modelgate/internal/persistence"
)

// NewPostgresChatStore returns a Postgres-backed persistence.ChatStore. A
// session's history is stored as a single JSONB array column, matching how
// the gateway's API shapes a session over the wire.
func NewPostgresChatStore(pool *pgxpool.Pool) persistence.ChatStore {
	return &pgChatStore{pool: pool}
}

type pgChatStore struct {
	pool *pgxpool.Pool
}

func (s *pgChatStore) Close() {
	if s.pool != nil {
		s.pool.Close()
	}
}

func (s *pgChatStore) Init(ctx context.Context) error {
	if s.pool == nil {
		return errors.New("postgres chat store requires pool")
	}
	_, err := s.pool.Exec(ctx, `
CREATE TABLE IF NOT EXISTS sessions (
    id UUID PRIMARY KEY,
    title TEXT NOT NULL DEFAULT '',
    created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    last_active_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    is_active BOOLEAN NOT NULL DEFAULT TRUE,
    is_summarized BOOLEAN NOT NULL DEFAULT FALSE,
    summary TEXT NOT NULL DEFAULT '',
    history JSONB NOT NULL DEFAULT '[]'::jsonb
);

CREATE INDEX IF NOT EXISTS sessions_active_last_active_idx ON sessions(is_active, last_active_at);
`)
	return err
}

func (s *pgChatStore) scanSession(row pgx.Row) (persistence.Session, error) {
	var sess persistence.Session
	var historyRaw []byte
	if err := row.Scan(&sess.ID, &sess.Title, &sess.CreatedAt, &sess.LastActiveAt, &sess.UpdatedAt,
		&sess.IsActive, &sess.IsSummarized, &sess.Summary, &historyRaw); err != nil {
		return persistence.Session{}, err
	}
	if len(historyRaw) > 0 {
		if err := json.Unmarshal(historyRaw, &sess.History); err != nil {
			return persistence.Session{}, err
		}
	}
	return sess, nil
}

const sessionColumns = `id, title, created_at, last_active_at, updated_at, is_active, is_summarized, summary, history`

func (s *pgChatStore) CreateSession(ctx context.Context, id, title string) (persistence.Session, error) {
	if strings.TrimSpace(title) == "" {
		title = "New Chat"
	}
	row := s.pool.QueryRow(ctx, `
INSERT INTO sessions (id, title)
VALUES ($1, $2)
ON CONFLICT (id) DO UPDATE SET id = sessions.id
RETURNING `+sessionColumns, id, title)
	return s.scanSession(row)
}

func (s *pgChatStore) AppendHistory(ctx context.Context, id, role, content string) (persistence.Session, error) {
	log := observability.LoggerWithTrace(ctx)
	now := time.Now().UTC()
	entry, err := json.Marshal(persistence.HistoryEntry{Role: role, Content: content, Timestamp: now})
	if err != nil {
		return persistence.Session{}, err
	}
	row := s.pool.QueryRow(ctx, `
INSERT INTO sessions (id, title, created_at, last_active_at, updated_at, is_active, history)
VALUES ($1, 'New Chat', $2, $2, $2, TRUE, jsonb_build_array($3::jsonb))
ON CONFLICT (id) DO UPDATE SET
    history = sessions.history || $3::jsonb,
    last_active_at = $2,
    updated_at = $2,
    is_active = TRUE
RETURNING `+sessionColumns, id, now, entry)
	sess, err := s.scanSession(row)
	if err != nil {
		log.Error().Err(err).Str("session_id", id).Msg("append_history_failed")
		return persistence.Session{}, err
	}
	return sess, nil
}

func (s *pgChatStore) GetSession(ctx context.Context, id string) (persistence.Session, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+sessionColumns+` FROM sessions WHERE id = $1`, id)
	sess, err := s.scanSession(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return persistence.Session{}, persistence.ErrNotFound
	}
	return sess, err
}

func (s *pgChatStore) UpdateSummary(ctx context.Context, id, title, summary string, markInactive bool) error {
	query := `
UPDATE sessions
SET summary = $2,
    is_summarized = TRUE,
    updated_at = NOW(),
    title = CASE WHEN $3 = '' THEN title ELSE $3 END,
    is_active = CASE WHEN $4 THEN FALSE ELSE is_active END
WHERE id = $1`
	cmd, err := s.pool.Exec(ctx, query, id, summary, strings.TrimSpace(title), markInactive)
	if err != nil {
		return err
	}
	if cmd.RowsAffected() == 0 {
		return persistence.ErrNotFound
	}
	return nil
}

func (s *pgChatStore) ListActiveSessionsOlderThan(ctx context.Context, cutoff time.Time) ([]persistence.Session, error) {
	rows, err := s.pool.Query(ctx, `SELECT `+sessionColumns+` FROM sessions WHERE is_active = TRUE AND last_active_at < $1`, cutoff)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []persistence.Session
	for rows.Next() {
		sess, err := s.scanSession(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, sess)
	}
	return out, rows.Err()
}

func (s *pgChatStore) ListAllSessions(ctx context.Context) ([]persistence.Session, error) {
	rows, err := s.pool.Query(ctx, `SELECT `+sessionColumns+` FROM sessions ORDER BY last_active_at DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []persistence.Session
	for rows.Next() {
		sess, err := s.scanSession(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, sess)
	}
	return out, rows.Err()
}

func (s *pgChatStore) DeleteSession(ctx context.Context, id string) (bool, error) {
	cmd, err := s.pool.Exec(ctx, `DELETE FROM sessions WHERE id = $1`, id)
	if err != nil {
		return false, err
	}
	return cmd.RowsAffected() > 0, nil
}

func (s *pgChatStore) FetchFullTranscript(ctx context.Context, id string) (string, error) {
	sess, err := s.GetSession(ctx, id)
	if err != nil {
		return "", err
	}
	var b strings.Builder
	for _, h := range sess.History {
		b.WriteString(strings.ToUpper(h.Role))
		b.WriteString(": ")
		b.WriteString(h.Content)
		b.WriteByte('\n')
	}
	return b.String(), nil
}
