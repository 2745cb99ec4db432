package databases

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"modelgate/internal/persistence"
)

// NewMemoryChatStore builds an in-process persistence.ChatStore, used for
// tests and for running without a Postgres instance available.
func NewMemoryChatStore() persistence.ChatStore {
	return &memChatStore{sessions: map[string]persistence.Session{}}
}

type memChatStore struct {
	mu       sync.RWMutex
	sessions map[string]persistence.Session
}

func (s *memChatStore) Init(ctx context.Context) error { return nil }

func (s *memChatStore) CreateSession(ctx context.Context, id, title string) (persistence.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if sess, ok := s.sessions[id]; ok {
		return cloneSession(sess), nil
	}
	if title == "" {
		title = "New Chat"
	}
	now := time.Now().UTC()
	sess := persistence.Session{ID: id, Title: title, CreatedAt: now, LastActiveAt: now, UpdatedAt: now, IsActive: true}
	s.sessions[id] = sess
	return cloneSession(sess), nil
}

func (s *memChatStore) AppendHistory(ctx context.Context, id, role, content string) (persistence.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := time.Now().UTC()
	sess, ok := s.sessions[id]
	if !ok {
		sess = persistence.Session{ID: id, Title: "New Chat", CreatedAt: now}
	}
	sess.History = append(sess.History, persistence.HistoryEntry{Role: role, Content: content, Timestamp: now})
	sess.LastActiveAt = now
	sess.UpdatedAt = now
	sess.IsActive = true
	s.sessions[id] = sess
	return cloneSession(sess), nil
}

func (s *memChatStore) GetSession(ctx context.Context, id string) (persistence.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sess, ok := s.sessions[id]
	if !ok {
		return persistence.Session{}, persistence.ErrNotFound
	}
	return cloneSession(sess), nil
}

func (s *memChatStore) UpdateSummary(ctx context.Context, id, title, summary string, markInactive bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[id]
	if !ok {
		return persistence.ErrNotFound
	}
	if strings.TrimSpace(title) != "" {
		sess.Title = title
	}
	sess.Summary = summary
	sess.IsSummarized = true
	if markInactive {
		sess.IsActive = false
	}
	sess.UpdatedAt = time.Now().UTC()
	s.sessions[id] = sess
	return nil
}

func (s *memChatStore) ListActiveSessionsOlderThan(ctx context.Context, cutoff time.Time) ([]persistence.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []persistence.Session
	for _, sess := range s.sessions {
		if sess.IsActive && sess.LastActiveAt.Before(cutoff) {
			out = append(out, cloneSession(sess))
		}
	}
	return out, nil
}

func (s *memChatStore) ListAllSessions(ctx context.Context) ([]persistence.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]persistence.Session, 0, len(s.sessions))
	for _, sess := range s.sessions {
		out = append(out, cloneSession(sess))
	}
	return out, nil
}

func (s *memChatStore) DeleteSession(ctx context.Context, id string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.sessions[id]
	delete(s.sessions, id)
	return ok, nil
}

func (s *memChatStore) FetchFullTranscript(ctx context.Context, id string) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sess, ok := s.sessions[id]
	if !ok {
		return "", persistence.ErrNotFound
	}
	var b strings.Builder
	for _, h := range sess.History {
		fmt.Fprintf(&b, "%s: %s\n", strings.ToUpper(h.Role), h.Content)
	}
	return b.String(), nil
}

func cloneSession(s persistence.Session) persistence.Session {
	cp := s
	cp.History = make([]persistence.HistoryEntry, len(s.History))
	copy(cp.History, s.History)
	return cp
}
