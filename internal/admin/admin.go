// Package admin exposes the non-WebSocket HTTP control surface: health,
// adapter hot-swap, session CRUD, summaries, vector search, and a
// synchronous single-generation chat endpoint.
package admin

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/google/uuid"

	"modelgate/internal/inference"
	"modelgate/internal/memory"
	"modelgate/internal/persistence"
	"modelgate/internal/queue"
)

// Server wires every dependency the admin HTTP surface needs.
type Server struct {
	Chat     persistence.ChatStore
	Memory   *memory.Store
	Worker   *inference.Worker
	Queue    *queue.Queue
	Priority int
}

// Mux builds the routed http.Handler for this server, using Go 1.22+
// method-pattern routes.
func (s *Server) Mux() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /{$}", s.handleRoot)
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("POST /adapters/load", s.handleLoadAdapter)
	mux.HandleFunc("GET /data/sessions", s.handleListSessions)
	mux.HandleFunc("GET /data/session", s.handleGetSession)
	mux.HandleFunc("DELETE /data/session", s.handleDeleteSession)
	mux.HandleFunc("GET /data/summaries", s.handleSummaries)
	mux.HandleFunc("POST /data/vector/search", s.handleVectorSearch)
	mux.HandleFunc("POST /chat", s.handleChat)
	return mux
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func (s *Server) handleRoot(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"service": "modelgate"})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":          "ok",
		"current_adapter": s.Worker.CurrentAdapterName(),
	})
}

func (s *Server) handleLoadAdapter(w http.ResponseWriter, r *http.Request) {
	var body struct {
		AdapterName string `json:"adapter_name"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}
	if err := s.Worker.LoadAdapter(body.AdapterName); err != nil {
		if errors.Is(err, inference.ErrAdapterNotFound) {
			writeJSON(w, http.StatusNotFound, map[string]string{"error": err.Error()})
			return
		}
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok", "loaded": body.AdapterName})
}

func (s *Server) handleListSessions(w http.ResponseWriter, r *http.Request) {
	sessions, err := s.Chat.ListAllSessions(r.Context())
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"sessions": sessions})
}

func (s *Server) handleGetSession(w http.ResponseWriter, r *http.Request) {
	id := r.URL.Query().Get("session_id")
	if id == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "session_id is required"})
		return
	}
	sess, err := s.Chat.GetSession(r.Context(), id)
	if err != nil {
		if errors.Is(err, persistence.ErrNotFound) {
			writeJSON(w, http.StatusNotFound, map[string]string{"error": err.Error()})
			return
		}
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, sess)
}

func (s *Server) handleDeleteSession(w http.ResponseWriter, r *http.Request) {
	id := r.URL.Query().Get("session_id")
	if id == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "session_id is required"})
		return
	}
	existed, err := s.Chat.DeleteSession(r.Context(), id)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	if !existed {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "session not found"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"deleted": true})
}

func (s *Server) handleSummaries(w http.ResponseWriter, r *http.Request) {
	sessions, err := s.Chat.ListAllSessions(r.Context())
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	type summary struct {
		ID      string `json:"id"`
		Title   string `json:"title"`
		Summary string `json:"summary"`
	}
	out := make([]summary, 0, len(sessions))
	for _, sess := range sessions {
		if sess.IsSummarized {
			out = append(out, summary{ID: sess.ID, Title: sess.Title, Summary: sess.Summary})
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{"summaries": out})
}

func (s *Server) handleVectorSearch(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Query     string   `json:"query"`
		NResults  int      `json:"n_results"`
		Threshold *float64 `json:"threshold"`
		Where     struct {
			Source string `json:"source"`
		} `json:"where"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}
	records, err := s.Memory.RecallWithMetadata(r.Context(), body.Query, body.NResults, body.Threshold, body.Where.Source)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"results": records})
}

func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Prompt       string  `json:"prompt"`
		SystemPrompt string  `json:"system_prompt"`
		MaxTokens    int     `json:"max_tokens"`
		Temperature  float64 `json:"temperature"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}
	if strings.TrimSpace(body.Prompt) == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "prompt is required"})
		return
	}

	answer, err := s.runOneGeneration(r.Context(), body.Prompt, body.SystemPrompt, body.MaxTokens, body.Temperature)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"response": answer})
}

func (s *Server) runOneGeneration(ctx context.Context, prompt, systemPrompt string, maxTokens int, temperature float64) (string, error) {
	sink := inference.NewSink(256)
	defer sink.Close()

	req := inference.Request{
		RequestID:    "chat-http-" + uuid.NewString(),
		Prompt:       prompt,
		SystemPrompt: systemPrompt,
		MaxTokens:    maxTokens,
		Temperature:  temperature,
	}
	job := &inference.Job{Request: req, Sink: sink}
	priority := s.Priority
	if err := s.Queue.Enqueue(req.RequestID, job, &priority); err != nil {
		return "", err
	}

	text := ""
	for ev := range sink.Events() {
		switch ev.Kind {
		case inference.ChunkToken:
			text = inference.Accumulate(text, ev.Text)
		case inference.ChunkError:
			return "", errors.New(ev.Text)
		case inference.ChunkEndOfStream:
			return text, nil
		}
	}
	return text, nil
}
