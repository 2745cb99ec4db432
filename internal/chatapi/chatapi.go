// Package chatapi serves the WebSocket chat protocol: one goroutine per
// connection, orchestrating session lookup, memory/summary recall, the
// probe-then-answer inference flow, and SEARCH/EXPAND enrichment.
package chatapi

import (
	"context"
	"fmt"
	"net/http"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"modelgate/internal/inference"
	"modelgate/internal/memory"
	"modelgate/internal/observability"
	"modelgate/internal/prompt"
	"modelgate/internal/queue"
	"modelgate/internal/search"
	"modelgate/internal/session"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

var (
	searchPattern = regexp.MustCompile(`(?i)\[SEARCH:\s*([^\]]+)\]`)
	expandPattern = regexp.MustCompile(`(?i)\[EXPAND:\s*([0-9a-fA-F-]{36})\]`)
)

// clientMessage is the inbound JSON envelope; Type distinguishes control
// messages from a bare inference request.
type clientMessage struct {
	Type      string `json:"type"`
	SessionID string `json:"session_id"`

	Prompt         string  `json:"prompt"`
	SystemPrompt   string  `json:"system_prompt"`
	MaxTokens      int     `json:"max_tokens"`
	Temperature    float64 `json:"temperature"`
	Priority       *int    `json:"priority"`
	IncludeHistory bool    `json:"include_history"`
}

// validateInference checks a bare inference message against the request
// schema before anything reaches the queue or the model.
func validateInference(msg clientMessage) error {
	if strings.TrimSpace(msg.Prompt) == "" {
		return fmt.Errorf("prompt is required")
	}
	if msg.MaxTokens <= 0 {
		return fmt.Errorf("max_tokens must be > 0")
	}
	if msg.Temperature < 0 {
		return fmt.Errorf("temperature must be >= 0")
	}
	if msg.Priority != nil && *msg.Priority < 0 {
		return fmt.Errorf("priority must be >= 0")
	}
	return nil
}

// serverMessage is the outbound JSON envelope.
type serverMessage struct {
	Type      string `json:"type"`
	Content   string `json:"content,omitempty"`
	Detail    string `json:"detail,omitempty"`
	SessionID string `json:"session_id,omitempty"`
}

// Server wires together every dependency one connection's inference flow
// needs.
type Server struct {
	Sessions   *session.Manager
	Memory     *memory.Store
	Queue      *queue.Queue
	Search     *search.Client
	Priorities Priorities
}

// Priorities names the queue priority levels the orchestrator submits at.
type Priorities struct {
	UI       int
	Critical int
}

// ServeHTTP upgrades the connection and runs the per-connection loop until
// the client disconnects or the context is cancelled.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	log := observability.LoggerWithTrace(r.Context())
	for {
		var msg clientMessage
		if err := conn.ReadJSON(&msg); err != nil {
			return
		}
		if err := s.handleMessage(r.Context(), conn, msg); err != nil {
			log.Warn().Err(err).Msg("chatapi_message_failed")
			if writeErr := conn.WriteJSON(serverMessage{Type: "error", Detail: err.Error()}); writeErr != nil {
				closeWithError(conn, err)
				return
			}
		}
	}
}

func (s *Server) handleMessage(ctx context.Context, conn *websocket.Conn, msg clientMessage) error {
	switch msg.Type {
	case "session_start":
		return s.handleSessionStart(ctx, conn, msg)
	case "session_end":
		return s.handleSessionEnd(ctx, conn, msg)
	case "":
		return s.handleInference(ctx, conn, msg)
	default:
		return fmt.Errorf("unknown message type %q", msg.Type)
	}
}

func (s *Server) handleSessionStart(ctx context.Context, conn *websocket.Conn, msg clientMessage) error {
	id := msg.SessionID
	if id == "" {
		id = uuid.NewString()
	}
	sess, err := s.Sessions.EnsureSession(ctx, id)
	if err != nil {
		return err
	}
	return conn.WriteJSON(serverMessage{Type: "status", Content: "session_ready", SessionID: sess.ID})
}

func (s *Server) handleSessionEnd(ctx context.Context, conn *websocket.Conn, msg clientMessage) error {
	sess, err := s.Sessions.EnsureSession(ctx, msg.SessionID)
	if err != nil {
		return err
	}
	// Summarization is scheduled asynchronously; the connection never blocks
	// on it, and the background goroutine logs any failure.
	go func() {
		bgCtx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
		defer cancel()
		if err := s.Sessions.SummarizeNow(bgCtx, sess); err != nil {
			observability.LoggerWithTrace(bgCtx).Warn().Err(err).Str("session_id", sess.ID).Msg("session_end_summarize_failed")
		}
	}()
	return conn.WriteJSON(serverMessage{Type: "status", Content: "session_closed", SessionID: sess.ID})
}

func (s *Server) handleInference(ctx context.Context, conn *websocket.Conn, msg clientMessage) error {
	if err := validateInference(msg); err != nil {
		return err
	}
	if err := conn.WriteJSON(serverMessage{Type: "status", Content: "Thinking..."}); err != nil {
		return err
	}

	// session_id is optional on an inference message; a missing one gets a
	// fresh session, same as session_start.
	if msg.SessionID == "" {
		msg.SessionID = uuid.NewString()
	}
	sess, err := s.Sessions.EnsureSession(ctx, msg.SessionID)
	if err != nil {
		return err
	}

	memories, _ := s.recallMemories(ctx, msg.Prompt)
	summaries := s.recallSummaries(ctx, msg.Prompt)

	history := sess.History
	if !msg.IncludeHistory {
		history = nil
	}

	baseSystemPrompt := prompt.Assemble(prompt.Inputs{
		Now:              time.Now(),
		Memories:         memories,
		History:          history,
		RelatedSummaries: summaries,
		UserSystemPrompt: msg.SystemPrompt,
	})

	probeText, err := s.runProbe(ctx, msg, baseSystemPrompt)
	if err != nil {
		return err
	}

	if _, err := s.Sessions.AppendMessage(ctx, sess.ID, "user", msg.Prompt); err != nil {
		return err
	}

	searchQuery, searchFound := firstMatch(searchPattern, probeText)
	expandID, expandFound := firstMatch(expandPattern, probeText)

	if !searchFound && !expandFound {
		if err := conn.WriteJSON(serverMessage{Type: "token", Content: probeText}); err != nil {
			return err
		}
		if err := conn.WriteJSON(serverMessage{Type: "end"}); err != nil {
			return err
		}
		_, err := s.Sessions.AppendMessage(ctx, sess.ID, "assistant", probeText)
		return err
	}

	var expanded []prompt.ExpandedTranscript
	if expandFound {
		if err := conn.WriteJSON(serverMessage{Type: "status", Content: "Expanding past session..."}); err != nil {
			return err
		}
		if transcript, err := s.Sessions.FetchTranscript(ctx, expandID); err == nil {
			expanded = append(expanded, prompt.ExpandedTranscript{ID: expandID, Transcript: transcript})
		}
	}

	var searchResp *search.Response
	if searchFound {
		if err := conn.WriteJSON(serverMessage{Type: "status", Content: "Searching the web..."}); err != nil {
			return err
		}
		resp, errStr := s.Search.SearchAndBrowse(ctx, searchQuery, 0, 0)
		if errStr == "" {
			searchResp = resp
		}
	}

	finalSystemPrompt := prompt.Assemble(prompt.Inputs{
		Now:                 time.Now(),
		Memories:            memories,
		History:             history,
		RelatedSummaries:    summaries,
		ExpandedTranscripts: expanded,
		SearchResults:       searchResp,
		UserSystemPrompt:    msg.SystemPrompt,
	})

	answer, err := s.runFinal(ctx, msg, finalSystemPrompt, conn)
	if err != nil {
		return err
	}
	if err := conn.WriteJSON(serverMessage{Type: "end"}); err != nil {
		return err
	}
	_, err = s.Sessions.AppendMessage(ctx, sess.ID, "assistant", answer)
	return err
}

func (s *Server) recallMemories(ctx context.Context, query string) ([]string, error) {
	if s.Memory == nil {
		return nil, nil
	}
	return s.Memory.Recall(ctx, query, 3, 1.2)
}

func (s *Server) recallSummaries(ctx context.Context, query string) []prompt.RelatedSummary {
	if s.Memory == nil {
		return nil
	}
	recs, err := s.Memory.RecallWithMetadata(ctx, query, 3, nil, "chat_summary")
	if err != nil {
		return nil
	}
	out := make([]prompt.RelatedSummary, 0, len(recs))
	for _, r := range recs {
		out = append(out, prompt.RelatedSummary{ID: r.ID, Title: r.Metadata["title"], Summary: r.Document})
	}
	return out
}

// runProbe submits a short, non-streaming probe request forcing tool-intent
// detection, and returns its full text.
func (s *Server) runProbe(ctx context.Context, msg clientMessage, baseSystemPrompt string) (string, error) {
	probeMaxTokens := msg.MaxTokens
	if probeMaxTokens <= 0 || probeMaxTokens > 256 {
		probeMaxTokens = 256
	}
	probeSystemPrompt := baseSystemPrompt + "\n\nCRITICAL: if this prompt asks about any event, score, news item, or other fact that could have changed since your training, you MUST respond with only a [SEARCH: …] line."

	req := inference.Request{
		RequestID:    "probe-" + uuid.NewString(),
		Prompt:       msg.Prompt,
		SystemPrompt: probeSystemPrompt,
		MaxTokens:    probeMaxTokens,
		Temperature:  msg.Temperature,
		SessionID:    msg.SessionID,
	}
	return s.submitAndCollect(ctx, req, s.Priorities.Critical, nil)
}

func (s *Server) runFinal(ctx context.Context, msg clientMessage, systemPrompt string, conn *websocket.Conn) (string, error) {
	req := inference.Request{
		RequestID:    "final-" + uuid.NewString(),
		Prompt:       msg.Prompt,
		SystemPrompt: systemPrompt,
		MaxTokens:    msg.MaxTokens,
		Temperature:  msg.Temperature,
		SessionID:    msg.SessionID,
	}
	// A client-supplied priority overrides the configured UI level for the
	// final answer only; probes stay at critical so tool detection is never
	// starved behind the job it gates.
	priority := s.Priorities.UI
	if msg.Priority != nil {
		priority = *msg.Priority
	}
	return s.submitAndCollect(ctx, req, priority, func(token string) error {
		return conn.WriteJSON(serverMessage{Type: "token", Content: token})
	})
}

// submitAndCollect enqueues a job and drains its sink, optionally forwarding
// each token through onToken as it arrives. Every early exit closes the
// sink so the worker's remaining writes drop instead of blocking under the
// GPU lock.
func (s *Server) submitAndCollect(ctx context.Context, req inference.Request, priority int, onToken func(string) error) (string, error) {
	sink := inference.NewSink(256)
	defer sink.Close()

	job := &inference.Job{Request: req, Sink: sink}
	if err := s.Queue.Enqueue(req.RequestID, job, &priority); err != nil {
		return "", fmt.Errorf("enqueue: %w", err)
	}

	text := ""
	for {
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case ev, ok := <-sink.Events():
			if !ok {
				return text, nil
			}
			switch ev.Kind {
			case inference.ChunkToken:
				text = inference.Accumulate(text, ev.Text)
				if onToken != nil {
					if err := onToken(ev.Text); err != nil {
						return "", err
					}
				}
			case inference.ChunkError:
				return "", fmt.Errorf("inference error: %s", ev.Text)
			case inference.ChunkEndOfStream:
				return text, nil
			}
		}
	}
}

// firstMatch returns the first capture group of re in text and whether it
// matched.
func firstMatch(re *regexp.Regexp, text string) (string, bool) {
	m := re.FindStringSubmatch(text)
	if m == nil {
		return "", false
	}
	return strings.TrimSpace(m[1]), true
}

// closeWithError writes close code 1011 for an unrecoverable server error.
func closeWithError(conn *websocket.Conn, err error) {
	msg := websocket.FormatCloseMessage(websocket.CloseInternalServerErr, err.Error())
	_ = conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
}
