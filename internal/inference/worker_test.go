package inference

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"modelgate/internal/llm"
	"modelgate/internal/queue"
)

// streamingProvider emits a scripted sequence of chunks, exercising both
// delta- and snapshot-style runtimes depending on the fixture.
type streamingProvider struct {
	chunks  []string
	usage   llm.Usage
	lastReq llm.Request
}

func (p *streamingProvider) ChatStream(ctx context.Context, req llm.Request, h llm.StreamHandler) error {
	p.lastReq = req
	for _, c := range p.chunks {
		h.OnDelta(c)
	}
	h.OnUsage(p.usage)
	return nil
}

func collectSink(sink *Sink) []Event {
	var events []Event
	for e := range sink.Events() {
		events = append(events, e)
		if e.Kind == ChunkEndOfStream {
			break
		}
	}
	return events
}

func newTestWorker(t *testing.T, provider llm.Provider) (*Worker, *queue.Queue, string) {
	t.Helper()
	q := queue.New(10, 5, false, 0)
	registry := NewRegistry(provider)

	dir := t.TempDir()
	logPath := filepath.Join(dir, "inference_log.jsonl")
	sink, err := newJSONLLogSink(logPath)
	require.NoError(t, err)
	t.Cleanup(func() { _ = sink.Close() })

	w := NewWorker(q, registry, nil, sink)
	return w, q, logPath
}

func TestWorkerStreamsDeltaChunksAndEndsWithEndOfStream(t *testing.T) {
	provider := &streamingProvider{chunks: []string{"Hello", ", ", "world"}}
	w, q, _ := newTestWorker(t, provider)

	jobSink := NewSink(16)
	job := &Job{Request: Request{RequestID: "r1"}, Sink: jobSink}
	require.NoError(t, q.Enqueue("r1", job, nil))

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	go func() { _ = w.Run(ctx) }()

	events := collectSink(jobSink)
	require.NotEmpty(t, events)
	last := events[len(events)-1]
	assert.Equal(t, ChunkEndOfStream, last.Kind)

	tokenCount := 0
	for _, e := range events {
		if e.Kind == ChunkToken {
			tokenCount++
		}
	}
	assert.Equal(t, 3, tokenCount)
}

func TestWorkerDedupMatchesFinalResponse(t *testing.T) {
	// Snapshot-style runtime: each chunk is the full growing response.
	provider := &streamingProvider{chunks: []string{"H", "He", "Hel", "Hello"}}
	w, q, _ := newTestWorker(t, provider)

	jobSink := NewSink(16)
	job := &Job{Request: Request{RequestID: "r2"}, Sink: jobSink}
	require.NoError(t, q.Enqueue("r2", job, nil))

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	go func() { _ = w.Run(ctx) }()

	events := collectSink(jobSink)
	acc := ""
	for _, e := range events {
		if e.Kind == ChunkToken {
			acc = Accumulate(acc, e.Text)
		}
	}
	assert.Equal(t, "Hello", acc)
}

func TestWorkerWritesInferenceLogOnCompletion(t *testing.T) {
	provider := &streamingProvider{chunks: []string{"a", "b"}}
	w, q, logPath := newTestWorker(t, provider)

	jobSink := NewSink(16)
	job := &Job{Request: Request{RequestID: "r3", SessionID: "s1"}, Sink: jobSink}
	require.NoError(t, q.Enqueue("r3", job, nil))

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	go func() { _ = w.Run(ctx) }()

	collectSink(jobSink)

	// the log write is asynchronous; poll briefly for it to land
	deadline := time.Now().Add(2 * time.Second)
	var raw []byte
	for time.Now().Before(deadline) {
		b, err := os.ReadFile(logPath)
		if err == nil && len(b) > 0 {
			raw = b
			break
		}
		time.Sleep(10 * time.Millisecond)
	}
	require.NotEmpty(t, raw, "expected an inference log row to be written")

	var entry Log
	require.NoError(t, json.Unmarshal(raw[:indexOfNewline(raw)], &entry))
	assert.Equal(t, "r3", entry.RequestID)
	assert.Equal(t, "s1", entry.SessionID)
	assert.Equal(t, 2, entry.TokensOut)
	if entry.WallTimeSec > 0 {
		assert.InDelta(t, entry.TokensPerSec, float64(entry.TokensOut)/entry.WallTimeSec, 0.001)
	} else {
		assert.Equal(t, 0.0, entry.TokensPerSec)
	}
}

func TestWorkerGenerationErrorEmitsErrorThenEndOfStream(t *testing.T) {
	provider := &erroringProvider{err: assertError("boom")}
	w, q, _ := newTestWorker(t, provider)

	jobSink := NewSink(16)
	job := &Job{Request: Request{RequestID: "r4"}, Sink: jobSink}
	require.NoError(t, q.Enqueue("r4", job, nil))

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	go func() { _ = w.Run(ctx) }()

	events := collectSink(jobSink)
	require.Len(t, events, 2)
	assert.Equal(t, ChunkError, events[0].Kind)
	assert.Equal(t, ChunkEndOfStream, events[1].Kind)
}

type erroringProvider struct{ err error }

func (p *erroringProvider) ChatStream(ctx context.Context, req llm.Request, h llm.StreamHandler) error {
	return p.err
}

func TestWorkerForwardsRequestParamsAndUsage(t *testing.T) {
	provider := &streamingProvider{
		chunks: []string{"ok"},
		usage:  llm.Usage{PromptTokens: 11, CompletionTokens: 1},
	}
	w, q, logPath := newTestWorker(t, provider)

	jobSink := NewSink(16)
	job := &Job{
		Request: Request{RequestID: "r5", SystemPrompt: "be terse", Prompt: "hi", MaxTokens: 99, Temperature: 0.3},
		Sink:    jobSink,
	}
	require.NoError(t, q.Enqueue("r5", job, nil))

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	go func() { _ = w.Run(ctx) }()

	collectSink(jobSink)

	assert.Equal(t, 99, provider.lastReq.MaxTokens)
	assert.Equal(t, 0.3, provider.lastReq.Temperature)
	require.Len(t, provider.lastReq.Messages, 2)
	assert.Equal(t, "system", provider.lastReq.Messages[0].Role)

	deadline := time.Now().Add(2 * time.Second)
	var raw []byte
	for time.Now().Before(deadline) {
		b, err := os.ReadFile(logPath)
		if err == nil && len(b) > 0 {
			raw = b
			break
		}
		time.Sleep(10 * time.Millisecond)
	}
	require.NotEmpty(t, raw)
	var entry Log
	require.NoError(t, json.Unmarshal(raw[:indexOfNewline(raw)], &entry))
	assert.Equal(t, 11, entry.TokensIn)
}

func TestWorkerSurvivesAbandonedSink(t *testing.T) {
	// 600 chunks against a 1-slot sink whose consumer never reads: the
	// worker must drop the writes and move on to the next job instead of
	// blocking under the GPU lock.
	chunks := make([]string, 600)
	for i := range chunks {
		chunks[i] = "x"
	}
	provider := &streamingProvider{chunks: chunks}
	w, q, _ := newTestWorker(t, provider)

	deadSink := NewSink(1)
	deadJob := &Job{Request: Request{RequestID: "dead"}, Sink: deadSink}
	require.NoError(t, q.Enqueue("dead", deadJob, nil))
	deadSink.Close()

	liveSink := NewSink(1024)
	liveJob := &Job{Request: Request{RequestID: "live"}, Sink: liveSink}
	require.NoError(t, q.Enqueue("live", liveJob, nil))

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	go func() { _ = w.Run(ctx) }()

	events := collectSink(liveSink)
	require.NotEmpty(t, events)
	assert.Equal(t, ChunkEndOfStream, events[len(events)-1].Kind)
}

type assertError string

func (e assertError) Error() string { return string(e) }

func indexOfNewline(b []byte) int {
	for i, c := range b {
		if c == '\n' {
			return i
		}
	}
	return len(b)
}
