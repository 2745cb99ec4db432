package inference

import (
	"context"
	"errors"
	"sync"
	"time"

	"modelgate/internal/hardware"
	"modelgate/internal/llm"
	"modelgate/internal/observability"
	"modelgate/internal/queue"
)

// Worker is the single logical consumer of the priority queue. It owns the
// model handle (via Registry) behind an exclusive GPU lock, so exactly one
// generation — probe, final, or summarization — runs at a time across the
// whole process.
type Worker struct {
	q        *queue.Queue
	registry *Registry
	sampler  *hardware.Sampler
	logSink  LogSink

	gpuLock sync.Mutex

	queueMonitorInterval time.Duration
}

// NewWorker wires the queue, adapter registry, hardware sampler, and
// inference-log sink together.
func NewWorker(q *queue.Queue, registry *Registry, sampler *hardware.Sampler, logSink LogSink) *Worker {
	return &Worker{q: q, registry: registry, sampler: sampler, logSink: logSink, queueMonitorInterval: 5 * time.Second}
}

// LoadAdapter swaps the active provider. Serialized against generation by
// the GPU lock so a swap never races a concurrent stream.
func (w *Worker) LoadAdapter(name string) error {
	w.gpuLock.Lock()
	defer w.gpuLock.Unlock()
	return w.registry.Load(name)
}

// CurrentAdapterName reports the name of the currently active adapter.
func (w *Worker) CurrentAdapterName() string {
	return w.registry.CurrentName()
}

// Run drives the dequeue loop until ctx is cancelled. Intended to be
// restarted by a Supervisor on panic/crash; a single Run call processes
// jobs until the queue is closed or ctx is done.
func (w *Worker) Run(ctx context.Context) error {
	// queue.Dequeue has no context of its own; closing it on cancellation
	// is what unblocks a waiting dequeue during shutdown.
	stop := make(chan struct{})
	defer close(stop)
	go func() {
		select {
		case <-ctx.Done():
			w.q.Close()
		case <-stop:
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		item, err := w.q.Dequeue()
		if err != nil {
			if errors.Is(err, queue.ErrClosed) {
				return nil
			}
			return err
		}

		job, ok := item.Payload.(*Job)
		if !ok || job == nil {
			continue
		}
		w.process(ctx, job)
	}
}

// RunQueueMonitor periodically logs queue depth while non-zero, per the
// "low-frequency queue monitor" responsibility of the worker.
func (w *Worker) RunQueueMonitor(ctx context.Context) {
	ticker := time.NewTicker(w.queueMonitorInterval)
	defer ticker.Stop()
	lastDepth := -1
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			stats := w.q.Stats()
			if stats.Depth == 0 && lastDepth == 0 {
				continue
			}
			lastDepth = stats.Depth
			observability.LoggerWithTrace(ctx).Info().
				Int("depth", stats.Depth).
				Int("max_size", stats.MaxSize).
				Int("min_effective_priority", stats.MinEffectivePriority).
				Int("max_effective_priority", stats.MaxEffectivePriority).
				Float64("oldest_wait_seconds", stats.OldestWaitSeconds).
				Msg("queue_depth")
		}
	}
}

func (w *Worker) process(ctx context.Context, job *Job) {
	w.gpuLock.Lock()
	defer w.gpuLock.Unlock()

	log := observability.LoggerWithTrace(ctx)

	provider := w.registry.Active()
	req := llm.Request{
		Messages:    buildMessages(job.Request.SystemPrompt, job.Request.Prompt),
		MaxTokens:   job.Request.MaxTokens,
		Temperature: job.Request.Temperature,
	}

	start := time.Now()
	tokensOut := 0
	var usage llm.Usage
	var peakGPUUsage, peakGPUTemp float64
	response := ""

	h := &streamForwarder{
		onToken: func(text string) {
			tokensOut++
			response = Accumulate(response, text)
			if w.sampler != nil {
				snap := w.sampler.GetSnapshot()
				if snap.GPUUsage > peakGPUUsage {
					peakGPUUsage = snap.GPUUsage
				}
				if snap.GPUTemp > peakGPUTemp {
					peakGPUTemp = snap.GPUTemp
				}
			}
			job.Sink.Put(Event{Kind: ChunkToken, Text: text})
		},
		onUsage: func(u llm.Usage) { usage = u },
	}

	err := provider.ChatStream(ctx, req, h)

	duration := time.Since(start)
	if err != nil {
		log.Warn().Err(err).Str("request_id", job.Request.RequestID).Msg("generation_failed")
		job.Sink.Put(Event{Kind: ChunkError, Text: err.Error()})
		job.Sink.Put(Event{Kind: ChunkEndOfStream})
		return
	}

	job.Sink.Put(Event{Kind: ChunkEndOfStream})

	wallSec := duration.Seconds()
	tps := 0.0
	if wallSec > 0 {
		tps = float64(tokensOut) / wallSec
	}

	if w.logSink != nil {
		entry := Log{
			RequestID:    job.Request.RequestID,
			SessionID:    job.Request.SessionID,
			Adapter:      w.registry.CurrentName(),
			TokensIn:     usage.PromptTokens,
			TokensOut:    tokensOut,
			WallTimeSec:  wallSec,
			TokensPerSec: tps,
			PeakGPUUsage: peakGPUUsage,
			PeakGPUTemp:  peakGPUTemp,
			CompletedAt:  time.Now(),
		}
		if w.sampler != nil {
			snap := w.sampler.GetSnapshot()
			entry.EndCPUUsage = snap.CPUUsage
			entry.EndRAMUsage = snap.RAMUsage
			entry.EndGPUPowerW = snap.GPUPowerW
		}
		go func() {
			writeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := w.logSink.Write(writeCtx, entry); err != nil {
				observability.LoggerWithTrace(writeCtx).Warn().Err(err).Msg("inference_log_write_failed")
			}
		}()
	}
}

// streamForwarder adapts llm.StreamHandler to the worker's per-token and
// end-of-stream usage callbacks.
type streamForwarder struct {
	onToken func(text string)
	onUsage func(u llm.Usage)
}

func (h *streamForwarder) OnDelta(text string) { h.onToken(text) }
func (h *streamForwarder) OnUsage(u llm.Usage) { h.onUsage(u) }

var _ llm.StreamHandler = (*streamForwarder)(nil)
