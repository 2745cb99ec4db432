package inference

import (
	"context"
	"time"

	"modelgate/internal/observability"
)

// Supervisor restarts the worker's Run loop on crash with exponential
// backoff, capped at 30s, resetting the backoff after 1 minute of healthy
// (non-crashing) operation.
type Supervisor struct {
	worker *Worker

	minBackoff   time.Duration
	maxBackoff   time.Duration
	healthyAfter time.Duration
}

// NewSupervisor wraps worker with the crash-restart policy.
func NewSupervisor(worker *Worker) *Supervisor {
	return &Supervisor{
		worker:       worker,
		minBackoff:   time.Second,
		maxBackoff:   30 * time.Second,
		healthyAfter: time.Minute,
	}
}

// Run supervises the worker until ctx is cancelled.
func (s *Supervisor) Run(ctx context.Context) {
	backoff := s.minBackoff
	log := observability.LoggerWithTrace(ctx)

	for {
		if ctx.Err() != nil {
			return
		}

		start := time.Now()
		err := s.runOnce(ctx)
		if ctx.Err() != nil {
			return
		}
		if err == nil {
			// queue closed; caller is shutting down
			return
		}

		if time.Since(start) >= s.healthyAfter {
			backoff = s.minBackoff
		}

		log.Error().Err(err).Dur("backoff", backoff).Msg("inference_worker_crashed")

		select {
		case <-ctx.Done():
			return
		case <-time.After(backoff):
		}

		backoff *= 2
		if backoff > s.maxBackoff {
			backoff = s.maxBackoff
		}
	}
}

func (s *Supervisor) runOnce(ctx context.Context) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = panicError{r}
		}
	}()
	return s.worker.Run(ctx)
}

type panicError struct{ v any }

func (p panicError) Error() string {
	return "inference worker panic: " + toString(p.v)
}

func toString(v any) string {
	if err, ok := v.(error); ok {
		return err.Error()
	}
	if s, ok := v.(string); ok {
		return s
	}
	return "unknown panic"
}
