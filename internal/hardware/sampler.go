// Package hardware runs a background sampler that publishes a latest-wins
// snapshot of CPU, RAM, and (optionally) GPU telemetry. Reads are
// non-blocking so the inference worker can poll it without ever stalling on
// generation.
package hardware

import (
	"bufio"
	"context"
	"encoding/json"
	"os/exec"
	"sync"
	"sync/atomic"
	"time"

	"github.com/shirou/gopsutil/v4/cpu"
	"github.com/shirou/gopsutil/v4/mem"

	"modelgate/internal/observability"
)

// Snapshot is the latest-wins telemetry reading. Missing backends (no GPU
// helper configured, or a malformed/absent reading) degrade their fields to
// zero rather than blocking or erroring.
type Snapshot struct {
	CPUUsage  float64
	RAMUsage  float64
	GPUUsage  float64
	GPUPowerW float64
	GPUTemp   float64
	SoCTemp   float64
}

type gpuReading struct {
	GPUUsage  float64 `json:"gpu_usage"`
	GPUPowerW float64 `json:"gpu_power_w"`
	GPUTemp   float64 `json:"gpu_temp"`
	SoCTemp   float64 `json:"soc_temp"`
}

// Sampler owns the background goroutine and the latest snapshot.
type Sampler struct {
	interval time.Duration
	cmd      string

	snap atomic.Pointer[Snapshot]

	mu  sync.Mutex
	gpu gpuReading
}

// New creates a Sampler. intervalMillis<=0 defaults to 500ms (2Hz).
// telemetryCmd, if non-empty, names an external binary whose stdout is
// scanned line-by-line for JSON {gpu_usage, gpu_power_w, gpu_temp} objects.
func New(intervalMillis int, telemetryCmd string) *Sampler {
	if intervalMillis <= 0 {
		intervalMillis = 500
	}
	s := &Sampler{interval: time.Duration(intervalMillis) * time.Millisecond, cmd: telemetryCmd}
	s.snap.Store(&Snapshot{})
	return s
}

// Run drives the sampler until ctx is cancelled. Intended to be started once
// from the composition root as a long-lived goroutine.
func (s *Sampler) Run(ctx context.Context) {
	if s.cmd != "" {
		go s.runTelemetryHelper(ctx)
	}

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.sampleOnce(ctx)
		}
	}
}

func (s *Sampler) sampleOnce(ctx context.Context) {
	log := observability.LoggerWithTrace(ctx)

	var cpuUsage float64
	if pcts, err := cpu.PercentWithContext(ctx, 0, false); err == nil && len(pcts) > 0 {
		cpuUsage = pcts[0]
	} else if err != nil {
		log.Debug().Err(err).Msg("cpu_sample_failed")
	}

	var ramUsage float64
	if vm, err := mem.VirtualMemoryWithContext(ctx); err == nil {
		ramUsage = vm.UsedPercent
	} else {
		log.Debug().Err(err).Msg("mem_sample_failed")
	}

	s.mu.Lock()
	gpu := s.gpu
	s.mu.Unlock()

	s.snap.Store(&Snapshot{
		CPUUsage:  cpuUsage,
		RAMUsage:  ramUsage,
		GPUUsage:  gpu.GPUUsage,
		GPUPowerW: gpu.GPUPowerW,
		GPUTemp:   gpu.GPUTemp,
		SoCTemp:   gpu.SoCTemp,
	})
}

// runTelemetryHelper spawns the configured external binary once and scans
// its stdout for line-delimited JSON GPU readings. A non-zero exit or
// malformed lines degrade GPU fields to zero without stopping CPU/RAM
// sampling; the helper is not restarted.
func (s *Sampler) runTelemetryHelper(ctx context.Context) {
	log := observability.LoggerWithTrace(ctx)

	cmd := exec.CommandContext(ctx, s.cmd)
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		log.Warn().Err(err).Msg("hardware_telemetry_pipe_failed")
		return
	}
	if err := cmd.Start(); err != nil {
		log.Warn().Err(err).Str("cmd", s.cmd).Msg("hardware_telemetry_start_failed")
		return
	}

	scanner := bufio.NewScanner(stdout)
	for scanner.Scan() {
		var r gpuReading
		if err := json.Unmarshal(scanner.Bytes(), &r); err != nil {
			continue
		}
		s.mu.Lock()
		s.gpu = r
		s.mu.Unlock()
	}

	if err := cmd.Wait(); err != nil {
		log.Warn().Err(err).Str("cmd", s.cmd).Msg("hardware_telemetry_exited")
	}
	s.mu.Lock()
	s.gpu = gpuReading{}
	s.mu.Unlock()
}

// GetSnapshot returns a copy of the most recent reading. Never blocks.
func (s *Sampler) GetSnapshot() Snapshot {
	return *s.snap.Load()
}
