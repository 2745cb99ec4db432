// Command gatewayd is the composition root: it wires configuration, storage
// backends, the inference pipeline, and the chat/admin HTTP surfaces
// together and runs them until signaled to stop.
package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"

	"modelgate/internal/admin"
	"modelgate/internal/chatapi"
	"modelgate/internal/config"
	"modelgate/internal/hardware"
	"modelgate/internal/inference"
	"modelgate/internal/llm/providers"
	"modelgate/internal/logging"
	"modelgate/internal/memory"
	"modelgate/internal/observability"
	"modelgate/internal/persistence/databases"
	"modelgate/internal/queue"
	"modelgate/internal/rag/embedder"
	"modelgate/internal/search"
	"modelgate/internal/session"
	"modelgate/internal/telemetry"
)

func main() {
	if err := run(); err != nil {
		log.Fatal().Err(err).Msg("gatewayd_exited")
	}
}

func run() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load()
	if err != nil {
		return err
	}

	observability.InitLogger(os.Getenv("LOG_LEVEL"))
	logging.Setup("", os.Getenv("GATEWAY_LOG_FILE"))

	shutdownTelemetry, err := telemetry.Setup(ctx, telemetry.Config(cfg.Telemetry))
	if err != nil {
		return err
	}
	defer shutdownTelemetry(context.Background())

	dbs, err := databases.NewManager(ctx, cfg.DB)
	if err != nil {
		return err
	}

	embed := embedder.NewClient(cfg.Embedding, cfg.DB.Vector.Dimensions)
	mem := memory.NewStore(dbs.Vector, embed)

	httpClient := observability.NewHTTPClient(nil)
	baseProvider, err := providers.Build(cfg, httpClient)
	if err != nil {
		return err
	}
	registry := inference.NewRegistry(baseProvider)
	for name, adapterCfg := range cfg.LLMClient.Adapters {
		adapterProvider, err := providers.Build(config.Config{LLMClient: config.LLMClientConfig{
			Provider:  adapterCfg.Provider,
			OpenAI:    adapterCfg.OpenAI,
			Anthropic: adapterCfg.Anthropic,
		}}, httpClient)
		if err != nil {
			return err
		}
		registry.Register(name, adapterProvider)
	}

	logSink, err := inference.NewLogSink(cfg.InferenceLog)
	if err != nil {
		return err
	}
	defer logSink.Close()

	sampler := hardware.New(cfg.Hardware.SampleIntervalMillis, cfg.Hardware.TelemetryCmd)
	go sampler.Run(ctx)

	q := queue.New(cfg.Queue.MaxSize, cfg.Queue.DefaultPriority, cfg.Queue.StarvationPrevention, cfg.Queue.AgingIntervalSec)

	worker := inference.NewWorker(q, registry, sampler, logSink)
	supervisor := inference.NewSupervisor(worker)
	go supervisor.Run(ctx)
	go worker.RunQueueMonitor(ctx)

	sessions := session.NewManager(dbs.Chat, mem, q, cfg.Priorities.Background, cfg.Session.SweepIntervalSeconds, cfg.Session.IdleSeconds)
	go sessions.RunSweeper(ctx)

	quota, err := search.NewQuotaGate(cfg.Search.LimitsFilePath, cfg.Search.UsageFilePath, cfg.Search.MonthlyLimit, cfg.Search.BillingDay, cfg.Search.DailyStrategy)
	if err != nil {
		return err
	}
	searchClient := search.NewClient(cfg.Search.APIBaseURL, cfg.Search.APIToken, quota, cfg.Search.DefaultK, cfg.Search.DefaultMaxChars)

	chatServer := &chatapi.Server{
		Sessions:   sessions,
		Memory:     mem,
		Queue:      q,
		Search:     searchClient,
		Priorities: chatapi.Priorities{UI: cfg.Priorities.UI, Critical: cfg.Priorities.Critical},
	}
	adminServer := &admin.Server{
		Chat:     dbs.Chat,
		Memory:   mem,
		Worker:   worker,
		Queue:    q,
		Priority: cfg.Priorities.Standard,
	}

	chatHTTP := &http.Server{Addr: cfg.Server.ChatAddr, Handler: chatServer}
	adminHTTP := &http.Server{Addr: cfg.Server.AdminAddr, Handler: adminServer.Mux()}

	errCh := make(chan error, 2)
	go func() {
		logging.Component("chat_server").WithField("addr", cfg.Server.ChatAddr).Info("listening")
		if err := chatHTTP.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()
	go func() {
		logging.Component("admin_server").WithField("addr", cfg.Server.AdminAddr).Info("listening")
		if err := adminHTTP.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		logging.Component("main").Info("shutdown signal received")
	case err := <-errCh:
		logging.Component("main").WithError(err).Error("server failed")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	_ = chatHTTP.Shutdown(shutdownCtx)
	_ = adminHTTP.Shutdown(shutdownCtx)
	logging.Component("main").Info("gatewayd stopped")

	return nil
}
