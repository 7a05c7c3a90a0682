package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/nats-io/nats-server/v2/server"
	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"

	"github.com/c360studio/phraseforge/api"
	"github.com/c360studio/phraseforge/config"
	"github.com/c360studio/phraseforge/coverage"
	"github.com/c360studio/phraseforge/dispatch"
	"github.com/c360studio/phraseforge/extract"
	"github.com/c360studio/phraseforge/history"
	"github.com/c360studio/phraseforge/llm"
	"github.com/c360studio/phraseforge/metrics"
	"github.com/c360studio/phraseforge/model"
	"github.com/c360studio/phraseforge/orchestrate"
	"github.com/c360studio/phraseforge/pdfsplit"
	"github.com/c360studio/phraseforge/progress"
	"github.com/c360studio/phraseforge/storage"
	"github.com/c360studio/phraseforge/worker"
)

// queueDepthInterval is how often the worker consumer backlog is sampled
// into the queue depth gauge.
const queueDepthInterval = 15 * time.Second

// App wires together the NATS transport, stores, services and the HTTP
// server for the single-process deployment.
type App struct {
	cfg    *config.Config
	logger *slog.Logger

	// NATS
	embeddedServer *server.Server
	natsConn       *nats.Conn
	js             jetstream.JetStream

	// Storage
	jobs   *storage.JobStore
	chunks *storage.ChunkStore

	// Services
	queue   *dispatch.JetStreamQueue
	orch    *orchestrate.Orchestrator
	worker  *worker.Worker
	hub     *progress.Hub
	metrics *metrics.Metrics

	httpServer *http.Server

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewApp creates a new application instance.
func NewApp(cfg *config.Config, logger *slog.Logger) *App {
	if logger == nil {
		logger = slog.Default()
	}
	return &App{cfg: cfg, logger: logger}
}

// Start initializes all components and begins serving.
func (a *App) Start(ctx context.Context) error {
	// Start NATS (embedded or connect to external)
	if err := a.startNATS(ctx); err != nil {
		return fmt.Errorf("start NATS: %w", err)
	}

	// Initialize storage
	buckets, err := storage.OpenBuckets(ctx, a.js)
	if err != nil {
		return fmt.Errorf("initialize storage: %w", err)
	}
	a.jobs = storage.NewJobStore(buckets.Jobs)
	a.chunks = storage.NewChunkStore(buckets.Chunks)
	historyStore := storage.NewHistoryStore(buckets.Histories)
	wordlists := storage.NewWordListStore(buckets.WordLists)
	covStore := storage.NewCoverageStore(buckets.Coverage, buckets.Assignments)

	m := metrics.New()
	a.metrics = m

	// Dispatch: durable task queue plus the chord coordinator
	queue, err := dispatch.NewJetStreamQueue(ctx, a.js)
	if err != nil {
		return fmt.Errorf("initialize task queue: %w", err)
	}
	a.queue = queue
	coord := dispatch.NewCoordinator(buckets.Groups, queue, a.logger)

	histories := history.NewService(historyStore, a.chunks, a.cfg.Chunking.OverlapWindow, a.logger)
	bus := progress.NewNATSBus(a.natsConn)

	a.orch = orchestrate.New(a.jobs, a.chunks, coord, histories, bus, nil, a.logger)
	a.orch.SetMetrics(m)

	engine := extract.NewEngine(a.buildLLMClient(m), extract.Config{
		AllowLocalFallback: a.cfg.Extract.AllowLocalFallback,
	}, a.logger)

	covSvc := coverage.NewService(covStore, wordlists, a.jobs, a.chunks, histories, coord, bus, a.logger)
	covSvc.SetMetrics(m)

	a.worker = worker.New(a.cfg.Worker, queue, coord, a.chunks, a.orch, engine, covSvc, a.logger)
	a.worker.SetMetrics(m)
	a.orch.SetLocalRunner(a.worker)

	if a.cfg.Server.AuthSecret == "" {
		a.logger.Warn("server.auth_secret is empty; tokens are signed with an empty key")
	}
	verifier := api.NewSecretVerifier(a.cfg.Server.AuthSecret)

	a.hub = progress.NewHub(bus, a.jobs, verifier, a.logger)
	a.hub.SetMetrics(m)

	apiServer := api.NewServer(a.cfg, api.Deps{
		Verifier:  verifier,
		Jobs:      a.jobs,
		Chunks:    a.chunks,
		Orch:      a.orch,
		Coord:     coord,
		Histories: histories,
		WordLists: wordlists,
		Coverage:  covSvc,
		Splitter:  pdfsplit.New(splitStrategy(a.cfg.Chunking)),
		Metrics:   m,
		Hub:       a.hub,
	}, a.logger)

	a.httpServer = &http.Server{
		Addr:              a.cfg.Server.Addr,
		Handler:           apiServer.Routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	runCtx, cancel := context.WithCancel(context.Background())
	a.cancel = cancel

	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		a.worker.Run(runCtx)
	}()

	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		a.watchdog(runCtx)
	}()

	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		a.pollQueueDepth(runCtx)
	}()

	go func() {
		if err := a.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.logger.Error("HTTP server failed", "error", err)
		}
	}()

	a.logger.Info("Components initialized", "workers", a.cfg.Worker.MaxWorkers)
	return nil
}

func (a *App) startNATS(_ context.Context) error {
	if a.cfg.NATS.URL != "" && !a.cfg.NATS.Embedded {
		// Connect to external NATS
		a.logger.Info("Connecting to NATS", "url", a.cfg.NATS.URL)
		conn, err := nats.Connect(a.cfg.NATS.URL)
		if err != nil {
			return fmt.Errorf("connect to NATS: %w", err)
		}
		a.natsConn = conn
	} else {
		// Start embedded NATS server
		a.logger.Info("Starting embedded NATS server")
		opts := &server.Options{
			Port:      -1, // Random available port
			JetStream: true,
			NoLog:     true,
			NoSigs:    true,
		}

		ns, err := server.NewServer(opts)
		if err != nil {
			return fmt.Errorf("create embedded NATS server: %w", err)
		}

		go ns.Start()

		// Wait for server to be ready
		if !ns.ReadyForConnections(5 * time.Second) {
			ns.Shutdown()
			return fmt.Errorf("embedded NATS server failed to start")
		}

		a.embeddedServer = ns

		// Connect to embedded server
		conn, err := nats.Connect(ns.ClientURL())
		if err != nil {
			ns.Shutdown()
			return fmt.Errorf("connect to embedded NATS: %w", err)
		}
		a.natsConn = conn
	}

	// Get JetStream context
	js, err := jetstream.New(a.natsConn)
	if err != nil {
		return fmt.Errorf("create JetStream context: %w", err)
	}
	a.js = js

	return nil
}

// buildLLMClient assembles the tiered LLM client. Call recording is
// best-effort: a failure to open the call stream disables it.
func (a *App) buildLLMClient(m *metrics.Metrics) *llm.Client {
	opts := []llm.ClientOption{
		llm.WithLogger(a.logger),
		llm.WithMetrics(m),
	}
	if a.cfg.Model.Timeout > 0 {
		opts = append(opts, llm.WithHTTPClient(&http.Client{Timeout: a.cfg.Model.Timeout}))
	}

	recorder, err := llm.NewCallRecorder(a.js, llm.WithRecorderLogger(a.logger))
	if err != nil {
		a.logger.Warn("LLM call recording disabled", "error", err)
	} else {
		opts = append(opts, llm.WithCallRecorder(recorder))
	}

	registry, err := modelRegistry(a.cfg.Model)
	if err != nil {
		a.logger.Error("Model registry file rejected, using flat model config",
			"file", a.cfg.Model.RegistryFile, "error", err)
		registry = model.NewDefaultRegistry()
	}
	return llm.NewClient(registry, opts...)
}

// modelRegistry builds the tier registry: a full JSON registry file when
// configured, otherwise the flat model config mapped onto tier and
// endpoint entries. Each configured model becomes an endpoint on the
// shared provider URL; heavier tiers fall back through the lighter ones.
func modelRegistry(mc config.ModelConfig) (*model.Registry, error) {
	if mc.RegistryFile != "" {
		return model.LoadFromFile(mc.RegistryFile)
	}
	if mc.Endpoint == "" {
		return model.NewDefaultRegistry(), nil
	}

	endpoint := func(name string) *model.EndpointConfig {
		return &model.EndpointConfig{
			Provider: mc.Provider,
			URL:      mc.Endpoint,
			Model:    name,
		}
	}
	registry := model.NewRegistry(
		map[model.Tier]*model.TierConfig{
			model.TierSpeed:    {Preferred: []string{mc.Speed}},
			model.TierBalanced: {Preferred: []string{mc.Balanced}, Fallback: []string{mc.Speed}},
			model.TierQuality:  {Preferred: []string{mc.Quality}, Fallback: []string{mc.Balanced, mc.Speed}},
		},
		map[string]*model.EndpointConfig{
			mc.Speed:    endpoint(mc.Speed),
			mc.Balanced: endpoint(mc.Balanced),
			mc.Quality:  endpoint(mc.Quality),
		},
	)
	registry.SetDefault(mc.Balanced)
	return registry, nil
}

// splitStrategy adapts the chunking config onto the page-count strategy.
func splitStrategy(c config.ChunkingConfig) pdfsplit.Strategy {
	s := pdfsplit.DefaultStrategy()
	if c.ThresholdPages > 0 {
		s.SingleChunkMax = c.ThresholdPages
	}
	if c.DefaultChunkSizePages > 0 {
		s.MediumChunkSize = c.DefaultChunkSizePages
		s.FallbackChunkSize = c.DefaultChunkSizePages
	}
	return s
}

// watchdog periodically sweeps chunks stuck in processing past the
// configured threshold. Swept chunks count as processed; when nothing
// is left in flight the job is finalized from chunk rows.
func (a *App) watchdog(ctx context.Context) {
	threshold := a.cfg.Worker.StuckThreshold
	if threshold <= 0 {
		return
	}

	interval := threshold / 4
	if interval > 5*time.Minute {
		interval = 5 * time.Minute
	}
	if interval < 30*time.Second {
		interval = 30 * time.Second
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			a.sweepStuckChunks(ctx, threshold)
		}
	}
}

func (a *App) sweepStuckChunks(ctx context.Context, threshold time.Duration) {
	jobs, err := a.jobs.ListActive(ctx)
	if err != nil {
		a.logger.Error("Watchdog job scan failed", "error", err)
		return
	}

	for _, job := range jobs {
		swept, err := a.chunks.SweepStuck(ctx, job.ID, threshold)
		if err != nil {
			a.logger.Error("Stuck chunk sweep failed", "job_id", job.ID, "error", err)
			continue
		}
		if len(swept) == 0 {
			continue
		}

		a.logger.Warn("Swept stuck chunks", "job_id", job.ID, "count", len(swept))
		for range swept {
			a.orch.RecordChunkDone(ctx, job.ID)
		}

		// The chord callback for these tasks will never fire: the
		// workers that held them are gone. Finalize from chunk rows
		// once no chunk remains in flight.
		if a.inFlight(ctx, job.ID) {
			continue
		}
		if err := a.orch.Finalize(ctx, job.ID, nil); err != nil {
			a.logger.Error("Watchdog finalize failed", "job_id", job.ID, "error", err)
		}
	}
}

// inFlight reports whether any chunk of the job may still produce an
// outcome. Errors count as in flight so the watchdog never finalizes
// on a partial read.
func (a *App) inFlight(ctx context.Context, jobID string) bool {
	chunks, err := a.chunks.ListByJob(ctx, jobID)
	if err != nil {
		return true
	}
	for _, c := range chunks {
		switch c.State {
		case storage.ChunkStatePending, storage.ChunkStateProcessing, storage.ChunkStateRetryScheduled:
			return true
		}
	}
	return false
}

// pollQueueDepth samples the worker consumer backlog into the gauge.
func (a *App) pollQueueDepth(ctx context.Context) {
	ticker := time.NewTicker(queueDepthInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			depth, err := a.queue.Depth(ctx)
			if err != nil {
				a.logger.Debug("Queue depth probe failed", "error", err)
				continue
			}
			a.metrics.QueueDepth.Set(float64(depth))
		}
	}
}

// Shutdown gracefully stops all components.
func (a *App) Shutdown(timeout time.Duration) {
	shutdownCtx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	if a.httpServer != nil {
		if err := a.httpServer.Shutdown(shutdownCtx); err != nil {
			a.logger.Error("HTTP shutdown failed", "error", err)
		}
	}

	if a.cancel != nil {
		a.cancel()
	}
	a.wg.Wait()

	// Close NATS connection
	if a.natsConn != nil {
		a.natsConn.Drain()
		a.natsConn.Close()
	}

	// Shutdown embedded server
	if a.embeddedServer != nil {
		a.embeddedServer.Shutdown()
		a.embeddedServer.WaitForShutdown()
	}

	a.logger.Info("Shutdown complete")
}
