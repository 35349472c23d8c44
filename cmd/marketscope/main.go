// Marketscope server — accepts analysis jobs over HTTP, runs the component
// pipeline on a worker pool, and persists every intermediate artifact.
package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/insightlabs/marketscope/pkg/api"
	"github.com/insightlabs/marketscope/pkg/checkpoint"
	"github.com/insightlabs/marketscope/pkg/cleanup"
	"github.com/insightlabs/marketscope/pkg/config"
	"github.com/insightlabs/marketscope/pkg/engine"
	"github.com/insightlabs/marketscope/pkg/events"
	"github.com/insightlabs/marketscope/pkg/extract"
	"github.com/insightlabs/marketscope/pkg/orchestrator"
	"github.com/insightlabs/marketscope/pkg/provider"
	"github.com/insightlabs/marketscope/pkg/provider/llm"
	"github.com/insightlabs/marketscope/pkg/provider/search"
	"github.com/insightlabs/marketscope/pkg/provider/social"
	"github.com/insightlabs/marketscope/pkg/queue"
	"github.com/insightlabs/marketscope/pkg/session"
	"github.com/insightlabs/marketscope/pkg/version"
)

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func main() {
	configDir := flag.String("config-dir",
		getEnv("CONFIG_DIR", "./deploy/config"),
		"Path to configuration directory")
	flag.Parse()

	// Load .env file from config directory
	envPath := filepath.Join(*configDir, ".env")
	if err := godotenv.Load(envPath); err != nil {
		slog.Warn("Could not load .env file, continuing with existing environment",
			"path", envPath, "error", err)
	} else {
		slog.Info("Loaded environment", "path", envPath)
	}

	httpPort := getEnv("HTTP_PORT", "8080")

	slog.Info("Starting marketscope",
		"version", version.Full(),
		"http_port", httpPort,
		"config_dir", *configDir)

	ctx := context.Background()

	// 1. Configuration
	cfg, err := config.Initialize(ctx, *configDir)
	if err != nil {
		slog.Error("Failed to initialize configuration", "error", err)
		os.Exit(1)
	}

	// 2. Checkpoint store
	store, err := checkpoint.NewStore(cfg.Storage.Root)
	if err != nil {
		slog.Error("Failed to open checkpoint store", "root", cfg.Storage.Root, "error", err)
		os.Exit(1)
	}
	slog.Info("Checkpoint store ready", "root", store.Root())

	// 3. Event bus and progress publishing
	bus := events.NewBus()
	publisher := events.NewPublisher(bus)
	connManager := events.NewConnectionManager(bus, 10*time.Second)

	// 4. Provider layer: registry, rate limiter, dispatcher, adapters
	providers := provider.NewRegistryFromConfig(cfg)
	limiter := provider.NewRateLimiter(cfg)
	dispatcher := provider.NewDispatcher(cfg, providers, limiter)

	dispatcher.RegisterAdapter(config.ClassLLM, "gemini", llm.NewGeminiAdapter())
	dispatcher.RegisterAdapter(config.ClassLLM, "openai_compat", llm.NewOpenAICompatAdapter())
	dispatcher.RegisterAdapter(config.ClassSearch, "serper", search.NewSerperAdapter())
	dispatcher.RegisterAdapter(config.ClassSearch, "google_cse", search.NewGoogleCSEAdapter())
	dispatcher.RegisterAdapter(config.ClassSearch, "scrape", search.NewScrapeAdapter())
	dispatcher.RegisterAdapter(config.ClassSocial, "supadata", social.NewSupadataAdapter())

	// 5. Extraction chain: reader service first when configured, then the
	// cheap strategies, browser rendering last.
	strategies := make([]extract.Strategy, 0, 4)
	for _, cred := range cfg.Providers.Extractor {
		if cred.Kind == "reader" && cred.Endpoint != "" {
			strategies = append(strategies, extract.NewReaderStrategy(cred.Endpoint, cred.APIKey))
		}
	}
	strategies = append(strategies,
		extract.NewDOMTextStrategy(),
		extract.NewRawHTTPStrategy(),
	)
	browser := extract.NewBrowserStrategy()
	defer browser.Close()
	strategies = append(strategies, browser)
	chain := extract.NewChain(cfg.Engine.ExtractStrategyTimeout, strategies...)

	// 6. Engine: component registry, pipeline, scheduler
	registry := engine.NewComponentRegistry()
	pipeline := engine.NewPipeline(dispatcher, chain, cfg.Engine)
	if err := pipeline.RegisterAll(registry); err != nil {
		slog.Error("Failed to register pipeline components", "error", err)
		os.Exit(1)
	}
	scheduler := engine.NewScheduler(registry, store, publisher, cfg.Engine.ComponentDeadline)

	// 7. Sessions, orchestrator, worker pool
	sessions := session.NewManager(store, publisher)
	orch := orchestrator.New(cfg, sessions, scheduler, registry, providers)
	pool := queue.NewWorkerPool(cfg.Queue, orch)
	orch.SetQueue(pool)
	pool.Start(ctx)

	// 8. Retention
	retention := cleanup.NewService(cfg.Retention, store)
	retention.Start(ctx)

	// 9. HTTP server
	server := api.NewServer(orch, store, pool, connManager)

	serverCtx, stopServer := context.WithCancel(ctx)
	errCh := make(chan error, 1)
	go func() {
		addr := ":" + httpPort
		slog.Info("HTTP server listening", "addr", addr)
		errCh <- server.Run(serverCtx, addr, 5*time.Second)
	}()

	slog.Info("Marketscope started",
		"workers", cfg.Queue.WorkerCount,
		"components", len(registry.Names()))

	// 10. Wait for shutdown signal or server error
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)

	select {
	case sig := <-sigCh:
		slog.Info("Shutdown signal received", "signal", sig)
	case err := <-errCh:
		slog.Error("Server error triggered shutdown", "error", err)
	}

	// 11. Graceful shutdown: stop intake, drain workers, stop retention
	stopServer()

	shutdownCtx, cancel := context.WithTimeout(ctx, cfg.Queue.GracefulShutdownTimeout)
	defer cancel()

	done := make(chan struct{})
	go func() {
		pool.Stop()
		close(done)
	}()
	select {
	case <-done:
		slog.Info("Worker pool stopped gracefully")
	case <-shutdownCtx.Done():
		slog.Warn("Shutdown timeout exceeded, incomplete sessions can be continued from their checkpoints")
	}

	retention.Stop()
	slog.Info("Shutdown complete")
}
