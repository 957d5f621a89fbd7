// Package main is the entry point for the docs expert service
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/developer-mesh/docs-expert/internal/api"
	"github.com/developer-mesh/docs-expert/internal/cache"
	"github.com/developer-mesh/docs-expert/internal/config"
	"github.com/developer-mesh/docs-expert/internal/embedding"
	"github.com/developer-mesh/docs-expert/internal/generation"
	"github.com/developer-mesh/docs-expert/internal/metrics"
	"github.com/developer-mesh/docs-expert/internal/monitor"
	"github.com/developer-mesh/docs-expert/internal/rag"
	"github.com/developer-mesh/docs-expert/internal/scheduler"
	"github.com/developer-mesh/docs-expert/internal/vectorstore"
	"github.com/developer-mesh/docs-expert/pkg/observability"
)

var (
	// Version information (set via ldflags during build)
	version   = "dev"
	buildTime = "unknown"
	gitCommit = "unknown"
)

func main() {
	var (
		showVersion = flag.Bool("version", false, "Show version information")
		configPath  = flag.String("config", "", "Path to configuration file")
		ingestPath  = flag.String("ingest", "", "Ingest the given docs directory and exit")
	)
	flag.Parse()

	if *showVersion {
		fmt.Printf("Docs Expert\nVersion: %s\nBuild Time: %s\nGit Commit: %s\n",
			version, buildTime, gitCommit)
		os.Exit(0)
	}

	// A missing .env is fine
	_ = godotenv.Load()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	logger := observability.NewStandardLogger(cfg.Service.Name)
	if sl, ok := logger.(*observability.StandardLogger); ok {
		logger = sl.WithLevel(observability.ParseLogLevel(cfg.Service.LogLevel))
	}
	logger.Info("Starting docs expert", map[string]interface{}{
		"version":    version,
		"build_time": buildTime,
		"git_commit": gitCommit,
		"product":    cfg.Knowledge.ProductName,
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	shutdownTracing, err := observability.InitTracing(ctx, cfg.Tracing, logger)
	if err != nil {
		logger.Fatal("Failed to initialize tracing", map[string]interface{}{"error": err.Error()})
	}
	defer shutdownTracing()

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	m := metrics.NewMetrics(registry)

	store, err := vectorstore.Open(ctx, cfg.Database, logger)
	if err != nil {
		logger.Fatal("Failed to open vector store", map[string]interface{}{"error": err.Error()})
	}

	embeddingCache, err := newEmbeddingCache(ctx, cfg, logger)
	if err != nil {
		logger.Fatal("Failed to create embedding cache", map[string]interface{}{"error": err.Error()})
	}

	embedder, err := embedding.New(ctx, cfg.Embedding, cfg.Database.Dimensions, embeddingCache, m, logger)
	if err != nil {
		logger.Fatal("Failed to create embedding client", map[string]interface{}{"error": err.Error()})
	}

	generator, err := generation.New(ctx, cfg.Generation, m, logger)
	if err != nil {
		logger.Fatal("Failed to create generation client", map[string]interface{}{"error": err.Error()})
	}

	svc, err := rag.NewService(cfg, rag.Dependencies{
		Store:     store,
		Embedder:  embedder,
		Generator: generator,
		Metrics:   m,
		Logger:    logger,
	})
	if err != nil {
		logger.Fatal("Failed to create RAG service", map[string]interface{}{"error": err.Error()})
	}
	defer func() {
		if err := svc.Close(); err != nil {
			logger.Error("Failed to close vector store", map[string]interface{}{"error": err.Error()})
		}
		if embeddingCache != nil {
			if err := embeddingCache.Close(); err != nil {
				logger.Error("Failed to close embedding cache", map[string]interface{}{"error": err.Error()})
			}
		}
	}()

	if err := svc.Init(ctx); err != nil {
		logger.Fatal("Failed to initialize knowledge base", map[string]interface{}{"error": err.Error()})
	}

	if *ingestPath != "" {
		if err := ingest(ctx, svc, *ingestPath, logger); err != nil {
			logger.Error("Ingestion failed", map[string]interface{}{"error": err.Error()})
			os.Exit(1)
		}
		return
	}

	if cfg.Knowledge.IngestOnStart {
		if err := ingest(ctx, svc, cfg.Knowledge.DocsPath, logger); err != nil {
			logger.Error("Initial ingestion failed", map[string]interface{}{"error": err.Error()})
		}
	}

	var refreshScheduler *scheduler.RefreshScheduler
	if cfg.Knowledge.RefreshSchedule != "" {
		refreshScheduler, err = scheduler.NewRefreshScheduler(svc, cfg.Knowledge.RefreshSchedule, cfg.Knowledge.RefreshTimeout, logger)
		if err != nil {
			logger.Fatal("Failed to create refresh scheduler", map[string]interface{}{"error": err.Error()})
		}
		refreshScheduler.Start()
	}

	var watcher *scheduler.Watcher
	if cfg.Knowledge.Watch {
		watcher, err = scheduler.NewWatcher(cfg.Knowledge.DocsPath, svc, cfg.Knowledge.WatchDebounce, cfg.Knowledge.RefreshTimeout, logger)
		if err != nil {
			logger.Error("Failed to watch docs directory", map[string]interface{}{"error": err.Error()})
		} else {
			watcher.Start()
		}
	}

	mon := monitor.New(cfg.Service.AgentID, cfg.Monitor, m, logger)

	if cfg.Service.LogLevel == "debug" {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}
	server := api.NewServer(svc, mon, api.NewIdentity(cfg, version), cfg.RateLimiting, logger)

	apiServer := startServer("API", cfg.Service.Port, server.Router(), logger)
	opsServer := startServer("health and metrics", cfg.Service.MetricsPort, api.NewOpsHandler(registry, svc.Ready), logger)

	sig := <-sigChan
	logger.Info("Received shutdown signal", map[string]interface{}{
		"signal": sig.String(),
	})

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Service.ShutdownTimeout)
	defer shutdownCancel()

	if err := apiServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("Failed to shutdown API server", map[string]interface{}{"error": err.Error()})
	}
	if err := opsServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("Failed to shutdown health server", map[string]interface{}{"error": err.Error()})
	}

	if watcher != nil {
		if err := watcher.Close(); err != nil {
			logger.Error("Failed to stop watcher", map[string]interface{}{"error": err.Error()})
		}
	}
	if refreshScheduler != nil {
		refreshScheduler.Stop()
	}
	if err := mon.Close(); err != nil {
		logger.Error("Failed to stop monitor", map[string]interface{}{"error": err.Error()})
	}

	cancel()
	logger.Info("Shutdown complete", nil)
}

func ingest(ctx context.Context, svc *rag.Service, root string, logger observability.Logger) error {
	start := time.Now()
	result, err := svc.Ingest(ctx, root)
	if err != nil {
		return err
	}
	logger.Info("Knowledge base ingested", map[string]interface{}{
		"root":      root,
		"documents": result.Documents,
		"chunks":    result.Chunks,
		"skipped":   result.Skipped,
		"pruned":    result.Pruned,
		"duration":  time.Since(start).String(),
	})
	return nil
}

// newEmbeddingCache returns nil when caching is disabled
func newEmbeddingCache(ctx context.Context, cfg *config.Config, logger observability.Logger) (cache.Cache, error) {
	if cfg.Redis.Enabled {
		client, err := cache.NewRedisClient(ctx, cfg.Redis)
		if err != nil {
			return nil, err
		}
		return cache.NewRedisCache(client, cfg.Redis.KeyPrefix, cfg.Redis.TTL, logger), nil
	}

	if cfg.Embedding.CacheSize > 0 {
		lru, err := cache.NewLRUCache(cfg.Embedding.CacheSize)
		if err != nil {
			return nil, err
		}
		return lru, nil
	}
	return nil, nil
}

func startServer(name string, port int, handler http.Handler, logger observability.Logger) *http.Server {
	server := &http.Server{
		Addr:              fmt.Sprintf(":%d", port),
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logger.Info("Starting "+name+" server", map[string]interface{}{
			"port": port,
		})
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error(name+" server error", map[string]interface{}{
				"error": err.Error(),
			})
		}
	}()

	return server
}
