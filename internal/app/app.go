package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/weaviate/weaviate-go-client/v5/weaviate"

	"corpora/features/index"
	"corpora/features/job"
	"corpora/features/mcp"
	"corpora/features/query"
	snapshotapi "corpora/features/snapshot"
	"corpora/features/stats"
	"corpora/internal/adapter/gemini"
	"corpora/internal/adapter/local"
	wstore "corpora/internal/adapter/weaviate"
	"corpora/internal/config"
	"corpora/internal/corpus"
	"corpora/internal/indexing"
	"corpora/internal/middleware"
	"corpora/internal/pipeline"
	"corpora/internal/provider"
	"corpora/internal/record"
	"corpora/internal/retrieval"
	"corpora/internal/settings"
	"corpora/internal/snapshot"
	"corpora/internal/stream"
	"corpora/internal/vector"
	"corpora/internal/worker"
)

// Publisher is satisfied by *nsq.Producer.
type Publisher interface {
	Publish(topic string, body []byte) error
}

// CorpusStore is what the rest of the app needs from either vector backend.
type CorpusStore interface {
	indexing.VectorStore
	retrieval.VectorStore
	snapshot.Dumper
	Count(ctx context.Context) (int, error)
	SetSimilarityThreshold(t float32) error
}

// Ledger is what the rest of the app needs from either record manager.
type Ledger interface {
	indexing.Ledger
	snapshot.Dumper
	Count(ctx context.Context) (int, error)
}

type App struct {
	Handler       http.Handler
	Orchestrator  *indexing.Orchestrator
	IndexConsumer *worker.IndexConsumer
	Runs          *stream.Runs

	port        int
	queryLogger *retrieval.QueryLogger
}

// New wires the corpus services and HTTP routes. wClient is only used by the
// weaviate backend and may be nil otherwise; pub may be nil when no broker is
// configured, which disables async indexing and job retry.
func New(
	ctx context.Context,
	cfg *config.Config,
	db *sql.DB,
	wClient *weaviate.Client,
	pub Publisher,
	logger *slog.Logger,
) (*App, error) {
	if logger == nil {
		logger = slog.Default()
	}

	// Feature: Settings
	settingsRepo := settings.NewPostgresRepo(db)
	settingsService := settings.NewService(settingsRepo)
	seedSettings(ctx, cfg, settingsService)
	settingsHandler := settings.NewHandler(settingsService)

	// Providers
	registry := provider.NewRegistry()
	gemini.Register(registry, settingsService, gemini.Models{
		Embedding:  cfg.EmbeddingModel,
		Generation: cfg.GenerationModel,
	})
	local.Register(registry, local.Options{Dimensions: cfg.LocalDimensions, MaxSentences: 5})

	caps, err := registry.Build(ctx, cfg.Provider)
	if err != nil {
		return nil, err
	}

	// Vector store + ledger
	threshold := cfg.SimilarityThreshold
	if set, err := settingsService.Get(ctx); err == nil {
		threshold = set.SimilarityThreshold
	} else {
		slog.WarnContext(ctx, "failed to read similarity threshold from settings, using config default", "error", err)
	}

	store, ledger, err := buildStores(ctx, cfg, db, wClient, caps.Embedder, threshold)
	if err != nil {
		return nil, err
	}
	settingsService.Subscribe(func(ctx context.Context, s *settings.Settings) error {
		return store.SetSimilarityThreshold(s.SimilarityThreshold)
	})

	orchestrator := indexing.New(ledger, store, logger)

	// Feature: Job
	jobRepo := job.NewPostgresRepo(db)
	jobService := job.NewService(jobRepo, pub, logger)
	jobHandler := job.NewHandler(jobService)

	// Feature: Retrieval & Query
	queryLogger, err := retrieval.NewFileQueryLogger(cfg.QueryLogPath)
	if err != nil {
		slog.WarnContext(ctx, "failed to create query logger, falling back to stdout", "error", err)
		queryLogger = retrieval.NewQueryLogger(os.Stdout)
	}
	retrievalService := retrieval.NewService(caps.Embedder, store, settingsService, cfg.SearchTopK, queryLogger)
	answerPipeline := pipeline.New(retrievalService, caps.Generator, caps.TokenCounter, pipeline.Config{
		ContextWindow:     cfg.ContextWindow,
		MaxReducePasses:   cfg.MaxReducePasses,
		ReduceConcurrency: cfg.ReduceConcurrency,
	})
	runs := stream.NewRuns()

	indexHandler := index.NewHandler(orchestrator, pub, cfg.IndexBatchSize)
	queryHandler := query.NewHandler(answerPipeline, retrievalService, runs)
	snapshotHandler := snapshotapi.NewHandler(snapshot.NewService(store, ledger, orchestrator), cfg.SnapshotMaxBytes)
	statsHandler := stats.NewHandler(ledger, store, jobRepo, runs, orchestrator)
	mcpHandler := mcp.NewHandler(retrievalService, answerPipeline)

	// Middleware: CORS
	enableCORS := func(next http.HandlerFunc) http.HandlerFunc {
		return func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Access-Control-Allow-Origin", "*")
			w.Header().Set("Access-Control-Allow-Methods", "POST, GET, OPTIONS, PUT, DELETE")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type, X-Correlation-ID")
			w.Header().Set("Access-Control-Expose-Headers", "X-Run-ID, X-Correlation-ID")

			if r.Method == "OPTIONS" {
				w.WriteHeader(http.StatusOK)
				return
			}
			next(w, r)
		}
	}

	// Routes
	mux := http.NewServeMux()

	mux.Handle("POST /index", middleware.CorrelationID(enableCORS(indexHandler.Index)))
	mux.Handle("POST /index/reconcile", middleware.CorrelationID(enableCORS(indexHandler.Reconcile)))

	mux.Handle("POST /query", middleware.CorrelationID(enableCORS(queryHandler.Ask)))
	mux.Handle("POST /query/{id}/stop", middleware.CorrelationID(enableCORS(queryHandler.Stop)))
	mux.Handle("POST /search", middleware.CorrelationID(enableCORS(queryHandler.Search)))

	mux.Handle("GET /snapshot", middleware.CorrelationID(enableCORS(snapshotHandler.Download)))
	mux.Handle("PUT /snapshot", middleware.CorrelationID(enableCORS(snapshotHandler.Upload)))

	mux.Handle("GET /settings", middleware.CorrelationID(enableCORS(settingsHandler.GetSettings)))
	mux.Handle("PUT /settings", middleware.CorrelationID(enableCORS(settingsHandler.UpdateSettings)))

	mux.Handle("GET /jobs/failed", middleware.CorrelationID(enableCORS(jobHandler.List)))
	mux.Handle("POST /jobs/{id}/retry", middleware.CorrelationID(enableCORS(jobHandler.Retry)))

	mux.Handle("GET /stats", middleware.CorrelationID(enableCORS(statsHandler.GetStats)))

	mux.Handle("POST /mcp", middleware.CorrelationID(mcpHandler))
	mux.Handle("GET /mcp/sse", middleware.CorrelationID(enableCORS(mcpHandler.HandleSSE)))
	mux.Handle("POST /mcp/messages", middleware.CorrelationID(enableCORS(mcpHandler.HandleMessage)))

	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})

	return &App{
		Handler:       mux,
		Orchestrator:  orchestrator,
		IndexConsumer: worker.NewIndexConsumer(orchestrator, jobRepo, cfg.IndexBatchSize),
		Runs:          runs,
		port:          cfg.ServerPort,
		queryLogger:   queryLogger,
	}, nil
}

// buildStores pairs a vector backend with a ledger of matching durability. An
// in-memory store with a persistent ledger would skip re-embedding units the
// store lost on restart.
func buildStores(
	ctx context.Context,
	cfg *config.Config,
	db *sql.DB,
	wClient *weaviate.Client,
	embedder provider.Embedder,
	threshold float32,
) (CorpusStore, Ledger, error) {
	switch cfg.VectorBackend {
	case config.BackendWeaviate:
		if wClient == nil {
			return nil, nil, fmt.Errorf("%w: weaviate backend selected without a client", corpus.ErrConfiguration)
		}
		class := cfg.WeaviateClass
		if class == "" {
			class = vector.DefaultClass
		}
		store, err := wstore.NewStore(ctx, wClient, class, embedder, threshold)
		if err != nil {
			return nil, nil, fmt.Errorf("weaviate store: %w", err)
		}
		if err := store.EnsureSchema(ctx); err != nil {
			return nil, nil, fmt.Errorf("weaviate schema error: %w", err)
		}
		return store, record.NewPostgresRepo(db), nil
	case config.BackendMemory, "":
		store, err := vector.NewStore(ctx, embedder, threshold)
		if err != nil {
			return nil, nil, fmt.Errorf("memory store: %w", err)
		}
		return store, record.NewMemoryManager(), nil
	}
	return nil, nil, fmt.Errorf("%w: unknown vector backend %q", corpus.ErrConfiguration, cfg.VectorBackend)
}

// seedSettings copies the API key from the environment into an empty settings row.
func seedSettings(ctx context.Context, cfg *config.Config, svc *settings.Service) {
	if cfg.GeminiAPIKey == "" {
		return
	}
	set, err := svc.Get(ctx)
	if err != nil {
		slog.WarnContext(ctx, "failed to fetch settings for seeding", "error", err)
		return
	}
	if set.GeminiAPIKey != "" {
		return
	}
	set.GeminiAPIKey = cfg.GeminiAPIKey
	if err := svc.Update(ctx, set); err != nil {
		slog.WarnContext(ctx, "failed to seed gemini api key", "error", err)
		return
	}
	slog.InfoContext(ctx, "seeded gemini api key from environment")
}

func (a *App) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", a.port),
		Handler:           a.Handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		slog.Info("shutting down server...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			slog.Error("server shutdown failed", "error", err)
		}
	}()

	slog.Info("server starting", "port", a.port)
	if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (a *App) Close() error {
	if a.queryLogger != nil {
		return a.queryLogger.Close()
	}
	return nil
}
