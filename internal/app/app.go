package app

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"docsync/features/connection"
	"docsync/features/document"
	"docsync/features/importjob"
	"docsync/features/subscription"
	"docsync/internal/adapter/gemini"
	"docsync/internal/config"
	"docsync/internal/extract"
	"docsync/internal/graph"
	"docsync/internal/ingest"
	"docsync/internal/middleware"
	dsync "docsync/internal/sync"
	"docsync/internal/text"
)

type App struct {
	Handler              http.Handler
	SyncManager          *dsync.Manager
	NotificationConsumer *dsync.NotificationConsumer
	Renewer              *dsync.SubscriptionRenewer
	Scheduler            *importjob.Scheduler

	port     int
	embedder *gemini.Embedder
}

// fileProcessor bridges the ingestion worker into the scheduler's pool.
type fileProcessor struct {
	worker *ingest.Worker
}

func (p *fileProcessor) Process(ctx context.Context, connectionID string, file *graph.File) (importjob.ProcessResult, error) {
	res, err := p.worker.Process(ctx, connectionID, file)
	return importjob.ProcessResult{Chunks: res.Chunks, Skipped: res.Skipped}, err
}

func New(ctx context.Context, cfg *config.Config, deps *Dependencies) (*App, error) {
	decrypter := PlaintextSecrets{}
	clients := NewGraphClients(cfg, decrypter)

	// Repositories
	connRepo := connection.NewPostgresRepo(deps.DB)
	docRepo := document.NewPostgresRepo(deps.DB)
	jobRepo := importjob.NewPostgresRepo(deps.DB)
	subRepo := subscription.NewPostgresRepo(deps.DB)
	tokens := dsync.NewTokenStore(deps.DB)

	// Extraction pipeline
	registry := extract.NewRegistry()
	extract.RegisterDocling(registry, cfg.DoclingURL)
	chunker := text.NewChunker(cfg.ChunkTargetTokens, cfg.ChunkOverlapTokens)

	embedder, err := gemini.NewEmbedder(ctx, cfg.GeminiAPIKey, cfg.EmbeddingModel)
	if err != nil {
		return nil, fmt.Errorf("gemini embedder: %w", err)
	}

	fetcher := &contentFetcher{clients: clients, conns: connRepo}
	worker := ingest.NewWorker(docRepo, fetcher, registry, chunker, embedder, deps.VectorStore)

	// Import jobs
	crawlSource := func(ctx context.Context, conn *connection.Connection) (importjob.FileSource, error) {
		return clients.For(ctx, conn)
	}
	scheduler := importjob.NewScheduler(jobRepo, connRepo, crawlSource, &fileProcessor{worker: worker},
		cfg.IngestionConcurrency, cfg.MaxFileSizeMB<<20)

	// Change sync
	deltaSource := func(ctx context.Context, conn *connection.Connection) (dsync.DeltaSource, error) {
		return clients.For(ctx, conn)
	}
	syncManager := dsync.NewManager(connRepo, subRepo, tokens, deltaSource, worker, scheduler, dsync.Options{
		NotificationURL: cfg.NotificationBaseURL + "/webhooks/notifications",
		Secret:          cfg.SubscriptionSecret,
		Lifetime:        durationHours(cfg.SubscriptionLifeHours),
		RenewalLead:     durationHours(cfg.RenewalLeadHours),
	})

	// Connections
	connService := connection.NewService(connRepo, &authProber{clients: clients}, deps.VectorStore, syncManager)
	connHandler := connection.NewHandler(connService)

	jobHandler := importjob.NewHandler(scheduler)
	subHandler := subscription.NewHandler(syncManager, subRepo)
	webhook := dsync.NewWebhookHandler(deps.NSQProducer)

	mux := http.NewServeMux()

	mux.Handle("POST /connections", middleware.CorrelationID(http.HandlerFunc(connHandler.Create)))
	mux.Handle("GET /connections", middleware.CorrelationID(http.HandlerFunc(connHandler.List)))
	mux.Handle("GET /connections/{id}", middleware.CorrelationID(http.HandlerFunc(connHandler.Get)))
	mux.Handle("DELETE /connections/{id}", middleware.CorrelationID(http.HandlerFunc(connHandler.Delete)))

	mux.Handle("POST /connections/{id}/import", middleware.CorrelationID(http.HandlerFunc(jobHandler.Start)))
	mux.Handle("GET /import-jobs", middleware.CorrelationID(http.HandlerFunc(jobHandler.List)))
	mux.Handle("GET /import-jobs/{id}", middleware.CorrelationID(http.HandlerFunc(jobHandler.Get)))
	mux.Handle("POST /import-jobs/{id}/cancel", middleware.CorrelationID(http.HandlerFunc(jobHandler.Cancel)))

	mux.Handle("POST /connections/{id}/subscription", middleware.CorrelationID(http.HandlerFunc(subHandler.Create)))
	mux.Handle("DELETE /connections/{id}/subscription", middleware.CorrelationID(http.HandlerFunc(subHandler.Delete)))
	mux.Handle("GET /subscriptions", middleware.CorrelationID(http.HandlerFunc(subHandler.List)))

	// The validation handshake arrives as POST with a query parameter, so
	// one route serves both handshake and notifications.
	mux.Handle("POST /webhooks/notifications", middleware.CorrelationID(http.HandlerFunc(webhook.Handle)))

	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		if _, err := w.Write([]byte(`{"status":"ok"}`)); err != nil {
			slog.Error("failed to write health response", "error", err)
		}
	})

	return &App{
		Handler:              mux,
		SyncManager:          syncManager,
		NotificationConsumer: dsync.NewNotificationConsumer(syncManager),
		Renewer:              dsync.NewSubscriptionRenewer(syncManager, cfg.RenewalCronSpec),
		Scheduler:            scheduler,
		port:                 cfg.ServerPort,
		embedder:             embedder,
	}, nil
}

func (a *App) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:    fmt.Sprintf(":%d", a.port),
		Handler: a.Handler,
	}

	go func() {
		<-ctx.Done()
		slog.Info("shutting down server...")
		if err := srv.Shutdown(context.Background()); err != nil {
			slog.Error("server shutdown failed", "error", err)
		}
	}()

	slog.Info("server starting", "port", a.port)
	if err := srv.ListenAndServe(); err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Close releases adapters holding external resources.
func (a *App) Close() {
	if err := a.embedder.Close(); err != nil {
		slog.Warn("failed to close embedder", "error", err)
	}
}

func durationHours(h int) time.Duration {
	return time.Duration(h) * time.Hour
}
