package main

import (
	"context"
	"errors"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/dvloznov/cash-audit/internal/anomaly"
	"github.com/dvloznov/cash-audit/internal/api/handlers"
	"github.com/dvloznov/cash-audit/internal/audit"
	"github.com/dvloznov/cash-audit/internal/config"
	"github.com/dvloznov/cash-audit/internal/gemini"
	"github.com/dvloznov/cash-audit/internal/jobs/inmemory"
	"github.com/dvloznov/cash-audit/internal/logger"
	"github.com/dvloznov/cash-audit/internal/report"
	"github.com/dvloznov/cash-audit/internal/storage"
	"golang.org/x/sync/errgroup"
)

func main() {
	cfg := config.Load()

	// Flags override the environment
	port := flag.String("port", cfg.Port, "HTTP server port (or set PORT env)")
	flag.Parse()
	cfg.Port = *port

	log := logger.NewWithConfig(cfg.LogLevel, cfg.LogFormat)

	if err := cfg.Validate(); err != nil {
		log.Fatal().Err(err).Msg("Invalid configuration")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	ctx = logger.WithContext(ctx, log)

	// A missing key degrades analysis and summaries to their fallbacks
	models, err := gemini.NewModels(ctx, cfg.GeminiAPIKey)
	if err != nil {
		if !errors.Is(err, gemini.ErrMissingAPIKey) {
			log.Fatal().Err(err).Msg("Failed to create Gemini client")
		}
		log.Warn().Msg("No Gemini API key configured - anomaly analysis and summaries are unavailable")
	}
	classifier := anomaly.NewGeminiClassifier(models, cfg.GeminiModel, cfg.ClassifierTimeout, log)
	generator := report.NewGeminiGenerator(models, cfg.GeminiModel, cfg.ClassifierTimeout, log)

	var store storage.Service
	if cfg.GCSBucket != "" || cfg.GCSCredentialsFile != "" {
		store = storage.NewGCSFromCredentialsFile(cfg.GCSCredentialsFile)
	} else {
		log.Warn().Msg("No GCS configuration - batch import is disabled")
	}

	ws := audit.NewWorkspace(audit.Options{
		Denominations: cfg.Denominations,
		BookBalance:   cfg.BookBalance,
		Materiality:   cfg.MaterialityOverall,
		SampleLimit:   cfg.ClassifierSampleLimit,

		PerformanceMateriality: cfg.MaterialityPerformance,
	}, log)

	jobStore := inmemory.NewStore()
	jobQueue := inmemory.NewQueue(cfg.JobQueueSize, cfg.JobWorkers, jobStore)

	router := &handlers.Router{
		Batches:   handlers.NewBatchesHandler(ws, store, jobQueue, log),
		Jobs:      handlers.NewJobsHandler(jobStore, log),
		CashCount: handlers.NewCashCountHandler(ws, log),
		Report:    handlers.NewReportHandler(ws, generator, log),
	}

	server := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      router.Handler(log),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)

	// Workers stop through jobQueue.Stop so in-flight analyses can finish.
	workerCtx := context.WithoutCancel(ctx)

	g.Go(func() error {
		log.Info().Int("workers", cfg.JobWorkers).Msg("Starting job workers")
		return jobQueue.Start(workerCtx, audit.AnalyzeJobHandler(ws, classifier, log))
	})

	g.Go(func() error {
		log.Info().Str("port", cfg.Port).Msg("Starting API server")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		log.Info().Msg("Shutting down server...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		if err := server.Shutdown(shutdownCtx); err != nil {
			return err
		}
		// Wait for in-flight analysis jobs, up to the shutdown timeout
		return jobQueue.Stop(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		log.Error().Err(err).Msg("Server exited with error")
		os.Exit(1)
	}

	log.Info().Msg("Server exited")
}
