package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/cors"
	"go.uber.org/zap"

	"github.com/rpattn/reportql/internal/cache"
	"github.com/rpattn/reportql/internal/config"
	"github.com/rpattn/reportql/internal/db"
	"github.com/rpattn/reportql/internal/domain"
	"github.com/rpattn/reportql/internal/export"
	"github.com/rpattn/reportql/internal/ingestion"
	"github.com/rpattn/reportql/internal/middleware"
	"github.com/rpattn/reportql/internal/report"
	"github.com/rpattn/reportql/internal/repository"
	"github.com/rpattn/reportql/internal/transformations"
)

func main() {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	bootstrap, err := zap.NewProduction()
	if err != nil {
		panic(err)
	}
	configDir := os.Getenv("REPORTQL_CONFIG_DIR")
	if configDir == "" {
		configDir = "."
	}
	cfg, err := config.Load(configDir, bootstrap)
	if err != nil {
		bootstrap.Fatal("failed to load config", zap.Error(err))
	}
	logger, err := config.NewLogger(cfg.Log)
	if err != nil {
		bootstrap.Fatal("failed to build logger", zap.Error(err))
	}
	defer func() { _ = logger.Sync() }()

	conn, err := db.NewConnection(ctx, cfg.Database, logger)
	if err != nil {
		logger.Fatal("failed to connect to database", zap.Error(err))
	}
	defer conn.Close()

	if err := db.RunMigrations(cfg.Database, logger); err != nil {
		logger.Fatal("failed to run migrations", zap.Error(err))
	}

	datasetRepo := repository.NewDatasetRepository(conn.Pool)
	fieldRepo := repository.NewFieldMetaRepository(conn.Pool)
	recordRepo := repository.NewRecordRepository(conn.Pool)
	logRepo := repository.NewIngestionLogRepository(conn.Pool)

	joinCache, err := cache.New[[]domain.Record](cfg.Cache.JoinEntries)
	if err != nil {
		logger.Fatal("failed to create join cache", zap.Error(err))
	}
	resultCache, err := cache.New[report.Result](cfg.Cache.ResultEntries)
	if err != nil {
		logger.Fatal("failed to create result cache", zap.Error(err))
	}

	executor := transformations.NewExecutor(recordRepo,
		transformations.WithJoinCache(joinCache),
		transformations.WithLogger(logger),
	)
	exportService := export.NewService(
		export.WithExportDirectory(cfg.Export.Directory),
		export.WithLogger(logger),
	)
	reportService := report.NewService(executor, datasetRepo, fieldRepo,
		report.WithResultCache(resultCache),
		report.WithExportService(exportService),
		report.WithLogger(logger),
	)
	ingestionService := ingestion.NewService(datasetRepo, fieldRepo, recordRepo, logRepo, logger)

	corsHandler := cors.New(cors.Options{
		AllowedOrigins:   cfg.Server.AllowedOrigins,
		AllowCredentials: true,
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"*"},
	})
	wrap := func(h http.Handler) http.Handler {
		return corsHandler.Handler(middleware.LoggingMiddleware(logger)(middleware.DataLoaderMiddleware(fieldRepo)(h)))
	}

	mux := http.NewServeMux()
	mux.Handle("/reports/", wrap(report.NewHTTPHandler(reportService)))
	mux.Handle("/datasets", wrap(ingestion.NewHTTPHandler(ingestionService)))
	mux.Handle("/datasets/", wrap(ingestion.NewHTTPHandler(ingestionService)))
	mux.Handle("/exports/", wrap(export.NewHTTPHandler(exportService)))
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		if err := conn.Pool.Ping(r.Context()); err != nil {
			http.Error(w, "database unavailable", http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
	})

	server := &http.Server{
		Addr:         cfg.Server.Addr,
		Handler:      mux,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	go func() {
		logger.Info("starting report server", zap.String("addr", cfg.Server.Addr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("failed to start server", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logger.Info("shutting down server")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Fatal("server forced to shutdown", zap.Error(err))
	}
	logger.Info("server exited")
}
