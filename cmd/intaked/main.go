package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/yuehanbi/receipt2excel/internal/auth"
	"github.com/yuehanbi/receipt2excel/internal/common"
	"github.com/yuehanbi/receipt2excel/internal/export"
	"github.com/yuehanbi/receipt2excel/internal/observability/logging"
	"github.com/yuehanbi/receipt2excel/internal/observability/metrics"
	"github.com/yuehanbi/receipt2excel/internal/pipeline"
	"github.com/yuehanbi/receipt2excel/internal/recognize"
	"github.com/yuehanbi/receipt2excel/internal/recognize/qwen"
	"github.com/yuehanbi/receipt2excel/internal/server"
	minioclient "github.com/yuehanbi/receipt2excel/internal/storage/minio"
	"github.com/yuehanbi/receipt2excel/internal/store"
)

func main() {
	// .env is optional; real deployments set the environment directly.
	_ = godotenv.Load()

	cfg := common.LoadConfig()
	logger := logging.NewJSONLogger("intaked", cfg.Server.LogLevel)

	if err := cfg.Validate(); err != nil {
		logger.Error("config.invalid", "error", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	db, err := auth.OpenDB(ctx, cfg.Auth.SQLitePath)
	if err != nil {
		logger.Error("auth.db.open_failed", "path", cfg.Auth.SQLitePath, "error", err)
		os.Exit(1)
	}
	defer func() { _ = db.Close() }()
	authSvc := auth.NewService(db, cfg.Auth.JWTSecret, cfg.Auth.TokenTTL, logger)

	uploader, err := minioclient.NewClient(minioclient.Config{
		Endpoint:  cfg.Storage.Endpoint,
		AccessKey: cfg.Storage.AccessKey,
		SecretKey: cfg.Storage.SecretKey,
		Bucket:    cfg.Storage.Bucket,
		UseSSL:    cfg.Storage.UseSSL,
		URLExpiry: cfg.Storage.URLExpiry,
	}, logger)
	if err != nil {
		logger.Error("storage.client_failed", "endpoint", cfg.Storage.Endpoint, "error", err)
		os.Exit(1)
	}
	if err := uploader.EnsureBucket(ctx); err != nil {
		logger.Error("storage.bucket_failed", "bucket", cfg.Storage.Bucket, "error", err)
		os.Exit(1)
	}

	recognizer := recognize.NewGuard(
		qwen.NewClient(qwen.Config{
			APIKey:      cfg.Recognize.APIKey,
			BaseURL:     cfg.Recognize.BaseURL,
			Model:       cfg.Recognize.Model,
			Temperature: cfg.Recognize.Temperature,
			Timeout:     cfg.Recognize.Timeout,
		}, logger),
		recognize.GuardConfig{RatePerSec: cfg.Recognize.RatePerSec},
		logger,
	)

	pm := metrics.NewPipelineMetrics()
	orch := pipeline.NewOrchestrator(
		recognizer,
		export.NewService(logger),
		uploader,
		pm,
		logger,
		pipeline.Config{
			RecognizeTimeout: cfg.Recognize.Timeout,
			StorageTimeout:   cfg.Storage.Timeout,
		},
	)

	srv := &http.Server{
		Addr:              cfg.Server.Addr,
		Handler:           server.New(orch, store.NewManager(), authSvc, pm, logger).Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("server.listening", "addr", cfg.Server.Addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		logger.Info("server.shutdown.signal")
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("server.failed", "error", err)
			os.Exit(1)
		}
		return
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server.shutdown.failed", "error", err)
		os.Exit(1)
	}
	logger.Info("server.shutdown.ok")
}
