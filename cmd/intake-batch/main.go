package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/joho/godotenv"

	"github.com/yuehanbi/receipt2excel/constants"
	"github.com/yuehanbi/receipt2excel/internal/common"
	"github.com/yuehanbi/receipt2excel/internal/export"
	"github.com/yuehanbi/receipt2excel/internal/ingest"
	"github.com/yuehanbi/receipt2excel/internal/observability/logging"
	"github.com/yuehanbi/receipt2excel/internal/pipeline"
	"github.com/yuehanbi/receipt2excel/internal/recognize"
	"github.com/yuehanbi/receipt2excel/internal/recognize/qwen"
	minioclient "github.com/yuehanbi/receipt2excel/internal/storage/minio"
	"github.com/yuehanbi/receipt2excel/internal/store"
)

func printError(format string, args ...any) {
	if _, err := fmt.Fprintf(os.Stderr, format, args...); err != nil {
		fmt.Printf(format, args...)
	}
}

func main() {
	var (
		dir        = flag.String("dir", "", "directory of receipt images to process (required)")
		out        = flag.String("out", "", "output XLSX path (defaults to <dir parent>/expenses.xlsx)")
		upload     = flag.Bool("upload", false, "also upload the workbook to object storage")
		skipHidden = flag.Bool("skip-hidden", true, "skip hidden files and directories")
	)
	flag.Parse()

	if *dir == "" {
		printError("Error: --dir is required\n")
		os.Exit(1)
	}
	if *out == "" {
		*out = filepath.Join(filepath.Dir(filepath.Clean(*dir)), "expenses.xlsx")
	}

	_ = godotenv.Load()
	cfg := common.LoadConfig()
	logger := logging.NewJSONLogger("intake-batch", cfg.Server.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

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

	var uploader *minioclient.Client
	if *upload {
		var err error
		uploader, err = minioclient.NewClient(minioclient.Config{
			Endpoint:  cfg.Storage.Endpoint,
			AccessKey: cfg.Storage.AccessKey,
			SecretKey: cfg.Storage.SecretKey,
			Bucket:    cfg.Storage.Bucket,
			UseSSL:    cfg.Storage.UseSSL,
			URLExpiry: cfg.Storage.URLExpiry,
		}, logger)
		if err != nil {
			printError("Error: object storage client: %v\n", err)
			os.Exit(1)
		}
		if err := uploader.EnsureBucket(ctx); err != nil {
			printError("Error: ensuring bucket %q: %v\n", cfg.Storage.Bucket, err)
			os.Exit(1)
		}
	}

	orch := pipeline.NewOrchestrator(
		recognizer,
		export.NewService(logger),
		uploader,
		nil,
		logger,
		pipeline.Config{
			RecognizeTimeout: cfg.Recognize.Timeout,
			StorageTimeout:   cfg.Storage.Timeout,
		},
	)
	st := store.NewRecordStore()

	results, stats, err := ingest.WalkDirectory(ctx, *dir, *skipHidden, func(ctx context.Context, fileName string, raw []byte) (ingest.IntakeResult, error) {
		outcome, err := orch.Intake(ctx, st, fileName, raw)
		r := ingest.IntakeResult{Duplicated: outcome.Duplicate}
		if outcome.Document != nil {
			r.Fingerprint = outcome.Document.Fingerprint
			r.State = string(outcome.Document.State)
		}
		return r, err
	})
	if err != nil {
		printError("Error: walking %s: %v\n", *dir, err)
		os.Exit(1)
	}

	fmt.Printf("scanned=%d matched=%d succeeded=%d duplicated=%d failed=%d\n",
		stats.Scanned, stats.Matched, stats.Succeeded, stats.Duplicated, stats.Failed)
	for _, r := range results {
		if r.Err != "" {
			printError("  %s: %s\n", r.SourcePath, r.Err)
		}
	}

	// Batch mode has no interactive review; recognized records are confirmed
	// as-is. Failed and duplicate documents are left behind.
	var fingerprints []string
	for _, doc := range st.List() {
		if doc.State != constants.StateEditing {
			continue
		}
		if _, err := orch.Confirm(ctx, st, doc.Fingerprint); err != nil {
			printError("Error: confirming %s: %v\n", doc.Fingerprint, err)
			os.Exit(1)
		}
		fingerprints = append(fingerprints, doc.Fingerprint)
	}
	if len(fingerprints) == 0 {
		printError("Error: no recognized receipts to export\n")
		os.Exit(1)
	}

	docs, err := orch.Export(ctx, st, fingerprints)
	if err != nil {
		printError("Error: exporting workbook: %v\n", err)
		os.Exit(1)
	}
	if err := os.WriteFile(*out, docs[0].Artifact, 0o644); err != nil {
		printError("Error: writing %s: %v\n", *out, err)
		os.Exit(1)
	}
	fmt.Printf("wrote %s (%d records)\n", *out, len(docs))

	if *upload {
		url, err := orch.Store(ctx, st, fingerprints)
		if err != nil {
			printError("Error: uploading workbook: %v\n", err)
			os.Exit(1)
		}
		fmt.Printf("uploaded: %s\n", url)
	}
}
