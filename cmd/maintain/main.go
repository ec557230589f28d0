// Command maintain runs one maintenance sweep against the asset store and
// prints the report. Intended for cron jobs and operator use; the server
// also sweeps on its own schedule.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"os"
	"path/filepath"
	"time"

	"github.com/joho/godotenv"

	"genimage/internal/index"
	"genimage/internal/infra"
	"genimage/internal/providers/remote"
	"genimage/internal/storage"
	"genimage/internal/sweeper"
)

func main() {
	budgetMB := flag.Int64("local-budget-mb", 0, "override the local storage budget in MB (0 uses config)")
	quotaMB := flag.Int64("remote-quota-mb", 0, "override the remote quota in MB (0 uses config)")
	dryRun := flag.Bool("dry-run", false, "report what the sweep would remove without deleting")
	timeout := flag.Duration("timeout", 10*time.Minute, "abort the sweep after this long")
	flag.Parse()

	_ = godotenv.Load()

	cfg, err := infra.LoadConfig()
	if err != nil {
		panic(err)
	}
	logger := infra.NewLogger(infra.LogOptions{Env: cfg.AppEnv, FilePath: cfg.LogFilePath})

	if *budgetMB > 0 {
		cfg.LocalBudgetBytes = *budgetMB << 20
	}
	if *quotaMB > 0 {
		cfg.RemoteQuotaBytes = *quotaMB << 20
	}

	files, err := storage.NewFileStore(filepath.Join(cfg.DataDir, "blobs"))
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to init file store")
	}
	idx, err := index.Open(cfg.IndexDBPath)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to open index")
	}
	defer idx.Close()

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	var remoteSvc remote.Service = remote.Disabled{}
	if cfg.RemoteProvider == "http" && cfg.RemoteBaseURL != "" {
		client, err := remote.NewHTTPClient(remote.HTTPOptions{
			APIKey:  cfg.RemoteAPIKey,
			BaseURL: cfg.RemoteBaseURL,
			TTL:     cfg.RemoteTTL,
			Logger:  &logger,
		})
		if err != nil {
			logger.Fatal().Err(err).Msg("failed to init remote client")
		}
		remoteSvc = client
	} else if cfg.RemoteProvider == "s3" && cfg.S3Endpoint != "" {
		store, err := remote.NewObjectStore(remote.ObjectStoreOptions{
			Endpoint:  cfg.S3Endpoint,
			AccessKey: cfg.S3AccessKey,
			SecretKey: cfg.S3SecretKey,
			Bucket:    cfg.S3Bucket,
			Region:    cfg.S3Region,
			UseSSL:    cfg.S3UseSSL,
			TTL:       cfg.RemoteTTL,
		})
		if err != nil {
			logger.Fatal().Err(err).Msg("failed to init object store")
		}
		remoteSvc = store
	}

	sw := sweeper.New(idx, files, remoteSvc, sweeper.Config{
		LocalBudgetBytes: cfg.LocalBudgetBytes,
		RemoteQuotaBytes: cfg.RemoteQuotaBytes,
		DryRun:           *dryRun,
	}, logger)

	report := sw.Sweep(ctx)

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	_ = enc.Encode(report)

	if ctx.Err() != nil {
		os.Exit(1)
	}
}
