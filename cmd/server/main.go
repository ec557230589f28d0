package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/joho/godotenv"

	"genimage/internal/http/handlers"
	"genimage/internal/http/httpapi"
	"genimage/internal/index"
	"genimage/internal/infra"
	"genimage/internal/membudget"
	"genimage/internal/mirror"
	"genimage/internal/pipeline"
	"genimage/internal/providers/backend"
	"genimage/internal/providers/remote"
	"genimage/internal/storage"
	"genimage/internal/sweeper"
	"genimage/internal/tier"
	"genimage/internal/variant"
)

func main() {
	_ = godotenv.Load()

	cfg, err := infra.LoadConfig()
	if err != nil {
		panic(err)
	}
	logger := infra.NewLogger(infra.LogOptions{Env: cfg.AppEnv, FilePath: cfg.LogFilePath})

	files, err := storage.NewFileStore(filepath.Join(cfg.DataDir, "blobs"))
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to init file store")
	}
	idx, err := index.Open(cfg.IndexDBPath)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to open index")
	}
	defer idx.Close()

	gen, err := backend.NewClient(backend.Options{
		APIKey:  cfg.BackendAPIKey,
		BaseURL: cfg.BackendBaseURL,
		Logger:  &logger,
	})
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to init backend client")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	remoteSvc := buildRemote(ctx, cfg, logger)
	m := mirror.New(idx, files, remoteSvc, logger)

	svc := pipeline.New(
		tier.NewSelector(tier.DefaultConfig(), tier.DefaultTiers()),
		membudget.NewPlanner(cfg.MemoryCeiling),
		gen,
		variant.NewStore(files, idx),
		idx,
		m,
		logger,
	)

	sw := sweeper.New(idx, files, remoteSvc, sweeper.Config{
		LocalBudgetBytes: cfg.LocalBudgetBytes,
		RemoteQuotaBytes: cfg.RemoteQuotaBytes,
	}, logger)

	runner := sweeper.NewRunner(sw, logger)
	if err := runner.Start(ctx, cfg.SweepSchedule); err != nil {
		logger.Fatal().Err(err).Str("schedule", cfg.SweepSchedule).Msg("failed to schedule sweeps")
	}
	defer runner.Stop()

	app := handlers.NewApp(svc, sw, idx, logger)
	server := infra.NewHTTPServer(cfg, httpapi.NewRouter(app, logger))

	go func() {
		logger.Info().Str("port", cfg.Port).Msg("server listening")
		if err := server.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal().Err(err).Msg("http server failed")
		}
	}()

	<-ctx.Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.HTTPIdleTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("failed to shutdown server")
	}
	logger.Info().Msg("server stopped")
}

// buildRemote picks the mirror backend from configuration. Without one,
// mirroring is disabled and edits fall back to sending source bytes inline.
func buildRemote(ctx context.Context, cfg *infra.Config, logger infra.Logger) remote.Service {
	switch cfg.RemoteProvider {
	case "s3":
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
		if err := store.EnsureBucket(ctx); err != nil {
			logger.Fatal().Err(err).Msg("failed to ensure bucket")
		}
		return store
	case "http":
		if cfg.RemoteBaseURL == "" {
			logger.Warn().Msg("REMOTE_BASE_URL unset, remote mirroring disabled")
			return remote.Disabled{}
		}
		client, err := remote.NewHTTPClient(remote.HTTPOptions{
			APIKey:  cfg.RemoteAPIKey,
			BaseURL: cfg.RemoteBaseURL,
			TTL:     cfg.RemoteTTL,
			Logger:  &logger,
		})
		if err != nil {
			logger.Fatal().Err(err).Msg("failed to init remote client")
		}
		return client
	default:
		logger.Warn().Str("provider", cfg.RemoteProvider).Msg("unknown remote provider, mirroring disabled")
		return remote.Disabled{}
	}
}
