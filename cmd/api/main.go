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

	"flowgate/internal/http/handlers"
	"flowgate/internal/http/httpapi"
	"flowgate/internal/infra"
	"flowgate/internal/orchestrator"
	"flowgate/internal/relocate"
	"flowgate/internal/store"
	"flowgate/internal/upstream"
)

func main() {
	_ = godotenv.Load()

	cfg, err := infra.LoadConfig()
	if err != nil {
		panic(err)
	}
	logger := infra.NewLogger(cfg.AppEnv)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Job store: Postgres when configured, in-memory otherwise.
	var jobStore store.Store
	if cfg.DatabaseURL != "" {
		pool, err := infra.NewDBPool(ctx, cfg)
		if err != nil {
			logger.Fatal().Err(err).Msg("failed to connect database")
		}
		defer pool.Close()
		jobStore, err = store.NewPostgres(ctx, pool)
		if err != nil {
			logger.Fatal().Err(err).Msg("failed to prepare job store")
		}
		logger.Info().Msg("using postgres job store")
	} else {
		jobStore = store.NewMemory()
		logger.Info().Msg("using in-memory job store")
	}

	proxyURL := ""
	if cfg.ProxyEnabled {
		proxyURL = cfg.ProxyURL
	}
	client, err := upstream.NewClient(upstream.Options{
		LabsBaseURL:    cfg.FlowLabsBaseURL,
		APIBaseURL:     cfg.FlowAPIBaseURL,
		AuthToken:      cfg.FlowAuthToken,
		ProxyURL:       proxyURL,
		Logger:         &logger,
		RequestTimeout: cfg.FlowTimeout,
	})
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to configure upstream client")
	}

	var backend relocate.Backend
	localTmpDir := ""
	if cfg.StorageBackend == "s3" {
		backend, err = relocate.NewS3(relocate.S3Options{
			Bucket:       cfg.S3BucketName,
			Region:       cfg.S3RegionName,
			Endpoint:     cfg.S3EndpointURL,
			AccessKey:    cfg.S3AccessKey,
			SecretKey:    cfg.S3SecretKey,
			PublicDomain: cfg.S3PublicDomain,
		})
	} else {
		var local *relocate.Local
		local, err = relocate.NewLocal(cfg.CacheDir, cfg.CacheBaseURL)
		if local != nil {
			backend = local
			localTmpDir = local.BasePath()
		}
	}
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to configure storage backend")
	}
	relocator := relocate.NewRelocator(backend, cfg.CacheEnabled, &logger)

	broker := orchestrator.NewBroker()
	orc, err := orchestrator.New(cfg, jobStore, client, relocator, broker, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to configure orchestrator")
	}
	if err := orc.Resume(ctx); err != nil {
		logger.Error().Err(err).Msg("failed to resume in-flight jobs")
	}

	app := handlers.NewApp(cfg, logger, jobStore, orc, relocator)
	router := httpapi.NewRouter(app, localTmpDir)
	server := infra.NewHTTPServer(cfg, router)

	go func() {
		logger.Info().
			Str("storage_backend", cfg.StorageBackend).
			Bool("cache_enabled", cfg.CacheEnabled).
			Msgf("API listening on :%s", cfg.Port)
		if err := server.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal().Err(err).Msg("http server failed")
		}
	}()

	<-ctx.Done()
	stop()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("failed to shutdown server")
	}
	if err := orc.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("failed to drain orchestrator")
	}
	logger.Info().Msg("server stopped")
}
