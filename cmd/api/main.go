package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/seanblong/repochat/internal/ai"
	"github.com/seanblong/repochat/internal/answer"
	"github.com/seanblong/repochat/internal/auth"
	"github.com/seanblong/repochat/internal/config"
	"github.com/seanblong/repochat/internal/indexer"
	"github.com/seanblong/repochat/internal/server"
	"github.com/seanblong/repochat/internal/store"
	"github.com/spf13/pflag"
)

func main() {
	// Create flagset for configuration
	fs := pflag.NewFlagSet("repochat-api", pflag.ExitOnError)

	// Load configuration
	cfg, err := config.Load("", fs)
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}
	fs.Usage = cfg.Usage

	// Set up logging
	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil {
		log.Fatalf("Invalid log level '%s': %v", cfg.LogLevel, err)
	}
	logger := zerolog.New(os.Stdout).Level(level).With().Timestamp().Logger()
	zerolog.SetGlobalLevel(level)
	logger.Info().
		Str("provider", cfg.Provider).
		Str("store", cfg.Store).
		Str("log_level", cfg.LogLevel).
		Bool("auth_enabled", cfg.Auth.Enabled).
		Msg("starting repochat api")

	clientConfig, err := cfg.ClientConfig()
	if err != nil {
		log.Fatalf("Invalid provider configuration: %v", err)
	}

	authn, err := auth.New(cfg.Auth.JwtSecret, cfg.Auth.Enabled)
	if err != nil {
		log.Fatalf("Failed to initialize auth: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	c, err := ai.NewClient(ctx, clientConfig)
	if err != nil {
		log.Fatalf("Failed to create AI client: %v", err)
	}
	logger.Info().Int("embedding_dim", c.Dim()).Str("embed_model", clientConfig.EmbedModel).Msg("AI client initialized")

	st, err := openStore(ctx, cfg, c.Dim())
	if err != nil {
		log.Fatalf("Failed to open store: %v", err)
	}
	defer st.Close()

	uploads := store.NewUploads(cfg.RepoDir)
	ix := indexer.New(st, c)
	recovered, err := recoverUploads(ctx, st, uploads)
	if err != nil {
		logger.Warn().Err(err).Str("dir", cfg.RepoDir).Msg("recovering uploads failed")
	}
	go reindex(ctx, logger, ix, recovered)

	srv := server.New(st, uploads, ix, answer.NewService(c, st), server.Options{
		Logger:      logger,
		AllowOrigin: cfg.AllowOrigin,
		Auth:        authn,
	})

	s := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           srv,
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := s.Shutdown(shutdownCtx); err != nil {
			logger.Error().Err(err).Msg("shutdown failed")
		}
	}()

	logger.Info().Str("addr", s.Addr).Msg("api server listening")
	if err := s.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Fatal(err)
	}
	logger.Info().Msg("api server stopped")
}

func openStore(ctx context.Context, cfg config.Specification, dim int) (store.Store, error) {
	if cfg.Store != "postgres" {
		return store.NewMemory(), nil
	}
	pg, err := store.New(ctx, cfg.Database)
	if err != nil {
		return nil, fmt.Errorf("connect to database: %w", err)
	}
	if err := pg.Ping(ctx); err != nil {
		pg.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	if err := pg.Migrate(ctx, dim); err != nil {
		pg.Close()
		return nil, fmt.Errorf("migrate database: %w", err)
	}
	return pg, nil
}

// recoverUploads registers every upload directory found on disk.
func recoverUploads(ctx context.Context, st store.Store, uploads *store.Uploads) ([]store.Entry, error) {
	entries, err := uploads.Scan()
	if err != nil {
		return nil, err
	}
	for _, e := range entries {
		if err := st.CreateRepository(ctx, e); err != nil {
			return nil, fmt.Errorf("register %s: %w", e.ID, err)
		}
	}
	return entries, nil
}

func reindex(ctx context.Context, logger zerolog.Logger, ix *indexer.Indexer, entries []store.Entry) {
	for _, e := range entries {
		stats, err := ix.Run(ctx, e)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			logger.Error().Err(err).Str("repository", e.ID).Msg("reindex failed")
			continue
		}
		logger.Info().
			Str("repository", e.ID).
			Int("indexed", stats.Indexed).
			Int("unchanged", stats.Unchanged).
			Int("failed", stats.Failed).
			Msg("repository recovered")
	}
}
