package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog"
	"github.com/seanblong/repochat/internal/ai"
	"github.com/seanblong/repochat/internal/config"
	"github.com/seanblong/repochat/internal/indexer"
	"github.com/seanblong/repochat/internal/store"
	"github.com/spf13/pflag"
)

// indexer rebuilds the document store from the upload directories on disk.
func main() {
	fs := pflag.NewFlagSet("repochat-indexer", pflag.ExitOnError)
	only := fs.String("name", "", "Only reindex repositories with this name")

	cfg, err := config.Load("", fs)
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}
	fs.Usage = cfg.Usage

	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil {
		log.Fatalf("Invalid log level '%s': %v", cfg.LogLevel, err)
	}
	zerolog.SetGlobalLevel(level)
	logger := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).With().Timestamp().Logger()

	if cfg.Store != "postgres" {
		logger.Warn().Msg("memory store selected; indexed documents are discarded on exit")
	}

	clientConfig, err := cfg.ClientConfig()
	if err != nil {
		log.Fatalf("Invalid provider configuration: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	c, err := ai.NewClient(ctx, clientConfig)
	if err != nil {
		log.Fatalf("Failed to create AI client: %v", err)
	}

	var st store.Store
	if cfg.Store == "postgres" {
		pg, err := store.New(ctx, cfg.Database)
		if err != nil {
			log.Fatal(err)
		}
		if err := pg.Migrate(ctx, c.Dim()); err != nil {
			pg.Close()
			log.Fatal(err)
		}
		st = pg
	} else {
		st = store.NewMemory()
	}
	defer st.Close()

	entries, err := store.NewUploads(cfg.RepoDir).Scan()
	if err != nil {
		log.Fatal(err)
	}

	ix := indexer.New(st, c)
	var total indexer.Stats
	for _, e := range entries {
		if *only != "" && e.Repository.Name != *only {
			continue
		}
		if err := st.CreateRepository(ctx, e); err != nil {
			log.Fatal(err)
		}
		stats, err := ix.Run(ctx, e)
		if err != nil {
			logger.Error().Err(err).Str("repository", e.ID).Msg("indexing failed")
			if ctx.Err() != nil {
				break
			}
			continue
		}
		total.Indexed += stats.Indexed
		total.Unchanged += stats.Unchanged
		total.Failed += stats.Failed
		logger.Info().Str("repository", e.ID).Int("indexed", stats.Indexed).Int("unchanged", stats.Unchanged).Msg("indexed")
	}

	fmt.Printf("indexed=%d unchanged=%d failed=%d\n", total.Indexed, total.Unchanged, total.Failed)
}
