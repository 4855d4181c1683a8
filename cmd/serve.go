package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os/signal"
	"sync"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/neverland-app/neverland/api"
	"github.com/neverland-app/neverland/internal/app"
	"github.com/neverland-app/neverland/internal/config"
	"github.com/neverland-app/neverland/internal/log"
)

var serveJSONLogs bool

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP API server and the daily scheduler",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runServe()
	},
}

func init() {
	serveCmd.Flags().BoolVar(&serveJSONLogs, "json-logs", false, "emit logs as JSON")
	rootCmd.AddCommand(serveCmd)
}

func runServe() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	logger := log.New(log.Config{Level: slog.LevelInfo, JSON: serveJSONLogs})
	logger.Info("starting neverland", "version", Version)

	a, err := app.Setup(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("initializing application: %w", err)
	}
	defer func() {
		if closeErr := a.Close(); closeErr != nil {
			logger.Warn("shutdown error", "error", closeErr)
		}
	}()

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		a.Scheduler.Run(ctx)
	}()

	srv := api.NewServer(api.Deps{
		Pipeline: a.Orchestrator,
		Sessions: a.Sessions,
		Personas: a.Personas,
		Ingestor: a.Ingestor,
		Searcher: a.Retriever,
		DB:       a.DBPool,
		Log:      logger,
		Collections: map[string]string{
			config.CollectionDaily:  cfg.Collections.Daily,
			config.CollectionLetter: cfg.Collections.Letter,
			config.CollectionObject: cfg.Collections.Object,
		},
		AudioDir: cfg.Voice.AudioDir,
	})

	err = srv.Run(ctx, cfg.ServerAddr)

	cancel()
	wg.Wait()

	if err != nil {
		return fmt.Errorf("http server: %w", err)
	}
	return nil
}
