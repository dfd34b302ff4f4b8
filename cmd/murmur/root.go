package main

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"murmur/internal/config"
	"murmur/internal/events"
	"murmur/internal/extract"
	"murmur/internal/logging"
	"murmur/internal/pipeline"
	"murmur/internal/reminder"
	"murmur/internal/server"
	"murmur/internal/store"
	"murmur/internal/task"
	"murmur/internal/taskcache"
	"murmur/internal/transcribe"
)

const version = "0.3.1"

const shutdownGrace = 10 * time.Second

func newRootCommand() *cobra.Command {
	var configPath string
	var debug bool

	root := &cobra.Command{
		Use:   "murmur",
		Short: "Voice-command task capture and reminder scheduling",
		Long: "Murmur turns spoken commands into structured tasks with scheduled\n" +
			"reminders: transcription, task extraction, time resolution, and\n" +
			"dual-path reminder delivery behind one HTTP API.",
		SilenceUsage: true,
	}
	root.PersistentFlags().StringVarP(&configPath, "config", "c", "", "Config file path")
	root.PersistentFlags().BoolVarP(&debug, "debug", "d", false, "Debug logging")

	root.AddCommand(newServeCommand(&configPath, &debug))
	root.AddCommand(newVersionCommand())
	return root
}

func newVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Run: func(cmd *cobra.Command, _ []string) {
			cmd.Printf("murmur %s\n", version)
		},
	}
}

func newServeCommand(configPath *string, debug *bool) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the voice pipeline server",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(*configPath)
			if err != nil {
				return err
			}
			if *debug {
				cfg.Debug = true
			}
			return serve(cmd.Context(), cfg)
		},
	}
}

func serve(parent context.Context, cfg *config.Config) error {
	if cfg.Debug {
		logging.SetLevel(logging.LevelDebug)
	} else {
		logging.SetLevel(logging.LevelInfo)
	}
	logger := logging.NewComponentLogger("murmur")

	ctx, stop := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	db, err := store.Open(cfg.Store.Path)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer db.Close()

	bus := events.NewBus()

	reminderMetrics, err := reminder.NewMetrics(nil)
	if err != nil {
		return err
	}
	pipelineMetrics, err := pipeline.NewMetrics(nil)
	if err != nil {
		return err
	}

	ledger, err := reminder.OpenLedger(cfg.Store.LedgerPath)
	if err != nil {
		return fmt.Errorf("open notification ledger: %w", err)
	}
	// No native notification runtime behind the HTTP server; the device
	// dispatcher reports unavailable and the sweep carries delivery.
	device := reminder.NewDeviceDispatcher(nil, ledger, reminderMetrics,
		logging.NewComponentLogger("reminder.device"))

	sweeper := reminder.NewSweeper(db, bus, cfg.Sweep.Interval, reminderMetrics,
		logging.NewComponentLogger("reminder.sweep"))
	if err := sweeper.Start(ctx); err != nil {
		return fmt.Errorf("start sweeper: %w", err)
	}
	defer sweeper.Stop()

	transcriber := transcribe.NewClient(transcribe.Config{
		BaseURL: cfg.Transcription.BaseURL,
		APIKey:  cfg.Transcription.APIKey,
		Model:   cfg.Transcription.Model,
		Timeout: cfg.Transcription.Timeout,
	}, logging.NewComponentLogger("transcribe"))

	llm := extract.NewOpenAIClient(extract.LLMConfig{
		BaseURL: cfg.Extraction.BaseURL,
		APIKey:  cfg.Extraction.APIKey,
		Model:   cfg.Extraction.Model,
		Timeout: cfg.Extraction.Timeout,
	}, logging.NewComponentLogger("extract.llm"))
	extractor := extract.NewExtractor(llm, logging.NewComponentLogger("extract"))

	pipe, err := pipeline.New(transcriber, extractor, db, device, bus, pipelineMetrics,
		pipeline.Options{Settings: task.NotificationSettings{
			WebPush: cfg.Notifications.WebPush,
			Email:   cfg.Notifications.Email,
			SMS:     cfg.Notifications.SMS,
		}},
		logging.NewComponentLogger("pipeline"))
	if err != nil {
		return err
	}

	cacheLogger := logging.NewComponentLogger("taskcache")
	cache := taskcache.New(db, cacheLogger, func(taskID string, err error) {
		cacheLogger.Error("task %s: %v", taskID, err)
	})
	if err := cache.Seed(ctx); err != nil {
		return fmt.Errorf("seed task cache: %w", err)
	}
	go cache.Run(ctx, bus)
	defer cache.Flush()

	// Task reads go through the cache, never the store directly; the change
	// feed published by the pipeline and the sweep keeps it converging.
	srv := server.New(server.Config{
		Addr:         cfg.Server.Addr(),
		AllowOrigins: cfg.Server.AllowOrigins,
		Debug:        cfg.Debug,
	}, pipe, sweeper, cache, bus, logging.NewComponentLogger("server"))

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Start()
	}()
	logger.Info("murmur %s serving on %s", version, cfg.Server.Addr())

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}
