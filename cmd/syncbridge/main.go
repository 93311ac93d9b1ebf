package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/syncbridge/syncbridge/pkg/api"
	"github.com/syncbridge/syncbridge/pkg/config"
	"github.com/syncbridge/syncbridge/pkg/engine"
	"github.com/syncbridge/syncbridge/pkg/log"
	"github.com/syncbridge/syncbridge/pkg/store"
)

var (
	// Version information (set via ldflags during build)
	Version   = "dev"
	Commit    = "unknown"
	BuildTime = "unknown"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "syncbridge",
	Short: "SyncBridge - durable CRM sync processor",
	Long: `SyncBridge accepts contact sync operations, queues them durably in
Redis, and dispatches them to CRM providers with per-provider rate
limiting, schema transformation, and retry with dead lettering.`,
	Version: Version,
}

func init() {
	rootCmd.SetVersionTemplate(fmt.Sprintf(
		"SyncBridge version %s\nCommit: %s\nBuilt: %s\n",
		Version, Commit, BuildTime,
	))

	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().String("config", "", "Path to YAML configuration file")
	serveCmd.Flags().String("redis", "", "Redis address (overrides config)")
	serveCmd.Flags().Int("workers", 0, "Number of workers (overrides config)")
	serveCmd.Flags().String("listen", "", "HTTP listen address (overrides config)")
	serveCmd.Flags().String("log-level", "", "Log level: debug, info, warn, error")
	serveCmd.Flags().Bool("log-json", true, "Emit JSON logs")
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the sync processor",
	Long: `Start the HTTP API and the worker pool. Providers listed in the
configuration file are registered before the first worker starts.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfgPath, _ := cmd.Flags().GetString("config")

		cfg := config.Default()
		if cfgPath != "" {
			loaded, err := config.Load(cfgPath)
			if err != nil {
				return err
			}
			cfg = loaded
		}

		if v, _ := cmd.Flags().GetString("redis"); v != "" {
			cfg.Redis.Addr = v
		}
		if v, _ := cmd.Flags().GetInt("workers"); v > 0 {
			cfg.Workers = v
		}
		if v, _ := cmd.Flags().GetString("listen"); v != "" {
			cfg.Listen = v
		}
		if v, _ := cmd.Flags().GetString("log-level"); v != "" {
			cfg.Log.Level = v
		}
		if cmd.Flags().Changed("log-json") {
			cfg.Log.JSON, _ = cmd.Flags().GetBool("log-json")
		}

		return serve(cfg)
	},
}

func serve(cfg *config.Config) error {
	log.Init(log.Config{
		Level:      log.Level(cfg.Log.Level),
		JSONOutput: cfg.Log.JSON,
	})
	logger := log.WithComponent("main")

	st := store.NewRedisStore(store.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	defer st.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	err := st.Ping(ctx)
	cancel()
	if err != nil {
		return fmt.Errorf("redis unreachable at %s: %w", cfg.Redis.Addr, err)
	}

	eng := engine.New(st)
	for i := range cfg.Providers {
		if err := eng.RegisterProvider(&cfg.Providers[i]); err != nil {
			return fmt.Errorf("registering provider %s: %w", cfg.Providers[i].Name, err)
		}
	}

	eng.StartWorkers(cfg.Workers)

	server := api.NewServer(eng)
	errCh := make(chan error, 1)
	go func() {
		if err := server.Start(cfg.Listen); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	logger.Info().
		Str("listen", cfg.Listen).
		Int("workers", cfg.Workers).
		Int("providers", len(cfg.Providers)).
		Msg("syncbridge started")

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		logger.Info().Str("signal", sig.String()).Msg("shutting down")
	case err := <-errCh:
		logger.Error().Err(err).Msg("http server failed")
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("http shutdown failed")
	}
	eng.StopWorkers()

	logger.Info().Msg("shutdown complete")
	return nil
}
