package cli

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/harun/toolbridge/internal/config"
	"github.com/harun/toolbridge/internal/logger"
	"github.com/harun/toolbridge/internal/metrics"
	"github.com/harun/toolbridge/internal/observability"
	"github.com/harun/toolbridge/pkg/approval"
	"github.com/harun/toolbridge/pkg/catalog"
	"github.com/harun/toolbridge/pkg/dispatcher"
	"github.com/harun/toolbridge/pkg/executor"
	"github.com/harun/toolbridge/pkg/gateway"
	"github.com/harun/toolbridge/pkg/history"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the tool execution engine",
	Long: `Start the engine: load the tool catalog and server profiles, open the
gateway for the host runtime, and serve requests until interrupted.`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return err
	}
	if logLevel != "" {
		cfg.Logging.Level = logLevel
	}

	lg, err := logger.New(logger.Config{
		Level:     cfg.Logging.Level,
		File:      cfg.Logging.File,
		Console:   cfg.Logging.Console,
		Pretty:    cfg.Logging.Pretty,
		Redaction: cfg.Logging.Redaction,
	})
	if err != nil {
		return err
	}
	defer lg.Close()

	if err := observability.InitAuditLogger(cfg.Logging.AuditFile); err != nil {
		return fmt.Errorf("failed to initialize audit log: %w", err)
	}
	defer observability.GetAuditLogger().Close()

	registry := loadRegistry(cfg)

	m := metrics.NewMetrics()

	opts := []dispatcher.Option{
		dispatcher.WithLocalExecutor(executor.NewLocalExecutor(cfg.Shell)),
		dispatcher.WithMetrics(m),
		dispatcher.WithApprovalOptions(
			approval.WithTTL(cfg.Approval.TTL()),
			approval.WithSweepInterval(cfg.Approval.SweepInterval()),
		),
	}

	var store *history.Store
	if cfg.History.Enabled {
		store, err = history.NewStore(cfg.History.DBPath)
		if err != nil {
			return err
		}
		defer store.Close()
		opts = append(opts, dispatcher.WithRecorder(store))
	}

	d := dispatcher.New(registry, opts...)
	defer d.Close()

	if cfg.WatchCatalog {
		watcher, err := catalog.NewWatcher(registry, cfg.CatalogPath, cfg.ServersPath)
		if err != nil {
			return err
		}
		if err := watcher.Start(); err != nil {
			return err
		}
		defer watcher.Stop()
	}

	server, err := gateway.NewServer(gateway.Config{
		Port:              cfg.Gateway.Port,
		Token:             cfg.Gateway.Token,
		Metrics:           m,
		RequestsPerMinute: cfg.Gateway.RequestsPerMinute,
		MaxInFlight:       cfg.Gateway.MaxInFlight,
	}, d)
	if err != nil {
		return err
	}
	if err := server.Start(); err != nil {
		return err
	}

	log.Info().
		Int("port", cfg.Gateway.Port).
		Int("tools", registry.Len()).
		Msg("Engine running")

	// Wait for interrupt
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	log.Info().Msg("Shutting down")
	return server.Stop()
}

// loadRegistry loads the tool catalog. A malformed catalog must not crash
// the engine: it starts with an empty catalog and logs the parse error.
func loadRegistry(cfg *config.Config) *catalog.Registry {
	tools, err := catalog.LoadToolsFile(cfg.CatalogPath)
	if err != nil {
		log.Error().Err(err).Str("path", cfg.CatalogPath).Msg("Failed to load tool catalog")
		return catalog.EmptyRegistry()
	}

	servers, err := catalog.LoadServersFile(cfg.ServersPath)
	if err != nil {
		log.Error().Err(err).Str("path", cfg.ServersPath).Msg("Failed to load server profiles")
		servers = nil
	}

	registry, err := catalog.NewRegistry(tools, servers)
	if err != nil {
		log.Error().Err(err).Msg("Invalid tool catalog")
		return catalog.EmptyRegistry()
	}
	return registry
}
