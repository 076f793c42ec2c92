package cmd

import (
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/quellhq/quell/internal/breaker"
	"github.com/quellhq/quell/internal/cache"
	"github.com/quellhq/quell/internal/callback"
	"github.com/quellhq/quell/internal/config"
	"github.com/quellhq/quell/internal/correlation"
	"github.com/quellhq/quell/internal/logging"
	"github.com/quellhq/quell/internal/metrics"
	"github.com/quellhq/quell/internal/server"
)

// serveCmd represents the serve command
var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the Quell correlation engine",
	Long: `Start the Quell correlation engine and its operational HTTP listener.

The process runs:
  • The correlation engine with its lifecycle sweep
  • The callback dispatcher worker pool
  • Best-effort snapshot persistence to Valkey/Redis (when configured)
  • Health, statistics and Prometheus metrics endpoints
  • Graceful shutdown on SIGTERM/SIGINT

Configuration is loaded from:
  1. Environment variables (QUELL_*)
  2. Configuration file (if specified with --config)
  3. Default values

Examples:
  quell serve                          # Start with default configuration
  quell serve --config quell.yaml      # Start with custom config file
  QUELL_SERVER_PORT=9090 quell serve   # Override port via environment`,
	RunE: func(cmd *cobra.Command, args []string) error {
		configFile, _ := cmd.Flags().GetString("config")
		return runServe(configFile)
	},
}

// runServe wires the engine, its collaborators and the operational
// listener, then blocks until shutdown.
func runServe(configFile string) error {
	cfg, err := config.Load(configFile)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	logger, err := logging.NewFromEnvironment()
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}

	logger.Info("Starting Quell correlation engine",
		"version", getVersionString(),
		"environment", logger.GetConfig().Environment,
		"config_file", configFile,
		"server_address", fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		"cache_enabled", cfg.Cache.Enabled,
		"rules_file", cfg.Engine.RulesFile)

	if err := metrics.Register(prometheus.DefaultRegisterer); err != nil {
		return fmt.Errorf("failed to register metrics: %w", err)
	}

	provider, err := buildCacheProvider(cfg, logger)
	if err != nil {
		return err
	}
	defer provider.Close()

	dispatcher, err := callback.NewDispatcher(callback.Config{
		Workers:        cfg.Callbacks.Workers,
		BufferSize:     cfg.Callbacks.BufferSize,
		HandlerTimeout: time.Duration(cfg.Callbacks.HandlerTimeoutSeconds) * time.Second,
	}, logger)
	if err != nil {
		return fmt.Errorf("failed to create callback dispatcher: %w", err)
	}

	engine, err := correlation.NewEngine(
		correlation.Config{
			DefaultTimeWindow: cfg.Engine.DefaultTimeWindow,
			MaxGroupSize:      cfg.Engine.MaxGroupSize,
			MaxGroupAge:       cfg.Engine.MaxGroupAge,
			ResolvedRetention: cfg.Engine.ResolvedRetention,
			SweepInterval:     cfg.Engine.SweepInterval,
			PersistTimeout:    cfg.Engine.PersistTimeout,
		},
		correlation.Dependencies{
			Cache: provider,
			Breaker: breaker.New(cfg.Breaker.MaxFailures,
				time.Duration(cfg.Breaker.ResetTimeoutSeconds)*time.Second),
			Callbacks: dispatcher,
		},
		logger,
	)
	if err != nil {
		return fmt.Errorf("failed to create correlation engine: %w", err)
	}

	if err := registerRules(engine, cfg, logger); err != nil {
		return err
	}

	if err := dispatcher.Start(); err != nil {
		return fmt.Errorf("failed to start callback dispatcher: %w", err)
	}
	defer dispatcher.Stop()

	if err := engine.Start(); err != nil {
		return fmt.Errorf("failed to start correlation engine: %w", err)
	}
	defer engine.Stop()

	srv, err := server.New(cfg, engine, logger)
	if err != nil {
		return fmt.Errorf("failed to create server: %w", err)
	}

	logger.Info("Engine ready", "address", srv.GetAddr())
	if err := srv.StartWithGracefulShutdown(); err != nil {
		logger.WithError(err).Error("Server shutdown with error")
		return err
	}

	logger.Info("Shutdown completed")
	return nil
}

// buildCacheProvider returns the configured Valkey provider, or the noop
// provider when persistence is disabled. A misconfigured cache logs a
// warning and degrades to in-memory operation rather than failing startup.
func buildCacheProvider(cfg *config.Config, logger *logging.Logger) (cache.Provider, error) {
	if !cfg.Cache.Enabled {
		logger.Debug("Cache persistence disabled, running in-memory only")
		return cache.NoopProvider{}, nil
	}

	provider, err := cache.NewValkeyProvider(cache.ValkeyConfig{
		Addr:         cfg.Cache.Addr,
		Username:     cfg.Cache.Username,
		Password:     cfg.Cache.Password,
		DB:           cfg.Cache.DB,
		DialTimeout:  cfg.Cache.DialTimeout,
		ReadTimeout:  cfg.Cache.ReadTimeout,
		WriteTimeout: cfg.Cache.WriteTimeout,
		TLS:          cfg.Cache.TLS,
	})
	if err != nil {
		logger.WithError(err).Warn("Cache unreachable at startup, degrading to in-memory only",
			"addr", cfg.Cache.Addr)
		return cache.NoopProvider{}, nil
	}
	return provider, nil
}

// registerRules loads the configured rules file, or installs the built-in
// defaults when none is set.
func registerRules(engine *correlation.Engine, cfg *config.Config, logger *logging.Logger) error {
	rules := correlation.DefaultRules()
	if cfg.Engine.RulesFile != "" {
		loaded, err := config.LoadRulesFromFile(cfg.Engine.RulesFile)
		if err != nil {
			return fmt.Errorf("failed to load rules: %w", err)
		}
		rules = loaded
	}

	for _, rule := range rules {
		if err := engine.AddRule(rule); err != nil {
			return fmt.Errorf("failed to register rule %q: %w", rule.Name, err)
		}
	}
	logger.Info("Registered correlation rules", "count", len(rules))
	return nil
}

// init registers the serve command with the root command.
func init() {
	rootCmd.AddCommand(serveCmd)
}
