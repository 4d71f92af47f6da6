package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"gorm.io/gorm"

	"github.com/friendsincode/skuld_sync/internal/catalog"
	"github.com/friendsincode/skuld_sync/internal/config"
	"github.com/friendsincode/skuld_sync/internal/db"
	"github.com/friendsincode/skuld_sync/internal/logging"
	"github.com/friendsincode/skuld_sync/internal/server"
	"github.com/friendsincode/skuld_sync/internal/telemetry"
	"github.com/friendsincode/skuld_sync/internal/version"
)

var (
	logger zerolog.Logger
	cfg    *config.Config

	flagInstancesFile string
	flagLogLevel      string
)

var rootCmd = &cobra.Command{
	Use:     "skuldsync",
	Short:   "Skuld Sync - backup, sync and restore for Radarr/Sonarr catalogs",
	Long:    "Skuld Sync keeps a fleet of Radarr and Sonarr servers reconciled: it snapshots their catalogs on a schedule, mirrors child instances from their parents, and can restore a server from its last good backup.",
	Version: version.Version,
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the scheduler and ops API",
	Long:  "Run the cron scheduler for configured backup and sync tasks, the instance health monitor, and the operational HTTP API.",
	RunE:  runServe,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&flagInstancesFile, "config", "", "instances file path (overrides SKULD_INSTANCES_FILE)")
	rootCmd.PersistentFlags().StringVar(&flagLogLevel, "log-level", "", "log level (overrides SKULD_LOG_LEVEL)")
	rootCmd.AddCommand(serveCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

// loadConfig loads configuration (called by commands that need it)
func loadConfig() error {
	var err error
	cfg, err = config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	if flagInstancesFile != "" {
		cfg.InstancesFile = flagInstancesFile
	}
	if flagLogLevel != "" {
		cfg.LogLevel = flagLogLevel
	}

	logger = logging.Setup(cfg.LogLevel, cfg.LogFormat)
	return nil
}

func runServe(cmd *cobra.Command, args []string) error {
	if err := loadConfig(); err != nil {
		return err
	}

	logger.Info().Str("version", version.Version).Msg("Skuld Sync starting")

	tracerProvider, err := telemetry.InitTracer(context.Background(), telemetry.TracerConfig{
		ServiceName:    "skuld-sync",
		ServiceVersion: version.Version,
		OTLPEndpoint:   cfg.OTLPEndpoint,
		Enabled:        cfg.TracingEnabled,
		SampleRate:     cfg.TracingSampleRate,
	}, logger)
	if err != nil {
		return fmt.Errorf("initialize tracer: %w", err)
	}
	defer func() {
		if err := tracerProvider.Shutdown(context.Background()); err != nil {
			logger.Error().Err(err).Msg("failed to shutdown tracer provider")
		}
	}()

	srv, err := server.New(cfg, logger)
	if err != nil {
		return fmt.Errorf("initialize server: %w", err)
	}

	httpServer := srv.HTTPServer()

	go func() {
		logger.Info().Str("addr", httpServer.Addr).Msg("HTTP server listening")
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal().Err(err).Msg("http server error")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info().Msg("shutting down gracefully...")

	timeoutCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := httpServer.Shutdown(timeoutCtx); err != nil {
		logger.Error().Err(err).Msg("graceful shutdown failed")
	}

	if err := srv.Close(); err != nil {
		logger.Error().Err(err).Msg("shutdown cleanup failed")
	}

	logger.Info().Msg("Skuld Sync stopped")
	return nil
}

// initDatabase opens and migrates the database for one-shot commands.
func initDatabase() (*gorm.DB, error) {
	database, err := db.Connect(cfg)
	if err != nil {
		return nil, fmt.Errorf("connect to database: %w", err)
	}
	if err := db.Migrate(database); err != nil {
		return nil, fmt.Errorf("migrate database: %w", err)
	}
	return database, nil
}

func closeDatabase(database *gorm.DB) {
	if err := db.Close(database); err != nil {
		logger.Warn().Err(err).Msg("failed to close database")
	}
}

// loadInstances reads the instances file configured for the process.
func loadInstances() ([]catalog.Instance, error) {
	return config.LoadInstances(cfg.InstancesFile)
}

// selectInstances resolves the --instance/--all pair shared by the
// one-shot commands. With syncOnly, --all keeps only instances that have
// a sync parent configured.
func selectInstances(name string, all, syncOnly bool) ([]catalog.Instance, error) {
	if name == "" && !all {
		return nil, fmt.Errorf("either --instance or --all is required")
	}
	if name != "" && all {
		return nil, fmt.Errorf("--instance and --all are mutually exclusive")
	}

	instances, err := loadInstances()
	if err != nil {
		return nil, err
	}

	if name != "" {
		inst, ok := config.FindInstance(instances, name)
		if !ok {
			return nil, fmt.Errorf("instance %q is not defined in %s", name, cfg.InstancesFile)
		}
		return []catalog.Instance{inst}, nil
	}

	if !syncOnly {
		return instances, nil
	}
	var synced []catalog.Instance
	for _, inst := range instances {
		if inst.Sync != nil {
			synced = append(synced, inst)
		}
	}
	if len(synced) == 0 {
		return nil, fmt.Errorf("no instance has a sync parent configured")
	}
	return synced, nil
}

// signalContext is the base context for one-shot commands; Ctrl-C aborts
// the batch after the item in flight.
func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
}
