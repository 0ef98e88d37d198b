package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/goodtune/sessionmeter/internal/api"
	"github.com/goodtune/sessionmeter/internal/config"
	"github.com/goodtune/sessionmeter/internal/metrics"
	"github.com/goodtune/sessionmeter/internal/session"
	"github.com/goodtune/sessionmeter/internal/storage"
	"github.com/goodtune/sessionmeter/internal/storage/memory"
	"github.com/goodtune/sessionmeter/internal/storage/redis"
	"github.com/goodtune/sessionmeter/internal/storage/sqlite"
	"github.com/goodtune/sessionmeter/internal/summary"
	"github.com/goodtune/sessionmeter/internal/systemd"
)

var serverCmd = &cobra.Command{
	Use:   "server",
	Short: "Start SessionMeter server",
	Long:  `Start the SessionMeter server with the session API and metrics endpoints.`,
	RunE:  runServer,
}

func init() {
	rootCmd.AddCommand(serverCmd)
}

func runServer(cmd *cobra.Command, args []string) error {
	// Load configuration
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	// Setup logger
	logger := setupLogger(cfg.Logging)
	log.Logger = logger

	logger.Info().
		Str("version", version).
		Str("config", configPath).
		Msg("Starting SessionMeter")

	// Check for systemd socket activation
	sdListeners, err := systemd.GetListeners()
	if err != nil {
		return fmt.Errorf("failed to get systemd listeners: %w", err)
	}
	if sdListeners.Activated {
		logger.Info().Msg("Running with systemd socket activation")
	}

	// Initialize storage
	store, err := openStorage(cfg.Storage)
	if err != nil {
		return fmt.Errorf("failed to initialize storage: %w", err)
	}
	defer func() {
		if err := store.Close(); err != nil {
			logger.Error().Err(err).Msg("Failed to close storage")
		}
	}()

	logger.Info().
		Str("type", cfg.Storage.Type).
		Msg("Storage initialized")

	seed := seedDevices(cfg.Devices)

	ctx := context.Background()
	if err := ensureSeeded(ctx, store, seed, logger); err != nil {
		return fmt.Errorf("failed to seed device registry: %w", err)
	}

	// Build core components
	coordinator := session.NewCoordinator(store, seed, session.RealClock{}, logger)
	builder := summary.NewBuilder(store, session.RealClock{})

	// Initialize API server
	apiServer, err := api.NewServer(cfg, store, coordinator, builder, logger)
	if err != nil {
		return fmt.Errorf("failed to create API server: %w", err)
	}

	if sdListeners.Activated && sdListeners.HTTP != nil {
		apiServer.SetListener(sdListeners.HTTP)
	}

	if err := apiServer.Start(); err != nil {
		return fmt.Errorf("failed to start API server: %w", err)
	}

	// Initialize Metrics server
	metricsAddr := fmt.Sprintf("%s:%d", cfg.Server.BindAddress, cfg.Server.MetricsPort)
	metricsServer := metrics.NewServer(metricsAddr, logger)

	if sdListeners.Activated && sdListeners.Metrics != nil {
		metricsServer.SetListener(sdListeners.Metrics)
	}

	if err := metricsServer.Start(); err != nil {
		return fmt.Errorf("failed to start Metrics server: %w", err)
	}

	logger.Info().Msg("SessionMeter startup complete")
	logger.Info().Msgf("API: http://%s:%d", cfg.Server.BindAddress, cfg.Server.HTTPPort)
	logger.Info().Msgf("Metrics: http://%s:%d/metrics", cfg.Server.BindAddress, cfg.Server.MetricsPort)

	// Notify systemd that we're ready to serve requests
	systemd.NotifyReady()

	// Wait for shutdown signal
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	sig := <-sigChan

	logger.Info().Str("signal", sig.String()).Msg("Shutdown signal received, gracefully stopping...")

	systemd.NotifyStopping()

	if err := apiServer.Stop(); err != nil {
		logger.Error().Err(err).Msg("Error stopping API server")
	}

	if err := metricsServer.Stop(); err != nil {
		logger.Error().Err(err).Msg("Error stopping Metrics server")
	}

	logger.Info().Msg("SessionMeter stopped")

	return nil
}

func openStorage(cfg config.StorageConfig) (storage.Store, error) {
	storageType := cfg.Type
	if storageType == "" {
		storageType = "memory"
	}

	switch storageType {
	case "memory":
		return memory.Open(), nil
	case "sqlite":
		return sqlite.Open(cfg.SQLite.Path)
	case "redis":
		return redis.Open(cfg.Redis)
	default:
		return nil, fmt.Errorf("unsupported storage type: %s", storageType)
	}
}

// seedDevices converts the configured seed entries to registry devices.
func seedDevices(cfg config.DevicesConfig) []storage.Device {
	devices := make([]storage.Device, 0, len(cfg.Seed))
	for _, seed := range cfg.Seed {
		devices = append(devices, storage.Device{
			ID:          seed.ID,
			Name:        seed.Name,
			Status:      storage.StatusAvailable,
			MBPerMinute: seed.MBPerMinute,
		})
	}
	return devices
}

// ensureSeeded populates the device registry on first start. An already
// populated registry is left alone so restarts keep accumulated state.
func ensureSeeded(ctx context.Context, store storage.Store, seed []storage.Device, logger zerolog.Logger) error {
	existing, err := store.Devices().List(ctx)
	if err != nil && !errors.Is(err, storage.ErrNotFound) {
		return err
	}
	if len(existing) > 0 {
		return nil
	}

	if err := store.Devices().Replace(ctx, seed); err != nil {
		return err
	}

	logger.Info().Int("devices", len(seed)).Msg("Seeded device registry")
	return nil
}

// setupLogger configures the logger based on configuration
func setupLogger(cfg config.LoggingConfig) zerolog.Logger {
	// Set log level
	level := zerolog.InfoLevel
	switch cfg.Level {
	case "debug":
		level = zerolog.DebugLevel
	case "info":
		level = zerolog.InfoLevel
	case "warn":
		level = zerolog.WarnLevel
	case "error":
		level = zerolog.ErrorLevel
	}

	zerolog.SetGlobalLevel(level)

	// Set output format
	if cfg.Format == "text" {
		return zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout}).With().Timestamp().Logger()
	}

	// Default to JSON
	return zerolog.New(os.Stdout).With().Timestamp().Logger()
}
