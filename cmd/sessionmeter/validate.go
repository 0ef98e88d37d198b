package main

import (
	"fmt"
	"os"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/goodtune/sessionmeter/internal/config"
)

var (
	validateDump bool
)

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate configuration file",
	Long:  `Validate the SessionMeter configuration file for syntax and semantic errors.`,
	RunE:  runValidate,
}

func init() {
	validateCmd.Flags().BoolVar(&validateDump, "dump", false, "Dump effective configuration after validation")
	rootCmd.AddCommand(validateCmd)
}

func runValidate(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		red := color.New(color.FgRed, color.Bold)
		red.Fprintf(os.Stderr, "Configuration validation failed: %v\n", err)
		return err
	}

	green := color.New(color.FgGreen)
	green.Fprintf(os.Stdout, "Configuration is valid: %s\n", configPath)

	if validateDump {
		dumpConfig(cfg)
	}

	return nil
}

// dumpConfig prints the effective configuration with defaults applied.
func dumpConfig(cfg *config.Config) {
	bold := color.New(color.Bold)

	bold.Fprintln(os.Stdout, "\nServer:")
	fmt.Fprintf(os.Stdout, "  bind_address: %s\n", cfg.Server.BindAddress)
	fmt.Fprintf(os.Stdout, "  http_port: %d\n", cfg.Server.HTTPPort)
	fmt.Fprintf(os.Stdout, "  metrics_port: %d\n", cfg.Server.MetricsPort)

	bold.Fprintln(os.Stdout, "Storage:")
	fmt.Fprintf(os.Stdout, "  type: %s\n", cfg.Storage.Type)
	switch cfg.Storage.Type {
	case "sqlite":
		fmt.Fprintf(os.Stdout, "  path: %s\n", cfg.Storage.SQLite.Path)
	case "redis":
		fmt.Fprintf(os.Stdout, "  redis: %s:%d db=%d\n", cfg.Storage.Redis.Host, cfg.Storage.Redis.Port, cfg.Storage.Redis.DB)
	}

	bold.Fprintln(os.Stdout, "Logging:")
	fmt.Fprintf(os.Stdout, "  level: %s\n", cfg.Logging.Level)
	fmt.Fprintf(os.Stdout, "  format: %s\n", cfg.Logging.Format)

	bold.Fprintln(os.Stdout, "API:")
	fmt.Fprintf(os.Stdout, "  rate_limit_enabled: %t\n", cfg.API.RateLimit.Enabled)
	if cfg.API.RateLimit.Enabled {
		fmt.Fprintf(os.Stdout, "  requests_per_minute: %d\n", cfg.API.RateLimit.RequestsPerMinute)
		fmt.Fprintf(os.Stdout, "  burst: %d\n", cfg.API.RateLimit.Burst)
	}
	fmt.Fprintf(os.Stdout, "  stream_interval: %s\n", cfg.API.StreamInterval)

	bold.Fprintln(os.Stdout, "Devices:")
	for _, seed := range cfg.Devices.Seed {
		fmt.Fprintf(os.Stdout, "  %s (%s): %.2f MB/min\n", seed.ID, seed.Name, seed.MBPerMinute)
	}
}
