package config

import (
	"os"
	"path/filepath"
	"testing"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("failed to write config file: %v", err)
	}
	return path
}

func TestLoadDefaults(t *testing.T) {
	path := writeConfig(t, "")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Server.HTTPPort != 8080 {
		t.Errorf("http_port = %d, want 8080", cfg.Server.HTTPPort)
	}
	if cfg.Storage.Type != "memory" {
		t.Errorf("storage type = %s, want memory", cfg.Storage.Type)
	}
	if cfg.Logging.Level != "info" || cfg.Logging.Format != "json" {
		t.Errorf("logging = %+v", cfg.Logging)
	}
	if !cfg.API.RateLimit.Enabled || cfg.API.RateLimit.RequestsPerMinute != 300 {
		t.Errorf("rate limit = %+v", cfg.API.RateLimit)
	}
	if len(cfg.Devices.Seed) != 3 {
		t.Fatalf("seed count = %d, want 3", len(cfg.Devices.Seed))
	}
	if cfg.Devices.Seed[0].ID != "dev-a" || cfg.Devices.Seed[0].MBPerMinute != 3 {
		t.Errorf("seed[0] = %+v", cfg.Devices.Seed[0])
	}
}

func TestLoadOverrides(t *testing.T) {
	path := writeConfig(t, `
server:
  http_port: 9000
storage:
  type: sqlite
  sqlite:
    path: /tmp/test.db
logging:
  level: debug
  format: text
devices:
  seed:
    - id: tablet
      name: Tablet
      mb_per_minute: 1.5
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Server.HTTPPort != 9000 {
		t.Errorf("http_port = %d, want 9000", cfg.Server.HTTPPort)
	}
	if cfg.Storage.Type != "sqlite" || cfg.Storage.SQLite.Path != "/tmp/test.db" {
		t.Errorf("storage = %+v", cfg.Storage)
	}
	if cfg.Logging.Level != "debug" || cfg.Logging.Format != "text" {
		t.Errorf("logging = %+v", cfg.Logging)
	}
	if len(cfg.Devices.Seed) != 1 || cfg.Devices.Seed[0].MBPerMinute != 1.5 {
		t.Errorf("seed = %+v", cfg.Devices.Seed)
	}
}

func TestValidate(t *testing.T) {
	base := func() *Config {
		return &Config{
			Server:  ServerConfig{BindAddress: "0.0.0.0", HTTPPort: 8080, MetricsPort: 9090},
			Storage: StorageConfig{Type: "memory"},
			Logging: LoggingConfig{Level: "info", Format: "json"},
			API:     APIConfig{StreamInterval: "1s"},
			Devices: DevicesConfig{Seed: []DeviceSeed{{ID: "dev-a", Name: "A", MBPerMinute: 3}}},
		}
	}

	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{"valid", func(c *Config) {}, false},
		{"bad http port", func(c *Config) { c.Server.HTTPPort = 0 }, true},
		{"bad metrics port", func(c *Config) { c.Server.MetricsPort = 70000 }, true},
		{"unknown storage", func(c *Config) { c.Storage.Type = "bolt" }, true},
		{"sqlite without path", func(c *Config) { c.Storage.Type = "sqlite" }, true},
		{"redis without host", func(c *Config) { c.Storage.Type = "redis" }, true},
		{"unknown log level", func(c *Config) { c.Logging.Level = "chatty" }, true},
		{"bad stream interval", func(c *Config) { c.API.StreamInterval = "soon" }, true},
		{"empty seed", func(c *Config) { c.Devices.Seed = nil }, true},
		{"seed missing id", func(c *Config) { c.Devices.Seed[0].ID = "" }, true},
		{"seed zero rate", func(c *Config) { c.Devices.Seed[0].MBPerMinute = 0 }, true},
		{"duplicate seed ids", func(c *Config) {
			c.Devices.Seed = append(c.Devices.Seed, DeviceSeed{ID: "dev-a", Name: "Dup", MBPerMinute: 1})
		}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := base()
			tt.mutate(cfg)
			err := Validate(cfg)
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr = %t", err, tt.wantErr)
			}
		})
	}
}
