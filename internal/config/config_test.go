// internal/config/config_test.go
package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestLoadAppConfig(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "test-config.yaml")

	configContent := `
server:
  port: 9090
  host: "0.0.0.0"
  auth_token: "test-token-12345"
  allowed_origins:
    - "https://dash.example.com"

storage:
  driver: "sqlite"
  db_path: "/tmp/readings.db"
  retention_days: 90

cache:
  enabled: true
  backend: "memory"
  ttl:
    latest: 2m

fetcher:
  workers: 40
  batch_size: 25
  batch_cooldown: 2s
  request_timeout: 5s

source:
  base_url: "https://portal.example.edu/ykt/h5/eleresult"

catalog:
  path: "configs/catalog.toml"

schedule:
  interval: 30m

history:
  timezone: "UTC"

logging:
  level: "debug"
  format: "text"
`

	if err := os.WriteFile(configPath, []byte(configContent), 0644); err != nil {
		t.Fatalf("Failed to write test config: %v", err)
	}

	cfg, err := LoadAppConfig(configPath)
	if err != nil {
		t.Fatalf("LoadAppConfig failed: %v", err)
	}

	if cfg.Server.Port != 9090 {
		t.Errorf("Server.Port = %v, want 9090", cfg.Server.Port)
	}
	if len(cfg.Server.AllowedOrigins) != 1 {
		t.Errorf("Server.AllowedOrigins = %v, want 1 entry", cfg.Server.AllowedOrigins)
	}
	if cfg.Storage.RetentionDays != 90 {
		t.Errorf("Storage.RetentionDays = %v, want 90", cfg.Storage.RetentionDays)
	}
	if cfg.Cache.Backend != "memory" {
		t.Errorf("Cache.Backend = %v, want memory", cfg.Cache.Backend)
	}
	if cfg.Cache.TTL.Latest != 2*time.Minute {
		t.Errorf("Cache.TTL.Latest = %v, want 2m", cfg.Cache.TTL.Latest)
	}
	if cfg.Cache.TTL.History != 10*time.Minute {
		t.Errorf("Cache.TTL.History = %v, want default 10m", cfg.Cache.TTL.History)
	}
	if cfg.Fetcher.Workers != 40 {
		t.Errorf("Fetcher.Workers = %v, want 40", cfg.Fetcher.Workers)
	}
	if cfg.Fetcher.BatchCooldown != 2*time.Second {
		t.Errorf("Fetcher.BatchCooldown = %v, want 2s", cfg.Fetcher.BatchCooldown)
	}
	if cfg.Fetcher.MaxJitter != 200*time.Millisecond {
		t.Errorf("Fetcher.MaxJitter = %v, want default 200ms", cfg.Fetcher.MaxJitter)
	}
	if cfg.Schedule.Interval != 30*time.Minute {
		t.Errorf("Schedule.Interval = %v, want 30m", cfg.Schedule.Interval)
	}
	if cfg.Logging.Format != "text" {
		t.Errorf("Logging.Format = %v, want text", cfg.Logging.Format)
	}
}

func TestLoadAppConfig_MissingFile(t *testing.T) {
	_, err := LoadAppConfig(filepath.Join(t.TempDir(), "missing.yaml"))
	if err == nil {
		t.Fatal("expected error for missing file")
	}
}

func TestLoadAppConfig_InvalidYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.yaml")
	if err := os.WriteFile(path, []byte("server: [unterminated"), 0644); err != nil {
		t.Fatalf("Failed to write test config: %v", err)
	}
	if _, err := LoadAppConfig(path); err == nil {
		t.Fatal("expected error for invalid YAML")
	}
}

func TestAppConfig_ApplyDefaults(t *testing.T) {
	cfg := &AppConfig{}
	cfg.ApplyDefaults()

	if cfg.Server.Port != 8081 {
		t.Errorf("Default Server.Port = %v, want 8081", cfg.Server.Port)
	}
	if cfg.Storage.Driver != "sqlite" {
		t.Errorf("Default Storage.Driver = %v, want sqlite", cfg.Storage.Driver)
	}
	if cfg.Fetcher.Workers != 60 {
		t.Errorf("Default Fetcher.Workers = %v, want 60", cfg.Fetcher.Workers)
	}
	if cfg.Fetcher.BatchSize != 50 {
		t.Errorf("Default Fetcher.BatchSize = %v, want 50", cfg.Fetcher.BatchSize)
	}
	if cfg.Fetcher.BatchCooldown != 1500*time.Millisecond {
		t.Errorf("Default Fetcher.BatchCooldown = %v, want 1.5s", cfg.Fetcher.BatchCooldown)
	}
	if cfg.Fetcher.RequestTimeout != 8*time.Second {
		t.Errorf("Default Fetcher.RequestTimeout = %v, want 8s", cfg.Fetcher.RequestTimeout)
	}
	if cfg.Cache.TTL.LatestTime != 60*time.Second {
		t.Errorf("Default Cache.TTL.LatestTime = %v, want 60s", cfg.Cache.TTL.LatestTime)
	}
	if cfg.Cache.TTL.History != 10*time.Minute {
		t.Errorf("Default Cache.TTL.History = %v, want 10m", cfg.Cache.TTL.History)
	}
	if cfg.Logging.Level != "info" {
		t.Errorf("Default Logging.Level = %v, want info", cfg.Logging.Level)
	}
	if cfg.Schedule.Interval != 0 {
		t.Errorf("Default Schedule.Interval = %v, want 0 (disabled)", cfg.Schedule.Interval)
	}
}

func TestAppConfig_OverrideFromEnv(t *testing.T) {
	t.Setenv("SERVER_PORT", "9191")
	t.Setenv("SERVER_AUTH_TOKEN", "env-token-xyz")
	t.Setenv("DATABASE_URL", "postgres://user:pw@db/readings")
	t.Setenv("REDIS_ADDR", "redis:6380")
	t.Setenv("LOG_LEVEL", "debug")

	cfg := &AppConfig{
		Server:  ServerSettings{Port: 8081, AuthToken: "config-token"},
		Storage: StorageSettings{Driver: "sqlite"},
		Logging: LoggingConfig{Level: "info"},
	}

	cfg.OverrideFromEnv()

	if cfg.Server.Port != 9191 {
		t.Errorf("Server.Port = %v, want 9191", cfg.Server.Port)
	}
	if cfg.Server.AuthToken != "env-token-xyz" {
		t.Errorf("Server.AuthToken = %v", cfg.Server.AuthToken)
	}
	if cfg.Storage.Driver != "postgres" {
		t.Errorf("Storage.Driver = %v, want postgres", cfg.Storage.Driver)
	}
	if cfg.Storage.DSN != "postgres://user:pw@db/readings" {
		t.Errorf("Storage.DSN = %v", cfg.Storage.DSN)
	}
	if cfg.Cache.RedisAddr != "redis:6380" {
		t.Errorf("Cache.RedisAddr = %v, want redis:6380", cfg.Cache.RedisAddr)
	}
	if cfg.Logging.Level != "debug" {
		t.Errorf("Logging.Level = %v, want debug", cfg.Logging.Level)
	}
}

func TestAppConfig_OverrideFromEnv_BadPort(t *testing.T) {
	t.Setenv("SERVER_PORT", "not-a-port")

	cfg := &AppConfig{Server: ServerSettings{Port: 8081}}
	cfg.OverrideFromEnv()

	if cfg.Server.Port != 8081 {
		t.Errorf("Server.Port = %v, want unchanged 8081", cfg.Server.Port)
	}
}

func validConfig() AppConfig {
	cfg := AppConfig{
		Server:  ServerSettings{AuthToken: "token123"},
		Source:  SourceConfig{BaseURL: "https://portal.example.edu/eleresult"},
		History: HistoryConfig{Timezone: "UTC"},
	}
	cfg.ApplyDefaults()
	return cfg
}

func TestAppConfig_Validate(t *testing.T) {
	tests := []struct {
		name      string
		mutate    func(c *AppConfig)
		wantError bool
	}{
		{name: "valid config", mutate: func(c *AppConfig) {}},
		{name: "port out of range", mutate: func(c *AppConfig) { c.Server.Port = 70000 }, wantError: true},
		{name: "missing auth token", mutate: func(c *AppConfig) { c.Server.AuthToken = "" }, wantError: true},
		{name: "unknown driver", mutate: func(c *AppConfig) { c.Storage.Driver = "mysql" }, wantError: true},
		{name: "postgres without dsn", mutate: func(c *AppConfig) { c.Storage.Driver = "postgres" }, wantError: true},
		{name: "postgres with dsn", mutate: func(c *AppConfig) {
			c.Storage.Driver = "postgres"
			c.Storage.DSN = "postgres://localhost/db"
		}},
		{name: "negative retention", mutate: func(c *AppConfig) { c.Storage.RetentionDays = -1 }, wantError: true},
		{name: "unknown cache backend", mutate: func(c *AppConfig) {
			c.Cache.Enabled = true
			c.Cache.Backend = "memcached"
		}, wantError: true},
		{name: "too many workers", mutate: func(c *AppConfig) { c.Fetcher.Workers = 500 }, wantError: true},
		{name: "zero batch size", mutate: func(c *AppConfig) { c.Fetcher.BatchSize = -1 }, wantError: true},
		{name: "tiny request timeout", mutate: func(c *AppConfig) { c.Fetcher.RequestTimeout = time.Millisecond }, wantError: true},
		{name: "missing base url", mutate: func(c *AppConfig) { c.Source.BaseURL = "" }, wantError: true},
		{name: "schedule too frequent", mutate: func(c *AppConfig) { c.Schedule.Interval = 10 * time.Second }, wantError: true},
		{name: "bad timezone", mutate: func(c *AppConfig) { c.History.Timezone = "Mars/Olympus" }, wantError: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if tt.wantError && err == nil {
				t.Error("Validate() expected error, got nil")
			}
			if !tt.wantError && err != nil {
				t.Errorf("Validate() unexpected error: %v", err)
			}
		})
	}
}

func TestAppConfig_String_MasksSecrets(t *testing.T) {
	cfg := validConfig()
	cfg.Server.AuthToken = "secret-token-12345"
	cfg.Cache.RedisPassword = "hunter2-redis"
	cfg.Storage.DSN = "postgres://admin:pw@db/readings"

	str := cfg.String()

	if strings.Contains(str, "secret-token-12345") {
		t.Error("String() should mask auth token")
	}
	if !strings.Contains(str, "secr****") {
		t.Error("String() should contain masked token")
	}
	if strings.Contains(str, "hunter2-redis") {
		t.Error("String() should mask redis password")
	}
	if strings.Contains(str, "admin:pw") {
		t.Error("String() should mask dsn")
	}
}
