package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// AppConfig holds all configuration for the balance monitor
type AppConfig struct {
	Server   ServerSettings  `yaml:"server"`
	Storage  StorageSettings `yaml:"storage"`
	Cache    CacheSettings   `yaml:"cache"`
	Fetcher  FetcherConfig   `yaml:"fetcher"`
	Source   SourceConfig    `yaml:"source"`
	Catalog  CatalogConfig   `yaml:"catalog"`
	Schedule ScheduleConfig  `yaml:"schedule"`
	History  HistoryConfig   `yaml:"history"`
	Logging  LoggingConfig   `yaml:"logging"`
}

// ServerSettings contains HTTP server configuration
type ServerSettings struct {
	Port           int           `yaml:"port"`
	Host           string        `yaml:"host"`
	AuthToken      string        `yaml:"auth_token"`
	ReadTimeout    time.Duration `yaml:"read_timeout"`
	WriteTimeout   time.Duration `yaml:"write_timeout"`
	AllowedOrigins []string      `yaml:"allowed_origins"`
}

// StorageSettings contains time-series store configuration
type StorageSettings struct {
	Driver        string        `yaml:"driver"` // "sqlite" or "postgres"
	DBPath        string        `yaml:"db_path"`
	DSN           string        `yaml:"dsn"`
	RetentionDays int           `yaml:"retention_days"` // 0 disables the cleaner
	CleanupPeriod time.Duration `yaml:"cleanup_period"`
}

// CacheSettings configures the read-path cache
type CacheSettings struct {
	Enabled       bool      `yaml:"enabled"`
	Backend       string    `yaml:"backend"` // "redis" or "memory"
	RedisAddr     string    `yaml:"redis_addr"`
	RedisPassword string    `yaml:"redis_password"`
	RedisDB       int       `yaml:"redis_db"`
	TTL           CacheTTLs `yaml:"ttl"`
}

// CacheTTLs holds per-operation cache lifetimes
type CacheTTLs struct {
	LatestTime   time.Duration `yaml:"latest_time"`
	Latest       time.Duration `yaml:"latest"`
	Runs         time.Duration `yaml:"runs"`
	Buildings    time.Duration `yaml:"buildings"`
	HistoryTimes time.Duration `yaml:"history_times"`
	History      time.Duration `yaml:"history"`
	RoomHistory  time.Duration `yaml:"room_history"`
}

// FetcherConfig controls batch acquisition pacing
type FetcherConfig struct {
	Workers        int           `yaml:"workers"`
	BatchSize      int           `yaml:"batch_size"`
	BatchCooldown  time.Duration `yaml:"batch_cooldown"`
	MaxJitter      time.Duration `yaml:"max_jitter"`
	RequestTimeout time.Duration `yaml:"request_timeout"`
	ProgressBuffer int           `yaml:"progress_buffer"`
}

// SourceConfig describes the remote portal
type SourceConfig struct {
	BaseURL   string `yaml:"base_url"`
	UserAgent string `yaml:"user_agent"`
	Label     string `yaml:"label"`
}

// CatalogConfig points at the room catalog
type CatalogConfig struct {
	Path string `yaml:"path"`
}

// ScheduleConfig controls periodic acquisition
type ScheduleConfig struct {
	Interval     time.Duration `yaml:"interval"` // 0 disables the scheduler
	RunOnStartup bool          `yaml:"run_on_startup"`
}

// HistoryConfig controls how time identifiers are interpreted
type HistoryConfig struct {
	Timezone string `yaml:"timezone"`
}

// LoggingConfig contains logging settings
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"` // "json" or "text"
}

// LoadAppConfig loads configuration from a YAML file
func LoadAppConfig(path string) (*AppConfig, error) {
	yamlData, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}
	var config AppConfig
	if err := yaml.Unmarshal(yamlData, &config); err != nil {
		return nil, fmt.Errorf("unmarshal config file: %w", err)
	}
	config.ApplyDefaults()
	config.OverrideFromEnv()
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}
	return &config, nil
}

// ApplyDefaults sets default values for any unset fields
func (ac *AppConfig) ApplyDefaults() {
	if ac.Server.Port == 0 {
		ac.Server.Port = 8081
	}
	if ac.Server.Host == "" {
		ac.Server.Host = "localhost"
	}
	if ac.Server.ReadTimeout == 0 {
		ac.Server.ReadTimeout = 60 * time.Second
	}
	if ac.Server.WriteTimeout == 0 {
		ac.Server.WriteTimeout = 10 * time.Second
	}

	if ac.Storage.Driver == "" {
		ac.Storage.Driver = "sqlite"
	}
	if ac.Storage.DBPath == "" {
		ac.Storage.DBPath = "./data/balance-monitor.db"
	}
	if ac.Storage.CleanupPeriod == 0 {
		ac.Storage.CleanupPeriod = 1 * time.Hour
	}

	if ac.Cache.Backend == "" {
		ac.Cache.Backend = "redis"
	}
	if ac.Cache.RedisAddr == "" {
		ac.Cache.RedisAddr = "localhost:6379"
	}
	ttl := &ac.Cache.TTL
	if ttl.LatestTime == 0 {
		ttl.LatestTime = 60 * time.Second
	}
	if ttl.Latest == 0 {
		ttl.Latest = 5 * time.Minute
	}
	if ttl.Runs == 0 {
		ttl.Runs = 5 * time.Minute
	}
	if ttl.Buildings == 0 {
		ttl.Buildings = 10 * time.Minute
	}
	if ttl.HistoryTimes == 0 {
		ttl.HistoryTimes = 5 * time.Minute
	}
	if ttl.History == 0 {
		ttl.History = 10 * time.Minute
	}
	if ttl.RoomHistory == 0 {
		ttl.RoomHistory = 10 * time.Minute
	}

	if ac.Fetcher.Workers == 0 {
		ac.Fetcher.Workers = 60
	}
	if ac.Fetcher.BatchSize == 0 {
		ac.Fetcher.BatchSize = 50
	}
	if ac.Fetcher.BatchCooldown == 0 {
		ac.Fetcher.BatchCooldown = 1500 * time.Millisecond
	}
	if ac.Fetcher.MaxJitter == 0 {
		ac.Fetcher.MaxJitter = 200 * time.Millisecond
	}
	if ac.Fetcher.RequestTimeout == 0 {
		ac.Fetcher.RequestTimeout = 8 * time.Second
	}
	if ac.Fetcher.ProgressBuffer == 0 {
		ac.Fetcher.ProgressBuffer = 256
	}

	if ac.Source.Label == "" {
		ac.Source.Label = "剩余电量"
	}
	if ac.Source.UserAgent == "" {
		ac.Source.UserAgent = "room-balance-monitor/1.0"
	}

	if ac.Catalog.Path == "" {
		ac.Catalog.Path = "configs/catalog.toml"
	}
	if ac.History.Timezone == "" {
		ac.History.Timezone = "Local"
	}
	if ac.Logging.Level == "" {
		ac.Logging.Level = "info"
	}
	if ac.Logging.Format == "" {
		ac.Logging.Format = "json"
	}
}

// OverrideFromEnv overrides config values from environment variables.
// Only non-empty variables take effect.
func (ac *AppConfig) OverrideFromEnv() {
	if v := os.Getenv("SERVER_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			ac.Server.Port = port
		}
	}
	if v := os.Getenv("SERVER_HOST"); v != "" {
		ac.Server.Host = v
	}
	if v := os.Getenv("SERVER_AUTH_TOKEN"); v != "" {
		ac.Server.AuthToken = v
	}
	if v := os.Getenv("DATABASE_URL"); v != "" {
		ac.Storage.Driver = "postgres"
		ac.Storage.DSN = v
	}
	if v := os.Getenv("DB_PATH"); v != "" {
		ac.Storage.DBPath = v
	}
	if v := os.Getenv("REDIS_ADDR"); v != "" {
		ac.Cache.RedisAddr = v
	}
	if v := os.Getenv("REDIS_PASSWORD"); v != "" {
		ac.Cache.RedisPassword = v
	}
	if v := os.Getenv("PORTAL_BASE_URL"); v != "" {
		ac.Source.BaseURL = v
	}
	if v := os.Getenv("CATALOG_PATH"); v != "" {
		ac.Catalog.Path = v
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		ac.Logging.Level = v
	}
}

// Validate checks if the configuration is valid
func (ac *AppConfig) Validate() error {
	if ac.Server.Port < 1 || ac.Server.Port > 65535 {
		return fmt.Errorf("port must be between 1 and 65535")
	}
	if ac.Server.AuthToken == "" {
		return fmt.Errorf("auth token is required")
	}

	switch ac.Storage.Driver {
	case "sqlite":
		if ac.Storage.DBPath == "" {
			return fmt.Errorf("sqlite storage requires db_path")
		}
	case "postgres":
		if ac.Storage.DSN == "" {
			return fmt.Errorf("postgres storage requires dsn")
		}
	default:
		return fmt.Errorf("unknown storage driver %q", ac.Storage.Driver)
	}
	if ac.Storage.RetentionDays < 0 {
		return fmt.Errorf("retention days must not be negative")
	}

	if ac.Cache.Enabled && ac.Cache.Backend != "redis" && ac.Cache.Backend != "memory" {
		return fmt.Errorf("unknown cache backend %q", ac.Cache.Backend)
	}

	if ac.Fetcher.Workers < 1 || ac.Fetcher.Workers > 200 {
		return fmt.Errorf("fetcher workers must be between 1 and 200")
	}
	if ac.Fetcher.BatchSize < 1 {
		return fmt.Errorf("fetcher batch size must be at least 1")
	}
	if ac.Fetcher.RequestTimeout < 100*time.Millisecond {
		return fmt.Errorf("fetcher request timeout must be at least 100ms")
	}
	if ac.Fetcher.BatchCooldown < 0 || ac.Fetcher.MaxJitter < 0 {
		return fmt.Errorf("fetcher cooldown and jitter must not be negative")
	}

	if ac.Source.BaseURL == "" {
		return fmt.Errorf("source base url is required")
	}
	if ac.Catalog.Path == "" {
		return fmt.Errorf("catalog path is required")
	}
	if ac.Schedule.Interval < 0 {
		return fmt.Errorf("schedule interval must not be negative")
	}
	if ac.Schedule.Interval > 0 && ac.Schedule.Interval < time.Minute {
		return fmt.Errorf("schedule interval must be at least 1 minute")
	}
	if _, err := ac.Location(); err != nil {
		return fmt.Errorf("invalid history timezone: %w", err)
	}
	return nil
}

// Location returns the time zone used to interpret time identifiers
func (ac *AppConfig) Location() (*time.Location, error) {
	return time.LoadLocation(ac.History.Timezone)
}

// String returns a safe string representation (hides secrets)
func (ac *AppConfig) String() string {
	server := ac.Server
	server.AuthToken = maskToken(server.AuthToken)
	storage := ac.Storage
	if storage.DSN != "" {
		storage.DSN = maskToken(storage.DSN)
	}
	cache := ac.Cache
	if cache.RedisPassword != "" {
		cache.RedisPassword = maskToken(cache.RedisPassword)
	}
	return fmt.Sprintf("AppConfig{Server: %+v, Storage: %+v, Cache: %+v, Fetcher: %+v, Source: %+v, Catalog: %+v, Schedule: %+v, Logging: %+v}",
		server,
		storage,
		cache,
		ac.Fetcher,
		ac.Source,
		ac.Catalog,
		ac.Schedule,
		ac.Logging,
	)
}

// maskToken masks all but first 4 characters of a token
func maskToken(token string) string {
	if len(token) <= 4 {
		return "****"
	}
	return token[:4] + "****"
}
