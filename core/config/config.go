package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v3"
)

// HTTPConfig holds the webhook listener settings.
type HTTPConfig struct {
	Listen string `yaml:"listen" envconfig:"HTTP_LISTEN"`
	Port   int    `yaml:"port" envconfig:"HTTP_PORT"`
	// PublicURL is the externally reachable base URL used when registering webhooks.
	PublicURL string `yaml:"public_url" envconfig:"HTTP_PUBLIC_URL"`
	// AdminToken guards the webhook enable/disable endpoints; empty disables them.
	AdminToken     string `yaml:"admin_token" envconfig:"HTTP_ADMIN_TOKEN"`
	ReadTimeoutMS  int    `yaml:"read_timeout_ms" envconfig:"HTTP_READ_TIMEOUT_MS"`
	WriteTimeoutMS int    `yaml:"write_timeout_ms" envconfig:"HTTP_WRITE_TIMEOUT_MS"`
}

// LoggingConfig defines logging related configuration.
type LoggingConfig struct {
	Level       string `yaml:"level" envconfig:"LOG_LEVEL"`
	Format      string `yaml:"format" envconfig:"LOG_FORMAT"`
	KeysOrder   string `yaml:"keys_order"`
	DebugSample string `yaml:"debug_sample"`
	Dir         string `yaml:"dir"`
	File        string `yaml:"file"`
	// Profile indicates environment profile such as "debug" or "prod".
	Profile string `yaml:"profile" envconfig:"LOG_PROFILE"`
}

// RateLimitConfig bounds inbound webhook calls per messenger.
// RPS <= 0 disables limiting.
type RateLimitConfig struct {
	RPS   float64 `yaml:"rps" envconfig:"RATE_LIMIT_RPS"`
	Burst int     `yaml:"burst" envconfig:"RATE_LIMIT_BURST"`
}

// DispatchConfig tunes the routing engine.
type DispatchConfig struct {
	ProfileRefreshTimeoutMS int  `yaml:"profile_refresh_timeout_ms" envconfig:"DISPATCH_PROFILE_REFRESH_TIMEOUT_MS"`
	AsyncProfileRefresh     bool `yaml:"async_profile_refresh" envconfig:"DISPATCH_ASYNC_PROFILE_REFRESH"`
	Workers                 int  `yaml:"workers" envconfig:"DISPATCH_WORKERS"`
	QueueSize               int  `yaml:"queue_size" envconfig:"DISPATCH_QUEUE_SIZE"`
	// KeyboardText is sent with keyboard-only payloads on backends that require text.
	KeyboardText string `yaml:"keyboard_text" envconfig:"DISPATCH_KEYBOARD_TEXT"`
	// AllowUnsignedViber accepts Viber callbacks without a signature header.
	// Meant for replaying captured traffic only.
	AllowUnsignedViber bool `yaml:"allow_unsigned_viber" envconfig:"DISPATCH_ALLOW_UNSIGNED_VIBER"`
}

// StorageConfig selects the persistence backend.
type StorageConfig struct {
	Driver string `yaml:"driver" envconfig:"STORAGE_DRIVER"`
	// MigrationsDir overrides the embedded migrations with scripts on disk.
	MigrationsDir string `yaml:"migrations_dir" envconfig:"STORAGE_MIGRATIONS_DIR"`
}

// SeedConfig points at an optional YAML file with messengers, menus and buttons.
type SeedConfig struct {
	Path string `yaml:"path" envconfig:"SEED_PATH"`
}

const (
	// StorageMemory keeps all state in process memory.
	StorageMemory = "memory"
	// StoragePostgres persists state in PostgreSQL.
	StoragePostgres = "postgres"
)

const (
	defaultPort                  = 8080
	defaultProfileRefreshTimeout = 3000
	defaultReadTimeoutMS         = 10000
	defaultWriteTimeoutMS        = 15000
	defaultKeyboardText          = "⬇️"
)

// Config aggregates the configuration that belongs to the reusable core.
type Config struct {
	HTTP      HTTPConfig      `yaml:"http"`
	Logging   LoggingConfig   `yaml:"logging"`
	RateLimit RateLimitConfig `yaml:"rate_limit"`
	Dispatch  DispatchConfig  `yaml:"dispatch"`
	Storage   StorageConfig   `yaml:"storage"`
	Seed      SeedConfig      `yaml:"seed"`
	// SnowflakeNode identifies this instance for id generation.
	SnowflakeNode int64 `yaml:"snowflake_node" envconfig:"SNOWFLAKE_NODE"`
}

// Load reads configuration from a YAML file and environment variables.
func Load(path string) (*Config, error) {
	var cfg Config
	if err := LoadInto(path, &cfg); err != nil {
		return nil, err
	}
	if err := Normalize(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// LoadInto decodes YAML from path into dst and overlays environment variables.
// dst may be any struct embedding Config so that applications can extend it.
func LoadInto(path string, dst any) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, dst); err != nil {
		return fmt.Errorf("failed to parse YAML config: %w", err)
	}
	if err := envconfig.Process("", dst); err != nil {
		return fmt.Errorf("failed to process env: %w", err)
	}
	return nil
}

// Normalize performs basic validation of required configuration fields and adjusts defaults.
func Normalize(cfg *Config) error {
	if cfg == nil {
		return fmt.Errorf("nil config")
	}

	if cfg.HTTP.Port == 0 {
		cfg.HTTP.Port = defaultPort
	}
	if cfg.HTTP.Port < 0 || cfg.HTTP.Port > 65535 {
		return fmt.Errorf("http.port must be within 1..65535")
	}
	cfg.HTTP.PublicURL = strings.TrimRight(strings.TrimSpace(cfg.HTTP.PublicURL), "/")
	if cfg.HTTP.PublicURL != "" && !strings.HasPrefix(cfg.HTTP.PublicURL, "https://") && !strings.HasPrefix(cfg.HTTP.PublicURL, "http://") {
		return fmt.Errorf("http.public_url must start with http:// or https://")
	}
	if cfg.HTTP.ReadTimeoutMS <= 0 {
		cfg.HTTP.ReadTimeoutMS = defaultReadTimeoutMS
	}
	if cfg.HTTP.WriteTimeoutMS <= 0 {
		cfg.HTTP.WriteTimeoutMS = defaultWriteTimeoutMS
	}

	if cfg.RateLimit.RPS < 0 {
		return fmt.Errorf("rate_limit.rps must be >= 0")
	}
	if cfg.RateLimit.RPS > 0 && cfg.RateLimit.Burst <= 0 {
		cfg.RateLimit.Burst = int(cfg.RateLimit.RPS) + 1
	}

	if cfg.Dispatch.ProfileRefreshTimeoutMS < 0 {
		return fmt.Errorf("dispatch.profile_refresh_timeout_ms must be >= 0")
	}
	if cfg.Dispatch.ProfileRefreshTimeoutMS == 0 {
		cfg.Dispatch.ProfileRefreshTimeoutMS = defaultProfileRefreshTimeout
	}
	if cfg.Dispatch.Workers < 0 || cfg.Dispatch.QueueSize < 0 {
		return fmt.Errorf("dispatch.workers and dispatch.queue_size must be >= 0")
	}
	if strings.TrimSpace(cfg.Dispatch.KeyboardText) == "" {
		cfg.Dispatch.KeyboardText = defaultKeyboardText
	}

	driver := strings.ToLower(strings.TrimSpace(cfg.Storage.Driver))
	if driver == "" {
		driver = StoragePostgres
	}
	if driver == "pg" || driver == "postgresql" { // accept alias
		driver = StoragePostgres
	}
	switch driver {
	case StoragePostgres, StorageMemory:
		cfg.Storage.MigrationsDir = strings.TrimSpace(cfg.Storage.MigrationsDir)
	default:
		return fmt.Errorf("invalid storage.driver %q; allowed: postgres, memory", cfg.Storage.Driver)
	}
	cfg.Storage.Driver = driver

	if cfg.SnowflakeNode < 0 || cfg.SnowflakeNode > 1023 {
		return fmt.Errorf("snowflake_node must be within 0..1023")
	}
	return nil
}

// ProfileRefreshTimeout returns the profile refresh budget as a duration.
func (c DispatchConfig) ProfileRefreshTimeout() time.Duration {
	return time.Duration(c.ProfileRefreshTimeoutMS) * time.Millisecond
}

// Addr returns the listen address in host:port form.
func (c HTTPConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Listen, c.Port)
}
