// Package config implements the addon's configuration: nested structs per
// concern, JSON-file-backed defaults with environment-variable overrides,
// and validation, modeled directly on the teacher's config/config.go.
package config

import (
	"encoding/json"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strconv"
)

// Config is the root configuration object.
type Config struct {
	Server      ServerConfig      `json:"server"`
	Redis       RedisConfig       `json:"redis"`
	Storage     StorageConfig     `json:"storage"`
	Providers   ProvidersConfig   `json:"providers"`
	Translation TranslationConfig `json:"translation"`
	Logging     LoggingConfig     `json:"logging"`
	Security    SecurityConfig    `json:"security"`
}

// SecurityConfig holds the HMAC secret used to validate and hash incoming
// configuration tokens (see ComputeConfigHash).
type SecurityConfig struct {
	ConfigTokenSecret string `json:"config_token_secret"`
}

// ServerConfig contains HTTP server configuration.
type ServerConfig struct {
	Host         string `json:"host"`
	Port         int    `json:"port"`
	ReadTimeout  int    `json:"read_timeout"`
	WriteTimeout int    `json:"write_timeout"`
	IdleTimeout  int    `json:"idle_timeout"`
	EnableCORS   bool   `json:"enable_cors"`
	// RateLimitPerMinute caps requests per client IP across a one-minute
	// sliding window (internal/middleware.RateLimiter). 0 disables the
	// limiter, e.g. for local development against a single caller.
	RateLimitPerMinute int `json:"rate_limit_per_minute"`
}

// RedisConfig contains the distributed storage/coordination backend
// configuration. Addr empty means "no Redis": the Storage Adapter falls
// back to the filesystem and the Login Coordinator degrades to local-only
// throttling (spec §4.5/§4.10).
type RedisConfig struct {
	Addr     string `json:"addr"`
	Password string `json:"password"`
	DB       int    `json:"db"`
}

// StorageConfig mirrors submaker/internal/storage.Config plus the size
// caps spec §6 assigns per backend.
type StorageConfig struct {
	BaseDir           string `json:"base_dir"`
	IsolationKey      string `json:"isolation_key"`
	EncryptionKeyHash string `json:"encryption_key_hash"`
	RedisCapBytes     int64  `json:"redis_cap_bytes"`
	FilesystemCapBytes int64 `json:"filesystem_cap_bytes"`
	// PostgresDSN, when set, directs the session/analytics store
	// (internal/session) at PostgreSQL instead of the local SQLCipher
	// file, mirroring the teacher's database.DialectFor sqlite/postgres
	// switch.
	PostgresDSN string `json:"postgres_dsn"`
}

// ProvidersConfig lists which upstream providers are enabled and their
// per-provider API credentials/headers.
type ProvidersConfig struct {
	Enabled              []string          `json:"enabled"`
	DefaultTimeoutMs     int               `json:"default_timeout_ms"`
	MaxConcurrent        int               `json:"max_concurrent"`
	OpenSubtitlesAPIKey  string            `json:"opensubtitles_api_key"`
	OpenSubtitlesUser    string            `json:"opensubtitles_username"`
	OpenSubtitlesPass    string            `json:"opensubtitles_password"`
}

// TranslationConfig tunes the Translation Cache & Singleflight policy
// (spec §4.8 Open Question: bypass/permanent write policy).
type TranslationConfig struct {
	AllowPermanentFallback              bool `json:"allow_permanent_fallback"`
	RequireConfigHashForPermanentWrites bool `json:"require_config_hash_for_permanent_writes"`
	LivenessTimeoutSeconds              int  `json:"liveness_timeout_seconds"`
}

// LoggingConfig contains zap logger configuration.
type LoggingConfig struct {
	Level  string `json:"level"`
	Format string `json:"format"`
	Output string `json:"output"`
}

// LoadConfig loads configuration from configPath, creating a default file
// on first run, then applies environment overrides and validates.
func LoadConfig(configPath string) (*Config, error) {
	cfg := defaultConfig()

	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		if err := saveConfig(cfg, configPath); err != nil {
			return nil, fmt.Errorf("config: create default config: %w", err)
		}
		applyEnvOverrides(cfg)
		if err := validate(cfg); err != nil {
			return nil, fmt.Errorf("config: invalid default configuration: %w", err)
		}
		return cfg, nil
	}

	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("config: read config file: %w", err)
	}
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("config: parse config file: %w", err)
	}

	applyEnvOverrides(cfg)
	if err := validate(cfg); err != nil {
		return nil, fmt.Errorf("config: invalid configuration: %w", err)
	}
	return cfg, nil
}

func defaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Host: "0.0.0.0", Port: 7979,
			ReadTimeout: 30, WriteTimeout: 30, IdleTimeout: 120,
			EnableCORS:         true,
			RateLimitPerMinute: 300,
		},
		Redis: RedisConfig{Addr: "", DB: 0},
		Storage: StorageConfig{
			BaseDir:            "./data",
			RedisCapBytes:      250 * 1024 * 1024,
			FilesystemCapBytes: 5 * 1024 * 1024 * 1024,
		},
		Providers: ProvidersConfig{
			Enabled:          []string{"opensubtitles-v3", "subdl", "yifysubtitles", "subscene", "addic7ed"},
			DefaultTimeoutMs: 20000,
			MaxConcurrent:    8,
		},
		Translation: TranslationConfig{
			AllowPermanentFallback:              false,
			RequireConfigHashForPermanentWrites: false,
			LivenessTimeoutSeconds:              30,
		},
		Logging:  LoggingConfig{Level: "info", Format: "json", Output: "stdout"},
		Security: SecurityConfig{ConfigTokenSecret: "change-me-in-production"},
	}
}

// applyEnvOverrides lets deployment-specific secrets and endpoints be
// supplied outside the checked-in config file, matching the teacher's
// DATABASE_*/JWT_SECRET override pattern.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("REDIS_ADDR"); v != "" {
		cfg.Redis.Addr = v
	}
	if v := os.Getenv("REDIS_PASSWORD"); v != "" {
		cfg.Redis.Password = v
	}
	if v := os.Getenv("REDIS_DB"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Redis.DB = n
		}
	}
	if v := os.Getenv("SUBMAKER_ISOLATION_KEY"); v != "" {
		cfg.Storage.IsolationKey = v
	}
	if v := os.Getenv("SUBMAKER_ENCRYPTION_KEY_HASH"); v != "" {
		cfg.Storage.EncryptionKeyHash = v
	}
	if v := os.Getenv("OPENSUBTITLES_API_KEY"); v != "" {
		cfg.Providers.OpenSubtitlesAPIKey = v
	}
	if v := os.Getenv("OPENSUBTITLES_USERNAME"); v != "" {
		cfg.Providers.OpenSubtitlesUser = v
	}
	if v := os.Getenv("OPENSUBTITLES_PASSWORD"); v != "" {
		cfg.Providers.OpenSubtitlesPass = v
	}
	if v := os.Getenv("SUBMAKER_PORT"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Server.Port = n
		}
	}
	if v := os.Getenv("SUBMAKER_RATE_LIMIT_PER_MINUTE"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Server.RateLimitPerMinute = n
		}
	}
	if v := os.Getenv("SUBMAKER_CONFIG_TOKEN_SECRET"); v != "" {
		cfg.Security.ConfigTokenSecret = v
	}
	if v := os.Getenv("SUBMAKER_POSTGRES_DSN"); v != "" {
		cfg.Storage.PostgresDSN = v
	}
}

func validate(cfg *Config) error {
	if cfg.Server.Port <= 0 || cfg.Server.Port > 65535 {
		return fmt.Errorf("config: invalid server port: %d", cfg.Server.Port)
	}
	if len(cfg.Providers.Enabled) == 0 {
		return fmt.Errorf("config: at least one provider must be enabled")
	}
	if cfg.Providers.DefaultTimeoutMs < 1000 {
		return fmt.Errorf("config: provider timeout too small: %dms", cfg.Providers.DefaultTimeoutMs)
	}
	if cfg.Storage.BaseDir == "" {
		return fmt.Errorf("config: storage base_dir must not be empty")
	}
	if cfg.Server.RateLimitPerMinute < 0 {
		return fmt.Errorf("config: rate_limit_per_minute must not be negative")
	}
	return nil
}

func saveConfig(cfg *Config, configPath string) error {
	dir := filepath.Dir(configPath)
	if dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("config: create config directory: %w", err)
		}
	}
	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return fmt.Errorf("config: marshal config: %w", err)
	}
	return os.WriteFile(configPath, data, 0o600)
}

// GetServerAddress returns the host:port string for http.Server.Addr.
func (c *Config) GetServerAddress() string {
	return net.JoinHostPort(c.Server.Host, strconv.Itoa(c.Server.Port))
}
