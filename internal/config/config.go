// Package config loads and validates service configuration via Viper.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/pagelens/pagelens/internal/render/readiness"
)

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Auth      AuthConfig      `mapstructure:"auth"`
	Logging   LoggingConfig   `mapstructure:"logging"`
	Pool      PoolConfig      `mapstructure:"pool"`
	Admission AdmissionConfig `mapstructure:"admission"`
	Cache     CacheConfig     `mapstructure:"cache"`
	Memory    MemoryConfig    `mapstructure:"memory"`
	Idle      IdleConfig      `mapstructure:"idle"`
	Browser   BrowserConfig   `mapstructure:"browser"`
	Render    RenderConfig    `mapstructure:"render"`
	Readiness ReadinessConfig `mapstructure:"readiness"`
	Archive   ArchiveConfig   `mapstructure:"archive"`
}

// ServerConfig controls HTTP server behavior.
type ServerConfig struct {
	Port int `mapstructure:"port"`
}

// AuthConfig defines API authentication toggles.
type AuthConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	APIKey  string `mapstructure:"api_key"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool `mapstructure:"development"`
}

// PoolConfig sizes the browser instance pool.
type PoolConfig struct {
	Capacity              int `mapstructure:"capacity"`
	AcquireTimeoutSeconds int `mapstructure:"acquire_timeout_seconds"`
	CreateTimeoutSeconds  int `mapstructure:"create_timeout_seconds"`
	CreateRetries         int `mapstructure:"create_retries"`
	CreateBackoffSeconds  int `mapstructure:"create_backoff_seconds"`
	CloseTimeoutSeconds   int `mapstructure:"close_timeout_seconds"`
}

// AdmissionConfig bounds concurrent capture workflows.
type AdmissionConfig struct {
	MaxConcurrent      int `mapstructure:"max_concurrent"`
	WaitTimeoutSeconds int `mapstructure:"wait_timeout_seconds"`
}

// CacheConfig controls result memoization.
type CacheConfig struct {
	TTLSeconds int `mapstructure:"ttl_seconds"`
}

// MemoryConfig tunes the memory governor.
type MemoryConfig struct {
	ThresholdMB     int `mapstructure:"threshold_mb"`
	DebounceSeconds int `mapstructure:"debounce_seconds"`
}

// IdleConfig controls idle teardown.
type IdleConfig struct {
	TimeoutSeconds int `mapstructure:"timeout_seconds"`
}

// BrowserConfig configures launched Chrome processes.
type BrowserConfig struct {
	UserAgent         string `mapstructure:"user_agent"`
	NavTimeoutSeconds int    `mapstructure:"nav_timeout_seconds"`
}

// RenderConfig tunes the per-request pipeline.
type RenderConfig struct {
	BudgetSeconds          int     `mapstructure:"budget_seconds"`
	StabilitySeconds       int     `mapstructure:"stability_seconds"`
	CriticalTimeoutSeconds int     `mapstructure:"critical_timeout_seconds"`
	HostQPS                float64 `mapstructure:"host_qps"`
}

// ReadinessConfig holds the selector tables for the readiness detector.
type ReadinessConfig struct {
	ConsentSelectors  []string                 `mapstructure:"consent_selectors"`
	CriticalSelectors []string                 `mapstructure:"critical_selectors"`
	Sites             []readiness.SiteOverride `mapstructure:"sites"`
}

// ArchiveConfig controls the optional local capture archive.
type ArchiveConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	BaseDir string `mapstructure:"base_dir"`
}

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("PAGELENS")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("logging.development", true)
	v.SetDefault("pool.capacity", 2)
	v.SetDefault("pool.acquire_timeout_seconds", 90)
	v.SetDefault("pool.create_timeout_seconds", 60)
	v.SetDefault("pool.create_retries", 3)
	v.SetDefault("pool.create_backoff_seconds", 2)
	v.SetDefault("pool.close_timeout_seconds", 5)
	v.SetDefault("admission.max_concurrent", 4)
	v.SetDefault("admission.wait_timeout_seconds", 120)
	v.SetDefault("cache.ttl_seconds", 300)
	v.SetDefault("memory.threshold_mb", 512)
	v.SetDefault("memory.debounce_seconds", 30)
	v.SetDefault("idle.timeout_seconds", 600)
	v.SetDefault("browser.user_agent", "pagelens/1.0 (+https://github.com/pagelens/pagelens)")
	v.SetDefault("browser.nav_timeout_seconds", 30)
	v.SetDefault("render.budget_seconds", 40)
	v.SetDefault("render.stability_seconds", 15)
	v.SetDefault("render.critical_timeout_seconds", 20)
	v.SetDefault("render.host_qps", 0.0)
	v.SetDefault("readiness.consent_selectors", []string{
		"#onetrust-accept-btn-handler",
		"button[aria-label='Accept all']",
		"button[mode='primary']",
		".cookie-accept",
	})
	v.SetDefault("readiness.critical_selectors", []string{"main", "article", "#content"})
	v.SetDefault("archive.enabled", false)
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Server.Port <= 0 {
		return fmt.Errorf("server.port must be > 0")
	}
	if c.Pool.Capacity <= 0 {
		return fmt.Errorf("pool.capacity must be > 0")
	}
	if c.Admission.MaxConcurrent <= 0 {
		return fmt.Errorf("admission.max_concurrent must be > 0")
	}
	if c.Pool.AcquireTimeoutSeconds <= c.Pool.CreateTimeoutSeconds {
		return fmt.Errorf("pool.acquire_timeout_seconds must exceed pool.create_timeout_seconds")
	}
	if c.Cache.TTLSeconds < 0 {
		return fmt.Errorf("cache.ttl_seconds must be >= 0")
	}
	if c.Auth.Enabled && c.Auth.APIKey == "" {
		return fmt.Errorf("auth.api_key must be set when auth is enabled")
	}
	if c.Archive.Enabled && c.Archive.BaseDir == "" {
		return fmt.Errorf("archive.base_dir must be set when archive is enabled")
	}
	return nil
}

// Seconds converts a whole-second knob into a time.Duration.
func Seconds(v int) time.Duration {
	return time.Duration(v) * time.Second
}
