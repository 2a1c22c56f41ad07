// Package config loads and validates pipeline configuration via Viper.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config captures all configuration knobs loaded via Viper.
type Config struct {
	Pool    PoolConfig    `mapstructure:"pool"`
	HTTP    HTTPConfig    `mapstructure:"http"`
	Cache   CacheConfig   `mapstructure:"cache"`
	Output  OutputConfig  `mapstructure:"output"`
	Extract ExtractConfig `mapstructure:"extract"`
	Local   LocalConfig   `mapstructure:"local"`
	Metrics MetricsConfig `mapstructure:"metrics"`
	Logging LoggingConfig `mapstructure:"logging"`
}

// PoolConfig governs the scrape pool and its sessions.
type PoolConfig struct {
	Instances          int     `mapstructure:"instances"`
	NavTimeoutSec      int     `mapstructure:"nav_timeout_seconds"`
	PageWaitMs         int     `mapstructure:"page_wait_ms"`
	RetryNavTimeoutSec int     `mapstructure:"retry_nav_timeout_seconds"`
	RetryPageWaitMs    int     `mapstructure:"retry_page_wait_ms"`
	DomainQPS          float64 `mapstructure:"domain_qps"`
	UserAgent          string  `mapstructure:"user_agent"`
	Headless           bool    `mapstructure:"headless"`
	Concurrency        int     `mapstructure:"concurrency"`
}

// HTTPConfig configures the plain-HTTP import source.
type HTTPConfig struct {
	TimeoutSeconds   int `mapstructure:"timeout_seconds"`
	MaxRetries       int `mapstructure:"max_retries"`
	BackoffInitialMs int `mapstructure:"backoff_initial_ms"`
	BackoffMaxMs     int `mapstructure:"backoff_max_ms"`
}

// CacheConfig sets the content cache root.
type CacheConfig struct {
	Dir string `mapstructure:"dir"`
}

// OutputConfig names the durable dataset file.
type OutputConfig struct {
	Path string `mapstructure:"path"`
}

// ExtractConfig overrides the IDL block selectors.
type ExtractConfig struct {
	Selectors []string `mapstructure:"selectors"`
}

// LocalConfig governs local-file mode.
type LocalConfig struct {
	Root      string `mapstructure:"root"`
	Extension string `mapstructure:"extension"`
}

// MetricsConfig toggles the optional metrics listener.
type MetricsConfig struct {
	Addr string `mapstructure:"addr"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool `mapstructure:"development"`
}

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("IDLHARVEST")
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
	v.SetDefault("pool.instances", 4)
	v.SetDefault("pool.nav_timeout_seconds", 45)
	v.SetDefault("pool.page_wait_ms", 1000)
	v.SetDefault("pool.retry_nav_timeout_seconds", 120)
	v.SetDefault("pool.retry_page_wait_ms", 5000)
	v.SetDefault("pool.domain_qps", 0.5)
	v.SetDefault("pool.user_agent", "idlharvest/1.0 (+https://github.com/idlharvest)")
	v.SetDefault("pool.headless", true)
	v.SetDefault("pool.concurrency", 8)

	v.SetDefault("http.timeout_seconds", 15)
	v.SetDefault("http.max_retries", 2)
	v.SetDefault("http.backoff_initial_ms", 250)
	v.SetDefault("http.backoff_max_ms", 5000)

	v.SetDefault("cache.dir", "data/cache")
	v.SetDefault("output.path", "data/webidl.json")

	v.SetDefault("local.extension", ".html")

	v.SetDefault("metrics.addr", "")
	v.SetDefault("logging.development", false)
}

// Validate rejects configurations the pipeline cannot run with.
func (c Config) Validate() error {
	if c.Pool.Instances <= 0 {
		return fmt.Errorf("pool.instances must be positive, got %d", c.Pool.Instances)
	}
	if c.Pool.Concurrency <= 0 {
		return fmt.Errorf("pool.concurrency must be positive, got %d", c.Pool.Concurrency)
	}
	if c.Pool.NavTimeoutSec <= 0 || c.Pool.RetryNavTimeoutSec <= 0 {
		return fmt.Errorf("navigation timeouts must be positive")
	}
	if c.Pool.RetryNavTimeoutSec < c.Pool.NavTimeoutSec {
		return fmt.Errorf("retry navigation timeout must be at least the first-pass timeout")
	}
	if c.Pool.RetryPageWaitMs < c.Pool.PageWaitMs {
		return fmt.Errorf("retry page wait must be at least the first-pass page wait")
	}
	if strings.TrimSpace(c.Cache.Dir) == "" {
		return fmt.Errorf("cache.dir is required")
	}
	if strings.TrimSpace(c.Output.Path) == "" {
		return fmt.Errorf("output.path is required")
	}
	return nil
}

// NavTimeout returns the first-pass navigation timeout.
func (c PoolConfig) NavTimeout() time.Duration {
	return time.Duration(c.NavTimeoutSec) * time.Second
}

// PageWait returns the first-pass page-load wait.
func (c PoolConfig) PageWait() time.Duration {
	return time.Duration(c.PageWaitMs) * time.Millisecond
}

// RetryNavTimeout returns the widened retry navigation timeout.
func (c PoolConfig) RetryNavTimeout() time.Duration {
	return time.Duration(c.RetryNavTimeoutSec) * time.Second
}

// RetryPageWait returns the lengthened retry page-load wait.
func (c PoolConfig) RetryPageWait() time.Duration {
	return time.Duration(c.RetryPageWaitMs) * time.Millisecond
}

// Timeout returns the HTTP request timeout.
func (c HTTPConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutSeconds) * time.Second
}

// BackoffInitial returns the first retry backoff.
func (c HTTPConfig) BackoffInitial() time.Duration {
	return time.Duration(c.BackoffInitialMs) * time.Millisecond
}

// BackoffMax returns the backoff cap.
func (c HTTPConfig) BackoffMax() time.Duration {
	return time.Duration(c.BackoffMaxMs) * time.Millisecond
}
