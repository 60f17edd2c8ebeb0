// Package config loads and validates service configuration via Viper.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/sitescope/siteaudit/internal/audit"
)

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	Server   ServerConfig          `mapstructure:"server"`
	Auth     AuthConfig            `mapstructure:"auth"`
	Crawler  CrawlerConfig         `mapstructure:"crawler"`
	Serp     SerpConfig            `mapstructure:"serp"`
	AI       AIConfig              `mapstructure:"ai"`
	Render   RenderConfig          `mapstructure:"render"`
	DB       DBConfig              `mapstructure:"db"`
	PubSub   PubSubConfig          `mapstructure:"pubsub"`
	Storage  StorageConfig         `mapstructure:"storage"`
	Pipeline PipelineConfig        `mapstructure:"pipeline"`
	Logging  LoggingConfig         `mapstructure:"logging"`
	Tiers    map[string]audit.Tier `mapstructure:"tiers"`
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

// CrawlerConfig governs the site crawl phase.
type CrawlerConfig struct {
	UserAgent      string `mapstructure:"user_agent"`
	TimeoutSeconds int    `mapstructure:"timeout_seconds"`
	DelayMs        int    `mapstructure:"delay_ms"`
	Parallelism    int    `mapstructure:"parallelism"`
	MaxDepth       int    `mapstructure:"max_depth"`
}

// SerpConfig configures the search ranking provider.
type SerpConfig struct {
	BaseURL        string `mapstructure:"base_url"`
	APIKey         string `mapstructure:"api_key"`
	TimeoutSeconds int    `mapstructure:"timeout_seconds"`
}

// AIConfig configures the language-model provider used for keyword clustering
// and content briefs.
type AIConfig struct {
	APIKey    string `mapstructure:"api_key"`
	Model     string `mapstructure:"model"`
	MaxTokens int    `mapstructure:"max_tokens"`
}

// RenderConfig configures the headless rendering subsystem used for page
// performance timings.
type RenderConfig struct {
	Enabled       bool `mapstructure:"enabled"`
	MaxParallel   int  `mapstructure:"max_parallel"`
	NavTimeoutSec int  `mapstructure:"nav_timeout_seconds"`
}

// DBConfig controls access to the relational database.
type DBConfig struct {
	DSN      string `mapstructure:"dsn"`
	MaxConns int32  `mapstructure:"max_conns"`
	MinConns int32  `mapstructure:"min_conns"`
}

// PubSubConfig holds metadata for the job queue topic.
type PubSubConfig struct {
	ProjectID    string `mapstructure:"project_id"`
	TopicName    string `mapstructure:"topic_name"`
	Subscription string `mapstructure:"subscription"`
}

// StorageConfig selects and parameterizes the artifact store.
type StorageConfig struct {
	// Provider is one of gcs, local, memory.
	Provider  string `mapstructure:"provider"`
	GCSBucket string `mapstructure:"gcs_bucket"`
	LocalDir  string `mapstructure:"local_dir"`
}

// PipelineConfig governs orchestration and worker fan-out.
type PipelineConfig struct {
	Workers             int `mapstructure:"workers"`
	QueueDepth          int `mapstructure:"queue_depth"`
	RetryDelayMinutes   int `mapstructure:"retry_delay_minutes"`
	StaleTimeoutMinutes int `mapstructure:"stale_timeout_minutes"`
	SweepIntervalSec    int `mapstructure:"sweep_interval_seconds"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool `mapstructure:"development"`
}

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("SITEAUDIT")
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
	v.SetDefault("crawler.user_agent", "siteaudit-bot/0.1")
	v.SetDefault("crawler.timeout_seconds", 15)
	v.SetDefault("crawler.delay_ms", 500)
	v.SetDefault("crawler.parallelism", 4)
	v.SetDefault("crawler.max_depth", 5)
	v.SetDefault("serp.timeout_seconds", 10)
	v.SetDefault("ai.max_tokens", 1024)
	v.SetDefault("render.enabled", false)
	v.SetDefault("render.max_parallel", 1)
	v.SetDefault("render.nav_timeout_seconds", 25)
	v.SetDefault("storage.provider", "memory")
	v.SetDefault("pipeline.workers", 4)
	v.SetDefault("pipeline.queue_depth", 64)
	v.SetDefault("pipeline.retry_delay_minutes", 15)
	v.SetDefault("pipeline.stale_timeout_minutes", 30)
	v.SetDefault("pipeline.sweep_interval_seconds", 60)
	v.SetDefault("logging.development", true)
	v.SetDefault("tiers", defaultTiers())
}

func defaultTiers() map[string]any {
	return map[string]any{
		"starter": map[string]any{
			"name":            "starter",
			"max_pages":       25,
			"max_keywords":    10,
			"max_competitors": 3,
			"max_briefs":      2,
		},
		"standard": map[string]any{
			"name":            "standard",
			"max_pages":       100,
			"max_keywords":    50,
			"max_competitors": 5,
			"max_briefs":      5,
		},
		"premium": map[string]any{
			"name":            "premium",
			"max_pages":       500,
			"max_keywords":    200,
			"max_competitors": 10,
			"max_briefs":      15,
		},
	}
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Server.Port <= 0 {
		return fmt.Errorf("server.port must be > 0")
	}
	if c.Crawler.TimeoutSeconds <= 0 {
		return fmt.Errorf("crawler.timeout_seconds must be > 0")
	}
	if c.Pipeline.Workers <= 0 {
		return fmt.Errorf("pipeline.workers must be > 0")
	}
	if c.Render.Enabled && c.Render.MaxParallel <= 0 {
		return fmt.Errorf("render.max_parallel must be > 0 when rendering is enabled")
	}
	if c.Auth.Enabled && c.Auth.APIKey == "" {
		return fmt.Errorf("auth.api_key must be set when auth is enabled")
	}
	switch c.Storage.Provider {
	case "memory":
	case "gcs":
		if c.Storage.GCSBucket == "" {
			return fmt.Errorf("storage.gcs_bucket must be set for the gcs provider")
		}
	case "local":
		if c.Storage.LocalDir == "" {
			return fmt.Errorf("storage.local_dir must be set for the local provider")
		}
	default:
		return fmt.Errorf("storage.provider must be one of gcs, local, memory")
	}
	if len(c.Tiers) == 0 {
		return fmt.Errorf("tiers must define at least one tier")
	}
	return nil
}

// Tier resolves a tier by name, falling back to standard.
func (c Config) Tier(name string) (audit.Tier, bool) {
	if tier, ok := c.Tiers[name]; ok {
		return tier, true
	}
	tier, ok := c.Tiers["standard"]
	return tier, ok
}

// CrawlTimeout converts the crawler timeout into a duration.
func (c Config) CrawlTimeout() time.Duration {
	return time.Duration(c.Crawler.TimeoutSeconds) * time.Second
}

// RetryDelay converts the pipeline retry delay into a duration.
func (c Config) RetryDelay() time.Duration {
	return time.Duration(c.Pipeline.RetryDelayMinutes) * time.Minute
}

// StaleTimeout converts the staleness bound into a duration.
func (c Config) StaleTimeout() time.Duration {
	return time.Duration(c.Pipeline.StaleTimeoutMinutes) * time.Minute
}
