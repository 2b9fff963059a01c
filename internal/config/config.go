package config

import (
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config holds the full application configuration.
type Config struct {
	Store  StoreConfig  `yaml:"store" mapstructure:"store"`
	Fetch  FetchConfig  `yaml:"fetch" mapstructure:"fetch"`
	Queue  QueueConfig  `yaml:"queue" mapstructure:"queue"`
	Review ReviewConfig `yaml:"review" mapstructure:"review"`
	AI     AIConfig     `yaml:"ai" mapstructure:"ai"`
	Job    JobConfig    `yaml:"job" mapstructure:"job"`
	Server ServerConfig `yaml:"server" mapstructure:"server"`
	Log    LogConfig    `yaml:"log" mapstructure:"log"`
}

// StoreConfig configures the document store backend.
type StoreConfig struct {
	Driver      string `yaml:"driver" mapstructure:"driver"`
	DatabaseURL string `yaml:"database_url" mapstructure:"database_url"`
}

// FetchConfig controls retrieval behavior. Delays are deliberately long;
// the fetcher is a guest on other people's servers.
type FetchConfig struct {
	RequestDelayMs    int      `yaml:"request_delay_ms" mapstructure:"request_delay_ms"`
	TimeoutSecs       int      `yaml:"timeout_secs" mapstructure:"timeout_secs"`
	MaxRetries        int      `yaml:"max_retries" mapstructure:"max_retries"`
	BackoffMultiplier float64  `yaml:"backoff_multiplier" mapstructure:"backoff_multiplier"`
	UserAgents        []string `yaml:"user_agents" mapstructure:"user_agents"`
}

// RequestDelay returns the inter-request delay as a duration.
func (c FetchConfig) RequestDelay() time.Duration {
	return time.Duration(c.RequestDelayMs) * time.Millisecond
}

// Timeout returns the per-request timeout as a duration.
func (c FetchConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutSecs) * time.Second
}

// QueueConfig controls job queue pacing.
type QueueConfig struct {
	SubjectDelayMs int `yaml:"subject_delay_ms" mapstructure:"subject_delay_ms"`
}

// SubjectDelay returns the inter-subject delay as a duration.
func (c QueueConfig) SubjectDelay() time.Duration {
	return time.Duration(c.SubjectDelayMs) * time.Millisecond
}

// ReviewConfig holds the gating thresholds. These are fixed policy numbers,
// not tunables the pipeline adjusts on its own.
type ReviewConfig struct {
	ConfidenceThreshold float64 `yaml:"confidence_threshold" mapstructure:"confidence_threshold"`
	FinancialDeltaPct   float64 `yaml:"financial_delta_pct" mapstructure:"financial_delta_pct"`
}

// AIConfig configures the secondary verification stage.
type AIConfig struct {
	Enabled bool   `yaml:"enabled" mapstructure:"enabled"`
	APIKey  string `yaml:"api_key" mapstructure:"api_key"`
	Model   string `yaml:"model" mapstructure:"model"`
}

// JobConfig configures job execution.
type JobConfig struct {
	MaxConcurrent int `yaml:"max_concurrent" mapstructure:"max_concurrent"`
	TimeoutSecs   int `yaml:"timeout_secs" mapstructure:"timeout_secs"`
}

// Timeout returns the per-job timeout as a duration.
func (c JobConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutSecs) * time.Second
}

// ServerConfig configures the HTTP job surface.
type ServerConfig struct {
	Port int `yaml:"port" mapstructure:"port"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// defaultUserAgents is the rotated pool of browser identity strings.
var defaultUserAgents = []string{
	"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36",
	"Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36",
	"Mozilla/5.0 (Windows NT 10.0; Win64; x64; rv:121.0) Gecko/20100101 Firefox/121.0",
	"Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/17.1 Safari/605.1.15",
}

// Load reads configuration from file and environment.
func Load() (*Config, error) {
	v := viper.New()

	// Config file
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	// Environment
	v.SetEnvPrefix("CATALOG")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("store.driver", "sqlite")
	v.SetDefault("store.database_url", "catalog.db")
	v.SetDefault("fetch.request_delay_ms", 7500)
	v.SetDefault("fetch.timeout_secs", 30)
	v.SetDefault("fetch.max_retries", 3)
	v.SetDefault("fetch.backoff_multiplier", 2.0)
	v.SetDefault("fetch.user_agents", defaultUserAgents)
	v.SetDefault("queue.subject_delay_ms", 10000)
	v.SetDefault("review.confidence_threshold", 70.0)
	v.SetDefault("review.financial_delta_pct", 20.0)
	v.SetDefault("ai.enabled", true)
	v.SetDefault("ai.model", "claude-haiku-4-5-20251001")
	v.SetDefault("job.max_concurrent", 1)
	v.SetDefault("job.timeout_secs", 600)
	v.SetDefault("server.port", 8080)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")

	// Read config file (optional)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, eris.Wrap(err, "config: read file")
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, eris.Wrap(err, "config: unmarshal")
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// Validate rejects configurations that would make the fetcher unsafe to run.
func (c *Config) Validate() error {
	if c.Fetch.RequestDelayMs < 1000 {
		return eris.Errorf("config: fetch.request_delay_ms must be at least 1000, got %d", c.Fetch.RequestDelayMs)
	}
	if len(c.Fetch.UserAgents) == 0 {
		return eris.New("config: fetch.user_agents must not be empty")
	}
	if c.Fetch.BackoffMultiplier < 1 {
		return eris.Errorf("config: fetch.backoff_multiplier must be >= 1, got %f", c.Fetch.BackoffMultiplier)
	}
	if c.Review.ConfidenceThreshold < 0 || c.Review.ConfidenceThreshold > 100 {
		return eris.Errorf("config: review.confidence_threshold must be within [0,100], got %f", c.Review.ConfidenceThreshold)
	}
	if c.AI.Enabled && c.AI.APIKey == "" {
		zap.L().Warn("ai verification enabled but no api key configured; verification will pass through")
	}
	return nil
}

// InitLogger initializes the global zap logger.
func InitLogger(cfg LogConfig) error {
	var zapCfg zap.Config
	if cfg.Format == "console" {
		zapCfg = zap.NewDevelopmentConfig()
	} else {
		zapCfg = zap.NewProductionConfig()
	}

	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return eris.Wrap(err, "config: parse log level")
	}
	zapCfg.Level.SetLevel(level)

	logger, err := zapCfg.Build()
	if err != nil {
		return eris.Wrap(err, "config: build logger")
	}
	zap.ReplaceGlobals(logger)

	return nil
}
