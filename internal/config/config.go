package config

import (
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/sells-group/insight-cli/internal/collect"
	"github.com/sells-group/insight-cli/internal/orchestrator"
	"github.com/sells-group/insight-cli/internal/ratelimit"
)

// Config holds the full application configuration.
type Config struct {
	Store      StoreConfig                       `yaml:"store" mapstructure:"store"`
	Anthropic  AnthropicConfig                   `yaml:"anthropic" mapstructure:"anthropic"`
	Sources    SourcesConfig                     `yaml:"sources" mapstructure:"sources"`
	Collection collect.Strategy                  `yaml:"collection" mapstructure:"collection"`
	Modules    []orchestrator.ModuleConfig       `yaml:"modules" mapstructure:"modules"`
	RateLimits map[string]ratelimit.BudgetConfig `yaml:"rate_limits" mapstructure:"rate_limits"`
	Breakers   BreakersConfig                    `yaml:"breakers" mapstructure:"breakers"`
	Monitoring MonitoringConfig                  `yaml:"monitoring" mapstructure:"monitoring"`
	Server     ServerConfig                      `yaml:"server" mapstructure:"server"`
	Log        LogConfig                         `yaml:"log" mapstructure:"log"`
}

// MonitoringConfig configures background health checks and alerting.
type MonitoringConfig struct {
	WebhookURL           string  `yaml:"webhook_url" mapstructure:"webhook_url"`
	FailureRateThreshold float64 `yaml:"failure_rate_threshold" mapstructure:"failure_rate_threshold"`
	CostThresholdUSD     float64 `yaml:"cost_threshold_usd" mapstructure:"cost_threshold_usd"`
	CheckIntervalSecs    int     `yaml:"check_interval_secs" mapstructure:"check_interval_secs"`
	LookbackWindowHours  int     `yaml:"lookback_window_hours" mapstructure:"lookback_window_hours"`
}

// StoreConfig configures the audit store backend. Driver "log" skips
// persistence and writes audit events to the logger only.
type StoreConfig struct {
	Driver      string `yaml:"driver" mapstructure:"driver"` // sqlite, postgres, or log
	DatabaseURL string `yaml:"database_url" mapstructure:"database_url"`
	SQLitePath  string `yaml:"sqlite_path" mapstructure:"sqlite_path"`
}

// AnthropicConfig holds Anthropic API settings.
type AnthropicConfig struct {
	Key string `yaml:"key" mapstructure:"key"`
}

// SourcesConfig names the upstream data source endpoints and the catalog file.
type SourcesConfig struct {
	CatalogPath  string `yaml:"catalog_path" mapstructure:"catalog_path"`
	QuoteBaseURL string `yaml:"quote_base_url" mapstructure:"quote_base_url"`
	NewsFeedURL  string `yaml:"news_feed_url" mapstructure:"news_feed_url"`
	FilingsURL   string `yaml:"filings_base_url" mapstructure:"filings_base_url"`
	SentimentURL string `yaml:"sentiment_base_url" mapstructure:"sentiment_base_url"`
	ArchiveURL   string `yaml:"archive_url" mapstructure:"archive_url"`
}

// BreakersConfig configures circuit breaker defaults and per-resource overrides.
type BreakersConfig struct {
	FailureThreshold  int                      `yaml:"failure_threshold" mapstructure:"failure_threshold"`
	ResetTimeout      time.Duration            `yaml:"reset_timeout" mapstructure:"reset_timeout"`
	MonitoringPeriod  time.Duration            `yaml:"monitoring_period" mapstructure:"monitoring_period"`
	ExpectedErrorRate float64                  `yaml:"expected_error_rate" mapstructure:"expected_error_rate"`
	Overrides         map[string]BreakerConfig `yaml:"overrides" mapstructure:"overrides"`
}

// BreakerConfig is a per-resource breaker override.
type BreakerConfig struct {
	FailureThreshold  int           `yaml:"failure_threshold" mapstructure:"failure_threshold"`
	ResetTimeout      time.Duration `yaml:"reset_timeout" mapstructure:"reset_timeout"`
	MonitoringPeriod  time.Duration `yaml:"monitoring_period" mapstructure:"monitoring_period"`
	ExpectedErrorRate float64       `yaml:"expected_error_rate" mapstructure:"expected_error_rate"`
}

// ServerConfig configures the admin HTTP server.
type ServerConfig struct {
	Port int `yaml:"port" mapstructure:"port"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// Load reads configuration from file and environment.
func Load() (*Config, error) {
	v := viper.New()

	// Config file
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	// Environment
	v.SetEnvPrefix("INSIGHT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("store.driver", "sqlite")
	v.SetDefault("store.sqlite_path", "insight.db")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("server.port", 8080)
	v.SetDefault("collection.required_sources", []string{"quote"})
	v.SetDefault("collection.preferred_sources", []string{"news", "filings"})
	v.SetDefault("collection.fallback_sources", []string{"sentiment", "archive"})
	v.SetDefault("collection.min_quality_score", 0.6)
	v.SetDefault("collection.timeout_strategy", "balanced")
	v.SetDefault("collection.max_concurrent_requests", 4)
	v.SetDefault("monitoring.failure_rate_threshold", 0.25)
	v.SetDefault("monitoring.check_interval_secs", 300)
	v.SetDefault("monitoring.lookback_window_hours", 24)
	v.SetDefault("breakers.failure_threshold", 5)
	v.SetDefault("breakers.reset_timeout", "60s")
	v.SetDefault("breakers.monitoring_period", "120s")
	v.SetDefault("breakers.expected_error_rate", 0.5)
	v.SetDefault("rate_limits.claude-sonnet-4-5-20250929.requests_per_window", 50)
	v.SetDefault("rate_limits.claude-sonnet-4-5-20250929.window", "1m")
	v.SetDefault("rate_limits.claude-haiku-4-5-20251001.requests_per_window", 100)
	v.SetDefault("rate_limits.claude-haiku-4-5-20251001.window", "1m")

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

	return &cfg, nil
}

// Validate checks that the fields required by the given CLI mode are set.
func (c *Config) Validate(mode string) error {
	var problems []string

	// allowLogOnly: the log driver audits without persisting, so it cannot
	// back commands that query session history.
	requireStore := func(allowLogOnly bool) {
		switch c.Store.Driver {
		case "postgres":
			if c.Store.DatabaseURL == "" {
				problems = append(problems, "store.database_url is required for the postgres driver")
			}
		case "sqlite":
			if c.Store.SQLitePath == "" {
				problems = append(problems, "store.sqlite_path is required for the sqlite driver")
			}
		case "log":
			if !allowLogOnly {
				problems = append(problems, "store.driver log cannot serve session queries; use sqlite or postgres")
			}
		default:
			problems = append(problems, "store.driver must be sqlite or postgres")
		}
	}

	switch mode {
	case "analyze":
		requireStore(true)
		if c.Anthropic.Key == "" {
			problems = append(problems, "anthropic.key is required")
		}
	case "collect":
		if len(c.Collection.RequiredSources) == 0 {
			problems = append(problems, "collection.required_sources must not be empty")
		}
	case "serve":
		requireStore(false)
		if c.Server.Port <= 0 {
			problems = append(problems, "server.port must be > 0")
		}
	case "sessions":
		requireStore(false)
	default:
		return eris.Errorf("config: unknown mode %q", mode)
	}

	if c.Collection.MinQualityScore < 0 || c.Collection.MinQualityScore > 1 {
		problems = append(problems, "collection.min_quality_score must be between 0 and 1")
	}
	if c.Collection.MaxConcurrent < 0 {
		problems = append(problems, "collection.max_concurrent_requests must be >= 0")
	}

	if len(problems) > 0 {
		return eris.New("invalid configuration: " + strings.Join(problems, "; "))
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
