package main

import (
	"context"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/insight-cli/internal/audit"
	"github.com/sells-group/insight-cli/internal/collect"
	"github.com/sells-group/insight-cli/internal/modules"
	"github.com/sells-group/insight-cli/internal/orchestrator"
	"github.com/sells-group/insight-cli/internal/quality"
	"github.com/sells-group/insight-cli/internal/ratelimit"
	"github.com/sells-group/insight-cli/internal/resilience"
	"github.com/sells-group/insight-cli/internal/sources"
	anthropicpkg "github.com/sells-group/insight-cli/pkg/anthropic"
)

func initStore(ctx context.Context) (audit.Store, error) {
	switch cfg.Store.Driver {
	case "sqlite":
		path := cfg.Store.SQLitePath
		if path == "" {
			path = "insight.db"
		}
		return audit.NewSQLite(path)
	case "postgres":
		return audit.NewPostgres(ctx, cfg.Store.DatabaseURL)
	default:
		return nil, eris.Errorf("unsupported store driver: %s", cfg.Store.Driver)
	}
}

// auditSink returns the audit sink for a one-shot command: the migrated
// persistent store, or a log-only sink when store.driver is "log". The
// returned closer is a no-op for the log sink.
func auditSink(ctx context.Context) (audit.Sink, func() error, error) {
	if cfg.Store.Driver == "log" {
		return audit.LogSink{}, func() error { return nil }, nil
	}
	st, err := initStore(ctx)
	if err != nil {
		return nil, nil, err
	}
	if err := st.Migrate(ctx); err != nil {
		_ = st.Close()
		return nil, nil, eris.Wrap(err, "migrate store")
	}
	return st, st.Close, nil
}

// buildOrchestrator wires the module registry, rate limiter, and output
// validator around the given audit sink. The limiter is returned so callers
// can surface budget usage.
func buildOrchestrator(sink audit.Sink) (*orchestrator.Orchestrator, *ratelimit.Limiter, error) {
	if cfg.Anthropic.Key == "" {
		return nil, nil, eris.New("anthropic key is required (INSIGHT_ANTHROPIC_KEY)")
	}
	client := anthropicpkg.NewClient(cfg.Anthropic.Key)

	registry := orchestrator.NewRegistry()
	registry.Register(modules.NewFundamentals(client))
	registry.Register(modules.NewTechnical(client))
	registry.Register(modules.NewSentiment(client))
	registry.Register(modules.NewNews(client))
	registry.Register(modules.NewRecommendation(client))

	configs := cfg.Modules
	if len(configs) == 0 {
		configs = modules.DefaultConfigs()
	}

	limiter := ratelimit.NewLimiter(cfg.RateLimits)
	validator := quality.NewValidator(modules.RuleSets(), nil)

	return orchestrator.New(registry, configs, limiter, validator, sink), limiter, nil
}

// buildBreakers creates the shared circuit breaker registry from config.
func buildBreakers() *resilience.BreakerRegistry {
	defaults := resilience.CircuitBreakerConfig{
		FailureThreshold:  cfg.Breakers.FailureThreshold,
		ResetTimeout:      cfg.Breakers.ResetTimeout,
		MonitoringPeriod:  cfg.Breakers.MonitoringPeriod,
		ExpectedErrorRate: cfg.Breakers.ExpectedErrorRate,
	}
	overrides := make(map[string]resilience.CircuitBreakerConfig, len(cfg.Breakers.Overrides))
	for resource, o := range cfg.Breakers.Overrides {
		overrides[resource] = resilience.CircuitBreakerConfig{
			FailureThreshold:  o.FailureThreshold,
			ResetTimeout:      o.ResetTimeout,
			MonitoringPeriod:  o.MonitoringPeriod,
			ExpectedErrorRate: o.ExpectedErrorRate,
		}
	}
	return resilience.NewBreakerRegistry(defaults, overrides)
}

// buildCollector wires the source lineup and its catalog. Sources without a
// configured base URL are skipped.
func buildCollector(breakers *resilience.BreakerRegistry) (*collect.Collector, error) {
	catalog := collect.NewCatalog(sources.DefaultCatalog())
	if cfg.Sources.CatalogPath != "" {
		loaded, err := collect.LoadCatalog(cfg.Sources.CatalogPath)
		if err != nil {
			return nil, eris.Wrap(err, "load source catalog")
		}
		catalog = loaded
	}

	client := sources.NewClient(sources.ClientOptions{
		UserAgent: "insight-cli/1.0",
		Timeout:   30 * time.Second,
	})

	var srcs []collect.Source
	if cfg.Sources.QuoteBaseURL != "" {
		srcs = append(srcs, sources.NewQuoteSource(client, cfg.Sources.QuoteBaseURL))
	}
	if cfg.Sources.NewsFeedURL != "" {
		srcs = append(srcs, sources.NewNewsSource(client, cfg.Sources.NewsFeedURL))
	}
	if cfg.Sources.FilingsURL != "" {
		srcs = append(srcs, sources.NewFilingsSource(client, cfg.Sources.FilingsURL))
	}
	if cfg.Sources.SentimentURL != "" {
		srcs = append(srcs, sources.NewSentimentSource(client, cfg.Sources.SentimentURL))
	}
	if cfg.Sources.ArchiveURL != "" {
		srcs = append(srcs, sources.NewArchiveSource(cfg.Sources.ArchiveURL))
	}
	if len(srcs) == 0 {
		return nil, eris.New("no data sources configured; set at least sources.quote_base_url")
	}

	validator := quality.NewValidator(sources.RuleSets(), nil)
	return collect.NewCollector(catalog, srcs, breakers, validator), nil
}
