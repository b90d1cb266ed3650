package collect

import (
	"context"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sells-group/insight-cli/internal/quality"
	"github.com/sells-group/insight-cli/internal/resilience"
)

// Fallback data carries 30% of the source's normal weight.
const syntheticWeightFactor = 0.3

// Collector gathers payloads from ranked sources with phased escalation:
// required sources first, then preferred sources if quality falls short, then
// fallback sources at patient timeouts and reduced concurrency. Every live
// call runs through the source's circuit breaker and the shared retry policy.
type Collector struct {
	catalog   Catalog
	sources   map[string]Source
	breakers  *resilience.BreakerRegistry
	validator *quality.Validator
	retry     resilience.RetryConfig
}

// NewCollector wires sources against a catalog. Sources missing from the
// catalog are rejected at collect time, not here, so catalogs can be hot-swapped.
func NewCollector(catalog Catalog, sources []Source, breakers *resilience.BreakerRegistry, validator *quality.Validator) *Collector {
	byName := make(map[string]Source, len(sources))
	for _, s := range sources {
		byName[s.Name()] = s
	}
	return &Collector{
		catalog:   catalog,
		sources:   byName,
		breakers:  breakers,
		validator: validator,
		retry:     resilience.RetryConfig{MaxAttempts: 3, MaxBackoff: 5 * time.Second},
	}
}

// WithRetry overrides the per-source retry policy.
func (c *Collector) WithRetry(cfg resilience.RetryConfig) *Collector {
	c.retry = cfg
	return c
}

// Collect runs the phased escalation for one target key.
func (c *Collector) Collect(ctx context.Context, key string, strat Strategy) (*CollectionResult, error) {
	for _, name := range strat.RequiredSources {
		if _, ok := c.sources[name]; !ok {
			return nil, eris.Errorf("collect: required source %q is not registered", name)
		}
	}

	conc := strat.MaxConcurrent
	if conc <= 0 {
		conc = 4
	}
	mult := strat.Timeout.Multiplier()

	result := &CollectionResult{Data: make(map[string]map[string]any)}

	// Phase 1: required sources.
	c.runPhase(ctx, key, strat.RequiredSources, mult, conc, result)
	for _, r := range result.Results {
		if !r.Success && !r.Synthetic {
			result.CriticalSourcesFailed = append(result.CriticalSourcesFailed, r.Source)
		}
	}
	result.OverallQuality = weightedScore(result.Results)

	// Phase 2: preferred sources, when required data is missing or thin.
	if len(result.CriticalSourcesFailed) > 0 || result.OverallQuality < strat.MinQualityScore {
		zap.L().Debug("collect: escalating to preferred sources",
			zap.String("key", key),
			zap.Float64("quality", result.OverallQuality),
			zap.Strings("critical_failed", result.CriticalSourcesFailed),
		)
		c.runPhase(ctx, key, strat.PreferredSources, mult, conc, result)
		result.OverallQuality = weightedScore(result.Results)
	}

	// Phase 3: fallback sources, patiently and with reduced concurrency.
	if result.OverallQuality < strat.MinQualityScore && len(strat.FallbackSources) > 0 {
		zap.L().Debug("collect: escalating to fallback sources",
			zap.String("key", key),
			zap.Float64("quality", result.OverallQuality),
		)
		c.runPhase(ctx, key, strat.FallbackSources, TimeoutPatient.Multiplier(), min(conc, 2), result)
		result.OverallQuality = weightedScore(result.Results)
	}

	succeeded := 0
	for _, r := range result.Results {
		if r.Success {
			succeeded++
			if r.Data != nil {
				result.Data[r.Source] = r.Data
			}
		}
	}

	result.Success = result.OverallQuality >= strat.MinQualityScore && len(result.CriticalSourcesFailed) == 0
	result.PartialSuccess = result.OverallQuality > 0.2 && succeeded > 0

	zap.L().Info("collect: finished",
		zap.String("key", key),
		zap.Float64("quality", result.OverallQuality),
		zap.Bool("success", result.Success),
		zap.Bool("partial_success", result.PartialSuccess),
		zap.Int("sources_attempted", len(result.Results)),
	)
	return result, nil
}

// runPhase fetches a batch of sources with bounded concurrency and appends
// their results (plus any synthetic fallback results) to the collection.
func (c *Collector) runPhase(ctx context.Context, key string, names []string, mult float64, conc int, result *CollectionResult) {
	if len(names) == 0 {
		return
	}

	results := make([][]SourceResult, len(names))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(conc)
	for i, name := range names {
		g.Go(func() error {
			results[i] = c.fetchOne(gctx, key, name, mult)
			return nil
		})
	}
	g.Wait() //nolint:errcheck

	for _, batch := range results {
		result.Results = append(result.Results, batch...)
	}
}

// fetchOne performs one live source call. On failure it additionally emits a
// synthetic result when the source declares fallback data; the live failure
// is still reported so required-source accounting sees it.
func (c *Collector) fetchOne(ctx context.Context, key, name string, mult float64) []SourceResult {
	spec, ok := c.catalog[name]
	if !ok {
		return []SourceResult{{Source: name, Err: eris.Errorf("source %q not in catalog", name), Error: "source not in catalog"}}
	}
	src, ok := c.sources[name]
	if !ok {
		return []SourceResult{{Source: name, Weight: spec.Weight, Err: eris.Errorf("source %q not registered", name), Error: "source not registered"}}
	}

	timeout := time.Duration(float64(spec.BaseTimeout) * mult)
	breaker := c.breakers.Get(name)
	retryCfg := c.retry
	retryCfg.OnRetry = resilience.RetryLogger(name, "fetch")

	start := time.Now()
	data, err := resilience.DoVal(ctx, retryCfg, func(ctx context.Context) (map[string]any, error) {
		fetchCtx, cancel := context.WithTimeout(ctx, timeout)
		defer cancel()
		return resilience.ExecuteVal(fetchCtx, breaker, func(ctx context.Context) (map[string]any, error) {
			return src.Fetch(ctx, key)
		})
	})
	elapsed := time.Since(start)

	if err == nil {
		c.validator.Tracker().RecordSuccess(name)
		metrics := c.validator.Validate(spec.Kind, name, data)
		return []SourceResult{{
			Source:   name,
			Success:  true,
			Data:     data,
			Duration: elapsed,
			Quality:  metrics.Score(),
			Weight:   spec.Weight,
		}}
	}

	c.validator.Tracker().RecordFailure(name)
	zap.L().Warn("collect: source failed",
		zap.String("source", name),
		zap.String("key", key),
		zap.String("class", resilience.ClassifyError(err)),
		zap.Error(err),
	)
	out := []SourceResult{{
		Source:   name,
		Duration: elapsed,
		Weight:   spec.Weight,
		Err:      err,
		Error:    err.Error(),
	}}

	if fp, ok := src.(FallbackProvider); ok {
		if fb := fp.FallbackData(key); fb != nil {
			fbName := name + "_fallback"
			metrics := c.validator.Validate(spec.Kind, fbName, fb)
			out = append(out, SourceResult{
				Source:    fbName,
				Success:   true,
				Data:      fb,
				Quality:   metrics.Score(),
				Weight:    spec.Weight * syntheticWeightFactor,
				Synthetic: true,
			})
		}
	}
	return out
}

// weightedScore normalizes source quality over attempted sources only. Failed
// attempts contribute their weight at zero quality, dragging the score down.
func weightedScore(results []SourceResult) float64 {
	var num, den float64
	for _, r := range results {
		den += r.Weight
		if r.Success {
			num += r.Weight * r.Quality
		}
	}
	if den == 0 {
		return 0
	}
	return num / den
}
