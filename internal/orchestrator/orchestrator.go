package orchestrator

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/insight-cli/internal/audit"
	"github.com/sells-group/insight-cli/internal/quality"
	"github.com/sells-group/insight-cli/internal/ratelimit"
	"github.com/sells-group/insight-cli/internal/resilience"
)

// Severity grades an issue reported in the orchestration result.
type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// Issue is a human-readable problem surfaced to the caller. Module failures
// never abort the run; they become issues instead.
type Issue struct {
	Module     string   `json:"module"`
	Severity   Severity `json:"severity"`
	Message    string   `json:"message"`
	Suggestion string   `json:"suggestion"`
}

// Request names what to analyze and which modules to run.
type Request struct {
	SessionID string           `json:"session_id,omitempty"`
	TargetKey string           `json:"target_key"`
	Modules   []string         `json:"modules"`
	Priority  string           `json:"priority,omitempty"`
	Inputs    map[string]Input `json:"inputs,omitempty"`
}

// ModuleResult is the per-module outcome inside a Result.
type ModuleResult struct {
	Output       *Output       `json:"output,omitempty"`
	Quality      float64       `json:"quality_score"`
	Duration     time.Duration `json:"duration"`
	Attempts     int           `json:"attempts"`
	UsedFallback bool          `json:"used_fallback,omitempty"`
	Error        string        `json:"error,omitempty"`
}

// Result aggregates one orchestration run.
type Result struct {
	SessionID      string                   `json:"session_id"`
	TargetKey      string                   `json:"target_key"`
	Order          []string                 `json:"execution_order"`
	Completed      []string                 `json:"completed_modules"`
	Failed         []string                 `json:"failed_modules"`
	Modules        map[string]*ModuleResult `json:"modules"`
	Issues         []Issue                  `json:"issues,omitempty"`
	TotalCalls     int                      `json:"total_calls"`
	TotalTokens    int                      `json:"total_tokens"`
	TotalCostUSD   float64                  `json:"total_cost_usd"`
	Success        bool                     `json:"success"`
	PartialSuccess bool                     `json:"partial_success"`
	Duration       time.Duration            `json:"duration"`
	AuditTrail     []audit.ExecutionRecord  `json:"audit_trail"`
}

// Orchestrator schedules analysis modules over their dependency graph,
// retrying and falling back per module under shared per-resource rate limits.
type Orchestrator struct {
	registry  *Registry
	limiter   *ratelimit.Limiter
	validator *quality.Validator
	sink      audit.Sink

	mu      sync.RWMutex
	configs map[string]ModuleConfig

	nowFunc   func() time.Time
	sleepFunc func(ctx context.Context, d time.Duration) error
}

// New creates an orchestrator. A nil sink disables auditing.
func New(registry *Registry, configs []ModuleConfig, limiter *ratelimit.Limiter, validator *quality.Validator, sink audit.Sink) *Orchestrator {
	if sink == nil {
		sink = audit.NopSink{}
	}
	byName := make(map[string]ModuleConfig, len(configs))
	for _, cfg := range configs {
		byName[cfg.Name] = cfg.withDefaults()
	}
	return &Orchestrator{
		registry:  registry,
		limiter:   limiter,
		validator: validator,
		sink:      sink,
		configs:   byName,
		nowFunc:   time.Now,
		sleepFunc: sleepCtx,
	}
}

// UpdateModuleConfig hot-swaps one module's scheduling policy. Runs already
// in flight keep the config they started with.
func (o *Orchestrator) UpdateModuleConfig(cfg ModuleConfig) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.configs[cfg.Name] = cfg.withDefaults()
	zap.L().Info("module config updated",
		zap.String("module", cfg.Name),
		zap.Int("priority", cfg.Priority),
		zap.Int("max_retries", cfg.MaxRetries),
	)
}

// Configs returns a snapshot of all module configs.
func (o *Orchestrator) Configs() map[string]ModuleConfig {
	o.mu.RLock()
	defer o.mu.RUnlock()
	out := make(map[string]ModuleConfig, len(o.configs))
	for name, cfg := range o.configs {
		out[name] = cfg
	}
	return out
}

func (o *Orchestrator) configFor(name string) ModuleConfig {
	o.mu.RLock()
	defer o.mu.RUnlock()
	if cfg, ok := o.configs[name]; ok {
		return cfg
	}
	return ModuleConfig{Name: name}.withDefaults()
}

// Orchestrate runs the requested modules in dependency order. Individual
// module failures degrade the result; only a dependency cycle or an unknown
// module is fatal.
func (o *Orchestrator) Orchestrate(ctx context.Context, req Request) (*Result, error) {
	if req.SessionID == "" {
		req.SessionID = uuid.NewString()
	}
	for _, name := range req.Modules {
		if o.registry.Get(name) == nil {
			return nil, eris.Errorf("orchestrate: unknown module %q", name)
		}
	}

	snapshot := make(map[string]ModuleConfig, len(req.Modules))
	for _, name := range req.Modules {
		snapshot[name] = o.configFor(name)
	}

	order, err := executionOrder(req.Modules, snapshot)
	if err != nil {
		return nil, err
	}

	started := o.nowFunc()
	o.emitSessionStart(ctx, req, started)

	result := &Result{
		SessionID: req.SessionID,
		TargetKey: req.TargetKey,
		Order:     order,
		Modules:   make(map[string]*ModuleResult, len(order)),
	}
	outputs := make(map[string]*Output, len(order))

	for _, name := range order {
		mod := o.registry.Get(name)
		cfg := snapshot[name]
		input := mergeInput(req.Inputs[name], cfg.Dependencies, outputs)

		mr, records := o.runModule(ctx, req.SessionID, req.TargetKey, mod, cfg, input)
		result.Modules[name] = mr
		result.AuditTrail = append(result.AuditTrail, records...)

		if mr.Error == "" {
			result.Completed = append(result.Completed, name)
			outputs[name] = mr.Output
			if mr.Output != nil {
				result.TotalTokens += mr.Output.TokensUsed
				result.TotalCostUSD += mr.Output.CostUSD
			}
		} else {
			result.Failed = append(result.Failed, name)
		}
	}

	result.TotalCalls = len(result.AuditTrail)
	result.Success = len(result.Failed) == 0
	result.PartialSuccess = len(result.Completed) > 0
	result.Duration = o.nowFunc().Sub(started)
	result.Issues = o.buildIssues(result)

	o.emitSessionEnd(ctx, req, started, result)

	zap.L().Info("orchestration finished",
		zap.String("session_id", req.SessionID),
		zap.String("target", req.TargetKey),
		zap.Strings("completed", result.Completed),
		zap.Strings("failed", result.Failed),
		zap.Int("total_calls", result.TotalCalls),
		zap.Float64("total_cost_usd", result.TotalCostUSD),
	)
	return result, nil
}

// runModule executes one module with retries and the single-use fallback path.
func (o *Orchestrator) runModule(ctx context.Context, sessionID, key string, mod Module, cfg ModuleConfig, input Input) (*ModuleResult, []audit.ExecutionRecord) {
	mr := &ModuleResult{}
	var records []audit.ExecutionRecord
	inputHash := hashPayload(input)
	moduleStart := o.nowFunc()

	fallbackMod, canFallback := mod.(FallbackCapable)
	fallbackUsed := false
	nextIsFallback := false
	var lastErr error

	for attempt := 1; attempt <= cfg.MaxRetries; attempt++ {
		mr.Attempts = attempt
		isFallback := nextIsFallback
		nextIsFallback = false
		kind := audit.AttemptPrimary
		switch {
		case isFallback:
			kind = audit.AttemptFallback
		case attempt > 1:
			kind = audit.AttemptRetry
		}

		rec := audit.ExecutionRecord{
			SessionID:   sessionID,
			ModuleName:  mod.Name(),
			ResourceID:  mod.Resource(),
			AttemptKind: kind,
			Attempt:     attempt,
			StartTime:   o.nowFunc(),
			InputHash:   inputHash,
		}

		out, err := o.attempt(ctx, mod, cfg, key, input, isFallback, fallbackMod)
		rec.EndTime = o.nowFunc()

		if err == nil {
			score := o.scoreOutput(mod, out)
			rec.Success = true
			rec.OutputHash = hashPayload(out.Data)
			rec.QualityScore = &score
			records = append(records, rec)
			o.emitExecution(ctx, rec)

			mr.Output = out
			mr.Quality = score
			mr.UsedFallback = fallbackUsed
			mr.Duration = o.nowFunc().Sub(moduleStart)
			return mr, records
		}

		lastErr = err
		rec.ErrorMessage = err.Error()
		records = append(records, rec)
		o.emitExecution(ctx, rec)

		zap.L().Warn("module attempt failed",
			zap.String("module", mod.Name()),
			zap.String("session_id", sessionID),
			zap.Int("attempt", attempt),
			zap.String("kind", string(kind)),
			zap.String("class", resilience.ClassifyError(err)),
			zap.Error(err),
		)

		if attempt == cfg.MaxRetries {
			break
		}
		if cfg.FallbackEnabled && canFallback && !fallbackUsed {
			// The fallback path retries immediately, without backoff.
			fallbackUsed = true
			nextIsFallback = true
			continue
		}
		if err := o.sleepFunc(ctx, cfg.Backoff*time.Duration(attempt)); err != nil {
			lastErr = err
			break
		}
	}

	mr.Error = lastErr.Error()
	mr.UsedFallback = fallbackUsed
	mr.Duration = o.nowFunc().Sub(moduleStart)
	return mr, records
}

// attempt performs a single rate-limited, timeout-raced module call.
func (o *Orchestrator) attempt(ctx context.Context, mod Module, cfg ModuleConfig, key string, input Input, useFallback bool, fb FallbackCapable) (*Output, error) {
	// Waiting for a rate-limit slot is bounded by the module timeout.
	waitCtx, cancelWait := context.WithTimeout(ctx, cfg.Timeout)
	err := o.limiter.Acquire(waitCtx, mod.Resource())
	cancelWait()
	if err != nil {
		return nil, eris.Wrapf(err, "rate limit wait for %s", mod.Resource())
	}

	call := mod.Analyze
	if useFallback {
		call = fb.AnalyzeFallback
	}

	type callResult struct {
		out *Output
		err error
	}
	ch := make(chan callResult, 1)
	callCtx, cancel := context.WithTimeout(ctx, cfg.Timeout)
	defer cancel()
	go func() {
		out, err := call(callCtx, key, input)
		ch <- callResult{out, err}
	}()

	timer := time.NewTimer(cfg.Timeout)
	defer timer.Stop()
	select {
	case r := <-ch:
		return r.out, r.err
	case <-timer.C:
		// The in-flight call is abandoned; it may still complete upstream.
		return nil, eris.Errorf("module %s timed out after %s", mod.Name(), cfg.Timeout)
	case <-ctx.Done():
		return nil, eris.Wrap(ctx.Err(), "orchestration cancelled")
	}
}

// scoreOutput validates a module output against its declared rule set. The
// rule set kind is the module name; modules without rules score on the
// resource's reliability prior alone.
func (o *Orchestrator) scoreOutput(mod Module, out *Output) float64 {
	if out == nil {
		return 0
	}
	return o.validator.Validate(mod.Name(), mod.Resource(), out.Data).Score()
}

func (o *Orchestrator) buildIssues(result *Result) []Issue {
	var issues []Issue
	for _, name := range result.Failed {
		mr := result.Modules[name]
		sev := SeverityHigh
		suggestion := fmt.Sprintf("inspect the audit trail for session %s and retry the %s module", result.SessionID, name)
		if strings.Contains(mr.Error, "circuit breaker is open") {
			sev = SeverityCritical
			suggestion = fmt.Sprintf("the %s resource is circuit-broken; wait for recovery or reset the breaker", name)
		}
		issues = append(issues, Issue{
			Module:     name,
			Severity:   sev,
			Message:    fmt.Sprintf("module %s failed after %d attempts: %s", name, mr.Attempts, mr.Error),
			Suggestion: suggestion,
		})
	}
	for _, name := range result.Completed {
		mr := result.Modules[name]
		if mr.Quality < 0.5 {
			issues = append(issues, Issue{
				Module:     name,
				Severity:   SeverityMedium,
				Message:    fmt.Sprintf("module %s completed with low quality score %.2f", name, mr.Quality),
				Suggestion: "treat this output as indicative only and verify against raw source data",
			})
		} else if mr.UsedFallback {
			issues = append(issues, Issue{
				Module:     name,
				Severity:   SeverityLow,
				Message:    fmt.Sprintf("module %s completed via its fallback path", name),
				Suggestion: "the primary path failed at least once; check resource health",
			})
		}
	}
	return issues
}

// mergeInput layers completed dependency outputs under the module's static
// input. Static input wins on key collision; dependency outputs are read-only.
func mergeInput(static Input, deps []string, outputs map[string]*Output) Input {
	merged := make(Input, len(static)+len(deps))
	for _, dep := range deps {
		if out, ok := outputs[dep]; ok && out != nil {
			merged[dep] = out.Data
		}
	}
	for k, v := range static {
		merged[k] = v
	}
	return merged
}

// Audit emission is fire-and-forget: a broken sink degrades observability,
// never the orchestration itself.
func (o *Orchestrator) emitExecution(ctx context.Context, rec audit.ExecutionRecord) {
	if err := o.sink.RecordExecution(ctx, rec); err != nil {
		zap.L().Warn("audit sink rejected execution record", zap.Error(err))
	}
}

func (o *Orchestrator) emitSessionStart(ctx context.Context, req Request, started time.Time) {
	err := o.sink.RecordSessionStart(ctx, audit.Session{
		ID:               req.SessionID,
		TargetKey:        req.TargetKey,
		Priority:         req.Priority,
		RequestedModules: req.Modules,
		StartedAt:        started,
	})
	if err != nil {
		zap.L().Warn("audit sink rejected session start", zap.Error(err))
	}
}

func (o *Orchestrator) emitSessionEnd(ctx context.Context, req Request, started time.Time, result *Result) {
	err := o.sink.RecordSessionEnd(ctx, audit.Session{
		ID:               req.SessionID,
		TargetKey:        req.TargetKey,
		Priority:         req.Priority,
		RequestedModules: req.Modules,
		CompletedModules: result.Completed,
		FailedModules:    result.Failed,
		StartedAt:        started,
		EndedAt:          o.nowFunc(),
		Success:          result.Success,
		PartialSuccess:   result.PartialSuccess,
		TotalTokens:      result.TotalTokens,
		TotalCostUSD:     result.TotalCostUSD,
	})
	if err != nil {
		zap.L().Warn("audit sink rejected session end", zap.Error(err))
	}
}

func hashPayload(payload any) string {
	raw, err := json.Marshal(payload)
	if err != nil {
		return ""
	}
	sum := sha256.Sum256(raw)
	return hex.EncodeToString(sum[:8])
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
