package orchestrator

import (
	"context"
	"sort"
	"sync"
	"time"
)

// Input is the merged payload a module analyzes: the caller's static input
// plus the outputs of the module's completed dependencies.
type Input map[string]any

// Output is one module's analysis result.
type Output struct {
	Data       map[string]any `json:"data"`
	Model      string         `json:"model,omitempty"`
	TokensUsed int            `json:"tokens_used"`
	CostUSD    float64        `json:"cost_usd"`
}

// Module is a pluggable analysis unit. Analyze must honor ctx cancellation;
// a call that outlives its deadline is abandoned, not interrupted.
type Module interface {
	Name() string
	Resource() string
	Analyze(ctx context.Context, key string, input Input) (*Output, error)
}

// FallbackCapable modules offer a degraded path (cheaper model, cached data)
// used at most once per orchestration when the primary path fails.
type FallbackCapable interface {
	AnalyzeFallback(ctx context.Context, key string, input Input) (*Output, error)
}

// ModuleConfig is the per-module scheduling policy. Loaded at startup,
// hot-swappable via Orchestrator.UpdateModuleConfig.
type ModuleConfig struct {
	Name            string        `yaml:"name" mapstructure:"name"`
	Priority        int           `yaml:"priority" mapstructure:"priority"` // 1 (lowest) to 10
	MaxRetries      int           `yaml:"max_retries" mapstructure:"max_retries"`
	Timeout         time.Duration `yaml:"timeout" mapstructure:"timeout"`
	Backoff         time.Duration `yaml:"backoff" mapstructure:"backoff"`
	Dependencies    []string      `yaml:"dependencies" mapstructure:"dependencies"`
	FallbackEnabled bool          `yaml:"fallback_enabled" mapstructure:"fallback_enabled"`
}

func (c ModuleConfig) withDefaults() ModuleConfig {
	if c.Priority <= 0 {
		c.Priority = 5
	}
	if c.MaxRetries <= 0 {
		c.MaxRetries = 3
	}
	if c.Timeout <= 0 {
		c.Timeout = 60 * time.Second
	}
	if c.Backoff <= 0 {
		c.Backoff = time.Second
	}
	return c
}

// Registry holds the available analysis modules by name.
type Registry struct {
	mu      sync.RWMutex
	modules map[string]Module
}

// NewRegistry creates a module registry.
func NewRegistry(modules ...Module) *Registry {
	r := &Registry{modules: make(map[string]Module, len(modules))}
	for _, m := range modules {
		r.modules[m.Name()] = m
	}
	return r
}

// Register adds or replaces a module.
func (r *Registry) Register(m Module) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.modules[m.Name()] = m
}

// Get returns the named module, or nil.
func (r *Registry) Get(name string) Module {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.modules[name]
}

// Names returns the registered module names, sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.modules))
	for name := range r.modules {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
