// Package ratelimit implements fixed-window request budgets for shared
// external resources (model endpoints, data APIs), keyed by resource id.
package ratelimit

import (
	"context"
	"sync"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
)

// BudgetConfig declares the window budget for one resource identifier.
type BudgetConfig struct {
	RequestsPerWindow int           `yaml:"requests_per_window" mapstructure:"requests_per_window"`
	Window            time.Duration `yaml:"window" mapstructure:"window"`
}

// Budget is a snapshot of one resource's window state.
type Budget struct {
	ResourceID        string
	RequestsPerWindow int
	Window            time.Duration
	Used              int
	WindowResetAt     time.Time
}

// resourceBudget holds the mutable window counters for a single resource.
// Each resource has its own lock; independent resources never contend.
type resourceBudget struct {
	mu      sync.Mutex
	cfg     BudgetConfig
	used    int
	resetAt time.Time
}

// Limiter grants call slots against per-resource window budgets. Acquire
// blocks until a slot opens or the context is done. Resources without a
// configured budget pass through unthrottled.
type Limiter struct {
	mu      sync.RWMutex
	budgets map[string]*resourceBudget

	// nowFunc and sleepFunc allow test injection of time.
	nowFunc   func() time.Time
	sleepFunc func(ctx context.Context, d time.Duration) error
}

// NewLimiter creates a limiter from per-resource budget configs.
func NewLimiter(configs map[string]BudgetConfig) *Limiter {
	l := &Limiter{
		budgets:   make(map[string]*resourceBudget, len(configs)),
		nowFunc:   time.Now,
		sleepFunc: sleepCtx,
	}
	for id, cfg := range configs {
		if cfg.RequestsPerWindow > 0 && cfg.Window > 0 {
			l.budgets[id] = &resourceBudget{cfg: cfg}
		}
	}
	return l
}

// SetBudget installs or replaces the budget for a resource at runtime. The
// current window's usage carries over when only the limit changes.
func (l *Limiter) SetBudget(resourceID string, cfg BudgetConfig) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if cfg.RequestsPerWindow <= 0 || cfg.Window <= 0 {
		delete(l.budgets, resourceID)
		return
	}
	if b, ok := l.budgets[resourceID]; ok {
		b.mu.Lock()
		b.cfg = cfg
		b.mu.Unlock()
		return
	}
	l.budgets[resourceID] = &resourceBudget{cfg: cfg}
}

// Acquire blocks until the resource grants a slot in the current window.
// Rate limiting is not an error: the only error paths are context
// cancellation or deadline expiry while waiting.
func (l *Limiter) Acquire(ctx context.Context, resourceID string) error {
	l.mu.RLock()
	b, ok := l.budgets[resourceID]
	l.mu.RUnlock()
	if !ok {
		return nil
	}

	for {
		b.mu.Lock()
		now := l.nowFunc()
		if b.resetAt.IsZero() || !now.Before(b.resetAt) {
			b.used = 0
			b.resetAt = now.Add(b.cfg.Window)
		}
		if b.used < b.cfg.RequestsPerWindow {
			b.used++
			b.mu.Unlock()
			return nil
		}
		wait := b.resetAt.Sub(now)
		b.mu.Unlock()

		zap.L().Debug("rate limit window exhausted, waiting",
			zap.String("resource", resourceID),
			zap.Duration("wait", wait),
		)
		if err := l.sleepFunc(ctx, wait); err != nil {
			return eris.Wrapf(err, "ratelimit: waiting for %s window", resourceID)
		}
	}
}

// Snapshot returns the current budget state for every configured resource.
func (l *Limiter) Snapshot() map[string]Budget {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make(map[string]Budget, len(l.budgets))
	for id, b := range l.budgets {
		b.mu.Lock()
		out[id] = Budget{
			ResourceID:        id,
			RequestsPerWindow: b.cfg.RequestsPerWindow,
			Window:            b.cfg.Window,
			Used:              b.used,
			WindowResetAt:     b.resetAt,
		}
		b.mu.Unlock()
	}
	return out
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
