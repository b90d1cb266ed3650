package cost

import (
	"sort"
	"sync"
)

// Rates holds per-provider pricing configuration.
type Rates struct {
	Anthropic map[string]ModelRate `yaml:"anthropic" mapstructure:"anthropic"`
}

// ModelRate holds per-model token pricing (per million tokens).
type ModelRate struct {
	Input         float64 `yaml:"input" mapstructure:"input"`
	Output        float64 `yaml:"output" mapstructure:"output"`
	CacheWriteMul float64 `yaml:"cache_write_mul" mapstructure:"cache_write_mul"`
	CacheReadMul  float64 `yaml:"cache_read_mul" mapstructure:"cache_read_mul"`
}

// Calculator computes costs for API usage.
type Calculator struct {
	rates Rates
}

// NewCalculator creates a Calculator with the given rates.
func NewCalculator(rates Rates) *Calculator {
	return &Calculator{rates: rates}
}

// Claude computes the cost for a Claude API call.
func (c *Calculator) Claude(model string, input, output, cacheWrite, cacheRead int) float64 {
	rate, ok := c.rates.Anthropic[model]
	if !ok {
		return 0
	}

	inCost := (float64(input) / 1e6) * rate.Input
	outCost := (float64(output) / 1e6) * rate.Output
	cwCost := (float64(cacheWrite) / 1e6) * rate.Input * rate.CacheWriteMul
	crCost := (float64(cacheRead) / 1e6) * rate.Input * rate.CacheReadMul

	return inCost + outCost + cwCost + crCost
}

// DefaultRates returns the default pricing rates.
func DefaultRates() Rates {
	return Rates{
		Anthropic: map[string]ModelRate{
			"claude-haiku-4-5-20251001": {
				Input: 0.80, Output: 4.00,
				CacheWriteMul: 1.25, CacheReadMul: 0.1,
			},
			"claude-sonnet-4-5-20250929": {
				Input: 3.00, Output: 15.00,
				CacheWriteMul: 1.25, CacheReadMul: 0.1,
			},
			"claude-opus-4-6": {
				Input: 15.00, Output: 75.00,
				CacheWriteMul: 1.25, CacheReadMul: 0.1,
			},
		},
	}
}

// LineItem is the accumulated spend for one analysis module.
type LineItem struct {
	Module string  `json:"module"`
	Model  string  `json:"model"`
	Calls  int     `json:"calls"`
	Tokens int64   `json:"tokens"`
	USD    float64 `json:"usd"`
}

// Ledger accumulates spend across orchestration runs. Safe for
// concurrent use.
type Ledger struct {
	mu    sync.Mutex
	items map[string]*LineItem // keyed by module
}

// NewLedger creates an empty Ledger.
func NewLedger() *Ledger {
	return &Ledger{items: make(map[string]*LineItem)}
}

// Add records one module call's usage.
func (l *Ledger) Add(module, model string, tokens int64, usd float64) {
	l.mu.Lock()
	defer l.mu.Unlock()

	item, ok := l.items[module]
	if !ok {
		item = &LineItem{Module: module, Model: model}
		l.items[module] = item
	}
	item.Model = model
	item.Calls++
	item.Tokens += tokens
	item.USD += usd
}

// Items returns a copy of the per-module line items, sorted by module name.
func (l *Ledger) Items() []LineItem {
	l.mu.Lock()
	defer l.mu.Unlock()

	out := make([]LineItem, 0, len(l.items))
	for _, item := range l.items {
		out = append(out, *item)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Module < out[j].Module })
	return out
}

// Total returns the accumulated tokens and USD across all modules.
func (l *Ledger) Total() (int64, float64) {
	l.mu.Lock()
	defer l.mu.Unlock()

	var tokens int64
	var usd float64
	for _, item := range l.items {
		tokens += item.Tokens
		usd += item.USD
	}
	return tokens, usd
}
