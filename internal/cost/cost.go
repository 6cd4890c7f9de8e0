// Package cost turns token counts into dollars and keeps the running task
// totals.
package cost

import (
	"fmt"
	"strings"
	"sync"
)

// Pricing holds per-million-token prices for a model.
type Pricing struct {
	InputPerMillion       float64 `yaml:"input"`
	OutputPerMillion      float64 `yaml:"output"`
	CacheWritesPerMillion float64 `yaml:"cache_writes"`
	CacheReadsPerMillion  float64 `yaml:"cache_reads"`
}

// Usage is the token accounting of one or more model requests.
type Usage struct {
	InputTokens      int `json:"tokensIn"`
	OutputTokens     int `json:"tokensOut"`
	CacheWriteTokens int `json:"cacheWrites"`
	CacheReadTokens  int `json:"cacheReads"`
}

// Total is the sum of all four counters.
func (u Usage) Total() int {
	return u.InputTokens + u.OutputTokens + u.CacheWriteTokens + u.CacheReadTokens
}

// Add returns the element-wise sum of u and o.
func (u Usage) Add(o Usage) Usage {
	return Usage{
		InputTokens:      u.InputTokens + o.InputTokens,
		OutputTokens:     u.OutputTokens + o.OutputTokens,
		CacheWriteTokens: u.CacheWriteTokens + o.CacheWriteTokens,
		CacheReadTokens:  u.CacheReadTokens + o.CacheReadTokens,
	}
}

// Calculate returns the dollar cost of u under p.
func Calculate(p Pricing, u Usage) float64 {
	return (float64(u.CacheWriteTokens)*p.CacheWritesPerMillion +
		float64(u.CacheReadTokens)*p.CacheReadsPerMillion +
		float64(u.InputTokens)*p.InputPerMillion +
		float64(u.OutputTokens)*p.OutputPerMillion) / 1_000_000
}

// DefaultPricing returns built-in pricing for well-known models.
func DefaultPricing() map[string]Pricing {
	return map[string]Pricing{
		// Anthropic
		"claude-sonnet-4-20250514":   {3.0, 15.0, 3.75, 0.30},
		"claude-opus-4-20250514":     {15.0, 75.0, 18.75, 1.50},
		"claude-haiku-4-5-20251001":  {0.80, 4.0, 1.0, 0.08},
		"claude-3-5-sonnet-20241022": {3.0, 15.0, 3.75, 0.30},
		// OpenAI
		"gpt-4o":       {2.50, 10.0, 0, 1.25},
		"gpt-4o-mini":  {0.15, 0.60, 0, 0.075},
		"gpt-4.1":      {2.0, 8.0, 0, 0.50},
		"gpt-4.1-mini": {0.40, 1.60, 0, 0.10},
		"gpt-4.1-nano": {0.10, 0.40, 0, 0.025},
		"o3":           {2.0, 8.0, 0, 0.50},
		"o3-mini":      {1.10, 4.40, 0, 0.55},
		"o4-mini":      {1.10, 4.40, 0, 0.275},
		// DeepSeek
		"deepseek-chat":     {0.27, 1.10, 0, 0.07},
		"deepseek-reasoner": {0.55, 2.19, 0, 0.14},
		// Google
		"gemini-2.5-pro":   {1.25, 10.0, 0, 0.31},
		"gemini-2.5-flash": {0.15, 0.60, 0, 0.0375},
	}
}

// Lookup finds pricing for model: an exact match first, then the longest
// known name that prefixes it (e.g. "gpt-4o-2024-08-06" -> "gpt-4o").
func Lookup(table map[string]Pricing, model string) (Pricing, bool) {
	if p, ok := table[model]; ok {
		return p, true
	}
	best := ""
	for name := range table {
		if strings.HasPrefix(model, name) && len(name) > len(best) {
			best = name
		}
	}
	if best == "" {
		return Pricing{}, false
	}
	return table[best], true
}

// Tracker accumulates usage and dollar cost across the requests of a task.
type Tracker struct {
	mu       sync.Mutex
	pricing  Pricing
	known    bool
	usage    Usage
	cost     float64
	requests int
}

// NewTracker creates a Tracker for model using the default table merged
// with overrides.
func NewTracker(model string, overrides map[string]Pricing) *Tracker {
	table := DefaultPricing()
	for k, v := range overrides {
		table[k] = v
	}
	p, ok := Lookup(table, model)
	return &Tracker{pricing: p, known: ok}
}

// Restore seeds the tracker with totals loaded from storage.
func (t *Tracker) Restore(u Usage, total float64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.usage = u
	t.cost = total
}

// Pricing returns the prices the tracker applies.
func (t *Tracker) Pricing() Pricing {
	return t.pricing
}

// Record adds one request. When the provider reported a total cost it is
// used as-is; otherwise the cost is computed from the pricing table.
func (t *Tracker) Record(u Usage, reported *float64) float64 {
	c := Calculate(t.pricing, u)
	if reported != nil {
		c = *reported
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.usage = t.usage.Add(u)
	t.cost += c
	t.requests++
	return c
}

// Totals returns accumulated usage and cost.
func (t *Tracker) Totals() (Usage, float64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.usage, t.cost
}

// FormatCost returns a compact cost string like "$0.12".
func (t *Tracker) FormatCost() string {
	_, c := t.Totals()
	return FormatDollars(c)
}

// FormatDollars renders a dollar amount, keeping more precision for small
// amounts.
func FormatDollars(c float64) string {
	if c < 0.01 {
		return fmt.Sprintf("$%.4f", c)
	}
	return fmt.Sprintf("$%.2f", c)
}

// Summary returns a one-line description of the totals.
func (t *Tracker) Summary() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.requests == 0 && t.cost == 0 {
		return "No usage recorded."
	}
	s := fmt.Sprintf("Tokens: %d in, %d out", t.usage.InputTokens, t.usage.OutputTokens)
	if t.usage.CacheWriteTokens > 0 || t.usage.CacheReadTokens > 0 {
		s += fmt.Sprintf(", cache %d written / %d read", t.usage.CacheWriteTokens, t.usage.CacheReadTokens)
	}
	s += fmt.Sprintf(". Cost: %s", FormatDollars(t.cost))
	if !t.known {
		s += " (no pricing for model)"
	}
	return s
}
