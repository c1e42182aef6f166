// Package cost implements the Cost Ledger (spec §4.9): per-category
// running USD totals with model-specific pricing, adapted from the pack's
// token-pricing idiom.
package cost

import (
	"fmt"
	"sync"

	"go.uber.org/zap"
)

// ModelPricing holds per-million-token costs in USD.
type ModelPricing struct {
	PromptPer1M     float64
	CompletionPer1M float64
}

// knownModels covers the models the Agent Façade and its underlying editing
// agent are configured to use. Unlike the pack's EstimateCost, an unknown
// model here falls back to a conservative estimate with a logged warning
// rather than silently costing 0.0 — the ledger's total must still track
// real spend even when a new model slips in unrecognized.
var knownModels = map[string]ModelPricing{
	"claude-sonnet-4-5": {3.00, 15.00},
	"claude-opus-4-1":   {15.00, 75.00},
	"claude-3-7-sonnet": {3.00, 15.00},
	"gpt-4o":            {2.50, 10.00},
	"gpt-4o-mini":       {0.15, 0.60},
	"gemini-2.5-flash":  {0.075, 0.30},
	"gemini-1.5-pro":    {1.25, 5.00},
}

// fallbackPricing is used for a model absent from knownModels, so an
// unrecognized model still accrues a nonzero, logged estimate instead of
// distorting the ledger toward undercounting spend.
var fallbackPricing = ModelPricing{PromptPer1M: 3.00, CompletionPer1M: 15.00}

// EstimateCost returns the USD cost for a token usage against model,
// falling back to a conservative default (and a caller-supplied warning
// log) for unrecognized models.
func EstimateCost(log *zap.Logger, model string, promptTokens, completionTokens int) float64 {
	p, ok := knownModels[model]
	if !ok {
		if log != nil {
			log.Warn("unknown model pricing, using conservative fallback",
				zap.String("model", model))
		}
		p = fallbackPricing
	}
	return (float64(promptTokens)/1_000_000)*p.PromptPer1M +
		(float64(completionTokens)/1_000_000)*p.CompletionPer1M
}

// Categories named in spec §4.10's façade operations, used as the ledger's
// category keys.
const (
	CategoryPlanning       = "planning"
	CategoryImplementation = "implementation"
	CategorySelfReview     = "self_review"
	CategoryTesting        = "testing"
	CategoryPRDescription  = "pr_description"
	CategorySearch         = "search"
	CategoryOther          = "other"
)

// Ledger accumulates cost per category. Safe for concurrent use since a
// pipeline and any background screenshot/search work may record
// concurrently within one task (spec §4.9, invariant: total ==
// Σ categories, monotonic non-decreasing per category).
type Ledger struct {
	mu         sync.Mutex
	breakdown  map[string]float64
}

// New returns an empty Ledger.
func New() *Ledger {
	return &Ledger{breakdown: map[string]float64{}}
}

// Add records amount USD against category. amount must be >= 0: the ledger
// is monotonic non-decreasing per category by construction.
func (l *Ledger) Add(category string, amount float64) {
	if amount < 0 {
		amount = 0
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.breakdown[category] += amount
}

// Total returns the sum across all categories.
func (l *Ledger) Total() float64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	var total float64
	for _, v := range l.breakdown {
		total += v
	}
	return total
}

// Breakdown returns a snapshot copy of the per-category totals.
func (l *Ledger) Breakdown() map[string]float64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make(map[string]float64, len(l.breakdown))
	for k, v := range l.breakdown {
		out[k] = v
	}
	return out
}

// Report renders the ledger as the spec's get_cost_report-style map, plus a
// "total" key, for inclusion in the final PR body.
func (l *Ledger) Report() map[string]float64 {
	out := l.Breakdown()
	out["total"] = l.Total()
	return out
}

// FormatUSD renders a float64 as a "$x.xxxx" string matching the original's
// four-decimal logging convention.
func FormatUSD(amount float64) string {
	return fmt.Sprintf("$%.4f", amount)
}
