package router

import (
	"sync"

	"github.com/ertembiyik/rlm-go/internal/types"
)

// usageTracker is a monotone per-model usage accumulator (§4.E). Safe for
// concurrent use by the batched-hook fan-out.
type usageTracker struct {
	mu      sync.Mutex
	summary types.UsageSummary
	last    types.UsageEntry
}

func newUsageTracker() *usageTracker {
	return &usageTracker{summary: types.UsageSummary{}}
}

func (t *usageTracker) record(model string, entry types.UsageEntry) {
	t.mu.Lock()
	defer t.mu.Unlock()

	cur := t.summary[model]
	cur.Calls += entry.Calls
	cur.InputTokens += entry.InputTokens
	cur.OutputTokens += entry.OutputTokens
	t.summary[model] = cur
	t.last = entry
}

// GetUsageSummary returns a defensive copy of the accumulated per-model
// totals.
func (t *usageTracker) GetUsageSummary() types.UsageSummary {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.summary.Clone()
}

// GetLastUsage returns the most recently tracked single-call triple,
// regardless of which model it belonged to (§4.E).
func (t *usageTracker) GetLastUsage() types.UsageEntry {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.last
}
