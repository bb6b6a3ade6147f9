package types

import "sync"

// TokenUsage represents token consumption statistics for one call.
type TokenUsage struct {
	PromptTokens     int     `json:"prompt_tokens,omitempty"`
	CompletionTokens int     `json:"completion_tokens,omitempty"`
	TotalTokens      int     `json:"total_tokens,omitempty"`
	Cost             float64 `json:"cost,omitempty"`
}

// Add adds another TokenUsage to this one.
func (u *TokenUsage) Add(other TokenUsage) {
	u.PromptTokens += other.PromptTokens
	u.CompletionTokens += other.CompletionTokens
	u.TotalTokens += other.TotalTokens
	u.Cost += other.Cost
}

// UsageAccumulator 每查询用量累加器。
//
// 沿调用链显式传递，由各阶段（embedding、judge、answer generation）记录
// token 消耗，查询结束后由调用方一次性读取。不使用任何包级全局状态，
// 因此并发查询各自持有独立的累加器即可安全使用。
type UsageAccumulator struct {
	mu     sync.Mutex
	stages map[string]TokenUsage
	total  TokenUsage
}

// NewUsageAccumulator creates an empty accumulator.
func NewUsageAccumulator() *UsageAccumulator {
	return &UsageAccumulator{stages: make(map[string]TokenUsage)}
}

// Record adds usage under the named pipeline stage ("embed", "judge",
// "reformulate", "generate", ...). A nil accumulator is a no-op so callers
// may pass nil when they do not care about accounting.
func (a *UsageAccumulator) Record(stage string, usage TokenUsage) {
	if a == nil {
		return
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	s := a.stages[stage]
	s.Add(usage)
	a.stages[stage] = s
	a.total.Add(usage)
}

// Total returns the aggregated usage across all stages.
func (a *UsageAccumulator) Total() TokenUsage {
	if a == nil {
		return TokenUsage{}
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.total
}

// Stage returns the usage recorded for a single stage.
func (a *UsageAccumulator) Stage(stage string) TokenUsage {
	if a == nil {
		return TokenUsage{}
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.stages[stage]
}

// Stages returns a copy of the per-stage usage map.
func (a *UsageAccumulator) Stages() map[string]TokenUsage {
	if a == nil {
		return nil
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make(map[string]TokenUsage, len(a.stages))
	for k, v := range a.stages {
		out[k] = v
	}
	return out
}
