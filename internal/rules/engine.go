package rules

import "xrpl-wash-monitor/internal/domain"

// Engine evaluates rules in fixed priority order. The first match wins.
type Engine struct {
	rules      []Rule
	thresholds Thresholds
}

// NewEngine creates an Engine with the default rule set.
func NewEngine(th Thresholds) *Engine {
	return &Engine{rules: Default(), thresholds: th}
}

// NewEngineWithRules creates an Engine over a custom ordered rule set.
func NewEngineWithRules(th Thresholds, rules []Rule) *Engine {
	return &Engine{rules: rules, thresholds: th}
}

// Thresholds returns the engine's thresholds.
func (e *Engine) Thresholds() Thresholds {
	return e.thresholds
}

// Evaluate classifies trade against the current state.
// The trade's own window append must already have happened.
// Evaluate never mutates w or reg.
func (e *Engine) Evaluate(trade *domain.TradeRecord, w WindowView, reg RegistryView) domain.Classification {
	in := &Input{
		Trade:      trade,
		Window:     w,
		Registry:   reg,
		Thresholds: e.thresholds,
	}
	for _, r := range e.rules {
		if r.Match(in) {
			return domain.Suspicious(r.ID())
		}
	}
	return domain.Normal
}
