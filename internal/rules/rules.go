// Package rules holds the ordered wash-trading and spoofing predicates.
package rules

import (
	"math"

	"xrpl-wash-monitor/internal/domain"
	"xrpl-wash-monitor/internal/window"
)

// WindowView is the read-only slice of the window store the rules need.
type WindowView interface {
	Count(key domain.PairKey) int
	NetVolume(key domain.PairKey) float64
	Previous(key domain.PairKey) (window.Entry, error)
	AnyWithin(key domain.PairKey, ts, band int64) bool
}

// RegistryView is the read-only slice of the relationship registry.
type RegistryView interface {
	ChildrenOf(parent string) []string
}

// Input is what every rule sees for one trade.
type Input struct {
	Trade      *domain.TradeRecord
	Window     WindowView
	Registry   RegistryView
	Thresholds Thresholds
}

// Rule is a pure predicate over one trade and the current window state.
type Rule interface {
	ID() domain.RuleID
	Match(in *Input) bool
}

type selfTrade struct{}

func (selfTrade) ID() domain.RuleID { return domain.RuleSelfTrade }

func (selfTrade) Match(in *Input) bool {
	return in.Trade.Sender == in.Trade.Receiver
}

// frequencyThreshold fires when one pair trades too often inside the window.
type frequencyThreshold struct{}

func (frequencyThreshold) ID() domain.RuleID { return domain.RuleFrequencyThreshold }

func (frequencyThreshold) Match(in *Input) bool {
	return in.Window.Count(in.Trade.Pair()) > in.Thresholds.MaxPairTrades
}

// netVolumeNearZero fires when the pair's flows cancel out.
type netVolumeNearZero struct{}

func (netVolumeNearZero) ID() domain.RuleID { return domain.RuleNetVolumeNearZero }

func (netVolumeNearZero) Match(in *Input) bool {
	return math.Abs(in.Window.NetVolume(in.Trade.Pair())) < in.Thresholds.NetVolumeEpsilon
}

type feeBelowThreshold struct{}

func (feeBelowThreshold) ID() domain.RuleID { return domain.RuleFeeBelowThreshold }

func (feeBelowThreshold) Match(in *Input) bool {
	return in.Trade.Fee < in.Thresholds.MinFee
}

// repeatedVolume compares against the trade before this one.
// The current trade's own entry is already in the window and is skipped.
type repeatedVolume struct{}

func (repeatedVolume) ID() domain.RuleID { return domain.RuleRepeatedVolume }

func (repeatedVolume) Match(in *Input) bool {
	prev, err := in.Window.Previous(in.Trade.Pair())
	if err != nil {
		return false
	}
	return math.Abs(prev.Volume-in.Trade.Volume) < in.Thresholds.VolumeEpsilon
}

// synchronizedParentChild fires when a child of the sender traded with
// the same receiver close in time.
type synchronizedParentChild struct{}

func (synchronizedParentChild) ID() domain.RuleID { return domain.RuleSynchronizedParentChild }

func (synchronizedParentChild) Match(in *Input) bool {
	if in.Registry == nil {
		return false
	}
	for _, child := range in.Registry.ChildrenOf(in.Trade.Sender) {
		key := domain.PairKey{Sender: child, Receiver: in.Trade.Receiver}
		if in.Window.AnyWithin(key, in.Trade.Timestamp, in.Thresholds.SyncBand) {
			return true
		}
	}
	return false
}

type spoofingPattern struct{}

func (spoofingPattern) ID() domain.RuleID { return domain.RuleSpoofingPattern }

func (spoofingPattern) Match(in *Input) bool {
	return in.Trade.Canceled && in.Window.Count(in.Trade.Pair()) > in.Thresholds.SpoofMinTrades
}

// Default returns the rules in evaluation priority.
func Default() []Rule {
	return []Rule{
		selfTrade{},
		frequencyThreshold{},
		netVolumeNearZero{},
		feeBelowThreshold{},
		repeatedVolume{},
		synchronizedParentChild{},
		spoofingPattern{},
	}
}
