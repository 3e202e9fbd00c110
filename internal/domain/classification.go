package domain

// Label is the outcome of classifying a trade.
type Label string

const (
	LabelNormal     Label = "normal"
	LabelSuspicious Label = "suspicious"
)

// String returns the string representation of Label.
func (l Label) String() string {
	return string(l)
}

// IsValid checks if the label is a valid value.
func (l Label) IsValid() bool {
	return l == LabelNormal || l == LabelSuspicious
}

// RuleID names the detection rule that flagged a trade.
type RuleID string

const (
	RuleSelfTrade               RuleID = "SELF_TRADE"
	RuleFrequencyThreshold      RuleID = "FREQUENCY_THRESHOLD"
	RuleNetVolumeNearZero       RuleID = "NET_VOLUME_NEAR_ZERO"
	RuleFeeBelowThreshold       RuleID = "FEE_BELOW_THRESHOLD"
	RuleRepeatedVolume          RuleID = "REPEATED_VOLUME"
	RuleSynchronizedParentChild RuleID = "SYNCHRONIZED_PARENT_CHILD"
	RuleSpoofingPattern         RuleID = "SPOOFING_PATTERN"
)

// Classification is the result of rule evaluation for one trade.
// Rule is empty for normal trades.
type Classification struct {
	Label Label
	Rule  RuleID
}

// Normal is the classification returned when no rule matches.
var Normal = Classification{Label: LabelNormal}

// Suspicious builds a suspicious classification tagged with the firing rule.
func Suspicious(rule RuleID) Classification {
	return Classification{Label: LabelSuspicious, Rule: rule}
}

// IsSuspicious reports whether any rule fired.
func (c Classification) IsSuspicious() bool {
	return c.Label == LabelSuspicious
}

// ClassifiedTrade is the row handed to persistence sinks.
type ClassifiedTrade struct {
	Trade          TradeRecord
	Classification Classification
	ClassifiedAt   int64 // unix milliseconds, wall clock
}
