package domain

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Alert is the structured payload delivered to notification channels
// for every suspicious trade.
type Alert struct {
	ID         string        `json:"id"`
	Rule       RuleID        `json:"rule"`
	Sender     string        `json:"sender"`
	Receiver   string        `json:"receiver"`
	Volume     float64       `json:"volume"`
	Asset      string        `json:"asset"`
	Fee        float64       `json:"fee"`
	TxHash     string        `json:"tx_hash"`
	TxType     string        `json:"tx_type"`
	Date       int64         `json:"date"`
	Sequence   int64         `json:"sequence"`
	Memos      []Memo        `json:"memos"`
	Flags      uint32        `json:"flags"`
	Balance    BalanceChange `json:"balance_changes"`
	DetectedAt time.Time     `json:"detected_at"`
}

// AlertSubject is the subject line used by message transports.
const AlertSubject = "Suspicious Trade Alert"

// NewAlert builds an alert for a suspicious classification.
func NewAlert(t *TradeRecord, c Classification, now time.Time) *Alert {
	memos := t.Memos
	if memos == nil {
		memos = []Memo{}
	}
	return &Alert{
		ID:         uuid.NewString(),
		Rule:       c.Rule,
		Sender:     t.Sender,
		Receiver:   t.Receiver,
		Volume:     t.Volume,
		Asset:      t.Asset.String(),
		Fee:        t.Fee,
		TxHash:     t.TxHash,
		TxType:     t.TxType,
		Date:       t.Date,
		Sequence:   t.Sequence,
		Memos:      memos,
		Flags:      t.Flags,
		Balance:    t.BalanceChanges,
		DetectedAt: now.UTC(),
	}
}

// Text renders the human-readable alert body.
func (a *Alert) Text() string {
	memos, _ := json.Marshal(a.Memos)
	balance, _ := json.Marshal(a.Balance)

	var b strings.Builder
	b.WriteString("Suspicious trade detected:\n")
	fmt.Fprintf(&b, "Rule: %s\n", a.Rule)
	fmt.Fprintf(&b, "Sender: %s\n", a.Sender)
	fmt.Fprintf(&b, "Receiver: %s\n", a.Receiver)
	fmt.Fprintf(&b, "Volume: %s\n", formatFloat(a.Volume))
	fmt.Fprintf(&b, "Asset: %s\n", a.Asset)
	fmt.Fprintf(&b, "Txn Fee: %s\n", formatFloat(a.Fee))
	fmt.Fprintf(&b, "Tx Hash: %s\n", a.TxHash)
	fmt.Fprintf(&b, "Tx Type: %s\n", a.TxType)
	fmt.Fprintf(&b, "Date: %d\n", a.Date)
	fmt.Fprintf(&b, "Sequence: %d\n", a.Sequence)
	fmt.Fprintf(&b, "Memos: %s\n", memos)
	fmt.Fprintf(&b, "Flags: %d\n", a.Flags)
	fmt.Fprintf(&b, "Balance Changes: %s", balance)
	return b.String()
}
