package domain

// Amount describes the asset moved by a transaction.
// XRP amounts carry Currency "XRP" and an empty Issuer; Value is in XRP, not drops.
type Amount struct {
	Currency string  `json:"currency"`
	Issuer   string  `json:"issuer,omitempty"`
	Value    float64 `json:"value"`
}

// String renders the amount the way alerts and the SQLite sink print it.
func (a Amount) String() string {
	if a.Issuer == "" {
		return formatFloat(a.Value) + " " + a.Currency
	}
	return formatFloat(a.Value) + " " + a.Currency + "/" + a.Issuer
}

// Memo is a decoded transaction memo.
type Memo struct {
	Type   string `json:"type,omitempty"`
	Data   string `json:"data,omitempty"`
	Format string `json:"format,omitempty"`
}

// BalanceChange summarizes how the trade moved the two accounts' balances.
type BalanceChange struct {
	Sender   float64 `json:"sender"`
	Receiver float64 `json:"receiver"`
}

// TradeRecord is one normalized ledger transaction under classification.
// It is treated as immutable once built by the normalizer.
type TradeRecord struct {
	Timestamp int64 // unix seconds (ledger close time)
	Sender    string
	Receiver  string
	Asset     Amount
	Volume    float64 // signed transferred volume
	Fee       float64 // XRP

	TxHash      string
	TxType      string
	Date        int64 // raw ledger date (seconds since Ripple epoch)
	Sequence    int64
	LedgerIndex int64

	Memos          []Memo
	Flags          uint32
	Canceled       bool
	BalanceChanges BalanceChange

	SignerKeyType string // "ed25519", "secp256k1" or empty
}

// Pair returns the directed account pair the trade is tracked under.
func (t *TradeRecord) Pair() PairKey {
	return PairKey{Sender: t.Sender, Receiver: t.Receiver}
}

// Transaction types with special handling.
const (
	TxTypePayment     = "Payment"
	TxTypeOfferCreate = "OfferCreate"
	TxTypeOfferCancel = "OfferCancel"
)
