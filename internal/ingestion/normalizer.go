package ingestion

import (
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"unicode/utf8"

	"github.com/shopspring/decimal"

	"xrpl-wash-monitor/internal/domain"
	"xrpl-wash-monitor/internal/storage"
	"xrpl-wash-monitor/internal/xrpl"
)

// RippleEpochOffset converts ledger dates (seconds since 2000-01-01) to unix seconds.
const RippleEpochOffset = 946684800

// dropsExponent shifts drops to XRP.
const dropsExponent = -6

// ErrSkipped is returned for stream messages that carry nothing to classify:
// untracked transaction types, failed transactions, non-transaction messages.
var ErrSkipped = errors.New("event skipped")

// ValidationError reports an event that is missing or has a malformed
// required field. It matches storage.ErrInvalidInput with errors.Is.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Reason == "" {
		return fmt.Sprintf("invalid event: missing %s", e.Field)
	}
	return fmt.Sprintf("invalid event: %s: %s", e.Field, e.Reason)
}

func (e *ValidationError) Unwrap() error {
	return storage.ErrInvalidInput
}

func missing(field string) error {
	return &ValidationError{Field: field}
}

func malformed(field, reason string) error {
	return &ValidationError{Field: field, Reason: reason}
}

// Event is one normalized stream message.
type Event struct {
	Trade domain.TradeRecord
	// Activation is set when the transaction created the destination account.
	Activation *domain.AccountActivation
}

// NormalizerOptions configures a Normalizer.
type NormalizerOptions struct {
	// TxTypes lists the transaction types turned into trades.
	// Defaults to Payment only.
	TxTypes []string
	// ValidateAddresses rejects accounts that are not valid classic addresses.
	ValidateAddresses bool
}

// DefaultNormalizerOptions returns the options used by the monitor.
func DefaultNormalizerOptions() NormalizerOptions {
	return NormalizerOptions{
		TxTypes:           []string{domain.TxTypePayment},
		ValidateAddresses: true,
	}
}

// Normalizer turns raw XRPL transaction stream messages into trade records.
// It is stateless and safe for concurrent use.
type Normalizer struct {
	types    map[string]struct{}
	validate bool
}

// NewNormalizer creates a Normalizer.
func NewNormalizer(opts NormalizerOptions) *Normalizer {
	if len(opts.TxTypes) == 0 {
		opts.TxTypes = DefaultNormalizerOptions().TxTypes
	}
	types := make(map[string]struct{}, len(opts.TxTypes))
	for _, t := range opts.TxTypes {
		types[t] = struct{}{}
	}
	return &Normalizer{types: types, validate: opts.ValidateAddresses}
}

// Normalize parses one raw stream message.
// Returns ErrSkipped for messages that carry no trade and a *ValidationError
// when a required field is missing or malformed.
func (n *Normalizer) Normalize(raw []byte) (*Event, error) {
	var msg streamMessage
	if err := json.Unmarshal(raw, &msg); err != nil {
		return nil, malformed("message", err.Error())
	}
	if msg.Type != "" && msg.Type != "transaction" {
		return nil, ErrSkipped
	}

	tx := msg.Transaction
	if tx == nil {
		tx = msg.TxJSON
	}
	if tx == nil {
		return nil, missing("transaction")
	}

	if tx.TransactionType == "" {
		return nil, missing("TransactionType")
	}
	if _, ok := n.types[tx.TransactionType]; !ok {
		return nil, ErrSkipped
	}
	if !msg.succeeded() {
		return nil, ErrSkipped
	}
	if orderBookType(tx.TransactionType) {
		// Offers name no Destination; they are not transfers between two accounts.
		return nil, ErrSkipped
	}

	trade, err := n.trade(&msg, tx)
	if err != nil {
		return nil, err
	}

	ev := &Event{Trade: *trade}
	if child, ok := createdAccount(msg.Meta); ok && child == trade.Receiver {
		ev.Activation = &domain.AccountActivation{
			Parent:    trade.Sender,
			Child:     child,
			TxHash:    trade.TxHash,
			Timestamp: trade.Timestamp,
		}
	}
	return ev, nil
}

func (n *Normalizer) trade(msg *streamMessage, tx *rawTransaction) (*domain.TradeRecord, error) {
	if tx.Account == "" {
		return nil, missing("Account")
	}
	if tx.Destination == "" {
		return nil, missing("Destination")
	}
	if n.validate {
		if !xrpl.ValidAddress(tx.Account) {
			return nil, malformed("Account", "not a classic address")
		}
		if !xrpl.ValidAddress(tx.Destination) {
			return nil, malformed("Destination", "not a classic address")
		}
	}

	if len(tx.Amount) == 0 {
		return nil, missing("Amount")
	}
	asset, err := parseAmount(tx.Amount)
	if err != nil {
		return nil, malformed("Amount", err.Error())
	}
	volume := asset.Value
	if msg.Meta != nil && len(msg.Meta.DeliveredAmount) > 0 {
		// "unavailable" on old ledgers; keep Amount then.
		if delivered, err := parseAmount(msg.Meta.DeliveredAmount); err == nil {
			volume = delivered.Value
		}
	}

	if tx.Fee == "" {
		return nil, missing("Fee")
	}
	fee, err := dropsToXRP(tx.Fee)
	if err != nil {
		return nil, malformed("Fee", err.Error())
	}

	hash := tx.Hash
	if hash == "" {
		hash = msg.Hash
	}
	if hash == "" {
		return nil, missing("hash")
	}
	if tx.Date == nil {
		return nil, missing("date")
	}
	if tx.Sequence == nil {
		return nil, missing("Sequence")
	}

	var flags uint32
	if tx.Flags != nil {
		flags = *tx.Flags
	}
	var ledgerIndex int64
	if msg.LedgerIndex != nil {
		ledgerIndex = *msg.LedgerIndex
	}

	t := &domain.TradeRecord{
		Timestamp:     *tx.Date + RippleEpochOffset,
		Sender:        tx.Account,
		Receiver:      tx.Destination,
		Asset:         asset,
		Volume:        volume,
		Fee:           fee,
		TxHash:        hash,
		TxType:        tx.TransactionType,
		Date:          *tx.Date,
		Sequence:      *tx.Sequence,
		LedgerIndex:   ledgerIndex,
		Memos:         decodeMemos(tx.Memos),
		Flags:         flags,
		Canceled:      msg.Canceled,
		SignerKeyType: xrpl.SigningKeyType(tx.SigningPubKey),
	}
	t.BalanceChanges = balanceChanges(msg.Meta, t)
	return t, nil
}

func orderBookType(txType string) bool {
	return txType == domain.TxTypeOfferCreate || txType == domain.TxTypeOfferCancel
}

// parseAmount accepts either a drops string (XRP) or an issued-currency object.
func parseAmount(raw json.RawMessage) (domain.Amount, error) {
	var drops string
	if err := json.Unmarshal(raw, &drops); err == nil {
		v, err := dropsToXRP(drops)
		if err != nil {
			return domain.Amount{}, err
		}
		return domain.Amount{Currency: "XRP", Value: v}, nil
	}

	var iou struct {
		Currency string `json:"currency"`
		Issuer   string `json:"issuer"`
		Value    string `json:"value"`
	}
	if err := json.Unmarshal(raw, &iou); err != nil {
		return domain.Amount{}, fmt.Errorf("unsupported amount %s", raw)
	}
	if iou.Currency == "" || iou.Value == "" {
		return domain.Amount{}, fmt.Errorf("incomplete amount %s", raw)
	}
	d, err := decimal.NewFromString(iou.Value)
	if err != nil {
		return domain.Amount{}, fmt.Errorf("amount value %q: %w", iou.Value, err)
	}
	v, _ := d.Float64()
	return domain.Amount{Currency: iou.Currency, Issuer: iou.Issuer, Value: v}, nil
}

func dropsToXRP(drops string) (float64, error) {
	d, err := decimal.NewFromString(drops)
	if err != nil {
		return 0, fmt.Errorf("drops %q: %w", drops, err)
	}
	v, _ := d.Shift(dropsExponent).Float64()
	return v, nil
}

// decodeMemos hex-decodes memo fields, keeping the raw hex when the
// payload is not valid UTF-8 text.
func decodeMemos(in []rawMemoWrapper) []domain.Memo {
	if len(in) == 0 {
		return nil
	}
	out := make([]domain.Memo, 0, len(in))
	for _, w := range in {
		out = append(out, domain.Memo{
			Type:   decodeHexText(w.Memo.MemoType),
			Data:   decodeHexText(w.Memo.MemoData),
			Format: decodeHexText(w.Memo.MemoFormat),
		})
	}
	return out
}

func decodeHexText(s string) string {
	if s == "" {
		return ""
	}
	b, err := hex.DecodeString(s)
	if err != nil || !utf8.Valid(b) {
		return s
	}
	return string(b)
}

// balanceChanges computes XRP balance deltas of both parties from the
// AccountRoot nodes in meta. A side without a node falls back to
// -(volume+fee) for the sender and +volume for the receiver.
func balanceChanges(meta *rawMeta, t *domain.TradeRecord) domain.BalanceChange {
	bc := domain.BalanceChange{
		Sender:   -(t.Volume + t.Fee),
		Receiver: t.Volume,
	}
	if meta == nil {
		return bc
	}
	for _, n := range meta.AffectedNodes {
		account, delta, ok := n.accountRootDelta()
		if !ok {
			continue
		}
		switch account {
		case t.Sender:
			bc.Sender = delta
		case t.Receiver:
			bc.Receiver = delta
		}
	}
	return bc
}

// createdAccount returns the account of a newly created AccountRoot.
func createdAccount(meta *rawMeta) (string, bool) {
	if meta == nil {
		return "", false
	}
	for _, n := range meta.AffectedNodes {
		if n.CreatedNode == nil || n.CreatedNode.LedgerEntryType != "AccountRoot" {
			continue
		}
		var f accountRootFields
		if err := json.Unmarshal(n.CreatedNode.NewFields, &f); err != nil || f.Account == "" {
			continue
		}
		return f.Account, true
	}
	return "", false
}

// Wire types of the rippled transactions stream.

type streamMessage struct {
	Type         string          `json:"type"`
	EngineResult string          `json:"engine_result"`
	LedgerIndex  *int64          `json:"ledger_index"`
	Hash         string          `json:"hash"`
	Transaction  *rawTransaction `json:"transaction"`
	TxJSON       *rawTransaction `json:"tx_json"`
	Meta         *rawMeta        `json:"meta"`
	Canceled     bool            `json:"canceled"`
}

func (m *streamMessage) succeeded() bool {
	result := m.EngineResult
	if result == "" && m.Meta != nil {
		result = m.Meta.TransactionResult
	}
	return result == "" || result == "tesSUCCESS"
}

type rawTransaction struct {
	Account         string           `json:"Account"`
	Destination     string           `json:"Destination"`
	Amount          json.RawMessage  `json:"Amount"`
	Fee             string           `json:"Fee"`
	Hash            string           `json:"hash"`
	TransactionType string           `json:"TransactionType"`
	Date            *int64           `json:"date"`
	Sequence        *int64           `json:"Sequence"`
	Flags           *uint32          `json:"Flags"`
	Memos           []rawMemoWrapper `json:"Memos"`
	SigningPubKey   string           `json:"SigningPubKey"`
}

type rawMemoWrapper struct {
	Memo struct {
		MemoType   string `json:"MemoType"`
		MemoData   string `json:"MemoData"`
		MemoFormat string `json:"MemoFormat"`
	} `json:"Memo"`
}

type rawMeta struct {
	TransactionResult string          `json:"TransactionResult"`
	DeliveredAmount   json.RawMessage `json:"delivered_amount"`
	AffectedNodes     []affectedNode  `json:"AffectedNodes"`
}

type affectedNode struct {
	CreatedNode  *ledgerNode `json:"CreatedNode"`
	ModifiedNode *ledgerNode `json:"ModifiedNode"`
	DeletedNode  *ledgerNode `json:"DeletedNode"`
}

type ledgerNode struct {
	LedgerEntryType string          `json:"LedgerEntryType"`
	NewFields       json.RawMessage `json:"NewFields"`
	FinalFields     json.RawMessage `json:"FinalFields"`
	PreviousFields  json.RawMessage `json:"PreviousFields"`
}

type accountRootFields struct {
	Account string `json:"Account"`
	Balance string `json:"Balance"`
}

// accountRootDelta returns the XRP balance change an AccountRoot node records.
func (n affectedNode) accountRootDelta() (string, float64, bool) {
	switch {
	case n.CreatedNode != nil && n.CreatedNode.LedgerEntryType == "AccountRoot":
		var f accountRootFields
		if json.Unmarshal(n.CreatedNode.NewFields, &f) != nil || f.Account == "" {
			return "", 0, false
		}
		bal, err := dropsToXRP(f.Balance)
		if err != nil {
			return "", 0, false
		}
		return f.Account, bal, true

	case n.ModifiedNode != nil && n.ModifiedNode.LedgerEntryType == "AccountRoot":
		var final, prev accountRootFields
		if json.Unmarshal(n.ModifiedNode.FinalFields, &final) != nil || final.Account == "" {
			return "", 0, false
		}
		if len(n.ModifiedNode.PreviousFields) == 0 ||
			json.Unmarshal(n.ModifiedNode.PreviousFields, &prev) != nil || prev.Balance == "" {
			return "", 0, false
		}
		after, err := decimal.NewFromString(final.Balance)
		if err != nil {
			return "", 0, false
		}
		before, err := decimal.NewFromString(prev.Balance)
		if err != nil {
			return "", 0, false
		}
		delta, _ := after.Sub(before).Shift(dropsExponent).Float64()
		return final.Account, delta, true
	}
	return "", 0, false
}

// LedgerIndexOf extracts ledger_index from a raw message without full
// normalization. Returns 0 when absent.
func LedgerIndexOf(raw []byte) int64 {
	var probe struct {
		LedgerIndex *int64 `json:"ledger_index"`
	}
	if err := json.Unmarshal(raw, &probe); err != nil || probe.LedgerIndex == nil {
		return 0
	}
	return *probe.LedgerIndex
}

// IsValidation reports whether err is a normalizer validation failure and
// returns the offending field.
func IsValidation(err error) (string, bool) {
	var ve *ValidationError
	if errors.As(err, &ve) {
		return ve.Field, true
	}
	return "", false
}
