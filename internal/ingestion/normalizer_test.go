package ingestion

import (
	"bytes"
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"xrpl-wash-monitor/internal/domain"
	"xrpl-wash-monitor/internal/storage"
	"xrpl-wash-monitor/internal/xrpl"
)

func testAddress(t *testing.T, b byte) string {
	t.Helper()
	addr, err := xrpl.EncodeAddress(bytes.Repeat([]byte{b}, 20))
	require.NoError(t, err)
	return addr
}

// paymentMessage returns a transactions-stream message as a mutable map.
func paymentMessage(sender, receiver string) map[string]any {
	return map[string]any{
		"type":          "transaction",
		"engine_result": "tesSUCCESS",
		"ledger_index":  float64(90000001),
		"validated":     true,
		"transaction": map[string]any{
			"Account":         sender,
			"Destination":     receiver,
			"Amount":          "2500000",
			"Fee":             "12",
			"hash":            "ABCDEF0123",
			"TransactionType": "Payment",
			"date":            float64(757382400),
			"Sequence":        float64(42),
			"Flags":           float64(2147483648),
			"SigningPubKey":   "03AB40A0490F9B7ED8DF29D246BF2D6269820A0EE7742ACDD457BEA7C7D0931EDB",
			"Memos": []any{
				map[string]any{"Memo": map[string]any{
					"MemoType":   "6E6F7465",   // "note"
					"MemoData":   "68656C6C6F", // "hello"
					"MemoFormat": "FFFE",
				}},
			},
		},
		"meta": map[string]any{
			"TransactionResult": "tesSUCCESS",
			"delivered_amount":  "2500000",
			"AffectedNodes": []any{
				map[string]any{"ModifiedNode": map[string]any{
					"LedgerEntryType": "AccountRoot",
					"FinalFields":     map[string]any{"Account": sender, "Balance": "97499988"},
					"PreviousFields":  map[string]any{"Balance": "100000000"},
				}},
				map[string]any{"ModifiedNode": map[string]any{
					"LedgerEntryType": "AccountRoot",
					"FinalFields":     map[string]any{"Account": receiver, "Balance": "52500000"},
					"PreviousFields":  map[string]any{"Balance": "50000000"},
				}},
			},
		},
	}
}

func encode(t *testing.T, m map[string]any) []byte {
	t.Helper()
	b, err := json.Marshal(m)
	require.NoError(t, err)
	return b
}

func txOf(m map[string]any) map[string]any {
	return m["transaction"].(map[string]any)
}

func TestNormalize_Payment(t *testing.T) {
	sender, receiver := testAddress(t, 1), testAddress(t, 2)
	n := NewNormalizer(DefaultNormalizerOptions())

	ev, err := n.Normalize(encode(t, paymentMessage(sender, receiver)))
	require.NoError(t, err)
	require.Nil(t, ev.Activation)

	tr := ev.Trade
	assert.Equal(t, int64(757382400+RippleEpochOffset), tr.Timestamp)
	assert.Equal(t, int64(757382400), tr.Date)
	assert.Equal(t, sender, tr.Sender)
	assert.Equal(t, receiver, tr.Receiver)
	assert.Equal(t, domain.Amount{Currency: "XRP", Value: 2.5}, tr.Asset)
	assert.InDelta(t, 2.5, tr.Volume, 1e-12)
	assert.InDelta(t, 0.000012, tr.Fee, 1e-12)
	assert.Equal(t, "ABCDEF0123", tr.TxHash)
	assert.Equal(t, domain.TxTypePayment, tr.TxType)
	assert.Equal(t, int64(42), tr.Sequence)
	assert.Equal(t, int64(90000001), tr.LedgerIndex)
	assert.Equal(t, uint32(2147483648), tr.Flags)
	assert.False(t, tr.Canceled)
	assert.Equal(t, xrpl.KeyTypeSecp256k1, tr.SignerKeyType)
	assert.Equal(t, []domain.Memo{{Type: "note", Data: "hello", Format: "FFFE"}}, tr.Memos)
	assert.InDelta(t, -2.500012, tr.BalanceChanges.Sender, 1e-9)
	assert.InDelta(t, 2.5, tr.BalanceChanges.Receiver, 1e-9)
}

func TestNormalize_IssuedCurrency(t *testing.T) {
	sender, receiver := testAddress(t, 1), testAddress(t, 2)
	msg := paymentMessage(sender, receiver)
	amount := map[string]any{"currency": "USD", "issuer": testAddress(t, 9), "value": "12.345"}
	txOf(msg)["Amount"] = amount
	msg["meta"] = map[string]any{"TransactionResult": "tesSUCCESS", "delivered_amount": amount}

	ev, err := NewNormalizer(DefaultNormalizerOptions()).Normalize(encode(t, msg))
	require.NoError(t, err)

	assert.Equal(t, "USD", ev.Trade.Asset.Currency)
	assert.InDelta(t, 12.345, ev.Trade.Volume, 1e-12)
	// No AccountRoot nodes: fallback summary.
	assert.InDelta(t, -(12.345 + 0.000012), ev.Trade.BalanceChanges.Sender, 1e-9)
	assert.InDelta(t, 12.345, ev.Trade.BalanceChanges.Receiver, 1e-9)
}

func TestNormalize_PartialPaymentUsesDeliveredAmount(t *testing.T) {
	msg := paymentMessage(testAddress(t, 1), testAddress(t, 2))
	msg["meta"].(map[string]any)["delivered_amount"] = "1000000"

	ev, err := NewNormalizer(DefaultNormalizerOptions()).Normalize(encode(t, msg))
	require.NoError(t, err)
	assert.InDelta(t, 1.0, ev.Trade.Volume, 1e-12)
	assert.InDelta(t, 2.5, ev.Trade.Asset.Value, 1e-12)
}

func TestNormalize_Activation(t *testing.T) {
	sender, receiver := testAddress(t, 1), testAddress(t, 3)
	msg := paymentMessage(sender, receiver)
	msg["meta"] = map[string]any{
		"TransactionResult": "tesSUCCESS",
		"AffectedNodes": []any{
			map[string]any{"CreatedNode": map[string]any{
				"LedgerEntryType": "AccountRoot",
				"NewFields":       map[string]any{"Account": receiver, "Balance": "2500000", "Sequence": 1},
			}},
		},
	}

	ev, err := NewNormalizer(DefaultNormalizerOptions()).Normalize(encode(t, msg))
	require.NoError(t, err)
	require.NotNil(t, ev.Activation)
	assert.Equal(t, sender, ev.Activation.Parent)
	assert.Equal(t, receiver, ev.Activation.Child)
	assert.Equal(t, "ABCDEF0123", ev.Activation.TxHash)
	assert.Equal(t, ev.Trade.Timestamp, ev.Activation.Timestamp)
	assert.InDelta(t, 2.5, ev.Trade.BalanceChanges.Receiver, 1e-9)
}

func TestNormalize_APIv2Shape(t *testing.T) {
	msg := paymentMessage(testAddress(t, 1), testAddress(t, 2))
	tx := txOf(msg)
	delete(tx, "hash")
	delete(msg, "transaction")
	msg["tx_json"] = tx
	msg["hash"] = "V2HASH"

	ev, err := NewNormalizer(DefaultNormalizerOptions()).Normalize(encode(t, msg))
	require.NoError(t, err)
	assert.Equal(t, "V2HASH", ev.Trade.TxHash)
}

func TestNormalize_CanceledIndicator(t *testing.T) {
	msg := paymentMessage(testAddress(t, 1), testAddress(t, 2))
	msg["canceled"] = true

	ev, err := NewNormalizer(DefaultNormalizerOptions()).Normalize(encode(t, msg))
	require.NoError(t, err)
	assert.True(t, ev.Trade.Canceled)
}

func TestNormalize_OrderBookTransactionsSkipped(t *testing.T) {
	owner := testAddress(t, 4)
	offer := map[string]any{
		"LedgerEntryType": "Offer",
		"FinalFields": map[string]any{
			"Account":   owner,
			"Sequence":  float64(41),
			"TakerGets": "3000000",
			"TakerPays": map[string]any{"currency": "USD", "issuer": testAddress(t, 9), "value": "1.5"},
		},
	}
	cancel := map[string]any{
		"type":          "transaction",
		"engine_result": "tesSUCCESS",
		"ledger_index":  float64(90000002),
		"validated":     true,
		"transaction": map[string]any{
			"Account":         owner,
			"Fee":             "12",
			"Flags":           float64(0),
			"OfferSequence":   float64(41),
			"Sequence":        float64(42),
			"SigningPubKey":   "03AB40A0490F9B7ED8DF29D246BF2D6269820A0EE7742ACDD457BEA7C7D0931EDB",
			"TransactionType": domain.TxTypeOfferCancel,
			"date":            float64(757382460),
			"hash":            "0FFE4CANCE1",
		},
		"meta": map[string]any{
			"TransactionResult": "tesSUCCESS",
			"AffectedNodes":     []any{map[string]any{"DeletedNode": offer}},
		},
	}
	create := map[string]any{
		"type":          "transaction",
		"engine_result": "tesSUCCESS",
		"ledger_index":  float64(90000001),
		"validated":     true,
		"transaction": map[string]any{
			"Account":         owner,
			"Fee":             "12",
			"Flags":           float64(0),
			"Sequence":        float64(41),
			"TakerGets":       "3000000",
			"TakerPays":       map[string]any{"currency": "USD", "issuer": testAddress(t, 9), "value": "1.5"},
			"TransactionType": domain.TxTypeOfferCreate,
			"date":            float64(757382400),
			"hash":            "0FFE4C4EA7E",
		},
		"meta": map[string]any{"TransactionResult": "tesSUCCESS"},
	}

	n := NewNormalizer(NormalizerOptions{
		TxTypes:           []string{domain.TxTypePayment, domain.TxTypeOfferCreate, domain.TxTypeOfferCancel},
		ValidateAddresses: true,
	})
	for name, msg := range map[string]map[string]any{"OfferCancel": cancel, "OfferCreate": create} {
		t.Run(name, func(t *testing.T) {
			ev, err := n.Normalize(encode(t, msg))
			assert.Nil(t, ev)
			assert.ErrorIs(t, err, ErrSkipped)
			_, invalid := IsValidation(err)
			assert.False(t, invalid)
		})
	}

	// Payments still flow through the same normalizer.
	_, err := n.Normalize(encode(t, paymentMessage(testAddress(t, 1), testAddress(t, 2))))
	require.NoError(t, err)
}

func TestNormalize_Skipped(t *testing.T) {
	n := NewNormalizer(DefaultNormalizerOptions())

	_, err := n.Normalize([]byte(`{"type":"ledgerClosed","ledger_index":5}`))
	assert.ErrorIs(t, err, ErrSkipped)

	msg := paymentMessage(testAddress(t, 1), testAddress(t, 2))
	txOf(msg)["TransactionType"] = "TrustSet"
	_, err = n.Normalize(encode(t, msg))
	assert.ErrorIs(t, err, ErrSkipped)

	msg = paymentMessage(testAddress(t, 1), testAddress(t, 2))
	msg["engine_result"] = "tecUNFUNDED_PAYMENT"
	_, err = n.Normalize(encode(t, msg))
	assert.ErrorIs(t, err, ErrSkipped)
}

func TestNormalize_MissingRequiredFields(t *testing.T) {
	for _, field := range []string{"Account", "Destination", "Amount", "Fee", "hash", "TransactionType", "date", "Sequence"} {
		t.Run(field, func(t *testing.T) {
			msg := paymentMessage(testAddress(t, 1), testAddress(t, 2))
			delete(txOf(msg), field)

			_, err := NewNormalizer(DefaultNormalizerOptions()).Normalize(encode(t, msg))
			require.Error(t, err)
			assert.True(t, errors.Is(err, storage.ErrInvalidInput))

			got, ok := IsValidation(err)
			require.True(t, ok)
			assert.Equal(t, field, got)
		})
	}
}

func TestNormalize_MalformedFields(t *testing.T) {
	n := NewNormalizer(DefaultNormalizerOptions())

	_, err := n.Normalize([]byte(`{not json`))
	field, ok := IsValidation(err)
	require.True(t, ok)
	assert.Equal(t, "message", field)

	msg := paymentMessage("rNotAnAddress", testAddress(t, 2))
	_, err = n.Normalize(encode(t, msg))
	field, ok = IsValidation(err)
	require.True(t, ok)
	assert.Equal(t, "Account", field)

	msg = paymentMessage(testAddress(t, 1), testAddress(t, 2))
	txOf(msg)["Fee"] = "twelve"
	_, err = n.Normalize(encode(t, msg))
	field, ok = IsValidation(err)
	require.True(t, ok)
	assert.Equal(t, "Fee", field)
}

func TestNormalize_AddressValidationDisabled(t *testing.T) {
	n := NewNormalizer(NormalizerOptions{})
	ev, err := n.Normalize(encode(t, paymentMessage("A", "B")))
	require.NoError(t, err)
	assert.Equal(t, "A", ev.Trade.Sender)
}

func TestLedgerIndexOf(t *testing.T) {
	assert.Equal(t, int64(7), LedgerIndexOf([]byte(`{"ledger_index":7}`)))
	assert.Equal(t, int64(0), LedgerIndexOf([]byte(`{}`)))
	assert.Equal(t, int64(0), LedgerIndexOf([]byte(`nope`)))
}

func TestDecodeHexText(t *testing.T) {
	assert.Equal(t, "hi", decodeHexText("6869"))
	assert.Equal(t, "zz", decodeHexText("zz"))
	assert.Equal(t, "", decodeHexText(""))
}
