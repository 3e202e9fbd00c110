package notify

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"net/smtp"
	"net/textproto"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/IBM/sarama"
	"github.com/IBM/sarama/mocks"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"xrpl-wash-monitor/internal/domain"
)

func testAlert() *domain.Alert {
	trade := &domain.TradeRecord{
		Sender:   "rSender",
		Receiver: "rReceiver",
		Asset:    domain.Amount{Currency: "XRP", Value: 5},
		Volume:   5,
		Fee:      0.000001,
		TxHash:   "HASH1",
		TxType:   domain.TxTypePayment,
		Date:     757382400,
		Sequence: 7,
	}
	return domain.NewAlert(trade, domain.Suspicious(domain.RuleFeeBelowThreshold), time.Unix(1704067200, 0))
}

type stubChannel struct {
	name  string
	err   error
	calls atomic.Int32
}

func (s *stubChannel) Name() string { return s.name }

func (s *stubChannel) Send(context.Context, *domain.Alert) error {
	s.calls.Add(1)
	return s.err
}

func TestNotifier_FanOutIsolatesFailures(t *testing.T) {
	ok := &stubChannel{name: "ok"}
	bad := &stubChannel{name: "bad", err: errors.New("boom")}
	n := New(ok, nil, bad)

	require.Len(t, n.Channels(), 2)

	err := n.Notify(context.Background(), testAlert())
	require.Error(t, err)

	var ce *ChannelError
	require.True(t, errors.As(err, &ce))
	assert.Equal(t, "bad", ce.Channel)
	assert.Contains(t, err.Error(), "notify bad: boom")

	assert.Equal(t, int32(1), ok.calls.Load())
	assert.Equal(t, int32(1), bad.calls.Load())
}

func TestNotifier_NoChannels(t *testing.T) {
	assert.NoError(t, New().Notify(context.Background(), testAlert()))
}

func TestWebhookChannel_PostsText(t *testing.T) {
	var got webhookPayload
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		body, _ := io.ReadAll(r.Body)
		require.NoError(t, json.Unmarshal(body, &got))
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	ch, err := NewWebhookChannel(server.URL, time.Second)
	require.NoError(t, err)
	require.NoError(t, ch.Send(context.Background(), testAlert()))

	assert.True(t, strings.HasPrefix(got.Text, "Suspicious trade detected:\n"))
	assert.Contains(t, got.Text, "Rule: FEE_BELOW_THRESHOLD")
	assert.Contains(t, got.Text, "Sender: rSender")
}

func TestWebhookChannel_StatusClassification(t *testing.T) {
	tests := []struct {
		status    int
		wantErr   bool
		temporary bool
	}{
		{http.StatusNoContent, false, false},
		{http.StatusBadRequest, true, false},
		{http.StatusTooManyRequests, true, true},
		{http.StatusBadGateway, true, true},
	}

	for _, tt := range tests {
		t.Run(http.StatusText(tt.status), func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
			}))
			defer server.Close()

			ch, err := NewWebhookChannel(server.URL, time.Second)
			require.NoError(t, err)

			err = ch.Send(context.Background(), testAlert())
			if !tt.wantErr {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Equal(t, tt.temporary, errors.Is(err, ErrTemporary))
		})
	}
}

func TestWebhookChannel_Unreachable(t *testing.T) {
	server := httptest.NewServer(http.NotFoundHandler())
	url := server.URL
	server.Close()

	ch, err := NewWebhookChannel(url, time.Second)
	require.NoError(t, err)
	assert.ErrorIs(t, ch.Send(context.Background(), testAlert()), ErrTemporary)
}

func TestNewWebhookChannel_RequiresURL(t *testing.T) {
	_, err := NewWebhookChannel("", 0)
	assert.Error(t, err)
}

func TestEmailChannel_Message(t *testing.T) {
	ch, err := NewEmailChannel(EmailConfig{
		Host:     "smtp.example.com",
		Username: "user",
		Password: "secret",
		From:     "monitor@example.com",
		To:       []string{"ops@example.com", "risk@example.com"},
	})
	require.NoError(t, err)

	var (
		gotAddr string
		gotTo   []string
		gotMsg  []byte
		gotAuth smtp.Auth
	)
	ch.sendMail = func(addr string, a smtp.Auth, from string, to []string, msg []byte) error {
		gotAddr, gotAuth, gotTo, gotMsg = addr, a, to, msg
		return nil
	}
	ch.now = func() time.Time { return time.Unix(1704067200, 0) }

	require.NoError(t, ch.Send(context.Background(), testAlert()))

	assert.Equal(t, "smtp.example.com:587", gotAddr)
	assert.NotNil(t, gotAuth)
	assert.Equal(t, []string{"ops@example.com", "risk@example.com"}, gotTo)

	reader := textproto.NewReader(bufio.NewReader(strings.NewReader(string(gotMsg))))
	header, err := reader.ReadMIMEHeader()
	require.NoError(t, err)
	assert.Equal(t, "Suspicious Trade Alert", header.Get("Subject"))
	assert.Equal(t, "ops@example.com, risk@example.com", header.Get("To"))
	assert.Contains(t, string(gotMsg), "Tx Hash: HASH1\r\n")
}

func TestEmailChannel_ErrorClassification(t *testing.T) {
	ch, err := NewEmailChannel(EmailConfig{Host: "h", From: "f@x", To: []string{"t@x"}})
	require.NoError(t, err)

	ch.sendMail = func(string, smtp.Auth, string, []string, []byte) error {
		return &textproto.Error{Code: 451, Msg: "try again later"}
	}
	assert.ErrorIs(t, ch.Send(context.Background(), testAlert()), ErrTemporary)

	ch.sendMail = func(string, smtp.Auth, string, []string, []byte) error {
		return &textproto.Error{Code: 550, Msg: "mailbox unavailable"}
	}
	err = ch.Send(context.Background(), testAlert())
	require.Error(t, err)
	assert.False(t, errors.Is(err, ErrTemporary))
}

func TestEmailConfig_Validate(t *testing.T) {
	assert.Error(t, EmailConfig{}.Validate())
	assert.Error(t, EmailConfig{Host: "h"}.Validate())
	assert.Error(t, EmailConfig{Host: "h", From: "f"}.Validate())
	assert.NoError(t, EmailConfig{Host: "h", From: "f", To: []string{"t"}}.Validate())
}

func TestKafkaChannel_PublishesEnvelope(t *testing.T) {
	producer := mocks.NewSyncProducer(t, nil)
	producer.ExpectSendMessageWithCheckerFunctionAndSucceed(func(val []byte) error {
		var env Envelope
		if err := json.Unmarshal(val, &env); err != nil {
			return err
		}
		if env.Type != EnvelopeTypeAlert {
			return errors.New("unexpected envelope type " + env.Type)
		}
		var a domain.Alert
		if err := json.Unmarshal(env.Data, &a); err != nil {
			return err
		}
		if a.TxHash != "HASH1" {
			return errors.New("unexpected tx hash " + a.TxHash)
		}
		return nil
	})

	ch := NewKafkaChannelWithProducer(producer, "xrpl.alerts")
	require.NoError(t, ch.Send(context.Background(), testAlert()))
	require.NoError(t, ch.Close())
}

func TestKafkaChannel_SendFailureIsTemporary(t *testing.T) {
	producer := mocks.NewSyncProducer(t, nil)
	producer.ExpectSendMessageAndFail(sarama.ErrOutOfBrokers)

	ch := NewKafkaChannelWithProducer(producer, "xrpl.alerts")
	assert.ErrorIs(t, ch.Send(context.Background(), testAlert()), ErrTemporary)
	require.NoError(t, ch.Close())
}

func TestLogFileChannel_WritesJSONLines(t *testing.T) {
	path := filepath.Join(t.TempDir(), "alerts.log")
	ch, err := NewLogFileChannel(path)
	require.NoError(t, err)

	require.NoError(t, ch.Send(context.Background(), testAlert()))
	require.NoError(t, ch.Send(context.Background(), testAlert()))
	require.NoError(t, ch.Close())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	require.Len(t, lines, 2)

	var entry map[string]any
	require.NoError(t, json.Unmarshal([]byte(lines[0]), &entry))
	assert.Equal(t, "suspicious trade", entry["msg"])
	assert.Equal(t, "FEE_BELOW_THRESHOLD", entry["rule"])
	assert.Equal(t, "HASH1", entry["tx_hash"])
}
