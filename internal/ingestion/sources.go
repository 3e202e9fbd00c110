package ingestion

import (
	"context"

	"xrpl-wash-monitor/internal/xrpl"
)

// Source provides raw transaction stream messages.
type Source interface {
	// Name labels the source in logs and metrics.
	Name() string
	// Subscribe starts delivery. The returned channel is closed when ctx is
	// cancelled or the source stops.
	Subscribe(ctx context.Context) (<-chan []byte, error)
}

// StreamSource provides live transactions from a rippled websocket.
type StreamSource struct {
	endpoint string
	config   xrpl.WSClientConfig
}

// NewStreamSource creates a source for endpoint. The client is dialed on Subscribe.
func NewStreamSource(endpoint string, config xrpl.WSClientConfig) *StreamSource {
	return &StreamSource{endpoint: endpoint, config: config}
}

// Name returns "xrpl".
func (s *StreamSource) Name() string { return "xrpl" }

// Subscribe connects, subscribes to the transactions stream and relays
// messages until ctx is cancelled.
func (s *StreamSource) Subscribe(ctx context.Context) (<-chan []byte, error) {
	client, err := xrpl.NewWSClient(ctx, s.endpoint, &s.config)
	if err != nil {
		return nil, err
	}

	go func() {
		<-ctx.Done()
		client.Close()
	}()

	return client.Transactions(), nil
}

var _ Source = (*StreamSource)(nil)
