// Package xrpl talks to rippled websocket endpoints and validates
// classic ledger addresses.
package xrpl

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"xrpl-wash-monitor/internal/logging"
	"xrpl-wash-monitor/internal/retry"
)

// ErrClosed is returned by calls on a closed client.
var ErrClosed = errors.New("xrpl: client closed")

// WSClientConfig configures WebSocket client behavior.
type WSClientConfig struct {
	// Streams to subscribe to. Defaults to ["transactions"].
	Streams []string
	// ReconnectDelay is initial delay before reconnect attempt.
	ReconnectDelay time.Duration
	// MaxReconnectDelay is maximum delay between reconnect attempts.
	MaxReconnectDelay time.Duration
	// PingInterval is interval for sending ping frames.
	PingInterval time.Duration
	// ReadTimeout is timeout for reading messages.
	ReadTimeout time.Duration
	// WriteTimeout is timeout for writing messages.
	WriteTimeout time.Duration
	// SubscribeTimeout bounds the wait for the initial subscribe response.
	SubscribeTimeout time.Duration
	// BufferSize is the capacity of the transaction channel.
	BufferSize int
	// OnReconnect is called after every reconnect attempt with its outcome.
	OnReconnect func(attempt int, err error)

	Logger *zap.Logger
}

// DefaultWSConfig returns default WebSocket configuration.
func DefaultWSConfig() WSClientConfig {
	return WSClientConfig{
		Streams:           []string{"transactions"},
		ReconnectDelay:    1 * time.Second,
		MaxReconnectDelay: 30 * time.Second,
		PingInterval:      30 * time.Second,
		ReadTimeout:       60 * time.Second,
		WriteTimeout:      10 * time.Second,
		SubscribeTimeout:  30 * time.Second,
		BufferSize:        10000,
	}
}

func (c WSClientConfig) withDefaults() WSClientConfig {
	d := DefaultWSConfig()
	if len(c.Streams) == 0 {
		c.Streams = d.Streams
	}
	if c.ReconnectDelay <= 0 {
		c.ReconnectDelay = d.ReconnectDelay
	}
	if c.MaxReconnectDelay <= 0 {
		c.MaxReconnectDelay = d.MaxReconnectDelay
	}
	if c.PingInterval <= 0 {
		c.PingInterval = d.PingInterval
	}
	if c.ReadTimeout <= 0 {
		c.ReadTimeout = d.ReadTimeout
	}
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = d.WriteTimeout
	}
	if c.SubscribeTimeout <= 0 {
		c.SubscribeTimeout = d.SubscribeTimeout
	}
	if c.BufferSize <= 0 {
		c.BufferSize = d.BufferSize
	}
	c.Logger = logging.OrNop(c.Logger)
	return c
}

// WSClient subscribes to a rippled websocket and delivers raw
// transaction stream messages.
type WSClient struct {
	endpoint string
	config   WSClientConfig
	backoff  retry.Policy
	log      *zap.Logger

	conn      *websocket.Conn
	connMu    sync.Mutex
	closed    atomic.Bool
	requestID atomic.Uint64

	// pending maps request ID to the waiter for its response
	pending   map[uint64]chan error
	pendingMu sync.Mutex

	out chan []byte

	// done signals shutdown
	done chan struct{}
	wg   sync.WaitGroup
}

// NewWSClient connects to endpoint, subscribes to the configured streams and
// starts the read and ping loops.
func NewWSClient(ctx context.Context, endpoint string, config *WSClientConfig) (*WSClient, error) {
	var cfg WSClientConfig
	if config != nil {
		cfg = *config
	}
	cfg = cfg.withDefaults()

	c := &WSClient{
		endpoint: endpoint,
		config:   cfg,
		backoff: retry.Policy{
			BaseDelay: cfg.ReconnectDelay,
			MaxDelay:  cfg.MaxReconnectDelay,
		},
		log:     cfg.Logger.Named("xrpl"),
		pending: make(map[uint64]chan error),
		out:     make(chan []byte, cfg.BufferSize),
		done:    make(chan struct{}),
	}

	if err := c.connect(ctx); err != nil {
		return nil, err
	}

	c.wg.Add(1)
	go c.readLoop()

	if err := c.subscribe(ctx); err != nil {
		c.Close()
		return nil, err
	}

	c.wg.Add(1)
	go c.pingLoop()

	return c, nil
}

// Transactions returns the channel of raw "transaction" messages.
// It is closed by Close.
func (c *WSClient) Transactions() <-chan []byte {
	return c.out
}

// connect establishes WebSocket connection.
func (c *WSClient) connect(ctx context.Context) error {
	dialer := websocket.Dialer{
		HandshakeTimeout: 10 * time.Second,
	}

	conn, _, err := dialer.DialContext(ctx, c.endpoint, nil)
	if err != nil {
		return fmt.Errorf("websocket dial: %w", err)
	}

	c.connMu.Lock()
	defer c.connMu.Unlock()
	if c.closed.Load() {
		conn.Close()
		return ErrClosed
	}
	c.conn = conn
	return nil
}

// subscribe sends the subscribe command and waits for rippled to accept it.
func (c *WSClient) subscribe(ctx context.Context) error {
	reqID, waitCh, err := c.sendSubscribe(true)
	if err != nil {
		return err
	}

	timer := time.NewTimer(c.config.SubscribeTimeout)
	defer timer.Stop()

	select {
	case err, ok := <-waitCh:
		if !ok {
			return ErrClosed
		}
		return err
	case <-timer.C:
		c.dropPending(reqID)
		return fmt.Errorf("subscribe timeout after %s", c.config.SubscribeTimeout)
	case <-c.done:
		return ErrClosed
	case <-ctx.Done():
		c.dropPending(reqID)
		return ctx.Err()
	}
}

// sendSubscribe writes a subscribe command. When wait is true the returned
// channel receives the outcome of the response.
func (c *WSClient) sendSubscribe(wait bool) (uint64, chan error, error) {
	if c.closed.Load() {
		return 0, nil, ErrClosed
	}

	reqID := c.requestID.Add(1)
	req := wsRequest{
		ID:      reqID,
		Command: "subscribe",
		Streams: c.config.Streams,
	}

	var waitCh chan error
	if wait {
		waitCh = make(chan error, 1)
		c.pendingMu.Lock()
		c.pending[reqID] = waitCh
		c.pendingMu.Unlock()
	}

	c.connMu.Lock()
	if c.conn == nil {
		c.connMu.Unlock()
		c.dropPending(reqID)
		return 0, nil, fmt.Errorf("not connected")
	}
	c.conn.SetWriteDeadline(time.Now().Add(c.config.WriteTimeout))
	err := c.conn.WriteJSON(req)
	c.connMu.Unlock()

	if err != nil {
		c.dropPending(reqID)
		return 0, nil, fmt.Errorf("write subscribe: %w", err)
	}
	return reqID, waitCh, nil
}

func (c *WSClient) dropPending(reqID uint64) {
	c.pendingMu.Lock()
	delete(c.pending, reqID)
	c.pendingMu.Unlock()
}

// Close closes the WebSocket connection and the transaction channel.
func (c *WSClient) Close() error {
	if c.closed.Swap(true) {
		return nil // Already closed
	}

	close(c.done)

	c.connMu.Lock()
	if c.conn != nil {
		c.conn.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
		c.conn.Close()
	}
	c.connMu.Unlock()

	c.pendingMu.Lock()
	for id, ch := range c.pending {
		close(ch)
		delete(c.pending, id)
	}
	c.pendingMu.Unlock()

	c.wg.Wait()
	close(c.out)
	return nil
}

// readLoop reads messages and reconnects with exponential backoff on failure.
func (c *WSClient) readLoop() {
	defer c.wg.Done()

	for !c.closed.Load() {
		c.connMu.Lock()
		conn := c.conn
		c.connMu.Unlock()

		if conn == nil {
			if !c.reconnect() {
				return
			}
			continue
		}

		conn.SetReadDeadline(time.Now().Add(c.config.ReadTimeout))

		_, message, err := conn.ReadMessage()
		if err != nil {
			if c.closed.Load() {
				return
			}
			c.log.Warn("stream read failed", zap.Error(err))
			c.connMu.Lock()
			if c.conn == conn {
				c.conn.Close()
				c.conn = nil
			}
			c.connMu.Unlock()
			continue
		}

		c.handleMessage(message)
	}
}

// reconnect dials until it succeeds or the client closes, then resubscribes.
// Returns false if the client closed while waiting.
func (c *WSClient) reconnect() bool {
	for attempt := 1; ; attempt++ {
		delay := c.backoff.Backoff(attempt)
		select {
		case <-c.done:
			return false
		case <-time.After(delay):
		}

		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		err := c.connect(ctx)
		cancel()

		if err == nil {
			// The response is handled by handleMessage; nobody waits on it here
			// because this goroutine is the only reader.
			if _, _, err = c.sendSubscribe(false); err != nil {
				c.connMu.Lock()
				if c.conn != nil {
					c.conn.Close()
					c.conn = nil
				}
				c.connMu.Unlock()
			}
		}

		if c.config.OnReconnect != nil {
			c.config.OnReconnect(attempt, err)
		}
		if err == nil {
			c.log.Info("stream reconnected", zap.Int("attempt", attempt))
			return true
		}
		c.log.Warn("stream reconnect failed",
			zap.Int("attempt", attempt),
			zap.Duration("next_delay", c.backoff.Backoff(attempt+1)),
			zap.Error(err))
	}
}

// handleMessage routes responses to waiters and transactions to the channel.
func (c *WSClient) handleMessage(message []byte) {
	var env wsEnvelope
	if err := json.Unmarshal(message, &env); err != nil {
		c.log.Debug("skipping malformed message", zap.Error(err))
		return
	}

	switch env.Type {
	case "response":
		c.handleResponse(&env)
	case "transaction":
		// Block until we can send - never drop events
		select {
		case c.out <- message:
		case <-c.done:
		}
	}
}

func (c *WSClient) handleResponse(env *wsEnvelope) {
	var err error
	if env.Status != "success" {
		err = fmt.Errorf("subscribe rejected: %s %s", env.Error, env.ErrorMessage)
		c.log.Error("subscribe rejected", zap.String("error", env.Error), zap.String("message", env.ErrorMessage))
	}

	c.pendingMu.Lock()
	ch, ok := c.pending[env.ID]
	if ok {
		delete(c.pending, env.ID)
	}
	c.pendingMu.Unlock()

	if ok {
		select {
		case ch <- err:
		default:
		}
	}
}

// pingLoop sends periodic ping frames to keep connection alive.
func (c *WSClient) pingLoop() {
	defer c.wg.Done()

	ticker := time.NewTicker(c.config.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-c.done:
			return
		case <-ticker.C:
			c.connMu.Lock()
			if c.conn != nil {
				c.conn.SetWriteDeadline(time.Now().Add(c.config.WriteTimeout))
				// A dead connection surfaces as a read error in readLoop.
				_ = c.conn.WriteMessage(websocket.PingMessage, nil)
			}
			c.connMu.Unlock()
		}
	}
}

// WebSocket message types

type wsRequest struct {
	ID      uint64   `json:"id"`
	Command string   `json:"command"`
	Streams []string `json:"streams,omitempty"`
}

type wsEnvelope struct {
	ID           uint64 `json:"id"`
	Type         string `json:"type"`
	Status       string `json:"status"`
	Error        string `json:"error"`
	ErrorMessage string `json:"error_message"`
}
