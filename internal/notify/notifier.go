// Package notify delivers suspicious-trade alerts to external channels.
package notify

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"xrpl-wash-monitor/internal/domain"
)

// ErrTemporary marks delivery failures worth retrying
// (5xx/429 responses, broker unavailable, SMTP 4xx).
var ErrTemporary = errors.New("temporary delivery failure")

// Channel is one alert transport.
type Channel interface {
	// Name labels the channel in logs and metrics.
	Name() string
	Send(ctx context.Context, alert *domain.Alert) error
}

// ChannelError reports the failure of a single channel.
type ChannelError struct {
	Channel string
	Err     error
}

func (e *ChannelError) Error() string {
	return fmt.Sprintf("notify %s: %v", e.Channel, e.Err)
}

func (e *ChannelError) Unwrap() error {
	return e.Err
}

// Notifier fans an alert out to every configured channel.
type Notifier struct {
	channels []Channel
}

// New creates a Notifier. Nil channels are ignored.
func New(channels ...Channel) *Notifier {
	n := &Notifier{}
	for _, c := range channels {
		if c != nil {
			n.channels = append(n.channels, c)
		}
	}
	return n
}

// Channels returns the configured channels.
func (n *Notifier) Channels() []Channel {
	out := make([]Channel, len(n.channels))
	copy(out, n.channels)
	return out
}

// Notify sends alert on all channels concurrently. Each channel failure is
// reported as a *ChannelError; the result joins them.
func (n *Notifier) Notify(ctx context.Context, alert *domain.Alert) error {
	errs := make([]error, len(n.channels))

	var wg sync.WaitGroup
	for i, c := range n.channels {
		wg.Add(1)
		go func(i int, c Channel) {
			defer wg.Done()
			if err := c.Send(ctx, alert); err != nil {
				errs[i] = &ChannelError{Channel: c.Name(), Err: err}
			}
		}(i, c)
	}
	wg.Wait()

	return errors.Join(errs...)
}
