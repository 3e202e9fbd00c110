package ingestion

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/IBM/sarama"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeSession struct {
	sarama.ConsumerGroupSession
	ctx    context.Context
	mu     sync.Mutex
	marked []int64
}

func (s *fakeSession) Context() context.Context { return s.ctx }

func (s *fakeSession) MarkMessage(msg *sarama.ConsumerMessage, _ string) {
	s.mu.Lock()
	s.marked = append(s.marked, msg.Offset)
	s.mu.Unlock()
}

type fakeClaim struct {
	sarama.ConsumerGroupClaim
	msgs chan *sarama.ConsumerMessage
}

func (c *fakeClaim) Messages() <-chan *sarama.ConsumerMessage { return c.msgs }

func claimOf(values ...string) *fakeClaim {
	c := &fakeClaim{msgs: make(chan *sarama.ConsumerMessage, len(values))}
	for i, v := range values {
		c.msgs <- &sarama.ConsumerMessage{Topic: "xrpl.tx", Offset: int64(i), Value: []byte(v)}
	}
	close(c.msgs)
	return c
}

type fakeGroup struct {
	sarama.ConsumerGroup
	values  []string
	calls   atomic.Int32
	session *fakeSession
	errs    chan error
	closed  atomic.Bool
}

func (g *fakeGroup) Consume(ctx context.Context, _ []string, h sarama.ConsumerGroupHandler) error {
	if g.calls.Add(1) > 1 {
		<-ctx.Done()
		return ctx.Err()
	}
	g.session = &fakeSession{ctx: ctx}
	if err := h.Setup(g.session); err != nil {
		return err
	}
	err := h.ConsumeClaim(g.session, claimOf(g.values...))
	h.Cleanup(g.session)
	return err
}

func (g *fakeGroup) Errors() <-chan error { return g.errs }

func (g *fakeGroup) Close() error {
	if !g.closed.Swap(true) {
		close(g.errs)
	}
	return nil
}

func TestClaimHandler_ForwardsAndMarks(t *testing.T) {
	out := make(chan []byte, 10)
	h := &claimHandler{out: out}
	sess := &fakeSession{ctx: context.Background()}

	require.NoError(t, h.ConsumeClaim(sess, claimOf(`{"a":1}`, "  ", `{"b":2}`)))
	close(out)

	var got []string
	for v := range out {
		got = append(got, string(v))
	}
	assert.Equal(t, []string{`{"a":1}`, `{"b":2}`}, got)
	// Blank messages are acknowledged too.
	assert.Equal(t, []int64{0, 1, 2}, sess.marked)
}

func TestClaimHandler_StopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	h := &claimHandler{out: make(chan []byte)} // nobody reads
	sess := &fakeSession{ctx: ctx}

	done := make(chan error, 1)
	go func() { done <- h.ConsumeClaim(sess, claimOf(`{"a":1}`)) }()

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("ConsumeClaim did not return")
	}
	assert.Empty(t, sess.marked)
}

func TestKafkaSource_Subscribe(t *testing.T) {
	group := &fakeGroup{values: []string{`{"n":1}`, `{"n":2}`}, errs: make(chan error)}
	src := newKafkaSource(group, KafkaSourceOptions{Topic: "xrpl.tx"})
	assert.Equal(t, "kafka", src.Name())

	ctx, cancel := context.WithCancel(context.Background())
	ch, err := src.Subscribe(ctx)
	require.NoError(t, err)

	assert.Equal(t, `{"n":1}`, string(<-ch))
	assert.Equal(t, `{"n":2}`, string(<-ch))

	cancel()
	select {
	case _, ok := <-ch:
		assert.False(t, ok)
	case <-time.After(2 * time.Second):
		t.Fatal("channel not closed after cancel")
	}
	assert.True(t, group.closed.Load())
}

func TestNewKafkaSource_RequiresTopic(t *testing.T) {
	_, err := NewKafkaSource(KafkaSourceOptions{Brokers: []string{"localhost:9092"}, Group: "g"})
	assert.Error(t, err)
}
