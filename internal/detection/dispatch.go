package detection

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"xrpl-wash-monitor/internal/domain"
	"xrpl-wash-monitor/internal/logging"
	"xrpl-wash-monitor/internal/notify"
	"xrpl-wash-monitor/internal/observability"
	"xrpl-wash-monitor/internal/retry"
	"xrpl-wash-monitor/internal/storage"
)

// Drop reasons reported to metrics.
const (
	DropQueueFull  = "queue_full"
	DropDeadLetter = "dead_letter"
	DropShutdown   = "shutdown"
)

// Sink names used for persistence jobs.
const (
	SinkTrades      = "trades"
	SinkActivations = "activations"
)

// DispatcherOptions configures a Dispatcher.
type DispatcherOptions struct {
	// Trades receives every classified trade. Optional.
	Trades storage.ClassifiedTradeStore
	// Activations receives newly seen account activations. Optional.
	Activations storage.ActivationStore
	// Notifier receives alerts for suspicious trades, one job per channel. Optional.
	Notifier *notify.Notifier

	QueueSize    int           // default 4096
	Workers      int           // default 4
	CallTimeout  time.Duration // per attempt, default 10s
	DrainTimeout time.Duration // default 10s
	Retry        retry.Policy  // default retry.DefaultPolicy()

	Logger *zap.Logger
	Now    func() time.Time
}

func (o DispatcherOptions) withDefaults() DispatcherOptions {
	if o.QueueSize <= 0 {
		o.QueueSize = 4096
	}
	if o.Workers <= 0 {
		o.Workers = 4
	}
	if o.CallTimeout <= 0 {
		o.CallTimeout = 10 * time.Second
	}
	if o.DrainTimeout <= 0 {
		o.DrainTimeout = 10 * time.Second
	}
	if o.Retry.MaxAttempts <= 0 {
		o.Retry = retry.DefaultPolicy()
	}
	if o.Now == nil {
		o.Now = time.Now
	}
	o.Logger = logging.OrNop(o.Logger)
	return o
}

// DispatchStats counts dispatcher outcomes.
type DispatchStats struct {
	Enqueued   int64
	Delivered  int64
	DeadLetter int64
	Dropped    int64
}

// job is one call against one sink.
type job struct {
	sink string
	run  func(ctx context.Context) error
	// for the dead-letter log
	fields []zap.Field
}

// Dispatcher runs persistence and notification calls off the
// classification path on a bounded queue. Each job is retried on its own;
// a full queue drops the job instead of blocking the caller.
type Dispatcher struct {
	opts DispatcherOptions
	log  *zap.Logger

	mu     sync.RWMutex
	closed bool
	queue  chan job

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	enqueued   atomic.Int64
	delivered  atomic.Int64
	deadLetter atomic.Int64
	dropped    atomic.Int64
}

// NewDispatcher creates a Dispatcher and starts its workers.
func NewDispatcher(opts DispatcherOptions) *Dispatcher {
	opts = opts.withDefaults()
	ctx, cancel := context.WithCancel(context.Background())

	d := &Dispatcher{
		opts:   opts,
		log:    opts.Logger.Named("dispatch"),
		queue:  make(chan job, opts.QueueSize),
		ctx:    ctx,
		cancel: cancel,
	}

	for i := 0; i < opts.Workers; i++ {
		d.wg.Add(1)
		go d.worker()
	}
	return d
}

// Dispatch queues persistence of ct and, when it is suspicious, one alert
// job per notification channel. Never blocks.
func (d *Dispatcher) Dispatch(ct *domain.ClassifiedTrade) {
	if d.opts.Trades != nil {
		row := ct
		d.enqueue(job{
			sink: SinkTrades,
			run: func(ctx context.Context) error {
				err := d.opts.Trades.Insert(ctx, row)
				if errors.Is(err, storage.ErrDuplicateKey) {
					// Already persisted by an earlier attempt or a replay.
					return nil
				}
				return err
			},
			fields: []zap.Field{zap.String("tx_hash", row.Trade.TxHash), zap.Any("row", row)},
		})
	}

	if !ct.Classification.IsSuspicious() || d.opts.Notifier == nil {
		return
	}
	alert := domain.NewAlert(&ct.Trade, ct.Classification, d.opts.Now())
	for _, ch := range d.opts.Notifier.Channels() {
		d.enqueue(job{
			sink: ch.Name(),
			run: func(ctx context.Context) error {
				return ch.Send(ctx, alert)
			},
			fields: []zap.Field{zap.String("tx_hash", alert.TxHash), zap.Any("alert", alert)},
		})
	}
}

// DispatchActivation queues persistence of a newly seen activation.
func (d *Dispatcher) DispatchActivation(a *domain.AccountActivation) {
	if d.opts.Activations == nil {
		return
	}
	d.enqueue(job{
		sink: SinkActivations,
		run: func(ctx context.Context) error {
			err := d.opts.Activations.Insert(ctx, a)
			if errors.Is(err, storage.ErrDuplicateKey) {
				return nil
			}
			return err
		},
		fields: []zap.Field{zap.String("parent", a.Parent), zap.String("child", a.Child), zap.String("tx_hash", a.TxHash)},
	})
}

func (d *Dispatcher) enqueue(j job) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	if d.closed {
		d.drop(j, DropShutdown)
		return
	}
	select {
	case d.queue <- j:
		d.enqueued.Add(1)
		observability.UpdateQueueDepth(len(d.queue))
	default:
		d.drop(j, DropQueueFull)
	}
}

func (d *Dispatcher) drop(j job, reason string) {
	d.dropped.Add(1)
	observability.RecordDispatchDrop(reason)
	d.log.Warn("dispatch job dropped",
		append([]zap.Field{zap.String("sink", j.sink), zap.String("reason", reason)}, j.fields[:1]...)...)
}

func (d *Dispatcher) worker() {
	defer d.wg.Done()
	for j := range d.queue {
		observability.UpdateQueueDepth(len(d.queue))
		if d.ctx.Err() != nil {
			d.drop(j, DropShutdown)
			continue
		}
		d.handle(j)
	}
}

func (d *Dispatcher) handle(j job) {
	policy := d.opts.Retry
	policy.Classify = classify
	policy.OnRetry = func(attempt int, wait time.Duration, err error) {
		observability.RecordSinkRetry(j.sink)
		d.log.Debug("sink call failed, retrying",
			zap.String("sink", j.sink),
			zap.Int("attempt", attempt),
			zap.Duration("wait", wait),
			zap.Error(err))
	}

	start := time.Now()
	err := retry.Do(d.ctx, policy, func(ctx context.Context) error {
		callCtx, cancel := context.WithTimeout(ctx, d.opts.CallTimeout)
		defer cancel()
		return j.run(callCtx)
	})
	observability.RecordSinkCall(j.sink, time.Since(start).Seconds(), err)

	if err == nil {
		d.delivered.Add(1)
		return
	}

	d.deadLetter.Add(1)
	observability.RecordDispatchDrop(DropDeadLetter)
	fields := append([]zap.Field{zap.String("sink", j.sink), zap.Error(err)}, j.fields...)
	d.log.Error("dead letter", fields...)
}

// classify treats transient storage errors and temporary delivery
// failures as retryable.
func classify(err error) retry.Class {
	if storage.IsTransient(err) || errors.Is(err, notify.ErrTemporary) {
		return retry.Transient
	}
	return retry.Permanent
}

// Close stops accepting jobs and waits for queued jobs to finish for up to
// DrainTimeout. Jobs still queued after that are dropped.
func (d *Dispatcher) Close() error {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return nil
	}
	d.closed = true
	close(d.queue)
	d.mu.Unlock()

	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		d.cancel()
		return nil
	case <-time.After(d.opts.DrainTimeout):
		d.cancel()
		<-done
		d.log.Warn("dispatcher drain timed out", zap.Duration("timeout", d.opts.DrainTimeout))
		return context.DeadlineExceeded
	}
}

// Stats returns a snapshot of dispatcher counters.
func (d *Dispatcher) Stats() DispatchStats {
	return DispatchStats{
		Enqueued:   d.enqueued.Load(),
		Delivered:  d.delivered.Load(),
		DeadLetter: d.deadLetter.Load(),
		Dropped:    d.dropped.Load(),
	}
}

var _ Sink = (*Dispatcher)(nil)
