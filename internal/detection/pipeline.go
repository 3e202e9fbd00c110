// Package detection wires normalization, the rolling window, the rule
// engine and the dispatcher into the classification pipeline.
package detection

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"xrpl-wash-monitor/internal/domain"
	"xrpl-wash-monitor/internal/ingestion"
	"xrpl-wash-monitor/internal/logging"
	"xrpl-wash-monitor/internal/observability"
	"xrpl-wash-monitor/internal/registry"
	"xrpl-wash-monitor/internal/rules"
	"xrpl-wash-monitor/internal/storage"
	"xrpl-wash-monitor/internal/window"
)

// Stage is a step of the per-trade state machine.
type Stage int

const (
	StageReceived Stage = iota
	StageNormalized
	StageWindowUpdated
	StageClassified
	StageDispatched
)

// String returns the stage name used in logs.
func (s Stage) String() string {
	switch s {
	case StageReceived:
		return "received"
	case StageNormalized:
		return "normalized"
	case StageWindowUpdated:
		return "window_updated"
	case StageClassified:
		return "classified"
	case StageDispatched:
		return "dispatched"
	default:
		return fmt.Sprintf("stage(%d)", int(s))
	}
}

// Sink receives classification side effects. Implementations must not block.
type Sink interface {
	Dispatch(ct *domain.ClassifiedTrade)
	DispatchActivation(a *domain.AccountActivation)
}

// Options configures a Pipeline.
type Options struct {
	Window     *window.Store
	Registry   *registry.Registry
	Engine     *rules.Engine
	Normalizer *ingestion.Normalizer
	Sink       Sink // optional

	// Source labels received events in metrics.
	Source string
	// Workers is the number of classification shards. Default 4.
	Workers int
	// ShardQueue is the buffer of each shard. Default 256.
	ShardQueue int
	// SweepInterval is how often idle pairs are reclaimed. Zero disables the sweep.
	SweepInterval time.Duration
	// IdleHorizon is how long (in event seconds) a pair may stay silent
	// before the sweep removes it. Default 2x the window horizon.
	IdleHorizon int64

	Logger *zap.Logger
	Now    func() time.Time
}

// Stats counts pipeline outcomes.
type Stats struct {
	Received    int64
	Skipped     int64
	Invalid     int64
	Activations int64
	Normal      int64
	Suspicious  map[domain.RuleID]int64
}

// SuspiciousTotal sums suspicious counts over all rules.
func (s Stats) SuspiciousTotal() int64 {
	var n int64
	for _, c := range s.Suspicious {
		n += c
	}
	return n
}

// Pipeline classifies trades. Mutation of a pair's window is serialized by
// routing every trade into the same receiver to the same shard.
type Pipeline struct {
	window     *window.Store
	registry   *registry.Registry
	engine     *rules.Engine
	normalizer *ingestion.Normalizer
	sink       Sink

	source        string
	workers       int
	shardQueue    int
	sweepInterval time.Duration
	idleHorizon   int64

	log *zap.Logger
	now func() time.Time

	// newest trade timestamp seen, the reference for idle sweeps
	newest atomic.Int64
	// held shared from Append through Evaluate, exclusively by Sweep
	sweepMu sync.RWMutex

	received    atomic.Int64
	skipped     atomic.Int64
	invalid     atomic.Int64
	activations atomic.Int64
	normal      atomic.Int64

	mu         sync.Mutex
	suspicious map[domain.RuleID]int64
}

// New creates a Pipeline. Window, Registry and Engine are required.
func New(opts Options) (*Pipeline, error) {
	if opts.Window == nil || opts.Registry == nil || opts.Engine == nil {
		return nil, errors.New("detection: window, registry and engine are required")
	}
	if opts.Normalizer == nil {
		opts.Normalizer = ingestion.NewNormalizer(ingestion.DefaultNormalizerOptions())
	}
	if opts.Source == "" {
		opts.Source = "stream"
	}
	if opts.Workers <= 0 {
		opts.Workers = 4
	}
	if opts.ShardQueue <= 0 {
		opts.ShardQueue = 256
	}
	if opts.IdleHorizon <= 0 {
		opts.IdleHorizon = 2 * opts.Window.Horizon()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}

	return &Pipeline{
		window:        opts.Window,
		registry:      opts.Registry,
		engine:        opts.Engine,
		normalizer:    opts.Normalizer,
		sink:          opts.Sink,
		source:        opts.Source,
		workers:       opts.Workers,
		shardQueue:    opts.ShardQueue,
		sweepInterval: opts.SweepInterval,
		idleHorizon:   opts.IdleHorizon,
		log:           logging.OrNop(opts.Logger).Named("detection"),
		now:           opts.Now,
		suspicious:    make(map[domain.RuleID]int64),
	}, nil
}

// Process runs one trade through window update, evaluation and dispatch.
// Callers must not process trades of the same pair concurrently.
func (p *Pipeline) Process(ctx context.Context, trade *domain.TradeRecord) (domain.Classification, error) {
	if err := ctx.Err(); err != nil {
		return domain.Classification{}, err
	}
	if trade == nil || trade.Sender == "" || trade.Receiver == "" {
		return domain.Classification{}, fmt.Errorf("%w: trade needs sender and receiver", storage.ErrInvalidInput)
	}

	start := time.Now()
	p.sweepMu.RLock()
	p.window.Append(trade.Pair(), trade.Timestamp, trade.Volume)
	p.observeTimestamp(trade.Timestamp)
	p.log.Debug("trade processed",
		zap.Stringer("stage", StageWindowUpdated),
		zap.String("tx_hash", trade.TxHash))

	c := p.engine.Evaluate(trade, p.window, p.registry)
	p.sweepMu.RUnlock()
	p.log.Debug("trade processed",
		zap.Stringer("stage", StageClassified),
		zap.String("tx_hash", trade.TxHash),
		zap.String("label", c.Label.String()),
		zap.String("rule", string(c.Rule)))

	now := p.now()
	observability.RecordClassification(c.Label.String(), string(c.Rule), time.Since(start).Seconds(), now.Unix())
	p.count(c)

	if c.IsSuspicious() {
		p.log.Warn("suspicious trade",
			zap.String("rule", string(c.Rule)),
			zap.String("sender", trade.Sender),
			zap.String("receiver", trade.Receiver),
			zap.Float64("volume", trade.Volume),
			zap.String("asset", trade.Asset.String()),
			zap.Float64("fee", trade.Fee),
			zap.String("tx_hash", trade.TxHash),
			zap.String("tx_type", trade.TxType),
			zap.Int64("ledger_index", trade.LedgerIndex),
			zap.Bool("canceled", trade.Canceled))
	}

	if p.sink != nil {
		p.sink.Dispatch(&domain.ClassifiedTrade{
			Trade:          *trade,
			Classification: c,
			ClassifiedAt:   now.UnixMilli(),
		})
		p.log.Debug("trade processed",
			zap.Stringer("stage", StageDispatched),
			zap.String("tx_hash", trade.TxHash),
			zap.String("label", c.Label.String()))
	}
	return c, nil
}

// RegisterActivation records a parent/child link and forwards new links to the sink.
func (p *Pipeline) RegisterActivation(a *domain.AccountActivation) bool {
	if !p.registry.RegisterChild(a.Parent, a.Child) {
		return false
	}
	p.activations.Add(1)
	observability.RecordActivation()
	if p.sink != nil {
		p.sink.DispatchActivation(a)
	}
	return true
}

// Run consumes raw stream messages until events is closed or ctx is
// cancelled, then drains in-flight trades. Returns nil on graceful stop.
func (p *Pipeline) Run(ctx context.Context, events <-chan []byte) error {
	shards := make([]chan *domain.TradeRecord, p.workers)
	var wg sync.WaitGroup
	for i := range shards {
		shards[i] = make(chan *domain.TradeRecord, p.shardQueue)
		wg.Add(1)
		go p.shardWorker(shards[i], &wg)
	}

	sweepDone := make(chan struct{})
	sweepStop := make(chan struct{})
	go p.sweepLoop(sweepStop, sweepDone)

	p.consume(ctx, events, shards)

	// Drain: shard queues are processed to completion.
	for _, ch := range shards {
		close(ch)
	}
	wg.Wait()
	close(sweepStop)
	<-sweepDone

	p.refreshGauges()
	p.log.Info("pipeline stopped", zap.Any("stats", p.Stats()))
	return nil
}

func (p *Pipeline) consume(ctx context.Context, events <-chan []byte, shards []chan *domain.TradeRecord) {
	var lastLedger int64
	for {
		var raw []byte
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-events:
			if !ok {
				return
			}
			raw = msg
		}

		p.received.Add(1)
		observability.RecordEventReceived(p.source)

		ev, err := p.normalizer.Normalize(raw)
		if err != nil {
			p.reject(err)
			continue
		}

		p.log.Debug("trade processed",
			zap.Stringer("stage", StageNormalized),
			zap.String("tx_hash", ev.Trade.TxHash))

		if ev.Activation != nil {
			p.RegisterActivation(ev.Activation)
		}

		trade := ev.Trade
		if trade.LedgerIndex > lastLedger {
			lastLedger = trade.LedgerIndex
			observability.UpdateLedgerIndex(lastLedger)
		}

		// An event already received is handed over even if ctx is done by now.
		shard := shards[trade.Pair().ShardHash()%uint64(len(shards))]
		select {
		case shard <- &trade:
		default:
			select {
			case shard <- &trade:
			case <-ctx.Done():
				return
			}
		}
	}
}

func (p *Pipeline) reject(err error) {
	if errors.Is(err, ingestion.ErrSkipped) {
		p.skipped.Add(1)
		return
	}
	p.invalid.Add(1)
	field, ok := ingestion.IsValidation(err)
	if !ok {
		field = "unknown"
	}
	observability.RecordValidationDrop(field)
	p.log.Warn("dropping invalid event",
		zap.Stringer("stage", StageReceived),
		zap.String("field", field),
		zap.Error(err))
}

func (p *Pipeline) shardWorker(in <-chan *domain.TradeRecord, wg *sync.WaitGroup) {
	defer wg.Done()
	for trade := range in {
		// Cancellation is handled by closing the queue.
		if _, err := p.Process(context.Background(), trade); err != nil {
			p.log.Warn("trade not processed",
				zap.Stringer("stage", StageNormalized),
				zap.String("tx_hash", trade.TxHash),
				zap.Error(err))
		}
	}
}

func (p *Pipeline) sweepLoop(stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)
	if p.sweepInterval <= 0 {
		<-stop
		return
	}

	ticker := time.NewTicker(p.sweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			p.Sweep()
		}
	}
}

// Sweep removes pairs idle for longer than IdleHorizon relative to the
// newest trade seen, and returns how many were removed.
func (p *Pipeline) Sweep() int {
	newest := p.newest.Load()
	if newest == 0 {
		return 0
	}
	p.sweepMu.Lock()
	n := p.window.Sweep(newest, p.idleHorizon)
	p.sweepMu.Unlock()
	if n > 0 {
		observability.RecordSwept(n)
		p.log.Debug("swept idle pairs", zap.Int("pairs", n), zap.Int("live", p.window.Len()))
	}
	p.refreshGauges()
	return n
}

func (p *Pipeline) refreshGauges() {
	observability.UpdateDetectionState(p.window.Len(), p.registry.Size())
}

func (p *Pipeline) observeTimestamp(ts int64) {
	for {
		cur := p.newest.Load()
		if ts <= cur || p.newest.CompareAndSwap(cur, ts) {
			return
		}
	}
}

func (p *Pipeline) count(c domain.Classification) {
	if !c.IsSuspicious() {
		p.normal.Add(1)
		return
	}
	p.mu.Lock()
	p.suspicious[c.Rule]++
	p.mu.Unlock()
}

// Stats returns a snapshot of pipeline counters.
func (p *Pipeline) Stats() Stats {
	p.mu.Lock()
	susp := make(map[domain.RuleID]int64, len(p.suspicious))
	for k, v := range p.suspicious {
		susp[k] = v
	}
	p.mu.Unlock()

	return Stats{
		Received:    p.received.Load(),
		Skipped:     p.skipped.Load(),
		Invalid:     p.invalid.Load(),
		Activations: p.activations.Load(),
		Normal:      p.normal.Load(),
		Suspicious:  susp,
	}
}
