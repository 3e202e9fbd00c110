package cmd

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"xrpl-wash-monitor/internal/config"
	"xrpl-wash-monitor/internal/detection"
	"xrpl-wash-monitor/internal/ingestion"
	"xrpl-wash-monitor/internal/logging"
	"xrpl-wash-monitor/internal/notify"
	"xrpl-wash-monitor/internal/observability"
	"xrpl-wash-monitor/internal/registry"
	"xrpl-wash-monitor/internal/rules"
	"xrpl-wash-monitor/internal/window"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Stream transactions and classify trades",
	Long: `Connect to the configured source and classify every trade until
interrupted. Prometheus metrics and a health probe are served on
metrics.addr.

Examples:
  monitor run
  monitor run --source kafka -c monitor.yaml
  XWM_STORAGE_BACKEND=memory monitor run --endpoint wss://s1.ripple.com`,
	RunE: runMonitor,
}

func init() {
	rootCmd.AddCommand(runCmd)

	flags := runCmd.Flags()
	flags.String("source", config.SourceXRPL, "event source (xrpl, kafka)")
	flags.String("endpoint", "wss://xrplcluster.com", "rippled websocket endpoint")
	flags.String("metrics-addr", ":9090", "Prometheus metrics HTTP address")
	flags.Int("workers", 4, "classification shards")

	_ = v.BindPFlag("source", flags.Lookup("source"))
	_ = v.BindPFlag("stream.url", flags.Lookup("endpoint"))
	_ = v.BindPFlag("metrics.addr", flags.Lookup("metrics-addr"))
	_ = v.BindPFlag("detection.workers", flags.Lookup("workers"))
}

func runMonitor(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	log, err := logging.New(cfg.Log.Level, cfg.Log.Format)
	if err != nil {
		return err
	}
	defer func() { _ = log.Sync() }()

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	st, err := openStores(ctx, cfg, log)
	if err != nil {
		return fmt.Errorf("open storage: %w", err)
	}
	defer func() {
		if err := st.Close(); err != nil {
			log.Warn("close storage", zap.Error(err))
		}
	}()

	reg := registry.New()
	n, err := reg.Load(ctx, st.activations)
	if err != nil {
		return err
	}
	log.Info("registry loaded", zap.Int("links", n))

	channels, closeChannels, err := buildChannels(cfg, log)
	if err != nil {
		return err
	}
	defer closeChannels()

	disp := detection.NewDispatcher(detection.DispatcherOptions{
		Trades:       st.trades,
		Activations:  st.activations,
		Notifier:     notify.New(channels...),
		QueueSize:    cfg.Dispatch.QueueSize,
		Workers:      cfg.Dispatch.Workers,
		CallTimeout:  cfg.Dispatch.CallTimeout,
		DrainTimeout: cfg.Dispatch.DrainTimeout,
		Retry:        cfg.RetryPolicy(),
		Logger:       log,
	})

	win := window.NewStore(window.Options{Horizon: cfg.Detection.Horizon})
	pipe, err := detection.New(detection.Options{
		Window:   win,
		Registry: reg,
		Engine:   rules.NewEngine(cfg.Thresholds()),
		Normalizer: ingestion.NewNormalizer(ingestion.NormalizerOptions{
			TxTypes:           cfg.Detection.TxTypes,
			ValidateAddresses: cfg.Detection.ValidateAddresses,
		}),
		Sink:          disp,
		Source:        cfg.Source,
		Workers:       cfg.Detection.Workers,
		ShardQueue:    cfg.Detection.ShardQueue,
		SweepInterval: cfg.Detection.SweepInterval,
		IdleHorizon:   cfg.Detection.IdleHorizon,
		Logger:        log,
	})
	if err != nil {
		_ = disp.Close()
		return err
	}

	src, err := buildSource(cfg, log)
	if err != nil {
		_ = disp.Close()
		return err
	}
	events, err := src.Subscribe(ctx)
	if err != nil {
		_ = disp.Close()
		return fmt.Errorf("subscribe %s: %w", src.Name(), err)
	}
	observability.SetStreamConnected(true)
	log.Info("monitor started",
		zap.String("source", src.Name()),
		zap.String("storage", cfg.Storage.Backend),
		zap.Int("channels", len(channels)),
		zap.Int("workers", cfg.Detection.Workers))

	// The pipeline finishing (source closed) stops the metrics server too.
	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	g, gctx := errgroup.WithContext(runCtx)

	g.Go(func() error {
		defer cancel()
		return pipe.Run(gctx, events)
	})

	srv := &http.Server{
		Addr:              cfg.Metrics.Addr,
		Handler:           metricsMux(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	g.Go(func() error {
		log.Info("metrics server listening", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("metrics server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, done := context.WithTimeout(context.Background(), 5*time.Second)
		defer done()
		return srv.Shutdown(shutdownCtx)
	})

	runErr := g.Wait()
	observability.SetStreamConnected(false)

	if err := disp.Close(); err != nil {
		log.Warn("dispatcher did not drain", zap.Error(err))
	}
	ps, ds := pipe.Stats(), disp.Stats()
	log.Info("monitor stopped",
		zap.Int64("received", ps.Received),
		zap.Int64("normal", ps.Normal),
		zap.Int64("suspicious", ps.SuspiciousTotal()),
		zap.Int64("invalid", ps.Invalid),
		zap.Int64("delivered", ds.Delivered),
		zap.Int64("dead_letter", ds.DeadLetter),
		zap.Int64("dropped", ds.Dropped))
	return runErr
}

func metricsMux() *http.ServeMux {
	mux := http.NewServeMux()
	mux.Handle("/metrics", observability.Handler())
	mux.HandleFunc("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK"))
	})
	return mux
}

func buildSource(cfg *config.Config, log *zap.Logger) (ingestion.Source, error) {
	switch cfg.Source {
	case config.SourceKafka:
		return ingestion.NewKafkaSource(ingestion.KafkaSourceOptions{
			Brokers:    cfg.Kafka.Brokers,
			Group:      cfg.Kafka.Group,
			Topic:      cfg.Kafka.Topic,
			FromOldest: cfg.Kafka.FromOldest,
			Logger:     log,
		})
	default:
		ws := cfg.WSConfig()
		ws.Logger = log
		ws.OnReconnect = func(attempt int, err error) {
			observability.RecordReconnect()
			observability.SetStreamConnected(err == nil)
			if err != nil {
				log.Warn("reconnect failed", zap.Int("attempt", attempt), zap.Error(err))
			}
		}
		return ingestion.NewStreamSource(cfg.Stream.URL, ws), nil
	}
}

// buildChannels creates every configured notification channel. The returned
// func releases channels holding resources.
func buildChannels(cfg *config.Config, log *zap.Logger) ([]notify.Channel, func(), error) {
	var (
		channels []notify.Channel
		closers  []func() error
	)
	closeAll := func() {
		for _, c := range closers {
			if err := c(); err != nil {
				log.Warn("close notification channel", zap.Error(err))
			}
		}
	}

	nc := cfg.Notify
	if nc.SMTP.Host != "" {
		ch, err := notify.NewEmailChannel(notify.EmailConfig{
			Host:     nc.SMTP.Host,
			Port:     nc.SMTP.Port,
			Username: nc.SMTP.Username,
			Password: nc.SMTP.Password,
			From:     nc.SMTP.From,
			To:       nc.SMTP.To,
		})
		if err != nil {
			return nil, func() {}, err
		}
		channels = append(channels, ch)
	}
	if nc.WebhookURL != "" {
		ch, err := notify.NewWebhookChannel(nc.WebhookURL, nc.WebhookTimeout)
		if err != nil {
			closeAll()
			return nil, func() {}, err
		}
		channels = append(channels, ch)
	}
	if nc.Kafka {
		ch, err := notify.NewKafkaChannel(cfg.Kafka.Brokers, cfg.Kafka.AlertsTopic)
		if err != nil {
			closeAll()
			return nil, func() {}, err
		}
		channels = append(channels, ch)
		closers = append(closers, ch.Close)
	}
	if nc.LogFile != "" {
		ch, err := notify.NewLogFileChannel(nc.LogFile)
		if err != nil {
			closeAll()
			return nil, func() {}, err
		}
		channels = append(channels, ch)
		closers = append(closers, ch.Close)
	}

	if len(channels) == 0 {
		log.Warn("no notification channels configured; suspicious trades are only logged and stored")
	}
	return channels, closeAll, nil
}
