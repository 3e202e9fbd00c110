package notify

import (
	"context"
	"fmt"
	"os"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"xrpl-wash-monitor/internal/domain"
	"xrpl-wash-monitor/internal/logging"
)

// LogFileChannel appends one JSON line per alert to a file.
type LogFileChannel struct {
	file *os.File
	log  *zap.Logger
}

// NewLogFileChannel opens (or creates) path for appending.
func NewLogFileChannel(path string) (*LogFileChannel, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open alert log: %w", err)
	}
	core := zapcore.NewCore(
		zapcore.NewJSONEncoder(logging.EncoderConfig()),
		zapcore.Lock(f),
		zapcore.InfoLevel,
	)
	return &LogFileChannel{file: f, log: zap.New(core)}, nil
}

// Name returns "logfile".
func (c *LogFileChannel) Name() string { return "logfile" }

// Send writes the alert.
func (c *LogFileChannel) Send(ctx context.Context, alert *domain.Alert) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	c.log.Warn("suspicious trade",
		zap.String("alert_id", alert.ID),
		zap.String("rule", string(alert.Rule)),
		zap.String("sender", alert.Sender),
		zap.String("receiver", alert.Receiver),
		zap.Float64("volume", alert.Volume),
		zap.String("asset", alert.Asset),
		zap.Float64("fee", alert.Fee),
		zap.String("tx_hash", alert.TxHash),
		zap.String("tx_type", alert.TxType),
		zap.Int64("date", alert.Date),
		zap.Int64("sequence", alert.Sequence),
		zap.Any("memos", alert.Memos),
		zap.Uint32("flags", alert.Flags),
		zap.Any("balance_changes", alert.Balance),
		zap.Time("detected_at", alert.DetectedAt),
	)
	return nil
}

// Close flushes and closes the file.
func (c *LogFileChannel) Close() error {
	_ = c.log.Sync()
	return c.file.Close()
}

var _ Channel = (*LogFileChannel)(nil)
