package cmd

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"xrpl-wash-monitor/internal/domain"
	"xrpl-wash-monitor/internal/logging"
	"xrpl-wash-monitor/internal/notify"
)

var testAlertCmd = &cobra.Command{
	Use:   "test-alert",
	Short: "Send a sample alert through every configured channel",
	Long: `Build a synthetic SELF_TRADE alert and deliver it once on each configured
notification channel, reporting per-channel failures.

Example:
  XWM_NOTIFY_WEBHOOK_URL=https://hooks.example/x monitor test-alert`,
	RunE: runTestAlert,
}

func init() {
	rootCmd.AddCommand(testAlertCmd)
}

func runTestAlert(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	log, err := logging.New(cfg.Log.Level, cfg.Log.Format)
	if err != nil {
		return err
	}

	channels, closeChannels, err := buildChannels(cfg, log)
	if err != nil {
		return err
	}
	defer closeChannels()
	if len(channels) == 0 {
		return fmt.Errorf("no notification channels configured")
	}

	alert := domain.NewAlert(sampleTrade(), domain.Suspicious(domain.RuleSelfTrade), time.Now())
	if err := notify.New(channels...).Notify(cmd.Context(), alert); err != nil {
		return err
	}
	log.Info("test alert delivered", zap.String("id", alert.ID), zap.Int("channels", len(channels)))
	fmt.Fprintf(cmd.OutOrStdout(), "alert %s sent to %d channel(s)\n", alert.ID, len(channels))
	return nil
}

func sampleTrade() *domain.TradeRecord {
	const account = "rHb9CJAWyB4rj91VRWn96DkukG4bwdtyTh"
	return &domain.TradeRecord{
		Timestamp: time.Now().Unix(),
		Sender:    account,
		Receiver:  account,
		Asset:     domain.Amount{Currency: "XRP", Value: 1},
		Volume:    1,
		Fee:       0.00001,
		TxHash:    "TEST-ALERT",
		TxType:    domain.TxTypePayment,
	}
}
