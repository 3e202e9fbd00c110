package cmd

import (
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"xrpl-wash-monitor/internal/config"
)

var rootCmd = &cobra.Command{
	Use:   "monitor",
	Short: "Real-time wash trading detector for the XRP Ledger",
	Long: `Monitor subscribes to the XRP Ledger transaction stream, keeps a rolling
window per sender/receiver pair and flags trades matching wash trading or
spoofing rules. Every classified trade is persisted and suspicious trades
raise alerts on the configured channels.

Settings come from an optional YAML file, XWM_* environment variables
(XWM_STORAGE_BACKEND, XWM_NOTIFY_WEBHOOK_URL, ...) and flags.`,
	SilenceUsage: true,
}

var (
	cfgFile string
	v       = viper.New()
)

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	flags := rootCmd.PersistentFlags()
	flags.StringVarP(&cfgFile, "config", "c", "", "path to YAML config file")
	flags.String("log-level", "info", "log level (debug, info, warn, error)")
	flags.String("log-format", "json", "log format (json, console)")
	flags.String("storage", "sqlite", "storage backend (memory, postgres, clickhouse, sqlite)")
	flags.String("sqlite-path", "wash_trading.db", "SQLite database file")

	_ = v.BindPFlag("log.level", flags.Lookup("log-level"))
	_ = v.BindPFlag("log.format", flags.Lookup("log-format"))
	_ = v.BindPFlag("storage.backend", flags.Lookup("storage"))
	_ = v.BindPFlag("storage.sqlite_path", flags.Lookup("sqlite-path"))
}

func loadConfig() (*config.Config, error) {
	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
	}
	return config.Load(v)
}
