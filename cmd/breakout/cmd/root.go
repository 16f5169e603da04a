package cmd

import (
	"fmt"
	"io"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/rustyeddy/breakout/config"
	"github.com/rustyeddy/breakout/internal/logging"
)

var rootCmd = &cobra.Command{
	Use:   "breakout",
	Short: "Opening-range breakout bot for US equities",
	Long: `Breakout stages a stop-limit entry above and below each ticker's open,
protects the filled side with a take-profit/stop-loss bracket, and reconciles
its own book against the broker every morning.

It provides tools for:
  - Replaying daily bars through the simulated broker
  - Querying the trade journal
  - Clearing reconciliation halts
  - Generating and validating configuration files`,
	SilenceUsage:       true,
	PersistentPreRunE:  setup,
	PersistentPostRunE: teardown,
}

var (
	configPath string
	logLevel   string

	cfg       *config.Config
	logCloser io.Closer
)

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "config file (YAML, TOML or JSON); defaults apply when empty")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "override log.level (debug, info, warn, error)")
}

func setup(cmd *cobra.Command, args []string) error {
	if configPath == "" {
		cfg = config.Default()
	} else {
		c, err := config.LoadFromFile(configPath)
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		cfg = c
	}
	if logLevel != "" {
		cfg.Log.Level = logLevel
	}

	closer, err := logging.Setup(cfg.Log)
	if err != nil {
		return fmt.Errorf("logging: %w", err)
	}
	logCloser = closer
	logrus.WithField("config", configPath).Debug("configuration loaded")
	return nil
}

func teardown(cmd *cobra.Command, args []string) error {
	if logCloser != nil {
		return logCloser.Close()
	}
	return nil
}
