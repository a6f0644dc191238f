package main

import (
	"fmt"
	"os"

	"github.com/op/go-logging"
	"github.com/spf13/cobra"
)

var log = logging.MustGetLogger("efp-cli")

var (
	configPath string
	logLevel   string

	cfg *fileConfig
)

var rootCmd = &cobra.Command{
	Use:           "efp",
	Short:         "Fragment, send and reassemble frames over UDP",
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var err error
		if configPath != "" {
			cfg, err = loadConfig(configPath)
			if err != nil {
				return err
			}
		} else {
			cfg = defaultFileConfig()
			cfg.setDefaults()
		}
		if cmd.Flags().Changed("log-level") {
			cfg.Log.Level = logLevel
		}
		return setupLogging(cfg.Log.Level)
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "config file (.yaml, .yml or .toml)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "INFO", "CRITICAL, ERROR, WARNING, NOTICE, INFO or DEBUG")

	rootCmd.AddCommand(sendCmd, recvCmd, replayCmd, soakCmd)
}

func setupLogging(level string) error {
	lvl, err := logging.LogLevel(level)
	if err != nil {
		return fmt.Errorf("log level %q: %w", level, err)
	}
	backend := logging.NewLogBackend(os.Stderr, "", 0)
	format := logging.MustStringFormatter(`%{time:15:04:05.000} %{module} %{level:.4s} %{message}`)
	logging.SetBackend(logging.NewBackendFormatter(backend, format))
	logging.SetLevel(lvl, "")
	return nil
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
