package cmd

import (
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

func init() {

	initSharedFlagSet()

	Root.PersistentFlags().String("log-level", "info", "sets the log level.")
	Root.PersistentFlags().String("log-format", "console", "sets the log format.")
}

var Root = &cobra.Command{
	Use:              "gatelet",
	Short:            "Policy-gated gateway in front of your tool backends",
	SilenceUsage:     true,
	SilenceErrors:    true,
	TraverseChildren: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {

		if err := viper.BindPFlags(cmd.PersistentFlags()); err != nil {
			return err
		}

		if err := viper.BindPFlags(cmd.Flags()); err != nil {
			return err
		}

		configureLogger(
			viper.GetString("log-level"),
			viper.GetString("log-format"),
		)

		return nil
	},
	RunE: func(cmd *cobra.Command, args []string) error {
		return cmd.Usage()
	},
}

func configureLogger(level string, format string) {

	var lvl slog.Level
	switch strings.ToLower(level) {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: lvl}

	var handler slog.Handler
	if strings.ToLower(format) == "json" {
		handler = slog.NewJSONHandler(os.Stderr, opts)
	} else {
		handler = slog.NewTextHandler(os.Stderr, opts)
	}

	slog.SetDefault(slog.New(handler))

	if lvl == slog.LevelDebug {
		slog.Debug(fmt.Sprintf("Log level set to %s", lvl))
	}
}
