package main

import (
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/gatelet/gatelet/internal/cmd"
)

func main() {

	cobra.OnInitialize(initCobra)

	cmd.Root.AddCommand(
		cmd.Serve,
		cmd.Check,
	)

	if err := cmd.Root.Execute(); err != nil {
		slog.Error("Gatelet exited with error", "err", err)
		os.Exit(1)
	}
}

func initCobra() {
	viper.SetEnvPrefix("gatelet")
	viper.AutomaticEnv()
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
}
