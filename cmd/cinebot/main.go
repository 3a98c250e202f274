package main

import (
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/spf13/cobra"
)

var version = "dev"

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "cinebot",
		Short:         "Film catalog question answering bot",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().String("config", "configs/config.yaml", "config file path")

	root.AddCommand(
		newServeCmd(),
		newAskCmd(),
		newHistoryCmd(),
		newClearCmd(),
		newMCPCmd(),
		newImportCmd(),
	)
	return root
}

// setupLogger 设置全局 slog，level 取值 debug/info/warn/error
func setupLogger(w io.Writer, level string) error {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		return fmt.Errorf("invalid log level %q: %w", level, err)
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: lvl})))
	return nil
}
