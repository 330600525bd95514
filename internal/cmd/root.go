// Package cmd implements the beacon command line.
package cmd

import (
	"context"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/xraph/beacon"
	"github.com/xraph/beacon/config"
)

var (
	cfgFile string

	// cfg and logger are populated before any subcommand runs.
	cfg    beacon.Config
	logger *slog.Logger
)

var rootCmd = &cobra.Command{
	Use:   "beacon",
	Short: "Job event store, relay and live viewer",
	Long: `beacon records progress and log events from background jobs, relays
them to connected viewers in near real time and serves catch-up queries.

Configuration is read from --config (YAML) and BEACON_* environment
variables, e.g. BEACON_RELAY_BATCH_SIZE=100.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
		loaded, err := config.Load(cfgFile)
		if err != nil {
			return err
		}
		cfg = loaded
		logger = newLogger(cmd.ErrOrStderr(), cfg.Log)
		slog.SetDefault(logger)
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "Path to a YAML config file")
}

// Execute runs the root command until it finishes or the process is
// interrupted.
func Execute() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	return rootCmd.ExecuteContext(ctx)
}

// newLogger builds the process logger from the log section.
func newLogger(w io.Writer, lc beacon.LogConfig) *slog.Logger {
	var level slog.Level
	if err := level.UnmarshalText([]byte(lc.Level)); err != nil {
		level = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: level}

	var h slog.Handler
	switch strings.ToLower(lc.Format) {
	case "json":
		h = slog.NewJSONHandler(w, opts)
	default:
		h = slog.NewTextHandler(w, opts)
	}
	return slog.New(h)
}
