package cmd

import (
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/xraph/beacon/lifecycle"
	"github.com/xraph/beacon/recorder"
)

var emitOpts demoOptions

var emitCmd = &cobra.Command{
	Use:   "emit",
	Short: "Run a demo job that emits events",
	Long: `Run a demo worker that starts a job, walks it through phases with
progress and log events, then completes it. Point it at the same Redis
as a running "beacon serve" to watch the events live.

Examples:
  BEACON_STORE_BACKEND=redis beacon emit --job import-42 --steps 10`,
	RunE: runEmit,
}

func init() {
	rootCmd.AddCommand(emitCmd)
	emitCmd.Flags().StringVar(&emitOpts.JobID, "job", "", "Job ID (default demo-<unix time>)")
	emitCmd.Flags().StringSliceVar(&emitOpts.Phases, "phases", nil, "Phase names (default fetch,parse,index)")
	emitCmd.Flags().IntVar(&emitOpts.Steps, "steps", 5, "Progress steps per phase")
	emitCmd.Flags().DurationVar(&emitOpts.Interval, "interval", 0, "Delay between steps (default 200ms)")
}

func runEmit(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()

	be, err := openBackend(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer be.Close()

	if be.memory != nil {
		logger.Warn("memory backend: events are only visible to this process")
	}

	rec := recorder.New(be.store, be.bus, recorderOptions()...)
	coord := lifecycle.New(be.store, rec,
		lifecycle.WithLogger(logger),
		lifecycle.WithScope(cfg.Server.Scope),
		lifecycle.WithRetention(cfg.Retention.TTL),
	)
	if err := coord.Restore(ctx); err != nil {
		logger.Warn("restore job state", slog.String("error", err.Error()))
	}

	if err := runDemo(ctx, coord, rec, emitOpts); err != nil {
		return err
	}

	st := rec.Stats()
	logger.Info("demo job finished",
		slog.Int64("recorded", st.Recorded),
		slog.Int64("stored", st.Stored),
		slog.Int64("published", st.Published),
		slog.Int64("dropped", st.Dropped),
	)
	return nil
}
