package cmd

import (
	"log/slog"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/xraph/beacon/lifecycle"
	"github.com/xraph/beacon/recorder"
	"github.com/xraph/beacon/relay"
	"github.com/xraph/beacon/server"
)

var serveDemo bool

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the relay and HTTP server",
	Long: `Run the realtime relay and the HTTP/WebSocket server.

Examples:
  beacon serve                          # in-memory store and bus
  BEACON_STORE_BACKEND=redis beacon serve
  beacon serve --demo                   # also run a demo job in-process`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
	serveCmd.Flags().BoolVar(&serveDemo, "demo", false, "Run a demo job against the local pipeline")
}

func runServe(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()

	be, err := openBackend(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer be.Close()

	stopJanitor, err := be.startJanitor(ctx, cfg.Retention.SweepSchedule, logger)
	if err != nil {
		return err
	}
	defer stopJanitor()

	rel := relay.New(be.bus, append(relay.OptionsFromConfig(cfg), relay.WithLogger(logger))...)
	srv := server.New(be.store, rel,
		server.WithLogger(logger),
		server.WithScope(cfg.Server.Scope),
		server.WithHeartbeat(cfg.Relay.HeartbeatInterval),
		server.WithCatchUpLimit(cfg.Client.CatchUpLimit),
	)

	logger.Info("beacon serving",
		slog.String("addr", cfg.Server.Addr),
		slog.String("backend", cfg.Store.Backend),
		slog.String("scope", cfg.Server.Scope),
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return rel.Run(gctx) })
	g.Go(func() error { return srv.ListenAndServe(gctx, cfg.Server.Addr, cfg.Server.ShutdownTimeout) })

	if serveDemo {
		rec := recorder.New(be.store, be.bus, recorderOptions()...)
		coord := lifecycle.New(be.store, rec,
			lifecycle.WithLogger(logger),
			lifecycle.WithScope(cfg.Server.Scope),
			lifecycle.WithRetention(cfg.Retention.TTL),
		)
		g.Go(func() error { return runDemo(gctx, coord, rec, demoOptions{}) })
	}
	return g.Wait()
}

func recorderOptions() []recorder.Option {
	return []recorder.Option{
		recorder.WithLogger(logger),
		recorder.WithWriteTimeout(cfg.Store.WriteTimeout),
		recorder.WithRetries(cfg.Store.WriteRetries),
	}
}
