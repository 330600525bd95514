package cmd

import (
	"context"
	"fmt"
	"log/slog"

	goredis "github.com/redis/go-redis/v9"
	"github.com/robfig/cron/v3"

	"github.com/xraph/beacon"
	"github.com/xraph/beacon/bus"
	redisbus "github.com/xraph/beacon/bus/redis"
	"github.com/xraph/beacon/store"
	"github.com/xraph/beacon/store/memory"
	redisstore "github.com/xraph/beacon/store/redis"
)

// backend is the store and bus pair selected by store.backend.
type backend struct {
	store store.Store
	bus   bus.Bus

	// memory is set for the in-process backend, which needs a janitor.
	memory *memory.Store
	redis  *goredis.Client
}

func openBackend(ctx context.Context, c beacon.Config, logger *slog.Logger) (*backend, error) {
	switch c.Store.Backend {
	case "redis":
		opts, err := goredis.ParseURL(c.Store.RedisURL)
		if err != nil {
			return nil, fmt.Errorf("beacon: parse store.redis_url: %w", err)
		}
		client := goredis.NewClient(opts)
		st := redisstore.New(client,
			redisstore.WithLogger(logger),
			redisstore.WithMaxEvents(c.Retention.MaxEvents),
			redisstore.WithTTL(c.Retention.TTL),
			redisstore.WithFingerprintBucket(c.Relay.FingerprintBucket),
		)
		if err := st.Ping(ctx); err != nil {
			_ = client.Close()
			return nil, err
		}
		return &backend{
			store: st,
			bus:   redisbus.New(client, redisbus.WithLogger(logger)),
			redis: client,
		}, nil

	default:
		mem := memory.New(
			memory.WithMaxEvents(c.Retention.MaxEvents),
			memory.WithTTL(c.Retention.TTL),
			memory.WithFingerprintBucket(c.Relay.FingerprintBucket),
		)
		return &backend{store: mem, bus: bus.NewMemory(), memory: mem}, nil
	}
}

// startJanitor sweeps expired events from the memory store on the
// retention schedule. Redis expires keys itself.
func (b *backend) startJanitor(ctx context.Context, schedule string, logger *slog.Logger) (stop func(), err error) {
	if b.memory == nil {
		return func() {}, nil
	}
	c := cron.New()
	_, err = c.AddFunc(schedule, func() {
		if n := b.memory.Sweep(ctx); n > 0 {
			logger.Debug("janitor swept expired entries", slog.Int("removed", n))
		}
	})
	if err != nil {
		return nil, fmt.Errorf("beacon: retention.sweep_schedule %q: %w", schedule, err)
	}
	c.Start()
	return func() { <-c.Stop().Done() }, nil
}

func (b *backend) Close() {
	_ = b.bus.Close()
	_ = b.store.Close()
	if b.redis != nil {
		_ = b.redis.Close()
	}
}
