// Package config loads beacon.Config from defaults, an optional file and
// BEACON_* environment variables, in increasing precedence.
package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/viper"

	"github.com/xraph/beacon"
)

// EnvPrefix prefixes every environment override, e.g.
// BEACON_RELAY_BATCH_SIZE.
const EnvPrefix = "BEACON"

// Load reads configuration. An empty path skips the file. The result is
// validated.
func Load(path string) (beacon.Config, error) {
	v := New()
	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return beacon.Config{}, fmt.Errorf("beacon/config: read %s: %w", path, err)
		}
	}
	return Decode(v)
}

// New returns a viper instance carrying the defaults and env bindings.
func New() *viper.Viper {
	v := viper.New()
	SetDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	return v
}

// Decode unmarshals v into a validated Config.
func Decode(v *viper.Viper) (beacon.Config, error) {
	var cfg beacon.Config
	if err := v.Unmarshal(&cfg); err != nil {
		return beacon.Config{}, fmt.Errorf("beacon/config: decode: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return beacon.Config{}, errors.Join(ErrInvalid, err)
	}
	return cfg, nil
}

// ErrInvalid marks a configuration that decoded but cannot work.
var ErrInvalid = errors.New("beacon/config: invalid configuration")

// SetDefaults registers every key with its default so env overrides
// apply even without a file.
func SetDefaults(v *viper.Viper) {
	d := beacon.DefaultConfig()

	// Retention
	v.SetDefault("retention.max_events", d.Retention.MaxEvents)
	v.SetDefault("retention.ttl", d.Retention.TTL)
	v.SetDefault("retention.sweep_schedule", d.Retention.SweepSchedule)

	// Store
	v.SetDefault("store.backend", d.Store.Backend)
	v.SetDefault("store.redis_url", d.Store.RedisURL)
	v.SetDefault("store.write_timeout", d.Store.WriteTimeout)
	v.SetDefault("store.write_retries", d.Store.WriteRetries)

	// Relay
	v.SetDefault("relay.batch_size", d.Relay.BatchSize)
	v.SetDefault("relay.batch_delay", d.Relay.BatchDelay)
	v.SetDefault("relay.rate_limit", d.Relay.RateLimit)
	v.SetDefault("relay.rate_burst", d.Relay.RateBurst)
	v.SetDefault("relay.dedup_window", d.Relay.DedupWindow)
	v.SetDefault("relay.fingerprint_bucket", d.Relay.FingerprintBucket)
	v.SetDefault("relay.session_buffer", d.Relay.SessionBuffer)
	v.SetDefault("relay.heartbeat_interval", d.Relay.HeartbeatInterval)

	// Reconnect
	v.SetDefault("reconnect.initial", d.Reconnect.Initial)
	v.SetDefault("reconnect.max", d.Reconnect.Max)
	v.SetDefault("reconnect.max_attempts", d.Reconnect.MaxAttempts)

	// Client
	v.SetDefault("client.poll_interval", d.Client.PollInterval)
	v.SetDefault("client.heartbeat_timeout", d.Client.HeartbeatTimeout)
	v.SetDefault("client.catch_up_limit", d.Client.CatchUpLimit)
	v.SetDefault("client.seen_capacity", d.Client.SeenCapacity)
	v.SetDefault("client.seen_ttl", d.Client.SeenTTL)

	// Server
	v.SetDefault("server.addr", d.Server.Addr)
	v.SetDefault("server.scope", d.Server.Scope)
	v.SetDefault("server.shutdown_timeout", d.Server.ShutdownTimeout)

	// Log
	v.SetDefault("log.level", d.Log.Level)
	v.SetDefault("log.format", d.Log.Format)
}
