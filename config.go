package beacon

import (
	"fmt"
	"time"
)

// Config holds every externally tunable knob of the pipeline.
type Config struct {
	Retention RetentionConfig `mapstructure:"retention"`
	Store     StoreConfig     `mapstructure:"store"`
	Relay     RelayConfig     `mapstructure:"relay"`
	Reconnect ReconnectConfig `mapstructure:"reconnect"`
	Client    ClientConfig    `mapstructure:"client"`
	Server    ServerConfig    `mapstructure:"server"`
	Log       LogConfig       `mapstructure:"log"`
}

// RetentionConfig bounds the per-job event log. Whichever limit fires
// first evicts.
type RetentionConfig struct {
	// MaxEvents is the number of events kept per job (N).
	MaxEvents int `mapstructure:"max_events"`

	// TTL is how long an event stays queryable.
	TTL time.Duration `mapstructure:"ttl"`

	// SweepSchedule is the cron schedule for the in-memory janitor.
	SweepSchedule string `mapstructure:"sweep_schedule"`
}

// StoreConfig selects and tunes the backing store and bus.
type StoreConfig struct {
	// Backend is "memory" or "redis".
	Backend string `mapstructure:"backend"`

	// RedisURL is used when Backend is "redis".
	RedisURL string `mapstructure:"redis_url"`

	// WriteTimeout bounds a single append or publish.
	WriteTimeout time.Duration `mapstructure:"write_timeout"`

	// WriteRetries is the number of extra append attempts before an
	// event is dropped.
	WriteRetries int `mapstructure:"write_retries"`
}

// RelayConfig tunes the realtime relay pipeline.
type RelayConfig struct {
	BatchSize         int           `mapstructure:"batch_size"`
	BatchDelay        time.Duration `mapstructure:"batch_delay"`
	RateLimit         float64       `mapstructure:"rate_limit"`
	RateBurst         int           `mapstructure:"rate_burst"`
	DedupWindow       time.Duration `mapstructure:"dedup_window"`
	FingerprintBucket time.Duration `mapstructure:"fingerprint_bucket"`
	SessionBuffer     int           `mapstructure:"session_buffer"`
	HeartbeatInterval time.Duration `mapstructure:"heartbeat_interval"`
}

// ReconnectConfig drives exponential backoff with jitter for both the
// relay's bus subscription and the client's push stream.
type ReconnectConfig struct {
	Initial     time.Duration `mapstructure:"initial"`
	Max         time.Duration `mapstructure:"max"`
	MaxAttempts int           `mapstructure:"max_attempts"`
}

// ClientConfig tunes the client reconciliation layer.
type ClientConfig struct {
	PollInterval     time.Duration `mapstructure:"poll_interval"`
	HeartbeatTimeout time.Duration `mapstructure:"heartbeat_timeout"`
	CatchUpLimit     int           `mapstructure:"catch_up_limit"`
	SeenCapacity     int           `mapstructure:"seen_capacity"`

	// SeenTTL is how long a rendered fingerprint is remembered, in event
	// time. Values below retention.ttl are raised to it.
	SeenTTL time.Duration `mapstructure:"seen_ttl"`
}

// ServerConfig configures the HTTP surface.
type ServerConfig struct {
	Addr            string        `mapstructure:"addr"`
	Scope           string        `mapstructure:"scope"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// LogConfig configures the process logger.
type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// DefaultScope is the distribution scope used when none is configured.
const DefaultScope = "default"

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		Retention: RetentionConfig{
			MaxEvents:     100,
			TTL:           24 * time.Hour,
			SweepSchedule: "@every 1m",
		},
		Store: StoreConfig{
			Backend:      "memory",
			RedisURL:     "redis://localhost:6379/0",
			WriteTimeout: 2 * time.Second,
			WriteRetries: 2,
		},
		Relay: RelayConfig{
			BatchSize:         50,
			BatchDelay:        50 * time.Millisecond,
			RateLimit:         200,
			RateBurst:         400,
			DedupWindow:       500 * time.Millisecond,
			FingerprintBucket: time.Second,
			SessionBuffer:     64,
			HeartbeatInterval: 5 * time.Second,
		},
		Reconnect: ReconnectConfig{
			Initial:     500 * time.Millisecond,
			Max:         30 * time.Second,
			MaxAttempts: 8,
		},
		Client: ClientConfig{
			PollInterval:     2 * time.Second,
			HeartbeatTimeout: 15 * time.Second,
			CatchUpLimit:     100,
			SeenCapacity:     4096,
			SeenTTL:          24 * time.Hour,
		},
		Server: ServerConfig{
			Addr:            ":8080",
			Scope:           DefaultScope,
			ShutdownTimeout: 10 * time.Second,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// Validate reports the first configuration value that cannot work.
func (c Config) Validate() error {
	switch {
	case c.Retention.MaxEvents <= 0:
		return fmt.Errorf("beacon: retention.max_events must be positive, got %d", c.Retention.MaxEvents)
	case c.Retention.TTL <= 0:
		return fmt.Errorf("beacon: retention.ttl must be positive, got %s", c.Retention.TTL)
	case c.Relay.BatchSize <= 0:
		return fmt.Errorf("beacon: relay.batch_size must be positive, got %d", c.Relay.BatchSize)
	case c.Relay.BatchDelay <= 0:
		return fmt.Errorf("beacon: relay.batch_delay must be positive, got %s", c.Relay.BatchDelay)
	case c.Relay.RateLimit < 0:
		return fmt.Errorf("beacon: relay.rate_limit must not be negative, got %g", c.Relay.RateLimit)
	case c.Relay.SessionBuffer <= 0:
		return fmt.Errorf("beacon: relay.session_buffer must be positive, got %d", c.Relay.SessionBuffer)
	case c.Reconnect.Initial <= 0 || c.Reconnect.Max < c.Reconnect.Initial:
		return fmt.Errorf("beacon: reconnect.initial/max invalid (%s/%s)", c.Reconnect.Initial, c.Reconnect.Max)
	case c.Client.PollInterval <= 0:
		return fmt.Errorf("beacon: client.poll_interval must be positive, got %s", c.Client.PollInterval)
	case c.Relay.HeartbeatInterval <= 0:
		return fmt.Errorf("beacon: relay.heartbeat_interval must be positive, got %s", c.Relay.HeartbeatInterval)
	case c.Client.HeartbeatTimeout <= c.Relay.HeartbeatInterval:
		return fmt.Errorf("beacon: client.heartbeat_timeout (%s) must exceed relay.heartbeat_interval (%s)",
			c.Client.HeartbeatTimeout, c.Relay.HeartbeatInterval)
	case c.Store.Backend != "memory" && c.Store.Backend != "redis":
		return fmt.Errorf("beacon: store.backend must be memory or redis, got %q", c.Store.Backend)
	}
	return nil
}
