package relay

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/xraph/beacon/event"
)

// meterName is the instrumentation scope name for relay metrics.
const meterName = "github.com/xraph/beacon/relay"

// metrics holds the relay's OTel instruments. If no MeterProvider is
// configured the global noop provider makes every call free.
//
// Instruments (all Int64Counter, attribute "channel"):
//   - beacon.relay.received: envelopes read from the bus
//   - beacon.relay.malformed: envelopes dropped by validation
//   - beacon.relay.throttled: envelopes dropped by the rate limiter
//   - beacon.relay.duplicates: envelopes dropped by dedup
//   - beacon.relay.forwarded: events routed to sessions
//   - beacon.relay.batches: batches flushed
//   - beacon.relay.dropped: frames discarded from full session queues
type metrics struct {
	received   metric.Int64Counter
	malformed  metric.Int64Counter
	throttled  metric.Int64Counter
	duplicates metric.Int64Counter
	forwarded  metric.Int64Counter
	batches    metric.Int64Counter
	dropped    metric.Int64Counter
}

func newMetrics(meter metric.Meter) *metrics {
	if meter == nil {
		meter = otel.Meter(meterName)
	}
	counter := func(name, desc, unit string) metric.Int64Counter {
		c, err := meter.Int64Counter(name, metric.WithDescription(desc), metric.WithUnit(unit))
		_ = err // noop fallback guaranteed by OTel API contract
		return c
	}
	return &metrics{
		received:   counter("beacon.relay.received", "Envelopes read from the bus", "{envelope}"),
		malformed:  counter("beacon.relay.malformed", "Envelopes dropped as malformed", "{envelope}"),
		throttled:  counter("beacon.relay.throttled", "Envelopes dropped by the rate limiter", "{envelope}"),
		duplicates: counter("beacon.relay.duplicates", "Envelopes dropped as duplicates", "{envelope}"),
		forwarded:  counter("beacon.relay.forwarded", "Events routed to sessions", "{event}"),
		batches:    counter("beacon.relay.batches", "Batches flushed", "{batch}"),
		dropped:    counter("beacon.relay.dropped", "Frames discarded from full session queues", "{frame}"),
	}
}

func (m *metrics) add(c metric.Int64Counter, ch event.Channel, n int) {
	if n == 0 {
		return
	}
	c.Add(context.Background(), int64(n), metric.WithAttributes(attribute.String("channel", string(ch))))
}
