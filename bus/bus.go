// Package bus defines the publish/subscribe transport between event
// writers and the relay. Delivery is at most once: a message published
// while nobody is subscribed, or while the transport is down, is gone.
// The event store is the durable fallback.
package bus

import (
	"context"

	"github.com/xraph/beacon/event"
)

// Bus carries raw envelopes on named channels.
type Bus interface {
	// Publish sends payload to every current subscriber of ch.
	// Transport failures wrap beacon.ErrTransportDisconnected.
	Publish(ctx context.Context, ch event.Channel, payload []byte) error

	// Subscribe starts receiving messages published on ch.
	Subscribe(ctx context.Context, ch event.Channel) (Subscription, error)

	// Close shuts the bus down and ends every subscription with
	// beacon.ErrBusClosed.
	Close() error
}

// Subscription receives messages from one channel. It ends when the
// consumer closes it, when the transport drops or when the bus closes;
// Messages and Done are closed together and Err reports the cause.
type Subscription interface {
	// Channel returns the channel this subscription listens on.
	Channel() event.Channel

	// Messages delivers raw payloads in publish order.
	Messages() <-chan []byte

	// Done is closed when the subscription ends.
	Done() <-chan struct{}

	// Err returns why the subscription ended: nil after Close,
	// beacon.ErrTransportDisconnected or beacon.ErrBusClosed otherwise.
	// It returns nil while the subscription is live.
	Err() error

	// Close ends the subscription. Safe to call multiple times.
	Close() error
}
