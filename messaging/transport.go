package messaging

import "context"

// MessageListener receives a message delivered on a channel matching a subscribed pattern.
// Transports may invoke listeners concurrently.
type MessageListener func(ctx context.Context, channel, payload string)

// Subscription is an active pattern subscription
type Subscription interface {
	// Pattern returns the subscribed pattern
	Pattern() string

	// Unsubscribe stops delivery to the listener
	Unsubscribe() error
}

// Transport is the publish/subscribe bus the record manager runs on.
// Delivery is best-effort fan-out to current subscribers; no acknowledgement,
// ordering or delivery-count guarantee is assumed.
type Transport interface {
	// Publish sends a payload on a named channel
	Publish(ctx context.Context, channel, payload string) error

	// PSubscribe registers a listener for every channel matching a glob pattern
	PSubscribe(ctx context.Context, pattern string, listener MessageListener) (Subscription, error)

	// Close closes all resources
	Close() error
}

// Pinger is implemented by transports that can check broker reachability
type Pinger interface {
	Ping(ctx context.Context) error
}
