// Package reliability provides retry policies for publishing to a broker and for
// re-running failed record handlers.
//
// Example usage:
//
//	policy := NewExponentialBackoff(50*time.Millisecond, time.Second, 2.0, 3)
//	err := Retry(ctx, policy, func() error {
//	    return client.Publish(ctx, channel, payload).Err()
//	})
package reliability
