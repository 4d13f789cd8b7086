// Package bridge provides blocking request/reply calls over the callback-based
// record manager.
//
// Basic usage:
//
//	b, err := bridge.NewBridge(manager, bridge.WithDefaultTimeout(2*time.Second))
//	if err != nil {
//		return err
//	}
//
//	reply, err := bridge.Call[*EchoRequest, *EchoReply](ctx, b, "echo", request)
//	if errors.Is(err, bridge.ErrTimeout) {
//		// no reply in time
//	}
package bridge
