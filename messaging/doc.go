// Package messaging implements correlated request/reply on top of a pattern-subscribe
// pub/sub transport.
//
// A Record wraps one outgoing packet and the callbacks that observe its outcome.
// The RecordManager publishes records on "<prefix>.<correlationId>", keeps them in a
// pending table until a reply arrives on "reply.<prefix>.<requestChannel>" or their
// timeout elapses, and dispatches inbound requests to handlers bound by record type.
//
// Exactly one of a record's OnReply and OnTimeout callbacks fires. Send never blocks
// on the reply; callbacks run on the goroutine that delivered the reply or fired the
// timeout.
//
// Example usage:
//
//	manager, err := messaging.NewRecordManager(transport, codec)
//	if err != nil {
//		return err
//	}
//	if err := manager.BindHandler("echo", messaging.TypedHandler(echo)); err != nil {
//		return err
//	}
//	if err := manager.Start(ctx); err != nil {
//		return err
//	}
//
//	record := messaging.NewRecord("echo", request, messaging.RecordConfig[*EchoRequest, *EchoReply]{
//		Timeout: 2 * time.Second,
//		OnReply: func(reply *EchoReply) { ... },
//		OnTimeout: func(sent *EchoRequest) { ... },
//	})
//	err = manager.Send(ctx, record)
package messaging
