// Package interceptors wraps record handlers with cross-cutting concerns.
//
// An InterceptorChain turns a messaging.RecordHandler into another RecordHandler,
// so the record manager never sees the chain:
//
//	chain := interceptors.NewDefaultInterceptorChainBuilder(logger).
//		WithLogging().
//		WithTimeout(2 * time.Second).
//		WithFilter(interceptors.NewPacketTypeFilter("echo.request"), interceptors.SkipWithError).
//		Build()
//
//	manager.BindHandler("echo", chain.Wrap(echoHandler))
//
// Interceptors run in the order they were added, the wrapped handler last. A chain
// never recovers handler panics.
package interceptors
