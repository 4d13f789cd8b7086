// Package rabbitmq manages the AMQP connection used by the RabbitMQ transport,
// re-dialing with backoff when the broker drops it and notifying listeners so
// channels and consumers can be re-established.
package rabbitmq
