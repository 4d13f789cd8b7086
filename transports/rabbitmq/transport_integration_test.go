//go:build integration

package rabbitmq

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func rabbitURL(t *testing.T) string {
	url := os.Getenv("RABBITMQ_URL")
	if url == "" {
		t.Skip("RABBITMQ_URL not set")
	}
	return url
}

func TestTransportIntegration(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	tr, err := NewTransport(ctx, rabbitURL(t), WithExchange("recordbus.test"))
	require.NoError(t, err)
	defer tr.Close()

	require.NoError(t, tr.Ping(ctx))

	received := make(chan string, 1)
	sub, err := tr.PSubscribe(ctx, "records.*", func(ctx context.Context, channel, payload string) {
		received <- channel + "|" + payload
	})
	require.NoError(t, err)
	defer sub.Unsubscribe()

	require.NoError(t, tr.Publish(ctx, "records.abc", `{"hello":"world"}`))

	select {
	case msg := <-received:
		assert.Equal(t, `records.abc|{"hello":"world"}`, msg)
	case <-time.After(5 * time.Second):
		t.Fatal("message not delivered")
	}
}
