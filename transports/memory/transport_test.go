package memory

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/glimte/recordbus/contracts"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type collector struct {
	mu       sync.Mutex
	channels []string
	payloads []string
}

func (c *collector) listen(ctx context.Context, channel, payload string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.channels = append(c.channels, channel)
	c.payloads = append(c.payloads, payload)
}

func (c *collector) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.channels)
}

func TestTransport(t *testing.T) {
	ctx := context.Background()

	t.Run("delivers to matching patterns only", func(t *testing.T) {
		tr := NewTransport()
		defer tr.Close()

		requests := &collector{}
		replies := &collector{}
		_, err := tr.PSubscribe(ctx, "records.*", requests.listen)
		require.NoError(t, err)
		_, err = tr.PSubscribe(ctx, "reply.records.*", replies.listen)
		require.NoError(t, err)

		require.NoError(t, tr.Publish(ctx, "records.abc", "req"))
		require.NoError(t, tr.Publish(ctx, "reply.records.records.abc", "rep"))
		require.NoError(t, tr.Publish(ctx, "other.abc", "ignored"))
		tr.Wait()

		assert.Equal(t, []string{"records.abc"}, requests.channels)
		assert.Equal(t, []string{"req"}, requests.payloads)
		assert.Equal(t, []string{"reply.records.records.abc"}, replies.channels)
		assert.Equal(t, int64(3), tr.Published())
		assert.Equal(t, int64(2), tr.Delivered())
	})

	t.Run("star matches dotted suffix", func(t *testing.T) {
		tr := NewTransport()
		defer tr.Close()

		c := &collector{}
		_, err := tr.PSubscribe(ctx, "reply.records.*", c.listen)
		require.NoError(t, err)

		require.NoError(t, tr.Publish(ctx, "reply.records.records.a.b", "x"))
		tr.Wait()
		assert.Equal(t, 1, c.count())
	})

	t.Run("unsubscribe stops delivery", func(t *testing.T) {
		tr := NewTransport()
		defer tr.Close()

		c := &collector{}
		sub, err := tr.PSubscribe(ctx, "records.*", c.listen)
		require.NoError(t, err)
		assert.Equal(t, "records.*", sub.Pattern())

		require.NoError(t, sub.Unsubscribe())
		require.NoError(t, sub.Unsubscribe())
		assert.Equal(t, 0, tr.SubscriptionCount())

		require.NoError(t, tr.Publish(ctx, "records.a", "x"))
		tr.Wait()
		assert.Equal(t, 0, c.count())
	})

	t.Run("invalid pattern is rejected", func(t *testing.T) {
		tr := NewTransport()
		defer tr.Close()

		_, err := tr.PSubscribe(ctx, "records.[", (&collector{}).listen)
		assert.Error(t, err)
	})

	t.Run("closed transport refuses work", func(t *testing.T) {
		tr := NewTransport()
		require.NoError(t, tr.Close())
		require.NoError(t, tr.Close())

		assert.ErrorIs(t, tr.Publish(ctx, "records.a", "x"), contracts.ErrTransportClosed)
		assert.ErrorIs(t, tr.Ping(ctx), contracts.ErrTransportClosed)
		_, err := tr.PSubscribe(ctx, "records.*", (&collector{}).listen)
		assert.ErrorIs(t, err, contracts.ErrTransportClosed)
	})

	t.Run("deliveries run concurrently", func(t *testing.T) {
		tr := NewTransport()
		defer tr.Close()

		release := make(chan struct{})
		var started sync.WaitGroup
		started.Add(2)
		_, err := tr.PSubscribe(ctx, "records.*", func(ctx context.Context, channel, payload string) {
			started.Done()
			<-release
		})
		require.NoError(t, err)

		require.NoError(t, tr.Publish(ctx, "records.a", "1"))
		require.NoError(t, tr.Publish(ctx, "records.b", "2"))

		done := make(chan struct{})
		go func() {
			started.Wait()
			close(done)
		}()

		select {
		case <-done:
		case <-time.After(time.Second):
			t.Fatal("deliveries were serialized")
		}
		close(release)
		tr.Wait()
	})

	t.Run("wait covers deliveries started by listeners", func(t *testing.T) {
		tr := NewTransport()
		defer tr.Close()

		replies := &collector{}
		_, err := tr.PSubscribe(ctx, "reply.*", replies.listen)
		require.NoError(t, err)
		_, err = tr.PSubscribe(ctx, "records.*", func(ctx context.Context, channel, payload string) {
			time.Sleep(10 * time.Millisecond)
			_ = tr.Publish(ctx, "reply."+payload, payload)
		})
		require.NoError(t, err)

		require.NoError(t, tr.Publish(ctx, "records.a", "a"))
		tr.Wait()

		assert.Equal(t, 1, replies.count())
		assert.Equal(t, int64(2), tr.Published())
	})

	t.Run("wait runs alongside publishers", func(t *testing.T) {
		tr := NewTransport()
		defer tr.Close()

		var received atomic.Int64
		_, err := tr.PSubscribe(ctx, "records.*", func(ctx context.Context, channel, payload string) {
			received.Add(1)
		})
		require.NoError(t, err)

		var publishers sync.WaitGroup
		for i := 0; i < 4; i++ {
			publishers.Add(1)
			go func() {
				defer publishers.Done()
				for j := 0; j < 200; j++ {
					_ = tr.Publish(ctx, "records.x", "x")
					if j%20 == 0 {
						tr.Wait()
					}
				}
			}()
		}
		for i := 0; i < 50; i++ {
			tr.Wait()
		}

		publishers.Wait()
		tr.Wait()
		assert.Equal(t, int64(800), received.Load())
	})
}
