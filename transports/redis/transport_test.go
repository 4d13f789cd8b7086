package redis

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/glimte/recordbus/contracts"
	"github.com/glimte/recordbus/internal/reliability"
	"github.com/glimte/recordbus/messaging"
	"github.com/glimte/recordbus/serialization"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type message struct {
	channel string
	payload string
}

func newTestTransport(t *testing.T) (*Transport, *miniredis.Miniredis) {
	t.Helper()
	server := miniredis.RunT(t)
	tr, err := NewTransport(server.Addr())
	require.NoError(t, err)
	t.Cleanup(func() { _ = tr.Close() })
	return tr, server
}

func TestNewTransport(t *testing.T) {
	t.Run("accepts redis url", func(t *testing.T) {
		server := miniredis.RunT(t)
		tr, err := NewTransport("redis://" + server.Addr() + "/0")
		require.NoError(t, err)
		defer tr.Close()

		assert.NoError(t, tr.Ping(context.Background()))
	})

	t.Run("rejects malformed url", func(t *testing.T) {
		_, err := NewTransport("http://localhost:6379")
		assert.Error(t, err)
	})
}

func TestTransportPubSub(t *testing.T) {
	ctx := context.Background()

	t.Run("delivers matching channels", func(t *testing.T) {
		tr, _ := newTestTransport(t)

		received := make(chan message, 4)
		sub, err := tr.PSubscribe(ctx, "records.*", func(ctx context.Context, channel, payload string) {
			received <- message{channel, payload}
		})
		require.NoError(t, err)
		assert.Equal(t, "records.*", sub.Pattern())

		require.NoError(t, tr.Publish(ctx, "other.x", "ignored"))
		require.NoError(t, tr.Publish(ctx, "records.abc", "hello"))

		select {
		case msg := <-received:
			assert.Equal(t, "records.abc", msg.channel)
			assert.Equal(t, "hello", msg.payload)
		case <-time.After(2 * time.Second):
			t.Fatal("message not delivered")
		}
	})

	t.Run("unsubscribe stops delivery", func(t *testing.T) {
		tr, _ := newTestTransport(t)

		var count atomic.Int32
		sub, err := tr.PSubscribe(ctx, "records.*", func(ctx context.Context, channel, payload string) {
			count.Add(1)
		})
		require.NoError(t, err)

		require.NoError(t, sub.Unsubscribe())
		require.NoError(t, sub.Unsubscribe())

		require.NoError(t, tr.Publish(ctx, "records.abc", "hello"))
		time.Sleep(50 * time.Millisecond)
		assert.Equal(t, int32(0), count.Load())
	})

	t.Run("closed transport refuses work", func(t *testing.T) {
		tr, _ := newTestTransport(t)
		require.NoError(t, tr.Close())
		require.NoError(t, tr.Close())

		assert.ErrorIs(t, tr.Publish(ctx, "records.a", "x"), contracts.ErrTransportClosed)
		assert.ErrorIs(t, tr.Ping(ctx), contracts.ErrTransportClosed)
		_, err := tr.PSubscribe(ctx, "records.*", func(context.Context, string, string) {})
		assert.ErrorIs(t, err, contracts.ErrTransportClosed)
	})

	t.Run("publish fails when server is gone", func(t *testing.T) {
		server, err := miniredis.Run()
		require.NoError(t, err)
		tr, err := NewTransport(server.Addr())
		require.NoError(t, err)
		defer tr.Close()
		server.Close()

		assert.Error(t, tr.Publish(ctx, "records.a", "x"))
		assert.Error(t, tr.Ping(ctx))
	})
}

type echoRequest struct {
	contracts.BasePacket
	Text string `json:"text"`
}

type echoReply struct {
	contracts.BasePacket
	Text string `json:"text"`
}

func TestRecordManagerOverRedis(t *testing.T) {
	ctx := context.Background()
	server := miniredis.RunT(t)

	registry := serialization.NewPacketRegistry()
	registry.MustRegister("echo.request", func() contracts.Packet { return &echoRequest{} })
	registry.MustRegister("echo.reply", func() contracts.Packet { return &echoReply{} })
	codec := serialization.NewJSONCodec(registry)

	newManager := func() *messaging.RecordManager {
		tr, err := NewTransport(server.Addr())
		require.NoError(t, err)
		t.Cleanup(func() { _ = tr.Close() })

		m, err := messaging.NewRecordManager(tr, codec, messaging.WithPublishRetry(reliability.NoRetry))
		require.NoError(t, err)
		require.NoError(t, m.Start(ctx))
		t.Cleanup(func() { _ = m.Close() })
		return m
	}

	sender := newManager()
	receiver := newManager()
	require.NoError(t, receiver.BindHandler("echo", messaging.TypedHandler(
		func(ctx context.Context, req *echoRequest) (*echoReply, error) {
			return &echoReply{BasePacket: contracts.NewBasePacket("echo.reply"), Text: req.Text}, nil
		})))

	replies := make(chan *echoReply, 1)
	request := &echoRequest{BasePacket: contracts.NewBasePacket("echo.request"), Text: "over redis"}
	record := messaging.NewRecord("echo", request, messaging.RecordConfig[*echoRequest, *echoReply]{
		Timeout: 2 * time.Second,
		OnReply: func(r *echoReply) { replies <- r },
	})
	require.NoError(t, sender.Send(ctx, record))

	select {
	case reply := <-replies:
		assert.Equal(t, "over redis", reply.Text)
		assert.Equal(t, record.CorrelationID(), reply.GetCorrelationID())
		assert.True(t, reply.IsReply())
	case <-time.After(3 * time.Second):
		t.Fatal("no reply over redis")
	}
}
