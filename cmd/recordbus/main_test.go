package main

import (
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/glimte/recordbus"
	"github.com/glimte/recordbus/internal/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseLevel(t *testing.T) {
	assert.Equal(t, slog.LevelDebug, parseLevel("DEBUG"))
	assert.Equal(t, slog.LevelWarn, parseLevel("warn"))
	assert.Equal(t, slog.LevelError, parseLevel("error"))
	assert.Equal(t, slog.LevelInfo, parseLevel(""))
}

func TestEchoHandler(t *testing.T) {
	handler := echoHandler("test")

	t.Run("echoes message", func(t *testing.T) {
		reply, err := handler.HandleRecord(context.Background(), newEchoRequest("hi", 3))
		require.NoError(t, err)

		echo, ok := reply.(*EchoReply)
		require.True(t, ok)
		assert.Equal(t, "hi", echo.Message)
		assert.Equal(t, 3, echo.Seq)
		assert.Equal(t, "test", echo.Responder)
		assert.Equal(t, EchoReplyType, echo.GetPacketType())
	})

	t.Run("empty message is an error", func(t *testing.T) {
		_, err := handler.HandleRecord(context.Background(), newEchoRequest("", 1))
		assert.Error(t, err)
	})
}

func TestServeInterceptors(t *testing.T) {
	chain := serveInterceptors(slog.Default(), time.Second)
	require.Len(t, chain, 3)
	assert.Equal(t, "LoggingInterceptor", chain[0].Name())
	assert.Equal(t, "FilteringInterceptor", chain[1].Name())
	assert.Equal(t, "TimeoutInterceptor", chain[2].Name())
}

func TestRunPings(t *testing.T) {
	cfg := config.Default()
	cfg.Transport = config.TransportMemory

	client, err := recordbus.FromConfig(context.Background(), cfg)
	require.NoError(t, err)
	defer client.Close()

	require.NoError(t, registerEchoPackets(client.Registry()))

	t.Run("no responder times out", func(t *testing.T) {
		results := runPings(context.Background(), client.Bridge(), 2, 2, "ping", 50*time.Millisecond)
		assert.Equal(t, 2, countFailures(results))
	})

	t.Run("local responder answers every record", func(t *testing.T) {
		responder, err := startLocalResponder(context.Background(), client, cfg, slog.Default())
		require.NoError(t, err)
		defer responder.Close()

		results := runPings(context.Background(), client.Bridge(), 10, 3, "ping", time.Second)
		assert.Equal(t, 0, countFailures(results))
		for i, r := range results {
			assert.Equal(t, i, r.Seq)
			assert.Equal(t, "local", r.Responder)
		}
	})

	t.Run("sender does not answer its own records", func(t *testing.T) {
		sender, err := recordbus.FromConfig(context.Background(), cfg)
		require.NoError(t, err)
		defer sender.Close()

		require.NoError(t, registerEchoPackets(sender.Registry()))
		require.NoError(t, sender.BindHandler(EchoRecordType, echoHandler("self")))

		results := runPings(context.Background(), sender.Bridge(), 2, 2, "ping", 50*time.Millisecond)
		assert.Equal(t, 2, countFailures(results))
	})
}
