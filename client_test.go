package recordbus

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/glimte/recordbus/bridge"
	"github.com/glimte/recordbus/contracts"
	"github.com/glimte/recordbus/health"
	"github.com/glimte/recordbus/interceptors"
	"github.com/glimte/recordbus/internal/config"
	"github.com/glimte/recordbus/messaging"
	"github.com/glimte/recordbus/transports/memory"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type upperRequest struct {
	contracts.BasePacket
	Text string `json:"text"`
}

type upperReply struct {
	contracts.BasePacket
	Text string `json:"text"`
}

func registerUpper(t *testing.T, client *Client) {
	t.Helper()
	require.NoError(t, client.RegisterPacket("upper.request", func() contracts.Packet { return &upperRequest{} }))
	require.NoError(t, client.RegisterPacket("upper.reply", func() contracts.Packet { return &upperReply{} }))
	require.NoError(t, client.BindHandler("upper", messaging.TypedHandler(
		func(ctx context.Context, req *upperRequest) (*upperReply, error) {
			return &upperReply{
				BasePacket: contracts.NewBasePacket("upper.reply"),
				Text:       strings.ToUpper(req.Text),
			}, nil
		})))
}

func callUpper(t *testing.T, client *Client, text string) *upperReply {
	t.Helper()
	req := &upperRequest{BasePacket: contracts.NewBasePacket("upper.request"), Text: text}
	reply, err := bridge.Call[*upperRequest, *upperReply](context.Background(), client.Bridge(), "upper", req)
	require.NoError(t, err)
	return reply
}

func TestFromConfig(t *testing.T) {
	t.Run("memory transport round trip", func(t *testing.T) {
		cfg := config.Default()
		cfg.Transport = config.TransportMemory
		cfg.RecordPrefix = "jobs"
		cfg.DefaultTimeout = time.Second

		client, err := FromConfig(context.Background(), cfg)
		require.NoError(t, err)
		defer client.Close()

		assert.Equal(t, config.TransportMemory, client.TransportName())
		assert.Equal(t, "jobs.*", client.Manager().RequestPattern())
		assert.Equal(t, "reply.jobs.*", client.Manager().ReplyPattern())

		registerUpper(t, client)
		reply := callUpper(t, client, "hello")
		assert.Equal(t, "HELLO", reply.Text)
		assert.Equal(t, 0, client.Manager().PendingCount())

		summary := client.Metrics().GetMetricsSummary()
		assert.Equal(t, int64(1), summary.Records["upper"].Sent)
		assert.Equal(t, int64(1), summary.Records["upper"].Replied)
		assert.Equal(t, int64(1), summary.Records["upper"].Handled)
	})

	t.Run("invalid config is rejected", func(t *testing.T) {
		cfg := config.Default()
		cfg.Transport = "carrier-pigeon"

		client, err := FromConfig(context.Background(), cfg)
		assert.Error(t, err)
		assert.Nil(t, client)
	})

	t.Run("explicit options win over config", func(t *testing.T) {
		cfg := config.Default()
		cfg.Transport = config.TransportMemory

		client, err := FromConfig(context.Background(), cfg, WithRecordPrefix("override"))
		require.NoError(t, err)
		defer client.Close()

		assert.Equal(t, "override.*", client.Manager().RequestPattern())
	})
}

func TestNewClient(t *testing.T) {
	t.Run("caller keeps the transport", func(t *testing.T) {
		transport := memory.NewTransport()
		defer transport.Close()

		client, err := NewClient(context.Background(), transport, WithDefaultTimeout(time.Second))
		require.NoError(t, err)
		assert.Equal(t, 2, transport.SubscriptionCount())

		require.NoError(t, client.Close())
		assert.NoError(t, transport.Ping(context.Background()))
		assert.Equal(t, 0, transport.SubscriptionCount())
	})

	t.Run("health reports transport and pending table", func(t *testing.T) {
		transport := memory.NewTransport()
		defer transport.Close()

		client, err := NewClient(context.Background(), transport)
		require.NoError(t, err)
		defer client.Close()

		report := client.Health().Check(context.Background())
		assert.Equal(t, health.StatusHealthy, report.Status)
		assert.ElementsMatch(t, []string{"transport_custom", "pending_records", "runtime"}, report.Names())
	})

	t.Run("closed transport fails start", func(t *testing.T) {
		transport := memory.NewTransport()
		require.NoError(t, transport.Close())

		client, err := NewClient(context.Background(), transport)
		assert.Error(t, err)
		assert.Nil(t, client)
	})
}

func TestClientInterceptors(t *testing.T) {
	var seen []string
	tag := interceptors.NewInterceptorFunc("tag", func(ctx context.Context, request contracts.Packet, next messaging.RecordHandler) (contracts.Packet, error) {
		seen = append(seen, request.GetPacketType())
		return next.HandleRecord(ctx, request)
	})

	transport := memory.NewTransport()
	defer transport.Close()

	client, err := NewClient(context.Background(), transport,
		WithDefaultTimeout(time.Second),
		WithInterceptors(tag))
	require.NoError(t, err)
	defer client.Close()

	registerUpper(t, client)
	reply := callUpper(t, client, "wrapped")
	assert.Equal(t, "WRAPPED", reply.Text)
	assert.Equal(t, []string{"upper.request"}, seen)
}

func TestNewRedisClient(t *testing.T) {
	mr := miniredis.RunT(t)

	client, err := NewRedisClient(context.Background(), "redis://"+mr.Addr(),
		WithDefaultTimeout(2*time.Second))
	require.NoError(t, err)
	defer client.Close()

	registerUpper(t, client)
	reply := callUpper(t, client, "redis")
	assert.Equal(t, "REDIS", reply.Text)
}
