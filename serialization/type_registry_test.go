package serialization

import (
	"testing"

	"github.com/glimte/recordbus/contracts"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Test packet types
type orderQuery struct {
	contracts.BasePacket
	OrderID string `json:"orderId"`
}

type orderReply struct {
	contracts.BasePacket
	Amount float64 `json:"amount"`
}

func newTestRegistry(t *testing.T) *PacketRegistry {
	registry := NewPacketRegistry()
	require.NoError(t, registry.Register("test.orderQuery", func() contracts.Packet { return &orderQuery{} }))
	require.NoError(t, registry.Register("test.orderReply", func() contracts.Packet { return &orderReply{} }))
	return registry
}

func TestPacketRegistry(t *testing.T) {
	t.Run("registers and lists types", func(t *testing.T) {
		registry := newTestRegistry(t)

		assert.True(t, registry.IsRegistered("test.orderQuery"))
		assert.False(t, registry.IsRegistered("test.unknown"))
		assert.Equal(t, []string{"test.orderQuery", "test.orderReply"}, registry.ListTypes())
	})

	t.Run("rejects empty type name", func(t *testing.T) {
		registry := NewPacketRegistry()

		err := registry.Register("", func() contracts.Packet { return &orderQuery{} })
		assert.Error(t, err)
		assert.Contains(t, err.Error(), "packet type cannot be empty")
	})

	t.Run("rejects nil factory", func(t *testing.T) {
		registry := NewPacketRegistry()

		err := registry.Register("test.orderQuery", nil)
		assert.Error(t, err)
	})

	t.Run("rejects duplicate registration and keeps first", func(t *testing.T) {
		registry := newTestRegistry(t)

		err := registry.Register("test.orderQuery", func() contracts.Packet { return &orderReply{} })
		assert.Error(t, err)

		p, err := registry.CreateInstance("test.orderQuery")
		require.NoError(t, err)
		assert.IsType(t, &orderQuery{}, p)
	})

	t.Run("MustRegister panics on duplicate", func(t *testing.T) {
		registry := newTestRegistry(t)
		assert.Panics(t, func() {
			registry.MustRegister("test.orderQuery", func() contracts.Packet { return &orderQuery{} })
		})
	})

	t.Run("unknown type wraps sentinel", func(t *testing.T) {
		registry := NewPacketRegistry()

		_, err := registry.CreateInstance("test.unknown")
		assert.ErrorIs(t, err, contracts.ErrUnknownPacketType)
	})
}

func TestJSONCodec(t *testing.T) {
	t.Run("decodes packets polymorphically", func(t *testing.T) {
		codec := NewJSONCodec(newTestRegistry(t))

		query := &orderQuery{BasePacket: contracts.NewBasePacket("test.orderQuery"), OrderID: "o-1"}
		query.SetCorrelationID("corr-1")
		query.SetChannel("records.corr-1")

		data, err := codec.EncodePacket(query)
		require.NoError(t, err)

		decoded, err := codec.DecodePacket(data)
		require.NoError(t, err)

		got, ok := decoded.(*orderQuery)
		require.True(t, ok)
		assert.Equal(t, "o-1", got.OrderID)
		assert.Equal(t, query.GetPacketID(), got.GetPacketID())
		assert.Equal(t, "corr-1", got.GetCorrelationID())
		assert.Equal(t, "records.corr-1", got.GetChannel())
		assert.True(t, query.GetCreatedAt().Equal(got.GetCreatedAt()))
	})

	t.Run("keeps reply flag and status", func(t *testing.T) {
		codec := NewJSONCodec(newTestRegistry(t))

		reply := &orderReply{BasePacket: contracts.NewBasePacketWithStatus("test.orderReply", contracts.StatusAccepted)}
		reply.SetReply(true)

		data, err := codec.EncodePacket(reply)
		require.NoError(t, err)

		decoded, err := codec.DecodePacket(data)
		require.NoError(t, err)
		assert.True(t, decoded.IsReply())
		assert.Equal(t, contracts.StatusAccepted, decoded.GetStatus())
	})

	t.Run("rejects malformed input", func(t *testing.T) {
		codec := NewJSONCodec(newTestRegistry(t))

		_, err := codec.DecodePacket("")
		assert.ErrorIs(t, err, contracts.ErrInvalidPacket)

		_, err = codec.DecodePacket("{not json")
		assert.ErrorIs(t, err, contracts.ErrInvalidPacket)

		_, err = codec.DecodePacket(`{"packetId":"x"}`)
		assert.ErrorIs(t, err, contracts.ErrInvalidPacket)

		_, err = codec.DecodePacket(`{"packetType":"test.unknown"}`)
		assert.ErrorIs(t, err, contracts.ErrUnknownPacketType)
	})

	t.Run("rejects packet without type", func(t *testing.T) {
		codec := NewJSONCodec(newTestRegistry(t))

		_, err := codec.EncodePacket(&orderQuery{})
		assert.ErrorIs(t, err, contracts.ErrInvalidPacket)
	})

	t.Run("round-trips envelopes", func(t *testing.T) {
		codec := NewJSONCodec(newTestRegistry(t), WithPrettyPrint(true))

		data, err := codec.EncodeEnvelope(contracts.NewEnvelope("orders.lookup", `{"packetType":"test.orderQuery"}`))
		require.NoError(t, err)

		env, err := codec.DecodeEnvelope(data)
		require.NoError(t, err)
		assert.Equal(t, "orders.lookup", env.DeclaredRecordType)
		assert.Equal(t, `{"packetType":"test.orderQuery"}`, env.SerializedPacket)
	})

	t.Run("rejects envelope without record type", func(t *testing.T) {
		codec := NewJSONCodec(newTestRegistry(t))

		_, err := codec.DecodeEnvelope(`{"serializedPacket":"{}"}`)
		assert.Error(t, err)

		_, err = codec.DecodeEnvelope("")
		assert.Error(t, err)
	})
}
