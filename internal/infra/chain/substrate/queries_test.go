package substrate

import (
	"testing"

	"github.com/gabapcia/xcmwatch/internal/chainstream"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// versioned payload 0x03 + 0x0102: blake2b-256 of 0x0102.
const (
	payload     = "0x030102"
	payloadHash = "0x65da3986eaecf046cb2c41673aed9d4e1e661730dc31c62f327df5d15933595d"
)

func TestMessageHash(t *testing.T) {
	t.Run("hashes the payload without its version prefix", func(t *testing.T) {
		h, err := messageHash(payload)
		require.NoError(t, err)

		again, err := messageHash("0x040102")
		require.NoError(t, err)

		assert.Equal(t, payloadHash, h)
		assert.Equal(t, h, again)
	})

	t.Run("rejects invalid payloads", func(t *testing.T) {
		_, err := messageHash("0xzz")
		assert.Error(t, err)

		_, err = messageHash("0x03")
		assert.ErrorContains(t, err, "too short")
	})
}

func TestGateway_Queries(t *testing.T) {
	t.Run("fills missing message hashes", func(t *testing.T) {
		chain := newFakeChain(1)
		chain.messages["gateway_outboundHrmpMessages"] = []chainstream.OutboundMessage{
			{Recipient: "2000", Data: payload},
			{Recipient: "2001", MessageHash: "0xkept"},
		}
		g := newTestGateway(map[string]*fakeChain{"1000": chain})

		messages, err := g.OutboundHrmpMessages(t.Context(), "1000", "0xb1")
		require.NoError(t, err)
		require.Len(t, messages, 2)

		assert.Equal(t, payloadHash, messages[0].MessageHash)
		assert.Equal(t, "0xkept", messages[1].MessageHash)
		assert.Equal(t, []any{"0xb1"}, chain.lastParams("gateway_outboundHrmpMessages"))
	})

	t.Run("reads upward messages", func(t *testing.T) {
		chain := newFakeChain(1)
		chain.messages["gateway_outboundUmpMessages"] = []chainstream.OutboundMessage{{Recipient: "0", MessageHash: "0xup"}}
		g := newTestGateway(map[string]*fakeChain{"1000": chain})

		messages, err := g.OutboundUmpMessages(t.Context(), "1000", "0xb1")
		require.NoError(t, err)
		assert.Equal(t, "0xup", messages[0].MessageHash)
	})

	t.Run("reads the downward queue of a parachain", func(t *testing.T) {
		chain := newFakeChain(1)
		chain.messages["gateway_downwardMessageQueue"] = []chainstream.OutboundMessage{{Recipient: "2000", MessageHash: "0xdown"}}
		g := newTestGateway(map[string]*fakeChain{"0": chain})

		messages, err := g.DownwardMessageQueue(t.Context(), "0", "0xb1", "2000")
		require.NoError(t, err)
		assert.Len(t, messages, 1)
		assert.Equal(t, []any{"0xb1", uint64(2000)}, chain.lastParams("gateway_downwardMessageQueue"))

		_, err = g.DownwardMessageQueue(t.Context(), "0", "0xb1", "acala")
		assert.ErrorContains(t, err, "invalid parachain id")
	})

	t.Run("returns empty queues", func(t *testing.T) {
		g := newTestGateway(map[string]*fakeChain{"1000": newFakeChain(1)})

		messages, err := g.OutboundHrmpMessages(t.Context(), "1000", "0xb1")
		require.NoError(t, err)
		assert.Empty(t, messages)
	})

	t.Run("surfaces gateway errors", func(t *testing.T) {
		chain := newFakeChain(1)
		chain.fail("gateway_outboundHrmpMessages", errGatewayDown)
		g := newTestGateway(map[string]*fakeChain{"1000": chain})

		_, err := g.OutboundHrmpMessages(t.Context(), "1000", "0xb1")
		assert.ErrorIs(t, err, errGatewayDown)

		_, err = g.OutboundHrmpMessages(t.Context(), "2000", "0xb1")
		assert.ErrorIs(t, err, chainstream.ErrUnknownChain)
	})
}

func TestGateway_StorageAt(t *testing.T) {
	chain := newFakeChain(1)
	value := "0xe8030000"
	chain.storage[parachainIDKey] = &value
	g := newTestGateway(map[string]*fakeChain{"1000": chain})

	t.Run("decodes stored values", func(t *testing.T) {
		raw, err := g.StorageAt(t.Context(), "1000", "0xb1", parachainIDKey)
		require.NoError(t, err)
		assert.Equal(t, []byte{0xe8, 0x03, 0x00, 0x00}, raw)
	})

	t.Run("returns nil for missing keys", func(t *testing.T) {
		raw, err := g.StorageAt(t.Context(), "1000", "0xb1", "0xmissing")
		require.NoError(t, err)
		assert.Nil(t, raw)
	})

	t.Run("reads the parachain id at the finalized head", func(t *testing.T) {
		id, err := g.ParachainID(t.Context(), "1000")
		require.NoError(t, err)
		assert.Equal(t, "1000", id)
		assert.Equal(t, []any{parachainIDKey, hashOf(1)}, chain.lastParams("state_getStorage"))
	})
}

func TestGateway_Verify(t *testing.T) {
	served := func(encoded string) *fakeChain {
		c := newFakeChain(1)
		c.storage[parachainIDKey] = &encoded
		return c
	}

	t.Run("accepts matching gateways and skips the relay chain", func(t *testing.T) {
		relay := newFakeChain(1)
		g := newTestGateway(map[string]*fakeChain{"0": relay, "1000": served("0xe8030000")})

		require.NoError(t, g.Verify(t.Context()))
		assert.Zero(t, relay.callsOf("state_getStorage"))
	})

	t.Run("rejects gateways serving another chain", func(t *testing.T) {
		g := newTestGateway(map[string]*fakeChain{"2000": served("0xe8030000")})

		assert.ErrorIs(t, g.Verify(t.Context()), ErrChainMismatch)
	})

	t.Run("rejects chains without a parachain id", func(t *testing.T) {
		g := newTestGateway(map[string]*fakeChain{"2000": newFakeChain(1)})

		assert.ErrorContains(t, g.Verify(t.Context()), "unexpected parachain id encoding")
	})
}
