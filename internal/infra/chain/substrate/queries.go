package substrate

import (
	"context"
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"

	"github.com/gabapcia/xcmwatch/internal/chainstream"
	"github.com/gabapcia/xcmwatch/internal/pkg/logger"
	"github.com/gabapcia/xcmwatch/internal/pkg/transport/jsonrpc"
	"github.com/gabapcia/xcmwatch/internal/xcm"

	"golang.org/x/crypto/blake2b"
)

// parachainIDKey is the storage key of ParachainInfo.ParachainId.
const parachainIDKey = "0x0d715f2646c8f85767b5d2764bb2782604a74d81251e398fd8a0a4d55023bb3f"

// messageHash hashes a versioned XCM payload without its format prefix.
func messageHash(data string) (string, error) {
	raw, err := decodeHex(data)
	if err != nil {
		return "", fmt.Errorf("decode message data: %w", err)
	}

	if len(raw) < 2 {
		return "", fmt.Errorf("message data too short: %d bytes", len(raw))
	}

	sum := blake2b.Sum256(raw[1:])
	return "0x" + hex.EncodeToString(sum[:]), nil
}

func decodeHex(s string) ([]byte, error) {
	return hex.DecodeString(strings.TrimPrefix(strings.TrimPrefix(s, "0x"), "0X"))
}

// withHashes fills the hash of every message the gateway sent without one.
func withHashes(ctx context.Context, messages []chainstream.OutboundMessage) []chainstream.OutboundMessage {
	for i, m := range messages {
		if m.MessageHash != "" || m.Data == "" {
			continue
		}

		h, err := messageHash(m.Data)
		if err != nil {
			logger.Warn(ctx, "unable to hash queued message", "message.recipient", m.Recipient, "error", err)
			continue
		}
		messages[i].MessageHash = h
	}
	return messages
}

func (g *gateway) messages(ctx context.Context, chainID, method string, params ...any) ([]chainstream.OutboundMessage, error) {
	conn, err := g.conn(chainID)
	if err != nil {
		return nil, err
	}

	messages, err := jsonrpc.Call[[]chainstream.OutboundMessage](ctx, conn, method, params...)
	if err != nil {
		return nil, err
	}

	return withHashes(ctx, messages), nil
}

func (g *gateway) OutboundHrmpMessages(ctx context.Context, chainID, blockHash string) ([]chainstream.OutboundMessage, error) {
	return g.messages(ctx, chainID, "gateway_outboundHrmpMessages", blockHash)
}

func (g *gateway) OutboundUmpMessages(ctx context.Context, chainID, blockHash string) ([]chainstream.OutboundMessage, error) {
	return g.messages(ctx, chainID, "gateway_outboundUmpMessages", blockHash)
}

func (g *gateway) DownwardMessageQueue(ctx context.Context, chainID, blockHash, recipient string) ([]chainstream.OutboundMessage, error) {
	paraID, err := strconv.ParseUint(recipient, 10, 32)
	if err != nil {
		return nil, fmt.Errorf("invalid parachain id %q: %w", recipient, err)
	}

	return g.messages(ctx, chainID, "gateway_downwardMessageQueue", blockHash, paraID)
}

// StorageAt reads the raw value of key at blockHash. A missing value is
// returned as nil.
func (g *gateway) StorageAt(ctx context.Context, chainID, blockHash, key string) ([]byte, error) {
	conn, err := g.conn(chainID)
	if err != nil {
		return nil, err
	}

	value, err := jsonrpc.Call[*string](ctx, conn, "state_getStorage", key, blockHash)
	if err != nil {
		return nil, err
	}

	if value == nil {
		return nil, nil
	}

	return decodeHex(*value)
}

// ParachainID reads the parachain id served by the gateway of chainID at
// its finalized head.
func (g *gateway) ParachainID(ctx context.Context, chainID string) (string, error) {
	conn, err := g.conn(chainID)
	if err != nil {
		return "", err
	}

	head, err := jsonrpc.Call[string](ctx, conn, "chain_getFinalizedHead")
	if err != nil {
		return "", err
	}

	raw, err := g.StorageAt(ctx, chainID, head, parachainIDKey)
	if err != nil {
		return "", err
	}

	if len(raw) != 4 {
		return "", fmt.Errorf("unexpected parachain id encoding: %d bytes", len(raw))
	}

	return strconv.FormatUint(uint64(binary.LittleEndian.Uint32(raw)), 10), nil
}

// Verify checks that every parachain gateway serves the chain it is
// configured for. The relay chain is not checked.
func (g *gateway) Verify(ctx context.Context) error {
	for chainID := range g.conns {
		if xcm.IsRelay(chainID) {
			continue
		}

		served, err := g.ParachainID(ctx, chainID)
		if err != nil {
			return fmt.Errorf("verify chain %s: %w", chainID, err)
		}

		if served != chainID {
			return fmt.Errorf("%w: configured %s, gateway serves %s", ErrChainMismatch, chainID, served)
		}
	}

	return nil
}
