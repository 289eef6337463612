package chainstream

import (
	"context"
	"encoding/json"
)

// OutboundMessage is a message queued by a block for another chain.
type OutboundMessage struct {
	Recipient    string          `json:"recipient"`
	Data         string          `json:"data,omitempty"`
	MessageHash  string          `json:"messageHash"`
	MessageID    string          `json:"messageId,omitempty"`
	Instructions json.RawMessage `json:"instructions,omitempty"`
}

// Queries reads message queues at a given block.
type Queries interface {
	// OutboundHrmpMessages lists the horizontal messages sent by blockHash of chainID.
	OutboundHrmpMessages(ctx context.Context, chainID, blockHash string) ([]OutboundMessage, error)

	// OutboundUmpMessages lists the upward messages sent by blockHash of chainID.
	OutboundUmpMessages(ctx context.Context, chainID, blockHash string) ([]OutboundMessage, error)

	// DownwardMessageQueue lists the downward messages queued for recipient at blockHash of the relay chain.
	DownwardMessageQueue(ctx context.Context, chainID, blockHash, recipient string) ([]OutboundMessage, error)
}
