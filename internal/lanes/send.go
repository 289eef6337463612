package lanes

import (
	"context"
	"fmt"

	"github.com/gabapcia/xcmwatch/internal/chainstream"
	"github.com/gabapcia/xcmwatch/internal/pkg/logger"
	"github.com/gabapcia/xcmwatch/internal/xcm"
)

type messageSentData struct {
	MessageHash string `json:"messageHash"`
	MessageID   string `json:"messageId,omitempty"`
}

type downwardSentData struct {
	Destination string `json:"destination"`
	MessageID   string `json:"messageId"`
}

// queueQuery reads the outbound queue of a block once per block.
type queueQuery func(ctx context.Context, block chainstream.Block) ([]chainstream.OutboundMessage, error)

func sentEvent(spec Spec, block chainstream.Block, ev chainstream.Event, msg chainstream.OutboundMessage, sender *xcm.Signer) xcm.SentEvent {
	return xcm.SentEvent{
		SubscriptionID: spec.SubscriptionID,
		Origin:         terminus(block, &ev, xcm.OutcomeSuccess),
		Recipient:      msg.Recipient,
		MessageHash:    msg.MessageHash,
		MessageID:      msg.MessageID,
		MessageData:    msg.Data,
		Instructions:   msg.Instructions,
		Sender:         sender,
	}
}

// outbound extracts the messages announced by section.method events and
// resolved against the queue returned by query.
func outbound(spec Spec, section, method string, query queueQuery) Extractor {
	return func(ctx context.Context, block chainstream.Block) ([]xcm.LegEvent, error) {
		var (
			out      []xcm.LegEvent
			messages []chainstream.OutboundMessage
			fetched  bool
		)

		for _, ev := range block.Events {
			if !ev.Is(section, method) {
				continue
			}

			sender, ok := senderAllowed(spec, block, ev)
			if !ok {
				continue
			}

			var data messageSentData
			if err := ev.Decode(&data); err != nil {
				return nil, fmt.Errorf("decode %s.%s: %w", section, method, err)
			}

			if !fetched {
				var err error
				if messages, err = query(ctx, block); err != nil {
					return nil, err
				}
				fetched = true
			}

			msg, ok := findMessage(messages, data.MessageHash, data.MessageID)
			if !ok {
				logger.Warn(ctx, "sent message not found in queue", "message.hash", data.MessageHash, "block.number", block.Number)
				continue
			}

			if !destinationAllowed(spec, msg.Recipient) {
				continue
			}

			if msg.MessageID == "" {
				msg.MessageID = data.MessageID
			}

			out = append(out, sentEvent(spec, block, ev, msg, sender))
		}

		return out, nil
	}
}

func hrmpSend(spec Spec, queries chainstream.Queries) Extractor {
	return outbound(spec, "xcmpQueue", "XcmpMessageSent", func(ctx context.Context, block chainstream.Block) ([]chainstream.OutboundMessage, error) {
		return queries.OutboundHrmpMessages(ctx, block.ChainID, block.Hash)
	})
}

func umpSend(spec Spec, queries chainstream.Queries) Extractor {
	return outbound(spec, "parachainSystem", "UpwardMessageSent", func(ctx context.Context, block chainstream.Block) ([]chainstream.OutboundMessage, error) {
		messages, err := queries.OutboundUmpMessages(ctx, block.ChainID, block.Hash)
		for i := range messages {
			messages[i].Recipient = xcm.RelayChainID
		}
		return messages, err
	})
}

// dmpSend extracts downward messages sent by the relay chain. The queue is
// read per recipient since the relay keeps one queue per parachain.
func dmpSend(spec Spec, queries chainstream.Queries) Extractor {
	return func(ctx context.Context, block chainstream.Block) ([]xcm.LegEvent, error) {
		var out []xcm.LegEvent

		for _, ev := range block.Events {
			if !ev.Is("xcmPallet", "Sent") {
				continue
			}

			sender, ok := senderAllowed(spec, block, ev)
			if !ok {
				continue
			}

			var data downwardSentData
			if err := ev.Decode(&data); err != nil {
				return nil, fmt.Errorf("decode xcmPallet.Sent: %w", err)
			}

			if !destinationAllowed(spec, data.Destination) {
				continue
			}

			messages, err := queries.DownwardMessageQueue(ctx, block.ChainID, block.Hash, data.Destination)
			if err != nil {
				return nil, err
			}

			msg, ok := findMessage(messages, "", data.MessageID)
			if !ok {
				logger.Warn(ctx, "downward message not found in queue", "message.id", data.MessageID, "block.number", block.Number)
				continue
			}

			msg.Recipient = data.Destination
			if msg.MessageID == "" {
				msg.MessageID = data.MessageID
			}

			out = append(out, sentEvent(spec, block, ev, msg, sender))
		}

		return out, nil
	}
}
