package lanes

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/gabapcia/xcmwatch/internal/chainstream"
	"github.com/gabapcia/xcmwatch/internal/xcm"
)

type paraInherentArgs struct {
	Data struct {
		BackedCandidates []struct {
			Candidate struct {
				Descriptor struct {
					ParaID json.Number `json:"paraId"`
				} `json:"descriptor"`
				Commitments struct {
					HorizontalMessages []struct {
						Recipient json.Number `json:"recipient"`
						Data      string      `json:"data"`
						MessageID string      `json:"messageId,omitempty"`
					} `json:"horizontalMessages"`
				} `json:"commitments"`
			} `json:"candidate"`
		} `json:"backedCandidates"`
	} `json:"data"`
}

// relay watches the relay chain inherent for horizontal messages sent by the
// subscription origin and backed into a relay block.
func relay(spec Spec) Extractor {
	return func(_ context.Context, block chainstream.Block) ([]xcm.LegEvent, error) {
		var out []xcm.LegEvent

		for _, x := range block.Extrinsics {
			if !x.Is("paraInherent", "enter") {
				continue
			}

			var args paraInherentArgs
			if err := json.Unmarshal(x.Args, &args); err != nil {
				return nil, fmt.Errorf("decode paraInherent.enter: %w", err)
			}

			for _, backed := range args.Data.BackedCandidates {
				if backed.Candidate.Descriptor.ParaID.String() != spec.Origin {
					continue
				}

				for _, hm := range backed.Candidate.Commitments.HorizontalMessages {
					recipient := hm.Recipient.String()
					if !destinationAllowed(spec, recipient) {
						continue
					}

					hash, err := MessageHash(hm.Data)
					if err != nil {
						return nil, err
					}

					tc := terminus(block, nil, xcm.OutcomeSuccess)
					tc.ExtrinsicID = block.ExtrinsicID(x.Index)

					out = append(out, xcm.RelayedEvent{
						SubscriptionID: spec.SubscriptionID,
						Relay:          tc,
						Origin:         spec.Origin,
						Recipient:      recipient,
						MessageHash:    hash,
						MessageID:      hm.MessageID,
					})
				}
			}
		}

		return out, nil
	}
}
