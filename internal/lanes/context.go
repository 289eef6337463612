package lanes

import (
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/gabapcia/xcmwatch/internal/chainstream"
	"github.com/gabapcia/xcmwatch/internal/xcm"

	"golang.org/x/crypto/blake2b"
)

// terminus builds the context of ev at block.
func terminus(block chainstream.Block, ev *chainstream.Event, outcome xcm.Outcome) xcm.TerminusContext {
	tc := xcm.TerminusContext{
		ChainID:     block.ChainID,
		BlockNumber: strconv.FormatUint(block.Number, 10),
		BlockHash:   block.Hash,
		Outcome:     outcome,
	}

	if ev == nil {
		return tc
	}

	if ev.ExtrinsicIndex != nil {
		tc.ExtrinsicID = block.ExtrinsicID(*ev.ExtrinsicIndex)
	}

	if raw, err := json.Marshal(ev); err == nil {
		tc.Event = raw
	}

	return tc
}

// signer returns the signer of the extrinsic that emitted ev.
func signer(block chainstream.Block, ev chainstream.Event) *xcm.Signer {
	x, ok := block.ExtrinsicOf(ev)
	if !ok || x.Signer == "" {
		return nil
	}
	return &xcm.Signer{ID: x.Signer}
}

// senderAllowed applies the sender criteria to the signer of ev.
func senderAllowed(spec Spec, block chainstream.Block, ev chainstream.Event) (*xcm.Signer, bool) {
	s := signer(block, ev)
	if s == nil {
		return nil, spec.Senders == nil || spec.Senders.Matches("")
	}
	return s, spec.Senders == nil || spec.Senders.Matches(s.ID)
}

func destinationAllowed(spec Spec, recipient string) bool {
	return spec.Destinations == nil || spec.Destinations.Matches(recipient)
}

// MessageHash hashes a versioned XCM payload. The first byte of data is the
// format prefix and is not part of the hashed program.
func MessageHash(data string) (string, error) {
	raw, err := hex.DecodeString(strings.TrimPrefix(strings.TrimPrefix(data, "0x"), "0X"))
	if err != nil {
		return "", fmt.Errorf("decode message data: %w", err)
	}

	if len(raw) < 2 {
		return "", fmt.Errorf("message data too short: %d bytes", len(raw))
	}

	sum := blake2b.Sum256(raw[1:])
	return "0x" + hex.EncodeToString(sum[:]), nil
}

// findMessage picks the queued message matching hash or id.
func findMessage(messages []chainstream.OutboundMessage, hash, id string) (chainstream.OutboundMessage, bool) {
	for _, m := range messages {
		if m.MessageHash == "" && m.Data != "" {
			if h, err := MessageHash(m.Data); err == nil {
				m.MessageHash = h
			}
		}

		if hash != "" && m.MessageHash == hash {
			return m, true
		}
		if id != "" && (m.MessageID == id || m.MessageHash == id) {
			return m, true
		}
	}
	return chainstream.OutboundMessage{}, false
}
