package xcm

import (
	"encoding/json"
	"fmt"
)

// MessageType tags a notification.
type MessageType string

const (
	TypeSent     MessageType = "xcm.sent"
	TypeReceived MessageType = "xcm.received"
	TypeRelayed  MessageType = "xcm.relayed"
)

// MessageTypes lists every notification type.
var MessageTypes = []MessageType{TypeSent, TypeReceived, TypeRelayed}

// Valid reports whether t is a known type.
func (t MessageType) Valid() bool {
	switch t {
	case TypeSent, TypeReceived, TypeRelayed:
		return true
	}
	return false
}

// Envelope is the wire shape shared by every notification.
type Envelope struct {
	Type           MessageType     `json:"type"`
	SubscriptionID string          `json:"subscriptionId"`
	Legs           []Leg           `json:"legs"`
	Waypoint       Waypoint        `json:"waypoint"`
	Origin         TerminusContext `json:"origin"`
	Destination    TerminusContext `json:"destination"`
	Sender         *Signer         `json:"sender,omitempty"`
	MessageHash    string          `json:"messageHash"`
	MessageID      string          `json:"messageId"`
	MessageData    string          `json:"messageData,omitempty"`
	Instructions   json.RawMessage `json:"instructions,omitempty"`
}

// Message is a notification delivered to channels: Sent, Received or Relayed.
type Message interface {
	Type() MessageType
	Base() Envelope

	message()
}

// Sent is emitted as soon as a message leaves its origin.
type Sent struct{ Envelope }

// Received is emitted when a sent message is matched with its execution at the destination.
type Received struct{ Envelope }

// Relayed is emitted when a sent message is matched with a relay chain hop.
type Relayed struct{ Envelope }

func (Sent) Type() MessageType     { return TypeSent }
func (m Sent) Base() Envelope      { return m.Envelope }
func (Sent) message()              {}
func (Received) Type() MessageType { return TypeReceived }
func (m Received) Base() Envelope  { return m.Envelope }
func (Received) message()          {}
func (Relayed) Type() MessageType  { return TypeRelayed }
func (m Relayed) Base() Envelope   { return m.Envelope }
func (Relayed) message()           {}

func envelopeFrom(t MessageType, sent SentEvent) Envelope {
	return Envelope{
		Type:           t,
		SubscriptionID: sent.SubscriptionID,
		Legs:           sent.Legs(),
		Origin:         sent.Origin,
		Destination:    TerminusContext{ChainID: sent.Recipient},
		Sender:         sent.Sender,
		MessageHash:    sent.MessageHash,
		MessageID:      sent.Key(),
		MessageData:    sent.MessageData,
		Instructions:   sent.Instructions,
	}
}

// NewSent builds the notification for a message that just left its origin.
func NewSent(sent SentEvent) Sent {
	env := envelopeFrom(TypeSent, sent)
	env.Waypoint = Waypoint{TerminusContext: sent.Origin, LegIndex: 0}
	return Sent{env}
}

// NewReceived combines a sent leg with its execution at the destination.
func NewReceived(sent SentEvent, received ReceivedEvent) Received {
	env := envelopeFrom(TypeReceived, sent)
	env.Destination = received.Destination
	env.Waypoint = Waypoint{TerminusContext: received.Destination, LegIndex: len(env.Legs) - 1}
	return Received{env}
}

// NewRelayed combines a sent leg with a relay chain hop. The waypoint is
// placed at the leg leaving the relay origin towards the relay chain.
func NewRelayed(sent SentEvent, relayed RelayedEvent) Relayed {
	env := envelopeFrom(TypeRelayed, sent)

	idx := RelayLegIndex(env.Legs, relayed.Origin)
	if idx < 0 {
		idx = 0
	}

	env.Waypoint = Waypoint{TerminusContext: relayed.Relay, LegIndex: idx}
	return Relayed{env}
}

// FromEnvelope restores the typed notification of a decoded envelope.
func FromEnvelope(env Envelope) (Message, error) {
	switch env.Type {
	case TypeSent:
		return Sent{env}, nil
	case TypeReceived:
		return Received{env}, nil
	case TypeRelayed:
		return Relayed{env}, nil
	default:
		return nil, fmt.Errorf("unknown message type %q", env.Type)
	}
}
