package xcm

import "encoding/json"

// Outcome of executing a message at a waypoint.
type Outcome string

const (
	OutcomeSuccess Outcome = "Success"
	OutcomeFail    Outcome = "Fail"
)

// Signer identifies the account that signed the extrinsic emitting a message.
type Signer struct {
	ID        string `json:"id"`
	PublicKey string `json:"publicKey,omitempty"`
}

// TerminusContext is the on-chain context of a message at one chain.
type TerminusContext struct {
	ChainID       string          `json:"chainId"`
	BlockNumber   string          `json:"blockNumber,omitempty"`
	BlockHash     string          `json:"blockHash,omitempty"`
	ExtrinsicID   string          `json:"extrinsicId,omitempty"`
	Event         json.RawMessage `json:"event,omitempty"`
	Outcome       Outcome         `json:"outcome,omitempty"`
	Error         string          `json:"error,omitempty"`
	AssetsTrapped json.RawMessage `json:"assetsTrapped,omitempty"`
}

// Waypoint is the position of a message along its legs.
type Waypoint struct {
	TerminusContext
	LegIndex int `json:"legIndex"`
}

// LegEvent is a single extracted leg waiting to be correlated. It is one of
// SentEvent, ReceivedEvent or RelayedEvent.
type LegEvent interface {
	// Key is the correlation key: the message id, or the hash when no id is known.
	Key() string
	// Subscription returns the id of the subscription the leg was extracted for.
	Subscription() string

	legEvent()
}

func correlationKey(id, hash string) string {
	if id != "" {
		return id
	}
	return hash
}

// SentEvent is a message leaving its origin chain.
type SentEvent struct {
	SubscriptionID string          `json:"subscriptionId"`
	Origin         TerminusContext `json:"origin"`
	Recipient      string          `json:"recipient"`
	MessageHash    string          `json:"messageHash"`
	MessageID      string          `json:"messageId,omitempty"`
	MessageData    string          `json:"messageData,omitempty"`
	Instructions   json.RawMessage `json:"instructions,omitempty"`
	Sender         *Signer         `json:"sender,omitempty"`
}

func (e SentEvent) Key() string          { return correlationKey(e.MessageID, e.MessageHash) }
func (e SentEvent) Subscription() string { return e.SubscriptionID }
func (SentEvent) legEvent()              {}

// Legs returns the path of the message.
func (e SentEvent) Legs() []Leg {
	return ConstructLegs(e.Origin.ChainID, e.Recipient)
}

// ReceivedEvent is a message executed at its destination chain.
type ReceivedEvent struct {
	SubscriptionID string          `json:"subscriptionId"`
	Destination    TerminusContext `json:"destination"`
	MessageHash    string          `json:"messageHash"`
	MessageID      string          `json:"messageId,omitempty"`
}

func (e ReceivedEvent) Key() string          { return correlationKey(e.MessageID, e.MessageHash) }
func (e ReceivedEvent) Subscription() string { return e.SubscriptionID }
func (ReceivedEvent) legEvent()              {}

// RelayedEvent is a horizontal message observed on the relay chain on its
// way from Origin to Recipient.
type RelayedEvent struct {
	SubscriptionID string          `json:"subscriptionId"`
	Relay          TerminusContext `json:"relay"`
	Origin         string          `json:"origin"`
	Recipient      string          `json:"recipient"`
	MessageHash    string          `json:"messageHash"`
	MessageID      string          `json:"messageId,omitempty"`
}

func (e RelayedEvent) Key() string          { return correlationKey(e.MessageID, e.MessageHash) }
func (e RelayedEvent) Subscription() string { return e.SubscriptionID }
func (RelayedEvent) legEvent()              {}
