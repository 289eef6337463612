package matching

import (
	"context"
	"errors"
	"time"

	"github.com/gabapcia/xcmwatch/internal/xcm"
)

// ErrPendingNotFound is returned when no pending state is stored under a key.
var ErrPendingNotFound = errors.New("pending state not found")

// Family partitions pending state by the kind of leg waiting for a counterpart.
type Family string

const (
	FamilyOutbound Family = "outbound"
	FamilyInbound  Family = "inbound"
	FamilyRelay    Family = "relay"
)

// Pending is a leg that arrived before its counterpart.
type Pending struct {
	SubscriptionID string             `json:"subscriptionId"`
	CreatedAt      time.Time          `json:"createdAt"`
	Outbound       *xcm.SentEvent     `json:"outbound,omitempty"`
	Inbound        *xcm.ReceivedEvent `json:"inbound,omitempty"`
	Relay          *xcm.RelayedEvent  `json:"relay,omitempty"`
}

// PendingStorage persists pending state.
type PendingStorage interface {
	// GetPending returns the state stored under key, or ErrPendingNotFound.
	GetPending(ctx context.Context, family Family, key string) (Pending, error)

	// PutPending stores p under key, indexed by its subscription.
	PutPending(ctx context.Context, family Family, key string, p Pending) error

	// DeletePending removes key. Missing keys are ignored.
	DeletePending(ctx context.Context, family Family, key string) error

	// DeletePendingBySubscription removes every entry of subscriptionID in every family.
	DeletePendingBySubscription(ctx context.Context, subscriptionID string) error
}
