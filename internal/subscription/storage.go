package subscription

import (
	"context"
	"errors"
)

var (
	// ErrSubscriptionNotFound is returned when no descriptor is stored under an id.
	ErrSubscriptionNotFound = errors.New("subscription not found")

	// ErrSubscriptionExists is returned when inserting an id that is already taken.
	ErrSubscriptionExists = errors.New("subscription already exists")
)

// Storage persists non-ephemeral subscription descriptors.
type Storage interface {
	// GetByID returns ErrSubscriptionNotFound when id is unknown.
	GetByID(ctx context.Context, id string) (Subscription, error)

	// ListByOrigin returns every descriptor whose origin is chainID.
	ListByOrigin(ctx context.Context, chainID string) ([]Subscription, error)

	// Insert stores a new descriptor, failing with ErrSubscriptionExists if the id is taken.
	Insert(ctx context.Context, sub Subscription) error

	// Save stores sub, replacing any previous version.
	Save(ctx context.Context, sub Subscription) error

	// Remove deletes the descriptor. Removing an unknown id is not an error.
	Remove(ctx context.Context, id string) error
}
