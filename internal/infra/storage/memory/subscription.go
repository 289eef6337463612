package memory

import (
	"context"
	"slices"
	"strings"

	"github.com/gabapcia/xcmwatch/internal/subscription"
)

func (s *storage) GetByID(_ context.Context, id string) (subscription.Subscription, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sub, ok := s.subscriptions[id]
	if !ok {
		return subscription.Subscription{}, subscription.ErrSubscriptionNotFound
	}
	return sub, nil
}

func (s *storage) ListByOrigin(_ context.Context, chainID string) ([]subscription.Subscription, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []subscription.Subscription
	for _, sub := range s.subscriptions {
		if sub.Origin == chainID {
			out = append(out, sub)
		}
	}

	slices.SortFunc(out, func(a, b subscription.Subscription) int {
		return strings.Compare(a.ID, b.ID)
	})
	return out, nil
}

func (s *storage) Insert(_ context.Context, sub subscription.Subscription) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.subscriptions[sub.ID]; ok {
		return subscription.ErrSubscriptionExists
	}

	s.subscriptions[sub.ID] = sub
	return nil
}

func (s *storage) Save(_ context.Context, sub subscription.Subscription) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.subscriptions[sub.ID] = sub
	return nil
}

func (s *storage) Remove(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.subscriptions, id)
	return nil
}
