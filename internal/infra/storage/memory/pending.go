package memory

import (
	"context"

	"github.com/gabapcia/xcmwatch/internal/matching"
)

func (s *storage) GetPending(_ context.Context, family matching.Family, key string) (matching.Pending, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	entries, _ := s.pending.Lookup(family)
	p, ok := entries[key]
	if !ok {
		return matching.Pending{}, matching.ErrPendingNotFound
	}
	return p, nil
}

func (s *storage) PutPending(_ context.Context, family matching.Family, key string, p matching.Pending) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.pending.Get(family)[key] = p
	return nil
}

func (s *storage) DeletePending(_ context.Context, family matching.Family, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if entries, ok := s.pending.Lookup(family); ok {
		delete(entries, key)
	}
	return nil
}

func (s *storage) DeletePendingBySubscription(_ context.Context, subscriptionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, entries := range s.pending.ToMap() {
		for key, p := range entries {
			if p.SubscriptionID == subscriptionID {
				delete(entries, key)
			}
		}
	}
	return nil
}
