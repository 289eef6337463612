package matching

import (
	"context"
	"sync"

	"github.com/gabapcia/xcmwatch/internal/scheduler"
	"github.com/gabapcia/xcmwatch/internal/xcm"

	"github.com/stretchr/testify/mock"
)

type PendingStorageMock struct {
	mock.Mock
}

func NewPendingStorageMock(t interface {
	mock.TestingT
	Cleanup(func())
}) *PendingStorageMock {
	m := &PendingStorageMock{}
	m.Test(t)
	t.Cleanup(func() { m.AssertExpectations(t) })
	return m
}

func (m *PendingStorageMock) GetPending(ctx context.Context, family Family, key string) (Pending, error) {
	args := m.Called(ctx, family, key)
	return args.Get(0).(Pending), args.Error(1)
}

func (m *PendingStorageMock) PutPending(ctx context.Context, family Family, key string, p Pending) error {
	return m.Called(ctx, family, key, p).Error(0)
}

func (m *PendingStorageMock) DeletePending(ctx context.Context, family Family, key string) error {
	return m.Called(ctx, family, key).Error(0)
}

func (m *PendingStorageMock) DeletePendingBySubscription(ctx context.Context, subscriptionID string) error {
	return m.Called(ctx, subscriptionID).Error(0)
}

// mapStorage is a map backed PendingStorage.
type mapStorage struct {
	mu      sync.Mutex
	entries map[Family]map[string]Pending
}

func newMapStorage() *mapStorage {
	return &mapStorage{entries: make(map[Family]map[string]Pending)}
}

func (s *mapStorage) GetPending(_ context.Context, family Family, key string) (Pending, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.entries[family][key]
	if !ok {
		return Pending{}, ErrPendingNotFound
	}
	return p, nil
}

func (s *mapStorage) PutPending(_ context.Context, family Family, key string, p Pending) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.entries[family] == nil {
		s.entries[family] = make(map[string]Pending)
	}
	s.entries[family][key] = p
	return nil
}

func (s *mapStorage) DeletePending(_ context.Context, family Family, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.entries[family], key)
	return nil
}

func (s *mapStorage) DeletePendingBySubscription(_ context.Context, subscriptionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, entries := range s.entries {
		for key, p := range entries {
			if p.SubscriptionID == subscriptionID {
				delete(entries, key)
			}
		}
	}
	return nil
}

func (s *mapStorage) len() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	n := 0
	for _, entries := range s.entries {
		n += len(entries)
	}
	return n
}

// recorder collects emitted notifications.
type recorder struct {
	mu       sync.Mutex
	messages []xcm.Message
}

func (r *recorder) OnMessage(_ context.Context, msg xcm.Message) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.messages = append(r.messages, msg)
}

func (r *recorder) types() []xcm.MessageType {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]xcm.MessageType, 0, len(r.messages))
	for _, m := range r.messages {
		out = append(out, m.Type())
	}
	return out
}

func (r *recorder) last() xcm.Message {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.messages[len(r.messages)-1]
}

// taskRecorder is a Scheduler keeping tasks in memory.
type taskRecorder struct {
	mu       sync.Mutex
	tasks    []scheduler.Task
	handlers map[string]scheduler.Handler
}

func newTaskRecorder() *taskRecorder {
	return &taskRecorder{handlers: make(map[string]scheduler.Handler)}
}

func (r *taskRecorder) Schedule(_ context.Context, task scheduler.Task) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tasks = append(r.tasks, task)
	return nil
}

func (r *taskRecorder) On(taskType string, handler scheduler.Handler) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handlers[taskType] = handler
}
