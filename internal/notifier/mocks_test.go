package notifier

import (
	"context"
	"sync"

	"github.com/gabapcia/xcmwatch/internal/scheduler"
	"github.com/gabapcia/xcmwatch/internal/subscription"
	"github.com/gabapcia/xcmwatch/internal/xcm"

	"github.com/stretchr/testify/mock"
)

type SubscriptionStorageMock struct {
	mock.Mock
}

func NewSubscriptionStorageMock(t interface {
	mock.TestingT
	Cleanup(func())
}) *SubscriptionStorageMock {
	m := &SubscriptionStorageMock{}
	m.Test(t)
	t.Cleanup(func() { m.AssertExpectations(t) })
	return m
}

func (m *SubscriptionStorageMock) GetByID(ctx context.Context, id string) (subscription.Subscription, error) {
	args := m.Called(ctx, id)
	return args.Get(0).(subscription.Subscription), args.Error(1)
}

func (m *SubscriptionStorageMock) ListByOrigin(ctx context.Context, chainID string) ([]subscription.Subscription, error) {
	args := m.Called(ctx, chainID)
	subs, _ := args.Get(0).([]subscription.Subscription)
	return subs, args.Error(1)
}

func (m *SubscriptionStorageMock) Insert(ctx context.Context, sub subscription.Subscription) error {
	return m.Called(ctx, sub).Error(0)
}

func (m *SubscriptionStorageMock) Save(ctx context.Context, sub subscription.Subscription) error {
	return m.Called(ctx, sub).Error(0)
}

func (m *SubscriptionStorageMock) Remove(ctx context.Context, id string) error {
	return m.Called(ctx, id).Error(0)
}

type NotifierMock struct {
	mock.Mock
}

func NewNotifierMock(t interface {
	mock.TestingT
	Cleanup(func())
}) *NotifierMock {
	m := &NotifierMock{}
	m.Test(t)
	t.Cleanup(func() { m.AssertExpectations(t) })
	return m
}

func (m *NotifierMock) Notify(ctx context.Context, sub subscription.Subscription, msg xcm.Message) error {
	return m.Called(ctx, sub, msg).Error(0)
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

func (r *taskRecorder) scheduled() []scheduler.Task {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]scheduler.Task(nil), r.tasks...)
}

// outcomeRecorder counts delivery outcomes.
type outcomeRecorder struct {
	mu       sync.Mutex
	notified int
	failed   int
}

func (o *outcomeRecorder) Notified(context.Context, string, subscription.ChannelType, xcm.Message) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.notified++
}

func (o *outcomeRecorder) NotifyFailed(context.Context, string, subscription.ChannelType, xcm.Message, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.failed++
}
