package http

import (
	"context"
	"net/http"

	"github.com/gabapcia/xcmwatch/internal/subscription"

	"github.com/stretchr/testify/mock"
)

type SwitchboardMock struct {
	mock.Mock
}

func NewSwitchboardMock(t interface {
	mock.TestingT
	Cleanup(func())
}) *SwitchboardMock {
	m := &SwitchboardMock{}
	m.Test(t)
	t.Cleanup(func() { m.AssertExpectations(t) })
	return m
}

func (m *SwitchboardMock) Subscribe(ctx context.Context, sub subscription.Subscription) error {
	return m.Called(ctx, sub).Error(0)
}

func (m *SwitchboardMock) Unsubscribe(ctx context.Context, id string) {
	m.Called(ctx, id)
}

func (m *SwitchboardMock) UpdateSubscription(ctx context.Context, sub subscription.Subscription) (subscription.Subscription, error) {
	args := m.Called(ctx, sub)
	return args.Get(0).(subscription.Subscription), args.Error(1)
}

func (m *SwitchboardMock) FindSubscription(id string) (subscription.Subscription, error) {
	args := m.Called(id)
	return args.Get(0).(subscription.Subscription), args.Error(1)
}

func (m *SwitchboardMock) GetSubscriptions() []subscription.Subscription {
	return m.Called().Get(0).([]subscription.Subscription)
}

type StreamerMock struct {
	mock.Mock
}

func NewStreamerMock(t interface {
	mock.TestingT
	Cleanup(func())
}) *StreamerMock {
	m := &StreamerMock{}
	m.Test(t)
	t.Cleanup(func() { m.AssertExpectations(t) })
	return m
}

func (m *StreamerMock) Serve(w http.ResponseWriter, r *http.Request, subscriptionID string) {
	m.Called(w, r, subscriptionID)
}
