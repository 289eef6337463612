package ws

import (
	"context"

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

func (m *SwitchboardMock) FindSubscription(id string) (subscription.Subscription, error) {
	args := m.Called(id)
	return args.Get(0).(subscription.Subscription), args.Error(1)
}
