package lanes

import (
	"context"

	"github.com/gabapcia/xcmwatch/internal/chainstream"
	"github.com/gabapcia/xcmwatch/internal/xcm"

	"github.com/stretchr/testify/mock"
)

type QueriesMock struct {
	mock.Mock
}

func NewQueriesMock(t interface {
	mock.TestingT
	Cleanup(func())
}) *QueriesMock {
	m := &QueriesMock{}
	m.Test(t)
	t.Cleanup(func() { m.AssertExpectations(t) })
	return m
}

func (m *QueriesMock) OutboundHrmpMessages(ctx context.Context, chainID, blockHash string) ([]chainstream.OutboundMessage, error) {
	args := m.Called(ctx, chainID, blockHash)
	msgs, _ := args.Get(0).([]chainstream.OutboundMessage)
	return msgs, args.Error(1)
}

func (m *QueriesMock) OutboundUmpMessages(ctx context.Context, chainID, blockHash string) ([]chainstream.OutboundMessage, error) {
	args := m.Called(ctx, chainID, blockHash)
	msgs, _ := args.Get(0).([]chainstream.OutboundMessage)
	return msgs, args.Error(1)
}

func (m *QueriesMock) DownwardMessageQueue(ctx context.Context, chainID, blockHash, recipient string) ([]chainstream.OutboundMessage, error) {
	args := m.Called(ctx, chainID, blockHash, recipient)
	msgs, _ := args.Get(0).([]chainstream.OutboundMessage)
	return msgs, args.Error(1)
}

type HandlerMock struct {
	mock.Mock
}

func NewHandlerMock(t interface {
	mock.TestingT
	Cleanup(func())
}) *HandlerMock {
	m := &HandlerMock{}
	m.Test(t)
	t.Cleanup(func() { m.AssertExpectations(t) })
	return m
}

func (m *HandlerMock) HandleLeg(ctx context.Context, spec Spec, ev xcm.LegEvent) error {
	return m.Called(ctx, spec, ev).Error(0)
}

func (m *HandlerMock) HandleError(ctx context.Context, spec Spec, err error) {
	m.Called(ctx, spec, err)
}
