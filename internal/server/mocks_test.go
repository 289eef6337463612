package server

import (
	"context"

	"github.com/stretchr/testify/mock"
)

type testingT interface {
	mock.TestingT
	Cleanup(func())
}

type SchedulerMock struct {
	mock.Mock
}

func NewSchedulerMock(t testingT) *SchedulerMock {
	m := &SchedulerMock{}
	m.Test(t)
	t.Cleanup(func() { m.AssertExpectations(t) })
	return m
}

func (m *SchedulerMock) Start(ctx context.Context) error {
	return m.Called(ctx).Error(0)
}

func (m *SchedulerMock) Close() {
	m.Called()
}

type SwitchboardMock struct {
	mock.Mock
}

func NewSwitchboardMock(t testingT) *SwitchboardMock {
	m := &SwitchboardMock{}
	m.Test(t)
	t.Cleanup(func() { m.AssertExpectations(t) })
	return m
}

func (m *SwitchboardMock) Start(ctx context.Context) error {
	return m.Called(ctx).Error(0)
}

func (m *SwitchboardMock) Stop() {
	m.Called()
}

type SocketsMock struct {
	mock.Mock
}

func NewSocketsMock(t testingT) *SocketsMock {
	m := &SocketsMock{}
	m.Test(t)
	t.Cleanup(func() { m.AssertExpectations(t) })
	return m
}

func (m *SocketsMock) Close() {
	m.Called()
}
