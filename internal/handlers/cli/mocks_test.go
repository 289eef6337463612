package cli

import (
	"context"

	"github.com/stretchr/testify/mock"
)

type ServiceMock struct {
	mock.Mock
}

func NewServiceMock(t interface {
	mock.TestingT
	Cleanup(func())
}) *ServiceMock {
	m := &ServiceMock{}
	m.Test(t)
	t.Cleanup(func() { m.AssertExpectations(t) })
	return m
}

func (m *ServiceMock) Start(ctx context.Context) error {
	return m.Called(ctx).Error(0)
}

func (m *ServiceMock) Close() {
	m.Called()
}
