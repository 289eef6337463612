package scheduler

import (
	"context"
	"time"

	"github.com/stretchr/testify/mock"
)

type StorageMock struct {
	mock.Mock
}

func NewStorageMock(t interface {
	mock.TestingT
	Cleanup(func())
}) *StorageMock {
	m := &StorageMock{}
	m.Test(t)
	t.Cleanup(func() { m.AssertExpectations(t) })
	return m
}

func (m *StorageMock) PutTask(ctx context.Context, task Task) error {
	return m.Called(ctx, task).Error(0)
}

func (m *StorageMock) DueTasks(ctx context.Context, now time.Time, limit int) ([]Task, error) {
	args := m.Called(ctx, now, limit)
	tasks, _ := args.Get(0).([]Task)
	return tasks, args.Error(1)
}

func (m *StorageMock) DeleteTask(ctx context.Context, key string) error {
	return m.Called(ctx, key).Error(0)
}
