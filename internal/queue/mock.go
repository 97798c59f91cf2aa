package queue

import (
	"context"

	"github.com/stretchr/testify/mock"
)

type MockQueue struct {
	mock.Mock
}

var _ Queue = (*MockQueue)(nil)

func (m *MockQueue) Enqueue(ctx context.Context, job Job) (Job, error) {
	args := m.Called(ctx, job)
	return args.Get(0).(Job), args.Error(1)
}
func (m *MockQueue) Dequeue(ctx context.Context) (Job, bool, error) {
	args := m.Called(ctx)
	return args.Get(0).(Job), args.Bool(1), args.Error(2)
}
func (m *MockQueue) Ack(ctx context.Context, job Job) error {
	args := m.Called(ctx, job)
	return args.Error(0)
}
func (m *MockQueue) Retry(ctx context.Context, job Job) (bool, error) {
	args := m.Called(ctx, job)
	return args.Bool(0), args.Error(1)
}
func (m *MockQueue) Counts(ctx context.Context) (Counts, error) {
	args := m.Called(ctx)
	return args.Get(0).(Counts), args.Error(1)
}
