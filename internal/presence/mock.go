package presence

import (
	"context"

	"github.com/stretchr/testify/mock"
)

type MockStore struct {
	mock.Mock
}

var _ Store = (*MockStore)(nil)

func (m *MockStore) AddConnection(ctx context.Context, userId, email string) error {
	args := m.Called(ctx, userId, email)
	return args.Error(0)
}
func (m *MockStore) RemoveConnection(ctx context.Context, userId string) error {
	args := m.Called(ctx, userId)
	return args.Error(0)
}
func (m *MockStore) UpdateHeartbeat(ctx context.Context, userId string) error {
	args := m.Called(ctx, userId)
	return args.Error(0)
}
func (m *MockStore) IsOnline(ctx context.Context, userId string) (bool, error) {
	args := m.Called(ctx, userId)
	return args.Bool(0), args.Error(1)
}
func (m *MockStore) PublishNotification(ctx context.Context, userId string, payload []byte) (bool, error) {
	args := m.Called(ctx, userId, payload)
	return args.Bool(0), args.Error(1)
}
func (m *MockStore) Subscribe(ctx context.Context, userId string) error {
	args := m.Called(ctx, userId)
	return args.Error(0)
}
func (m *MockStore) Unsubscribe(ctx context.Context, userId string) error {
	args := m.Called(ctx, userId)
	return args.Error(0)
}
func (m *MockStore) Messages() <-chan Message {
	args := m.Called()
	return args.Get(0).(<-chan Message)
}
func (m *MockStore) Close() error {
	args := m.Called()
	return args.Error(0)
}
