package database

import (
	"context"
	"time"

	"github.com/stretchr/testify/mock"
)

type MockQuizRepository struct {
	mock.Mock
}

var _ QuizRepository = (*MockQuizRepository)(nil)

func (m *MockQuizRepository) Ping(ctx context.Context) error {
	args := m.Called(ctx)
	return args.Error(0)
}
func (m *MockQuizRepository) CreateAccount(ctx context.Context, params CreateAccountParams) (User, error) {
	args := m.Called(ctx, params)
	return args.Get(0).(User), args.Error(1)
}
func (m *MockQuizRepository) GetAccountById(ctx context.Context, id string) (User, error) {
	args := m.Called(ctx, id)
	return args.Get(0).(User), args.Error(1)
}
func (m *MockQuizRepository) GetAccountByEmail(ctx context.Context, email string) (User, error) {
	args := m.Called(ctx, email)
	return args.Get(0).(User), args.Error(1)
}
func (m *MockQuizRepository) GetSessionById(ctx context.Context, id string) (Session, error) {
	args := m.Called(ctx, id)
	return args.Get(0).(Session), args.Error(1)
}
func (m *MockQuizRepository) GetLatestParticipant(ctx context.Context, sessionId, userId string) (Participant, error) {
	args := m.Called(ctx, sessionId, userId)
	return args.Get(0).(Participant), args.Error(1)
}
func (m *MockQuizRepository) CreateParticipant(ctx context.Context, sessionId, userId string) (Participant, error) {
	args := m.Called(ctx, sessionId, userId)
	return args.Get(0).(Participant), args.Error(1)
}
func (m *MockQuizRepository) ReactivateParticipant(ctx context.Context, p Participant) (bool, error) {
	args := m.Called(ctx, p)
	return args.Bool(0), args.Error(1)
}
func (m *MockQuizRepository) MarkParticipantLeft(ctx context.Context, p Participant) (bool, error) {
	args := m.Called(ctx, p)
	return args.Bool(0), args.Error(1)
}
func (m *MockQuizRepository) DeleteParticipant(ctx context.Context, p Participant) error {
	args := m.Called(ctx, p)
	return args.Error(0)
}
func (m *MockQuizRepository) ParticipantHasActivity(ctx context.Context, participantId string) (bool, error) {
	args := m.Called(ctx, participantId)
	return args.Bool(0), args.Error(1)
}
func (m *MockQuizRepository) ListSessionParticipants(ctx context.Context, sessionId string) ([]Participant, error) {
	args := m.Called(ctx, sessionId)
	if participants, ok := args.Get(0).([]Participant); ok {
		return participants, args.Error(1)
	}
	return nil, args.Error(1)
}
func (m *MockQuizRepository) CreateNotification(ctx context.Context, params CreateNotificationParams) (Notification, error) {
	args := m.Called(ctx, params)
	return args.Get(0).(Notification), args.Error(1)
}
func (m *MockQuizRepository) GetNotificationById(ctx context.Context, id string) (Notification, error) {
	args := m.Called(ctx, id)
	return args.Get(0).(Notification), args.Error(1)
}
func (m *MockQuizRepository) MarkNotificationDelivered(ctx context.Context, id, channel string, sentAt time.Time) (bool, error) {
	args := m.Called(ctx, id, channel, sentAt)
	return args.Bool(0), args.Error(1)
}
func (m *MockQuizRepository) IncrementNotificationRetry(ctx context.Context, id string) error {
	args := m.Called(ctx, id)
	return args.Error(0)
}
func (m *MockQuizRepository) ListNotifications(ctx context.Context, userId string, limit int) ([]Notification, error) {
	args := m.Called(ctx, userId, limit)
	if notifications, ok := args.Get(0).([]Notification); ok {
		return notifications, args.Error(1)
	}
	return nil, args.Error(1)
}
func (m *MockQuizRepository) CreateFollow(ctx context.Context, followerId, followeeId string) error {
	args := m.Called(ctx, followerId, followeeId)
	return args.Error(0)
}
