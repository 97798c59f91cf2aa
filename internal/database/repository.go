package database

import (
	"context"
	"time"
)

type QuizRepository interface {
	Ping(ctx context.Context) error

	CreateAccount(ctx context.Context, params CreateAccountParams) (User, error)
	GetAccountById(ctx context.Context, id string) (User, error)
	GetAccountByEmail(ctx context.Context, email string) (User, error)

	GetSessionById(ctx context.Context, id string) (Session, error)

	GetLatestParticipant(ctx context.Context, sessionId, userId string) (Participant, error)
	CreateParticipant(ctx context.Context, sessionId, userId string) (Participant, error)
	ReactivateParticipant(ctx context.Context, p Participant) (bool, error)
	MarkParticipantLeft(ctx context.Context, p Participant) (bool, error)
	DeleteParticipant(ctx context.Context, p Participant) error
	ParticipantHasActivity(ctx context.Context, participantId string) (bool, error)
	ListSessionParticipants(ctx context.Context, sessionId string) ([]Participant, error)

	CreateNotification(ctx context.Context, params CreateNotificationParams) (Notification, error)
	GetNotificationById(ctx context.Context, id string) (Notification, error)
	MarkNotificationDelivered(ctx context.Context, id, channel string, sentAt time.Time) (bool, error)
	IncrementNotificationRetry(ctx context.Context, id string) error
	ListNotifications(ctx context.Context, userId string, limit int) ([]Notification, error)

	CreateFollow(ctx context.Context, followerId, followeeId string) error
}
