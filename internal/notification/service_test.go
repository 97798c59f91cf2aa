package notification

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/npezzotti/quizlive/internal/database"
	"github.com/npezzotti/quizlive/internal/queue"
	"github.com/npezzotti/quizlive/internal/testutil"
	"github.com/npezzotti/quizlive/internal/types"
	"github.com/samber/lo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

func TestPriorityFor(t *testing.T) {
	assert.Equal(t, queue.PriorityHigh, PriorityFor(types.NotificationTypeFollow))
	for _, typ := range []string{types.NotificationTypeLike, types.NotificationTypeComment, types.NotificationTypeInvite} {
		assert.Equal(t, queue.PriorityNormal, PriorityFor(typ), typ)
	}
	assert.Less(t, PriorityFor(types.NotificationTypeFollow), PriorityFor(types.NotificationTypeLike))
}

func TestRender(t *testing.T) {
	sent := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
	n := Render(database.Notification{
		Id:              "n1",
		UserId:          "u1",
		Type:            "like",
		Title:           "Bob liked your post",
		RelatedPostId:   lo.ToPtr("p1"),
		Status:          types.NotificationDelivered,
		DeliveryChannel: lo.ToPtr("websocket"),
		SentAt:          &sent,
	})

	assert.Equal(t, "p1", n.RelatedPostId)
	assert.Empty(t, n.Subtitle)
	assert.Equal(t, "websocket", n.DeliveryChannel)
	assert.Equal(t, &sent, n.SentAt)
}

func TestService_CreateNotification(t *testing.T) {
	stored := database.Notification{
		Id:     "n1",
		UserId: "u1",
		Type:   types.NotificationTypeFollow,
		Title:  "Bob followed you",
		Status: types.NotificationPending,
	}

	input := NewNotification{
		UserId:        "u1",
		Type:          types.NotificationTypeFollow,
		Title:         "Bob followed you",
		RelatedUserId: lo.ToPtr("u2"),
	}

	params := database.CreateNotificationParams{
		UserId:        "u1",
		Type:          types.NotificationTypeFollow,
		Title:         "Bob followed you",
		RelatedUserId: lo.ToPtr("u2"),
	}

	expectedJob := queue.Job{
		NotificationId: "n1",
		UserId:         "u1",
		Type:           types.NotificationTypeFollow,
		Priority:       queue.PriorityHigh,
	}

	t.Run("persists then enqueues", func(t *testing.T) {
		repo := new(database.MockQuizRepository)
		q := new(queue.MockQueue)
		repo.On("CreateNotification", mock.Anything, params).Return(stored, nil)
		q.On("Enqueue", mock.Anything, expectedJob).Return(expectedJob, nil)

		svc := NewService(repo, q, testutil.TestLogger(t))
		n, err := svc.CreateNotification(context.Background(), input)
		require.NoError(t, err)
		assert.Equal(t, "n1", n.Id)
		assert.Equal(t, types.NotificationPending, n.Status)

		repo.AssertExpectations(t)
		q.AssertExpectations(t)
	})

	t.Run("enqueue failure is swallowed", func(t *testing.T) {
		repo := new(database.MockQuizRepository)
		q := new(queue.MockQueue)
		repo.On("CreateNotification", mock.Anything, params).Return(stored, nil)
		q.On("Enqueue", mock.Anything, expectedJob).Return(queue.Job{}, queue.ErrQueueUnavailable)

		svc := NewService(repo, q, testutil.TestLogger(t))
		n, err := svc.CreateNotification(context.Background(), input)
		require.NoError(t, err)
		assert.Equal(t, "n1", n.Id)
		q.AssertExpectations(t)
	})

	t.Run("database failure", func(t *testing.T) {
		repo := new(database.MockQuizRepository)
		q := new(queue.MockQueue)
		repo.On("CreateNotification", mock.Anything, params).Return(database.Notification{}, errors.New("db down"))

		svc := NewService(repo, q, testutil.TestLogger(t))
		_, err := svc.CreateNotification(context.Background(), input)
		assert.Error(t, err)
		q.AssertNotCalled(t, "Enqueue", mock.Anything, mock.Anything)
	})

	t.Run("invalid input", func(t *testing.T) {
		repo := new(database.MockQuizRepository)
		q := new(queue.MockQueue)

		svc := NewService(repo, q, testutil.TestLogger(t))
		_, err := svc.CreateNotification(context.Background(), NewNotification{UserId: "u1", Type: "poke", Title: "hi"})
		assert.Error(t, err)
		repo.AssertNotCalled(t, "CreateNotification", mock.Anything, mock.Anything)
	})
}
