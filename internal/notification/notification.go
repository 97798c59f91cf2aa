package notification

import (
	"errors"
	"fmt"

	"github.com/npezzotti/quizlive/internal/database"
	"github.com/npezzotti/quizlive/internal/queue"
	"github.com/npezzotti/quizlive/internal/types"
	"github.com/samber/lo"
)

const (
	MetricDelivered       = "NotificationsDelivered"
	MetricOfflineAttempts = "NotificationOfflineAttempts"
	MetricJobsFailed      = "JobsFailed"
	MetricQueueWaiting    = "QueueWaitingJobs"
	MetricQueueDelayed    = "QueueDelayedJobs"
	MetricQueueActive     = "QueueActiveJobs"
)

var ErrHandlerFailure = errors.New("notification handler failed")

func handlerFailure(op string, err error) error {
	return fmt.Errorf("%s: %w: %w", op, ErrHandlerFailure, err)
}

// PriorityFor returns the queue priority for a notification type. Follows
// are delivered ahead of everything else.
func PriorityFor(notificationType string) int {
	if notificationType == types.NotificationTypeFollow {
		return queue.PriorityHigh
	}
	return queue.PriorityNormal
}

// Render converts a stored notification into its wire form.
func Render(n database.Notification) types.Notification {
	return types.Notification{
		Id:              n.Id,
		UserId:          n.UserId,
		Type:            n.Type,
		Title:           n.Title,
		Subtitle:        lo.FromPtr(n.Subtitle),
		RelatedUserId:   lo.FromPtr(n.RelatedUserId),
		RelatedPostId:   lo.FromPtr(n.RelatedPostId),
		RelatedQuizId:   lo.FromPtr(n.RelatedQuizId),
		Status:          n.Status,
		DeliveryChannel: lo.FromPtr(n.DeliveryChannel),
		RetryCount:      n.RetryCount,
		SentAt:          n.SentAt,
		CreatedAt:       n.CreatedAt,
	}
}
