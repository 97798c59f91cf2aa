package notification

import (
	"context"
	"fmt"

	"github.com/go-playground/validator/v10"
	"github.com/npezzotti/quizlive/internal/database"
	"github.com/npezzotti/quizlive/internal/queue"
	"github.com/npezzotti/quizlive/internal/types"
	"github.com/rs/zerolog"
)

var validate = validator.New()

type NewNotification struct {
	UserId        string  `validate:"required"`
	Type          string  `validate:"required,oneof=follow like comment invite"`
	Title         string  `validate:"required,max=255"`
	Subtitle      *string
	RelatedUserId *string
	RelatedPostId *string
	RelatedQuizId *string
}

// Service is the producer side of the pipeline.
type Service struct {
	repo  database.QuizRepository
	queue queue.Queue
	log   zerolog.Logger
}

func NewService(repo database.QuizRepository, q queue.Queue, log zerolog.Logger) *Service {
	return &Service{
		repo:  repo,
		queue: q,
		log:   log,
	}
}

// CreateNotification stores the notification as PENDING and queues its
// delivery. A queue failure is logged and does not fail the call.
func (s *Service) CreateNotification(ctx context.Context, n NewNotification) (types.Notification, error) {
	if err := validate.Struct(n); err != nil {
		return types.Notification{}, fmt.Errorf("invalid notification: %w", err)
	}

	stored, err := s.repo.CreateNotification(ctx, database.CreateNotificationParams{
		UserId:        n.UserId,
		Type:          n.Type,
		Title:         n.Title,
		Subtitle:      n.Subtitle,
		RelatedUserId: n.RelatedUserId,
		RelatedPostId: n.RelatedPostId,
		RelatedQuizId: n.RelatedQuizId,
	})
	if err != nil {
		return types.Notification{}, fmt.Errorf("create notification: %w", err)
	}

	job, err := s.queue.Enqueue(ctx, queue.Job{
		NotificationId: stored.Id,
		UserId:         stored.UserId,
		Type:           stored.Type,
		Priority:       PriorityFor(stored.Type),
	})
	if err != nil {
		s.log.Error().
			Err(err).
			Str("notification_id", stored.Id).
			Str("user_id", stored.UserId).
			Msg("failed to enqueue notification")
	} else {
		s.log.Debug().
			Str("job_id", job.Id).
			Str("notification_id", stored.Id).
			Int("priority", job.Priority).
			Msg("notification enqueued")
	}

	return Render(stored), nil
}
