package notification

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	"github.com/npezzotti/quizlive/internal/database"
	"github.com/npezzotti/quizlive/internal/queue"
	"github.com/npezzotti/quizlive/internal/stats"
	"github.com/npezzotti/quizlive/internal/types"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
)

const (
	defaultPollInterval  = 500 * time.Millisecond
	defaultDepthInterval = 15 * time.Second
	jobTimeout           = 15 * time.Second
)

// Publisher delivers a payload to a user's live connections.
type Publisher interface {
	PublishNotification(ctx context.Context, userId string, payload []byte) (bool, error)
}

type Worker struct {
	repo         database.QuizRepository
	publisher    Publisher
	queue        queue.Queue
	stats        stats.StatsProvider
	log          zerolog.Logger
	concurrency   int
	pollInterval  time.Duration
	depthInterval time.Duration
	now           func() time.Time
}

func NewWorker(repo database.QuizRepository, publisher Publisher, q queue.Queue, sp stats.StatsProvider, log zerolog.Logger, concurrency int) *Worker {
	if concurrency < 1 {
		concurrency = 1
	}

	sp.RegisterMetric(MetricDelivered)
	sp.RegisterMetric(MetricOfflineAttempts)
	sp.RegisterMetric(MetricJobsFailed)
	sp.RegisterMetric(MetricQueueWaiting)
	sp.RegisterMetric(MetricQueueDelayed)
	sp.RegisterMetric(MetricQueueActive)

	return &Worker{
		repo:          repo,
		publisher:     publisher,
		queue:         q,
		stats:         sp,
		log:           log,
		concurrency:   concurrency,
		pollInterval:  defaultPollInterval,
		depthInterval: defaultDepthInterval,
		now:           time.Now,
	}
}

// Run pulls jobs until ctx is cancelled, then waits for in-flight jobs.
func (w *Worker) Run(ctx context.Context) error {
	w.log.Info().Int("concurrency", w.concurrency).Msg("notification worker started")

	var g errgroup.Group
	g.SetLimit(w.concurrency)

	reporterDone := make(chan struct{})
	go func() {
		defer close(reporterDone)
		w.reportDepthEvery(ctx)
	}()

	for {
		if ctx.Err() != nil {
			break
		}

		job, ok, err := w.queue.Dequeue(ctx)
		if err != nil {
			if ctx.Err() != nil {
				break
			}
			w.log.Error().Err(err).Msg("dequeue failed")
			w.sleep(ctx)
			continue
		}
		if !ok {
			w.sleep(ctx)
			continue
		}

		g.Go(func() error {
			jobCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), jobTimeout)
			defer cancel()

			w.handle(jobCtx, job)
			return nil
		})
	}

	err := g.Wait()
	<-reporterDone
	w.log.Info().Msg("notification worker stopped")
	return err
}

func (w *Worker) sleep(ctx context.Context) {
	select {
	case <-ctx.Done():
	case <-time.After(w.pollInterval):
	}
}

func (w *Worker) reportDepthEvery(ctx context.Context) {
	ticker := time.NewTicker(w.depthInterval)
	defer ticker.Stop()

	for {
		w.reportDepth(ctx)

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// reportDepth publishes the number of waiting, delayed and leased jobs.
func (w *Worker) reportDepth(ctx context.Context) {
	counts, err := w.queue.Counts(ctx)
	if err != nil {
		if ctx.Err() == nil {
			w.log.Warn().Err(err).Msg("failed to read queue depth")
		}
		return
	}

	w.stats.Set(MetricQueueWaiting, float64(counts.Waiting))
	w.stats.Set(MetricQueueDelayed, float64(counts.Delayed))
	w.stats.Set(MetricQueueActive, float64(counts.Active))
}

// handle runs one job and settles it with the queue.
func (w *Worker) handle(ctx context.Context, job queue.Job) {
	log := w.log.With().
		Str("job_id", job.Id).
		Str("notification_id", job.NotificationId).
		Int("attempts", job.Attempts).
		Logger()

	err := w.Process(ctx, job)
	if err == nil {
		if err := w.queue.Ack(ctx, job); err != nil {
			log.Error().Err(err).Msg("ack failed")
		}
		return
	}

	log.Warn().Err(err).Msg("notification job failed")

	if err := w.repo.IncrementNotificationRetry(ctx, job.NotificationId); err != nil {
		log.Error().Err(err).Msg("failed to record retry")
	}

	exhausted, err := w.queue.Retry(ctx, job)
	if err != nil {
		log.Error().Err(err).Msg("failed to reschedule job")
		return
	}

	if exhausted {
		w.stats.Incr(MetricJobsFailed)
		log.Error().Msg("notification job exhausted its attempts, notification left pending")
	}
}

// Process attempts one delivery. It returns nil when the job is finished,
// including when it is dropped or the recipient is offline, and an error
// wrapping ErrHandlerFailure when it should be retried.
func (w *Worker) Process(ctx context.Context, job queue.Job) error {
	n, err := w.repo.GetNotificationById(ctx, job.NotificationId)
	if errors.Is(err, sql.ErrNoRows) {
		w.log.Debug().Str("notification_id", job.NotificationId).Msg("notification gone, dropping job")
		return nil
	}
	if err != nil {
		return handlerFailure("load notification", err)
	}

	if n.Status == types.NotificationDelivered {
		return nil
	}

	if _, err := w.repo.GetAccountById(ctx, n.UserId); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			w.log.Debug().Str("user_id", n.UserId).Msg("recipient gone, dropping job")
			return nil
		}
		return handlerFailure("load recipient", err)
	}

	payload, err := json.Marshal(Render(n))
	if err != nil {
		return handlerFailure("encode notification", err)
	}

	delivered, err := w.publisher.PublishNotification(ctx, n.UserId, payload)
	if err != nil {
		return handlerFailure("publish notification", err)
	}

	if !delivered {
		w.stats.Incr(MetricOfflineAttempts)
		w.log.Debug().Str("notification_id", n.Id).Msg("recipient offline, notification left pending")
		return nil
	}

	changed, err := w.repo.MarkNotificationDelivered(ctx, n.Id, types.DeliveryChannelWebsocket, w.now().UTC())
	if err != nil {
		return handlerFailure("mark delivered", err)
	}

	if changed {
		w.stats.Incr(MetricDelivered)
	}

	return nil
}
