package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/npezzotti/quizlive/internal/config"
	"github.com/npezzotti/quizlive/internal/database"
	"github.com/npezzotti/quizlive/internal/logging"
	"github.com/npezzotti/quizlive/internal/queue"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

const shutdownTimeout = 10 * time.Second

// process holds what every subcommand needs.
type process struct {
	cfg *config.Config
	log zerolog.Logger
	db  *database.PgQuizRepository
}

func newProcess() (*process, error) {
	cfg, err := config.Load(envFile)
	if err != nil {
		return nil, err
	}

	logger := logging.New(cfg.LogLevel, cfg.LogJSON, nil)

	db, err := database.NewPgQuizRepository(cfg.DatabaseDSN)
	if err != nil {
		return nil, fmt.Errorf("db open: %w", err)
	}

	return &process{cfg: cfg, log: logger, db: db}, nil
}

func (p *process) close() {
	if err := p.db.Close(); err != nil {
		p.log.Error().Err(err).Msg("db close")
	}
}

func (p *process) openRedis(ctx context.Context) (*redis.Client, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     p.cfg.RedisAddr,
		Password: p.cfg.RedisPassword,
		DB:       p.cfg.RedisDB,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		rdb.Close()
		return nil, fmt.Errorf("redis ping %s: %w", p.cfg.RedisAddr, err)
	}

	return rdb, nil
}

func (p *process) newQueue(rdb *redis.Client) *queue.RedisQueue {
	return queue.NewRedisQueue(rdb, queue.Options{
		Prefix:      p.cfg.QueuePrefix,
		MaxAttempts: p.cfg.JobAttempts,
		Backoff:     p.cfg.JobBackoff,
	})
}

// listen runs srv until ctx is done, then drains it.
func listen(ctx context.Context, srv *http.Server, log zerolog.Logger) error {
	errCh := make(chan error, 1)
	go func() {
		log.Info().Str("addr", srv.Addr).Msg("starting server")
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("listen: %w", err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}
