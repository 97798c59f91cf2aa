package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/npezzotti/quizlive/internal/api"
	"github.com/npezzotti/quizlive/internal/logging"
	"github.com/npezzotti/quizlive/internal/notification"
	"github.com/npezzotti/quizlive/internal/presence"
	"github.com/npezzotti/quizlive/internal/server"
	"github.com/npezzotti/quizlive/internal/stats"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP API and socket gateway",
	Long: `Serve the HTTP API and the /ws socket endpoint. With
QUIZLIVE_EMBEDDED_WORKER=true the notification worker runs in the same
process.`,
	RunE: runServe,
}

func runServe(cmd *cobra.Command, _ []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	p, err := newProcess()
	if err != nil {
		return err
	}
	defer p.close()

	rdb, err := p.openRedis(ctx)
	if err != nil {
		return err
	}
	defer rdb.Close()

	mux := http.NewServeMux()
	statsUpdater := stats.NewStatsUpdater(mux)

	store := presence.NewRedisStore(rdb, logging.WithComponent(p.log, "presence"))
	defer func() {
		if err := store.Close(); err != nil {
			p.log.Error().Err(err).Msg("presence close")
		}
	}()

	q := p.newQueue(rdb)
	hub := server.NewHub(logging.WithComponent(p.log, "hub"), p.db, statsUpdater)
	registry := server.NewRegistry(store, statsUpdater, logging.WithComponent(p.log, "registry"))
	notifier := notification.NewService(p.db, q, logging.WithComponent(p.log, "notifications"))
	app := api.NewQuizApp(mux, logging.WithComponent(p.log, "api"), hub, registry, p.db, notifier, p.cfg)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(app.Start)
	g.Go(func() error { return registry.Run(gctx) })

	if p.cfg.EmbeddedWorker {
		worker := notification.NewWorker(p.db, store, q, statsUpdater,
			logging.WithComponent(p.log, "worker"), p.cfg.WorkerConcurrency)
		g.Go(func() error { return worker.Run(gctx) })
	}

	g.Go(func() error {
		<-gctx.Done()
		p.log.Info().Msg("shutting down")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()

		// sessions first so closing sockets does not count as leaving
		httpErr := app.Shutdown(shutdownCtx)
		hubErr := hub.Shutdown(shutdownCtx)
		registry.CloseAll()

		return errors.Join(httpErr, hubErr)
	})

	if err := g.Wait(); err != nil {
		return err
	}

	p.log.Info().Msg("shutdown complete")
	return nil
}
