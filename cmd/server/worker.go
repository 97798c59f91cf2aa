package main

import (
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/npezzotti/quizlive/internal/logging"
	"github.com/npezzotti/quizlive/internal/notification"
	"github.com/npezzotti/quizlive/internal/presence"
	"github.com/npezzotti/quizlive/internal/stats"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

var metricsAddr string

var workerCmd = &cobra.Command{
	Use:   "worker",
	Short: "Run the notification delivery worker",
	RunE:  runWorker,
}

func init() {
	workerCmd.Flags().StringVar(&metricsAddr, "metrics-addr", "localhost:9100", "address for /metrics and /healthz, empty to disable")
}

func runWorker(cmd *cobra.Command, _ []string) error {
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
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, r *http.Request) {
		if err := p.db.Ping(r.Context()); err != nil {
			http.Error(w, "database unavailable", http.StatusServiceUnavailable)
			return
		}
		w.Write([]byte("OK"))
	})

	store := presence.NewRedisStore(rdb, logging.WithComponent(p.log, "presence"))
	defer store.Close()

	worker := notification.NewWorker(p.db, store, p.newQueue(rdb), statsUpdater,
		logging.WithComponent(p.log, "worker"), p.cfg.WorkerConcurrency)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return worker.Run(gctx) })
	if metricsAddr != "" {
		g.Go(func() error {
			return listen(gctx, &http.Server{Addr: metricsAddr, Handler: mux}, p.log)
		})
	}

	return g.Wait()
}
