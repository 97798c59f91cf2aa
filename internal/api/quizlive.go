package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/gorilla/handlers"
	"github.com/npezzotti/quizlive/internal/config"
	"github.com/npezzotti/quizlive/internal/database"
	"github.com/npezzotti/quizlive/internal/notification"
	"github.com/npezzotti/quizlive/internal/server"
	"github.com/npezzotti/quizlive/internal/types"
	"github.com/rs/zerolog"
)

// Notifier produces notifications for delivery.
type Notifier interface {
	CreateNotification(ctx context.Context, n notification.NewNotification) (types.Notification, error)
}

type QuizApp struct {
	log            zerolog.Logger
	db             database.QuizRepository
	srv            *http.Server
	hub            *server.Hub
	registry       *server.Registry
	notifier       Notifier
	signingKey     []byte
	allowedOrigins []string
}

// NewQuizApp mounts the HTTP and socket routes on mux. The mux is shared so
// the metrics endpoint can live next to them.
func NewQuizApp(
	mux *http.ServeMux,
	logger zerolog.Logger,
	hub *server.Hub,
	registry *server.Registry,
	db database.QuizRepository,
	notifier Notifier,
	cfg *config.Config,
) *QuizApp {
	s := &QuizApp{
		log:            logger,
		db:             db,
		hub:            hub,
		registry:       registry,
		notifier:       notifier,
		signingKey:     cfg.SigningKey,
		allowedOrigins: cfg.AllowedOrigins,
	}

	mux.HandleFunc("GET /healthz", s.healthCheck)
	mux.HandleFunc("POST /api/auth/register", s.createAccount)
	mux.HandleFunc("POST /api/auth/login", s.login)
	mux.HandleFunc("GET /api/auth/session", s.authMiddleware(s.session))
	mux.HandleFunc("GET /api/auth/logout", s.authMiddleware(s.logout))
	mux.HandleFunc("POST /api/sessions/{id}/join", s.authMiddleware(s.joinSession))
	mux.HandleFunc("POST /api/sessions/{id}/leave", s.authMiddleware(s.leaveSession))
	mux.HandleFunc("POST /api/users/{id}/follow", s.authMiddleware(s.follow))
	mux.HandleFunc("GET /api/notifications", s.authMiddleware(s.listNotifications))
	mux.HandleFunc("GET /ws", s.authMiddleware(s.serveWs))

	h := handlers.CORS(
		handlers.MaxAge(3600),
		handlers.AllowedOrigins(cfg.AllowedOrigins),
		handlers.AllowedMethods([]string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete, http.MethodOptions}),
		handlers.AllowedHeaders([]string{"Origin", "Content-Type", "Accept", "Authorization"}),
		handlers.AllowCredentials(),
	)(mux)

	h = s.errorHandler(h)

	s.srv = &http.Server{
		Addr:    cfg.ServerAddr,
		Handler: h,
	}

	return s
}

// Start blocks until the server stops. A graceful shutdown is not an error.
func (s *QuizApp) Start() error {
	s.log.Info().Str("addr", s.srv.Addr).Msg("starting server")
	if err := s.srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("listen: %w", err)
	}

	return nil
}

func (s *QuizApp) Shutdown(ctx context.Context) error {
	s.log.Info().Msg("shutting down HTTP server")
	if err := s.srv.Shutdown(ctx); err != nil {
		return fmt.Errorf("server shutdown: %w", err)
	}

	return nil
}
