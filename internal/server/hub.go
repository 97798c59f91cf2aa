package server

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/npezzotti/quizlive/internal/database"
	"github.com/npezzotti/quizlive/internal/stats"
	"github.com/npezzotti/quizlive/internal/types"
	"github.com/rs/zerolog"
)

const (
	defaultIdleSessionTimeout = 30 * time.Second
	requestTimeout            = 10 * time.Second
	maxSubmitAttempts         = 3

	MetricActiveSessions = "NumActiveSessions"
)

var ErrHubClosed = errors.New("hub is shutting down")

// Hub owns the sessions loaded on this process. Each loaded session runs as
// its own goroutine and is unloaded after sitting idle.
type Hub struct {
	log         zerolog.Logger
	db          database.QuizRepository
	stats       stats.StatsProvider
	idleTimeout time.Duration
	sessions    sync.Map
	loadMu      sync.Mutex
	closed      bool
}

func NewHub(log zerolog.Logger, db database.QuizRepository, sp stats.StatsProvider) *Hub {
	sp.RegisterMetric(MetricActiveSessions)

	return &Hub{
		log:         log,
		db:          db,
		stats:       sp,
		idleTimeout: defaultIdleSessionTimeout,
	}
}

func (h *Hub) getSession(id string) (*session, bool) {
	if s, ok := h.sessions.Load(id); ok {
		return s.(*session), true
	}
	return nil, false
}

// loadSession returns the running session, starting it if needed.
func (h *Hub) loadSession(ctx context.Context, id string) (*session, error) {
	h.loadMu.Lock()
	defer h.loadMu.Unlock()

	if h.closed {
		return nil, ErrHubClosed
	}

	if s, ok := h.getSession(id); ok {
		return s, nil
	}

	if _, err := h.db.GetSessionById(ctx, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrSessionNotFound
		}
		return nil, fmt.Errorf("get session: %w", err)
	}

	s := newSession(h, id)
	h.sessions.Store(id, s)
	h.stats.Incr(MetricActiveSessions)
	h.log.Debug().Str("session_id", id).Msg("session loaded")

	go s.run()

	return s, nil
}

// releaseSession removes s from the hub if it is still the loaded instance.
func (h *Hub) releaseSession(s *session) {
	h.loadMu.Lock()
	defer h.loadMu.Unlock()

	if cur, ok := h.getSession(s.id); ok && cur == s {
		h.sessions.Delete(s.id)
		h.stats.Decr(MetricActiveSessions)
		h.log.Debug().Str("session_id", s.id).Msg("session unloaded")
	}
}

// submit hands v to a session goroutine, reloading the session if the one
// found was unloaded before it accepted the request.
func submit[T any](ctx context.Context, h *Hub, sessionId string, pick func(*session) chan T, v T) (*session, error) {
	for range maxSubmitAttempts {
		s, err := h.loadSession(ctx, sessionId)
		if err != nil {
			return nil, err
		}

		select {
		case pick(s) <- v:
			return s, nil
		case <-s.done:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	return nil, fmt.Errorf("session %s unavailable", sessionId)
}

type joinRequest struct {
	client *Client
	result chan bool
}

// Join attaches c to a session and waits until the session has decided.
// The previous session is left only after the new one accepts c, so a
// rejected join keeps c where it was. Failures are reported to c.
func (h *Hub) Join(c *Client, sessionId string) {
	prev := c.currentSession()

	ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
	defer cancel()

	req := joinRequest{client: c, result: make(chan bool, 1)}
	s, err := submit(ctx, h, sessionId, func(s *session) chan joinRequest { return s.joinChan }, req)
	if err != nil {
		h.log.Warn().Err(err).Str("session_id", sessionId).Str("user_id", c.user.Id).Msg("join failed")
		c.queueMessage(ErrorFor(err))
		return
	}

	var joined bool
	select {
	case joined = <-req.result:
	case <-s.done:
		select {
		case joined = <-req.result:
		default:
			c.queueMessage(ErrorFor(ErrHubClosed))
			return
		}
	case <-ctx.Done():
		h.log.Warn().Err(ctx.Err()).Str("session_id", sessionId).Str("user_id", c.user.Id).Msg("join timed out")
		c.queueMessage(ErrorFor(ctx.Err()))
		return
	}

	if joined && prev != nil && prev != s {
		h.detach(c, prev)
	}
}

// Leave detaches c from the session if it is attached to it.
func (h *Hub) Leave(c *Client, sessionId string) {
	cur := c.currentSession()
	if cur == nil || cur.id != sessionId {
		return
	}

	h.detach(c, cur)
}

func (h *Hub) detach(c *Client, s *session) {
	select {
	case s.leaveChan <- c:
	case <-s.done:
		c.clearSession(s)
	}
}

type membershipResult struct {
	participant database.Participant
	err         error
}

type membershipRequest struct {
	userId string
	join   bool
	result chan membershipResult
}

func (h *Hub) membership(ctx context.Context, sessionId, userId string, join bool) (database.Participant, error) {
	req := membershipRequest{
		userId: userId,
		join:   join,
		result: make(chan membershipResult, 1),
	}

	s, err := submit(ctx, h, sessionId, func(s *session) chan membershipRequest { return s.membershipChan }, req)
	if err != nil {
		return database.Participant{}, err
	}

	select {
	case res := <-req.result:
		return res.participant, res.err
	case <-s.done:
		select {
		case res := <-req.result:
			return res.participant, res.err
		default:
			return database.Participant{}, ErrHubClosed
		}
	case <-ctx.Done():
		return database.Participant{}, ctx.Err()
	}
}

// AddParticipant creates or reactivates the user's participant row through
// the session goroutine, the same path a socket join takes.
func (h *Hub) AddParticipant(ctx context.Context, sessionId, userId string) (types.Participant, error) {
	p, err := h.membership(ctx, sessionId, userId, true)
	if err != nil {
		return types.Participant{}, err
	}
	return toParticipant(p), nil
}

// RemoveParticipant applies the leave rules to the user's latest row and
// returns the affected participant id, if any.
func (h *Hub) RemoveParticipant(ctx context.Context, sessionId, userId string) (string, error) {
	p, err := h.membership(ctx, sessionId, userId, false)
	if err != nil {
		return "", err
	}
	return p.Id, nil
}

// BroadcastParticipantJoined sends the user's latest participant row to the
// session's connections. Sessions not loaded here have no one to tell.
func (h *Hub) BroadcastParticipantJoined(sessionId, userId string) {
	s, ok := h.getSession(sessionId)
	if !ok {
		return
	}

	select {
	case s.announceChan <- announcement{userId: userId, joined: true}:
	case <-s.done:
	}
}

func (h *Hub) BroadcastParticipantLeft(sessionId, userId, participantId string) {
	s, ok := h.getSession(sessionId)
	if !ok {
		return
	}

	select {
	case s.announceChan <- announcement{userId: userId, participantId: participantId}:
	case <-s.done:
	}
}

// Shutdown stops every loaded session and waits for them to exit.
func (h *Hub) Shutdown(ctx context.Context) error {
	h.log.Info().Msg("shutting down sessions")

	h.loadMu.Lock()
	h.closed = true
	var sessions []*session
	h.sessions.Range(func(_, v any) bool {
		sessions = append(sessions, v.(*session))
		return true
	})
	h.loadMu.Unlock()

	for _, s := range sessions {
		close(s.exit)
	}

	for _, s := range sessions {
		select {
		case <-s.done:
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	return nil
}
