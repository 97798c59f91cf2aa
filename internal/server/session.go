package server

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/npezzotti/quizlive/internal/database"
	"github.com/npezzotti/quizlive/internal/types"
	"github.com/rs/zerolog"
	"github.com/samber/lo"
)

const dbTimeout = 5 * time.Second

type announcement struct {
	userId        string
	participantId string
	joined        bool
}

// session serializes every membership change for one game session.
type session struct {
	id             string
	hub            *Hub
	db             database.QuizRepository
	log            zerolog.Logger
	joinChan       chan joinRequest
	leaveChan      chan *Client
	membershipChan chan membershipRequest
	announceChan   chan announcement
	clients        map[*Client]struct{}
	userMap        map[string]map[*Client]struct{}
	// killTimer unloads the session once no connection is attached.
	killTimer *time.Timer
	exit      chan struct{}
	done      chan struct{}
}

func newSession(h *Hub, id string) *session {
	return &session{
		id:             id,
		hub:            h,
		db:             h.db,
		log:            h.log.With().Str("session_id", id).Logger(),
		joinChan:       make(chan joinRequest),
		leaveChan:      make(chan *Client),
		membershipChan: make(chan membershipRequest),
		announceChan:   make(chan announcement),
		clients:        make(map[*Client]struct{}),
		userMap:        make(map[string]map[*Client]struct{}),
		exit:           make(chan struct{}),
		done:           make(chan struct{}),
	}
}

func (s *session) run() {
	s.killTimer = time.NewTimer(s.hub.idleTimeout)
	defer s.killTimer.Stop()

	for {
		select {
		case req := <-s.joinChan:
			req.result <- s.handleJoin(req.client)
		case c := <-s.leaveChan:
			s.handleLeave(c)
		case req := <-s.membershipChan:
			s.handleMembership(req)
		case a := <-s.announceChan:
			s.handleAnnouncement(a)
		case <-s.killTimer.C:
			if len(s.clients) == 0 {
				s.log.Debug().Msg("session idle")
				s.hub.releaseSession(s)
				close(s.done)
				return
			}
		case <-s.exit:
			s.handleExit()
			return
		}
	}
}

func (s *session) dbContext() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), dbTimeout)
}

func (s *session) handleExit() {
	s.log.Debug().Msg("session exiting")

	for c := range s.clients {
		c.clearSession(s)
	}

	s.hub.releaseSession(s)
	close(s.done)
}

// handleJoin reports whether c ends up attached to s.
func (s *session) handleJoin(c *Client) bool {
	ctx, cancel := s.dbContext()
	defer cancel()

	if _, ok := s.clients[c]; ok {
		// already attached; only resync the client
		if err := s.sendState(ctx, c); err != nil {
			s.log.Error().Err(err).Msg("failed to send session state")
			c.queueMessage(ErrorFor(err))
		}
		return true
	}

	s.killTimer.Stop()

	p, hasRow, err := s.ensureParticipant(ctx, c.user.Id)
	if err != nil {
		if !errors.Is(err, ErrSessionNotFound) && !errors.Is(err, ErrSessionEnded) {
			s.log.Error().Err(err).Str("user_id", c.user.Id).Msg("join failed")
		}
		c.queueMessage(ErrorFor(err))
		s.resetIdle()
		return false
	}

	s.addClient(c)
	if !c.setSession(s) {
		// disconnected while the join was queued
		s.handleLeave(c)
		return false
	}

	if hasRow {
		s.broadcast(NewParticipantJoined(toParticipant(p)), nil)
	}

	if err := s.sendState(ctx, c); err != nil {
		s.log.Error().Err(err).Msg("failed to send session state")
		c.queueMessage(ErrorFor(err))
	}

	return true
}

// ensureParticipant applies the join rules to the user's latest row. The
// returned bool reports whether the user has a row after the call.
func (s *session) ensureParticipant(ctx context.Context, userId string) (database.Participant, bool, error) {
	sess, err := s.db.GetSessionById(ctx, s.id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return database.Participant{}, false, ErrSessionNotFound
		}
		return database.Participant{}, false, fmt.Errorf("get session: %w", err)
	}

	latest, err := s.db.GetLatestParticipant(ctx, s.id, userId)
	hasRow := err == nil
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return database.Participant{}, false, fmt.Errorf("get participant: %w", err)
	}

	if sess.Ended() {
		if !hasRow {
			return database.Participant{}, false, ErrSessionEnded
		}
		return latest, true, nil
	}

	switch {
	case !hasRow:
		p, err := s.db.CreateParticipant(ctx, s.id, userId)
		if err != nil {
			return database.Participant{}, false, fmt.Errorf("create participant: %w", err)
		}
		s.log.Info().Str("user_id", userId).Str("participant_id", p.Id).Msg("participant created")
		return p, true, nil
	case !latest.Current():
		if _, err := s.db.ReactivateParticipant(ctx, latest); err != nil {
			return database.Participant{}, false, fmt.Errorf("reactivate participant: %w", err)
		}
		latest.LeftAt = nil
		s.log.Info().Str("user_id", userId).Str("participant_id", latest.Id).Msg("participant reactivated")
	}

	return latest, true, nil
}

func (s *session) handleLeave(c *Client) {
	if _, ok := s.clients[c]; !ok {
		return
	}

	s.removeClient(c)
	c.clearSession(s)

	if _, stillHere := s.userMap[c.user.Id]; stillHere {
		// another connection of the same user keeps the participant
		return
	}

	ctx, cancel := s.dbContext()
	defer cancel()

	participantId, err := s.releaseParticipant(ctx, c.user.Id)
	if err != nil {
		s.log.Error().Err(err).Str("user_id", c.user.Id).Msg("leave failed")
	}

	s.broadcast(NewParticipantLeft(s.id, c.user.Id, participantId), nil)
}

// releaseParticipant applies the leave rules: a lobby-only row is deleted,
// a row with gameplay activity is marked left. Ended sessions are left as is.
func (s *session) releaseParticipant(ctx context.Context, userId string) (string, error) {
	sess, err := s.db.GetSessionById(ctx, s.id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", ErrSessionNotFound
		}
		return "", fmt.Errorf("get session: %w", err)
	}

	latest, err := s.db.GetLatestParticipant(ctx, s.id, userId)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("get participant: %w", err)
	}

	if sess.Ended() || !latest.Current() {
		return latest.Id, nil
	}

	active, err := s.db.ParticipantHasActivity(ctx, latest.Id)
	if err != nil {
		return latest.Id, fmt.Errorf("check activity: %w", err)
	}

	if !active {
		if err := s.db.DeleteParticipant(ctx, latest); err != nil {
			return latest.Id, fmt.Errorf("delete participant: %w", err)
		}
		s.log.Info().Str("user_id", userId).Str("participant_id", latest.Id).Msg("lobby participant removed")
		return latest.Id, nil
	}

	if _, err := s.db.MarkParticipantLeft(ctx, latest); err != nil {
		return latest.Id, fmt.Errorf("mark participant left: %w", err)
	}
	s.log.Info().Str("user_id", userId).Str("participant_id", latest.Id).Msg("participant left")

	return latest.Id, nil
}

func (s *session) handleMembership(req membershipRequest) {
	ctx, cancel := s.dbContext()
	defer cancel()

	var res membershipResult
	if req.join {
		res.participant, _, res.err = s.ensureParticipant(ctx, req.userId)
	} else {
		res.participant.Id, res.err = s.releaseParticipant(ctx, req.userId)
	}

	req.result <- res
}

func (s *session) handleAnnouncement(a announcement) {
	if !a.joined {
		s.broadcast(NewParticipantLeft(s.id, a.userId, a.participantId), nil)
		return
	}

	ctx, cancel := s.dbContext()
	defer cancel()

	p, err := s.db.GetLatestParticipant(ctx, s.id, a.userId)
	if err != nil {
		if !errors.Is(err, sql.ErrNoRows) {
			s.log.Error().Err(err).Str("user_id", a.userId).Msg("failed to load participant")
		}
		return
	}

	s.broadcast(NewParticipantJoined(toParticipant(p)), nil)
}

// sendState sends c the session metadata with the latest row of each user.
func (s *session) sendState(ctx context.Context, c *Client) error {
	sess, err := s.db.GetSessionById(ctx, s.id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return ErrSessionNotFound
		}
		return fmt.Errorf("get session: %w", err)
	}

	rows, err := s.db.ListSessionParticipants(ctx, s.id)
	if err != nil {
		return fmt.Errorf("list participants: %w", err)
	}

	// rows are newest first, so the first row kept per user is the latest
	latest := lo.UniqBy(rows, func(p database.Participant) string {
		return p.UserId
	})

	c.queueMessage(NewSessionState(types.Session{
		Id:           sess.Id,
		Title:        sess.Title,
		IsLive:       sess.IsLive,
		JoinedCount:  sess.JoinedCount,
		Participants: lo.Map(latest, func(p database.Participant, _ int) types.Participant { return toParticipant(p) }),
	}))

	return nil
}

func (s *session) resetIdle() {
	if len(s.clients) == 0 {
		s.killTimer.Reset(s.hub.idleTimeout)
	}
}

func (s *session) addClient(c *Client) {
	s.clients[c] = struct{}{}
	if s.userMap[c.user.Id] == nil {
		s.userMap[c.user.Id] = make(map[*Client]struct{})
	}
	s.userMap[c.user.Id][c] = struct{}{}
}

func (s *session) removeClient(c *Client) {
	delete(s.clients, c)

	if userClients, ok := s.userMap[c.user.Id]; ok {
		delete(userClients, c)
		if len(userClients) == 0 {
			delete(s.userMap, c.user.Id)
		}
	}

	if len(s.clients) == 0 {
		s.log.Debug().Msg("no clients left, starting kill timer")
		s.killTimer.Reset(s.hub.idleTimeout)
	}
}

func (s *session) broadcast(msg ServerMessage, skip *Client) {
	for c := range s.clients {
		if c == skip {
			continue
		}
		c.queueMessage(msg)
	}
}

func toParticipant(p database.Participant) types.Participant {
	return types.Participant{
		Id:        p.Id,
		SessionId: p.SessionId,
		UserId:    p.UserId,
		Username:  p.Username,
		Score:     p.Score,
		Rank:      p.Rank,
		JoinedAt:  p.JoinedAt,
		LeftAt:    p.LeftAt,
	}
}
