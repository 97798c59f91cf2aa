package api

import (
	"database/sql"
	"encoding/json"
	"errors"
	"net/http"
	"slices"
	"strconv"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gorilla/websocket"
	"github.com/npezzotti/quizlive/internal/database"
	"github.com/npezzotti/quizlive/internal/notification"
	"github.com/npezzotti/quizlive/internal/server"
	"github.com/npezzotti/quizlive/internal/types"
	"github.com/samber/lo"
)

const maxNotificationLimit = 100

var validate = validator.New()

type LoginRequest struct {
	Email    string `json:"email" validate:"required"`
	Password string `json:"password" validate:"required"`
}

type RegisterRequest struct {
	Email    string `json:"email" validate:"required,email"`
	Username string `json:"username" validate:"required,max=64"`
	Password string `json:"password" validate:"required,min=8,max=72"`
}

type MembershipResponse struct {
	Participant *types.Participant `json:"participant,omitempty"`
}

func (s *QuizApp) writeJson(w http.ResponseWriter, statusCode int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if v == nil {
		return
	}

	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.log.Error().Err(err).Msg("json encode")
	}
}

func (s *QuizApp) writeError(w http.ResponseWriter, errResp *ApiError) {
	if errResp.Err != nil {
		s.log.Error().Err(errResp.Err).Msg("request failed")
	}
	s.writeJson(w, errResp.StatusCode, errResp)
}

func toUser(u database.User) types.User {
	return types.User{
		Id:           u.Id,
		Username:     u.Username,
		EmailAddress: u.EmailAddress,
		CreatedAt:    u.CreatedAt,
		UpdatedAt:    u.UpdatedAt,
	}
}

func (s *QuizApp) healthCheck(w http.ResponseWriter, r *http.Request) {
	if err := s.db.Ping(r.Context()); err != nil {
		s.writeError(w, NewInternalServerError(err))
		return
	}

	w.WriteHeader(http.StatusOK)
	w.Write([]byte("OK"))
}

func (s *QuizApp) createAccount(w http.ResponseWriter, r *http.Request) {
	var req RegisterRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, NewBadRequestError())
		return
	}

	if err := validate.Struct(req); err != nil {
		s.writeError(w, NewBadRequestError())
		return
	}

	pwdHash, err := hashPassword(req.Password)
	if err != nil {
		s.writeError(w, NewInternalServerError(err))
		return
	}

	newUser, err := s.db.CreateAccount(r.Context(), database.CreateAccountParams{
		Username:     req.Username,
		EmailAddress: req.Email,
		PasswordHash: pwdHash,
	})
	if err != nil {
		if isUniqueViolation(err) {
			s.writeError(w, NewConflictError())
			return
		}
		s.writeError(w, NewInternalServerError(err))
		return
	}

	s.writeJson(w, http.StatusCreated, toUser(newUser))
}

func (s *QuizApp) session(w http.ResponseWriter, r *http.Request) {
	principal, ok := PrincipalFrom(r.Context())
	if !ok {
		s.writeError(w, NewUnauthorizedError())
		return
	}

	user, err := s.db.GetAccountById(r.Context(), principal.Id)
	if err != nil {
		s.writeError(w, errorFor(err))
		return
	}

	s.writeJson(w, http.StatusOK, toUser(user))
}

func (s *QuizApp) login(w http.ResponseWriter, r *http.Request) {
	var lr LoginRequest
	if err := json.NewDecoder(r.Body).Decode(&lr); err != nil {
		s.writeError(w, NewBadRequestError())
		return
	}

	if err := validate.Struct(lr); err != nil {
		s.writeError(w, NewBadRequestError())
		return
	}

	dbUser, err := s.db.GetAccountByEmail(r.Context(), lr.Email)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			s.writeError(w, NewUnauthorizedError())
			return
		}
		s.writeError(w, NewInternalServerError(err))
		return
	}

	if !verifyPassword(dbUser.PasswordHash, lr.Password) {
		s.writeError(w, NewUnauthorizedError())
		return
	}

	u := toUser(dbUser)

	token, err := s.createJwtForSession(u, defaultJwtExpiration)
	if err != nil {
		s.writeError(w, NewInternalServerError(err))
		return
	}

	http.SetCookie(w, createJwtCookie(token, defaultJwtExpiration))

	s.writeJson(w, http.StatusOK, u)
}

func (s *QuizApp) logout(w http.ResponseWriter, _ *http.Request) {
	// overwrite the cookie with an expired one
	http.SetCookie(w, createJwtCookie("", time.Duration(time.Unix(0, 0).Unix())))
	w.WriteHeader(http.StatusNoContent)
}

// joinSession is the HTTP counterpart of a socket join. Connections already
// watching the session are told about the new participant.
func (s *QuizApp) joinSession(w http.ResponseWriter, r *http.Request) {
	principal, ok := PrincipalFrom(r.Context())
	if !ok {
		s.writeError(w, NewUnauthorizedError())
		return
	}

	sessionId := r.PathValue("id")
	if sessionId == "" {
		s.writeError(w, NewBadRequestError())
		return
	}

	p, err := s.hub.AddParticipant(r.Context(), sessionId, principal.Id)
	if err != nil {
		s.writeError(w, errorFor(err))
		return
	}

	s.hub.BroadcastParticipantJoined(sessionId, principal.Id)

	s.writeJson(w, http.StatusOK, MembershipResponse{Participant: &p})
}

func (s *QuizApp) leaveSession(w http.ResponseWriter, r *http.Request) {
	principal, ok := PrincipalFrom(r.Context())
	if !ok {
		s.writeError(w, NewUnauthorizedError())
		return
	}

	sessionId := r.PathValue("id")
	if sessionId == "" {
		s.writeError(w, NewBadRequestError())
		return
	}

	participantId, err := s.hub.RemoveParticipant(r.Context(), sessionId, principal.Id)
	if err != nil {
		s.writeError(w, errorFor(err))
		return
	}

	if participantId != "" {
		s.hub.BroadcastParticipantLeft(sessionId, principal.Id, participantId)
	}

	w.WriteHeader(http.StatusNoContent)
}

// follow records the follow and notifies the followee. Notification
// failures are logged; the follow itself already succeeded.
func (s *QuizApp) follow(w http.ResponseWriter, r *http.Request) {
	principal, ok := PrincipalFrom(r.Context())
	if !ok {
		s.writeError(w, NewUnauthorizedError())
		return
	}

	followeeId := r.PathValue("id")
	if followeeId == "" || followeeId == principal.Id {
		s.writeError(w, NewBadRequestError())
		return
	}

	follower, err := s.db.GetAccountById(r.Context(), principal.Id)
	if err != nil {
		s.writeError(w, errorFor(err))
		return
	}

	if _, err := s.db.GetAccountById(r.Context(), followeeId); err != nil {
		s.writeError(w, errorFor(err))
		return
	}

	if err := s.db.CreateFollow(r.Context(), principal.Id, followeeId); err != nil {
		s.writeError(w, NewInternalServerError(err))
		return
	}

	if _, err := s.notifier.CreateNotification(r.Context(), notification.NewNotification{
		UserId:        followeeId,
		Type:          types.NotificationTypeFollow,
		Title:         follower.Username + " started following you",
		RelatedUserId: lo.ToPtr(follower.Id),
	}); err != nil {
		s.log.Error().
			Err(err).
			Str("follower_id", principal.Id).
			Str("followee_id", followeeId).
			Msg("failed to create follow notification")
	}

	w.WriteHeader(http.StatusNoContent)
}

func (s *QuizApp) listNotifications(w http.ResponseWriter, r *http.Request) {
	principal, ok := PrincipalFrom(r.Context())
	if !ok {
		s.writeError(w, NewUnauthorizedError())
		return
	}

	var limit int
	if limitStr := r.URL.Query().Get("limit"); limitStr != "" {
		var err error
		limit, err = strconv.Atoi(limitStr)
		if err != nil || limit < 1 || limit > maxNotificationLimit {
			s.writeError(w, NewBadRequestError())
			return
		}
	}

	rows, err := s.db.ListNotifications(r.Context(), principal.Id, limit)
	if err != nil {
		s.writeError(w, NewInternalServerError(err))
		return
	}

	s.writeJson(w, http.StatusOK, lo.Map(rows, func(n database.Notification, _ int) types.Notification {
		return notification.Render(n)
	}))
}

func (s *QuizApp) serveWs(w http.ResponseWriter, r *http.Request) {
	principal, ok := PrincipalFrom(r.Context())
	if !ok {
		s.writeError(w, NewUnauthorizedError())
		return
	}

	user, err := s.db.GetAccountById(r.Context(), principal.Id)
	if err != nil {
		s.writeError(w, errorFor(err))
		return
	}

	upgrader := websocket.Upgrader{
		CheckOrigin: func(r *http.Request) bool {
			origin := r.Header.Get("Origin")
			if origin == "" {
				return true
			}

			return slices.Contains(s.allowedOrigins, origin)
		},
	}
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Warn().Err(err).Msg("error upgrading connection")
		return
	}

	client := server.NewClient(toUser(user), conn, s.hub, s.registry, s.log)
	go client.Serve()
}
