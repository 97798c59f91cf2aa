package server

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/go-playground/validator/v10"
	"github.com/npezzotti/quizlive/internal/types"
)

const (
	TypeJoinSession  = "join_session"
	TypeLeaveSession = "leave_session"
	TypePing         = "ping"
	TypePong         = "pong"

	TypeSessionState      = "session_state"
	TypeParticipantJoined = "participant_joined"
	TypeParticipantLeft   = "participant_left"
	TypeNotification      = "notification"
	TypeError             = "error"
)

var (
	ErrSessionNotFound  = errors.New("session not found")
	ErrSessionEnded     = errors.New("session has ended")
	ErrMalformedMessage = errors.New("invalid message format")
)

var validate = validator.New()

// ClientMessage is one of *JoinSession, *LeaveSession, *Ping or *Pong.
type ClientMessage interface {
	clientMessage()
}

type JoinSession struct {
	SessionId string `json:"sessionId" validate:"required,max=64"`
}

type LeaveSession struct {
	SessionId string `json:"sessionId" validate:"required,max=64"`
}

type Ping struct{}

type Pong struct{}

func (*JoinSession) clientMessage()  {}
func (*LeaveSession) clientMessage() {}
func (*Ping) clientMessage()         {}
func (*Pong) clientMessage()         {}

type envelope struct {
	Type string `json:"type"`
}

// ParseClientMessage decodes an inbound frame. Every failure wraps
// ErrMalformedMessage.
func ParseClientMessage(raw []byte) (ClientMessage, error) {
	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedMessage, err)
	}

	var msg ClientMessage
	switch env.Type {
	case TypeJoinSession:
		msg = &JoinSession{}
	case TypeLeaveSession:
		msg = &LeaveSession{}
	case TypePing:
		return &Ping{}, nil
	case TypePong:
		return &Pong{}, nil
	case "":
		return nil, fmt.Errorf("%w: missing type", ErrMalformedMessage)
	default:
		return nil, fmt.Errorf("%w: unknown type %q", ErrMalformedMessage, env.Type)
	}

	if err := json.Unmarshal(raw, msg); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedMessage, err)
	}
	if err := validate.Struct(msg); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedMessage, err)
	}

	return msg, nil
}

// ServerMessage is one of the outbound message types below.
type ServerMessage interface {
	serverMessage()
}

type SessionStateMessage struct {
	Type      string        `json:"type"`
	SessionId string        `json:"sessionId"`
	Data      types.Session `json:"data"`
}

type ParticipantJoinedMessage struct {
	Type        string            `json:"type"`
	SessionId   string            `json:"sessionId"`
	Participant types.Participant `json:"participant"`
}

type ParticipantLeftMessage struct {
	Type          string `json:"type"`
	SessionId     string `json:"sessionId"`
	ParticipantId string `json:"participantId,omitempty"`
	UserId        string `json:"userId"`
}

type NotificationMessage struct {
	Type         string          `json:"type"`
	Notification json.RawMessage `json:"notification"`
}

type ErrorMessage struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

type PongMessage struct {
	Type string `json:"type"`
}

func (*SessionStateMessage) serverMessage()      {}
func (*ParticipantJoinedMessage) serverMessage() {}
func (*ParticipantLeftMessage) serverMessage()   {}
func (*NotificationMessage) serverMessage()      {}
func (*ErrorMessage) serverMessage()             {}
func (*PongMessage) serverMessage()              {}

func NewSessionState(session types.Session) *SessionStateMessage {
	return &SessionStateMessage{
		Type:      TypeSessionState,
		SessionId: session.Id,
		Data:      session,
	}
}

func NewParticipantJoined(p types.Participant) *ParticipantJoinedMessage {
	return &ParticipantJoinedMessage{
		Type:        TypeParticipantJoined,
		SessionId:   p.SessionId,
		Participant: p,
	}
}

func NewParticipantLeft(sessionId, userId, participantId string) *ParticipantLeftMessage {
	return &ParticipantLeftMessage{
		Type:          TypeParticipantLeft,
		SessionId:     sessionId,
		ParticipantId: participantId,
		UserId:        userId,
	}
}

func NewNotification(payload []byte) *NotificationMessage {
	return &NotificationMessage{
		Type:         TypeNotification,
		Notification: json.RawMessage(payload),
	}
}

func NewPong() *PongMessage {
	return &PongMessage{Type: TypePong}
}

func NewError(message string) *ErrorMessage {
	return &ErrorMessage{
		Type:    TypeError,
		Message: message,
	}
}

// ErrorFor maps an error to the text sent to the client. Unknown errors are
// not exposed.
func ErrorFor(err error) *ErrorMessage {
	switch {
	case errors.Is(err, ErrSessionNotFound):
		return NewError(ErrSessionNotFound.Error())
	case errors.Is(err, ErrSessionEnded):
		return NewError(ErrSessionEnded.Error())
	case errors.Is(err, ErrMalformedMessage):
		return NewError(ErrMalformedMessage.Error())
	default:
		return NewError("internal server error")
	}
}
