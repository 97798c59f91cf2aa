package types

import (
	"time"
)

const (
	NotificationPending   = "PENDING"
	NotificationDelivered = "DELIVERED"

	NotificationTypeFollow  = "follow"
	NotificationTypeLike    = "like"
	NotificationTypeComment = "comment"
	NotificationTypeInvite  = "invite"

	DeliveryChannelWebsocket = "websocket"
)

type User struct {
	Id           string    `json:"id"`
	Username     string    `json:"username"`
	EmailAddress string    `json:"email_address,omitempty"`
	Password     string    `json:"-"`
	CreatedAt    time.Time `json:"created_at,omitempty"`
	UpdatedAt    time.Time `json:"updated_at,omitempty"`
}

// Session is the snapshot of a game session sent with session_state.
type Session struct {
	Id           string        `json:"id"`
	Title        string        `json:"title"`
	IsLive       bool          `json:"isLive"`
	JoinedCount  int           `json:"joinedCount"`
	Participants []Participant `json:"participants"`
}

type Participant struct {
	Id        string     `json:"id"`
	SessionId string     `json:"sessionId"`
	UserId    string     `json:"userId"`
	Username  string     `json:"username"`
	Score     int        `json:"score"`
	Rank      *int       `json:"rank"`
	JoinedAt  time.Time  `json:"joinedAt"`
	LeftAt    *time.Time `json:"leftAt,omitempty"`
}

type Notification struct {
	Id              string     `json:"id"`
	UserId          string     `json:"userId"`
	Type            string     `json:"type"`
	Title           string     `json:"title"`
	Subtitle        string     `json:"subtitle,omitempty"`
	RelatedUserId   string     `json:"relatedUserId,omitempty"`
	RelatedPostId   string     `json:"relatedPostId,omitempty"`
	RelatedQuizId   string     `json:"relatedQuizId,omitempty"`
	Status          string     `json:"status"`
	DeliveryChannel string     `json:"deliveryChannel,omitempty"`
	RetryCount      int        `json:"retryCount"`
	SentAt          *time.Time `json:"sentAt,omitempty"`
	CreatedAt       time.Time  `json:"createdAt"`
}
