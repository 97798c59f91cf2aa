package database

import "time"

type User struct {
	Id           string
	Username     string
	EmailAddress string
	PasswordHash string
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

type Session struct {
	Id             string
	HostId         string
	QuizSnapshotId string
	Title          string
	Code           string
	IsLive         bool
	JoinedCount    int
	StartedAt      *time.Time
	EndedAt        *time.Time
	CreatedAt      time.Time
}

func (s Session) Ended() bool {
	return s.EndedAt != nil
}

type Participant struct {
	Id        string
	SessionId string
	UserId    string
	Username  string
	Score     int
	Rank      *int
	JoinedAt  time.Time
	LeftAt    *time.Time
}

// Current reports whether the row still counts the user as present in the lobby.
func (p Participant) Current() bool {
	return p.LeftAt == nil
}

type Notification struct {
	Id              string
	UserId          string
	Type            string
	Title           string
	Subtitle        *string
	RelatedUserId   *string
	RelatedPostId   *string
	RelatedQuizId   *string
	Status          string
	DeliveryChannel *string
	RetryCount      int
	SentAt          *time.Time
	CreatedAt       time.Time
}

type CreateAccountParams struct {
	Username     string
	EmailAddress string
	PasswordHash string
}

type CreateNotificationParams struct {
	UserId        string
	Type          string
	Title         string
	Subtitle      *string
	RelatedUserId *string
	RelatedPostId *string
	RelatedQuizId *string
}
