package presence

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

const (
	// HeartbeatInterval is how often a live connection refreshes its record.
	HeartbeatInterval = 30 * time.Second
	// RecordTTL lets a record survive two missed heartbeats.
	RecordTTL = 3 * HeartbeatInterval

	recordKeyPrefix  = "presence:user:"
	notifyChanPrefix = "notify:user:"
)

var ErrStoreUnavailable = errors.New("presence store unavailable")

// Record is the per-user presence hash.
type Record struct {
	UserId          string
	Email           string
	ConnectedAt     time.Time
	LastHeartbeatAt time.Time
}

// Message is a notification payload addressed to a user with a local
// connection on this process.
type Message struct {
	UserId  string
	Payload []byte
}

type Store interface {
	AddConnection(ctx context.Context, userId, email string) error
	RemoveConnection(ctx context.Context, userId string) error
	UpdateHeartbeat(ctx context.Context, userId string) error
	IsOnline(ctx context.Context, userId string) (bool, error)
	// PublishNotification reports whether at least one live connection
	// received the payload.
	PublishNotification(ctx context.Context, userId string, payload []byte) (bool, error)

	Subscribe(ctx context.Context, userId string) error
	Unsubscribe(ctx context.Context, userId string) error
	Messages() <-chan Message
	Close() error
}

func recordKey(userId string) string {
	return recordKeyPrefix + userId
}

func notifyChannel(userId string) string {
	return notifyChanPrefix + userId
}

func userFromChannel(channel string) (string, bool) {
	userId, ok := strings.CutPrefix(channel, notifyChanPrefix)
	return userId, ok && userId != ""
}

func unavailable(op string, err error) error {
	return fmt.Errorf("%s: %w: %w", op, ErrStoreUnavailable, err)
}
