package presence

import (
	"context"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

type RedisStore struct {
	rdb      *redis.Client
	pubsub   *redis.PubSub
	messages chan Message
	ttl      time.Duration
	now      func() time.Time
	log      zerolog.Logger
}

var _ Store = (*RedisStore)(nil)

// NewRedisStore opens the process-wide subscriber connection. Channels are
// added to it as users connect.
func NewRedisStore(rdb *redis.Client, log zerolog.Logger) *RedisStore {
	s := &RedisStore{
		rdb:      rdb,
		pubsub:   rdb.Subscribe(context.Background()),
		messages: make(chan Message, 256),
		ttl:      RecordTTL,
		now:      time.Now,
		log:      log,
	}

	go s.forward()

	return s
}

func (s *RedisStore) forward() {
	defer close(s.messages)

	for msg := range s.pubsub.Channel() {
		userId, ok := userFromChannel(msg.Channel)
		if !ok {
			s.log.Warn().Str("channel", msg.Channel).Msg("message on unexpected channel")
			continue
		}

		s.messages <- Message{UserId: userId, Payload: []byte(msg.Payload)}
	}
}

func (s *RedisStore) timestamp() string {
	return s.now().UTC().Format(time.RFC3339Nano)
}

func (s *RedisStore) AddConnection(ctx context.Context, userId, email string) error {
	key := recordKey(userId)
	now := s.timestamp()

	_, err := s.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, key,
			"user_id", userId,
			"email", email,
			"last_heartbeat_at", now,
		)
		pipe.HSetNX(ctx, key, "connected_at", now)
		pipe.Expire(ctx, key, s.ttl)
		return nil
	})
	if err != nil {
		return unavailable("add connection", err)
	}

	return nil
}

func (s *RedisStore) RemoveConnection(ctx context.Context, userId string) error {
	if err := s.rdb.Del(ctx, recordKey(userId)).Err(); err != nil {
		return unavailable("remove connection", err)
	}

	return nil
}

// UpdateHeartbeat refreshes the record. A record that already expired is
// recreated without an email; connected_at is only written when absent.
func (s *RedisStore) UpdateHeartbeat(ctx context.Context, userId string) error {
	key := recordKey(userId)
	now := s.timestamp()

	_, err := s.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, key,
			"user_id", userId,
			"last_heartbeat_at", now,
		)
		pipe.HSetNX(ctx, key, "connected_at", now)
		pipe.Expire(ctx, key, s.ttl)
		return nil
	})
	if err != nil {
		return unavailable("update heartbeat", err)
	}

	return nil
}

func (s *RedisStore) IsOnline(ctx context.Context, userId string) (bool, error) {
	n, err := s.rdb.Exists(ctx, recordKey(userId)).Result()
	if err != nil {
		return false, unavailable("is online", err)
	}

	return n > 0, nil
}

// record returns the stored record, or false if the user has none.
func (s *RedisStore) record(ctx context.Context, userId string) (Record, bool, error) {
	vals, err := s.rdb.HGetAll(ctx, recordKey(userId)).Result()
	if err != nil {
		return Record{}, false, unavailable("get record", err)
	}
	if len(vals) == 0 {
		return Record{}, false, nil
	}

	rec := Record{
		UserId: vals["user_id"],
		Email:  vals["email"],
	}
	rec.ConnectedAt, _ = time.Parse(time.RFC3339Nano, vals["connected_at"])
	rec.LastHeartbeatAt, _ = time.Parse(time.RFC3339Nano, vals["last_heartbeat_at"])

	return rec, true, nil
}

// PublishNotification uses the receiver count Redis reports for the publish,
// so a record whose socket already died without cleanup still reports false.
func (s *RedisStore) PublishNotification(ctx context.Context, userId string, payload []byte) (bool, error) {
	receivers, err := s.rdb.Publish(ctx, notifyChannel(userId), payload).Result()
	if err != nil {
		return false, unavailable("publish notification", err)
	}

	return receivers > 0, nil
}

func (s *RedisStore) Subscribe(ctx context.Context, userId string) error {
	if err := s.pubsub.Subscribe(ctx, notifyChannel(userId)); err != nil {
		return unavailable("subscribe", err)
	}

	return nil
}

func (s *RedisStore) Unsubscribe(ctx context.Context, userId string) error {
	if err := s.pubsub.Unsubscribe(ctx, notifyChannel(userId)); err != nil {
		return unavailable("unsubscribe", err)
	}

	return nil
}

func (s *RedisStore) Messages() <-chan Message {
	return s.messages
}

func (s *RedisStore) Close() error {
	if err := s.pubsub.Close(); err != nil && !errors.Is(err, redis.ErrClosed) {
		return err
	}

	return nil
}
