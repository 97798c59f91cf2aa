package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"
)

const (
	participantColumns  = "p.id, p.session_id, p.user_id, u.username, p.score, p.rank, p.joined_at, p.left_at"
	notificationColumns = "id, user_id, type, title, subtitle, related_user_id, related_post_id, related_quiz_id, " +
		"status, delivery_channel, retry_count, sent_at, created_at"

	invalidTextRepresentation = "22P02"

	decrementJoinedQuery = "UPDATE game_sessions SET joined_count = GREATEST(joined_count - 1, 0) WHERE id = $1"
	incrementJoinedQuery = "UPDATE game_sessions SET joined_count = joined_count + 1 WHERE id = $1"
)

// noRowsOnInvalidId reports a lookup by a malformed uuid as sql.ErrNoRows,
// since no row can carry such an id.
func noRowsOnInvalidId(err error) error {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) && pqErr.Code == invalidTextRepresentation {
		return sql.ErrNoRows
	}
	return err
}

type scanner interface {
	Scan(dest ...any) error
}

func scanParticipant(row scanner) (Participant, error) {
	var (
		p      Participant
		rank   sql.NullInt64
		leftAt sql.NullTime
	)

	err := row.Scan(
		&p.Id,
		&p.SessionId,
		&p.UserId,
		&p.Username,
		&p.Score,
		&rank,
		&p.JoinedAt,
		&leftAt,
	)
	if err != nil {
		return Participant{}, err
	}

	if rank.Valid {
		r := int(rank.Int64)
		p.Rank = &r
	}
	if leftAt.Valid {
		t := leftAt.Time
		p.LeftAt = &t
	}

	return p, nil
}

func scanNotification(row scanner) (Notification, error) {
	var (
		n               Notification
		subtitle        sql.NullString
		relatedUserId   sql.NullString
		relatedPostId   sql.NullString
		relatedQuizId   sql.NullString
		deliveryChannel sql.NullString
		sentAt          sql.NullTime
	)

	err := row.Scan(
		&n.Id,
		&n.UserId,
		&n.Type,
		&n.Title,
		&subtitle,
		&relatedUserId,
		&relatedPostId,
		&relatedQuizId,
		&n.Status,
		&deliveryChannel,
		&n.RetryCount,
		&sentAt,
		&n.CreatedAt,
	)
	if err != nil {
		return Notification{}, err
	}

	n.Subtitle = nullString(subtitle)
	n.RelatedUserId = nullString(relatedUserId)
	n.RelatedPostId = nullString(relatedPostId)
	n.RelatedQuizId = nullString(relatedQuizId)
	n.DeliveryChannel = nullString(deliveryChannel)
	if sentAt.Valid {
		t := sentAt.Time
		n.SentAt = &t
	}

	return n, nil
}

func nullString(ns sql.NullString) *string {
	if !ns.Valid {
		return nil
	}
	s := ns.String
	return &s
}

// withTx runs fn in a transaction and rolls back on error.
func (db *PgQuizRepository) withTx(ctx context.Context, fn func(tx *sql.Tx) error) (err error) {
	tx, err := db.conn.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			tx.Rollback()
		}
	}()

	if err = fn(tx); err != nil {
		return err
	}

	return tx.Commit()
}

func (db *PgQuizRepository) CreateAccount(ctx context.Context, params CreateAccountParams) (User, error) {
	now := time.Now().UTC()
	res := db.conn.QueryRowContext(ctx,
		"INSERT INTO users (username, email, password_hash, created_at, updated_at) "+
			"VALUES ($1, $2, $3, $4, $4) RETURNING id, username, email, created_at, updated_at",
		params.Username,
		params.EmailAddress,
		params.PasswordHash,
		now,
	)

	var u User
	err := res.Scan(
		&u.Id,
		&u.Username,
		&u.EmailAddress,
		&u.CreatedAt,
		&u.UpdatedAt,
	)

	return u, err
}

func (db *PgQuizRepository) GetAccountById(ctx context.Context, id string) (User, error) {
	row := db.conn.QueryRowContext(ctx,
		"SELECT id, username, email, created_at, updated_at FROM users "+
			"WHERE id = $1 LIMIT 1",
		id,
	)

	var user User
	err := row.Scan(
		&user.Id,
		&user.Username,
		&user.EmailAddress,
		&user.CreatedAt,
		&user.UpdatedAt,
	)

	return user, noRowsOnInvalidId(err)
}

func (db *PgQuizRepository) GetAccountByEmail(ctx context.Context, email string) (User, error) {
	row := db.conn.QueryRowContext(ctx,
		"SELECT id, username, email, password_hash, created_at, updated_at FROM users "+
			"WHERE email = $1 LIMIT 1",
		email,
	)

	var user User
	err := row.Scan(
		&user.Id,
		&user.Username,
		&user.EmailAddress,
		&user.PasswordHash,
		&user.CreatedAt,
		&user.UpdatedAt,
	)

	return user, err
}

func (db *PgQuizRepository) GetSessionById(ctx context.Context, id string) (Session, error) {
	row := db.conn.QueryRowContext(ctx,
		"SELECT id, host_id, quiz_snapshot_id, title, code, is_live, joined_count, started_at, ended_at, created_at "+
			"FROM game_sessions WHERE id = $1 LIMIT 1",
		id,
	)

	var (
		s         Session
		startedAt sql.NullTime
		endedAt   sql.NullTime
	)
	err := row.Scan(
		&s.Id,
		&s.HostId,
		&s.QuizSnapshotId,
		&s.Title,
		&s.Code,
		&s.IsLive,
		&s.JoinedCount,
		&startedAt,
		&endedAt,
		&s.CreatedAt,
	)
	if err != nil {
		return Session{}, noRowsOnInvalidId(err)
	}

	if startedAt.Valid {
		t := startedAt.Time
		s.StartedAt = &t
	}
	if endedAt.Valid {
		t := endedAt.Time
		s.EndedAt = &t
	}

	return s, nil
}

func (db *PgQuizRepository) GetLatestParticipant(ctx context.Context, sessionId, userId string) (Participant, error) {
	row := db.conn.QueryRowContext(ctx,
		"SELECT "+participantColumns+" FROM participants p JOIN users u ON u.id = p.user_id "+
			"WHERE p.session_id = $1 AND p.user_id = $2 ORDER BY p.joined_at DESC LIMIT 1",
		sessionId,
		userId,
	)

	p, err := scanParticipant(row)
	return p, noRowsOnInvalidId(err)
}

// CreateParticipant inserts a fresh lobby row and counts it on the session.
func (db *PgQuizRepository) CreateParticipant(ctx context.Context, sessionId, userId string) (Participant, error) {
	var p Participant
	err := db.withTx(ctx, func(tx *sql.Tx) error {
		row := tx.QueryRowContext(ctx,
			"WITH p AS ("+
				"INSERT INTO participants (session_id, user_id, score, joined_at) VALUES ($1, $2, 0, $3) "+
				"RETURNING id, session_id, user_id, score, rank, joined_at, left_at"+
				") SELECT "+participantColumns+" FROM p JOIN users u ON u.id = p.user_id",
			sessionId,
			userId,
			time.Now().UTC(),
		)

		var err error
		if p, err = scanParticipant(row); err != nil {
			return fmt.Errorf("insert participant: %w", err)
		}

		if _, err = tx.ExecContext(ctx, incrementJoinedQuery, sessionId); err != nil {
			return fmt.Errorf("increment joined count: %w", err)
		}
		return nil
	})

	return p, err
}

// ReactivateParticipant clears left_at. It reports false when the row was
// already current, in which case the joined count is left alone.
func (db *PgQuizRepository) ReactivateParticipant(ctx context.Context, p Participant) (bool, error) {
	var changed bool
	err := db.withTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx,
			"UPDATE participants SET left_at = NULL WHERE id = $1 AND left_at IS NOT NULL",
			p.Id,
		)
		if err != nil {
			return err
		}

		n, err := res.RowsAffected()
		if err != nil || n == 0 {
			return err
		}

		changed = true
		_, err = tx.ExecContext(ctx, incrementJoinedQuery, p.SessionId)
		return err
	})

	return changed, err
}

// MarkParticipantLeft sets left_at once. Repeated calls do not decrement again.
func (db *PgQuizRepository) MarkParticipantLeft(ctx context.Context, p Participant) (bool, error) {
	var changed bool
	err := db.withTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx,
			"UPDATE participants SET left_at = $2 WHERE id = $1 AND left_at IS NULL",
			p.Id,
			time.Now().UTC(),
		)
		if err != nil {
			return err
		}

		n, err := res.RowsAffected()
		if err != nil || n == 0 {
			return err
		}

		changed = true
		_, err = tx.ExecContext(ctx, decrementJoinedQuery, p.SessionId)
		return err
	})

	return changed, err
}

// DeleteParticipant removes a lobby-only row. The joined count is only
// decremented if the row was still current when it was deleted.
func (db *PgQuizRepository) DeleteParticipant(ctx context.Context, p Participant) error {
	return db.withTx(ctx, func(tx *sql.Tx) error {
		var wasCurrent bool
		err := tx.QueryRowContext(ctx,
			"DELETE FROM participants WHERE id = $1 RETURNING left_at IS NULL",
			p.Id,
		).Scan(&wasCurrent)
		if errors.Is(err, sql.ErrNoRows) {
			return nil
		}
		if err != nil {
			return err
		}

		if !wasCurrent {
			return nil
		}

		_, err = tx.ExecContext(ctx, decrementJoinedQuery, p.SessionId)
		return err
	})
}

func (db *PgQuizRepository) ParticipantHasActivity(ctx context.Context, participantId string) (bool, error) {
	var exists bool
	err := db.conn.QueryRowContext(ctx,
		"SELECT EXISTS (SELECT 1 FROM participant_answers WHERE participant_id = $1)",
		participantId,
	).Scan(&exists)

	return exists, err
}

func (db *PgQuizRepository) ListSessionParticipants(ctx context.Context, sessionId string) ([]Participant, error) {
	rows, err := db.conn.QueryContext(ctx,
		"SELECT "+participantColumns+" FROM participants p JOIN users u ON u.id = p.user_id "+
			"WHERE p.session_id = $1 ORDER BY p.joined_at DESC",
		sessionId,
	)
	if err != nil {
		return nil, fmt.Errorf("list participants: %w", err)
	}
	defer rows.Close()

	participants := make([]Participant, 0)
	for rows.Next() {
		p, err := scanParticipant(rows)
		if err != nil {
			return nil, fmt.Errorf("scan row: %w", err)
		}
		participants = append(participants, p)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	return participants, nil
}

func (db *PgQuizRepository) CreateNotification(ctx context.Context, params CreateNotificationParams) (Notification, error) {
	row := db.conn.QueryRowContext(ctx,
		"INSERT INTO notifications (user_id, type, title, subtitle, related_user_id, related_post_id, related_quiz_id, status, retry_count, created_at) "+
			"VALUES ($1, $2, $3, $4, $5, $6, $7, 'PENDING', 0, $8) RETURNING "+notificationColumns,
		params.UserId,
		params.Type,
		params.Title,
		params.Subtitle,
		params.RelatedUserId,
		params.RelatedPostId,
		params.RelatedQuizId,
		time.Now().UTC(),
	)

	return scanNotification(row)
}

func (db *PgQuizRepository) GetNotificationById(ctx context.Context, id string) (Notification, error) {
	row := db.conn.QueryRowContext(ctx,
		"SELECT "+notificationColumns+" FROM notifications WHERE id = $1 LIMIT 1",
		id,
	)

	n, err := scanNotification(row)
	return n, noRowsOnInvalidId(err)
}

// MarkNotificationDelivered only moves PENDING rows, so sent_at is written once.
func (db *PgQuizRepository) MarkNotificationDelivered(ctx context.Context, id, channel string, sentAt time.Time) (bool, error) {
	res, err := db.conn.ExecContext(ctx,
		"UPDATE notifications SET status = 'DELIVERED', delivery_channel = $2, sent_at = $3 "+
			"WHERE id = $1 AND status = 'PENDING'",
		id,
		channel,
		sentAt,
	)
	if err != nil {
		return false, err
	}

	n, err := res.RowsAffected()
	return n > 0, err
}

func (db *PgQuizRepository) IncrementNotificationRetry(ctx context.Context, id string) error {
	_, err := db.conn.ExecContext(ctx,
		"UPDATE notifications SET retry_count = retry_count + 1 WHERE id = $1",
		id,
	)

	return err
}

func (db *PgQuizRepository) ListNotifications(ctx context.Context, userId string, limit int) ([]Notification, error) {
	if limit <= 0 {
		limit = 20
	}

	rows, err := db.conn.QueryContext(ctx,
		"SELECT "+notificationColumns+" FROM notifications WHERE user_id = $1 ORDER BY created_at DESC LIMIT $2",
		userId,
		limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	notifications := make([]Notification, 0, limit)
	for rows.Next() {
		n, err := scanNotification(rows)
		if err != nil {
			return nil, err
		}
		notifications = append(notifications, n)
	}

	return notifications, rows.Err()
}

func (db *PgQuizRepository) CreateFollow(ctx context.Context, followerId, followeeId string) error {
	_, err := db.conn.ExecContext(ctx,
		"INSERT INTO follows (follower_id, followee_id, created_at) VALUES ($1, $2, $3) "+
			"ON CONFLICT (follower_id, followee_id) DO NOTHING",
		followerId,
		followeeId,
		time.Now().UTC(),
	)

	return err
}
