package server

import (
	"database/sql"
	"errors"
	"testing"
	"time"

	"github.com/npezzotti/quizlive/internal/database"
	"github.com/npezzotti/quizlive/internal/stats"
	"github.com/npezzotti/quizlive/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

var (
	joinedAt    = time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
	liveSession = database.Session{Id: "s1", Title: "Trivia night", IsLive: true, JoinedCount: 1}
)

func endedSession() database.Session {
	ended := joinedAt.Add(time.Hour)
	s := liveSession
	s.IsLive = false
	s.EndedAt = &ended
	return s
}

func newTestHub(t *testing.T, db database.QuizRepository, su *stats.MockStatsUpdater) *Hub {
	su.On("RegisterMetric", MetricActiveSessions).Return()
	return NewHub(testutil.TestLogger(t), db, su)
}

// newTestSession builds a session that is driven by calling its handlers
// directly instead of through run.
func newTestSession(t *testing.T, db *database.MockQuizRepository) *session {
	h := newTestHub(t, db, &stats.MockStatsUpdater{})
	s := newSession(h, "s1")
	s.killTimer = time.NewTimer(time.Hour)
	t.Cleanup(func() { s.killTimer.Stop() })
	return s
}

func participant(id, userId string) database.Participant {
	return database.Participant{
		Id:        id,
		SessionId: "s1",
		UserId:    userId,
		Username:  userId,
		JoinedAt:  joinedAt,
	}
}

func Test_handleJoin(t *testing.T) {
	t.Run("first join creates participant", func(t *testing.T) {
		db := &database.MockQuizRepository{}
		defer db.AssertExpectations(t)
		s := newTestSession(t, db)

		p := participant("p1", "u1")
		db.On("GetSessionById", mock.Anything, "s1").Return(liveSession, nil)
		db.On("GetLatestParticipant", mock.Anything, "s1", "u1").Return(database.Participant{}, sql.ErrNoRows).Once()
		db.On("CreateParticipant", mock.Anything, "s1", "u1").Return(p, nil).Once()
		db.On("ListSessionParticipants", mock.Anything, "s1").Return([]database.Participant{p}, nil)

		observer := newTestClient(t, "u2")
		s.addClient(observer)

		c := newTestClient(t, "u1")
		s.handleJoin(c)

		assert.Same(t, s, c.currentSession())
		assert.Contains(t, s.clients, c)

		joined, ok := receive(t, c).(*ParticipantJoinedMessage)
		require.True(t, ok)
		assert.Equal(t, "p1", joined.Participant.Id)

		state, ok := receive(t, c).(*SessionStateMessage)
		require.True(t, ok)
		assert.Equal(t, "s1", state.SessionId)
		assert.Equal(t, "Trivia night", state.Data.Title)
		require.Len(t, state.Data.Participants, 1)

		observed, ok := receive(t, observer).(*ParticipantJoinedMessage)
		require.True(t, ok, "every connection in the group is told")
		assert.Equal(t, "p1", observed.Participant.Id)
	})

	t.Run("rejoin on same connection only resyncs", func(t *testing.T) {
		db := &database.MockQuizRepository{}
		defer db.AssertExpectations(t)
		s := newTestSession(t, db)

		p := participant("p1", "u1")
		db.On("GetSessionById", mock.Anything, "s1").Return(liveSession, nil)
		db.On("GetLatestParticipant", mock.Anything, "s1", "u1").Return(database.Participant{}, sql.ErrNoRows).Once()
		db.On("CreateParticipant", mock.Anything, "s1", "u1").Return(p, nil).Once()
		db.On("ListSessionParticipants", mock.Anything, "s1").Return([]database.Participant{p}, nil)

		c := newTestClient(t, "u1")
		s.handleJoin(c)
		receive(t, c)
		receive(t, c)

		s.handleJoin(c)
		_, ok := receive(t, c).(*SessionStateMessage)
		assert.True(t, ok)
		assertNoMessage(t, c)
		db.AssertNumberOfCalls(t, "CreateParticipant", 1)
	})

	t.Run("second device reuses current row", func(t *testing.T) {
		db := &database.MockQuizRepository{}
		defer db.AssertExpectations(t)
		s := newTestSession(t, db)

		p := participant("p1", "u1")
		db.On("GetSessionById", mock.Anything, "s1").Return(liveSession, nil)
		db.On("GetLatestParticipant", mock.Anything, "s1", "u1").Return(p, nil)
		db.On("ListSessionParticipants", mock.Anything, "s1").Return([]database.Participant{p}, nil)

		phone := newTestClient(t, "u1")
		laptop := newTestClient(t, "u1")
		s.handleJoin(phone)
		s.handleJoin(laptop)

		db.AssertNotCalled(t, "CreateParticipant", mock.Anything, mock.Anything, mock.Anything)
		db.AssertNotCalled(t, "ReactivateParticipant", mock.Anything, mock.Anything)
		assert.Len(t, s.userMap["u1"], 2)
	})

	t.Run("reactivates a row that left", func(t *testing.T) {
		db := &database.MockQuizRepository{}
		defer db.AssertExpectations(t)
		s := newTestSession(t, db)

		left := joinedAt.Add(time.Minute)
		p := participant("p1", "u1")
		p.LeftAt = &left

		db.On("GetSessionById", mock.Anything, "s1").Return(liveSession, nil)
		db.On("GetLatestParticipant", mock.Anything, "s1", "u1").Return(p, nil)
		db.On("ReactivateParticipant", mock.Anything, p).Return(true, nil).Once()
		db.On("ListSessionParticipants", mock.Anything, "s1").Return([]database.Participant{p}, nil)

		c := newTestClient(t, "u1")
		s.handleJoin(c)

		joined, ok := receive(t, c).(*ParticipantJoinedMessage)
		require.True(t, ok)
		assert.Nil(t, joined.Participant.LeftAt)
	})

	t.Run("ended session without prior row", func(t *testing.T) {
		db := &database.MockQuizRepository{}
		defer db.AssertExpectations(t)
		s := newTestSession(t, db)

		db.On("GetSessionById", mock.Anything, "s1").Return(endedSession(), nil)
		db.On("GetLatestParticipant", mock.Anything, "s1", "u1").Return(database.Participant{}, sql.ErrNoRows)

		c := newTestClient(t, "u1")
		s.handleJoin(c)

		errMsg, ok := receive(t, c).(*ErrorMessage)
		require.True(t, ok)
		assert.Equal(t, "session has ended", errMsg.Message)
		assert.Nil(t, c.currentSession())
		assert.Empty(t, s.clients)
	})

	t.Run("ended session with prior row", func(t *testing.T) {
		db := &database.MockQuizRepository{}
		defer db.AssertExpectations(t)
		s := newTestSession(t, db)

		p := participant("p1", "u1")
		p.Score = 900
		db.On("GetSessionById", mock.Anything, "s1").Return(endedSession(), nil)
		db.On("GetLatestParticipant", mock.Anything, "s1", "u1").Return(p, nil)
		db.On("ListSessionParticipants", mock.Anything, "s1").Return([]database.Participant{p}, nil)

		c := newTestClient(t, "u1")
		s.handleJoin(c)

		_, ok := receive(t, c).(*ParticipantJoinedMessage)
		require.True(t, ok)
		state, ok := receive(t, c).(*SessionStateMessage)
		require.True(t, ok)
		assert.Equal(t, 900, state.Data.Participants[0].Score)
		db.AssertNotCalled(t, "CreateParticipant", mock.Anything, mock.Anything, mock.Anything)
	})

	t.Run("session deleted", func(t *testing.T) {
		db := &database.MockQuizRepository{}
		s := newTestSession(t, db)

		db.On("GetSessionById", mock.Anything, "s1").Return(database.Session{}, sql.ErrNoRows)

		c := newTestClient(t, "u1")
		s.handleJoin(c)

		errMsg, ok := receive(t, c).(*ErrorMessage)
		require.True(t, ok)
		assert.Equal(t, "session not found", errMsg.Message)
	})

	t.Run("database error", func(t *testing.T) {
		db := &database.MockQuizRepository{}
		s := newTestSession(t, db)

		db.On("GetSessionById", mock.Anything, "s1").Return(liveSession, nil)
		db.On("GetLatestParticipant", mock.Anything, "s1", "u1").Return(database.Participant{}, sql.ErrNoRows)
		db.On("CreateParticipant", mock.Anything, "s1", "u1").Return(database.Participant{}, errors.New("deadlock detected"))

		c := newTestClient(t, "u1")
		s.handleJoin(c)

		errMsg, ok := receive(t, c).(*ErrorMessage)
		require.True(t, ok)
		assert.Equal(t, "internal server error", errMsg.Message)
		assert.Empty(t, s.clients)
	})

	t.Run("client disconnected while queued", func(t *testing.T) {
		db := &database.MockQuizRepository{}
		defer db.AssertExpectations(t)
		s := newTestSession(t, db)

		p := participant("p1", "u1")
		db.On("GetSessionById", mock.Anything, "s1").Return(liveSession, nil)
		db.On("GetLatestParticipant", mock.Anything, "s1", "u1").Return(database.Participant{}, sql.ErrNoRows).Once()
		db.On("CreateParticipant", mock.Anything, "s1", "u1").Return(p, nil).Once()
		db.On("GetLatestParticipant", mock.Anything, "s1", "u1").Return(p, nil).Once()
		db.On("ParticipantHasActivity", mock.Anything, "p1").Return(false, nil)
		db.On("DeleteParticipant", mock.Anything, p).Return(nil).Once()

		c := newTestClient(t, "u1")
		c.markClosed()
		s.handleJoin(c)

		assert.Empty(t, s.clients)
		assert.Nil(t, c.currentSession())
	})
}

func Test_handleLeave(t *testing.T) {
	t.Run("lobby only participant is deleted", func(t *testing.T) {
		db := &database.MockQuizRepository{}
		defer db.AssertExpectations(t)
		s := newTestSession(t, db)

		p := participant("p1", "u1")
		db.On("GetSessionById", mock.Anything, "s1").Return(liveSession, nil)
		db.On("GetLatestParticipant", mock.Anything, "s1", "u1").Return(p, nil)
		db.On("ParticipantHasActivity", mock.Anything, "p1").Return(false, nil)
		db.On("DeleteParticipant", mock.Anything, p).Return(nil).Once()

		leaver := newTestClient(t, "u1")
		other := newTestClient(t, "u2")
		s.addClient(leaver)
		s.addClient(other)
		leaver.setSession(s)

		s.handleLeave(leaver)

		assert.Nil(t, leaver.currentSession())
		assert.NotContains(t, s.clients, leaver)
		assertNoMessage(t, leaver)

		left, ok := receive(t, other).(*ParticipantLeftMessage)
		require.True(t, ok)
		assert.Equal(t, "u1", left.UserId)
		assert.Equal(t, "p1", left.ParticipantId)
	})

	t.Run("participant with activity is marked left", func(t *testing.T) {
		db := &database.MockQuizRepository{}
		defer db.AssertExpectations(t)
		s := newTestSession(t, db)

		p := participant("p1", "u1")
		db.On("GetSessionById", mock.Anything, "s1").Return(liveSession, nil)
		db.On("GetLatestParticipant", mock.Anything, "s1", "u1").Return(p, nil)
		db.On("ParticipantHasActivity", mock.Anything, "p1").Return(true, nil)
		db.On("MarkParticipantLeft", mock.Anything, p).Return(true, nil).Once()

		c := newTestClient(t, "u1")
		s.addClient(c)
		s.handleLeave(c)

		db.AssertNotCalled(t, "DeleteParticipant", mock.Anything, mock.Anything)
	})

	t.Run("row already left is not touched again", func(t *testing.T) {
		db := &database.MockQuizRepository{}
		defer db.AssertExpectations(t)
		s := newTestSession(t, db)

		left := joinedAt.Add(time.Minute)
		p := participant("p1", "u1")
		p.LeftAt = &left
		db.On("GetSessionById", mock.Anything, "s1").Return(liveSession, nil)
		db.On("GetLatestParticipant", mock.Anything, "s1", "u1").Return(p, nil)

		c := newTestClient(t, "u1")
		s.addClient(c)
		s.handleLeave(c)

		db.AssertNotCalled(t, "MarkParticipantLeft", mock.Anything, mock.Anything)
		db.AssertNotCalled(t, "DeleteParticipant", mock.Anything, mock.Anything)
	})

	t.Run("other device keeps the participant", func(t *testing.T) {
		db := &database.MockQuizRepository{}
		s := newTestSession(t, db)

		phone := newTestClient(t, "u1")
		laptop := newTestClient(t, "u1")
		s.addClient(phone)
		s.addClient(laptop)

		s.handleLeave(phone)

		db.AssertNotCalled(t, "GetLatestParticipant", mock.Anything, mock.Anything, mock.Anything)
		assertNoMessage(t, laptop)
		assert.Len(t, s.userMap["u1"], 1)
	})

	t.Run("ended session rows are preserved", func(t *testing.T) {
		db := &database.MockQuizRepository{}
		defer db.AssertExpectations(t)
		s := newTestSession(t, db)

		p := participant("p1", "u1")
		db.On("GetSessionById", mock.Anything, "s1").Return(endedSession(), nil)
		db.On("GetLatestParticipant", mock.Anything, "s1", "u1").Return(p, nil)

		c := newTestClient(t, "u1")
		s.addClient(c)
		s.handleLeave(c)

		db.AssertNotCalled(t, "ParticipantHasActivity", mock.Anything, mock.Anything)
	})

	t.Run("client not in session", func(t *testing.T) {
		db := &database.MockQuizRepository{}
		s := newTestSession(t, db)

		s.handleLeave(newTestClient(t, "u1"))
		db.AssertNotCalled(t, "GetSessionById", mock.Anything, mock.Anything)
	})
}

func Test_handleAnnouncement(t *testing.T) {
	db := &database.MockQuizRepository{}
	s := newTestSession(t, db)

	c := newTestClient(t, "u2")
	s.addClient(c)

	p := participant("p1", "u1")
	db.On("GetLatestParticipant", mock.Anything, "s1", "u1").Return(p, nil)

	s.handleAnnouncement(announcement{userId: "u1", joined: true})
	joined, ok := receive(t, c).(*ParticipantJoinedMessage)
	require.True(t, ok)
	assert.Equal(t, "p1", joined.Participant.Id)

	s.handleAnnouncement(announcement{userId: "u1", participantId: "p1"})
	left, ok := receive(t, c).(*ParticipantLeftMessage)
	require.True(t, ok)
	assert.Equal(t, "p1", left.ParticipantId)
}

func Test_sendState_dedupesByUser(t *testing.T) {
	db := &database.MockQuizRepository{}
	s := newTestSession(t, db)

	left := joinedAt.Add(-time.Minute)
	newer := participant("p2", "u1")
	newer.JoinedAt = joinedAt.Add(time.Minute)
	older := participant("p1", "u1")
	older.LeftAt = &left
	other := participant("p3", "u2")

	db.On("GetSessionById", mock.Anything, "s1").Return(liveSession, nil)
	db.On("ListSessionParticipants", mock.Anything, "s1").Return([]database.Participant{newer, other, older}, nil)

	c := newTestClient(t, "u1")
	require.NoError(t, s.sendState(t.Context(), c))

	state, ok := receive(t, c).(*SessionStateMessage)
	require.True(t, ok)
	require.Len(t, state.Data.Participants, 2)
	assert.Equal(t, "p2", state.Data.Participants[0].Id)
	assert.Equal(t, "p3", state.Data.Participants[1].Id)
}
