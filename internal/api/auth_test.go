package api

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt"
	"github.com/npezzotti/quizlive/internal/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPrincipalFrom(t *testing.T) {
	tcases := []struct {
		name     string
		ctx      context.Context
		expected Principal
		ok       bool
	}{
		{
			name: "no principal",
			ctx:  context.Background(),
		},
		{
			name: "empty principal",
			ctx:  WithPrincipal(context.Background(), Principal{}),
		},
		{
			name:     "principal set",
			ctx:      WithPrincipal(context.Background(), Principal{Id: "u1", Email: "u1@example.com"}),
			expected: Principal{Id: "u1", Email: "u1@example.com"},
			ok:       true,
		},
	}

	for _, tc := range tcases {
		t.Run(tc.name, func(t *testing.T) {
			p, ok := PrincipalFrom(tc.ctx)
			assert.Equal(t, tc.ok, ok)
			if tc.ok {
				assert.Equal(t, tc.expected, p)
			}
		})
	}
}

func Test_verifyToken(t *testing.T) {
	app := &QuizApp{signingKey: []byte("test-signing-key")}
	user := types.User{Id: "u1", EmailAddress: "u1@example.com"}

	valid, err := app.createJwtForSession(user, time.Hour)
	require.NoError(t, err)

	expired, err := app.createJwtForSession(user, -time.Hour)
	require.NoError(t, err)

	otherKey, err := (&QuizApp{signingKey: []byte("other-key")}).createJwtForSession(user, time.Hour)
	require.NoError(t, err)

	noSubject, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		expClaim: time.Now().Add(time.Hour).Unix(),
	}).SignedString(app.signingKey)
	require.NoError(t, err)

	unsigned, err := jwt.NewWithClaims(jwt.SigningMethodNone, jwt.MapClaims{
		userIdClaim: "u1",
		expClaim:    time.Now().Add(time.Hour).Unix(),
	}).SignedString(jwt.UnsafeAllowNoneSignatureType)
	require.NoError(t, err)

	t.Run("valid token", func(t *testing.T) {
		p, err := app.verifyToken(valid)
		require.NoError(t, err)
		assert.Equal(t, Principal{Id: "u1", Email: "u1@example.com"}, p)
	})

	for name, token := range map[string]string{
		"expired":            expired,
		"wrong key":          otherKey,
		"missing user claim": noSubject,
		"unsigned":           unsigned,
		"garbage":            "not-a-token",
	} {
		t.Run(name, func(t *testing.T) {
			_, err := app.verifyToken(token)
			assert.ErrorIs(t, err, ErrAuthenticationFailed)
		})
	}
}

func Test_tokenFromRequest(t *testing.T) {
	tcases := []struct {
		name     string
		prepare  func(r *http.Request)
		target   string
		expected string
		ok       bool
	}{
		{
			name:   "no token",
			target: "/ws",
		},
		{
			name:   "cookie",
			target: "/ws",
			prepare: func(r *http.Request) {
				r.AddCookie(&http.Cookie{Name: tokenCookieKey, Value: "from-cookie"})
			},
			expected: "from-cookie",
			ok:       true,
		},
		{
			name:   "bearer header",
			target: "/ws",
			prepare: func(r *http.Request) {
				r.Header.Set("Authorization", "Bearer from-header")
			},
			expected: "from-header",
			ok:       true,
		},
		{
			name:   "other auth scheme",
			target: "/ws",
			prepare: func(r *http.Request) {
				r.Header.Set("Authorization", "Basic dTE6cGFzcw==")
			},
		},
		{
			name:     "query parameter",
			target:   "/ws?token=from-query",
			expected: "from-query",
			ok:       true,
		},
		{
			name:   "cookie wins",
			target: "/ws?token=from-query",
			prepare: func(r *http.Request) {
				r.AddCookie(&http.Cookie{Name: tokenCookieKey, Value: "from-cookie"})
				r.Header.Set("Authorization", "Bearer from-header")
			},
			expected: "from-cookie",
			ok:       true,
		},
	}

	for _, tc := range tcases {
		t.Run(tc.name, func(t *testing.T) {
			r := httptest.NewRequest(http.MethodGet, tc.target, nil)
			if tc.prepare != nil {
				tc.prepare(r)
			}

			token, ok := tokenFromRequest(r)
			assert.Equal(t, tc.ok, ok)
			assert.Equal(t, tc.expected, token)
		})
	}
}

func Test_passwordHashing(t *testing.T) {
	hash, err := hashPassword("correct horse")
	require.NoError(t, err)

	assert.NotEqual(t, "correct horse", hash)
	assert.True(t, verifyPassword(hash, "correct horse"))
	assert.False(t, verifyPassword(hash, "battery staple"))
}
