package session

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// seed runs counter once and returns the session cookie it set.
func seed(t *testing.T, m *Manager) *http.Cookie {
	t.Helper()
	rec := httptest.NewRecorder()
	m.Middleware(counter).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	c := sessionCookie(t, rec)
	require.NotNil(t, c)
	return c
}

func serveWith(m *Manager, c *http.Cookie, fn func(s *Session)) *httptest.ResponseRecorder {
	h := m.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fn(FromContext(r.Context()))
		w.WriteHeader(http.StatusOK)
	}))
	req := httptest.NewRequest(http.MethodPost, "/", nil)
	if c != nil {
		req.AddCookie(c)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestFlush_DeletesStoredSessionAndExpiresCookie(t *testing.T) {
	m, mr := setupTestManager(t)
	c := seed(t, m)

	rec := serveWith(m, c, func(s *Session) { s.Flush() })

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, mr.Keys())
	expired := sessionCookie(t, rec)
	require.NotNil(t, expired)
	assert.Equal(t, -1, expired.MaxAge)
}

func TestRotate_MovesValuesToNewID(t *testing.T) {
	m, mr := setupTestManager(t)
	old := seed(t, m)

	rec := serveWith(m, old, func(s *Session) { s.Rotate() })

	fresh := sessionCookie(t, rec)
	require.NotNil(t, fresh)
	assert.NotEqual(t, old.Value, fresh.Value)
	assert.False(t, mr.Exists(keyPrefix+storeKey(old.Value)), "old ID must stop working")
	assert.True(t, mr.Exists(keyPrefix+storeKey(fresh.Value)))

	// The counter carried over to the new ID.
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.AddCookie(fresh)
	rec = httptest.NewRecorder()
	m.Middleware(counter).ServeHTTP(rec, req)
	assert.JSONEq(t, "2", rec.Body.String())

	// The old cookie now starts from scratch.
	req = httptest.NewRequest(http.MethodGet, "/", nil)
	req.AddCookie(old)
	rec = httptest.NewRecorder()
	m.Middleware(counter).ServeHTTP(rec, req)
	assert.JSONEq(t, "1", rec.Body.String())
}

func TestBindUser(t *testing.T) {
	t.Run("anonymous values are kept", func(t *testing.T) {
		s := New("id")
		AddFlash(s, LevelInfo, "hello")

		require.NoError(t, BindUser(s, "alice"))

		assert.Equal(t, "alice", Owner(s))
		assert.True(t, s.Has(flashKey))
		assert.True(t, s.rotate)
	})

	t.Run("same user keeps values", func(t *testing.T) {
		s := New("id")
		require.NoError(t, BindUser(s, "alice"))
		require.NoError(t, s.Set("basket", map[string]int{"1": 2}))

		require.NoError(t, BindUser(s, "alice"))

		assert.True(t, s.Has("basket"))
	})

	t.Run("different user flushes", func(t *testing.T) {
		s := New("id")
		require.NoError(t, BindUser(s, "alice"))
		require.NoError(t, s.Set("basket", map[string]int{"1": 2}))

		require.NoError(t, BindUser(s, "bob"))

		assert.False(t, s.Has("basket"))
		assert.Equal(t, "bob", Owner(s))
	})

	t.Run("unbound session has no owner", func(t *testing.T) {
		assert.Equal(t, "", Owner(New("id")))
	})
}

func TestBindUser_NewIDIsIssued(t *testing.T) {
	m, mr := setupTestManager(t)
	planted := seed(t, m)

	rec := serveWith(m, planted, func(s *Session) {
		require.NoError(t, BindUser(s, "alice"))
	})

	issued := sessionCookie(t, rec)
	require.NotNil(t, issued)
	assert.NotEqual(t, planted.Value, issued.Value)
	assert.Len(t, mr.Keys(), 1)
	assert.True(t, mr.Exists(keyPrefix+storeKey(issued.Value)))
}
