package session

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/sakif/storefront/internal/auth"
)

// CookieName carries the session ID.
const CookieName = "sessionid"

// Options configures the session cookie.
type Options struct {
	TTL    time.Duration
	Secure bool
}

// Manager loads the session for each request and saves it afterwards.
type Manager struct {
	store  Store
	opts   Options
	logger *slog.Logger
}

// NewManager creates a Manager backed by store.
func NewManager(store Store, opts Options, logger *slog.Logger) *Manager {
	return &Manager{store: store, opts: opts, logger: logger}
}

// Middleware attaches a session to the request context.
//
// The session is saved when the handler first writes the status line (or
// returns without writing), never after: once the header is on the wire
// the cookie can no longer change. If the save fails the response is
// replaced with a 500 so the client never sees a success for state that
// was lost.
func (m *Manager) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		sess := m.load(r)

		sw := &savingWriter{ResponseWriter: w, manager: m, session: sess, ctx: r.Context()}
		next.ServeHTTP(sw, r.WithContext(NewContext(r.Context(), sess)))
		sw.commit()
	})
}

// load finds the session named by the cookie or starts a new one. An
// unreadable cookie, an unknown ID or a store failure all start fresh.
func (m *Manager) load(r *http.Request) *Session {
	cookie, err := r.Cookie(CookieName)
	if err != nil || !validID(cookie.Value) {
		return m.fresh()
	}

	values, found, err := m.store.Load(r.Context(), storeKey(cookie.Value))
	if err != nil {
		m.logger.Warn("loading session failed, starting a new one", slog.String("error", err.Error()))
		return m.fresh()
	}
	if !found {
		return m.fresh()
	}
	return load(cookie.Value, values)
}

func (m *Manager) fresh() *Session {
	id, err := auth.NewSecret()
	if err != nil {
		// crypto/rand failing leaves nothing sensible to do but serve
		// the request without persistence.
		m.logger.Error("generating session id", slog.String("error", err.Error()))
	}
	return New(id)
}

// save persists or deletes the session and sets or clears the cookie.
func (m *Manager) save(ctx context.Context, w http.ResponseWriter, s *Session) error {
	if !s.Modified() || s.ID() == "" {
		return nil
	}
	if s.rotate {
		return m.rotateID(ctx, w, s)
	}

	if s.Empty() {
		if s.IsNew() {
			return nil
		}
		if err := m.store.Delete(ctx, storeKey(s.ID())); err != nil {
			return err
		}
		http.SetCookie(w, m.cookie("", -1))
		return nil
	}

	if err := m.store.Save(ctx, storeKey(s.ID()), s.snapshot(), m.opts.TTL); err != nil {
		return err
	}
	http.SetCookie(w, m.cookie(s.ID(), int(m.opts.TTL.Seconds())))
	return nil
}

// rotateID retires the session's current ID and, unless the session is
// now empty, saves it under a new one.
func (m *Manager) rotateID(ctx context.Context, w http.ResponseWriter, s *Session) error {
	if !s.IsNew() {
		if err := m.store.Delete(ctx, storeKey(s.ID())); err != nil {
			return err
		}
	}
	if s.Empty() {
		http.SetCookie(w, m.cookie("", -1))
		return nil
	}

	id, err := auth.NewSecret()
	if err != nil {
		return fmt.Errorf("session: generating id: %w", err)
	}
	s.id, s.isNew, s.rotate = id, false, false

	if err := m.store.Save(ctx, storeKey(id), s.snapshot(), m.opts.TTL); err != nil {
		return err
	}
	http.SetCookie(w, m.cookie(id, int(m.opts.TTL.Seconds())))
	return nil
}

func (m *Manager) cookie(value string, maxAge int) *http.Cookie {
	return &http.Cookie{
		Name:     CookieName,
		Value:    value,
		Path:     "/",
		MaxAge:   maxAge,
		HttpOnly: true,
		Secure:   m.opts.Secure,
		SameSite: http.SameSiteLaxMode,
	}
}

// storeKey hashes the cookie value so a leaked store dump can't be
// replayed as cookies.
func storeKey(id string) string {
	return auth.HashSecret(id)
}

// validID accepts only values NewSecret could have produced.
func validID(id string) bool {
	if len(id) != 43 {
		return false
	}
	for _, c := range id {
		switch {
		case c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z', c >= '0' && c <= '9', c == '-', c == '_':
		default:
			return false
		}
	}
	return true
}

// savingWriter commits the session right before the header is written.
type savingWriter struct {
	http.ResponseWriter
	manager   *Manager
	session   *Session
	ctx       context.Context
	committed bool
	failed    bool
}

func (sw *savingWriter) commit() bool {
	if sw.committed {
		return !sw.failed
	}
	sw.committed = true

	if err := sw.manager.save(sw.ctx, sw.ResponseWriter, sw.session); err != nil {
		sw.manager.logger.Error("saving session", slog.String("error", err.Error()))
		sw.failed = true
		h := sw.ResponseWriter.Header()
		h.Del("Location")
		h.Set("Content-Type", "application/json")
		sw.ResponseWriter.WriteHeader(http.StatusInternalServerError)
		_, _ = sw.ResponseWriter.Write([]byte(`{"error":"internal_error","message":"An internal error occurred"}`))
		return false
	}
	return true
}

func (sw *savingWriter) WriteHeader(code int) {
	if sw.commit() {
		sw.ResponseWriter.WriteHeader(code)
	}
}

func (sw *savingWriter) Write(b []byte) (int, error) {
	if !sw.commit() {
		return len(b), nil
	}
	return sw.ResponseWriter.Write(b)
}

// Unwrap lets http.ResponseController reach the underlying writer.
func (sw *savingWriter) Unwrap() http.ResponseWriter {
	return sw.ResponseWriter
}
