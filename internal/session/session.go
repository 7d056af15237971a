// Package session keeps per-visitor state between requests.
//
// A Session is a bag of JSON values keyed by string. It is loaded by the
// Manager middleware at the start of a request, handed to handlers through
// the request context, and written back to the Store just before the
// response header goes out, but only when something changed.
//
// Values are kept as json.RawMessage so that each package decodes its own
// keys into its own types (the basket owns "basket", the social client
// owns "social_oauth", flash messages own "_flash").
package session

import (
	"context"
	"encoding/json"
	"fmt"
	"maps"
)

// Session is one visitor's state. It is not safe for concurrent use; a
// request owns its session for the duration of the handler.
type Session struct {
	id       string
	values   map[string]json.RawMessage
	modified bool
	isNew    bool
	rotate   bool
}

// New returns an empty, unsaved session with the given ID.
func New(id string) *Session {
	return &Session{
		id:     id,
		values: make(map[string]json.RawMessage),
		isNew:  true,
	}
}

// load rebuilds a session from stored values.
func load(id string, values map[string]json.RawMessage) *Session {
	if values == nil {
		values = make(map[string]json.RawMessage)
	}
	return &Session{id: id, values: values}
}

// ID is the opaque value carried in the session cookie.
func (s *Session) ID() string { return s.id }

// IsNew reports whether the session has never been saved.
func (s *Session) IsNew() bool { return s.isNew }

// Modified reports whether the session must be saved at the end of the request.
func (s *Session) Modified() bool { return s.modified }

// MarkModified forces a save even when no key was set or deleted.
func (s *Session) MarkModified() { s.modified = true }

// Empty reports whether the session holds no keys.
func (s *Session) Empty() bool { return len(s.values) == 0 }

// Has reports whether key is present.
func (s *Session) Has(key string) bool {
	_, ok := s.values[key]
	return ok
}

// Raw returns the stored JSON for key.
func (s *Session) Raw(key string) (json.RawMessage, bool) {
	v, ok := s.values[key]
	return v, ok
}

// Get decodes the value stored under key into dst. It returns false when
// the key is absent, and an error when the stored JSON doesn't fit dst.
func (s *Session) Get(key string, dst any) (bool, error) {
	raw, ok := s.values[key]
	if !ok {
		return false, nil
	}
	if err := json.Unmarshal(raw, dst); err != nil {
		return true, fmt.Errorf("session: decoding %q: %w", key, err)
	}
	return true, nil
}

// Set stores v under key and marks the session modified.
func (s *Session) Set(key string, v any) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("session: encoding %q: %w", key, err)
	}
	s.values[key] = raw
	s.modified = true
	return nil
}

// Pop decodes key into dst and removes it. A missing key leaves the session
// untouched and returns false.
func (s *Session) Pop(key string, dst any) (bool, error) {
	found, err := s.Get(key, dst)
	if !found {
		return false, nil
	}
	s.Delete(key)
	return true, err
}

// Delete removes key. Deleting a missing key is a no-op.
func (s *Session) Delete(key string) {
	if _, ok := s.values[key]; !ok {
		return
	}
	delete(s.values, key)
	s.modified = true
}

// Flush drops every value and retires the ID. The Manager deletes the
// stored session and expires the cookie. Logout calls it.
func (s *Session) Flush() {
	clear(s.values)
	s.rotate = true
	s.modified = true
}

// Rotate keeps the values but moves them to a fresh ID when the session is
// saved; the old ID stops working. Login calls it, so a cookie planted
// before login is useless afterwards.
func (s *Session) Rotate() {
	s.rotate = true
	s.modified = true
}

// snapshot returns a copy of the values for the store to persist.
func (s *Session) snapshot() map[string]json.RawMessage {
	return maps.Clone(s.values)
}

type contextKey struct{}

// NewContext returns a copy of ctx that carries s.
func NewContext(ctx context.Context, s *Session) context.Context {
	return context.WithValue(ctx, contextKey{}, s)
}

// FromContext returns the request's session, or nil when the Manager
// middleware did not run.
func FromContext(ctx context.Context) *Session {
	s, _ := ctx.Value(contextKey{}).(*Session)
	return s
}
