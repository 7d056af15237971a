package session

// ownerKey records which user signed in on this session.
const ownerKey = "_owner"

// BindUser ties s to userID at login or sign-up.
//
// A session that belonged to a different user is flushed first, so one
// person's basket or pending OAuth handshake never carries over to the next
// person on the same browser. Anonymous state (flash messages) is kept.
// Either way the ID is rotated.
func BindUser(s *Session, userID string) error {
	if owner := Owner(s); owner != "" && owner != userID {
		s.Flush()
	}
	s.Rotate()
	return s.Set(ownerKey, userID)
}

// Owner is the user the session was bound to, or "" for an anonymous one.
func Owner(s *Session) string {
	var id string
	if _, err := s.Get(ownerKey, &id); err != nil {
		return ""
	}
	return id
}
