package domain

// SessionStatus is the conversation-level payment state. It lives on the
// session, not on messages: the backend happens to flag the first history
// message when payment is due, and that flag is folded into the session
// when the conversation loads.
type SessionStatus string

const (
	SessionPending SessionStatus = "pending"
	SessionActive  SessionStatus = "active"
	SessionExpired SessionStatus = "expired"
)

// Session describes one open conversation between the local user and a
// correspondent.
type Session struct {
	Correspondent Correspondent
	Status        SessionStatus
}

// SendAllowed reports whether the session accepts outbound messages.
func (s Session) SendAllowed() bool {
	return s.Status == SessionActive
}
