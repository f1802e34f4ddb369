package domain

import "time"

// NotificationKind classifies server-pushed notifications.
type NotificationKind string

const (
	NotifyChatRequest NotificationKind = "NEW_CHAT_REQUEST"
	NotifyChatPayment NotificationKind = "NEW_CHAT_PAYMENT"
)

// Known reports whether the kind is one the client understands. Unknown
// kinds are still delivered to handlers; callers decide what to do.
func (k NotificationKind) Known() bool {
	return k == NotifyChatRequest || k == NotifyChatPayment
}

// Notification is a server-pushed event on the per-user notification queue.
type Notification struct {
	ID        string           `json:"id"`
	Type      NotificationKind `json:"type"`
	SenderID  string           `json:"senderId,omitempty"`
	Content   string           `json:"content,omitempty"`
	Timestamp time.Time        `json:"timestamp"`
}
