package session

import "github.com/medilink-health/medilink-cli/internal/domain"

// EventKind tags controller events consumed by the rendering layer.
type EventKind int

const (
	// EventMessages: the message list changed; re-render.
	EventMessages EventKind = iota
	// EventSession: the session status changed (e.g. became expired).
	EventSession
	// EventToast: a transient user-facing notice.
	EventToast
	// EventNotification: a server push arrived on the notification queue.
	EventNotification
	// EventUnread: the below-the-fold unread counter changed.
	EventUnread
)

// ToastLevel distinguishes success notices from errors in the status line.
type ToastLevel int

const (
	ToastInfo ToastLevel = iota
	ToastSuccess
	ToastError
)

// Event is pushed on the controller's event channel. Fields beyond Kind
// are populated per kind.
type Event struct {
	Kind         EventKind
	Toast        string
	ToastLevel   ToastLevel
	Notification domain.Notification
}
