package domain

import "time"

// ChatMessage is the wire shape shared by the REST history endpoint, the
// realtime message queue and the outbound publish destination. Either
// Content or ImageURL must be set for a payload to count as a chat message.
type ChatMessage struct {
	ID         string    `json:"id"`
	Content    string    `json:"content,omitempty"`
	ImageURL   string    `json:"imageUrl,omitempty"`
	SenderID   string    `json:"senderId"`
	ReceiverID string    `json:"receiverId"`
	Timestamp  time.Time `json:"timestamp"`
	Read       bool      `json:"read"`

	// Expired is only ever set by the server on the first message of a
	// conversation history to signal that the session needs payment. It is
	// mapped onto Session.Status when a conversation loads and has no
	// meaning on individual messages after that.
	Expired bool `json:"expired,omitempty"`
}

// IsChat reports whether the payload carries renderable chat content.
// Image-only messages count; payloads with neither field do not.
func (m ChatMessage) IsChat() bool {
	return m.Content != "" || m.ImageURL != ""
}

// SelfAuthored reports whether the message was sent by the given user.
func (m ChatMessage) SelfAuthored(userID string) bool {
	return m.SenderID == userID
}
