package domain

import (
	"time"

	"github.com/google/uuid"
)

// ChatRequestStatus tracks the lifecycle of a patient-initiated request.
type ChatRequestStatus string

const (
	RequestPending  ChatRequestStatus = "PENDING"
	RequestAccepted ChatRequestStatus = "ACCEPTED"
	RequestRejected ChatRequestStatus = "REJECTED"
)

// ChatRequest is a patient's ask to open a conversation with a doctor.
type ChatRequest struct {
	ID        uuid.UUID         `json:"id"`
	PatientID string            `json:"patientId"`
	DoctorID  string            `json:"doctorId"`
	Status    ChatRequestStatus `json:"status"`
	CreatedAt time.Time         `json:"createdAt"`
}

// Payment is the record returned by the payment creation endpoint.
type Payment struct {
	ID        uuid.UUID `json:"id"`
	DoctorID  string    `json:"doctorId"`
	PatientID string    `json:"patientId"`
	Amount    int64     `json:"amount"`
	Status    string    `json:"status"`
	PayURL    string    `json:"payUrl,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
}

// UnreadCount is the response of the unread fetch endpoint.
type UnreadCount struct {
	UserID string `json:"userId"`
	Count  int    `json:"count"`
}

// LoginRequest and LoginResponse carry the credential exchange.
type LoginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type LoginResponse struct {
	Token string `json:"token"`
}

// SendResponse is all the send endpoint echoes back: the server-assigned
// message id. The client constructs its own message object for rendering.
type SendResponse struct {
	ID string `json:"id"`
}
