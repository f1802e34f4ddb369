package rest

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/tidwall/gjson"
)

// Sentinel errors for the failure modes callers branch on. Classification
// happens here, once, at the RPC boundary; the session controller only ever
// checks errors.Is and never inspects message text.
var (
	// ErrPaymentRequired means the backend refused the action until the
	// conversation is paid for.
	ErrPaymentRequired = errors.New("payment required")
	ErrUnauthorized    = errors.New("unauthorized")
)

// APIError is any other non-2xx response, with the human-readable message
// pulled from the server's JSON error body when one exists.
type APIError struct {
	Status  int
	Message string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api error (status %d): %s", e.Status, e.Message)
}

// paymentMarkers are the strings the backend embeds in payment-refusal
// bodies. It reports expiry in Vietnamese or English depending on locale.
var paymentMarkers = []string{
	"Vui lòng thanh toán",
	"Payment required",
	"hết hạn",
}

func classify(status int, body []byte) error {
	msg := gjson.GetBytes(body, "message").String()
	if msg == "" {
		msg = gjson.GetBytes(body, "error").String()
	}
	if msg == "" {
		msg = strings.TrimSpace(string(body))
	}
	if msg == "" {
		msg = http.StatusText(status)
	}

	for _, marker := range paymentMarkers {
		if strings.Contains(msg, marker) || strings.Contains(string(body), marker) {
			return fmt.Errorf("%s: %w", msg, ErrPaymentRequired)
		}
	}

	switch status {
	case http.StatusPaymentRequired:
		return fmt.Errorf("%s: %w", msg, ErrPaymentRequired)
	case http.StatusUnauthorized, http.StatusForbidden:
		return fmt.Errorf("%s: %w", msg, ErrUnauthorized)
	}
	return &APIError{Status: status, Message: msg}
}
