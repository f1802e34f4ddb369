// Package rest is the typed client for the backend's JSON API. Every
// request carries the persisted bearer token; every non-2xx response is
// classified into the error taxonomy in errors.go.
package rest

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"

	"go.uber.org/zap"

	"github.com/medilink-health/medilink-cli/internal/config"
	"github.com/medilink-health/medilink-cli/internal/domain"
)

// BearerSource supplies the token per request, so a re-login mid-session
// is picked up without rebuilding the client. Empty string means
// unauthenticated (used by Login itself).
type BearerSource func() string

type Client struct {
	base   string
	httpc  *http.Client
	bearer BearerSource
	log    *zap.Logger
}

func NewClient(cfg *config.Config, bearer BearerSource, log *zap.Logger) *Client {
	if bearer == nil {
		bearer = func() string { return "" }
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Client{
		base:   cfg.APIBaseURL,
		httpc:  &http.Client{Timeout: cfg.DialTimeout},
		bearer: bearer,
		log:    log,
	}
}

// Login exchanges credentials for a bearer token.
func (c *Client) Login(ctx context.Context, email, password string) (string, error) {
	var resp domain.LoginResponse
	err := c.doJSON(ctx, http.MethodPost, "/api/auth/login", nil,
		domain.LoginRequest{Email: email, Password: password}, &resp)
	if err != nil {
		return "", err
	}
	return resp.Token, nil
}

// Conversation fetches the message history between two users.
func (c *Client) Conversation(ctx context.Context, user1ID, user2ID string) ([]domain.ChatMessage, error) {
	q := url.Values{"user1Id": {user1ID}, "user2Id": {user2ID}}
	var msgs []domain.ChatMessage
	if err := c.doJSON(ctx, http.MethodGet, "/api/chat/conversation", q, nil, &msgs); err != nil {
		return nil, err
	}
	return msgs, nil
}

// SendText posts a chat message. The response carries only the
// server-assigned id; callers construct their own message object for
// immediate render.
func (c *Client) SendText(ctx context.Context, msg domain.ChatMessage) (domain.SendResponse, error) {
	var resp domain.SendResponse
	err := c.doJSON(ctx, http.MethodPost, "/api/chat/message", nil, msg, &resp)
	return resp, err
}

// SendImage uploads an already-validated, already-resized attachment.
func (c *Client) SendImage(ctx context.Context, senderID, receiverID, filename string, data []byte) (domain.ChatMessage, error) {
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	_ = w.WriteField("senderId", senderID)
	_ = w.WriteField("receiverId", receiverID)
	part, err := w.CreateFormFile("file", filename)
	if err != nil {
		return domain.ChatMessage{}, err
	}
	if _, err := part.Write(data); err != nil {
		return domain.ChatMessage{}, err
	}
	if err := w.Close(); err != nil {
		return domain.ChatMessage{}, err
	}

	var msg domain.ChatMessage
	err = c.doRaw(ctx, http.MethodPost, "/api/chat/send-with-image", nil, &buf, w.FormDataContentType(), &msg)
	return msg, err
}

// Unread fetches the unread-message count for a user.
func (c *Client) Unread(ctx context.Context, userID string) (int, error) {
	q := url.Values{"userId": {userID}}
	var resp domain.UnreadCount
	if err := c.doJSON(ctx, http.MethodGet, "/api/chat/unread", q, nil, &resp); err != nil {
		return 0, err
	}
	return resp.Count, nil
}

// CreateChatRequest asks a doctor to open a conversation.
func (c *Client) CreateChatRequest(ctx context.Context, doctorID string) (domain.ChatRequest, error) {
	var req domain.ChatRequest
	err := c.doJSON(ctx, http.MethodPost, "/api/chat-requests/"+url.PathEscape(doctorID), nil, nil, &req)
	return req, err
}

// AcceptChatRequest and RejectChatRequest settle a pending request.
func (c *Client) AcceptChatRequest(ctx context.Context, requestID string) error {
	return c.doJSON(ctx, http.MethodPost, "/api/chat-requests/"+url.PathEscape(requestID)+"/accept", nil, nil, nil)
}

func (c *Client) RejectChatRequest(ctx context.Context, requestID string) error {
	return c.doJSON(ctx, http.MethodPost, "/api/chat-requests/"+url.PathEscape(requestID)+"/reject", nil, nil, nil)
}

// CreatePayment opens a payment for a doctor's chat session.
func (c *Client) CreatePayment(ctx context.Context, doctorID string, amount int64) (domain.Payment, error) {
	body := map[string]any{"doctorId": doctorID, "amount": amount}
	var p domain.Payment
	err := c.doJSON(ctx, http.MethodPost, "/api/chat-payments", nil, body, &p)
	return p, err
}

func (c *Client) doJSON(ctx context.Context, method, path string, query url.Values, in, out any) error {
	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		body = bytes.NewReader(data)
	}
	return c.doRaw(ctx, method, path, query, body, "application/json", out)
}

func (c *Client) doRaw(ctx context.Context, method, path string, query url.Values, body io.Reader, contentType string, out any) error {
	u := c.base + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, method, u, body)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", contentType)
	}
	if bearer := c.bearer(); bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}

	resp, err := c.httpc.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("%s %s: read body: %w", method, path, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		err := classify(resp.StatusCode, data)
		c.log.Debug("api request failed",
			zap.String("method", method),
			zap.String("path", path),
			zap.Int("status", resp.StatusCode),
			zap.Error(err))
		return err
	}

	if out == nil || len(data) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("%s %s: decode response: %w", method, path, err)
	}
	return nil
}
