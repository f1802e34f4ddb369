package rest

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/medilink-health/medilink-cli/internal/config"
	"github.com/medilink-health/medilink-cli/internal/domain"
)

func testClient(t *testing.T, handler http.Handler) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	cfg := &config.Config{APIBaseURL: srv.URL, DialTimeout: 5 * time.Second}
	return NewClient(cfg, func() string { return "tok-123" }, nil)
}

func TestConversationSendsBearerAndQuery(t *testing.T) {
	c := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/chat/conversation", r.URL.Path)
		assert.Equal(t, "Bearer tok-123", r.Header.Get("Authorization"))
		assert.Equal(t, "p1", r.URL.Query().Get("user1Id"))
		assert.Equal(t, "d1", r.URL.Query().Get("user2Id"))
		_ = json.NewEncoder(w).Encode([]domain.ChatMessage{
			{ID: "m1", Content: "hello", SenderID: "d1", ReceiverID: "p1"},
		})
	}))

	msgs, err := c.Conversation(context.Background(), "p1", "d1")
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Equal(t, "hello", msgs[0].Content)
}

func TestSendTextReturnsServerID(t *testing.T) {
	c := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		require.Equal(t, "/api/chat/message", r.URL.Path)

		var msg domain.ChatMessage
		require.NoError(t, json.NewDecoder(r.Body).Decode(&msg))
		assert.Equal(t, "hi doc", msg.Content)
		_ = json.NewEncoder(w).Encode(domain.SendResponse{ID: "srv-77"})
	}))

	resp, err := c.SendText(context.Background(), domain.ChatMessage{Content: "hi doc"})
	require.NoError(t, err)
	assert.Equal(t, "srv-77", resp.ID)
}

func TestSendImageMultipart(t *testing.T) {
	c := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/api/chat/send-with-image", r.URL.Path)
		require.NoError(t, r.ParseMultipartForm(1<<20))
		assert.Equal(t, "p1", r.FormValue("senderId"))
		assert.Equal(t, "d1", r.FormValue("receiverId"))

		file, header, err := r.FormFile("file")
		require.NoError(t, err)
		defer file.Close()
		assert.Equal(t, "photo.jpg", header.Filename)

		_ = json.NewEncoder(w).Encode(domain.ChatMessage{ID: "m2", ImageURL: "/uploads/photo.jpg"})
	}))

	msg, err := c.SendImage(context.Background(), "p1", "d1", "photo.jpg", []byte{0xff, 0xd8, 0xff})
	require.NoError(t, err)
	assert.Equal(t, "/uploads/photo.jpg", msg.ImageURL)
}

func TestUnread(t *testing.T) {
	c := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/chat/unread", r.URL.Path)
		assert.Equal(t, "p1", r.URL.Query().Get("userId"))
		_ = json.NewEncoder(w).Encode(domain.UnreadCount{UserID: "p1", Count: 4})
	}))

	n, err := c.Unread(context.Background(), "p1")
	require.NoError(t, err)
	assert.Equal(t, 4, n)
}

func TestPaymentMarkerClassification(t *testing.T) {
	c := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"message":"Vui lòng thanh toán trước khi tiếp tục"}`))
	}))

	_, err := c.SendText(context.Background(), domain.ChatMessage{Content: "x"})
	assert.ErrorIs(t, err, ErrPaymentRequired)
	assert.ErrorContains(t, err, "Vui lòng thanh toán")
}

func TestEnglishPaymentMarkerClassification(t *testing.T) {
	c := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusPaymentRequired)
		_, _ = w.Write([]byte(`{"error":"Payment required to continue"}`))
	}))

	_, err := c.SendText(context.Background(), domain.ChatMessage{Content: "x"})
	assert.ErrorIs(t, err, ErrPaymentRequired)
}

func TestUnauthorizedClassification(t *testing.T) {
	c := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte(`{"message":"token expired"}`))
	}))

	_, err := c.Unread(context.Background(), "p1")
	assert.ErrorIs(t, err, ErrUnauthorized)
}

func TestGenericAPIErrorCarriesServerMessage(t *testing.T) {
	c := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte(`{"message":"database unavailable"}`))
	}))

	_, err := c.Unread(context.Background(), "p1")
	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusInternalServerError, apiErr.Status)
	assert.Equal(t, "database unavailable", apiErr.Message)
}

func TestNonJSONErrorBodyFallsBack(t *testing.T) {
	c := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
		_, _ = w.Write([]byte("upstream down"))
	}))

	_, err := c.Unread(context.Background(), "p1")
	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, "upstream down", apiErr.Message)
}

func TestChatRequestLifecycle(t *testing.T) {
	var paths []string
	c := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		paths = append(paths, r.URL.Path)
		if r.URL.Path == "/api/chat-requests/doc-9" {
			_ = json.NewEncoder(w).Encode(domain.ChatRequest{DoctorID: "doc-9", Status: domain.RequestPending})
			return
		}
		w.WriteHeader(http.StatusOK)
	}))

	req, err := c.CreateChatRequest(context.Background(), "doc-9")
	require.NoError(t, err)
	assert.Equal(t, domain.RequestPending, req.Status)

	require.NoError(t, c.AcceptChatRequest(context.Background(), "req-1"))
	require.NoError(t, c.RejectChatRequest(context.Background(), "req-2"))
	assert.Equal(t, []string{
		"/api/chat-requests/doc-9",
		"/api/chat-requests/req-1/accept",
		"/api/chat-requests/req-2/reject",
	}, paths)
}
