package realtime

import (
	"context"
	"errors"
	"regexp"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/medilink-health/medilink-cli/internal/domain"
)

type fakeTransport struct {
	mu         sync.Mutex
	connects   int
	closed     bool
	subs       map[string]func([]byte)
	sent       [][]byte
	sentDest   []string
	connectErr error
	sendErr    error
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{subs: map[string]func([]byte){}}
}

func (f *fakeTransport) Connect(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.connectErr != nil {
		return f.connectErr
	}
	f.connects++
	return nil
}

func (f *fakeTransport) Subscribe(destination string, fn func(body []byte)) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.subs[destination] = fn
	return nil
}

func (f *fakeTransport) Send(destination, contentType string, body []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.sendErr != nil {
		return f.sendErr
	}
	f.sentDest = append(f.sentDest, destination)
	f.sent = append(f.sent, body)
	return nil
}

func (f *fakeTransport) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

func (f *fakeTransport) deliver(t *testing.T, destination string, body []byte) {
	t.Helper()
	f.mu.Lock()
	fn, ok := f.subs[destination]
	f.mu.Unlock()
	require.True(t, ok, "no subscription for %s", destination)
	fn(body)
}

func (f *fakeTransport) sendCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.sent)
}

func newTestClient() (*Client, *fakeTransport, *int) {
	ft := newFakeTransport()
	constructions := 0
	c := NewClient(zap.NewNop(), func(onError func(error)) Transport {
		constructions++
		return ft
	})
	return c, ft, &constructions
}

func connectTest(t *testing.T, c *Client, identity string) {
	t.Helper()
	require.NoError(t, c.Connect(context.Background(), identity, ConnectOptions{}))
}

func TestConnectSubscribesBothQueues(t *testing.T) {
	c, ft, _ := newTestClient()

	connectedCalls := 0
	err := c.Connect(context.Background(), "patient1", ConnectOptions{
		OnConnected: func() { connectedCalls++ },
	})
	require.NoError(t, err)

	assert.True(t, c.Connected())
	assert.Equal(t, 1, connectedCalls)
	assert.Contains(t, ft.subs, "/user/patient1/queue/messages")
	assert.Contains(t, ft.subs, "/user/patient1/queue/notifications")
}

func TestConnectTwiceConstructsOneTransport(t *testing.T) {
	c, _, constructions := newTestClient()

	connectTest(t, c, "patient1")
	connectTest(t, c, "patient1")

	assert.Equal(t, 1, *constructions)
}

func TestConnectWhileConnectedStillRegistersHandler(t *testing.T) {
	c, ft, _ := newTestClient()
	connectTest(t, c, "patient1")

	var got []domain.ChatMessage
	require.NoError(t, c.Connect(context.Background(), "patient1", ConnectOptions{
		OnMessage: func(m domain.ChatMessage) { got = append(got, m) },
	}))

	ft.deliver(t, "/user/patient1/queue/messages", []byte(`{"content":"hi","senderId":"d1"}`))
	require.Len(t, got, 1)
	assert.Equal(t, "hi", got[0].Content)
}

func TestConnectNewIdentityRecreatesTransport(t *testing.T) {
	ft1, ft2 := newFakeTransport(), newFakeTransport()
	transports := []*fakeTransport{ft1, ft2}
	i := 0
	c := NewClient(zap.NewNop(), func(func(error)) Transport {
		t := transports[i]
		i++
		return t
	})

	connectTest(t, c, "patient1")
	connectTest(t, c, "patient2")

	assert.True(t, ft1.closed)
	assert.Contains(t, ft2.subs, "/user/patient2/queue/messages")
	assert.Equal(t, 2, i)
}

func TestConnectFailureInvokesOnError(t *testing.T) {
	ft := newFakeTransport()
	ft.connectErr = errors.New("dial refused")
	c := NewClient(zap.NewNop(), func(func(error)) Transport { return ft })

	var seen error
	err := c.Connect(context.Background(), "patient1", ConnectOptions{
		OnError: func(e error) { seen = e },
	})
	require.Error(t, err)
	assert.ErrorContains(t, seen, "dial refused")
	assert.False(t, c.Connected())
}

func TestSyntheticIDAssignedOnDispatch(t *testing.T) {
	c, ft, _ := newTestClient()
	connectTest(t, c, "patient1")

	var msgs []domain.ChatMessage
	c.RegisterMessageHandler(func(m domain.ChatMessage) { msgs = append(msgs, m) })

	var notifs []NotificationEvent
	c.RegisterNotificationHandler(func(ev NotificationEvent) { notifs = append(notifs, ev) })

	ft.deliver(t, "/user/patient1/queue/messages", []byte(`{"content":"no id here"}`))
	ft.deliver(t, "/user/patient1/queue/notifications", []byte(`{"type":"NEW_CHAT_REQUEST"}`))

	require.Len(t, msgs, 1)
	assert.Regexp(t, regexp.MustCompile(`^msg-\d+-[a-z0-9]+$`), msgs[0].ID)
	require.Len(t, notifs, 1)
	assert.Regexp(t, regexp.MustCompile(`^notif-\d+-[a-z0-9]+$`), notifs[0].Notification.ID)
}

func TestServerIDPreserved(t *testing.T) {
	c, ft, _ := newTestClient()
	connectTest(t, c, "patient1")

	var msgs []domain.ChatMessage
	c.RegisterMessageHandler(func(m domain.ChatMessage) { msgs = append(msgs, m) })

	ft.deliver(t, "/user/patient1/queue/messages", []byte(`{"id":"srv-9","content":"x"}`))
	require.Len(t, msgs, 1)
	assert.Equal(t, "srv-9", msgs[0].ID)
}

func TestEmptyMessageFramesDropped(t *testing.T) {
	c, ft, _ := newTestClient()
	connectTest(t, c, "patient1")

	calls := 0
	c.RegisterMessageHandler(func(domain.ChatMessage) { calls++ })

	ft.deliver(t, "/user/patient1/queue/messages", []byte(`{"senderId":"d1"}`))
	ft.deliver(t, "/user/patient1/queue/messages", []byte(`not json`))
	ft.deliver(t, "/user/patient1/queue/messages", []byte(`null`))
	assert.Zero(t, calls)

	// image-only messages must still be delivered
	ft.deliver(t, "/user/patient1/queue/messages", []byte(`{"imageUrl":"/img/1.jpg"}`))
	assert.Equal(t, 1, calls)
}

func TestEmptyNotificationFramesDropped(t *testing.T) {
	c, ft, _ := newTestClient()
	connectTest(t, c, "patient1")

	calls := 0
	c.RegisterNotificationHandler(func(NotificationEvent) { calls++ })

	ft.deliver(t, "/user/patient1/queue/notifications", []byte(`null`))
	ft.deliver(t, "/user/patient1/queue/notifications", []byte(``))
	ft.deliver(t, "/user/patient1/queue/notifications", []byte("  null "))
	assert.Zero(t, calls)

	ft.deliver(t, "/user/patient1/queue/notifications", []byte(`{"type":"NEW_CHAT_PAYMENT"}`))
	assert.Equal(t, 1, calls)
}

func TestNotificationsForwardedUnconditionally(t *testing.T) {
	c, ft, _ := newTestClient()
	connectTest(t, c, "patient1")

	var events []NotificationEvent
	c.RegisterNotificationHandler(func(ev NotificationEvent) { events = append(events, ev) })

	raw := []byte(`{"type":"SOMETHING_UNKNOWN","extra":"kept in raw"}`)
	ft.deliver(t, "/user/patient1/queue/notifications", raw)

	require.Len(t, events, 1)
	assert.Equal(t, raw, events[0].Raw)
	assert.False(t, events[0].Notification.Type.Known())
}

func TestHandlersRunInOrderAndSurvivePanics(t *testing.T) {
	c, ft, _ := newTestClient()
	connectTest(t, c, "patient1")

	var order []string
	c.RegisterMessageHandler(func(domain.ChatMessage) {
		order = append(order, "first")
		panic("boom")
	})
	c.RegisterMessageHandler(func(domain.ChatMessage) { order = append(order, "second") })

	ft.deliver(t, "/user/patient1/queue/messages", []byte(`{"content":"x"}`))
	assert.Equal(t, []string{"first", "second"}, order)
}

func TestUnregisterStopsDelivery(t *testing.T) {
	c, ft, _ := newTestClient()
	connectTest(t, c, "patient1")

	calls := 0
	unregister := c.RegisterMessageHandler(func(domain.ChatMessage) { calls++ })

	ft.deliver(t, "/user/patient1/queue/messages", []byte(`{"content":"a"}`))
	unregister()
	unregister() // disposer is idempotent
	ft.deliver(t, "/user/patient1/queue/messages", []byte(`{"content":"b"}`))

	assert.Equal(t, 1, calls)
	assert.Zero(t, c.msgHandlers.len())
}

func TestSendMessageRequiresConnection(t *testing.T) {
	c, ft, _ := newTestClient()

	err := c.SendMessage(domain.ChatMessage{Content: "hello"})
	assert.ErrorIs(t, err, ErrNotConnected)
	assert.Zero(t, ft.sendCount())

	connectTest(t, c, "patient1")
	require.NoError(t, c.SendMessage(domain.ChatMessage{Content: "hello", SenderID: "p1", ReceiverID: "d1"}))
	assert.Equal(t, 1, ft.sendCount())
	assert.Equal(t, []string{"/app/chat.sendMessage"}, ft.sentDest)
	assert.Regexp(t, `"id":"msg-\d+-[a-z0-9]+"`, string(ft.sent[0]))
}

func TestSendMessageKeepsExistingID(t *testing.T) {
	c, ft, _ := newTestClient()
	connectTest(t, c, "patient1")

	require.NoError(t, c.SendMessage(domain.ChatMessage{ID: "msg-1-abc", Content: "x"}))
	assert.Contains(t, string(ft.sent[0]), `"id":"msg-1-abc"`)
}

func TestSendMessagePublishErrorSurfaced(t *testing.T) {
	c, ft, _ := newTestClient()
	connectTest(t, c, "patient1")
	ft.sendErr = errors.New("broken pipe")

	err := c.SendMessage(domain.ChatMessage{Content: "x"})
	assert.ErrorContains(t, err, "broken pipe")
}

func TestDisconnectIdempotent(t *testing.T) {
	c, ft, _ := newTestClient()
	connectTest(t, c, "patient1")

	c.Disconnect()
	c.Disconnect()

	assert.False(t, c.Connected())
	assert.True(t, ft.closed)
	assert.ErrorIs(t, c.SendMessage(domain.ChatMessage{Content: "x"}), ErrNotConnected)
}
