// Package realtime is the client side of the backend's STOMP-over-SockJS
// endpoint: one connection per identity, per-user message and notification
// queues in, a single publish destination out.
package realtime

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/medilink-health/medilink-cli/internal/config"
	"github.com/medilink-health/medilink-cli/internal/domain"
)

// ErrNotConnected is returned for operations that need a live session.
var ErrNotConnected = errors.New("realtime: not connected")

const sendDestination = "/app/chat.sendMessage"

func messageQueue(identity string) string {
	return "/user/" + identity + "/queue/messages"
}

func notificationQueue(identity string) string {
	return "/user/" + identity + "/queue/notifications"
}

// MessageHandler receives inbound chat messages. The message always has a
// non-empty ID; payloads with neither content nor an image URL never reach
// handlers.
type MessageHandler func(msg domain.ChatMessage)

// NotificationEvent carries both the raw frame body and the parsed
// notification, in case a handler wants fields the struct does not model.
type NotificationEvent struct {
	Raw          []byte
	Notification domain.Notification
}

// NotificationHandler receives inbound notifications unconditionally.
type NotificationHandler func(ev NotificationEvent)

// ConnectOptions are the optional callbacks for Connect. OnMessage is a
// convenience that registers a message handler for the lifetime of the
// client; notification handlers are always registered explicitly.
type ConnectOptions struct {
	OnConnected func()
	OnMessage   MessageHandler
	OnError     func(error)
}

// Client owns one realtime connection, keyed by the identity it was
// connected with. It is an explicit object: each chat surface creates and
// owns its own, and tears it down on unmount.
type Client struct {
	log     *zap.Logger
	factory TransportFactory

	mu        sync.Mutex
	transport Transport
	identity  string
	connected bool

	msgHandlers   handlerList[domain.ChatMessage]
	notifHandlers handlerList[NotificationEvent]
}

// NewClient builds a client over the given transport factory.
func NewClient(log *zap.Logger, factory TransportFactory) *Client {
	if log == nil {
		log = zap.NewNop()
	}
	return &Client{log: log, factory: factory}
}

// NewStompClient wires a client to the configured backend endpoint.
func NewStompClient(cfg *config.Config, bearer string, log *zap.Logger) *Client {
	factory := func(onError func(error)) Transport {
		return NewStompTransport(StompConfig{
			Endpoint:         cfg.WSEndpoint(),
			Bearer:           bearer,
			HeartbeatSend:    cfg.HeartbeatSend,
			HeartbeatReceive: cfg.HeartbeatReceive,
			DialTimeout:      cfg.DialTimeout,
			Logger:           log,
		}, onError)
	}
	return NewClient(log, factory)
}

// Connect opens the transport and subscribes the two per-identity queues.
// Calling it again while connected with the same identity only registers
// opts.OnMessage; nothing is redialed or resubscribed. Connecting as a
// different identity tears the old session down first. OnConnected fires
// once the subscriptions have been issued, not once traffic flows.
func (c *Client) Connect(ctx context.Context, identity string, opts ConnectOptions) error {
	if opts.OnMessage != nil {
		// Lifetime-of-the-client registration; surfaces needing teardown
		// use RegisterMessageHandler directly.
		c.msgHandlers.add(opts.OnMessage)
	}

	c.mu.Lock()
	if c.connected && c.identity == identity {
		c.mu.Unlock()
		return nil
	}
	if c.connected {
		c.teardownLocked()
	}

	onError := func(err error) {
		c.log.Warn("realtime transport error", zap.Error(err))
		if opts.OnError != nil {
			opts.OnError(err)
		}
	}

	t := c.factory(onError)
	if err := t.Connect(ctx); err != nil {
		c.mu.Unlock()
		onError(err)
		return err
	}
	if err := t.Subscribe(messageQueue(identity), c.dispatchMessage); err != nil {
		_ = t.Close()
		c.mu.Unlock()
		onError(err)
		return err
	}
	if err := t.Subscribe(notificationQueue(identity), c.dispatchNotification); err != nil {
		_ = t.Close()
		c.mu.Unlock()
		onError(err)
		return err
	}

	c.transport = t
	c.identity = identity
	c.connected = true
	c.mu.Unlock()

	c.log.Info("realtime connected", zap.String("identity", identity))
	if opts.OnConnected != nil {
		opts.OnConnected()
	}
	return nil
}

// Disconnect tears the session down. Safe to call repeatedly.
func (c *Client) Disconnect() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.teardownLocked()
}

func (c *Client) teardownLocked() {
	if c.transport != nil {
		if err := c.transport.Close(); err != nil {
			c.log.Warn("realtime close", zap.Error(err))
		}
	}
	c.transport = nil
	c.identity = ""
	c.connected = false
}

// Connected reports whether a session is live.
func (c *Client) Connected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connected
}

// SendMessage publishes a chat message, assigning a synthetic id when the
// caller did not set one. It fails without publishing when disconnected.
func (c *Client) SendMessage(msg domain.ChatMessage) error {
	c.mu.Lock()
	t, ok := c.transport, c.connected
	c.mu.Unlock()
	if !ok || t == nil {
		return ErrNotConnected
	}

	if msg.ID == "" {
		msg.ID = syntheticID("msg")
	}
	body, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("encode message: %w", err)
	}
	if err := t.Send(sendDestination, "application/json", body); err != nil {
		c.log.Error("publish failed", zap.String("id", msg.ID), zap.Error(err))
		return fmt.Errorf("publish: %w", err)
	}
	return nil
}

// RegisterMessageHandler appends a handler and returns its disposer.
func (c *Client) RegisterMessageHandler(fn MessageHandler) (unregister func()) {
	return c.msgHandlers.add(fn)
}

// RegisterNotificationHandler appends a handler and returns its disposer.
func (c *Client) RegisterNotificationHandler(fn NotificationHandler) (unregister func()) {
	return c.notifHandlers.add(fn)
}

// emptyBody reports whether a frame body carries no payload at all: JSON
// null decodes without error into a zero struct, so it has to be caught
// before unmarshalling.
func emptyBody(body []byte) bool {
	t := bytes.TrimSpace(body)
	return len(t) == 0 || bytes.Equal(t, []byte("null"))
}

func (c *Client) dispatchMessage(body []byte) {
	if emptyBody(body) {
		c.log.Debug("drop empty message frame")
		return
	}
	var msg domain.ChatMessage
	if err := json.Unmarshal(body, &msg); err != nil {
		c.log.Debug("drop undecodable message frame", zap.Error(err))
		return
	}
	if msg.ID == "" {
		msg.ID = syntheticID("msg")
	}
	if !msg.IsChat() {
		return
	}
	for _, fn := range c.msgHandlers.snapshot() {
		c.invoke("messages", func() { fn(msg) })
	}
}

func (c *Client) dispatchNotification(body []byte) {
	if emptyBody(body) {
		c.log.Debug("drop empty notification frame")
		return
	}
	var n domain.Notification
	if err := json.Unmarshal(body, &n); err != nil {
		c.log.Debug("drop undecodable notification frame", zap.Error(err))
		return
	}
	if n.ID == "" {
		n.ID = syntheticID("notif")
	}
	ev := NotificationEvent{Raw: body, Notification: n}
	for _, fn := range c.notifHandlers.snapshot() {
		c.invoke("notifications", func() { fn(ev) })
	}
}

// invoke runs one handler under recover so a panicking handler cannot
// block the rest of the registration order.
func (c *Client) invoke(queue string, fn func()) {
	defer func() {
		if r := recover(); r != nil {
			c.log.Warn("handler panicked", zap.String("queue", queue), zap.Any("panic", r))
		}
	}()
	fn()
}
