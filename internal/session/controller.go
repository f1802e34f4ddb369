// Package session drives one open conversation: history load, optimistic
// sends with the payment-race retry, expiry state and the viewport/unread
// bookkeeping the chat surface renders from.
package session

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/medilink-health/medilink-cli/internal/domain"
	"github.com/medilink-health/medilink-cli/internal/imaging"
	"github.com/medilink-health/medilink-cli/internal/realtime"
	"github.com/medilink-health/medilink-cli/internal/rest"
)

var (
	// ErrBusy means a send is already in flight; the submit control should
	// have been disabled.
	ErrBusy = errors.New("send already in progress")
	// ErrSessionExpired means the conversation needs payment before
	// further sends.
	ErrSessionExpired = errors.New("session expired, payment required")
	// ErrNotReady means the conversation cannot send yet: history has not
	// loaded, or the chat request is still awaiting acceptance.
	ErrNotReady = errors.New("conversation not ready to send")
)

// API is the slice of the REST client the controller uses.
type API interface {
	Conversation(ctx context.Context, user1ID, user2ID string) ([]domain.ChatMessage, error)
	SendText(ctx context.Context, msg domain.ChatMessage) (domain.SendResponse, error)
	SendImage(ctx context.Context, senderID, receiverID, filename string, data []byte) (domain.ChatMessage, error)
}

// Realtime is the slice of the realtime client the controller uses.
type Realtime interface {
	Connect(ctx context.Context, identity string, opts realtime.ConnectOptions) error
	Disconnect()
	RegisterMessageHandler(fn realtime.MessageHandler) func()
	RegisterNotificationHandler(fn realtime.NotificationHandler) func()
}

// Options configures a controller for one conversation.
type Options struct {
	SelfID        string
	Correspondent domain.Correspondent

	// FromPayment is the navigation hint that the user just completed a
	// payment flow; it arms the single delayed retry on payment refusals.
	FromPayment bool

	RetryDelay    time.Duration
	MaxImageBytes int64
	MaxImageEdge  int
	JPEGQuality   int

	// NearBottomLines is how close (in lines) to the bottom of the pane
	// still counts as "at the bottom" for auto-follow purposes.
	NearBottomLines int

	Logger *zap.Logger
}

// Controller is the per-conversation state machine. All methods are safe
// for concurrent use; blocking calls (Open, SendText, SendImage) are meant
// to run off the render loop.
type Controller struct {
	log  *zap.Logger
	api  API
	rt   Realtime
	opts Options

	ctx    context.Context
	cancel context.CancelFunc

	mu          sync.Mutex
	sess        domain.Session
	messages    []domain.ChatMessage
	seen        map[string]bool
	sending     bool
	nearBottom  bool
	unreadBelow int

	unregister []func()
	events     chan Event
}

func New(api API, rt Realtime, opts Options) *Controller {
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.RetryDelay == 0 {
		opts.RetryDelay = 2 * time.Second
	}
	if opts.NearBottomLines == 0 {
		opts.NearBottomLines = 3
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Controller{
		log:        opts.Logger,
		api:        api,
		rt:         rt,
		opts:       opts,
		ctx:        ctx,
		cancel:     cancel,
		sess:       domain.Session{Correspondent: opts.Correspondent, Status: domain.SessionPending},
		seen:       map[string]bool{},
		nearBottom: true,
		events:     make(chan Event, 64),
	}
}

// Events is the controller-to-surface channel. Events are dropped, not
// blocked on, when the consumer lags; every kind is re-derivable from the
// accessors.
func (c *Controller) Events() <-chan Event { return c.events }

// Open connects the realtime session and loads the conversation history.
func (c *Controller) Open(ctx context.Context) error {
	err := c.rt.Connect(ctx, c.opts.SelfID, realtime.ConnectOptions{
		OnError: func(err error) {
			c.emit(Event{Kind: EventToast, ToastLevel: ToastError, Toast: "connection error: " + err.Error()})
		},
	})
	if err != nil {
		return fmt.Errorf("realtime connect: %w", err)
	}

	c.unregister = append(c.unregister,
		c.rt.RegisterMessageHandler(c.handleInbound),
		c.rt.RegisterNotificationHandler(c.handleNotification),
	)

	if c.opts.Correspondent.Kind == domain.CorrespondentPending {
		// an unaccepted chat request has no history yet; the session
		// stays pending and sends are refused until acceptance
		c.emit(Event{Kind: EventSession})
		return nil
	}

	history, err := c.api.Conversation(ctx, c.opts.SelfID, c.opts.Correspondent.ID)
	if err != nil {
		return fmt.Errorf("load conversation: %w", err)
	}

	c.mu.Lock()
	c.sess.Status = domain.SessionActive
	for _, msg := range history {
		if msg.Expired {
			// the backend flags payment expiry on a history message;
			// fold it into the session and forget the per-message bit
			c.sess.Status = domain.SessionExpired
		}
		msg.Expired = false
		if msg.ID != "" {
			if c.seen[msg.ID] {
				continue
			}
			c.seen[msg.ID] = true
		}
		c.messages = append(c.messages, msg)
	}
	c.mu.Unlock()

	c.emit(Event{Kind: EventMessages})
	c.emit(Event{Kind: EventSession})
	return nil
}

// Close cancels any pending retry, releases the handlers and tears down
// the realtime session. Safe to call more than once.
func (c *Controller) Close() {
	c.cancel()
	for _, un := range c.unregister {
		un()
	}
	c.unregister = nil
	c.rt.Disconnect()
}

// SendText performs the optimistic send. The composer clears before this
// runs; on success the message is synthesized locally from the
// server-assigned id and appended without waiting for the realtime echo.
func (c *Controller) SendText(content string) error {
	if content == "" {
		return nil
	}

	c.mu.Lock()
	if !c.sess.SendAllowed() {
		expired := c.sess.Status == domain.SessionExpired
		c.mu.Unlock()
		if expired {
			return ErrSessionExpired
		}
		return ErrNotReady
	}
	if c.sending {
		c.mu.Unlock()
		return ErrBusy
	}
	c.sending = true
	c.mu.Unlock()
	defer c.setSending(false)

	msg := domain.ChatMessage{
		Content:    content,
		SenderID:   c.opts.SelfID,
		ReceiverID: c.opts.Correspondent.ID,
		Timestamp:  time.Now(),
	}

	resp, err := c.api.SendText(c.ctx, msg)
	if err == nil {
		c.appendLocal(msg, resp.ID)
		return nil
	}
	if !errors.Is(err, rest.ErrPaymentRequired) {
		c.emit(Event{Kind: EventToast, ToastLevel: ToastError, Toast: err.Error()})
		return err
	}

	// Payment refusal. If the user just came back from a payment flow the
	// backend may simply not have recognized the payment yet: hold off,
	// retry the same send once, and only then give up.
	if !c.opts.FromPayment {
		c.markExpired()
		return err
	}

	c.log.Info("payment race suspected, retrying send",
		zap.Duration("delay", c.opts.RetryDelay))

	select {
	case <-c.ctx.Done():
		return c.ctx.Err()
	case <-time.After(c.opts.RetryDelay):
	}

	resp, err = c.api.SendText(c.ctx, msg)
	if err != nil {
		c.markExpired()
		return err
	}
	c.appendLocal(msg, resp.ID)
	c.emit(Event{Kind: EventToast, ToastLevel: ToastSuccess, Toast: "message sent"})
	return nil
}

// SendImage validates and re-encodes the file before any network call;
// validation failures surface as toasts and never reach the backend.
func (c *Controller) SendImage(path string) error {
	c.mu.Lock()
	if !c.sess.SendAllowed() {
		expired := c.sess.Status == domain.SessionExpired
		c.mu.Unlock()
		if expired {
			return ErrSessionExpired
		}
		return ErrNotReady
	}
	if c.sending {
		c.mu.Unlock()
		return ErrBusy
	}
	c.sending = true
	c.mu.Unlock()
	defer c.setSending(false)

	data, err := os.ReadFile(path)
	if err != nil {
		c.emit(Event{Kind: EventToast, ToastLevel: ToastError, Toast: "read image: " + err.Error()})
		return err
	}
	if err := imaging.Validate(data, c.opts.MaxImageBytes); err != nil {
		c.emit(Event{Kind: EventToast, ToastLevel: ToastError, Toast: err.Error()})
		return err
	}
	prepared, err := imaging.Prepare(data, c.opts.MaxImageEdge, c.opts.JPEGQuality)
	if err != nil {
		c.emit(Event{Kind: EventToast, ToastLevel: ToastError, Toast: err.Error()})
		return err
	}

	filename := filepath.Base(path)
	msg, err := c.api.SendImage(c.ctx, c.opts.SelfID, c.opts.Correspondent.ID, filename, prepared)
	if err != nil {
		if errors.Is(err, rest.ErrPaymentRequired) {
			c.markExpired()
		} else {
			c.emit(Event{Kind: EventToast, ToastLevel: ToastError, Toast: err.Error()})
		}
		return err
	}

	if msg.SenderID == "" {
		msg.SenderID = c.opts.SelfID
	}
	c.appendLocal(msg, msg.ID)
	return nil
}

// SetNearBottom records whether the user's viewport is close enough to the
// latest message for auto-follow.
func (c *Controller) SetNearBottom(near bool) {
	c.mu.Lock()
	c.nearBottom = near
	if near && c.unreadBelow != 0 {
		c.unreadBelow = 0
		c.mu.Unlock()
		c.emit(Event{Kind: EventUnread})
		return
	}
	c.mu.Unlock()
}

// JumpToLatest is the "scroll to latest" affordance.
func (c *Controller) JumpToLatest() {
	c.SetNearBottom(true)
}

// Messages returns a copy of the render list.
func (c *Controller) Messages() []domain.ChatMessage {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]domain.ChatMessage, len(c.messages))
	copy(out, c.messages)
	return out
}

func (c *Controller) Status() domain.SessionStatus {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sess.Status
}

// Session returns the conversation entity: who it is with and its state.
func (c *Controller) Session() domain.Session {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sess
}

func (c *Controller) Sending() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sending
}

// UnreadBelow is how many messages arrived while the user was scrolled up.
func (c *Controller) UnreadBelow() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.unreadBelow
}

func (c *Controller) NearBottomLines() int { return c.opts.NearBottomLines }

func (c *Controller) handleInbound(msg domain.ChatMessage) {
	peer := c.sess.Correspondent.ID
	if msg.SenderID != peer && msg.SenderID != c.opts.SelfID {
		return
	}

	c.mu.Lock()
	if msg.ID != "" {
		if c.seen[msg.ID] {
			// server echo of an optimistic send, or a redelivery
			c.mu.Unlock()
			return
		}
		c.seen[msg.ID] = true
	}
	msg.Expired = false
	c.messages = append(c.messages, msg)

	follow := c.nearBottom || msg.SelfAuthored(c.opts.SelfID)
	if !follow {
		c.unreadBelow++
	}
	c.mu.Unlock()

	c.emit(Event{Kind: EventMessages})
	if !follow {
		c.emit(Event{Kind: EventUnread})
	}
}

func (c *Controller) handleNotification(ev realtime.NotificationEvent) {
	c.emit(Event{Kind: EventNotification, Notification: ev.Notification})
}

func (c *Controller) appendLocal(msg domain.ChatMessage, serverID string) {
	if serverID != "" {
		msg.ID = serverID
	}

	c.mu.Lock()
	if msg.ID != "" {
		if c.seen[msg.ID] {
			c.mu.Unlock()
			return
		}
		c.seen[msg.ID] = true
	}
	c.messages = append(c.messages, msg)
	c.mu.Unlock()

	c.emit(Event{Kind: EventMessages})
}

func (c *Controller) markExpired() {
	c.mu.Lock()
	changed := c.sess.Status != domain.SessionExpired
	c.sess.Status = domain.SessionExpired
	c.mu.Unlock()
	if changed {
		c.emit(Event{Kind: EventSession})
	}
}

func (c *Controller) setSending(v bool) {
	c.mu.Lock()
	c.sending = v
	c.mu.Unlock()
}

func (c *Controller) emit(ev Event) {
	select {
	case c.events <- ev:
	default:
		c.log.Debug("event dropped", zap.Int("kind", int(ev.Kind)))
	}
}
