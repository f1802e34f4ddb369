package realtime

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/go-stomp/stomp/v3"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// Transport is the socket plus pub/sub session underneath the client: one
// connection, destination-based subscriptions, fire-and-forget publishes.
// The production implementation speaks STOMP over a WebSocket; tests swap
// in a fake.
type Transport interface {
	Connect(ctx context.Context) error
	Subscribe(destination string, fn func(body []byte)) error
	Send(destination, contentType string, body []byte) error
	Close() error
}

// TransportFactory builds a fresh transport for each (re)connect. onError
// receives asynchronous transport failures (broken socket, errored
// subscription) after Connect has returned.
type TransportFactory func(onError func(error)) Transport

// StompConfig configures the STOMP-over-WebSocket transport.
type StompConfig struct {
	// Endpoint is the raw WebSocket URL, e.g. ws://host/ws/websocket.
	Endpoint string
	// Bearer is sent on the upgrade request and in the CONNECT frame.
	Bearer string

	HeartbeatSend    time.Duration
	HeartbeatReceive time.Duration
	DialTimeout      time.Duration

	Logger *zap.Logger
}

type stompTransport struct {
	cfg     StompConfig
	log     *zap.Logger
	onError func(error)

	mu   sync.Mutex
	ws   *websocket.Conn
	sess *stomp.Conn
	subs []*stomp.Subscription
}

// NewStompTransport returns a Transport that dials cfg.Endpoint and runs a
// STOMP session over it. Reconnecting is the caller's business: when the
// session breaks, onError fires and the transport is dead.
func NewStompTransport(cfg StompConfig, onError func(error)) Transport {
	log := cfg.Logger
	if log == nil {
		log = zap.NewNop()
	}
	if onError == nil {
		onError = func(error) {}
	}
	return &stompTransport{cfg: cfg, log: log, onError: onError}
}

func (t *stompTransport) Connect(ctx context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.sess != nil {
		return nil
	}

	dialer := &websocket.Dialer{HandshakeTimeout: t.cfg.DialTimeout}
	header := http.Header{}
	if t.cfg.Bearer != "" {
		header.Set("Authorization", "Bearer "+t.cfg.Bearer)
	}

	ws, _, err := dialer.DialContext(ctx, t.cfg.Endpoint, header)
	if err != nil {
		return fmt.Errorf("dial %s: %w", t.cfg.Endpoint, err)
	}

	opts := []func(*stomp.Conn) error{
		stomp.ConnOpt.HeartBeat(t.cfg.HeartbeatSend, t.cfg.HeartbeatReceive),
	}
	if t.cfg.Bearer != "" {
		opts = append(opts, stomp.ConnOpt.Header("Authorization", "Bearer "+t.cfg.Bearer))
	}

	sess, err := stomp.Connect(newWSStream(ws), opts...)
	if err != nil {
		_ = ws.Close()
		return fmt.Errorf("stomp connect: %w", err)
	}

	t.ws = ws
	t.sess = sess
	t.log.Debug("realtime transport connected", zap.String("endpoint", t.cfg.Endpoint))
	return nil
}

func (t *stompTransport) Subscribe(destination string, fn func(body []byte)) error {
	t.mu.Lock()
	sess := t.sess
	t.mu.Unlock()
	if sess == nil {
		return ErrNotConnected
	}

	sub, err := sess.Subscribe(destination, stomp.AckAuto)
	if err != nil {
		return fmt.Errorf("subscribe %s: %w", destination, err)
	}

	t.mu.Lock()
	t.subs = append(t.subs, sub)
	t.mu.Unlock()

	go func() {
		for msg := range sub.C {
			if msg.Err != nil {
				t.onError(fmt.Errorf("subscription %s: %w", destination, msg.Err))
				return
			}
			fn(msg.Body)
		}
	}()
	return nil
}

func (t *stompTransport) Send(destination, contentType string, body []byte) error {
	t.mu.Lock()
	sess := t.sess
	t.mu.Unlock()
	if sess == nil {
		return ErrNotConnected
	}
	return sess.Send(destination, contentType, body)
}

func (t *stompTransport) Close() error {
	t.mu.Lock()
	sess, ws := t.sess, t.ws
	t.sess, t.ws, t.subs = nil, nil, nil
	t.mu.Unlock()

	if sess != nil {
		// Disconnect closes the underlying stream; the extra ws.Close is
		// for the case where the graceful frame exchange fails.
		if err := sess.Disconnect(); err != nil && ws != nil {
			return ws.Close()
		}
		return nil
	}
	if ws != nil {
		return ws.Close()
	}
	return nil
}

// wsStream adapts gorilla's message-based connection to the byte stream
// go-stomp reads frames from.
type wsStream struct {
	conn *websocket.Conn
	r    io.Reader
	wmu  sync.Mutex
}

func newWSStream(conn *websocket.Conn) *wsStream {
	return &wsStream{conn: conn}
}

func (s *wsStream) Read(p []byte) (int, error) {
	for {
		if s.r == nil {
			_, r, err := s.conn.NextReader()
			if err != nil {
				return 0, err
			}
			s.r = r
		}
		n, err := s.r.Read(p)
		if err == io.EOF {
			s.r = nil
			if n > 0 {
				return n, nil
			}
			continue
		}
		return n, err
	}
}

func (s *wsStream) Write(p []byte) (int, error) {
	s.wmu.Lock()
	defer s.wmu.Unlock()
	if err := s.conn.WriteMessage(websocket.TextMessage, p); err != nil {
		return 0, err
	}
	return len(p), nil
}

func (s *wsStream) Close() error {
	return s.conn.Close()
}
