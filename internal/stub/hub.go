package stub

import (
	"bytes"
	"encoding/json"
	"io"
	"sync"
	"time"

	"github.com/go-stomp/stomp/v3/frame"
	"github.com/gofiber/websocket/v2"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/medilink-health/medilink-cli/internal/domain"
)

// hub tracks live STOMP sessions and routes published payloads to whoever
// subscribed the matching per-user queue.
type hub struct {
	log *zap.Logger

	mu       sync.Mutex
	sessions map[*stompSession]struct{}
}

func newHub(log *zap.Logger) *hub {
	return &hub{log: log, sessions: map[*stompSession]struct{}{}}
}

func (h *hub) publishMessage(msg domain.ChatMessage) {
	body, err := json.Marshal(msg)
	if err != nil {
		h.log.Warn("encode outbound message", zap.Error(err))
		return
	}
	h.publish("/user/"+msg.ReceiverID+"/queue/messages", body)
}

func (h *hub) publishNotification(userID string, n domain.Notification) {
	n.ID = uuid.NewString()
	body, err := json.Marshal(n)
	if err != nil {
		h.log.Warn("encode outbound notification", zap.Error(err))
		return
	}
	h.publish("/user/"+userID+"/queue/notifications", body)
}

func (h *hub) publish(destination string, body []byte) {
	h.mu.Lock()
	sessions := make([]*stompSession, 0, len(h.sessions))
	for sess := range h.sessions {
		sessions = append(sessions, sess)
	}
	h.mu.Unlock()

	delivered := 0
	for _, sess := range sessions {
		if subID, ok := sess.subscriptionFor(destination); ok {
			sess.sendMessageFrame(destination, subID, body)
			delivered++
		}
	}
	h.log.Debug("published",
		zap.String("destination", destination),
		zap.Int("delivered", delivered))
}

// handleConn runs one STOMP session over an upgraded websocket. Only the
// protocol slice the client uses is implemented: CONNECT, SUBSCRIBE,
// UNSUBSCRIBE, SEND and DISCONNECT.
func (h *hub) handleConn(conn *websocket.Conn) {
	sess := &stompSession{
		hub:  h,
		conn: conn,
		subs: map[string]string{},
		log:  h.log,
	}

	h.mu.Lock()
	h.sessions[sess] = struct{}{}
	h.mu.Unlock()

	defer func() {
		h.mu.Lock()
		delete(h.sessions, sess)
		h.mu.Unlock()
		_ = conn.Close()
	}()

	sess.run()
}

type stompSession struct {
	hub  *hub
	conn *websocket.Conn
	log  *zap.Logger

	wmu sync.Mutex

	smu  sync.Mutex
	subs map[string]string // destination -> subscription id
}

func (s *stompSession) run() {
	reader := frame.NewReader(&wsReadStream{conn: s.conn})

	for {
		f, err := reader.Read()
		if err != nil {
			if err != io.EOF {
				s.log.Debug("stomp read", zap.Error(err))
			}
			return
		}
		if f == nil {
			continue // heartbeat
		}

		switch f.Command {
		case frame.CONNECT, frame.STOMP:
			s.write(frame.New(frame.CONNECTED,
				frame.Version, "1.2",
				frame.HeartBeat, "0,0"))

		case frame.SUBSCRIBE:
			dest := f.Header.Get(frame.Destination)
			id := f.Header.Get(frame.Id)
			s.smu.Lock()
			s.subs[dest] = id
			s.smu.Unlock()
			if receipt := f.Header.Get(frame.Receipt); receipt != "" {
				s.write(frame.New(frame.RECEIPT, frame.ReceiptId, receipt))
			}

		case frame.UNSUBSCRIBE:
			id := f.Header.Get(frame.Id)
			s.smu.Lock()
			for dest, subID := range s.subs {
				if subID == id {
					delete(s.subs, dest)
				}
			}
			s.smu.Unlock()
			if receipt := f.Header.Get(frame.Receipt); receipt != "" {
				s.write(frame.New(frame.RECEIPT, frame.ReceiptId, receipt))
			}

		case frame.SEND:
			s.handleSend(f)

		case frame.DISCONNECT:
			if receipt := f.Header.Get(frame.Receipt); receipt != "" {
				s.write(frame.New(frame.RECEIPT, frame.ReceiptId, receipt))
			}
			return

		default:
			s.log.Debug("ignoring stomp frame", zap.String("command", f.Command))
		}
	}
}

// handleSend accepts publishes to the chat send destination and routes
// them to the receiver's message queue, mirroring the backend's
// @MessageMapping handler.
func (s *stompSession) handleSend(f *frame.Frame) {
	if f.Header.Get(frame.Destination) != "/app/chat.sendMessage" {
		return
	}

	var msg domain.ChatMessage
	if err := json.Unmarshal(f.Body, &msg); err != nil {
		s.log.Debug("drop undecodable publish", zap.Error(err))
		return
	}
	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}
	if msg.Timestamp.IsZero() {
		msg.Timestamp = time.Now()
	}
	s.hub.publishMessage(msg)
}

func (s *stompSession) subscriptionFor(destination string) (string, bool) {
	s.smu.Lock()
	defer s.smu.Unlock()
	id, ok := s.subs[destination]
	return id, ok
}

func (s *stompSession) sendMessageFrame(destination, subID string, body []byte) {
	f := frame.New(frame.MESSAGE,
		frame.Destination, destination,
		frame.Subscription, subID,
		frame.MessageId, uuid.NewString(),
		frame.ContentType, "application/json")
	f.Body = body
	s.write(f)
}

func (s *stompSession) write(f *frame.Frame) {
	var buf bytes.Buffer
	if err := frame.NewWriter(&buf).Write(f); err != nil {
		s.log.Warn("encode stomp frame", zap.Error(err))
		return
	}

	s.wmu.Lock()
	defer s.wmu.Unlock()
	if err := s.conn.WriteMessage(websocket.TextMessage, buf.Bytes()); err != nil {
		s.log.Debug("stomp write", zap.Error(err))
	}
}

// wsReadStream presents the message-based websocket as the byte stream
// the frame reader expects.
type wsReadStream struct {
	conn *websocket.Conn
	r    io.Reader
}

func (s *wsReadStream) Read(p []byte) (int, error) {
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
