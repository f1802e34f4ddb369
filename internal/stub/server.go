// Package stub is the in-repo mock backend: the REST surface and realtime
// endpoint the client talks to, held entirely in memory. It exists for
// development and end-to-end tests; it is not the production server.
package stub

import (
	"errors"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	fiberlogger "github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/gofiber/websocket/v2"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/medilink-health/medilink-cli/internal/domain"
)

const paymentRefusal = "Vui lòng thanh toán trước khi tiếp tục"

var jwtSecret = []byte("medilink-stub-secret")

// Server is the in-memory backend state plus the fiber app serving it.
type Server struct {
	log *zap.Logger
	hub *hub

	mu       sync.Mutex
	messages map[string][]domain.ChatMessage
	unread   map[string]int
	requests map[string]domain.ChatRequest
	expired  map[string]bool
	paid     map[string]bool
	// raceLeft counts sends per pair that still fail after a payment, to
	// reproduce the backend's recognition lag for retry testing.
	raceLeft map[string]int

	app *fiber.App
}

func New(log *zap.Logger) *Server {
	if log == nil {
		log = zap.NewNop()
	}
	s := &Server{
		log:      log,
		hub:      newHub(log),
		messages: map[string][]domain.ChatMessage{},
		unread:   map[string]int{},
		requests: map[string]domain.ChatRequest{},
		expired:  map[string]bool{},
		paid:     map[string]bool{},
		raceLeft: map[string]int{},
	}
	s.app = s.buildApp()
	return s
}

// App exposes the fiber app for in-process testing.
func (s *Server) App() *fiber.App { return s.app }

// Listen serves until the listener fails.
func (s *Server) Listen(addr string) error {
	s.log.Info("stub backend listening", zap.String("addr", addr))
	return s.app.Listen(addr)
}

func (s *Server) buildApp() *fiber.App {
	app := fiber.New(fiber.Config{AppName: "MediLink Stub Backend"})

	app.Use(recover.New())
	app.Use(fiberlogger.New(fiberlogger.Config{
		Format: "[${time}] ${status} - ${method} ${path} ${latency}\n",
	}))
	app.Use(cors.New(cors.Config{AllowOrigins: "*"}))

	app.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{"status": "ok"})
	})

	api := app.Group("/api")
	api.Post("/auth/login", s.handleLogin)
	api.Get("/chat/conversation", s.handleConversation)
	api.Post("/chat/message", s.handleSendMessage)
	api.Post("/chat/send-with-image", s.handleSendImage)
	api.Get("/chat/unread", s.handleUnread)
	api.Post("/chat-requests/:doctorId", s.handleCreateRequest)
	api.Post("/chat-requests/:id/accept", s.handleSettleRequest(domain.RequestAccepted))
	api.Post("/chat-requests/:id/reject", s.handleSettleRequest(domain.RequestRejected))
	api.Post("/chat-payments", s.handleCreatePayment)

	// test-only switch: force a conversation into the expired state
	app.Post("/debug/expire", s.handleExpire)

	app.Use("/ws", func(c *fiber.Ctx) error {
		if websocket.IsWebSocketUpgrade(c) {
			return c.Next()
		}
		return fiber.ErrUpgradeRequired
	})
	app.Get("/ws/websocket", websocket.New(s.hub.handleConn))

	return app
}

func pairKey(a, b string) string {
	ids := []string{a, b}
	sort.Strings(ids)
	return ids[0] + "|" + ids[1]
}

// bearerUserID identifies the caller from the Authorization header,
// verifying tokens this stub itself issued. Empty when absent or invalid.
func bearerUserID(c *fiber.Ctx) string {
	raw, ok := strings.CutPrefix(c.Get(fiber.HeaderAuthorization), "Bearer ")
	if !ok {
		return ""
	}
	tok, err := jwt.Parse(raw, func(*jwt.Token) (any, error) { return jwtSecret, nil })
	if err != nil || !tok.Valid {
		return ""
	}
	claims, ok := tok.Claims.(jwt.MapClaims)
	if !ok {
		return ""
	}
	id, _ := claims["userId"].(string)
	return id
}

func (s *Server) handleLogin(c *fiber.Ctx) error {
	var req domain.LoginRequest
	if err := c.BodyParser(&req); err != nil || req.Email == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"message": "email and password required"})
	}

	userID := req.Email
	if at := strings.IndexByte(userID, '@'); at > 0 {
		userID = userID[:at]
	}
	role := "PATIENT"
	if strings.HasPrefix(userID, "d") {
		role = "DOCTOR"
	}

	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub":    userID,
		"userId": userID,
		"role":   role,
		"exp":    time.Now().Add(24 * time.Hour).Unix(),
	})
	signed, err := tok.SignedString(jwtSecret)
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"message": "token signing failed"})
	}
	return c.JSON(domain.LoginResponse{Token: signed})
}

func (s *Server) handleConversation(c *fiber.Ctx) error {
	user1, user2 := c.Query("user1Id"), c.Query("user2Id")
	if user1 == "" || user2 == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"message": "user1Id and user2Id required"})
	}

	key := pairKey(user1, user2)
	s.mu.Lock()
	msgs := append([]domain.ChatMessage(nil), s.messages[key]...)
	expired := s.expired[key]
	s.mu.Unlock()

	// the real backend flags payment expiry on the first history message
	if expired && len(msgs) > 0 {
		msgs[0].Expired = true
	}
	return c.JSON(msgs)
}

// allowSend implements the payment gate, including the recognition lag
// right after a payment: the first raceLeft sends still fail.
func (s *Server) allowSend(key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.expired[key] {
		return nil
	}
	if s.raceLeft[key] > 0 {
		s.raceLeft[key]--
		return errors.New(paymentRefusal)
	}
	if s.paid[key] {
		s.expired[key] = false
		return nil
	}
	return errors.New(paymentRefusal)
}

func (s *Server) handleSendMessage(c *fiber.Ctx) error {
	var msg domain.ChatMessage
	if err := c.BodyParser(&msg); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"message": "invalid message body"})
	}
	if msg.SenderID == "" || msg.ReceiverID == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"message": "senderId and receiverId required"})
	}
	if !msg.IsChat() {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"message": "content or imageUrl required"})
	}

	key := pairKey(msg.SenderID, msg.ReceiverID)
	if err := s.allowSend(key); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"message": err.Error()})
	}

	s.store(key, &msg)
	s.hub.publishMessage(msg)
	return c.JSON(domain.SendResponse{ID: msg.ID})
}

func (s *Server) handleSendImage(c *fiber.Ctx) error {
	senderID := c.FormValue("senderId")
	receiverID := c.FormValue("receiverId")
	file, err := c.FormFile("file")
	if err != nil || senderID == "" || receiverID == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"message": "senderId, receiverId and file required"})
	}

	key := pairKey(senderID, receiverID)
	if err := s.allowSend(key); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"message": err.Error()})
	}

	msg := domain.ChatMessage{
		SenderID:   senderID,
		ReceiverID: receiverID,
		ImageURL:   "/uploads/" + uuid.NewString() + "-" + file.Filename,
	}
	s.store(key, &msg)
	s.hub.publishMessage(msg)
	return c.JSON(msg)
}

func (s *Server) store(key string, msg *domain.ChatMessage) {
	s.mu.Lock()
	defer s.mu.Unlock()
	msg.ID = uuid.NewString()
	msg.Timestamp = time.Now()
	s.messages[key] = append(s.messages[key], *msg)
	s.unread[msg.ReceiverID]++
}

func (s *Server) handleUnread(c *fiber.Ctx) error {
	userID := c.Query("userId")
	if userID == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"message": "userId required"})
	}
	s.mu.Lock()
	count := s.unread[userID]
	s.mu.Unlock()
	return c.JSON(domain.UnreadCount{UserID: userID, Count: count})
}

func (s *Server) handleCreateRequest(c *fiber.Ctx) error {
	doctorID := c.Params("doctorId")
	patientID := bearerUserID(c)
	if patientID == "" {
		patientID = c.Query("patientId", "patient")
	}
	req := domain.ChatRequest{
		ID:        uuid.New(),
		DoctorID:  doctorID,
		PatientID: patientID,
		Status:    domain.RequestPending,
		CreatedAt: time.Now(),
	}
	s.mu.Lock()
	s.requests[req.ID.String()] = req
	s.mu.Unlock()

	s.hub.publishNotification(doctorID, domain.Notification{
		Type:      domain.NotifyChatRequest,
		SenderID:  req.PatientID,
		Content:   "New chat request",
		Timestamp: time.Now(),
	})
	return c.JSON(req)
}

func (s *Server) handleSettleRequest(status domain.ChatRequestStatus) fiber.Handler {
	return func(c *fiber.Ctx) error {
		id := c.Params("id")
		s.mu.Lock()
		req, ok := s.requests[id]
		if ok {
			req.Status = status
			s.requests[id] = req
		}
		s.mu.Unlock()
		if !ok {
			return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"message": "chat request not found"})
		}
		return c.JSON(req)
	}
}

func (s *Server) handleCreatePayment(c *fiber.Ctx) error {
	var body struct {
		DoctorID string `json:"doctorId"`
		Amount   int64  `json:"amount"`
	}
	if err := c.BodyParser(&body); err != nil || body.DoctorID == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"message": "doctorId required"})
	}

	patientID := bearerUserID(c)
	if patientID == "" {
		patientID = c.Query("patientId", "patient")
	}
	key := pairKey(patientID, body.DoctorID)
	s.mu.Lock()
	s.paid[key] = true
	if s.expired[key] {
		// simulate the recognition lag: one more send will still fail
		s.raceLeft[key] = 1
	}
	s.mu.Unlock()

	p := domain.Payment{
		ID:        uuid.New(),
		DoctorID:  body.DoctorID,
		PatientID: patientID,
		Amount:    body.Amount,
		Status:    "PAID",
		CreatedAt: time.Now(),
	}
	s.hub.publishNotification(body.DoctorID, domain.Notification{
		Type:      domain.NotifyChatPayment,
		SenderID:  patientID,
		Content:   "Payment received",
		Timestamp: time.Now(),
	})
	return c.JSON(p)
}

func (s *Server) handleExpire(c *fiber.Ctx) error {
	var body struct {
		User1ID string `json:"user1Id"`
		User2ID string `json:"user2Id"`
	}
	if err := c.BodyParser(&body); err != nil || body.User1ID == "" || body.User2ID == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"message": "user1Id and user2Id required"})
	}
	key := pairKey(body.User1ID, body.User2ID)
	s.mu.Lock()
	s.expired[key] = true
	s.paid[key] = false
	s.raceLeft[key] = 0
	s.mu.Unlock()
	return c.JSON(fiber.Map{"expired": true})
}
