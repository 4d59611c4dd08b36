// Package devserver is an in-memory ClauseDesk backend for local
// development and end-to-end tests. It serves the notifications REST API
// and the /ws socket, including the authentication handshake and relay
// of chat, typing and read-receipt events between connected clients.
package devserver

import (
	"net/http"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/clausedesk/clausedesk-go"
)

// Config configures a Server.
type Config struct {
	// Tokens maps bearer tokens to user IDs.
	Tokens map[string]string

	// AuthTimeout closes sockets that do not authenticate in time.
	// Default 10s.
	AuthTimeout time.Duration

	Logger zerolog.Logger

	// Now defaults to time.Now.
	Now func() time.Time
}

// Server holds per-user notifications and the live sockets.
type Server struct {
	engine      *gin.Engine
	upgrader    websocket.Upgrader
	logger      zerolog.Logger
	now         func() time.Time
	authTimeout time.Duration

	mu      sync.Mutex
	tokens  map[string]string
	notes   map[string][]clausedesk.Notification // newest first
	nextID  int64
	peers   map[string]*peer
	peerSeq uint64
}

// New builds a Server with its routes registered.
func New(cfg Config) *Server {
	if cfg.AuthTimeout <= 0 {
		cfg.AuthTimeout = 10 * time.Second
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}

	s := &Server{
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		logger:      cfg.Logger.With().Str("component", "devserver").Logger(),
		now:         cfg.Now,
		authTimeout: cfg.AuthTimeout,
		tokens:      make(map[string]string, len(cfg.Tokens)),
		notes:       make(map[string][]clausedesk.Notification),
		peers:       make(map[string]*peer),
	}
	for token, user := range cfg.Tokens {
		s.tokens[token] = user
	}

	engine := gin.New()
	engine.Use(requestLogger(s.logger))
	engine.Use(gin.Recovery())
	s.engine = engine
	s.routes()
	return s
}

// Handler returns the HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.engine
}

func (s *Server) routes() {
	s.engine.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	s.engine.GET("/ws", s.serveWS)

	api := s.engine.Group("/api", s.bearerAuth())
	api.GET("/notifications", s.listNotifications)
	api.PATCH("/notifications/read-all", s.markAllRead)
	api.PATCH("/notifications/:id/read", s.markRead)
	api.POST("/notifications", s.createNotification)
	api.POST("/broadcast", s.broadcast)
}

// AddToken registers a bearer token for userID.
func (s *Server) AddToken(token, userID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tokens[token] = userID
}

func (s *Server) userForToken(token string) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	user, ok := s.tokens[token]
	return user, ok
}

// ============================================================================
// Notifications
// ============================================================================

// NewNotification describes a notification to create.
type NewNotification struct {
	UserID     string                      `json:"userId"`
	Title      string                      `json:"title" binding:"required"`
	Message    string                      `json:"message"`
	Kind       clausedesk.NotificationKind `json:"type"`
	ActionLink string                      `json:"actionLink"`
	Silent     bool                        `json:"silent"`
}

// Notify stores a notification for in.UserID and pushes it to every
// socket that user has open.
func (s *Server) Notify(in NewNotification) clausedesk.Notification {
	if in.Kind == "" {
		in.Kind = clausedesk.KindInfo
	}

	s.mu.Lock()
	s.nextID++
	n := clausedesk.Notification{
		ID:         s.nextID,
		Title:      in.Title,
		Message:    in.Message,
		Kind:       in.Kind,
		CreatedAt:  s.now().UTC(),
		ActionLink: in.ActionLink,
		Silent:     in.Silent,
	}
	stored := n
	stored.Silent = false
	s.notes[in.UserID] = append([]clausedesk.Notification{stored}, s.notes[in.UserID]...)
	targets := s.peersLocked(func(p *peer) bool { return p.userID == in.UserID })
	s.mu.Unlock()

	s.fanOut(targets, clausedesk.EventNotification, n)
	return n
}

// Notifications returns userID's notifications, newest first.
func (s *Server) Notifications(userID string) []clausedesk.Notification {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]clausedesk.Notification(nil), s.notes[userID]...)
}

func (s *Server) listNotifications(c *gin.Context) {
	ns := s.Notifications(c.GetString(userIDKey))
	unread := 0
	for _, n := range ns {
		if !n.Read {
			unread++
		}
	}
	if ns == nil {
		ns = []clausedesk.Notification{}
	}
	c.JSON(http.StatusOK, clausedesk.NotificationList{Notifications: ns, UnreadCount: unread})
}

func (s *Server) markRead(c *gin.Context) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		abortWithError(c, http.StatusBadRequest, "bad_request", "invalid notification id")
		return
	}
	userID := c.GetString(userIDKey)

	s.mu.Lock()
	found := false
	for i := range s.notes[userID] {
		if s.notes[userID][i].ID == id {
			s.notes[userID][i].Read = true
			found = true
			break
		}
	}
	s.mu.Unlock()

	if !found {
		abortWithError(c, http.StatusNotFound, "not_found", "notification not found")
		return
	}
	c.Status(http.StatusNoContent)
}

func (s *Server) markAllRead(c *gin.Context) {
	userID := c.GetString(userIDKey)
	s.mu.Lock()
	for i := range s.notes[userID] {
		s.notes[userID][i].Read = true
	}
	s.mu.Unlock()
	c.Status(http.StatusNoContent)
}

func (s *Server) createNotification(c *gin.Context) {
	var in NewNotification
	if err := c.ShouldBindJSON(&in); err != nil {
		abortWithError(c, http.StatusBadRequest, "bad_request", err.Error())
		return
	}
	if in.UserID == "" {
		in.UserID = c.GetString(userIDKey)
	}
	c.JSON(http.StatusCreated, s.Notify(in))
}

// Broadcast pushes an announcement to every authenticated socket.
func (s *Server) Broadcast(p clausedesk.BroadcastPayload) {
	s.mu.Lock()
	targets := s.peersLocked(func(*peer) bool { return true })
	s.mu.Unlock()
	s.fanOut(targets, clausedesk.EventBroadcast, p)
}

func (s *Server) broadcast(c *gin.Context) {
	var p clausedesk.BroadcastPayload
	if err := c.ShouldBindJSON(&p); err != nil || p.Message == "" {
		abortWithError(c, http.StatusBadRequest, "bad_request", "message is required")
		return
	}
	s.Broadcast(p)
	c.Status(http.StatusAccepted)
}

// peersLocked returns matching peers in connection order.
func (s *Server) peersLocked(match func(*peer) bool) []*peer {
	var out []*peer
	for _, p := range s.peers {
		if match(p) {
			out = append(out, p)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].seq < out[j].seq })
	return out
}
