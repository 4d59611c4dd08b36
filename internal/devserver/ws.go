package devserver

import (
	"errors"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/clausedesk/clausedesk-go"
)

const writeWait = 5 * time.Second

// peer is one authenticated socket.
type peer struct {
	id     string
	seq    uint64
	userID string
	conn   *websocket.Conn

	// gorilla/websocket allows one concurrent writer.
	writeMu sync.Mutex
}

func (p *peer) send(t clausedesk.EventType, payload any) error {
	env, err := clausedesk.NewEnvelope(t, payload)
	if err != nil {
		return err
	}
	frame, err := clausedesk.Encode(env)
	if err != nil {
		return err
	}
	p.writeMu.Lock()
	defer p.writeMu.Unlock()
	p.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return p.conn.WriteMessage(websocket.TextMessage, frame)
}

func (s *Server) serveWS(c *gin.Context) {
	conn, err := s.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		s.logger.Warn().Err(err).Msg("websocket upgrade failed")
		return
	}

	p := &peer{id: uuid.NewString(), conn: conn}
	log := s.logger.With().Str("conn", p.id).Logger()

	userID, err := s.handshake(p)
	if err != nil {
		log.Info().Err(err).Msg("handshake rejected")
		conn.Close()
		return
	}
	p.userID = userID

	s.mu.Lock()
	s.peerSeq++
	p.seq = s.peerSeq
	s.peers[p.id] = p
	s.mu.Unlock()
	log.Info().Str("user", userID).Msg("socket authenticated")

	defer func() {
		s.mu.Lock()
		delete(s.peers, p.id)
		s.mu.Unlock()
		conn.Close()
		log.Info().Msg("socket closed")
	}()

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return
		}
		env, err := clausedesk.Decode(data)
		if err != nil {
			log.Debug().Err(err).Msg("drop frame")
			continue
		}
		s.relay(p, env)
	}
}

var errBadHandshake = errors.New("expected authentication frame")

// handshake reads the authentication frame and answers it.
func (s *Server) handshake(p *peer) (string, error) {
	p.conn.SetReadDeadline(time.Now().Add(s.authTimeout))
	_, data, err := p.conn.ReadMessage()
	if err != nil {
		return "", err
	}
	p.conn.SetReadDeadline(time.Time{})

	env, err := clausedesk.Decode(data)
	if err != nil || env.Type != clausedesk.EventAuthentication {
		_ = p.send(clausedesk.EventAuthError, clausedesk.AuthResultPayload{Message: errBadHandshake.Error()})
		return "", errBadHandshake
	}
	var auth clausedesk.AuthPayload
	if err := env.Decode(&auth); err != nil {
		_ = p.send(clausedesk.EventAuthError, clausedesk.AuthResultPayload{Message: "malformed authentication"})
		return "", err
	}

	userID, ok := s.userForToken(auth.Token)
	if !ok || userID != auth.UserID {
		_ = p.send(clausedesk.EventAuthError, clausedesk.AuthResultPayload{Message: "invalid credentials"})
		return "", errors.New("invalid credentials")
	}
	if err := p.send(clausedesk.EventAuthSuccess, clausedesk.AuthResultPayload{Success: true, UserID: userID}); err != nil {
		return "", err
	}
	return userID, nil
}

// relay forwards client events. Chat messages are stamped and echoed to
// everyone, sender included; typing and read receipts go to the others.
func (s *Server) relay(from *peer, env clausedesk.Envelope) {
	var (
		payload   any
		includeMe bool
	)
	switch env.Type {
	case clausedesk.EventChatMessage:
		var m clausedesk.ChatMessagePayload
		if env.Decode(&m) != nil || m.RoomID == "" || m.Content == "" {
			return
		}
		m.ID = uuid.NewString()
		m.SenderID = from.userID
		m.CreatedAt = s.now().UTC().Format(time.RFC3339Nano)
		payload, includeMe = m, true
	case clausedesk.EventTyping:
		var t clausedesk.TypingPayload
		if env.Decode(&t) != nil || t.RoomID == "" {
			return
		}
		t.UserID = from.userID
		payload = t
	case clausedesk.EventReadReceipt:
		var r clausedesk.ReadReceiptPayload
		if env.Decode(&r) != nil || r.RoomID == "" {
			return
		}
		r.UserID = from.userID
		payload = r
	default:
		s.logger.Debug().Str("event", string(env.Type)).Msg("ignore client event")
		return
	}

	s.mu.Lock()
	targets := s.peersLocked(func(p *peer) bool { return includeMe || p.id != from.id })
	s.mu.Unlock()
	s.fanOut(targets, env.Type, payload)
}

func (s *Server) fanOut(targets []*peer, t clausedesk.EventType, payload any) {
	for _, p := range targets {
		if err := p.send(t, payload); err != nil {
			s.logger.Warn().Err(err).Str("conn", p.id).Str("event", string(t)).Msg("push failed")
		}
	}
}

// Connections returns the number of authenticated sockets.
func (s *Server) Connections() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.peers)
}

// DropConnections closes every socket without a close handshake, as a
// network failure would.
func (s *Server) DropConnections() {
	s.mu.Lock()
	peers := s.peersLocked(func(*peer) bool { return true })
	s.mu.Unlock()
	for _, p := range peers {
		p.conn.Close()
	}
}
