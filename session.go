package clausedesk

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/clausedesk/clausedesk-go/internal/clock"
)

// refreshTimeout bounds a single background baseline reload.
const refreshTimeout = 30 * time.Second

// SessionConfig configures a Session.
type SessionConfig struct {
	Realtime RealtimeConfig

	// RefreshInterval reloads the baseline periodically. Zero disables.
	RefreshInterval time.Duration

	// ClearSubscriptionsOnClose drops every Dispatcher subscription,
	// including the application's own, when the session closes.
	ClearSubscriptionsOnClose bool
}

// Session wires one Manager, Dispatcher, Outbound and Store together for
// a logged-in user. Create it at login, Start it once and Close it at
// logout.
type Session struct {
	Dispatcher *Dispatcher
	Manager    *Manager
	Outbound   *Outbound
	Store      *Store

	cfg    SessionConfig
	clock  clock.Clock
	logger zerolog.Logger

	mu        sync.Mutex
	started   bool
	closed    bool
	connected bool
	// baselineMissing is set when the load in Start failed.
	baselineMissing bool
	ctx       context.Context
	cancel    context.CancelFunc
	tokens    []Token
	wg        sync.WaitGroup
}

// NewSession builds the real-time stack for client's origin.
func NewSession(client *Client, cfg SessionConfig) *Session {
	d := NewDispatcher(client.logger)
	m := client.NewManager(d, cfg.Realtime)
	return &Session{
		Dispatcher: d,
		Manager:    m,
		Outbound:   NewOutbound(m),
		Store:      NewStore(client.Notifications(), client.logger),
		cfg:        cfg,
		clock:      m.cfg.Clock,
		logger:     client.logger.With().Str("component", "session").Logger(),
	}
}

// Start attaches the Store, loads the baseline and connects. A failed
// baseline load is logged and does not stop the connection; the next
// reconnect retries it. Start is a no-op on a started session.
func (s *Session) Start(ctx context.Context, identity, credential string) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrSessionClosed
	}
	if s.started {
		s.mu.Unlock()
		return nil
	}
	s.started = true
	s.ctx, s.cancel = context.WithCancel(context.WithoutCancel(ctx))
	s.tokens = append(s.tokens,
		s.Store.Attach(s.Dispatcher),
		On(s.Dispatcher, EventConnectionStatus, s.onStatus),
	)
	s.mu.Unlock()

	if err := s.Store.Refresh(ctx); err != nil {
		s.logger.Warn().Err(err).Msg("initial notification load failed")
		s.mu.Lock()
		s.baselineMissing = true
		s.mu.Unlock()
	}

	if s.cfg.RefreshInterval > 0 {
		s.goBackground(s.refreshLoop)
	}

	return s.Manager.Connect(ctx, identity, credential)
}

// Close disconnects, stops background refreshes and removes the
// session's subscriptions. It is safe to call more than once.
func (s *Session) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	cancel := s.cancel
	tokens := s.tokens
	s.tokens = nil
	s.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	err := s.Manager.Disconnect()
	s.wg.Wait()

	for _, tok := range tokens {
		s.Dispatcher.Unsubscribe(tok)
	}
	if s.cfg.ClearSubscriptionsOnClose {
		s.Dispatcher.Clear()
	}
	s.logger.Info().Msg("session closed")
	return err
}

// onStatus reloads the baseline after every reconnect so pushes missed
// while offline show up, and on the first connect if Start could not
// load it.
func (s *Session) onStatus(p ConnectionStatusPayload) {
	if p.Status != StatusConnected {
		return
	}
	s.mu.Lock()
	first := !s.connected
	s.connected = true
	retry := first && s.baselineMissing
	s.baselineMissing = false
	s.mu.Unlock()

	switch {
	case retry:
		s.logger.Info().Msg("connected, retrying notification load")
	case first:
		return
	default:
		s.logger.Info().Msg("reconnected, reloading notifications")
	}
	s.goBackground(s.refresh)
}

// goBackground runs fn tracked by Close unless the session is closed.
func (s *Session) goBackground(fn func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		fn()
	}()
}

func (s *Session) refreshLoop() {
	ticker := s.clock.NewTicker(s.cfg.RefreshInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.ctx.Done():
			return
		case <-ticker.C:
			s.refresh()
		}
	}
}

func (s *Session) refresh() {
	ctx, cancel := context.WithTimeout(s.ctx, refreshTimeout)
	defer cancel()
	if err := s.Store.Refresh(ctx); err != nil && s.ctx.Err() == nil {
		s.logger.Warn().Err(err).Msg("notification reload failed")
	}
}
