package clausedesk

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/clausedesk/clausedesk-go/internal/clock"
)

// ============================================================================
// Configuration
// ============================================================================

// RealtimeConfig configures a Manager. Zero values take the defaults noted
// on each field.
type RealtimeConfig struct {
	// URL is the socket endpoint, normally Client.WebSocketURL().
	URL string

	// Dialer opens sockets. Default: &WebSocketDialer{}.
	Dialer Dialer

	// MaxReconnectAttempts bounds automatic reconnects after a drop.
	// Default 5; negative disables automatic reconnects.
	MaxReconnectAttempts int

	// Reconnect delay is ReconnectBaseDelay * min(ReconnectGrowth^attempt,
	// ReconnectCapMultiplier). Defaults: 1s, 2, 30.
	ReconnectBaseDelay     time.Duration
	ReconnectGrowth        float64
	ReconnectCapMultiplier float64

	// AuthTimeout closes a socket whose handshake is not acknowledged in
	// time. Default 10s; negative disables.
	AuthTimeout time.Duration

	// WriteTimeout bounds each frame write. Default 5s.
	WriteTimeout time.Duration

	Clock  clock.Clock
	Logger *zerolog.Logger
}

func (c *RealtimeConfig) defaults() {
	if c.Dialer == nil {
		c.Dialer = &WebSocketDialer{}
	}
	if c.MaxReconnectAttempts == 0 {
		c.MaxReconnectAttempts = 5
	}
	if c.ReconnectBaseDelay <= 0 {
		c.ReconnectBaseDelay = 1 * time.Second
	}
	if c.ReconnectGrowth < 1 {
		c.ReconnectGrowth = 2
	}
	if c.ReconnectCapMultiplier < 1 {
		c.ReconnectCapMultiplier = 30
	}
	if c.AuthTimeout == 0 {
		c.AuthTimeout = 10 * time.Second
	}
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = 5 * time.Second
	}
	if c.Clock == nil {
		c.Clock = clock.Real()
	}
	if c.Logger == nil {
		nop := zerolog.Nop()
		c.Logger = &nop
	}
}

// ConnState represents the connection state.
type ConnState string

const (
	StateIdle           ConnState = "idle"
	StateConnecting     ConnState = "connecting"
	StateOpen           ConnState = "open"
	StateAuthenticating ConnState = "authenticating"
	StateAuthenticated  ConnState = "authenticated"
	StateClosing        ConnState = "closing"
	StateClosed         ConnState = "closed"
)

var errAuthTimeout = errors.New("authentication timed out")

// ============================================================================
// Manager
// ============================================================================

// Manager owns at most one live socket. It authenticates every new socket,
// reconnects with bounded exponential backoff after drops, and reports
// lifecycle changes as connection_status events on its Dispatcher. All
// inbound frames are decoded and dispatched from the read goroutine.
type Manager struct {
	cfg        RealtimeConfig
	dispatcher *Dispatcher
	policy     backoff
	logger     zerolog.Logger

	mu         sync.Mutex
	state      ConnState
	attempt    int
	lastErr    error
	identity   string
	credential string
	baseCtx    context.Context
	conn       Conn
	// gen is bumped whenever the current attempt is superseded; goroutines
	// and timers holding an older value become no-ops.
	gen       uint64
	cancel    context.CancelFunc
	retry     *clock.Timer
	authTimer *clock.Timer
}

// NewManager creates an idle Manager that reports to d.
func NewManager(d *Dispatcher, cfg RealtimeConfig) *Manager {
	cfg.defaults()
	return &Manager{
		cfg:        cfg,
		dispatcher: d,
		policy:     newBackoff(&cfg),
		logger:     cfg.Logger.With().Str("component", "connection").Logger(),
		state:      StateIdle,
		baseCtx:    context.Background(),
	}
}

// State returns the current connection state.
func (m *Manager) State() ConnState {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Attempt returns the number of reconnects scheduled since the last
// successful authentication.
func (m *Manager) Attempt() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.attempt
}

// LastError returns the error that closed the most recent socket.
func (m *Manager) LastError() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lastErr
}

// Connect starts connecting and returns immediately; progress is reported
// through connection_status events. It is a no-op while a connection is
// being established or is live. A pending reconnect is replaced by an
// immediate attempt and the attempt counter restarts at zero.
//
// ctx supplies values for the dial; the connection outlives it and ends
// only through Disconnect or a terminal failure.
func (m *Manager) Connect(ctx context.Context, identity, credential string) error {
	if identity == "" || credential == "" {
		return ErrMissingCredential
	}

	m.mu.Lock()
	switch m.state {
	case StateConnecting, StateOpen, StateAuthenticating, StateAuthenticated:
		m.mu.Unlock()
		return nil
	}
	if m.retry != nil {
		m.retry.Stop()
		m.retry = nil
	}
	m.identity, m.credential = identity, credential
	m.attempt = 0
	m.baseCtx = context.WithoutCancel(ctx)
	gen, runCtx := m.beginAttemptLocked()
	m.mu.Unlock()

	m.logger.Info().Str("url", m.cfg.URL).Msg("connecting")
	go m.run(runCtx, gen)
	return nil
}

// Disconnect cancels any pending reconnect, closes the socket and leaves
// the Manager closed until the next Connect.
func (m *Manager) Disconnect() error {
	m.mu.Lock()
	prev := m.state
	m.gen++
	if m.retry != nil {
		m.retry.Stop()
		m.retry = nil
	}
	m.stopAuthTimerLocked()
	if m.cancel != nil {
		m.cancel()
		m.cancel = nil
	}
	conn := m.conn
	m.conn = nil
	m.attempt = 0

	live := prev == StateConnecting || prev == StateOpen ||
		prev == StateAuthenticating || prev == StateAuthenticated
	if !live {
		m.state = StateClosed
		m.mu.Unlock()
		return nil
	}
	m.state = StateClosing
	m.mu.Unlock()

	var err error
	if conn != nil {
		err = conn.Close("client disconnect")
	}

	m.mu.Lock()
	if m.state == StateClosing {
		m.state = StateClosed
	}
	m.mu.Unlock()

	m.logger.Info().Msg("disconnected by client")
	m.dispatcher.emit(EventConnectionStatus, ConnectionStatusPayload{Status: StatusDisconnected})
	return err
}

// Send writes env if the connection is authenticated and returns
// ErrNotConnected otherwise. Nothing is queued or retried.
func (m *Manager) Send(ctx context.Context, env Envelope) error {
	m.mu.Lock()
	conn := m.conn
	ready := m.state == StateAuthenticated && conn != nil
	m.mu.Unlock()

	if !ready {
		return ErrNotConnected
	}
	frame, err := Encode(env)
	if err != nil {
		return err
	}
	if err := m.write(ctx, conn, frame); err != nil {
		return fmt.Errorf("send %s: %w", env.Type, err)
	}
	return nil
}

func (m *Manager) write(ctx context.Context, conn Conn, frame []byte) error {
	ctx, cancel := context.WithTimeout(ctx, m.cfg.WriteTimeout)
	defer cancel()
	return conn.Write(ctx, frame)
}

// beginAttemptLocked supersedes whatever attempt is current.
func (m *Manager) beginAttemptLocked() (uint64, context.Context) {
	m.gen++
	m.state = StateConnecting
	if m.cancel != nil {
		m.cancel()
	}
	runCtx, cancel := context.WithCancel(m.baseCtx)
	m.cancel = cancel
	return m.gen, runCtx
}

func (m *Manager) stopAuthTimerLocked() {
	if m.authTimer != nil {
		m.authTimer.Stop()
		m.authTimer = nil
	}
}

// run dials, authenticates and then reads until the socket ends.
func (m *Manager) run(ctx context.Context, gen uint64) {
	conn, err := m.cfg.Dialer.Dial(ctx, m.cfg.URL)
	if err != nil {
		m.handleClosed(gen, err)
		return
	}

	m.mu.Lock()
	if gen != m.gen {
		m.mu.Unlock()
		conn.Close("superseded")
		return
	}
	m.conn = conn
	m.state = StateOpen
	auth := AuthPayload{UserID: m.identity, Token: m.credential}
	m.mu.Unlock()

	env, err := NewEnvelope(EventAuthentication, auth)
	if err == nil {
		var frame []byte
		if frame, err = Encode(env); err == nil {
			err = m.write(ctx, conn, frame)
		}
	}
	if err != nil {
		m.handleClosed(gen, fmt.Errorf("send authentication: %w", err))
		return
	}

	m.mu.Lock()
	if gen != m.gen {
		m.mu.Unlock()
		return
	}
	m.state = StateAuthenticating
	if m.cfg.AuthTimeout > 0 {
		m.authTimer = m.cfg.Clock.AfterFunc(m.cfg.AuthTimeout, func() {
			m.authTimedOut(gen)
		})
	}
	m.mu.Unlock()

	m.readLoop(ctx, gen, conn)
}

func (m *Manager) readLoop(ctx context.Context, gen uint64, conn Conn) {
	for {
		data, err := conn.Read(ctx)
		if err != nil {
			m.handleClosed(gen, err)
			return
		}

		env, err := Decode(data)
		if err != nil {
			m.logger.Warn().Err(err).Msg("drop inbound frame")
			continue
		}
		m.handleFrame(gen, env)
	}
}

func (m *Manager) handleFrame(gen uint64, env Envelope) {
	switch env.Type {
	case EventAuthSuccess:
		m.authenticated(gen)
	case EventAuthError:
		var res AuthResultPayload
		_ = env.Decode(&res)
		m.authFailed(gen, res.Message)
	case EventAuthentication:
		var res AuthResultPayload
		if err := env.Decode(&res); err != nil || !res.Success {
			m.authFailed(gen, res.Message)
		} else {
			m.authenticated(gen)
		}
	case EventConnectionStatus:
		// Generated locally only.
		return
	}
	m.dispatcher.Dispatch(env.Type, env.Data)
}

func (m *Manager) authenticated(gen uint64) {
	m.mu.Lock()
	if gen != m.gen || m.state != StateAuthenticating {
		m.mu.Unlock()
		return
	}
	m.state = StateAuthenticated
	m.attempt = 0
	m.lastErr = nil
	m.stopAuthTimerLocked()
	m.mu.Unlock()

	m.logger.Info().Msg("authenticated")
	m.dispatcher.emit(EventConnectionStatus, ConnectionStatusPayload{Status: StatusConnected})
}

// authFailed closes the socket and reports disconnected then failed.
// It is terminal: no automatic reconnect.
func (m *Manager) authFailed(gen uint64, reason string) {
	if reason == "" {
		reason = "rejected by server"
	}
	err := fmt.Errorf("authentication failed: %s", reason)

	m.mu.Lock()
	if gen != m.gen {
		m.mu.Unlock()
		return
	}
	m.gen++
	m.state = StateClosed
	m.lastErr = err
	m.stopAuthTimerLocked()
	conn := m.conn
	m.conn = nil
	if m.cancel != nil {
		m.cancel()
		m.cancel = nil
	}
	m.mu.Unlock()

	if conn != nil {
		conn.Close("authentication failed")
	}
	m.logger.Error().Err(err).Msg("authentication rejected")
	m.dispatcher.emit(EventConnectionStatus, ConnectionStatusPayload{Status: StatusDisconnected, Error: err.Error()})
	m.dispatcher.emit(EventConnectionStatus, ConnectionStatusPayload{Status: StatusFailed, Error: err.Error()})
}

// handleClosed records a transport failure for attempt gen and schedules
// the next reconnect, or gives up once the policy is exhausted.
func (m *Manager) handleClosed(gen uint64, cause error) {
	m.teardown(gen, "", cause)
}

// authTimedOut fires from the auth timer. A timer that fired while the
// acknowledgement was being processed finds the state moved on and does
// nothing.
func (m *Manager) authTimedOut(gen uint64) {
	m.teardown(gen, StateAuthenticating, errAuthTimeout)
}

// teardown is handleClosed restricted to attempt gen and, when only is
// set, to that state.
func (m *Manager) teardown(gen uint64, only ConnState, cause error) {
	m.mu.Lock()
	if gen != m.gen || (only != "" && m.state != only) {
		m.mu.Unlock()
		return
	}
	m.gen++
	m.state = StateClosed
	m.lastErr = cause
	m.stopAuthTimerLocked()
	if m.cancel != nil {
		m.cancel()
		m.cancel = nil
	}
	conn := m.conn
	m.conn = nil

	attempt := m.attempt
	exhausted := m.policy.exhausted(attempt)
	var delay time.Duration
	if !exhausted {
		delay = m.policy.delay(attempt)
		m.attempt++
		next := m.gen
		m.retry = m.cfg.Clock.AfterFunc(delay, func() { m.reconnect(next) })
	}
	m.mu.Unlock()

	if conn != nil {
		conn.Close("connection lost")
	}

	m.logger.Warn().Err(cause).Int("attempt", attempt).Msg("connection lost")
	m.dispatcher.emit(EventConnectionStatus, ConnectionStatusPayload{
		Status: StatusDisconnected,
		Error:  cause.Error(),
	})

	if exhausted {
		m.logger.Error().Int("attempts", attempt).Msg("giving up reconnecting")
		m.dispatcher.emit(EventConnectionStatus, ConnectionStatusPayload{
			Status:  StatusFailed,
			Attempt: attempt,
			Error:   cause.Error(),
		})
		return
	}
	m.dispatcher.emit(EventConnectionStatus, ConnectionStatusPayload{
		Status:  StatusReconnecting,
		Attempt: attempt + 1,
		DelayMs: delay.Milliseconds(),
	})
}

func (m *Manager) reconnect(gen uint64) {
	m.mu.Lock()
	if gen != m.gen {
		m.mu.Unlock()
		return
	}
	m.retry = nil
	next, runCtx := m.beginAttemptLocked()
	attempt := m.attempt
	m.mu.Unlock()

	m.logger.Info().Int("attempt", attempt).Msg("reconnecting")
	go m.run(runCtx, next)
}
