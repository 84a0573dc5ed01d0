// Package client implements the browser-side half of the support chat in
// Go: the websocket connection manager, the persisted session store and
// the orchestrator that binds them to the REST bootstrap API.
package client

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"online-cinema-support/backend/internal/chat"
	"online-cinema-support/backend/internal/protocol"
	"online-cinema-support/backend/pkg/config"
	"online-cinema-support/backend/pkg/logger"
)

// Status is the connection manager's externally visible state.
type Status string

const (
	StatusDisconnected Status = "disconnected"
	StatusConnecting   Status = "connecting"
	StatusConnected    Status = "connected"
	StatusError        Status = "error"
)

// ErrNotConnected is returned by Send when no channel is open. Messages
// are never queued; callers surface the failure to the user.
var ErrNotConnected = errors.New("client: not connected to support relay")

// ManagerConfig tunes the connection manager.
type ManagerConfig struct {
	// URL is the relay websocket endpoint, e.g. ws://host:8080/ws/support
	URL                  string
	HeartbeatInterval    time.Duration
	ReconnectBaseDelay   time.Duration
	ReconnectMaxDelay    time.Duration
	MaxReconnectAttempts int
	HandshakeTimeout     time.Duration
	WriteWait            time.Duration
}

// NewManagerConfig returns a manager configuration for the given relay
// URL, seeded from the environment configuration.
func NewManagerConfig(url string) ManagerConfig {
	cfg := config.Get()
	return ManagerConfig{
		URL:                  url,
		HeartbeatInterval:    cfg.Client.HeartbeatInterval,
		ReconnectBaseDelay:   cfg.Client.ReconnectBaseDelay,
		ReconnectMaxDelay:    cfg.Client.ReconnectMaxDelay,
		MaxReconnectAttempts: cfg.Client.MaxReconnectAttempts,
		HandshakeTimeout:     cfg.Client.HandshakeTimeout,
		WriteWait:            10 * time.Second,
	}
}

// BackoffDelay returns the delay before reconnect attempt n (1-indexed):
// min(base * 2^n, max).
func BackoffDelay(base, max time.Duration, attempt int) time.Duration {
	d := base << uint(attempt)
	if d <= 0 || d > max {
		return max
	}
	return d
}

type messageSub struct {
	id int
	fn func(chat.Message)
}

type statusSub struct {
	id int
	fn func(Status)
}

// ConnectionManager owns the single physical connection to the relay:
// lifecycle, heartbeat, reconnection with exponential backoff and
// listener fan-out. One instance serves one chat session; nothing else
// touches the transport.
type ConnectionManager struct {
	cfg ManagerConfig
	log *logger.Logger

	mu             sync.Mutex
	conn           *websocket.Conn
	status         Status
	userID, chatID string
	attempts       int
	gen            int // connection generation; orphans stale read pumps
	closing        bool
	reconnectTimer *time.Timer
	heartbeatStop  chan struct{}

	writeMu sync.Mutex // gorilla conns allow one concurrent writer

	msgSubs    []messageSub
	statusSubs []statusSub
	nextSub    int
}

// NewConnectionManager creates a manager in the disconnected state.
func NewConnectionManager(cfg ManagerConfig, log *logger.Logger) *ConnectionManager {
	return &ConnectionManager{
		cfg:    cfg,
		log:    log.WithComponent("connection-manager"),
		status: StatusDisconnected,
	}
}

// Status returns the current connection status.
func (m *ConnectionManager) Status() Status {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.status
}

// Connect opens the channel for the given identity. It is idempotent: a
// second call for the same (userId, chatId) pair while connected or
// connecting is a no-op. A dial failure is returned to the caller and
// also schedules a reconnect, the same as an abnormal close would.
func (m *ConnectionManager) Connect(userID, chatID string) error {
	m.mu.Lock()
	if (m.status == StatusConnected || m.status == StatusConnecting) &&
		m.userID == userID && m.chatID == chatID {
		m.mu.Unlock()
		return nil
	}
	if m.reconnectTimer != nil {
		m.reconnectTimer.Stop()
		m.reconnectTimer = nil
	}
	// A connect for a different identity replaces the live socket
	old := m.conn
	if old != nil {
		m.conn = nil
		m.gen++
	}
	if m.heartbeatStop != nil {
		close(m.heartbeatStop)
		m.heartbeatStop = nil
	}
	m.userID = userID
	m.chatID = chatID
	m.closing = false
	m.attempts = 0
	m.status = StatusConnecting
	m.mu.Unlock()

	if old != nil {
		old.Close()
	}
	m.notifyStatus(StatusConnecting)
	return m.dial()
}

// dial opens the websocket; the caller must already have transitioned the
// status to connecting.
func (m *ConnectionManager) dial() error {
	dialer := websocket.Dialer{HandshakeTimeout: m.cfg.HandshakeTimeout}
	conn, _, err := dialer.Dial(m.cfg.URL, nil)
	if err != nil {
		m.log.LogError(err, "failed to open support channel", "url", m.cfg.URL)
		m.setStatus(StatusError)
		m.scheduleReconnect()
		return fmt.Errorf("dial support relay: %w", err)
	}

	m.mu.Lock()
	m.conn = conn
	m.gen++
	gen := m.gen
	m.attempts = 0
	if m.heartbeatStop != nil {
		close(m.heartbeatStop)
	}
	hbStop := make(chan struct{})
	m.heartbeatStop = hbStop
	userID, chatID := m.userID, m.chatID
	m.mu.Unlock()

	m.setStatus(StatusConnected)
	m.log.Info("support channel open", "user_id", userID, "chat_id", chatID)

	// Announce identity so the relay can tag this connection
	if err := m.write(conn, protocol.NewUserJoined(userID, chatID)); err != nil {
		m.log.LogError(err, "failed to announce identity")
	}

	go m.readLoop(conn, gen)
	go m.heartbeatLoop(hbStop, userID, chatID)
	return nil
}

// Send transmits one envelope. It fails with ErrNotConnected while the
// channel is not open; nothing is queued.
func (m *ConnectionManager) Send(env protocol.Envelope) error {
	m.mu.Lock()
	if m.status != StatusConnected || m.conn == nil {
		m.mu.Unlock()
		return ErrNotConnected
	}
	conn := m.conn
	m.mu.Unlock()

	return m.write(conn, env)
}

func (m *ConnectionManager) write(conn *websocket.Conn, env protocol.Envelope) error {
	data, err := env.Marshal()
	if err != nil {
		return err
	}

	m.writeMu.Lock()
	defer m.writeMu.Unlock()
	conn.SetWriteDeadline(time.Now().Add(m.cfg.WriteWait))
	if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
		return fmt.Errorf("write %s envelope: %w", env.Kind, err)
	}
	return nil
}

// OnMessage registers a listener for inbound chat messages. Listeners
// run synchronously in registration order; the returned function
// unsubscribes.
func (m *ConnectionManager) OnMessage(fn func(chat.Message)) func() {
	m.mu.Lock()
	id := m.nextSub
	m.nextSub++
	m.msgSubs = append(m.msgSubs, messageSub{id: id, fn: fn})
	m.mu.Unlock()

	return func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		for i, sub := range m.msgSubs {
			if sub.id == id {
				m.msgSubs = append(m.msgSubs[:i], m.msgSubs[i+1:]...)
				return
			}
		}
	}
}

// OnStatusChange registers a listener for status transitions.
func (m *ConnectionManager) OnStatusChange(fn func(Status)) func() {
	m.mu.Lock()
	id := m.nextSub
	m.nextSub++
	m.statusSubs = append(m.statusSubs, statusSub{id: id, fn: fn})
	m.mu.Unlock()

	return func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		for i, sub := range m.statusSubs {
			if sub.id == id {
				m.statusSubs = append(m.statusSubs[:i], m.statusSubs[i+1:]...)
				return
			}
		}
	}
}

// Disconnect announces departure best-effort, closes the channel with a
// normal-closure code and cancels all timers. Safe to call repeatedly.
func (m *ConnectionManager) Disconnect() {
	m.mu.Lock()
	m.closing = true
	if m.reconnectTimer != nil {
		m.reconnectTimer.Stop()
		m.reconnectTimer = nil
	}
	if m.heartbeatStop != nil {
		close(m.heartbeatStop)
		m.heartbeatStop = nil
	}
	conn := m.conn
	m.conn = nil
	m.gen++ // the read pump for this conn reports to nobody now
	userID, chatID := m.userID, m.chatID
	wasConnected := m.status == StatusConnected
	m.mu.Unlock()

	if conn != nil {
		if wasConnected {
			if err := m.write(conn, protocol.NewUserLeft(userID, chatID)); err != nil {
				m.log.Debug("user_left not delivered", "error", err)
			}
		}
		m.writeMu.Lock()
		conn.SetWriteDeadline(time.Now().Add(m.cfg.WriteWait))
		conn.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
		m.writeMu.Unlock()
		conn.Close()
	}

	m.setStatus(StatusDisconnected)
}

func (m *ConnectionManager) readLoop(conn *websocket.Conn, gen int) {
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			m.handleClose(gen, err)
			return
		}

		env, perr := protocol.Parse(data)
		if perr != nil {
			// Malformed frames are dropped; the connection stays open
			m.log.Warn("discarding malformed frame", "error", perr.Error())
			continue
		}

		switch env.Kind {
		case protocol.KindMessage:
			m.notifyMessage(*env.Message)
		case protocol.KindPong:
			// Observed only; liveness comes from transport close events
			m.log.Debug("pong received")
		default:
			m.log.Debug("ignoring envelope", "kind", string(env.Kind))
		}
	}
}

func (m *ConnectionManager) handleClose(gen int, err error) {
	m.mu.Lock()
	if gen != m.gen {
		// A newer connection (or an explicit disconnect) superseded us
		m.mu.Unlock()
		return
	}
	m.conn = nil
	if m.heartbeatStop != nil {
		close(m.heartbeatStop)
		m.heartbeatStop = nil
	}
	closing := m.closing
	m.mu.Unlock()

	normal := closing || websocket.IsCloseError(err, websocket.CloseNormalClosure)
	m.setStatus(StatusDisconnected)

	if normal {
		m.log.Info("support channel closed")
		return
	}

	m.log.Warn("support channel lost", "error", err.Error())
	m.scheduleReconnect()
}

func (m *ConnectionManager) scheduleReconnect() {
	m.mu.Lock()
	if m.closing {
		m.mu.Unlock()
		return
	}
	if m.attempts >= m.cfg.MaxReconnectAttempts {
		m.mu.Unlock()
		m.log.Warn("reconnect attempts exhausted", "attempts", m.cfg.MaxReconnectAttempts)
		// Terminal: the disconnected status already reached the listeners
		m.setStatus(StatusDisconnected)
		return
	}
	m.attempts++
	attempt := m.attempts
	delay := BackoffDelay(m.cfg.ReconnectBaseDelay, m.cfg.ReconnectMaxDelay, attempt)

	m.reconnectTimer = time.AfterFunc(delay, func() {
		m.mu.Lock()
		if m.closing || m.status == StatusConnected {
			m.mu.Unlock()
			return
		}
		m.status = StatusConnecting
		m.mu.Unlock()

		m.notifyStatus(StatusConnecting)
		m.dial()
	})
	m.mu.Unlock()

	m.log.Info("reconnect scheduled", "attempt", attempt, "delay_ms", delay.Milliseconds())
}

func (m *ConnectionManager) setStatus(st Status) {
	m.mu.Lock()
	if m.status == st {
		m.mu.Unlock()
		return
	}
	m.status = st
	m.mu.Unlock()
	m.notifyStatus(st)
}

func (m *ConnectionManager) notifyStatus(st Status) {
	m.mu.Lock()
	subs := make([]statusSub, len(m.statusSubs))
	copy(subs, m.statusSubs)
	m.mu.Unlock()

	for _, sub := range subs {
		sub.fn(st)
	}
}

func (m *ConnectionManager) notifyMessage(msg chat.Message) {
	m.mu.Lock()
	subs := make([]messageSub, len(m.msgSubs))
	copy(subs, m.msgSubs)
	m.mu.Unlock()

	for _, sub := range subs {
		sub.fn(msg)
	}
}

func (m *ConnectionManager) heartbeatLoop(stop chan struct{}, userID, chatID string) {
	ticker := time.NewTicker(m.cfg.HeartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			if err := m.Send(protocol.NewPing(userID, chatID)); err != nil {
				if errors.Is(err, ErrNotConnected) {
					return
				}
				m.log.Warn("heartbeat send failed", "error", err.Error())
			}
		}
	}
}
