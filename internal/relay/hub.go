// Package relay implements the always-on server side of the support
// chat: it accepts websocket connections, tags them with the identity
// announced in the first user_joined envelope and pushes scripted
// support replies back on the originating connection.
package relay

import (
	"context"
	"time"

	"online-cinema-support/backend/internal/chat"
	"online-cinema-support/backend/internal/presence"
	"online-cinema-support/backend/pkg/config"
	"online-cinema-support/backend/pkg/logger"
)

// MessageSink persists messages that cross the relay so the REST history
// endpoint can serve them later. A nil sink disables persistence.
type MessageSink interface {
	SaveMessage(ctx context.Context, m chat.Message) error
}

// Config tunes the relay's timing behavior.
type Config struct {
	WelcomeDelay   time.Duration
	ReplyDelayMin  time.Duration
	ReplyDelaySpan time.Duration
	PingInterval   time.Duration
	WriteWait      time.Duration
	PongWait       time.Duration
	MaxMessageSize int64
}

// NewConfigFromEnv builds the relay configuration from the environment.
func NewConfigFromEnv() Config {
	cfg := config.Get()
	return Config{
		WelcomeDelay:   cfg.Relay.WelcomeDelay,
		ReplyDelayMin:  cfg.Relay.ReplyDelayMin,
		ReplyDelaySpan: cfg.Relay.ReplyDelaySpan,
		PingInterval:   cfg.Relay.PingInterval,
		WriteWait:      cfg.Relay.WriteWait,
		PongWait:       cfg.Relay.PongWait,
		MaxMessageSize: cfg.Relay.MaxMessageSize,
	}
}

// Hub owns the active-connection registry. Connections register when the
// websocket opens and unregister on physical close; identity tags are
// mirrored into the presence store as they come and go.
type Hub struct {
	cfg       Config
	conns     map[*Conn]bool
	register  chan *Conn
	unregist  chan *Conn
	responder Responder
	presence  presence.Store
	sink      MessageSink
	metrics   *Metrics
	log       *logger.Logger
}

// NewHub creates a hub with the given collaborators. sink may be nil.
func NewHub(cfg Config, responder Responder, store presence.Store, sink MessageSink, log *logger.Logger) *Hub {
	l := log.WithComponent("relay-hub")
	return &Hub{
		cfg:       cfg,
		conns:     make(map[*Conn]bool),
		register:  make(chan *Conn),
		unregist:  make(chan *Conn),
		responder: responder,
		presence:  store,
		sink:      sink,
		metrics:   NewMetrics(l),
		log:       l,
	}
}

// Run processes connection registration. Call it in its own goroutine.
func (h *Hub) Run() {
	for {
		select {
		case conn := <-h.register:
			h.conns[conn] = true
			h.metrics.connOpened()
			h.log.Info("connection registered", "conn_id", conn.id, "active", len(h.conns))

		case conn := <-h.unregist:
			if _, ok := h.conns[conn]; ok {
				delete(h.conns, conn)
				conn.shutdown()
				h.metrics.connClosed()
				h.dropPresence(conn)
				h.log.Info("connection unregistered", "conn_id", conn.id, "active", len(h.conns))
			}
		}
	}
}

func (h *Hub) dropPresence(conn *Conn) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := h.presence.Leave(ctx, conn.id); err != nil {
		h.log.LogError(err, "failed to drop presence entry", "conn_id", conn.id)
	}
}

func (h *Hub) saveMessage(m chat.Message) {
	if h.sink == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := h.sink.SaveMessage(ctx, m); err != nil {
		h.log.LogError(err, "failed to persist message", "message_id", m.ID, "chat_id", m.ChatID)
	}
}
