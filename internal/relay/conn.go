package relay

import (
	"context"
	"math/rand"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"online-cinema-support/backend/internal/chat"
	"online-cinema-support/backend/internal/presence"
	"online-cinema-support/backend/internal/protocol"
	"online-cinema-support/backend/pkg/logger"
)

// Conn is one client connection. Identity tags are empty until the peer
// announces itself with a user_joined envelope; nothing is validated
// against the storefront's account store (trust on first message).
type Conn struct {
	id   string
	hub  *Hub
	ws   *websocket.Conn
	send chan []byte
	done chan struct{}
	log  *logger.Logger

	mu     sync.Mutex
	userID string
	chatID string
}

func newConn(hub *Hub, ws *websocket.Conn) *Conn {
	id := uuid.New().String()
	return &Conn{
		id:   id,
		hub:  hub,
		ws:   ws,
		send: make(chan []byte, 64),
		done: make(chan struct{}),
		log:  hub.log.WithComponent("relay-conn").With("conn_id", id),
	}
}

// shutdown is called by the hub exactly once, on unregister.
func (c *Conn) shutdown() {
	close(c.done)
}

func (c *Conn) identity() (string, string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.userID, c.chatID
}

func (c *Conn) setIdentity(userID, chatID string) {
	c.mu.Lock()
	c.userID = userID
	c.chatID = chatID
	c.mu.Unlock()
}

func (c *Conn) clearIdentity() {
	c.setIdentity("", "")
}

// readPump consumes frames until the connection dies, then unregisters.
func (c *Conn) readPump() {
	defer func() {
		c.hub.unregist <- c
		c.ws.Close()
	}()

	c.ws.SetReadLimit(c.hub.cfg.MaxMessageSize)
	c.ws.SetReadDeadline(time.Now().Add(c.hub.cfg.PongWait))
	c.ws.SetPongHandler(func(string) error {
		c.ws.SetReadDeadline(time.Now().Add(c.hub.cfg.PongWait))
		return nil
	})

	for {
		_, data, err := c.ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.log.Warn("read error", "error", err.Error())
			}
			return
		}

		env, perr := protocol.Parse(data)
		if perr != nil {
			// Unknown kinds and malformed payloads alike: log, drop,
			// keep the connection
			c.log.Warn("discarding frame", "error", perr.Error())
			continue
		}

		c.hub.metrics.envelopeReceived(string(env.Kind))
		c.handle(env)
	}
}

func (c *Conn) handle(env protocol.Envelope) {
	switch env.Kind {
	case protocol.KindUserJoined:
		c.handleUserJoined(*env.Presence)

	case protocol.KindPing:
		c.sendEnvelope(protocol.NewPong(*env.Presence))

	case protocol.KindMessage:
		c.handleMessage(*env.Message)

	case protocol.KindUserLeft:
		c.log.Info("user left", "user_id", env.Presence.UserID)
		c.dropPresence()
		c.clearIdentity()

	default:
		// typing and file_uploaded are accepted but not routed anywhere
		// in the scripted relay
		c.log.Debug("envelope ignored", "kind", string(env.Kind))
	}
}

func (c *Conn) handleUserJoined(p protocol.Presence) {
	c.setIdentity(p.UserID, p.ChatID)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := c.hub.presence.Join(ctx, c.id, presence.Entry{UserID: p.UserID, ChatID: p.ChatID}); err != nil {
		c.log.LogError(err, "failed to record presence", "user_id", p.UserID)
	}
	c.log.Info("user joined", "user_id", p.UserID, "chat_id", p.ChatID)

	chatID := p.ChatID
	time.AfterFunc(c.hub.cfg.WelcomeDelay, func() {
		welcome := c.hub.responder.Welcome(chatID)
		c.hub.saveMessage(welcome)
		c.deliver(welcome)
	})
}

func (c *Conn) handleMessage(m chat.Message) {
	c.log.Info("message received", "user_id", m.UserID, "message_id", m.ID, "type", string(m.Type))
	c.hub.saveMessage(m)

	delay := c.hub.cfg.ReplyDelayMin
	if span := c.hub.cfg.ReplyDelaySpan; span > 0 {
		delay += time.Duration(rand.Int63n(int64(span)))
	}

	incoming := m
	time.AfterFunc(delay, func() {
		reply := c.hub.responder.Reply(incoming)
		c.hub.saveMessage(reply)
		c.deliver(reply)
		c.hub.metrics.replySent()
	})
}

func (c *Conn) dropPresence() {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := c.hub.presence.Leave(ctx, c.id); err != nil {
		c.log.LogError(err, "failed to drop presence entry")
	}
}

// deliver pushes a support message onto the originating connection.
func (c *Conn) deliver(m chat.Message) {
	c.sendEnvelope(protocol.NewMessage(m))
}

func (c *Conn) sendEnvelope(env protocol.Envelope) {
	data, err := env.Marshal()
	if err != nil {
		c.log.LogError(err, "failed to marshal envelope", "kind", string(env.Kind))
		return
	}
	select {
	case c.send <- data:
	case <-c.done:
		// Connection already unregistered; a scheduled reply outliving
		// its connection is dropped here
	}
}

// writePump writes queued frames and the periodic liveness ping.
// Unresponsive peers are left to the read deadline to clean up.
func (c *Conn) writePump() {
	ticker := time.NewTicker(c.hub.cfg.PingInterval)
	defer func() {
		ticker.Stop()
		c.ws.Close()
	}()

	for {
		select {
		case <-c.done:
			c.ws.SetWriteDeadline(time.Now().Add(c.hub.cfg.WriteWait))
			c.ws.WriteMessage(websocket.CloseMessage, []byte{})
			return

		case data := <-c.send:
			c.ws.SetWriteDeadline(time.Now().Add(c.hub.cfg.WriteWait))
			if err := c.ws.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}

		case <-ticker.C:
			c.ws.SetWriteDeadline(time.Now().Add(c.hub.cfg.WriteWait))
			if err := c.ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
