package client

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"online-cinema-support/backend/internal/chat"
	"online-cinema-support/backend/internal/protocol"
)

// relayStub is a minimal websocket endpoint that records every parsed
// envelope and hands the raw connection to the test.
type relayStub struct {
	srv       *httptest.Server
	envelopes chan protocol.Envelope
	conns     chan *websocket.Conn
}

func newRelayStub(t *testing.T) *relayStub {
	t.Helper()
	stub := &relayStub{
		envelopes: make(chan protocol.Envelope, 32),
		conns:     make(chan *websocket.Conn, 4),
	}
	upgrader := websocket.Upgrader{CheckOrigin: func(*http.Request) bool { return true }}
	stub.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		stub.conns <- conn
		for {
			_, data, err := conn.ReadMessage()
			if err != nil {
				return
			}
			if env, err := protocol.Parse(data); err == nil {
				stub.envelopes <- env
			}
		}
	}))
	t.Cleanup(stub.srv.Close)
	return stub
}

func (s *relayStub) url() string {
	return "ws" + strings.TrimPrefix(s.srv.URL, "http")
}

func (s *relayStub) waitEnvelope(t *testing.T, kind protocol.Kind) protocol.Envelope {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		select {
		case env := <-s.envelopes:
			if env.Kind == kind {
				return env
			}
		case <-deadline:
			t.Fatalf("timed out waiting for %s envelope", kind)
		}
	}
}

func (s *relayStub) waitConn(t *testing.T) *websocket.Conn {
	t.Helper()
	select {
	case conn := <-s.conns:
		return conn
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for connection")
		return nil
	}
}

func testManagerConfig(url string) ManagerConfig {
	return ManagerConfig{
		URL:                  url,
		HeartbeatInterval:    time.Minute,
		ReconnectBaseDelay:   5 * time.Millisecond,
		ReconnectMaxDelay:    50 * time.Millisecond,
		MaxReconnectAttempts: 5,
		HandshakeTimeout:     2 * time.Second,
		WriteWait:            2 * time.Second,
	}
}

func TestBackoffDelay(t *testing.T) {
	base, max := time.Second, 30*time.Second

	assert.Equal(t, 2*time.Second, BackoffDelay(base, max, 1))
	assert.Equal(t, 4*time.Second, BackoffDelay(base, max, 2))
	assert.Equal(t, 8*time.Second, BackoffDelay(base, max, 3))
	assert.Equal(t, 16*time.Second, BackoffDelay(base, max, 4))
	assert.Equal(t, 30*time.Second, BackoffDelay(base, max, 5))
	assert.Equal(t, 30*time.Second, BackoffDelay(base, max, 20))
}

func TestSendWithoutConnection(t *testing.T) {
	m := NewConnectionManager(testManagerConfig("ws://127.0.0.1:1/ws"), testLogger())

	err := m.Send(protocol.NewMessage(chat.Message{ID: "m1", ChatID: "chat_1"}))
	assert.ErrorIs(t, err, ErrNotConnected)
}

func TestConnectAnnouncesIdentity(t *testing.T) {
	stub := newRelayStub(t)
	m := NewConnectionManager(testManagerConfig(stub.url()), testLogger())
	defer m.Disconnect()

	require.NoError(t, m.Connect("user-1", "chat_1"))
	assert.Equal(t, StatusConnected, m.Status())

	env := stub.waitEnvelope(t, protocol.KindUserJoined)
	require.NotNil(t, env.Presence)
	assert.Equal(t, "user-1", env.Presence.UserID)
	assert.Equal(t, "chat_1", env.Presence.ChatID)
}

func TestConnectIsIdempotent(t *testing.T) {
	stub := newRelayStub(t)
	m := NewConnectionManager(testManagerConfig(stub.url()), testLogger())
	defer m.Disconnect()

	require.NoError(t, m.Connect("user-1", "chat_1"))
	stub.waitConn(t)
	require.NoError(t, m.Connect("user-1", "chat_1"))

	select {
	case <-stub.conns:
		t.Fatal("second Connect for the same identity opened a new socket")
	case <-time.After(100 * time.Millisecond):
	}
}

func TestInboundMessageFanOut(t *testing.T) {
	stub := newRelayStub(t)
	m := NewConnectionManager(testManagerConfig(stub.url()), testLogger())
	defer m.Disconnect()

	first := make(chan chat.Message, 1)
	second := make(chan chat.Message, 1)
	m.OnMessage(func(msg chat.Message) { first <- msg })
	unsubscribe := m.OnMessage(func(msg chat.Message) { second <- msg })

	require.NoError(t, m.Connect("user-1", "chat_1"))
	conn := stub.waitConn(t)

	reply := chat.Message{ID: "s1", ChatID: "chat_1", UserID: "support", Content: "здравствуйте", Type: chat.TypeText, IsFromSupport: true}
	data, err := protocol.NewMessage(reply).Marshal()
	require.NoError(t, err)
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, data))

	select {
	case got := <-first:
		assert.Equal(t, "s1", got.ID)
		assert.True(t, got.IsFromSupport)
	case <-time.After(2 * time.Second):
		t.Fatal("first listener never fired")
	}
	select {
	case <-second:
	case <-time.After(2 * time.Second):
		t.Fatal("second listener never fired")
	}

	// After unsubscribing, only the first listener sees new messages
	unsubscribe()
	reply.ID = "s2"
	data, err = protocol.NewMessage(reply).Marshal()
	require.NoError(t, err)
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, data))

	select {
	case got := <-first:
		assert.Equal(t, "s2", got.ID)
	case <-time.After(2 * time.Second):
		t.Fatal("first listener never saw the second message")
	}
	select {
	case <-second:
		t.Fatal("unsubscribed listener still fired")
	case <-time.After(100 * time.Millisecond):
	}
}

func TestMalformedFrameKeepsConnection(t *testing.T) {
	stub := newRelayStub(t)
	m := NewConnectionManager(testManagerConfig(stub.url()), testLogger())
	defer m.Disconnect()

	received := make(chan chat.Message, 1)
	m.OnMessage(func(msg chat.Message) { received <- msg })

	require.NoError(t, m.Connect("user-1", "chat_1"))
	conn := stub.waitConn(t)

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte("{broken")))

	data, err := protocol.NewMessage(chat.Message{ID: "ok", ChatID: "chat_1", Type: chat.TypeText}).Marshal()
	require.NoError(t, err)
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, data))

	select {
	case got := <-received:
		assert.Equal(t, "ok", got.ID)
	case <-time.After(2 * time.Second):
		t.Fatal("connection did not survive the malformed frame")
	}
}

func TestDisconnectAnnouncesDeparture(t *testing.T) {
	stub := newRelayStub(t)
	m := NewConnectionManager(testManagerConfig(stub.url()), testLogger())

	statuses := make(chan Status, 8)
	m.OnStatusChange(func(st Status) { statuses <- st })

	require.NoError(t, m.Connect("user-1", "chat_1"))
	stub.waitConn(t)
	stub.waitEnvelope(t, protocol.KindUserJoined)

	m.Disconnect()
	env := stub.waitEnvelope(t, protocol.KindUserLeft)
	require.NotNil(t, env.Presence)
	assert.Equal(t, "user-1", env.Presence.UserID)

	var last Status
	for len(statuses) > 0 {
		last = <-statuses
	}
	assert.Equal(t, StatusDisconnected, last)
	assert.Equal(t, StatusDisconnected, m.Status())

	// Disconnect is idempotent
	m.Disconnect()
}

func TestNormalCloseDoesNotReconnect(t *testing.T) {
	stub := newRelayStub(t)
	m := NewConnectionManager(testManagerConfig(stub.url()), testLogger())
	defer m.Disconnect()

	require.NoError(t, m.Connect("user-1", "chat_1"))
	conn := stub.waitConn(t)

	require.NoError(t, conn.WriteMessage(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")))
	conn.Close()

	require.Eventually(t, func() bool {
		return m.Status() == StatusDisconnected
	}, 2*time.Second, 10*time.Millisecond)

	// Backoff is milliseconds here; a redial would land well within this
	select {
	case <-stub.conns:
		t.Fatal("reconnected after a normal close")
	case <-time.After(200 * time.Millisecond):
	}
}

func TestAbnormalCloseReconnects(t *testing.T) {
	stub := newRelayStub(t)
	m := NewConnectionManager(testManagerConfig(stub.url()), testLogger())
	defer m.Disconnect()

	require.NoError(t, m.Connect("user-1", "chat_1"))
	conn := stub.waitConn(t)
	stub.waitEnvelope(t, protocol.KindUserJoined)

	// Drop the TCP connection without a close frame
	conn.Close()

	newConn := stub.waitConn(t)
	require.NotNil(t, newConn)
	require.Eventually(t, func() bool {
		return m.Status() == StatusConnected
	}, 2*time.Second, 10*time.Millisecond)
}

func TestReconnectExhaustionIsTerminal(t *testing.T) {
	var dials atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		dials.Add(1)
		http.Error(w, "no upgrades today", http.StatusBadRequest)
	}))
	t.Cleanup(srv.Close)

	m := NewConnectionManager(testManagerConfig("ws"+strings.TrimPrefix(srv.URL, "http")), testLogger())
	defer m.Disconnect()

	require.Error(t, m.Connect("user-1", "chat_1"))

	// One initial dial plus five scheduled retries, nothing after that
	require.Eventually(t, func() bool {
		return dials.Load() == 6
	}, 2*time.Second, 10*time.Millisecond)

	time.Sleep(300 * time.Millisecond)
	assert.Equal(t, int32(6), dials.Load())
	assert.Equal(t, StatusDisconnected, m.Status())
}

func TestDialFailureReturnsError(t *testing.T) {
	cfg := testManagerConfig("ws://127.0.0.1:1/ws")
	cfg.MaxReconnectAttempts = 0
	m := NewConnectionManager(cfg, testLogger())
	defer m.Disconnect()

	err := m.Connect("user-1", "chat_1")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "dial support relay")
}
