package client

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
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

// restStub fakes the support REST API with canned responses.
type restStub struct {
	srv         *httptest.Server
	chatID      string
	history     []chat.Message
	createCalls atomic.Int32
	patches     chan string
	failUploads bool
}

func newRESTStub(t *testing.T) *restStub {
	t.Helper()
	stub := &restStub{chatID: "chat_test", patches: make(chan string, 4)}

	mux := http.NewServeMux()
	mux.HandleFunc("/api/support/chat", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.NotFound(w, r)
			return
		}
		stub.createCalls.Add(1)
		w.WriteHeader(http.StatusCreated)
		json.NewEncoder(w).Encode(chat.SupportChat{ID: stub.chatID, UserID: "user-1", Status: chat.StatusWaiting})
	})
	mux.HandleFunc("/api/support/chat/", func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodGet:
			if stub.history == nil {
				stub.history = []chat.Message{}
			}
			json.NewEncoder(w).Encode(stub.history)
		case http.MethodPatch:
			var body struct {
				Status string `json:"status"`
			}
			json.NewDecoder(r.Body).Decode(&body)
			stub.patches <- body.Status
			json.NewEncoder(w).Encode(chat.SupportChat{ID: stub.chatID, UserID: "user-1", Status: chat.ChatStatus(body.Status)})
		default:
			http.NotFound(w, r)
		}
	})
	mux.HandleFunc("/api/support/upload", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.NotFound(w, r)
			return
		}
		if stub.failUploads {
			http.Error(w, "storage down", http.StatusInternalServerError)
			return
		}
		require.NoError(t, r.ParseMultipartForm(1<<20))
		_, header, err := r.FormFile("file")
		require.NoError(t, err)
		json.NewEncoder(w).Encode(UploadResult{
			FileURL:  "/uploads/stored-" + header.Filename,
			FileName: header.Filename,
			FileSize: header.Size,
		})
	})

	stub.srv = httptest.NewServer(mux)
	t.Cleanup(stub.srv.Close)
	return stub
}

func newTestOrchestrator(t *testing.T, rest *restStub, relay *relayStub) (*Orchestrator, *SessionStore) {
	t.Helper()
	store := NewSessionStore("", testLogger())
	api := NewSupportAPI(rest.srv.URL, 2*time.Second)
	manager := NewConnectionManager(testManagerConfig(relay.url()), testLogger())
	o := NewOrchestrator(api, store, manager, testLogger())
	t.Cleanup(o.Close)
	return o, store
}

func TestBootstrapResolvesChatAndConnects(t *testing.T) {
	rest := newRESTStub(t)
	relay := newRelayStub(t)
	o, store := newTestOrchestrator(t, rest, relay)

	require.NoError(t, o.Bootstrap(context.Background(), "user-1"))
	assert.Equal(t, "chat_test", store.ChatID())

	env := relay.waitEnvelope(t, protocol.KindUserJoined)
	assert.Equal(t, "chat_test", env.Presence.ChatID)
	assert.Equal(t, int32(1), rest.createCalls.Load())
}

func TestBootstrapRunsOncePerUser(t *testing.T) {
	rest := newRESTStub(t)
	relay := newRelayStub(t)
	o, _ := newTestOrchestrator(t, rest, relay)
	ctx := context.Background()

	require.NoError(t, o.Bootstrap(ctx, "user-1"))
	require.NoError(t, o.Bootstrap(ctx, "user-1"))
	require.NoError(t, o.Bootstrap(ctx, "user-1"))

	assert.Equal(t, int32(1), rest.createCalls.Load())
}

func TestBootstrapHydratesHistory(t *testing.T) {
	rest := newRESTStub(t)
	rest.history = []chat.Message{
		{ID: "h1", ChatID: "chat_test", Content: "older", Type: chat.TypeText, Timestamp: 100},
		{ID: "h2", ChatID: "chat_test", Content: "newer", Type: chat.TypeText, Timestamp: 200, IsFromSupport: true},
	}
	relay := newRelayStub(t)
	o, store := newTestOrchestrator(t, rest, relay)

	require.NoError(t, o.Bootstrap(context.Background(), "user-1"))

	messages := store.Messages()
	require.Len(t, messages, 2)
	assert.Equal(t, "h1", messages[0].ID)
	assert.True(t, messages[1].IsFromSupport)
}

func TestSendMessageOptimisticAppend(t *testing.T) {
	rest := newRESTStub(t)
	relay := newRelayStub(t)
	o, store := newTestOrchestrator(t, rest, relay)

	require.NoError(t, o.Bootstrap(context.Background(), "user-1"))
	relay.waitEnvelope(t, protocol.KindUserJoined)

	require.NoError(t, o.SendMessage("  помогите с подпиской  "))

	messages := store.Messages()
	require.Len(t, messages, 1)
	assert.Equal(t, "помогите с подпиской", messages[0].Content)
	assert.Equal(t, "user-1", messages[0].UserID)
	assert.False(t, messages[0].IsFromSupport)

	env := relay.waitEnvelope(t, protocol.KindMessage)
	assert.Equal(t, messages[0].ID, env.Message.ID)
}

func TestSendMessageWhileDisconnected(t *testing.T) {
	rest := newRESTStub(t)
	relay := newRelayStub(t)
	o, store := newTestOrchestrator(t, rest, relay)

	require.NoError(t, o.Bootstrap(context.Background(), "user-1"))
	relay.waitEnvelope(t, protocol.KindUserJoined)
	o.manager.Disconnect()

	err := o.SendMessage("никто не слышит")
	assert.ErrorIs(t, err, ErrNotConnected)
	// The message is still in the local history
	require.Equal(t, 1, store.Len())
	assert.Equal(t, "никто не слышит", store.Messages()[0].Content)
}

func TestSendMessageIgnoresBlank(t *testing.T) {
	rest := newRESTStub(t)
	relay := newRelayStub(t)
	o, store := newTestOrchestrator(t, rest, relay)

	require.NoError(t, o.Bootstrap(context.Background(), "user-1"))
	require.NoError(t, o.SendMessage("   "))
	assert.Equal(t, 0, store.Len())
}

func TestSendFile(t *testing.T) {
	rest := newRESTStub(t)
	relay := newRelayStub(t)
	o, store := newTestOrchestrator(t, rest, relay)
	ctx := context.Background()

	require.NoError(t, o.Bootstrap(ctx, "user-1"))
	relay.waitEnvelope(t, protocol.KindUserJoined)

	path := filepath.Join(t.TempDir(), "receipt.pdf")
	require.NoError(t, os.WriteFile(path, []byte("pdf bytes"), 0o644))

	require.NoError(t, o.SendFile(ctx, path))

	messages := store.Messages()
	require.Len(t, messages, 1)
	assert.Equal(t, chat.TypeFile, messages[0].Type)
	assert.Equal(t, "Файл: receipt.pdf", messages[0].Content)
	assert.Equal(t, "receipt.pdf", messages[0].FileName)
	assert.Equal(t, "/uploads/stored-receipt.pdf", messages[0].FileURL)
}

func TestSendFileFallsBackToLocalURL(t *testing.T) {
	rest := newRESTStub(t)
	rest.failUploads = true
	relay := newRelayStub(t)
	o, store := newTestOrchestrator(t, rest, relay)
	ctx := context.Background()

	require.NoError(t, o.Bootstrap(ctx, "user-1"))
	relay.waitEnvelope(t, protocol.KindUserJoined)

	path := filepath.Join(t.TempDir(), "receipt.pdf")
	require.NoError(t, os.WriteFile(path, []byte("pdf bytes"), 0o644))

	require.NoError(t, o.SendFile(ctx, path))

	messages := store.Messages()
	require.Len(t, messages, 1)
	assert.True(t, strings.HasPrefix(messages[0].FileURL, "file://"))
	assert.True(t, strings.HasSuffix(messages[0].FileURL, "receipt.pdf"))
}

func TestSendVoiceMessage(t *testing.T) {
	rest := newRESTStub(t)
	relay := newRelayStub(t)
	o, store := newTestOrchestrator(t, rest, relay)
	ctx := context.Background()

	require.NoError(t, o.Bootstrap(ctx, "user-1"))
	relay.waitEnvelope(t, protocol.KindUserJoined)

	path := filepath.Join(t.TempDir(), "note.webm")
	require.NoError(t, os.WriteFile(path, []byte("audio bytes"), 0o644))

	require.NoError(t, o.SendVoiceMessage(ctx, path, 4.2))

	messages := store.Messages()
	require.Len(t, messages, 1)
	assert.Equal(t, chat.TypeVoice, messages[0].Type)
	assert.Equal(t, "Голосовое сообщение", messages[0].Content)
	assert.Equal(t, 4.2, messages[0].VoiceDuration)
}

func TestInboundRelayMessageReachesStore(t *testing.T) {
	rest := newRESTStub(t)
	relay := newRelayStub(t)
	o, store := newTestOrchestrator(t, rest, relay)

	require.NoError(t, o.Bootstrap(context.Background(), "user-1"))
	conn := relay.waitConn(t)
	relay.waitEnvelope(t, protocol.KindUserJoined)

	reply := chat.Message{ID: "s1", ChatID: "chat_test", UserID: "support", Content: "Чем могу помочь?", Type: chat.TypeText, IsFromSupport: true}
	data, err := protocol.NewMessage(reply).Marshal()
	require.NoError(t, err)
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, data))

	require.Eventually(t, func() bool {
		return store.Len() == 1
	}, 2*time.Second, 10*time.Millisecond)
	assert.True(t, store.Messages()[0].IsFromSupport)
}

func TestCloseChatResetsSession(t *testing.T) {
	rest := newRESTStub(t)
	relay := newRelayStub(t)
	o, store := newTestOrchestrator(t, rest, relay)
	ctx := context.Background()

	require.NoError(t, o.Bootstrap(ctx, "user-1"))
	relay.waitEnvelope(t, protocol.KindUserJoined)
	require.NoError(t, o.SendMessage("закройте чат"))

	require.NoError(t, o.CloseChat(ctx))
	assert.Equal(t, "closed", <-rest.patches)
	assert.Equal(t, 0, store.Len())
	assert.Equal(t, "", store.ChatID())

	// A new bootstrap may run after closing
	require.NoError(t, o.Bootstrap(ctx, "user-1"))
	assert.Equal(t, int32(2), rest.createCalls.Load())
}
