package api

import (
	"bytes"
	"context"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"online-cinema-support/backend/internal/chat"
	"online-cinema-support/backend/internal/presence"
	"online-cinema-support/backend/internal/repository"
	"online-cinema-support/backend/internal/service"
	"online-cinema-support/backend/pkg/errors"
	"online-cinema-support/backend/pkg/logger"
)

func newTestRouter(t *testing.T) (*gin.Engine, *service.SupportService, presence.Store) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	log := logger.New(logger.Config{Level: "error"})
	svc := service.NewSupportService(
		repository.NewMemoryChatRepository(),
		repository.NewMemoryMessageRepository(),
		t.TempDir(),
		"/uploads",
		log,
	)
	store := presence.NewMemoryStore()

	router := gin.New()
	router.Use(errors.ErrorHandler())
	NewSupportController(svc, store, 1<<20).RegisterRoutes(router)
	return router, svc, store
}

func doJSON(router *gin.Engine, method, path string, body any) *httptest.ResponseRecorder {
	var reader *bytes.Reader
	if body != nil {
		raw, _ := json.Marshal(body)
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func TestCreateOrGetChat(t *testing.T) {
	router, _, _ := newTestRouter(t)

	rec := doJSON(router, http.MethodPost, "/api/support/chat", gin.H{"userId": "user-1"})
	require.Equal(t, http.StatusCreated, rec.Code)

	var created chat.SupportChat
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &created))
	assert.Equal(t, "user-1", created.UserID)
	assert.Equal(t, chat.StatusWaiting, created.Status)
	assert.True(t, strings.HasPrefix(created.ID, "chat_"))

	rec = doJSON(router, http.MethodPost, "/api/support/chat", gin.H{"userId": "user-1"})
	require.Equal(t, http.StatusOK, rec.Code)

	var existing chat.SupportChat
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &existing))
	assert.Equal(t, created.ID, existing.ID)
}

func TestCreateOrGetChatMissingUser(t *testing.T) {
	router, _, _ := newTestRouter(t)

	rec := doJSON(router, http.MethodPost, "/api/support/chat", gin.H{})
	require.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "INVALID_REQUEST")
}

func TestGetChatMessages(t *testing.T) {
	router, svc, _ := newTestRouter(t)
	ctx := context.Background()

	c, _, err := svc.FindOrCreateChat(ctx, "user-1")
	require.NoError(t, err)
	require.NoError(t, svc.SaveMessage(ctx, chat.Message{
		ID: "m1", ChatID: c.ID, UserID: "user-1", Content: "привет", Type: chat.TypeText, Timestamp: 100,
	}))
	require.NoError(t, svc.SaveMessage(ctx, chat.Message{
		ID: "m2", ChatID: c.ID, UserID: "support", Content: "здравствуйте", Type: chat.TypeText, Timestamp: 200, IsFromSupport: true,
	}))

	rec := doJSON(router, http.MethodGet, "/api/support/chat/"+c.ID+"/messages", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var messages []chat.Message
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &messages))
	require.Len(t, messages, 2)
	assert.Equal(t, "m1", messages[0].ID)
	assert.True(t, messages[1].IsFromSupport)
}

func TestGetChatMessagesUnknownChat(t *testing.T) {
	router, _, _ := newTestRouter(t)

	rec := doJSON(router, http.MethodGet, "/api/support/chat/chat_missing/messages", nil)
	require.Equal(t, http.StatusNotFound, rec.Code)
	assert.Contains(t, rec.Body.String(), "CHAT_NOT_FOUND")
}

func TestUpdateChatStatus(t *testing.T) {
	router, svc, _ := newTestRouter(t)

	c, _, err := svc.FindOrCreateChat(context.Background(), "user-1")
	require.NoError(t, err)

	rec := doJSON(router, http.MethodPatch, "/api/support/chat/"+c.ID, gin.H{"status": "closed"})
	require.Equal(t, http.StatusOK, rec.Code)

	var updated chat.SupportChat
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &updated))
	assert.Equal(t, chat.StatusClosed, updated.Status)

	rec = doJSON(router, http.MethodPatch, "/api/support/chat/"+c.ID, gin.H{"status": "bogus"})
	require.Equal(t, http.StatusBadRequest, rec.Code)

	rec = doJSON(router, http.MethodPatch, "/api/support/chat/chat_missing", gin.H{"status": "active"})
	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestUploadFile(t *testing.T) {
	router, _, _ := newTestRouter(t)

	var body bytes.Buffer
	writer := multipart.NewWriter(&body)
	part, err := writer.CreateFormFile("file", "screenshot.png")
	require.NoError(t, err)
	_, err = part.Write([]byte("fake image bytes"))
	require.NoError(t, err)
	require.NoError(t, writer.WriteField("chatId", "chat_1"))
	require.NoError(t, writer.WriteField("userId", "user-1"))
	require.NoError(t, writer.Close())

	req := httptest.NewRequest(http.MethodPost, "/api/support/upload", &body)
	req.Header.Set("Content-Type", writer.FormDataContentType())
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	var upload service.Upload
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &upload))
	assert.Equal(t, "screenshot.png", upload.FileName)
	assert.Equal(t, int64(len("fake image bytes")), upload.FileSize)
	assert.True(t, strings.HasPrefix(upload.FileURL, "/uploads/"))
	assert.True(t, strings.HasSuffix(upload.FileURL, ".png"))
}

func TestUploadFileMissingPart(t *testing.T) {
	router, _, _ := newTestRouter(t)

	var body bytes.Buffer
	writer := multipart.NewWriter(&body)
	require.NoError(t, writer.WriteField("chatId", "chat_1"))
	require.NoError(t, writer.Close())

	req := httptest.NewRequest(http.MethodPost, "/api/support/upload", &body)
	req.Header.Set("Content-Type", writer.FormDataContentType())
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	require.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "FILE_REQUIRED")
}

func TestGetActiveConnections(t *testing.T) {
	router, _, store := newTestRouter(t)
	ctx := context.Background()

	require.NoError(t, store.Join(ctx, "conn-1", presence.Entry{UserID: "user-1", ChatID: "chat_1"}))
	require.NoError(t, store.Join(ctx, "conn-2", presence.Entry{UserID: "user-2", ChatID: "chat_2"}))

	rec := doJSON(router, http.MethodGet, "/api/support/active-connections", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var payload struct {
		Connections []presence.Entry `json:"connections"`
		Count       int              `json:"count"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &payload))
	assert.Equal(t, 2, payload.Count)
	assert.Len(t, payload.Connections, 2)
}
