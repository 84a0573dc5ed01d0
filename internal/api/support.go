package api

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"online-cinema-support/backend/internal/chat"
	"online-cinema-support/backend/internal/presence"
	"online-cinema-support/backend/internal/service"
	"online-cinema-support/backend/pkg/errors"
)

// SupportController exposes the REST surface the chat client bootstraps
// against: chat lookup, message history, uploads and live-connection info.
type SupportController struct {
	support       *service.SupportService
	presence      presence.Store
	maxUploadSize int64
}

func NewSupportController(support *service.SupportService, presence presence.Store, maxUploadSize int64) *SupportController {
	return &SupportController{
		support:       support,
		presence:      presence,
		maxUploadSize: maxUploadSize,
	}
}

// RegisterRoutes registers the support API routes
func (c *SupportController) RegisterRoutes(router *gin.Engine) {
	group := router.Group("/api/support")
	{
		group.POST("/chat", c.CreateOrGetChat)
		group.GET("/chat/:chatId/messages", c.GetChatMessages)
		group.PATCH("/chat/:chatId", c.UpdateChatStatus)
		group.POST("/upload", c.UploadFile)
		group.GET("/active-connections", c.GetActiveConnections)
	}
}

// CreateOrGetChat returns the caller's open chat, creating one when none
// exists. 201 signals a fresh chat, 200 an existing one.
func (c *SupportController) CreateOrGetChat(ctx *gin.Context) {
	var request struct {
		UserID string `json:"userId" binding:"required"`
	}
	if err := ctx.BindJSON(&request); err != nil {
		ctx.Error(errors.NewBadRequestError("INVALID_REQUEST", "userId is required"))
		return
	}

	result, created, err := c.support.FindOrCreateChat(ctx.Request.Context(), request.UserID)
	if err != nil {
		ctx.Error(err)
		return
	}

	status := http.StatusOK
	if created {
		status = http.StatusCreated
	}
	ctx.JSON(status, result)
}

// GetChatMessages returns the chat's full history in timestamp order.
func (c *SupportController) GetChatMessages(ctx *gin.Context) {
	chatID := ctx.Param("chatId")

	messages, err := c.support.GetChatHistory(ctx.Request.Context(), chatID)
	if err != nil {
		ctx.Error(err)
		return
	}
	if messages == nil {
		messages = []chat.Message{}
	}

	ctx.JSON(http.StatusOK, messages)
}

// UpdateChatStatus moves a chat between waiting, active and closed.
func (c *SupportController) UpdateChatStatus(ctx *gin.Context) {
	chatID := ctx.Param("chatId")

	var request struct {
		Status chat.ChatStatus `json:"status" binding:"required"`
	}
	if err := ctx.BindJSON(&request); err != nil {
		ctx.Error(errors.NewBadRequestError("INVALID_REQUEST", "status is required"))
		return
	}

	if err := c.support.UpdateChatStatus(ctx.Request.Context(), chatID, request.Status); err != nil {
		ctx.Error(err)
		return
	}

	updated, err := c.support.GetChat(ctx.Request.Context(), chatID)
	if err != nil {
		ctx.Error(err)
		return
	}
	ctx.JSON(http.StatusOK, updated)
}

// UploadFile stores a multipart attachment and returns its descriptor.
func (c *SupportController) UploadFile(ctx *gin.Context) {
	ctx.Request.Body = http.MaxBytesReader(ctx.Writer, ctx.Request.Body, c.maxUploadSize)

	header, err := ctx.FormFile("file")
	if err != nil {
		ctx.Error(errors.NewBadRequestError("FILE_REQUIRED", "multipart field 'file' is required"))
		return
	}
	if header.Size > c.maxUploadSize {
		ctx.Error(errors.NewError(http.StatusRequestEntityTooLarge, "FILE_TOO_LARGE", "uploaded file exceeds the size limit"))
		return
	}

	upload, err := c.support.SaveUpload(ctx.Request.Context(), header)
	if err != nil {
		ctx.Error(err)
		return
	}

	ctx.JSON(http.StatusOK, upload)
}

// GetActiveConnections reports the live websocket connections for the
// operator dashboard.
func (c *SupportController) GetActiveConnections(ctx *gin.Context) {
	entries, err := c.presence.List(ctx.Request.Context())
	if err != nil {
		ctx.Error(err)
		return
	}
	if entries == nil {
		entries = []presence.Entry{}
	}

	ctx.JSON(http.StatusOK, gin.H{
		"connections": entries,
		"count":       len(entries),
	})
}
