package handler

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"tinyagent/internal/app"
	"tinyagent/internal/model"
	"tinyagent/internal/transport/http/middleware"
	"tinyagent/internal/transport/http/response"
)

type ChatHandler struct {
	chatService *app.ChatService
}

type CreateSessionRequest struct {
	Title       string `json:"title" binding:"max=255"`
	InitialText string `json:"initial_text"`
}

// UpdateSessionRequest uses pointers so an omitted field leaves the stored
// value alone.
type UpdateSessionRequest struct {
	Title      *string `json:"title" binding:"omitempty,max=255"`
	IsPinned   *bool   `json:"is_pinned"`
	IsDeleted  *bool   `json:"is_deleted"`
	IsArchived *bool   `json:"is_archived"`
}

type AppendMessageRequest struct {
	SessionID uint                   `json:"session_id" binding:"required,gt=0"`
	Role      string                 `json:"role" binding:"required,chatrole"`
	Content   string                 `json:"content"`
	Data      map[string]interface{} `json:"data"`
}

func NewChatHandler(chatService *app.ChatService) *ChatHandler {
	return &ChatHandler{chatService: chatService}
}

func (h *ChatHandler) CreateSession(c *gin.Context) {
	userID, ok := getUserIDFromContext(c)
	if !ok {
		response.Error(c, http.StatusUnauthorized, response.CodeUnauthorized, "invalid token payload")
		return
	}

	var req CreateSessionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, http.StatusBadRequest, response.CodeBadRequest, "invalid request payload")
		return
	}

	session, err := h.chatService.CreateSession(c.Request.Context(), app.CreateSessionInput{
		UserID:      userID,
		Title:       req.Title,
		InitialText: req.InitialText,
	})
	if err != nil {
		writeChatError(c, err, "create session failed")
		return
	}

	response.OK(c, session)
}

func (h *ChatHandler) ListSessions(c *gin.Context) {
	userID, ok := getUserIDFromContext(c)
	if !ok {
		response.Error(c, http.StatusUnauthorized, response.CodeUnauthorized, "invalid token payload")
		return
	}

	limit := 0
	if raw := c.Query("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 0 {
			response.Error(c, http.StatusBadRequest, response.CodeBadRequest, "invalid limit")
			return
		}
		limit = parsed
	}

	sessions, err := h.chatService.ListSessions(c.Request.Context(), userID, limit)
	if err != nil {
		writeChatError(c, err, "list sessions failed")
		return
	}

	response.OK(c, sessions)
}

func (h *ChatHandler) UpdateSession(c *gin.Context) {
	userID, ok := getUserIDFromContext(c)
	if !ok {
		response.Error(c, http.StatusUnauthorized, response.CodeUnauthorized, "invalid token payload")
		return
	}

	sessionID, ok := parseIDParam(c, "id")
	if !ok {
		response.Error(c, http.StatusBadRequest, response.CodeBadRequest, "invalid session id")
		return
	}

	var req UpdateSessionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, http.StatusBadRequest, response.CodeBadRequest, "invalid request payload")
		return
	}

	session, err := h.chatService.UpdateSession(c.Request.Context(), app.UpdateSessionInput{
		UserID:     userID,
		SessionID:  sessionID,
		Title:      req.Title,
		IsPinned:   req.IsPinned,
		IsDeleted:  req.IsDeleted,
		IsArchived: req.IsArchived,
	})
	if err != nil {
		writeChatError(c, err, "update session failed")
		return
	}

	response.OK(c, session)
}

func (h *ChatHandler) AppendMessage(c *gin.Context) {
	userID, ok := getUserIDFromContext(c)
	if !ok {
		response.Error(c, http.StatusUnauthorized, response.CodeUnauthorized, "invalid token payload")
		return
	}

	var req AppendMessageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, http.StatusBadRequest, response.CodeBadRequest, "invalid request payload")
		return
	}

	session, err := h.chatService.AppendMessage(c.Request.Context(), app.AppendMessageInput{
		UserID:    userID,
		SessionID: req.SessionID,
		Role:      model.Role(req.Role),
		Content:   req.Content,
		Data:      req.Data,
	})
	if err != nil {
		writeChatError(c, err, "append message failed")
		return
	}

	response.OK(c, session)
}

func (h *ChatHandler) GetHistory(c *gin.Context) {
	userID, ok := getUserIDFromContext(c)
	if !ok {
		response.Error(c, http.StatusUnauthorized, response.CodeUnauthorized, "invalid token payload")
		return
	}

	sessionID, ok := parseIDParam(c, "id")
	if !ok {
		response.Error(c, http.StatusBadRequest, response.CodeBadRequest, "invalid session id")
		return
	}

	history, err := h.chatService.GetHistory(c.Request.Context(), userID, sessionID)
	if err != nil {
		writeChatError(c, err, "get history failed")
		return
	}

	response.OK(c, history)
}

func writeChatError(c *gin.Context, err error, fallback string) {
	switch {
	case errors.Is(err, app.ErrInvalidInput):
		response.Error(c, http.StatusBadRequest, response.CodeBadRequest, err.Error())
	case errors.Is(err, app.ErrSessionNotFound):
		response.Error(c, http.StatusNotFound, response.CodeSessionNotFound, err.Error())
	default:
		_ = c.Error(err)
		response.Error(c, http.StatusInternalServerError, response.CodeInternalServer, fallback)
	}
}

func getUserIDFromContext(c *gin.Context) (uint, bool) {
	userIDAny, exists := c.Get(middleware.ContextUserIDKey)
	if !exists {
		return 0, false
	}
	userID, ok := userIDAny.(uint)
	return userID, ok
}

func parseIDParam(c *gin.Context, name string) (uint, bool) {
	id, err := strconv.ParseUint(c.Param(name), 10, 64)
	if err != nil || id == 0 {
		return 0, false
	}
	return uint(id), true
}
