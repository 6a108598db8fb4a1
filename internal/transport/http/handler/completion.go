package handler

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"tinyagent/internal/ai"
	"tinyagent/internal/app"
	"tinyagent/internal/transport/http/response"
)

// CompletionHandler serves the OpenAI-compatible fake model endpoints. These
// routes answer in the upstream wire format, not the {code,message,data}
// envelope, except for request errors.
type CompletionHandler struct {
	completionService *app.CompletionService
	logger            *zap.Logger
}

type ChatCompletionRequest struct {
	Model       string           `json:"model"`
	Messages    []ai.ChatMessage `json:"messages" binding:"required,min=1,dive"`
	Stream      *bool            `json:"stream"`
	Granularity string           `json:"granularity" binding:"omitempty,oneof=char line"`
	PaceMS      *int             `json:"pace_ms" binding:"omitempty,gte=0,lte=10000"`
	ID          string           `json:"id" binding:"max=128"`
	SessionID   uint             `json:"session_id"`
}

type modelList struct {
	Object string               `json:"object"`
	Data   []ai.ModelDescriptor `json:"data"`
}

func NewCompletionHandler(completionService *app.CompletionService, logger *zap.Logger) *CompletionHandler {
	return &CompletionHandler{
		completionService: completionService,
		logger:            logger.Named("completion_handler"),
	}
}

func (h *CompletionHandler) ChatCompletions(c *gin.Context) {
	var req ChatCompletionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, http.StatusBadRequest, response.CodeBadRequest, "invalid request payload")
		return
	}

	// anonymous callers are fine unless they ask for the output to be stored
	userID, _ := getUserIDFromContext(c)
	prepared, err := h.completionService.Prepare(c.Request.Context(), app.CompletionInput{
		Messages:    req.Messages,
		ID:          req.ID,
		Model:       req.Model,
		Granularity: req.Granularity,
		PaceMS:      req.PaceMS,
		UserID:      userID,
		SessionID:   req.SessionID,
	})
	if err != nil {
		writeCompletionError(c, err)
		return
	}

	if req.Stream != nil && !*req.Stream {
		completion, err := h.completionService.Complete(c.Request.Context(), prepared)
		if err != nil {
			writeCompletionError(c, err)
			return
		}
		c.JSON(http.StatusOK, completion)
		return
	}

	flusher, ok := c.Writer.(http.Flusher)
	if !ok {
		response.Error(c, http.StatusInternalServerError, response.CodeInternalServer, "stream not supported")
		return
	}

	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Header("X-Accel-Buffering", "no")
	c.Status(http.StatusOK)

	err = h.completionService.Stream(c.Request.Context(), prepared, func(frame ai.Frame) error {
		payload, err := frame.SSE()
		if err != nil {
			return err
		}
		if _, err := c.Writer.Write(payload); err != nil {
			return err
		}
		flusher.Flush()
		return nil
	})
	if err != nil {
		// headers are already sent; the connection just ends
		h.logger.Warn("stream finished with error",
			zap.String("completion_id", prepared.Request.ID), zap.Error(err))
	}
}

func (h *CompletionHandler) ListModels(c *gin.Context) {
	c.JSON(http.StatusOK, modelList{
		Object: "list",
		Data:   h.completionService.Models(),
	})
}

func writeCompletionError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, app.ErrInvalidInput):
		response.Error(c, http.StatusBadRequest, response.CodeBadRequest, err.Error())
	case errors.Is(err, app.ErrUnauthenticated):
		response.Error(c, http.StatusUnauthorized, response.CodeUnauthorized, "session_id requires a bearer token")
	case errors.Is(err, app.ErrSessionNotFound):
		response.Error(c, http.StatusNotFound, response.CodeSessionNotFound, err.Error())
	default:
		_ = c.Error(err)
		response.Error(c, http.StatusInternalServerError, response.CodeInternalServer, "completion failed")
	}
}
