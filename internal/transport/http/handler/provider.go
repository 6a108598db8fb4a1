package handler

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"tinyagent/internal/app"
	"tinyagent/internal/transport/http/response"
)

type ProviderHandler struct {
	providerService *app.ProviderService
}

type CreateProviderRequest struct {
	Name    string `json:"provider_name" binding:"required,max=128"`
	BaseURL string `json:"base_url" binding:"required,url,max=512"`
	APIKey  string `json:"api_key" binding:"max=512"`
}

type CreateModelRequest struct {
	Name        string   `json:"model_name" binding:"max=128"`
	ModelID     string   `json:"model_id" binding:"required,max=128"`
	MaxTokens   int      `json:"max_tokens" binding:"gte=0"`
	HasVision   bool     `json:"has_vision"`
	Source      int      `json:"source" binding:"gte=0"`
	Temperature *float64 `json:"temperature" binding:"omitempty,gte=0,lte=2"`
}

func NewProviderHandler(providerService *app.ProviderService) *ProviderHandler {
	return &ProviderHandler{providerService: providerService}
}

func (h *ProviderHandler) CreateProvider(c *gin.Context) {
	userID, ok := getUserIDFromContext(c)
	if !ok {
		response.Error(c, http.StatusUnauthorized, response.CodeUnauthorized, "invalid token payload")
		return
	}

	var req CreateProviderRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, http.StatusBadRequest, response.CodeBadRequest, "invalid request payload")
		return
	}

	provider, err := h.providerService.CreateProvider(c.Request.Context(), app.CreateProviderInput{
		UserID:  userID,
		Name:    req.Name,
		BaseURL: req.BaseURL,
		APIKey:  req.APIKey,
	})
	if err != nil {
		writeProviderError(c, err, "create provider failed")
		return
	}
	response.OK(c, provider)
}

func (h *ProviderHandler) ListProviders(c *gin.Context) {
	userID, ok := getUserIDFromContext(c)
	if !ok {
		response.Error(c, http.StatusUnauthorized, response.CodeUnauthorized, "invalid token payload")
		return
	}

	providers, err := h.providerService.ListProviders(c.Request.Context(), userID)
	if err != nil {
		writeProviderError(c, err, "list providers failed")
		return
	}
	response.OK(c, providers)
}

func (h *ProviderHandler) CreateModel(c *gin.Context) {
	userID, ok := getUserIDFromContext(c)
	if !ok {
		response.Error(c, http.StatusUnauthorized, response.CodeUnauthorized, "invalid token payload")
		return
	}
	providerID, ok := parseIDParam(c, "id")
	if !ok {
		response.Error(c, http.StatusBadRequest, response.CodeBadRequest, "invalid provider id")
		return
	}

	var req CreateModelRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, http.StatusBadRequest, response.CodeBadRequest, "invalid request payload")
		return
	}

	m, err := h.providerService.CreateModel(c.Request.Context(), app.CreateModelInput{
		UserID:      userID,
		ProviderID:  providerID,
		Name:        req.Name,
		ModelID:     req.ModelID,
		MaxTokens:   req.MaxTokens,
		HasVision:   req.HasVision,
		Source:      req.Source,
		Temperature: req.Temperature,
	})
	if err != nil {
		writeProviderError(c, err, "create model failed")
		return
	}
	response.OK(c, m)
}

func (h *ProviderHandler) ListModels(c *gin.Context) {
	userID, ok := getUserIDFromContext(c)
	if !ok {
		response.Error(c, http.StatusUnauthorized, response.CodeUnauthorized, "invalid token payload")
		return
	}
	providerID, ok := parseIDParam(c, "id")
	if !ok {
		response.Error(c, http.StatusBadRequest, response.CodeBadRequest, "invalid provider id")
		return
	}

	models, err := h.providerService.ListModels(c.Request.Context(), userID, providerID)
	if err != nil {
		writeProviderError(c, err, "list models failed")
		return
	}
	response.OK(c, models)
}

func writeProviderError(c *gin.Context, err error, fallback string) {
	switch {
	case errors.Is(err, app.ErrInvalidInput):
		response.Error(c, http.StatusBadRequest, response.CodeBadRequest, err.Error())
	case errors.Is(err, app.ErrProviderNotFound):
		response.Error(c, http.StatusNotFound, response.CodeProviderNotFound, err.Error())
	default:
		_ = c.Error(err)
		response.Error(c, http.StatusInternalServerError, response.CodeInternalServer, fallback)
	}
}
