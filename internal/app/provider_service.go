package app

import (
	"context"
	"errors"
	"strings"

	"tinyagent/internal/model"
	"tinyagent/internal/repository"
)

var ErrProviderNotFound = errors.New("ai provider not found")

const (
	defaultModelMaxTokens   = 4096
	defaultModelTemperature = 0.7
)

type ProviderService struct {
	repo *repository.ProviderRepository
}

type CreateProviderInput struct {
	UserID  uint
	Name    string
	BaseURL string
	APIKey  string
}

type CreateModelInput struct {
	UserID     uint
	ProviderID uint
	Name       string
	ModelID    string
	MaxTokens  int
	HasVision  bool
	Source     int
	// Temperature nil means the default.
	Temperature *float64
}

func NewProviderService(repo *repository.ProviderRepository) *ProviderService {
	return &ProviderService{repo: repo}
}

// CreateProvider registers a provider owned by the user. Global providers
// (user id 0) are seeded by operators, not through this call.
func (s *ProviderService) CreateProvider(ctx context.Context, input CreateProviderInput) (*model.AIProvider, error) {
	name := strings.TrimSpace(input.Name)
	baseURL := strings.TrimRight(strings.TrimSpace(input.BaseURL), "/")
	if input.UserID == 0 || name == "" || baseURL == "" {
		return nil, ErrInvalidInput
	}

	provider := &model.AIProvider{
		UserID:    input.UserID,
		Name:      name,
		BaseURL:   baseURL,
		APIKey:    strings.TrimSpace(input.APIKey),
		IsEnabled: true,
	}
	if err := s.repo.CreateProvider(ctx, provider); err != nil {
		return nil, err
	}
	return provider, nil
}

func (s *ProviderService) ListProviders(ctx context.Context, userID uint) ([]model.AIProvider, error) {
	if userID == 0 {
		return nil, ErrInvalidInput
	}
	return s.repo.ListVisible(ctx, userID)
}

func (s *ProviderService) CreateModel(ctx context.Context, input CreateModelInput) (*model.AIModel, error) {
	name := strings.TrimSpace(input.Name)
	modelID := strings.TrimSpace(input.ModelID)
	if input.UserID == 0 || input.ProviderID == 0 || modelID == "" || input.MaxTokens < 0 {
		return nil, ErrInvalidInput
	}
	if name == "" {
		name = modelID
	}
	if _, err := s.visibleProvider(ctx, input.ProviderID, input.UserID); err != nil {
		return nil, err
	}

	m := &model.AIModel{
		ProviderID:  input.ProviderID,
		Name:        name,
		ModelID:     modelID,
		MaxTokens:   input.MaxTokens,
		HasVision:   input.HasVision,
		Source:      input.Source,
		IsEnabled:   true,
		Temperature: defaultModelTemperature,
	}
	if m.MaxTokens == 0 {
		m.MaxTokens = defaultModelMaxTokens
	}
	if input.Temperature != nil {
		if *input.Temperature < 0 || *input.Temperature > 2 {
			return nil, ErrInvalidInput
		}
		m.Temperature = *input.Temperature
	}
	if err := s.repo.CreateModel(ctx, m); err != nil {
		return nil, err
	}
	return m, nil
}

func (s *ProviderService) ListModels(ctx context.Context, userID, providerID uint) ([]model.AIModel, error) {
	if userID == 0 || providerID == 0 {
		return nil, ErrInvalidInput
	}
	if _, err := s.visibleProvider(ctx, providerID, userID); err != nil {
		return nil, err
	}
	return s.repo.ListModels(ctx, providerID)
}

func (s *ProviderService) visibleProvider(ctx context.Context, providerID, userID uint) (*model.AIProvider, error) {
	provider, err := s.repo.GetVisible(ctx, providerID, userID)
	if err != nil {
		return nil, err
	}
	if provider == nil {
		return nil, ErrProviderNotFound
	}
	return provider, nil
}
