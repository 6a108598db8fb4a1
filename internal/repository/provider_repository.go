package repository

import (
	"context"
	"errors"
	"fmt"

	"gorm.io/gorm"

	"tinyagent/internal/model"
)

type ProviderRepository struct {
	db *gorm.DB
}

func NewProviderRepository(db *gorm.DB) *ProviderRepository {
	return &ProviderRepository{db: db}
}

func (r *ProviderRepository) CreateProvider(ctx context.Context, provider *model.AIProvider) error {
	if err := r.db.WithContext(ctx).Create(provider).Error; err != nil {
		return fmt.Errorf("create ai provider failed: %w", err)
	}
	return nil
}

// ListVisible returns enabled providers that are global (user_id 0) or owned
// by userID.
func (r *ProviderRepository) ListVisible(ctx context.Context, userID uint) ([]model.AIProvider, error) {
	var list []model.AIProvider
	if err := r.db.WithContext(ctx).
		Where("(user_id = 0 OR user_id = ?) AND is_enabled = ?", userID, true).
		Order("id ASC").
		Find(&list).Error; err != nil {
		return nil, fmt.Errorf("list ai providers failed: %w", err)
	}
	return list, nil
}

func (r *ProviderRepository) GetVisible(ctx context.Context, id, userID uint) (*model.AIProvider, error) {
	var provider model.AIProvider
	if err := r.db.WithContext(ctx).
		Where("id = ? AND (user_id = 0 OR user_id = ?) AND is_enabled = ?", id, userID, true).
		First(&provider).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("get ai provider failed: %w", err)
	}
	return &provider, nil
}

func (r *ProviderRepository) CreateModel(ctx context.Context, m *model.AIModel) error {
	if err := r.db.WithContext(ctx).Create(m).Error; err != nil {
		return fmt.Errorf("create ai model failed: %w", err)
	}
	return nil
}

func (r *ProviderRepository) ListModels(ctx context.Context, providerID uint) ([]model.AIModel, error) {
	var list []model.AIModel
	if err := r.db.WithContext(ctx).Where("provider_id = ?", providerID).Order("id ASC").Find(&list).Error; err != nil {
		return nil, fmt.Errorf("list ai models failed: %w", err)
	}
	return list, nil
}
