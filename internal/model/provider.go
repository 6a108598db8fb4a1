package model

import "time"

// AIProvider is an upstream model provider. UserID 0 marks a global entry.
type AIProvider struct {
	ID             uint      `gorm:"primaryKey" json:"id"`
	UserID         uint      `gorm:"not null;index" json:"user_id"`
	Name           string    `gorm:"size:128;not null" json:"provider_name"`
	BaseURL        string    `gorm:"size:512;not null" json:"base_url"`
	APIKey         string    `gorm:"size:512" json:"-"`
	IsEnabled      bool      `gorm:"not null" json:"is_enabled"`
	VerifiedStatus int       `gorm:"not null;default:0" json:"verified_status"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}

type AIModel struct {
	ID          uint      `gorm:"primaryKey" json:"id"`
	ProviderID  uint      `gorm:"not null;index" json:"provider_id"`
	Name        string    `gorm:"size:128;not null" json:"model_name"`
	ModelID     string    `gorm:"size:128;not null" json:"model_id"`
	MaxTokens   int       `gorm:"not null" json:"max_tokens"`
	HasVision   bool      `gorm:"not null;default:false" json:"has_vision"`
	Source      int       `gorm:"not null;default:0" json:"source"`
	IsEnabled   bool      `gorm:"not null" json:"is_enabled"`
	Temperature float64   `gorm:"not null" json:"temperature"`
	CreatedAt   time.Time `json:"created_at"`
}
