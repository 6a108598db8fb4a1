package model

import "time"

const (
	UserStatusEnabled  = 0
	UserStatusDisabled = 1
)

type User struct {
	ID           uint       `gorm:"primaryKey" json:"id"`
	Username     string     `gorm:"size:64;not null;uniqueIndex" json:"user_name"`
	PasswordHash string     `gorm:"size:255;not null" json:"-"`
	NickName     string     `gorm:"size:128" json:"nick_name"`
	RealName     string     `gorm:"size:32" json:"real_name"`
	Sex          int        `gorm:"not null;default:0" json:"sex"`
	Mobile       string     `gorm:"size:24" json:"mobile"`
	Email        string     `gorm:"size:255" json:"email"`
	Avatar       string     `gorm:"size:800" json:"avatar"`
	Status       int        `gorm:"not null;default:0" json:"status"`
	Source       int        `gorm:"not null;default:0" json:"source"`
	Theme        int        `gorm:"not null;default:0" json:"theme"`
	RegisterIP   string     `gorm:"size:64" json:"-"`
	LastLoginAt  *time.Time `json:"last_login_at"`
	CreatedAt    time.Time  `json:"created_at"`
	UpdatedAt    time.Time  `json:"updated_at"`
}

func (u *User) Disabled() bool {
	return u.Status == UserStatusDisabled
}
