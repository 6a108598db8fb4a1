package model

import (
	"time"

	"gorm.io/gorm"
)

const DefaultSessionTitle = "New Chat"

type Session struct {
	ID           uint       `gorm:"primaryKey" json:"id"`
	UserID       uint       `gorm:"not null;index:idx_session_owner_list,priority:1" json:"user_id"`
	Title        string     `gorm:"size:255;not null" json:"title"`
	Messages     MessageLog `gorm:"not null" json:"messages"`
	MessageCount int        `gorm:"not null;default:0" json:"message_count"`
	IsPinned     bool       `gorm:"not null;default:false;index:idx_session_owner_list,priority:3" json:"is_pinned"`
	IsDeleted    bool       `gorm:"not null;default:false;index:idx_session_owner_list,priority:2" json:"is_deleted"`
	IsArchived   bool       `gorm:"not null;default:false" json:"is_archived"`
	Version      uint64     `gorm:"not null;default:0" json:"-"`
	CreatedAt    time.Time  `gorm:"autoCreateTime:false" json:"created_at"`
	UpdatedAt    time.Time  `gorm:"autoUpdateTime:false;index:idx_session_owner_list,priority:4" json:"updated_at"`
}

// Append adds msg to the end of the log, never touching existing entries.
// The entry timestamp is clamped so it does not precede the previous entry.
func (s *Session) Append(msg Message) {
	if n := len(s.Messages); n > 0 {
		if last := s.Messages[n-1].CreatedAt; msg.CreatedAt.Before(last) {
			msg.CreatedAt = last
		}
	}
	next := make(MessageLog, 0, len(s.Messages)+1)
	next = append(next, s.Messages...)
	next = append(next, msg)
	s.Messages = next
	s.MessageCount = len(next)
}

// History returns a copy of the log that is never nil.
func (s *Session) History() []Message {
	out := make([]Message, len(s.Messages))
	copy(out, s.Messages)
	return out
}

func (s *Session) BeforeCreate(tx *gorm.DB) error {
	if s.Messages == nil {
		s.Messages = MessageLog{}
	}
	return nil
}

func (s *Session) AfterFind(tx *gorm.DB) error {
	if s.Messages == nil {
		s.Messages = MessageLog{}
	}
	return nil
}
