package model

import (
	"time"

	"gorm.io/datatypes"
)

type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

func (r Role) Valid() bool {
	switch r {
	case RoleSystem, RoleUser, RoleAssistant:
		return true
	}
	return false
}

// Message is one entry of a session's message log. Entries are immutable once
// appended.
type Message struct {
	Role      Role              `json:"role"`
	Content   string            `json:"content"`
	Data      datatypes.JSONMap `json:"data,omitempty"`
	CreatedAt time.Time         `json:"created_at"`
}

// MessageLog is stored as a single JSON column on the session row.
type MessageLog = datatypes.JSONSlice[Message]
