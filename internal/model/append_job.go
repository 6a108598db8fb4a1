package model

// AppendJob is the queued form of a message append, published when a
// streamed completion finished and applied later by the persist worker.
type AppendJob struct {
	UserID    uint                   `json:"user_id"`
	SessionID uint                   `json:"session_id"`
	Role      Role                   `json:"role"`
	Content   string                 `json:"content"`
	Data      map[string]interface{} `json:"data,omitempty"`
}
