package models

import "time"

type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
)

// Message is one immutable entry of a conversation. Timestamp is Unix milliseconds.
type Message struct {
	ID          string   `json:"id"`
	Role        Role     `json:"role"`
	Content     string   `json:"content"`
	Timestamp   int64    `json:"timestamp"`
	Model       string   `json:"model,omitempty"`
	Attachments []string `json:"attachments,omitempty"`
	IsError     bool     `json:"isError,omitempty"`
}

// Time converts the stored timestamp.
func (m Message) Time() time.Time {
	return time.UnixMilli(m.Timestamp)
}

// Millis converts t into the persisted instant representation.
func Millis(t time.Time) int64 {
	return t.UnixMilli()
}
