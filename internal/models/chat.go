package models

import "time"

// ChatRole identifies the author of a chat message.
type ChatRole string

const (
	ChatRoleUser      ChatRole = "user"
	ChatRoleAssistant ChatRole = "assistant"
)

// ChatMessage is one turn of the assistant conversation attached to a
// console session.
type ChatMessage struct {
	ID        string
	Role      ChatRole
	Content   string
	CreatedAt time.Time
}
