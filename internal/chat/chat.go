// Package chat provides the chat and message domain model with PostgreSQL
// persistence.
//
// A Chat owns an ordered list of Messages. Ordering is defined solely by each
// message's Ordinal: ordinals are assigned server-side, monotonically per
// chat, under a row lock, so two concurrent posts to the same chat can never
// interleave their message order.
package chat

import (
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
)

// Role constants define valid message roles.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Valid reports whether r is a known role.
func (r Role) Valid() bool {
	return r == RoleUser || r == RoleAssistant
}

// Chat represents one conversation.
type Chat struct {
	ID        uuid.UUID `json:"id"`
	Title     string    `json:"title"`
	Origin    string    `json:"origin,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Message represents a single message within a chat.
//
// Ordinal is the sole display-ordering key. FinishedAt is nil while an
// assistant message is still streaming and set once its content is final.
type Message struct {
	ID         uuid.UUID  `json:"id"`
	ChatID     uuid.UUID  `json:"chat_id"`
	Ordinal    int32      `json:"ordinal"`
	Role       Role       `json:"role"`
	Content    string     `json:"content"`
	CreatedAt  time.Time  `json:"created_at"`
	UpdatedAt  time.Time  `json:"updated_at"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`
}

// TitleMaxLen is the maximum chat title length in runes.
const TitleMaxLen = 100

// TitleFromContent derives a chat title from the first user message:
// whitespace collapsed, truncated to TitleMaxLen runes with an ellipsis.
func TitleFromContent(content string) string {
	title := strings.Join(strings.Fields(content), " ")
	if utf8.RuneCountInString(title) <= TitleMaxLen {
		return title
	}
	runes := []rune(title)
	return string(runes[:TitleMaxLen-1]) + "…"
}
