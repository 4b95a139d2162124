package chat

import (
	"time"

	"github.com/google/uuid"
)

// Chat is a conversation between two or more staff members. Direct chats
// carry no name; group chats do.
type Chat struct {
	ID        uuid.UUID `db:"id" json:"id"`
	Name      string    `db:"name" json:"name,omitempty"`
	IsGroup   bool      `db:"is_group" json:"is_group"`
	CreatedBy uuid.UUID `db:"created_by" json:"created_by"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
	UpdatedAt time.Time `db:"updated_at" json:"updated_at"`
}

// Member links a user to a chat. Role is either "admin" or "member";
// the creator joins as admin.
type Member struct {
	ChatID     uuid.UUID  `db:"chat_id" json:"chat_id"`
	UserID     uuid.UUID  `db:"user_id" json:"user_id"`
	Role       string     `db:"role" json:"role"`
	JoinedAt   time.Time  `db:"joined_at" json:"joined_at"`
	LastReadAt *time.Time `db:"last_read_at" json:"last_read_at,omitempty"`
}

// Message is a persisted chat message. Realtime delivery is best-effort;
// this record is the durable source of truth.
type Message struct {
	ID          uuid.UUID `db:"id" json:"id"`
	ChatID      uuid.UUID `db:"chat_id" json:"chat_id"`
	SenderID    uuid.UUID `db:"sender_id" json:"sender_id"`
	SenderName  string    `db:"sender_name" json:"sender_name"`
	Content     string    `db:"content" json:"content"`
	ContentType string    `db:"content_type" json:"content_type"`
	CreatedAt   time.Time `db:"created_at" json:"created_at"`
}
