package chat

import (
	"context"

	"github.com/google/uuid"
)

type ChatRepository interface {
	Create(ctx context.Context, c *Chat, memberIDs []uuid.UUID) error
	GetByID(ctx context.Context, id uuid.UUID) (*Chat, error)
	ListByUser(ctx context.Context, userID uuid.UUID, limit, offset int) ([]*Chat, int, error)
	IsMember(ctx context.Context, chatID, userID uuid.UUID) (bool, error)
	AddMember(ctx context.Context, m *Member) error
	MarkRead(ctx context.Context, chatID, userID uuid.UUID) error
}

type MessageRepository interface {
	Create(ctx context.Context, m *Message) error
	ListByChat(ctx context.Context, chatID uuid.UUID, limit, offset int) ([]*Message, int, error)
}
