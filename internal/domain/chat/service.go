package chat

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
)

var (
	ErrChatNotFound = errors.New("chat not found")
	ErrNotMember    = errors.New("not a member of this chat")
)

type Service struct {
	chats    ChatRepository
	messages MessageRepository
}

func NewService(chats ChatRepository, messages MessageRepository) *Service {
	return &Service{chats: chats, messages: messages}
}

// CreateChat creates a conversation with the creator as admin plus the
// given members. Group chats require a name; direct chats require exactly
// one other participant.
func (s *Service) CreateChat(ctx context.Context, c *Chat, memberIDs []uuid.UUID) error {
	if c.CreatedBy == uuid.Nil {
		return fmt.Errorf("created_by is required")
	}
	if c.IsGroup && strings.TrimSpace(c.Name) == "" {
		return fmt.Errorf("group chats require a name")
	}
	if !c.IsGroup {
		others := 0
		for _, id := range memberIDs {
			if id != c.CreatedBy {
				others++
			}
		}
		if others != 1 {
			return fmt.Errorf("direct chats require exactly one other member")
		}
	}
	return s.chats.Create(ctx, c, memberIDs)
}

func (s *Service) GetChat(ctx context.Context, id uuid.UUID) (*Chat, error) {
	c, err := s.chats.GetByID(ctx, id)
	if err != nil {
		return nil, ErrChatNotFound
	}
	return c, nil
}

func (s *Service) ListChatsByUser(ctx context.Context, userID uuid.UUID, limit, offset int) ([]*Chat, int, error) {
	return s.chats.ListByUser(ctx, userID, limit, offset)
}

// IsMember reports whether userID belongs to chatID. The realtime gateway
// calls this before every room join and message broadcast.
func (s *Service) IsMember(ctx context.Context, chatID, userID uuid.UUID) (bool, error) {
	return s.chats.IsMember(ctx, chatID, userID)
}

// AddMember adds a user to a group chat. Only existing members may add.
func (s *Service) AddMember(ctx context.Context, chatID, actorID, userID uuid.UUID) error {
	ok, err := s.chats.IsMember(ctx, chatID, actorID)
	if err != nil {
		return err
	}
	if !ok {
		return ErrNotMember
	}
	return s.chats.AddMember(ctx, &Member{ChatID: chatID, UserID: userID, Role: "member"})
}

func (s *Service) MarkRead(ctx context.Context, chatID, userID uuid.UUID) error {
	ok, err := s.chats.IsMember(ctx, chatID, userID)
	if err != nil {
		return err
	}
	if !ok {
		return ErrNotMember
	}
	return s.chats.MarkRead(ctx, chatID, userID)
}

// SaveMessage persists a message after verifying the sender's membership.
func (s *Service) SaveMessage(ctx context.Context, m *Message) error {
	if strings.TrimSpace(m.Content) == "" {
		return fmt.Errorf("content is required")
	}
	ok, err := s.chats.IsMember(ctx, m.ChatID, m.SenderID)
	if err != nil {
		return err
	}
	if !ok {
		return ErrNotMember
	}
	if m.ContentType == "" {
		m.ContentType = "text"
	}
	return s.messages.Create(ctx, m)
}

func (s *Service) ListMessages(ctx context.Context, chatID, userID uuid.UUID, limit, offset int) ([]*Message, int, error) {
	ok, err := s.chats.IsMember(ctx, chatID, userID)
	if err != nil {
		return nil, 0, err
	}
	if !ok {
		return nil, 0, ErrNotMember
	}
	return s.messages.ListByChat(ctx, chatID, limit, offset)
}
