package chat

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
)

type mockChatRepo struct {
	chats   map[uuid.UUID]*Chat
	members map[uuid.UUID]map[uuid.UUID]*Member
}

func newMockChatRepo() *mockChatRepo {
	return &mockChatRepo{
		chats:   make(map[uuid.UUID]*Chat),
		members: make(map[uuid.UUID]map[uuid.UUID]*Member),
	}
}

func (m *mockChatRepo) Create(_ context.Context, c *Chat, memberIDs []uuid.UUID) error {
	c.ID = uuid.New()
	c.CreatedAt = time.Now()
	c.UpdatedAt = time.Now()
	m.chats[c.ID] = c
	m.members[c.ID] = map[uuid.UUID]*Member{
		c.CreatedBy: {ChatID: c.ID, UserID: c.CreatedBy, Role: "admin"},
	}
	for _, uid := range memberIDs {
		if uid == c.CreatedBy {
			continue
		}
		m.members[c.ID][uid] = &Member{ChatID: c.ID, UserID: uid, Role: "member"}
	}
	return nil
}

func (m *mockChatRepo) GetByID(_ context.Context, id uuid.UUID) (*Chat, error) {
	c, ok := m.chats[id]
	if !ok {
		return nil, errors.New("not found")
	}
	return c, nil
}

func (m *mockChatRepo) ListByUser(_ context.Context, userID uuid.UUID, limit, offset int) ([]*Chat, int, error) {
	var items []*Chat
	for id, mm := range m.members {
		if _, ok := mm[userID]; ok {
			items = append(items, m.chats[id])
		}
	}
	return items, len(items), nil
}

func (m *mockChatRepo) IsMember(_ context.Context, chatID, userID uuid.UUID) (bool, error) {
	mm, ok := m.members[chatID]
	if !ok {
		return false, nil
	}
	_, ok = mm[userID]
	return ok, nil
}

func (m *mockChatRepo) AddMember(_ context.Context, mem *Member) error {
	if _, ok := m.members[mem.ChatID]; !ok {
		m.members[mem.ChatID] = make(map[uuid.UUID]*Member)
	}
	m.members[mem.ChatID][mem.UserID] = mem
	return nil
}

func (m *mockChatRepo) MarkRead(_ context.Context, chatID, userID uuid.UUID) error {
	if mem, ok := m.members[chatID][userID]; ok {
		now := time.Now()
		mem.LastReadAt = &now
	}
	return nil
}

type mockMessageRepo struct {
	items []*Message
}

func (m *mockMessageRepo) Create(_ context.Context, msg *Message) error {
	msg.ID = uuid.New()
	msg.CreatedAt = time.Now()
	m.items = append(m.items, msg)
	return nil
}

func (m *mockMessageRepo) ListByChat(_ context.Context, chatID uuid.UUID, limit, offset int) ([]*Message, int, error) {
	var out []*Message
	for _, msg := range m.items {
		if msg.ChatID == chatID {
			out = append(out, msg)
		}
	}
	return out, len(out), nil
}

func newTestService() (*Service, *mockChatRepo, *mockMessageRepo) {
	chatRepo := newMockChatRepo()
	msgRepo := &mockMessageRepo{}
	return NewService(chatRepo, msgRepo), chatRepo, msgRepo
}

func TestCreateChat_DirectRequiresOneOther(t *testing.T) {
	svc, _, _ := newTestService()
	ctx := context.Background()
	creator := uuid.New()

	err := svc.CreateChat(ctx, &Chat{CreatedBy: creator}, nil)
	if err == nil {
		t.Error("expected error for direct chat with no other member")
	}

	err = svc.CreateChat(ctx, &Chat{CreatedBy: creator}, []uuid.UUID{uuid.New(), uuid.New()})
	if err == nil {
		t.Error("expected error for direct chat with two other members")
	}

	err = svc.CreateChat(ctx, &Chat{CreatedBy: creator}, []uuid.UUID{uuid.New()})
	if err != nil {
		t.Errorf("unexpected error: %v", err)
	}
}

func TestCreateChat_GroupRequiresName(t *testing.T) {
	svc, _, _ := newTestService()
	ctx := context.Background()

	err := svc.CreateChat(ctx, &Chat{CreatedBy: uuid.New(), IsGroup: true}, nil)
	if err == nil {
		t.Error("expected error for unnamed group chat")
	}

	err = svc.CreateChat(ctx, &Chat{CreatedBy: uuid.New(), IsGroup: true, Name: "Ward 3"}, nil)
	if err != nil {
		t.Errorf("unexpected error: %v", err)
	}
}

func TestCreateChat_CreatorIsAdmin(t *testing.T) {
	svc, chatRepo, _ := newTestService()
	ctx := context.Background()
	creator := uuid.New()
	other := uuid.New()

	c := &Chat{CreatedBy: creator}
	if err := svc.CreateChat(ctx, c, []uuid.UUID{other}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := chatRepo.members[c.ID][creator].Role; got != "admin" {
		t.Errorf("expected creator role admin, got %s", got)
	}
	if got := chatRepo.members[c.ID][other].Role; got != "member" {
		t.Errorf("expected other role member, got %s", got)
	}
}

func TestSaveMessage_MembershipEnforced(t *testing.T) {
	svc, _, msgRepo := newTestService()
	ctx := context.Background()
	creator := uuid.New()
	other := uuid.New()
	outsider := uuid.New()

	c := &Chat{CreatedBy: creator}
	if err := svc.CreateChat(ctx, c, []uuid.UUID{other}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	err := svc.SaveMessage(ctx, &Message{ChatID: c.ID, SenderID: outsider, Content: "hi"})
	if !errors.Is(err, ErrNotMember) {
		t.Errorf("expected ErrNotMember for outsider, got %v", err)
	}
	if len(msgRepo.items) != 0 {
		t.Error("outsider message must not be persisted")
	}

	err = svc.SaveMessage(ctx, &Message{ChatID: c.ID, SenderID: other, Content: "hi"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(msgRepo.items) != 1 {
		t.Fatal("member message should be persisted")
	}
	if msgRepo.items[0].ContentType != "text" {
		t.Errorf("expected default content_type text, got %s", msgRepo.items[0].ContentType)
	}
}

func TestSaveMessage_EmptyContent(t *testing.T) {
	svc, _, _ := newTestService()
	ctx := context.Background()
	creator := uuid.New()

	c := &Chat{CreatedBy: creator}
	if err := svc.CreateChat(ctx, c, []uuid.UUID{uuid.New()}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := svc.SaveMessage(ctx, &Message{ChatID: c.ID, SenderID: creator, Content: "   "}); err == nil {
		t.Error("expected error for blank content")
	}
}

func TestListMessages_MembershipEnforced(t *testing.T) {
	svc, _, _ := newTestService()
	ctx := context.Background()
	creator := uuid.New()

	c := &Chat{CreatedBy: creator}
	if err := svc.CreateChat(ctx, c, []uuid.UUID{uuid.New()}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, _, err := svc.ListMessages(ctx, c.ID, uuid.New(), 20, 0); !errors.Is(err, ErrNotMember) {
		t.Errorf("expected ErrNotMember, got %v", err)
	}
}

func TestAddMember_ActorMustBeMember(t *testing.T) {
	svc, _, _ := newTestService()
	ctx := context.Background()
	creator := uuid.New()

	c := &Chat{CreatedBy: creator, IsGroup: true, Name: "Ward 3"}
	if err := svc.CreateChat(ctx, c, nil); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := svc.AddMember(ctx, c.ID, uuid.New(), uuid.New()); !errors.Is(err, ErrNotMember) {
		t.Errorf("expected ErrNotMember for outside actor, got %v", err)
	}
	newcomer := uuid.New()
	if err := svc.AddMember(ctx, c.ID, creator, newcomer); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	ok, _ := svc.IsMember(ctx, c.ID, newcomer)
	if !ok {
		t.Error("newcomer should be a member after AddMember")
	}
}
