package chat

import (
	"context"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type chatRepoPG struct{ pool *pgxpool.Pool }

func NewChatRepoPG(pool *pgxpool.Pool) ChatRepository {
	return &chatRepoPG{pool: pool}
}

const chatCols = `id, name, is_group, created_by, created_at, updated_at`

func (r *chatRepoPG) scan(row pgx.Row) (*Chat, error) {
	var c Chat
	err := row.Scan(&c.ID, &c.Name, &c.IsGroup, &c.CreatedBy, &c.CreatedAt, &c.UpdatedAt)
	return &c, err
}

// Create inserts the chat and its initial membership in one transaction.
// The creator is always added as admin even if absent from memberIDs.
func (r *chatRepoPG) Create(ctx context.Context, c *Chat, memberIDs []uuid.UUID) error {
	c.ID = uuid.New()
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	_, err = tx.Exec(ctx, `
		INSERT INTO chats (id, name, is_group, created_by)
		VALUES ($1,$2,$3,$4)`,
		c.ID, c.Name, c.IsGroup, c.CreatedBy)
	if err != nil {
		return err
	}
	_, err = tx.Exec(ctx, `
		INSERT INTO chat_member (chat_id, user_id, role)
		VALUES ($1,$2,'admin')`, c.ID, c.CreatedBy)
	if err != nil {
		return err
	}
	for _, uid := range memberIDs {
		if uid == c.CreatedBy {
			continue
		}
		_, err = tx.Exec(ctx, `
			INSERT INTO chat_member (chat_id, user_id, role)
			VALUES ($1,$2,'member')
			ON CONFLICT (chat_id, user_id) DO NOTHING`, c.ID, uid)
		if err != nil {
			return err
		}
	}
	return tx.Commit(ctx)
}

func (r *chatRepoPG) GetByID(ctx context.Context, id uuid.UUID) (*Chat, error) {
	return r.scan(r.pool.QueryRow(ctx, `SELECT `+chatCols+` FROM chats WHERE id = $1`, id))
}

func (r *chatRepoPG) ListByUser(ctx context.Context, userID uuid.UUID, limit, offset int) ([]*Chat, int, error) {
	var total int
	err := r.pool.QueryRow(ctx, `
		SELECT COUNT(*) FROM chats c
		JOIN chat_member m ON m.chat_id = c.id
		WHERE m.user_id = $1`, userID).Scan(&total)
	if err != nil {
		return nil, 0, err
	}
	rows, err := r.pool.Query(ctx, `
		SELECT `+chatCols+` FROM chats c
		JOIN chat_member m ON m.chat_id = c.id
		WHERE m.user_id = $1
		ORDER BY c.updated_at DESC LIMIT $2 OFFSET $3`, userID, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	var items []*Chat
	for rows.Next() {
		c, err := r.scan(rows)
		if err != nil {
			return nil, 0, err
		}
		items = append(items, c)
	}
	return items, total, nil
}

func (r *chatRepoPG) IsMember(ctx context.Context, chatID, userID uuid.UUID) (bool, error) {
	var ok bool
	err := r.pool.QueryRow(ctx, `
		SELECT EXISTS(SELECT 1 FROM chat_member WHERE chat_id = $1 AND user_id = $2)`,
		chatID, userID).Scan(&ok)
	return ok, err
}

func (r *chatRepoPG) AddMember(ctx context.Context, m *Member) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO chat_member (chat_id, user_id, role)
		VALUES ($1,$2,$3)
		ON CONFLICT (chat_id, user_id) DO NOTHING`,
		m.ChatID, m.UserID, m.Role)
	return err
}

func (r *chatRepoPG) MarkRead(ctx context.Context, chatID, userID uuid.UUID) error {
	_, err := r.pool.Exec(ctx, `
		UPDATE chat_member SET last_read_at = now()
		WHERE chat_id = $1 AND user_id = $2`, chatID, userID)
	return err
}

type messageRepoPG struct{ pool *pgxpool.Pool }

func NewMessageRepoPG(pool *pgxpool.Pool) MessageRepository {
	return &messageRepoPG{pool: pool}
}

const messageCols = `id, chat_id, sender_id, sender_name, content, content_type, created_at`

func (r *messageRepoPG) Create(ctx context.Context, m *Message) error {
	m.ID = uuid.New()
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	_, err = tx.Exec(ctx, `
		INSERT INTO chat_message (id, chat_id, sender_id, sender_name, content, content_type)
		VALUES ($1,$2,$3,$4,$5,$6)`,
		m.ID, m.ChatID, m.SenderID, m.SenderName, m.Content, m.ContentType)
	if err != nil {
		return err
	}
	// Bump the chat so recency-ordered listings surface it first.
	_, err = tx.Exec(ctx, `UPDATE chats SET updated_at = now() WHERE id = $1`, m.ChatID)
	if err != nil {
		return err
	}
	return tx.Commit(ctx)
}

func (r *messageRepoPG) ListByChat(ctx context.Context, chatID uuid.UUID, limit, offset int) ([]*Message, int, error) {
	var total int
	err := r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM chat_message WHERE chat_id = $1`, chatID).Scan(&total)
	if err != nil {
		return nil, 0, err
	}
	rows, err := r.pool.Query(ctx, `
		SELECT `+messageCols+` FROM chat_message
		WHERE chat_id = $1
		ORDER BY created_at DESC LIMIT $2 OFFSET $3`, chatID, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	var items []*Message
	for rows.Next() {
		var m Message
		err := rows.Scan(&m.ID, &m.ChatID, &m.SenderID, &m.SenderName,
			&m.Content, &m.ContentType, &m.CreatedAt)
		if err != nil {
			return nil, 0, err
		}
		items = append(items, &m)
	}
	return items, total, nil
}
