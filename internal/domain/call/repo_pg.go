package call

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type repoPG struct{ pool *pgxpool.Pool }

func NewRepoPG(pool *pgxpool.Pool) Repository {
	return &repoPG{pool: pool}
}

const callCols = `id, caller_id, receiver_id, chat_id, call_type, call_status,
	start_time, end_time, duration, created_at, updated_at`

func (r *repoPG) scan(row pgx.Row) (*Record, error) {
	var rec Record
	err := row.Scan(&rec.ID, &rec.CallerID, &rec.ReceiverID, &rec.ChatID,
		&rec.CallType, &rec.CallStatus, &rec.StartTime, &rec.EndTime,
		&rec.Duration, &rec.CreatedAt, &rec.UpdatedAt)
	return &rec, err
}

func (r *repoPG) Create(ctx context.Context, rec *Record) error {
	rec.ID = uuid.New()
	_, err := r.pool.Exec(ctx, `
		INSERT INTO call_record (id, caller_id, receiver_id, chat_id, call_type, call_status, start_time)
		VALUES ($1,$2,$3,$4,$5,$6,$7)`,
		rec.ID, rec.CallerID, rec.ReceiverID, rec.ChatID, rec.CallType, rec.CallStatus, rec.StartTime)
	return err
}

func (r *repoPG) GetByID(ctx context.Context, id uuid.UUID) (*Record, error) {
	return r.scan(r.pool.QueryRow(ctx, `SELECT `+callCols+` FROM call_record WHERE id = $1`, id))
}

func (r *repoPG) UpdateStatus(ctx context.Context, id uuid.UUID, status string) error {
	_, err := r.pool.Exec(ctx, `
		UPDATE call_record SET call_status = $2, updated_at = now()
		WHERE id = $1`, id, status)
	return err
}

func (r *repoPG) UpdateEnd(ctx context.Context, id uuid.UUID, status string, endTime time.Time, duration int64) error {
	_, err := r.pool.Exec(ctx, `
		UPDATE call_record SET call_status = $2, end_time = $3, duration = $4, updated_at = now()
		WHERE id = $1`, id, status, endTime, duration)
	return err
}

func (r *repoPG) ListByUser(ctx context.Context, userID uuid.UUID, limit, offset int) ([]*Record, int, error) {
	var total int
	err := r.pool.QueryRow(ctx, `
		SELECT COUNT(*) FROM call_record
		WHERE caller_id = $1 OR receiver_id = $1`, userID).Scan(&total)
	if err != nil {
		return nil, 0, err
	}
	rows, err := r.pool.Query(ctx, `
		SELECT `+callCols+` FROM call_record
		WHERE caller_id = $1 OR receiver_id = $1
		ORDER BY start_time DESC LIMIT $2 OFFSET $3`, userID, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	var items []*Record
	for rows.Next() {
		rec, err := r.scan(rows)
		if err != nil {
			return nil, 0, err
		}
		items = append(items, rec)
	}
	return items, total, nil
}

func (r *repoPG) MarkMissedBefore(ctx context.Context, cutoff time.Time) ([]*Record, error) {
	rows, err := r.pool.Query(ctx, `
		UPDATE call_record SET call_status = 'missed', updated_at = now()
		WHERE call_status IN ('initiated','ringing') AND start_time < $1
		RETURNING `+callCols, cutoff)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []*Record
	for rows.Next() {
		rec, err := r.scan(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, rec)
	}
	return items, nil
}
