package call

import (
	"context"
	"time"

	"github.com/google/uuid"
)

type Repository interface {
	Create(ctx context.Context, r *Record) error
	GetByID(ctx context.Context, id uuid.UUID) (*Record, error)
	UpdateStatus(ctx context.Context, id uuid.UUID, status string) error
	UpdateEnd(ctx context.Context, id uuid.UUID, status string, endTime time.Time, duration int64) error
	ListByUser(ctx context.Context, userID uuid.UUID, limit, offset int) ([]*Record, int, error)
	// MarkMissedBefore flips still-ringing calls older than cutoff to
	// missed and returns the affected records.
	MarkMissedBefore(ctx context.Context, cutoff time.Time) ([]*Record, error)
}
