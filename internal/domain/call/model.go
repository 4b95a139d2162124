package call

import (
	"time"

	"github.com/google/uuid"
)

// Call lifecycle statuses. A record moves initiated -> ringing ->
// answered/rejected/missed/failed, and finally ended. Terminal statuses
// never change again.
const (
	StatusInitiated = "initiated"
	StatusRinging   = "ringing"
	StatusAnswered  = "answered"
	StatusRejected  = "rejected"
	StatusMissed    = "missed"
	StatusEnded     = "ended"
	StatusFailed    = "failed"
)

const (
	TypeVoice = "voice"
	TypeVideo = "video"
)

// Record is the durable ledger entry for one call attempt. Duration is
// whole seconds, computed exactly once when the call ends.
type Record struct {
	ID         uuid.UUID  `db:"id" json:"id"`
	CallerID   uuid.UUID  `db:"caller_id" json:"caller_id"`
	ReceiverID uuid.UUID  `db:"receiver_id" json:"receiver_id"`
	ChatID     *uuid.UUID `db:"chat_id" json:"chat_id,omitempty"`
	CallType   string     `db:"call_type" json:"call_type"`
	CallStatus string     `db:"call_status" json:"call_status"`
	StartTime  time.Time  `db:"start_time" json:"start_time"`
	EndTime    *time.Time `db:"end_time" json:"end_time,omitempty"`
	Duration   *int64     `db:"duration" json:"duration,omitempty"`
	CreatedAt  time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt  time.Time  `db:"updated_at" json:"updated_at"`
}

// Terminal reports whether the status admits no further transitions.
func Terminal(status string) bool {
	switch status {
	case StatusRejected, StatusMissed, StatusEnded, StatusFailed:
		return true
	}
	return false
}

// ValidType reports whether t is a supported call type.
func ValidType(t string) bool {
	return t == TypeVoice || t == TypeVideo
}
