package call

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/carelink/carelink/internal/platform/metrics"
)

var (
	ErrCallNotFound    = errors.New("call not found")
	ErrNotParticipant  = errors.New("user is not a participant in this call")
	ErrAlreadyTerminal = errors.New("call is already in a terminal state")
)

type Service struct {
	repo Repository
	log  zerolog.Logger
	// now is swappable in tests.
	now func() time.Time
}

func NewService(repo Repository, log zerolog.Logger) *Service {
	return &Service{
		repo: repo,
		log:  log.With().Str("component", "call").Logger(),
		now:  time.Now,
	}
}

// Initiate records a new call attempt in the initiated state. The realtime
// layer decides afterwards whether the receiver can actually be rung.
func (s *Service) Initiate(ctx context.Context, callerID, receiverID uuid.UUID, chatID *uuid.UUID, callType string) (*Record, error) {
	if !ValidType(callType) {
		return nil, fmt.Errorf("invalid call type %q", callType)
	}
	if callerID == receiverID {
		return nil, fmt.Errorf("caller and receiver must differ")
	}
	rec := &Record{
		CallerID:   callerID,
		ReceiverID: receiverID,
		ChatID:     chatID,
		CallType:   callType,
		CallStatus: StatusInitiated,
		StartTime:  s.now().UTC(),
	}
	if err := s.repo.Create(ctx, rec); err != nil {
		return nil, err
	}
	metrics.CallTransition(StatusInitiated)
	return rec, nil
}

func (s *Service) Get(ctx context.Context, id uuid.UUID) (*Record, error) {
	rec, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, ErrCallNotFound
	}
	return rec, nil
}

func (s *Service) ListByUser(ctx context.Context, userID uuid.UUID, limit, offset int) ([]*Record, int, error) {
	return s.repo.ListByUser(ctx, userID, limit, offset)
}

// Accept transitions a call to answered. Only the receiver may accept,
// and only while the call is not yet terminal.
func (s *Service) Accept(ctx context.Context, id, actorID uuid.UUID) (*Record, error) {
	return s.transition(ctx, id, actorID, StatusAnswered)
}

// Reject transitions a call to rejected. Only the receiver may reject.
func (s *Service) Reject(ctx context.Context, id, actorID uuid.UUID) (*Record, error) {
	return s.transition(ctx, id, actorID, StatusRejected)
}

func (s *Service) transition(ctx context.Context, id, actorID uuid.UUID, status string) (*Record, error) {
	rec, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if actorID != rec.ReceiverID {
		return nil, ErrNotParticipant
	}
	if Terminal(rec.CallStatus) {
		return nil, ErrAlreadyTerminal
	}
	if err := s.repo.UpdateStatus(ctx, id, status); err != nil {
		return nil, err
	}
	rec.CallStatus = status
	metrics.CallTransition(status)
	return rec, nil
}

// End terminates a call. Either participant may end it. End time and the
// whole-second duration are computed here, exactly once; a second End on
// the same record reports ErrAlreadyTerminal and changes nothing.
func (s *Service) End(ctx context.Context, id, actorID uuid.UUID) (*Record, error) {
	rec, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if actorID != rec.CallerID && actorID != rec.ReceiverID {
		return nil, ErrNotParticipant
	}
	if Terminal(rec.CallStatus) {
		return nil, ErrAlreadyTerminal
	}
	end := s.now().UTC()
	duration := int64(end.Sub(rec.StartTime).Seconds())
	if duration < 0 {
		duration = 0
	}
	if err := s.repo.UpdateEnd(ctx, id, StatusEnded, end, duration); err != nil {
		return nil, err
	}
	rec.CallStatus = StatusEnded
	rec.EndTime = &end
	rec.Duration = &duration
	metrics.CallTransition(StatusEnded)
	return rec, nil
}

// SweepStale flips calls that have been ringing longer than ringWindow to
// missed and returns them so the caller can notify the parties.
func (s *Service) SweepStale(ctx context.Context, ringWindow time.Duration) ([]*Record, error) {
	cutoff := s.now().UTC().Add(-ringWindow)
	missed, err := s.repo.MarkMissedBefore(ctx, cutoff)
	if err != nil {
		return nil, err
	}
	for range missed {
		metrics.CallTransition(StatusMissed)
	}
	if len(missed) > 0 {
		s.log.Info().Int("count", len(missed)).Msg("marked stale calls as missed")
	}
	return missed, nil
}

// StartSweeper runs SweepStale on a ticker until ctx is cancelled.
func (s *Service) StartSweeper(ctx context.Context, ringWindow, every time.Duration) {
	go func() {
		ticker := time.NewTicker(every)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if _, err := s.SweepStale(ctx, ringWindow); err != nil {
					s.log.Error().Err(err).Msg("missed-call sweep failed")
				}
			}
		}
	}()
}
