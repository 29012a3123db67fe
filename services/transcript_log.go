package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/krshsl/intervue/backend/metrics"
	"github.com/krshsl/intervue/backend/models"
	"github.com/krshsl/intervue/backend/repository"
	"github.com/krshsl/intervue/backend/retry"
)

// TurnInput is one turn reported by the transport
type TurnInput struct {
	Role       models.Role    `json:"role"`
	Content    string         `json:"content"`
	Confidence *float64       `json:"confidence,omitempty"`
	Timestamp  *time.Time     `json:"timestamp,omitempty"`
	Metadata   map[string]any `json:"metadata,omitempty"`
}

// TranscriptLog appends ordered turns to ACTIVE sessions.
// Appends are serialized per session in process; the unique (session_id, sequence_number)
// index plus retry covers writers in other processes.
type TranscriptLog struct {
	repo   *repository.GORMRepository
	policy RetentionPolicy
	locks  *KeyedMutex
	retry  retry.Config
	now    func() time.Time
}

func NewTranscriptLog(repo *repository.GORMRepository, policy RetentionPolicy) *TranscriptLog {
	return &TranscriptLog{
		repo:   repo,
		policy: policy,
		locks:  NewKeyedMutex(),
		retry:  retry.ConflictConfig(repository.ErrDuplicate),
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// AppendTurn stores the next turn of an ACTIVE session with sequence number max+1
func (l *TranscriptLog) AppendTurn(ctx context.Context, sessionID string, in TurnInput) (*models.Transcript, error) {
	if in.Role != models.RoleInterviewer && in.Role != models.RoleCandidate {
		return nil, fmt.Errorf("%w: unknown role %q", ErrInvalidInput, in.Role)
	}
	if in.Confidence != nil && (*in.Confidence < 0 || *in.Confidence > 1) {
		return nil, fmt.Errorf("%w: confidence %v outside [0, 1]", ErrInvalidInput, *in.Confidence)
	}

	unlock := l.locks.Lock(sessionID)
	defer unlock()

	turn, err := retry.DoWithResult(ctx, l.retry, func() (*models.Transcript, error) {
		var created *models.Transcript
		err := l.repo.Transaction(ctx, func(tx *repository.GORMRepository) error {
			session, err := tx.LockInterviewSession(ctx, sessionID)
			if err != nil {
				return err
			}
			if session == nil {
				return ErrSessionNotFound
			}
			if session.CurrentStatus() != models.SessionActive {
				return &InvalidSessionStateError{SessionID: sessionID, Operation: "append a turn to", Current: session.Status}
			}

			max, err := tx.MaxSequenceNumber(ctx, sessionID)
			if err != nil {
				return err
			}
			now := l.now()
			ts := now
			if in.Timestamp != nil && !in.Timestamp.IsZero() {
				ts = in.Timestamp.UTC()
			}
			t := &models.Transcript{
				ID:             uuid.New().String(),
				SessionID:      sessionID,
				SequenceNumber: max + 1,
				Role:           in.Role,
				Content:        in.Content,
				Confidence:     in.Confidence,
				Timestamp:      ts,
				Metadata:       in.Metadata,
				ExpiresAt:      l.policy.TranscriptExpiry(now, session),
			}
			if err := tx.CreateTranscript(ctx, t); err != nil {
				return err
			}
			if err := tx.TouchSession(ctx, sessionID, now); err != nil {
				return err
			}
			created = t
			return nil
		})
		if errors.Is(err, repository.ErrDuplicate) {
			metrics.SequenceConflicts.Inc()
		}
		return created, err
	})
	if err != nil {
		if errors.Is(err, repository.ErrDuplicate) {
			slog.Error("Sequence number conflict persisted after retries", "session_id", sessionID)
			return nil, &ConcurrencyConflictError{SessionID: sessionID, Resource: "transcript sequence"}
		}
		return nil, err
	}

	metrics.TranscriptAppends.WithLabelValues(string(turn.Role)).Inc()
	slog.Debug("Transcript turn appended", "session_id", sessionID, "sequence", turn.SequenceNumber, "role", turn.Role)
	return turn, nil
}

// ListTurns returns a session's turns by ascending sequence number
func (l *TranscriptLog) ListTurns(ctx context.Context, sessionID string) ([]models.Transcript, error) {
	session, err := l.repo.GetInterviewSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if session == nil {
		return nil, ErrSessionNotFound
	}
	return l.repo.GetTranscripts(ctx, sessionID)
}
