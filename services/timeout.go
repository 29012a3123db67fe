package services

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/krshsl/intervue/backend/metrics"
	"github.com/krshsl/intervue/backend/models"
	"github.com/krshsl/intervue/backend/repository"
)

const (
	DefaultIdleTimeout = 30 * time.Minute
	reaperBatchSize    = 100
)

// SessionTimeoutService closes ACTIVE sessions that stopped receiving turns.
// Sessions with candidate turns are completed and scored, the rest are failed.
type SessionTimeoutService struct {
	repo        *repository.GORMRepository
	machine     *SessionMachine
	idleTimeout time.Duration
	now         func() time.Time
}

func NewSessionTimeoutService(repo *repository.GORMRepository, machine *SessionMachine, idleTimeout time.Duration) *SessionTimeoutService {
	if idleTimeout <= 0 {
		idleTimeout = DefaultIdleTimeout
	}
	return &SessionTimeoutService{
		repo:        repo,
		machine:     machine,
		idleTimeout: idleTimeout,
		now:         func() time.Time { return time.Now().UTC() },
	}
}

// ReapResult counts closed sessions per outcome
type ReapResult struct {
	Completed int `json:"completed"`
	Failed    int `json:"failed"`
}

// CheckTimeouts closes every session idle for longer than the timeout
func (s *SessionTimeoutService) CheckTimeouts(ctx context.Context) (ReapResult, error) {
	var res ReapResult
	cutoff := s.now().Add(-s.idleTimeout)

	sessions, err := s.repo.ListIdleSessions(ctx, cutoff, reaperBatchSize)
	if err != nil {
		return res, err
	}

	for i := range sessions {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		outcome, err := s.handleTimedOutSession(ctx, &sessions[i])
		if err != nil {
			if errors.Is(err, ErrInvalidSessionState) {
				// Closed by a live signal while we were looking
				continue
			}
			slog.Error("Failed to close idle session", "session_id", sessions[i].ID, "error", err)
			continue
		}
		metrics.IdleSessionsReaped.WithLabelValues(outcome).Inc()
		if outcome == "completed" {
			res.Completed++
		} else {
			res.Failed++
		}
	}

	if len(sessions) > 0 {
		slog.Info("Idle session check finished",
			"idle", len(sessions),
			"completed", res.Completed,
			"failed", res.Failed)
	}
	return res, nil
}

func (s *SessionTimeoutService) handleTimedOutSession(ctx context.Context, session *models.InterviewSession) (string, error) {
	candidateTurns, err := s.repo.CountTranscripts(ctx, session.ID, models.RoleCandidate)
	if err != nil {
		return "", err
	}

	inactiveFor := s.now().Sub(lastActivity(session))
	if candidateTurns > 0 {
		slog.Info("Session timed out, completing", "session_id", session.ID, "inactive_duration", inactiveFor)
		if _, err := s.machine.Complete(ctx, session.ID, CompleteInput{}); err != nil {
			return "", err
		}
		return "completed", nil
	}

	slog.Info("Session timed out with no candidate turns, failing", "session_id", session.ID, "inactive_duration", inactiveFor)
	if _, err := s.machine.Fail(ctx, session.ID, "timed out without candidate activity"); err != nil {
		return "", err
	}
	return "failed", nil
}

func lastActivity(s *models.InterviewSession) time.Time {
	if s.LastActivityAt != nil {
		return *s.LastActivityAt
	}
	if s.StartedAt != nil {
		return *s.StartedAt
	}
	return s.CreatedAt
}
