package repository

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/krshsl/intervue/backend/models"
	"gorm.io/gorm"
)

// completedStatuses are the rows that read as COMPLETED
var completedStatuses = []models.SessionStatus{models.SessionCompleted, models.SessionFeedbackGenerated}

func (r *GORMRepository) CreateInterviewSession(ctx context.Context, session *models.InterviewSession) error {
	if err := r.db.WithContext(ctx).Create(session).Error; err != nil {
		slog.Error("Failed to create interview session", "error", err)
		return fmt.Errorf("failed to create interview session: %w", err)
	}
	slog.Info("Interview session created", "session_id", session.ID, "user_id", session.UserID)
	return nil
}

// GetInterviewSession gets an interview session by ID without user check
func (r *GORMRepository) GetInterviewSession(ctx context.Context, sessionID string) (*models.InterviewSession, error) {
	var session models.InterviewSession
	err := r.db.WithContext(ctx).
		Where("id = ?", sessionID).
		First(&session).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		slog.Error("Failed to get interview session", "error", err, "session_id", sessionID)
		return nil, fmt.Errorf("failed to get interview session: %w", err)
	}
	return &session, nil
}

// GetInterviewSessionForUser gets a session owned by userID
func (r *GORMRepository) GetInterviewSessionForUser(ctx context.Context, sessionID, userID string) (*models.InterviewSession, error) {
	var session models.InterviewSession
	err := r.db.WithContext(ctx).
		Where("id = ? AND user_id = ?", sessionID, userID).
		First(&session).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		slog.Error("Failed to get interview session", "error", err, "session_id", sessionID, "user_id", userID)
		return nil, fmt.Errorf("failed to get interview session: %w", err)
	}
	return &session, nil
}

// GetInterviewSessionWithDetails loads transcripts in sequence order and feedback
func (r *GORMRepository) GetInterviewSessionWithDetails(ctx context.Context, sessionID, userID string) (*models.InterviewSession, error) {
	var session models.InterviewSession
	err := r.db.WithContext(ctx).
		Where("id = ? AND user_id = ?", sessionID, userID).
		Preload("Transcripts", func(db *gorm.DB) *gorm.DB {
			return db.Order("sequence_number ASC")
		}).
		Preload("Feedback").
		First(&session).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		slog.Error("Failed to get interview session with details", "error", err, "session_id", sessionID, "user_id", userID)
		return nil, fmt.Errorf("failed to get interview session with details: %w", err)
	}
	return &session, nil
}

func (r *GORMRepository) GetInterviewSessions(ctx context.Context, userID string, limit, offset int) ([]models.InterviewSession, error) {
	var sessions []models.InterviewSession
	q := r.db.WithContext(ctx).Where("user_id = ?", userID).Order("created_at DESC")
	if limit > 0 {
		q = q.Limit(limit).Offset(offset)
	}
	if err := q.Find(&sessions).Error; err != nil {
		slog.Error("Failed to get interview sessions", "error", err, "user_id", userID)
		return nil, fmt.Errorf("failed to get interview sessions: %w", err)
	}
	return sessions, nil
}

// LockInterviewSession reads a session inside a transaction, holding a row lock where supported
func (r *GORMRepository) LockInterviewSession(ctx context.Context, sessionID string) (*models.InterviewSession, error) {
	var session models.InterviewSession
	err := r.forUpdate(r.db.WithContext(ctx)).Where("id = ?", sessionID).First(&session).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to lock interview session: %w", err)
	}
	return &session, nil
}

// TransitionSession applies updates only while the session is in one of the
// from statuses. It reports whether this caller won the compare-and-swap.
func (r *GORMRepository) TransitionSession(ctx context.Context, sessionID string, from []models.SessionStatus, updates map[string]interface{}) (bool, error) {
	res := r.db.WithContext(ctx).
		Model(&models.InterviewSession{}).
		Where("id = ? AND status IN ?", sessionID, from).
		Updates(updates)
	if res.Error != nil {
		slog.Error("Failed to transition interview session", "error", res.Error, "session_id", sessionID)
		return false, fmt.Errorf("failed to transition interview session: %w", res.Error)
	}
	return res.RowsAffected == 1, nil
}

// EnableFallback flips fallback mode on an ACTIVE session. Reports false when
// the session is not ACTIVE or already in fallback.
func (r *GORMRepository) EnableFallback(ctx context.Context, sessionID string) (bool, error) {
	res := r.db.WithContext(ctx).
		Model(&models.InterviewSession{}).
		Where("id = ? AND status = ? AND fallback_mode = ?", sessionID, models.SessionActive, false).
		Update("fallback_mode", true)
	if res.Error != nil {
		return false, fmt.Errorf("failed to enable fallback mode: %w", res.Error)
	}
	return res.RowsAffected == 1, nil
}

// TouchSession records transcript activity on a session
func (r *GORMRepository) TouchSession(ctx context.Context, sessionID string, at time.Time) error {
	err := r.db.WithContext(ctx).
		Model(&models.InterviewSession{}).
		Where("id = ?", sessionID).
		Update("last_activity_at", at).Error
	if err != nil {
		return fmt.Errorf("failed to touch interview session: %w", err)
	}
	return nil
}

// ClaimBasicFeedback moves the basic tier to PROCESSING on a COMPLETED session.
// A PROCESSING claim older than staleBefore may be taken over.
func (r *GORMRepository) ClaimBasicFeedback(ctx context.Context, sessionID string, now, staleBefore time.Time) (bool, error) {
	res := r.db.WithContext(ctx).
		Model(&models.InterviewSession{}).
		Where("id = ? AND status IN ?", sessionID, completedStatuses).
		Where("feedback_status IN ? OR (feedback_status = ? AND feedback_claimed_at < ?)",
			[]models.FeedbackStatus{models.FeedbackNone, models.FeedbackPending, models.FeedbackFailed},
			models.FeedbackProcessing, staleBefore).
		Updates(map[string]interface{}{
			"feedback_status":     models.FeedbackProcessing,
			"feedback_claimed_at": now,
		})
	if res.Error != nil {
		slog.Error("Failed to claim basic feedback", "error", res.Error, "session_id", sessionID)
		return false, fmt.Errorf("failed to claim basic feedback: %w", res.Error)
	}
	return res.RowsAffected == 1, nil
}

// SetFeedbackStatus records the outcome of a basic-tier run. cause is kept for diagnostics.
func (r *GORMRepository) SetFeedbackStatus(ctx context.Context, sessionID string, status models.FeedbackStatus, cause string) error {
	updates := map[string]interface{}{
		"feedback_status": status,
		"feedback_error":  cause,
	}
	if status != models.FeedbackProcessing {
		updates["feedback_claimed_at"] = nil
	}
	err := r.db.WithContext(ctx).
		Model(&models.InterviewSession{}).
		Where("id = ?", sessionID).
		Updates(updates).Error
	if err != nil {
		slog.Error("Failed to set feedback status", "error", err, "session_id", sessionID, "status", status)
		return fmt.Errorf("failed to set feedback status: %w", err)
	}
	return nil
}

// FailBasicFeedback marks a running basic tier FAILED. It only applies while the
// tier is PROCESSING, so a worker whose claim was taken over cannot undo READY.
func (r *GORMRepository) FailBasicFeedback(ctx context.Context, sessionID, cause string) (bool, error) {
	res := r.db.WithContext(ctx).
		Model(&models.InterviewSession{}).
		Where("id = ? AND feedback_status = ?", sessionID, models.FeedbackProcessing).
		Updates(map[string]interface{}{
			"feedback_status":     models.FeedbackFailed,
			"feedback_error":      cause,
			"feedback_claimed_at": nil,
		})
	if res.Error != nil {
		slog.Error("Failed to record basic feedback failure", "error", res.Error, "session_id", sessionID)
		return false, fmt.Errorf("failed to record basic feedback failure: %w", res.Error)
	}
	return res.RowsAffected == 1, nil
}

// ListIdleSessions returns ACTIVE sessions with no activity since before
func (r *GORMRepository) ListIdleSessions(ctx context.Context, before time.Time, limit int) ([]models.InterviewSession, error) {
	var sessions []models.InterviewSession
	err := r.db.WithContext(ctx).
		Where("status = ?", models.SessionActive).
		Where("(last_activity_at IS NOT NULL AND last_activity_at < ?) OR (last_activity_at IS NULL AND started_at < ?)", before, before).
		Order("started_at ASC").
		Limit(limit).
		Find(&sessions).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list idle sessions: %w", err)
	}
	return sessions, nil
}

// ListSessionsAwaitingFeedback returns COMPLETED sessions whose basic tier is
// pending, failed or stuck behind a stale claim
func (r *GORMRepository) ListSessionsAwaitingFeedback(ctx context.Context, staleBefore time.Time, limit int) ([]models.InterviewSession, error) {
	var sessions []models.InterviewSession
	err := r.db.WithContext(ctx).
		Where("status IN ?", completedStatuses).
		Where("feedback_status IN ? OR (feedback_status = ? AND feedback_claimed_at < ?)",
			[]models.FeedbackStatus{models.FeedbackPending, models.FeedbackFailed},
			models.FeedbackProcessing, staleBefore).
		Order("ended_at ASC").
		Limit(limit).
		Find(&sessions).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list sessions awaiting feedback: %w", err)
	}
	return sessions, nil
}
