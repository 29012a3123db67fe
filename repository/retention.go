package repository

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/krshsl/intervue/backend/models"
)

// DeleteExpiredTranscripts hard-deletes up to limit transcript rows past their expiry
func (r *GORMRepository) DeleteExpiredTranscripts(ctx context.Context, now time.Time, limit int) (int64, error) {
	sub := r.db.WithContext(ctx).Model(&models.Transcript{}).Select("id").Where("expires_at <= ?", now).Limit(limit)
	res := r.db.WithContext(ctx).Where("id IN (?)", sub).Delete(&models.Transcript{})
	if res.Error != nil {
		slog.Error("Failed to delete expired transcripts", "error", res.Error)
		return 0, fmt.Errorf("failed to delete expired transcripts: %w", res.Error)
	}
	return res.RowsAffected, nil
}

// DeleteExpiredFeedback hard-deletes up to limit feedback rows past their expiry
func (r *GORMRepository) DeleteExpiredFeedback(ctx context.Context, now time.Time, limit int) (int64, error) {
	sub := r.db.WithContext(ctx).Model(&models.Feedback{}).Select("id").Where("expires_at <= ?", now).Limit(limit)
	res := r.db.WithContext(ctx).Where("id IN (?)", sub).Delete(&models.Feedback{})
	if res.Error != nil {
		slog.Error("Failed to delete expired feedback", "error", res.Error)
		return 0, fmt.Errorf("failed to delete expired feedback: %w", res.Error)
	}
	return res.RowsAffected, nil
}

// ListExpiredSessions returns live (not soft-deleted) sessions past their expiry
func (r *GORMRepository) ListExpiredSessions(ctx context.Context, now time.Time, limit int) ([]models.InterviewSession, error) {
	var sessions []models.InterviewSession
	err := r.db.WithContext(ctx).
		Where("expires_at <= ?", now).
		Order("expires_at ASC").
		Limit(limit).
		Find(&sessions).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list expired sessions: %w", err)
	}
	return sessions, nil
}

// AnonymizeSession blanks the personal context of a session, removes any remaining
// children and soft-deletes the row, all in one transaction
func (r *GORMRepository) AnonymizeSession(ctx context.Context, sessionID string) error {
	return r.Transaction(ctx, func(tx *GORMRepository) error {
		db := tx.db.WithContext(ctx)
		if err := db.Where("session_id = ?", sessionID).Delete(&models.Transcript{}).Error; err != nil {
			return fmt.Errorf("failed to delete session transcripts: %w", err)
		}
		if err := db.Where("session_id = ?", sessionID).Delete(&models.Feedback{}).Error; err != nil {
			return fmt.Errorf("failed to delete session feedback: %w", err)
		}
		err := db.Model(&models.InterviewSession{}).
			Where("id = ?", sessionID).
			Updates(map[string]interface{}{
				"job_title":       "",
				"company":         "",
				"jd_context":      "",
				"resume_snapshot": "",
				"audio_url":       "",
				"failure_reason":  "",
				"feedback_error":  "",
			}).Error
		if err != nil {
			return fmt.Errorf("failed to anonymize session: %w", err)
		}
		if err := db.Where("id = ?", sessionID).Delete(&models.InterviewSession{}).Error; err != nil {
			return fmt.Errorf("failed to soft-delete session: %w", err)
		}
		return nil
	})
}
