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

// enhancedColumns are written together when the enhanced tier lands
var enhancedColumns = []string{
	"enhanced_feedback_generated",
	"enhanced_report_data",
	"tone_analysis",
	"sentiment_progression",
	"keyword_relevance_score",
	"enhanced_generated_at",
	"enhanced_status",
	"enhanced_error",
	"enhanced_claimed_at",
}

func (r *GORMRepository) GetFeedbackBySession(ctx context.Context, sessionID string) (*models.Feedback, error) {
	var feedback models.Feedback
	err := r.db.WithContext(ctx).Where("session_id = ?", sessionID).First(&feedback).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		slog.Error("Failed to get feedback", "error", err, "session_id", sessionID)
		return nil, fmt.Errorf("failed to get feedback: %w", err)
	}
	return &feedback, nil
}

// CreateFeedback inserts the basic tier. A second row for the same session yields ErrDuplicate.
func (r *GORMRepository) CreateFeedback(ctx context.Context, feedback *models.Feedback) error {
	if err := r.db.WithContext(ctx).Create(feedback).Error; err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("feedback for session %s: %w", feedback.SessionID, ErrDuplicate)
		}
		slog.Error("Failed to create feedback", "error", err, "session_id", feedback.SessionID)
		return fmt.Errorf("failed to create feedback: %w", err)
	}
	slog.Info("Feedback created", "feedback_id", feedback.ID, "session_id", feedback.SessionID)
	return nil
}

// ClaimEnhancedFeedback moves the enhanced tier to PROCESSING while the gate is still closed.
// A PROCESSING claim older than staleBefore may be taken over.
func (r *GORMRepository) ClaimEnhancedFeedback(ctx context.Context, sessionID string, now, staleBefore time.Time) (bool, error) {
	res := r.db.WithContext(ctx).
		Model(&models.Feedback{}).
		Where("session_id = ? AND enhanced_feedback_generated = ?", sessionID, false).
		Where("enhanced_status IN ? OR (enhanced_status = ? AND enhanced_claimed_at < ?)",
			[]models.EnhancedStatus{models.EnhancedNone, models.EnhancedFailed},
			models.EnhancedProcessing, staleBefore).
		Updates(map[string]interface{}{
			"enhanced_status":     models.EnhancedProcessing,
			"enhanced_claimed_at": now,
		})
	if res.Error != nil {
		slog.Error("Failed to claim enhanced feedback", "error", res.Error, "session_id", sessionID)
		return false, fmt.Errorf("failed to claim enhanced feedback: %w", res.Error)
	}
	return res.RowsAffected == 1, nil
}

// CompleteEnhancedFeedback writes the enhanced tier and opens the gate in one
// conditional update. It reports false when another writer opened the gate first.
func (r *GORMRepository) CompleteEnhancedFeedback(ctx context.Context, sessionID string, enhanced *models.Feedback) (bool, error) {
	enhanced.EnhancedFeedbackGenerated = true
	enhanced.EnhancedStatus = models.EnhancedReady
	enhanced.EnhancedError = ""
	enhanced.EnhancedClaimedAt = nil
	res := r.db.WithContext(ctx).
		Model(&models.Feedback{}).
		Where("session_id = ? AND enhanced_feedback_generated = ?", sessionID, false).
		Select(enhancedColumns).
		Updates(enhanced)
	if res.Error != nil {
		slog.Error("Failed to store enhanced feedback", "error", res.Error, "session_id", sessionID)
		return false, fmt.Errorf("failed to store enhanced feedback: %w", res.Error)
	}
	return res.RowsAffected == 1, nil
}

// FailEnhancedFeedback releases an enhanced claim, leaving the gate closed
func (r *GORMRepository) FailEnhancedFeedback(ctx context.Context, sessionID, cause string) error {
	err := r.db.WithContext(ctx).
		Model(&models.Feedback{}).
		Where("session_id = ? AND enhanced_feedback_generated = ?", sessionID, false).
		Updates(map[string]interface{}{
			"enhanced_status":     models.EnhancedFailed,
			"enhanced_error":      cause,
			"enhanced_claimed_at": nil,
		}).Error
	if err != nil {
		return fmt.Errorf("failed to release enhanced claim: %w", err)
	}
	return nil
}

// UpdateFeedbackNarrative stores human edits to the narrative fields and stamps reviewed_at
func (r *GORMRepository) UpdateFeedbackNarrative(ctx context.Context, sessionID string, edit *models.Feedback, at time.Time) (bool, error) {
	edit.ReviewedAt = &at
	res := r.db.WithContext(ctx).
		Model(&models.Feedback{}).
		Where("session_id = ?", sessionID).
		Select("summary", "strengths", "areas_for_improvement", "reviewed_at").
		Updates(edit)
	if res.Error != nil {
		return false, fmt.Errorf("failed to update feedback narrative: %w", res.Error)
	}
	return res.RowsAffected == 1, nil
}
