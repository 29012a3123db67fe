package repository

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/krshsl/intervue/backend/models"
	"gorm.io/gorm"
)

// UsageRepository appends and aggregates metering events
type UsageRepository struct {
	db *gorm.DB
}

func NewUsageRepository(db *gorm.DB) *UsageRepository {
	return &UsageRepository{db: db}
}

// RecordEvent appends a usage event
func (r *UsageRepository) RecordEvent(ctx context.Context, event *models.UsageEvent) error {
	if err := r.db.WithContext(ctx).Create(event).Error; err != nil {
		slog.Error("Failed to record usage event", "error", err, "event_type", event.EventType)
		return fmt.Errorf("failed to record usage event: %w", err)
	}
	return nil
}

// GetEvents returns the most recent events of a user, optionally filtered by type
func (r *UsageRepository) GetEvents(ctx context.Context, userID, eventType string, limit int) ([]models.UsageEvent, error) {
	var events []models.UsageEvent

	query := r.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("occurred_at DESC")
	if eventType != "" {
		query = query.Where("event_type = ?", eventType)
	}
	if limit > 0 {
		query = query.Limit(limit)
	}

	if err := query.Find(&events).Error; err != nil {
		slog.Error("Failed to get usage events", "error", err, "user_id", userID)
		return nil, fmt.Errorf("failed to get usage events: %w", err)
	}
	return events, nil
}

// GetUserStats returns metering counts for a user
func (r *UsageRepository) GetUserStats(ctx context.Context, userID string) (*models.UsageStats, error) {
	var stats models.UsageStats

	counts := []struct {
		eventType string
		dest      *int64
	}{
		{models.EventSessionCreated, &stats.TotalSessions},
		{models.EventSessionCompleted, &stats.CompletedSessions},
		{models.EventFeedbackBasicGenerated, &stats.BasicFeedback},
		{models.EventFeedbackEnhancedGenerated, &stats.EnhancedFeedback},
	}
	for _, c := range counts {
		if err := r.db.WithContext(ctx).
			Model(&models.UsageEvent{}).
			Where("user_id = ? AND event_type = ?", userID, c.eventType).
			Count(c.dest).Error; err != nil {
			slog.Error("Failed to count usage events", "error", err, "user_id", userID, "event_type", c.eventType)
			return nil, fmt.Errorf("failed to count %s events: %w", c.eventType, err)
		}
	}

	// Get last activity
	var last models.UsageEvent
	if err := r.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("occurred_at DESC").
		First(&last).Error; err != nil {
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			slog.Error("Failed to get last activity", "error", err, "user_id", userID)
			return nil, fmt.Errorf("failed to get last activity: %w", err)
		}
		// No events found, last activity is nil
	} else {
		stats.LastActivity = &last.OccurredAt
	}

	return &stats, nil
}
