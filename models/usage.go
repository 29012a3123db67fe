package models

import (
	"time"
)

// Usage event types consumed by metering
const (
	EventSessionCreated            = "session_created"
	EventSessionStarted            = "session_started"
	EventSessionCompleted          = "session_completed"
	EventSessionFailed             = "session_failed"
	EventFeedbackBasicGenerated    = "feedback_basic_generated"
	EventFeedbackEnhancedGenerated = "feedback_enhanced_generated"
	EventFeedbackFailed            = "feedback_failed"
)

// UsageEvent is an append-only audit/metering record
type UsageEvent struct {
	ID         string         `gorm:"type:varchar(36);primaryKey" json:"id"`
	UserID     *string        `gorm:"type:varchar(36);index" json:"user_id,omitempty"`
	EventType  string         `gorm:"type:varchar(64);not null;index" json:"event_type"`
	Details    map[string]any `gorm:"serializer:json;type:text" json:"details,omitempty"`
	OccurredAt time.Time      `gorm:"not null;index" json:"occurred_at"`
}

// TableName returns the table name for the UsageEvent model
func (UsageEvent) TableName() string {
	return "usage_events"
}

// UsageStats aggregates metering counts for a user
type UsageStats struct {
	TotalSessions     int64      `json:"total_sessions"`
	CompletedSessions int64      `json:"completed_sessions"`
	BasicFeedback     int64      `json:"basic_feedback"`
	EnhancedFeedback  int64      `json:"enhanced_feedback"`
	LastActivity      *time.Time `json:"last_activity"`
}
