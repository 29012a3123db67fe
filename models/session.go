package models

import (
	"time"

	"gorm.io/gorm"
)

// SessionStatus is the lifecycle axis of an interview session
type SessionStatus string

const (
	SessionPending   SessionStatus = "PENDING"
	SessionActive    SessionStatus = "ACTIVE"
	SessionCompleted SessionStatus = "COMPLETED"
	SessionFailed    SessionStatus = "FAILED"
	// SessionFeedbackGenerated is kept for rows written by older clients.
	// Feedback progress lives on FeedbackStatus; it reads as COMPLETED.
	SessionFeedbackGenerated SessionStatus = "FEEDBACK_GENERATED"
)

// FeedbackStatus is the basic-tier feedback axis, advanced independently once a session is COMPLETED
type FeedbackStatus string

const (
	FeedbackNone       FeedbackStatus = "NONE"
	FeedbackPending    FeedbackStatus = "PENDING"
	FeedbackProcessing FeedbackStatus = "PROCESSING"
	FeedbackReady      FeedbackStatus = "READY"
	FeedbackFailed     FeedbackStatus = "FAILED"
)

// rank orders statuses along PENDING -> ACTIVE -> terminal
func (s SessionStatus) rank() int {
	switch s {
	case SessionPending:
		return 0
	case SessionActive:
		return 1
	case SessionCompleted, SessionFailed, SessionFeedbackGenerated:
		return 2
	}
	return -1
}

// Normalize maps the legacy FEEDBACK_GENERATED value onto COMPLETED
func (s SessionStatus) Normalize() SessionStatus {
	if s == SessionFeedbackGenerated {
		return SessionCompleted
	}
	return s
}

// IsTerminal reports whether the lifecycle status can no longer change
func (s SessionStatus) IsTerminal() bool {
	return s.rank() == 2
}

// IsPast reports whether s is strictly beyond other in the lifecycle
func (s SessionStatus) IsPast(other SessionStatus) bool {
	return s.rank() > other.rank()
}

// Valid reports whether s is a declared status
func (s SessionStatus) Valid() bool {
	return s.rank() >= 0
}

// InterviewSession represents each interview attempt and its point-in-time context
type InterviewSession struct {
	ID            string `gorm:"type:varchar(36);primaryKey" json:"id"`
	UserID        string `gorm:"type:varchar(36);not null;index" json:"user_id"`
	JobTitle      string `gorm:"size:255" json:"job_title"`
	Company       string `gorm:"size:255" json:"company,omitempty"`
	InterviewType string `gorm:"size:100" json:"interview_type,omitempty"` // behavioral, technical, system_design, ...
	JDContext     string `gorm:"type:text" json:"jd_context,omitempty"`
	// ResumeSnapshot is copied at creation and never updated afterwards
	ResumeSnapshot string `gorm:"type:text" json:"resume_snapshot,omitempty"`

	OpenAISessionID *string `gorm:"column:openai_session_id;size:255" json:"openai_session_id,omitempty"`
	FallbackMode    bool    `gorm:"not null;default:false" json:"fallback_mode"`

	// StartTime/EndTime are the live call clock reported by the transport
	StartTime *time.Time `json:"start_time,omitempty"`
	EndTime   *time.Time `json:"end_time,omitempty"`
	// StartedAt/EndedAt are record lifecycle timestamps
	StartedAt       *time.Time `json:"started_at,omitempty"`
	EndedAt         *time.Time `json:"ended_at,omitempty"`
	Duration        int        `json:"duration"`         // Live call seconds (EndTime - StartTime)
	DurationSeconds int        `json:"duration_seconds"` // Record seconds (EndedAt - StartedAt)

	Status         SessionStatus  `gorm:"type:varchar(32);not null;default:'PENDING';index" json:"status"`
	FailureReason  string         `gorm:"type:text" json:"failure_reason,omitempty"`
	LastActivityAt *time.Time     `gorm:"index" json:"last_activity_at,omitempty"`
	FeedbackStatus FeedbackStatus `gorm:"type:varchar(32);not null;default:'NONE';index" json:"feedback_status"`
	// FeedbackError keeps the cause of the last basic-tier failure
	FeedbackError     string     `gorm:"type:text" json:"feedback_error,omitempty"`
	FeedbackClaimedAt *time.Time `json:"-"`

	AudioURL  string         `gorm:"size:1024" json:"audio_url,omitempty"`
	ExpiresAt time.Time      `gorm:"not null;index" json:"expires_at"`
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
	DeletedAt gorm.DeletedAt `gorm:"index" json:"-"`

	// Relationships
	Transcripts []Transcript `gorm:"foreignKey:SessionID" json:"transcripts,omitempty"`
	Feedback    *Feedback    `gorm:"foreignKey:SessionID" json:"feedback,omitempty"`
}

// CurrentStatus returns the normalized lifecycle status
func (s *InterviewSession) CurrentStatus() SessionStatus {
	return s.Status.Normalize()
}

// IsLive reports whether a real-time voice session is linked
func (s *InterviewSession) IsLive() bool {
	return s.OpenAISessionID != nil && *s.OpenAISessionID != "" && !s.FallbackMode
}
