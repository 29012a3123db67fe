package models

import (
	"time"
)

// Role identifies the speaker of a transcript turn
type Role string

const (
	RoleInterviewer Role = "interviewer"
	RoleCandidate   Role = "candidate"
)

// ParseRole accepts the transport's speaker labels
func ParseRole(s string) (Role, bool) {
	switch s {
	case "interviewer", "agent", "assistant":
		return RoleInterviewer, true
	case "candidate", "user":
		return RoleCandidate, true
	}
	return "", false
}

// Transcript stores one ordered conversational turn.
// SequenceNumber is the authoritative order; Timestamp is informational only.
type Transcript struct {
	ID             string         `gorm:"type:varchar(36);primaryKey" json:"id"`
	SessionID      string         `gorm:"type:varchar(36);not null;uniqueIndex:idx_transcript_session_seq,priority:1" json:"session_id"`
	SequenceNumber int            `gorm:"not null;uniqueIndex:idx_transcript_session_seq,priority:2" json:"sequence_number"`
	Role           Role           `gorm:"type:varchar(32);not null" json:"role"`
	Content        string         `gorm:"type:text;not null" json:"content"`
	Confidence     *float64       `json:"confidence,omitempty"` // Speech-to-text confidence, 0..1
	Timestamp      time.Time      `gorm:"not null" json:"timestamp"`
	Metadata       map[string]any `gorm:"serializer:json;type:text" json:"metadata,omitempty"`
	ExpiresAt      time.Time      `gorm:"not null;index" json:"expires_at"`
	CreatedAt      time.Time      `json:"created_at"`
}
