package models

import (
	"time"
)

// EnhancedStatus tracks claims on the enhanced tier of a Feedback row
type EnhancedStatus string

const (
	EnhancedNone       EnhancedStatus = "NONE"
	EnhancedProcessing EnhancedStatus = "PROCESSING"
	EnhancedReady      EnhancedStatus = "READY"
	EnhancedFailed     EnhancedStatus = "FAILED"
)

// Feedback is the single scoring artifact of a session. All scores are on a 0-100 scale.
type Feedback struct {
	ID        string `gorm:"type:varchar(36);primaryKey" json:"id"`
	SessionID string `gorm:"type:varchar(36);not null;uniqueIndex" json:"session_id"`
	UserID    string `gorm:"type:varchar(36);not null;index" json:"user_id"`

	// Basic tier
	Summary             string          `gorm:"type:text" json:"summary"`
	Strengths           []string        `gorm:"serializer:json;type:text" json:"strengths"`
	AreasForImprovement []string        `gorm:"serializer:json;type:text" json:"areas_for_improvement"`
	FillerWordCount     int             `gorm:"not null;default:0" json:"filler_word_count"`
	TranscriptScore     *float64        `json:"transcript_score"`
	ClarityScore        *float64        `json:"clarity_score"`
	ConcisenessScore    *float64        `json:"conciseness_score"`
	TechnicalDepthScore *float64        `json:"technical_depth_score"`
	StarMethodScore     *float64        `json:"star_method_score"`
	OverallScore        *float64        `json:"overall_score"`
	StructuredData      *StructuredData `gorm:"serializer:json;type:text" json:"structured_data,omitempty"`
	ReviewedAt          *time.Time      `json:"reviewed_at,omitempty"`

	// Enhanced tier, populated only when EnhancedFeedbackGenerated is true
	EnhancedFeedbackGenerated bool              `gorm:"not null;default:false" json:"enhanced_feedback_generated"`
	EnhancedReportData        *EnhancedReport   `gorm:"serializer:json;type:text" json:"enhanced_report_data,omitempty"`
	ToneAnalysis              []ToneSample      `gorm:"serializer:json;type:text" json:"tone_analysis,omitempty"`
	SentimentProgression      []SentimentSample `gorm:"serializer:json;type:text" json:"sentiment_progression,omitempty"`
	KeywordRelevanceScore     *float64          `json:"keyword_relevance_score,omitempty"`
	EnhancedGeneratedAt       *time.Time        `json:"enhanced_generated_at,omitempty"`
	EnhancedStatus            EnhancedStatus    `gorm:"type:varchar(32);not null;default:'NONE'" json:"enhanced_status"`
	EnhancedError             string            `gorm:"type:text" json:"enhanced_error,omitempty"`
	EnhancedClaimedAt         *time.Time        `json:"-"`

	ExpiresAt time.Time `gorm:"not null;index" json:"expires_at"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// StructuredData is the raw breakdown behind the basic scores
type StructuredData struct {
	ScoreScale     string             `json:"score_scale"`
	Backend        string             `json:"backend"`
	Weights        map[string]float64 `json:"weights"`
	Dimensions     map[string]float64 `json:"dimensions"`
	FillerWords    map[string]int     `json:"filler_words,omitempty"`
	TurnCount      int                `json:"turn_count"`
	CandidateTurns int                `json:"candidate_turns"`
	CandidateWords int                `json:"candidate_words"`
	AvgConfidence  *float64           `json:"avg_confidence,omitempty"`
	Signals        map[string]float64 `json:"signals,omitempty"`
}

// ToneSample classifies the tone of one candidate turn
type ToneSample struct {
	SequenceNumber int     `json:"sequence_number"`
	Tone           string  `json:"tone"`
	Confidence     float64 `json:"confidence"`
}

// SentimentSample is one point of the sentiment trend, in [-1, 1]
type SentimentSample struct {
	SequenceNumber int     `json:"sequence_number"`
	Score          float64 `json:"score"`
	Label          string  `json:"label"`
}

// EnhancedReport bundles the enhanced tier for rendering
type EnhancedReport struct {
	Backend          string         `json:"backend"`
	DominantTone     string         `json:"dominant_tone"`
	ToneDistribution map[string]int `json:"tone_distribution"`
	SentimentTrend   string         `json:"sentiment_trend"` // improving, declining, stable
	AverageSentiment float64        `json:"average_sentiment"`
	MatchedKeywords  []string       `json:"matched_keywords"`
	MissingKeywords  []string       `json:"missing_keywords"`
	Insights         []string       `json:"insights,omitempty"`
}

// DimensionScores returns the four weighted dimensions keyed by name
func (f *Feedback) DimensionScores() map[string]float64 {
	out := make(map[string]float64, 4)
	put := func(k string, v *float64) {
		if v != nil {
			out[k] = *v
		}
	}
	put("clarity", f.ClarityScore)
	put("conciseness", f.ConcisenessScore)
	put("technical_depth", f.TechnicalDepthScore)
	put("star_method", f.StarMethodScore)
	return out
}
