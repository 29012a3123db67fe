package services

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/krshsl/intervue/backend/models"
)

func TestTypedErrorsMatchSentinels(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		sentinel error
	}{
		{"state", &InvalidSessionStateError{SessionID: "s", Operation: "complete", Current: models.SessionPending}, ErrInvalidSessionState},
		{"transcript", &InsufficientTranscriptError{SessionID: "s"}, ErrInsufficientTranscript},
		{"backend", &AnalysisBackendError{Backend: "openai", Tier: TierBasic, Err: errors.New("503")}, ErrAnalysisBackend},
		{"conflict", &ConcurrencyConflictError{SessionID: "s", Resource: "basic feedback"}, ErrConcurrencyConflict},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			wrapped := fmt.Errorf("handler: %w", tt.err)
			assert.ErrorIs(t, wrapped, tt.sentinel)
			for _, other := range []error{ErrInvalidSessionState, ErrInsufficientTranscript, ErrAnalysisBackend, ErrConcurrencyConflict} {
				if other != tt.sentinel {
					assert.NotErrorIs(t, wrapped, other)
				}
			}
		})
	}
}

func TestAnalysisBackendErrorUnwraps(t *testing.T) {
	err := &AnalysisBackendError{Backend: "gemini", Tier: TierEnhanced, Err: context.DeadlineExceeded}
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, "enhanced analysis via gemini failed: context deadline exceeded", err.Error())
}

func TestErrorMessages(t *testing.T) {
	assert.Equal(t, "cannot complete session s-1 in status PENDING",
		(&InvalidSessionStateError{SessionID: "s-1", Operation: "complete", Current: models.SessionPending}).Error())
	assert.Equal(t, "session s-1 has 3 turns (0 from the candidate), nothing to score",
		(&InsufficientTranscriptError{SessionID: "s-1", Turns: 3}).Error())
}
