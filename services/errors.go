package services

import (
	"errors"
	"fmt"

	"github.com/krshsl/intervue/backend/models"
)

// Sentinels matched with errors.Is against the typed errors below
var (
	ErrInvalidSessionState    = errors.New("invalid session state")
	ErrInsufficientTranscript = errors.New("insufficient transcript")
	ErrAnalysisBackend        = errors.New("analysis backend failed")
	ErrConcurrencyConflict    = errors.New("concurrency conflict")
	ErrSessionNotFound        = errors.New("session not found")
	ErrFeedbackNotFound       = errors.New("feedback not found")
	ErrInvalidInput           = errors.New("invalid input")
)

// InvalidSessionStateError is returned when an operation is not allowed in the session's current status
type InvalidSessionStateError struct {
	SessionID string
	Operation string
	Current   models.SessionStatus
}

func (e *InvalidSessionStateError) Error() string {
	return fmt.Sprintf("cannot %s session %s in status %s", e.Operation, e.SessionID, e.Current)
}

func (e *InvalidSessionStateError) Is(target error) bool {
	return target == ErrInvalidSessionState
}

// InsufficientTranscriptError is returned when a transcript has nothing to score
type InsufficientTranscriptError struct {
	SessionID      string
	Turns          int
	CandidateTurns int
}

func (e *InsufficientTranscriptError) Error() string {
	return fmt.Sprintf("session %s has %d turns (%d from the candidate), nothing to score",
		e.SessionID, e.Turns, e.CandidateTurns)
}

func (e *InsufficientTranscriptError) Is(target error) bool {
	return target == ErrInsufficientTranscript
}

// AnalysisBackendError wraps a failed or timed out analysis call. It is always retryable.
type AnalysisBackendError struct {
	Backend string
	Tier    string
	Err     error
}

func (e *AnalysisBackendError) Error() string {
	return fmt.Sprintf("%s analysis via %s failed: %v", e.Tier, e.Backend, e.Err)
}

func (e *AnalysisBackendError) Is(target error) bool {
	return target == ErrAnalysisBackend
}

func (e *AnalysisBackendError) Unwrap() error {
	return e.Err
}

// ConcurrencyConflictError reports a lost compare-and-swap. Callers treat it as a no-op.
type ConcurrencyConflictError struct {
	SessionID string
	Resource  string
}

func (e *ConcurrencyConflictError) Error() string {
	return fmt.Sprintf("%s of session %s is held by another writer", e.Resource, e.SessionID)
}

func (e *ConcurrencyConflictError) Is(target error) bool {
	return target == ErrConcurrencyConflict
}
