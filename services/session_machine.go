package services

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/krshsl/intervue/backend/metrics"
	"github.com/krshsl/intervue/backend/models"
	"github.com/krshsl/intervue/backend/repository"
)

// CreateSessionInput is the frozen context of a new interview attempt
type CreateSessionInput struct {
	UserID         string `json:"-"`
	JobTitle       string `json:"job_title"`
	Company        string `json:"company"`
	InterviewType  string `json:"interview_type"`
	JDContext      string `json:"jd_context"`
	ResumeSnapshot string `json:"resume_snapshot"`
	AudioURL       string `json:"audio_url"`
}

// ActivateInput describes how the real-time link came up
type ActivateInput struct {
	OpenAISessionID *string    `json:"openai_session_id"`
	Fallback        bool       `json:"fallback"`
	CallStartedAt   *time.Time `json:"call_started_at"`
}

// CompleteInput carries the transport's end-of-call clock when known
type CompleteInput struct {
	CallEndedAt *time.Time `json:"call_ended_at"`
}

// SessionMachine owns the lifecycle status of interview sessions.
// Every transition is a compare-and-swap on status.
type SessionMachine struct {
	repo       *repository.GORMRepository
	usage      *repository.UsageRepository
	policy     RetentionPolicy
	now        func() time.Time
	onComplete func(sessionID string)
}

func NewSessionMachine(repo *repository.GORMRepository, usage *repository.UsageRepository, policy RetentionPolicy) *SessionMachine {
	return &SessionMachine{
		repo:   repo,
		usage:  usage,
		policy: policy,
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// OnComplete registers the hook that enqueues basic scoring after ACTIVE -> COMPLETED
func (m *SessionMachine) OnComplete(fn func(sessionID string)) {
	m.onComplete = fn
}

// Create stores a new PENDING session
func (m *SessionMachine) Create(ctx context.Context, in CreateSessionInput) (*models.InterviewSession, error) {
	if strings.TrimSpace(in.UserID) == "" {
		return nil, fmt.Errorf("%w: user id is required", ErrInvalidInput)
	}
	if strings.TrimSpace(in.JobTitle) == "" {
		return nil, fmt.Errorf("%w: job title is required", ErrInvalidInput)
	}

	now := m.now()
	session := &models.InterviewSession{
		ID:             uuid.New().String(),
		UserID:         in.UserID,
		JobTitle:       strings.TrimSpace(in.JobTitle),
		Company:        strings.TrimSpace(in.Company),
		InterviewType:  strings.TrimSpace(in.InterviewType),
		JDContext:      in.JDContext,
		ResumeSnapshot: in.ResumeSnapshot,
		AudioURL:       in.AudioURL,
		Status:         models.SessionPending,
		FeedbackStatus: models.FeedbackNone,
		ExpiresAt:      m.policy.SessionExpiry(now),
	}
	if err := m.repo.CreateInterviewSession(ctx, session); err != nil {
		return nil, err
	}

	recordUsage(ctx, m.usage, session.UserID, models.EventSessionCreated, map[string]any{
		"session_id":     session.ID,
		"interview_type": session.InterviewType,
	})
	return session, nil
}

// Get returns a session or ErrSessionNotFound
func (m *SessionMachine) Get(ctx context.Context, sessionID string) (*models.InterviewSession, error) {
	session, err := m.repo.GetInterviewSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if session == nil {
		return nil, ErrSessionNotFound
	}
	return session, nil
}

// Activate moves PENDING -> ACTIVE, linking the live session or marking fallback mode
func (m *SessionMachine) Activate(ctx context.Context, sessionID string, in ActivateInput) (*models.InterviewSession, error) {
	session, err := m.Get(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if session.CurrentStatus() != models.SessionPending {
		// Already active or past it
		metrics.TransitionNoops.WithLabelValues(string(models.SessionActive)).Inc()
		return session, nil
	}

	now := m.now()
	callStart := now
	if in.CallStartedAt != nil && !in.CallStartedAt.IsZero() {
		callStart = in.CallStartedAt.UTC()
	}
	live := !in.Fallback && in.OpenAISessionID != nil && strings.TrimSpace(*in.OpenAISessionID) != ""

	updates := map[string]interface{}{
		"status":           models.SessionActive,
		"started_at":       now,
		"start_time":       callStart,
		"last_activity_at": now,
		"fallback_mode":    !live,
	}
	if live {
		updates["openai_session_id"] = strings.TrimSpace(*in.OpenAISessionID)
	}

	won, err := m.repo.TransitionSession(ctx, sessionID, []models.SessionStatus{models.SessionPending}, updates)
	if err != nil {
		return nil, err
	}
	if !won {
		metrics.TransitionNoops.WithLabelValues(string(models.SessionActive)).Inc()
		return m.Get(ctx, sessionID)
	}

	metrics.SessionTransitions.WithLabelValues(string(models.SessionPending), string(models.SessionActive)).Inc()
	recordUsage(ctx, m.usage, session.UserID, models.EventSessionStarted, map[string]any{
		"session_id":    sessionID,
		"fallback_mode": !live,
	})
	slog.Info("Interview session activated", "session_id", sessionID, "live", live)
	return m.Get(ctx, sessionID)
}

// EngageFallback switches an ACTIVE session to fallback mode. A PENDING session
// whose live link never came up is activated directly in fallback mode.
func (m *SessionMachine) EngageFallback(ctx context.Context, sessionID string) (*models.InterviewSession, error) {
	session, err := m.Get(ctx, sessionID)
	if err != nil {
		return nil, err
	}

	switch session.CurrentStatus() {
	case models.SessionPending:
		return m.Activate(ctx, sessionID, ActivateInput{Fallback: true})
	case models.SessionActive:
		if session.FallbackMode {
			return session, nil
		}
		ok, err := m.repo.EnableFallback(ctx, sessionID)
		if err != nil {
			return nil, err
		}
		if ok {
			slog.Info("Fallback mode engaged", "session_id", sessionID)
		}
		current, err := m.Get(ctx, sessionID)
		if err != nil {
			return nil, err
		}
		if current.CurrentStatus() != models.SessionActive {
			return nil, &InvalidSessionStateError{SessionID: sessionID, Operation: "engage fallback on", Current: current.Status}
		}
		return current, nil
	default:
		return nil, &InvalidSessionStateError{SessionID: sessionID, Operation: "engage fallback on", Current: session.Status}
	}
}

// Complete moves ACTIVE -> COMPLETED, records timing and enqueues basic scoring
func (m *SessionMachine) Complete(ctx context.Context, sessionID string, in CompleteInput) (*models.InterviewSession, error) {
	session, err := m.Get(ctx, sessionID)
	if err != nil {
		return nil, err
	}

	switch session.CurrentStatus() {
	case models.SessionCompleted:
		metrics.TransitionNoops.WithLabelValues(string(models.SessionCompleted)).Inc()
		return session, nil
	case models.SessionActive:
	default:
		return nil, &InvalidSessionStateError{SessionID: sessionID, Operation: "complete", Current: session.Status}
	}

	now := m.now()
	callEnd := now
	if in.CallEndedAt != nil && !in.CallEndedAt.IsZero() {
		callEnd = in.CallEndedAt.UTC()
	}
	updates := map[string]interface{}{
		"status":           models.SessionCompleted,
		"ended_at":         now,
		"end_time":         callEnd,
		"duration":         elapsedSeconds(session.StartTime, callEnd),
		"duration_seconds": elapsedSeconds(session.StartedAt, now),
		"feedback_status":  models.FeedbackPending,
		"last_activity_at": now,
	}

	won, err := m.repo.TransitionSession(ctx, sessionID, []models.SessionStatus{models.SessionActive}, updates)
	if err != nil {
		return nil, err
	}
	current, err := m.Get(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if !won {
		if current.CurrentStatus() == models.SessionCompleted {
			metrics.TransitionNoops.WithLabelValues(string(models.SessionCompleted)).Inc()
			return current, nil
		}
		return nil, &InvalidSessionStateError{SessionID: sessionID, Operation: "complete", Current: current.Status}
	}

	metrics.SessionTransitions.WithLabelValues(string(models.SessionActive), string(models.SessionCompleted)).Inc()
	recordUsage(ctx, m.usage, session.UserID, models.EventSessionCompleted, map[string]any{
		"session_id":       sessionID,
		"duration_seconds": current.DurationSeconds,
		"fallback_mode":    current.FallbackMode,
	})
	slog.Info("Interview session completed",
		"session_id", sessionID,
		"duration", current.Duration,
		"duration_seconds", current.DurationSeconds)

	if m.onComplete != nil {
		m.onComplete(sessionID)
	}
	return current, nil
}

// Fail moves PENDING or ACTIVE -> FAILED. No scoring runs and feedbackStatus is left alone.
func (m *SessionMachine) Fail(ctx context.Context, sessionID, reason string) (*models.InterviewSession, error) {
	session, err := m.Get(ctx, sessionID)
	if err != nil {
		return nil, err
	}

	from := session.CurrentStatus()
	switch from {
	case models.SessionFailed:
		metrics.TransitionNoops.WithLabelValues(string(models.SessionFailed)).Inc()
		return session, nil
	case models.SessionPending, models.SessionActive:
	default:
		return nil, &InvalidSessionStateError{SessionID: sessionID, Operation: "fail", Current: session.Status}
	}

	now := m.now()
	updates := map[string]interface{}{
		"status":         models.SessionFailed,
		"failure_reason": reason,
		"ended_at":       now,
	}
	if session.StartedAt != nil {
		updates["duration_seconds"] = elapsedSeconds(session.StartedAt, now)
	}
	if session.StartTime != nil {
		updates["end_time"] = now
		updates["duration"] = elapsedSeconds(session.StartTime, now)
	}

	won, err := m.repo.TransitionSession(ctx, sessionID, []models.SessionStatus{models.SessionPending, models.SessionActive}, updates)
	if err != nil {
		return nil, err
	}
	current, err := m.Get(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if !won {
		if current.CurrentStatus() == models.SessionFailed {
			metrics.TransitionNoops.WithLabelValues(string(models.SessionFailed)).Inc()
			return current, nil
		}
		return nil, &InvalidSessionStateError{SessionID: sessionID, Operation: "fail", Current: current.Status}
	}

	metrics.SessionTransitions.WithLabelValues(string(from), string(models.SessionFailed)).Inc()
	recordUsage(ctx, m.usage, session.UserID, models.EventSessionFailed, map[string]any{
		"session_id": sessionID,
		"reason":     reason,
	})
	slog.Warn("Interview session failed", "session_id", sessionID, "reason", reason)
	return current, nil
}

func elapsedSeconds(start *time.Time, end time.Time) int {
	if start == nil || start.IsZero() {
		return 0
	}
	d := end.Sub(*start).Seconds()
	if d < 0 {
		return 0
	}
	return int(math.Round(d))
}

// recordUsage appends a metering event. Failures are logged and never fail the caller.
func recordUsage(ctx context.Context, usage *repository.UsageRepository, userID, eventType string, details map[string]any) {
	if usage == nil {
		return
	}
	var uid *string
	if userID != "" {
		uid = &userID
	}
	event := &models.UsageEvent{
		ID:         uuid.New().String(),
		UserID:     uid,
		EventType:  eventType,
		Details:    details,
		OccurredAt: time.Now().UTC(),
	}
	if err := usage.RecordEvent(ctx, event); err != nil {
		slog.Warn("Failed to record usage event", "event_type", eventType, "error", err)
	}
}
