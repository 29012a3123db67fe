package services

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/krshsl/intervue/backend/models"
	"github.com/krshsl/intervue/backend/repository"
)

const analysisRetryAfter = "30"

type SessionEndpoints struct {
	repo     *repository.GORMRepository
	usage    *repository.UsageRepository
	machine  *SessionMachine
	log      *TranscriptLog
	pipeline *FeedbackPipeline
}

func NewSessionEndpoints(repo *repository.GORMRepository, usage *repository.UsageRepository, machine *SessionMachine, log *TranscriptLog, pipeline *FeedbackPipeline) *SessionEndpoints {
	return &SessionEndpoints{
		repo:     repo,
		usage:    usage,
		machine:  machine,
		log:      log,
		pipeline: pipeline,
	}
}

type GetSessionsResponse struct {
	Sessions []models.InterviewSession `json:"sessions"`
	Count    int                       `json:"count"`
}

type ActivateRequest struct {
	OpenAISessionID *string    `json:"openai_session_id"`
	Fallback        bool       `json:"fallback"`
	CallStartedAt   *time.Time `json:"call_started_at"`
}

type CompleteRequest struct {
	CallEndedAt *time.Time `json:"call_ended_at"`
}

type FailRequest struct {
	Reason string `json:"reason"`
}

type TurnRequest struct {
	Role       string         `json:"role"`
	Content    string         `json:"content"`
	Confidence *float64       `json:"confidence"`
	Timestamp  *time.Time     `json:"timestamp"`
	Metadata   map[string]any `json:"metadata"`
}

type NarrativeRequest struct {
	Summary             string   `json:"summary"`
	Strengths           []string `json:"strengths"`
	AreasForImprovement []string `json:"areas_for_improvement"`
}

// FeedbackResponse reports the scoring state of a session and its feedback once ready
type FeedbackResponse struct {
	SessionID      string                `json:"session_id"`
	SessionStatus  models.SessionStatus  `json:"session_status"`
	FeedbackStatus models.FeedbackStatus `json:"feedback_status"`
	Error          string                `json:"error,omitempty"`
	Retryable      bool                  `json:"retryable,omitempty"`
	Feedback       *models.Feedback      `json:"feedback,omitempty"`
}

func (e *SessionEndpoints) RegisterRoutes(r chi.Router) {
	r.Route("/sessions", func(r chi.Router) {
		r.Post("/", e.CreateSessionHandler)
		r.Get("/", e.GetSessionsHandler)
		r.Route("/{id}", func(r chi.Router) {
			r.Get("/", e.GetSessionHandler)
			r.Post("/activate", e.ActivateHandler)
			r.Post("/fallback", e.FallbackHandler)
			r.Post("/complete", e.CompleteHandler)
			r.Post("/fail", e.FailHandler)
			r.Post("/turns", e.AppendTurnHandler)
			r.Get("/turns", e.ListTurnsHandler)
			r.Get("/feedback", e.GetFeedbackHandler)
			r.Post("/feedback", e.GenerateFeedbackHandler)
			r.Patch("/feedback", e.UpdateNarrativeHandler)
			r.Post("/feedback/enhanced", e.GenerateEnhancedHandler)
		})
	})

	r.Get("/usage", e.UsageStatsHandler)
}

func (e *SessionEndpoints) CreateSessionHandler(w http.ResponseWriter, r *http.Request) {
	principal, ok := PrincipalFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized", "authentication required")
		return
	}

	var in CreateSessionInput
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_input", "invalid request body")
		return
	}
	in.UserID = principal.UserID

	session, err := e.machine.Create(r.Context(), in)
	if err != nil {
		writeServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, map[string]interface{}{"session": session})
	slog.Info("Interview session created", "session_id", session.ID, "user_id", principal.UserID)
}

func (e *SessionEndpoints) GetSessionsHandler(w http.ResponseWriter, r *http.Request) {
	principal, ok := PrincipalFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized", "authentication required")
		return
	}

	limit := queryInt(r, "limit", 20)
	offset := queryInt(r, "offset", 0)
	if limit > 100 {
		limit = 100
	}

	sessions, err := e.repo.GetInterviewSessions(r.Context(), principal.UserID, limit, offset)
	if err != nil {
		slog.Error("Failed to get interview sessions", "error", err, "user_id", principal.UserID)
		writeError(w, http.StatusInternalServerError, "internal", "failed to get sessions")
		return
	}

	writeJSON(w, http.StatusOK, GetSessionsResponse{Sessions: sessions, Count: len(sessions)})
}

func (e *SessionEndpoints) GetSessionHandler(w http.ResponseWriter, r *http.Request) {
	principal, ok := PrincipalFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized", "authentication required")
		return
	}

	sessionID := chi.URLParam(r, "id")
	session, err := e.repo.GetInterviewSessionWithDetails(r.Context(), sessionID, principal.UserID)
	if err != nil {
		slog.Error("Failed to get interview session", "error", err, "session_id", sessionID)
		writeError(w, http.StatusInternalServerError, "internal", "failed to get session")
		return
	}
	if session == nil {
		writeServiceError(w, ErrSessionNotFound)
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{"session": session})
}

func (e *SessionEndpoints) ActivateHandler(w http.ResponseWriter, r *http.Request) {
	sessionID, ok := e.authorize(w, r)
	if !ok {
		return
	}

	var req ActivateRequest
	if !decodeOptional(w, r, &req) {
		return
	}

	session, err := e.machine.Activate(r.Context(), sessionID, ActivateInput{
		OpenAISessionID: req.OpenAISessionID,
		Fallback:        req.Fallback,
		CallStartedAt:   req.CallStartedAt,
	})
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"session": session})
}

func (e *SessionEndpoints) FallbackHandler(w http.ResponseWriter, r *http.Request) {
	sessionID, ok := e.authorize(w, r)
	if !ok {
		return
	}

	session, err := e.machine.EngageFallback(r.Context(), sessionID)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"session": session})
}

func (e *SessionEndpoints) CompleteHandler(w http.ResponseWriter, r *http.Request) {
	sessionID, ok := e.authorize(w, r)
	if !ok {
		return
	}

	var req CompleteRequest
	if !decodeOptional(w, r, &req) {
		return
	}

	session, err := e.machine.Complete(r.Context(), sessionID, CompleteInput{CallEndedAt: req.CallEndedAt})
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"session": session})
}

func (e *SessionEndpoints) FailHandler(w http.ResponseWriter, r *http.Request) {
	sessionID, ok := e.authorize(w, r)
	if !ok {
		return
	}

	var req FailRequest
	if !decodeOptional(w, r, &req) {
		return
	}
	if req.Reason == "" {
		req.Reason = "reported by client"
	}

	session, err := e.machine.Fail(r.Context(), sessionID, req.Reason)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"session": session})
}

func (e *SessionEndpoints) AppendTurnHandler(w http.ResponseWriter, r *http.Request) {
	sessionID, ok := e.authorize(w, r)
	if !ok {
		return
	}

	var req TurnRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_input", "invalid request body")
		return
	}
	role, valid := models.ParseRole(req.Role)
	if !valid {
		writeError(w, http.StatusBadRequest, "invalid_input", "role must be interviewer or candidate")
		return
	}

	turn, err := e.log.AppendTurn(r.Context(), sessionID, TurnInput{
		Role:       role,
		Content:    req.Content,
		Confidence: req.Confidence,
		Timestamp:  req.Timestamp,
		Metadata:   req.Metadata,
	})
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]interface{}{"turn": turn})
}

func (e *SessionEndpoints) ListTurnsHandler(w http.ResponseWriter, r *http.Request) {
	sessionID, ok := e.authorize(w, r)
	if !ok {
		return
	}

	turns, err := e.log.ListTurns(r.Context(), sessionID)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"turns": turns, "count": len(turns)})
}

// GetFeedbackHandler answers 202 while scoring is pending, 200 once the basic tier is ready
// and 409 when scoring failed and can be retried
func (e *SessionEndpoints) GetFeedbackHandler(w http.ResponseWriter, r *http.Request) {
	sessionID, ok := e.authorize(w, r)
	if !ok {
		return
	}

	session, feedback, err := e.pipeline.GetFeedback(r.Context(), sessionID)
	if err != nil {
		writeServiceError(w, err)
		return
	}

	resp := FeedbackResponse{
		SessionID:      session.ID,
		SessionStatus:  session.CurrentStatus(),
		FeedbackStatus: session.FeedbackStatus,
		Error:          session.FeedbackError,
	}

	switch {
	case feedback != nil:
		resp.FeedbackStatus = models.FeedbackReady
		resp.Error = ""
		resp.Feedback = feedback
		writeJSON(w, http.StatusOK, resp)
	case session.CurrentStatus() != models.SessionCompleted:
		resp.Error = "session is " + string(session.CurrentStatus())
		writeJSON(w, http.StatusConflict, resp)
	case session.FeedbackStatus == models.FeedbackFailed:
		resp.Retryable = true
		w.Header().Set("Retry-After", analysisRetryAfter)
		writeJSON(w, http.StatusConflict, resp)
	default:
		writeJSON(w, http.StatusAccepted, resp)
	}
}

func (e *SessionEndpoints) GenerateFeedbackHandler(w http.ResponseWriter, r *http.Request) {
	sessionID, ok := e.authorize(w, r)
	if !ok {
		return
	}

	feedback, err := e.pipeline.ComputeBasicFeedback(r.Context(), sessionID)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"feedback": feedback})
}

func (e *SessionEndpoints) GenerateEnhancedHandler(w http.ResponseWriter, r *http.Request) {
	sessionID, ok := e.authorize(w, r)
	if !ok {
		return
	}

	feedback, err := e.pipeline.ComputeEnhancedFeedback(r.Context(), sessionID)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"feedback": feedback})
}

func (e *SessionEndpoints) UpdateNarrativeHandler(w http.ResponseWriter, r *http.Request) {
	sessionID, ok := e.authorize(w, r)
	if !ok {
		return
	}

	var req NarrativeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_input", "invalid request body")
		return
	}

	updated, err := e.repo.UpdateFeedbackNarrative(r.Context(), sessionID, &models.Feedback{
		Summary:             req.Summary,
		Strengths:           req.Strengths,
		AreasForImprovement: req.AreasForImprovement,
	}, time.Now().UTC())
	if err != nil {
		slog.Error("Failed to update feedback narrative", "error", err, "session_id", sessionID)
		writeError(w, http.StatusInternalServerError, "internal", "failed to update feedback")
		return
	}
	if !updated {
		writeServiceError(w, ErrFeedbackNotFound)
		return
	}

	feedback, err := e.repo.GetFeedbackBySession(r.Context(), sessionID)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"feedback": feedback})
}

func (e *SessionEndpoints) UsageStatsHandler(w http.ResponseWriter, r *http.Request) {
	principal, ok := PrincipalFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized", "authentication required")
		return
	}

	stats, err := e.usage.GetUserStats(r.Context(), principal.UserID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal", "failed to get usage stats")
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

// authorize resolves the {id} path parameter to a session owned by the caller
func (e *SessionEndpoints) authorize(w http.ResponseWriter, r *http.Request) (string, bool) {
	principal, ok := PrincipalFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized", "authentication required")
		return "", false
	}

	sessionID := chi.URLParam(r, "id")
	session, err := e.repo.GetInterviewSessionForUser(r.Context(), sessionID, principal.UserID)
	if err != nil {
		slog.Error("Failed to get interview session", "error", err, "session_id", sessionID)
		writeError(w, http.StatusInternalServerError, "internal", "failed to get session")
		return "", false
	}
	if session == nil {
		writeServiceError(w, ErrSessionNotFound)
		return "", false
	}
	return session.ID, true
}

// decodeOptional decodes a JSON body when one is present
func decodeOptional(w http.ResponseWriter, r *http.Request, v interface{}) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil && !errors.Is(err, io.EOF) {
		writeError(w, http.StatusBadRequest, "invalid_input", "invalid request body")
		return false
	}
	return true
}

func queryInt(r *http.Request, key string, def int) int {
	v, err := strconv.Atoi(r.URL.Query().Get(key))
	if err != nil || v < 0 {
		return def
	}
	return v
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("Failed to encode response", "error", err)
	}
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, map[string]string{"error": code, "message": message})
}

// writeServiceError maps service errors onto HTTP statuses
func writeServiceError(w http.ResponseWriter, err error) {
	code := errorCode(err)
	switch code {
	case "invalid_session_state", "concurrency_conflict":
		writeError(w, http.StatusConflict, code, err.Error())
	case "insufficient_transcript":
		writeError(w, http.StatusUnprocessableEntity, code, err.Error())
	case "analysis_backend_error":
		w.Header().Set("Retry-After", analysisRetryAfter)
		writeError(w, http.StatusServiceUnavailable, code, err.Error())
	case "not_found":
		writeError(w, http.StatusNotFound, code, err.Error())
	case "invalid_input":
		writeError(w, http.StatusBadRequest, code, err.Error())
	default:
		slog.Error("Request failed", "error", err)
		writeError(w, http.StatusInternalServerError, code, "internal error")
	}
}
