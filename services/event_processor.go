package services

import (
	"context"
	"errors"
	"log/slog"

	"github.com/krshsl/intervue/backend/models"
	ws "github.com/krshsl/intervue/backend/websocket"
)

// RealtimeEventProcessor applies events from the voice transport to a session
// and records spoken turns in its transcript.
type RealtimeEventProcessor struct {
	machine *SessionMachine
	log     *TranscriptLog
}

func NewRealtimeEventProcessor(machine *SessionMachine, log *TranscriptLog) *RealtimeEventProcessor {
	return &RealtimeEventProcessor{machine: machine, log: log}
}

// Process handles one event and returns the frame to send back to the client
func (p *RealtimeEventProcessor) Process(ctx context.Context, sessionID string, msg ws.Message) ws.Message {
	var (
		session *models.InterviewSession
		err     error
	)

	switch msg.Type {
	case ws.TypeConnected:
		session, err = p.machine.Activate(ctx, sessionID, ActivateInput{
			OpenAISessionID: msg.OpenAISessionID,
			CallStartedAt:   msg.Timestamp,
		})

	case ws.TypeFallback:
		session, err = p.machine.EngageFallback(ctx, sessionID)

	case ws.TypeTurn:
		role, ok := models.ParseRole(msg.Role)
		if !ok {
			return errorFrame(msg, ErrInvalidInput, "unknown role "+msg.Role)
		}
		turn, err := p.log.AppendTurn(ctx, sessionID, TurnInput{
			Role:       role,
			Content:    msg.Content,
			Confidence: msg.Confidence,
			Timestamp:  msg.Timestamp,
			Metadata:   msg.Metadata,
		})
		if err != nil {
			return p.failed(sessionID, msg, err)
		}
		return ws.Message{
			Type:           ws.TypeAck,
			RequestID:      msg.RequestID,
			SessionID:      sessionID,
			SequenceNumber: turn.SequenceNumber,
			Status:         string(models.SessionActive),
		}

	case ws.TypeEnd:
		session, err = p.machine.Complete(ctx, sessionID, CompleteInput{CallEndedAt: msg.Timestamp})

	case ws.TypeError:
		reason := msg.Reason
		if reason == "" {
			reason = msg.Error
		}
		if reason == "" {
			reason = "transport error"
		}
		session, err = p.machine.Fail(ctx, sessionID, reason)

	default:
		return errorFrame(msg, ErrInvalidInput, "unknown event type "+msg.Type)
	}

	if err != nil {
		return p.failed(sessionID, msg, err)
	}
	return ws.Message{
		Type:      ws.TypeAck,
		RequestID: msg.RequestID,
		SessionID: sessionID,
		Status:    string(session.CurrentStatus()),
	}
}

func (p *RealtimeEventProcessor) failed(sessionID string, msg ws.Message, err error) ws.Message {
	level := slog.LevelWarn
	if errorCode(err) == "internal" {
		level = slog.LevelError
	}
	slog.Log(context.Background(), level, "Failed to process realtime event",
		"session_id", sessionID, "type", msg.Type, "error", err)
	return errorFrame(msg, err, "")
}

func errorFrame(msg ws.Message, err error, detail string) ws.Message {
	text := detail
	if text == "" {
		text = err.Error()
	}
	return ws.Message{
		Type:      ws.TypeError,
		RequestID: msg.RequestID,
		SessionID: msg.SessionID,
		Status:    errorCode(err),
		Error:     text,
	}
}

// errorCode names the error class carried in error frames and API bodies
func errorCode(err error) string {
	switch {
	case errors.Is(err, ErrInvalidSessionState):
		return "invalid_session_state"
	case errors.Is(err, ErrInsufficientTranscript):
		return "insufficient_transcript"
	case errors.Is(err, ErrAnalysisBackend):
		return "analysis_backend_error"
	case errors.Is(err, ErrConcurrencyConflict):
		return "concurrency_conflict"
	case errors.Is(err, ErrSessionNotFound), errors.Is(err, ErrFeedbackNotFound):
		return "not_found"
	case errors.Is(err, ErrInvalidInput):
		return "invalid_input"
	default:
		return "internal"
	}
}

// HubNotifier pushes finished feedback tiers to the clients of a session
type HubNotifier struct {
	hub *ws.Hub
}

func NewHubNotifier(hub *ws.Hub) *HubNotifier {
	return &HubNotifier{hub: hub}
}

func (n *HubNotifier) NotifyFeedback(sessionID, tier string, feedback *models.Feedback, err error) {
	msg := ws.Message{
		Type:      ws.TypeFeedback,
		SessionID: sessionID,
		Tier:      tier,
		Status:    string(models.FeedbackReady),
	}
	if err != nil {
		msg.Status = string(models.FeedbackFailed)
		msg.Error = err.Error()
	} else {
		msg.Data = feedback
	}
	n.hub.SendToSession(sessionID, msg)
}
