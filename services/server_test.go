package services

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/krshsl/intervue/backend/models"
	"github.com/krshsl/intervue/backend/scoring"
	ws "github.com/krshsl/intervue/backend/websocket"
)

type testServer struct {
	*Server
	http *httptest.Server
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	config := &Config{
		JWT:       JWTConfig{Secret: "test-secret"},
		WebSocket: WebSocketConfig{AllowedOrigins: "*"},
		Scoring:   ScoringConfig{Weights: scoring.DefaultWeights()},
		Analysis:  AnalysisConfig{Backend: "heuristic", Timeout: 5 * time.Second},
	}
	srv := NewServer(config)
	srv.SetDatabase(openTestDB(t))
	require.NoError(t, srv.InitializeServices(context.Background()))

	ctx, cancel := context.WithCancel(context.Background())
	go srv.wsHub.Run(ctx)
	hs := httptest.NewServer(srv.SetupRoutes())
	t.Cleanup(func() {
		hs.Close()
		cancel()
		srv.Pipeline().Wait()
		srv.Close()
	})
	return &testServer{Server: srv, http: hs}
}

func (s *testServer) token(t *testing.T, userID string) string {
	t.Helper()
	token, err := s.Auth().IssueToken(userID, userID+"@example.com", time.Hour)
	require.NoError(t, err)
	return token
}

// do sends body as JSON and decodes the response into out when out is non-nil
func (s *testServer) do(t *testing.T, method, path, token string, body, out interface{}) *http.Response {
	t.Helper()
	var r io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		require.NoError(t, err)
		r = bytes.NewReader(b)
	}
	req, err := http.NewRequest(method, s.http.URL+path, r)
	require.NoError(t, err)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.http.Client().Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	if out != nil {
		require.NoError(t, json.NewDecoder(resp.Body).Decode(out))
	}
	return resp
}

type sessionEnvelope struct {
	Session models.InterviewSession `json:"session"`
}

func (s *testServer) createSession(t *testing.T, token string) models.InterviewSession {
	t.Helper()
	var created sessionEnvelope
	resp := s.do(t, http.MethodPost, "/api/v1/sessions", token, CreateSessionInput{
		JobTitle:      "Backend Engineer",
		Company:       "Acme",
		InterviewType: "technical",
		JDContext:     "Go Postgres Kubernetes",
	}, &created)
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	return created.Session
}

func TestHealthAndIndex(t *testing.T) {
	s := newTestServer(t)

	var health map[string]interface{}
	resp := s.do(t, http.MethodGet, "/health", "", nil, &health)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "ok", health["status"])
	assert.Equal(t, "up", health["database"])

	resp = s.do(t, http.MethodGet, "/api/v1/", "", nil, nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestAPIRequiresToken(t *testing.T) {
	s := newTestServer(t)

	var body map[string]string
	resp := s.do(t, http.MethodGet, "/api/v1/sessions", "", nil, &body)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	assert.Equal(t, "unauthorized", body["error"])

	resp = s.do(t, http.MethodGet, "/api/v1/sessions", "forged", nil, nil)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestInterviewOverHTTP(t *testing.T) {
	s := newTestServer(t)
	owner := s.token(t, "user-a")
	stranger := s.token(t, "user-b")

	session := s.createSession(t, owner)
	assert.Equal(t, models.SessionPending, session.Status)
	base := "/api/v1/sessions/" + session.ID

	resp := s.do(t, http.MethodGet, base, stranger, nil, nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	resp = s.do(t, http.MethodPost, base+"/turns", stranger, TurnRequest{Role: "candidate", Content: "hi"}, nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	var fb FeedbackResponse
	resp = s.do(t, http.MethodGet, base+"/feedback", owner, nil, &fb)
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
	assert.Equal(t, models.SessionPending, fb.SessionStatus)

	resp = s.do(t, http.MethodPost, base+"/turns", owner, TurnRequest{Role: "candidate", Content: "too early"}, nil)
	assert.Equal(t, http.StatusConflict, resp.StatusCode)

	live := "sess_http_1"
	var activated sessionEnvelope
	resp = s.do(t, http.MethodPost, base+"/activate", owner, ActivateRequest{OpenAISessionID: &live}, &activated)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, models.SessionActive, activated.Session.Status)

	lines := []TurnRequest{
		{Role: "interviewer", Content: "How would you scale a Postgres-backed Go service?"},
		{Role: "candidate", Content: "I would profile first, add read replicas and connection pooling, then cache hot queries. At my last job that cut p99 latency by half."},
		{Role: "assistant", Content: "How do you deploy it?"},
		{Role: "user", Content: "We ran it on Kubernetes with horizontal autoscaling and rolling deploys."},
	}
	for i, line := range lines {
		var created struct {
			Turn models.Transcript `json:"turn"`
		}
		resp = s.do(t, http.MethodPost, base+"/turns", owner, line, &created)
		require.Equal(t, http.StatusCreated, resp.StatusCode)
		assert.Equal(t, i+1, created.Turn.SequenceNumber)
	}

	resp = s.do(t, http.MethodPost, base+"/turns", owner, TurnRequest{Role: "narrator", Content: "x"}, nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	var listed struct {
		Turns []models.Transcript `json:"turns"`
		Count int                 `json:"count"`
	}
	resp = s.do(t, http.MethodGet, base+"/turns", owner, nil, &listed)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, 4, listed.Count)
	assert.Equal(t, models.RoleCandidate, listed.Turns[3].Role)

	var completed sessionEnvelope
	resp = s.do(t, http.MethodPost, base+"/complete", owner, nil, &completed)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, models.SessionCompleted, completed.Session.Status)

	s.Pipeline().Wait()

	resp = s.do(t, http.MethodGet, base+"/feedback", owner, nil, &fb)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, models.FeedbackReady, fb.FeedbackStatus)
	require.NotNil(t, fb.Feedback)
	require.NotNil(t, fb.Feedback.OverallScore)
	assert.GreaterOrEqual(t, *fb.Feedback.OverallScore, 0.0)
	assert.LessOrEqual(t, *fb.Feedback.OverallScore, 100.0)
	assert.False(t, fb.Feedback.EnhancedFeedbackGenerated)

	var enhanced struct {
		Feedback models.Feedback `json:"feedback"`
	}
	resp = s.do(t, http.MethodPost, base+"/feedback/enhanced", owner, nil, &enhanced)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.True(t, enhanced.Feedback.EnhancedFeedbackGenerated)
	assert.Equal(t, *fb.Feedback.OverallScore, *enhanced.Feedback.OverallScore)

	var edited struct {
		Feedback models.Feedback `json:"feedback"`
	}
	resp = s.do(t, http.MethodPatch, base+"/feedback", owner, NarrativeRequest{
		Summary:   "Reviewed by coach",
		Strengths: []string{"Clear scaling plan"},
	}, &edited)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "Reviewed by coach", edited.Feedback.Summary)
	assert.NotNil(t, edited.Feedback.ReviewedAt)
	assert.Equal(t, *fb.Feedback.OverallScore, *edited.Feedback.OverallScore)

	var sessions GetSessionsResponse
	resp = s.do(t, http.MethodGet, "/api/v1/sessions", owner, nil, &sessions)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, 1, sessions.Count)

	resp = s.do(t, http.MethodGet, "/api/v1/sessions", stranger, nil, &sessions)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, 0, sessions.Count)
}

func TestInsufficientTranscriptOverHTTP(t *testing.T) {
	s := newTestServer(t)
	owner := s.token(t, "user-a")
	session := s.createSession(t, owner)
	base := "/api/v1/sessions/" + session.ID

	resp := s.do(t, http.MethodPost, base+"/fallback", owner, nil, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	resp = s.do(t, http.MethodPost, base+"/turns", owner, TurnRequest{Role: "interviewer", Content: "Are you there?"}, nil)
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	resp = s.do(t, http.MethodPost, base+"/complete", owner, nil, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	s.Pipeline().Wait()

	var fb FeedbackResponse
	resp = s.do(t, http.MethodGet, base+"/feedback", owner, nil, &fb)
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
	assert.True(t, fb.Retryable)
	assert.Equal(t, models.FeedbackFailed, fb.FeedbackStatus)
	assert.Equal(t, analysisRetryAfter, resp.Header.Get("Retry-After"))

	var body map[string]string
	resp = s.do(t, http.MethodPost, base+"/feedback", owner, nil, &body)
	assert.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)
	assert.Equal(t, "insufficient_transcript", body["error"])

	resp = s.do(t, http.MethodPost, base+"/feedback/enhanced", owner, nil, nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestFailOverHTTP(t *testing.T) {
	s := newTestServer(t)
	owner := s.token(t, "user-a")
	session := s.createSession(t, owner)
	base := "/api/v1/sessions/" + session.ID

	var failed sessionEnvelope
	resp := s.do(t, http.MethodPost, base+"/fail", owner, FailRequest{Reason: "mic permission denied"}, &failed)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, models.SessionFailed, failed.Session.Status)
	assert.Equal(t, "mic permission denied", failed.Session.FailureReason)

	resp = s.do(t, http.MethodPost, base+"/complete", owner, nil, nil)
	assert.Equal(t, http.StatusConflict, resp.StatusCode)

	resp = s.do(t, http.MethodPost, base+"/activate", owner, "not an object", nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func dialSession(t *testing.T, s *testServer, token, sessionID string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(s.http.URL, "http") + "/api/v1/ws?session_id=" + sessionID + "&token=" + token
	conn, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	resp.Body.Close()
	t.Cleanup(func() { conn.Close() })
	return conn
}

func readFrame(t *testing.T, conn *websocket.Conn) ws.Message {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
	var msg ws.Message
	require.NoError(t, conn.ReadJSON(&msg))
	return msg
}

func TestRealtimeInterviewOverWebSocket(t *testing.T) {
	s := newTestServer(t)
	owner := s.token(t, "user-a")
	session := s.createSession(t, owner)
	conn := dialSession(t, s, owner, session.ID)

	live := "sess_ws_1"
	require.NoError(t, conn.WriteJSON(ws.Message{Type: ws.TypeConnected, RequestID: "r1", OpenAISessionID: &live}))
	ack := readFrame(t, conn)
	assert.Equal(t, ws.TypeAck, ack.Type)
	assert.Equal(t, "r1", ack.RequestID)
	assert.Equal(t, string(models.SessionActive), ack.Status)

	turns := []ws.Message{
		{Type: ws.TypeTurn, RequestID: "t1", Role: "assistant", Content: "Tell me about a hard bug."},
		{Type: ws.TypeTurn, RequestID: "t2", Role: "user", Content: "A race in our Go scheduler; I added a mutex, wrote a regression test and the crash rate went to zero."},
	}
	for i, turn := range turns {
		require.NoError(t, conn.WriteJSON(turn))
		ack = readFrame(t, conn)
		assert.Equal(t, ws.TypeAck, ack.Type)
		assert.Equal(t, i+1, ack.SequenceNumber)
	}

	require.NoError(t, conn.WriteJSON(ws.Message{Type: ws.TypeTurn, Role: "narrator", Content: "x"}))
	bad := readFrame(t, conn)
	assert.Equal(t, ws.TypeError, bad.Type)
	assert.Equal(t, "invalid_input", bad.Status)

	require.NoError(t, conn.WriteJSON(ws.Message{Type: ws.TypeTurn, SessionID: "someone-else", Role: "user", Content: "x"}))
	bad = readFrame(t, conn)
	assert.Equal(t, ws.TypeError, bad.Type)

	require.NoError(t, conn.WriteJSON(ws.Message{Type: ws.TypeEnd, RequestID: "e1"}))

	// The end ack and the basic feedback frame race each other
	var sawEnd, sawFeedback bool
	for !(sawEnd && sawFeedback) {
		frame := readFrame(t, conn)
		switch frame.Type {
		case ws.TypeAck:
			assert.Equal(t, "e1", frame.RequestID)
			assert.Equal(t, string(models.SessionCompleted), frame.Status)
			sawEnd = true
		case ws.TypeFeedback:
			assert.Equal(t, TierBasic, frame.Tier)
			assert.Equal(t, string(models.FeedbackReady), frame.Status)
			sawFeedback = true
		default:
			t.Fatalf("unexpected frame %+v", frame)
		}
	}

	require.NoError(t, conn.WriteJSON(ws.Message{Type: ws.TypeTurn, Role: "user", Content: "one more thing"}))
	late := readFrame(t, conn)
	assert.Equal(t, ws.TypeError, late.Type)
	assert.Equal(t, "invalid_session_state", late.Status)
}

func TestWebSocketRejectsForeignSession(t *testing.T) {
	s := newTestServer(t)
	session := s.createSession(t, s.token(t, "user-a"))

	url := "ws" + strings.TrimPrefix(s.http.URL, "http") + "/api/v1/ws?session_id=" + session.ID + "&token=" + s.token(t, "user-b")
	_, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	url = "ws" + strings.TrimPrefix(s.http.URL, "http") + "/api/v1/ws?token=" + s.token(t, "user-a")
	_, resp, err = websocket.DefaultDialer.Dial(url, nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}
