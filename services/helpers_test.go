package services

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/krshsl/intervue/backend/models"
	"github.com/krshsl/intervue/backend/repository"
	"github.com/krshsl/intervue/backend/scoring"
)

func openTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := filepath.Join(t.TempDir(), "test.db") + "?_pragma=busy_timeout(5000)"
	db, err := repository.Open(repository.Options{Driver: "sqlite", DSN: dsn, MaxOpenConns: 1})
	require.NoError(t, err)
	require.NoError(t, repository.NewGORMRepository(db).AutoMigrate())
	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			sqlDB.Close()
		}
	})
	return db
}

type fixture struct {
	repo     *repository.GORMRepository
	usage    *repository.UsageRepository
	policy   RetentionPolicy
	machine  *SessionMachine
	log      *TranscriptLog
	pipeline *FeedbackPipeline
	analyzer *stubAnalyzer
}

func newFixture(t *testing.T, opts PipelineOptions) *fixture {
	t.Helper()
	db := openTestDB(t)
	repo := repository.NewGORMRepository(db)
	usage := repository.NewUsageRepository(db)
	policy := NewRetentionPolicy(RetentionConfig{})
	analyzer := newStubAnalyzer()

	opts.Policy = policy
	pipeline := NewFeedbackPipeline(repo, usage, analyzer, opts)
	t.Cleanup(pipeline.Wait)

	return &fixture{
		repo:     repo,
		usage:    usage,
		policy:   policy,
		machine:  NewSessionMachine(repo, usage, policy),
		log:      NewTranscriptLog(repo, policy),
		pipeline: pipeline,
		analyzer: analyzer,
	}
}

func (f *fixture) createSession(t *testing.T) *models.InterviewSession {
	t.Helper()
	s, err := f.machine.Create(context.Background(), CreateSessionInput{
		UserID:        "user-1",
		JobTitle:      "Backend Engineer",
		Company:       "Acme",
		InterviewType: "technical",
		JDContext:     "Go Postgres Kubernetes distributed systems",
	})
	require.NoError(t, err)
	return s
}

func (f *fixture) activeSession(t *testing.T) *models.InterviewSession {
	t.Helper()
	s := f.createSession(t)
	id := "sess_live_123"
	active, err := f.machine.Activate(context.Background(), s.ID, ActivateInput{OpenAISessionID: &id})
	require.NoError(t, err)
	return active
}

func (f *fixture) appendTurns(t *testing.T, sessionID string, n int) {
	t.Helper()
	for i := 0; i < n; i++ {
		role, content := models.RoleInterviewer, fmt.Sprintf("Question %d: how would you design a rate limiter?", i/2+1)
		if i%2 == 1 {
			role = models.RoleCandidate
			content = "I built a token bucket in Go backed by Redis, measured p99 latency, and the result cut errors by 40 percent."
		}
		_, err := f.log.AppendTurn(context.Background(), sessionID, TurnInput{Role: role, Content: content})
		require.NoError(t, err)
	}
}

// completedSession returns a COMPLETED session with n alternating turns
func (f *fixture) completedSession(t *testing.T, n int) *models.InterviewSession {
	t.Helper()
	s := f.activeSession(t)
	f.appendTurns(t, s.ID, n)
	done, err := f.machine.Complete(context.Background(), s.ID, CompleteInput{})
	require.NoError(t, err)
	return done
}

// stubAnalyzer returns fixed dimensions and counts its calls
type stubAnalyzer struct {
	mu            sync.Mutex
	basicErr      error
	enhancedErr   error
	block         bool
	dims          scoring.Dimensions
	basicCalls    atomic.Int32
	enhancedCalls atomic.Int32
}

func newStubAnalyzer() *stubAnalyzer {
	return &stubAnalyzer{dims: scoring.Dimensions{Clarity: 80, Conciseness: 70, TechnicalDepth: 90, StarMethod: 60}}
}

func (a *stubAnalyzer) Name() string { return "stub" }

func (a *stubAnalyzer) setBasicErr(err error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.basicErr = err
}

func (a *stubAnalyzer) AnalyzeBasic(ctx context.Context, in AnalysisInput) (*BasicAnalysis, error) {
	a.basicCalls.Add(1)
	a.mu.Lock()
	err, block := a.basicErr, a.block
	a.mu.Unlock()
	if block {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	if err != nil {
		return nil, err
	}
	// Widen the window in which duplicate triggers overlap
	time.Sleep(20 * time.Millisecond)
	return &BasicAnalysis{
		Dimensions: a.dims,
		Narrative: scoring.Narrative{
			Summary:             "Solid technical answers.",
			Strengths:           []string{"Quantified impact"},
			AreasForImprovement: []string{"Add more structure"},
		},
	}, nil
}

func (a *stubAnalyzer) AnalyzeEnhanced(ctx context.Context, in AnalysisInput, basic *models.Feedback) (*EnhancedAnalysis, error) {
	a.enhancedCalls.Add(1)
	a.mu.Lock()
	err := a.enhancedErr
	a.mu.Unlock()
	if err != nil {
		return nil, err
	}
	res := scoring.AnalyzeEnhanced(in.Turns, in.Context)
	return &EnhancedAnalysis{Result: res, Insights: []string{"Steady tone"}}, nil
}

type notification struct {
	sessionID string
	tier      string
	feedback  *models.Feedback
	err       error
}

type recordingNotifier struct {
	mu  sync.Mutex
	got []notification
}

func (n *recordingNotifier) NotifyFeedback(sessionID, tier string, feedback *models.Feedback, err error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.got = append(n.got, notification{sessionID: sessionID, tier: tier, feedback: feedback, err: err})
}

func (n *recordingNotifier) all() []notification {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]notification(nil), n.got...)
}
