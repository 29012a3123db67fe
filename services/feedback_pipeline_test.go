package services

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/krshsl/intervue/backend/models"
)

func feedbackRows(t *testing.T, f *fixture, sessionID string) int64 {
	t.Helper()
	var n int64
	require.NoError(t, f.repo.DB().Model(&models.Feedback{}).Where("session_id = ?", sessionID).Count(&n).Error)
	return n
}

func TestBasicFeedbackFields(t *testing.T) {
	f := newFixture(t, PipelineOptions{})
	s := f.completedSession(t, 6)

	feedback, err := f.pipeline.ComputeBasicFeedback(context.Background(), s.ID)
	require.NoError(t, err)

	assert.Equal(t, s.ID, feedback.SessionID)
	assert.Equal(t, s.UserID, feedback.UserID)
	assert.Equal(t, "Solid technical answers.", feedback.Summary)
	assert.Equal(t, []string{"Quantified impact"}, feedback.Strengths)
	require.NotNil(t, feedback.ClarityScore)
	assert.Equal(t, 80.0, *feedback.ClarityScore)
	assert.InDelta(t, 76.0, *feedback.OverallScore, 0.01)
	require.NotNil(t, feedback.StructuredData)
	assert.Equal(t, "stub", feedback.StructuredData.Backend)
	assert.Equal(t, 6, feedback.StructuredData.TurnCount)
	assert.Equal(t, 3, feedback.StructuredData.CandidateTurns)
	assert.False(t, feedback.EnhancedFeedbackGenerated)
	assert.Equal(t, models.EnhancedNone, feedback.EnhancedStatus)
	assert.False(t, feedback.ExpiresAt.After(s.ExpiresAt))
}

func TestDuplicateBasicTriggersWriteOneRow(t *testing.T) {
	f := newFixture(t, PipelineOptions{})
	s := f.completedSession(t, 4)

	const n = 10
	var wg sync.WaitGroup
	ids := make([]string, n)
	errs := make([]error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			fb, err := f.pipeline.ComputeBasicFeedback(context.Background(), s.ID)
			errs[i] = err
			if fb != nil {
				ids[i] = fb.ID
			}
		}(i)
	}
	wg.Wait()

	for i := 0; i < n; i++ {
		require.NoError(t, errs[i])
		assert.Equal(t, ids[0], ids[i])
	}
	assert.Equal(t, int64(1), feedbackRows(t, f, s.ID))
	assert.Equal(t, int32(1), f.analyzer.basicCalls.Load())

	// A later trigger returns the stored row without rescoring
	again, err := f.pipeline.ComputeBasicFeedback(context.Background(), s.ID)
	require.NoError(t, err)
	assert.Equal(t, ids[0], again.ID)
	assert.Equal(t, int32(1), f.analyzer.basicCalls.Load())
}

func TestBasicFeedbackRequiresCompletedSession(t *testing.T) {
	f := newFixture(t, PipelineOptions{})
	s := f.activeSession(t)
	f.appendTurns(t, s.ID, 2)

	_, err := f.pipeline.ComputeBasicFeedback(context.Background(), s.ID)
	assert.ErrorIs(t, err, ErrInvalidSessionState)
	assert.Equal(t, int32(0), f.analyzer.basicCalls.Load())

	failed := f.createSession(t)
	_, err = f.machine.Fail(context.Background(), failed.ID, "dropped")
	require.NoError(t, err)
	_, err = f.pipeline.ComputeBasicFeedback(context.Background(), failed.ID)
	assert.ErrorIs(t, err, ErrInvalidSessionState)
}

func TestInsufficientTranscript(t *testing.T) {
	f := newFixture(t, PipelineOptions{})
	s := f.activeSession(t)
	_, err := f.log.AppendTurn(context.Background(), s.ID, TurnInput{Role: models.RoleInterviewer, Content: "Hello?"})
	require.NoError(t, err)
	_, err = f.machine.Complete(context.Background(), s.ID, CompleteInput{})
	require.NoError(t, err)

	_, err = f.pipeline.ComputeBasicFeedback(context.Background(), s.ID)
	require.ErrorIs(t, err, ErrInsufficientTranscript)

	var insufficient *InsufficientTranscriptError
	require.True(t, errors.As(err, &insufficient))
	assert.Equal(t, 1, insufficient.Turns)
	assert.Equal(t, 0, insufficient.CandidateTurns)

	assert.Equal(t, int64(0), feedbackRows(t, f, s.ID))
	assert.Equal(t, int32(0), f.analyzer.basicCalls.Load())

	session, err := f.machine.Get(context.Background(), s.ID)
	require.NoError(t, err)
	assert.Equal(t, models.SessionCompleted, session.Status)
	assert.Equal(t, models.FeedbackFailed, session.FeedbackStatus)
}

func TestAnalyzerFailureWritesNoRowAndCanRetry(t *testing.T) {
	f := newFixture(t, PipelineOptions{})
	s := f.completedSession(t, 4)
	f.analyzer.setBasicErr(errors.New("upstream 500"))

	_, err := f.pipeline.ComputeBasicFeedback(context.Background(), s.ID)
	require.ErrorIs(t, err, ErrAnalysisBackend)
	assert.Equal(t, int64(0), feedbackRows(t, f, s.ID))

	session, err := f.machine.Get(context.Background(), s.ID)
	require.NoError(t, err)
	assert.Equal(t, models.FeedbackFailed, session.FeedbackStatus)
	assert.Contains(t, session.FeedbackError, "upstream 500")

	f.analyzer.setBasicErr(nil)
	feedback, err := f.pipeline.ComputeBasicFeedback(context.Background(), s.ID)
	require.NoError(t, err)
	assert.NotNil(t, feedback.OverallScore)

	session, err = f.machine.Get(context.Background(), s.ID)
	require.NoError(t, err)
	assert.Equal(t, models.FeedbackReady, session.FeedbackStatus)
	assert.Empty(t, session.FeedbackError)
}

func TestAnalyzerTimeout(t *testing.T) {
	f := newFixture(t, PipelineOptions{Timeout: 50 * time.Millisecond})
	s := f.completedSession(t, 4)
	f.analyzer.mu.Lock()
	f.analyzer.block = true
	f.analyzer.mu.Unlock()

	start := time.Now()
	_, err := f.pipeline.ComputeBasicFeedback(context.Background(), s.ID)
	require.ErrorIs(t, err, ErrAnalysisBackend)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Less(t, time.Since(start), 5*time.Second)
	assert.Equal(t, int64(0), feedbackRows(t, f, s.ID))
}

func TestEnhancedFeedbackRunsOnce(t *testing.T) {
	f := newFixture(t, PipelineOptions{})
	s := f.completedSession(t, 6)
	ctx := context.Background()

	_, err := f.pipeline.ComputeEnhancedFeedback(ctx, s.ID)
	require.ErrorIs(t, err, ErrFeedbackNotFound)

	basic, err := f.pipeline.ComputeBasicFeedback(ctx, s.ID)
	require.NoError(t, err)

	first, err := f.pipeline.ComputeEnhancedFeedback(ctx, s.ID)
	require.NoError(t, err)
	assert.True(t, first.EnhancedFeedbackGenerated)
	assert.Equal(t, models.EnhancedReady, first.EnhancedStatus)
	require.NotNil(t, first.EnhancedGeneratedAt)
	require.NotNil(t, first.EnhancedReportData)
	assert.Equal(t, []string{"Steady tone"}, first.EnhancedReportData.Insights)
	assert.NotEmpty(t, first.SentimentProgression)
	// The basic tier is untouched
	assert.Equal(t, basic.ID, first.ID)
	assert.Equal(t, *basic.OverallScore, *first.OverallScore)
	assert.Equal(t, basic.Summary, first.Summary)

	second, err := f.pipeline.ComputeEnhancedFeedback(ctx, s.ID)
	require.NoError(t, err)
	assert.True(t, first.EnhancedGeneratedAt.Equal(*second.EnhancedGeneratedAt))
	assert.Equal(t, int32(1), f.analyzer.enhancedCalls.Load())
}

func TestEnhancedFailureKeepsGateClosed(t *testing.T) {
	f := newFixture(t, PipelineOptions{})
	s := f.completedSession(t, 4)
	ctx := context.Background()

	_, err := f.pipeline.ComputeBasicFeedback(ctx, s.ID)
	require.NoError(t, err)

	f.analyzer.mu.Lock()
	f.analyzer.enhancedErr = errors.New("quota exceeded")
	f.analyzer.mu.Unlock()

	_, err = f.pipeline.ComputeEnhancedFeedback(ctx, s.ID)
	require.ErrorIs(t, err, ErrAnalysisBackend)

	stored, err := f.repo.GetFeedbackBySession(ctx, s.ID)
	require.NoError(t, err)
	assert.False(t, stored.EnhancedFeedbackGenerated)
	assert.Nil(t, stored.EnhancedGeneratedAt)
	assert.Equal(t, models.EnhancedFailed, stored.EnhancedStatus)
	assert.NotNil(t, stored.OverallScore)
}

func TestEnqueueScoresBothTiers(t *testing.T) {
	f := newFixture(t, PipelineOptions{AutoEnhanced: true})
	notifier := &recordingNotifier{}
	f.pipeline.SetNotifier(notifier)
	f.machine.OnComplete(f.pipeline.Enqueue)

	s := f.completedSession(t, 4)
	f.pipeline.Wait()

	stored, err := f.repo.GetFeedbackBySession(context.Background(), s.ID)
	require.NoError(t, err)
	require.NotNil(t, stored)
	assert.True(t, stored.EnhancedFeedbackGenerated)

	got := notifier.all()
	require.Len(t, got, 2)
	assert.Equal(t, TierBasic, got[0].tier)
	assert.Equal(t, TierEnhanced, got[1].tier)
	for _, n := range got {
		assert.Equal(t, s.ID, n.sessionID)
		assert.NoError(t, n.err)
		assert.NotNil(t, n.feedback)
	}
}

func TestNotifierReceivesFailures(t *testing.T) {
	f := newFixture(t, PipelineOptions{})
	notifier := &recordingNotifier{}
	f.pipeline.SetNotifier(notifier)
	f.analyzer.setBasicErr(errors.New("boom"))
	s := f.completedSession(t, 2)

	_, err := f.pipeline.ComputeBasicFeedback(context.Background(), s.ID)
	require.Error(t, err)

	got := notifier.all()
	require.Len(t, got, 1)
	assert.ErrorIs(t, got[0].err, ErrAnalysisBackend)
	assert.Nil(t, got[0].feedback)
}

func TestLateFailureAfterTakeoverKeepsReady(t *testing.T) {
	f := newFixture(t, PipelineOptions{})
	ctx := context.Background()
	notifier := &recordingNotifier{}
	f.pipeline.SetNotifier(notifier)
	s := f.completedSession(t, 4)

	// A slow worker claimed long ago and never finished
	old := time.Now().UTC().Add(-time.Hour)
	ok, err := f.repo.ClaimBasicFeedback(ctx, s.ID, old, old.Add(-time.Minute))
	require.NoError(t, err)
	require.True(t, ok)

	fb, err := f.pipeline.ComputeBasicFeedback(ctx, s.ID)
	require.NoError(t, err)
	require.NotNil(t, fb)

	f.pipeline.failBasic(ctx, s, errors.New("analysis timed out"))

	after, err := f.repo.GetInterviewSession(ctx, s.ID)
	require.NoError(t, err)
	assert.Equal(t, models.FeedbackReady, after.FeedbackStatus)
	assert.Empty(t, after.FeedbackError)
	got := notifier.all()
	require.Len(t, got, 1)
	assert.NoError(t, got[0].err)
}

func TestClaimTTLOutlastsAnalysisTimeout(t *testing.T) {
	f := newFixture(t, PipelineOptions{Timeout: time.Minute, ClaimTTL: 10 * time.Second})
	assert.Equal(t, 2*time.Minute, f.pipeline.opts.ClaimTTL)

	f = newFixture(t, PipelineOptions{Timeout: time.Minute, ClaimTTL: 5 * time.Minute})
	assert.Equal(t, 5*time.Minute, f.pipeline.opts.ClaimTTL)
}

func TestRescorePicksUpPendingAndFailed(t *testing.T) {
	f := newFixture(t, PipelineOptions{})
	ctx := context.Background()

	pending := f.completedSession(t, 2)
	failed := f.completedSession(t, 2)
	f.analyzer.setBasicErr(errors.New("flaky"))
	_, err := f.pipeline.ComputeBasicFeedback(ctx, failed.ID)
	require.Error(t, err)
	f.analyzer.setBasicErr(nil)

	scored, err := f.pipeline.Rescore(ctx, 10)
	require.NoError(t, err)
	assert.Equal(t, 2, scored)
	assert.Equal(t, int64(1), feedbackRows(t, f, pending.ID))
	assert.Equal(t, int64(1), feedbackRows(t, f, failed.ID))

	scored, err = f.pipeline.Rescore(ctx, 10)
	require.NoError(t, err)
	assert.Equal(t, 0, scored)
}

func TestGetFeedback(t *testing.T) {
	f := newFixture(t, PipelineOptions{})
	s := f.completedSession(t, 2)

	session, feedback, err := f.pipeline.GetFeedback(context.Background(), s.ID)
	require.NoError(t, err)
	assert.Equal(t, models.FeedbackPending, session.FeedbackStatus)
	assert.Nil(t, feedback)

	_, _, err = f.pipeline.GetFeedback(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrSessionNotFound)
}
