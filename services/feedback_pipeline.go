package services

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/singleflight"

	"github.com/krshsl/intervue/backend/metrics"
	"github.com/krshsl/intervue/backend/models"
	"github.com/krshsl/intervue/backend/repository"
	"github.com/krshsl/intervue/backend/scoring"
)

// Feedback tiers
const (
	TierBasic    = "basic"
	TierEnhanced = "enhanced"
)

const (
	defaultAnalysisTimeout = 30 * time.Second
	defaultClaimTTL        = 5 * time.Minute
)

// FeedbackNotifier is told when a tier lands or fails
type FeedbackNotifier interface {
	NotifyFeedback(sessionID, tier string, feedback *models.Feedback, err error)
}

// PipelineOptions tune the feedback pipeline
type PipelineOptions struct {
	Weights      scoring.Weights
	Policy       RetentionPolicy
	Timeout      time.Duration
	ClaimTTL     time.Duration
	AutoEnhanced bool
	// Locker is an optional cross-instance lease taken before the database claim
	Locker Locker
}

// FeedbackPipeline computes the basic and enhanced feedback tiers.
// It reads sessions and transcripts and writes only Feedback rows and the session's feedback fields.
type FeedbackPipeline struct {
	repo     *repository.GORMRepository
	usage    *repository.UsageRepository
	analyzer Analyzer
	opts     PipelineOptions
	group    singleflight.Group
	notifier FeedbackNotifier
	wg       sync.WaitGroup
	now      func() time.Time
}

func NewFeedbackPipeline(repo *repository.GORMRepository, usage *repository.UsageRepository, analyzer Analyzer, opts PipelineOptions) *FeedbackPipeline {
	if opts.Weights.Validate() != nil {
		opts.Weights = scoring.DefaultWeights()
	}
	if opts.Timeout <= 0 {
		opts.Timeout = defaultAnalysisTimeout
	}
	if opts.ClaimTTL <= 0 {
		opts.ClaimTTL = defaultClaimTTL
	}
	if opts.ClaimTTL <= opts.Timeout {
		slog.Warn("Feedback claim TTL must outlast the analysis timeout, raising it",
			"claim_ttl", opts.ClaimTTL, "analysis_timeout", opts.Timeout)
		opts.ClaimTTL = 2 * opts.Timeout
	}
	if opts.Policy.FeedbackTTL <= 0 {
		opts.Policy = NewRetentionPolicy(RetentionConfig{})
	}
	return &FeedbackPipeline{
		repo:     repo,
		usage:    usage,
		analyzer: analyzer,
		opts:     opts,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// SetNotifier registers the receiver of tier outcomes
func (p *FeedbackPipeline) SetNotifier(n FeedbackNotifier) {
	p.notifier = n
}

// Enqueue computes the basic tier in the background. Failures stay on the session's feedback status.
func (p *FeedbackPipeline) Enqueue(sessionID string) {
	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		ctx := context.Background()
		if _, err := p.ComputeBasicFeedback(ctx, sessionID); err != nil {
			p.logOutcome(sessionID, TierBasic, err)
			return
		}
		if p.opts.AutoEnhanced {
			if _, err := p.ComputeEnhancedFeedback(ctx, sessionID); err != nil {
				p.logOutcome(sessionID, TierEnhanced, err)
			}
		}
	}()
}

// Wait blocks until every enqueued job has finished
func (p *FeedbackPipeline) Wait() {
	p.wg.Wait()
}

func (p *FeedbackPipeline) logOutcome(sessionID, tier string, err error) {
	switch {
	case errors.Is(err, ErrConcurrencyConflict):
		slog.Debug("Feedback already being computed elsewhere", "session_id", sessionID, "tier", tier)
	case errors.Is(err, ErrInsufficientTranscript):
		slog.Warn("Feedback skipped, transcript has nothing to score", "session_id", sessionID, "tier", tier)
	default:
		slog.Error("Feedback computation failed", "session_id", sessionID, "tier", tier, "error", err)
	}
}

// ComputeBasicFeedback writes the basic tier of a COMPLETED session exactly once.
// A session that already has feedback gets the existing row back untouched.
func (p *FeedbackPipeline) ComputeBasicFeedback(ctx context.Context, sessionID string) (*models.Feedback, error) {
	v, err, _ := p.group.Do(TierBasic+":"+sessionID, func() (interface{}, error) {
		return p.computeBasic(ctx, sessionID)
	})
	if err != nil {
		return nil, err
	}
	return v.(*models.Feedback), nil
}

func (p *FeedbackPipeline) computeBasic(ctx context.Context, sessionID string) (*models.Feedback, error) {
	session, err := p.repo.GetInterviewSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if session == nil {
		return nil, ErrSessionNotFound
	}
	if session.CurrentStatus() != models.SessionCompleted {
		return nil, &InvalidSessionStateError{SessionID: sessionID, Operation: "score", Current: session.Status}
	}

	if existing, err := p.existingBasic(ctx, session); existing != nil || err != nil {
		return existing, err
	}

	if p.opts.Locker != nil {
		release, ok, err := p.opts.Locker.TryAcquire(ctx, "feedback:basic:"+sessionID, p.opts.ClaimTTL)
		switch {
		case err != nil:
			slog.Warn("Lock backend unavailable, relying on database claim", "session_id", sessionID, "error", err)
		case !ok:
			return nil, &ConcurrencyConflictError{SessionID: sessionID, Resource: "basic feedback"}
		default:
			defer release()
		}
	}

	now := p.now()
	won, err := p.repo.ClaimBasicFeedback(ctx, sessionID, now, now.Add(-p.opts.ClaimTTL))
	if err != nil {
		return nil, err
	}
	if !won {
		if existing, err := p.existingBasic(ctx, session); existing != nil || err != nil {
			return existing, err
		}
		return nil, &ConcurrencyConflictError{SessionID: sessionID, Resource: "basic feedback"}
	}

	turns, err := p.repo.GetTranscripts(ctx, sessionID)
	if err != nil {
		p.failBasic(ctx, session, err)
		return nil, err
	}
	st := scoring.Measure(turns)
	if st.CandidateTurns == 0 {
		insufficient := &InsufficientTranscriptError{SessionID: sessionID, Turns: st.TurnCount, CandidateTurns: st.CandidateTurns}
		p.failBasic(ctx, session, insufficient)
		metrics.FeedbackRuns.WithLabelValues(TierBasic, "insufficient").Inc()
		return nil, insufficient
	}

	in := p.analysisInput(session, turns)
	analysis, err := p.runBasic(ctx, in)
	if err != nil {
		backendErr := &AnalysisBackendError{Backend: p.analyzer.Name(), Tier: TierBasic, Err: err}
		p.failBasic(ctx, session, backendErr)
		metrics.FeedbackRuns.WithLabelValues(TierBasic, "backend_error").Inc()
		return nil, backendErr
	}

	feedback := p.buildBasic(session, turns, st, analysis)
	err = p.repo.Transaction(ctx, func(tx *repository.GORMRepository) error {
		if err := tx.CreateFeedback(ctx, feedback); err != nil {
			return err
		}
		return tx.SetFeedbackStatus(ctx, sessionID, models.FeedbackReady, "")
	})
	if errors.Is(err, repository.ErrDuplicate) {
		// Another writer landed the row between our read and insert
		return p.existingBasic(ctx, session)
	}
	if err != nil {
		p.failBasic(ctx, session, err)
		metrics.FeedbackRuns.WithLabelValues(TierBasic, "store_error").Inc()
		return nil, err
	}

	metrics.FeedbackRuns.WithLabelValues(TierBasic, "success").Inc()
	metrics.OverallScore.Observe(*feedback.OverallScore)
	recordUsage(ctx, p.usage, session.UserID, models.EventFeedbackBasicGenerated, map[string]any{
		"session_id":    sessionID,
		"backend":       p.analyzer.Name(),
		"overall_score": *feedback.OverallScore,
	})
	slog.Info("Basic feedback generated",
		"session_id", sessionID,
		"backend", p.analyzer.Name(),
		"overall_score", *feedback.OverallScore)
	p.notify(sessionID, TierBasic, feedback, nil)
	return feedback, nil
}

// existingBasic returns the stored row, repairing a feedback status left behind by a crash
func (p *FeedbackPipeline) existingBasic(ctx context.Context, session *models.InterviewSession) (*models.Feedback, error) {
	existing, err := p.repo.GetFeedbackBySession(ctx, session.ID)
	if err != nil || existing == nil {
		return nil, err
	}
	if session.FeedbackStatus != models.FeedbackReady {
		if err := p.repo.SetFeedbackStatus(ctx, session.ID, models.FeedbackReady, ""); err != nil {
			slog.Warn("Failed to repair feedback status", "session_id", session.ID, "error", err)
		}
	}
	return existing, nil
}

func (p *FeedbackPipeline) runBasic(ctx context.Context, in AnalysisInput) (*BasicAnalysis, error) {
	actx, cancel := context.WithTimeout(ctx, p.opts.Timeout)
	defer cancel()
	start := time.Now()
	defer func() {
		metrics.FeedbackDuration.WithLabelValues(TierBasic, p.analyzer.Name()).Observe(time.Since(start).Seconds())
	}()
	return p.analyzer.AnalyzeBasic(actx, in)
}

func (p *FeedbackPipeline) failBasic(ctx context.Context, session *models.InterviewSession, cause error) {
	applied, err := p.repo.FailBasicFeedback(ctx, session.ID, cause.Error())
	if err != nil {
		slog.Error("Failed to record feedback failure", "session_id", session.ID, "error", err)
	} else if !applied {
		// Claim was taken over; the newer run owns the outcome
		slog.Warn("Basic feedback claim lost before failure was recorded", "session_id", session.ID, "error", cause)
		return
	}
	recordUsage(ctx, p.usage, session.UserID, models.EventFeedbackFailed, map[string]any{
		"session_id": session.ID,
		"tier":       TierBasic,
		"error":      cause.Error(),
	})
	p.notify(session.ID, TierBasic, nil, cause)
}

func (p *FeedbackPipeline) analysisInput(session *models.InterviewSession, turns []models.Transcript) AnalysisInput {
	return AnalysisInput{
		SessionID: session.ID,
		Context: scoring.Context{
			JobTitle:      session.JobTitle,
			Company:       session.Company,
			InterviewType: session.InterviewType,
			JDContext:     session.JDContext,
			Resume:        session.ResumeSnapshot,
		},
		Turns: scoring.SortTurns(turns),
	}
}

func (p *FeedbackPipeline) buildBasic(session *models.InterviewSession, turns []models.Transcript, st scoring.Stats, a *BasicAnalysis) *models.Feedback {
	dims := a.Dimensions.Clamped()
	overall := p.opts.Weights.Overall(dims)
	transcriptScore := scoring.TranscriptScore(turns)
	now := p.now()

	strengths := a.Narrative.Strengths
	if strengths == nil {
		strengths = []string{}
	}
	areas := a.Narrative.AreasForImprovement
	if areas == nil {
		areas = []string{}
	}

	return &models.Feedback{
		ID:                  uuid.New().String(),
		SessionID:           session.ID,
		UserID:              session.UserID,
		Summary:             a.Narrative.Summary,
		Strengths:           strengths,
		AreasForImprovement: areas,
		FillerWordCount:     st.Fillers.Total,
		TranscriptScore:     &transcriptScore,
		ClarityScore:        ptr(dims.Clarity),
		ConcisenessScore:    ptr(dims.Conciseness),
		TechnicalDepthScore: ptr(dims.TechnicalDepth),
		StarMethodScore:     ptr(dims.StarMethod),
		OverallScore:        &overall,
		StructuredData: &models.StructuredData{
			ScoreScale:     scoring.ScoreScale,
			Backend:        p.analyzer.Name(),
			Weights:        p.opts.Weights.Map(),
			Dimensions:     dims.Map(),
			FillerWords:    st.Fillers.ByWord,
			TurnCount:      st.TurnCount,
			CandidateTurns: st.CandidateTurns,
			CandidateWords: st.CandidateWords,
			AvgConfidence:  st.AvgConfidence,
			Signals:        a.Signals,
		},
		EnhancedStatus: models.EnhancedNone,
		ExpiresAt:      p.opts.Policy.FeedbackExpiry(now, session),
	}
}

// ComputeEnhancedFeedback fills the enhanced tier once. The gate opens in the same
// conditional update that stores the data, so enhancedGeneratedAt is written exactly once.
func (p *FeedbackPipeline) ComputeEnhancedFeedback(ctx context.Context, sessionID string) (*models.Feedback, error) {
	v, err, _ := p.group.Do(TierEnhanced+":"+sessionID, func() (interface{}, error) {
		return p.computeEnhanced(ctx, sessionID)
	})
	if err != nil {
		return nil, err
	}
	return v.(*models.Feedback), nil
}

func (p *FeedbackPipeline) computeEnhanced(ctx context.Context, sessionID string) (*models.Feedback, error) {
	session, err := p.repo.GetInterviewSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if session == nil {
		return nil, ErrSessionNotFound
	}
	feedback, err := p.repo.GetFeedbackBySession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if feedback == nil {
		return nil, ErrFeedbackNotFound
	}
	if feedback.EnhancedFeedbackGenerated {
		return feedback, nil
	}

	if p.opts.Locker != nil {
		release, ok, err := p.opts.Locker.TryAcquire(ctx, "feedback:enhanced:"+sessionID, p.opts.ClaimTTL)
		switch {
		case err != nil:
			slog.Warn("Lock backend unavailable, relying on database claim", "session_id", sessionID, "error", err)
		case !ok:
			return nil, &ConcurrencyConflictError{SessionID: sessionID, Resource: "enhanced feedback"}
		default:
			defer release()
		}
	}

	now := p.now()
	won, err := p.repo.ClaimEnhancedFeedback(ctx, sessionID, now, now.Add(-p.opts.ClaimTTL))
	if err != nil {
		return nil, err
	}
	if !won {
		current, err := p.repo.GetFeedbackBySession(ctx, sessionID)
		if err != nil {
			return nil, err
		}
		if current != nil && current.EnhancedFeedbackGenerated {
			return current, nil
		}
		return nil, &ConcurrencyConflictError{SessionID: sessionID, Resource: "enhanced feedback"}
	}

	turns, err := p.repo.GetTranscripts(ctx, sessionID)
	if err != nil {
		p.failEnhanced(ctx, session, err)
		return nil, err
	}

	analysis, err := p.runEnhanced(ctx, p.analysisInput(session, turns), feedback)
	if err != nil {
		backendErr := &AnalysisBackendError{Backend: p.analyzer.Name(), Tier: TierEnhanced, Err: err}
		p.failEnhanced(ctx, session, backendErr)
		metrics.FeedbackRuns.WithLabelValues(TierEnhanced, "backend_error").Inc()
		return nil, backendErr
	}

	res := analysis.Result
	generatedAt := p.now()
	relevance := res.KeywordRelevanceScore
	enhanced := &models.Feedback{
		ToneAnalysis:          res.Tone,
		SentimentProgression:  res.Sentiment,
		KeywordRelevanceScore: &relevance,
		EnhancedGeneratedAt:   &generatedAt,
		EnhancedReportData: &models.EnhancedReport{
			Backend:          p.analyzer.Name(),
			DominantTone:     res.DominantTone,
			ToneDistribution: res.ToneDistribution,
			SentimentTrend:   res.SentimentTrend,
			AverageSentiment: res.AverageSentiment,
			MatchedKeywords:  res.MatchedKeywords,
			MissingKeywords:  res.MissingKeywords,
			Insights:         analysis.Insights,
		},
	}
	stored, err := p.repo.CompleteEnhancedFeedback(ctx, sessionID, enhanced)
	if err != nil {
		p.failEnhanced(ctx, session, err)
		metrics.FeedbackRuns.WithLabelValues(TierEnhanced, "store_error").Inc()
		return nil, err
	}

	current, err := p.repo.GetFeedbackBySession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if !stored {
		return current, nil
	}

	metrics.FeedbackRuns.WithLabelValues(TierEnhanced, "success").Inc()
	recordUsage(ctx, p.usage, session.UserID, models.EventFeedbackEnhancedGenerated, map[string]any{
		"session_id":              sessionID,
		"backend":                 p.analyzer.Name(),
		"keyword_relevance_score": relevance,
	})
	slog.Info("Enhanced feedback generated",
		"session_id", sessionID,
		"backend", p.analyzer.Name(),
		"dominant_tone", res.DominantTone,
		"sentiment_trend", res.SentimentTrend)
	p.notify(sessionID, TierEnhanced, current, nil)
	return current, nil
}

func (p *FeedbackPipeline) runEnhanced(ctx context.Context, in AnalysisInput, basic *models.Feedback) (*EnhancedAnalysis, error) {
	actx, cancel := context.WithTimeout(ctx, p.opts.Timeout)
	defer cancel()
	start := time.Now()
	defer func() {
		metrics.FeedbackDuration.WithLabelValues(TierEnhanced, p.analyzer.Name()).Observe(time.Since(start).Seconds())
	}()
	return p.analyzer.AnalyzeEnhanced(actx, in, basic)
}

func (p *FeedbackPipeline) failEnhanced(ctx context.Context, session *models.InterviewSession, cause error) {
	if err := p.repo.FailEnhancedFeedback(ctx, session.ID, cause.Error()); err != nil {
		slog.Error("Failed to record enhanced feedback failure", "session_id", session.ID, "error", err)
	}
	recordUsage(ctx, p.usage, session.UserID, models.EventFeedbackFailed, map[string]any{
		"session_id": session.ID,
		"tier":       TierEnhanced,
		"error":      cause.Error(),
	})
	p.notify(session.ID, TierEnhanced, nil, cause)
}

// Rescore retries the basic tier of completed sessions that are pending, failed or stuck
// behind a stale claim. It returns how many sessions now have feedback.
func (p *FeedbackPipeline) Rescore(ctx context.Context, limit int) (int, error) {
	if limit <= 0 {
		limit = 100
	}
	now := p.now()
	sessions, err := p.repo.ListSessionsAwaitingFeedback(ctx, now.Add(-p.opts.ClaimTTL), limit)
	if err != nil {
		return 0, err
	}

	scored := 0
	for _, s := range sessions {
		if err := ctx.Err(); err != nil {
			return scored, err
		}
		if _, err := p.ComputeBasicFeedback(ctx, s.ID); err != nil {
			p.logOutcome(s.ID, TierBasic, err)
			continue
		}
		scored++
	}
	if len(sessions) > 0 {
		slog.Info("Rescore pass finished", "candidates", len(sessions), "scored", scored)
	}
	return scored, nil
}

// GetFeedback returns the session together with its feedback row, which may be nil while pending
func (p *FeedbackPipeline) GetFeedback(ctx context.Context, sessionID string) (*models.InterviewSession, *models.Feedback, error) {
	session, err := p.repo.GetInterviewSession(ctx, sessionID)
	if err != nil {
		return nil, nil, err
	}
	if session == nil {
		return nil, nil, ErrSessionNotFound
	}
	feedback, err := p.repo.GetFeedbackBySession(ctx, sessionID)
	if err != nil {
		return nil, nil, err
	}
	return session, feedback, nil
}

func (p *FeedbackPipeline) notify(sessionID, tier string, feedback *models.Feedback, err error) {
	if p.notifier != nil {
		p.notifier.NotifyFeedback(sessionID, tier, feedback, err)
	}
}

func ptr[T any](v T) *T {
	return &v
}
