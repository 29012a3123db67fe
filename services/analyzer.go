package services

import (
	"context"
	"fmt"
	"strings"

	"github.com/krshsl/intervue/backend/models"
	"github.com/krshsl/intervue/backend/scoring"
)

// AnalysisInput is the read-only view of a completed session handed to an analyzer
type AnalysisInput struct {
	SessionID string
	Context   scoring.Context
	Turns     []models.Transcript
}

// BasicAnalysis is what an analyzer contributes to the basic tier.
// Filler counts, transcript score and the overall score are always computed locally.
type BasicAnalysis struct {
	Dimensions scoring.Dimensions
	Narrative  scoring.Narrative
	Signals    map[string]float64
}

// EnhancedAnalysis is what an analyzer contributes to the enhanced tier
type EnhancedAnalysis struct {
	Result   scoring.EnhancedResult
	Insights []string
}

// Analyzer is the analysis backend behind both feedback tiers
type Analyzer interface {
	Name() string
	AnalyzeBasic(ctx context.Context, in AnalysisInput) (*BasicAnalysis, error)
	AnalyzeEnhanced(ctx context.Context, in AnalysisInput, basic *models.Feedback) (*EnhancedAnalysis, error)
}

// HeuristicAnalyzer scores transcripts with the deterministic heuristics in package scoring
type HeuristicAnalyzer struct {
	weights scoring.Weights
}

func NewHeuristicAnalyzer(weights scoring.Weights) *HeuristicAnalyzer {
	return &HeuristicAnalyzer{weights: weights}
}

func (a *HeuristicAnalyzer) Name() string {
	return "heuristic"
}

func (a *HeuristicAnalyzer) AnalyzeBasic(ctx context.Context, in AnalysisInput) (*BasicAnalysis, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	st := scoring.Measure(in.Turns)
	dims := scoring.HeuristicDimensions(in.Turns, in.Context)
	overall := a.weights.Overall(dims)
	return &BasicAnalysis{
		Dimensions: dims,
		Narrative:  scoring.HeuristicNarrative(in.Context, dims, overall, st),
		Signals: map[string]float64{
			"filler_rate":     scoring.Round2(st.FillerRate()),
			"unique_words":    float64(st.UniqueWords),
			"candidate_words": float64(st.CandidateWords),
		},
	}, nil
}

func (a *HeuristicAnalyzer) AnalyzeEnhanced(ctx context.Context, in AnalysisInput, basic *models.Feedback) (*EnhancedAnalysis, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	res := scoring.AnalyzeEnhanced(in.Turns, in.Context)
	return &EnhancedAnalysis{Result: res, Insights: heuristicInsights(res)}, nil
}

func heuristicInsights(res scoring.EnhancedResult) []string {
	var out []string
	switch res.SentimentTrend {
	case scoring.TrendImproving:
		out = append(out, "Grew more positive and comfortable as the interview went on")
	case scoring.TrendDeclining:
		out = append(out, "Sentiment dropped in the later answers, practice staying composed under follow-up questions")
	}
	if res.DominantTone == scoring.ToneHesitant {
		out = append(out, "Answers often sounded hesitant, state conclusions first and then support them")
	}
	if len(res.MissingKeywords) > 0 {
		n := len(res.MissingKeywords)
		if n > 5 {
			n = 5
		}
		out = append(out, fmt.Sprintf("Role keywords not covered: %s", strings.Join(res.MissingKeywords[:n], ", ")))
	}
	return out
}

// NewAnalyzer picks the analysis backend from configuration
func NewAnalyzer(ctx context.Context, cfg AnalysisConfig, weights scoring.Weights) (Analyzer, error) {
	heuristic := NewHeuristicAnalyzer(weights)
	switch strings.ToLower(cfg.Backend) {
	case "", "heuristic":
		return heuristic, nil
	case "gemini":
		if cfg.GeminiAPIKey == "" {
			return nil, fmt.Errorf("%w: gemini backend needs GEMINI_API_KEY", ErrInvalidInput)
		}
		c, err := NewGeminiCompleter(ctx, cfg.GeminiAPIKey, cfg.GeminiModel)
		if err != nil {
			return nil, err
		}
		return NewLLMAnalyzer(c, heuristic), nil
	case "openai":
		if cfg.OpenAIAPIKey == "" {
			return nil, fmt.Errorf("%w: openai backend needs OPENAI_API_KEY", ErrInvalidInput)
		}
		return NewLLMAnalyzer(NewOpenAICompleter(cfg.OpenAIAPIKey, cfg.OpenAIModel, cfg.OpenAIBaseURL), heuristic), nil
	default:
		return nil, fmt.Errorf("%w: unknown analysis backend %q", ErrInvalidInput, cfg.Backend)
	}
}
