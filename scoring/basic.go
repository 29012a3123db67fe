package scoring

import (
	"fmt"
	"math"
	"strings"

	"github.com/krshsl/intervue/backend/models"
)

// Stats are the transcript measurements shared by the heuristics
type Stats struct {
	TurnCount         int
	NonEmptyTurns     int
	CandidateTurns    int
	CandidateWords    int
	TotalWords        int
	CandidateSentence int
	UniqueWords       int
	Fillers           FillerCount
	AvgConfidence     *float64
}

// Measure computes Stats over an ordered transcript
func Measure(turns []models.Transcript) Stats {
	st := Stats{TurnCount: len(turns)}
	unique := make(map[string]struct{})
	var confSum float64
	var confN int
	for _, t := range SortTurns(turns) {
		tokens := Tokenize(t.Content)
		if len(tokens) > 0 {
			st.NonEmptyTurns++
		}
		st.TotalWords += len(tokens)
		if t.Role != models.RoleCandidate || len(tokens) == 0 {
			continue
		}
		st.CandidateTurns++
		st.CandidateWords += len(tokens)
		st.CandidateSentence += len(Sentences(t.Content))
		for _, tok := range tokens {
			unique[tok] = struct{}{}
		}
		if t.Confidence != nil {
			confSum += *t.Confidence
			confN++
		}
	}
	st.UniqueWords = len(unique)
	st.Fillers = CountCandidateFillers(turns)
	if confN > 0 {
		avg := Round2(confSum / float64(confN))
		st.AvgConfidence = &avg
	}
	return st
}

// FillerRate is fillers per hundred candidate words
func (s Stats) FillerRate() float64 {
	if s.CandidateWords == 0 {
		return 0
	}
	return float64(s.Fillers.Total) / float64(s.CandidateWords) * 100
}

// HeuristicDimensions scores the four feedback dimensions from the transcript alone
func HeuristicDimensions(turns []models.Transcript, c Context) Dimensions {
	st := Measure(turns)
	return Dimensions{
		Clarity:        clarity(st),
		Conciseness:    conciseness(st),
		TechnicalDepth: technicalDepth(turns, c),
		StarMethod:     StarScore(turns),
	}.Clamped()
}

// clarity rewards sentences of moderate length, few fillers and clean speech recognition
func clarity(st Stats) float64 {
	if st.CandidateWords == 0 {
		return 0
	}
	score := 100.0
	sentences := math.Max(1, float64(st.CandidateSentence))
	avgLen := float64(st.CandidateWords) / sentences
	switch {
	case avgLen < 8:
		score -= math.Min(30, (8-avgLen)*3)
	case avgLen > 22:
		score -= math.Min(30, (avgLen-22)*1.5)
	}
	score -= math.Min(40, st.FillerRate()*4)
	if st.AvgConfidence != nil && *st.AvgConfidence < 1 {
		score -= (1 - *st.AvgConfidence) * 30
	}
	return score
}

// conciseness rewards answers of 40-150 words without heavy repetition
func conciseness(st Stats) float64 {
	if st.CandidateTurns == 0 {
		return 0
	}
	score := 100.0
	avg := float64(st.CandidateWords) / float64(st.CandidateTurns)
	switch {
	case avg < 40:
		score -= (40 - avg) * 1.25
	case avg > 150:
		score -= math.Min(60, (avg-150)*0.3)
	}
	if st.CandidateWords >= 50 {
		diversity := float64(st.UniqueWords) / float64(st.CandidateWords)
		if diversity < 0.4 {
			score -= (0.4 - diversity) * 100
		}
	}
	return score
}

// technicalDepth counts distinct technical terms, context keywords and quantified claims
func technicalDepth(turns []models.Transcript, c Context) float64 {
	candidate := CandidateTurns(turns)
	if len(candidate) == 0 {
		return 0
	}
	texts := make([]string, 0, len(candidate))
	terms := make(map[string]struct{})
	metrics := 0
	for _, t := range candidate {
		texts = append(texts, t.Content)
		for _, tok := range Tokenize(t.Content) {
			if IsTechnicalTerm(tok) {
				terms[normalizeToken(tok)] = struct{}{}
			}
			if isNumeric(tok) {
				metrics++
			}
		}
		metrics += strings.Count(t.Content, "%")
	}
	matched, _ := KeywordMatch(ContextKeywords(c), texts...)
	score := 15 + float64(len(terms))*7 + float64(len(matched))*3 + math.Min(20, float64(metrics)*4)
	return score
}

var (
	starSituation = []string{"when i was", "at my previous", "at my last", "the situation", "situation was", "context was", "we were", "our team", "there was a", "back when"}
	starTask      = []string{"my task", "i was responsible", "responsible for", "the goal", "our goal", "needed to", "had to", "objective", "i was asked", "challenge was"}
	starAction    = []string{"i implemented", "i built", "i decided", "i led", "i designed", "i created", "i developed", "i wrote", "i introduced", "i proposed", "i set up", "i started", "so i", "i worked with", "i organized"}
	starResult    = []string{"as a result", "resulted in", "which led", "the outcome", "in the end", "improved", "reduced", "increased", "saved", "we delivered", "we shipped", "we launched", "by the end"}
)

// StarComponents reports which STAR components a single answer covers
func StarComponents(text string) [4]bool {
	tokens := Tokenize(text)
	has := func(cues []string) bool {
		for _, cue := range cues {
			if containsPhrase(tokens, cue) {
				return true
			}
		}
		return false
	}
	return [4]bool{has(starSituation), has(starTask), has(starAction), has(starResult) || strings.Contains(text, "%")}
}

func starCoverage(text string) float64 {
	n := 0
	for _, ok := range StarComponents(text) {
		if ok {
			n++
		}
	}
	return float64(n) / 4
}

// StarScore blends the best single answer with the average over substantive answers
func StarScore(turns []models.Transcript) float64 {
	var best, sum float64
	var n int
	for _, t := range CandidateTurns(turns) {
		if len(Tokenize(t.Content)) < 25 {
			continue
		}
		cov := starCoverage(t.Content)
		best = math.Max(best, cov)
		sum += cov
		n++
	}
	if n == 0 {
		return 0
	}
	return Round2(Clamp((best*0.6 + sum/float64(n)*0.4) * 100))
}

// TranscriptScore estimates transcript completeness and quality, independent of the dimension scores
func TranscriptScore(turns []models.Transcript) float64 {
	st := Measure(turns)
	if st.TurnCount == 0 {
		return 0
	}
	score := math.Min(1, float64(st.TurnCount)/10) * 30

	if st.TotalWords > 0 {
		share := float64(st.CandidateWords) / float64(st.TotalWords)
		switch {
		case share >= 0.4 && share <= 0.8:
			score += 25
		case share < 0.4:
			score += 25 * share / 0.4
		default:
			score += 25 * (1 - share) / 0.2
		}
	}

	if st.AvgConfidence != nil {
		score += 25 * *st.AvgConfidence
	} else {
		score += 20
	}

	score += 20 * float64(st.NonEmptyTurns) / float64(st.TurnCount)
	return Round2(Clamp(score))
}

// Narrative is the natural-language part of a basic feedback pass
type Narrative struct {
	Summary             string
	Strengths           []string
	AreasForImprovement []string
}

var dimensionPhrases = map[string][2]string{
	DimClarity:        {"Answers were clear and easy to follow", "Work on structuring answers into shorter, clearer sentences"},
	DimConciseness:    {"Kept answers focused and to the point", "Keep answers between one and two minutes and avoid repeating points"},
	DimTechnicalDepth: {"Showed solid technical depth with concrete details", "Go deeper on technical details, tools and trade-offs"},
	DimStarMethod:     {"Used the STAR structure to frame experiences", "Frame examples with Situation, Task, Action and Result"},
}

var dimensionOrder = []string{DimClarity, DimConciseness, DimTechnicalDepth, DimStarMethod}

// HeuristicNarrative writes the summary, strengths and improvement areas from the scores
func HeuristicNarrative(c Context, d Dimensions, overall float64, st Stats) Narrative {
	role := c.JobTitle
	if role == "" {
		role = "the target role"
	}
	n := Narrative{
		Summary: fmt.Sprintf("The candidate answered %d prompts for %s with an overall score of %.0f/100.",
			st.CandidateTurns, role, overall),
		Strengths:           []string{},
		AreasForImprovement: []string{},
	}
	scores := d.Map()
	for _, dim := range dimensionOrder {
		switch s := scores[dim]; {
		case s >= 70:
			n.Strengths = append(n.Strengths, dimensionPhrases[dim][0])
		case s < 60:
			n.AreasForImprovement = append(n.AreasForImprovement, dimensionPhrases[dim][1])
		}
	}
	if st.FillerRate() > 3 {
		n.AreasForImprovement = append(n.AreasForImprovement,
			fmt.Sprintf("Reduce filler words (%d used across the interview)", st.Fillers.Total))
	}
	return n
}
