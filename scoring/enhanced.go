package scoring

import (
	"sort"

	"github.com/krshsl/intervue/backend/models"
)

// Tone labels reported per candidate turn
const (
	ToneConfident    = "confident"
	ToneHesitant     = "hesitant"
	ToneEnthusiastic = "enthusiastic"
	ToneNegative     = "negative"
	ToneNeutral      = "neutral"
)

// Sentiment labels and the thresholds that separate them
const (
	SentimentPositive = "positive"
	SentimentNeutral  = "neutral"
	SentimentNegative = "negative"

	sentimentThreshold = 0.2
	trendThreshold     = 0.15
)

// Trend labels for the sentiment progression over the interview
const (
	TrendImproving = "improving"
	TrendDeclining = "declining"
	TrendStable    = "stable"
)

var positiveWords = toSet(`good great excellent love enjoy enjoyed happy success successful successfully proud improve
improved improvement achieve achieved achievement win won learn learned learning excited exciting passionate confident
effective efficient solved solve helpful best better strong strength clean reliable fast faster growth grew delivered
opportunity benefit positive collaborate collaborated appreciate glad fun interesting impressive smooth`)

var negativeWords = toSet(`bad poor hate difficult hard problem problems issue issues fail failed failure mistake mistakes
wrong worse worst slow broken bug bugs frustrated frustrating stress stressful conflict unfortunately sadly never
struggle struggled weak confusing confused unclear late missed blocked risk angry annoyed painful negative impossible`)

var negators = toSet(`not no never don't didn't doesn't isn't wasn't aren't weren't couldn't wouldn't shouldn't can't won't hardly`)

var confidentCues = []string{"i am confident", "i'm confident", "definitely", "certainly", "i know", "i led", "i decided", "i own", "clearly", "absolutely", "i made sure"}
var hesitantCues = []string{"i think", "i guess", "maybe", "probably", "not sure", "i'm not sure", "perhaps", "i suppose", "might", "kind of", "sort of"}
var enthusiasticCues = []string{"excited", "love", "passionate", "really enjoy", "enjoyed", "thrilled", "amazing", "fantastic", "can't wait"}

// Sentiment scores a text in [-1, 1] using a small lexicon with single-token negation
func Sentiment(text string) float64 {
	tokens := Tokenize(text)
	var pos, neg int
	for i, t := range tokens {
		polarity := 0
		if _, ok := positiveWords[t]; ok {
			polarity = 1
		} else if _, ok := negativeWords[t]; ok {
			polarity = -1
		}
		if polarity == 0 {
			continue
		}
		if negated(tokens, i) {
			polarity = -polarity
		}
		if polarity > 0 {
			pos++
		} else {
			neg++
		}
	}
	if pos+neg == 0 {
		return 0
	}
	return Round2(clampUnit(float64(pos-neg) / float64(pos+neg)))
}

// negated looks back up to two tokens for a negator
func negated(tokens []string, i int) bool {
	for k := i - 1; k >= 0 && k >= i-2; k-- {
		if _, ok := negators[tokens[k]]; ok {
			return true
		}
	}
	return false
}

// SentimentLabel maps a sentiment score to its label
func SentimentLabel(score float64) string {
	switch {
	case score >= sentimentThreshold:
		return SentimentPositive
	case score <= -sentimentThreshold:
		return SentimentNegative
	default:
		return SentimentNeutral
	}
}

// Tone classifies a single answer along with a confidence in [0, 1]
func Tone(text string) (string, float64) {
	tokens := Tokenize(text)
	if len(tokens) == 0 {
		return ToneNeutral, 0
	}
	count := func(cues []string) int {
		n := 0
		for _, c := range cues {
			n += countPhrase(tokens, c)
		}
		return n
	}
	hits := map[string]int{
		ToneConfident:    count(confidentCues),
		ToneHesitant:     count(hesitantCues) + CountFillers(text).Total,
		ToneEnthusiastic: count(enthusiasticCues),
	}
	if s := Sentiment(text); s <= -0.5 {
		hits[ToneNegative] = 2
	}

	best, bestHits, total := ToneNeutral, 0, 0
	// Fixed order keeps ties deterministic
	for _, tone := range []string{ToneConfident, ToneEnthusiastic, ToneHesitant, ToneNegative} {
		total += hits[tone]
		if hits[tone] > bestHits {
			best, bestHits = tone, hits[tone]
		}
	}
	if bestHits == 0 {
		return ToneNeutral, 0.5
	}
	return best, Round2(float64(bestHits) / float64(total))
}

// EnhancedResult is the deterministic breakdown behind the enhanced feedback tier
type EnhancedResult struct {
	Tone                  []models.ToneSample
	Sentiment             []models.SentimentSample
	ToneDistribution      map[string]int
	DominantTone          string
	AverageSentiment      float64
	SentimentTrend        string
	KeywordRelevanceScore float64
	MatchedKeywords       []string
	MissingKeywords       []string
}

// AnalyzeEnhanced derives tone, sentiment progression and keyword relevance from candidate turns
func AnalyzeEnhanced(turns []models.Transcript, c Context) EnhancedResult {
	res := EnhancedResult{
		Tone:             []models.ToneSample{},
		Sentiment:        []models.SentimentSample{},
		ToneDistribution: map[string]int{},
		DominantTone:     ToneNeutral,
		SentimentTrend:   TrendStable,
	}
	candidate := CandidateTurns(turns)
	texts := make([]string, 0, len(candidate))
	var sum float64
	for _, t := range candidate {
		texts = append(texts, t.Content)
		tone, conf := Tone(t.Content)
		res.Tone = append(res.Tone, models.ToneSample{SequenceNumber: t.SequenceNumber, Tone: tone, Confidence: conf})
		res.ToneDistribution[tone]++
		s := Sentiment(t.Content)
		sum += s
		res.Sentiment = append(res.Sentiment, models.SentimentSample{SequenceNumber: t.SequenceNumber, Score: s, Label: SentimentLabel(s)})
	}
	if n := len(candidate); n > 0 {
		res.AverageSentiment = Round2(sum / float64(n))
		res.DominantTone = dominant(res.ToneDistribution)
		res.SentimentTrend = Trend(res.Sentiment)
	}

	keywords := ContextKeywords(c)
	res.MatchedKeywords, res.MissingKeywords = KeywordMatch(keywords, texts...)
	if len(keywords) > 0 {
		res.KeywordRelevanceScore = Round2(float64(len(res.MatchedKeywords)) / float64(len(keywords)) * 100)
	}
	return res
}

func dominant(dist map[string]int) string {
	tones := make([]string, 0, len(dist))
	for t := range dist {
		tones = append(tones, t)
	}
	sort.Strings(tones)
	best, n := ToneNeutral, 0
	for _, t := range tones {
		if dist[t] > n {
			best, n = t, dist[t]
		}
	}
	return best
}

// Trend compares the mean sentiment of the second half of the interview with the first
func Trend(samples []models.SentimentSample) string {
	if len(samples) < 2 {
		return TrendStable
	}
	mid := len(samples) / 2
	mean := func(s []models.SentimentSample) float64 {
		var sum float64
		for _, x := range s {
			sum += x.Score
		}
		return sum / float64(len(s))
	}
	delta := mean(samples[mid:]) - mean(samples[:mid])
	switch {
	case delta >= trendThreshold:
		return TrendImproving
	case delta <= -trendThreshold:
		return TrendDeclining
	default:
		return TrendStable
	}
}
