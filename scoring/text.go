// Package scoring holds the deterministic heuristics behind interview feedback.
// All functions here are pure: the same transcript and context always produce the same numbers.
package scoring

import (
	"math"
	"sort"
	"strings"
	"unicode"

	"github.com/krshsl/intervue/backend/models"
)

// ScoreScale is the bound of every score produced by this package
const ScoreScale = "0-100"

// Context is the job and candidate context a transcript is scored against
type Context struct {
	JobTitle      string
	Company       string
	InterviewType string
	JDContext     string
	Resume        string
}

var stopwords = toSet(`a about above after again against all also am an and any are as at be because been before being
below between both but by can could did do does doing down during each few for from further had has have having he her
here hers herself him himself his how i if in into is it its itself just me more most my myself no nor not now of off on
once only or other our ours ourselves out over own same she should so some such than that the their theirs them
themselves then there these they this those through to too under until up very was we were what when where which while
who whom why will with would you your yours yourself yourselves really thing things get got going lot well yeah okay ok
one two three etc us let lets make made way want wanted know think year years work worked working experience role team
job company position candidate ability strong good new using used use able including within across per plus`)

func toSet(words string) map[string]struct{} {
	out := make(map[string]struct{})
	for _, w := range strings.Fields(words) {
		out[w] = struct{}{}
	}
	return out
}

// Tokenize lowercases text and splits it into word tokens.
// '+' and '#' are kept so that c++ and c# survive.
func Tokenize(text string) []string {
	var tokens []string
	var b strings.Builder
	flush := func() {
		if b.Len() > 0 {
			tokens = append(tokens, strings.Trim(b.String(), "'"))
			b.Reset()
		}
	}
	for _, r := range strings.ToLower(text) {
		switch {
		case unicode.IsLetter(r), unicode.IsDigit(r), r == '+', r == '#':
			b.WriteRune(r)
		case r == '\'' || r == '’':
			if b.Len() > 0 {
				b.WriteRune('\'')
			}
		default:
			flush()
		}
	}
	flush()
	out := tokens[:0]
	for _, t := range tokens {
		if t != "" {
			out = append(out, t)
		}
	}
	return out
}

// Sentences splits text on terminal punctuation
func Sentences(text string) []string {
	var out []string
	start := 0
	runes := []rune(text)
	for i, r := range runes {
		if r == '.' || r == '!' || r == '?' {
			if i+1 == len(runes) || unicode.IsSpace(runes[i+1]) {
				if s := strings.TrimSpace(string(runes[start : i+1])); s != "" {
					out = append(out, s)
				}
				start = i + 1
			}
		}
	}
	if s := strings.TrimSpace(string(runes[start:])); s != "" {
		out = append(out, s)
	}
	return out
}

// normalizeToken folds simple plurals so "services" matches "service".
// Lexicon terms and words ending in -ss, -is or -us are left alone.
func normalizeToken(t string) string {
	if _, ok := technicalTerms[t]; ok {
		return t
	}
	if len(t) <= 4 || !strings.HasSuffix(t, "s") {
		return t
	}
	for _, suffix := range []string{"ss", "is", "us"} {
		if strings.HasSuffix(t, suffix) {
			return t
		}
	}
	return strings.TrimSuffix(t, "s")
}

func isStopword(t string) bool {
	_, ok := stopwords[t]
	return ok
}

func isNumeric(t string) bool {
	for _, r := range t {
		if !unicode.IsDigit(r) {
			return false
		}
	}
	return true
}

// hasPhraseAt reports whether the phrase tokens start at tokens[i]
func hasPhraseAt(tokens, phrase []string, i int) bool {
	if len(phrase) == 0 || i+len(phrase) > len(tokens) {
		return false
	}
	for k, p := range phrase {
		if tokens[i+k] != p {
			return false
		}
	}
	return true
}

// countPhrase counts non-overlapping occurrences of a phrase in a token stream
func countPhrase(tokens []string, phrase string) int {
	want := strings.Fields(phrase)
	n := 0
	for i := 0; i < len(tokens); {
		if hasPhraseAt(tokens, want, i) {
			n++
			i += len(want)
			continue
		}
		i++
	}
	return n
}

// containsPhrase reports whether a phrase occurs in a token stream
func containsPhrase(tokens []string, phrase string) bool {
	return countPhrase(tokens, phrase) > 0
}

// CandidateTurns returns the non-empty candidate turns ordered by sequence number
func CandidateTurns(turns []models.Transcript) []models.Transcript {
	ordered := SortTurns(turns)
	out := make([]models.Transcript, 0, len(ordered))
	for _, t := range ordered {
		if t.Role == models.RoleCandidate && strings.TrimSpace(t.Content) != "" {
			out = append(out, t)
		}
	}
	return out
}

// SortTurns returns a copy of turns ordered by sequence number
func SortTurns(turns []models.Transcript) []models.Transcript {
	out := make([]models.Transcript, len(turns))
	copy(out, turns)
	sort.SliceStable(out, func(i, j int) bool { return out[i].SequenceNumber < out[j].SequenceNumber })
	return out
}

// Clamp bounds a score to [0, 100]
func Clamp(v float64) float64 {
	if math.IsNaN(v) || v < 0 {
		return 0
	}
	if v > 100 {
		return 100
	}
	return v
}

// Round2 rounds to two decimals
func Round2(v float64) float64 {
	return math.Round(v*100) / 100
}

func clampUnit(v float64) float64 {
	return math.Max(-1, math.Min(1, v))
}
