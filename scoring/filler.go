package scoring

import (
	"sort"
	"strings"

	"github.com/krshsl/intervue/backend/models"
)

// FillerWords is the lexicon counted by CountFillers. Multi-word entries are matched as phrases.
var FillerWords = []string{
	"um", "umm", "uh", "uhh", "uhm", "er", "erm", "ah", "hmm",
	"basically", "literally", "actually",
	"you know", "i mean", "sort of", "kind of", "like i said",
}

var fillerLexicon = buildFillerLexicon()

func buildFillerLexicon() [][]string {
	out := make([][]string, 0, len(FillerWords))
	for _, f := range FillerWords {
		out = append(out, strings.Fields(f))
	}
	// Longest phrases win when entries overlap
	sort.SliceStable(out, func(i, j int) bool { return len(out[i]) > len(out[j]) })
	return out
}

// FillerCount is the per-word breakdown of filler occurrences
type FillerCount struct {
	Total  int
	ByWord map[string]int
}

// CountFillers counts filler occurrences in a single text
func CountFillers(text string) FillerCount {
	return countFillerTokens(Tokenize(text))
}

func countFillerTokens(tokens []string) FillerCount {
	fc := FillerCount{ByWord: make(map[string]int)}
	for i := 0; i < len(tokens); {
		matched := false
		for _, phrase := range fillerLexicon {
			if hasPhraseAt(tokens, phrase, i) {
				fc.ByWord[strings.Join(phrase, " ")]++
				fc.Total++
				i += len(phrase)
				matched = true
				break
			}
		}
		if !matched {
			i++
		}
	}
	return fc
}

// CountCandidateFillers counts filler words across candidate turns only
func CountCandidateFillers(turns []models.Transcript) FillerCount {
	total := FillerCount{ByWord: make(map[string]int)}
	for _, t := range CandidateTurns(turns) {
		fc := CountFillers(t.Content)
		total.Total += fc.Total
		for w, n := range fc.ByWord {
			total.ByWord[w] += n
		}
	}
	return total
}
