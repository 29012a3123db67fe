package scoring

import (
	"sort"
)

// technicalTerms is a small lexicon of engineering vocabulary counted towards technical depth
var technicalTerms = toSet(`algorithm algorithms api apis architecture async asynchronous availability backend benchmark
cache caching cdn ci cd cloud cluster complexity concurrency consistency container containers database databases
debugging deployment design distributed docker encryption endpoint eventual failover framework frontend graphql hash
http idempotent index indexing infrastructure integration kafka kubernetes latency library load microservice
microservices migration monitoring mutex network nosql observability optimization optimize partition partitioning
performance pipeline postgres protocol queue queues race react redis refactor refactoring regression replication rest
retry rollback scalability scalable scale scaling schema security serverless shard sharding sql throughput testing
thread threads token transaction transactions typescript unit websocket go golang java python rust c++ c# javascript
aws gcp azure terraform grpc oauth jwt tcp udp dns linux lambda s3 sqs dynamodb mongodb mysql elasticsearch
prometheus grafana profiling memory cpu heap stack recursion graph tree trie binary sorting`)

// IsTechnicalTerm reports whether a token belongs to the technical lexicon
func IsTechnicalTerm(token string) bool {
	if _, ok := technicalTerms[token]; ok {
		return true
	}
	_, ok := technicalTerms[normalizeToken(token)]
	return ok
}

// MaxKeywords bounds the context keyword list
const MaxKeywords = 25

// ExtractKeywords returns the most frequent content words of the given texts.
// Words are counted on their folded form and reported as first seen.
// Ties are broken alphabetically so the result is stable.
func ExtractKeywords(texts ...string) []string {
	freq := make(map[string]int)
	surface := make(map[string]string)
	for _, text := range texts {
		for _, t := range Tokenize(text) {
			if len(t) < 3 || isStopword(t) || isNumeric(t) {
				continue
			}
			key := normalizeToken(t)
			if _, seen := surface[key]; !seen {
				surface[key] = t
			}
			freq[key]++
		}
	}
	keys := make([]string, 0, len(freq))
	for k := range freq {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		// Technical vocabulary ranks ahead of generic words at equal frequency
		if freq[keys[i]] != freq[keys[j]] {
			return freq[keys[i]] > freq[keys[j]]
		}
		ti, tj := IsTechnicalTerm(keys[i]), IsTechnicalTerm(keys[j])
		if ti != tj {
			return ti
		}
		return keys[i] < keys[j]
	})
	if len(keys) > MaxKeywords {
		keys = keys[:MaxKeywords]
	}
	out := make([]string, len(keys))
	for i, k := range keys {
		out[i] = surface[k]
	}
	return out
}

// ContextKeywords derives the keyword set of a job context
func ContextKeywords(c Context) []string {
	return ExtractKeywords(c.JobTitle, c.JobTitle, c.InterviewType, c.JDContext, c.Resume)
}

// tokenSet returns the normalized tokens of the given texts
func tokenSet(texts ...string) map[string]struct{} {
	out := make(map[string]struct{})
	for _, text := range texts {
		for _, t := range Tokenize(text) {
			out[normalizeToken(t)] = struct{}{}
		}
	}
	return out
}

// KeywordMatch splits keywords into the ones present in and missing from the candidate text
func KeywordMatch(keywords []string, candidateTexts ...string) (matched, missing []string) {
	present := tokenSet(candidateTexts...)
	matched = []string{}
	missing = []string{}
	for _, k := range keywords {
		if _, ok := present[normalizeToken(k)]; ok {
			matched = append(matched, k)
		} else {
			missing = append(missing, k)
		}
	}
	return matched, missing
}
