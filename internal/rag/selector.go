// Package rag selects which knowledge-pack chunks belong in a given turn's
// prompt: all PriorityAlways chunks, plus PriorityRelevant chunks that score
// above a similarity threshold, trimmed to a token budget.
package rag

import (
	"math"
	"sort"
	"strings"

	"github.com/beaconhq/beacon/internal/rag/packs"
	"github.com/beaconhq/beacon/internal/tokencount"
)

// relevanceThreshold is the minimum cosine similarity (or, for tag
// matching, the minimum fraction of query tokens present in a chunk's tags)
// for a PriorityRelevant chunk to be considered for inclusion.
const relevanceThreshold = 0.2

// Selection is one chunk chosen for inclusion, with the score that won it a
// place (1.0 for always-priority chunks that bypassed scoring).
type Selection struct {
	Document packs.PackDocument
	Score    float64
}

// Select returns the chunks from documents that belong in the prompt for
// userMessage, bounded by tokenBudget estimated tokens. Always-priority
// chunks are included first (in input order) and never scored; remaining
// budget is then filled by Relevant chunks ranked by score, highest first.
// At least one Relevant chunk is included even if it alone exceeds the
// remaining budget, so a single highly relevant chunk is never starved by
// rounding.
func Select(documents []packs.PackDocument, userMessage string, queryEmbedding []float32, tokenBudget int, counter *tokencount.Counter) []Selection {
	var always, relevant []packs.PackDocument
	for _, d := range documents {
		if d.priority() == packs.PriorityAlways {
			always = append(always, d)
		} else {
			relevant = append(relevant, d)
		}
	}

	scored := make([]Selection, 0, len(relevant))
	tags := tokenize(userMessage)
	for _, d := range relevant {
		score := scoreDocument(d, queryEmbedding, tags)
		if score >= relevanceThreshold {
			scored = append(scored, Selection{Document: d, Score: score})
		}
	}
	sort.SliceStable(scored, func(i, j int) bool { return scored[i].Score > scored[j].Score })

	var out []Selection
	budget := tokenBudget

	for _, d := range always {
		out = append(out, Selection{Document: d, Score: 1.0})
		budget -= counter.Estimate(d.Content)
	}

	for i, s := range scored {
		cost := counter.Estimate(s.Document.Content)
		if cost > budget {
			if i == 0 && len(out) == len(always) {
				// Keep-at-least-one-relevant-chunk rule: don't let a tight
				// budget starve every relevant chunk just because the
				// highest-scoring one happens to be large.
				out = append(out, s)
			}
			break
		}
		out = append(out, s)
		budget -= cost
	}

	return out
}

// scoreDocument returns cosine similarity against queryEmbedding when both
// vectors are available, otherwise the fraction of tokenized query words
// that appear among the document's tags.
func scoreDocument(d packs.PackDocument, queryEmbedding []float32, queryTags map[string]bool) float64 {
	if len(d.Embedding) > 0 && len(queryEmbedding) > 0 {
		return cosineSimilarity(d.Embedding, queryEmbedding)
	}
	return tagMatchScore(d.Tags, queryTags)
}

func cosineSimilarity(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}

func tagMatchScore(tags []string, queryTags map[string]bool) float64 {
	if len(tags) == 0 || len(queryTags) == 0 {
		return 0
	}
	matches := 0
	for _, t := range tags {
		if queryTags[strings.ToLower(t)] {
			matches++
		}
	}
	return float64(matches) / float64(len(tags))
}

func tokenize(message string) map[string]bool {
	fields := strings.FieldsFunc(strings.ToLower(message), func(r rune) bool {
		return !('a' <= r && r <= 'z' || '0' <= r && r <= '9')
	})
	set := make(map[string]bool, len(fields))
	for _, f := range fields {
		if f != "" {
			set[f] = true
		}
	}
	return set
}
