package retrieval

import (
	"math"
	"strings"
	"time"

	"github.com/openswarm/swarm-go/pkg/storage"
)

// Scorer ranks search matches. Implementations must be deterministic: equal
// inputs produce equal scores, so result ordering is stable across calls.
type Scorer interface {
	// Score returns the relevance of record for query at the given time.
	// Higher is more relevant.
	Score(record *storage.MemoryRecord, query string, now time.Time) float64
}

// DefaultScorer combines textual match strength, recency decay on the
// forgetting-curve model, and reference count.
//
// Recency follows R = e^(-decayRate * hoursElapsed / 24), measured from the
// last reference (or creation when the record was never read).
type DefaultScorer struct {
	// DecayRate is the recency decay rate. Typical range: 0.05-0.2.
	// Values <= 0 default to 0.1.
	DecayRate float64
}

func (s DefaultScorer) Score(record *storage.MemoryRecord, query string, now time.Time) float64 {
	decayRate := s.DecayRate
	if decayRate <= 0 {
		decayRate = 0.1
	}

	match := matchStrength(record, query)

	reference := record.LastReferenced
	if reference.IsZero() {
		reference = record.CreatedAt
	}
	hours := now.Sub(reference).Hours()
	if hours < 0 {
		hours = 0
	}
	recency := math.Exp(-decayRate * hours / 24)

	// Reference count saturates so a hot record cannot drown out a better
	// textual match.
	popularity := float64(record.ReferenceCount) / float64(record.ReferenceCount+10)

	return 0.6*match + 0.3*recency + 0.1*popularity
}

// matchStrength is the fraction of query terms found in the record's content
// or theme tags. An empty query counts as a full match.
func matchStrength(record *storage.MemoryRecord, query string) float64 {
	terms := strings.Fields(strings.ToLower(query))
	if len(terms) == 0 {
		return 1
	}

	content := strings.ToLower(record.Content)
	matched := 0
	for _, term := range terms {
		if strings.Contains(content, term) || themeMatches(record.Themes, term) {
			matched++
		}
	}
	return float64(matched) / float64(len(terms))
}

func themeMatches(themes []string, term string) bool {
	for _, theme := range themes {
		if strings.Contains(strings.ToLower(theme), term) {
			return true
		}
	}
	return false
}

// matchesQuery reports whether the record matches at least one query term.
// An empty query matches everything.
func matchesQuery(record *storage.MemoryRecord, query string) bool {
	return matchStrength(record, query) > 0
}
