package retrieval

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/openswarm/swarm-go/pkg/storage"
)

func TestMatchStrength(t *testing.T) {
	rec := &storage.MemoryRecord{
		Content: "Coffee with Maria at the old cafe",
		Themes:  []string{"people", "food"},
	}

	assert.Equal(t, 1.0, matchStrength(rec, ""), "empty query is a full match")
	assert.Equal(t, 1.0, matchStrength(rec, "coffee"))
	assert.Equal(t, 1.0, matchStrength(rec, "food"), "theme tags match too")
	assert.Equal(t, 0.5, matchStrength(rec, "coffee spaceship"))
	assert.Equal(t, 0.0, matchStrength(rec, "spaceship"))
}

func TestScoreRecencyDecay(t *testing.T) {
	now := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	scorer := DefaultScorer{DecayRate: 0.1}

	fresh := &storage.MemoryRecord{Content: "note", CreatedAt: now}
	stale := &storage.MemoryRecord{Content: "note", CreatedAt: now.Add(-30 * 24 * time.Hour)}

	assert.Greater(t, scorer.Score(fresh, "note", now), scorer.Score(stale, "note", now))
}

func TestScorePrefersLastReference(t *testing.T) {
	now := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	scorer := DefaultScorer{}

	// Both created long ago, but one was referenced recently.
	dormant := &storage.MemoryRecord{Content: "note", CreatedAt: now.Add(-60 * 24 * time.Hour)}
	revisited := &storage.MemoryRecord{
		Content:        "note",
		CreatedAt:      now.Add(-60 * 24 * time.Hour),
		LastReferenced: now.Add(-time.Hour),
	}

	assert.Greater(t, scorer.Score(revisited, "note", now), scorer.Score(dormant, "note", now))
}

func TestScorePopularitySaturates(t *testing.T) {
	now := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	scorer := DefaultScorer{}

	weakMatch := &storage.MemoryRecord{
		Content:        "tangentially related note",
		CreatedAt:      now,
		ReferenceCount: 1_000_000,
	}
	strongMatch := &storage.MemoryRecord{
		Content:   "exact subject note",
		CreatedAt: now,
	}

	// A perfect textual match beats any reference count on a partial match.
	assert.Greater(t,
		scorer.Score(strongMatch, "exact subject", now),
		scorer.Score(weakMatch, "exact subject", now))
}

func TestScoreDeterministic(t *testing.T) {
	now := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	scorer := DefaultScorer{}
	rec := &storage.MemoryRecord{
		Content:        "repeatable",
		CreatedAt:      now.Add(-time.Hour),
		ReferenceCount: 4,
	}

	first := scorer.Score(rec, "repeatable", now)
	for i := 0; i < 5; i++ {
		assert.Equal(t, first, scorer.Score(rec, "repeatable", now))
	}
}
