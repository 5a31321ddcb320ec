package curation

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/kbcurator/backend/internal/storage/models"
	"github.com/kbcurator/backend/internal/storage/sqlite"
	"github.com/kbcurator/backend/pkg/utils"
)

// addScoredContent inserts an active chunk plus its relevance score so
// coverage matching sees both the text and the dimension scores.
func addScoredContent(t *testing.T, store *sqlite.Client, agentID, requirementID, content, category string, score models.RelevanceScore) *models.Chunk {
	t.Helper()

	chunk := &models.Chunk{
		ID:         uuid.NewString(),
		AgentID:    agentID,
		DocumentID: uuid.NewString(),
		Content:    content,
		Category:   category,
		Active:     true,
		CreatedAt:  time.Now(),
	}
	if err := store.InsertChunk(chunk); err != nil {
		t.Fatalf("InsertChunk: %v", err)
	}

	score.ID = uuid.NewString()
	score.ChunkID = chunk.ID
	score.RequirementID = requirementID
	score.CreatedAt = time.Now()
	if err := store.UpsertRelevanceScore(&score); err != nil {
		t.Fatalf("UpsertRelevanceScore: %v", err)
	}
	return chunk
}

func newGapAnalyzer(store *sqlite.Client, o *fakeOracle, cache *fakeCache) *GapAnalyzer {
	return NewGapAnalyzer(store, o, &fakeVector{}, cache, GapConfig{
		FullCoverageChunks: 3,
		MinCoverageRatio:   0.3,
		MaxSuggestions:     5,
		HighScoreCutoff:    0.5,
	})
}

func TestGapPartialCoverageIsNotAGap(t *testing.T) {
	store := newCurationStore(t)
	agentID := uuid.NewString()
	profile := &models.RequirementProfile{ID: uuid.NewString(), AgentID: agentID, Concepts: []string{"refund policy"}}

	// Two of three chunks mention the item and score high on the
	// concept dimension: coverage 2/3, above the 0.3 floor.
	for i := 0; i < 2; i++ {
		addScoredContent(t, store, agentID, profile.ID, "our refund policy allows returns within 30 days", "concept",
			models.RelevanceScore{ConceptScore: 0.8, FinalScore: 0.8})
	}
	addScoredContent(t, store, agentID, profile.ID, "shipping rates by region", "concept",
		models.RelevanceScore{ConceptScore: 0.1, FinalScore: 0.5})

	report, err := newGapAnalyzer(store, newFakeOracle(), newFakeCache()).Analyze(context.Background(), agentID, profile)
	if err != nil {
		t.Fatalf("Analyze: %v", err)
	}
	if len(report.Gaps) != 0 {
		t.Errorf("gaps = %v, want none", report.Gaps)
	}
	if report.CoveragePct < 66 || report.CoveragePct > 67 {
		t.Errorf("coverage = %.2f%%, want ~66.7%%", report.CoveragePct)
	}
}

func TestGapMatchRequiresHighDimensionScore(t *testing.T) {
	store := newCurationStore(t)
	agentID := uuid.NewString()
	profile := &models.RequirementProfile{ID: uuid.NewString(), AgentID: agentID, Procedures: []string{"escalation"}}

	// Mentions the item but the procedural dimension is below the
	// cutoff, so it does not count toward coverage.
	addScoredContent(t, store, agentID, profile.ID, "mention of escalation in passing", "procedure",
		models.RelevanceScore{ProceduralScore: 0.2, FinalScore: 0.6})

	report, err := newGapAnalyzer(store, newFakeOracle(), newFakeCache()).Analyze(context.Background(), agentID, profile)
	if err != nil {
		t.Fatalf("Analyze: %v", err)
	}
	if len(report.Gaps) != 1 {
		t.Fatalf("gaps = %d, want 1", len(report.Gaps))
	}
	if report.Gaps[0].Severity != 1 {
		t.Errorf("severity = %.2f, want 1 for zero coverage", report.Gaps[0].Severity)
	}
}

func TestGapsSortedBySeverityThenItem(t *testing.T) {
	store := newCurationStore(t)
	agentID := uuid.NewString()
	profile := &models.RequirementProfile{
		ID:       uuid.NewString(),
		AgentID:  agentID,
		Concepts: []string{"zebra topic", "apple topic", "partially covered"},
	}

	addScoredContent(t, store, agentID, profile.ID, "notes on the partially covered concept", "concept",
		models.RelevanceScore{ConceptScore: 0.9, FinalScore: 0.9})

	report, err := newGapAnalyzer(store, newFakeOracle(), newFakeCache()).Analyze(context.Background(), agentID, profile)
	if err != nil {
		t.Fatalf("Analyze: %v", err)
	}
	if len(report.Gaps) != 2 {
		t.Fatalf("gaps = %d, want 2 (coverage 1/3 passes the floor)", len(report.Gaps))
	}
	if report.Gaps[0].Item != "apple topic" || report.Gaps[1].Item != "zebra topic" {
		t.Errorf("gap order = [%s, %s], want ties broken alphabetically",
			report.Gaps[0].Item, report.Gaps[1].Item)
	}
}

func TestGapSuggestionFromOracle(t *testing.T) {
	store := newCurationStore(t)
	agentID := uuid.NewString()
	profile := &models.RequirementProfile{ID: uuid.NewString(), AgentID: agentID, Vocabulary: []string{"chargeback"}}

	o := newFakeOracle()
	cache := newFakeCache()
	report, err := newGapAnalyzer(store, o, cache).Analyze(context.Background(), agentID, profile)
	if err != nil {
		t.Fatalf("Analyze: %v", err)
	}
	if len(report.Gaps) != 1 {
		t.Fatalf("gaps = %d, want 1", len(report.Gaps))
	}
	if !strings.Contains(report.Gaps[0].Suggestion, "chargeback") {
		t.Errorf("suggestion %q should name the missing item", report.Gaps[0].Suggestion)
	}

	// Successful suggestions are cached for subsequent reports.
	itemHash := utils.HashString(agentID + ":vocabulary:chargeback")
	if _, ok, _ := cache.GetSuggestion(context.Background(), itemHash); !ok {
		t.Error("suggestion was not cached")
	}
}

func TestGapSuggestionFallsBackWhenOracleFails(t *testing.T) {
	store := newCurationStore(t)
	agentID := uuid.NewString()
	profile := &models.RequirementProfile{ID: uuid.NewString(), AgentID: agentID, Concepts: []string{"dispute handling"}}

	o := newFakeOracle()
	o.suggestErr = errors.New("oracle unavailable")

	report, err := newGapAnalyzer(store, o, newFakeCache()).Analyze(context.Background(), agentID, profile)
	if err != nil {
		t.Fatalf("Analyze: %v", err)
	}
	if len(report.Gaps) != 1 {
		t.Fatalf("gaps = %d, want 1", len(report.Gaps))
	}
	suggestion := report.Gaps[0].Suggestion
	if !strings.Contains(suggestion, "dispute handling") || !strings.Contains(suggestion, "Add documents") {
		t.Errorf("fallback suggestion %q should be templated around the item", suggestion)
	}
}

func TestGapSuggestionServedFromCache(t *testing.T) {
	store := newCurationStore(t)
	agentID := uuid.NewString()
	profile := &models.RequirementProfile{ID: uuid.NewString(), AgentID: agentID, Concepts: []string{"warranty"}}

	cache := newFakeCache()
	itemHash := utils.HashString(agentID + ":concept:warranty")
	cache.SetSuggestion(context.Background(), itemHash, "cached remediation", time.Hour)

	o := newFakeOracle()
	o.suggestErr = errors.New("should not be called")

	report, err := newGapAnalyzer(store, o, cache).Analyze(context.Background(), agentID, profile)
	if err != nil {
		t.Fatalf("Analyze: %v", err)
	}
	if report.Gaps[0].Suggestion != "cached remediation" {
		t.Errorf("suggestion = %q, want the cached one", report.Gaps[0].Suggestion)
	}
}

func TestSurplusCategories(t *testing.T) {
	store := newCurationStore(t)
	agentID := uuid.NewString()
	profile := &models.RequirementProfile{ID: uuid.NewString(), AgentID: agentID}

	// Three well-represented but consistently low-scoring chunks in one
	// category, plus a healthy category for contrast.
	for i := 0; i < 3; i++ {
		addScoredContent(t, store, agentID, profile.ID, "legacy troubleshooting steps", "other",
			models.RelevanceScore{FinalScore: 0.2})
	}
	for i := 0; i < 3; i++ {
		addScoredContent(t, store, agentID, profile.ID, "current billing concepts", "concept",
			models.RelevanceScore{ConceptScore: 0.9, FinalScore: 0.9})
	}

	report, err := newGapAnalyzer(store, newFakeOracle(), newFakeCache()).Analyze(context.Background(), agentID, profile)
	if err != nil {
		t.Fatalf("Analyze: %v", err)
	}
	if len(report.SurplusCategories) != 1 || report.SurplusCategories[0] != "other" {
		t.Errorf("surplus = %v, want [other]", report.SurplusCategories)
	}
}
