package curation

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/kbcurator/backend/internal/oracle"
	"github.com/kbcurator/backend/internal/storage/models"
)

// RelevanceOracle is the slice of the oracle client the scorer needs.
type RelevanceOracle interface {
	ScoreRelevance(ctx context.Context, userPrompt string) (*oracle.DimensionScores, error)
	Model() string
}

// ScoreStore persists score rows with (chunk, requirement) upsert
// semantics.
type ScoreStore interface {
	UpsertRelevanceScore(score *models.RelevanceScore) error
}

type Scorer struct {
	oracle RelevanceOracle
	store  ScoreStore
}

func NewScorer(o RelevanceOracle, store ScoreStore) *Scorer {
	return &Scorer{oracle: o, store: store}
}

// Score evaluates one chunk against the requirement profile and
// persists the resulting row. The oracle returns 0-100 dimension
// scores; they are normalized to 0-1 before weighting:
//
//	final = Σ(dimension_i / 100 * weight_i)
//
// Persisting through an upsert keyed by (chunk, requirement) makes
// re-running a batch after a crash idempotent.
func (s *Scorer) Score(ctx context.Context, chunk *models.Chunk, profile *models.RequirementProfile, weights Weights) (*models.RelevanceScore, error) {
	prompt, err := buildScoringPrompt(profile.Summary, profile.Concepts,
		profile.Procedures, profile.Vocabulary, chunk.Category, chunk.Content)
	if err != nil {
		return nil, fmt.Errorf("building scoring prompt: %w", err)
	}

	dims, err := s.oracle.ScoreRelevance(ctx, prompt)
	if err != nil {
		return nil, fmt.Errorf("scoring chunk %s: %w", chunk.ID, err)
	}

	score := &models.RelevanceScore{
		ID:              uuid.NewString(),
		ChunkID:         chunk.ID,
		RequirementID:   profile.ID,
		SemanticScore:   dims.Semantic / 100,
		ConceptScore:    dims.Concept / 100,
		ProceduralScore: dims.Procedural / 100,
		VocabularyScore: dims.Vocabulary / 100,
		ReferenceScore:  dims.Reference / 100,
		Rationale:       dims.Rationale,
		OracleModel:     s.oracle.Model(),
		CreatedAt:       time.Now(),
	}
	score.FinalScore = score.SemanticScore*weights.Semantic +
		score.ConceptScore*weights.Concept +
		score.ProceduralScore*weights.Procedural +
		score.VocabularyScore*weights.Vocabulary +
		score.ReferenceScore*weights.Reference

	if err := s.store.UpsertRelevanceScore(score); err != nil {
		return nil, fmt.Errorf("persisting score for chunk %s: %w", chunk.ID, err)
	}

	return score, nil
}
