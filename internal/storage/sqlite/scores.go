package sqlite

import (
	"fmt"
	"time"

	"github.com/kbcurator/backend/internal/storage/models"
)

// UpsertRelevanceScore writes a score row keyed by (chunk, requirement).
// Re-scoring the same chunk replaces the prior row, which makes batch
// re-runs after a crash idempotent.
func (c *Client) UpsertRelevanceScore(score *models.RelevanceScore) error {
	query := `
		INSERT INTO relevance_scores (id, chunk_id, requirement_id, semantic_score,
			concept_score, procedural_score, vocabulary_score, reference_score,
			final_score, rationale, oracle_model, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(chunk_id, requirement_id) DO UPDATE SET
			semantic_score = excluded.semantic_score,
			concept_score = excluded.concept_score,
			procedural_score = excluded.procedural_score,
			vocabulary_score = excluded.vocabulary_score,
			reference_score = excluded.reference_score,
			final_score = excluded.final_score,
			rationale = excluded.rationale,
			oracle_model = excluded.oracle_model,
			created_at = excluded.created_at
	`

	_, err := c.db.Exec(query, score.ID, score.ChunkID, score.RequirementID,
		score.SemanticScore, score.ConceptScore, score.ProceduralScore,
		score.VocabularyScore, score.ReferenceScore, score.FinalScore,
		score.Rationale, score.OracleModel, score.CreatedAt.Unix())
	if err != nil {
		return fmt.Errorf("failed to upsert relevance score: %w", err)
	}
	return nil
}

// CountScores is the authoritative progress measure for an analysis:
// the number of persisted score rows, not an in-memory counter.
func (c *Client) CountScores(requirementID string) (int, error) {
	var count int
	err := c.db.QueryRow(`SELECT COUNT(*) FROM relevance_scores WHERE requirement_id = ?`, requirementID).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count scores: %w", err)
	}
	return count, nil
}

func (c *Client) ListScores(requirementID string) ([]*models.RelevanceScore, error) {
	query := `
		SELECT id, chunk_id, requirement_id, semantic_score, concept_score,
			procedural_score, vocabulary_score, reference_score, final_score,
			COALESCE(rationale, ''), COALESCE(oracle_model, ''), created_at
		FROM relevance_scores
		WHERE requirement_id = ?
		ORDER BY final_score
	`

	rows, err := c.db.Query(query, requirementID)
	if err != nil {
		return nil, fmt.Errorf("failed to list scores: %w", err)
	}
	defer rows.Close()

	var scores []*models.RelevanceScore
	for rows.Next() {
		var s models.RelevanceScore
		var createdAt int64
		err := rows.Scan(&s.ID, &s.ChunkID, &s.RequirementID, &s.SemanticScore,
			&s.ConceptScore, &s.ProceduralScore, &s.VocabularyScore, &s.ReferenceScore,
			&s.FinalScore, &s.Rationale, &s.OracleModel, &createdAt)
		if err != nil {
			return nil, fmt.Errorf("failed to scan score: %w", err)
		}
		s.CreatedAt = time.Unix(createdAt, 0)
		scores = append(scores, &s)
	}
	return scores, rows.Err()
}

// ListScoredChunkIDs returns the chunk ids that already have a score
// row for the requirement. The analyzer skips these when resuming.
func (c *Client) ListScoredChunkIDs(requirementID string) (map[string]bool, error) {
	rows, err := c.db.Query(`SELECT chunk_id FROM relevance_scores WHERE requirement_id = ?`, requirementID)
	if err != nil {
		return nil, fmt.Errorf("failed to list scored chunk ids: %w", err)
	}
	defer rows.Close()

	scored := make(map[string]bool)
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan chunk id: %w", err)
		}
		scored[id] = true
	}
	return scored, rows.Err()
}

// DeleteScores removes all score rows for a requirement. Used on forced
// restarts so stale scores from older prompts or weights cannot leak
// into a fresh analysis.
func (c *Client) DeleteScores(requirementID string) error {
	_, err := c.db.Exec(`DELETE FROM relevance_scores WHERE requirement_id = ?`, requirementID)
	if err != nil {
		return fmt.Errorf("failed to delete scores: %w", err)
	}
	return nil
}
