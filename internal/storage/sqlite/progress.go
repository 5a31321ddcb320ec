package sqlite

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/kbcurator/backend/internal/storage/models"
)

func (c *Client) UpsertAnalysisProgress(p *models.AnalysisProgress) error {
	query := `
		INSERT INTO analysis_progress (id, agent_id, requirement_id, total_chunks,
			chunks_processed, current_batch, status, started_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(agent_id, requirement_id) DO UPDATE SET
			total_chunks = excluded.total_chunks,
			chunks_processed = excluded.chunks_processed,
			current_batch = excluded.current_batch,
			status = excluded.status,
			updated_at = excluded.updated_at
	`

	_, err := c.db.Exec(query, p.ID, p.AgentID, p.RequirementID, p.TotalChunks,
		p.ChunksProcessed, p.CurrentBatch, p.Status, p.StartedAt.Unix(), p.UpdatedAt.Unix())
	if err != nil {
		return fmt.Errorf("failed to upsert analysis progress: %w", err)
	}
	return nil
}

func (c *Client) GetAnalysisProgress(agentID, requirementID string) (*models.AnalysisProgress, error) {
	query := `
		SELECT id, agent_id, requirement_id, total_chunks, chunks_processed,
			current_batch, status, started_at, updated_at
		FROM analysis_progress
		WHERE agent_id = ? AND requirement_id = ?
	`

	var p models.AnalysisProgress
	var startedAt, updatedAt int64

	err := c.db.QueryRow(query, agentID, requirementID).Scan(&p.ID, &p.AgentID,
		&p.RequirementID, &p.TotalChunks, &p.ChunksProcessed, &p.CurrentBatch,
		&p.Status, &startedAt, &updatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get analysis progress: %w", err)
	}

	p.StartedAt = time.Unix(startedAt, 0)
	p.UpdatedAt = time.Unix(updatedAt, 0)
	return &p, nil
}

// CountCompletedAnalyses reports how many analyses have finished for
// the agent. The auto-removal safe-mode window starts at the first one.
func (c *Client) CountCompletedAnalyses(agentID string) (int, error) {
	var count int
	err := c.db.QueryRow(`
		SELECT COUNT(*) FROM analysis_progress WHERE agent_id = ? AND status = ?
	`, agentID, models.AnalysisCompleted).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count completed analyses: %w", err)
	}
	return count, nil
}
