package sqlite

import (
	"fmt"
	"time"

	"github.com/kbcurator/backend/internal/storage/models"
)

func (c *Client) InsertMaintenanceRun(run *models.MaintenanceRun) error {
	query := `
		INSERT INTO maintenance_runs (id, status, documents_fixed, documents_failed,
			chunks_cleaned, agents_synced, agents_failed, summaries_generated,
			summaries_failed, started_at, finished_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			status = excluded.status,
			documents_fixed = excluded.documents_fixed,
			documents_failed = excluded.documents_failed,
			chunks_cleaned = excluded.chunks_cleaned,
			agents_synced = excluded.agents_synced,
			agents_failed = excluded.agents_failed,
			summaries_generated = excluded.summaries_generated,
			summaries_failed = excluded.summaries_failed,
			finished_at = excluded.finished_at
	`

	var finishedAt interface{}
	if run.FinishedAt != nil {
		finishedAt = run.FinishedAt.Unix()
	}

	_, err := c.db.Exec(query, run.ID, run.Status, run.DocumentsFixed, run.DocumentsFailed,
		run.ChunksCleaned, run.AgentsSynced, run.AgentsFailed, run.SummariesGenerated,
		run.SummariesFailed, run.StartedAt.Unix(), finishedAt)
	if err != nil {
		return fmt.Errorf("failed to insert maintenance run: %w", err)
	}
	return nil
}

func (c *Client) ListMaintenanceRuns(limit int) ([]*models.MaintenanceRun, error) {
	query := `
		SELECT id, status, documents_fixed, documents_failed, chunks_cleaned,
			agents_synced, agents_failed, summaries_generated, summaries_failed,
			started_at, finished_at
		FROM maintenance_runs
		ORDER BY started_at DESC
		LIMIT ?
	`

	rows, err := c.db.Query(query, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list maintenance runs: %w", err)
	}
	defer rows.Close()

	var runs []*models.MaintenanceRun
	for rows.Next() {
		var run models.MaintenanceRun
		var startedAt int64
		var finishedAt *int64
		err := rows.Scan(&run.ID, &run.Status, &run.DocumentsFixed, &run.DocumentsFailed,
			&run.ChunksCleaned, &run.AgentsSynced, &run.AgentsFailed,
			&run.SummariesGenerated, &run.SummariesFailed, &startedAt, &finishedAt)
		if err != nil {
			return nil, fmt.Errorf("failed to scan maintenance run: %w", err)
		}
		run.StartedAt = time.Unix(startedAt, 0)
		if finishedAt != nil {
			t := time.Unix(*finishedAt, 0)
			run.FinishedAt = &t
		}
		runs = append(runs, &run)
	}
	return runs, rows.Err()
}

func (c *Client) InsertMaintenanceOperation(op *models.MaintenanceOperation) error {
	query := `
		INSERT INTO maintenance_operations (run_id, target_id, operation, attempt, status, error, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`

	_, err := c.db.Exec(query, op.RunID, op.TargetID, op.Operation, op.Attempt,
		op.Status, op.Error, op.CreatedAt.Unix())
	if err != nil {
		return fmt.Errorf("failed to insert maintenance operation: %w", err)
	}
	return nil
}

// CountFailedAttempts counts recorded failures for a (target, operation)
// pair. The attempt cap is enforced against this history, not against
// per-sweep state.
func (c *Client) CountFailedAttempts(targetID, operation string) (int, error) {
	var count int
	err := c.db.QueryRow(`
		SELECT COUNT(*) FROM maintenance_operations
		WHERE target_id = ? AND operation = ? AND status IN (?, ?)
	`, targetID, operation, models.OpStatusFailed, models.OpStatusPermanentFailure).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count failed attempts: %w", err)
	}
	return count, nil
}

// HasPermanentFailure reports whether the target has already been given
// up on for this operation.
func (c *Client) HasPermanentFailure(targetID, operation string) (bool, error) {
	var count int
	err := c.db.QueryRow(`
		SELECT COUNT(*) FROM maintenance_operations
		WHERE target_id = ? AND operation = ? AND status = ?
	`, targetID, operation, models.OpStatusPermanentFailure).Scan(&count)
	if err != nil {
		return false, fmt.Errorf("failed to check permanent failure: %w", err)
	}
	return count > 0, nil
}

// ClearFailureHistory drops prior failure rows for a target once a
// repair has been independently verified, so a fixed item stops
// counting toward the attempt cap.
func (c *Client) ClearFailureHistory(targetID, operation string) error {
	_, err := c.db.Exec(`
		DELETE FROM maintenance_operations
		WHERE target_id = ? AND operation = ? AND status IN (?, ?)
	`, targetID, operation, models.OpStatusFailed, models.OpStatusPermanentFailure)
	if err != nil {
		return fmt.Errorf("failed to clear failure history: %w", err)
	}
	return nil
}
