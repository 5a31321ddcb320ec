package sqlite

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/kbcurator/backend/internal/storage/models"
)

func (c *Client) InsertAgent(agent *models.Agent) error {
	query := `
		INSERT INTO agents (id, name, instruction, activated_at, created_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			instruction = excluded.instruction
	`

	var activatedAt interface{}
	if agent.ActivatedAt != nil {
		activatedAt = agent.ActivatedAt.Unix()
	}

	_, err := c.db.Exec(query, agent.ID, agent.Name, agent.Instruction, activatedAt, agent.CreatedAt.Unix())
	if err != nil {
		return fmt.Errorf("failed to insert agent: %w", err)
	}
	return nil
}

func (c *Client) GetAgent(id string) (*models.Agent, error) {
	query := `SELECT id, name, instruction, activated_at, created_at FROM agents WHERE id = ?`

	var agent models.Agent
	var activatedAt sql.NullInt64
	var createdAt int64

	err := c.db.QueryRow(query, id).Scan(&agent.ID, &agent.Name, &agent.Instruction, &activatedAt, &createdAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get agent: %w", err)
	}

	if activatedAt.Valid {
		t := time.Unix(activatedAt.Int64, 0)
		agent.ActivatedAt = &t
	}
	agent.CreatedAt = time.Unix(createdAt, 0)

	return &agent, nil
}

// MarkAgentActivated records the start of the safe-mode grace window.
// Only the first completed analysis sets it; later runs keep the
// original timestamp.
func (c *Client) MarkAgentActivated(id string, at time.Time) error {
	query := `UPDATE agents SET activated_at = ? WHERE id = ? AND activated_at IS NULL`
	_, err := c.db.Exec(query, at.Unix(), id)
	if err != nil {
		return fmt.Errorf("failed to mark agent activated: %w", err)
	}
	return nil
}

func (c *Client) ListAgentIDs() ([]string, error) {
	rows, err := c.db.Query(`SELECT id FROM agents ORDER BY created_at, id`)
	if err != nil {
		return nil, fmt.Errorf("failed to list agents: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan agent id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}
