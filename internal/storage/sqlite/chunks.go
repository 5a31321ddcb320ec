package sqlite

import (
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/kbcurator/backend/internal/storage/models"
)

func (c *Client) InsertChunk(chunk *models.Chunk) error {
	query := `
		INSERT INTO chunks (id, agent_id, document_id, content, category, active, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			content = excluded.content,
			category = excluded.category
	`

	active := 0
	if chunk.Active {
		active = 1
	}

	_, err := c.db.Exec(query, chunk.ID, chunk.AgentID, chunk.DocumentID,
		chunk.Content, chunk.Category, active, chunk.CreatedAt.Unix())
	if err != nil {
		return fmt.Errorf("failed to insert chunk: %w", err)
	}
	return nil
}

func (c *Client) GetChunk(id string) (*models.Chunk, error) {
	query := `
		SELECT id, agent_id, document_id, content, COALESCE(category, ''), active,
			COALESCE(removal_reason, ''), removed_at, created_at
		FROM chunks WHERE id = ?
	`

	row := c.db.QueryRow(query, id)
	chunk, err := scanChunk(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get chunk: %w", err)
	}
	return chunk, nil
}

// ListActiveChunks returns the agent's active chunks in a stable order.
// Ordering by (created_at, id) keeps batch boundaries deterministic
// across invocations of the analysis job.
func (c *Client) ListActiveChunks(agentID string) ([]*models.Chunk, error) {
	query := `
		SELECT id, agent_id, document_id, content, COALESCE(category, ''), active,
			COALESCE(removal_reason, ''), removed_at, created_at
		FROM chunks
		WHERE agent_id = ? AND active = 1
		ORDER BY created_at, id
	`

	rows, err := c.db.Query(query, agentID)
	if err != nil {
		return nil, fmt.Errorf("failed to list active chunks: %w", err)
	}
	defer rows.Close()

	var chunks []*models.Chunk
	for rows.Next() {
		chunk, err := scanChunk(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan chunk: %w", err)
		}
		chunks = append(chunks, chunk)
	}
	return chunks, rows.Err()
}

func (c *Client) CountActiveChunks(agentID string) (int, error) {
	var count int
	err := c.db.QueryRow(`SELECT COUNT(*) FROM chunks WHERE agent_id = ? AND active = 1`, agentID).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count active chunks: %w", err)
	}
	return count, nil
}

// SoftDeleteChunk clears the active flag and archives the chunk into
// removal_history in the same transaction, so a removal is always
// reversible from the archive.
func (c *Client) SoftDeleteChunk(chunkID string, entry *models.RemovalHistoryEntry) error {
	tx, err := c.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.Exec(`
		INSERT INTO removal_history (id, chunk_id, agent_id, content, category,
			final_score, reason, removal_type, removed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, entry.ID, entry.ChunkID, entry.AgentID, entry.Content, entry.Category,
		entry.FinalScore, entry.Reason, entry.RemovalType, entry.RemovedAt.Unix())
	if err != nil {
		return fmt.Errorf("failed to archive chunk: %w", err)
	}

	_, err = tx.Exec(`
		UPDATE chunks SET active = 0, removal_reason = ?, removed_at = ? WHERE id = ?
	`, entry.Reason, entry.RemovedAt.Unix(), chunkID)
	if err != nil {
		return fmt.Errorf("failed to soft-delete chunk: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit chunk removal: %w", err)
	}
	return nil
}

// ListOrphanChunks returns chunks whose owning document no longer
// exists.
func (c *Client) ListOrphanChunks(limit int) ([]*models.Chunk, error) {
	query := `
		SELECT ch.id, ch.agent_id, ch.document_id, ch.content, COALESCE(ch.category, ''),
			ch.active, COALESCE(ch.removal_reason, ''), ch.removed_at, ch.created_at
		FROM chunks ch
		LEFT JOIN documents d ON ch.document_id = d.id
		WHERE d.id IS NULL
		ORDER BY ch.created_at, ch.id
		LIMIT ?
	`

	rows, err := c.db.Query(query, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list orphan chunks: %w", err)
	}
	defer rows.Close()

	var chunks []*models.Chunk
	for rows.Next() {
		chunk, err := scanChunk(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan orphan chunk: %w", err)
		}
		chunks = append(chunks, chunk)
	}
	return chunks, rows.Err()
}

func (c *Client) DeleteChunks(ids []string) error {
	if len(ids) == 0 {
		return nil
	}

	placeholders := strings.Repeat("?,", len(ids))
	placeholders = placeholders[:len(placeholders)-1]

	args := make([]interface{}, len(ids))
	for i, id := range ids {
		args[i] = id
	}

	_, err := c.db.Exec(`DELETE FROM chunks WHERE id IN (`+placeholders+`)`, args...)
	if err != nil {
		return fmt.Errorf("failed to delete chunks: %w", err)
	}
	return nil
}

func (c *Client) DeleteChunksByDocument(documentID string) error {
	_, err := c.db.Exec(`DELETE FROM chunks WHERE document_id = ?`, documentID)
	if err != nil {
		return fmt.Errorf("failed to delete document chunks: %w", err)
	}
	return nil
}

// ListAgentChunkDocumentIDs returns the distinct document ids that have
// materialized chunks for the agent. Used by the agent-sync consistency
// repair to compare against the assignment graph.
func (c *Client) ListAgentChunkDocumentIDs(agentID string) ([]string, error) {
	rows, err := c.db.Query(`SELECT DISTINCT document_id FROM chunks WHERE agent_id = ?`, agentID)
	if err != nil {
		return nil, fmt.Errorf("failed to list chunk document ids: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan document id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanChunk(row rowScanner) (*models.Chunk, error) {
	var chunk models.Chunk
	var active int
	var removedAt sql.NullInt64
	var createdAt int64

	err := row.Scan(&chunk.ID, &chunk.AgentID, &chunk.DocumentID, &chunk.Content,
		&chunk.Category, &active, &chunk.RemovalReason, &removedAt, &createdAt)
	if err != nil {
		return nil, err
	}

	chunk.Active = active == 1
	if removedAt.Valid {
		t := time.Unix(removedAt.Int64, 0)
		chunk.RemovedAt = &t
	}
	chunk.CreatedAt = time.Unix(createdAt, 0)
	return &chunk, nil
}
