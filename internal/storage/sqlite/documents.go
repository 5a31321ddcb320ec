package sqlite

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/kbcurator/backend/internal/storage/models"
)

func (c *Client) InsertDocument(doc *models.Document) error {
	query := `
		INSERT INTO documents (id, agent_id, title, source_type, raw_content, summary,
			page_count, chunk_count, extraction_mode, extraction_attempts, status,
			failure_reason, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			title = excluded.title,
			summary = excluded.summary,
			page_count = excluded.page_count,
			chunk_count = excluded.chunk_count,
			extraction_mode = excluded.extraction_mode,
			extraction_attempts = excluded.extraction_attempts,
			status = excluded.status,
			failure_reason = excluded.failure_reason,
			updated_at = excluded.updated_at
	`

	_, err := c.db.Exec(query,
		doc.ID, doc.AgentID, doc.Title, doc.SourceType, doc.RawContent, doc.Summary,
		doc.PageCount, doc.ChunkCount, doc.ExtractionMode, doc.ExtractionAttempts,
		doc.Status, doc.FailureReason, doc.CreatedAt.Unix(), doc.UpdatedAt.Unix(),
	)
	if err != nil {
		return fmt.Errorf("failed to insert document: %w", err)
	}
	return nil
}

func (c *Client) GetDocument(id string) (*models.Document, error) {
	query := `
		SELECT id, agent_id, title, source_type, raw_content, COALESCE(summary, ''),
			page_count, chunk_count, extraction_mode, extraction_attempts, status,
			COALESCE(failure_reason, ''), created_at, updated_at
		FROM documents WHERE id = ?
	`

	var doc models.Document
	var createdAt, updatedAt int64

	err := c.db.QueryRow(query, id).Scan(
		&doc.ID, &doc.AgentID, &doc.Title, &doc.SourceType, &doc.RawContent, &doc.Summary,
		&doc.PageCount, &doc.ChunkCount, &doc.ExtractionMode, &doc.ExtractionAttempts,
		&doc.Status, &doc.FailureReason, &createdAt, &updatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get document: %w", err)
	}

	doc.CreatedAt = time.Unix(createdAt, 0)
	doc.UpdatedAt = time.Unix(updatedAt, 0)
	return &doc, nil
}

func (c *Client) UpdateDocumentStatus(id, status, failureReason string) error {
	query := `UPDATE documents SET status = ?, failure_reason = ?, updated_at = ? WHERE id = ?`
	_, err := c.db.Exec(query, status, failureReason, time.Now().Unix(), id)
	if err != nil {
		return fmt.Errorf("failed to update document status: %w", err)
	}
	return nil
}

func (c *Client) UpdateDocumentSummary(id, summary string) error {
	query := `UPDATE documents SET summary = ?, updated_at = ? WHERE id = ?`
	_, err := c.db.Exec(query, summary, time.Now().Unix(), id)
	if err != nil {
		return fmt.Errorf("failed to update document summary: %w", err)
	}
	return nil
}

// UpdateDocumentExtraction records the outcome of an extraction pass:
// the mode used, the attempt counter, the page count and the resulting
// chunk tally.
func (c *Client) UpdateDocumentExtraction(id, mode string, attempts, pageCount, chunkCount int) error {
	query := `
		UPDATE documents
		SET extraction_mode = ?, extraction_attempts = ?, page_count = ?, chunk_count = ?, updated_at = ?
		WHERE id = ?
	`
	_, err := c.db.Exec(query, mode, attempts, pageCount, chunkCount, time.Now().Unix(), id)
	if err != nil {
		return fmt.Errorf("failed to update document extraction: %w", err)
	}
	return nil
}

// ListStuckDocuments returns documents that have been in "processing"
// since before the cutoff, oldest first.
func (c *Client) ListStuckDocuments(cutoff time.Time, limit int) ([]*models.Document, error) {
	query := `
		SELECT id, agent_id, title, source_type, raw_content, COALESCE(summary, ''),
			page_count, chunk_count, extraction_mode, extraction_attempts, status,
			COALESCE(failure_reason, ''), created_at, updated_at
		FROM documents
		WHERE status = 'processing' AND updated_at < ?
		ORDER BY updated_at
		LIMIT ?
	`
	return c.scanDocuments(query, cutoff.Unix(), limit)
}

// ListDocumentsMissingSummary returns completed documents with no
// summary yet.
func (c *Client) ListDocumentsMissingSummary(limit int) ([]*models.Document, error) {
	query := `
		SELECT id, agent_id, title, source_type, raw_content, COALESCE(summary, ''),
			page_count, chunk_count, extraction_mode, extraction_attempts, status,
			COALESCE(failure_reason, ''), created_at, updated_at
		FROM documents
		WHERE status = 'completed' AND (summary IS NULL OR summary = '')
		ORDER BY updated_at
		LIMIT ?
	`
	return c.scanDocuments(query, limit)
}

func (c *Client) ListAgentDocumentIDs(agentID string) ([]string, error) {
	rows, err := c.db.Query(`SELECT id FROM documents WHERE agent_id = ? ORDER BY created_at, id`, agentID)
	if err != nil {
		return nil, fmt.Errorf("failed to list agent documents: %w", err)
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

func (c *Client) scanDocuments(query string, args ...interface{}) ([]*models.Document, error) {
	rows, err := c.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query documents: %w", err)
	}
	defer rows.Close()

	var docs []*models.Document
	for rows.Next() {
		var doc models.Document
		var createdAt, updatedAt int64
		err := rows.Scan(
			&doc.ID, &doc.AgentID, &doc.Title, &doc.SourceType, &doc.RawContent, &doc.Summary,
			&doc.PageCount, &doc.ChunkCount, &doc.ExtractionMode, &doc.ExtractionAttempts,
			&doc.Status, &doc.FailureReason, &createdAt, &updatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan document: %w", err)
		}
		doc.CreatedAt = time.Unix(createdAt, 0)
		doc.UpdatedAt = time.Unix(updatedAt, 0)
		docs = append(docs, &doc)
	}
	return docs, rows.Err()
}
