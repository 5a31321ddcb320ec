package sqlite

import (
	"database/sql"
	"fmt"

	_ "github.com/mattn/go-sqlite3"
	"go.uber.org/zap"

	"github.com/kbcurator/backend/pkg/logger"
)

type Client struct {
	db *sql.DB
}

func NewClient(dbPath string) (*Client, error) {
	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	_, err = db.Exec("PRAGMA foreign_keys = ON")
	if err != nil {
		return nil, fmt.Errorf("failed to enable foreign keys: %w", err)
	}

	_, err = db.Exec("PRAGMA journal_mode = WAL")
	if err != nil {
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}

	logger.Info("SQLite client initialized", zap.String("path", dbPath))

	return &Client{db: db}, nil
}

func (c *Client) Close() error {
	return c.db.Close()
}

func (c *Client) InitSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS agents (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		instruction TEXT NOT NULL,
		activated_at INTEGER,
		created_at INTEGER NOT NULL
	);

	CREATE TABLE IF NOT EXISTS documents (
		id TEXT PRIMARY KEY,
		agent_id TEXT NOT NULL,
		title TEXT NOT NULL,
		source_type TEXT NOT NULL,
		raw_content TEXT,
		summary TEXT,
		page_count INTEGER DEFAULT 0,
		chunk_count INTEGER DEFAULT 0,
		extraction_mode TEXT NOT NULL DEFAULT 'standard',
		extraction_attempts INTEGER DEFAULT 0,
		status TEXT NOT NULL DEFAULT 'pending',
		failure_reason TEXT,
		created_at INTEGER NOT NULL,
		updated_at INTEGER NOT NULL,
		FOREIGN KEY (agent_id) REFERENCES agents(id)
	);
	CREATE INDEX IF NOT EXISTS idx_documents_agent ON documents(agent_id);
	CREATE INDEX IF NOT EXISTS idx_documents_status ON documents(status);

	CREATE TABLE IF NOT EXISTS chunks (
		id TEXT PRIMARY KEY,
		agent_id TEXT NOT NULL,
		document_id TEXT NOT NULL,
		content TEXT NOT NULL,
		category TEXT,
		active INTEGER NOT NULL DEFAULT 1,
		removal_reason TEXT,
		removed_at INTEGER,
		created_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_chunks_agent ON chunks(agent_id, active);
	CREATE INDEX IF NOT EXISTS idx_chunks_document ON chunks(document_id);

	CREATE TABLE IF NOT EXISTS requirement_profiles (
		id TEXT PRIMARY KEY,
		agent_id TEXT NOT NULL,
		summary TEXT,
		concepts TEXT,
		procedures TEXT,
		patterns TEXT,
		vocabulary TEXT,
		refs TEXT,
		strict_rules INTEGER DEFAULT 0,
		created_at INTEGER NOT NULL,
		FOREIGN KEY (agent_id) REFERENCES agents(id)
	);
	CREATE INDEX IF NOT EXISTS idx_requirements_agent ON requirement_profiles(agent_id, created_at);

	CREATE TABLE IF NOT EXISTS relevance_scores (
		id TEXT PRIMARY KEY,
		chunk_id TEXT NOT NULL,
		requirement_id TEXT NOT NULL,
		semantic_score REAL NOT NULL,
		concept_score REAL NOT NULL,
		procedural_score REAL NOT NULL,
		vocabulary_score REAL NOT NULL,
		reference_score REAL NOT NULL,
		final_score REAL NOT NULL,
		rationale TEXT,
		oracle_model TEXT,
		created_at INTEGER NOT NULL,
		UNIQUE (chunk_id, requirement_id)
	);
	CREATE INDEX IF NOT EXISTS idx_scores_requirement ON relevance_scores(requirement_id);
	CREATE INDEX IF NOT EXISTS idx_scores_final ON relevance_scores(requirement_id, final_score);

	CREATE TABLE IF NOT EXISTS analysis_progress (
		id TEXT PRIMARY KEY,
		agent_id TEXT NOT NULL,
		requirement_id TEXT NOT NULL,
		total_chunks INTEGER NOT NULL,
		chunks_processed INTEGER NOT NULL DEFAULT 0,
		current_batch INTEGER NOT NULL DEFAULT 0,
		status TEXT NOT NULL,
		started_at INTEGER NOT NULL,
		updated_at INTEGER NOT NULL,
		UNIQUE (agent_id, requirement_id)
	);

	CREATE TABLE IF NOT EXISTS removal_history (
		id TEXT PRIMARY KEY,
		chunk_id TEXT NOT NULL,
		agent_id TEXT NOT NULL,
		content TEXT NOT NULL,
		category TEXT,
		final_score REAL,
		reason TEXT NOT NULL,
		removal_type TEXT NOT NULL,
		removed_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_removal_agent ON removal_history(agent_id, removed_at);

	CREATE TABLE IF NOT EXISTS maintenance_runs (
		id TEXT PRIMARY KEY,
		status TEXT NOT NULL,
		documents_fixed INTEGER DEFAULT 0,
		documents_failed INTEGER DEFAULT 0,
		chunks_cleaned INTEGER DEFAULT 0,
		agents_synced INTEGER DEFAULT 0,
		agents_failed INTEGER DEFAULT 0,
		summaries_generated INTEGER DEFAULT 0,
		summaries_failed INTEGER DEFAULT 0,
		started_at INTEGER NOT NULL,
		finished_at INTEGER
	);

	CREATE TABLE IF NOT EXISTS maintenance_operations (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		run_id TEXT NOT NULL,
		target_id TEXT NOT NULL,
		operation TEXT NOT NULL,
		attempt INTEGER NOT NULL,
		status TEXT NOT NULL,
		error TEXT,
		created_at INTEGER NOT NULL,
		FOREIGN KEY (run_id) REFERENCES maintenance_runs(id)
	);
	CREATE INDEX IF NOT EXISTS idx_operations_target ON maintenance_operations(target_id, operation);
	`

	_, err := c.db.Exec(schema)
	if err != nil {
		return fmt.Errorf("failed to initialize schema: %w", err)
	}

	logger.Info("SQLite schema initialized")
	return nil
}
