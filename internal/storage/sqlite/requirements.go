package sqlite

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/kbcurator/backend/internal/storage/models"
)

func (c *Client) InsertRequirementProfile(profile *models.RequirementProfile) error {
	concepts, _ := json.Marshal(profile.Concepts)
	procedures, _ := json.Marshal(profile.Procedures)
	patterns, _ := json.Marshal(profile.Patterns)
	vocabulary, _ := json.Marshal(profile.Vocabulary)
	references, _ := json.Marshal(profile.References)

	query := `
		INSERT INTO requirement_profiles (id, agent_id, summary, concepts, procedures,
			patterns, vocabulary, refs, strict_rules, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err := c.db.Exec(query, profile.ID, profile.AgentID, profile.Summary,
		string(concepts), string(procedures), string(patterns), string(vocabulary),
		string(references), profile.StrictRules, profile.CreatedAt.Unix())
	if err != nil {
		return fmt.Errorf("failed to insert requirement profile: %w", err)
	}
	return nil
}

// GetLatestRequirementProfile returns the agent's most recently created
// profile. Older profiles are superseded, never deleted.
func (c *Client) GetLatestRequirementProfile(agentID string) (*models.RequirementProfile, error) {
	query := `
		SELECT id, agent_id, COALESCE(summary, ''), concepts, procedures, patterns,
			vocabulary, refs, strict_rules, created_at
		FROM requirement_profiles
		WHERE agent_id = ?
		ORDER BY created_at DESC, id DESC
		LIMIT 1
	`

	var profile models.RequirementProfile
	var concepts, procedures, patterns, vocabulary, references string
	var createdAt int64

	err := c.db.QueryRow(query, agentID).Scan(&profile.ID, &profile.AgentID, &profile.Summary,
		&concepts, &procedures, &patterns, &vocabulary, &references,
		&profile.StrictRules, &createdAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get requirement profile: %w", err)
	}

	json.Unmarshal([]byte(concepts), &profile.Concepts)
	json.Unmarshal([]byte(procedures), &profile.Procedures)
	json.Unmarshal([]byte(patterns), &profile.Patterns)
	json.Unmarshal([]byte(vocabulary), &profile.Vocabulary)
	json.Unmarshal([]byte(references), &profile.References)
	profile.CreatedAt = time.Unix(createdAt, 0)

	return &profile, nil
}
