package curation

import (
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/kbcurator/backend/internal/storage/models"
	"github.com/kbcurator/backend/internal/storage/sqlite"
)

func insertScoredChunk(t *testing.T, store *sqlite.Client, agentID, requirementID string, finalScore float64) *models.Chunk {
	t.Helper()

	chunk := &models.Chunk{
		ID:         uuid.NewString(),
		AgentID:    agentID,
		DocumentID: uuid.NewString(),
		Content:    "scored fragment",
		Category:   "concept",
		Active:     true,
		CreatedAt:  time.Now(),
	}
	if err := store.InsertChunk(chunk); err != nil {
		t.Fatalf("InsertChunk: %v", err)
	}

	score := &models.RelevanceScore{
		ID:            uuid.NewString(),
		ChunkID:       chunk.ID,
		RequirementID: requirementID,
		FinalScore:    finalScore,
		CreatedAt:     time.Now(),
	}
	if err := store.UpsertRelevanceScore(score); err != nil {
		t.Fatalf("UpsertRelevanceScore: %v", err)
	}
	return chunk
}

func newActivatedAgent(t *testing.T, store *sqlite.Client, activatedAgo time.Duration) *models.Agent {
	t.Helper()

	agent := &models.Agent{
		ID:          uuid.NewString(),
		Name:        "agent",
		Instruction: "billing support",
		CreatedAt:   time.Now(),
	}
	if err := store.InsertAgent(agent); err != nil {
		t.Fatalf("InsertAgent: %v", err)
	}
	if activatedAgo > 0 {
		if err := store.MarkAgentActivated(agent.ID, time.Now().Add(-activatedAgo)); err != nil {
			t.Fatalf("MarkAgentActivated: %v", err)
		}
	}
	return agent
}

func TestRemovalAppliesThresholds(t *testing.T) {
	store := newCurationStore(t)
	agent := newActivatedAgent(t, store, 8*24*time.Hour)
	requirementID := uuid.NewString()

	low := insertScoredChunk(t, store, agent.ID, requirementID, 0.2)
	review := insertScoredChunk(t, store, agent.ID, requirementID, 0.6)
	keep := insertScoredChunk(t, store, agent.ID, requirementID, 0.9)

	engine := NewRemovalEngine(store, RemovalConfig{
		Thresholds:    Thresholds{AutoRemove: 0.5, Review: 0.65},
		MaxAutoRemove: 50,
		SafeModeGrace: 7 * 24 * time.Hour,
	})

	result, err := engine.Apply(agent.ID, requirementID, CriticalityNormal)
	if err != nil {
		t.Fatalf("Apply: %v", err)
	}
	if result.Removed != 1 {
		t.Errorf("removed = %d, want 1", result.Removed)
	}
	if result.Flagged != 2 {
		t.Errorf("flagged = %d, want 2 (removed + review band)", result.Flagged)
	}
	if result.RequiresApproval || result.SafeMode {
		t.Errorf("unexpected guard trip: %+v", result)
	}

	gone, err := store.GetChunk(low.ID)
	if err != nil {
		t.Fatalf("GetChunk: %v", err)
	}
	if gone.Active {
		t.Error("low-score chunk should be inactive")
	}
	if gone.RemovalReason == "" {
		t.Error("removal reason should be recorded for restorability")
	}

	for _, id := range []string{review.ID, keep.ID} {
		c, err := store.GetChunk(id)
		if err != nil {
			t.Fatalf("GetChunk: %v", err)
		}
		if !c.Active {
			t.Errorf("chunk %s should survive", id)
		}
	}
}

func TestRemovalCapRequiresApproval(t *testing.T) {
	store := newCurationStore(t)
	agent := newActivatedAgent(t, store, 8*24*time.Hour)
	requirementID := uuid.NewString()

	var lows []*models.Chunk
	for i := 0; i < 3; i++ {
		lows = append(lows, insertScoredChunk(t, store, agent.ID, requirementID, 0.1))
	}

	engine := NewRemovalEngine(store, RemovalConfig{
		Thresholds:    Thresholds{AutoRemove: 0.5, Review: 0.65},
		MaxAutoRemove: 2,
		SafeModeGrace: 7 * 24 * time.Hour,
	})

	result, err := engine.Apply(agent.ID, requirementID, CriticalityNormal)
	if err != nil {
		t.Fatalf("Apply: %v", err)
	}
	if !result.RequiresApproval {
		t.Error("exceeding the cap should require approval")
	}
	if result.Removed != 0 {
		t.Errorf("removed = %d, want 0 when cap exceeded", result.Removed)
	}

	// Cap trips are all-or-nothing: no partial removal.
	for _, chunk := range lows {
		c, err := store.GetChunk(chunk.ID)
		if err != nil {
			t.Fatalf("GetChunk: %v", err)
		}
		if !c.Active {
			t.Errorf("chunk %s removed despite cap", chunk.ID)
		}
	}
}

func TestRemovalSafeModeBlocksRemoval(t *testing.T) {
	store := newCurationStore(t)
	requirementID := uuid.NewString()

	tests := []struct {
		name         string
		activatedAgo time.Duration
	}{
		{"never activated", 0},
		{"inside grace window", 24 * time.Hour},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			agent := newActivatedAgent(t, store, tt.activatedAgo)
			chunk := insertScoredChunk(t, store, agent.ID, requirementID, 0.1)

			engine := NewRemovalEngine(store, RemovalConfig{
				Thresholds:    Thresholds{AutoRemove: 0.5, Review: 0.65},
				MaxAutoRemove: 50,
				SafeModeGrace: 7 * 24 * time.Hour,
			})

			result, err := engine.Apply(agent.ID, requirementID, CriticalityNormal)
			if err != nil {
				t.Fatalf("Apply: %v", err)
			}
			if !result.SafeMode {
				t.Error("safe mode should be reported")
			}
			if result.Removed != 0 {
				t.Errorf("removed = %d during safe mode, want 0", result.Removed)
			}

			c, err := store.GetChunk(chunk.ID)
			if err != nil {
				t.Fatalf("GetChunk: %v", err)
			}
			if !c.Active {
				t.Error("chunk removed during safe mode")
			}
		})
	}
}

func TestRemovalHighCriticalityIsMoreConservative(t *testing.T) {
	store := newCurationStore(t)
	agent := newActivatedAgent(t, store, 8*24*time.Hour)
	requirementID := uuid.NewString()

	// 0.45 sits under the normal 0.50 cutoff but above the high-
	// criticality 0.40 cutoff.
	borderline := insertScoredChunk(t, store, agent.ID, requirementID, 0.45)

	engine := NewRemovalEngine(store, RemovalConfig{
		Thresholds:    Thresholds{AutoRemove: 0.5, Review: 0.65},
		MaxAutoRemove: 50,
		SafeModeGrace: 7 * 24 * time.Hour,
	})

	result, err := engine.Apply(agent.ID, requirementID, CriticalityHigh)
	if err != nil {
		t.Fatalf("Apply: %v", err)
	}
	if result.Removed != 0 {
		t.Errorf("removed = %d under high criticality, want 0", result.Removed)
	}

	c, err := store.GetChunk(borderline.ID)
	if err != nil {
		t.Fatalf("GetChunk: %v", err)
	}
	if !c.Active {
		t.Error("borderline chunk removed under high criticality")
	}
}
