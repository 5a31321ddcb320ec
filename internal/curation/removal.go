package curation

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/kbcurator/backend/internal/metrics"
	"github.com/kbcurator/backend/internal/storage/models"
	"github.com/kbcurator/backend/internal/storage/sqlite"
	"github.com/kbcurator/backend/pkg/logger"
)

type RemovalConfig struct {
	Thresholds    Thresholds
	MaxAutoRemove int
	SafeModeGrace time.Duration
}

// RemovalEngine applies the criticality-adjusted thresholds to a
// completed analysis and soft-deletes the chunks that fall under the
// auto-remove bar, under two guards: a hard per-run cap and the
// safe-mode grace window after an agent's first completed analysis.
type RemovalEngine struct {
	store *sqlite.Client
	cfg   RemovalConfig
}

func NewRemovalEngine(store *sqlite.Client, cfg RemovalConfig) *RemovalEngine {
	if cfg.MaxAutoRemove <= 0 {
		cfg.MaxAutoRemove = 50
	}
	if cfg.SafeModeGrace <= 0 {
		cfg.SafeModeGrace = 7 * 24 * time.Hour
	}
	return &RemovalEngine{store: store, cfg: cfg}
}

type RemovalResult struct {
	Flagged          int
	Removed          int
	RequiresApproval bool
	SafeMode         bool
	AverageScore     float64
}

func (e *RemovalEngine) Apply(agentID, requirementID string, criticality Criticality) (*RemovalResult, error) {
	scores, err := e.store.ListScores(requirementID)
	if err != nil {
		return nil, err
	}
	if len(scores) == 0 {
		return &RemovalResult{}, nil
	}

	thresholds := ResolveThresholds(e.cfg.Thresholds, criticality)

	var sum float64
	var toRemove, toFlag []*models.RelevanceScore
	for _, score := range scores {
		sum += score.FinalScore
		switch {
		case score.FinalScore < thresholds.AutoRemove:
			toRemove = append(toRemove, score)
		case score.FinalScore < thresholds.Review:
			toFlag = append(toFlag, score)
		}
	}

	result := &RemovalResult{
		Flagged:      len(toFlag) + len(toRemove),
		AverageScore: sum / float64(len(scores)),
	}

	// The cap is a tripwire for miscalibrated prompts or weights: a
	// run that wants to gut the knowledge base does nothing and asks a
	// human instead.
	if len(toRemove) > e.cfg.MaxAutoRemove {
		result.RequiresApproval = true
		metrics.RemovalsBlocked.WithLabelValues("cap_exceeded").Inc()
		logger.Warn("Auto-removal skipped: cap exceeded",
			zap.String("agent_id", agentID),
			zap.Int("to_remove", len(toRemove)),
			zap.Int("cap", e.cfg.MaxAutoRemove),
		)
		return result, nil
	}

	inSafeMode, err := e.safeModeActive(agentID)
	if err != nil {
		return nil, err
	}
	if inSafeMode {
		result.SafeMode = true
		metrics.RemovalsBlocked.WithLabelValues("safe_mode").Inc()
		logger.Info("Auto-removal skipped: agent in safe mode",
			zap.String("agent_id", agentID),
			zap.Int("flagged", len(toRemove)),
		)
		return result, nil
	}

	for _, score := range toRemove {
		if err := e.removeChunk(agentID, score, thresholds); err != nil {
			// One failed archive/removal must not abort the rest.
			logger.Error("Chunk removal failed, continuing",
				zap.String("chunk_id", score.ChunkID),
				zap.Error(err),
			)
			continue
		}
		result.Removed++
		metrics.ChunksRemoved.WithLabelValues("auto").Inc()
	}

	logger.Info("Auto-removal applied",
		zap.String("agent_id", agentID),
		zap.Int("removed", result.Removed),
		zap.Int("flagged_for_review", len(toFlag)),
		zap.Float64("avg_score", result.AverageScore),
	)

	return result, nil
}

func (e *RemovalEngine) safeModeActive(agentID string) (bool, error) {
	agent, err := e.store.GetAgent(agentID)
	if err != nil {
		return false, err
	}
	if agent == nil || agent.ActivatedAt == nil {
		// No recorded activation means the first analysis is
		// completing right now; the grace window starts here.
		return true, nil
	}
	return time.Since(*agent.ActivatedAt) < e.cfg.SafeModeGrace, nil
}

func (e *RemovalEngine) removeChunk(agentID string, score *models.RelevanceScore, thresholds Thresholds) error {
	chunk, err := e.store.GetChunk(score.ChunkID)
	if err != nil {
		return err
	}
	if chunk == nil || !chunk.Active {
		return nil
	}

	entry := &models.RemovalHistoryEntry{
		ID:          uuid.NewString(),
		ChunkID:     chunk.ID,
		AgentID:     agentID,
		Content:     chunk.Content,
		Category:    chunk.Category,
		FinalScore:  score.FinalScore,
		Reason:      fmt.Sprintf("relevance score %.2f below auto-remove threshold %.2f", score.FinalScore, thresholds.AutoRemove),
		RemovalType: models.RemovalAuto,
		RemovedAt:   time.Now(),
	}

	return e.store.SoftDeleteChunk(chunk.ID, entry)
}
