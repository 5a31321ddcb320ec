package handlers

import (
	"errors"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/kbcurator/backend/internal/curation"
	"github.com/kbcurator/backend/internal/storage/sqlite"
	"github.com/kbcurator/backend/pkg/logger"
)

type AnalysisHandler struct {
	analyzer *curation.Analyzer
	store    *sqlite.Client
}

func NewAnalysisHandler(analyzer *curation.Analyzer, store *sqlite.Client) *AnalysisHandler {
	return &AnalysisHandler{
		analyzer: analyzer,
		store:    store,
	}
}

// RunAnalysis processes one batch of relevance scoring for the agent.
// Clients re-invoke until the returned status is terminal.
func (h *AnalysisHandler) RunAnalysis(c *fiber.Ctx) error {
	agentID := c.Params("agentID")

	var req struct {
		ForceRestart bool `json:"force_restart"`
	}
	if len(c.Body()) > 0 {
		if err := c.BodyParser(&req); err != nil {
			logger.Error("Failed to parse request body", zap.Error(err))
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
				"error": "Invalid request body",
			})
		}
	}

	result, err := h.analyzer.Run(c.Context(), agentID, req.ForceRestart)
	if err != nil {
		switch {
		case errors.Is(err, curation.ErrAgentNotFound):
			return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
				"error": "Agent not found",
			})
		case errors.Is(err, curation.ErrNoRequirementProfile),
			errors.Is(err, curation.ErrNoActiveChunks):
			return c.Status(fiber.StatusConflict).JSON(fiber.Map{
				"error": err.Error(),
			})
		case errors.Is(err, curation.ErrAnalysisNotProgressed):
			// The checkpoint is recorded; surface the stalled state.
			return c.Status(fiber.StatusUnprocessableEntity).JSON(result)
		default:
			logger.Error("Analysis batch failed", zap.String("agent_id", agentID), zap.Error(err))
			return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
				"error": "Failed to run analysis",
			})
		}
	}

	return c.JSON(result)
}

// GetProgress reports the checkpointed analysis state for the agent's
// latest requirement profile.
func (h *AnalysisHandler) GetProgress(c *fiber.Ctx) error {
	agentID := c.Params("agentID")

	profile, err := h.store.GetLatestRequirementProfile(agentID)
	if err != nil {
		logger.Error("Failed to load requirement profile", zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to load progress",
		})
	}
	if profile == nil {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
			"error": "Agent has no requirement profile",
		})
	}

	progress, err := h.store.GetAnalysisProgress(agentID, profile.ID)
	if err != nil {
		logger.Error("Failed to load analysis progress", zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to load progress",
		})
	}
	if progress == nil {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
			"error": "No analysis has been started",
		})
	}

	pct := 0.0
	if progress.TotalChunks > 0 {
		pct = float64(progress.ChunksProcessed) / float64(progress.TotalChunks) * 100
	}

	completedRuns, err := h.store.CountCompletedAnalyses(agentID)
	if err != nil {
		logger.Error("Failed to count completed analyses", zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to load progress",
		})
	}

	return c.JSON(fiber.Map{
		"agent_id":           progress.AgentID,
		"requirement_id":     progress.RequirementID,
		"status":             progress.Status,
		"total_chunks":       progress.TotalChunks,
		"chunks_processed":   progress.ChunksProcessed,
		"current_batch":      progress.CurrentBatch,
		"progress_pct":       pct,
		"completed_analyses": completedRuns,
		"started_at":         progress.StartedAt,
		"updated_at":         progress.UpdatedAt,
	})
}
