package handlers

import (
	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/kbcurator/backend/internal/curation"
	"github.com/kbcurator/backend/internal/storage/sqlite"
	"github.com/kbcurator/backend/pkg/logger"
)

type GapsHandler struct {
	gaps  *curation.GapAnalyzer
	store *sqlite.Client
}

func NewGapsHandler(gaps *curation.GapAnalyzer, store *sqlite.Client) *GapsHandler {
	return &GapsHandler{
		gaps:  gaps,
		store: store,
	}
}

// GetGaps runs coverage analysis against the agent's latest
// requirement profile and returns gaps with acquisition suggestions.
func (h *GapsHandler) GetGaps(c *fiber.Ctx) error {
	agentID := c.Params("agentID")

	profile, err := h.store.GetLatestRequirementProfile(agentID)
	if err != nil {
		logger.Error("Failed to load requirement profile", zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to analyze gaps",
		})
	}
	if profile == nil {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
			"error": "Agent has no requirement profile",
		})
	}

	report, err := h.gaps.Analyze(c.Context(), agentID, profile)
	if err != nil {
		logger.Error("Gap analysis failed", zap.String("agent_id", agentID), zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to analyze gaps",
		})
	}

	return c.JSON(report)
}
