package handlers

import (
	"strconv"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/kbcurator/backend/internal/maintenance"
	"github.com/kbcurator/backend/internal/storage/models"
	"github.com/kbcurator/backend/internal/storage/sqlite"
	"github.com/kbcurator/backend/pkg/logger"
)

type MaintenanceHandler struct {
	sweeper *maintenance.Sweeper
	store   *sqlite.Client
}

func NewMaintenanceHandler(sweeper *maintenance.Sweeper, store *sqlite.Client) *MaintenanceHandler {
	return &MaintenanceHandler{
		sweeper: sweeper,
		store:   store,
	}
}

// RunSweep triggers an immediate maintenance sweep in addition to the
// scheduled ones.
func (h *MaintenanceHandler) RunSweep(c *fiber.Ctx) error {
	run, err := h.sweeper.RunSweep(c.Context())
	if err != nil {
		logger.Error("Maintenance sweep failed", zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to run maintenance sweep",
		})
	}
	if run == nil {
		return c.Status(fiber.StatusConflict).JSON(fiber.Map{
			"error": "A sweep is already in progress",
		})
	}

	return c.JSON(runResponse(run))
}

// GetHistory lists recent maintenance runs, newest first.
func (h *MaintenanceHandler) GetHistory(c *fiber.Ctx) error {
	limit := 20
	if raw := c.Query("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 1 || parsed > 200 {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
				"error": "limit must be between 1 and 200",
			})
		}
		limit = parsed
	}

	runs, err := h.store.ListMaintenanceRuns(limit)
	if err != nil {
		logger.Error("Failed to list maintenance runs", zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to load maintenance history",
		})
	}

	out := make([]fiber.Map, 0, len(runs))
	for _, run := range runs {
		out = append(out, runResponse(run))
	}

	return c.JSON(fiber.Map{
		"runs": out,
	})
}

func runResponse(run *models.MaintenanceRun) fiber.Map {
	return fiber.Map{
		"id":                  run.ID,
		"status":              run.Status,
		"documents_fixed":     run.DocumentsFixed,
		"documents_failed":    run.DocumentsFailed,
		"chunks_cleaned":      run.ChunksCleaned,
		"agents_synced":       run.AgentsSynced,
		"agents_failed":       run.AgentsFailed,
		"summaries_generated": run.SummariesGenerated,
		"summaries_failed":    run.SummariesFailed,
		"started_at":          run.StartedAt,
		"finished_at":         run.FinishedAt,
	}
}
