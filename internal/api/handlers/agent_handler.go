package handlers

import (
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/kbcurator/backend/internal/storage/models"
	"github.com/kbcurator/backend/internal/storage/sqlite"
	"github.com/kbcurator/backend/pkg/logger"
)

type AgentHandler struct {
	store *sqlite.Client
}

func NewAgentHandler(store *sqlite.Client) *AgentHandler {
	return &AgentHandler{store: store}
}

func (h *AgentHandler) CreateAgent(c *fiber.Ctx) error {
	var req struct {
		Name        string `json:"name"`
		Instruction string `json:"instruction"`
	}

	if err := c.BodyParser(&req); err != nil {
		logger.Error("Failed to parse request body", zap.Error(err))
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Invalid request body",
		})
	}
	if req.Name == "" || req.Instruction == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "name and instruction are required",
		})
	}

	agent := &models.Agent{
		ID:          uuid.New().String(),
		Name:        req.Name,
		Instruction: req.Instruction,
		CreatedAt:   time.Now().UTC(),
	}
	if err := h.store.InsertAgent(agent); err != nil {
		logger.Error("Failed to persist agent", zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to create agent",
		})
	}

	return c.Status(fiber.StatusCreated).JSON(fiber.Map{
		"id":          agent.ID,
		"name":        agent.Name,
		"instruction": agent.Instruction,
		"created_at":  agent.CreatedAt,
	})
}

// SubmitRequirements records a new requirement profile for the agent.
// Profiles are produced by an external extraction step; this endpoint
// is its integration point.
func (h *AgentHandler) SubmitRequirements(c *fiber.Ctx) error {
	agentID := c.Params("agentID")

	var req struct {
		Summary     string   `json:"summary"`
		Concepts    []string `json:"concepts"`
		Procedures  []string `json:"procedures"`
		Patterns    []string `json:"patterns"`
		Vocabulary  []string `json:"vocabulary"`
		References  []string `json:"references"`
		StrictRules int      `json:"strict_rules"`
	}

	if err := c.BodyParser(&req); err != nil {
		logger.Error("Failed to parse request body", zap.Error(err))
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Invalid request body",
		})
	}
	if req.Summary == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "summary is required",
		})
	}

	agent, err := h.store.GetAgent(agentID)
	if err != nil {
		logger.Error("Failed to load agent", zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to submit requirements",
		})
	}
	if agent == nil {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
			"error": "Agent not found",
		})
	}

	profile := &models.RequirementProfile{
		ID:          uuid.New().String(),
		AgentID:     agentID,
		Summary:     req.Summary,
		Concepts:    req.Concepts,
		Procedures:  req.Procedures,
		Patterns:    req.Patterns,
		Vocabulary:  req.Vocabulary,
		References:  req.References,
		StrictRules: req.StrictRules,
		CreatedAt:   time.Now().UTC(),
	}
	if err := h.store.InsertRequirementProfile(profile); err != nil {
		logger.Error("Failed to persist requirement profile", zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to submit requirements",
		})
	}

	return c.Status(fiber.StatusCreated).JSON(fiber.Map{
		"id":       profile.ID,
		"agent_id": profile.AgentID,
	})
}
