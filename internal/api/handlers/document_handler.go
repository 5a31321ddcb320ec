package handlers

import (
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/kbcurator/backend/internal/ingestion"
	"github.com/kbcurator/backend/internal/metrics"
	"github.com/kbcurator/backend/internal/storage/models"
	"github.com/kbcurator/backend/internal/storage/sqlite"
	"github.com/kbcurator/backend/pkg/logger"
)

type DocumentHandler struct {
	processor *ingestion.Processor
	store     *sqlite.Client
}

func NewDocumentHandler(processor *ingestion.Processor, store *sqlite.Client) *DocumentHandler {
	return &DocumentHandler{
		processor: processor,
		store:     store,
	}
}

var validSourceTypes = map[string]bool{
	"pdf":  true,
	"html": true,
	"text": true,
}

// UploadDocument registers a document and runs the ingestion pipeline,
// including the extraction ratio check and any OCR escalation.
func (h *DocumentHandler) UploadDocument(c *fiber.Ctx) error {
	var req struct {
		AgentID    string `json:"agent_id"`
		Title      string `json:"title"`
		SourceType string `json:"source_type"`
		Content    string `json:"content"`
	}

	if err := c.BodyParser(&req); err != nil {
		logger.Error("Failed to parse request body", zap.Error(err))
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Invalid request body",
		})
	}

	if req.AgentID == "" || req.Content == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "agent_id and content are required",
		})
	}
	if !validSourceTypes[req.SourceType] {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "source_type must be one of: pdf, html, text",
		})
	}

	agent, err := h.store.GetAgent(req.AgentID)
	if err != nil {
		logger.Error("Failed to load agent", zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to ingest document",
		})
	}
	if agent == nil {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
			"error": "Agent not found",
		})
	}

	doc := &models.Document{
		ID:             uuid.New().String(),
		AgentID:        req.AgentID,
		Title:          req.Title,
		SourceType:     req.SourceType,
		RawContent:     req.Content,
		ExtractionMode: models.ExtractionModeStandard,
		Status:         models.DocStatusPending,
		CreatedAt:      time.Now().UTC(),
		UpdatedAt:      time.Now().UTC(),
	}
	if err := h.store.InsertDocument(doc); err != nil {
		logger.Error("Failed to persist document", zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to ingest document",
		})
	}

	if err := h.processor.Process(c.Context(), doc.ID); err != nil {
		logger.Error("Document processing failed",
			zap.String("document_id", doc.ID),
			zap.Error(err),
		)
		if failed, loadErr := h.store.GetDocument(doc.ID); loadErr == nil && failed != nil {
			metrics.DocumentsProcessed.WithLabelValues(failed.ExtractionMode, failed.Status).Inc()
			return c.Status(fiber.StatusUnprocessableEntity).JSON(documentResponse(failed))
		}
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to ingest document",
		})
	}

	processed, err := h.store.GetDocument(doc.ID)
	if err != nil || processed == nil {
		logger.Error("Failed to reload document", zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to ingest document",
		})
	}

	metrics.DocumentsProcessed.WithLabelValues(processed.ExtractionMode, processed.Status).Inc()

	return c.Status(fiber.StatusCreated).JSON(documentResponse(processed))
}

// GetDocument returns a document's metadata and extraction state.
func (h *DocumentHandler) GetDocument(c *fiber.Ctx) error {
	id := c.Params("id")

	doc, err := h.store.GetDocument(id)
	if err != nil {
		logger.Error("Failed to load document", zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to load document",
		})
	}
	if doc == nil {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
			"error": "Document not found",
		})
	}

	return c.JSON(documentResponse(doc))
}

func documentResponse(doc *models.Document) fiber.Map {
	return fiber.Map{
		"id":                  doc.ID,
		"agent_id":            doc.AgentID,
		"title":               doc.Title,
		"source_type":         doc.SourceType,
		"summary":             doc.Summary,
		"page_count":          doc.PageCount,
		"chunk_count":         doc.ChunkCount,
		"extraction_mode":     doc.ExtractionMode,
		"extraction_attempts": doc.ExtractionAttempts,
		"status":              doc.Status,
		"failure_reason":      doc.FailureReason,
		"created_at":          doc.CreatedAt,
		"updated_at":          doc.UpdatedAt,
	}
}
