package handlers

import (
	"time"

	"github.com/gofiber/websocket/v2"
	"go.uber.org/zap"

	"github.com/kbcurator/backend/internal/storage/models"
	"github.com/kbcurator/backend/internal/storage/sqlite"
	"github.com/kbcurator/backend/pkg/logger"
)

type WebSocketHandler struct {
	store        *sqlite.Client
	pollInterval time.Duration
}

func NewWebSocketHandler(store *sqlite.Client) *WebSocketHandler {
	return &WebSocketHandler{
		store:        store,
		pollInterval: time.Second,
	}
}

// HandleAnalysisStream pushes analysis progress updates over a
// websocket until the analysis reaches a terminal state or the client
// disconnects. The stream polls the checkpoint store, so it reflects
// progress no matter which API call or worker advanced it.
func (h *WebSocketHandler) HandleAnalysisStream(c *websocket.Conn) {
	agentID := c.Params("agentID")
	logger.Info("WebSocket connection established", zap.String("agent_id", agentID))

	defer func() {
		c.Close()
		logger.Info("WebSocket connection closed", zap.String("agent_id", agentID))
	}()

	profile, err := h.store.GetLatestRequirementProfile(agentID)
	if err != nil {
		logger.Error("Failed to load requirement profile", zap.Error(err))
		h.sendError(c, "Failed to load analysis state")
		return
	}
	if profile == nil {
		h.sendError(c, "Agent has no requirement profile")
		return
	}

	// Read pump: clients never send payloads, but reading is the only
	// way to notice a disconnect while the analysis is idle. Without it
	// an abandoned connection would keep this goroutine polling forever.
	disconnected := make(chan struct{})
	go func() {
		defer close(disconnected)
		for {
			if _, _, err := c.ReadMessage(); err != nil {
				return
			}
		}
	}()

	h.streamProgress(c, agentID, profile.ID, disconnected)
}

// progressConn is the write side of a progress stream connection.
type progressConn interface {
	WriteJSON(v interface{}) error
}

func (h *WebSocketHandler) streamProgress(c progressConn, agentID, profileID string, disconnected <-chan struct{}) {
	ticker := time.NewTicker(h.pollInterval)
	defer ticker.Stop()

	var lastProcessed, lastBatch = -1, -1
	for {
		select {
		case <-disconnected:
			return
		case <-ticker.C:
		}

		progress, err := h.store.GetAnalysisProgress(agentID, profileID)
		if err != nil {
			logger.Error("Failed to poll analysis progress", zap.Error(err))
			h.sendError(c, "Failed to load analysis state")
			return
		}
		if progress == nil {
			// Analysis not started yet; keep polling.
			continue
		}

		if progress.ChunksProcessed != lastProcessed || progress.CurrentBatch != lastBatch {
			lastProcessed = progress.ChunksProcessed
			lastBatch = progress.CurrentBatch
			if err := h.sendProgress(c, progress); err != nil {
				return
			}
		}

		if progress.Status != models.AnalysisRunning {
			h.sendComplete(c, progress)
			return
		}
	}
}

func (h *WebSocketHandler) sendProgress(c progressConn, progress *models.AnalysisProgress) error {
	pct := 0.0
	if progress.TotalChunks > 0 {
		pct = float64(progress.ChunksProcessed) / float64(progress.TotalChunks) * 100
	}

	return c.WriteJSON(map[string]interface{}{
		"type":             "progress",
		"status":           progress.Status,
		"chunks_processed": progress.ChunksProcessed,
		"total_chunks":     progress.TotalChunks,
		"current_batch":    progress.CurrentBatch,
		"progress_pct":     pct,
	})
}

func (h *WebSocketHandler) sendComplete(c progressConn, progress *models.AnalysisProgress) {
	if err := c.WriteJSON(map[string]interface{}{
		"type":   "complete",
		"status": progress.Status,
	}); err != nil {
		logger.Error("Failed to send completion message", zap.Error(err))
	}
}

func (h *WebSocketHandler) sendError(c progressConn, errorMsg string) {
	c.WriteJSON(map[string]interface{}{
		"type":  "error",
		"error": errorMsg,
	})
}
