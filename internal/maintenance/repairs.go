package maintenance

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/kbcurator/backend/internal/metrics"
	"github.com/kbcurator/backend/internal/storage/models"
	"github.com/kbcurator/backend/pkg/logger"
)

// attemptRepair is the common shape of every verified repair: check
// the attempt history, run the repair action, wait for the store to
// settle, then independently verify by re-reading primary data. The
// action's own return value is never treated as proof of success.
func (s *Sweeper) attemptRepair(ctx context.Context, runID, targetID, operation string, repair func() error, verify func() (bool, error)) (bool, error) {
	permanent, err := s.store.HasPermanentFailure(targetID, operation)
	if err != nil {
		return false, err
	}
	if permanent {
		return false, nil
	}

	attempts, err := s.store.CountFailedAttempts(targetID, operation)
	if err != nil {
		return false, err
	}

	attempt := attempts + 1

	recordOutcome := func(status, errMsg string) {
		op := &models.MaintenanceOperation{
			RunID:     runID,
			TargetID:  targetID,
			Operation: operation,
			Attempt:   attempt,
			Status:    status,
			Error:     errMsg,
			CreatedAt: time.Now(),
		}
		if err := s.store.InsertMaintenanceOperation(op); err != nil {
			logger.Error("Failed to record maintenance operation", zap.Error(err))
		}
		metrics.MaintenanceRepairs.WithLabelValues(operation, status).Inc()
	}

	fail := func(reason string) (bool, error) {
		if attempt >= s.cfg.MaxAttempts {
			recordOutcome(models.OpStatusPermanentFailure,
				fmt.Sprintf("%s (attempt %d/%d, giving up)", reason, attempt, s.cfg.MaxAttempts))
			logger.Warn("Repair permanently failed",
				zap.String("target_id", targetID),
				zap.String("operation", operation),
				zap.Int("attempts", attempt),
			)
		} else {
			recordOutcome(models.OpStatusFailed, reason)
		}
		return false, nil
	}

	if err := repair(); err != nil {
		return fail(fmt.Sprintf("repair action failed: %v", err))
	}

	if s.cfg.SettleDelay > 0 {
		select {
		case <-ctx.Done():
			return false, ctx.Err()
		case <-time.After(s.cfg.SettleDelay):
		}
	}

	verified, err := verify()
	if err != nil {
		return fail(fmt.Sprintf("verification failed: %v", err))
	}
	if !verified {
		return fail("verification found the discrepancy still present")
	}

	// A verified fix clears the target's failure history so an item
	// repaired on the second try doesn't stay one failure away from
	// the cap forever.
	if attempts > 0 {
		if err := s.store.ClearFailureHistory(targetID, operation); err != nil {
			logger.Error("Failed to clear failure history", zap.Error(err))
		}
	}
	recordOutcome(models.OpStatusVerified, "")

	return true, nil
}

// repairStuckDocuments re-triggers processing for documents sitting in
// "processing" past the stuck threshold.
func (s *Sweeper) repairStuckDocuments(ctx context.Context, run *models.MaintenanceRun) {
	cutoff := time.Now().Add(-s.cfg.StuckThreshold)
	docs, err := s.store.ListStuckDocuments(cutoff, s.cfg.RepairBatch)
	if err != nil {
		logger.Error("Failed to list stuck documents", zap.Error(err))
		return
	}

	for _, doc := range docs {
		docID := doc.ID
		fixed, err := s.attemptRepair(ctx, run.ID, docID, models.OpStuckDocument,
			func() error {
				return s.reprocessor.ReprocessDocument(ctx, docID)
			},
			func() (bool, error) {
				fresh, err := s.store.GetDocument(docID)
				if err != nil {
					return false, err
				}
				if fresh == nil {
					return false, fmt.Errorf("document %s disappeared", docID)
				}
				return fresh.Status != models.DocStatusProcessing, nil
			},
		)
		if err != nil {
			logger.Error("Stuck-document repair errored", zap.String("document_id", docID), zap.Error(err))
			run.DocumentsFailed++
			continue
		}
		if fixed {
			run.DocumentsFixed++
		} else {
			run.DocumentsFailed++
		}
	}
}

// cleanOrphanChunks hard-deletes chunks whose document no longer
// exists, in fixed-size batches, stopping at the first batch error so
// a store problem can't silently corrupt half a cleanup.
func (s *Sweeper) cleanOrphanChunks(ctx context.Context, run *models.MaintenanceRun) {
	for {
		orphans, err := s.store.ListOrphanChunks(s.cfg.CleanupBatch)
		if err != nil {
			logger.Error("Failed to list orphan chunks", zap.Error(err))
			return
		}
		if len(orphans) == 0 {
			return
		}

		ids := make([]string, len(orphans))
		for i, chunk := range orphans {
			ids[i] = chunk.ID
			logger.Info("Deleting orphan chunk",
				zap.String("chunk_id", chunk.ID),
				zap.String("document_id", chunk.DocumentID),
			)
		}

		if err := s.store.DeleteChunks(ids); err != nil {
			logger.Error("Orphan cleanup batch failed, stopping", zap.Error(err))
			return
		}

		if s.vector != nil {
			if err := s.vector.DeleteByChunkIDs(ctx, ids); err != nil {
				logger.Warn("Failed to delete orphan chunk vectors", zap.Error(err))
			}
		}

		run.ChunksCleaned += len(ids)

		op := &models.MaintenanceOperation{
			RunID:     run.ID,
			TargetID:  fmt.Sprintf("batch:%d", run.ChunksCleaned),
			Operation: models.OpOrphanCleanup,
			Attempt:   1,
			Status:    models.OpStatusVerified,
			CreatedAt: time.Now(),
		}
		if err := s.store.InsertMaintenanceOperation(op); err != nil {
			logger.Error("Failed to record cleanup operation", zap.Error(err))
		}

		if len(orphans) < s.cfg.CleanupBatch {
			return
		}
	}
}

// regenerateMissingSummaries fills in the summary derived field for
// completed documents that lost or never got one.
func (s *Sweeper) regenerateMissingSummaries(ctx context.Context, run *models.MaintenanceRun) {
	docs, err := s.store.ListDocumentsMissingSummary(s.cfg.RepairBatch)
	if err != nil {
		logger.Error("Failed to list documents missing summaries", zap.Error(err))
		return
	}

	for _, doc := range docs {
		docID := doc.ID
		content := doc.RawContent
		fixed, err := s.attemptRepair(ctx, run.ID, docID, models.OpMissingSummary,
			func() error {
				summary, err := s.summarizer.SummarizeDocument(ctx, content)
				if err != nil {
					return err
				}
				return s.store.UpdateDocumentSummary(docID, summary)
			},
			func() (bool, error) {
				fresh, err := s.store.GetDocument(docID)
				if err != nil {
					return false, err
				}
				return fresh != nil && fresh.Summary != "", nil
			},
		)
		if err != nil {
			logger.Error("Summary regeneration errored", zap.String("document_id", docID), zap.Error(err))
			run.SummariesFailed++
			continue
		}
		if fixed {
			run.SummariesGenerated++
		} else {
			run.SummariesFailed++
		}
	}
}

// syncAgents reconciles each agent's assignment links against the
// chunks actually materialized. The discrepancy is computed from
// primary data on both sides, before and after the repair.
func (s *Sweeper) syncAgents(ctx context.Context, run *models.MaintenanceRun) {
	agentIDs, err := s.store.ListAgentIDs()
	if err != nil {
		logger.Error("Failed to list agents", zap.Error(err))
		return
	}

	repaired := 0
	for _, agentID := range agentIDs {
		if repaired >= s.cfg.RepairBatch {
			return
		}

		missing, err := s.missingAssignments(ctx, agentID)
		if err != nil {
			logger.Error("Failed to compute agent sync drift", zap.String("agent_id", agentID), zap.Error(err))
			run.AgentsFailed++
			continue
		}
		if len(missing) == 0 {
			continue
		}
		repaired++

		agentID := agentID
		toFix := missing
		fixed, err := s.attemptRepair(ctx, run.ID, agentID, models.OpAgentSync,
			func() error {
				for _, docID := range toFix {
					if err := s.reprocessor.MaterializeAssignment(ctx, agentID, docID); err != nil {
						return err
					}
				}
				return nil
			},
			func() (bool, error) {
				residual, err := s.missingAssignments(ctx, agentID)
				if err != nil {
					return false, err
				}
				return len(residual) == 0, nil
			},
		)
		if err != nil {
			logger.Error("Agent sync repair errored", zap.String("agent_id", agentID), zap.Error(err))
			run.AgentsFailed++
			continue
		}
		if fixed {
			run.AgentsSynced++
		} else {
			run.AgentsFailed++
		}
	}
}

// missingAssignments returns assigned document ids with no chunks
// materialized for the agent.
func (s *Sweeper) missingAssignments(ctx context.Context, agentID string) ([]string, error) {
	expected, err := s.graph.ListAssignedDocuments(ctx, agentID)
	if err != nil {
		return nil, err
	}

	actualIDs, err := s.store.ListAgentChunkDocumentIDs(agentID)
	if err != nil {
		return nil, err
	}
	actual := make(map[string]bool, len(actualIDs))
	for _, id := range actualIDs {
		actual[id] = true
	}

	var missing []string
	for _, id := range expected {
		if !actual[id] {
			missing = append(missing, id)
		}
	}
	return missing, nil
}
