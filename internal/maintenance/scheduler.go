package maintenance

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/kbcurator/backend/internal/metrics"
	"github.com/kbcurator/backend/internal/storage/models"
	"github.com/kbcurator/backend/internal/storage/sqlite"
	"github.com/kbcurator/backend/pkg/logger"
)

// DocumentReprocessor re-runs processing for a document or
// materializes a missing agent assignment. Repair actions only; the
// sweeper verifies outcomes itself.
type DocumentReprocessor interface {
	ReprocessDocument(ctx context.Context, documentID string) error
	MaterializeAssignment(ctx context.Context, agentID, documentID string) error
}

type Summarizer interface {
	SummarizeDocument(ctx context.Context, content string) (string, error)
}

type AssignmentGraph interface {
	ListAssignedDocuments(ctx context.Context, agentID string) ([]string, error)
}

type VectorDeleter interface {
	DeleteByChunkIDs(ctx context.Context, chunkIDs []string) error
}

type SweepLocker interface {
	AcquireSweepLock(ctx context.Context, ttl time.Duration) (bool, error)
	ReleaseSweepLock(ctx context.Context) error
}

type Config struct {
	SweepInterval  time.Duration
	StuckThreshold time.Duration
	MaxAttempts    int
	RepairBatch    int
	CleanupBatch   int
	SettleDelay    time.Duration
}

// Sweeper is the self-healing loop: one sweep runs independent repair
// passes over stuck documents, orphaned chunks, missing summaries and
// agent-sync drift. No repair is trusted on its own say-so; each one
// is verified by re-reading the store afterwards.
type Sweeper struct {
	store       *sqlite.Client
	reprocessor DocumentReprocessor
	summarizer  Summarizer
	graph       AssignmentGraph
	vector      VectorDeleter
	locker      SweepLocker
	cfg         Config
}

func NewSweeper(store *sqlite.Client, reprocessor DocumentReprocessor, summarizer Summarizer, graph AssignmentGraph, vector VectorDeleter, locker SweepLocker, cfg Config) *Sweeper {
	if cfg.SweepInterval <= 0 {
		cfg.SweepInterval = 15 * time.Minute
	}
	if cfg.StuckThreshold <= 0 {
		cfg.StuckThreshold = 10 * time.Minute
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 3
	}
	if cfg.RepairBatch <= 0 {
		cfg.RepairBatch = 5
	}
	if cfg.CleanupBatch <= 0 {
		cfg.CleanupBatch = 100
	}

	return &Sweeper{
		store:       store,
		reprocessor: reprocessor,
		summarizer:  summarizer,
		graph:       graph,
		vector:      vector,
		locker:      locker,
		cfg:         cfg,
	}
}

// Start runs sweeps on a ticker until the context is cancelled.
func (s *Sweeper) Start(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.SweepInterval)
	defer ticker.Stop()

	logger.Info("Maintenance sweeper started", zap.Duration("interval", s.cfg.SweepInterval))

	for {
		select {
		case <-ctx.Done():
			logger.Info("Maintenance sweeper stopped")
			return
		case <-ticker.C:
			if _, err := s.RunSweep(ctx); err != nil {
				logger.Error("Maintenance sweep failed", zap.Error(err))
			}
		}
	}
}

// RunSweep executes one full maintenance pass and records it. The
// redis lock keeps a ticker-triggered sweep and a manually triggered
// one from repairing the same targets concurrently.
func (s *Sweeper) RunSweep(ctx context.Context) (*models.MaintenanceRun, error) {
	if s.locker != nil {
		acquired, err := s.locker.AcquireSweepLock(ctx, s.cfg.SweepInterval)
		if err != nil {
			logger.Warn("Sweep lock unavailable, proceeding unguarded", zap.Error(err))
		} else if !acquired {
			logger.Info("Sweep already in progress, skipping")
			return nil, nil
		} else {
			defer s.locker.ReleaseSweepLock(ctx)
		}
	}

	run := &models.MaintenanceRun{
		ID:        uuid.NewString(),
		Status:    models.MaintenanceRunning,
		StartedAt: time.Now(),
	}
	if err := s.store.InsertMaintenanceRun(run); err != nil {
		return nil, err
	}

	s.repairStuckDocuments(ctx, run)
	s.cleanOrphanChunks(ctx, run)
	s.regenerateMissingSummaries(ctx, run)
	s.syncAgents(ctx, run)

	now := time.Now()
	run.FinishedAt = &now
	run.Status = models.MaintenanceSuccess
	if run.DocumentsFailed > 0 || run.AgentsFailed > 0 || run.SummariesFailed > 0 {
		run.Status = models.MaintenancePartialFailure
	}

	if err := s.store.InsertMaintenanceRun(run); err != nil {
		return nil, err
	}

	metrics.MaintenanceSweeps.WithLabelValues(run.Status).Inc()

	logger.Info("Maintenance sweep finished",
		zap.String("run_id", run.ID),
		zap.String("status", run.Status),
		zap.Int("documents_fixed", run.DocumentsFixed),
		zap.Int("documents_failed", run.DocumentsFailed),
		zap.Int("chunks_cleaned", run.ChunksCleaned),
		zap.Int("agents_synced", run.AgentsSynced),
		zap.Int("summaries_generated", run.SummariesGenerated),
	)

	return run, nil
}
