package curation

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/kbcurator/backend/internal/metrics"
	"github.com/kbcurator/backend/internal/storage/models"
	"github.com/kbcurator/backend/internal/storage/sqlite"
	"github.com/kbcurator/backend/pkg/logger"
)

var (
	ErrAgentNotFound         = errors.New("agent not found")
	ErrNoRequirementProfile  = errors.New("agent has no requirement profile")
	ErrNoActiveChunks        = errors.New("agent has no active chunks")
	ErrAnalysisNotProgressed = errors.New("analysis made no progress")
)

type AnalyzerConfig struct {
	BatchSize    int
	Concurrency  int
	BatchTimeout time.Duration
}

// Analyzer runs one bounded batch of the relevance analysis per
// invocation. Long analyses are many invocations cooperating through
// the persisted progress row; anyone may re-invoke until the status is
// terminal.
type Analyzer struct {
	store      *sqlite.Client
	scorer     *Scorer
	classifier *Classifier
	resolver   *WeightResolver
	removal    *RemovalEngine
	gaps       *GapAnalyzer
	cfg        AnalyzerConfig
}

func NewAnalyzer(store *sqlite.Client, scorer *Scorer, removal *RemovalEngine, gaps *GapAnalyzer, cfg AnalyzerConfig) *Analyzer {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 20
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 5
	}
	if cfg.BatchTimeout <= 0 {
		cfg.BatchTimeout = 45 * time.Second
	}

	return &Analyzer{
		store:      store,
		scorer:     scorer,
		classifier: NewClassifier(),
		resolver:   NewWeightResolver(),
		removal:    removal,
		gaps:       gaps,
		cfg:        cfg,
	}
}

// AnalysisResult is the invocation contract of the scoring job.
type AnalysisResult struct {
	Status            string      `json:"status"`
	BatchesCompleted  int         `json:"batches_completed"`
	ChunksProcessed   int         `json:"chunks_processed"`
	TotalChunks       int         `json:"total_chunks"`
	ProgressPct       float64     `json:"progress_pct"`
	FlaggedForReview  int         `json:"flagged_for_review"`
	AutoRemoved       int         `json:"auto_removed"`
	RequiresApproval  bool        `json:"requires_approval"`
	CoveragePct       float64     `json:"coverage_pct"`
	Gaps              []Gap       `json:"gaps,omitempty"`
	SurplusCategories []string    `json:"surplus_categories,omitempty"`
	TaskType          TaskType    `json:"task_type"`
	Criticality       Criticality `json:"criticality"`
}

// Run processes exactly one batch for the agent and checkpoints
// progress. The caller re-invokes until Status is terminal.
func (a *Analyzer) Run(ctx context.Context, agentID string, forceRestart bool) (*AnalysisResult, error) {
	agent, err := a.store.GetAgent(agentID)
	if err != nil {
		return nil, err
	}
	if agent == nil {
		return nil, fmt.Errorf("%w: %s", ErrAgentNotFound, agentID)
	}

	profile, err := a.store.GetLatestRequirementProfile(agentID)
	if err != nil {
		return nil, err
	}
	if profile == nil {
		return nil, fmt.Errorf("%w: %s", ErrNoRequirementProfile, agentID)
	}

	chunks, err := a.store.ListActiveChunks(agentID)
	if err != nil {
		return nil, err
	}
	if len(chunks) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrNoActiveChunks, agentID)
	}

	taskType := a.classifier.Classify(agent.Instruction)
	criticality := EvaluateCriticality(profile)
	weights, err := a.resolver.Resolve(taskType, criticality)
	if err != nil {
		return nil, err
	}

	progress, err := a.prepareProgress(agentID, profile.ID, len(chunks), forceRestart)
	if err != nil {
		return nil, err
	}

	scored, err := a.store.ListScoredChunkIDs(profile.ID)
	if err != nil {
		return nil, err
	}

	var pending []*models.Chunk
	for _, chunk := range chunks {
		if !scored[chunk.ID] {
			pending = append(pending, chunk)
		}
	}

	batch := pending
	if len(batch) > a.cfg.BatchSize {
		batch = batch[:a.cfg.BatchSize]
	}

	logger.Info("Processing analysis batch",
		zap.String("agent_id", agentID),
		zap.String("requirement_id", profile.ID),
		zap.String("task_type", string(taskType)),
		zap.String("criticality", string(criticality)),
		zap.Int("batch", progress.CurrentBatch+1),
		zap.Int("batch_size", len(batch)),
		zap.Int("pending", len(pending)),
	)

	batchStart := time.Now()
	timedOut, scoredNow := a.scoreBatch(ctx, batch, profile, weights)

	// Authoritative progress is the persisted row count, never the
	// in-memory tally: a crash mid-batch leaves rows behind that the
	// counter would miss.
	processed, err := a.store.CountScores(profile.ID)
	if err != nil {
		return nil, err
	}

	progress.ChunksProcessed = processed
	progress.CurrentBatch++
	progress.UpdatedAt = time.Now()

	switch {
	case processed >= progress.TotalChunks:
		progress.Status = models.AnalysisCompleted
	case timedOut:
		progress.Status = models.AnalysisTimeout
	case scoredNow == 0:
		progress.Status = models.AnalysisError
	default:
		progress.Status = models.AnalysisRunning
	}

	if err := a.store.UpsertAnalysisProgress(progress); err != nil {
		return nil, err
	}

	metrics.AnalysisTotal.WithLabelValues(progress.Status).Inc()
	metrics.ChunksScored.Add(float64(scoredNow))
	metrics.AnalysisDuration.WithLabelValues(progress.Status).Observe(time.Since(batchStart).Seconds())

	result := &AnalysisResult{
		Status:           progress.Status,
		BatchesCompleted: progress.CurrentBatch,
		ChunksProcessed:  processed,
		TotalChunks:      progress.TotalChunks,
		TaskType:         taskType,
		Criticality:      criticality,
	}
	if progress.TotalChunks > 0 {
		result.ProgressPct = float64(processed) / float64(progress.TotalChunks) * 100
	}

	if progress.Status == models.AnalysisError {
		return result, fmt.Errorf("%w: agent %s batch %d", ErrAnalysisNotProgressed, agentID, progress.CurrentBatch)
	}

	if progress.Status == models.AnalysisCompleted {
		if err := a.finalize(ctx, agent, profile, criticality, result); err != nil {
			logger.Error("Analysis finalization failed", zap.String("agent_id", agentID), zap.Error(err))
		}
	}

	return result, nil
}

// prepareProgress loads the checkpoint, resuming an unfinished run or
// resetting when forced or when the prior run reached a terminal
// state. Resets delete prior score rows so stale scores from older
// prompts or weights cannot mix with fresh ones.
func (a *Analyzer) prepareProgress(agentID, requirementID string, totalChunks int, forceRestart bool) (*models.AnalysisProgress, error) {
	progress, err := a.store.GetAnalysisProgress(agentID, requirementID)
	if err != nil {
		return nil, err
	}

	resumable := progress != nil &&
		(progress.Status == models.AnalysisRunning || progress.Status == models.AnalysisTimeout)

	if resumable && !forceRestart {
		progress.TotalChunks = totalChunks
		progress.Status = models.AnalysisRunning
		return progress, nil
	}

	if err := a.store.DeleteScores(requirementID); err != nil {
		return nil, err
	}

	now := time.Now()
	fresh := &models.AnalysisProgress{
		ID:            uuid.NewString(),
		AgentID:       agentID,
		RequirementID: requirementID,
		TotalChunks:   totalChunks,
		Status:        models.AnalysisRunning,
		StartedAt:     now,
		UpdatedAt:     now,
	}
	if progress != nil {
		fresh.ID = progress.ID
	}

	if err := a.store.UpsertAnalysisProgress(fresh); err != nil {
		return nil, err
	}
	return fresh, nil
}

// scoreBatch fans the batch out across a bounded worker pool and races
// it against the wall-clock budget. On timeout, whatever completed is
// already persisted; the remainder waits for the next invocation.
// Per-chunk failures are logged and skipped so one bad chunk cannot
// abort the batch.
func (a *Analyzer) scoreBatch(ctx context.Context, batch []*models.Chunk, profile *models.RequirementProfile, weights Weights) (timedOut bool, scored int) {
	batchCtx, cancel := context.WithTimeout(ctx, a.cfg.BatchTimeout)
	defer cancel()

	var mu sync.Mutex

	g, gCtx := errgroup.WithContext(batchCtx)
	g.SetLimit(a.cfg.Concurrency)

	for _, chunk := range batch {
		chunk := chunk
		g.Go(func() error {
			if gCtx.Err() != nil {
				return nil
			}

			_, err := a.scorer.Score(gCtx, chunk, profile, weights)
			if err != nil {
				if errors.Is(err, context.DeadlineExceeded) {
					return nil
				}
				logger.Warn("Chunk scoring failed, skipping",
					zap.String("chunk_id", chunk.ID),
					zap.Error(err),
				)
				return nil
			}

			mu.Lock()
			scored++
			mu.Unlock()
			return nil
		})
	}

	g.Wait()

	return errors.Is(batchCtx.Err(), context.DeadlineExceeded), scored
}

// finalize runs once per completed analysis: start the safe-mode clock
// on the agent's first completion, apply auto-removal, then recompute
// coverage on what survived.
func (a *Analyzer) finalize(ctx context.Context, agent *models.Agent, profile *models.RequirementProfile, criticality Criticality, result *AnalysisResult) error {
	if err := a.store.MarkAgentActivated(agent.ID, time.Now()); err != nil {
		return err
	}

	removal, err := a.removal.Apply(agent.ID, profile.ID, criticality)
	if err != nil {
		return err
	}
	result.FlaggedForReview = removal.Flagged
	result.AutoRemoved = removal.Removed
	result.RequiresApproval = removal.RequiresApproval

	report, err := a.gaps.Analyze(ctx, agent.ID, profile)
	if err != nil {
		return err
	}
	result.CoveragePct = report.CoveragePct
	result.Gaps = report.Gaps
	result.SurplusCategories = report.SurplusCategories

	return nil
}
