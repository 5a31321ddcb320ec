package maintenance

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/kbcurator/backend/internal/storage/models"
	"github.com/kbcurator/backend/internal/storage/sqlite"
)

type fakeReprocessor struct {
	store          *sqlite.Client
	reprocessCalls int
}

func (f *fakeReprocessor) ReprocessDocument(ctx context.Context, documentID string) error {
	f.reprocessCalls++
	return f.store.UpdateDocumentStatus(documentID, models.DocStatusCompleted, "")
}

func (f *fakeReprocessor) MaterializeAssignment(ctx context.Context, agentID, documentID string) error {
	chunk := &models.Chunk{
		ID:         uuid.NewString(),
		AgentID:    agentID,
		DocumentID: documentID,
		Content:    "materialized content",
		Active:     true,
		CreatedAt:  time.Now(),
	}
	return f.store.InsertChunk(chunk)
}

type fakeSummarizer struct{}

func (fakeSummarizer) SummarizeDocument(ctx context.Context, content string) (string, error) {
	return "regenerated summary", nil
}

type fakeGraph struct {
	assigned map[string][]string
}

func (f *fakeGraph) ListAssignedDocuments(ctx context.Context, agentID string) ([]string, error) {
	return f.assigned[agentID], nil
}

type fakeVectorDeleter struct {
	deleted []string
}

func (f *fakeVectorDeleter) DeleteByChunkIDs(ctx context.Context, chunkIDs []string) error {
	f.deleted = append(f.deleted, chunkIDs...)
	return nil
}

type fakeLocker struct {
	acquired bool
	err      error
	released bool
}

func (f *fakeLocker) AcquireSweepLock(ctx context.Context, ttl time.Duration) (bool, error) {
	return f.acquired, f.err
}

func (f *fakeLocker) ReleaseSweepLock(ctx context.Context) error {
	f.released = true
	return nil
}

func newMaintStore(t *testing.T) *sqlite.Client {
	t.Helper()

	store, err := sqlite.NewClient(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	if err := store.InitSchema(); err != nil {
		t.Fatalf("InitSchema: %v", err)
	}
	return store
}

func newTestSweeper(store *sqlite.Client, graph AssignmentGraph, locker SweepLocker) (*Sweeper, *fakeReprocessor, *fakeVectorDeleter) {
	reprocessor := &fakeReprocessor{store: store}
	vector := &fakeVectorDeleter{}
	sweeper := NewSweeper(store, reprocessor, fakeSummarizer{}, graph, vector, locker, Config{
		StuckThreshold: 10 * time.Minute,
		MaxAttempts:    3,
		RepairBatch:    5,
		CleanupBatch:   100,
	})
	return sweeper, reprocessor, vector
}

func addAgent(t *testing.T, store *sqlite.Client) *models.Agent {
	t.Helper()

	agent := &models.Agent{
		ID:          uuid.NewString(),
		Name:        "agent",
		Instruction: "support",
		CreatedAt:   time.Now(),
	}
	if err := store.InsertAgent(agent); err != nil {
		t.Fatalf("InsertAgent: %v", err)
	}
	return agent
}

func addDocument(t *testing.T, store *sqlite.Client, agentID, status, summary string, updatedAt time.Time) *models.Document {
	t.Helper()

	doc := &models.Document{
		ID:         uuid.NewString(),
		AgentID:    agentID,
		Title:      "doc",
		SourceType: "text",
		RawContent: "raw document content",
		Summary:    summary,
		Status:     status,
		CreatedAt:  updatedAt,
		UpdatedAt:  updatedAt,
	}
	if err := store.InsertDocument(doc); err != nil {
		t.Fatalf("InsertDocument: %v", err)
	}
	return doc
}

func insertRun(t *testing.T, store *sqlite.Client) *models.MaintenanceRun {
	t.Helper()

	run := &models.MaintenanceRun{
		ID:        uuid.NewString(),
		Status:    models.MaintenanceRunning,
		StartedAt: time.Now(),
	}
	if err := store.InsertMaintenanceRun(run); err != nil {
		t.Fatalf("InsertMaintenanceRun: %v", err)
	}
	return run
}

func TestAttemptRepairVerifiedSuccess(t *testing.T) {
	store := newMaintStore(t)
	sweeper, _, _ := newTestSweeper(store, &fakeGraph{}, nil)
	run := insertRun(t, store)

	repaired := false
	fixed, err := sweeper.attemptRepair(context.Background(), run.ID, "target-1", models.OpStuckDocument,
		func() error { repaired = true; return nil },
		func() (bool, error) { return repaired, nil },
	)
	if err != nil {
		t.Fatalf("attemptRepair: %v", err)
	}
	if !fixed {
		t.Error("verified repair should report fixed")
	}

	count, err := store.CountFailedAttempts("target-1", models.OpStuckDocument)
	if err != nil {
		t.Fatalf("CountFailedAttempts: %v", err)
	}
	if count != 0 {
		t.Errorf("failed attempts = %d, want 0", count)
	}
}

func TestAttemptRepairSuccessIsNotTrustedWithoutVerification(t *testing.T) {
	store := newMaintStore(t)
	sweeper, _, _ := newTestSweeper(store, &fakeGraph{}, nil)
	run := insertRun(t, store)

	// The repair action returns nil but the re-read still shows the
	// discrepancy: the attempt counts as a failure.
	fixed, err := sweeper.attemptRepair(context.Background(), run.ID, "target-2", models.OpMissingSummary,
		func() error { return nil },
		func() (bool, error) { return false, nil },
	)
	if err != nil {
		t.Fatalf("attemptRepair: %v", err)
	}
	if fixed {
		t.Error("unverified repair must not report fixed")
	}

	count, _ := store.CountFailedAttempts("target-2", models.OpMissingSummary)
	if count != 1 {
		t.Errorf("failed attempts = %d, want 1", count)
	}
}

func TestAttemptRepairGivesUpAfterMaxAttempts(t *testing.T) {
	store := newMaintStore(t)
	sweeper, _, _ := newTestSweeper(store, &fakeGraph{}, nil)
	run := insertRun(t, store)

	repairCalls := 0
	failing := func() error { repairCalls++; return errors.New("still broken") }
	verify := func() (bool, error) { return false, nil }

	for i := 0; i < 3; i++ {
		fixed, err := sweeper.attemptRepair(context.Background(), run.ID, "target-3", models.OpStuckDocument, failing, verify)
		if err != nil {
			t.Fatalf("attemptRepair #%d: %v", i+1, err)
		}
		if fixed {
			t.Fatalf("attempt #%d unexpectedly reported fixed", i+1)
		}
	}

	permanent, err := store.HasPermanentFailure("target-3", models.OpStuckDocument)
	if err != nil {
		t.Fatalf("HasPermanentFailure: %v", err)
	}
	if !permanent {
		t.Error("third failed attempt should mark the target permanently failed")
	}

	// Once permanently failed, the repair action must not run again.
	if _, err := sweeper.attemptRepair(context.Background(), run.ID, "target-3", models.OpStuckDocument, failing, verify); err != nil {
		t.Fatalf("attemptRepair after permanent failure: %v", err)
	}
	if repairCalls != 3 {
		t.Errorf("repair calls = %d, want 3 (permanent failure gates further attempts)", repairCalls)
	}
}

func TestAttemptRepairClearsHistoryAfterVerifiedFix(t *testing.T) {
	store := newMaintStore(t)
	sweeper, _, _ := newTestSweeper(store, &fakeGraph{}, nil)
	run := insertRun(t, store)

	broken := true
	attempt := 0
	repair := func() error {
		attempt++
		if attempt == 1 {
			return errors.New("transient")
		}
		broken = false
		return nil
	}
	verify := func() (bool, error) { return !broken, nil }

	if fixed, _ := sweeper.attemptRepair(context.Background(), run.ID, "target-4", models.OpAgentSync, repair, verify); fixed {
		t.Fatal("first attempt should fail")
	}
	fixed, err := sweeper.attemptRepair(context.Background(), run.ID, "target-4", models.OpAgentSync, repair, verify)
	if err != nil {
		t.Fatalf("attemptRepair: %v", err)
	}
	if !fixed {
		t.Fatal("second attempt should succeed")
	}

	count, _ := store.CountFailedAttempts("target-4", models.OpAgentSync)
	if count != 0 {
		t.Errorf("failed attempts = %d after verified fix, want 0 (history cleared)", count)
	}
}

func TestRunSweepRepairsStuckDocumentsAndOrphans(t *testing.T) {
	store := newMaintStore(t)
	agent := addAgent(t, store)

	stuck := addDocument(t, store, agent.ID, models.DocStatusProcessing, "", time.Now().Add(-time.Hour))
	healthy := addDocument(t, store, agent.ID, models.DocStatusCompleted, "already summarized", time.Now())

	orphan := &models.Chunk{
		ID:         uuid.NewString(),
		AgentID:    agent.ID,
		DocumentID: uuid.NewString(),
		Content:    "orphaned content",
		Active:     true,
		CreatedAt:  time.Now(),
	}
	if err := store.InsertChunk(orphan); err != nil {
		t.Fatalf("InsertChunk: %v", err)
	}

	sweeper, reprocessor, vector := newTestSweeper(store, &fakeGraph{}, nil)

	run, err := sweeper.RunSweep(context.Background())
	if err != nil {
		t.Fatalf("RunSweep: %v", err)
	}
	if run == nil {
		t.Fatal("RunSweep returned no run")
	}

	if run.DocumentsFixed != 1 || run.DocumentsFailed != 0 {
		t.Errorf("documents fixed/failed = %d/%d, want 1/0", run.DocumentsFixed, run.DocumentsFailed)
	}
	if reprocessor.reprocessCalls != 1 {
		t.Errorf("reprocess calls = %d, want 1", reprocessor.reprocessCalls)
	}
	if run.ChunksCleaned != 1 {
		t.Errorf("chunks cleaned = %d, want 1", run.ChunksCleaned)
	}
	if len(vector.deleted) != 1 || vector.deleted[0] != orphan.ID {
		t.Errorf("vector deletions = %v, want [%s]", vector.deleted, orphan.ID)
	}
	// The just-fixed document is completed with no summary, so the same
	// sweep regenerates it.
	if run.SummariesGenerated != 1 {
		t.Errorf("summaries generated = %d, want 1", run.SummariesGenerated)
	}
	if run.Status != models.MaintenanceSuccess {
		t.Errorf("run status = %s, want %s", run.Status, models.MaintenanceSuccess)
	}

	fresh, err := store.GetDocument(stuck.ID)
	if err != nil {
		t.Fatalf("GetDocument: %v", err)
	}
	if fresh.Status != models.DocStatusCompleted {
		t.Errorf("stuck document status = %s, want completed", fresh.Status)
	}
	if fresh.Summary == "" {
		t.Error("stuck document should have a regenerated summary")
	}

	untouched, err := store.GetDocument(healthy.ID)
	if err != nil {
		t.Fatalf("GetDocument: %v", err)
	}
	if untouched.Summary != "already summarized" {
		t.Errorf("healthy document summary changed: %q", untouched.Summary)
	}

	if gone, _ := store.GetChunk(orphan.ID); gone != nil {
		t.Error("orphan chunk should be deleted")
	}

	runs, err := store.ListMaintenanceRuns(5)
	if err != nil {
		t.Fatalf("ListMaintenanceRuns: %v", err)
	}
	if len(runs) != 1 || runs[0].FinishedAt == nil {
		t.Errorf("run history = %d entries, want 1 finished run", len(runs))
	}
}

func TestRunSweepMaterializesMissingAssignments(t *testing.T) {
	store := newMaintStore(t)
	agent := addAgent(t, store)
	doc := addDocument(t, store, agent.ID, models.DocStatusCompleted, "summary", time.Now())

	// The graph says the document is assigned but no chunks exist for
	// it: agent sync should materialize them.
	graph := &fakeGraph{assigned: map[string][]string{agent.ID: {doc.ID}}}
	sweeper, _, _ := newTestSweeper(store, graph, nil)

	run, err := sweeper.RunSweep(context.Background())
	if err != nil {
		t.Fatalf("RunSweep: %v", err)
	}
	if run.AgentsSynced != 1 || run.AgentsFailed != 0 {
		t.Errorf("agents synced/failed = %d/%d, want 1/0", run.AgentsSynced, run.AgentsFailed)
	}

	ids, err := store.ListAgentChunkDocumentIDs(agent.ID)
	if err != nil {
		t.Fatalf("ListAgentChunkDocumentIDs: %v", err)
	}
	if len(ids) != 1 || ids[0] != doc.ID {
		t.Errorf("materialized document ids = %v, want [%s]", ids, doc.ID)
	}
}

func TestRunSweepSkippedWhenLockHeld(t *testing.T) {
	store := newMaintStore(t)
	locker := &fakeLocker{acquired: false}
	sweeper, _, _ := newTestSweeper(store, &fakeGraph{}, locker)

	run, err := sweeper.RunSweep(context.Background())
	if err != nil {
		t.Fatalf("RunSweep: %v", err)
	}
	if run != nil {
		t.Errorf("run = %+v, want nil when the lock is held elsewhere", run)
	}

	runs, err := store.ListMaintenanceRuns(5)
	if err != nil {
		t.Fatalf("ListMaintenanceRuns: %v", err)
	}
	if len(runs) != 0 {
		t.Errorf("run history = %d entries, want none for a skipped sweep", len(runs))
	}
}

func TestRunSweepProceedsWhenLockErrors(t *testing.T) {
	store := newMaintStore(t)
	locker := &fakeLocker{err: errors.New("redis unreachable")}
	sweeper, _, _ := newTestSweeper(store, &fakeGraph{}, locker)

	run, err := sweeper.RunSweep(context.Background())
	if err != nil {
		t.Fatalf("RunSweep: %v", err)
	}
	if run == nil {
		t.Fatal("a lock error should not block the sweep")
	}
}
