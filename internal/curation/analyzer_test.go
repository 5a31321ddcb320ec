package curation

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/kbcurator/backend/internal/oracle"
	"github.com/kbcurator/backend/internal/storage/models"
	"github.com/kbcurator/backend/internal/storage/sqlite"
	"github.com/kbcurator/backend/internal/vector/milvus"
)

// fakeOracle serves canned dimension scores keyed by chunk content and
// records how often each chunk was scored.
type fakeOracle struct {
	mu         sync.Mutex
	scores     map[string]oracle.DimensionScores
	callCounts map[string]int
	failAll    bool
	suggestErr error
}

func newFakeOracle() *fakeOracle {
	return &fakeOracle{
		scores:     make(map[string]oracle.DimensionScores),
		callCounts: make(map[string]int),
	}
}

func (f *fakeOracle) ScoreRelevance(ctx context.Context, userPrompt string) (*oracle.DimensionScores, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.failAll {
		return nil, fmt.Errorf("parsing scoring response: %w", oracle.ErrMalformedResponse)
	}

	for content, dims := range f.scores {
		if strings.Contains(userPrompt, content) {
			f.callCounts[content]++
			d := dims
			return &d, nil
		}
	}
	f.callCounts["default"]++
	return &oracle.DimensionScores{Semantic: 50, Concept: 50, Procedural: 50, Vocabulary: 50, Reference: 50}, nil
}

func (f *fakeOracle) Model() string { return "fake-model" }

func (f *fakeOracle) SuggestRemediation(ctx context.Context, item, itemKind, contextText string) (string, error) {
	if f.suggestErr != nil {
		return "", f.suggestErr
	}
	return fmt.Sprintf("Add a document explaining %s", item), nil
}

func (f *fakeOracle) GenerateEmbedding(ctx context.Context, text string) ([]float32, error) {
	return []float32{0.1, 0.2, 0.3}, nil
}

func (f *fakeOracle) calls(content string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.callCounts[content]
}

type fakeVector struct {
	results []milvus.SearchResult
}

func (f *fakeVector) Search(ctx context.Context, agentID string, queryEmbedding []float32, topK int) ([]milvus.SearchResult, error) {
	return f.results, nil
}

type fakeCache struct {
	mu          sync.Mutex
	suggestions map[string]string
}

func newFakeCache() *fakeCache {
	return &fakeCache{suggestions: make(map[string]string)}
}

func (f *fakeCache) GetSuggestion(ctx context.Context, itemHash string) (string, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	s, ok := f.suggestions[itemHash]
	return s, ok, nil
}

func (f *fakeCache) SetSuggestion(ctx context.Context, itemHash, suggestion string, ttl time.Duration) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.suggestions[itemHash] = suggestion
	return nil
}

func newCurationStore(t *testing.T) *sqlite.Client {
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

type testFixture struct {
	store    *sqlite.Client
	oracle   *fakeOracle
	analyzer *Analyzer
	agent    *models.Agent
	profile  *models.RequirementProfile
}

func newAnalyzerFixture(t *testing.T, batchSize int) *testFixture {
	t.Helper()

	store := newCurationStore(t)
	o := newFakeOracle()

	scorer := NewScorer(o, store)
	removal := NewRemovalEngine(store, RemovalConfig{
		Thresholds:    Thresholds{AutoRemove: 0.5, Review: 0.65},
		MaxAutoRemove: 50,
		SafeModeGrace: 7 * 24 * time.Hour,
	})
	gaps := NewGapAnalyzer(store, o, &fakeVector{}, newFakeCache(), GapConfig{
		FullCoverageChunks: 3,
		MinCoverageRatio:   0.3,
		MaxSuggestions:     5,
	})
	analyzer := NewAnalyzer(store, scorer, removal, gaps, AnalyzerConfig{
		BatchSize:    batchSize,
		Concurrency:  2,
		BatchTimeout: 30 * time.Second,
	})

	agent := &models.Agent{
		ID:          uuid.NewString(),
		Name:        "billing-agent",
		Instruction: "Walk customers through the refund workflow",
		CreatedAt:   time.Now(),
	}
	if err := store.InsertAgent(agent); err != nil {
		t.Fatalf("InsertAgent: %v", err)
	}

	profile := &models.RequirementProfile{
		ID:         uuid.NewString(),
		AgentID:    agent.ID,
		Summary:    "Handle refund and billing dispute requests",
		Concepts:   []string{"refunds"},
		Procedures: []string{"issue refund"},
		Vocabulary: []string{"chargeback"},
		CreatedAt:  time.Now(),
	}
	if err := store.InsertRequirementProfile(profile); err != nil {
		t.Fatalf("InsertRequirementProfile: %v", err)
	}

	return &testFixture{store: store, oracle: o, analyzer: analyzer, agent: agent, profile: profile}
}

func (f *testFixture) addChunk(t *testing.T, content string) *models.Chunk {
	t.Helper()

	chunk := &models.Chunk{
		ID:         uuid.NewString(),
		AgentID:    f.agent.ID,
		DocumentID: uuid.NewString(),
		Content:    content,
		Category:   "concept",
		Active:     true,
		CreatedAt:  time.Now(),
	}
	if err := f.store.InsertChunk(chunk); err != nil {
		t.Fatalf("InsertChunk: %v", err)
	}
	return chunk
}

func TestAnalyzerCompletesAcrossInvocations(t *testing.T) {
	f := newAnalyzerFixture(t, 2)

	for i := 0; i < 5; i++ {
		content := fmt.Sprintf("refund guidance fragment %d", i)
		f.addChunk(t, content)
		f.oracle.scores[content] = oracle.DimensionScores{Semantic: 80, Concept: 80, Procedural: 80, Vocabulary: 80, Reference: 80}
	}

	ctx := context.Background()

	var result *AnalysisResult
	var err error
	for i := 0; i < 3; i++ {
		result, err = f.analyzer.Run(ctx, f.agent.ID, false)
		if err != nil {
			t.Fatalf("Run #%d: %v", i+1, err)
		}
	}

	if result.Status != models.AnalysisCompleted {
		t.Fatalf("status after 3 batches of 2 = %q, want completed", result.Status)
	}
	if result.ChunksProcessed != 5 || result.TotalChunks != 5 {
		t.Errorf("processed %d/%d, want 5/5", result.ChunksProcessed, result.TotalChunks)
	}
	if result.BatchesCompleted != 3 {
		t.Errorf("batches = %d, want 3", result.BatchesCompleted)
	}
	if result.ProgressPct != 100 {
		t.Errorf("progress pct = %f, want 100", result.ProgressPct)
	}

	// Resumption never re-scores persisted chunks.
	for content := range f.oracle.scores {
		if n := f.oracle.calls(content); n != 1 {
			t.Errorf("chunk %q scored %d times, want 1", content, n)
		}
	}

	// First completion activates the agent and starts the safe-mode
	// window; nothing is removed.
	agent, err := f.store.GetAgent(f.agent.ID)
	if err != nil {
		t.Fatalf("GetAgent: %v", err)
	}
	if agent.ActivatedAt == nil {
		t.Error("first completed analysis should activate the agent")
	}
	if result.AutoRemoved != 0 {
		t.Errorf("auto removed %d during safe mode, want 0", result.AutoRemoved)
	}
}

func TestAnalyzerForceRestartRescoresEverything(t *testing.T) {
	f := newAnalyzerFixture(t, 10)

	content := "refund guidance fragment"
	f.addChunk(t, content)
	f.oracle.scores[content] = oracle.DimensionScores{Semantic: 80, Concept: 80, Procedural: 80, Vocabulary: 80, Reference: 80}

	ctx := context.Background()

	result, err := f.analyzer.Run(ctx, f.agent.ID, false)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if result.Status != models.AnalysisCompleted {
		t.Fatalf("status = %q, want completed", result.Status)
	}

	result, err = f.analyzer.Run(ctx, f.agent.ID, true)
	if err != nil {
		t.Fatalf("Run with force restart: %v", err)
	}
	if result.Status != models.AnalysisCompleted {
		t.Fatalf("status after restart = %q, want completed", result.Status)
	}
	if result.BatchesCompleted != 1 {
		t.Errorf("batches after restart = %d, want 1 (fresh run)", result.BatchesCompleted)
	}
	if n := f.oracle.calls(content); n != 2 {
		t.Errorf("chunk scored %d times, want 2 after forced restart", n)
	}
}

func TestAnalyzerReportsStallWhenNothingScores(t *testing.T) {
	f := newAnalyzerFixture(t, 10)
	f.addChunk(t, "unscorable fragment")
	f.oracle.failAll = true

	result, err := f.analyzer.Run(context.Background(), f.agent.ID, false)
	if err == nil {
		t.Fatal("expected ErrAnalysisNotProgressed")
	}
	if !errors.Is(err, ErrAnalysisNotProgressed) {
		t.Fatalf("error = %v, want ErrAnalysisNotProgressed", err)
	}
	if result == nil || result.Status != models.AnalysisError {
		t.Fatalf("result = %+v, want error status with checkpoint", result)
	}

	progress, err := f.store.GetAnalysisProgress(f.agent.ID, f.profile.ID)
	if err != nil {
		t.Fatalf("GetAnalysisProgress: %v", err)
	}
	if progress == nil || progress.Status != models.AnalysisError {
		t.Errorf("checkpoint status = %+v, want error", progress)
	}
}

func TestAnalyzerPrerequisites(t *testing.T) {
	f := newAnalyzerFixture(t, 10)
	ctx := context.Background()

	if _, err := f.analyzer.Run(ctx, "no-such-agent", false); !errors.Is(err, ErrAgentNotFound) {
		t.Errorf("missing agent error = %v, want ErrAgentNotFound", err)
	}

	bare := &models.Agent{ID: uuid.NewString(), Name: "bare", Instruction: "x", CreatedAt: time.Now()}
	if err := f.store.InsertAgent(bare); err != nil {
		t.Fatalf("InsertAgent: %v", err)
	}
	if _, err := f.analyzer.Run(ctx, bare.ID, false); !errors.Is(err, ErrNoRequirementProfile) {
		t.Errorf("missing profile error = %v, want ErrNoRequirementProfile", err)
	}

	// The fixture agent has a profile but no chunks yet.
	if _, err := f.analyzer.Run(ctx, f.agent.ID, false); !errors.Is(err, ErrNoActiveChunks) {
		t.Errorf("missing chunks error = %v, want ErrNoActiveChunks", err)
	}
}
