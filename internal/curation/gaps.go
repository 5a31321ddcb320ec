package curation

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/kbcurator/backend/internal/storage/models"
	"github.com/kbcurator/backend/internal/storage/sqlite"
	"github.com/kbcurator/backend/internal/vector/milvus"
	"github.com/kbcurator/backend/pkg/logger"
	"github.com/kbcurator/backend/pkg/utils"
)

type GapConfig struct {
	// FullCoverageChunks matching chunks count as full coverage for a
	// requirement item. A heuristic constant, kept configurable on
	// purpose.
	FullCoverageChunks int
	MinCoverageRatio   float64
	MaxSuggestions     int
	HighScoreCutoff    float64
}

type SuggestionOracle interface {
	SuggestRemediation(ctx context.Context, item, itemKind, contextText string) (string, error)
	GenerateEmbedding(ctx context.Context, text string) ([]float32, error)
}

type VectorSearcher interface {
	Search(ctx context.Context, agentID string, queryEmbedding []float32, topK int) ([]milvus.SearchResult, error)
}

type SuggestionCache interface {
	GetSuggestion(ctx context.Context, itemHash string) (string, bool, error)
	SetSuggestion(ctx context.Context, itemHash, suggestion string, ttl time.Duration) error
}

// GapAnalyzer is the read-only companion of the analysis pipeline: it
// compares requirement items against scored coverage and reports
// deficits. It never mutates chunks.
type GapAnalyzer struct {
	store  *sqlite.Client
	oracle SuggestionOracle
	vector VectorSearcher
	cache  SuggestionCache
	cfg    GapConfig
}

func NewGapAnalyzer(store *sqlite.Client, o SuggestionOracle, vector VectorSearcher, cache SuggestionCache, cfg GapConfig) *GapAnalyzer {
	if cfg.FullCoverageChunks <= 0 {
		cfg.FullCoverageChunks = 3
	}
	if cfg.MinCoverageRatio <= 0 {
		cfg.MinCoverageRatio = 0.3
	}
	if cfg.MaxSuggestions <= 0 {
		cfg.MaxSuggestions = 5
	}
	if cfg.HighScoreCutoff <= 0 {
		cfg.HighScoreCutoff = 0.5
	}

	return &GapAnalyzer{store: store, oracle: o, vector: vector, cache: cache, cfg: cfg}
}

type Gap struct {
	Item          string  `json:"item"`
	Kind          string  `json:"kind"`
	CoverageRatio float64 `json:"coverage_ratio"`
	Severity      float64 `json:"severity"`
	Suggestion    string  `json:"suggestion,omitempty"`
}

type GapReport struct {
	CoveragePct       float64  `json:"coverage_pct"`
	Gaps              []Gap    `json:"gaps"`
	SurplusCategories []string `json:"surplus_categories"`
}

func (g *GapAnalyzer) Analyze(ctx context.Context, agentID string, profile *models.RequirementProfile) (*GapReport, error) {
	scores, err := g.store.ListScores(profile.ID)
	if err != nil {
		return nil, err
	}

	chunks, err := g.store.ListActiveChunks(agentID)
	if err != nil {
		return nil, err
	}

	chunksByID := make(map[string]*models.Chunk, len(chunks))
	for _, chunk := range chunks {
		chunksByID[chunk.ID] = chunk
	}

	type itemGroup struct {
		kind      string
		items     []string
		dimension func(*models.RelevanceScore) float64
	}
	groups := []itemGroup{
		{"concept", profile.Concepts, func(s *models.RelevanceScore) float64 { return s.ConceptScore }},
		{"procedure", profile.Procedures, func(s *models.RelevanceScore) float64 { return s.ProceduralScore }},
		{"vocabulary", profile.Vocabulary, func(s *models.RelevanceScore) float64 { return s.VocabularyScore }},
	}

	report := &GapReport{}
	var coverageSum float64
	var itemCount int

	for _, group := range groups {
		for _, item := range group.items {
			matches := g.countMatches(item, scores, chunksByID, group.dimension)

			coverage := float64(matches) / float64(g.cfg.FullCoverageChunks)
			if coverage > 1 {
				coverage = 1
			}
			coverageSum += coverage
			itemCount++

			if coverage < g.cfg.MinCoverageRatio {
				report.Gaps = append(report.Gaps, Gap{
					Item:          item,
					Kind:          group.kind,
					CoverageRatio: coverage,
					Severity:      1 - coverage,
				})
			}
		}
	}

	if itemCount > 0 {
		report.CoveragePct = coverageSum / float64(itemCount) * 100
	}

	sort.Slice(report.Gaps, func(i, j int) bool {
		if report.Gaps[i].Severity != report.Gaps[j].Severity {
			return report.Gaps[i].Severity > report.Gaps[j].Severity
		}
		return report.Gaps[i].Item < report.Gaps[j].Item
	})

	// Only the most severe gaps get an oracle-generated suggestion;
	// the rest keep the report cheap.
	for i := range report.Gaps {
		if i >= g.cfg.MaxSuggestions {
			break
		}
		report.Gaps[i].Suggestion = g.suggest(ctx, agentID, &report.Gaps[i])
	}

	report.SurplusCategories = g.surplusCategories(scores, chunksByID)

	logger.Info("Gap analysis completed",
		zap.String("agent_id", agentID),
		zap.Float64("coverage_pct", report.CoveragePct),
		zap.Int("gaps", len(report.Gaps)),
	)

	return report, nil
}

// countMatches counts chunks that both contain the item textually and
// score high on the item's dimension.
func (g *GapAnalyzer) countMatches(item string, scores []*models.RelevanceScore, chunksByID map[string]*models.Chunk, dimension func(*models.RelevanceScore) float64) int {
	needle := strings.ToLower(item)

	matches := 0
	for _, score := range scores {
		if dimension(score) < g.cfg.HighScoreCutoff {
			continue
		}
		chunk, ok := chunksByID[score.ChunkID]
		if !ok {
			continue
		}
		if strings.Contains(strings.ToLower(chunk.Content), needle) {
			matches++
		}
	}
	return matches
}

// suggest produces a remediation suggestion for a gap, cached per item
// and backed by a templated fallback so a failing oracle never fails
// the report.
func (g *GapAnalyzer) suggest(ctx context.Context, agentID string, gap *Gap) string {
	fallback := fmt.Sprintf("Coverage for %s %q is %.0f%%. Add documents covering %q to the agent's knowledge base.",
		gap.Kind, gap.Item, gap.CoverageRatio*100, gap.Item)

	itemHash := utils.HashString(agentID + ":" + gap.Kind + ":" + gap.Item)
	if g.cache != nil {
		if cached, ok, err := g.cache.GetSuggestion(ctx, itemHash); err == nil && ok {
			return cached
		}
	}

	suggestion, err := g.oracle.SuggestRemediation(ctx, gap.Item, gap.Kind, g.contextFor(ctx, agentID, gap.Item))
	if err != nil {
		logger.Warn("Gap suggestion failed, using fallback",
			zap.String("item", gap.Item),
			zap.Error(err),
		)
		return fallback
	}

	if g.cache != nil {
		if err := g.cache.SetSuggestion(ctx, itemHash, suggestion, 24*time.Hour); err != nil {
			logger.Debug("Failed to cache suggestion", zap.Error(err))
		}
	}

	return suggestion
}

// contextFor collects the nearest existing chunks for the item so the
// suggestion references what the knowledge base already has. Embedding
// or search failure degrades to an empty context rather than failing
// the suggestion.
func (g *GapAnalyzer) contextFor(ctx context.Context, agentID, item string) string {
	if g.vector == nil {
		return ""
	}

	embedding, err := g.oracle.GenerateEmbedding(ctx, item)
	if err != nil {
		logger.Debug("Embedding for gap context failed", zap.Error(err))
		return ""
	}

	results, err := g.vector.Search(ctx, agentID, embedding, 3)
	if err != nil {
		logger.Debug("Vector search for gap context failed", zap.Error(err))
		return ""
	}

	var parts []string
	for _, r := range results {
		parts = append(parts, clip(r.Text, 300))
	}
	return strings.Join(parts, "\n---\n")
}

// surplusCategories reports categories that are well represented in
// the knowledge base but consistently score low: likely leftovers from
// a different task.
func (g *GapAnalyzer) surplusCategories(scores []*models.RelevanceScore, chunksByID map[string]*models.Chunk) []string {
	type tally struct {
		count int
		sum   float64
	}
	byCategory := make(map[string]*tally)

	for _, score := range scores {
		chunk, ok := chunksByID[score.ChunkID]
		if !ok || chunk.Category == "" {
			continue
		}
		t, ok := byCategory[chunk.Category]
		if !ok {
			t = &tally{}
			byCategory[chunk.Category] = t
		}
		t.count++
		t.sum += score.FinalScore
	}

	var surplus []string
	for category, t := range byCategory {
		if t.count >= g.cfg.FullCoverageChunks && t.sum/float64(t.count) < 0.4 {
			surplus = append(surplus, category)
		}
	}
	sort.Strings(surplus)
	return surplus
}
