package ingestion

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/kbcurator/backend/internal/storage/models"
	"github.com/kbcurator/backend/internal/storage/sqlite"
	"github.com/kbcurator/backend/internal/vector/milvus"
	"github.com/kbcurator/backend/pkg/logger"
)

// ContentOracle covers the oracle calls the ingestion pipeline makes.
type ContentOracle interface {
	SummarizeDocument(ctx context.Context, content string) (string, error)
	CategorizeChunk(ctx context.Context, content string) (string, error)
	GenerateEmbedding(ctx context.Context, text string) ([]float32, error)
}

// VectorStore receives chunk embeddings.
type VectorStore interface {
	Insert(ctx context.Context, vectors []milvus.ChunkVector) error
	DeleteByChunkIDs(ctx context.Context, chunkIDs []string) error
}

// AssignmentWriter records agent-to-document assignment links.
type AssignmentWriter interface {
	AssignDocument(ctx context.Context, agentID, documentID string) error
	UnassignDocument(ctx context.Context, agentID, documentID string) error
}

// EmbeddingCache short-circuits embedding calls for repeated text.
type EmbeddingCache interface {
	GetEmbedding(ctx context.Context, textHash string) ([]float32, bool, error)
	SetEmbedding(ctx context.Context, textHash string, embedding []float32, ttl time.Duration) error
}

// Processor runs the document ingestion pipeline: extract, chunk,
// categorize, embed, summarize. When structural extraction yields too
// little text it escalates to OCR and re-runs, bounded by the heal
// config.
type Processor struct {
	store    *sqlite.Client
	oracle   ContentOracle
	vector   VectorStore
	graph    AssignmentWriter
	cache    EmbeddingCache
	standard Extractor
	ocr      Extractor
	heal     HealConfig

	embeddingTTL time.Duration
	hashFn       func(string) string
}

func NewProcessor(store *sqlite.Client, oracle ContentOracle, vector VectorStore, graph AssignmentWriter, cache EmbeddingCache, ocrBackend OCRBackend, heal HealConfig, hashFn func(string) string) *Processor {
	return &Processor{
		store:        store,
		oracle:       oracle,
		vector:       vector,
		graph:        graph,
		cache:        cache,
		standard:     StandardExtractor{},
		ocr:          OCRExtractor{Backend: ocrBackend},
		heal:         heal,
		embeddingTTL: 24 * time.Hour,
		hashFn:       hashFn,
	}
}

// Process runs the full pipeline for a new document. The document row
// must already exist; Process owns its status transitions.
func (p *Processor) Process(ctx context.Context, documentID string) error {
	log := logger.GetLogger()

	doc, err := p.store.GetDocument(documentID)
	if err != nil {
		return fmt.Errorf("failed to load document: %w", err)
	}
	if doc == nil {
		return fmt.Errorf("document %s not found", documentID)
	}

	if err := p.store.UpdateDocumentStatus(doc.ID, models.DocStatusProcessing, ""); err != nil {
		return fmt.Errorf("failed to mark document processing: %w", err)
	}

	extractor := p.standard
	attempts := doc.ExtractionAttempts

	for {
		attempts++
		chunkCount, pages, err := p.runPass(ctx, doc, extractor, attempts)
		if err != nil {
			p.fail(ctx, doc, fmt.Sprintf("extraction failed in %s mode: %v", extractor.Mode(), err))
			return err
		}

		verdict, reason := Evaluate(p.heal, pages, chunkCount, extractor.Mode(), attempts)
		switch verdict {
		case VerdictOK:
			return p.finish(ctx, doc, chunkCount)
		case VerdictRetryOCR:
			log.Warn("extraction under-yielded, escalating to OCR",
				zap.String("document_id", doc.ID),
				zap.Int("pages", pages),
				zap.Int("chunks", chunkCount),
				zap.Int("attempt", attempts),
			)
			extractor = p.ocr
		case VerdictFailed:
			p.fail(ctx, doc, reason)
			return fmt.Errorf("document %s: %s", doc.ID, reason)
		}
	}
}

// ReprocessDocument re-runs the pipeline for an existing document.
// Used by the maintenance sweeper to repair documents stuck in
// processing.
func (p *Processor) ReprocessDocument(ctx context.Context, documentID string) error {
	return p.Process(ctx, documentID)
}

// MaterializeAssignment backfills a missing assignment link found
// during an agent-sync sweep.
func (p *Processor) MaterializeAssignment(ctx context.Context, agentID, documentID string) error {
	return p.graph.AssignDocument(ctx, agentID, documentID)
}

// runPass extracts with one strategy and replaces the document's
// chunks with the result. Returns the chunk and page counts.
func (p *Processor) runPass(ctx context.Context, doc *models.Document, extractor Extractor, attempt int) (int, int, error) {
	log := logger.GetLogger()

	extraction, err := extractor.Extract(ctx, doc)
	if err != nil {
		return 0, 0, err
	}

	texts := ChunkText(extraction.Text)

	// Replace, never append: a retry pass must not double up chunks
	// from the previous pass.
	if err := p.clearChunks(ctx, doc); err != nil {
		return 0, 0, err
	}

	vectors := make([]milvus.ChunkVector, 0, len(texts))
	for _, text := range texts {
		chunk := &models.Chunk{
			ID:         uuid.New().String(),
			AgentID:    doc.AgentID,
			DocumentID: doc.ID,
			Content:    text,
			Category:   p.categorize(ctx, text),
			Active:     true,
			CreatedAt:  time.Now().UTC(),
		}
		if err := p.store.InsertChunk(chunk); err != nil {
			return 0, 0, fmt.Errorf("failed to persist chunk: %w", err)
		}

		embedding, err := p.embed(ctx, text)
		if err != nil {
			// Chunk stays queryable through sqlite even when the
			// vector store misses it.
			log.Warn("embedding failed for chunk",
				zap.String("chunk_id", chunk.ID),
				zap.Error(err),
			)
			continue
		}
		vectors = append(vectors, milvus.ChunkVector{
			ChunkID:    chunk.ID,
			AgentID:    chunk.AgentID,
			DocumentID: chunk.DocumentID,
			Embedding:  embedding,
			Text:       text,
			Category:   chunk.Category,
			Timestamp:  chunk.CreatedAt,
		})
	}

	if len(vectors) > 0 {
		if err := p.vector.Insert(ctx, vectors); err != nil {
			log.Warn("vector insert failed", zap.String("document_id", doc.ID), zap.Error(err))
		}
	}

	if err := p.store.UpdateDocumentExtraction(doc.ID, extractor.Mode(), attempt, extraction.Pages, len(texts)); err != nil {
		return 0, 0, fmt.Errorf("failed to record extraction state: %w", err)
	}
	doc.ExtractionMode = extractor.Mode()
	doc.ExtractionAttempts = attempt
	doc.PageCount = extraction.Pages

	return len(texts), extraction.Pages, nil
}

func (p *Processor) finish(ctx context.Context, doc *models.Document, chunkCount int) error {
	log := logger.GetLogger()

	summary, err := p.oracle.SummarizeDocument(ctx, doc.RawContent)
	if err != nil {
		// The maintenance sweeper backfills summaries later.
		log.Warn("summary generation failed", zap.String("document_id", doc.ID), zap.Error(err))
	} else if err := p.store.UpdateDocumentSummary(doc.ID, summary); err != nil {
		log.Warn("failed to persist summary", zap.String("document_id", doc.ID), zap.Error(err))
	}

	if err := p.graph.AssignDocument(ctx, doc.AgentID, doc.ID); err != nil {
		log.Warn("failed to record assignment link",
			zap.String("agent_id", doc.AgentID),
			zap.String("document_id", doc.ID),
			zap.Error(err),
		)
	}

	if err := p.store.UpdateDocumentStatus(doc.ID, models.DocStatusCompleted, ""); err != nil {
		return fmt.Errorf("failed to mark document completed: %w", err)
	}

	log.Info("document ingested",
		zap.String("document_id", doc.ID),
		zap.String("mode", doc.ExtractionMode),
		zap.Int("chunks", chunkCount),
		zap.Int("attempts", doc.ExtractionAttempts),
	)
	return nil
}

func (p *Processor) fail(ctx context.Context, doc *models.Document, reason string) {
	log := logger.GetLogger()

	if err := p.store.UpdateDocumentStatus(doc.ID, models.DocStatusFailed, reason); err != nil {
		log.Error("failed to mark document failed",
			zap.String("document_id", doc.ID),
			zap.Error(err),
		)
	}

	// Drop the assignment edge: agent-sync sweeps treat graph edges as
	// expected state, and a failed document can never materialize the
	// chunks they would keep trying to repair.
	if err := p.graph.UnassignDocument(ctx, doc.AgentID, doc.ID); err != nil {
		log.Warn("failed to remove assignment link",
			zap.String("agent_id", doc.AgentID),
			zap.String("document_id", doc.ID),
			zap.Error(err),
		)
	}
}

func (p *Processor) clearChunks(ctx context.Context, doc *models.Document) error {
	chunks, err := p.store.ListActiveChunks(doc.AgentID)
	if err != nil {
		return fmt.Errorf("failed to list chunks: %w", err)
	}
	var ids []string
	for _, c := range chunks {
		if c.DocumentID == doc.ID {
			ids = append(ids, c.ID)
		}
	}
	if len(ids) > 0 {
		if err := p.vector.DeleteByChunkIDs(ctx, ids); err != nil {
			logger.GetLogger().Warn("vector cleanup before re-extraction failed",
				zap.String("document_id", doc.ID),
				zap.Error(err),
			)
		}
	}
	if err := p.store.DeleteChunksByDocument(doc.ID); err != nil {
		return fmt.Errorf("failed to clear previous chunks: %w", err)
	}
	return nil
}

func (p *Processor) categorize(ctx context.Context, text string) string {
	category, err := p.oracle.CategorizeChunk(ctx, text)
	if err != nil {
		return "other"
	}
	return category
}

func (p *Processor) embed(ctx context.Context, text string) ([]float32, error) {
	key := p.hashFn(text)
	if p.cache != nil {
		if cached, ok, err := p.cache.GetEmbedding(ctx, key); err == nil && ok {
			return cached, nil
		}
	}
	embedding, err := p.oracle.GenerateEmbedding(ctx, text)
	if err != nil {
		return nil, err
	}
	if p.cache != nil {
		if err := p.cache.SetEmbedding(ctx, key, embedding, p.embeddingTTL); err != nil {
			logger.GetLogger().Debug("embedding cache write failed", zap.Error(err))
		}
	}
	return embedding, nil
}
