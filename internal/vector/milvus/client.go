package milvus

import (
	"context"
	"fmt"
	"time"

	"github.com/milvus-io/milvus-sdk-go/v2/client"
	"github.com/milvus-io/milvus-sdk-go/v2/entity"
	"go.uber.org/zap"

	"github.com/kbcurator/backend/pkg/logger"
)

type Client struct {
	client         client.Client
	collectionName string
	vectorDim      int
}

type ChunkVector struct {
	ChunkID    string
	AgentID    string
	DocumentID string
	Embedding  []float32
	Text       string
	Category   string
	Timestamp  time.Time
}

type SearchResult struct {
	ChunkID    string
	DocumentID string
	Text       string
	Category   string
	Score      float32
}

func NewClient(endpoint, apiKey, collectionName string, vectorDim int) (*Client, error) {
	ctx := context.Background()

	var c client.Client
	var err error
	if apiKey != "" {
		// Managed deployments (Zilliz Cloud) authenticate per request.
		c, err = client.NewClient(ctx, client.Config{Address: endpoint, APIKey: apiKey})
	} else {
		c, err = client.NewGrpcClient(ctx, endpoint)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to create milvus client: %w", err)
	}

	logger.Info("Milvus client initialized",
		zap.String("endpoint", endpoint),
		zap.String("collection", collectionName),
	)

	return &Client{
		client:         c,
		collectionName: collectionName,
		vectorDim:      vectorDim,
	}, nil
}

func (m *Client) Close() error {
	return m.client.Close()
}

func (m *Client) CreateCollection(ctx context.Context) error {
	has, err := m.client.HasCollection(ctx, m.collectionName)
	if err != nil {
		return fmt.Errorf("failed to check collection: %w", err)
	}

	if has {
		logger.Info("Collection already exists", zap.String("collection", m.collectionName))
		return nil
	}

	schema := &entity.Schema{
		CollectionName: m.collectionName,
		Description:    "Knowledge-base chunk embeddings",
		Fields: []*entity.Field{
			{
				Name:       "chunk_id",
				DataType:   entity.FieldTypeVarChar,
				PrimaryKey: true,
				AutoID:     false,
				TypeParams: map[string]string{
					"max_length": "64",
				},
			},
			{
				Name:     "embedding",
				DataType: entity.FieldTypeFloatVector,
				TypeParams: map[string]string{
					"dim": fmt.Sprintf("%d", m.vectorDim),
				},
			},
			{
				Name:     "agent_id",
				DataType: entity.FieldTypeVarChar,
				TypeParams: map[string]string{
					"max_length": "64",
				},
			},
			{
				Name:     "document_id",
				DataType: entity.FieldTypeVarChar,
				TypeParams: map[string]string{
					"max_length": "64",
				},
			},
			{
				Name:     "text",
				DataType: entity.FieldTypeVarChar,
				TypeParams: map[string]string{
					"max_length": "4096",
				},
			},
			{
				Name:     "category",
				DataType: entity.FieldTypeVarChar,
				TypeParams: map[string]string{
					"max_length": "32",
				},
			},
			{
				Name:     "timestamp",
				DataType: entity.FieldTypeInt64,
			},
		},
	}

	err = m.client.CreateCollection(ctx, schema, entity.DefaultShardNumber)
	if err != nil {
		return fmt.Errorf("failed to create collection: %w", err)
	}

	idx, err := entity.NewIndexIvfFlat(entity.L2, 1024)
	if err != nil {
		return fmt.Errorf("failed to create index params: %w", err)
	}
	err = m.client.CreateIndex(ctx, m.collectionName, "embedding", idx, false)
	if err != nil {
		return fmt.Errorf("failed to create index: %w", err)
	}

	err = m.client.LoadCollection(ctx, m.collectionName, false)
	if err != nil {
		return fmt.Errorf("failed to load collection: %w", err)
	}

	logger.Info("Collection created and loaded", zap.String("collection", m.collectionName))

	return nil
}

func (m *Client) Insert(ctx context.Context, vectors []ChunkVector) error {
	if len(vectors) == 0 {
		return nil
	}

	chunkIDs := make([]string, len(vectors))
	embeddings := make([][]float32, len(vectors))
	agentIDs := make([]string, len(vectors))
	documentIDs := make([]string, len(vectors))
	texts := make([]string, len(vectors))
	categories := make([]string, len(vectors))
	timestamps := make([]int64, len(vectors))

	for i, v := range vectors {
		chunkIDs[i] = v.ChunkID
		embeddings[i] = v.Embedding
		agentIDs[i] = v.AgentID
		documentIDs[i] = v.DocumentID
		texts[i] = v.Text
		categories[i] = v.Category
		timestamps[i] = v.Timestamp.Unix()
	}

	_, err := m.client.Insert(
		ctx,
		m.collectionName,
		"",
		entity.NewColumnVarChar("chunk_id", chunkIDs),
		entity.NewColumnFloatVector("embedding", m.vectorDim, embeddings),
		entity.NewColumnVarChar("agent_id", agentIDs),
		entity.NewColumnVarChar("document_id", documentIDs),
		entity.NewColumnVarChar("text", texts),
		entity.NewColumnVarChar("category", categories),
		entity.NewColumnInt64("timestamp", timestamps),
	)
	if err != nil {
		return fmt.Errorf("failed to insert chunk vectors: %w", err)
	}

	err = m.client.Flush(ctx, m.collectionName, false)
	if err != nil {
		return fmt.Errorf("failed to flush: %w", err)
	}

	logger.Info("Chunk vectors inserted", zap.Int("count", len(vectors)))

	return nil
}

// Search returns the agent's nearest chunks for a query embedding.
func (m *Client) Search(ctx context.Context, agentID string, queryEmbedding []float32, topK int) ([]SearchResult, error) {
	expr := fmt.Sprintf(`agent_id == "%s"`, agentID)

	sp, _ := entity.NewIndexIvfFlatSearchParam(16)

	searchResult, err := m.client.Search(
		ctx,
		m.collectionName,
		[]string{},
		expr,
		[]string{"chunk_id", "document_id", "text", "category"},
		[]entity.Vector{entity.FloatVector(queryEmbedding)},
		"embedding",
		entity.L2,
		topK,
		sp,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to search: %w", err)
	}

	results := make([]SearchResult, 0)
	for _, sr := range searchResult {
		for i := 0; i < sr.ResultCount; i++ {
			chunkID, _ := sr.Fields.GetColumn("chunk_id").Get(i)
			documentID, _ := sr.Fields.GetColumn("document_id").Get(i)
			text, _ := sr.Fields.GetColumn("text").Get(i)
			category, _ := sr.Fields.GetColumn("category").Get(i)

			results = append(results, SearchResult{
				ChunkID:    fmt.Sprintf("%v", chunkID),
				DocumentID: fmt.Sprintf("%v", documentID),
				Text:       fmt.Sprintf("%v", text),
				Category:   fmt.Sprintf("%v", category),
				Score:      sr.Scores[i],
			})
		}
	}

	return results, nil
}

// DeleteByChunkIDs removes vector entries for chunks that were deleted
// from the primary store, keeping the index from serving orphans.
func (m *Client) DeleteByChunkIDs(ctx context.Context, chunkIDs []string) error {
	if len(chunkIDs) == 0 {
		return nil
	}

	expr := "chunk_id in ["
	for i, id := range chunkIDs {
		if i > 0 {
			expr += ", "
		}
		expr += fmt.Sprintf("%q", id)
	}
	expr += "]"

	err := m.client.Delete(ctx, m.collectionName, "", expr)
	if err != nil {
		return fmt.Errorf("failed to delete chunk vectors: %w", err)
	}

	logger.Debug("Chunk vectors deleted", zap.Int("count", len(chunkIDs)))

	return nil
}
