package zilliz

import (
	"context"
	"fmt"
	"time"

	"github.com/milvus-io/milvus-sdk-go/v2/client"
	"github.com/milvus-io/milvus-sdk-go/v2/entity"
	"go.uber.org/zap"

	"github.com/medcontent/backend/internal/storage/models"
	"github.com/medcontent/backend/pkg/logger"
)

const (
	fieldChunkID    = "chunk_id"
	fieldEmbedding  = "embedding"
	fieldText       = "chunk_text"
	fieldPostSlug   = "post_slug"
	fieldChunkIndex = "chunk_index"
	fieldTimestamp  = "timestamp"
)

type Client struct {
	client         client.Client
	collectionName string
	vectorDim      int
}

type ArticleChunk struct {
	ID         string
	Embedding  []float32
	Text       string
	PostSlug   string
	ChunkIndex int
	Timestamp  time.Time
}

func NewClient(ctx context.Context, endpoint, apiKey, collectionName string, vectorDim int) (*Client, error) {
	c, err := client.NewClient(ctx, client.Config{
		Address: endpoint,
		APIKey:  apiKey,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create milvus client: %w", err)
	}

	logger.Info("Zilliz/Milvus client initialized",
		zap.String("endpoint", endpoint),
		zap.String("collection", collectionName),
		zap.Int("dim", vectorDim),
	)

	return &Client{
		client:         c,
		collectionName: collectionName,
		vectorDim:      vectorDim,
	}, nil
}

func (z *Client) Close() error {
	return z.client.Close()
}

func (z *Client) Ping(ctx context.Context) error {
	if _, err := z.client.HasCollection(ctx, z.collectionName); err != nil {
		return fmt.Errorf("failed to reach milvus: %w", err)
	}
	return nil
}

// EnsureCollection creates, indexes and loads the chunk collection if it does not exist yet.
func (z *Client) EnsureCollection(ctx context.Context) error {
	has, err := z.client.HasCollection(ctx, z.collectionName)
	if err != nil {
		return fmt.Errorf("failed to check collection: %w", err)
	}

	if has {
		if err := z.client.LoadCollection(ctx, z.collectionName, false); err != nil {
			return fmt.Errorf("failed to load collection: %w", err)
		}
		logger.Info("Collection already exists", zap.String("collection", z.collectionName))
		return nil
	}

	schema := &entity.Schema{
		CollectionName: z.collectionName,
		Description:    "Medical article chunk embeddings",
		Fields: []*entity.Field{
			{
				Name:       fieldChunkID,
				DataType:   entity.FieldTypeVarChar,
				PrimaryKey: true,
				AutoID:     false,
				TypeParams: map[string]string{
					"max_length": "64",
				},
			},
			{
				Name:     fieldEmbedding,
				DataType: entity.FieldTypeFloatVector,
				TypeParams: map[string]string{
					"dim": fmt.Sprintf("%d", z.vectorDim),
				},
			},
			{
				Name:     fieldText,
				DataType: entity.FieldTypeVarChar,
				TypeParams: map[string]string{
					"max_length": "4096",
				},
			},
			{
				Name:     fieldPostSlug,
				DataType: entity.FieldTypeVarChar,
				TypeParams: map[string]string{
					"max_length": "256",
				},
			},
			{
				Name:     fieldChunkIndex,
				DataType: entity.FieldTypeInt64,
			},
			{
				Name:     fieldTimestamp,
				DataType: entity.FieldTypeInt64,
			},
		},
	}

	err = z.client.CreateCollection(ctx, schema, entity.DefaultShardNumber)
	if err != nil {
		return fmt.Errorf("failed to create collection: %w", err)
	}

	// Embeddings are unit length, so inner product equals cosine similarity.
	idx, err := entity.NewIndexIvfFlat(entity.IP, 1024)
	if err != nil {
		return fmt.Errorf("failed to build index definition: %w", err)
	}
	err = z.client.CreateIndex(ctx, z.collectionName, fieldEmbedding, idx, false)
	if err != nil {
		return fmt.Errorf("failed to create index: %w", err)
	}

	err = z.client.LoadCollection(ctx, z.collectionName, false)
	if err != nil {
		return fmt.Errorf("failed to load collection: %w", err)
	}

	logger.Info("Collection created and loaded", zap.String("collection", z.collectionName))

	return nil
}

// Upsert writes chunks keyed by chunk id, replacing any vectors already stored under the same ids.
func (z *Client) Upsert(ctx context.Context, chunks []ArticleChunk) error {
	if len(chunks) == 0 {
		return nil
	}

	chunkIDs := make([]string, len(chunks))
	embeddings := make([][]float32, len(chunks))
	texts := make([]string, len(chunks))
	slugs := make([]string, len(chunks))
	indexes := make([]int64, len(chunks))
	timestamps := make([]int64, len(chunks))

	for i, chunk := range chunks {
		if len(chunk.Embedding) != z.vectorDim {
			return fmt.Errorf("chunk %s has dimension %d, collection expects %d", chunk.ID, len(chunk.Embedding), z.vectorDim)
		}
		chunkIDs[i] = chunk.ID
		embeddings[i] = chunk.Embedding
		texts[i] = chunk.Text
		slugs[i] = chunk.PostSlug
		indexes[i] = int64(chunk.ChunkIndex)
		timestamps[i] = chunk.Timestamp.Unix()
	}

	_, err := z.client.Upsert(
		ctx,
		z.collectionName,
		"",
		entity.NewColumnVarChar(fieldChunkID, chunkIDs),
		entity.NewColumnFloatVector(fieldEmbedding, z.vectorDim, embeddings),
		entity.NewColumnVarChar(fieldText, texts),
		entity.NewColumnVarChar(fieldPostSlug, slugs),
		entity.NewColumnInt64(fieldChunkIndex, indexes),
		entity.NewColumnInt64(fieldTimestamp, timestamps),
	)
	if err != nil {
		return fmt.Errorf("failed to upsert chunks: %w", err)
	}

	err = z.client.Flush(ctx, z.collectionName, false)
	if err != nil {
		return fmt.Errorf("failed to flush: %w", err)
	}

	logger.Info("Chunks upserted into vector DB", zap.Int("count", len(chunks)))

	return nil
}

// DeleteStaleChunks removes vectors of slug at chunk_index >= keep, left over when a re-indexed
// article produced fewer chunks than before.
func (z *Client) DeleteStaleChunks(ctx context.Context, slug string, keep int) error {
	if err := z.client.Delete(ctx, z.collectionName, "", staleChunksExpr(slug, keep)); err != nil {
		return fmt.Errorf("failed to delete stale article vectors: %w", err)
	}
	return nil
}

func staleChunksExpr(slug string, keep int) string {
	return fmt.Sprintf("%s == %q && %s >= %d", fieldPostSlug, slug, fieldChunkIndex, keep)
}

// MatchArticleChunks returns up to matchCount chunks whose similarity exceeds threshold, best first.
func (z *Client) MatchArticleChunks(ctx context.Context, embedding []float32, threshold float64, matchCount int) ([]models.ChunkMatch, error) {
	sp, err := entity.NewIndexIvfFlatSearchParam(16)
	if err != nil {
		return nil, fmt.Errorf("failed to build search params: %w", err)
	}

	searchResult, err := z.client.Search(
		ctx,
		z.collectionName,
		[]string{},
		"",
		[]string{fieldChunkID, fieldText, fieldPostSlug},
		[]entity.Vector{entity.FloatVector(embedding)},
		fieldEmbedding,
		entity.IP,
		matchCount,
		sp,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to search: %w", err)
	}

	var matches []models.ChunkMatch
	for _, sr := range searchResult {
		if sr.Err != nil {
			return nil, fmt.Errorf("search returned error: %w", sr.Err)
		}
		matches = append(matches, matchesFrom(sr.ResultCount, sr.Scores, sr.Fields, threshold)...)
	}

	logger.Debug("Vector search completed",
		zap.Int("match_count", matchCount),
		zap.Float64("threshold", threshold),
		zap.Int("results", len(matches)),
	)

	return matches, nil
}

type columnSet interface {
	GetColumn(name string) entity.Column
}

// matchesFrom converts one result page into rows. Missing fields become empty strings so the
// caller can decide what a usable row is.
func matchesFrom(count int, scores []float32, fields columnSet, threshold float64) []models.ChunkMatch {
	ids := fields.GetColumn(fieldChunkID)
	texts := fields.GetColumn(fieldText)
	slugs := fields.GetColumn(fieldPostSlug)

	out := make([]models.ChunkMatch, 0, count)
	for i := 0; i < count && i < len(scores); i++ {
		score := float64(scores[i])
		if score <= threshold {
			continue
		}
		out = append(out, models.ChunkMatch{
			ChunkID:    stringAt(ids, i),
			Text:       stringAt(texts, i),
			PostSlug:   stringAt(slugs, i),
			Similarity: score,
		})
	}
	return out
}

func stringAt(col entity.Column, i int) string {
	if col == nil {
		return ""
	}
	v, err := col.Get(i)
	if err != nil {
		return ""
	}
	s, _ := v.(string)
	return s
}
