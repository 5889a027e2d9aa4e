package llm

import (
	"context"
	"strings"

	"go.uber.org/zap"

	"github.com/medcontent/backend/internal/metrics"
	"github.com/medcontent/backend/pkg/logger"
	"github.com/medcontent/backend/pkg/utils"
)

type EmbeddingCache interface {
	GetEmbedding(ctx context.Context, key string) ([]float32, bool, error)
	SetEmbedding(ctx context.Context, key string, embedding []float32) error
}

// CachedEmbedder serves repeated embedding requests from a cache. Cache failures degrade
// to a direct call and are never returned to the caller.
type CachedEmbedder struct {
	next  Embedder
	cache EmbeddingCache
	model string
}

// NewCachedEmbedder keys entries by model, which must be the model next actually embeds with.
func NewCachedEmbedder(next Embedder, cache EmbeddingCache, model string) *CachedEmbedder {
	if model == "" {
		model = DefaultEmbeddingModel
	}
	return &CachedEmbedder{next: next, cache: cache, model: model}
}

func (e *CachedEmbedder) Embed(ctx context.Context, text, callType string) ([]float32, error) {
	if strings.TrimSpace(text) == "" {
		return nil, &InvalidInputError{Field: "text", Reason: "input text for embedding cannot be empty"}
	}

	key := utils.HashKey(e.model, text)

	if vec, ok, err := e.cache.GetEmbedding(ctx, key); err != nil {
		logger.Warn("Embedding cache read failed", zap.Error(err))
	} else if ok && len(vec) > 0 {
		metrics.CacheHits.WithLabelValues("embedding").Inc()
		return vec, nil
	}
	metrics.CacheMisses.WithLabelValues("embedding").Inc()

	vec, err := e.next.Embed(ctx, text, callType)
	if err != nil {
		return nil, err
	}

	if err := e.cache.SetEmbedding(ctx, key, vec); err != nil {
		logger.Warn("Embedding cache write failed", zap.Error(err))
	}
	return vec, nil
}
