package app

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/medcontent/backend/internal/cache/redis"
	"github.com/medcontent/backend/internal/forwarding"
	"github.com/medcontent/backend/internal/ingestion"
	"github.com/medcontent/backend/internal/llm"
	"github.com/medcontent/backend/internal/rag"
	"github.com/medcontent/backend/internal/retrieval"
	"github.com/medcontent/backend/internal/storage/sqlite"
	"github.com/medcontent/backend/internal/usage"
	"github.com/medcontent/backend/internal/vector/zilliz"
	"github.com/medcontent/backend/pkg/config"
	"github.com/medcontent/backend/pkg/logger"
)

// Services holds every long-lived component shared by the API server and the CLI.
type Services struct {
	SQLite    *sqlite.Client
	Zilliz    *zilliz.Client
	Redis     *redis.Client
	Usage     *usage.Tracker
	LLM       *llm.Client
	Embedder  llm.Embedder
	Retrieval *retrieval.Adapter
	Pipeline  *rag.Pipeline
	Ingestion *ingestion.Processor
	Forwarder *forwarding.Client
}

// New connects to the stores and wires the chat pipeline. Redis is optional; when it is
// enabled but unreachable the service runs without the embedding cache.
func New(ctx context.Context, cfg *config.Config) (*Services, error) {
	s := &Services{}

	sqliteClient, err := sqlite.NewClient(cfg.SQLite.Path)
	if err != nil {
		return nil, fmt.Errorf("failed to create sqlite client: %w", err)
	}
	s.SQLite = sqliteClient

	if err := sqliteClient.InitSchema(ctx); err != nil {
		s.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	zillizClient, err := zilliz.NewClient(ctx, cfg.Zilliz.Endpoint, cfg.Zilliz.APIKey, cfg.Zilliz.CollectionName, cfg.Zilliz.VectorDim)
	if err != nil {
		s.Close()
		return nil, fmt.Errorf("failed to create zilliz client: %w", err)
	}
	s.Zilliz = zillizClient

	if err := zillizClient.EnsureCollection(ctx); err != nil {
		s.Close()
		return nil, fmt.Errorf("failed to prepare collection: %w", err)
	}

	s.Usage = usage.NewTracker(sqliteClient, cfg.Usage.Rates)

	s.LLM = llm.NewClient(llm.Config{
		APIKey:         cfg.LLM.APIKey,
		BaseURL:        cfg.LLM.BaseURL,
		Model:          cfg.LLM.Model,
		EmbeddingModel: cfg.LLM.EmbeddingModel,
		Temperature:    llm.Temperature(cfg.LLM.Temperature),
		MaxTokens:      cfg.LLM.MaxTokens,
		Timeout:        time.Duration(cfg.LLM.TimeoutSec) * time.Second,
		MaxAttempts:    cfg.LLM.MaxAttempts,
	}, s.Usage)
	s.Embedder = s.LLM

	if cfg.Redis.Enabled {
		redisClient, err := redis.NewClient(ctx, cfg.Redis.Host, cfg.Redis.Port, cfg.Redis.Password, cfg.Redis.DB,
			time.Duration(cfg.Redis.EmbeddingTTLSec)*time.Second)
		if err != nil {
			logger.Warn("Embedding cache disabled", zap.Error(err))
		} else {
			s.Redis = redisClient
			s.Embedder = llm.NewCachedEmbedder(s.LLM, redisClient, s.LLM.EmbeddingModel())
		}
	}

	s.Retrieval = retrieval.NewAdapter(zillizClient, sqliteClient, retrieval.Config{
		Threshold:        cfg.RAG.SimilarityThreshold,
		CitationBasePath: cfg.RAG.CitationBasePath,
	})
	s.Pipeline = rag.NewPipeline(s.LLM, s.Embedder, s.Retrieval, sqliteClient, rag.Config{TopK: cfg.RAG.TopK})
	s.Ingestion = ingestion.NewProcessor(sqliteClient, zillizClient, s.Embedder)
	s.Forwarder = forwarding.NewClient(cfg.Forwarding.WebhookURL, cfg.Forwarding.WebhookSecret,
		time.Duration(cfg.Forwarding.TimeoutSec)*time.Second)

	return s, nil
}

// Close drains background writes and then releases the store connections.
func (s *Services) Close() {
	if s.Pipeline != nil {
		s.Pipeline.Wait()
	}
	if s.Retrieval != nil {
		s.Retrieval.Wait()
	}
	if s.Usage != nil {
		s.Usage.Wait()
	}

	if s.Redis != nil {
		if err := s.Redis.Close(); err != nil {
			logger.Warn("Failed to close redis", zap.Error(err))
		}
	}
	if s.Zilliz != nil {
		if err := s.Zilliz.Close(); err != nil {
			logger.Warn("Failed to close zilliz", zap.Error(err))
		}
	}
	if s.SQLite != nil {
		if err := s.SQLite.Close(); err != nil {
			logger.Warn("Failed to close sqlite", zap.Error(err))
		}
	}
}
