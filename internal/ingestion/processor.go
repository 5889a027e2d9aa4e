package ingestion

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/medcontent/backend/internal/llm"
	"github.com/medcontent/backend/internal/metrics"
	"github.com/medcontent/backend/internal/storage/models"
	"github.com/medcontent/backend/internal/vector/zilliz"
	"github.com/medcontent/backend/pkg/logger"
)

const (
	CallTypeChunkEmbedding = "embedding_chunk"

	defaultChunkSize = 1000
	excerptLength    = 200
)

var chunkNamespace = uuid.NewSHA1(uuid.NameSpaceURL, []byte("medcontent/article-chunk"))

type ChunkStore interface {
	UpsertArticle(ctx context.Context, article *models.Article) error
	ReplaceChunks(ctx context.Context, slug string, chunks []models.ArticleChunk) error
}

type VectorIndex interface {
	Upsert(ctx context.Context, chunks []zilliz.ArticleChunk) error
	DeleteStaleChunks(ctx context.Context, slug string, keep int) error
}

type Article struct {
	Slug    string `json:"slug"`
	Title   string `json:"title"`
	Content string `json:"content"`
}

type Result struct {
	Slug    string `json:"slug"`
	Chunks  int    `json:"chunks"`
	Excerpt string `json:"excerpt"`
}

type Processor struct {
	store     ChunkStore
	index     VectorIndex
	embedder  llm.Embedder
	chunkSize int
	now       func() time.Time
}

func NewProcessor(store ChunkStore, index VectorIndex, embedder llm.Embedder) *Processor {
	return &Processor{
		store:     store,
		index:     index,
		embedder:  embedder,
		chunkSize: defaultChunkSize,
		now:       time.Now,
	}
}

// ProcessArticle chunks, embeds and indexes an article, replacing any earlier version of it.
// Every chunk is embedded before anything is written, and the vector upsert runs before the
// SQLite rows are touched, so a failed embedding or upsert leaves the previous version fully
// intact. A failure after the upsert leaves the new vectors in place with stale SQLite rows (or
// stale trailing vectors); re-running the same article repairs both since chunk ids are stable.
func (p *Processor) ProcessArticle(ctx context.Context, article Article) (*Result, error) {
	if err := validate(article); err != nil {
		return nil, err
	}
	logger.Info("Processing article", zap.String("slug", article.Slug))

	var text, excerpt string
	if looksLikeHTML(article.Content) {
		text = cleanHTML(article.Content)
		excerpt = Excerpt(text, excerptLength)
	} else {
		text = stripMarkdown(article.Content)
		excerpt = Excerpt(article.Content, excerptLength)
	}
	if text == "" {
		return nil, fmt.Errorf("no content extracted from article %s", article.Slug)
	}

	chunks := chunkSentences(sentences(text), p.chunkSize)
	logger.Info("Article chunked", zap.String("slug", article.Slug), zap.Int("chunks", len(chunks)))

	now := p.now()
	rows := make([]models.ArticleChunk, 0, len(chunks))
	vectors := make([]zilliz.ArticleChunk, 0, len(chunks))

	for i, chunkText := range chunks {
		embedding, err := p.embedder.Embed(ctx, chunkText, CallTypeChunkEmbedding)
		if err != nil {
			return nil, fmt.Errorf("failed to embed chunk %d: %w", i, err)
		}

		id := chunkID(article.Slug, i)
		rows = append(rows, models.ArticleChunk{
			ID:         id,
			PostSlug:   article.Slug,
			ChunkIndex: i,
			Text:       chunkText,
			CreatedAt:  now,
		})
		vectors = append(vectors, zilliz.ArticleChunk{
			ID:         id,
			Embedding:  embedding,
			Text:       chunkText,
			PostSlug:   article.Slug,
			ChunkIndex: i,
			Timestamp:  now,
		})
	}

	if err := p.index.Upsert(ctx, vectors); err != nil {
		return nil, fmt.Errorf("failed to upsert into vector DB: %w", err)
	}
	if err := p.index.DeleteStaleChunks(ctx, article.Slug, len(vectors)); err != nil {
		return nil, fmt.Errorf("failed to clear stale vectors: %w", err)
	}

	err := p.store.UpsertArticle(ctx, &models.Article{
		Slug:      article.Slug,
		Title:     article.Title,
		Excerpt:   excerpt,
		CreatedAt: now,
		UpdatedAt: now,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to store article: %w", err)
	}

	if err := p.store.ReplaceChunks(ctx, article.Slug, rows); err != nil {
		return nil, fmt.Errorf("failed to store chunks: %w", err)
	}

	metrics.ArticlesIndexed.Inc()
	logger.Info("Article indexed",
		zap.String("slug", article.Slug),
		zap.Int("chunks", len(rows)),
	)

	return &Result{Slug: article.Slug, Chunks: len(rows), Excerpt: excerpt}, nil
}

func validate(a Article) error {
	switch {
	case strings.TrimSpace(a.Slug) == "":
		return &llm.InvalidInputError{Field: "slug", Reason: "slug is required"}
	case strings.ContainsAny(a.Slug, " /\"'"):
		return &llm.InvalidInputError{Field: "slug", Reason: "slug must not contain spaces, slashes or quotes"}
	case strings.TrimSpace(a.Title) == "":
		return &llm.InvalidInputError{Field: "title", Reason: "title is required"}
	case strings.TrimSpace(a.Content) == "":
		return &llm.InvalidInputError{Field: "content", Reason: "content is required"}
	}
	return nil
}

// chunkID is stable for a slug and position so re-indexing overwrites rather than duplicates.
func chunkID(slug string, index int) string {
	return uuid.NewSHA1(chunkNamespace, []byte(fmt.Sprintf("%s#%d", slug, index))).String()
}

// IsInvalidInput reports whether err was caused by a bad article rather than a failing dependency.
func IsInvalidInput(err error) bool {
	var invalid *llm.InvalidInputError
	return errors.As(err, &invalid)
}
