package retrieval

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/medcontent/backend/internal/metrics"
	"github.com/medcontent/backend/internal/storage/models"
	"github.com/medcontent/backend/pkg/logger"
)

const (
	DefaultTopK             = 3
	DefaultCitationBasePath = "/blog/article/"
)

// ChatContext is a retrieved chunk handed to answer generation.
type ChatContext struct {
	ID             string  `json:"id"`
	Content        string  `json:"content"`
	Source         string  `json:"source"`
	RelevanceScore float64 `json:"relevanceScore"`
}

type Citation struct {
	Text string `json:"text"`
	Link string `json:"link"`
}

type Searcher interface {
	MatchArticleChunks(ctx context.Context, embedding []float32, threshold float64, matchCount int) ([]models.ChunkMatch, error)
}

type ChunkCounter interface {
	IncrementChunkRetrievedCount(ctx context.Context, chunkID string) error
}

type Config struct {
	// Threshold is the minimum similarity; anything strictly above it qualifies.
	Threshold        float64
	CitationBasePath string
}

// Adapter is a soft dependency: lookup failures degrade to an empty result instead of an error.
type Adapter struct {
	searcher       Searcher
	counter        ChunkCounter
	threshold      float64
	basePath       string
	counterTimeout time.Duration
	wg             sync.WaitGroup
}

func NewAdapter(searcher Searcher, counter ChunkCounter, cfg Config) *Adapter {
	if cfg.CitationBasePath == "" {
		cfg.CitationBasePath = DefaultCitationBasePath
	}
	return &Adapter{
		searcher:       searcher,
		counter:        counter,
		threshold:      cfg.Threshold,
		basePath:       cfg.CitationBasePath,
		counterTimeout: 5 * time.Second,
	}
}

// MatchChunks returns at most topK usable chunks for embedding. It never fails.
func (a *Adapter) MatchChunks(ctx context.Context, embedding []float32, topK int) []ChatContext {
	if topK <= 0 {
		topK = DefaultTopK
	}

	rows, err := a.search(ctx, embedding, topK)
	if err != nil {
		logger.Warn("Vector search failed, continuing without context", zap.Int("top_k", topK), zap.Error(err))
		metrics.RetrievedChunks.Observe(0)
		return []ChatContext{}
	}

	contexts := make([]ChatContext, 0, len(rows))
	for _, row := range rows {
		if len(contexts) == topK {
			break
		}
		if strings.TrimSpace(row.ChunkID) == "" || strings.TrimSpace(row.Text) == "" || strings.TrimSpace(row.PostSlug) == "" {
			logger.Debug("Dropping malformed search row", zap.String("chunk_id", row.ChunkID))
			continue
		}
		contexts = append(contexts, ChatContext{
			ID:             row.ChunkID,
			Content:        row.Text,
			Source:         row.PostSlug,
			RelevanceScore: row.Similarity,
		})
	}

	metrics.RetrievedChunks.Observe(float64(len(contexts)))
	for _, c := range contexts {
		a.countRetrieval(c.ID)
	}

	return contexts
}

func (a *Adapter) search(ctx context.Context, embedding []float32, topK int) (rows []models.ChunkMatch, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("search panicked: %v", r)
		}
	}()
	return a.searcher.MatchArticleChunks(ctx, embedding, a.threshold, topK)
}

// countRetrieval bumps the analytics counter for a chunk in the background. Errors are dropped.
func (a *Adapter) countRetrieval(chunkID string) {
	if a.counter == nil {
		return
	}

	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		defer func() {
			if r := recover(); r != nil {
				metrics.DetachedTaskFailures.WithLabelValues("chunk_counter").Inc()
			}
		}()

		ctx, cancel := context.WithTimeout(context.Background(), a.counterTimeout)
		defer cancel()

		if err := a.counter.IncrementChunkRetrievedCount(ctx, chunkID); err != nil {
			metrics.DetachedTaskFailures.WithLabelValues("chunk_counter").Inc()
			logger.Debug("Chunk counter increment failed", zap.String("chunk_id", chunkID), zap.Error(err))
		}
	}()
}

// Wait blocks until pending counter increments finish.
func (a *Adapter) Wait() {
	a.wg.Wait()
}

func (a *Adapter) Link(source string) string {
	return a.basePath + source
}

// DedupeCitations labels each distinct source once, in first-seen order.
func (a *Adapter) DedupeCitations(contexts []ChatContext) []Citation {
	citations := make([]Citation, 0, len(contexts))
	seen := make(map[string]struct{}, len(contexts))

	for _, c := range contexts {
		link := a.Link(c.Source)
		if _, ok := seen[link]; ok {
			continue
		}
		seen[link] = struct{}{}
		citations = append(citations, Citation{
			Text: fmt.Sprintf("[%d]", len(citations)+1),
			Link: link,
		})
	}

	return citations
}
