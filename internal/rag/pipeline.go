package rag

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/medcontent/backend/internal/llm"
	"github.com/medcontent/backend/internal/metrics"
	"github.com/medcontent/backend/internal/retrieval"
	"github.com/medcontent/backend/internal/storage/models"
	"github.com/medcontent/backend/pkg/logger"
)

const (
	CallTypeOptimize       = "query_optimization"
	CallTypeQueryEmbedding = "rag_query_embedding"
	CallTypeAnswer         = "technical_response"
	CallTypeSimplify       = "response_simplification"

	stageOptimize = "optimize"
	stageRetrieve = "retrieve"
	stageAnswer   = "answer"
	stageSimplify = "simplify"
)

type Request struct {
	Message             string
	ConversationHistory []llm.Message
	// ConversationID is echoed back when set; otherwise a new one is generated.
	ConversationID string
	Callbacks      *StreamCallbacks
}

// Meta accompanies the final streamed text.
type Meta struct {
	Citations   []retrieval.Citation    `json:"citations"`
	ContextUsed []retrieval.ChatContext `json:"contextUsed"`
}

// StreamCallbacks receives the simplified answer as it is generated. Exactly one of OnComplete
// and OnError is called per request, including when a stage before simplification fails.
type StreamCallbacks struct {
	OnStart    func()
	OnToken    func(delta string)
	OnComplete func(fullText string, meta Meta)
	OnError    func(err error)
}

type Response struct {
	Response          string                  `json:"response"`
	ContextUsed       []retrieval.ChatContext `json:"contextUsed"`
	ConversationID    string                  `json:"conversationId"`
	OptimizedQuery    string                  `json:"optimizedQuery"`
	TechnicalResponse string                  `json:"technicalResponse"`
	Citations         []retrieval.Citation    `json:"citations"`
}

type Retriever interface {
	MatchChunks(ctx context.Context, embedding []float32, topK int) []retrieval.ChatContext
	DedupeCitations(contexts []retrieval.ChatContext) []retrieval.Citation
	Link(source string) string
}

// ConversationLog persists finished exchanges for auditing.
type ConversationLog interface {
	InsertChatRecord(ctx context.Context, record *models.ChatRecord, sources []models.ChatSource) error
}

type Config struct {
	TopK int
}

// Pipeline answers a chat message in four sequential stages: optimize the query, retrieve context,
// generate a technical answer and simplify it for the reader.
type Pipeline struct {
	completer llm.Completer
	embedder  llm.Embedder
	retriever Retriever
	log       ConversationLog
	topK      int
	now       func() time.Time
	wg        sync.WaitGroup
}

// NewPipeline wires the collaborators. log may be nil.
func NewPipeline(completer llm.Completer, embedder llm.Embedder, retriever Retriever, log ConversationLog, cfg Config) *Pipeline {
	if cfg.TopK <= 0 {
		cfg.TopK = retrieval.DefaultTopK
	}
	return &Pipeline{
		completer: completer,
		embedder:  embedder,
		retriever: retriever,
		log:       log,
		topK:      cfg.TopK,
		now:       time.Now,
	}
}

// GetChatResponse runs the full pipeline. Gateway errors from the optimize, answer and simplify
// stages are returned unchanged; retrieval problems only leave the context empty.
func (p *Pipeline) GetChatResponse(ctx context.Context, req Request) (*Response, error) {
	start := p.now()
	streaming := req.Callbacks != nil
	terminal := &terminalGuard{}

	resp, err := p.run(ctx, req, terminal)
	if err != nil {
		metrics.ChatRequests.WithLabelValues("error", strconv.FormatBool(streaming)).Inc()
		if streaming && req.Callbacks.OnError != nil && terminal.claim() {
			req.Callbacks.OnError(err)
		}
		logger.Warn("Chat pipeline failed", zap.Bool("streaming", streaming), zap.Error(err))
		return nil, err
	}

	latency := p.now().Sub(start)
	metrics.ChatRequests.WithLabelValues("ok", strconv.FormatBool(streaming)).Inc()
	logger.Info("Chat pipeline completed",
		zap.String("conversation_id", resp.ConversationID),
		zap.Int("context_count", len(resp.ContextUsed)),
		zap.Int("citations", len(resp.Citations)),
		zap.Bool("streaming", streaming),
		zap.Duration("latency", latency),
	)

	p.logExchange(req, resp, streaming, latency)
	return resp, nil
}

func (p *Pipeline) run(ctx context.Context, req Request, terminal *terminalGuard) (*Response, error) {
	if strings.TrimSpace(req.Message) == "" {
		return nil, &llm.InvalidInputError{Field: "message", Reason: "message cannot be empty"}
	}

	optimizedQuery, err := p.optimize(ctx, req.Message)
	if err != nil {
		return nil, err
	}

	contexts := p.retrieve(ctx, optimizedQuery)

	technical, err := p.answer(ctx, req, optimizedQuery, contexts)
	if err != nil {
		return nil, err
	}

	citations := p.retriever.DedupeCitations(contexts)

	simplified, err := p.simplify(ctx, req, optimizedQuery, technical, Meta{Citations: citations, ContextUsed: contexts}, terminal)
	if err != nil {
		return nil, err
	}

	conversationID := req.ConversationID
	if conversationID == "" {
		conversationID = p.newConversationID()
	}

	return &Response{
		Response:          simplified,
		ContextUsed:       contexts,
		ConversationID:    conversationID,
		OptimizedQuery:    optimizedQuery,
		TechnicalResponse: technical,
		Citations:         citations,
	}, nil
}

func (p *Pipeline) optimize(ctx context.Context, message string) (string, error) {
	defer observeStage(stageOptimize, p.now())

	res, err := p.completer.Complete(ctx, []llm.Message{llm.UserMessage(message)}, llm.Options{
		Instructions: queryOptimizerPrompt,
		CallType:     CallTypeOptimize,
		Temperature:  llm.Temperature(0.3),
		MaxTokens:    500,
	})
	if err != nil {
		return "", err
	}

	optimized := strings.TrimSpace(res.Text)
	logger.Debug("Query optimized", zap.String("message", message), zap.String("optimized", optimized))
	return optimized, nil
}

// retrieve never fails. An embedding error leaves the context empty like any other retrieval problem.
func (p *Pipeline) retrieve(ctx context.Context, optimizedQuery string) []retrieval.ChatContext {
	defer observeStage(stageRetrieve, p.now())

	embedding, err := p.embedder.Embed(ctx, optimizedQuery, CallTypeQueryEmbedding)
	if err != nil {
		logger.Warn("Query embedding failed, continuing without context", zap.Error(err))
		return []retrieval.ChatContext{}
	}
	if len(embedding) == 0 {
		logger.Warn("Empty query embedding, continuing without context")
		return []retrieval.ChatContext{}
	}

	contexts := p.retriever.MatchChunks(ctx, embedding, p.topK)
	if contexts == nil {
		contexts = []retrieval.ChatContext{}
	}
	return contexts
}

func (p *Pipeline) answer(ctx context.Context, req Request, optimizedQuery string, contexts []retrieval.ChatContext) (string, error) {
	defer observeStage(stageAnswer, p.now())

	contents := make([]string, 0, len(contexts))
	for _, c := range contexts {
		contents = append(contents, c.Content)
	}

	instructions, err := renderTechnicalPrompt(joinContext(contents), req.Message, optimizedQuery)
	if err != nil {
		return "", err
	}

	messages := make([]llm.Message, 0, len(req.ConversationHistory)+1)
	messages = append(messages, req.ConversationHistory...)
	messages = append(messages, llm.UserMessage(req.Message))

	res, err := p.completer.Complete(ctx, messages, llm.Options{
		Instructions: instructions,
		CallType:     CallTypeAnswer,
	})
	if err != nil {
		return "", err
	}
	return res.Text, nil
}

func (p *Pipeline) simplify(ctx context.Context, req Request, optimizedQuery, technical string, meta Meta, terminal *terminalGuard) (string, error) {
	defer observeStage(stageSimplify, p.now())

	instructions, err := renderSimplificationPrompt(req.ConversationHistory, req.Message, optimizedQuery, technical)
	if err != nil {
		return "", err
	}

	// The instructions carry the whole exchange; the transcript needs at least one turn.
	messages := req.ConversationHistory
	if len(messages) == 0 {
		messages = []llm.Message{llm.UserMessage(req.Message)}
	}

	opts := llm.Options{
		Instructions: instructions,
		CallType:     CallTypeSimplify,
		Temperature:  llm.Temperature(0.3),
		MaxTokens:    600,
	}

	if req.Callbacks == nil {
		res, err := p.completer.Complete(ctx, messages, opts)
		if err != nil {
			return "", err
		}
		return res.Text, nil
	}

	cb := req.Callbacks
	opts.Stream = true
	res, err := p.completer.CompleteStreaming(ctx, messages, opts, llm.StreamCallbacks{
		OnStart: cb.OnStart,
		OnToken: cb.OnToken,
		OnComplete: func(full string) {
			if terminal.claim() && cb.OnComplete != nil {
				cb.OnComplete(full, meta)
			}
		},
		OnError: func(err error) {
			if terminal.claim() && cb.OnError != nil {
				cb.OnError(err)
			}
		},
	})
	if err != nil {
		return "", err
	}
	return res.Text, nil
}

// newConversationID is unique enough to correlate a session, nothing more.
func (p *Pipeline) newConversationID() string {
	suffix := strings.ReplaceAll(uuid.NewString(), "-", "")[:9]
	return fmt.Sprintf("conv_%d_%s", p.now().UnixMilli(), suffix)
}

func (p *Pipeline) logExchange(req Request, resp *Response, streaming bool, latency time.Duration) {
	if p.log == nil {
		return
	}

	labels := make(map[string]string, len(resp.Citations))
	for _, c := range resp.Citations {
		labels[c.Link] = c.Text
	}

	sources := make([]models.ChatSource, 0, len(resp.ContextUsed))
	for _, c := range resp.ContextUsed {
		link := p.retriever.Link(c.Source)
		sources = append(sources, models.ChatSource{
			ConversationID: resp.ConversationID,
			ChunkID:        c.ID,
			PostSlug:       c.Source,
			Link:           link,
			Label:          labels[link],
			Similarity:     c.RelevanceScore,
		})
	}

	record := &models.ChatRecord{
		ConversationID:    resp.ConversationID,
		Message:           req.Message,
		OptimizedQuery:    resp.OptimizedQuery,
		TechnicalResponse: resp.TechnicalResponse,
		Response:          resp.Response,
		ContextCount:      len(resp.ContextUsed),
		Streaming:         streaming,
		LatencyMS:         int(latency.Milliseconds()),
		CreatedAt:         p.now(),
	}

	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		defer func() {
			if r := recover(); r != nil {
				metrics.DetachedTaskFailures.WithLabelValues("chat_log").Inc()
				logger.Error("Chat log panicked", zap.Any("panic", r))
			}
		}()

		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		if err := p.log.InsertChatRecord(ctx, record, sources); err != nil {
			metrics.DetachedTaskFailures.WithLabelValues("chat_log").Inc()
			logger.Warn("Failed to log chat exchange", zap.String("conversation_id", record.ConversationID), zap.Error(err))
		}
	}()
}

// Wait blocks until pending chat log writes finish.
func (p *Pipeline) Wait() {
	p.wg.Wait()
}

func observeStage(stage string, start time.Time) {
	metrics.StageDuration.WithLabelValues(stage).Observe(time.Since(start).Seconds())
}

type terminalGuard struct {
	once sync.Once
}

// claim reports true to the first caller only.
func (g *terminalGuard) claim() bool {
	claimed := false
	g.once.Do(func() { claimed = true })
	return claimed
}
