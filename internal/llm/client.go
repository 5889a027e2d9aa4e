package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	openai "github.com/sashabaranov/go-openai"
	"go.uber.org/zap"

	"github.com/medcontent/backend/internal/metrics"
	"github.com/medcontent/backend/internal/storage/models"
	"github.com/medcontent/backend/pkg/circuitbreaker"
	"github.com/medcontent/backend/pkg/logger"
	"github.com/medcontent/backend/pkg/retry"
	"github.com/medcontent/backend/pkg/utils"
)

const (
	opResponses  = "responses"
	opEmbeddings = "embeddings"

	DefaultBaseURL        = "https://api.openai.com/v1"
	DefaultModel          = "gpt-4o-mini"
	DefaultEmbeddingModel = "text-embedding-3-small"

	defaultTemperature       = 0.7
	defaultMaxTokens         = 500
	defaultTimeout           = 60 * time.Second
	defaultCallType          = "unknown"
	defaultEmbeddingCallType = "embedding_chunk"
)

type Config struct {
	APIKey         string
	BaseURL        string
	Model          string
	EmbeddingModel string
	// Temperature is nil for the default; a pointer to 0 requests greedy sampling.
	Temperature    *float64
	MaxTokens      int
	Timeout        time.Duration
	MaxAttempts    int
	HTTPClient     *http.Client
}

// Client is the single gateway to the hosted model for completions and embeddings.
// Every successful call reports its token usage to the configured recorder.
type Client struct {
	httpClient     *http.Client
	embeddings     *openai.Client
	apiKey         string
	baseURL        string
	model          string
	embeddingModel string
	temperature    float64
	maxTokens      int
	timeout        time.Duration
	usage          UsageRecorder
	cb             *circuitbreaker.CircuitBreaker
	retryConfig    retry.Config
}

func NewClient(cfg Config, usage UsageRecorder) *Client {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	if cfg.Model == "" {
		cfg.Model = DefaultModel
	}
	if cfg.EmbeddingModel == "" {
		cfg.EmbeddingModel = DefaultEmbeddingModel
	}
	temperature := defaultTemperature
	if cfg.Temperature != nil {
		temperature = *cfg.Temperature
	}
	if cfg.MaxTokens == 0 {
		cfg.MaxTokens = defaultMaxTokens
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = defaultTimeout
	}
	if cfg.MaxAttempts == 0 {
		cfg.MaxAttempts = 3
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = &http.Client{}
	}

	oaConfig := openai.DefaultConfig(cfg.APIKey)
	oaConfig.BaseURL = cfg.BaseURL
	oaConfig.HTTPClient = cfg.HTTPClient

	cb := circuitbreaker.NewCircuitBreaker("llm", circuitbreaker.Config{
		MaxRequests:      5,
		Interval:         time.Minute,
		Timeout:          30 * time.Second,
		FailureThreshold: 5,
		SuccessThreshold: 2,
		IsFailure:        isRetryable,
		Logger:           logger.GetLogger(),
	})

	retryConfig := retry.DefaultConfig()
	retryConfig.MaxAttempts = cfg.MaxAttempts
	retryConfig.InitialDelay = 500 * time.Millisecond
	retryConfig.MaxDelay = 5 * time.Second
	retryConfig.RetryIf = isRetryable
	retryConfig.Logger = logger.GetLogger()

	logger.Info("LLM client initialized",
		zap.String("base_url", cfg.BaseURL),
		zap.String("model", cfg.Model),
		zap.String("embedding_model", cfg.EmbeddingModel),
	)

	return &Client{
		httpClient:     cfg.HTTPClient,
		embeddings:     openai.NewClientWithConfig(oaConfig),
		apiKey:         cfg.APIKey,
		baseURL:        cfg.BaseURL,
		model:          cfg.Model,
		embeddingModel: cfg.EmbeddingModel,
		temperature:    temperature,
		maxTokens:      cfg.MaxTokens,
		timeout:        cfg.Timeout,
		usage:          usage,
		cb:             cb,
		retryConfig:    retryConfig,
	}
}

func (c *Client) Model() string {
	return c.model
}

func (c *Client) EmbeddingModel() string {
	return c.embeddingModel
}

// Complete runs a non-streaming completion. With opts.Stream set it streams without callbacks.
func (c *Client) Complete(ctx context.Context, messages []Message, opts Options) (*Result, error) {
	if opts.Stream {
		return c.CompleteStreaming(ctx, messages, opts, StreamCallbacks{})
	}

	req := c.buildRequest(messages, opts)
	callType := orDefault(opts.CallType, defaultCallType)
	c.logCall(callType, req)

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()
	start := time.Now()

	var result *Result
	var usage tokenUsage

	err := c.guard(ctx, opResponses, func() error {
		return retry.Do(ctx, c.retryConfig, func() error {
			body, err := c.postResponses(ctx, req)
			if err != nil {
				return err
			}

			text, id, u, err := parseResponse(body)
			if err != nil {
				return retry.Permanent(err)
			}

			result = &Result{Text: text, ResponseID: id}
			usage = u
			return nil
		})
	})
	c.observe(callType, start, err)
	if err != nil {
		logger.Warn("LLM completion failed", zap.String("call_type", callType), zap.Error(err))
		return nil, err
	}

	logger.Debug("LLM completion generated",
		zap.String("call_type", callType),
		zap.String("response_id", result.ResponseID),
		zap.Int("input_tokens", usage.InputTokens),
		zap.Int("output_tokens", usage.OutputTokens),
	)

	c.trackCompletion(callType, req, usage, result.Text)
	return result, nil
}

// CompleteStreaming runs a streaming completion, forwarding deltas through cb as they arrive.
// It returns only after the stream has reached a terminal event.
func (c *Client) CompleteStreaming(ctx context.Context, messages []Message, opts Options, cb StreamCallbacks) (*Result, error) {
	opts.Stream = true
	req := c.buildRequest(messages, opts)
	callType := orDefault(opts.CallType, defaultCallType)
	c.logCall(callType, req)

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()
	start := time.Now()

	fail := func(err error) (*Result, error) {
		c.observe(callType, start, err)
		logger.Warn("LLM stream failed", zap.String("call_type", callType), zap.Error(err))
		if cb.OnError != nil {
			cb.OnError(err)
		}
		return nil, err
	}

	var resp *http.Response
	err := c.guard(ctx, opResponses, func() error {
		var err error
		resp, err = c.send(ctx, req)
		return err
	})
	if err != nil {
		return fail(err)
	}
	defer resp.Body.Close()

	if cb.OnStart != nil {
		cb.OnStart()
	}

	out, err := readStream(resp.Body, cb.OnToken)
	if err != nil {
		return fail(err)
	}
	c.observe(callType, start, nil)

	logger.Debug("LLM stream completed",
		zap.String("call_type", callType),
		zap.String("response_id", out.responseID),
		zap.Int("output_chars", len(out.text)),
	)

	c.trackCompletion(callType, req, out.usage, out.text)

	if cb.OnComplete != nil {
		cb.OnComplete(out.text)
	}
	return &Result{Text: out.text, ResponseID: out.responseID}, nil
}

// Embed returns the embedding vector for text. It never returns an empty vector without an error.
func (c *Client) Embed(ctx context.Context, text, callType string) ([]float32, error) {
	if strings.TrimSpace(text) == "" {
		return nil, &InvalidInputError{Field: "text", Reason: "input text for embedding cannot be empty"}
	}
	callType = orDefault(callType, defaultEmbeddingCallType)

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()
	start := time.Now()

	var resp openai.EmbeddingResponse
	err := c.guard(ctx, opEmbeddings, func() error {
		var err error
		resp, err = retry.DoWithResult(ctx, c.retryConfig, func() (openai.EmbeddingResponse, error) {
			r, err := c.embeddings.CreateEmbeddings(ctx, openai.EmbeddingRequest{
				Input: text,
				Model: openai.EmbeddingModel(c.embeddingModel),
			})
			if err != nil {
				return r, fromOpenAIError(opEmbeddings, err)
			}
			return r, nil
		})
		return err
	})
	if err == nil {
		err = validateEmbedding(resp)
	}
	c.observe(callType, start, err)
	if err != nil {
		logger.Warn("Embedding failed", zap.String("call_type", callType), zap.Error(err))
		return nil, err
	}

	model := string(resp.Model)
	if model == "" {
		model = c.embeddingModel
	}
	if c.usage != nil && resp.Usage.PromptTokens > 0 {
		c.usage.Record(models.UsageRecord{
			CallType:   callType,
			TokenType:  models.TokenInput,
			TokenCount: resp.Usage.PromptTokens,
			Model:      model,
			Message:    fmt.Sprintf("Embedding for: %q", utils.Truncate(text, 100)),
		})
	}

	return resp.Data[0].Embedding, nil
}

func validateEmbedding(resp openai.EmbeddingResponse) error {
	if resp.Object != "list" || len(resp.Data) == 0 {
		return upstreamf(opEmbeddings, "unexpected response structure, expected a list of embeddings")
	}
	first := resp.Data[0]
	if first.Object != "embedding" || len(first.Embedding) == 0 {
		return upstreamf(opEmbeddings, "no valid embedding vector found in response")
	}
	return nil
}

func (c *Client) buildRequest(messages []Message, opts Options) responsesRequest {
	temperature := c.temperature
	if opts.Temperature != nil {
		temperature = *opts.Temperature
	}
	maxTokens := opts.MaxTokens
	if maxTokens == 0 {
		maxTokens = c.maxTokens
	}

	return responsesRequest{
		Model:              c.model,
		Input:              formatInput(messages),
		Instructions:       opts.Instructions,
		Temperature:        temperature,
		MaxOutputTokens:    maxTokens,
		Stream:             opts.Stream,
		PreviousResponseID: opts.PreviousResponseID,
	}
}

// send posts to the responses endpoint. Non-2xx statuses are returned as UpstreamError with the
// body already drained; on success the caller owns the response body.
func (c *Client) send(ctx context.Context, req responsesRequest) (*http.Response, error) {
	payload, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/responses", bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)
	httpReq.Header.Set("Content-Type", "application/json")
	if req.Stream {
		httpReq.Header.Set("Accept", "text/event-stream")
	}

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, &UpstreamError{Op: opResponses, Err: err}
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		defer resp.Body.Close()
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
		return nil, &UpstreamError{
			Op:         opResponses,
			StatusCode: resp.StatusCode,
			Message:    upstreamMessage(body, http.StatusText(resp.StatusCode)),
		}
	}

	return resp, nil
}

func (c *Client) postResponses(ctx context.Context, req responsesRequest) ([]byte, error) {
	resp, err := c.send(ctx, req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &UpstreamError{Op: opResponses, Message: "failed to read response body", Err: err}
	}
	return body, nil
}

func (c *Client) guard(ctx context.Context, op string, fn func() error) error {
	err := c.cb.Execute(ctx, fn)
	if errors.Is(err, circuitbreaker.ErrCircuitOpen) || errors.Is(err, circuitbreaker.ErrTooManyRequests) {
		logger.Warn("Circuit breaker rejected call",
			zap.String("breaker", c.cb.Name()),
			zap.String("op", op),
			zap.String("state", c.cb.State().String()),
		)
		return &UpstreamError{Op: op, Message: "upstream temporarily unavailable", Err: err}
	}
	return err
}

func (c *Client) trackCompletion(callType string, req responsesRequest, usage tokenUsage, output string) {
	if c.usage == nil || !usage.Present {
		return
	}

	input := req.Input
	if req.Instructions != "" {
		input += "\nINSTRUCTIONS:\n" + req.Instructions
	}

	c.usage.Record(models.UsageRecord{
		CallType:   callType,
		TokenType:  models.TokenInput,
		TokenCount: usage.InputTokens,
		Model:      c.model,
		Message:    input,
	})
	c.usage.Record(models.UsageRecord{
		CallType:   callType,
		TokenType:  models.TokenOutput,
		TokenCount: usage.OutputTokens,
		Model:      c.model,
		Message:    output,
	})
}

func (c *Client) logCall(callType string, req responsesRequest) {
	logger.Debug("LLM call",
		zap.String("call_type", callType),
		zap.String("model", req.Model),
		zap.Bool("stream", req.Stream),
		zap.Float64("temperature", req.Temperature),
		zap.Int("max_output_tokens", req.MaxOutputTokens),
		zap.Int("input_chars", len(req.Input)),
		zap.Bool("has_instructions", req.Instructions != ""),
	)
}

func (c *Client) observe(callType string, start time.Time, err error) {
	status := "ok"
	if err != nil {
		status = "error"
	}
	metrics.LLMRequestDuration.WithLabelValues(callType, status).Observe(time.Since(start).Seconds())
}
