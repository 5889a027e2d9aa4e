package forwarding

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"
	"unicode/utf8"

	"go.uber.org/zap"

	"github.com/medcontent/backend/pkg/logger"
)

const defaultTimeout = 30 * time.Second

var ErrNotConfigured = errors.New("forwarding webhook configuration is missing")

type payload struct {
	ExtractedText       string `json:"extracted_text"`
	OriginalURL         string `json:"originalUrl"`
	Timestamp           string `json:"timestamp"`
	ExtractedTextLength int    `json:"extractedTextLength"`
}

// Client hands extracted article text to an external automation webhook.
type Client struct {
	httpClient *http.Client
	webhookURL string
	secret     string
	now        func() time.Time
}

func NewClient(webhookURL, secret string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	return &Client{
		httpClient: &http.Client{Timeout: timeout},
		webhookURL: webhookURL,
		secret:     secret,
		now:        time.Now,
	}
}

func (c *Client) Configured() bool {
	return c.webhookURL != "" && c.secret != ""
}

func (c *Client) Send(ctx context.Context, extractedText, originalURL string) error {
	if !c.Configured() {
		return ErrNotConfigured
	}

	body, err := json.Marshal(payload{
		ExtractedText:       extractedText,
		OriginalURL:         originalURL,
		Timestamp:           c.now().UTC().Format("2006-01-02T15:04:05.000Z07:00"),
		ExtractedTextLength: utf8.RuneCountInString(extractedText),
	})
	if err != nil {
		return fmt.Errorf("failed to marshal payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.webhookURL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("x-webhook-secret", c.secret)

	logger.Info("Forwarding extracted text",
		zap.String("original_url", originalURL),
		zap.Int("text_length", utf8.RuneCountInString(extractedText)),
	)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		logger.Error("Failed to forward to webhook", zap.String("original_url", originalURL), zap.Error(err))
		return fmt.Errorf("failed to forward data: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		logger.Error("Webhook rejected forwarded data",
			zap.Int("status", resp.StatusCode),
			zap.String("original_url", originalURL),
			zap.ByteString("response", snippet),
		)
		return fmt.Errorf("webhook request failed with status %d", resp.StatusCode)
	}

	logger.Info("Forwarded data to webhook", zap.Int("status", resp.StatusCode))
	return nil
}
