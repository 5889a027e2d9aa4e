package validation

import (
	"fmt"
	"net/url"
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/medcontent/backend/internal/llm"
)

// ChatBodyKey is the Locals key holding the validated *ChatRequest.
const ChatBodyKey = "chat_request"

var xssPattern = regexp.MustCompile(`(?i)(<script|<iframe|javascript:|onerror=|onload=|onclick=)`)

type ChatRequest struct {
	Message             string        `json:"message"`
	ConversationHistory []llm.Message `json:"conversation_history"`
	ConversationID      string        `json:"conversationId,omitempty"`
}

type Config struct {
	MaxMessageLength    int
	MaxHistoryLength    int
	AllowedContentTypes []string
	Logger              *zap.Logger
}

func (cfg *Config) setDefaults() {
	if cfg.MaxMessageLength <= 0 {
		cfg.MaxMessageLength = 4000
	}
	if cfg.MaxHistoryLength <= 0 {
		cfg.MaxHistoryLength = 50
	}
	if len(cfg.AllowedContentTypes) == 0 {
		cfg.AllowedContentTypes = []string{"application/json"}
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
}

// ContentType rejects POST and PUT bodies that are not one of the allowed media types.
func ContentType(cfg Config) fiber.Handler {
	cfg.setDefaults()

	return func(c *fiber.Ctx) error {
		if c.Method() != fiber.MethodPost && c.Method() != fiber.MethodPut {
			return c.Next()
		}
		contentType := c.Get(fiber.HeaderContentType)
		if contentType == "" {
			return c.Next()
		}
		for _, allowed := range cfg.AllowedContentTypes {
			if strings.Contains(contentType, allowed) {
				return c.Next()
			}
		}
		return c.Status(fiber.StatusUnsupportedMediaType).JSON(fiber.Map{
			"error": "Unsupported content type",
		})
	}
}

// Chat parses and validates a chat body and stores it in Locals under ChatBodyKey.
func Chat(cfg Config) fiber.Handler {
	cfg.setDefaults()

	return func(c *fiber.Ctx) error {
		var req ChatRequest
		if err := c.BodyParser(&req); err != nil {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
				"error": "Invalid JSON format",
			})
		}

		if err := CheckChat(&req, cfg); err != nil {
			if containsXSS(req.Message) {
				cfg.Logger.Warn("Potential XSS attempt", zap.String("ip", c.IP()))
			}
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
				"error": err.Error(),
			})
		}

		c.Locals(ChatBodyKey, &req)
		return c.Next()
	}
}

// CheckChat validates and sanitizes req in place. It is shared with the websocket handler,
// which does not go through the HTTP middleware chain.
func CheckChat(req *ChatRequest, cfg Config) error {
	cfg.setDefaults()

	req.Message = sanitizeString(req.Message)
	if req.Message == "" {
		return fmt.Errorf("message is required and must be a string")
	}
	if utf8.RuneCountInString(req.Message) > cfg.MaxMessageLength {
		return fmt.Errorf("message exceeds maximum length of %d characters", cfg.MaxMessageLength)
	}
	if containsXSS(req.Message) {
		return fmt.Errorf("invalid message content")
	}

	if len(req.ConversationHistory) > cfg.MaxHistoryLength {
		return fmt.Errorf("conversation_history exceeds maximum of %d messages", cfg.MaxHistoryLength)
	}
	for i, m := range req.ConversationHistory {
		if !m.Role.Valid() {
			return fmt.Errorf("conversation_history[%d]: role must be user, assistant or system", i)
		}
		req.ConversationHistory[i].Content = sanitizeString(m.Content)
	}

	return nil
}

// ChatRequestFrom returns the request stored by Chat, or nil.
func ChatRequestFrom(c *fiber.Ctx) *ChatRequest {
	req, _ := c.Locals(ChatBodyKey).(*ChatRequest)
	return req
}

func containsXSS(input string) bool {
	return xssPattern.MatchString(input)
}

func sanitizeString(input string) string {
	input = strings.TrimSpace(input)
	input = strings.ReplaceAll(input, "\x00", "")
	return input
}

func IsValidURL(urlStr string) bool {
	u, err := url.Parse(urlStr)
	if err != nil {
		return false
	}

	if u.Scheme != "http" && u.Scheme != "https" {
		return false
	}

	if u.Host == "" {
		return false
	}

	return true
}
