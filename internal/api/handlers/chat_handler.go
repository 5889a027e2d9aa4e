package handlers

import (
	"context"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/medcontent/backend/internal/middleware/validation"
	"github.com/medcontent/backend/internal/rag"
	"github.com/medcontent/backend/pkg/logger"
)

type ChatService interface {
	GetChatResponse(ctx context.Context, req rag.Request) (*rag.Response, error)
}

type ChatHandler struct {
	chat       ChatService
	validation validation.Config
}

func NewChatHandler(chat ChatService, cfg validation.Config) *ChatHandler {
	return &ChatHandler{
		chat:       chat,
		validation: cfg,
	}
}

// HandleChat answers a single message. The body is normally validated by validation.Chat; when
// the handler is mounted without it the body is parsed and checked here.
func (h *ChatHandler) HandleChat(c *fiber.Ctx) error {
	req := validation.ChatRequestFrom(c)
	if req == nil {
		req = &validation.ChatRequest{}
		if err := c.BodyParser(req); err != nil {
			return respondError(c, fiber.StatusBadRequest, "Invalid request body")
		}
		if err := validation.CheckChat(req, h.validation); err != nil {
			return respondError(c, fiber.StatusBadRequest, err.Error())
		}
	}

	resp, err := h.chat.GetChatResponse(c.UserContext(), rag.Request{
		Message:             req.Message,
		ConversationHistory: req.ConversationHistory,
		ConversationID:      req.ConversationID,
	})
	if err != nil {
		status := statusFor(err)
		logger.Error("Failed to process chat message", zap.Int("status", status), zap.Error(err))
		if status == fiber.StatusBadRequest {
			return respondError(c, status, err.Error())
		}
		return respondError(c, status, "Failed to generate response")
	}

	return c.JSON(resp)
}
