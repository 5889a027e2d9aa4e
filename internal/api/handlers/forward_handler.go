package handlers

import (
	"context"
	"errors"
	"strings"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/medcontent/backend/internal/forwarding"
	"github.com/medcontent/backend/internal/middleware/validation"
	"github.com/medcontent/backend/pkg/logger"
)

type Forwarder interface {
	Send(ctx context.Context, extractedText, originalURL string) error
}

type ForwardHandler struct {
	forwarder Forwarder
}

func NewForwardHandler(forwarder Forwarder) *ForwardHandler {
	return &ForwardHandler{forwarder: forwarder}
}

func (h *ForwardHandler) Forward(c *fiber.Ctx) error {
	var req struct {
		ExtractedText string `json:"extracted_text"`
		OriginalURL   string `json:"originalUrl"`
	}

	if err := c.BodyParser(&req); err != nil {
		return respondError(c, fiber.StatusBadRequest, "Invalid request body")
	}

	if strings.TrimSpace(req.ExtractedText) == "" {
		return respondError(c, fiber.StatusBadRequest, "extracted_text is required")
	}
	if !validation.IsValidURL(req.OriginalURL) {
		return respondError(c, fiber.StatusBadRequest, "originalUrl must be an http(s) URL")
	}

	if err := h.forwarder.Send(c.UserContext(), req.ExtractedText, req.OriginalURL); err != nil {
		if errors.Is(err, forwarding.ErrNotConfigured) {
			return respondError(c, fiber.StatusServiceUnavailable, "Forwarding is not configured")
		}
		logger.Error("Failed to forward extracted text", zap.Error(err))
		return respondError(c, fiber.StatusBadGateway, "Failed to forward data")
	}

	return c.JSON(fiber.Map{
		"success": true,
		"message": "Data forwarded successfully",
	})
}
