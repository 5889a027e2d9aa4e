package handlers

import (
	"errors"

	"github.com/gofiber/fiber/v2"

	"github.com/medcontent/backend/internal/llm"
)

// statusFor maps pipeline and gateway errors onto HTTP statuses.
func statusFor(err error) int {
	var invalid *llm.InvalidInputError
	if errors.As(err, &invalid) {
		return fiber.StatusBadRequest
	}
	var upstream *llm.UpstreamError
	if errors.As(err, &upstream) {
		return fiber.StatusBadGateway
	}
	return fiber.StatusInternalServerError
}

func respondError(c *fiber.Ctx, status int, message string) error {
	return c.Status(status).JSON(fiber.Map{
		"error": message,
	})
}
