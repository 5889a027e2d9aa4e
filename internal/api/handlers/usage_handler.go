package handlers

import (
	"context"
	"time"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/medcontent/backend/internal/usage"
	"github.com/medcontent/backend/pkg/logger"
)

type UsageReporter interface {
	GetUsageStats(ctx context.Context, timeRange string) (*usage.Stats, error)
}

type UsageHandler struct {
	usage UsageReporter
}

func NewUsageHandler(reporter UsageReporter) *UsageHandler {
	return &UsageHandler{usage: reporter}
}

// GetUsage returns per-model token totals and cost. range is one of today, week, month or empty
// for all time.
func (h *UsageHandler) GetUsage(c *fiber.Ctx) error {
	timeRange := c.Query("range")
	if _, err := usage.Since(timeRange, time.Now()); err != nil {
		return respondError(c, fiber.StatusBadRequest, "range must be one of today, week, month")
	}

	stats, err := h.usage.GetUsageStats(c.UserContext(), timeRange)
	if err != nil {
		logger.Error("Failed to load usage stats", zap.String("range", timeRange), zap.Error(err))
		return respondError(c, fiber.StatusInternalServerError, "Failed to load usage stats")
	}

	return c.JSON(stats)
}
