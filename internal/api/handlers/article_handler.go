package handlers

import (
	"context"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/medcontent/backend/internal/ingestion"
	"github.com/medcontent/backend/pkg/logger"
)

type ArticleIndexer interface {
	ProcessArticle(ctx context.Context, article ingestion.Article) (*ingestion.Result, error)
}

type ArticleHandler struct {
	indexer ArticleIndexer
}

func NewArticleHandler(indexer ArticleIndexer) *ArticleHandler {
	return &ArticleHandler{indexer: indexer}
}

func (h *ArticleHandler) IndexArticle(c *fiber.Ctx) error {
	var req ingestion.Article
	if err := c.BodyParser(&req); err != nil {
		logger.Error("Failed to parse request body", zap.Error(err))
		return respondError(c, fiber.StatusBadRequest, "Invalid request body")
	}

	res, err := h.indexer.ProcessArticle(c.UserContext(), req)
	if err != nil {
		if ingestion.IsInvalidInput(err) {
			return respondError(c, fiber.StatusBadRequest, err.Error())
		}
		logger.Error("Failed to index article", zap.String("slug", req.Slug), zap.Error(err))
		return respondError(c, statusFor(err), "Failed to index article")
	}

	return c.Status(fiber.StatusCreated).JSON(res)
}
